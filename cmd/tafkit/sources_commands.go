package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tafkit/internal/config"
	"tafkit/internal/registry"
	"tafkit/internal/textutil"
	"tafkit/internal/workspace"
)

func newSourcesCommand(ctx *commandContext) *cobra.Command {
	sourcesCmd := &cobra.Command{
		Use:     "sources",
		Aliases: []string{"src"},
		Short:   "Manage the sources of the next encode",
	}

	sourcesCmd.AddCommand(newSourcesListCommand(ctx))
	sourcesCmd.AddCommand(newSourcesAddCommand(ctx))
	sourcesCmd.AddCommand(newSourcesAddServerCommand(ctx))
	sourcesCmd.AddCommand(newSourcesRemoveCommand(ctx))
	sourcesCmd.AddCommand(newSourcesMoveCommand(ctx))
	sourcesCmd.AddCommand(newSourcesSortCommand(ctx))
	sourcesCmd.AddCommand(newSourcesRenameCommand(ctx))
	sourcesCmd.AddCommand(newSourcesNameCommand(ctx))
	sourcesCmd.AddCommand(newSourcesClearCommand(ctx))

	return sourcesCmd
}

func sourceID(s registry.Source) string { return s.ID }

func newSourcesListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sources in encode order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				snap := ws.Registry().Snapshot()
				if asJSON {
					return writeJSON(cmd, snap)
				}
				out := cmd.OutOrStdout()
				if len(snap.Sources) == 0 {
					fmt.Fprintln(out, "No sources")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]column{num("#"), col("ID"), col("Name"), col("Origin"), num("Size"), num("Duration"), col("Location")},
					buildSourceRows(snap.Sources),
				))
				fmt.Fprintf(out, "Output name: %s\n", orDash(snap.OutputName))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the source list as JSON")
	return cmd
}

func buildSourceRows(sources []registry.Source) [][]string {
	rows := make([][]string, 0, len(sources))
	for i, src := range sources {
		location := src.ServerPath
		if src.IsLocal() {
			location = src.LocalPath
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			src.ID,
			src.Name,
			string(src.Origin),
			formatSize(src.SizeBytes),
			formatDuration(src.DurationSeconds),
			location,
		})
	}
	return rows
}

func newSourcesAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <file>...",
		Short: "Add local audio files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srcs := make([]registry.Source, 0, len(args))
			for _, arg := range args {
				path, err := config.ExpandPath(arg)
				if err != nil {
					return err
				}
				src, err := registry.NewLocalSource(path)
				if errors.Is(err, registry.ErrUnsupportedFile) {
					return fmt.Errorf("%w (supported: %s)", err, strings.Join(textutil.AudioExtensions(), ", "))
				}
				if err != nil {
					return err
				}
				srcs = append(srcs, src)
			}
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				reg := ws.Registry()
				if err := reg.AddAll(srcs...); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Added %s (%d of %d)\n", plural(len(srcs), "source"), reg.Len(), reg.MaxSources())
				if name := reg.OutputName(); name != "" {
					fmt.Fprintf(out, "Output name: %s\n", name)
				}
				return nil
			})
		},
	}
}

func newSourcesAddServerCommand(ctx *commandContext) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "add-server <path>",
		Short: "Add a file that already lives on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				src := registry.NewServerSource(args[0], name)
				if err := ws.Registry().Add(src); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", src.Name, src.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the file name)")
	return cmd
}

func newSourcesRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <source>",
		Aliases: []string{"rm"},
		Short:   "Remove a source by position or ID",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				src, err := resolveRef(ws.Registry().Sources(), sourceID, args[0], "source")
				if err != nil {
					return err
				}
				ws.Registry().Remove(src.ID)
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", src.Name)
				return nil
			})
		},
	}
}

func newSourcesMoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "move <source> <position>",
		Short: "Move a source to a 1-based position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			position, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid position %q", args[1])
			}
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				src, err := resolveRef(ws.Registry().Sources(), sourceID, args[0], "source")
				if err != nil {
					return err
				}
				ws.Registry().Reorder(src.ID, position-1)
				fmt.Fprintf(cmd.OutOrStdout(), "Moved %s\n", src.Name)
				return nil
			})
		},
	}
}

func newSourcesSortCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sort",
		Short: "Sort sources by name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				ws.Registry().SortByName()
				fmt.Fprintln(cmd.OutOrStdout(), "Sources sorted by name")
				return nil
			})
		},
	}
}

func newSourcesRenameCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <source> <name>",
		Short: "Change the display name of a source",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				src, err := resolveRef(ws.Registry().Sources(), sourceID, args[0], "source")
				if err != nil {
					return err
				}
				if err := ws.Registry().Rename(src.ID, args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %s\n", src.Name, args[1])
				return nil
			})
		},
	}
}

func newSourcesNameCommand(ctx *commandContext) *cobra.Command {
	var clear bool

	cmd := &cobra.Command{
		Use:   "name [output-name]",
		Short: "Show or set the output name of the next encode",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if clear && len(args) > 0 {
				return errors.New("--clear takes no name")
			}
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				reg := ws.Registry()
				out := cmd.OutOrStdout()
				switch {
				case clear:
					if err := reg.SetOutputName(""); err != nil {
						return err
					}
					fmt.Fprintln(out, "Output name cleared")
				case len(args) == 1:
					if err := reg.SetOutputName(args[0]); err != nil {
						return err
					}
					fmt.Fprintf(out, "Output name: %s\n", reg.OutputName())
				default:
					fmt.Fprintf(out, "Output name: %s\n", orDash(reg.OutputName()))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "Clear the output name")
	return cmd
}

func newSourcesClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every source and the output name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				n := ws.Registry().Len()
				ws.Registry().Clear()
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", plural(n, "source"))
				return nil
			})
		},
	}
}
