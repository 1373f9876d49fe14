package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tafkit/internal/logging"
	"tafkit/internal/registry"
	"tafkit/internal/urlimport"
	"tafkit/internal/workspace"
)

func newURLCommand(ctx *commandContext) *cobra.Command {
	urlCmd := &cobra.Command{
		Use:   "url",
		Short: "Import audio from remote URLs through the server",
	}

	urlCmd.AddCommand(newURLAddCommand(ctx))
	urlCmd.AddCommand(newURLListCommand(ctx))
	urlCmd.AddCommand(newURLDownloadCommand(ctx))
	urlCmd.AddCommand(newURLImportCommand(ctx))
	urlCmd.AddCommand(newURLRemoveCommand(ctx))
	urlCmd.AddCommand(newURLClearCommand(ctx))
	urlCmd.AddCommand(newURLQualityCommand(ctx))
	urlCmd.AddCommand(newURLSitesCommand())

	return urlCmd
}

func urlItemID(it urlimport.Item) string { return it.ID }

func newURLAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <url>...",
		Short: "Look up metadata for one or more URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				out := cmd.OutOrStdout()
				var failed int
				for _, arg := range args {
					it, err := ws.URLImports().Submit(cmd.Context(), arg)
					if err != nil {
						fmt.Fprintf(out, "%s: %v\n", arg, err)
						failed++
						continue
					}
					if it.Status == urlimport.StatusError {
						fmt.Fprintf(out, "%s: %s\n", it.URL, it.Error)
						failed++
						continue
					}
					fmt.Fprintf(out, "Ready: %s (%s)\n", it.DisplayName(), formatDuration(it.Duration))
				}
				if failed > 0 {
					return fmt.Errorf("%s failed", plural(failed, "URL"))
				}
				return nil
			})
		},
	}
}

func newURLListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List URL imports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				items := ws.URLImports().Items()
				if asJSON {
					return writeJSON(cmd, items)
				}
				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(out, "No URL imports")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]column{num("#"), col("ID"), col("Title"), col("Site"), num("Duration"), col("Status"), col("Detail")},
					buildURLRows(items),
				))
				fmt.Fprintf(out, "Quality: %s\n", ws.URLImports().Quality())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the URL imports as JSON")
	return cmd
}

func buildURLRows(items []urlimport.Item) [][]string {
	rows := make([][]string, 0, len(items))
	for i, it := range items {
		status := string(it.Status)
		if it.Status == urlimport.StatusDownloading {
			status = fmt.Sprintf("%s %.0f%%", status, it.Progress)
		}
		detail := it.FilePath
		if it.Status == urlimport.StatusError {
			detail = it.Error
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			it.ID,
			it.DisplayName(),
			orDash(it.SourceLabel),
			formatDuration(it.Duration),
			status,
			orDash(detail),
		})
	}
	return rows
}

func newURLDownloadCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "download [item]",
		Short: "Download a ready URL import on the server",
		Args: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("specify one item or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				// progress events are a bonus; the fetch response decides the outcome
				if err := ws.Listen(cmd.Context()); err != nil {
					ctx.loggerFor(cmd).Warn("event stream unavailable", logging.Error(err))
				}
				out := cmd.OutOrStdout()
				urls := ws.URLImports()
				if all {
					if !urls.HasReady() {
						fmt.Fprintln(out, "Nothing to download")
						return nil
					}
					paths := urls.DownloadAll(cmd.Context())
					for _, p := range paths {
						fmt.Fprintf(out, "Downloaded %s\n", p)
					}
					if len(paths) == 0 {
						return errors.New("every download failed")
					}
					return nil
				}
				it, err := resolveRef(urls.Items(), urlItemID, args[0], "URL item")
				if err != nil {
					return err
				}
				path, err := urls.Download(cmd.Context(), it.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Downloaded %s\n", path)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Download every ready item")
	return cmd
}

func newURLImportCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "import [item]",
		Short: "Add a URL import to the sources, downloading it first if needed",
		Args: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("specify one item or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				out := cmd.OutOrStdout()
				var targets []urlimport.Item
				if all {
					for _, it := range ws.URLImports().Items() {
						if it.Status == urlimport.StatusReady || it.Status == urlimport.StatusComplete {
							targets = append(targets, it)
						}
					}
					if len(targets) == 0 {
						fmt.Fprintln(out, "Nothing to import")
						return nil
					}
				} else {
					it, err := resolveRef(ws.URLImports().Items(), urlItemID, args[0], "URL item")
					if err != nil {
						return err
					}
					targets = append(targets, it)
				}

				var errs []error
				for _, it := range targets {
					src, err := ws.ImportURLItem(cmd.Context(), it.ID)
					if err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", it.DisplayName(), err))
						continue
					}
					printImported(cmd, src)
				}
				return errors.Join(errs...)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Import every ready or downloaded item")
	return cmd
}

func printImported(cmd *cobra.Command, src registry.Source) {
	fmt.Fprintf(cmd.OutOrStdout(), "Added %s from %s\n", src.Name, src.ServerPath)
}

func newURLRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <item>",
		Aliases: []string{"rm"},
		Short:   "Forget a URL import",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				it, err := resolveRef(ws.URLImports().Items(), urlItemID, args[0], "URL item")
				if err != nil {
					return err
				}
				ws.URLImports().Remove(it.ID)
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", it.DisplayName())
				return nil
			})
		},
	}
}

func newURLClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget every URL import",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				n := len(ws.URLImports().Items())
				ws.URLImports().Clear()
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", plural(n, "URL import"))
				return nil
			})
		},
	}
}

func newURLQualityCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "quality [" + strings.Join(urlimport.QualityOptions, "|") + "]",
		Short:     "Show or set the download quality",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: urlimport.QualityOptions,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				if len(args) == 1 {
					if err := ws.URLImports().SetQuality(args[0]); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Quality: %s\n", ws.URLImports().Quality())
				return nil
			})
		},
	}
}

func newURLSitesCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "sites",
		Short:       "List sites the server downloader is known to handle",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			sites := urlimport.SupportedSources()
			rows := make([][]string, 0, len(sites))
			for _, s := range sites {
				rows = append(rows, []string{s.Name, s.Domain})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable([]column{col("Site"), col("Domain")}, rows))
			return nil
		},
	}
}
