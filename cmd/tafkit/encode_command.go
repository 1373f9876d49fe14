package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"tafkit/internal/encoding"
	"tafkit/internal/workspace"
)

func newEncodeCommand(ctx *commandContext) *cobra.Command {
	var (
		dir         string
		name        string
		forceLocal  bool
		forceRemote bool
		bitrate     int
	)

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode the sources into one container on the server",
		Long: "Encode uploads local sources and asks the server to combine every source\n" +
			"into <dir>/<name>.taf. With local encoding enabled and only local files\n" +
			"listed, the container is built on this machine and uploaded instead.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if forceLocal && forceRemote {
				return errors.New("--local and --remote are mutually exclusive")
			}
			if cmd.Flags().Changed("bitrate") && bitrate <= 0 {
				return fmt.Errorf("invalid bitrate %d", bitrate)
			}
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				out := cmd.OutOrStdout()
				if name != "" {
					if err := ws.Registry().SetOutputName(name); err != nil {
						return err
					}
				}
				inv := ws.Invoker()
				switch {
				case forceLocal:
					inv.SetUseLocal(true)
				case forceRemote:
					inv.SetUseLocal(false)
				}
				inv.SetBitrate(bitrate)

				result, err := inv.Encode(cmd.Context(), dir)
				if err != nil {
					return err
				}
				if result.Sources == 0 {
					fmt.Fprintln(out, "Nothing to encode")
					return nil
				}
				where := "on the server"
				if result.Mode == encoding.ModeLocal {
					where = "locally"
				}
				fmt.Fprintf(out, "Encoded %s %s into %s\n", plural(result.Sources, "source"), where, result.Target)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Server directory for the container (default from config)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Output name, without .taf")
	cmd.Flags().BoolVar(&forceLocal, "local", false, "Prefer the local encoder for this run")
	cmd.Flags().BoolVar(&forceRemote, "remote", false, "Force server-side encoding for this run")
	cmd.Flags().IntVar(&bitrate, "bitrate", 0, "Local encoder bitrate in kbps (default from config)")
	return cmd
}
