package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tafkit/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the configuration, server and local encoder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := ctx.client(cmd)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			rep := newReport(out)

			rep.section("Configuration")
			configDetail := ctx.configPath
			if !ctx.configExists {
				configDetail += " (missing, defaults in use)"
			}
			rep.line("Config", stateInfo, configDetail)
			rep.line("Server URL", stateInfo, cfg.Server.BaseURL)
			rep.line("Encode mode", stateInfo, describeEncodeMode(cfg.Encode.UseLocal, cfg.Encode.FollowServerSettings))

			results := preflight.RunAll(cmd.Context(), cfg, client)
			rep.section("Checks")
			for _, r := range results {
				state := stateOK
				if !r.Passed {
					state = stateFail
				}
				rep.line(r.Name, state, r.Detail)
			}
			if _, err := rep.WriteTo(out); err != nil {
				return err
			}

			if failed := preflight.Failed(results); failed > 0 {
				return fmt.Errorf("%s failed", plural(failed, "check"))
			}
			return nil
		},
	}
}

func describeEncodeMode(useLocal, follow bool) string {
	mode := "server"
	if useLocal {
		mode = "local when every source is a local file"
	}
	if follow {
		mode += ", server settings override"
	}
	return mode
}
