package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"tafkit/internal/api"
	"tafkit/internal/config"
	"tafkit/internal/logging"
	"tafkit/internal/workspace"
)

type commandContext struct {
	configFlag *string
	serverFlag *string
	verbose    *bool

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag, serverFlag *string, verbose *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		serverFlag: serverFlag,
		verbose:    verbose,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.configPath, c.configExists = resolved, exists
		if c.serverFlag != nil && strings.TrimSpace(*c.serverFlag) != "" {
			cfg.Server.BaseURL = strings.TrimRight(strings.TrimSpace(*c.serverFlag), "/")
			if err := cfg.Validate(); err != nil {
				c.configErr = fmt.Errorf("--server: %w", err)
				return
			}
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// loggerFor logs to the log file, and to stderr with --verbose.
func (c *commandContext) loggerFor(cmd *cobra.Command) *slog.Logger {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.logger = logging.NewNop()
			return
		}
		var mirror io.Writer
		if c.verbose != nil && *c.verbose {
			mirror = cmd.ErrOrStderr()
		}
		logger, err := logging.NewFromConfig(cfg, mirror)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "logging disabled: %v\n", err)
			logger = logging.NewNop()
		}
		c.logger = logger
	})
	return c.logger
}

func (c *commandContext) client(cmd *cobra.Command) (*api.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return api.NewFromConfig(cfg, c.loggerFor(cmd))
}

func (c *commandContext) withWorkspace(cmd *cobra.Command, fn func(*workspace.Workspace) error) error {
	return c.withWorkspaceOptions(cmd, workspace.Options{}, fn)
}

// withWorkspaceOptions opens the session, runs fn and saves on the way out.
func (c *commandContext) withWorkspaceOptions(cmd *cobra.Command, opts workspace.Options, fn func(*workspace.Workspace) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	opts.Logger = c.loggerFor(cmd)
	if opts.Out == nil {
		opts.Out = cmd.ErrOrStderr()
	}
	ws, err := workspace.Open(cmd.Context(), cfg, opts)
	if err != nil {
		return err
	}
	runErr := fn(ws)
	closeErr := ws.Close()
	if runErr != nil {
		return runErr
	}
	return closeErr
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
