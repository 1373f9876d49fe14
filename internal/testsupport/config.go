package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"tafkit/internal/config"
)

// ConfigOption adjusts a test configuration after the defaults are applied.
type ConfigOption func(testing.TB, *config.Config)

// NewConfig returns a config whose state and log directories live under a
// per-test temp dir. Console and ntfy notifications are off, server settings
// are not followed and event delays are 1s.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	root := t.TempDir()
	cfg := config.Default()
	cfg.Server.BaseURL = "http://127.0.0.1:1"
	cfg.Paths.StateDir = filepath.Join(root, "state")
	cfg.Paths.LogDir = filepath.Join(root, "logs")
	cfg.Notifications.Console = false
	cfg.Notifications.NtfyTopic = ""
	cfg.Encode.FollowServerSettings = false
	cfg.Events.RetryDelay = 1
	cfg.Events.ResyncDelay = 1

	for _, opt := range opts {
		opt(t, &cfg)
	}
	return &cfg
}

// BaseDir is the temp directory NewConfig created for cfg.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}

func WithServer(srv *Server) ConfigOption {
	return func(_ testing.TB, cfg *config.Config) {
		cfg.Server.BaseURL = srv.URL
	}
}

// WithLocalEncoder turns on local encoding through binary. args replace the
// default template when given.
func WithLocalEncoder(binary string, args ...string) ConfigOption {
	return func(_ testing.TB, cfg *config.Config) {
		cfg.Encode.UseLocal = true
		cfg.Encode.LocalEncoderBinary = binary
		if len(args) > 0 {
			cfg.Encode.LocalEncoderArgs = args
		}
	}
}

// WithStubbedBinaries puts no-op executables named names (default: the
// configured local encoder) first on PATH for the rest of the test.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(t testing.TB, cfg *config.Config) {
		if len(names) == 0 {
			names = []string{cfg.Encode.LocalEncoderBinary}
		}
		bin := filepath.Join(BaseDir(cfg), "bin")
		if err := os.MkdirAll(bin, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", bin, err)
		}
		for _, name := range names {
			if err := os.WriteFile(filepath.Join(bin, name), []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
				t.Fatalf("write stub %s: %v", name, err)
			}
		}
		t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}
