package preflight

import (
	"context"
	"io"

	"tafkit/internal/api"
	"tafkit/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Server is the part of the server client the checks exercise. *api.Client
// satisfies it.
type Server interface {
	ListQueues(ctx context.Context) ([]api.Queue, error)
	Setting(ctx context.Context, key string) (string, error)
	OpenEventStream(ctx context.Context, path, lastEventID string) (io.ReadCloser, error)
}

// RunAll executes all applicable preflight checks for the given config.
// Server checks are skipped when server is nil.
func RunAll(ctx context.Context, cfg *config.Config, server Server) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))

	if server != nil {
		results = append(results, CheckServer(ctx, cfg.Server.BaseURL, server))
		results = append(results, CheckEventStream(ctx, cfg.Events.Path, server))
		if cfg.Encode.FollowServerSettings {
			results = append(results, CheckServerSettings(ctx, server))
		}
	}

	results = append(results, CheckLocalEncoder(cfg))
	return results
}

// Failed counts the results that did not pass.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if !r.Passed {
			n++
		}
	}
	return n
}
