package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"tafkit/internal/events"
	"tafkit/internal/logging"
	"tafkit/internal/workspace"
)

const metricsShutdownTimeout = 5 * time.Second

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print server push events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &lockedWriter{w: cmd.OutOrStdout()}
			opts := workspace.Options{
				ReadOnly: true,
				OnEvent: func(e events.Event) {
					fmt.Fprintln(out, formatEvent(e))
				},
			}
			return ctx.withWorkspaceOptions(cmd, opts, func(ws *workspace.Workspace) error {
				logger := ctx.loggerFor(cmd)
				if err := ws.Queues().Refresh(cmd.Context()); err != nil {
					logger.Warn("initial queue refresh failed", logging.Error(err))
				}

				var srv *http.Server
				if addr := strings.TrimSpace(metricsAddr); addr != "" {
					srv = &http.Server{Addr: addr, Handler: metricsRouter(), ReadHeaderTimeout: 5 * time.Second}
					go func() {
						if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
							logger.Error("metrics server failed", logging.Error(err))
						}
					}()
					fmt.Fprintf(out, "Serving metrics on http://%s/metrics\n", addr)
				}

				if err := ws.Listen(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", ws.Config().Server.BaseURL)
				<-cmd.Context().Done()

				if srv != nil {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (for example 127.0.0.1:9464)")
	return cmd
}

func metricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok\n")
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// formatEvent renders one decoded push event as a single line.
func formatEvent(e events.Event) string {
	switch ev := e.(type) {
	case events.URLFetchProgress:
		line := fmt.Sprintf("[url] %s %s", ev.FetchID, ev.Status)
		if ev.Progress != nil {
			line += fmt.Sprintf(" %.0f%%", *ev.Progress)
		}
		if ev.FilePath != nil && *ev.FilePath != "" {
			line += " " + *ev.FilePath
		}
		if ev.Error != nil && *ev.Error != "" {
			line += ": " + *ev.Error
		}
		return line
	case events.EncodeQueueProgress:
		scope := "queue"
		if ev.Index != nil {
			scope = fmt.Sprintf("#%d", *ev.Index)
		}
		line := fmt.Sprintf("[queue] %s %s %s", ev.QueueID, scope, orDash(ev.Status))
		if ev.File != "" {
			line += " " + ev.File
		}
		if ev.Error != "" {
			line += ": " + ev.Error
		}
		return line
	default:
		return "[" + e.EventName() + "]"
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
