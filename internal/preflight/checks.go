package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"tafkit/internal/config"
	"tafkit/internal/deps"
	"tafkit/internal/services"
)

const checkTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckServer verifies the server answers the queue listing.
func CheckServer(ctx context.Context, baseURL string, server Server) Result {
	const name = "Server"

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	queues, err := server.ListQueues(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (%s)", baseURL, summarizeError(err))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (reachable, %d encode queues)", baseURL, len(queues))}
}

// CheckEventStream verifies the push channel accepts a connection.
func CheckEventStream(ctx context.Context, path string, server Server) Result {
	const name = "Event stream"

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	body, err := server.OpenEventStream(checkCtx, path, "")
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (%s)", path, summarizeError(err))}
	}
	_ = body.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (connected)", path)}
}

// CheckServerSettings reads the encode settings tafkit follows.
func CheckServerSettings(ctx context.Context, server Server) Result {
	const name = "Server settings"

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var parts []string
	for _, key := range []string{"encode.use_frontend", "encode.bitrate"} {
		value, err := server.Setting(checkCtx, key)
		if err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("%s unreadable (%s)", key, summarizeError(err))}
		}
		parts = append(parts, key+"="+value)
	}
	return Result{Name: name, Passed: true, Detail: strings.Join(parts, ", ")}
}

// CheckLocalEncoder reports the local encoder binary. It only fails when
// local encoding is enabled.
func CheckLocalEncoder(cfg *config.Config) Result {
	const name = "Local encoder"

	status := deps.CheckEncoder(cfg.Encode.LocalEncoderBinary, cfg.Encode.LocalEncoderArgs, !cfg.Encode.UseLocal)
	switch {
	case status.Available:
		return Result{Name: name, Passed: true, Detail: status.Path}
	case status.Optional:
		return Result{Name: name, Passed: true, Detail: "disabled (" + status.Detail + ")"}
	default:
		return Result{Name: name, Detail: status.Detail}
	}
}

func summarizeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out"
	}
	switch services.Classify(err) {
	case services.KindTransport:
		return "unreachable: " + services.Reason(err, "connection failed")
	case services.KindRemote:
		return "rejected: " + services.Reason(err, "server error")
	default:
		return err.Error()
	}
}
