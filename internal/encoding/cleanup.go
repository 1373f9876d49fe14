package encoding

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tafkit/internal/logging"
)

const workDirPrefix = "tafkit-encode-"

// CleanupResult lists the work directories removed by CleanStaleWorkDirs and
// the ones that could not be removed.
type CleanupResult struct {
	Removed []string
	Failed  map[string]error
}

// CleanStaleWorkDirs removes local encode work directories under dir that are
// older than maxAge. They are left behind when a process dies mid-encode.
// Other entries in dir are never touched.
func CleanStaleWorkDirs(dir string, maxAge time.Duration, logger *slog.Logger) CleanupResult {
	var result CleanupResult
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return result
	}
	logger = logging.NewComponentLogger(logger, component)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Failed = map[string]error{dir: err}
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), workDirPrefix) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			if result.Failed == nil {
				result.Failed = make(map[string]error)
			}
			result.Failed[path] = err
			logger.Warn("failed to remove stale encode directory", logging.String("path", path), logging.Error(err))
			continue
		}
		result.Removed = append(result.Removed, path)
		logger.Info("removed stale encode directory",
			logging.String("path", path),
			logging.Duration("age", time.Since(info.ModTime())),
		)
	}
	return result
}
