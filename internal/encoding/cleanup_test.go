package encoding_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tafkit/internal/encoding"
	"tafkit/internal/logging"
)

func TestCleanStaleWorkDirs(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "tafkit-encode-111")
	fresh := filepath.Join(dir, "tafkit-encode-222")
	foreign := filepath.Join(dir, "keep-me")
	for _, p := range []string{old, fresh, foreign} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", p, err)
		}
	}
	past := time.Now().Add(-48 * time.Hour)
	for _, p := range []string{old, foreign} {
		if err := os.Chtimes(p, past, past); err != nil {
			t.Fatalf("chtimes %s: %v", p, err)
		}
	}

	result := encoding.CleanStaleWorkDirs(dir, 24*time.Hour, logging.NewNop())
	if len(result.Removed) != 1 || result.Removed[0] != old {
		t.Fatalf("unexpected removals: %v", result.Removed)
	}
	if len(result.Failed) != 0 {
		t.Fatalf("unexpected failures: %v", result.Failed)
	}
	for _, p := range []string{fresh, foreign} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("expected %s to survive: %v", p, err)
		}
	}
}

func TestCleanStaleWorkDirsMissingDir(t *testing.T) {
	result := encoding.CleanStaleWorkDirs(filepath.Join(t.TempDir(), "absent"), time.Hour, nil)
	if len(result.Removed) != 0 || len(result.Failed) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}
