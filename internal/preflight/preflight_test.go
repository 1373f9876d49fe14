package preflight

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tafkit/internal/api"
	"tafkit/internal/logging"
	"tafkit/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func newClient(t *testing.T, baseURL string) *api.Client {
	t.Helper()
	client, err := api.NewClient(baseURL, api.WithLogger(logging.NewNop()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestCheckServer_OK(t *testing.T) {
	srv := testsupport.NewServer(t)
	srv.AddQueue("one", false)

	result := CheckServer(context.Background(), srv.URL, newClient(t, srv.URL))
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if !strings.Contains(result.Detail, "1 encode queues") {
		t.Fatalf("unexpected detail: %s", result.Detail)
	}
}

func TestCheckServer_Rejected(t *testing.T) {
	srv := testsupport.NewServer(t)
	srv.FailPath("/api/encodeQueue/list", http.StatusInternalServerError)

	result := CheckServer(context.Background(), srv.URL, newClient(t, srv.URL))
	if result.Passed {
		t.Fatal("expected failure")
	}
	if !strings.Contains(result.Detail, "rejected") {
		t.Fatalf("unexpected detail: %s", result.Detail)
	}
}

func TestCheckServer_Unreachable(t *testing.T) {
	srv := testsupport.NewServer(t)
	base := srv.URL
	srv.Close()

	result := CheckServer(context.Background(), base, newClient(t, base))
	if result.Passed {
		t.Fatal("expected failure")
	}
	if !strings.Contains(result.Detail, "unreachable") {
		t.Fatalf("unexpected detail: %s", result.Detail)
	}
}

func TestCheckEventStream(t *testing.T) {
	srv := testsupport.NewServer(t)
	client := newClient(t, srv.URL)

	if result := CheckEventStream(context.Background(), "/api/sse", client); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}

	srv.FailPath("/api/sse", http.StatusNotFound)
	if result := CheckEventStream(context.Background(), "/api/sse", client); result.Passed {
		t.Fatal("expected failure once the stream is gone")
	}
}

func TestCheckServerSettings(t *testing.T) {
	srv := testsupport.NewServer(t)
	client := newClient(t, srv.URL)

	if result := CheckServerSettings(context.Background(), client); result.Passed {
		t.Fatal("expected failure when settings are missing")
	}

	srv.SetSetting("encode.use_frontend", "false")
	srv.SetSetting("encode.bitrate", "96")
	result := CheckServerSettings(context.Background(), client)
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if result.Detail != "encode.use_frontend=false, encode.bitrate=96" {
		t.Fatalf("unexpected detail: %s", result.Detail)
	}
}

func TestCheckLocalEncoder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Encode.LocalEncoderBinary = "clearly-not-present-binary"

	cfg.Encode.UseLocal = false
	if result := CheckLocalEncoder(cfg); !result.Passed {
		t.Fatalf("disabled encoder must not fail doctor: %s", result.Detail)
	}

	cfg.Encode.UseLocal = true
	if result := CheckLocalEncoder(cfg); result.Passed {
		t.Fatal("expected failure for missing encoder")
	}
}

func TestCheckLocalEncoder_Stubbed(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithLocalEncoder("tafkit-test-encoder"),
		testsupport.WithStubbedBinaries(),
	)
	result := CheckLocalEncoder(cfg)
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if filepath.Base(result.Detail) != "tafkit-test-encoder" {
		t.Fatalf("expected resolved path, got %s", result.Detail)
	}
}

func TestRunAll(t *testing.T) {
	srv := testsupport.NewServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithServer(srv))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	cfg.Encode.UseLocal = false

	results := RunAll(context.Background(), cfg, newClient(t, srv.URL))
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
	}
	want := []string{"State directory", "Log directory", "Server", "Event stream", "Local encoder"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("checks = %v, want %v", names, want)
	}
	if n := Failed(results); n != 0 {
		t.Fatalf("expected all checks to pass, %d failed: %+v", n, results)
	}

	if RunAll(context.Background(), nil, nil) != nil {
		t.Fatal("expected nil results for nil config")
	}
}
