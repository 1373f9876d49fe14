package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"tafkit/internal/api"
	"tafkit/internal/config"
	"tafkit/internal/encodequeue"
	"tafkit/internal/events"
	"tafkit/internal/registry"
	"tafkit/internal/testsupport"
	"tafkit/internal/urlimport"
)

type cliTestEnv struct {
	cfg        *config.Config
	srv        *testsupport.Server
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	srv := testsupport.NewServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithServer(srv))
	base := testsupport.BaseDir(cfg)

	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	t.Setenv("TAFKIT_SERVER_URL", "")

	configPath := filepath.Join(homeDir, ".config", "tafkit", "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{cfg: cfg, srv: srv, configPath: configPath, baseDir: base}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func (env *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return env.runContext(ctx, t, &bytes.Buffer{}, args...)
}

type outputBuffer interface {
	io.Writer
	String() string
}

func (env *cliTestEnv) runContext(ctx context.Context, t *testing.T, stdout outputBuffer, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stderr bytes.Buffer
	cmd.SetOut(stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), err
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func listSources(t *testing.T, env *cliTestEnv) registry.Snapshot {
	t.Helper()
	out, err := env.run(t, "sources", "list", "--json")
	if err != nil {
		t.Fatalf("sources list: %v", err)
	}
	var snap registry.Snapshot
	if err := json.Unmarshal([]byte(out), &snap); err != nil {
		t.Fatalf("decode sources: %v\n%s", err, out)
	}
	return snap
}

func TestSourcesAddNameAndEncode(t *testing.T) {
	env := setupCLITestEnv(t)
	audio := testsupport.WriteAudio(t, t.TempDir(), "chapter1.mp3")

	out, err := env.run(t, "sources", "add", audio)
	if err != nil {
		t.Fatalf("sources add: %v", err)
	}
	requireContains(t, out, "Added 1 source")

	out, err = env.run(t, "sources", "name", "story")
	if err != nil {
		t.Fatalf("sources name: %v", err)
	}
	requireContains(t, out, "Output name: story")

	out, err = env.run(t, "sources", "list")
	if err != nil {
		t.Fatalf("sources list: %v", err)
	}
	requireContains(t, out, "chapter1.mp3")
	requireContains(t, out, "Output name: story")

	out, err = env.run(t, "encode", "--dir", "audio")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	requireContains(t, out, "into audio/story.taf")

	encodes := env.srv.Encodes()
	if len(encodes) != 1 || encodes[0].Target != "audio/story.taf" {
		t.Fatalf("unexpected encodes: %+v", encodes)
	}
	if uploads := env.srv.Uploads(); len(uploads) != 1 {
		t.Fatalf("expected one upload, got %+v", uploads)
	}

	if snap := listSources(t, env); len(snap.Sources) != 0 || snap.OutputName != "" {
		t.Fatalf("expected cleared sources after encode, got %+v", snap)
	}
}

func TestEncodeWithNothingListed(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "encode")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	requireContains(t, out, "Nothing to encode")
	if encodes := env.srv.Encodes(); len(encodes) != 0 {
		t.Fatalf("expected no encode requests, got %+v", encodes)
	}
}

func TestEncodeRejectsConflictingModes(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, err := env.run(t, "encode", "--local", "--remote"); err == nil {
		t.Fatal("expected mode conflict error")
	}
}

func TestSourcesReorderRenameAndRemove(t *testing.T) {
	env := setupCLITestEnv(t)

	for _, p := range []string{"library/b.mp3", "library/a.mp3"} {
		if _, err := env.run(t, "sources", "add-server", p); err != nil {
			t.Fatalf("add-server %s: %v", p, err)
		}
	}

	if _, err := env.run(t, "sources", "move", "2", "1"); err != nil {
		t.Fatalf("move: %v", err)
	}
	snap := listSources(t, env)
	if len(snap.Sources) != 2 || snap.Sources[0].Name != "a.mp3" {
		t.Fatalf("unexpected order after move: %+v", snap.Sources)
	}

	if _, err := env.run(t, "sources", "rename", "1", "intro.mp3"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := env.run(t, "sources", "rename", "1", "../escape"); err == nil {
		t.Fatal("expected unsafe rename to fail")
	}

	if _, err := env.run(t, "sources", "sort"); err != nil {
		t.Fatalf("sort: %v", err)
	}
	snap = listSources(t, env)
	if snap.Sources[0].Name != "b.mp3" || snap.Sources[1].Name != "intro.mp3" {
		t.Fatalf("unexpected order after sort: %+v", snap.Sources)
	}

	out, err := env.run(t, "sources", "remove", snap.Sources[1].ID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	requireContains(t, out, "Removed intro.mp3")

	if _, err := env.run(t, "sources", "remove", "5"); err == nil {
		t.Fatal("expected out-of-range remove to fail")
	}

	out, err = env.run(t, "sources", "clear")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	requireContains(t, out, "Cleared 1 source")
}

func TestURLAddImportAndQuality(t *testing.T) {
	env := setupCLITestEnv(t)
	const mediaURL = "https://www.youtube.com/watch?v=abc"
	env.srv.SetURLInfo(mediaURL, api.URLMetadata{Title: "Song", Duration: 61, Uploader: "Band"})
	env.srv.SetFetchResult(mediaURL, testsupport.FetchResult{FilePath: "library/song.mp3"})

	out, err := env.run(t, "url", "add", mediaURL)
	if err != nil {
		t.Fatalf("url add: %v", err)
	}
	requireContains(t, out, "Ready: Song (1:01)")

	out, err = env.run(t, "url", "quality", "192")
	if err != nil {
		t.Fatalf("url quality: %v", err)
	}
	requireContains(t, out, "Quality: 192")
	if _, err := env.run(t, "url", "quality", "999"); err == nil {
		t.Fatal("expected invalid quality to fail")
	}

	out, err = env.run(t, "url", "import", "1")
	if err != nil {
		t.Fatalf("url import: %v", err)
	}
	requireContains(t, out, "Added Song.mp3 from library/song.mp3")

	snap := listSources(t, env)
	if len(snap.Sources) != 1 {
		t.Fatalf("expected one source, got %+v", snap.Sources)
	}
	src := snap.Sources[0]
	if src.Origin != registry.OriginURLImport || src.ServerPath != "library/song.mp3" || src.OriginInfo != mediaURL {
		t.Fatalf("unexpected imported source: %+v", src)
	}

	out, err = env.run(t, "url", "list", "--json")
	if err != nil {
		t.Fatalf("url list: %v", err)
	}
	var items []urlimport.Item
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("decode url list: %v", err)
	}
	if len(items) != 1 || items[0].Status != urlimport.StatusComplete {
		t.Fatalf("unexpected url items: %+v", items)
	}

	out, err = env.run(t, "url", "clear")
	if err != nil {
		t.Fatalf("url clear: %v", err)
	}
	requireContains(t, out, "Cleared 1 URL import")
}

func TestURLAddReportsServerRejection(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "url", "add", "https://unknown.example/track")
	if err == nil {
		t.Fatal("expected failure for unsupported URL")
	}
	requireContains(t, out, "Unsupported URL")

	if _, err := env.run(t, "url", "add", "not a url"); err == nil {
		t.Fatal("expected failure for invalid URL")
	}

	out, err = env.run(t, "url", "list")
	if err != nil {
		t.Fatalf("url list: %v", err)
	}
	requireContains(t, out, "Unsupported URL")
}

func TestURLSitesSkipsConfig(t *testing.T) {
	cmd := newRootCommand()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing", "config.toml"), "url", "sites"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("url sites: %v", err)
	}
	requireContains(t, stdout.String(), "soundcloud.com")
}

func TestQueueCreateAddShowRemove(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "queue", "create", "nightly")
	if err != nil {
		t.Fatalf("queue create: %v", err)
	}
	requireContains(t, out, "Created queue nightly")

	if _, err := env.run(t, "queue", "add", "nightly", "/library/a.mp3", "library/b.mp3"); err != nil {
		t.Fatalf("queue add: %v", err)
	}
	queues := env.srv.Queues()
	if len(queues) != 1 || len(queues[0].Items) != 2 || queues[0].Items[0] != "library/a.mp3" {
		t.Fatalf("unexpected server queues: %+v", queues)
	}

	out, err = env.run(t, "queue", "show", "nightly")
	if err != nil {
		t.Fatalf("queue show: %v", err)
	}
	requireContains(t, out, "library/b.mp3")

	if _, err := env.run(t, "queue", "remove", "nightly", "--index", "0"); err != nil {
		t.Fatalf("queue remove entry: %v", err)
	}
	if items := env.srv.Queues()[0].Items; len(items) != 1 || items[0] != "library/b.mp3" {
		t.Fatalf("unexpected items after removal: %v", items)
	}

	if _, err := env.run(t, "queue", "remove", queues[0].QueueID); err != nil {
		t.Fatalf("queue remove: %v", err)
	}
	out, err = env.run(t, "queue", "list")
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	requireContains(t, out, "No encode queues")
}

func TestQueueAddRejectsActiveQueue(t *testing.T) {
	env := setupCLITestEnv(t)
	env.srv.AddQueue("busy", true, "library/a.mp3")

	if _, err := env.run(t, "queue", "add", "busy", "library/b.mp3"); err == nil {
		t.Fatal("expected add to an active queue to fail")
	}
	if items := env.srv.Queues()[0].Items; len(items) != 1 {
		t.Fatalf("active queue changed: %v", items)
	}
}

func TestQueueAddSourcesSkipsLocalFiles(t *testing.T) {
	env := setupCLITestEnv(t)
	id := env.srv.AddQueue("nightly", false)
	audio := testsupport.WriteAudio(t, t.TempDir(), "local.mp3")

	if _, err := env.run(t, "sources", "add-server", "/library/a.mp3"); err != nil {
		t.Fatalf("add-server: %v", err)
	}
	if _, err := env.run(t, "sources", "add", audio); err != nil {
		t.Fatalf("sources add: %v", err)
	}

	out, err := env.run(t, "queue", "add-sources", id)
	if err != nil {
		t.Fatalf("add-sources: %v", err)
	}
	requireContains(t, out, "Added 1 source")
	requireContains(t, out, "Skipped 1 local source")
	if items := env.srv.Queues()[0].Items; len(items) != 1 || items[0] != "library/a.mp3" {
		t.Fatalf("unexpected queue items: %v", items)
	}
}

func TestQueueStartFollowWaitsForItems(t *testing.T) {
	env := setupCLITestEnv(t)
	id := env.srv.AddQueue("nightly", false, "library/a.mp3", "library/b.mp3")

	done := make(chan struct{})
	defer close(done)
	go func() {
		// item events are idempotent, so keep sending until the command exits
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			if env.srv.Subscribers() == 0 || !env.srv.Queues()[0].Active {
				continue
			}
			env.srv.Push(events.NameEncodeQueueProgress, map[string]any{"queueId": id, "index": 0, "status": "item-complete", "file": "library/a.taf"})
			env.srv.Push(events.NameEncodeQueueProgress, map[string]any{"queueId": id, "index": 1, "status": "error", "error": "bad input"})
		}
	}()

	out, err := env.run(t, "queue", "start", "nightly", "--follow")
	if err == nil {
		t.Fatal("expected follow to report the failed entry")
	}
	requireContains(t, out, "Started nightly")
	requireContains(t, out, "1 done, 1 failed")
}

func TestWatchPrintsEvents(t *testing.T) {
	env := setupCLITestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var out syncBuffer
	errCh := make(chan error, 1)
	go func() {
		_, err := env.runContext(ctx, t, &out, "watch")
		errCh <- err
	}()

	env.srv.WaitForSubscribers(t, 1)
	env.srv.Push(events.NameURLFetchProgress, map[string]any{"fetchId": "url-1", "status": "downloading", "progress": 40})
	waitFor(t, 5*time.Second, func() bool {
		return strings.Contains(out.String(), "[url] url-1 downloading 40%")
	})

	// watch must not hold the session
	if _, err := env.run(t, "sources", "add-server", "library/a.mp3"); err != nil {
		t.Fatalf("sources add while watching: %v", err)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("watch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestMetricsRouter(t *testing.T) {
	srv := httptest.NewServer(metricsRouter())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	var body bytes.Buffer
	if _, err := body.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	requireContains(t, body.String(), "tafkit_events_reconnects_total")
}

func TestSummarizeQueueCountsOnlyCompletedEntriesAsDone(t *testing.T) {
	q := encodequeue.Queue{ID: "q1", Name: "nightly", Items: []string{"a.mp3", "b.mp3", "c.mp3"}}
	states := map[int]encodequeue.ItemState{
		0: {Status: encodequeue.ItemComplete},
		1: {Status: encodequeue.ItemError, Error: "boom"},
	}
	var out bytes.Buffer
	if err := summarizeQueue(&out, q, states); err == nil {
		t.Fatal("expected an error for the failed entry")
	}
	want := "Queue nightly finished: 1 done, 1 failed, 1 without a result\n"
	if out.String() != want {
		t.Fatalf("summary = %q, want %q", out.String(), want)
	}
}

func TestFormatEvent(t *testing.T) {
	progress := 12.5
	index := 3
	cases := []struct {
		event events.Event
		want  string
	}{
		{events.URLFetchProgress{FetchID: "f1", Status: "downloading", Progress: &progress}, "[url] f1 downloading 12%"},
		{events.EncodeQueueProgress{QueueID: "q1", Index: &index, Status: "error", Error: "boom"}, "[queue] q1 #3 error: boom"},
		{events.EncodeQueueProgress{QueueID: "q1"}, "[queue] q1 queue -"},
	}
	for _, tc := range cases {
		if got := formatEvent(tc.event); got != tc.want {
			t.Fatalf("formatEvent(%+v) = %q, want %q", tc.event, got, tc.want)
		}
	}
}

func TestConfigInitValidateAndShow(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, err = env.run(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, err := env.run(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected init to refuse overwriting")
	}

	out, err = env.run(t, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, env.srv.URL)
}

func TestDoctorReportsChecks(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "doctor")
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	requireContains(t, out, "== Checks ==")
	requireContains(t, out, "[OK]")

	out, err = env.run(t, "--server", "http://127.0.0.1:1", "doctor")
	if err == nil {
		t.Fatalf("expected doctor to fail against an unreachable server:\n%s", out)
	}
	requireContains(t, out, "[FAIL]")
}

func TestLogsShowsRecentRuns(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, err := env.run(t, "queue", "create", "nightly"); err != nil {
		t.Fatalf("queue create: %v", err)
	}

	out, err := env.run(t, "logs", "--grep", "queue created")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "nightly")
}
