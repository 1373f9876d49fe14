package urlimport_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tafkit/internal/api"
	"tafkit/internal/events"
	"tafkit/internal/services"
	"tafkit/internal/urlimport"
)

type fakeClient struct {
	mu        sync.Mutex
	infoCalls int
	info      func(url string) (api.URLInfoResponse, error)
	fetch     func(url, quality, fetchID string) (api.URLFetchResponse, error)
	fetchLog  []string
	inFlight  atomic.Int32
	maxFlight atomic.Int32
}

func (f *fakeClient) URLInfo(_ context.Context, mediaURL string) (api.URLInfoResponse, error) {
	f.mu.Lock()
	f.infoCalls++
	f.mu.Unlock()
	if f.info == nil {
		return api.URLInfoResponse{Success: true, Data: &api.URLMetadata{Title: "Title of " + mediaURL, Duration: 90}}, nil
	}
	return f.info(mediaURL)
}

func (f *fakeClient) URLFetch(_ context.Context, mediaURL, quality, fetchID string) (api.URLFetchResponse, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxFlight.Load()
		if n <= cur || f.maxFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	f.mu.Lock()
	f.fetchLog = append(f.fetchLog, fetchID+"@"+quality)
	f.mu.Unlock()
	time.Sleep(2 * time.Millisecond)
	if f.fetch == nil {
		return api.URLFetchResponse{Success: true, FilePath: "downloads/" + fetchID + ".mp3"}, nil
	}
	return f.fetch(mediaURL, quality, fetchID)
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("url-%d", n)
	}
}

func newPipeline(client *fakeClient) *urlimport.Pipeline {
	return urlimport.New(client, urlimport.Options{NewID: sequentialIDs()})
}

func TestSubmitInvalidURLCreatesNothing(t *testing.T) {
	client := &fakeClient{}
	p := newPipeline(client)
	for _, raw := range []string{"", "not a url", "ftp://example.com/a", "https://", "/relative/path"} {
		_, err := p.Submit(context.Background(), raw)
		if !errors.Is(err, urlimport.ErrInvalidURL) {
			t.Fatalf("Submit(%q) error = %v, want ErrInvalidURL", raw, err)
		}
		if services.Classify(err) != services.KindValidation {
			t.Fatalf("expected validation kind for %q", raw)
		}
	}
	if len(p.Items()) != 0 || client.infoCalls != 0 {
		t.Fatalf("invalid URLs must not create items or calls: items=%d calls=%d", len(p.Items()), client.infoCalls)
	}
}

func TestSubmitTransitionsToReady(t *testing.T) {
	p := newPipeline(&fakeClient{})
	var seen []urlimport.Status
	p.Subscribe(func(items []urlimport.Item) {
		if len(items) > 0 {
			seen = append(seen, items[0].Status)
		}
	})
	item, err := p.Submit(context.Background(), "https://music.youtube.com/watch?v=1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if item.Status != urlimport.StatusReady || item.Title == "" || item.SourceLabel != "YouTube Music" {
		t.Fatalf("unexpected item %+v", item)
	}
	if !slices.Equal(seen, []urlimport.Status{urlimport.StatusFetchingInfo, urlimport.StatusReady}) {
		t.Fatalf("status sequence = %v", seen)
	}
	if !p.HasReady() {
		t.Fatal("expected HasReady")
	}
}

func TestSubmitFailureReasons(t *testing.T) {
	tests := []struct {
		name string
		info func(string) (api.URLInfoResponse, error)
		want string
	}{
		{"server reason", func(string) (api.URLInfoResponse, error) {
			return api.URLInfoResponse{Success: false, Error: "Unsupported URL"}, nil
		}, "Unsupported URL"},
		{"fallback", func(string) (api.URLInfoResponse, error) {
			return api.URLInfoResponse{Success: true}, nil
		}, "Failed to fetch URL info"},
		{"transport", func(string) (api.URLInfoResponse, error) {
			return api.URLInfoResponse{}, errors.New("dial tcp: connection refused")
		}, "dial tcp: connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(&fakeClient{info: tt.info})
			item, err := p.Submit(context.Background(), "https://example.com/v")
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if item.Status != urlimport.StatusError || item.Error != tt.want {
				t.Fatalf("item = %+v, want error %q", item, tt.want)
			}
		})
	}
}

func TestMetadataCacheSkipsSecondRequest(t *testing.T) {
	client := &fakeClient{}
	p := urlimport.New(client, urlimport.Options{NewID: sequentialIDs(), CacheSize: 8, CacheTTL: time.Minute})
	ctx := context.Background()
	if _, err := p.Submit(ctx, "https://soundcloud.com/a/b"); err != nil {
		t.Fatal(err)
	}
	item, err := p.Submit(ctx, "https://soundcloud.com/a/b")
	if err != nil {
		t.Fatal(err)
	}
	if client.infoCalls != 1 {
		t.Fatalf("expected one metadata call, got %d", client.infoCalls)
	}
	if item.Status != urlimport.StatusReady || item.ID != "url-2" {
		t.Fatalf("unexpected cached item %+v", item)
	}
}

func TestDownloadGuardsAndSuccess(t *testing.T) {
	client := &fakeClient{}
	p := newPipeline(client)
	ctx := context.Background()
	_ = p.SetQuality("192")

	if _, err := p.Download(ctx, "url-404"); !errors.Is(err, urlimport.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	item, _ := p.Submit(ctx, "https://example.com/a")
	path, err := p.Download(ctx, item.ID)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if path != "downloads/url-1.mp3" {
		t.Fatalf("path = %q", path)
	}
	got, _ := p.Get(item.ID)
	if got.Status != urlimport.StatusComplete || got.Progress != 100 || got.FilePath != path {
		t.Fatalf("unexpected item %+v", got)
	}
	if client.fetchLog[0] != "url-1@192" {
		t.Fatalf("fetch call = %v", client.fetchLog)
	}
	if _, err := p.Download(ctx, item.ID); !errors.Is(err, urlimport.ErrNotReady) {
		t.Fatalf("expected ErrNotReady for complete item, got %v", err)
	}
}

func TestDownloadFailureUsesFallback(t *testing.T) {
	client := &fakeClient{fetch: func(string, string, string) (api.URLFetchResponse, error) {
		return api.URLFetchResponse{Success: false}, nil
	}}
	p := newPipeline(client)
	item, _ := p.Submit(context.Background(), "https://example.com/a")
	if _, err := p.Download(context.Background(), item.ID); err == nil {
		t.Fatal("expected error")
	}
	got, _ := p.Get(item.ID)
	if got.Status != urlimport.StatusError || got.Error != "Download failed" {
		t.Fatalf("unexpected item %+v", got)
	}
}

func TestDownloadRejectsConcurrentCall(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	client := &fakeClient{fetch: func(string, string, string) (api.URLFetchResponse, error) {
		close(started)
		<-release
		return api.URLFetchResponse{Success: true, FilePath: "x.mp3"}, nil
	}}
	p := newPipeline(client)
	item, _ := p.Submit(context.Background(), "https://example.com/a")

	done := make(chan error, 1)
	go func() {
		_, err := p.Download(context.Background(), item.ID)
		done <- err
	}()
	<-started
	if _, err := p.Download(context.Background(), item.ID); !errors.Is(err, urlimport.ErrAlreadyDownloading) {
		t.Fatalf("expected ErrAlreadyDownloading, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first download: %v", err)
	}
}

func TestRemoveDuringDownloadDropsResult(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	client := &fakeClient{fetch: func(string, string, string) (api.URLFetchResponse, error) {
		close(started)
		<-release
		return api.URLFetchResponse{Success: true, FilePath: "x.mp3"}, nil
	}}
	p := newPipeline(client)
	item, _ := p.Submit(context.Background(), "https://example.com/a")

	done := make(chan error, 1)
	go func() {
		_, err := p.Download(context.Background(), item.ID)
		done <- err
	}()
	<-started
	p.Remove(item.ID)
	close(release)
	if err := <-done; !errors.Is(err, urlimport.ErrRemoved) {
		t.Fatalf("expected ErrRemoved, got %v", err)
	}
	if len(p.Items()) != 0 {
		t.Fatalf("removed item reappeared: %+v", p.Items())
	}
}

func TestDownloadAllIsSequentialAndSkipsFailures(t *testing.T) {
	client := &fakeClient{fetch: func(_ string, _ string, fetchID string) (api.URLFetchResponse, error) {
		if fetchID == "url-2" {
			return api.URLFetchResponse{Success: false, Error: "geo blocked"}, nil
		}
		return api.URLFetchResponse{Success: true, FilePath: fetchID + ".mp3"}, nil
	}}
	p := newPipeline(client)
	ctx := context.Background()
	for _, u := range []string{"https://a.example/1", "https://a.example/2", "https://a.example/3"} {
		if _, err := p.Submit(ctx, u); err != nil {
			t.Fatal(err)
		}
	}
	paths := p.DownloadAll(ctx)
	if !slices.Equal(paths, []string{"url-1.mp3", "url-3.mp3"}) {
		t.Fatalf("paths = %v", paths)
	}
	if client.maxFlight.Load() != 1 {
		t.Fatalf("expected sequential downloads, max in flight %d", client.maxFlight.Load())
	}
	if !slices.Equal(client.fetchLog, []string{"url-1@best", "url-2@best", "url-3@best"}) {
		t.Fatalf("fetch order = %v", client.fetchLog)
	}
	item, _ := p.Get("url-2")
	if item.Status != urlimport.StatusError || item.Error != "geo blocked" {
		t.Fatalf("unexpected failed item %+v", item)
	}
}

func ptr[T any](v T) *T { return &v }

func TestHandleProgressOnlyAffectsDownloadingItems(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	client := &fakeClient{fetch: func(string, string, string) (api.URLFetchResponse, error) {
		close(started)
		<-release
		return api.URLFetchResponse{Success: true, FilePath: "final.mp3"}, nil
	}}
	p := newPipeline(client)
	ctx := context.Background()
	ready, _ := p.Submit(ctx, "https://example.com/a")
	other, _ := p.Submit(ctx, "https://example.com/b")

	if p.HandleProgress(events.URLFetchProgress{FetchID: "unknown", Status: "complete"}) {
		t.Fatal("unknown id must be dropped")
	}
	if p.HandleProgress(events.URLFetchProgress{FetchID: other.ID, Status: "complete", Progress: ptr(100.0)}) {
		t.Fatal("ready item must ignore progress events")
	}
	if got, _ := p.Get(other.ID); got.Status != urlimport.StatusReady {
		t.Fatalf("ready item changed: %+v", got)
	}

	done := make(chan struct{})
	go func() {
		_, _ = p.Download(ctx, ready.ID)
		close(done)
	}()
	<-started
	if !p.HandleProgress(events.URLFetchProgress{FetchID: ready.ID, Status: "downloading", Progress: ptr(140.0)}) {
		t.Fatal("expected progress to apply")
	}
	if got, _ := p.Get(ready.ID); got.Progress != 100 || got.Status != urlimport.StatusDownloading {
		t.Fatalf("unexpected progress state %+v", got)
	}
	close(release)
	<-done
	if got, _ := p.Get(ready.ID); got.Status != urlimport.StatusComplete || got.FilePath != "final.mp3" {
		t.Fatalf("unexpected final state %+v", got)
	}
}

func TestRestoreMarksInterruptedItems(t *testing.T) {
	p := newPipeline(&fakeClient{})
	p.Restore([]urlimport.Item{
		{ID: "a", URL: "https://x/a", Status: urlimport.StatusDownloading},
		{ID: "b", URL: "https://x/b", Status: urlimport.StatusReady},
		{ID: "c", URL: "https://x/c", Status: urlimport.StatusFetchingInfo},
	})
	items := p.Items()
	if items[0].Status != urlimport.StatusError || items[0].Error != "interrupted" {
		t.Fatalf("unexpected %+v", items[0])
	}
	if items[1].Status != urlimport.StatusReady || items[2].Status != urlimport.StatusError {
		t.Fatalf("unexpected %+v", items)
	}
}

func TestSetQualityValidates(t *testing.T) {
	p := newPipeline(&fakeClient{})
	if err := p.SetQuality("999"); !errors.Is(err, urlimport.ErrInvalidQuality) {
		t.Fatalf("expected ErrInvalidQuality, got %v", err)
	}
	if err := p.SetQuality("WORST"); err != nil || p.Quality() != "worst" {
		t.Fatalf("SetQuality = %v, quality %q", err, p.Quality())
	}
}

func TestSourceFor(t *testing.T) {
	tests := map[string]string{
		"https://www.youtube.com/watch?v=1": "YouTube",
		"https://music.youtube.com/x":       "YouTube Music",
		"https://artist.bandcamp.com/track": "Bandcamp",
		"https://x.com/u/status/1":          "Twitter/X",
	}
	for raw, want := range tests {
		got, ok := urlimport.SourceFor(raw)
		if !ok || got.Name != want {
			t.Fatalf("SourceFor(%q) = %+v, %v; want %s", raw, got, ok, want)
		}
	}
	if _, ok := urlimport.SourceFor("https://example.org"); ok {
		t.Fatal("expected no match")
	}
}

func TestFormatDuration(t *testing.T) {
	if got := urlimport.FormatDuration(185.9); got != "3:05" {
		t.Fatalf("FormatDuration = %q", got)
	}
	if urlimport.FormatDuration(0) != "" {
		t.Fatal("expected empty for zero")
	}
}
