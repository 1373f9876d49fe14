package urlimport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"tafkit/internal/api"
	"tafkit/internal/events"
	"tafkit/internal/logging"
	"tafkit/internal/notifications"
	"tafkit/internal/services"
)

const (
	component = "urlimport"

	fallbackInfoError     = "Failed to fetch URL info"
	fallbackDownloadError = "Download failed"
	interruptedError      = "interrupted"
)

var (
	ErrInvalidURL         = errors.New("invalid URL")
	ErrInvalidQuality     = errors.New("invalid quality")
	ErrNotFound           = errors.New("url item not found")
	ErrNotReady           = errors.New("url item is not ready")
	ErrAlreadyDownloading = errors.New("url item is already downloading")
	// ErrRemoved is returned by Download when the item was removed while the
	// request was in flight. The server result is discarded.
	ErrRemoved = errors.New("url item removed during download")
)

// Client is the server surface the pipeline needs. *api.Client satisfies it.
type Client interface {
	URLInfo(ctx context.Context, mediaURL string) (api.URLInfoResponse, error)
	URLFetch(ctx context.Context, mediaURL, quality, fetchID string) (api.URLFetchResponse, error)
}

// Options configures a Pipeline.
type Options struct {
	Quality  string
	Notifier notifications.Notifier
	Logger   *slog.Logger
	// CacheSize and CacheTTL enable the metadata cache when both are positive.
	CacheSize int
	CacheTTL  time.Duration
	// NewID overrides item ID generation.
	NewID func() string
}

// Pipeline owns the URL import items of a session.
type Pipeline struct {
	client   Client
	notifier notifications.Notifier
	logger   *slog.Logger
	cache    *expirable.LRU[string, api.URLMetadata]
	newID    func() string

	mu      sync.Mutex
	items   []*Item
	quality string

	subMu   sync.Mutex
	subs    map[int]func([]Item)
	nextSub int
}

// New builds a pipeline around client.
func New(client Client, opts Options) *Pipeline {
	p := &Pipeline{
		client:   client,
		notifier: opts.Notifier,
		logger:   logging.NewComponentLogger(opts.Logger, component),
		newID:    opts.NewID,
		quality:  "best",
		subs:     make(map[int]func([]Item)),
	}
	if p.notifier == nil {
		p.notifier = notifications.NewNop()
	}
	if p.newID == nil {
		p.newID = newItemID
	}
	if ValidQuality(opts.Quality) {
		p.quality = opts.Quality
	}
	if opts.CacheSize > 0 && opts.CacheTTL > 0 {
		p.cache = expirable.NewLRU[string, api.URLMetadata](opts.CacheSize, nil, opts.CacheTTL)
	}
	return p
}

// Quality returns the download quality used for new downloads.
func (p *Pipeline) Quality() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quality
}

// SetQuality changes the download quality.
func (p *Pipeline) SetQuality(q string) error {
	q = strings.ToLower(strings.TrimSpace(q))
	if !ValidQuality(q) {
		return services.Wrap(services.ErrValidation, component, "set quality",
			fmt.Sprintf("quality %q must be one of %s", q, strings.Join(QualityOptions, ", ")), ErrInvalidQuality)
	}
	p.mu.Lock()
	p.quality = q
	p.mu.Unlock()
	return nil
}

// ValidateURL accepts absolute http(s) URLs with a host.
func ValidateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	parsed, err := url.Parse(raw)
	if err != nil || raw == "" {
		return "", services.Wrap(services.ErrValidation, component, "submit", "not a valid URL", ErrInvalidURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", services.Wrap(services.ErrValidation, component, "submit", "URL must use http or https", ErrInvalidURL)
	}
	if parsed.Host == "" {
		return "", services.Wrap(services.ErrValidation, component, "submit", "URL has no host", ErrInvalidURL)
	}
	return raw, nil
}

// Submit registers rawURL and looks up its metadata. The returned item is
// the final state of the lookup: ready or error. An invalid URL creates no
// item and makes no request.
func (p *Pipeline) Submit(ctx context.Context, rawURL string) (Item, error) {
	mediaURL, err := ValidateURL(rawURL)
	if err != nil {
		_ = notifications.Error(ctx, p.notifier, "Invalid URL", "Please enter a valid URL: "+strings.TrimSpace(rawURL))
		return Item{}, err
	}

	item := &Item{ID: p.newID(), URL: mediaURL, Status: StatusFetchingInfo}
	if src, ok := SourceFor(mediaURL); ok {
		item.SourceLabel = src.Name
	}
	p.mu.Lock()
	p.items = append(p.items, item)
	p.mu.Unlock()
	p.publish()

	id := item.ID
	ctx = services.WithFetchID(ctx, id)
	logger := logging.WithContext(ctx, p.logger)

	if meta, ok := p.cachedMetadata(mediaURL); ok {
		logger.Debug("metadata cache hit", logging.String("url", mediaURL))
		return p.finishInfo(id, func(it *Item) { applyMetadata(it, meta) }), nil
	}

	resp, err := p.client.URLInfo(ctx, mediaURL)
	switch {
	case err != nil:
		logger.Warn("metadata request failed", logging.Error(err))
		return p.finishInfo(id, func(it *Item) {
			it.Status = StatusError
			it.Error = services.Reason(err, fallbackInfoError)
		}), nil
	case !resp.Success || resp.Data == nil:
		reason := strings.TrimSpace(resp.Error)
		if reason == "" {
			reason = fallbackInfoError
		}
		logger.Info("metadata rejected", logging.String("reason", reason))
		return p.finishInfo(id, func(it *Item) {
			it.Status = StatusError
			it.Error = reason
		}), nil
	default:
		meta := *resp.Data
		if p.cache != nil {
			p.cache.Add(mediaURL, meta)
		}
		logger.Info("metadata ready", logging.String("title", meta.Title))
		return p.finishInfo(id, func(it *Item) { applyMetadata(it, meta) }), nil
	}
}

func (p *Pipeline) cachedMetadata(mediaURL string) (api.URLMetadata, bool) {
	if p.cache == nil {
		return api.URLMetadata{}, false
	}
	return p.cache.Get(mediaURL)
}

func applyMetadata(it *Item, meta api.URLMetadata) {
	it.Title = meta.Title
	it.Duration = meta.Duration
	it.Thumbnail = meta.Thumbnail
	it.Uploader = meta.Uploader
	if meta.Source != "" {
		it.SourceLabel = meta.Source
	}
	it.Status = StatusReady
	it.Error = ""
}

// finishInfo applies the metadata outcome if the item still exists and is
// still fetching info.
func (p *Pipeline) finishInfo(id string, apply func(*Item)) Item {
	p.mu.Lock()
	it := p.findLocked(id)
	if it == nil {
		p.mu.Unlock()
		return Item{ID: id, Status: StatusError, Error: interruptedError}
	}
	if it.Status == StatusFetchingInfo {
		apply(it)
	}
	out := *it
	p.mu.Unlock()
	p.publish()
	return out
}

// Download asks the server to fetch a ready item and returns the server path
// of the downloaded file.
func (p *Pipeline) Download(ctx context.Context, id string) (string, error) {
	p.mu.Lock()
	it := p.findLocked(id)
	if it == nil {
		p.mu.Unlock()
		return "", services.Wrap(services.ErrValidation, component, "download", "unknown item "+id, ErrNotFound)
	}
	switch it.Status {
	case StatusReady:
	case StatusDownloading:
		p.mu.Unlock()
		return "", services.Wrap(services.ErrValidation, component, "download", "already downloading", ErrAlreadyDownloading)
	default:
		status := it.Status
		p.mu.Unlock()
		return "", services.Wrap(services.ErrValidation, component, "download", "item is "+string(status), ErrNotReady)
	}
	it.Status = StatusDownloading
	it.Progress = 0
	it.Error = ""
	mediaURL, quality, title := it.URL, p.quality, it.DisplayName()
	p.mu.Unlock()
	p.publish()

	ctx = services.WithFetchID(ctx, id)
	logger := logging.WithContext(ctx, p.logger)
	logger.Info("download started", logging.String("url", mediaURL), logging.String("quality", quality))

	resp, err := p.client.URLFetch(ctx, mediaURL, quality, id)

	var (
		filePath string
		failure  string
	)
	switch {
	case err != nil:
		failure = services.Reason(err, fallbackDownloadError)
	case resp.Success && resp.Path() != "":
		filePath = resp.Path()
	default:
		failure = strings.TrimSpace(resp.Error)
		if failure == "" {
			failure = fallbackDownloadError
		}
	}

	p.mu.Lock()
	it = p.findLocked(id)
	if it == nil {
		p.mu.Unlock()
		logger.Info("download result dropped; item removed")
		return "", services.Wrap(services.ErrStale, component, "download", "item removed", ErrRemoved)
	}
	if failure != "" {
		it.Status = StatusError
		it.Error = failure
	} else {
		it.Status = StatusComplete
		it.Progress = 100
		it.FilePath = filePath
		it.Error = ""
	}
	p.mu.Unlock()
	p.publish()

	if failure != "" {
		logger.Warn("download failed", logging.String("reason", failure))
		_ = notifications.Error(ctx, p.notifier, "Download failed", title+": "+failure)
		if err != nil {
			return "", err
		}
		return "", services.Wrap(services.ErrRemote, component, "download", failure, nil)
	}
	logger.Info("download complete", logging.String("file", filePath))
	return filePath, nil
}

// DownloadAll downloads every item that is ready at call time, one after
// another, and returns the server paths of the successful downloads.
func (p *Pipeline) DownloadAll(ctx context.Context) []string {
	var ids []string
	p.mu.Lock()
	for _, it := range p.items {
		if it.Status == StatusReady {
			ids = append(ids, it.ID)
		}
	}
	p.mu.Unlock()

	paths := make([]string, 0, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		path, err := p.Download(ctx, id)
		if err != nil {
			continue
		}
		paths = append(paths, path)
	}
	if len(ids) > 0 {
		_ = notifications.Info(ctx, p.notifier, "Downloads finished",
			fmt.Sprintf("%d of %d downloaded", len(paths), len(ids)))
	}
	return paths
}

// HandleProgress applies a url-fetch-progress event. Events for unknown IDs
// or for items that are not downloading are ignored. It reports whether the
// event changed state.
func (p *Pipeline) HandleProgress(e events.URLFetchProgress) bool {
	p.mu.Lock()
	it := p.findLocked(e.FetchID)
	if it == nil {
		p.mu.Unlock()
		events.RecordDropped("unknown_fetch_id")
		return false
	}
	if it.Status != StatusDownloading {
		p.mu.Unlock()
		events.RecordDropped("stale_fetch_status")
		return false
	}
	switch e.Status {
	case string(StatusComplete):
		it.Status = StatusComplete
	case string(StatusError):
		it.Status = StatusError
	}
	if e.Progress != nil {
		it.Progress = max(0, min(*e.Progress, 100))
	}
	if e.FilePath != nil {
		it.FilePath = *e.FilePath
	}
	if e.Error != nil {
		it.Error = *e.Error
	}
	p.mu.Unlock()
	p.publish()
	return true
}

// Remove deletes an item. An in-flight request for it completes but its
// result is discarded.
func (p *Pipeline) Remove(id string) bool {
	p.mu.Lock()
	idx := slices.IndexFunc(p.items, func(it *Item) bool { return it.ID == id })
	if idx < 0 {
		p.mu.Unlock()
		return false
	}
	p.items = slices.Delete(p.items, idx, idx+1)
	p.mu.Unlock()
	p.publish()
	return true
}

// Clear removes all items.
func (p *Pipeline) Clear() {
	p.mu.Lock()
	p.items = nil
	p.mu.Unlock()
	p.publish()
}

// Items returns copies of all items in submission order.
func (p *Pipeline) Items() []Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Get returns a copy of one item.
func (p *Pipeline) Get(id string) (Item, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if it := p.findLocked(id); it != nil {
		return *it, true
	}
	return Item{}, false
}

// HasReady reports whether any item can be downloaded.
func (p *Pipeline) HasReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.ContainsFunc(p.items, func(it *Item) bool { return it.Status == StatusReady })
}

// Restore replaces the item list with persisted items. Items that were
// waiting on the network when the previous session ended restore as errors.
func (p *Pipeline) Restore(items []Item) {
	restored := make([]*Item, 0, len(items))
	for _, it := range items {
		copied := it
		switch copied.Status {
		case StatusPending, StatusFetchingInfo, StatusDownloading:
			copied.Status = StatusError
			copied.Error = interruptedError
		}
		restored = append(restored, &copied)
	}
	p.mu.Lock()
	p.items = restored
	p.mu.Unlock()
	p.publish()
}

// Subscribe registers fn to receive the item list after every change.
func (p *Pipeline) Subscribe(fn func([]Item)) func() {
	p.subMu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.subMu.Unlock()
	return func() {
		p.subMu.Lock()
		delete(p.subs, id)
		p.subMu.Unlock()
	}
}

func (p *Pipeline) publish() {
	p.subMu.Lock()
	fns := make([]func([]Item), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.subMu.Unlock()
	if len(fns) == 0 {
		return
	}
	items := p.Items()
	for _, fn := range fns {
		fn(items)
	}
}

func (p *Pipeline) findLocked(id string) *Item {
	for _, it := range p.items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

func (p *Pipeline) snapshotLocked() []Item {
	out := make([]Item, 0, len(p.items))
	for _, it := range p.items {
		out = append(out, *it)
	}
	return out
}
