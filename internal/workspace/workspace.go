package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"tafkit/internal/api"
	"tafkit/internal/config"
	"tafkit/internal/encodequeue"
	"tafkit/internal/encoding"
	"tafkit/internal/events"
	"tafkit/internal/logging"
	"tafkit/internal/notifications"
	"tafkit/internal/registry"
	"tafkit/internal/services"
	"tafkit/internal/session"
	"tafkit/internal/urlimport"
)

const (
	component = "workspace"

	settingUseFrontend = "encode.use_frontend"
	settingBitrate     = "encode.bitrate"

	defaultLockWait = 10 * time.Second
	staleWorkDirAge = 24 * time.Hour
)

// ErrAlreadyListening is returned when Listen is called twice.
var ErrAlreadyListening = errors.New("event stream already open")

// Options customizes Open.
type Options struct {
	Logger *slog.Logger
	// Notifier overrides the notifier built from the [notifications] section.
	Notifier notifications.Notifier
	// Out receives console notifications when Notifier is nil.
	Out io.Writer
	// Loader overrides the local encoder loader.
	Loader encoding.Loader
	// OnEvent observes every decoded server event after it has been applied.
	OnEvent func(events.Event)
	// ReadOnly loads the session and releases the lock right away; Save
	// becomes a no-op.
	ReadOnly bool
	// LockWait bounds how long Open waits for another process to release
	// the session lock.
	LockWait time.Duration
}

// Workspace is one open tafkit session.
type Workspace struct {
	cfg      *config.Config
	logger   *slog.Logger
	client   *api.Client
	store    *session.Store
	notifier notifications.Notifier
	onEvent  func(events.Event)

	registry *registry.Registry
	urls     *urlimport.Pipeline
	queues   *encodequeue.Orchestrator
	invoker  *encoding.Invoker

	mu         sync.Mutex
	dispatcher *events.Dispatcher
	closed     bool
}

// Open builds every component from cfg and restores the persisted session.
// It holds the session lock until Close.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Workspace, error) {
	if cfg == nil {
		return nil, errors.New("workspace requires a config")
	}
	logger := logging.NewComponentLogger(opts.Logger, component)

	client, err := api.NewFromConfig(cfg, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("build api client: %w", err)
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewFromConfig(cfg, opts.Out)
	}

	lockWait := opts.LockWait
	if lockWait <= 0 {
		lockWait = defaultLockWait
	}
	lockCtx, cancel := context.WithTimeout(ctx, lockWait)
	store, err := session.Open(lockCtx, cfg)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	state, err := store.Load(ctx)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load session: %w", err)
	}
	if opts.ReadOnly {
		if err := store.Close(); err != nil {
			return nil, fmt.Errorf("release session: %w", err)
		}
		store = nil
	}

	loader := opts.Loader
	if loader == nil {
		loader = encoding.ExecLoader(cfg, opts.Logger)
	}

	w := &Workspace{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		store:    store,
		notifier: notifier,
		onEvent:  opts.OnEvent,
		registry: registry.New(cfg.Encode.MaxSources),
	}
	w.urls = urlimport.New(client, urlimport.Options{
		Quality:   cfg.URLImport.Quality,
		Notifier:  notifier,
		Logger:    opts.Logger,
		CacheSize: cfg.URLImport.MetadataCacheSize,
		CacheTTL:  cfg.MetadataCacheTTL(),
	})
	w.queues = encodequeue.New(client, notifier, opts.Logger)
	tempDir := filepath.Join(cfg.Paths.StateDir, "tmp")
	if store != nil {
		encoding.CleanStaleWorkDirs(tempDir, staleWorkDirAge, opts.Logger)
	}
	w.invoker = encoding.NewInvoker(client, w.registry, encoding.Options{
		UseLocal:  cfg.Encode.UseLocal,
		Bitrate:   cfg.Encode.Bitrate,
		Directory: cfg.Encode.DefaultDirectory,
		Loader:    loader,
		Notifier:  notifier,
		Logger:    opts.Logger,
		TempDir:   tempDir,
	})

	w.restore(ctx, state)

	if cfg.Encode.FollowServerSettings {
		w.SyncServerSettings(ctx)
	}
	return w, nil
}

func (w *Workspace) restore(ctx context.Context, state session.State) {
	if err := w.registry.Restore(state.Registry); err != nil {
		w.logger.Warn("discarding unreadable source list", logging.Error(err))
		_ = notifications.Warning(ctx, w.notifier, "Sources discarded", "The saved source list could not be restored: "+err.Error())
	}
	if state.Quality != "" {
		if err := w.urls.SetQuality(state.Quality); err != nil {
			w.logger.Warn("ignoring saved quality", logging.String("quality", state.Quality), logging.Error(err))
		}
	}
	w.urls.Restore(state.URLItems)
}

// Config returns the configuration the workspace was opened with.
func (w *Workspace) Config() *config.Config { return w.cfg }

// Client returns the server client.
func (w *Workspace) Client() *api.Client { return w.client }

// Notifier returns the notifier shared by the components.
func (w *Workspace) Notifier() notifications.Notifier { return w.notifier }

// Registry returns the source registry.
func (w *Workspace) Registry() *registry.Registry { return w.registry }

// URLImports returns the URL import pipeline.
func (w *Workspace) URLImports() *urlimport.Pipeline { return w.urls }

// Queues returns the encode queue orchestrator.
func (w *Workspace) Queues() *encodequeue.Orchestrator { return w.queues }

// Invoker returns the encode invoker.
func (w *Workspace) Invoker() *encoding.Invoker { return w.invoker }

// SyncServerSettings applies the server's encode.use_frontend and
// encode.bitrate settings. Failures are logged and leave the configured
// values in place.
func (w *Workspace) SyncServerSettings(ctx context.Context) {
	if raw, err := w.client.Setting(ctx, settingUseFrontend); err != nil {
		w.logger.Warn("read server setting failed", logging.String("key", settingUseFrontend), logging.Error(err))
	} else {
		w.invoker.SetUseLocal(strings.EqualFold(raw, "true"))
	}

	raw, err := w.client.Setting(ctx, settingBitrate)
	if err != nil {
		w.logger.Warn("read server setting failed", logging.String("key", settingBitrate), logging.Error(err))
		return
	}
	bitrate, err := strconv.Atoi(raw)
	if err != nil || bitrate <= 0 {
		w.logger.Warn("ignoring server bitrate", logging.String("value", raw))
		return
	}
	w.invoker.SetBitrate(bitrate)
}

// Listen opens the server event stream. Events keep flowing until
// StopListening, Close or ctx cancellation.
func (w *Workspace) Listen(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("workspace closed")
	}
	if w.dispatcher != nil {
		return ErrAlreadyListening
	}

	handlers := events.Handlers{
		URLFetch: func(_ context.Context, e events.URLFetchProgress) {
			w.urls.HandleProgress(e)
			w.observe(e)
		},
		EncodeQueue: func(ctx context.Context, e events.EncodeQueueProgress) {
			w.queues.HandleEvent(ctx, e)
			w.observe(e)
		},
		Resync: func(ctx context.Context) {
			if err := w.queues.Refresh(ctx); err != nil {
				w.logger.Warn("queue resync failed", logging.Error(err))
			}
		},
	}
	w.dispatcher = events.NewDispatcher(w.client, handlers, events.Options{
		Path:        w.cfg.Events.Path,
		RetryDelay:  w.cfg.EventRetryDelay(),
		ResyncDelay: w.cfg.EventResyncDelay(),
		Logger:      w.logger,
	})
	w.dispatcher.Start(ctx)
	return nil
}

func (w *Workspace) observe(e events.Event) {
	if w.onEvent != nil {
		w.onEvent(e)
	}
}

// StopListening closes the event stream if open. No handler runs after it
// returns.
func (w *Workspace) StopListening() {
	w.mu.Lock()
	d := w.dispatcher
	w.dispatcher = nil
	w.mu.Unlock()
	if d != nil {
		d.Close()
	}
}

// ImportURLItem adds a URL import to the registry as a server-resident
// source, downloading it first when it is only ready.
func (w *Workspace) ImportURLItem(ctx context.Context, id string) (registry.Source, error) {
	it, ok := w.urls.Get(id)
	if !ok {
		return registry.Source{}, services.Wrap(services.ErrValidation, component, "import", "unknown item "+id, urlimport.ErrNotFound)
	}
	filePath := it.FilePath
	if it.Status == urlimport.StatusReady {
		downloaded, err := w.urls.Download(ctx, id)
		if err != nil {
			return registry.Source{}, err
		}
		filePath = downloaded
		it, _ = w.urls.Get(id)
	}
	if it.Status != urlimport.StatusComplete || filePath == "" {
		return registry.Source{}, services.Wrap(services.ErrValidation, component, "import", "item is "+string(it.Status), urlimport.ErrNotReady)
	}

	src := registry.NewImportedSource(filePath, it.Title, it.URL, it.Uploader, it.Duration)
	if err := w.registry.Add(src); err != nil {
		return registry.Source{}, err
	}
	w.logger.Info("url import added to sources",
		logging.String("item", id),
		logging.String("source", src.ID),
		logging.String("path", filePath),
	)
	return src, nil
}

// EnqueueRegistry appends every server-resident source, in registry order,
// to the encode queue. Local files are skipped since the queue only accepts
// server paths. It returns how many entries were added.
func (w *Workspace) EnqueueRegistry(ctx context.Context, queueID string) (added, skipped int, err error) {
	for _, src := range w.registry.Sources() {
		if src.IsLocal() {
			skipped++
			continue
		}
		if err := w.queues.AddItem(ctx, queueID, strings.TrimPrefix(src.ServerPath, "/")); err != nil {
			return added, skipped, err
		}
		added++
	}
	return added, skipped, nil
}

// Save persists the registry, URL imports and quality.
func (w *Workspace) Save(ctx context.Context) error {
	if w.store == nil {
		return nil
	}
	state := session.State{
		Registry: w.registry.Snapshot(),
		URLItems: w.urls.Items(),
		Quality:  w.urls.Quality(),
	}
	if err := w.store.Save(ctx, state); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Close stops the event stream, saves the session and releases the lock.
func (w *Workspace) Close() error {
	w.StopListening()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	if w.store == nil {
		return nil
	}
	saveErr := w.Save(context.Background())
	return errors.Join(saveErr, w.store.Close())
}
