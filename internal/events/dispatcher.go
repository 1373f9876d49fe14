package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"tafkit/internal/logging"
)

const (
	DefaultPath        = "/api/sse"
	DefaultRetryDelay  = 3 * time.Second
	DefaultResyncDelay = 3 * time.Second
)

// Opener opens the event stream. *api.Client satisfies it.
type Opener interface {
	OpenEventStream(ctx context.Context, path, lastEventID string) (io.ReadCloser, error)
}

// Handlers receive decoded events. Nil handlers are skipped. Handlers run on
// the dispatcher's goroutines and must not call Close. The context passed to
// them is cancelled when Close starts, so network calls made from a handler
// should use it.
type Handlers struct {
	URLFetch    func(context.Context, URLFetchProgress)
	EncodeQueue func(context.Context, EncodeQueueProgress)
	// Resync runs once after one or more stream errors.
	Resync func(context.Context)
	// Connected runs every time the stream (re)connects.
	Connected func(context.Context)
}

// Options configures a Dispatcher.
type Options struct {
	Path        string
	RetryDelay  time.Duration
	ResyncDelay time.Duration
	Logger      *slog.Logger
}

// Dispatcher owns one event stream connection and fans decoded events out
// to Handlers.
type Dispatcher struct {
	opener   Opener
	handlers Handlers
	path     string
	logger   *slog.Logger

	retryMu sync.Mutex
	retry   time.Duration

	resyncDelay time.Duration

	// gate is held for reading while a handler runs; Close takes it for
	// writing so no handler runs after Close returns.
	gate   sync.RWMutex
	closed bool

	timerMu sync.Mutex
	timer   *time.Timer

	startOnce sync.Once
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewDispatcher prepares a dispatcher; Start opens the connection.
func NewDispatcher(opener Opener, handlers Handlers, opts Options) *Dispatcher {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.ResyncDelay <= 0 {
		opts.ResyncDelay = DefaultResyncDelay
	}
	return &Dispatcher{
		opener:      opener,
		handlers:    handlers,
		path:        opts.Path,
		logger:      logging.NewComponentLogger(opts.Logger, "events"),
		retry:       opts.RetryDelay,
		resyncDelay: opts.ResyncDelay,
	}
}

// Start launches the reader goroutine. Subsequent calls are no-ops.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		d.ctx, d.cancel = ctx, cancel
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.run(ctx)
		}()
	})
}

// Close stops the stream, cancels any pending resync and waits for the
// reader goroutine. No handler runs after Close returns.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		// cancel first so a handler blocked on the network releases the gate
		if d.cancel != nil {
			d.cancel()
		}
		d.gate.Lock()
		d.closed = true
		d.gate.Unlock()

		d.timerMu.Lock()
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
		}
		d.timerMu.Unlock()

		d.wg.Wait()
	})
}

func (d *Dispatcher) run(ctx context.Context) {
	var lastEventID string
	for {
		if ctx.Err() != nil {
			return
		}
		body, err := d.opener.OpenEventStream(ctx, d.path, lastEventID)
		if err == nil {
			d.invoke(ctx, d.handlers.Connected)
			d.logger.Debug("event stream connected", logging.String("path", d.path))
			err = readMessages(body, func(msg Message) {
				if msg.ID != "" {
					lastEventID = msg.ID
				}
				if msg.Retry > 0 {
					d.setRetry(msg.Retry)
				}
				if msg.Data != "" {
					d.dispatch(ctx, msg)
				}
			})
			_ = body.Close()
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
		}
		if ctx.Err() != nil {
			return
		}

		d.logger.Warn("event stream error; reconnecting",
			logging.Error(err),
			logging.Duration("retry_in", d.retryDelay()),
		)
		d.scheduleResync()
		streamReconnects.Inc()

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.retryDelay()):
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, msg Message) {
	event, err := Decode(msg.Event, msg.Data)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, ErrUnknownEvent) {
			reason = "unknown_event"
		}
		eventsDropped.WithLabelValues(reason).Inc()
		d.logger.Debug("event dropped", logging.String("event", msg.Event), logging.Error(err))
		return
	}
	eventsReceived.WithLabelValues(event.EventName()).Inc()

	d.gate.RLock()
	defer d.gate.RUnlock()
	if d.closed {
		return
	}
	switch e := event.(type) {
	case URLFetchProgress:
		if d.handlers.URLFetch != nil {
			d.handlers.URLFetch(ctx, e)
		}
	case EncodeQueueProgress:
		if d.handlers.EncodeQueue != nil {
			d.handlers.EncodeQueue(ctx, e)
		}
	}
}

// scheduleResync arms one resync timer; errors while it is pending coalesce
// into it.
func (d *Dispatcher) scheduleResync() {
	if d.handlers.Resync == nil {
		return
	}
	d.timerMu.Lock()
	defer d.timerMu.Unlock()
	if d.timer != nil {
		return
	}
	d.gate.RLock()
	closed := d.closed
	d.gate.RUnlock()
	if closed {
		return
	}
	d.timer = time.AfterFunc(d.resyncDelay, func() {
		d.timerMu.Lock()
		d.timer = nil
		d.timerMu.Unlock()
		streamResyncs.Inc()
		d.invoke(d.ctx, d.handlers.Resync)
	})
}

func (d *Dispatcher) invoke(ctx context.Context, fn func(context.Context)) {
	if fn == nil {
		return
	}
	d.gate.RLock()
	defer d.gate.RUnlock()
	if d.closed {
		return
	}
	fn(ctx)
}

func (d *Dispatcher) setRetry(delay time.Duration) {
	d.retryMu.Lock()
	d.retry = delay
	d.retryMu.Unlock()
}

func (d *Dispatcher) retryDelay() time.Duration {
	d.retryMu.Lock()
	defer d.retryMu.Unlock()
	return d.retry
}
