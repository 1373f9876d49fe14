package encodequeue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"tafkit/internal/api"
	"tafkit/internal/events"
	"tafkit/internal/logging"
	"tafkit/internal/notifications"
	"tafkit/internal/services"
)

const component = "encodequeue"

var (
	ErrQueueNotFound = errors.New("encode queue not found")
	ErrQueueActive   = errors.New("encode queue is active")
	ErrInvalidName   = errors.New("invalid queue name")
)

// ItemStatus is the progress state of one queue entry.
type ItemStatus string

const (
	ItemPending  ItemStatus = "pending"
	ItemStart    ItemStatus = "item-start"
	ItemComplete ItemStatus = "item-complete"
	ItemError    ItemStatus = "error"
)

func (s ItemStatus) valid() bool {
	switch s {
	case ItemPending, ItemStart, ItemComplete, ItemError:
		return true
	default:
		return false
	}
}

// Queue is a server-side encode queue.
type Queue struct {
	ID     string
	Name   string
	Items  []string
	Active bool
}

// ItemState is the last reported state of a queue entry.
type ItemState struct {
	Status ItemStatus
	File   string
	Error  string
}

// Client is the server surface the orchestrator needs. *api.Client satisfies it.
type Client interface {
	ListQueues(ctx context.Context) ([]api.Queue, error)
	CreateQueue(ctx context.Context, name string) (string, error)
	AddToQueue(ctx context.Context, queueID, filePath string) error
	StartQueue(ctx context.Context, queueID string) error
	RemoveFromQueue(ctx context.Context, queueID string, index *int) error
}

// Orchestrator caches queues and their item states.
type Orchestrator struct {
	client   Client
	notifier notifications.Notifier
	logger   *slog.Logger

	// refreshMu serializes refreshes so an older list never overwrites a newer one.
	refreshMu sync.Mutex

	mu     sync.Mutex
	queues []Queue
	states map[string]map[int]ItemState
}

// New builds an orchestrator. Call Refresh to load the queue list.
func New(client Client, notifier notifications.Notifier, logger *slog.Logger) *Orchestrator {
	if notifier == nil {
		notifier = notifications.NewNop()
	}
	return &Orchestrator{
		client:   client,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, component),
		states:   make(map[string]map[int]ItemState),
	}
}

// Refresh replaces the cached queue list with the server's.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	o.refreshMu.Lock()
	defer o.refreshMu.Unlock()

	listed, err := o.client.ListQueues(ctx)
	if err != nil {
		o.logger.Warn("queue refresh failed", logging.Error(err))
		return err
	}
	queues := make([]Queue, 0, len(listed))
	for _, q := range listed {
		if strings.TrimSpace(q.QueueID) == "" {
			continue
		}
		queues = append(queues, Queue{ID: q.QueueID, Name: q.Name, Items: slices.Clone(q.Items), Active: q.Active})
	}

	o.mu.Lock()
	o.queues = queues
	// states of queues that disappeared or entries past the new end are orphaned
	for qid, byIndex := range o.states {
		q, ok := findQueue(queues, qid)
		if !ok {
			delete(o.states, qid)
			continue
		}
		for idx := range byIndex {
			if idx >= len(q.Items) {
				delete(byIndex, idx)
			}
		}
	}
	o.mu.Unlock()

	o.logger.Debug("queues refreshed", logging.Int("count", len(queues)))
	return nil
}

// Create makes a new queue and returns its ID.
func (o *Orchestrator) Create(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", services.Wrap(services.ErrValidation, component, "create", "queue name is empty", ErrInvalidName)
	}
	id, err := o.client.CreateQueue(ctx, name)
	if err != nil {
		return "", err
	}
	o.queueLogger(ctx, id).Info("queue created", logging.String("name", name))
	if err := o.Refresh(ctx); err != nil {
		o.logger.Warn("refresh after create failed", logging.Error(err))
	}
	return id, nil
}

// AddItem appends a server path to an idle queue.
func (o *Orchestrator) AddItem(ctx context.Context, queueID, filePath string) error {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return services.Wrap(services.ErrValidation, component, "add", "file path is empty", nil)
	}
	if _, err := o.requireIdle(ctx, queueID, "add"); err != nil {
		return err
	}
	if err := o.client.AddToQueue(ctx, queueID, filePath); err != nil {
		return err
	}
	o.queueLogger(ctx, queueID).Info("queue item added", logging.String("file", filePath))
	if err := o.Refresh(ctx); err != nil {
		o.logger.Warn("refresh after add failed", logging.Error(err))
	}
	return nil
}

// Start begins processing a queue. States left over from an earlier run are
// cleared before the request; item events may arrive while it is in flight.
func (o *Orchestrator) Start(ctx context.Context, queueID string) error {
	if _, err := o.requireIdle(ctx, queueID, "start"); err != nil {
		return err
	}
	o.mu.Lock()
	delete(o.states, queueID)
	o.mu.Unlock()
	if err := o.client.StartQueue(ctx, queueID); err != nil {
		return err
	}
	o.queueLogger(ctx, queueID).Info("queue started")
	if err := o.Refresh(ctx); err != nil {
		o.logger.Warn("refresh after start failed", logging.Error(err))
	}
	return nil
}

// Remove deletes the whole queue when index is nil, otherwise the entry at
// index. Removal from an active queue is passed to the server as is.
func (o *Orchestrator) Remove(ctx context.Context, queueID string, index *int) error {
	if index != nil && *index < 0 {
		return services.Wrap(services.ErrValidation, component, "remove", fmt.Sprintf("index %d out of range", *index), nil)
	}
	if err := o.client.RemoveFromQueue(ctx, queueID, index); err != nil {
		return err
	}

	o.mu.Lock()
	if index == nil {
		delete(o.states, queueID)
	} else if byIndex, ok := o.states[queueID]; ok {
		for idx := range byIndex {
			if idx >= *index {
				delete(byIndex, idx)
			}
		}
	}
	o.mu.Unlock()

	o.queueLogger(ctx, queueID).Info("queue removal", slog.Any("index", index))
	if err := o.Refresh(ctx); err != nil {
		o.logger.Warn("refresh after remove failed", logging.Error(err))
	}
	return nil
}

// HandleEvent applies an encode-queue-progress event. Item events overwrite
// the stored state; queue-level events trigger a refresh.
func (o *Orchestrator) HandleEvent(ctx context.Context, e events.EncodeQueueProgress) bool {
	if e.Index == nil {
		if err := o.Refresh(ctx); err != nil {
			return false
		}
		return true
	}

	status := ItemStatus(e.Status)
	if !status.valid() {
		events.RecordDropped("unknown_queue_status")
		return false
	}
	idx := *e.Index

	o.mu.Lock()
	q, ok := findQueue(o.queues, e.QueueID)
	if !ok {
		o.mu.Unlock()
		events.RecordDropped("unknown_queue")
		return false
	}
	if idx >= len(q.Items) {
		o.mu.Unlock()
		events.RecordDropped("queue_index_out_of_range")
		return false
	}
	byIndex := o.states[e.QueueID]
	if byIndex == nil {
		byIndex = make(map[int]ItemState)
		o.states[e.QueueID] = byIndex
	}
	next := ItemState{Status: status, File: e.File, Error: e.Error}
	changed := byIndex[idx] != next
	byIndex[idx] = next
	o.mu.Unlock()

	if changed {
		o.notifyItem(ctx, e.QueueID, idx, next)
	}
	return true
}

func (o *Orchestrator) notifyItem(ctx context.Context, queueID string, idx int, state ItemState) {
	title := "Encode queue " + queueID
	var err error
	switch state.Status {
	case ItemStart:
		err = notifications.Info(ctx, o.notifier, title, fmt.Sprintf("item %d started", idx))
	case ItemComplete:
		err = notifications.Success(ctx, o.notifier, title, fmt.Sprintf("item %d complete", idx))
	case ItemError:
		err = notifications.Error(ctx, o.notifier, title, fmt.Sprintf("item %d error: %s", idx, state.Error))
	}
	if err != nil {
		o.logger.Debug("queue notification failed", logging.Error(err))
	}
}

// Queues returns a copy of the cached queue list.
func (o *Orchestrator) Queues() []Queue {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Queue, 0, len(o.queues))
	for _, q := range o.queues {
		q.Items = slices.Clone(q.Items)
		out = append(out, q)
	}
	return out
}

// Queue returns one cached queue.
func (o *Orchestrator) Queue(id string) (Queue, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	q, ok := findQueue(o.queues, id)
	if ok {
		q.Items = slices.Clone(q.Items)
	}
	return q, ok
}

// ItemStates returns the known per-index states of a queue.
func (o *Orchestrator) ItemStates(queueID string) map[int]ItemState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return maps.Clone(o.states[queueID])
}

func (o *Orchestrator) requireIdle(ctx context.Context, queueID, operation string) (Queue, error) {
	if err := o.Refresh(ctx); err != nil {
		return Queue{}, err
	}
	q, ok := o.Queue(queueID)
	if !ok {
		return Queue{}, services.Wrap(services.ErrValidation, component, operation, "queue "+queueID+" not found", ErrQueueNotFound)
	}
	if q.Active {
		return Queue{}, services.Wrap(services.ErrValidation, component, operation, "queue "+queueID+" is active", ErrQueueActive)
	}
	return q, nil
}

func (o *Orchestrator) queueLogger(ctx context.Context, queueID string) *slog.Logger {
	return logging.WithContext(services.WithQueueID(ctx, queueID), o.logger)
}

func findQueue(queues []Queue, id string) (Queue, bool) {
	for _, q := range queues {
		if q.ID == id {
			return q, true
		}
	}
	return Queue{}, false
}
