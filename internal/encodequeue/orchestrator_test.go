package encodequeue_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"tafkit/internal/api"
	"tafkit/internal/encodequeue"
	"tafkit/internal/events"
	"tafkit/internal/notifications"
)

// fakeServer keeps queues in memory the way the server does.
type fakeServer struct {
	mu        sync.Mutex
	queues    []api.Queue
	nextID    int
	listCalls int
	addCalls  int
	// onStart runs inside StartQueue before it returns.
	onStart func(queueID string)
}

func (f *fakeServer) ListQueues(context.Context) ([]api.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	out := make([]api.Queue, 0, len(f.queues))
	for _, q := range f.queues {
		q.Items = slices.Clone(q.Items)
		out = append(out, q)
	}
	return out, nil
}

func (f *fakeServer) CreateQueue(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("q%d", f.nextID)
	f.queues = append(f.queues, api.Queue{QueueID: id, Name: name})
	return id, nil
}

func (f *fakeServer) AddToQueue(_ context.Context, queueID, filePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls++
	for i := range f.queues {
		if f.queues[i].QueueID == queueID {
			f.queues[i].Items = append(f.queues[i].Items, filePath)
			return nil
		}
	}
	return errors.New("no such queue")
}

func (f *fakeServer) StartQueue(_ context.Context, queueID string) error {
	f.mu.Lock()
	for i := range f.queues {
		if f.queues[i].QueueID == queueID {
			f.queues[i].Active = true
		}
	}
	onStart := f.onStart
	f.mu.Unlock()
	if onStart != nil {
		onStart(queueID)
	}
	return nil
}

func (f *fakeServer) RemoveFromQueue(_ context.Context, queueID string, index *int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.queues {
		if f.queues[i].QueueID != queueID {
			continue
		}
		if index == nil {
			f.queues = slices.Delete(f.queues, i, i+1)
		} else {
			f.queues[i].Items = slices.Delete(f.queues[i].Items, *index, *index+1)
		}
		return nil
	}
	return errors.New("no such queue")
}

func (f *fakeServer) setActive(queueID string, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.queues {
		if f.queues[i].QueueID == queueID {
			f.queues[i].Active = active
		}
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []notifications.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notifications.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recordingNotifier) Progress(context.Context, string, string, string) error { return nil }
func (r *recordingNotifier) Done(context.Context, string) error                     { return nil }

func idx(i int) *int { return &i }

func setup(t *testing.T, items ...string) (*encodequeue.Orchestrator, *fakeServer, *recordingNotifier, string) {
	t.Helper()
	srv := &fakeServer{}
	notes := &recordingNotifier{}
	o := encodequeue.New(srv, notes, nil)
	ctx := context.Background()
	qid, err := o.Create(ctx, "batch")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, item := range items {
		if err := o.AddItem(ctx, qid, item); err != nil {
			t.Fatalf("AddItem: %v", err)
		}
	}
	return o, srv, notes, qid
}

func TestCreateAndAddRefreshCache(t *testing.T) {
	o, _, _, qid := setup(t, "lib/a.mp3", "lib/b.mp3")
	q, ok := o.Queue(qid)
	if !ok || q.Name != "batch" || !slices.Equal(q.Items, []string{"lib/a.mp3", "lib/b.mp3"}) {
		t.Fatalf("unexpected queue %+v", q)
	}
	if _, err := o.Create(context.Background(), "  "); !errors.Is(err, encodequeue.ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestAddItemRevalidatesAgainstServer(t *testing.T) {
	o, srv, _, qid := setup(t)
	// cached snapshot says idle, server says active
	srv.setActive(qid, true)
	before := srv.addCalls
	if err := o.AddItem(context.Background(), qid, "lib/c.mp3"); !errors.Is(err, encodequeue.ErrQueueActive) {
		t.Fatalf("expected ErrQueueActive, got %v", err)
	}
	if srv.addCalls != before {
		t.Fatal("mutating call must not be issued for an active queue")
	}
	if err := o.AddItem(context.Background(), "q-missing", "lib/c.mp3"); !errors.Is(err, encodequeue.ErrQueueNotFound) {
		t.Fatalf("expected ErrQueueNotFound, got %v", err)
	}
}

func TestItemEventsAreIdempotentUnderReplay(t *testing.T) {
	o, _, notes, qid := setup(t, "lib/a.mp3", "lib/b.mp3")
	ctx := context.Background()
	seq := []events.EncodeQueueProgress{
		{QueueID: qid, Index: idx(0), Status: "item-start"},
		{QueueID: qid, Index: idx(0), Status: "item-complete", File: "lib/a.taf"},
		{QueueID: qid, Index: idx(1), Status: "error", Error: "decoder crashed"},
	}
	for _, e := range seq {
		o.HandleEvent(ctx, e)
	}
	first := o.ItemStates(qid)
	noteCount := len(notes.notes)
	for _, e := range seq[1:] {
		o.HandleEvent(ctx, e)
	}
	second := o.ItemStates(qid)
	if len(first) != 2 || first[0] != second[0] || first[1] != second[1] {
		t.Fatalf("replay changed state: %v -> %v", first, second)
	}
	if len(notes.notes) != noteCount {
		t.Fatalf("replay raised duplicate notifications")
	}
	if first[0].Status != encodequeue.ItemComplete || first[0].File != "lib/a.taf" {
		t.Fatalf("unexpected state %+v", first[0])
	}
	last := notes.notes[len(notes.notes)-1]
	if last.Level != notifications.LevelError || last.Title != "Encode queue "+qid || last.Message != "item 1 error: decoder crashed" {
		t.Fatalf("unexpected notification %+v", last)
	}
}

func TestUnknownEventsAreDropped(t *testing.T) {
	o, _, _, qid := setup(t, "lib/a.mp3")
	ctx := context.Background()
	if o.HandleEvent(ctx, events.EncodeQueueProgress{QueueID: "nope", Index: idx(0), Status: "item-start"}) {
		t.Fatal("unknown queue must be dropped")
	}
	if o.HandleEvent(ctx, events.EncodeQueueProgress{QueueID: qid, Index: idx(5), Status: "item-start"}) {
		t.Fatal("out of range index must be dropped")
	}
	if o.HandleEvent(ctx, events.EncodeQueueProgress{QueueID: qid, Index: idx(0), Status: "exploded"}) {
		t.Fatal("unknown status must be dropped")
	}
	if len(o.ItemStates(qid)) != 0 {
		t.Fatalf("state mutated: %v", o.ItemStates(qid))
	}
}

func TestQueueLevelEventRefreshes(t *testing.T) {
	o, srv, _, qid := setup(t, "lib/a.mp3")
	srv.setActive(qid, true)
	before := srv.listCalls
	if !o.HandleEvent(context.Background(), events.EncodeQueueProgress{QueueID: qid, Status: "queue-start"}) {
		t.Fatal("expected refresh")
	}
	if srv.listCalls != before+1 {
		t.Fatalf("expected one list call, got %d", srv.listCalls-before)
	}
	if q, _ := o.Queue(qid); !q.Active {
		t.Fatal("expected refreshed queue to be active")
	}
}

func TestRemoveIndexOrphansLaterStates(t *testing.T) {
	o, _, _, qid := setup(t, "lib/a.mp3", "lib/b.mp3", "lib/c.mp3")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		o.HandleEvent(ctx, events.EncodeQueueProgress{QueueID: qid, Index: idx(i), Status: "item-complete"})
	}
	if err := o.Remove(ctx, qid, idx(1)); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	states := o.ItemStates(qid)
	if len(states) != 1 {
		t.Fatalf("expected only index 0 to survive, got %v", states)
	}
	if _, ok := states[0]; !ok {
		t.Fatalf("index 0 state lost: %v", states)
	}
	q, _ := o.Queue(qid)
	if !slices.Equal(q.Items, []string{"lib/a.mp3", "lib/c.mp3"}) {
		t.Fatalf("unexpected items %v", q.Items)
	}
}

func TestRemoveQueueDropsStates(t *testing.T) {
	o, _, _, qid := setup(t, "lib/a.mp3")
	ctx := context.Background()
	o.HandleEvent(ctx, events.EncodeQueueProgress{QueueID: qid, Index: idx(0), Status: "item-start"})
	if err := o.Remove(ctx, qid, nil); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := o.Queue(qid); ok {
		t.Fatal("queue still cached")
	}
	if len(o.ItemStates(qid)) != 0 {
		t.Fatal("states survived queue removal")
	}
	if o.HandleEvent(ctx, events.EncodeQueueProgress{QueueID: qid, Index: idx(0), Status: "item-complete"}) {
		t.Fatal("late event for removed queue must be dropped")
	}
}

func TestStartRejectsActiveQueue(t *testing.T) {
	o, _, _, qid := setup(t, "lib/a.mp3")
	ctx := context.Background()
	if err := o.Start(ctx, qid); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.Start(ctx, qid); !errors.Is(err, encodequeue.ErrQueueActive) {
		t.Fatalf("expected ErrQueueActive, got %v", err)
	}
}

func TestStartKeepsEventsDeliveredDuringRequest(t *testing.T) {
	o, srv, _, qid := setup(t, "lib/a.mp3", "lib/b.mp3")
	ctx := context.Background()

	// leftover from an earlier run
	o.HandleEvent(ctx, events.EncodeQueueProgress{QueueID: qid, Index: idx(1), Status: "item-complete"})

	srv.onStart = func(id string) {
		o.HandleEvent(ctx, events.EncodeQueueProgress{QueueID: id, Index: idx(0), Status: "item-start"})
		o.HandleEvent(ctx, events.EncodeQueueProgress{QueueID: id, Index: idx(0), Status: "error", Error: "boom"})
	}
	if err := o.Start(ctx, qid); err != nil {
		t.Fatalf("Start: %v", err)
	}

	states := o.ItemStates(qid)
	got, ok := states[0]
	if !ok || got.Status != encodequeue.ItemError || got.Error != "boom" {
		t.Fatalf("expected error state for index 0 to survive Start, got %#v", states)
	}
	if _, ok := states[1]; ok {
		t.Fatalf("state from the earlier run should be cleared, got %#v", states)
	}
}
