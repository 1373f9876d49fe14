package registry

import (
	"errors"
	"slices"
	"sort"
	"sync"

	"tafkit/internal/services"
	"tafkit/internal/textutil"
)

const component = "registry"

// DefaultMaxSources caps a batch when no limit is configured.
const DefaultMaxSources = 99

var (
	ErrFull            = errors.New("source list is full")
	ErrDuplicateID     = errors.New("duplicate source id")
	ErrUnsafeName      = errors.New("unsafe file name")
	ErrPayloadMismatch = errors.New("source payload does not match origin")
	ErrNotFound        = errors.New("source not found")
)

// Snapshot is a copy of the registry state.
type Snapshot struct {
	Sources    []Source `json:"sources"`
	OutputName string   `json:"outputName"`
}

// Registry is the ordered, bounded source list of one encode batch.
type Registry struct {
	mu         sync.Mutex
	maxSources int
	sources    []Source
	outputName string

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
	// pubMu serializes deliveries so the last snapshot a subscriber sees is
	// the current state.
	pubMu sync.Mutex
}

// New creates an empty registry holding at most maxSources entries.
func New(maxSources int) *Registry {
	if maxSources <= 0 {
		maxSources = DefaultMaxSources
	}
	return &Registry{maxSources: maxSources, subs: make(map[int]func(Snapshot))}
}

// MaxSources returns the configured capacity.
func (r *Registry) MaxSources() int {
	return r.maxSources
}

// Add appends src. The first source of an unnamed batch also names the batch.
func (r *Registry) Add(src Source) error {
	return r.AddAll(src)
}

// AddAll appends srcs in order, all or nothing. The output name is derived
// only when the list ends up holding exactly one source, so adding several
// files at once to an empty list leaves the batch unnamed.
func (r *Registry) AddAll(srcs ...Source) error {
	if len(srcs) == 0 {
		return nil
	}
	batch := make([]Source, 0, len(srcs))
	seen := make(map[string]struct{}, len(srcs))
	for _, src := range srcs {
		src.Name = textutil.NormalizeName(src.Name)
		if err := textutil.CheckFileName(src.Name); err != nil {
			return invalid("add", ErrUnsafeName, err.Error())
		}
		if err := src.checkPayload(); err != nil {
			return invalid("add", ErrPayloadMismatch, err.Error())
		}
		if _, dup := seen[src.ID]; dup {
			return invalid("add", ErrDuplicateID, "source "+src.ID+" listed twice")
		}
		seen[src.ID] = struct{}{}
		batch = append(batch, src)
	}

	r.mu.Lock()
	if len(r.sources)+len(batch) > r.maxSources {
		r.mu.Unlock()
		return invalid("add", ErrFull, "maximum number of sources reached")
	}
	for _, src := range batch {
		if r.indexLocked(src.ID) >= 0 {
			r.mu.Unlock()
			return invalid("add", ErrDuplicateID, "source "+src.ID+" already added")
		}
	}
	r.sources = append(r.sources, batch...)
	if len(r.sources) == 1 && r.outputName == "" {
		r.outputName = textutil.StripExtension(r.sources[0].Name)
	}
	r.mu.Unlock()

	r.publish()
	return nil
}

// Remove deletes the source with id. It reports whether anything changed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	r.sources = slices.Delete(r.sources, idx, idx+1)
	r.mu.Unlock()

	r.publish()
	return true
}

// Reorder moves the source with id to position, clamped to the list bounds.
func (r *Registry) Reorder(id string, position int) bool {
	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	position = max(0, min(position, len(r.sources)-1))
	if position != idx {
		src := r.sources[idx]
		r.sources = slices.Delete(r.sources, idx, idx+1)
		r.sources = slices.Insert(r.sources, position, src)
	}
	r.mu.Unlock()

	r.publish()
	return true
}

// SortByName orders sources by name using byte-wise comparison. Equal names
// keep their relative order.
func (r *Registry) SortByName() {
	r.mu.Lock()
	sort.SliceStable(r.sources, func(i, j int) bool {
		return r.sources[i].Name < r.sources[j].Name
	})
	r.mu.Unlock()

	r.publish()
}

// Clear empties the list and resets the output name.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.sources = nil
	r.outputName = ""
	r.mu.Unlock()

	r.publish()
}

// Rename changes the display name of a source.
func (r *Registry) Rename(id, name string) error {
	name = textutil.NormalizeName(name)
	if err := textutil.CheckFileName(name); err != nil {
		return invalid("rename", ErrUnsafeName, err.Error())
	}

	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return invalid("rename", ErrNotFound, "source "+id+" not found")
	}
	r.sources[idx].Name = name
	r.mu.Unlock()

	r.publish()
	return nil
}

// SetOutputName sets the batch output name, without the .taf extension. An
// empty name clears it.
func (r *Registry) SetOutputName(name string) error {
	name = textutil.NormalizeName(name)
	if name != "" {
		if err := textutil.CheckFileName(name); err != nil {
			return invalid("output name", ErrUnsafeName, err.Error())
		}
	}

	r.mu.Lock()
	r.outputName = name
	r.mu.Unlock()

	r.publish()
	return nil
}

// OutputName returns the batch output name.
func (r *Registry) OutputName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outputName
}

// Sources returns a copy of the ordered list.
func (r *Registry) Sources() []Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.sources)
}

// Len returns the number of sources.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sources)
}

// Get returns the source with id.
func (r *Registry) Get(id string) (Source, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx := r.indexLocked(id); idx >= 0 {
		return r.sources[idx], true
	}
	return Source{}, false
}

// Snapshot returns a copy of the full state.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Restore replaces the state with snap after validating it as a whole.
func (r *Registry) Restore(snap Snapshot) error {
	if len(snap.Sources) > r.maxSources {
		return invalid("restore", ErrFull, "snapshot exceeds maximum number of sources")
	}
	seen := make(map[string]struct{}, len(snap.Sources))
	for _, src := range snap.Sources {
		if _, dup := seen[src.ID]; dup {
			return invalid("restore", ErrDuplicateID, "source "+src.ID+" appears twice")
		}
		seen[src.ID] = struct{}{}
		if err := src.checkPayload(); err != nil {
			return invalid("restore", ErrPayloadMismatch, err.Error())
		}
	}

	r.mu.Lock()
	r.sources = slices.Clone(snap.Sources)
	r.outputName = snap.OutputName
	r.mu.Unlock()

	r.publish()
	return nil
}

// Subscribe registers fn to receive a snapshot after every mutation. fn must
// not mutate the registry. The returned function cancels the subscription.
func (r *Registry) Subscribe(fn func(Snapshot)) func() {
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.subMu.Unlock()

	return func() {
		r.subMu.Lock()
		delete(r.subs, id)
		r.subMu.Unlock()
	}
}

func (r *Registry) publish() {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	r.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subMu.Unlock()
	if len(fns) == 0 {
		return
	}

	snap := r.Snapshot()
	for _, fn := range fns {
		fn(snap)
	}
}

func (r *Registry) indexLocked(id string) int {
	return slices.IndexFunc(r.sources, func(s Source) bool { return s.ID == id })
}

func (r *Registry) snapshotLocked() Snapshot {
	return Snapshot{Sources: slices.Clone(r.sources), OutputName: r.outputName}
}

func invalid(operation string, sentinel error, message string) error {
	return services.Wrap(services.ErrValidation, component, operation, message, sentinel)
}
