// Package registry maintains the authoritative set of monitored inboxes
// and their decryption key material. Readers obtain immutable snapshots;
// watchers are signalled on every change so the stream engine can
// re-parameterize its connection.
package registry

import (
	"slices"
	"sync"
	"time"
)

// Entry is one monitored inbox.
type Entry struct {
	// ID is the server-assigned inbox identifier.
	ID string
	// KeyMaterial is the secret key used to decrypt this inbox's payloads.
	KeyMaterial []byte
	// CreatedAt is the inbox creation timestamp.
	CreatedAt time.Time
}

// Snapshot is an immutable view of the registry at one version. It
// never changes after being returned.
type Snapshot struct {
	// Version is the registry change counter the snapshot was taken at.
	Version uint64

	entries map[string]Entry
	ids     []string
}

// IDs returns the inbox IDs in the snapshot, sorted.
func (s Snapshot) IDs() []string {
	return s.ids
}

// Len returns the number of inboxes in the snapshot.
func (s Snapshot) Len() int {
	return len(s.entries)
}

// Contains reports whether the snapshot holds the given inbox.
func (s Snapshot) Contains(id string) bool {
	_, ok := s.entries[id]
	return ok
}

// Get returns the entry for an inbox, if present.
func (s Snapshot) Get(id string) (Entry, bool) {
	e, ok := s.entries[id]
	return e, ok
}

// Watcher is invoked with the new version after every registry change.
// Watchers run on the mutating goroutine and must not block.
type Watcher func(version uint64)

// Registry is the mutable inbox set. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]Entry
	version  uint64
	watchers map[uint64]Watcher
	nextWID  uint64
}

// New creates an empty registry at version zero.
func New() *Registry {
	return &Registry{
		entries:  make(map[string]Entry),
		watchers: make(map[uint64]Watcher),
	}
}

// Add inserts an entry if absent. It reports whether the set changed;
// adding an already-present ID is a no-op and does not bump the version.
func (r *Registry) Add(e Entry) bool {
	r.mu.Lock()
	if _, exists := r.entries[e.ID]; exists {
		r.mu.Unlock()
		return false
	}
	r.entries[e.ID] = e
	r.version++
	version, watchers := r.version, r.copyWatchersLocked()
	r.mu.Unlock()

	notify(watchers, version)
	return true
}

// Remove deletes an entry if present, reporting whether the set changed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	if _, exists := r.entries[id]; !exists {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, id)
	r.version++
	version, watchers := r.version, r.copyWatchersLocked()
	r.mu.Unlock()

	notify(watchers, version)
	return true
}

// Snapshot returns an immutable copy of the current set and its version.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make(map[string]Entry, len(r.entries))
	ids := make([]string, 0, len(r.entries))
	for id, e := range r.entries {
		entries[id] = e
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return Snapshot{Version: r.version, entries: entries, ids: ids}
}

// Version returns the current change counter.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Watch registers a watcher invoked on every subsequent change. The
// returned function removes the watcher; it is idempotent.
func (r *Registry) Watch(w Watcher) (cancel func()) {
	r.mu.Lock()
	id := r.nextWID
	r.nextWID++
	r.watchers[id] = w
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.watchers, id)
		r.mu.Unlock()
	}
}

// copyWatchersLocked snapshots the watcher list so notifications run
// outside the registry lock.
func (r *Registry) copyWatchersLocked() []Watcher {
	watchers := make([]Watcher, 0, len(r.watchers))
	for _, w := range r.watchers {
		watchers = append(watchers, w)
	}
	return watchers
}

func notify(watchers []Watcher, version uint64) {
	for _, w := range watchers {
		w(version)
	}
}
