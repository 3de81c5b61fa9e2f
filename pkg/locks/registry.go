// Package locks hands out per-thread mutexes so that all message handling
// within one conversation thread is serialized.
package locks

import (
	"container/list"
	"sync"

	"karmika-sahayak/backend/pkg/metrics"
)

// DefaultCapacity bounds the number of thread locks kept in memory.
const DefaultCapacity = 10000

// Registry maps thread ids to mutexes, bounded by an LRU policy so the
// table cannot grow without limit across many threads.
//
// Eviction hazard: if an entry is evicted while its mutex is still held, a
// later acquirer for the same thread receives a fresh mutex and does not
// serialize with the current holder. That requires a thread to fall out of
// the N most recently used threads while one of its requests is still in
// flight; with the default capacity this does not happen under realistic
// load, and the consequence is reduced serialization, not corruption of the
// registry itself.
type Registry struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
}

type entry struct {
	id   string
	lock *sync.Mutex
}

// NewRegistry creates a registry bounded to the given capacity.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the mutex for the given thread id, creating it if needed.
// Two concurrent calls with the same id return the same mutex. The returned
// mutex must be locked and unlocked by the caller; Get itself never blocks
// on it.
func (r *Registry) Get(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	if el, ok := r.entries[id]; ok {
		r.order.MoveToFront(el)
		return el.Value.(*entry).lock
	}

	el := r.order.PushFront(&entry{id: id, lock: &sync.Mutex{}})
	r.entries[id] = el

	if r.order.Len() > r.capacity {
		oldest := r.order.Back()
		if oldest != nil {
			r.order.Remove(oldest)
			delete(r.entries, oldest.Value.(*entry).id)
		}
	}

	metrics.ThreadLocksActive.Set(float64(r.order.Len()))

	return el.Value.(*entry).lock
}

// Len reports the number of locks currently tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Len()
}

// Contains reports whether the registry currently tracks the given id.
func (r *Registry) Contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}
