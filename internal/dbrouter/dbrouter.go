// Package dbrouter maps workspace roots to their persistent store handles
// (spec §4.H): an LRU-capped cache of open *store.Store connections, and a
// lease helper that guarantees release on every exit path. Grounded on the
// teacher's internal/indexing/index_locks.go — the IndexLockManager's
// acquire-with-retry-and-guaranteed-release shape — generalized from
// lock leases over an in-memory index to leases over an on-disk store
// handle.
package dbrouter

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/standardbeagle/probelsp/internal/logging"
	"github.com/standardbeagle/probelsp/internal/store"
)

var logger = logging.For("dbrouter")

// DefaultMaxOpenCaches bounds how many workspace stores stay open at once.
const DefaultMaxOpenCaches = 16

// Router owns the mapping from workspace root to open store handle.
type Router struct {
	mu              sync.Mutex
	maxOpen         int
	forceMemoryOnly bool
	entries         map[string]*entry
	lru             *list.List // front = most recently used
}

type entry struct {
	root    string
	st      *store.Store
	leases  int
	element *list.Element
}

// New creates a router. maxOpen <= 0 uses DefaultMaxOpenCaches.
// forceMemoryOnly routes every root to a shared in-memory store instead of
// an on-disk file, used for ephemeral test/CI runs per spec §4.H.
func New(maxOpen int, forceMemoryOnly bool) *Router {
	if maxOpen <= 0 {
		maxOpen = DefaultMaxOpenCaches
	}
	return &Router{
		maxOpen:         maxOpen,
		forceMemoryOnly: forceMemoryOnly,
		entries:         make(map[string]*entry),
		lru:             list.New(),
	}
}

// WithStore leases the store for root, invokes fn, and releases the lease
// whether fn returns an error, panics, or succeeds.
func (r *Router) WithStore(ctx context.Context, root string, fn func(*store.Store) error) (err error) {
	st, release, err := r.acquire(ctx, root)
	if err != nil {
		return err
	}
	defer release()
	return fn(st)
}

// acquire returns the store for root, opening it if necessary, and a
// release function the caller must invoke exactly once.
func (r *Router) acquire(ctx context.Context, root string) (*store.Store, func(), error) {
	r.mu.Lock()
	if e, ok := r.entries[root]; ok {
		e.leases++
		r.lru.MoveToFront(e.element)
		r.mu.Unlock()
		return e.st, r.releaseFunc(root), nil
	}
	r.mu.Unlock()

	path := store.DefaultPathForRoot(root)
	if r.forceMemoryOnly {
		path = ""
	}

	var st *store.Store
	var err error
	if path == "" {
		st, err = store.OpenMemory(ctx)
	} else {
		st, err = store.Open(ctx, path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open store for %s: %w", root, err)
	}

	r.mu.Lock()
	if existing, ok := r.entries[root]; ok {
		// Lost a race opening the same root twice; keep the winner's handle.
		st.Close()
		existing.leases++
		r.lru.MoveToFront(existing.element)
		r.mu.Unlock()
		return existing.st, r.releaseFunc(root), nil
	}

	e := &entry{root: root, st: st, leases: 1}
	e.element = r.lru.PushFront(root)
	r.entries[root] = e
	r.evictIfOverCapacityLocked()
	r.mu.Unlock()

	return st, r.releaseFunc(root), nil
}

func (r *Router) releaseFunc(root string) func() {
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		e, ok := r.entries[root]
		if !ok {
			return
		}
		if e.leases > 0 {
			e.leases--
		}
	}
}

// evictIfOverCapacityLocked closes the least-recently-used store with no
// active leases until the cache is back within maxOpen. Requires r.mu held.
func (r *Router) evictIfOverCapacityLocked() {
	for len(r.entries) > r.maxOpen {
		victim := r.lru.Back()
		closedAny := false
		for victim != nil {
			root := victim.Value.(string)
			e := r.entries[root]
			prev := victim.Prev()
			if e.leases == 0 {
				r.lru.Remove(victim)
				delete(r.entries, root)
				if err := e.st.Close(); err != nil {
					logger.Warn("closing evicted store for %s: %v", root, err)
				}
				closedAny = true
				break
			}
			victim = prev
		}
		if !closedAny {
			return // every open store is leased; cannot evict further
		}
	}
}

// CloseAll closes every open store regardless of lease count. Intended for
// daemon shutdown only.
func (r *Router) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for root, e := range r.entries {
		if err := e.st.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing store for %s: %w", root, err)
		}
	}
	r.entries = make(map[string]*entry)
	r.lru.Init()
	return firstErr
}

// OpenCount reports how many stores are currently open, for diagnostics.
func (r *Router) OpenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
