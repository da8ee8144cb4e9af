// Package presence tracks which users currently have at least one live
// session. It holds membership only; session counting lives in the hub,
// which calls MarkOnline on a user's first session and MarkOffline after
// the last one closes.
package presence

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

type Registry struct {
	mu     sync.RWMutex
	online map[uuid.UUID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{online: make(map[uuid.UUID]struct{})}
}

// MarkOnline adds id and reports whether membership changed.
func (r *Registry) MarkOnline(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.online[id]; ok {
		return false
	}
	r.online[id] = struct{}{}
	return true
}

// MarkOffline removes id and reports whether membership changed.
func (r *Registry) MarkOffline(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.online[id]; !ok {
		return false
	}
	delete(r.online, id)
	return true
}

func (r *Registry) IsOnline(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.online[id]
	return ok
}

// Snapshot returns the online ids in a stable order.
func (r *Registry) Snapshot() []uuid.UUID {
	r.mu.RLock()
	ids := make([]uuid.UUID, 0, len(r.online))
	for id := range r.online {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.online)
}

// Drain forces everyone offline and returns who was online.
func (r *Registry) Drain() []uuid.UUID {
	ids := r.Snapshot()
	r.mu.Lock()
	r.online = make(map[uuid.UUID]struct{})
	r.mu.Unlock()
	return ids
}
