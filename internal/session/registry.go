package session

import (
	"sort"

	"github.com/amoylab/wuhost/internal/engine"
)

// ReleaseFunc tells the transport engine to free a handle.
type ReleaseFunc func(h engine.Handle)

// Registry maps stable public session ids to engine handles.
//
// Ids start at 1 and are handed out in observation order; 0 means unassigned.
// A Registry is not safe for concurrent use: it is owned by the goroutine that
// drives the engine.
type Registry struct {
	byID     map[uint32]engine.Handle
	byHandle map[engine.Handle]uint32
	counter  uint32
	release  ReleaseFunc
}

// NewRegistry creates an empty registry. release is invoked by Remove after the
// mapping has been erased.
func NewRegistry(release ReleaseFunc) *Registry {
	if release == nil {
		release = func(engine.Handle) {}
	}
	return &Registry{
		byID:     make(map[uint32]engine.Handle),
		byHandle: make(map[engine.Handle]uint32),
		counter:  1,
		release:  release,
	}
}

// ResolveOrAssign returns the id for h, assigning the next one if h is unseen.
func (r *Registry) ResolveOrAssign(h engine.Handle) uint32 {
	if id, ok := r.byHandle[h]; ok {
		return id
	}
	id := r.nextID()
	r.byHandle[h] = id
	r.byID[id] = h
	return id
}

// nextID advances the counter, skipping 0 and ids that are still live after a wrap.
func (r *Registry) nextID() uint32 {
	for {
		id := r.counter
		r.counter++
		if id == 0 {
			continue
		}
		if _, taken := r.byID[id]; !taken {
			return id
		}
	}
}

// IDOf returns the id assigned to h without assigning one.
func (r *Registry) IDOf(h engine.Handle) (uint32, bool) {
	id, ok := r.byHandle[h]
	return id, ok
}

// Lookup returns the handle behind id.
func (r *Registry) Lookup(id uint32) (engine.Handle, bool) {
	h, ok := r.byID[id]
	return h, ok
}

// Remove erases the mapping for id and then releases its handle. It reports
// whether anything was removed; unknown ids are ignored.
func (r *Registry) Remove(id uint32) bool {
	h, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	delete(r.byHandle, h)
	r.release(h)
	return true
}

// Purge erases the mapping for h without releasing it.
func (r *Registry) Purge(h engine.Handle) (uint32, bool) {
	id, ok := r.byHandle[h]
	if !ok {
		return 0, false
	}
	delete(r.byHandle, h)
	delete(r.byID, id)
	return id, true
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	return len(r.byID)
}

// IDs returns the live ids in ascending order.
func (r *Registry) IDs() []uint32 {
	ids := make([]uint32, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
