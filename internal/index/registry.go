package index

import (
	"sync"

	"github.com/stwalsh4118/areaindex/internal/models"
)

// Key identifies an index: one area in one SRID.
type Key struct {
	AreaID int64
	SRID   models.SRID
}

// Registry holds the currently published index per key. Publishing replaces
// the pointer, so queries that already fetched an index finish against that
// snapshot while new queries see the replacement.
type Registry struct {
	mu      sync.RWMutex
	indexes map[Key]*Index
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{indexes: make(map[Key]*Index)}
}

// Get returns the published index for the key.
func (r *Registry) Get(areaID int64, srid models.SRID) (*Index, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.indexes[Key{AreaID: areaID, SRID: srid}]
	return idx, ok
}

// Publish makes idx the authoritative index for its area and SRID and returns
// the index it replaced, if any.
func (r *Registry) Publish(idx *Index) *Index {
	key := Key{AreaID: idx.AreaID(), SRID: idx.SRID()}

	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.indexes[key]
	r.indexes[key] = idx
	return prev
}

// Discard drops the index for one key.
func (r *Registry) Discard(areaID int64, srid models.SRID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.indexes, Key{AreaID: areaID, SRID: srid})
}

// DiscardArea drops the indexes of an area in every SRID.
func (r *Registry) DiscardArea(areaID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.indexes {
		if key.AreaID == areaID {
			delete(r.indexes, key)
		}
	}
}

// Len returns the number of published indexes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.indexes)
}
