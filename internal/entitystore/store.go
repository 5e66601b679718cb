// Package entitystore is the flat EntityId -> entity-object mapping that
// is the base layer's sole mutable state (SPEC_FULL §4.6).
//
// Grounded on internal/infrastructure/objectstore.ObjectStore in the
// reference repository: same RWMutex-guarded state-struct-under-lock
// shape, same "publish the whole new state under a short lock"
// discipline. Re-keyed from int64 id + ordered slice to string
// EntityId + entity-granularity copy-on-write (this domain has no
// ordering requirement over entities, only over writes within a field).
package entitystore

import (
	"sync"

	"go.uber.org/zap"

	"github.com/apollostack/gqlcache/internal/cachelog"
	"github.com/apollostack/gqlcache/internal/cachevalue"
)

// Entity is an immutable snapshot of one entity's fields. Entities are
// never mutated in place; a write produces a new Entity value sharing
// unmodified field values with the old one (copy-on-write at entity
// granularity, SPEC_FULL §4.6), so a reader holding a reference to an
// Entity it fetched is guaranteed a consistent, unchanging view of it.
type Entity map[string]cachevalue.StoreValue

// Clone returns a shallow copy of e suitable as the basis for a write
// (the caller mutates the copy's keys, then the store publishes it).
func (e Entity) Clone() Entity {
	out := make(Entity, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// View is the read/write surface both the base Store and a layered
// Overlay satisfy. writer, reader and reconcile depend on View rather
// than *Store so they can run unmodified against either the base store
// or an optimistic layer's diff (SPEC_FULL §4.4).
type View interface {
	Get(id cachevalue.EntityId) (Entity, bool)
	GetField(id cachevalue.EntityId, fieldKey string) (cachevalue.StoreValue, bool)
	Set(id cachevalue.EntityId, e Entity)
	Delete(id cachevalue.EntityId)
	Has(id cachevalue.EntityId) bool
	// Materialize returns the full flattened id-to-entity mapping this
	// View currently presents (an Overlay folds its parent's state
	// underneath its own diff and tombstones). Used by internal/snapshot
	// for Extract, where the whole effective state - not one lookup at a
	// time - is what gets serialized.
	Materialize() map[cachevalue.EntityId]Entity
}

// Store is a flat map from EntityId to Entity, safe for concurrent use.
type Store struct {
	log *zap.Logger

	mu  sync.RWMutex
	ent map[cachevalue.EntityId]Entity
}

// New constructs an empty, ready-to-use Store.
func New(log *zap.Logger) *Store {
	return &Store{
		log: cachelog.Named(log, "entitystore"),
		ent: make(map[cachevalue.EntityId]Entity),
	}
}

// Get returns (entity, true) if id is present, else (nil, false). The
// returned Entity must not be mutated by the caller; Set a clone instead.
func (s *Store) Get(id cachevalue.EntityId) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.ent[id]
	return e, ok
}

// GetField returns the StoreValue at (id, fieldKey), or (zero, false)
// if either the entity or the field is absent.
func (s *Store) GetField(id cachevalue.EntityId, fieldKey string) (cachevalue.StoreValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.ent[id]
	if !ok {
		return cachevalue.StoreValue{}, false
	}
	v, ok := e[fieldKey]
	return v, ok
}

// Set publishes a full replacement Entity for id (entity-granularity
// copy-on-write: the caller builds the new Entity off to the side, e.g.
// via Clone, and Set swaps it in under a single short write lock).
func (s *Store) Set(id cachevalue.EntityId, e Entity) {
	s.mu.Lock()
	s.ent[id] = e
	s.mu.Unlock()
}

// Delete removes id from the store entirely (used once a synthetic
// entity has been reconciled into a real one).
func (s *Store) Delete(id cachevalue.EntityId) {
	s.mu.Lock()
	delete(s.ent, id)
	s.mu.Unlock()
}

// Has reports whether id is present in the store.
func (s *Store) Has(id cachevalue.EntityId) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ent[id]
	return ok
}

// Snapshot captures the current id-to-entity mapping pointer semantics:
// it returns a shallow copy of the top-level map (entity values
// themselves are immutable per the copy-on-write discipline, so no
// deeper copy is required for a caller to get a point-in-time view).
func (s *Store) Snapshot() map[cachevalue.EntityId]Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[cachevalue.EntityId]Entity, len(s.ent))
	for id, e := range s.ent {
		out[id] = e
	}
	return out
}

// Materialize satisfies View; for the base Store it is just Snapshot.
func (s *Store) Materialize() map[cachevalue.EntityId]Entity {
	return s.Snapshot()
}

// Reset discards all entities.
func (s *Store) Reset() {
	s.mu.Lock()
	n := len(s.ent)
	s.ent = make(map[cachevalue.EntityId]Entity)
	s.mu.Unlock()
	s.log.Info("reset", zap.Int("entities_cleared", n))
}

// Size returns the number of entities currently stored.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ent)
}

// Overlay is a single optimistic layer's diff (SPEC_FULL §4.4): writes
// land only in the overlay's own map, tombstones shadow a parent
// entity without mutating it, and reads that miss locally fall through
// to the parent View. Chaining Overlays (each one's parent the View
// effective at the moment it was pushed) gives "scan layers top to
// bottom, falling back to the base" for free, through ordinary Go
// method dispatch rather than an explicit per-read scan loop.
//
// Not safe for concurrent use; the optimistic stack serializes access
// to each Overlay under its own lock.
type Overlay struct {
	parent  View
	diff    map[cachevalue.EntityId]Entity
	deleted map[cachevalue.EntityId]bool
}

// NewOverlay constructs an empty diff chained in front of parent.
func NewOverlay(parent View) *Overlay {
	return &Overlay{
		parent:  parent,
		diff:    make(map[cachevalue.EntityId]Entity),
		deleted: make(map[cachevalue.EntityId]bool),
	}
}

func (o *Overlay) Get(id cachevalue.EntityId) (Entity, bool) {
	if o.deleted[id] {
		return nil, false
	}
	if e, ok := o.diff[id]; ok {
		return e, true
	}
	return o.parent.Get(id)
}

func (o *Overlay) GetField(id cachevalue.EntityId, fieldKey string) (cachevalue.StoreValue, bool) {
	if o.deleted[id] {
		return cachevalue.StoreValue{}, false
	}
	if e, ok := o.diff[id]; ok {
		v, ok := e[fieldKey]
		return v, ok
	}
	return o.parent.GetField(id, fieldKey)
}

func (o *Overlay) Set(id cachevalue.EntityId, e Entity) {
	delete(o.deleted, id)
	o.diff[id] = e
}

func (o *Overlay) Delete(id cachevalue.EntityId) {
	delete(o.diff, id)
	o.deleted[id] = true
}

func (o *Overlay) Has(id cachevalue.EntityId) bool {
	if o.deleted[id] {
		return false
	}
	if _, ok := o.diff[id]; ok {
		return true
	}
	return o.parent.Has(id)
}

// Materialize folds the parent View's state underneath this overlay's
// own diff and tombstones.
func (o *Overlay) Materialize() map[cachevalue.EntityId]Entity {
	out := o.parent.Materialize()
	for id := range o.deleted {
		delete(out, id)
	}
	for id, e := range o.diff {
		out[id] = e
	}
	return out
}

// Touched returns the ids this overlay wrote or deleted directly (not
// counting ids only touched by a parent layer), for watch-layer
// dependency accounting when a layer is pushed or rebased.
func (o *Overlay) Touched() map[cachevalue.EntityId]struct{} {
	out := make(map[cachevalue.EntityId]struct{}, len(o.diff)+len(o.deleted))
	for id := range o.diff {
		out[id] = struct{}{}
	}
	for id := range o.deleted {
		out[id] = struct{}{}
	}
	return out
}
