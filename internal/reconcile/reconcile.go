// Package reconcile implements the identity reconciliation protocol
// (SPEC_FULL §4.2, I3): when a synthetic-id entity is learned to be the
// same logical object as a newly-identified real-id entity, the two
// must merge without loss, with nested dangling synthetic references
// rewritten recursively.
//
// Grounded on internal/repo/repoexample.ChannelRepository.reconcile in
// the reference repository, which rebuilds an in-memory object index
// from a durable source of truth on startup; here the "source of truth"
// is the newly-written real-id entity and the "stale index entry" is
// the synthetic entity it supersedes.
package reconcile

import (
	"go.uber.org/zap"

	"github.com/apollostack/gqlcache/internal/cachelog"
	"github.com/apollostack/gqlcache/internal/cachevalue"
	"github.com/apollostack/gqlcache/internal/entitystore"
)

// Merger performs synthetic-into-real entity merges against a store.
type Merger struct {
	log   *zap.Logger
	store entitystore.View
}

// New constructs a Merger over store.
func New(log *zap.Logger, store entitystore.View) *Merger {
	return &Merger{log: cachelog.Named(log, "reconcile"), store: store}
}

// Merge absorbs the entity at oldID (synthetic) into newID (real),
// recursing into nested reference fields that themselves point at
// synthetic entities, then deletes oldID. New-id wins on field
// collisions for fields that already existed on newID; fields only
// present on oldID are carried across unchanged.
//
// Merge is a no-op if oldID == newID (nothing is merged or deleted), and
// is safe to call when oldID is absent (nothing to merge). It returns
// every entity id it mutated, including newID itself and any id merged
// recursively by mergeNestedReferences, so callers (internal/writer) can
// fold the full set into the watch layer's touched set rather than just
// the top-level oldID/newID pair.
func (m *Merger) Merge(oldID, newID cachevalue.EntityId) map[cachevalue.EntityId]struct{} {
	touched := make(map[cachevalue.EntityId]struct{})
	if oldID == newID {
		return touched
	}

	oldEntity, ok := m.store.Get(oldID)
	if !ok {
		return touched
	}

	newEntity, hasNew := m.store.Get(newID)
	merged := newEntity.Clone()
	if !hasNew {
		merged = entitystore.Entity{}
	}

	for field, oldVal := range oldEntity {
		newVal, collides := merged[field]
		if !collides {
			merged[field] = oldVal
			continue
		}
		// New-id wins on collisions for already-real fields; recurse to
		// merge sub-trees where the old tree pointed at a synthetic
		// entity and the new tree points elsewhere (possibly a
		// different synthetic id, possibly already-real).
		m.mergeNestedReferences(oldVal, newVal, touched)
	}

	m.store.Set(newID, merged)
	m.store.Delete(oldID)
	touched[oldID] = struct{}{}
	touched[newID] = struct{}{}

	m.log.Info("reconciled synthetic entity into real entity",
		zap.String("synthetic_id", string(oldID)),
		zap.String("real_id", string(newID)),
	)
	return touched
}

// mergeNestedReferences recurses into reference-shaped field values that
// collided during a Merge, so that nested synthetic sub-trees reachable
// only through the superseded entity are not orphaned. Every id mutated
// by a recursive Merge call is folded into touched.
func (m *Merger) mergeNestedReferences(oldVal, newVal cachevalue.StoreValue, touched map[cachevalue.EntityId]struct{}) {
	if oldVal.Kind() == cachevalue.KindReference && newVal.Kind() == cachevalue.KindReference {
		oldID, _, oldNull := oldVal.AsReference()
		newID, _, newNull := newVal.AsReference()
		if oldNull || newNull || oldID == newID {
			return
		}
		if oldID.IsSynthetic() {
			for id := range m.Merge(oldID, newID) {
				touched[id] = struct{}{}
			}
		}
		return
	}

	if oldVal.Kind() == cachevalue.KindReferenceList && newVal.Kind() == cachevalue.KindReferenceList {
		oldList := oldVal.AsReferenceList()
		newList := newVal.AsReferenceList()
		n := len(oldList)
		if len(newList) < n {
			n = len(newList)
		}
		for i := 0; i < n; i++ {
			m.mergeNestedReferences(oldList[i], newList[i], touched)
		}
	}
}
