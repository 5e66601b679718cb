// Package writer implements the normalization protocol (SPEC_FULL §4.2):
// walking a selection set against a result tree, writing entities into
// the store, resolving identity (including triggering reconciliation),
// and reporting which entity ids were touched so the watch layer can
// compute dirty watchers.
//
// Grounded on internal/repo/repoexample.ChannelRepository's write paths
// in the reference repository (marshal the new value off to the side,
// mutate under a short lock, update the index) for the "compute off to
// the side, publish under a short critical section" discipline, and on
// internal/domain/channel/transformers.go for the recursive-descent
// tree-walking shape.
package writer

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/apollostack/gqlcache/cacheerr"
	"github.com/apollostack/gqlcache/internal/cachelog"
	"github.com/apollostack/gqlcache/internal/cachevalue"
	"github.com/apollostack/gqlcache/internal/entitystore"
	"github.com/apollostack/gqlcache/internal/fieldkey"
	"github.com/apollostack/gqlcache/internal/gqlast"
	"github.com/apollostack/gqlcache/internal/reconcile"
)

// IdentifyFunc returns the caller-supplied stable id for value, or
// ("", false) when value has no stable identity yet. Returning an id
// beginning with "$" is a hard error (cacheerr.ErrIdentityViolation).
type IdentifyFunc func(value map[string]any) (id string, ok bool)

// outcome is the internal write-outcome sentinel (SPEC_FULL §7 kind 6 /
// Design Notes §9): a systems-language stand-in for the reference
// implementation's exception-based partial-write signal. It never
// escapes the package as an error; it only controls whether a
// fragment's write is logged as abandoned.
type outcome int

const (
	outcomeOK outcome = iota
	outcomePartial
)

// Writer normalizes result trees into a Store.
type Writer struct {
	log    *zap.Logger
	store  entitystore.View
	merger *reconcile.Merger
}

// New constructs a Writer over store, sharing its reconciler.
func New(log *zap.Logger, store entitystore.View, merger *reconcile.Merger) *Writer {
	return &Writer{log: cachelog.Named(log, "writer"), store: store, merger: merger}
}

// Write normalizes result against ss starting at startID, using
// variables for field-key argument resolution and identify for entity
// identity resolution. It returns the set of entity ids it (or the
// reconciler, on its behalf) touched.
func (w *Writer) Write(
	ss *gqlast.SelectionSet,
	result map[string]any,
	startID cachevalue.EntityId,
	variables map[string]any,
	identify IdentifyFunc,
	fragments gqlast.FragmentMap,
) (map[cachevalue.EntityId]struct{}, error) {
	touched := make(map[cachevalue.EntityId]struct{})
	if _, err := w.writeSelections(ss, result, startID, variables, identify, fragments, touched); err != nil {
		return nil, err
	}
	return touched, nil
}

func (w *Writer) writeSelections(
	ss *gqlast.SelectionSet,
	result map[string]any,
	startID cachevalue.EntityId,
	variables map[string]any,
	identify IdentifyFunc,
	fragments gqlast.FragmentMap,
	touched map[cachevalue.EntityId]struct{},
) (outcome, error) {
	agg := outcomeOK

	for _, sel := range ss.Selections {
		switch sel.Kind {
		case gqlast.KindField:
			o, err := w.writeField(sel.Field, result, startID, variables, identify, fragments, touched)
			if err != nil {
				return outcomeOK, err
			}
			if o == outcomePartial {
				agg = outcomePartial
			}

		case gqlast.KindInlineFragment:
			o, err := w.writeSelections(sel.InlineFragment, result, startID, variables, identify, fragments, touched)
			if err != nil {
				return outcomeOK, err
			}
			if o == outcomePartial {
				agg = outcomePartial
				w.log.Debug("inline fragment write partially abandoned; surrounding writes proceed")
			}

		case gqlast.KindFragmentSpread:
			frag, ok := fragments[sel.FragmentName]
			if !ok {
				return outcomeOK, fmt.Errorf("%w: %q", cacheerr.ErrMissingFragment, sel.FragmentName)
			}
			o, err := w.writeSelections(frag, result, startID, variables, identify, fragments, touched)
			if err != nil {
				return outcomeOK, err
			}
			if o == outcomePartial {
				agg = outcomePartial
				w.log.Debug("named fragment write partially abandoned; surrounding writes proceed",
					zap.String("fragment", sel.FragmentName))
			}

		default:
			return outcomeOK, fmt.Errorf("%w: %d", cacheerr.ErrUnknownSelection, sel.Kind)
		}
	}

	return agg, nil
}

func (w *Writer) writeField(
	field *gqlast.Field,
	result map[string]any,
	startID cachevalue.EntityId,
	variables map[string]any,
	identify IdentifyFunc,
	fragments gqlast.FragmentMap,
	touched map[cachevalue.EntityId]struct{},
) (outcome, error) {
	fieldKey, err := fieldkey.Encode(field, variables)
	if err != nil {
		return outcomeOK, err
	}

	value, present := result[field.ResponseKey()]
	if !present {
		return outcomePartial, nil
	}

	if field.SubSelection == nil {
		w.writeScalar(startID, fieldKey, value, touched)
		return outcomeOK, nil
	}

	sv, err := w.writeComposite(startID, fieldKey, nil, value, field.SubSelection, variables, identify, fragments, touched)
	if err != nil {
		return outcomeOK, err
	}
	w.setField(startID, fieldKey, sv, touched)
	return outcomeOK, nil
}

// writeScalar handles a field with no sub-selection: a plain scalar, or
// an opaque JsonBlob when the response value happens to be an object.
func (w *Writer) writeScalar(startID cachevalue.EntityId, fieldKey string, value any, touched map[cachevalue.EntityId]struct{}) {
	switch value.(type) {
	case map[string]any:
		w.setField(startID, fieldKey, cachevalue.JsonBlob(value), touched)
	default:
		w.setField(startID, fieldKey, cachevalue.Scalar(value), touched)
	}
}

// writeComposite handles a field (or list element) that carries a
// sub-selection: null, object, or array (arrays nest to any depth, each
// level becoming a nested ReferenceList).
func (w *Writer) writeComposite(
	parentID cachevalue.EntityId,
	fieldKey string,
	indices []int,
	value any,
	sub *gqlast.SelectionSet,
	variables map[string]any,
	identify IdentifyFunc,
	fragments gqlast.FragmentMap,
	touched map[cachevalue.EntityId]struct{},
) (cachevalue.StoreValue, error) {
	switch v := value.(type) {
	case nil:
		return cachevalue.NullReference(), nil

	case []any:
		elems := make([]cachevalue.StoreValue, len(v))
		for i, elem := range v {
			sv, err := w.writeComposite(parentID, fieldKey, append(append([]int{}, indices...), i), elem, sub, variables, identify, fragments, touched)
			if err != nil {
				return cachevalue.StoreValue{}, err
			}
			elems[i] = sv
		}
		return cachevalue.ReferenceList(elems), nil

	case map[string]any:
		childID, generated, err := computeChildID(parentID, fieldKey, indices, v, identify)
		if err != nil {
			return cachevalue.StoreValue{}, err
		}

		if err := w.reconcileSlot(parentID, fieldKey, indices, childID, generated, touched); err != nil {
			return cachevalue.StoreValue{}, err
		}

		if _, err := w.writeSelections(sub, v, childID, variables, identify, fragments, touched); err != nil {
			return cachevalue.StoreValue{}, err
		}

		return cachevalue.Reference(childID, generated), nil

	default:
		return cachevalue.StoreValue{}, fmt.Errorf("writer: composite field value has unexpected type %T", value)
	}
}

// computeChildID resolves the entity id for an object appearing at
// (parentID, fieldKey[, indices...]): the caller's identify() result if
// legal, else a deterministic synthetic id.
func computeChildID(parentID cachevalue.EntityId, fieldKey string, indices []int, value map[string]any, identify IdentifyFunc) (cachevalue.EntityId, bool, error) {
	if id, ok := identify(value); ok {
		if strings.HasPrefix(id, "$") {
			return "", false, fmt.Errorf("%w: %q", cacheerr.ErrIdentityViolation, id)
		}
		return cachevalue.EntityId(id), false, nil
	}

	base := string(parentID)
	if !strings.HasPrefix(base, "$") {
		base = "$" + base
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteByte('.')
	b.WriteString(fieldKey)
	for _, i := range indices {
		b.WriteByte('.')
		b.WriteString(strconv.Itoa(i))
	}

	return cachevalue.EntityId(b.String()), true, nil
}

// reconcileSlot implements the identity-reconciliation trigger of
// SPEC_FULL §4.2: if the slot this write targets already holds a
// reference to a *different* entity, either merge (old was synthetic)
// or error (old was real and new is synthetic).
func (w *Writer) reconcileSlot(parentID cachevalue.EntityId, fieldKey string, indices []int, newID cachevalue.EntityId, newGenerated bool, touched map[cachevalue.EntityId]struct{}) error {
	existing, ok := w.existingSlotValue(parentID, fieldKey, indices)
	if !ok || existing.Kind() != cachevalue.KindReference {
		return nil
	}

	oldID, oldGenerated, oldNull := existing.AsReference()
	if oldNull || oldID == newID {
		return nil
	}

	if oldGenerated {
		for id := range w.merger.Merge(oldID, newID) {
			touched[id] = struct{}{}
		}
		return nil
	}

	if newGenerated {
		return fmt.Errorf("%w: slot (%s, %s) holds real id %q, refusing synthetic id %q",
			cacheerr.ErrIdentityOverwrite, parentID, fieldKey, oldID, newID)
	}

	// Old and new are both real but differ: a legitimate overwrite
	// (e.g. the field now points at a different entity entirely).
	return nil
}

// existingSlotValue locates the StoreValue currently occupying
// (parentID, fieldKey[, indices...]), navigating into a ReferenceList
// when indices is non-empty.
func (w *Writer) existingSlotValue(parentID cachevalue.EntityId, fieldKey string, indices []int) (cachevalue.StoreValue, bool) {
	v, ok := w.store.GetField(parentID, fieldKey)
	if !ok {
		return cachevalue.StoreValue{}, false
	}
	for _, i := range indices {
		if v.Kind() != cachevalue.KindReferenceList {
			return cachevalue.StoreValue{}, false
		}
		list := v.AsReferenceList()
		if i < 0 || i >= len(list) {
			return cachevalue.StoreValue{}, false
		}
		v = list[i]
	}
	return v, true
}

// setField writes newVal at (entityID, fieldKey) unless an
// indistinguishable value is already there (I5: idempotent writes are
// silent no-ops and do not mark the entity touched).
func (w *Writer) setField(entityID cachevalue.EntityId, fieldKey string, newVal cachevalue.StoreValue, touched map[cachevalue.EntityId]struct{}) {
	if existing, ok := w.store.GetField(entityID, fieldKey); ok && cachevalue.Equal(existing, newVal) {
		return
	}

	ent, ok := w.store.Get(entityID)
	var next entitystore.Entity
	if ok {
		next = ent.Clone()
	} else {
		next = entitystore.Entity{}
	}
	next[fieldKey] = newVal
	w.store.Set(entityID, next)
	touched[entityID] = struct{}{}
}
