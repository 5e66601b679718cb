// Package optimistic implements the optimistic layer stack (SPEC_FULL
// §4.4): an ordered list of named diffs sitting in front of the base
// store, each produced by replaying a caller-supplied write function,
// removable (rollback) or promotable (commit) by mutation id, with
// every layer above the one that changes rebased by full replay in
// original push order.
//
// Grounded on internal/infrastructure/processmgr.slotPool in the
// reference repository: the same "mutex-guarded ownership table keyed
// by caller-supplied id, panic on a duplicate registration, sentinel
// error on an operation against an id that isn't held" shape, adapted
// from a counting semaphore to a stack of named diffs.
package optimistic

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/apollostack/gqlcache/cacheerr"
	"github.com/apollostack/gqlcache/internal/cachelog"
	"github.com/apollostack/gqlcache/internal/cachevalue"
	"github.com/apollostack/gqlcache/internal/entitystore"
	"github.com/apollostack/gqlcache/internal/gqlast"
	"github.com/apollostack/gqlcache/internal/reconcile"
	"github.com/apollostack/gqlcache/internal/writer"
)

// LayerWriter is the handle a WriteFunc receives: a Writer bound to the
// layer's own diff (reading through every layer below it and the base
// store). The ids touched across however many Write calls the function
// makes are recorded by the layer's Overlay, not by LayerWriter.
type LayerWriter struct {
	w *writer.Writer
}

// Write normalizes result into the layer's diff exactly as
// writer.Writer.Write does against the base store. The overlay itself
// (not the return value here) is the authority on which ids the layer
// touched; see Overlay.Touched.
func (lw *LayerWriter) Write(
	ss *gqlast.SelectionSet,
	result map[string]any,
	startID cachevalue.EntityId,
	variables map[string]any,
	identify writer.IdentifyFunc,
	fragments gqlast.FragmentMap,
) error {
	_, err := lw.w.Write(ss, result, startID, variables, identify, fragments)
	return err
}

// WriteFunc is a caller-supplied optimistic mutation body: it issues
// one or more writes against lw (each visible to later writes within
// the same function, and to reads against the layer once pushed) and
// returns an error to abort the entire layer before it is ever pushed.
// A WriteFunc must be a pure function of its closed-over arguments: it
// is replayed verbatim, possibly many times, whenever a lower layer is
// removed or committed.
type WriteFunc func(lw *LayerWriter) error

type layer struct {
	mutationID string
	overlay    *entitystore.Overlay
	fn         WriteFunc
}

// Stack manages the ordered list of optimistic layers in front of a
// base store.
type Stack struct {
	log  *zap.Logger
	base *entitystore.Store

	mu     sync.Mutex
	layers []*layer
}

// NewStack constructs an empty optimistic stack over base.
func NewStack(log *zap.Logger, base *entitystore.Store) *Stack {
	return &Stack{log: cachelog.Named(log, "optimistic"), base: base}
}

// View returns the read surface a reader should use to see the store
// with every currently-active optimistic layer applied: the top
// layer's overlay if any layers are pushed (itself chained, through
// its parent field, all the way down to the base store), else the
// base store directly.
func (s *Stack) View() entitystore.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveViewLocked()
}

func (s *Stack) effectiveViewLocked() entitystore.View {
	if len(s.layers) == 0 {
		return s.base
	}
	return s.layers[len(s.layers)-1].overlay
}

// Depth reports the number of active layers.
func (s *Stack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.layers)
}

// Record runs fn against a fresh diff layered on top of the current
// stack and, if fn succeeds, pushes that diff as the new top layer
// under mutationID. It panics if mutationID already names an active
// layer: recording the same optimistic mutation id twice without
// removing or committing the first is a caller protocol violation, the
// same class of bug a duplicate slot acquisition is in the reference
// pool.
func (s *Stack) Record(mutationID string, fn WriteFunc) (map[cachevalue.EntityId]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.layers {
		if l.mutationID == mutationID {
			panic(fmt.Sprintf("optimistic: mutation id %q already holds a layer", mutationID))
		}
	}

	l, err := s.buildLayer(mutationID, fn, s.effectiveViewLocked())
	if err != nil {
		return nil, err
	}

	s.layers = append(s.layers, l)
	touched := l.overlay.Touched()
	s.log.Info("recorded optimistic layer",
		zap.String("mutation_id", mutationID),
		zap.Int("depth", len(s.layers)),
		zap.Int("touched", len(touched)),
	)
	return touched, nil
}

// Remove drops the layer named mutationID (the mutation was rejected,
// or is rolling back) and rebases every layer above it by replaying
// each one's WriteFunc, in original push order, against the new
// effective view. It is also the implementation of Commit: whether the
// caller is discarding the mutation or has already folded its
// authoritative result into the base store, the shape of the
// remaining stack's response is identical - drop the named layer,
// replay what was above it.
func (s *Stack) Remove(mutationID string) (map[cachevalue.EntityId]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, l := range s.layers {
		if l.mutationID == mutationID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, fmt.Errorf("%w: %q", cacheerr.ErrUnknownMutation, mutationID)
	}

	removed := s.layers[idx]
	above := s.layers[idx+1:]
	s.layers = s.layers[:idx]

	touched := removed.overlay.Touched()

	rebuilt := make([]*layer, 0, len(above))
	for _, old := range above {
		parent := s.effectiveViewWith(rebuilt)
		nl, err := s.buildLayer(old.mutationID, old.fn, parent)
		if err != nil {
			// A previously-successful WriteFunc failing on replay means
			// it was not actually pure, or depended on state only the
			// removed layer provided. Either way the layer cannot be
			// reconstructed; keep the layers rebuilt so far, drop this
			// one and every layer above it that has not been replayed
			// yet, and surface the failure to the caller.
			s.layers = append(s.layers, rebuilt...)
			return nil, fmt.Errorf("optimistic: rebase of mutation %q failed: %w", old.mutationID, err)
		}
		rebuilt = append(rebuilt, nl)
		for id := range nl.overlay.Touched() {
			touched[id] = struct{}{}
		}
	}

	s.layers = append(s.layers, rebuilt...)

	s.log.Info("removed optimistic layer and rebased layers above it",
		zap.String("mutation_id", mutationID),
		zap.Int("rebased", len(rebuilt)),
		zap.Int("depth", len(s.layers)),
	)
	return touched, nil
}

// Commit is Remove under another name: the caller has already written
// mutationID's authoritative result into the base store (via the
// non-optimistic write path) and is now promoting that result by
// discarding its speculative layer, exactly as Remove would for a
// rejected mutation. Layers above are rebased identically either way.
func (s *Stack) Commit(mutationID string) (map[cachevalue.EntityId]struct{}, error) {
	return s.Remove(mutationID)
}

func (s *Stack) buildLayer(mutationID string, fn WriteFunc, parent entitystore.View) (*layer, error) {
	overlay := entitystore.NewOverlay(parent)
	merger := reconcile.New(s.log, overlay)
	w := writer.New(s.log, overlay, merger)
	lw := &LayerWriter{w: w}

	if err := fn(lw); err != nil {
		return nil, err
	}

	return &layer{mutationID: mutationID, overlay: overlay, fn: fn}, nil
}

// effectiveViewWith mirrors effectiveViewLocked but against a
// not-yet-installed candidate layer list, used while rebasing.
func (s *Stack) effectiveViewWith(built []*layer) entitystore.View {
	if len(built) == 0 {
		if len(s.layers) == 0 {
			return s.base
		}
		return s.layers[len(s.layers)-1].overlay
	}
	return built[len(built)-1].overlay
}
