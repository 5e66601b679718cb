// Package cache is the public facade: it wires the store, writer,
// reader, reconciler, optimistic stack and watch broadcaster into the
// single entry point external callers use.
//
// Grounded on redis.Repository / repo.Repository in the reference
// repository's aggregate-constructor pattern: one struct holding the
// shared dependencies (here a *zap.Logger and an *entitystore.Store)
// plus the sub-components built from them, assembled once in a single
// constructor.
package cache

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/apollostack/gqlcache/internal/cachelog"
	"github.com/apollostack/gqlcache/internal/cachevalue"
	"github.com/apollostack/gqlcache/internal/entitystore"
	"github.com/apollostack/gqlcache/internal/gqlast"
	"github.com/apollostack/gqlcache/internal/optimistic"
	"github.com/apollostack/gqlcache/internal/reader"
	"github.com/apollostack/gqlcache/internal/reconcile"
	"github.com/apollostack/gqlcache/internal/snapshot"
	"github.com/apollostack/gqlcache/internal/watch"
	"github.com/apollostack/gqlcache/internal/writer"

	"github.com/google/uuid"
)

// RootQuery is the default start id Write/Read operate from when the
// caller passes "".
const RootQuery cachevalue.EntityId = "ROOT_QUERY"

// EntityId re-exports cachevalue.EntityId at the package boundary so
// callers never need to import internal/cachevalue themselves.
type EntityId = cachevalue.EntityId

// IdentifyFunc re-exports writer.IdentifyFunc.
type IdentifyFunc = writer.IdentifyFunc

// OptimisticWriter is the handle an OptimisticWriteFunc uses to issue
// writes into its own speculative layer.
type OptimisticWriter = optimistic.LayerWriter

// OptimisticWriteFunc re-exports optimistic.WriteFunc.
type OptimisticWriteFunc = optimistic.WriteFunc

// WatchFunc is invoked once immediately on Watch and again every time a
// subsequent write changes something the watched selection set depends
// on. missing mirrors Read's missing-paths output.
type WatchFunc func(data map[string]any, missing []string)

// FlushMode controls whether a write's watcher notification happens
// inline (FlushSync) or is dispatched to its own goroutine
// (FlushAsync), matching SummaryService's synchronous-refresh-under-
// singleflight shape either inline or off the caller's goroutine.
type FlushMode int

const (
	// FlushAsync dispatches the coalesced flush on its own goroutine;
	// Write/Commit/Remove return as soon as the store update is visible,
	// without waiting for watcher callbacks to run. This is the default:
	// callbacks are caller-supplied and should not be able to make a
	// write block for longer than it takes to mutate the store.
	FlushAsync FlushMode = iota
	// FlushSync runs the flush inline before the triggering call
	// returns, useful for tests and single-threaded driver programs that
	// want deterministic before/after-write behavior.
	FlushSync
)

// Options configures a Cache. Mirrors the reference repository's
// SummaryOptions/LocalAddrListerOptions shape: a plain struct with a
// setDefaults method, no functional options, no config file.
type Options struct {
	// Logger receives all structured log output. Defaults to a no-op
	// logger if nil.
	Logger *zap.Logger
	// FlushMode controls watcher-notification dispatch. Defaults to
	// FlushAsync.
	FlushMode FlushMode
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Cache is a normalized GraphQL result store with optimistic mutation
// support. The zero value is not usable; construct with New.
type Cache struct {
	log *zap.Logger

	store  *entitystore.Store
	writer *writer.Writer
	merger *reconcile.Merger

	stack       *optimistic.Stack
	broadcaster *watch.Broadcaster

	flushMode FlushMode
}

// New constructs a ready-to-use Cache.
func New(opts Options) *Cache {
	opts.setDefaults()
	log := cachelog.Named(opts.Logger, "cache")

	store := entitystore.New(log)
	merger := reconcile.New(log, store)
	w := writer.New(log, store, merger)

	return &Cache{
		log:         log,
		store:       store,
		writer:      w,
		merger:      merger,
		stack:       optimistic.NewStack(log, store),
		broadcaster: watch.NewBroadcaster(log),
		flushMode:   opts.FlushMode,
	}
}

func defaultStart(id cachevalue.EntityId) cachevalue.EntityId {
	if id == "" {
		return RootQuery
	}
	return id
}

// Write normalizes result against ss into the durable base store,
// starting at startID (RootQuery if empty).
func (c *Cache) Write(
	ss *gqlast.SelectionSet,
	result map[string]any,
	startID EntityId,
	variables map[string]any,
	identify IdentifyFunc,
	fragments gqlast.FragmentMap,
) error {
	touched, err := c.writer.Write(ss, result, defaultStart(startID), variables, identify, fragments)
	if err != nil {
		return err
	}
	c.dispatchFlush(touched)
	return nil
}

// WriteFragment normalizes data as a fragment write rooted directly at
// id (no parent selection to resolve identity through - id is already
// known).
func (c *Cache) WriteFragment(
	id EntityId,
	frag *gqlast.SelectionSet,
	data map[string]any,
	variables map[string]any,
	identify IdentifyFunc,
	fragments gqlast.FragmentMap,
) error {
	touched, err := c.writer.Write(frag, data, id, variables, identify, fragments)
	if err != nil {
		return err
	}
	c.dispatchFlush(touched)
	return nil
}

// Read denormalizes ss starting at startID against the
// optimistic-resolved view (base store plus every active optimistic
// layer): this is what makes an optimistic mutation visible to readers
// immediately, before it is ever committed or rolled back.
func (c *Cache) Read(
	ss *gqlast.SelectionSet,
	startID EntityId,
	variables map[string]any,
	fragments gqlast.FragmentMap,
) (data map[string]any, missing []string, err error) {
	res, err := c.read(ss, defaultStart(startID), variables, fragments)
	if err != nil {
		return nil, nil, err
	}
	return res.Data, res.Missing, nil
}

// ReadFragment denormalizes frag starting directly at id.
func (c *Cache) ReadFragment(
	id EntityId,
	frag *gqlast.SelectionSet,
	variables map[string]any,
	fragments gqlast.FragmentMap,
) (data map[string]any, missing []string, err error) {
	return c.Read(frag, id, variables, fragments)
}

func (c *Cache) read(
	ss *gqlast.SelectionSet,
	startID EntityId,
	variables map[string]any,
	fragments gqlast.FragmentMap,
) (reader.Result, error) {
	r := reader.New(c.log, c.stack.View())
	return r.Read(ss, startID, variables, fragments)
}

// Watch registers cb against ss's dependency set and fires it once
// immediately with the current read, then again every time a
// subsequent write or optimistic layer change touches an entity the
// read depended on. The returned function unsubscribes.
func (c *Cache) Watch(
	ss *gqlast.SelectionSet,
	startID EntityId,
	variables map[string]any,
	fragments gqlast.FragmentMap,
	cb WatchFunc,
) (unsubscribe func()) {
	startID = defaultStart(startID)
	id := uuid.NewString()

	res, err := c.read(ss, startID, variables, fragments)
	if err != nil {
		c.log.Warn("initial watch read failed", zap.Error(err))
	} else {
		cb(res.Data, res.Missing)
	}

	c.broadcaster.Register(id, touchedIds(res.Touched), func(dirty []cachevalue.EntityId) {
		next, err := c.read(ss, startID, variables, fragments)
		if err != nil {
			c.log.Warn("watch re-read failed", zap.Error(err))
			return
		}
		cb(next.Data, next.Missing)
		c.broadcaster.Update(id, touchedIds(next.Touched))
	})

	return func() { c.broadcaster.Unregister(id) }
}

// RecordOptimistic pushes a new speculative layer built by replaying
// writeFn against the current optimistic-resolved view. mutationID
// must not already name an active layer.
func (c *Cache) RecordOptimistic(mutationID string, writeFn OptimisticWriteFunc) error {
	touched, err := c.stack.Record(mutationID, writeFn)
	if err != nil {
		return err
	}
	c.dispatchFlush(touched)
	return nil
}

// RemoveOptimistic discards mutationID's layer (the mutation was
// rejected or is rolling back) and rebases everything layered above it.
func (c *Cache) RemoveOptimistic(mutationID string) error {
	touched, err := c.stack.Remove(mutationID)
	if err != nil {
		return err
	}
	c.dispatchFlush(touched)
	return nil
}

// CommitOptimistic discards mutationID's speculative layer once its
// authoritative result has been folded into the base store via Write,
// rebasing everything layered above it exactly as RemoveOptimistic
// would.
func (c *Cache) CommitOptimistic(mutationID string) error {
	touched, err := c.stack.Commit(mutationID)
	if err != nil {
		return err
	}
	c.dispatchFlush(touched)
	return nil
}

// Extract serializes the cache's current state: the durable base store
// alone if includeOptimistic is false, or the optimistic-resolved view
// (base plus every active layer) if true.
func (c *Cache) Extract(includeOptimistic bool) (snapshot.Snapshot, error) {
	view := entitystore.View(c.store)
	if includeOptimistic {
		view = c.stack.View()
	}
	return snapshot.Extract(view)
}

// Restore replaces the base store's entire contents with snap: a cold
// start, not a merge, so any entity present before Restore but absent
// from snap does not survive. Restoring while optimistic layers are
// active is not supported: a restored base would silently change what
// every active layer's parent view resolves to beneath it, defeating
// the point of recording a layer against a known base.
func (c *Cache) Restore(snap snapshot.Snapshot) error {
	if c.stack.Depth() > 0 {
		return fmt.Errorf("cache: cannot Restore while %d optimistic layer(s) are active", c.stack.Depth())
	}
	return snapshot.Restore(c.store, snap)
}

// Reset discards every entity in the base store. Active optimistic
// layers are not cleared by Reset; call RemoveOptimistic for each
// first if a full reset is intended.
func (c *Cache) Reset() {
	c.store.Reset()
}

// Size returns the number of entities in the durable base store
// (optimistic layers are not counted).
func (c *Cache) Size() int {
	return c.store.Size()
}

// GC removes every base-store entity not reachable from RootQuery or
// retain: the one host-driven eviction surface this cache exposes
// (there is no automatic garbage collection). Reachability is computed
// by a mark phase that walks every Reference/ReferenceList field
// starting from the roots, so an entity is swept only if nothing live
// still points to it, directly or transitively. retain is typically
// the set of ids a host's currently-mounted views still reference.
func (c *Cache) GC(retain []EntityId) {
	all := c.store.Snapshot()

	roots := make([]cachevalue.EntityId, 0, len(retain)+1)
	roots = append(roots, RootQuery)
	roots = append(roots, retain...)

	reachable := make(map[cachevalue.EntityId]struct{}, len(all))
	queue := make([]cachevalue.EntityId, 0, len(roots))
	for _, id := range roots {
		if _, ok := reachable[id]; ok {
			continue
		}
		reachable[id] = struct{}{}
		queue = append(queue, id)
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		entity, ok := all[id]
		if !ok {
			continue
		}
		for _, v := range entity {
			for _, ref := range referencedIds(v) {
				if _, seen := reachable[ref]; seen {
					continue
				}
				reachable[ref] = struct{}{}
				queue = append(queue, ref)
			}
		}
	}

	removed := 0
	for id := range all {
		if _, ok := reachable[id]; !ok {
			c.store.Delete(id)
			removed++
		}
	}
	c.log.Info("gc complete", zap.Int("entities_removed", removed), zap.Int("entities_reachable", len(reachable)))
}

// referencedIds returns the entity ids v points at, if v is a
// Reference or ReferenceList (a null reference or any other kind
// yields none).
func referencedIds(v cachevalue.StoreValue) []cachevalue.EntityId {
	switch v.Kind() {
	case cachevalue.KindReference:
		id, _, isNull := v.AsReference()
		if isNull {
			return nil
		}
		return []cachevalue.EntityId{id}
	case cachevalue.KindReferenceList:
		list := v.AsReferenceList()
		out := make([]cachevalue.EntityId, 0, len(list))
		for _, elem := range list {
			out = append(out, referencedIds(elem)...)
		}
		return out
	default:
		return nil
	}
}

func (c *Cache) dispatchFlush(touched map[cachevalue.EntityId]struct{}) {
	if len(touched) == 0 {
		return
	}
	if c.flushMode == FlushSync {
		c.broadcaster.NotifyTouched(touched)
		return
	}
	go c.broadcaster.NotifyTouched(touched)
}

func touchedIds(touched map[cachevalue.EntityId]struct{}) []cachevalue.EntityId {
	out := make([]cachevalue.EntityId, 0, len(touched))
	for id := range touched {
		out = append(out, id)
	}
	return out
}
