package cache

import (
	"testing"

	"github.com/apollostack/gqlcache/internal/gqlast"
)

func field(name string, sub *gqlast.SelectionSet) gqlast.Selection {
	return gqlast.Selection{Kind: gqlast.KindField, Field: &gqlast.Field{Name: name, SubSelection: sub}}
}

func ss(sels ...gqlast.Selection) *gqlast.SelectionSet {
	return &gqlast.SelectionSet{Selections: sels}
}

func identifyByTypenameAndID(v map[string]any) (string, bool) {
	tn, ok := v["__typename"].(string)
	if !ok {
		return "", false
	}
	id, ok := v["id"].(string)
	if !ok {
		return "", false
	}
	return tn + id, true
}

func todoQuery() *gqlast.SelectionSet {
	return ss(field("todo", ss(
		field("id", nil),
		field("text", nil),
		field("done", nil),
	)))
}

func TestWriteThenRead(t *testing.T) {
	c := New(Options{FlushMode: FlushSync})

	result := map[string]any{
		"todo": map[string]any{"__typename": "Todo", "id": "1", "text": "milk", "done": false},
	}
	if err := c.Write(todoQuery(), result, "", nil, identifyByTypenameAndID, nil); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, missing, err := c.Read(todoQuery(), "", nil, nil)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("expected no missing fields, got %v", missing)
	}
	todo, ok := data["todo"].(map[string]any)
	if !ok || todo["text"] != "milk" {
		t.Fatalf("got %#v", data)
	}
}

func TestWatchFiresOnSubsequentWrite(t *testing.T) {
	c := New(Options{FlushMode: FlushSync})

	result := map[string]any{
		"todo": map[string]any{"__typename": "Todo", "id": "1", "text": "milk", "done": false},
	}
	if err := c.Write(todoQuery(), result, "", nil, identifyByTypenameAndID, nil); err != nil {
		t.Fatal(err)
	}

	var calls int
	var lastDone any
	unsubscribe := c.Watch(todoQuery(), "", nil, nil, func(data map[string]any, missing []string) {
		calls++
		if todo, ok := data["todo"].(map[string]any); ok {
			lastDone = todo["done"]
		}
	})
	defer unsubscribe()

	if calls != 1 {
		t.Fatalf("expected Watch to fire once immediately, got %d", calls)
	}

	updated := map[string]any{
		"todo": map[string]any{"__typename": "Todo", "id": "1", "text": "milk", "done": true},
	}
	if err := c.Write(todoQuery(), updated, "", nil, identifyByTypenameAndID, nil); err != nil {
		t.Fatal(err)
	}

	if calls != 2 {
		t.Fatalf("expected Watch to fire again after a dependent write, got %d calls", calls)
	}
	if lastDone != true {
		t.Errorf("expected watcher to observe the updated value, got %v", lastDone)
	}
}

func TestWatchUnsubscribeStopsFiring(t *testing.T) {
	c := New(Options{FlushMode: FlushSync})
	result := map[string]any{
		"todo": map[string]any{"__typename": "Todo", "id": "1", "text": "milk", "done": false},
	}
	if err := c.Write(todoQuery(), result, "", nil, identifyByTypenameAndID, nil); err != nil {
		t.Fatal(err)
	}

	calls := 0
	unsubscribe := c.Watch(todoQuery(), "", nil, nil, func(data map[string]any, missing []string) {
		calls++
	})
	unsubscribe()

	updated := map[string]any{
		"todo": map[string]any{"__typename": "Todo", "id": "1", "text": "milk", "done": true},
	}
	if err := c.Write(todoQuery(), updated, "", nil, identifyByTypenameAndID, nil); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("expected no further fires after unsubscribe, got %d total calls", calls)
	}
}

func TestOptimisticRecordIsVisibleThenCommitted(t *testing.T) {
	c := New(Options{FlushMode: FlushSync})
	result := map[string]any{
		"todo": map[string]any{"__typename": "Todo", "id": "1", "text": "milk", "done": false},
	}
	if err := c.Write(todoQuery(), result, "", nil, identifyByTypenameAndID, nil); err != nil {
		t.Fatal(err)
	}

	err := c.RecordOptimistic("toggle-1", func(lw *OptimisticWriter) error {
		return lw.Write(ss(field("todo", ss(field("done", nil)))),
			map[string]any{"todo": map[string]any{"__typename": "Todo", "id": "1", "done": true}}, "ROOT_QUERY", nil, identifyByTypenameAndID, nil)
	})
	if err != nil {
		t.Fatalf("RecordOptimistic failed: %v", err)
	}

	data, _, err := c.Read(todoQuery(), "", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	todo := data["todo"].(map[string]any)
	if todo["done"] != true {
		t.Fatal("expected the optimistic write to be visible to Read before commit")
	}

	authoritative := map[string]any{
		"todo": map[string]any{"__typename": "Todo", "id": "1", "text": "milk", "done": true},
	}
	if err := c.Write(todoQuery(), authoritative, "", nil, identifyByTypenameAndID, nil); err != nil {
		t.Fatal(err)
	}
	if err := c.CommitOptimistic("toggle-1"); err != nil {
		t.Fatalf("CommitOptimistic failed: %v", err)
	}

	data, _, err = c.Read(todoQuery(), "", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	todo = data["todo"].(map[string]any)
	if todo["done"] != true {
		t.Fatal("expected the authoritative value to persist after commit")
	}
}

func TestOptimisticRemoveRollsBack(t *testing.T) {
	c := New(Options{FlushMode: FlushSync})
	result := map[string]any{
		"todo": map[string]any{"__typename": "Todo", "id": "1", "text": "milk", "done": false},
	}
	if err := c.Write(todoQuery(), result, "", nil, identifyByTypenameAndID, nil); err != nil {
		t.Fatal(err)
	}

	err := c.RecordOptimistic("toggle-1", func(lw *OptimisticWriter) error {
		return lw.Write(ss(field("todo", ss(field("done", nil)))),
			map[string]any{"todo": map[string]any{"__typename": "Todo", "id": "1", "done": true}}, "ROOT_QUERY", nil, identifyByTypenameAndID, nil)
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.RemoveOptimistic("toggle-1"); err != nil {
		t.Fatalf("RemoveOptimistic failed: %v", err)
	}

	data, _, err := c.Read(todoQuery(), "", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	todo := data["todo"].(map[string]any)
	if todo["done"] != false {
		t.Error("expected the rolled-back view to show the original, pre-optimistic value")
	}
}

func TestExtractRestoreRoundTrip(t *testing.T) {
	c := New(Options{FlushMode: FlushSync})
	result := map[string]any{
		"todo": map[string]any{"__typename": "Todo", "id": "1", "text": "milk", "done": false},
	}
	if err := c.Write(todoQuery(), result, "", nil, identifyByTypenameAndID, nil); err != nil {
		t.Fatal(err)
	}

	snap, err := c.Extract(false)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	c2 := New(Options{FlushMode: FlushSync})
	if err := c2.Restore(snap); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	data, _, err := c2.Read(todoQuery(), "", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	todo := data["todo"].(map[string]any)
	if todo["text"] != "milk" {
		t.Errorf("got %#v after restore", data)
	}
}

func TestRestoreRejectedWhileOptimisticLayerActive(t *testing.T) {
	c := New(Options{FlushMode: FlushSync})
	if err := c.RecordOptimistic("m1", func(lw *OptimisticWriter) error { return nil }); err != nil {
		t.Fatal(err)
	}

	if err := c.Restore(nil); err == nil {
		t.Fatal("expected Restore to be rejected while an optimistic layer is active")
	}
}

func TestResetAndSize(t *testing.T) {
	c := New(Options{FlushMode: FlushSync})
	result := map[string]any{
		"todo": map[string]any{"__typename": "Todo", "id": "1", "text": "milk", "done": false},
	}
	if err := c.Write(todoQuery(), result, "", nil, identifyByTypenameAndID, nil); err != nil {
		t.Fatal(err)
	}
	if c.Size() == 0 {
		t.Fatal("expected Size() > 0 after a write")
	}
	c.Reset()
	if c.Size() != 0 {
		t.Errorf("Size() after Reset = %d, want 0", c.Size())
	}
}

func TestGCPreservesEntitiesReachableFromRoot(t *testing.T) {
	c := New(Options{FlushMode: FlushSync})
	result := map[string]any{
		"todo": map[string]any{"__typename": "Todo", "id": "1", "text": "milk", "done": false},
	}
	if err := c.Write(todoQuery(), result, "", nil, identifyByTypenameAndID, nil); err != nil {
		t.Fatal(err)
	}

	sizeBefore := c.Size()
	c.GC([]EntityId{"ROOT_QUERY"})
	if c.Size() != sizeBefore {
		t.Errorf("expected GC to keep Todo1 (reachable from ROOT_QUERY.todo), size went from %d to %d", sizeBefore, c.Size())
	}
}

func TestGCRemovesUnreachableEntities(t *testing.T) {
	c := New(Options{FlushMode: FlushSync})
	result := map[string]any{
		"todo": map[string]any{"__typename": "Todo", "id": "1", "text": "milk", "done": false},
	}
	if err := c.Write(todoQuery(), result, "", nil, identifyByTypenameAndID, nil); err != nil {
		t.Fatal(err)
	}

	// WriteFragment stores an entity directly, with nothing in the base
	// store pointing at it - it is not reachable from ROOT_QUERY or any
	// other retained root.
	fragment := ss(field("id", nil), field("text", nil), field("done", nil))
	if err := c.WriteFragment("Todo2", fragment, map[string]any{
		"__typename": "Todo", "id": "2", "text": "eggs", "done": false,
	}, nil, identifyByTypenameAndID, nil); err != nil {
		t.Fatal(err)
	}

	sizeBefore := c.Size()
	c.GC([]EntityId{"ROOT_QUERY"})
	if c.Size() != sizeBefore-1 {
		t.Errorf("expected GC to remove the unreachable Todo2 entity, size went from %d to %d", sizeBefore, c.Size())
	}
}
