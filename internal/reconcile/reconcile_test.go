package reconcile

import (
	"testing"

	"github.com/apollostack/gqlcache/internal/cachevalue"
	"github.com/apollostack/gqlcache/internal/entitystore"
)

func TestMergeAbsorbsSyntheticIntoReal(t *testing.T) {
	store := entitystore.New(nil)
	store.Set("$ROOT_QUERY.user", entitystore.Entity{
		"name": cachevalue.Scalar("Ada"),
		"age":  cachevalue.Scalar(30),
	})
	store.Set("User42", entitystore.Entity{
		"name": cachevalue.Scalar("Ada Lovelace"),
	})

	m := New(nil, store)
	touched := m.Merge("$ROOT_QUERY.user", "User42")

	if store.Has("$ROOT_QUERY.user") {
		t.Error("expected synthetic id to be deleted after merge")
	}
	merged, ok := store.Get("User42")
	if !ok {
		t.Fatal("expected User42 to be present after merge")
	}
	if got := merged["name"].AsScalar(); got != "Ada Lovelace" {
		t.Errorf("expected new-id value to win on collision, got %v", got)
	}
	if got := merged["age"].AsScalar(); got != 30 {
		t.Errorf("expected old-only field to carry across, got %v", got)
	}

	for _, want := range []cachevalue.EntityId{"$ROOT_QUERY.user", "User42"} {
		if _, ok := touched[want]; !ok {
			t.Errorf("expected %s in the returned touched set, got %v", want, touched)
		}
	}
}

func TestMergeNoOpWhenIdsEqual(t *testing.T) {
	store := entitystore.New(nil)
	store.Set("User42", entitystore.Entity{"name": cachevalue.Scalar("Ada")})

	m := New(nil, store)
	touched := m.Merge("User42", "User42")

	if !store.Has("User42") {
		t.Error("expected Merge(id, id) to be a no-op, not delete the entity")
	}
	if len(touched) != 0 {
		t.Errorf("expected an empty touched set for a no-op merge, got %v", touched)
	}
}

func TestMergeNoOpWhenOldAbsent(t *testing.T) {
	store := entitystore.New(nil)
	store.Set("User42", entitystore.Entity{"name": cachevalue.Scalar("Ada")})

	m := New(nil, store)
	touched := m.Merge("$missing", "User42")

	e, _ := store.Get("User42")
	if e["name"].AsScalar() != "Ada" {
		t.Error("expected merge from an absent old id to leave the new entity untouched")
	}
	if len(touched) != 0 {
		t.Errorf("expected an empty touched set when the old id is absent, got %v", touched)
	}
}

func TestMergeRecursesIntoNestedSyntheticReference(t *testing.T) {
	store := entitystore.New(nil)
	store.Set("$ROOT_QUERY.user", entitystore.Entity{
		"address": cachevalue.Reference("$ROOT_QUERY.user.address", true),
	})
	store.Set("$ROOT_QUERY.user.address", entitystore.Entity{
		"city": cachevalue.Scalar("Boston"),
	})
	store.Set("User42", entitystore.Entity{
		"address": cachevalue.Reference("Address1", false),
	})
	store.Set("Address1", entitystore.Entity{
		"city": cachevalue.Scalar("Cambridge"),
	})

	m := New(nil, store)
	touched := m.Merge("$ROOT_QUERY.user", "User42")

	if store.Has("$ROOT_QUERY.user.address") {
		t.Error("expected nested synthetic address entity to be absorbed too")
	}
	addr, ok := store.Get("Address1")
	if !ok {
		t.Fatal("expected Address1 to still exist")
	}
	if got := addr["city"].AsScalar(); got != "Cambridge" {
		t.Errorf("expected real-id nested entity's own fields to win, got %v", got)
	}

	for _, want := range []cachevalue.EntityId{"$ROOT_QUERY.user", "User42", "$ROOT_QUERY.user.address", "Address1"} {
		if _, ok := touched[want]; !ok {
			t.Errorf("expected %s in the returned touched set from a nested merge, got %v", want, touched)
		}
	}
}

func TestMergeRecursesIntoReferenceList(t *testing.T) {
	store := entitystore.New(nil)
	store.Set("$parent", entitystore.Entity{
		"items": cachevalue.ReferenceList([]cachevalue.StoreValue{
			cachevalue.Reference("$parent.items.0", true),
		}),
	})
	store.Set("$parent.items.0", entitystore.Entity{"name": cachevalue.Scalar("old")})
	store.Set("Real1", entitystore.Entity{
		"items": cachevalue.ReferenceList([]cachevalue.StoreValue{
			cachevalue.Reference("Item1", false),
		}),
	})
	store.Set("Item1", entitystore.Entity{"name": cachevalue.Scalar("new")})

	m := New(nil, store)
	m.Merge("$parent", "Real1")

	if store.Has("$parent.items.0") {
		t.Error("expected synthetic list-element entity to be absorbed")
	}
}
