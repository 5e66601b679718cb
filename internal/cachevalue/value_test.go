package cachevalue

import "testing"

func TestScalarAccessors(t *testing.T) {
	v := Scalar("hi")
	if v.Kind() != KindScalar {
		t.Fatalf("Kind() = %v, want KindScalar", v.Kind())
	}
	if got := v.AsScalar(); got != "hi" {
		t.Errorf("AsScalar() = %v, want %q", got, "hi")
	}
}

func TestReferenceAccessors(t *testing.T) {
	v := Reference("User1", true)
	id, generated, isNull := v.AsReference()
	if id != "User1" || !generated || isNull {
		t.Errorf("AsReference() = (%v, %v, %v), want (User1, true, false)", id, generated, isNull)
	}
}

func TestNullReference(t *testing.T) {
	v := NullReference()
	_, _, isNull := v.AsReference()
	if !isNull {
		t.Error("expected NullReference to report isNull = true")
	}
}

func TestReferenceListRejectsInvalidElement(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic building a ReferenceList with a Scalar element")
		}
	}()
	ReferenceList([]StoreValue{Scalar(1)})
}

func TestAccessorPanicsOnWrongKind(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic calling AsReference on a Scalar value")
		}
	}()
	Scalar(1).AsReference()
}

func TestIsSynthetic(t *testing.T) {
	if !EntityId("$ROOT_QUERY.user").IsSynthetic() {
		t.Error("expected $-prefixed id to be synthetic")
	}
	if EntityId("User1").IsSynthetic() {
		t.Error("expected real id to not be synthetic")
	}
	if EntityId("").IsSynthetic() {
		t.Error("expected empty id to not be synthetic")
	}
}

func TestEqualScalars(t *testing.T) {
	if !Equal(Scalar(1), Scalar(1)) {
		t.Error("expected equal scalars to compare equal")
	}
	if Equal(Scalar(1), Scalar(2)) {
		t.Error("expected different scalars to compare unequal")
	}
	if Equal(Scalar(1), JsonBlob(1)) {
		t.Error("expected different kinds to compare unequal even with equal payload")
	}
}

func TestEqualReferences(t *testing.T) {
	if !Equal(Reference("A", false), Reference("A", false)) {
		t.Error("expected identical references to compare equal")
	}
	if Equal(Reference("A", false), Reference("A", true)) {
		t.Error("expected references differing only in generated to compare unequal")
	}
	if !Equal(NullReference(), NullReference()) {
		t.Error("expected two null references to compare equal")
	}
}

func TestEqualReferenceLists(t *testing.T) {
	a := ReferenceList([]StoreValue{Reference("A", false), NullReference()})
	b := ReferenceList([]StoreValue{Reference("A", false), NullReference()})
	c := ReferenceList([]StoreValue{Reference("A", false)})

	if !Equal(a, b) {
		t.Error("expected identical reference lists to compare equal")
	}
	if Equal(a, c) {
		t.Error("expected lists of different length to compare unequal")
	}
}

func TestEqualDeepJSONShapes(t *testing.T) {
	a := JsonBlob(map[string]any{"a": 1, "b": []any{1, 2}})
	b := JsonBlob(map[string]any{"b": []any{1, 2}, "a": 1})
	if !Equal(a, b) {
		t.Error("expected structurally identical blobs to compare equal regardless of key insertion order")
	}
}

func TestEqualStringSlices(t *testing.T) {
	if !Equal(Scalar([]string{"a", "b"}), Scalar([]string{"a", "b"})) {
		t.Error("expected identical []string scalars to compare equal")
	}
	if Equal(Scalar([]string{"a", "b"}), Scalar([]string{"a", "c"})) {
		t.Error("expected different []string scalars to compare unequal")
	}
}
