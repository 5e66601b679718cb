// Package cachevalue defines the StoreValue taxonomy: the closed set of
// shapes a field-key slot in an entity can hold. Modeled as a
// discriminated union over a single struct (unexported fields, a Kind
// tag, exported constructors/accessors) rather than an interface
// hierarchy, generalizing the tri-state set/null/value pattern of
// pkg/jsonx.Field[T] in the reference repository to the four-way
// Scalar/JsonBlob/Reference/ReferenceList variant this spec requires.
package cachevalue

import "fmt"

// EntityId is a string key into the store. Synthetic ids begin with "$".
type EntityId string

// IsSynthetic reports whether id was generated by the writer rather
// than supplied by the caller's identify callback.
func (id EntityId) IsSynthetic() bool {
	return len(id) > 0 && id[0] == '$'
}

// Kind discriminates the members of a StoreValue.
type Kind int

const (
	// KindScalar holds a JSON-primitive-shaped value inline: nil, bool,
	// number, string, or []string.
	KindScalar Kind = iota
	// KindJsonBlob holds an opaque object/array value whose selection
	// set was empty at the query site.
	KindJsonBlob
	// KindReference points at another entity by id, or is an explicit
	// null (Null=true) when the field's value was null in the response.
	KindReference
	// KindReferenceList holds a (possibly ragged, possibly null-holed)
	// list of StoreValue, each itself Scalar-less: Reference, null, or
	// nested ReferenceList.
	KindReferenceList
)

// StoreValue is the tagged variant stored at (EntityId, fieldKey).
type StoreValue struct {
	kind Kind

	scalar any // valid when kind == KindScalar
	blob   any // valid when kind == KindJsonBlob

	refID        EntityId // valid when kind == KindReference && !refNull
	refGenerated bool     // valid when kind == KindReference && !refNull
	refNull      bool     // valid when kind == KindReference

	list []StoreValue // valid when kind == KindReferenceList
}

// Kind reports the variant tag.
func (v StoreValue) Kind() Kind { return v.kind }

// Scalar constructs a KindScalar value.
func Scalar(v any) StoreValue {
	return StoreValue{kind: KindScalar, scalar: v}
}

// JsonBlob constructs a KindJsonBlob value.
func JsonBlob(v any) StoreValue {
	return StoreValue{kind: KindJsonBlob, blob: v}
}

// Reference constructs a non-null KindReference value.
func Reference(id EntityId, generated bool) StoreValue {
	return StoreValue{kind: KindReference, refID: id, refGenerated: generated}
}

// NullReference constructs an explicit-null KindReference value: the
// field has a sub-selection but the response value at that field was
// null.
func NullReference() StoreValue {
	return StoreValue{kind: KindReference, refNull: true}
}

// ReferenceList constructs a KindReferenceList value. Each element must
// be KindReference (possibly null, via NullReference) or itself
// KindReferenceList (for nested lists); any other element kind is a
// programmer error, since the writer is the only caller and always
// respects this contract.
func ReferenceList(elems []StoreValue) StoreValue {
	for _, e := range elems {
		if e.kind != KindReference && e.kind != KindReferenceList {
			panic(fmt.Sprintf("cachevalue: ReferenceList element has invalid kind %d", e.kind))
		}
	}
	return StoreValue{kind: KindReferenceList, list: elems}
}

// AsScalar returns the scalar payload. Panics if Kind() != KindScalar.
func (v StoreValue) AsScalar() any {
	if v.kind != KindScalar {
		panic("cachevalue: AsScalar on non-scalar value")
	}
	return v.scalar
}

// AsJsonBlob returns the blob payload. Panics if Kind() != KindJsonBlob.
func (v StoreValue) AsJsonBlob() any {
	if v.kind != KindJsonBlob {
		panic("cachevalue: AsJsonBlob on non-blob value")
	}
	return v.blob
}

// AsReference returns (id, generated, isNull). Panics if Kind() != KindReference.
func (v StoreValue) AsReference() (id EntityId, generated bool, isNull bool) {
	if v.kind != KindReference {
		panic("cachevalue: AsReference on non-reference value")
	}
	return v.refID, v.refGenerated, v.refNull
}

// AsReferenceList returns the element list. Panics if Kind() != KindReferenceList.
func (v StoreValue) AsReferenceList() []StoreValue {
	if v.kind != KindReferenceList {
		panic("cachevalue: AsReferenceList on non-list value")
	}
	return v.list
}

// Equal reports whether two StoreValues are indistinguishable for the
// purposes of I5 (writing the same value twice is a no-op). Scalars and
// blobs are compared by deep equality of their decoded-JSON shape;
// references by id/generated/null; lists element-wise.
func Equal(a, b StoreValue) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindScalar:
		return deepEqual(a.scalar, b.scalar)
	case KindJsonBlob:
		return deepEqual(a.blob, b.blob)
	case KindReference:
		if a.refNull != b.refNull {
			return false
		}
		if a.refNull {
			return true
		}
		return a.refID == b.refID && a.refGenerated == b.refGenerated
	case KindReferenceList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// deepEqual compares two decoded-JSON values (nil, bool, string, number,
// []any, map[string]any) structurally.
func deepEqual(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !deepEqual(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case []string:
		bv, ok := b.([]string)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
