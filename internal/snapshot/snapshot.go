// Package snapshot implements the Extract/Restore wire codec (SPEC_FULL
// §6): a JSON object `{ [entityId]: { [fieldKey]: StoreValue } }`, with
// StoreValue serialized by kind (Reference as
// `{"type":"id","id":...,"generated":...}`, JsonBlob as
// `{"type":"json","json":...}`, Scalar/null as the bare value).
//
// Grounded on pkg/jsonx.ParseJSONObject in the reference repository for
// the "decode with DisallowUnknownFields, surface encoding/json's error
// verbatim" discipline, and on pkg/jsonx.Field[T]'s hand-written
// UnmarshalJSON for the "small custom (de)serializer over a tagged
// value, not a generic codegen layer" shape.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/apollostack/gqlcache/internal/cachevalue"
	"github.com/apollostack/gqlcache/internal/entitystore"
)

// Snapshot is the serialized wire form produced by Extract and consumed
// by Restore.
type Snapshot []byte

const (
	wireTypeID   = "id"
	wireTypeJSON = "json"
)

// wireRef's ID is a pointer so an explicit-null reference serializes as
// {"type":"id","id":null,"generated":false} rather than a bare JSON
// null - which would be indistinguishable on decode from a null
// Scalar, since the taxonomy allows both Scalar and Reference to carry
// a null value and the wire form carries no selection-set context to
// disambiguate by.
type wireRef struct {
	Type      string               `json:"type"`
	ID        *cachevalue.EntityId `json:"id"`
	Generated bool                 `json:"generated"`
}

type wireBlob struct {
	Type string `json:"type"`
	JSON any    `json:"json"`
}

// Extract serializes view's full materialized state. Object keys (both
// entity ids and field keys within an entity) are emitted in sorted
// order: the spec calls for a stable, implementation-independent wire
// form, and sorting - already the convention internal/canonjson
// established for field-key argument encoding - gives that without
// threading write-insertion-order tracking through the store.
func Extract(view entitystore.View) (Snapshot, error) {
	entities := view.Materialize()

	ids := make([]string, 0, len(entities))
	for id := range entities {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, idStr := range ids {
		if i > 0 {
			buf.WriteByte(',')
		}
		id := cachevalue.EntityId(idStr)
		idBytes, err := json.Marshal(idStr)
		if err != nil {
			return nil, fmt.Errorf("snapshot: encode entity id %q: %w", idStr, err)
		}
		buf.Write(idBytes)
		buf.WriteByte(':')

		fieldBytes, err := encodeEntity(entities[id])
		if err != nil {
			return nil, fmt.Errorf("snapshot: encode entity %q: %w", idStr, err)
		}
		buf.Write(fieldBytes)
	}
	buf.WriteByte('}')

	return Snapshot(buf.Bytes()), nil
}

func encodeEntity(e entitystore.Entity) ([]byte, error) {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kBytes)
		buf.WriteByte(':')

		vBytes, err := encodeValue(e[k])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		buf.Write(vBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func encodeValue(v cachevalue.StoreValue) ([]byte, error) {
	switch v.Kind() {
	case cachevalue.KindScalar:
		return json.Marshal(v.AsScalar())
	case cachevalue.KindJsonBlob:
		return json.Marshal(wireBlob{Type: wireTypeJSON, JSON: v.AsJsonBlob()})
	case cachevalue.KindReference:
		id, generated, isNull := v.AsReference()
		if isNull {
			return json.Marshal(wireRef{Type: wireTypeID, ID: nil, Generated: false})
		}
		return json.Marshal(wireRef{Type: wireTypeID, ID: &id, Generated: generated})
	case cachevalue.KindReferenceList:
		list := v.AsReferenceList()
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range list {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := encodeValue(elem)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("snapshot: unknown StoreValue kind %d", v.Kind())
	}
}

// Restore decodes snap and replaces store's entire contents with it: a
// restore is a cold start, not a merge, so any entity present in store
// but absent from snap does not survive. snap is fully decoded before
// store is touched, so a malformed snapshot leaves store unchanged.
func Restore(store *entitystore.Store, snap Snapshot) error {
	var raw map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(snap))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("snapshot: decode top level: %w", err)
	}

	entities := make(map[cachevalue.EntityId]entitystore.Entity, len(raw))
	for idStr, fieldsRaw := range raw {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(fieldsRaw, &fields); err != nil {
			return fmt.Errorf("snapshot: decode entity %q: %w", idStr, err)
		}

		entity := make(entitystore.Entity, len(fields))
		for fieldKey, valRaw := range fields {
			v, err := decodeValue(valRaw)
			if err != nil {
				return fmt.Errorf("snapshot: decode entity %q field %q: %w", idStr, fieldKey, err)
			}
			entity[fieldKey] = v
		}

		entities[cachevalue.EntityId(idStr)] = entity
	}

	store.Reset()
	for id, entity := range entities {
		store.Set(id, entity)
	}

	return nil
}

func decodeValue(raw json.RawMessage) (cachevalue.StoreValue, error) {
	trimmed := bytes.TrimSpace(raw)

	if len(trimmed) > 0 && trimmed[0] == '[' {
		var elemsRaw []json.RawMessage
		if err := json.Unmarshal(trimmed, &elemsRaw); err != nil {
			return cachevalue.StoreValue{}, err
		}
		elems := make([]cachevalue.StoreValue, len(elemsRaw))
		for i, er := range elemsRaw {
			v, err := decodeValue(er)
			if err != nil {
				return cachevalue.StoreValue{}, err
			}
			elems[i] = v
		}
		return cachevalue.ReferenceList(elems), nil
	}

	if len(trimmed) > 0 && trimmed[0] == '{' {
		var tagged struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(trimmed, &tagged); err != nil {
			return cachevalue.StoreValue{}, err
		}
		switch tagged.Type {
		case wireTypeID:
			var ref wireRef
			if err := json.Unmarshal(trimmed, &ref); err != nil {
				return cachevalue.StoreValue{}, err
			}
			if ref.ID == nil {
				return cachevalue.NullReference(), nil
			}
			return cachevalue.Reference(*ref.ID, ref.Generated), nil
		case wireTypeJSON:
			var blob wireBlob
			if err := json.Unmarshal(trimmed, &blob); err != nil {
				return cachevalue.StoreValue{}, err
			}
			return cachevalue.JsonBlob(blob.JSON), nil
		default:
			return cachevalue.StoreValue{}, fmt.Errorf("unknown wire object type %q", tagged.Type)
		}
	}

	// A bare null can only be a null Scalar here: a null Reference always
	// serializes as the tagged {"type":"id","id":null,...} form above.
	if string(trimmed) == "null" {
		return cachevalue.Scalar(nil), nil
	}

	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return cachevalue.StoreValue{}, err
	}
	return cachevalue.Scalar(v), nil
}
