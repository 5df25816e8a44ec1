package gateway

import (
	"encoding/json"
	"fmt"
)

// Patch maps top-level document keys to replacement values. A value built by
// ArrayUnion appends to the stored array instead of replacing it.
type Patch map[string]any

type Union struct {
	elems []any
}

// ArrayUnion appends each element not already present in the stored array.
// Elements compare by their JSON encoding.
func ArrayUnion(elems ...any) Union {
	return Union{elems: elems}
}

func (u Union) MarshalJSON() ([]byte, error) {
	elems := u.elems
	if elems == nil {
		elems = []any{}
	}
	return json.Marshal(map[string]any{"arrayUnion": elems})
}

type patchEntry struct {
	key     string
	value   json.RawMessage
	isUnion bool
	union   []json.RawMessage
}

// encodePatch marshals p up front so later changes by the caller to the
// values it passed cannot leak into a queued write.
func encodePatch(p Patch) ([]patchEntry, error) {
	entries := make([]patchEntry, 0, len(p))
	for k, v := range p {
		if u, ok := v.(Union); ok {
			e := patchEntry{key: k, isUnion: true, union: make([]json.RawMessage, 0, len(u.elems))}
			for _, el := range u.elems {
				raw, err := json.Marshal(el)
				if err != nil {
					return nil, fmt.Errorf("failed to encode %s element: %w", k, err)
				}
				e.union = append(e.union, raw)
			}
			entries = append(entries, e)
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", k, err)
		}
		entries = append(entries, patchEntry{key: k, value: raw})
	}
	return entries, nil
}

func applyPatch(doc map[string]json.RawMessage, entries []patchEntry) error {
	for _, e := range entries {
		if !e.isUnion {
			doc[e.key] = e.value
			continue
		}
		merged, err := union(doc[e.key], e.union)
		if err != nil {
			return fmt.Errorf("failed to merge %s: %w", e.key, err)
		}
		doc[e.key] = merged
	}
	return nil
}

// union appends elems to the array in existing, skipping duplicates. A
// missing or non-array field becomes an array of just elems.
func union(existing json.RawMessage, elems []json.RawMessage) (json.RawMessage, error) {
	var arr []json.RawMessage
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &arr); err != nil {
			arr = nil
		}
	}
	seen := make(map[string]bool, len(arr)+len(elems))
	for _, el := range arr {
		c, err := canonical(el)
		if err != nil {
			return nil, err
		}
		seen[c] = true
	}
	for _, el := range elems {
		c, err := canonical(el)
		if err != nil {
			return nil, err
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		arr = append(arr, el)
	}
	if arr == nil {
		arr = []json.RawMessage{}
	}
	return json.Marshal(arr)
}

// canonical re-encodes raw so that objects differing only in key order or
// whitespace compare equal.
func canonical(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
