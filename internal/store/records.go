package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Record is one schemaless JSON object inside a list collection.
type Record map[string]any

// ID returns the record's "id" field, or "" when absent.
func (r Record) ID() string {
	s, _ := r["id"].(string)
	return s
}

func decodeList(doc []byte) ([]Record, error) {
	if len(bytes.TrimSpace(doc)) == 0 || bytes.Equal(bytes.TrimSpace(doc), []byte("null")) {
		return []Record{}, nil
	}
	var out []Record
	if err := json.Unmarshal(doc, &out); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	if out == nil {
		out = []Record{}
	}
	return out, nil
}

func encode(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return b, nil
}

// ReadList reads a list collection. A missing collection is an empty list.
func ReadList(ctx context.Context, s Store, name string) ([]Record, error) {
	doc, err := s.Read(ctx, name)
	if err != nil {
		return nil, err
	}
	return decodeList(doc)
}

// ReadObject reads a single-object collection. A missing collection is an
// empty object.
func ReadObject(ctx context.Context, s Store, name string) (Record, error) {
	doc, err := s.Read(ctx, name)
	if err != nil {
		return nil, err
	}
	out := Record{}
	if len(bytes.TrimSpace(doc)) == 0 || bytes.Equal(bytes.TrimSpace(doc), []byte("null")) {
		return out, nil
	}
	if err := json.Unmarshal(doc, &out); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	return out, nil
}

// ReadInto decodes a collection into v. It reports false when the
// collection is missing, leaving v untouched.
func ReadInto(ctx context.Context, s Store, name string, v any) (bool, error) {
	doc, err := s.Read(ctx, name)
	if err != nil {
		return false, err
	}
	if len(bytes.TrimSpace(doc)) == 0 || bytes.Equal(bytes.TrimSpace(doc), []byte("null")) {
		return false, nil
	}
	if err := json.Unmarshal(doc, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return true, nil
}

// WriteJSON encodes v and replaces the collection with it.
func WriteJSON(ctx context.Context, s Store, name string, v any) error {
	doc, err := encode(v)
	if err != nil {
		return err
	}
	return s.Write(ctx, name, doc)
}

// MutateList runs fn over the decoded list under the collection lock.
// When fn reports changed=false nothing is written.
func MutateList(ctx context.Context, s Store, name string, fn func(list []Record) ([]Record, bool, error)) error {
	return s.Update(ctx, name, func(current []byte) ([]byte, error) {
		list, err := decodeList(current)
		if err != nil {
			return nil, err
		}
		next, changed, err := fn(list)
		if err != nil || !changed {
			return nil, err
		}
		if next == nil {
			next = []Record{}
		}
		return encode(next)
	})
}

// AppendToList appends rec to a list collection.
func AppendToList(ctx context.Context, s Store, name string, rec Record) error {
	return MutateList(ctx, s, name, func(list []Record) ([]Record, bool, error) {
		return append(list, rec), true, nil
	})
}

// UpdateInList merges updates into the record with the given id and returns
// the merged record. It returns ErrNotFound when no record matches.
func UpdateInList(ctx context.Context, s Store, name, id string, updates Record) (Record, error) {
	var merged Record
	err := MutateList(ctx, s, name, func(list []Record) ([]Record, bool, error) {
		for i, r := range list {
			if r.ID() != id {
				continue
			}
			for k, v := range updates {
				r[k] = v
			}
			list[i] = r
			merged = r
			return list, true, nil
		}
		return nil, false, ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// DeleteFromList removes the record with the given id.
// It returns ErrNotFound when no record matches.
func DeleteFromList(ctx context.Context, s Store, name, id string) error {
	return MutateList(ctx, s, name, func(list []Record) ([]Record, bool, error) {
		for i, r := range list {
			if r.ID() == id {
				return append(list[:i], list[i+1:]...), true, nil
			}
		}
		return nil, false, ErrNotFound
	})
}
