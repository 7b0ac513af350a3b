// Package models defines the entities kept in sync between the local cache
// and the remote document store: accounts, relationships, and events.
//
// Each entity knows how to serialize itself into a remote document, how to
// decode strictly from one (ill-typed or missing required fields fail with
// common.ErrorDecode), and how to merge a remote version using
// last-write-wins on the updatedAt timestamp.
package models

import (
	"fmt"
	"time"

	"github.com/kithapp/kith/internal/common"
	"github.com/kithapp/kith/internal/remote"
)

// docTimeFormat is how timestamps are stored in remote documents.
const docTimeFormat = time.RFC3339Nano

func decodeErr(field, reason string) error {
	return fmt.Errorf("field %q: %s: %w", field, reason, common.ErrorDecode)
}

// docString reads a required string field.
func docString(doc remote.Document, field string) (string, error) {
	v, ok := doc[field]
	if !ok {
		return "", decodeErr(field, "missing")
	}
	s, ok := v.(string)
	if !ok {
		return "", decodeErr(field, fmt.Sprintf("expected string, got %T", v))
	}
	return s, nil
}

// docStringOpt reads an optional string field; absent yields "".
func docStringOpt(doc remote.Document, field string) (string, error) {
	if _, ok := doc[field]; !ok {
		return "", nil
	}
	return docString(doc, field)
}

// docBoolOpt reads an optional bool field; absent yields false.
func docBoolOpt(doc remote.Document, field string) (bool, error) {
	v, ok := doc[field]
	if !ok {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, decodeErr(field, fmt.Sprintf("expected bool, got %T", v))
	}
	return b, nil
}

// docTime reads a required RFC3339 timestamp field.
func docTime(doc remote.Document, field string) (time.Time, error) {
	s, err := docString(doc, field)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(docTimeFormat, s)
	if err != nil {
		return time.Time{}, decodeErr(field, "invalid timestamp")
	}
	return t, nil
}

// docTimeOpt reads an optional timestamp field; absent or null yields nil.
func docTimeOpt(doc remote.Document, field string) (*time.Time, error) {
	v, ok := doc[field]
	if !ok || v == nil {
		return nil, nil
	}
	t, err := docTime(doc, field)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// docStrings reads a required array-of-strings field.
func docStrings(doc remote.Document, field string) ([]string, error) {
	v, ok := doc[field]
	if !ok {
		return nil, decodeErr(field, "missing")
	}
	switch arr := v.(type) {
	case []string:
		out := make([]string, len(arr))
		copy(out, arr)
		return out, nil
	case []any:
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			s, ok := item.(string)
			if !ok {
				return nil, decodeErr(field, fmt.Sprintf("expected string element, got %T", item))
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, decodeErr(field, fmt.Sprintf("expected array, got %T", v))
	}
}

// docMapOpt reads an optional map field; absent yields an empty map.
func docMapOpt(doc remote.Document, field string) (map[string]any, error) {
	v, ok := doc[field]
	if !ok || v == nil {
		return map[string]any{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, decodeErr(field, fmt.Sprintf("expected map, got %T", v))
	}
	out := make(map[string]any, len(m))
	for k, mv := range m {
		out[k] = mv
	}
	return out, nil
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(docTimeFormat)
}

func encodeTimeOpt(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func copyTimeOpt(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
