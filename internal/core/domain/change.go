package domain

import (
	"errors"
	"fmt"
	"strconv"
)

var ErrMalformedChange = errors.New("malformed change event")

// EventType is the closed set of row change kinds.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Valid reports whether t is one of INSERT, UPDATE, DELETE.
func (t EventType) Valid() bool {
	return t == EventInsert || t == EventUpdate || t == EventDelete
}

// Row is a single table row keyed by its "id" field.
type Row map[string]any

// ID returns the row key rendered as a string.
func (r Row) ID() (string, bool) {
	if r == nil {
		return "", false
	}
	return KeyOf(r["id"])
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// KeyOf renders a row id of any scalar type as a comparable string key.
func KeyOf(v any) (string, bool) {
	switch id := v.(type) {
	case nil:
		return "", false
	case string:
		return id, id != ""
	case int:
		return strconv.Itoa(id), true
	case int32:
		return strconv.FormatInt(int64(id), 10), true
	case int64:
		return strconv.FormatInt(id, 10), true
	case float64:
		if id == float64(int64(id)) {
			return strconv.FormatInt(int64(id), 10), true
		}
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case fmt.Stringer:
		s := id.String()
		return s, s != ""
	default:
		return fmt.Sprint(id), true
	}
}

// ChangeEvent is the canonical row change delivered by the change feed.
type ChangeEvent struct {
	Table     string    `json:"table"`
	EventType EventType `json:"event_type"`
	NewRow    Row       `json:"new_row,omitempty"`
	OldRow    Row       `json:"old_row,omitempty"`
}

// Key returns the id of the affected row: the new row for inserts and
// updates, the old row (falling back to the new row) for deletes.
func (e ChangeEvent) Key() (string, bool) {
	if e.EventType == EventDelete {
		if id, ok := e.OldRow.ID(); ok {
			return id, true
		}
	}
	return e.NewRow.ID()
}
