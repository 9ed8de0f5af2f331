package tasks

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Task is one user-created item. Timestamps are UTC unix seconds.
type Task struct {
	// ID is the unique, immutable lookup key.
	ID string `json:"id"`

	// Description is free-form text, trimmed on every write.
	Description string `json:"description"`

	// CreatedAt is set once when the task is added.
	CreatedAt int64 `json:"createdAt"`

	// CompletedAt is nil while the task is not completed.
	CompletedAt *int64 `json:"completedAt"`

	// ArchivedAt is nil while the task is not archived.
	ArchivedAt *int64 `json:"archivedAt"`
}

// Completed reports whether the task has a completion time.
func (t Task) Completed() bool {
	return t.CompletedAt != nil
}

// Archived reports whether the task has an archive time.
func (t Task) Archived() bool {
	return t.ArchivedAt != nil
}

// Clone returns a copy that shares no pointers with t.
func (t Task) Clone() Task {
	clone := t
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		clone.CompletedAt = &completed
	}
	if t.ArchivedAt != nil {
		archived := *t.ArchivedAt
		clone.ArchivedAt = &archived
	}
	return clone
}

// Equal compares two tasks field by field.
func (t Task) Equal(o Task) bool {
	return t.ID == o.ID &&
		t.Description == o.Description &&
		t.CreatedAt == o.CreatedAt &&
		equalStamp(t.CompletedAt, o.CompletedAt) &&
		equalStamp(t.ArchivedAt, o.ArchivedAt)
}

func equalStamp(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func stamp(v int64) *int64 {
	return &v
}

// encodeTasks serializes the list as a JSON array. An empty list is
// written as [] rather than null.
func encodeTasks(list []Task) ([]byte, error) {
	if list == nil {
		list = []Task{}
	}
	return json.Marshal(list)
}

var jsonNull = []byte("null")

// decodeTasks parses a persisted list. A value that is not a JSON array
// is an error; array elements that fail validation are dropped and
// counted.
func decodeTasks(data []byte) ([]Task, int, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("decode task list: %w", err)
	}
	if raw == nil {
		// A literal null decodes without error.
		return nil, 0, fmt.Errorf("decode task list: not an array")
	}

	list := make([]Task, 0, len(raw))
	dropped := 0
	for _, r := range raw {
		t, ok := decodeTask(r)
		if !ok {
			dropped++
			continue
		}
		list = append(list, t)
	}
	return list, dropped, nil
}

// decodeTask validates one record structurally: id is a non-empty
// string, description a string, createdAt a number, and completedAt /
// archivedAt are present and either null or a number.
func decodeTask(r json.RawMessage) (Task, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(r, &fields); err != nil || fields == nil {
		return Task{}, false
	}

	var t Task
	if err := json.Unmarshal(fields["id"], &t.ID); err != nil || t.ID == "" {
		return Task{}, false
	}

	desc, ok := fields["description"]
	if !ok || isNull(desc) {
		return Task{}, false
	}
	if err := json.Unmarshal(desc, &t.Description); err != nil {
		return Task{}, false
	}

	created, ok := parseNumber(fields["createdAt"])
	if !ok {
		return Task{}, false
	}
	t.CreatedAt = created

	if t.CompletedAt, ok = parseNullableNumber(fields, "completedAt"); !ok {
		return Task{}, false
	}
	if t.ArchivedAt, ok = parseNullableNumber(fields, "archivedAt"); !ok {
		return Task{}, false
	}
	return t, true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), jsonNull)
}

// stampLimit is 2^63; numbers at or beyond it do not fit an int64.
const stampLimit = float64(1 << 63)

// parseNumber accepts any JSON number in int64 range, truncating fractions.
func parseNumber(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 || isNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	if f >= stampLimit || f < -stampLimit {
		return 0, false
	}
	return int64(f), true
}

func parseNullableNumber(fields map[string]json.RawMessage, name string) (*int64, bool) {
	raw, present := fields[name]
	if !present {
		return nil, false
	}
	if isNull(raw) {
		return nil, true
	}
	v, ok := parseNumber(raw)
	if !ok {
		return nil, false
	}
	return &v, true
}
