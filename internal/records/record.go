// Package records holds the declarative record definitions of the site
// (experience, skill, skill category, static) and the value rules shared by
// every storage backend: cleaning, validation, diffing and ordering.
package records

import (
	"encoding/json"
	"time"
)

// Fields managed by storage. Clients never set them.
const (
	IDField      = "_id"
	CreatedField = "_created"
	UpdatedField = "_updated"
)

// Managed lists the server-assigned fields in column order.
var Managed = []string{IDField, CreatedField, UpdatedField}

// Record is the raw form of a record: a flat field to value mapping.
type Record map[string]any

// ID returns the record identifier or "" when unset.
func (r Record) ID() string {
	s, _ := r[IDField].(string)
	return s
}

// Copy returns a shallow copy of r.
func (r Record) Copy() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Without returns a copy of r minus the named fields.
func (r Record) Without(fields ...string) Record {
	out := r.Copy()
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// Merge returns a copy of r with every field of changes applied on top.
func (r Record) Merge(changes Record) Record {
	out := r.Copy()
	for k, v := range changes {
		out[k] = v
	}
	return out
}

// FieldError is a single (field, reason) pair. It encodes as a two element
// JSON array so clients get the same shape for every validation failure.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{e.Field, e.Reason})
}

func (e *FieldError) UnmarshalJSON(b []byte) error {
	var pair [2]string
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	e.Field, e.Reason = pair[0], pair[1]
	return nil
}

// Diff returns the fields of incoming whose value differs from current.
// The result is empty, never nil, when nothing changed.
func Diff(current, incoming Record) Record {
	changes := Record{}
	for k, v := range incoming {
		old, ok := current[k]
		if ok && Equal(old, v) {
			continue
		}
		if !ok && v == nil {
			continue
		}
		changes[k] = v
	}
	return changes
}

// Stamp sets the managed timestamps. created is left alone when zero.
func Stamp(r Record, created, updated time.Time) {
	if !created.IsZero() {
		r[CreatedField] = created
	}
	r[UpdatedField] = updated
}
