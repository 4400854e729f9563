// Package storage is the record storage collaborator: schema-driven
// persistence of records with unique indexes, revision tracking and an
// optional Redis cache in front.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vitae/vitae/backend/go-services/internal/records"
)

var ErrNotFound = errors.New("record not found")

// DuplicateError reports a unique index violation.
type DuplicateError struct {
	Field string
	Value any
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate value %v for %s", e.Value, e.Field)
}

// ValidationError carries the field-level failures of an add or save.
type ValidationError struct {
	Fields []records.FieldError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record failed validation on %d field(s)", len(e.Fields))
}

// Revision identifies who performed a mutation.
type Revision struct {
	User string
}

// Revision actions.
const (
	ActionAdd    = "add"
	ActionSave   = "save"
	ActionRemove = "remove"
)

// RevisionEntry is one audit row of the revision side-store.
type RevisionEntry struct {
	Record  string         `json:"record" bson:"record"`
	User    string         `json:"user" bson:"user"`
	Action  string         `json:"action" bson:"action"`
	Changes records.Record `json:"changes,omitempty" bson:"changes,omitempty"`
	At      time.Time      `json:"at" bson:"at"`
}

// Storage is the contract every backend implements.
//
//   - Add validates the full record, enforces unique indexes and returns
//     the new _id. Fails with *ValidationError or *DuplicateError.
//   - Get and GetBy return ErrNotFound when nothing matches.
//   - Save applies changed fields only. It returns false when no record
//     matched id, and fails with *ValidationError or *DuplicateError.
//   - Remove returns false when nothing was deleted.
type Storage interface {
	Definition() *records.Definition
	Add(ctx context.Context, rec records.Record, rev Revision) (string, error)
	Get(ctx context.Context, id string) (records.Record, error)
	GetBy(ctx context.Context, index string, value any) (records.Record, error)
	All(ctx context.Context) ([]records.Record, error)
	Exists(ctx context.Context, id string) (bool, error)
	Filter(ctx context.Context, field string, value any) ([]records.Record, error)
	Save(ctx context.Context, id string, changes records.Record, rev Revision) (bool, error)
	Remove(ctx context.Context, id string, rev Revision) (bool, error)
	Revisions(ctx context.Context, id string) ([]RevisionEntry, error)
}

// Installer creates and drops the backing schema of a set of stores.
type Installer interface {
	Install(ctx context.Context) error
	Uninstall(ctx context.Context) error
}

// NopInstaller is used by backends without a schema.
type NopInstaller struct{}

func (NopInstaller) Install(context.Context) error   { return nil }
func (NopInstaller) Uninstall(context.Context) error { return nil }

var newID = uuid.NewString

func now() time.Time { return time.Now().UTC() }

// prepareAdd validates rec and returns the row to insert with _id and
// timestamps assigned.
func prepareAdd(def *records.Definition, rec records.Record) (records.Record, error) {
	row, errs := def.Validate(rec.Without(records.Managed...))
	if len(errs) > 0 {
		return nil, &ValidationError{Fields: errs}
	}
	row[records.IDField] = newID()
	t := now()
	records.Stamp(row, t, t)
	return row, nil
}

// prepareSave cleans the changed fields of a save.
func prepareSave(def *records.Definition, changes records.Record) (records.Record, error) {
	set, errs := def.Clean(changes.Without(records.Managed...))
	if len(errs) > 0 {
		return nil, &ValidationError{Fields: errs}
	}
	return set, nil
}

func lookupIndex(def *records.Definition, name string) (records.Index, error) {
	ix, ok := def.Index(name)
	if !ok {
		return records.Index{}, fmt.Errorf("%s: unknown index %q", def.Name, name)
	}
	return ix, nil
}
