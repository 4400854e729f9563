package primary

import (
	"fmt"
	"net/http"

	"github.com/vitae/vitae/backend/go-services/internal/records"
)

// Kind is the category of a pipeline failure.
type Kind string

const (
	Forbidden           Kind = "Forbidden"
	FieldsMissing       Kind = "FieldsMissing"
	FieldsInvalid       Kind = "FieldsInvalid"
	NotFound            Kind = "NotFound"
	DuplicateRecord     Kind = "DuplicateRecord"
	DeleteFailed        Kind = "DeleteFailed"
	ReferentialConflict Kind = "ReferentialConflict"
	Internal            Kind = "Internal"
)

// Code is the stable numeric error code clients switch on.
func (k Kind) Code() int {
	switch k {
	case Forbidden:
		return 1000
	case FieldsMissing, FieldsInvalid:
		return 1001
	case NotFound:
		return 1100
	case DuplicateRecord:
		return 1101
	case DeleteFailed:
		return 1104
	case ReferentialConflict:
		return 1107
	}
	return 1200
}

// Status is the HTTP status used for the kind.
func (k Kind) Status() int {
	switch k {
	case Forbidden:
		return http.StatusForbidden
	case FieldsMissing, FieldsInvalid:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case DuplicateRecord, ReferentialConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// Error is a structured pipeline failure. Details is a list of
// records.FieldError for the field kinds and a list of identifying values
// for the others.
type Error struct {
	Kind    Kind
	Details any
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.err)
	}
	if e.Details == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Details)
}

func (e *Error) Unwrap() error { return e.err }

// InvalidField reports a single malformed request field.
func InvalidField(field string) *Error {
	return invalid(records.FieldError{Field: field, Reason: records.ReasonInvalid})
}

func forbidden() *Error { return &Error{Kind: Forbidden} }

func missing(fields ...string) *Error {
	errs := make([]records.FieldError, len(fields))
	for i, f := range fields {
		errs[i] = records.FieldError{Field: f, Reason: records.ReasonMissing}
	}
	return &Error{Kind: FieldsMissing, Details: errs}
}

func invalid(errs ...records.FieldError) *Error {
	return &Error{Kind: FieldsInvalid, Details: errs}
}

func notFound(id any, kind string) *Error {
	return &Error{Kind: NotFound, Details: []any{id, kind}}
}

func internal(err error) *Error {
	return &Error{Kind: Internal, err: err}
}
