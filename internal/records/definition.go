package records

import (
	"errors"
	"regexp"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
)

// Type is the value type of a field.
type Type int

const (
	String Type = iota
	Text
	URL
	Date
	UInt
)

// DateLayout is the wire and storage form of Date fields.
const DateLayout = "2006-01-02"

// Reasons reported in FieldError.
const (
	ReasonMissing  = "missing"
	ReasonInvalid  = "invalid"
	ReasonUnknown  = "unknown field"
	ReasonTooShort = "too short"
	ReasonTooLong  = "too long"
	ReasonRange    = "out of range"
)

// Field describes one column of a definition. Rules is a validator tag
// run against the value after it is converted to its Go type, e.g.
// "min=1,max=64" for strings or "gte=1,lte=5" for integers.
type Field struct {
	Name     string
	Type     Type
	Optional bool
	Nullable bool
	Rules    string
}

var staticKey = regexp.MustCompile(`^[a-z0-9_-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("static_key", func(fl validator.FieldLevel) bool {
		return staticKey.MatchString(fl.Field().String())
	})
	return v
}

// Index is a secondary lookup on a single field.
type Index struct {
	Name   string
	Field  string
	Unique bool
	// Lookup marks indexes usable through Storage.GetBy.
	Lookup bool
}

// Definition is the schema of one record kind.
type Definition struct {
	Name    string
	Fields  []Field
	Indexes []Index
}

// Field returns the named field.
func (d *Definition) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Index returns the named index.
func (d *Definition) Index(name string) (Index, bool) {
	for _, ix := range d.Indexes {
		if ix.Name == name {
			return ix, true
		}
	}
	return Index{}, false
}

// Unique returns the unique indexes.
func (d *Definition) Unique() []Index {
	var out []Index
	for _, ix := range d.Indexes {
		if ix.Unique {
			out = append(out, ix)
		}
	}
	return out
}

// Columns returns managed fields followed by the definition's fields.
func (d *Definition) Columns() []string {
	cols := append([]string{}, Managed...)
	for _, f := range d.Fields {
		cols = append(cols, f.Name)
	}
	return cols
}

// Clean normalizes every field of rec to its canonical Go type (int64 for
// UInt, canonical strings for Date, time.Time for timestamps).
// Fields that are not part of the definition are reported as unknown.
// Required fields are not checked; see Validate.
func (d *Definition) Clean(rec Record) (Record, []FieldError) {
	out := make(Record, len(rec))
	var errs []FieldError
	for k, v := range rec {
		switch k {
		case IDField:
			out[k] = v
			continue
		case CreatedField, UpdatedField:
			out[k] = cleanTimestamp(v)
			continue
		}
		f, ok := d.Field(k)
		if !ok {
			errs = append(errs, FieldError{k, ReasonUnknown})
			continue
		}
		cv, reason := f.Clean(v)
		if reason != "" {
			errs = append(errs, FieldError{k, reason})
			continue
		}
		out[k] = cv
	}
	sortErrors(errs)
	return out, errs
}

// Validate cleans a complete record and reports missing required fields.
func (d *Definition) Validate(rec Record) (Record, []FieldError) {
	out, errs := d.Clean(rec)
	for _, f := range d.Fields {
		if f.Optional {
			continue
		}
		if _, ok := rec[f.Name]; !ok {
			errs = append(errs, FieldError{f.Name, ReasonMissing})
		}
	}
	sortErrors(errs)
	return out, errs
}

func sortErrors(errs []FieldError) {
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
}

func cleanTimestamp(v any) any {
	if s, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
	}
	return v
}

// Clean converts v to the field's Go type and checks it against Rules.
// A non-empty reason means v was rejected.
func (f Field) Clean(v any) (any, string) {
	if v == nil {
		if f.Nullable {
			return nil, ""
		}
		return nil, ReasonInvalid
	}
	cv, ok := f.convert(v)
	if !ok {
		return nil, ReasonInvalid
	}
	if err := validate.Var(cv, f.Rules); err != nil {
		return nil, f.reason(err)
	}
	return cv, ""
}

// convert normalizes v: strings stay strings, dates become DateLayout
// strings and integers become int64.
func (f Field) convert(v any) (any, bool) {
	switch f.Type {
	case String, Text, URL:
		s, ok := v.(string)
		return s, ok
	case Date:
		switch t := v.(type) {
		case time.Time:
			return t.UTC().Format(DateLayout), true
		case string:
			return t, true
		}
	case UInt:
		return Integer(v)
	}
	return nil, false
}

func (f Field) reason(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return ReasonInvalid
	}
	switch verrs[0].Tag() {
	case "min", "gte":
		if f.Type == UInt {
			return ReasonRange
		}
		return ReasonTooShort
	case "max", "lte":
		if f.Type == UInt {
			return ReasonRange
		}
		return ReasonTooLong
	}
	return ReasonInvalid
}
