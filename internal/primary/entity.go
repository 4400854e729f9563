package primary

import (
	"context"
	"errors"

	"github.com/vitae/vitae/backend/go-services/internal/records"
	"github.com/vitae/vitae/backend/go-services/internal/storage"
)

// MsgToBeforeFrom is the reason reported when an experience ends before it
// starts.
const MsgToBeforeFrom = "if set, must be higher than `from`"

// entity runs the create/read/update/delete/list pipeline for one record
// kind. The hooks are optional.
type entity struct {
	svc   *Service
	store storage.Storage
	kind  string
	// protected fields are dropped from update payloads
	protected []string
	// lookup names an index read may use instead of _id, keyed by field
	lookup map[string]string
	// filter is the field a list may be narrowed by
	filter string
	order  Order

	check        func(rec records.Record) *Error
	beforeRemove func(ctx context.Context, id string) error
	afterWrite   func(ctx context.Context, rec records.Record)
	afterRemove  func(ctx context.Context, rec records.Record)
}

func (e *entity) create(ctx context.Context, req Request) (any, error) {
	if !e.svc.editing {
		return nil, forbidden()
	}
	rec, err := recordArg(req.data())
	if err != nil {
		return nil, err
	}
	rec = rec.Without(records.Managed...)
	if e.check != nil {
		if err := e.check(rec); err != nil {
			return nil, err
		}
	}
	id, err := e.store.Add(ctx, rec, e.svc.revision(req))
	if err != nil {
		return nil, e.translate(err, "")
	}
	if e.afterWrite != nil {
		stored, _ := e.store.Definition().Clean(rec)
		stored[records.IDField] = id
		e.afterWrite(ctx, stored)
	}
	return id, nil
}

func (e *entity) read(ctx context.Context, req Request) (any, error) {
	data := req.data()
	if v, ok := data[records.IDField]; ok {
		id, err := idArg(v)
		if err != nil {
			return nil, err
		}
		rec, gerr := e.store.Get(ctx, id)
		if gerr != nil {
			return nil, e.translate(gerr, id)
		}
		return rec, nil
	}
	for field, index := range e.lookup {
		raw, ok := data[field]
		if !ok {
			continue
		}
		v, err := e.fieldArg(field, raw)
		if err != nil {
			return nil, err
		}
		rec, err := e.store.GetBy(ctx, index, v)
		if err != nil {
			return nil, e.translate(err, v)
		}
		return rec, nil
	}
	return nil, missing(records.IDField)
}

func (e *entity) update(ctx context.Context, req Request) (any, error) {
	if !e.svc.editing {
		return nil, forbidden()
	}
	data := req.data()
	var absent []string
	for _, k := range []string{records.IDField, "record"} {
		if _, ok := data[k]; !ok {
			absent = append(absent, k)
		}
	}
	if len(absent) > 0 {
		return nil, missing(absent...)
	}
	id, err := idArg(data[records.IDField])
	if err != nil {
		return nil, err
	}
	incoming, err := recordArg(data)
	if err != nil {
		return nil, err
	}

	current, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, e.translate(err, id)
	}

	def := e.store.Definition()
	incoming = incoming.Without(e.protected...)
	cleaned, errs := def.Clean(incoming)
	if len(errs) > 0 {
		return nil, invalid(errs...)
	}
	merged := current.Merge(cleaned)
	if _, errs := def.Validate(merged.Without(records.Managed...)); len(errs) > 0 {
		return nil, invalid(errs...)
	}
	if e.check != nil {
		if err := e.check(merged); err != nil {
			return nil, err
		}
	}

	changes := records.Diff(current, cleaned)
	if len(changes) == 0 {
		return false, nil
	}
	saved, err := e.store.Save(ctx, id, changes, e.svc.revision(req))
	if err != nil {
		return nil, e.translate(err, id)
	}
	if !saved {
		return false, nil
	}
	if e.afterWrite != nil {
		e.afterWrite(ctx, merged)
	}
	return changes, nil
}

func (e *entity) remove(ctx context.Context, req Request) (any, error) {
	if !e.svc.editing {
		return nil, forbidden()
	}
	data := req.data()
	v, ok := data[records.IDField]
	if !ok {
		return nil, missing(records.IDField)
	}
	id, err := idArg(v)
	if err != nil {
		return nil, err
	}

	var current records.Record
	if e.afterRemove != nil {
		// the hook needs the record as it was
		if current, err = e.store.Get(ctx, id); err != nil {
			return nil, e.translate(err, id)
		}
	} else {
		exists, err := e.store.Exists(ctx, id)
		if err != nil {
			return nil, e.translate(err, id)
		}
		if !exists {
			return nil, notFound(id, e.kind)
		}
	}

	if e.beforeRemove != nil {
		if err := e.beforeRemove(ctx, id); err != nil {
			return nil, err
		}
	}

	removed, err := e.store.Remove(ctx, id, e.svc.revision(req))
	if err != nil {
		return nil, e.translate(err, id)
	}
	if !removed {
		return nil, &Error{Kind: DeleteFailed, Details: []any{id, e.kind}}
	}
	if e.afterRemove != nil {
		e.afterRemove(ctx, current)
	}
	return true, nil
}

func (e *entity) list(ctx context.Context, req Request) (any, error) {
	var (
		list []records.Record
		err  error
	)
	raw, filtered := req.data()[e.filter]
	if e.filter != "" && filtered {
		v, ferr := e.fieldArg(e.filter, raw)
		if ferr != nil {
			return nil, ferr
		}
		list, err = e.store.Filter(ctx, e.filter, v)
	} else {
		list, err = e.store.All(ctx)
	}
	if err != nil {
		return nil, e.translate(err, nil)
	}
	e.order.Sort(list)
	return list, nil
}

// translate maps storage failures onto the error taxonomy.
func (e *entity) translate(err error, id any) error {
	var (
		dup *storage.DuplicateError
		inv *storage.ValidationError
	)
	switch {
	case errors.As(err, &dup):
		return &Error{Kind: DuplicateRecord, Details: []any{dup.Field, dup.Value}}
	case errors.As(err, &inv):
		return invalid(inv.Fields...)
	case errors.Is(err, storage.ErrNotFound):
		return notFound(id, e.kind)
	}
	return internal(err)
}

// fieldArg cleans a lookup or filter value with the field's own rules so
// only a plain value of the field's type reaches storage.
func (e *entity) fieldArg(field string, v any) (any, error) {
	f, ok := e.store.Definition().Field(field)
	if !ok {
		return nil, invalid(records.FieldError{Field: field, Reason: records.ReasonUnknown})
	}
	cv, reason := f.Clean(v)
	if reason != "" {
		return nil, invalid(records.FieldError{Field: field, Reason: reason})
	}
	return cv, nil
}

// recordArg returns the "record" mapping of a request.
func recordArg(data map[string]any) (records.Record, error) {
	v, ok := data["record"]
	if !ok {
		return nil, missing("record")
	}
	switch r := v.(type) {
	case map[string]any:
		return records.Record(r).Copy(), nil
	case records.Record:
		return r.Copy(), nil
	}
	return nil, invalid(records.FieldError{Field: "record", Reason: records.ReasonInvalid})
}

func idArg(v any) (string, error) {
	id, ok := v.(string)
	if !ok || id == "" {
		return "", invalid(records.FieldError{Field: records.IDField, Reason: records.ReasonInvalid})
	}
	return id, nil
}

// toAfterFrom rejects an experience whose "to" sorts before its "from".
func toAfterFrom(rec records.Record) *Error {
	to, ok := rec["to"]
	if !ok || to == nil || to == "" {
		return nil
	}
	if records.Compare(to, rec["from"]) < 0 {
		return invalid(records.FieldError{Field: "record.to", Reason: MsgToBeforeFrom})
	}
	return nil
}
