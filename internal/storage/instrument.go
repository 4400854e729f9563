package storage

import (
	"context"
	"errors"

	"github.com/vitae/vitae/backend/go-services/internal/records"
	"github.com/vitae/vitae/backend/go-services/pkg/metrics"
)

// Instrumented counts every storage call in
// vitae_storage_operations_total{kind,op,result}.
type Instrumented struct {
	Storage
}

func WithMetrics(s Storage) *Instrumented { return &Instrumented{Storage: s} }

func (i *Instrumented) observe(op string, err error) {
	result := "ok"
	var dup *DuplicateError
	var inv *ValidationError
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case errors.As(err, &dup):
		result = "duplicate"
	case errors.As(err, &inv):
		result = "invalid"
	default:
		result = "error"
	}
	metrics.StorageOperations.WithLabelValues(i.Definition().Name, op, result).Inc()
}

func (i *Instrumented) Add(ctx context.Context, rec records.Record, rev Revision) (string, error) {
	id, err := i.Storage.Add(ctx, rec, rev)
	i.observe("add", err)
	return id, err
}

func (i *Instrumented) Get(ctx context.Context, id string) (records.Record, error) {
	rec, err := i.Storage.Get(ctx, id)
	i.observe("get", err)
	return rec, err
}

func (i *Instrumented) GetBy(ctx context.Context, index string, value any) (records.Record, error) {
	rec, err := i.Storage.GetBy(ctx, index, value)
	i.observe("get_by", err)
	return rec, err
}

func (i *Instrumented) All(ctx context.Context) ([]records.Record, error) {
	list, err := i.Storage.All(ctx)
	i.observe("all", err)
	return list, err
}

func (i *Instrumented) Exists(ctx context.Context, id string) (bool, error) {
	ok, err := i.Storage.Exists(ctx, id)
	i.observe("exists", err)
	return ok, err
}

func (i *Instrumented) Filter(ctx context.Context, field string, value any) ([]records.Record, error) {
	list, err := i.Storage.Filter(ctx, field, value)
	i.observe("filter", err)
	return list, err
}

func (i *Instrumented) Save(ctx context.Context, id string, changes records.Record, rev Revision) (bool, error) {
	ok, err := i.Storage.Save(ctx, id, changes, rev)
	i.observe("save", err)
	return ok, err
}

func (i *Instrumented) Remove(ctx context.Context, id string, rev Revision) (bool, error) {
	ok, err := i.Storage.Remove(ctx, id, rev)
	i.observe("remove", err)
	return ok, err
}

func (i *Instrumented) Revisions(ctx context.Context, id string) ([]RevisionEntry, error) {
	list, err := i.Storage.Revisions(ctx, id)
	i.observe("revisions", err)
	return list, err
}
