package storage

import (
	"context"
	"sync"
	"time"

	"github.com/vitae/vitae/backend/go-services/internal/records"
)

// Memory is an in-memory Storage used for development and tests.
// Records are returned in insertion order.
type Memory struct {
	def       *records.Definition
	mu        sync.RWMutex
	rows      map[string]records.Record
	order     []string
	revisions map[string][]RevisionEntry
}

func NewMemory(def *records.Definition) *Memory {
	return &Memory{
		def:       def,
		rows:      make(map[string]records.Record),
		revisions: make(map[string][]RevisionEntry),
	}
}

func (m *Memory) Definition() *records.Definition { return m.def }

func (m *Memory) Add(ctx context.Context, rec records.Record, rev Revision) (string, error) {
	row, err := prepareAdd(m.def, rec)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUnique(row, ""); err != nil {
		return "", err
	}
	id := row.ID()
	m.rows[id] = row
	m.order = append(m.order, id)
	m.revise(id, rev, ActionAdd, row.Without(records.Managed...))
	return id, nil
}

func (m *Memory) Get(ctx context.Context, id string) (records.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.rows[id]; ok {
		return r.Copy(), nil
	}
	return nil, ErrNotFound
}

func (m *Memory) GetBy(ctx context.Context, index string, value any) (records.Record, error) {
	ix, err := lookupIndex(m.def, index)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		if r := m.rows[id]; records.Equal(r[ix.Field], value) {
			return r.Copy(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) All(ctx context.Context) ([]records.Record, error) {
	return m.Filter(ctx, "", nil)
}

func (m *Memory) Exists(ctx context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rows[id]
	return ok, nil
}

// Filter returns records whose field equals value. An empty field matches
// every record.
func (m *Memory) Filter(ctx context.Context, field string, value any) ([]records.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]records.Record, 0, len(m.order))
	for _, id := range m.order {
		r := m.rows[id]
		if field != "" && !records.Equal(r[field], value) {
			continue
		}
		out = append(out, r.Copy())
	}
	return out, nil
}

func (m *Memory) Save(ctx context.Context, id string, changes records.Record, rev Revision) (bool, error) {
	set, err := prepareSave(m.def, changes)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	next := cur.Merge(set)
	if err := m.checkUnique(next, id); err != nil {
		return false, err
	}
	records.Stamp(next, time.Time{}, now())
	m.rows[id] = next
	m.revise(id, rev, ActionSave, set)
	return true, nil
}

func (m *Memory) Remove(ctx context.Context, id string, rev Revision) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return false, nil
	}
	delete(m.rows, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.revise(id, rev, ActionRemove, nil)
	return true, nil
}

func (m *Memory) Revisions(ctx context.Context, id string) ([]RevisionEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RevisionEntry(nil), m.revisions[id]...), nil
}

// checkUnique must be called with the write lock held.
func (m *Memory) checkUnique(row records.Record, self string) error {
	for _, ix := range m.def.Unique() {
		v, ok := row[ix.Field]
		if !ok || v == nil {
			continue
		}
		for id, other := range m.rows {
			if id != self && records.Equal(other[ix.Field], v) {
				return &DuplicateError{Field: ix.Field, Value: v}
			}
		}
	}
	return nil
}

func (m *Memory) revise(id string, rev Revision, action string, changes records.Record) {
	m.revisions[id] = append(m.revisions[id], RevisionEntry{
		Record:  id,
		User:    rev.User,
		Action:  action,
		Changes: changes,
		At:      now(),
	})
}
