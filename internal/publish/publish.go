// Package publish mirrors Static records as HTML objects so the site can
// serve them without touching the API.
package publish

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vitae/vitae/backend/go-services/pkg/metrics"
)

const DefaultBucket = "vitae-static"

// Publisher stores and removes rendered Static content by key.
type Publisher interface {
	Put(ctx context.Context, key, content string) error
	Remove(ctx context.Context, key string) error
}

// ObjectKey is the object name a Static key is published under.
func ObjectKey(key string) string {
	return fmt.Sprintf("static/%s.html", key)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Put(context.Context, string, string) error { return nil }
func (Nop) Remove(context.Context, string) error      { return nil }

// Memory keeps published objects in a map. Used when no bucket is
// configured and in tests.
type Memory struct {
	mu      sync.Mutex
	objects map[string]string
}

func NewMemory() *Memory {
	return &Memory{objects: map[string]string{}}
}

func (m *Memory) Put(_ context.Context, key, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[ObjectKey(key)] = content
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, ObjectKey(key))
	return nil
}

// Object returns the content stored under a Static key.
func (m *Memory) Object(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.objects[ObjectKey(key)]
	return v, ok
}

// Keys lists the stored object names.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Counted records every call in vitae_publish_total{op,result}.
type Counted struct {
	Publisher
}

func (c Counted) Put(ctx context.Context, key, content string) error {
	err := c.Publisher.Put(ctx, key, content)
	observe("put", err)
	return err
}

func (c Counted) Remove(ctx context.Context, key string) error {
	err := c.Publisher.Remove(ctx, key)
	observe("remove", err)
	return err
}

func observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.Publish.WithLabelValues(op, result).Inc()
}
