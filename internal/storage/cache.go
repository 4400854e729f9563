package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vitae/vitae/backend/go-services/internal/records"
	"github.com/vitae/vitae/backend/go-services/pkg/logger"
	"github.com/vitae/vitae/backend/go-services/pkg/metrics"
)

// Cache wraps a Storage and keeps raw records in Redis:
//
//	<prefix>:<name>:<id>              -> JSON record
//	<prefix>:<name>:<index>:<value>   -> id
//
// Index entries are checked against the record they resolve to, so a stale
// entry left by a key change or a delete falls through to the store. Redis
// failures degrade to the wrapped store. A zero ttl means no expiry.
type Cache struct {
	Storage
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewCache(s Storage, client *redis.Client, prefix string, ttl time.Duration) *Cache {
	if prefix == "" {
		prefix = "records"
	}
	return &Cache{Storage: s, client: client, prefix: prefix, ttl: ttl}
}

func (c *Cache) key(id string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, c.Definition().Name, id)
}

func (c *Cache) indexKey(index string, value any) string {
	return fmt.Sprintf("%s:%s:%s:%v", c.prefix, c.Definition().Name, index, value)
}

func (c *Cache) Get(ctx context.Context, id string) (records.Record, error) {
	if rec, ok := c.cached(ctx, id); ok {
		return rec, nil
	}
	rec, err := c.Storage.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, c.key(id), rec)
	return rec, nil
}

func (c *Cache) GetBy(ctx context.Context, index string, value any) (records.Record, error) {
	ix, err := lookupIndex(c.Definition(), index)
	if err != nil {
		return nil, err
	}
	ikey := c.indexKey(index, value)
	id, err := c.client.Get(ctx, ikey).Result()
	switch {
	case err == nil:
		rec, gerr := c.Get(ctx, id)
		if gerr == nil && records.Equal(rec[ix.Field], value) {
			return rec, nil
		}
		c.client.Del(ctx, ikey)
	case errors.Is(err, redis.Nil):
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	default:
		metrics.CacheLookups.WithLabelValues("error").Inc()
		logger.Warnf("cache: index lookup %s: %v", ikey, err)
	}
	rec, err := c.Storage.GetBy(ctx, index, value)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, ikey, rec.ID(), c.ttl).Err(); err != nil {
		logger.Warnf("cache: set %s: %v", ikey, err)
	}
	c.store(ctx, c.key(rec.ID()), rec)
	return rec, nil
}

func (c *Cache) Save(ctx context.Context, id string, changes records.Record, rev Revision) (bool, error) {
	ok, err := c.Storage.Save(ctx, id, changes, rev)
	c.invalidate(ctx, id)
	return ok, err
}

func (c *Cache) Remove(ctx context.Context, id string, rev Revision) (bool, error) {
	ok, err := c.Storage.Remove(ctx, id, rev)
	c.invalidate(ctx, id)
	return ok, err
}

func (c *Cache) invalidate(ctx context.Context, id string) {
	if err := c.client.Del(ctx, c.key(id)).Err(); err != nil {
		logger.Warnf("cache: invalidate %s: %v", c.key(id), err)
	}
}

func (c *Cache) cached(ctx context.Context, id string) (records.Record, bool) {
	b, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.CacheLookups.WithLabelValues("miss").Inc()
		} else {
			metrics.CacheLookups.WithLabelValues("error").Inc()
			logger.Warnf("cache: get %s: %v", c.key(id), err)
		}
		return nil, false
	}
	rec, err := decodeRecord(c.Definition(), b)
	if err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return rec, true
}

func (c *Cache) store(ctx context.Context, key string, rec records.Record) {
	b, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, b, c.ttl).Err(); err != nil {
		logger.Warnf("cache: set %s: %v", key, err)
	}
}

// decodeRecord restores a cached record to the types the stores return.
func decodeRecord(def *records.Definition, b []byte) (records.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw records.Record
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	rec, errs := def.Clean(raw)
	if len(errs) > 0 {
		return nil, &ValidationError{Fields: errs}
	}
	return rec, nil
}
