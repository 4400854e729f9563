package server

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vitae/vitae/backend/go-services/internal/config"
	"github.com/vitae/vitae/backend/go-services/internal/database"
	"github.com/vitae/vitae/backend/go-services/internal/primary"
	"github.com/vitae/vitae/backend/go-services/internal/publish"
	"github.com/vitae/vitae/backend/go-services/internal/records"
	"github.com/vitae/vitae/backend/go-services/internal/storage"
	"github.com/vitae/vitae/backend/go-services/pkg/logger"
	"go.mongodb.org/mongo-driver/mongo"
)

// Backend is the storage side of the service: the record stores of the
// configured driver, their installer, the optional redis client and the
// static publisher.
type Backend struct {
	Stores    primary.Stores
	Installer storage.Installer
	Redis     *redis.Client
	Publisher publish.Publisher

	checks  map[string]func(context.Context) error
	closers []func(context.Context) error
}

// connectMongo is swapped out in tests.
var connectMongo = database.ConnectMongo

// OpenBackend connects the configured storage driver and wraps every store
// with the cache (when redis is configured) and metrics.
func OpenBackend(ctx context.Context, cfg *config.Config) (*Backend, error) {
	b := &Backend{checks: map[string]func(context.Context) error{}}

	switch cfg.Storage.Driver {
	case config.DriverMongo:
		client, err := dialMongo(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, client.Disconnect)
		b.checks["storage"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }
		db := client.Database(cfg.MongoDB.Database)
		var stores []*storage.Mongo
		open := func(def *records.Definition) storage.Storage {
			s := storage.NewMongo(db, def)
			stores = append(stores, s)
			return s
		}
		b.Stores = primary.Stores{
			Experience:    open(records.Experience),
			Skill:         open(records.Skill),
			SkillCategory: open(records.SkillCategory),
			Static:        open(records.Static),
		}
		b.Installer = storage.MongoInstaller{Stores: stores}
	case config.DriverPostgres:
		db, err := database.ConnectPostgres(ctx, cfg.Postgres.DSN, cfg.Postgres.Timeout)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func(context.Context) error { return db.Close() })
		b.checks["storage"] = db.PingContext
		b.Stores = postgresStores(db)
		b.Installer = storage.PostgresInstaller{DB: db}
	default:
		b.Stores = primary.Stores{
			Experience:    storage.NewMemory(records.Experience),
			Skill:         storage.NewMemory(records.Skill),
			SkillCategory: storage.NewMemory(records.SkillCategory),
			Static:        storage.NewMemory(records.Static),
		}
		b.Installer = storage.NopInstaller{}
	}

	if cfg.Redis.Enabled() {
		client := database.NewRedis(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err := database.Ping(ctx, client); err != nil {
			logger.Warnf("failed to connect to Redis (%s:%s): %v", cfg.Redis.Host, cfg.Redis.Port, err)
		} else {
			logger.Infof("connected to Redis: %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		}
		b.Redis = client
		b.closers = append(b.closers, func(context.Context) error { return client.Close() })
		b.checks["redis"] = func(ctx context.Context) error { return database.Ping(ctx, client) }
	}

	b.Stores = b.wrap(cfg, b.Stores)

	pub, err := openPublisher(ctx, cfg)
	if err != nil {
		_ = b.Close(ctx)
		return nil, err
	}
	b.Publisher = publish.Counted{Publisher: pub}
	return b, nil
}

func postgresStores(db *sql.DB) primary.Stores {
	return primary.Stores{
		Experience:    storage.NewPostgres(db, records.Experience),
		Skill:         storage.NewPostgres(db, records.Skill),
		SkillCategory: storage.NewPostgres(db, records.SkillCategory),
		Static:        storage.NewPostgres(db, records.Static),
	}
}

// dialMongo retries with backoff to tolerate startup races with the database.
func dialMongo(ctx context.Context, cfg *config.Config) (*mongo.Client, error) {
	const maxAttempts = 5
	backoff := time.Second
	var (
		client *mongo.Client
		err    error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		client, err = connectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout)
		if err == nil {
			return client, nil
		}
		logger.Warnf("attempt %d/%d: failed to connect to MongoDB: %v", attempt, maxAttempts, err)
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return nil, fmt.Errorf("could not connect to MongoDB after %d attempts: %w", maxAttempts, err)
}

func (b *Backend) wrap(cfg *config.Config, s primary.Stores) primary.Stores {
	one := func(st storage.Storage) storage.Storage {
		if b.Redis != nil && cfg.Cache.Enabled {
			st = storage.NewCache(st, b.Redis, cfg.Cache.Prefix, cfg.Cache.TTL)
		}
		return storage.WithMetrics(st)
	}
	return primary.Stores{
		Experience:    one(s.Experience),
		Skill:         one(s.Skill),
		SkillCategory: one(s.SkillCategory),
		Static:        one(s.Static),
	}
}

func openPublisher(ctx context.Context, cfg *config.Config) (publish.Publisher, error) {
	if !cfg.MinIO.Enabled() {
		return publish.NewMemory(), nil
	}
	p, err := publish.NewMinIO(ctx, &cfg.MinIO)
	if err != nil {
		return nil, err
	}
	logger.Infof("publishing statics to bucket %s", cfg.MinIO.Bucket)
	return p, nil
}

// Check runs every dependency check and reports the result per dependency.
func (b *Backend) Check(ctx context.Context) map[string]bool {
	deps := map[string]bool{"storage": true}
	for name, check := range b.checks {
		if err := check(ctx); err != nil {
			logger.Debugf("readiness %s: %v", name, err)
			deps[name] = false
			continue
		}
		deps[name] = true
	}
	return deps
}

// Close releases every connection in reverse order of opening.
func (b *Backend) Close(ctx context.Context) error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	b.closers = nil
	return first
}
