package database

import (
	"context"
	"fmt"
	"net"

	"github.com/redis/go-redis/v9"
)

// NewRedis builds a client for host:port. It does not connect; use Ping.
func NewRedis(host, port, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(host, port),
		Password: password,
		DB:       db,
	})
}

// Ping checks the redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
