package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisPing(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	client := NewRedis(m.Host(), m.Port(), "", 0)
	require.Equal(t, m.Addr(), client.Options().Addr)
	require.NoError(t, Ping(context.Background(), client))

	m.Close()
	require.Error(t, Ping(context.Background(), client))
}

func TestConnectPostgresOpenError(t *testing.T) {
	orig := sqlOpen
	t.Cleanup(func() { sqlOpen = orig })

	var driver string
	sqlOpen = func(name, dsn string) (*sql.DB, error) {
		driver = name
		return nil, errors.New("bad dsn")
	}
	_, err := ConnectPostgres(context.Background(), "postgres://x", time.Second)
	require.ErrorContains(t, err, "postgres open: bad dsn")
	require.Equal(t, "pgx", driver)
}

func TestConnectMongoBadURI(t *testing.T) {
	_, err := ConnectMongo(context.Background(), "not-a-uri", 100*time.Millisecond)
	require.ErrorContains(t, err, "mongo connect")
}
