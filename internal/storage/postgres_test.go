package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"github.com/vitae/vitae/backend/go-services/internal/records"
)

func TestSelectSQL(t *testing.T) {
	q := selectSQL(records.SkillCategory, `"name" = $1`)
	require.Equal(t,
		`SELECT "_id", "_created", "_updated", "name" FROM "skill_category" WHERE "name" = $1 ORDER BY "_created", "_id"`, q)

	require.NotContains(t, selectSQL(records.Static, ""), "WHERE")
}

func TestInsertSQL(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	row := records.Record{
		"_id": "id-1", "_created": created, "_updated": created,
		"key": "intro", "content": "hello",
	}
	q, args := insertSQL(records.Static, row)
	require.Equal(t,
		`INSERT INTO "static" ("_id", "_created", "_updated", "key", "content") VALUES ($1, $2, $3, $4, $5)`, q)
	require.Equal(t, []any{"id-1", created, created, "intro", "hello"}, args)

	// absent optional columns are left to their defaults
	q, args = insertSQL(records.Skill, records.Record{"_id": "s", "name": "Go", "level": int64(3)})
	require.Equal(t, `INSERT INTO "skill" ("_id", "name", "level") VALUES ($1, $2, $3)`, q)
	require.Len(t, args, 3)
}

func TestUpdateSQL(t *testing.T) {
	at := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	set := records.Record{"level": int64(4), "name": "Go", "_created": at}
	q, args := updateSQL(records.Skill, "id-9", set, at)
	require.Equal(t,
		`UPDATE "skill" SET "name" = $1, "level" = $2, "_updated" = $3 WHERE "_id" = $4`, q)
	require.Equal(t, []any{"Go", int64(4), at, "id-9"}, args)
}

func TestQuoteEscapes(t *testing.T) {
	require.Equal(t, `"a""b"`, quote(`a"b`))
}

func TestTranslateUniqueViolation(t *testing.T) {
	p := &Postgres{def: records.Skill}
	row := records.Record{"_id": "x", "name": "Rust"}

	err := p.translate(&pgconn.PgError{Code: uniqueViolation, ConstraintName: "skill_ui_name"}, row)
	var dup *DuplicateError
	require.True(t, errors.As(err, &dup))
	require.Equal(t, "name", dup.Field)
	require.Equal(t, "Rust", dup.Value)

	err = p.translate(&pgconn.PgError{Code: uniqueViolation, ConstraintName: "skill_pkey"}, row)
	require.True(t, errors.As(err, &dup))
	require.Equal(t, records.IDField, dup.Field)

	other := errors.New("connection reset")
	err = p.translate(other, row)
	require.ErrorIs(t, err, other)
	require.False(t, errors.As(err, &dup))
}

func TestFromRow(t *testing.T) {
	from := time.Date(2020, 3, 1, 0, 0, 0, 0, time.FixedZone("X", 3600))
	cols := records.Experience.Columns()
	vals := make([]any, len(cols))
	for i, c := range cols {
		switch c {
		case "from":
			vals[i] = from
		case "_created":
			vals[i] = from
		case "description":
			vals[i] = []byte("text")
		}
	}
	rec := fromRow(records.Experience, cols, vals)
	require.Equal(t, "2020-03-01", rec["from"])
	require.Equal(t, time.UTC, rec["_created"].(time.Time).Location())
	require.Equal(t, "text", rec["description"])
	require.Nil(t, rec["to"])
}

func TestPostgresInstallerRunsMigrations(t *testing.T) {
	upOrig, downOrig := gooseUp, gooseDownTo
	t.Cleanup(func() { gooseUp, gooseDownTo = upOrig, downOrig })

	var calls []string
	var target int64 = -1
	gooseUp = func(ctx context.Context, db *sql.DB, dir string) error {
		calls = append(calls, "up:"+dir)
		return nil
	}
	gooseDownTo = func(ctx context.Context, db *sql.DB, dir string, version int64) error {
		calls = append(calls, "down:"+dir)
		target = version
		return nil
	}

	inst := PostgresInstaller{}
	require.NoError(t, inst.Install(context.Background()))
	require.NoError(t, inst.Uninstall(context.Background()))
	require.Equal(t, []string{"up:.", "down:."}, calls)
	require.Equal(t, int64(0), target)

	gooseUp = func(context.Context, *sql.DB, string) error { return errors.New("boom") }
	require.ErrorContains(t, inst.Install(context.Background()), "migrate up: boom")
}
