package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pressly/goose/v3"
	"github.com/vitae/vitae/backend/go-services/internal/records"
	"github.com/vitae/vitae/backend/go-services/migrations"
)

// uniqueViolation is the SQLSTATE of a unique index violation.
const uniqueViolation = "23505"

// Postgres implements Storage over one table per definition. Unique
// indexes are named "<table>_<index>" so violations map back to a field.
type Postgres struct {
	def *records.Definition
	db  *sql.DB
}

func NewPostgres(db *sql.DB, def *records.Definition) *Postgres {
	return &Postgres{def: def, db: db}
}

func (p *Postgres) Definition() *records.Definition { return p.def }

func (p *Postgres) Add(ctx context.Context, rec records.Record, rev Revision) (string, error) {
	row, err := prepareAdd(p.def, rec)
	if err != nil {
		return "", err
	}
	query, args := insertSQL(p.def, row)
	id := row.ID()
	err = p.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
		return p.revise(ctx, tx, id, rev, ActionAdd, row.Without(records.Managed...))
	})
	if err != nil {
		return "", p.translate(err, row)
	}
	return id, nil
}

func (p *Postgres) Get(ctx context.Context, id string) (records.Record, error) {
	return p.one(ctx, quote(records.IDField), id)
}

func (p *Postgres) GetBy(ctx context.Context, index string, value any) (records.Record, error) {
	ix, err := lookupIndex(p.def, index)
	if err != nil {
		return nil, err
	}
	return p.one(ctx, quote(ix.Field), value)
}

func (p *Postgres) All(ctx context.Context) ([]records.Record, error) {
	return p.query(ctx, selectSQL(p.def, ""))
}

func (p *Postgres) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	q := fmt.Sprintf(`SELECT 1 FROM %s WHERE %s = $1`, quote(p.def.Name), quote(records.IDField))
	err := p.db.QueryRowContext(ctx, q, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s exists: %w", p.def.Name, err)
	}
	return true, nil
}

func (p *Postgres) Filter(ctx context.Context, field string, value any) ([]records.Record, error) {
	if _, ok := p.def.Field(field); !ok && field != records.IDField {
		return nil, fmt.Errorf("%s: unknown field %q", p.def.Name, field)
	}
	return p.query(ctx, selectSQL(p.def, quote(field)+" = $1"), value)
}

func (p *Postgres) Save(ctx context.Context, id string, changes records.Record, rev Revision) (bool, error) {
	set, err := prepareSave(p.def, changes)
	if err != nil {
		return false, err
	}
	query, args := updateSQL(p.def, id, set, now())
	var matched bool
	err = p.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		matched = true
		return p.revise(ctx, tx, id, rev, ActionSave, set)
	})
	if err != nil {
		return false, p.translate(err, set)
	}
	return matched, nil
}

func (p *Postgres) Remove(ctx context.Context, id string, rev Revision) (bool, error) {
	q := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, quote(p.def.Name), quote(records.IDField))
	var removed bool
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		removed = true
		return p.revise(ctx, tx, id, rev, ActionRemove, nil)
	})
	if err != nil {
		return false, fmt.Errorf("%s delete: %w", p.def.Name, err)
	}
	return removed, nil
}

func (p *Postgres) Revisions(ctx context.Context, id string) ([]RevisionEntry, error) {
	q := fmt.Sprintf(`SELECT "record", "user", "action", "changes", "at" FROM %s WHERE "record" = $1 ORDER BY "at", "_id"`,
		quote(p.def.Name+"_revisions"))
	rows, err := p.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("%s revisions: %w", p.def.Name, err)
	}
	defer rows.Close()
	out := []RevisionEntry{}
	for rows.Next() {
		var e RevisionEntry
		var changes []byte
		if err := rows.Scan(&e.Record, &e.User, &e.Action, &changes, &e.At); err != nil {
			return nil, err
		}
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &e.Changes); err != nil {
				return nil, fmt.Errorf("%s revision changes: %w", p.def.Name, err)
			}
		}
		e.At = e.At.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (p *Postgres) revise(ctx context.Context, tx *sql.Tx, id string, rev Revision, action string, changes records.Record) error {
	var payload any
	if len(changes) > 0 {
		b, err := json.Marshal(changes)
		if err != nil {
			return err
		}
		payload = string(b)
	}
	q := fmt.Sprintf(`INSERT INTO %s ("record", "user", "action", "changes", "at") VALUES ($1, $2, $3, $4, $5)`,
		quote(p.def.Name+"_revisions"))
	_, err := tx.ExecContext(ctx, q, id, rev.User, action, payload, now())
	return err
}

func (p *Postgres) one(ctx context.Context, column string, value any) (records.Record, error) {
	list, err := p.query(ctx, selectSQL(p.def, column+" = $1")+" LIMIT 1", value)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

func (p *Postgres) query(ctx context.Context, q string, args ...any) ([]records.Record, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s select: %w", p.def.Name, err)
	}
	defer rows.Close()
	cols := p.def.Columns()
	out := []records.Record{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, fromRow(p.def, cols, vals))
	}
	return out, rows.Err()
}

// translate maps a unique violation to a DuplicateError for the field of
// the violated index.
func (p *Postgres) translate(err error, row records.Record) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if ix, ok := indexForConstraint(p.def, pgErr.ConstraintName); ok {
			return &DuplicateError{Field: ix.Field, Value: row[ix.Field]}
		}
		return &DuplicateError{Field: records.IDField, Value: row.ID()}
	}
	return fmt.Errorf("%s write: %w", p.def.Name, err)
}

func indexForConstraint(def *records.Definition, constraint string) (records.Index, bool) {
	name := strings.TrimPrefix(constraint, def.Name+"_")
	return def.Index(name)
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func quoteAll(idents []string) []string {
	out := make([]string, len(idents))
	for i, s := range idents {
		out[i] = quote(s)
	}
	return out
}

func selectSQL(def *records.Definition, where string) string {
	q := fmt.Sprintf(`SELECT %s FROM %s`, strings.Join(quoteAll(def.Columns()), ", "), quote(def.Name))
	if where != "" {
		q += " WHERE " + where
	}
	return q + fmt.Sprintf(` ORDER BY %s, %s`, quote(records.CreatedField), quote(records.IDField))
}

// insertSQL builds an INSERT over the columns present in row, in
// definition order.
func insertSQL(def *records.Definition, row records.Record) (string, []any) {
	var cols, marks []string
	var args []any
	for _, c := range def.Columns() {
		v, ok := row[c]
		if !ok {
			continue
		}
		cols = append(cols, quote(c))
		args = append(args, v)
		marks = append(marks, "$"+strconv.Itoa(len(args)))
	}
	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, quote(def.Name), strings.Join(cols, ", "), strings.Join(marks, ", "))
	return q, args
}

// updateSQL builds an UPDATE of the changed columns plus _updated.
func updateSQL(def *records.Definition, id string, set records.Record, updated time.Time) (string, []any) {
	var assigns []string
	var args []any
	for _, c := range def.Columns() {
		v, ok := set[c]
		if !ok || c == records.IDField || c == records.CreatedField || c == records.UpdatedField {
			continue
		}
		args = append(args, v)
		assigns = append(assigns, quote(c)+" = $"+strconv.Itoa(len(args)))
	}
	args = append(args, updated)
	assigns = append(assigns, quote(records.UpdatedField)+" = $"+strconv.Itoa(len(args)))
	args = append(args, id)
	q := fmt.Sprintf(`UPDATE %s SET %s WHERE %s = $%d`, quote(def.Name), strings.Join(assigns, ", "), quote(records.IDField), len(args))
	return q, args
}

func fromRow(def *records.Definition, cols []string, vals []any) records.Record {
	out := make(records.Record, len(cols))
	for i, c := range cols {
		v := vals[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		if t, ok := v.(time.Time); ok {
			if f, isField := def.Field(c); isField && f.Type == records.Date {
				v = t.Format(records.DateLayout)
			} else {
				v = t.UTC()
			}
		}
		out[c] = v
	}
	return out
}

var (
	gooseUp = func(ctx context.Context, db *sql.DB, dir string) error {
		return goose.UpContext(ctx, db, dir)
	}
	gooseDownTo = func(ctx context.Context, db *sql.DB, dir string, version int64) error {
		return goose.DownToContext(ctx, db, dir, version)
	}
)

// PostgresInstaller applies the embedded goose migrations.
type PostgresInstaller struct {
	DB *sql.DB
}

func (i PostgresInstaller) setup() error {
	goose.SetBaseFS(migrations.FS)
	return goose.SetDialect("pgx")
}

func (i PostgresInstaller) Install(ctx context.Context) error {
	if err := i.setup(); err != nil {
		return err
	}
	if err := gooseUp(ctx, i.DB, "."); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func (i PostgresInstaller) Uninstall(ctx context.Context) error {
	if err := i.setup(); err != nil {
		return err
	}
	if err := gooseDownTo(ctx, i.DB, ".", 0); err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

var _ Storage = (*Postgres)(nil)
