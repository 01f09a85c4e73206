// Package store persists leases, invoices, payments and units in SQLite
// through ent's dialect/sql driver and query builders. It implements
// billing.Repository and billing.UnitDirectory.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/sqlgraph"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/matthewbaird/rentroll/internal/billing"
	"github.com/matthewbaird/rentroll/internal/types"
)

// Schema is the DDL applied by Migrate.
//
//go:embed schema.sql
var Schema string

// Store is the SQLite-backed datastore.
type Store struct {
	drv *entsql.Driver
	log zerolog.Logger
}

// Open connects to the SQLite database at dsn. SQLite allows one writer, so
// the pool is capped at a single connection.
func Open(ctx context.Context, dsn string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Enable foreign keys explicitly, the DSN may not carry the pragma.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	return &Store{drv: entsql.OpenDB(dialect.SQLite, db), log: log}, nil
}

// Migrate applies the embedded schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.drv.Exec(ctx, Schema, []any{}, nil); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	s.log.Info().Msg("database migrated successfully")
	return nil
}

// Driver exposes the ent driver for collaborators sharing the database.
func (s *Store) Driver() dialect.Driver { return s.drv }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.drv.DB().PingContext(ctx) }

func (s *Store) Close() error { return s.drv.Close() }

// ── Transactions ────────────────────────────────────────────────────────────

type txKey struct{}

// WithTx runs fn in a transaction carried by the context passed to fn. Every
// store call made with that context joins the transaction. Nested calls reuse
// the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(dialect.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return billing.InfrastructureError("beginning transaction", err)
	}
	defer func() {
		if v := recover(); v != nil {
			_ = tx.Rollback()
			panic(v)
		}
	}()
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			s.log.Error().Err(rerr).Msg("rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return billing.InfrastructureError("committing transaction", err)
	}
	return nil
}

// conn returns the transaction in ctx, or the driver.
func (s *Store) conn(ctx context.Context) dialect.ExecQuerier {
	if tx, ok := ctx.Value(txKey{}).(dialect.Tx); ok {
		return tx
	}
	return s.drv
}

func builder() *entsql.DialectBuilder { return entsql.Dialect(dialect.SQLite) }

// exec runs a mutation and returns the number of affected rows.
func (s *Store) exec(ctx context.Context, op, query string, args []any) (int64, error) {
	var res sql.Result
	if err := s.conn(ctx).Exec(ctx, query, args, &res); err != nil {
		return 0, mapErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapErr(op, err)
	}
	return n, nil
}

// query runs a select and calls scan for every row.
func (s *Store) query(ctx context.Context, op string, sel *entsql.Selector, scan func(entsql.ColumnScanner) error) error {
	q, args := sel.Query()
	var rows entsql.Rows
	if err := s.conn(ctx).Query(ctx, q, args, &rows); err != nil {
		return mapErr(op, err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return mapErr(op, err)
		}
	}
	return mapErr(op, rows.Err())
}

// count runs SELECT COUNT(*) over table with the given predicates.
func (s *Store) count(ctx context.Context, op, table string, preds []*entsql.Predicate) (int, error) {
	sel := builder().Select(entsql.Count("*")).From(entsql.Table(table))
	for _, p := range preds {
		sel.Where(p)
	}
	var n int
	err := s.query(ctx, op, sel, func(r entsql.ColumnScanner) error { return r.Scan(&n) })
	return n, err
}

// mapErr converts driver errors into billing errors.
func mapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return billing.InfrastructureError(op, err)
	case sqlgraph.IsUniqueConstraintError(err):
		return &billing.Error{Kind: billing.KindConflict, Message: op + ": duplicate record", Err: err}
	case sqlgraph.IsForeignKeyConstraintError(err):
		return &billing.Error{Kind: billing.KindValidation, Message: op + ": referenced record does not exist", Err: err}
	case sqlgraph.IsCheckConstraintError(err):
		return &billing.Error{Kind: billing.KindValidation, Message: op + ": value out of range", Err: err}
	}
	return billing.InfrastructureError(op, err)
}

// ── Column encoding ─────────────────────────────────────────────────────────

// timestampLayout is fixed width so stored timestamps sort as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func dateArg(t time.Time) string { return t.UTC().Format(types.DateLayout) }

func tsArg(t time.Time) string { return t.UTC().Format(timestampLayout) }

func optDateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return dateArg(*t)
}

func optStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// decoder collects parse errors across the columns of one row.
type decoder struct{ err error }

func (d *decoder) date(s string) time.Time {
	t, err := time.ParseInLocation(types.DateLayout, s, time.UTC)
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t
}

func (d *decoder) optDate(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := d.date(s.String)
	return &t
}

func (d *decoder) ts(s string) time.Time {
	t, err := time.Parse(timestampLayout, s)
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t.UTC()
}

func optString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func placeholders(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

