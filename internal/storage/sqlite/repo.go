// Package sqlite implements a SQLite-backed report sink using database/sql.
// Each relation replaces its table inside one transaction; SQLite DDL is
// transactional, so readers see the old table until COMMIT.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"salesagg/internal/aggregate"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Config holds SQLite repository configuration derived from storage.Config.
type Config struct {
	// DSN is a SQLite connection string or file path, e.g.:
	//   "file:reports.db?_pragma=busy_timeout(5000)"
	//   "reports.db"
	DSN string
}

// Repository writes relations into SQLite tables.
type Repository struct {
	db *sql.DB
}

// NewRepository opens a SQLite connection and returns a Repository plus a
// close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("sqlite: DSN must not be empty")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	closeFn := func() { db.Close() }
	return &Repository{db: db}, closeFn, nil
}

// ReplaceTable drops and recreates table with the relation's schema and
// inserts every row, all in one transaction.
func (r *Repository) ReplaceTable(ctx context.Context, table string, cols []aggregate.Column, rows [][]any) (int64, error) {
	if len(cols) == 0 {
		return 0, fmt.Errorf("sqlite: %s: no columns", table)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+ident(table)); err != nil {
		return 0, fmt.Errorf("sqlite: drop %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, createTableSQL(table, cols)); err != nil {
		return 0, fmt.Errorf("sqlite: create %s: %w", table, err)
	}

	stmt, err := tx.PrepareContext(ctx, insertSQL(table, cols))
	if err != nil {
		return 0, fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	args := make([]any, len(cols))
	for _, row := range rows {
		if len(row) != len(cols) {
			return 0, fmt.Errorf("sqlite: %s: row length %d != columns length %d", table, len(row), len(cols))
		}
		for i, v := range row {
			args[i] = toSQL(v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("sqlite: insert into %s: %w", table, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return inserted, nil
}

// Query runs a read query; used by tests and ad-hoc inspection.
func (r *Repository) Query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return r.db.QueryContext(ctx, q, args...)
}

func ident(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// columnType maps relation kinds to SQLite storage classes. Decimals and
// times are stored as text so values round-trip exactly.
func columnType(k aggregate.Kind) string {
	switch k {
	case aggregate.KindInt:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func createTableSQL(table string, cols []aggregate.Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = ident(c.Name) + " " + columnType(c.Kind)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", ident(table), strings.Join(defs, ", "))
}

func insertSQL(table string, cols []aggregate.Column) string {
	names := make([]string, len(cols))
	ph := make([]string, len(cols))
	for i, c := range cols {
		names[i] = ident(c.Name)
		ph[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", ident(table), strings.Join(names, ", "), strings.Join(ph, ", "))
}

func toSQL(v any) any {
	switch x := v.(type) {
	case decimal.Decimal:
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}
