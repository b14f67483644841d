// Package mssql implements a Microsoft SQL Server report sink using the
// go-mssqldb bulk copy API. The destination table is dropped, recreated and
// bulk-loaded inside one transaction.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"salesagg/internal/aggregate"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"
	"github.com/shopspring/decimal"
)

// Config holds MSSQL repository configuration.
type Config struct {
	DSN string
}

// Repository writes relations into SQL Server tables.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	close := func() { _ = db.Close() }
	return &Repository{db: db}, close, nil
}

// ReplaceTable replaces table with the given rows in one transaction.
func (r *Repository) ReplaceTable(ctx context.Context, table string, cols []aggregate.Column, rows [][]any) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+msFQN(table)); err != nil {
		rollback()
		return 0, fmt.Errorf("drop %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, createTableSQL(table, cols)); err != nil {
		rollback()
		return 0, fmt.Errorf("create %s: %w", table, err)
	}
	if len(rows) == 0 {
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("commit: %w", err)
		}
		return 0, nil
	}

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(table, mssql.BulkOptions{Tablock: true}, names...))
	if err != nil {
		rollback()
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	args := make([]any, len(cols))
	for i, row := range rows {
		if len(row) != len(cols) {
			_ = stmt.Close()
			rollback()
			return 0, fmt.Errorf("bulk row %d: length %d != columns length %d", i, len(row), len(cols))
		}
		for j, v := range row {
			args[j] = toCopyVal(v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = stmt.Close()
			rollback()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx) // flush
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		rollback()
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		rollback()
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

func columnType(k aggregate.Kind) string {
	switch k {
	case aggregate.KindInt:
		return "BIGINT"
	case aggregate.KindDecimal:
		return "DECIMAL(38,6)"
	case aggregate.KindTime:
		return "DATETIME2"
	default:
		return "NVARCHAR(4000)"
	}
}

func createTableSQL(table string, cols []aggregate.Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = msIdent(c.Name) + " " + columnType(c.Kind) + " NULL"
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", msFQN(table), strings.Join(defs, ", "))
}

// toCopyVal converts decimals to their string form, which the bulk copy
// encoder parses at the column's scale. Times are sent in UTC.
func toCopyVal(v any) any {
	switch x := v.(type) {
	case decimal.Decimal:
		return x.StringFixed(6)
	case time.Time:
		return x.UTC()
	default:
		return v
	}
}

// msIdent safely quotes a SQL Server identifier using [brackets], escaping ].
func msIdent(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }

// msFQN quotes a possibly schema-qualified name like "dbo.summary" to
// "[dbo].[summary]".
func msFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = msIdent(p)
	}
	return strings.Join(parts, ".")
}
