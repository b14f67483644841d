// Package mysql implements a MySQL report sink. MySQL DDL commits implicitly,
// so a relation is loaded into a staging table and swapped in with a single
// RENAME TABLE, which MySQL performs atomically.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"salesagg/internal/aggregate"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

// insertBatch bounds rows per multi-row INSERT.
const insertBatch = 500

// Config holds MySQL repository configuration.
type Config struct {
	DSN string
}

// Repository writes relations into MySQL tables.
type Repository struct {
	db *sql.DB
}

// NewRepository parses the DSN, opens a pool and pings it.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql dsn: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.UTC
	conn, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(conn)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	return &Repository{db: db}, func() { _ = db.Close() }, nil
}

// ReplaceTable loads rows into a staging table and renames it over table.
func (r *Repository) ReplaceTable(ctx context.Context, table string, cols []aggregate.Column, rows [][]any) (int64, error) {
	staging := table + "__staging"
	old := table + "__old"

	for _, q := range []string{
		"DROP TABLE IF EXISTS " + myFQN(staging),
		"DROP TABLE IF EXISTS " + myFQN(old),
		createTableSQL(staging, cols),
	} {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return 0, fmt.Errorf("prepare staging for %s: %w", table, err)
		}
	}

	n, err := r.insertRows(ctx, staging, cols, rows)
	if err != nil {
		_, _ = r.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+myFQN(staging))
		return 0, err
	}

	// The target must exist for the two-way rename; an empty clone is fine.
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s LIKE %s", myFQN(table), myFQN(staging))); err != nil {
		return 0, fmt.Errorf("ensure %s: %w", table, err)
	}
	if _, err := r.db.ExecContext(ctx, swapSQL(table, staging, old)); err != nil {
		return 0, fmt.Errorf("swap %s: %w", table, err)
	}
	if _, err := r.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+myFQN(old)); err != nil {
		return n, fmt.Errorf("drop %s: %w", old, err)
	}
	return n, nil
}

func (r *Repository) insertRows(ctx context.Context, table string, cols []aggregate.Column, rows [][]any) (int64, error) {
	var inserted int64
	for start := 0; start < len(rows); start += insertBatch {
		end := min(start+insertBatch, len(rows))
		chunk := rows[start:end]
		args := make([]any, 0, len(chunk)*len(cols))
		for i, row := range chunk {
			if len(row) != len(cols) {
				return 0, fmt.Errorf("insert into %s: row %d length %d != columns length %d", table, start+i, len(row), len(cols))
			}
			for _, v := range row {
				args = append(args, toSQL(v))
			}
		}
		res, err := r.db.ExecContext(ctx, insertSQL(table, cols, len(chunk)), args...)
		if err != nil {
			return 0, fmt.Errorf("insert into %s: %w", table, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += n
		}
	}
	return inserted, nil
}

func swapSQL(table, staging, old string) string {
	return fmt.Sprintf("RENAME TABLE %s TO %s, %s TO %s", myFQN(table), myFQN(old), myFQN(staging), myFQN(table))
}

func columnType(k aggregate.Kind) string {
	switch k {
	case aggregate.KindInt:
		return "BIGINT"
	case aggregate.KindDecimal:
		return "DECIMAL(38,6)"
	case aggregate.KindTime:
		return "DATETIME(6)"
	default:
		return "VARCHAR(255)"
	}
}

func createTableSQL(table string, cols []aggregate.Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = myIdent(c.Name) + " " + columnType(c.Kind) + " NULL"
	}
	return fmt.Sprintf("CREATE TABLE %s (%s) DEFAULT CHARSET=utf8mb4", myFQN(table), strings.Join(defs, ", "))
}

func insertSQL(table string, cols []aggregate.Column, nrows int) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = myIdent(c.Name)
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",") + ")"
	values := strings.TrimSuffix(strings.Repeat(tuple+",", nrows), ",")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", myFQN(table), strings.Join(names, ", "), values)
}

func toSQL(v any) any {
	switch x := v.(type) {
	case decimal.Decimal:
		return x.String()
	case time.Time:
		return x.UTC()
	default:
		return v
	}
}

// myIdent backtick-quotes an identifier, doubling embedded backticks.
func myIdent(id string) string { return "`" + strings.ReplaceAll(id, "`", "``") + "`" }

// myFQN quotes each dot-separated segment of a schema-qualified name.
func myFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = myIdent(p)
	}
	return strings.Join(parts, ".")
}
