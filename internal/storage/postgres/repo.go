// Package postgres implements a Postgres report sink using pgx v5. A relation
// replaces its table with DROP, CREATE and COPY inside one transaction;
// Postgres DDL is transactional, so readers switch over at COMMIT.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"salesagg/internal/aggregate"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Config holds Postgres repository configuration.
type Config struct {
	DSN string // connection string for pgxpool
	// Schema qualifies table names that carry no schema of their own.
	Schema string
}

// Repository writes relations into Postgres tables.
type Repository struct {
	pool *pgxpool.Pool
	cfg  Config
}

// NewRepository constructs a Repository and returns a close function.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Repository{pool: pool, cfg: cfg}, pool.Close, nil
}

func (r *Repository) qualify(table string) string {
	if r.cfg.Schema != "" && !strings.Contains(table, ".") {
		return r.cfg.Schema + "." + table
	}
	return table
}

// ReplaceTable swaps the contents of table for rows in one transaction.
func (r *Repository) ReplaceTable(ctx context.Context, table string, cols []aggregate.Column, rows [][]any) (int64, error) {
	table = r.qualify(table)
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+pgFQN(table)); err != nil {
		return 0, fmt.Errorf("postgres: drop %s: %w", table, err)
	}
	if _, err := tx.Exec(ctx, createTableSQL(table, cols)); err != nil {
		return 0, fmt.Errorf("postgres: create %s: %w", table, err)
	}

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	src := make([][]any, len(rows))
	for i, row := range rows {
		if len(row) != len(cols) {
			return 0, fmt.Errorf("postgres: %s: row length %d != columns length %d", table, len(row), len(cols))
		}
		vals := make([]any, len(row))
		for j, v := range row {
			vals[j] = toPG(v)
		}
		src[i] = vals
	}
	n, err := tx.CopyFrom(ctx, splitFQN(table), names, pgx.CopyFromRows(src))
	if err != nil {
		return 0, fmt.Errorf("postgres: copy into %s: %w", table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit: %w", err)
	}
	return n, nil
}

// pgIdent quotes a single identifier.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// pgFQN quotes a possibly schema-qualified name like "public.sales" to
// "public"."sales".
func pgFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pgIdent(p)
	}
	return strings.Join(parts, ".")
}

// splitFQN converts "schema.table" into a pgx.Identifier for CopyFrom.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}

func columnType(k aggregate.Kind) string {
	switch k {
	case aggregate.KindInt:
		return "bigint"
	case aggregate.KindDecimal:
		return "numeric"
	case aggregate.KindTime:
		return "timestamptz"
	default:
		return "text"
	}
}

func createTableSQL(table string, cols []aggregate.Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = pgIdent(c.Name) + " " + columnType(c.Kind)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", pgFQN(table), strings.Join(defs, ", "))
}

// toPG converts decimals to pgtype.Numeric so COPY's binary format carries
// them without going through float64.
func toPG(v any) any {
	if d, ok := v.(decimal.Decimal); ok {
		return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
	}
	return v
}
