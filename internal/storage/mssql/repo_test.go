package mssql

import (
	"context"
	"testing"
	"time"

	"salesagg/internal/aggregate"
	"salesagg/internal/storage"

	"github.com/shopspring/decimal"
)

func TestCreateTableSQL(t *testing.T) {
	t.Parallel()

	got := createTableSQL("dbo.sales_by_country", []aggregate.Column{
		{Name: "Country", Kind: aggregate.KindString},
		{Name: "TotalOrders", Kind: aggregate.KindInt},
		{Name: "TotalRevenue", Kind: aggregate.KindDecimal},
		{Name: "LastTransaction", Kind: aggregate.KindTime},
	})
	want := "CREATE TABLE [dbo].[sales_by_country] ([Country] NVARCHAR(4000) NULL, [TotalOrders] BIGINT NULL, " +
		"[TotalRevenue] DECIMAL(38,6) NULL, [LastTransaction] DATETIME2 NULL)"
	if got != want {
		t.Fatalf("createTableSQL =\n%s\nwant\n%s", got, want)
	}
}

func TestMsIdentEscapesBracket(t *testing.T) {
	t.Parallel()
	if got := msIdent("a]b"); got != "[a]]b]" {
		t.Fatalf("msIdent = %s", got)
	}
}

func TestToCopyVal(t *testing.T) {
	t.Parallel()

	if got := toCopyVal(decimal.RequireFromString("12.5")); got != "12.500000" {
		t.Fatalf("decimal = %v", got)
	}
	loc := time.FixedZone("X", 3600)
	ts := time.Date(2011, 1, 1, 10, 0, 0, 0, loc)
	if got := toCopyVal(ts).(time.Time); got.Location() != time.UTC || !got.Equal(ts) {
		t.Fatalf("time = %v", got)
	}
	if got := toCopyVal(nil); got != nil {
		t.Fatalf("nil = %v", got)
	}
}

// TestRegistrationUsesNewRepositoryHook verifies that the "mssql" backend
// builds through the newRepository hook and that Close reaches closeFn.
func TestRegistrationUsesNewRepositoryHook(t *testing.T) {
	orig := newRepository
	defer func() { newRepository = orig }()

	var (
		gotCfg   Config
		closed   bool
		fakeRepo = &Repository{}
	)
	newRepository = func(ctx context.Context, cfg Config) (*Repository, func(), error) {
		gotCfg = cfg
		return fakeRepo, func() { closed = true }, nil
	}

	sink, err := storage.New(context.Background(), storage.Config{Kind: "mssql", DSN: "sqlserver://example"})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	if gotCfg.DSN != "sqlserver://example" {
		t.Fatalf("hook cfg.DSN = %q", gotCfg.DSN)
	}
	w, ok := sink.(*wrappedRepo)
	if !ok || w.Repository != fakeRepo {
		t.Fatalf("storage.New() = %T, want *wrappedRepo around fake", sink)
	}
	if err := sink.Close(); err != nil || !closed {
		t.Fatalf("Close() err=%v closed=%v", err, closed)
	}
}

func TestNewRepository_BadDSN(t *testing.T) {
	t.Parallel()
	if _, _, err := NewRepository(context.Background(), Config{DSN: "sqlserver://%zz"}); err == nil {
		t.Fatalf("expected DSN error")
	}
}
