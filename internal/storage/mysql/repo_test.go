package mysql

import (
	"context"
	"strings"
	"testing"

	"salesagg/internal/aggregate"
	"salesagg/internal/storage"
)

// TestMyIdent verifies backtick quoting and escaping.
func TestMyIdent(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"simple", "`simple`"},
		{"tick`name", "`tick``name`"},
	}
	for _, tc := range cases {
		if got := myIdent(tc.in); got != tc.want {
			t.Fatalf("myIdent(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
	if got := myFQN("rpt.summary"); got != "`rpt`.`summary`" {
		t.Fatalf("myFQN = %q", got)
	}
}

// TestSwapSQL checks that both renames happen in a single statement.
func TestSwapSQL(t *testing.T) {
	got := swapSQL("summary", "summary__staging", "summary__old")
	want := "RENAME TABLE `summary` TO `summary__old`, `summary__staging` TO `summary`"
	if got != want {
		t.Fatalf("swapSQL = %q; want %q", got, want)
	}
}

func TestInsertSQL_MultiRow(t *testing.T) {
	cols := []aggregate.Column{{Name: "Country", Kind: aggregate.KindString}, {Name: "TotalOrders", Kind: aggregate.KindInt}}
	got := insertSQL("t", cols, 3)
	want := "INSERT INTO `t` (`Country`, `TotalOrders`) VALUES (?,?),(?,?),(?,?)"
	if got != want {
		t.Fatalf("insertSQL = %q; want %q", got, want)
	}
}

func TestCreateTableSQL_Types(t *testing.T) {
	got := createTableSQL("t", []aggregate.Column{
		{Name: "a", Kind: aggregate.KindString},
		{Name: "b", Kind: aggregate.KindInt},
		{Name: "c", Kind: aggregate.KindDecimal},
		{Name: "d", Kind: aggregate.KindTime},
	})
	for _, frag := range []string{"`a` VARCHAR(255)", "`b` BIGINT", "`c` DECIMAL(38,6)", "`d` DATETIME(6)", "utf8mb4"} {
		if !strings.Contains(got, frag) {
			t.Fatalf("createTableSQL missing %q: %s", frag, got)
		}
	}
}

func TestNewRepository_BadDSN(t *testing.T) {
	if _, _, err := NewRepository(context.Background(), Config{DSN: "not a dsn"}); err == nil {
		t.Fatalf("expected DSN parse error")
	}
}

func TestRegistrationUsesNewRepositoryHook(t *testing.T) {
	orig := newRepository
	defer func() { newRepository = orig }()

	closed := false
	newRepository = func(ctx context.Context, cfg Config) (*Repository, func(), error) {
		if cfg.DSN != "u:p@tcp(db:3306)/rpt" {
			t.Errorf("hook cfg.DSN = %q", cfg.DSN)
		}
		return &Repository{}, func() { closed = true }, nil
	}
	sink, err := storage.New(context.Background(), storage.Config{Kind: "mysql", DSN: "u:p@tcp(db:3306)/rpt"})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	if _, ok := sink.(*wrappedRepo); !ok {
		t.Fatalf("type = %T", sink)
	}
	_ = sink.Close()
	if !closed {
		t.Fatalf("closeFn not called")
	}
}
