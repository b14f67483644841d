package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"salesagg/internal/sales"

	"github.com/shopspring/decimal"
)

func rec(inv, cust, country, desc string, qty int64, price string, ts time.Time) *sales.Cleaned {
	p := decimal.RequireFromString(price)
	cat := desc
	if i := strings.IndexByte(desc, ' '); i >= 0 {
		cat = desc[:i]
	}
	return &sales.Cleaned{
		InvoiceNo:   inv,
		CustomerID:  cust,
		Country:     country,
		Description: desc,
		Category:    cat,
		Quantity:    qty,
		UnitPrice:   p,
		TotalPrice:  decimal.NewFromInt(qty).Mul(p),
		InvoiceDate: ts,
		Year:        ts.Year(),
		Month:       int(ts.Month()),
		YearMonth:   ts.Format("2006-01"),
	}
}

func periodSpec() *Spec {
	return &Spec{
		Name:       "by_period",
		KeyColumns: []string{"YearMonth"},
		Key:        func(c *sales.Cleaned) (Key, error) { return Key{A: c.YearMonth}, nil },
		Metrics: []Metric{
			{Name: "TotalOrders", Op: OpCountDistinct, Field: FieldInvoiceNo},
			{Name: "TotalQuantity", Op: OpSum, Field: FieldQuantity},
			{Name: "TotalRevenue", Op: OpSum, Field: FieldTotalPrice},
			{Name: "AvgOrderValue", Op: OpAvg, Field: FieldTotalPrice},
			{Name: "UniqueCustomers", Op: OpCountDistinct, Field: FieldCustomerID},
		},
	}
}

func countrySpec(limit int) *Spec {
	return &Spec{
		Name:       "by_country",
		KeyColumns: []string{"Country"},
		Key:        func(c *sales.Cleaned) (Key, error) { return Key{A: c.Country}, nil },
		Metrics: []Metric{
			{Name: "TotalRevenue", Op: OpSum, Field: FieldTotalPrice},
			{Name: "TotalOrders", Op: OpCountDistinct, Field: FieldInvoiceNo},
		},
		OrderBy: "TotalRevenue",
		Desc:    true,
		Limit:   limit,
	}
}

func globalSpec() *Spec {
	return &Spec{
		Name: "global",
		Metrics: []Metric{
			{Name: "Invoices", Op: OpCountDistinct, Field: FieldInvoiceNo},
			{Name: "Items", Op: OpSum, Field: FieldQuantity},
			{Name: "Revenue", Op: OpSum, Field: FieldTotalPrice},
			{Name: "AvgValue", Op: OpAvg, Field: FieldTotalPrice},
			{Name: "First", Op: OpMin, Field: FieldInvoiceDate},
			{Name: "Last", Op: OpMax, Field: FieldInvoiceDate},
			{Name: "MinPrice", Op: OpMin, Field: FieldUnitPrice},
			{Name: "MaxQty", Op: OpMax, Field: FieldQuantity},
		},
	}
}

var jan5 = time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

func cell(t *testing.T, r *Relation, row int, col string) string {
	t.Helper()
	i := r.ColumnIndex(col)
	if i < 0 {
		t.Fatalf("relation %s has no column %q", r.Name, col)
	}
	return FormatValue(r.Rows[row][i])
}

/*
TestAggregate_WorkedExample: two lines of one invoice in 2024-01 with a total
of 15.0 yield one period row with one order, quantity 3, one customer.
*/
func TestAggregate_WorkedExample(t *testing.T) {
	t.Parallel()

	rel := Aggregate(periodSpec(), []*sales.Cleaned{
		rec("1", "C1", "UK", "MUG", 2, "5.00", jan5),
		rec("1", "C1", "UK", "MUG", 1, "5.00", jan5),
	})
	if len(rel.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rel.Rows))
	}
	checks := map[string]string{
		"YearMonth":       "2024-01",
		"TotalOrders":     "1",
		"TotalQuantity":   "3",
		"TotalRevenue":    "15",
		"AvgOrderValue":   "7.5",
		"UniqueCustomers": "1",
	}
	for col, want := range checks {
		if got := cell(t, rel, 0, col); got != want {
			t.Errorf("%s = %s, want %s", col, got, want)
		}
	}
}

func TestAggregate_AverageIsPerRowNotPerInvoice(t *testing.T) {
	t.Parallel()

	// Three rows over two invoices: 30 / 3 rows = 10, not 30 / 2 invoices.
	rel := Aggregate(periodSpec(), []*sales.Cleaned{
		rec("1", "C1", "UK", "A", 1, "10", jan5),
		rec("1", "C1", "UK", "A", 1, "10", jan5),
		rec("2", "C1", "UK", "A", 1, "10", jan5),
	})
	if got := cell(t, rel, 0, "AvgOrderValue"); got != "10" {
		t.Fatalf("AvgOrderValue = %s, want 10", got)
	}
}

func TestAggregate_OrderTieBreakAndLimit(t *testing.T) {
	t.Parallel()

	rel := Aggregate(countrySpec(3), []*sales.Cleaned{
		rec("1", "C", "Spain", "A", 1, "10", jan5),
		rec("2", "C", "Austria", "A", 1, "10", jan5),
		rec("3", "C", "Norway", "A", 1, "50", jan5),
		rec("4", "C", "Belgium", "A", 1, "10", jan5),
		rec("5", "C", "Cyprus", "A", 1, "1", jan5),
	})
	var got []string
	for i := range rel.Rows {
		got = append(got, cell(t, rel, i, "Country"))
	}
	want := "Norway,Austria,Belgium"
	if strings.Join(got, ",") != want {
		t.Fatalf("order = %v, want %s", got, want)
	}
	if rel.Groups != 5 {
		t.Fatalf("Groups = %d, want 5 (pre-limit)", rel.Groups)
	}
}

/*
TestFinalize_TieOrderIsStable feeds equal-revenue groups whose keys mix
digits and letters. Map iteration order differs between runs, so repeating
the aggregation exercises the sort from many starting orders; every run must
produce the same natural key order.
*/
func TestFinalize_TieOrderIsStable(t *testing.T) {
	t.Parallel()

	keys := []string{"10", "9", "1a", "2", "11", "1b"}
	want := []string{"1a", "1b", "2", "9", "10", "11"}
	recs := make([]*sales.Cleaned, len(keys))
	for i, k := range keys {
		recs[i] = rec(fmt.Sprintf("inv%d", i), "c1", k, "MUG", 1, "5.00", jan5)
	}

	for run := 0; run < 200; run++ {
		rel := Aggregate(countrySpec(0), recs)
		for i, w := range want {
			if got := cell(t, rel, i, "Country"); got != w {
				t.Fatalf("run %d: row %d = %q, want %q (order %v)", run, i, got, w, rel.Rows)
			}
		}
	}

	// With a limit, the same groups survive the cut every time.
	for run := 0; run < 50; run++ {
		rel := Aggregate(countrySpec(3), recs)
		if got := []string{cell(t, rel, 0, "Country"), cell(t, rel, 1, "Country"), cell(t, rel, 2, "Country")}; fmt.Sprint(got) != fmt.Sprint(want[:3]) {
			t.Fatalf("run %d: limited rows = %v, want %v", run, got, want[:3])
		}
	}
}

func TestAggregate_UnknownBucket(t *testing.T) {
	t.Parallel()

	spec := countrySpec(0)
	spec.UnknownLabel = "(n/a)"
	spec.Key = func(c *sales.Cleaned) (Key, error) {
		if c.Country == "" {
			return Key{}, errors.New("no country")
		}
		return Key{A: c.Country}, nil
	}
	p := NewPartial(spec)
	p.Add(rec("1", "C", "", "A", 1, "100", jan5))
	p.Add(rec("2", "C", "", "A", 1, "100", jan5))
	p.Add(rec("3", "C", "UK", "A", 1, "1", jan5))
	if p.UnknownKeys() != 2 {
		t.Fatalf("UnknownKeys = %d, want 2", p.UnknownKeys())
	}
	rel := p.Finalize()
	if len(rel.Rows) != 2 || cell(t, rel, 0, "Country") != "(n/a)" || cell(t, rel, 0, "TotalRevenue") != "200" {
		t.Fatalf("rows = %v", rel.Rows)
	}
	if rel.UnknownKeys != 2 || rel.InputRows != 3 {
		t.Fatalf("stats unknown=%d input=%d", rel.UnknownKeys, rel.InputRows)
	}
}

func TestAggregate_GlobalAlwaysOneRow(t *testing.T) {
	t.Parallel()

	empty := Aggregate(globalSpec(), nil)
	if len(empty.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(empty.Rows))
	}
	row := empty.Rows[0]
	if row[0] != int64(0) || row[1] != int64(0) {
		t.Fatalf("counts over empty input = %v", row)
	}
	if row[3] != nil || row[4] != nil || row[5] != nil {
		t.Fatalf("avg/min/max over empty input should be nil, got %v", row)
	}

	jan1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mar9 := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	rel := Aggregate(globalSpec(), []*sales.Cleaned{
		rec("1", "C", "UK", "A", 4, "2.50", jan5),
		rec("2", "C", "UK", "A", 1, "0.99", mar9),
		rec("2", "D", "FR", "A", 2, "3", jan1),
	})
	for col, want := range map[string]string{
		"Invoices": "2",
		"Items":    "7",
		"Revenue":  "16.99",
		"First":    "2024-01-01T00:00:00Z",
		"Last":     "2024-03-09T00:00:00Z",
		"MinPrice": "0.99",
		"MaxQty":   "4",
	} {
		if got := cell(t, rel, 0, col); got != want {
			t.Errorf("%s = %s, want %s", col, got, want)
		}
	}
}

func randomRecords(n int, seed uint64) []*sales.Cleaned {
	r := rand.New(rand.NewSource(int64(seed)))
	countries := []string{"UK", "France", "Germany", "EIRE", "Spain", "Norway"}
	descs := []string{"MUG RED", "SET OF 3", "HEART T-LIGHT", "", "CAKE STAND"}
	out := make([]*sales.Cleaned, n)
	for i := range out {
		price := decimal.New(int64(1+r.Intn(5000)), -2)
		ts := time.Date(2023+r.Intn(2), time.Month(1+r.Intn(12)), 1+r.Intn(28), r.Intn(24), 0, 0, 0, time.UTC)
		c := rec(
			fmt.Sprint(500000+r.Intn(n/3+1)),
			fmt.Sprint(12000+r.Intn(200)),
			countries[r.Intn(len(countries))],
			descs[r.Intn(len(descs))],
			int64(1+r.Intn(48)),
			price.String(),
			ts,
		)
		out[i] = c
	}
	return out
}

/*
TestMerge_MatchesSinglePass splits the same input several ways, merges the
partials in different orders, and expects the single-pass result every time.
*/
func TestMerge_MatchesSinglePass(t *testing.T) {
	t.Parallel()

	recs := randomRecords(3000, 7)
	for _, mk := range []func() *Spec{periodSpec, func() *Spec { return countrySpec(4) }, globalSpec} {
		spec := mk()
		want := Aggregate(spec, recs).Checksum()

		for _, k := range []int{2, 3, 7} {
			parts := make([]*Partial, k)
			for i := range parts {
				parts[i] = NewPartial(spec)
			}
			for i, c := range recs {
				parts[(i*31)%k].Add(c)
			}
			// Merge back to front to exercise commutativity.
			root := parts[k-1]
			for i := k - 2; i >= 0; i-- {
				if err := root.Merge(parts[i]); err != nil {
					t.Fatalf("merge: %v", err)
				}
			}
			if got := root.Finalize().Checksum(); got != want {
				t.Fatalf("%s split %d: checksum %s, want %s", spec.Name, k, got, want)
			}
		}
	}
}

/*
TestPartitionSum: summing a metric over all groups equals the metric over the
whole input, and every record lands in exactly one group.
*/
func TestPartitionSum(t *testing.T) {
	t.Parallel()

	recs := randomRecords(2000, 11)
	byCountry := Aggregate(countrySpec(0), recs)
	total := Aggregate(globalSpec(), recs)

	sum := decimal.Zero
	ri := byCountry.ColumnIndex("TotalRevenue")
	for _, row := range byCountry.Rows {
		sum = sum.Add(row[ri].(decimal.Decimal))
	}
	if want := total.Rows[0][total.ColumnIndex("Revenue")].(decimal.Decimal); !sum.Equal(want) {
		t.Fatalf("sum over groups = %s, global = %s", sum, want)
	}
	if byCountry.InputRows != int64(len(recs)) {
		t.Fatalf("InputRows = %d, want %d", byCountry.InputRows, len(recs))
	}
}

func TestAggregateParallel_MatchesSerial(t *testing.T) {
	t.Parallel()

	recs := randomRecords(5000, 3)
	spec := periodSpec()
	want := Aggregate(spec, recs).Checksum()
	for _, w := range []int{1, 2, 4, 8} {
		rel, err := AggregateParallel(context.Background(), spec, recs, w)
		if err != nil {
			t.Fatalf("workers=%d: %v", w, err)
		}
		if got := rel.Checksum(); got != want {
			t.Fatalf("workers=%d: checksum %s, want %s", w, got, want)
		}
	}
}

func TestAggregateParallel_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := AggregateParallel(ctx, periodSpec(), randomRecords(100, 1), 2)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestMergeAll(t *testing.T) {
	t.Parallel()

	spec := countrySpec(0)
	recs := randomRecords(600, 5)
	want := Aggregate(spec, recs).Checksum()

	ps := []*Partial{NewPartial(spec), NewPartial(spec), NewPartial(spec)}
	for i, c := range recs {
		ps[i%len(ps)].Add(c)
	}
	root, err := MergeAll(ps)
	if err != nil {
		t.Fatalf("MergeAll: %v", err)
	}
	if root != ps[0] || ps[1].Rows() != 0 || ps[2].Rows() != 0 {
		t.Fatalf("MergeAll must fold into the first partial and empty the rest")
	}
	if got := root.Finalize().Checksum(); got != want {
		t.Fatalf("checksum %s, want %s", got, want)
	}

	if _, err := MergeAll(nil); err == nil {
		t.Fatalf("expected error for no partials")
	}
	if _, err := MergeAll([]*Partial{NewPartial(spec), NewPartial(countrySpec(0))}); err == nil {
		t.Fatalf("expected spec mismatch error")
	}
}

func TestMerge_SpecMismatch(t *testing.T) {
	t.Parallel()
	if err := NewPartial(periodSpec()).Merge(NewPartial(periodSpec())); err == nil {
		t.Fatalf("expected spec mismatch error")
	}
}

func TestCompareNatural(t *testing.T) {
	t.Parallel()
	tests := []struct {
		a, b string
		want int
	}{
		{"9", "12346", -1},
		{"12346", "12346", 0},
		{"007", "7", -1}, // numerically equal; bytewise fallback keeps order total
		{"A", "B", -1},
		{"12", "A", -1},
		{"", "1", -1},
		{"9", "10", -1},
		{"10", "1a", 1},
		{"1a", "9", -1},
		{"1a", "1b", -1},
		{"3D", "50'S", -1},
		{"A2", "A10", -1},
		{"A07", "A7", -1},
	}
	for _, tt := range tests {
		if got := compareNatural(tt.a, tt.b); got != tt.want {
			t.Errorf("compareNatural(%q,%q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if got := compareNatural(tt.b, tt.a); got != -tt.want {
			t.Errorf("compareNatural(%q,%q) = %d, want %d", tt.b, tt.a, got, -tt.want)
		}
	}

	// Every triple over a mixed key set must be transitive.
	keys := []string{"9", "10", "1a", "2", "11", "1b", "", "007", "7", "A", "a1", "a01", "50'S", "3D"}
	for _, x := range keys {
		for _, y := range keys {
			for _, z := range keys {
				if compareNatural(x, y) < 0 && compareNatural(y, z) < 0 && compareNatural(x, z) >= 0 {
					t.Fatalf("not transitive: %q < %q < %q but compareNatural(%q,%q) = %d",
						x, y, z, x, z, compareNatural(x, z))
				}
			}
		}
	}
	if compareKeys(Key{Unknown: true}, Key{A: "zzz"}) != 1 {
		t.Errorf("unknown bucket must sort last")
	}
}

func TestSpecValidate(t *testing.T) {
	t.Parallel()

	bad := []*Spec{
		{Name: "", Metrics: nil},
		{Name: "x", KeyColumns: []string{"a"}},
		{Name: "x", Key: periodSpec().Key},
		{Name: "x", Metrics: []Metric{{Name: "m", Op: OpSum, Field: FieldCountry}}},
		{Name: "x", Metrics: []Metric{{Name: "m", Op: OpCountDistinct, Field: FieldQuantity}}},
		{Name: "x", Metrics: []Metric{{Name: "m", Op: OpMin, Field: FieldCountry}}},
		{Name: "x", Metrics: []Metric{{Name: "m", Op: OpSum, Field: FieldQuantity}, {Name: "m", Op: OpSum, Field: FieldQuantity}}},
		{Name: "x", OrderBy: "nope"},
		{Name: "x", Limit: -1},
	}
	for i, s := range bad {
		if err := s.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
	for _, s := range []*Spec{periodSpec(), countrySpec(15), globalSpec()} {
		if err := s.Validate(); err != nil {
			t.Errorf("%s: %v", s.Name, err)
		}
	}
}

func TestRelation_MarshalColumnar(t *testing.T) {
	t.Parallel()

	rel := Aggregate(globalSpec(), []*sales.Cleaned{rec("1", "C", "UK", "A", 2, "1.25", jan5)})
	b, err := rel.MarshalColumnar()
	if err != nil {
		t.Fatalf("MarshalColumnar: %v", err)
	}
	var doc struct {
		Name     string           `json:"name"`
		RowCount int              `json:"row_count"`
		Data     map[string][]any `json:"data"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Name != "global" || doc.RowCount != 1 {
		t.Fatalf("doc = %+v", doc)
	}
	if got := doc.Data["Revenue"][0]; got != "2.5" {
		t.Fatalf("Revenue = %#v, want \"2.5\"", got)
	}
	if got := doc.Data["First"][0]; got != "2024-01-05T10:00:00Z" {
		t.Fatalf("First = %#v", got)
	}
	if got := doc.Data["Items"][0]; got != float64(2) {
		t.Fatalf("Items = %#v", got)
	}
}

func BenchmarkPartialAdd(b *testing.B) {
	recs := randomRecords(10000, 5)
	spec := periodSpec()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p := NewPartial(spec)
		for _, c := range recs {
			p.Add(c)
		}
	}
}
