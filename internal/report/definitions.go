// Package report holds the fixed report definitions run over the cleaned
// transaction stream, and the runner that evaluates them in one pass.
package report

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"salesagg/internal/aggregate"
	"salesagg/internal/sales"
)

// Report names; these are also the destination names handed to the sink.
const (
	SalesByPeriod   = "sales_by_period"
	SalesByCategory = "sales_by_category"
	SalesByCountry  = "sales_by_country"
	TopCustomers    = "top_customers"
	Summary         = "summary"
)

// Names lists every report in the order they are run and written.
var Names = []string{SalesByPeriod, SalesByCategory, SalesByCountry, TopCustomers, Summary}

// Options tunes the definitions for one run.
type Options struct {
	// Limits overrides the default row limit per report; values <= 0 remove it.
	Limits       map[string]int
	UnknownLabel string
}

var errUndecodable = errors.New("key text is not valid UTF-8")

// textKey rejects text that could not be decoded from the source encoding.
// Empty text is a valid key.
func textKey(s string) error {
	if !utf8.ValidString(s) || strings.ContainsRune(s, utf8.RuneError) {
		return errUndecodable
	}
	return nil
}

func periodKey(c *sales.Cleaned) (aggregate.Key, error) {
	if c.YearMonth == "" {
		return aggregate.Key{}, errors.New("missing period")
	}
	return aggregate.Key{A: c.YearMonth}, nil
}

func categoryKey(c *sales.Cleaned) (aggregate.Key, error) {
	if err := textKey(c.Category); err != nil {
		return aggregate.Key{}, fmt.Errorf("category: %w", err)
	}
	return aggregate.Key{A: c.Category}, nil
}

func countryKey(c *sales.Cleaned) (aggregate.Key, error) {
	if err := textKey(c.Country); err != nil {
		return aggregate.Key{}, fmt.Errorf("country: %w", err)
	}
	return aggregate.Key{A: c.Country}, nil
}

func customerKey(c *sales.Cleaned) (aggregate.Key, error) {
	if err := textKey(c.CustomerID); err != nil {
		return aggregate.Key{}, fmt.Errorf("customer: %w", err)
	}
	if err := textKey(c.Country); err != nil {
		return aggregate.Key{}, fmt.Errorf("country: %w", err)
	}
	return aggregate.Key{A: c.CustomerID, B: c.Country}, nil
}

func define(name string) *aggregate.Spec {
	switch name {
	case SalesByPeriod:
		return &aggregate.Spec{
			Name:       SalesByPeriod,
			KeyColumns: []string{"YearMonth"},
			Key:        periodKey,
			Metrics: []aggregate.Metric{
				{Name: "TotalOrders", Op: aggregate.OpCountDistinct, Field: aggregate.FieldInvoiceNo},
				{Name: "TotalQuantity", Op: aggregate.OpSum, Field: aggregate.FieldQuantity},
				{Name: "TotalRevenue", Op: aggregate.OpSum, Field: aggregate.FieldTotalPrice},
				{Name: "AvgOrderValue", Op: aggregate.OpAvg, Field: aggregate.FieldTotalPrice},
				{Name: "UniqueCustomers", Op: aggregate.OpCountDistinct, Field: aggregate.FieldCustomerID},
			},
		}
	case SalesByCategory:
		return &aggregate.Spec{
			Name:       SalesByCategory,
			KeyColumns: []string{"ProductCategory"},
			Key:        categoryKey,
			Metrics: []aggregate.Metric{
				{Name: "TotalOrders", Op: aggregate.OpCountDistinct, Field: aggregate.FieldInvoiceNo},
				{Name: "TotalQuantitySold", Op: aggregate.OpSum, Field: aggregate.FieldQuantity},
				{Name: "TotalRevenue", Op: aggregate.OpSum, Field: aggregate.FieldTotalPrice},
				{Name: "AvgPrice", Op: aggregate.OpAvg, Field: aggregate.FieldUnitPrice},
				{Name: "UniqueCustomers", Op: aggregate.OpCountDistinct, Field: aggregate.FieldCustomerID},
			},
			OrderBy: "TotalRevenue",
			Desc:    true,
			Limit:   20,
		}
	case SalesByCountry:
		return &aggregate.Spec{
			Name:       SalesByCountry,
			KeyColumns: []string{"Country"},
			Key:        countryKey,
			Metrics: []aggregate.Metric{
				{Name: "TotalOrders", Op: aggregate.OpCountDistinct, Field: aggregate.FieldInvoiceNo},
				{Name: "TotalQuantity", Op: aggregate.OpSum, Field: aggregate.FieldQuantity},
				{Name: "TotalRevenue", Op: aggregate.OpSum, Field: aggregate.FieldTotalPrice},
				{Name: "AvgOrderValue", Op: aggregate.OpAvg, Field: aggregate.FieldTotalPrice},
				{Name: "UniqueCustomers", Op: aggregate.OpCountDistinct, Field: aggregate.FieldCustomerID},
			},
			OrderBy: "TotalRevenue",
			Desc:    true,
			Limit:   15,
		}
	case TopCustomers:
		return &aggregate.Spec{
			Name:       TopCustomers,
			KeyColumns: []string{"CustomerID", "Country"},
			Key:        customerKey,
			Metrics: []aggregate.Metric{
				{Name: "TotalOrders", Op: aggregate.OpCountDistinct, Field: aggregate.FieldInvoiceNo},
				{Name: "TotalQuantity", Op: aggregate.OpSum, Field: aggregate.FieldQuantity},
				{Name: "TotalSpent", Op: aggregate.OpSum, Field: aggregate.FieldTotalPrice},
				{Name: "AvgOrderValue", Op: aggregate.OpAvg, Field: aggregate.FieldTotalPrice},
			},
			OrderBy: "TotalSpent",
			Desc:    true,
			Limit:   20,
		}
	case Summary:
		return &aggregate.Spec{
			Name: Summary,
			Metrics: []aggregate.Metric{
				{Name: "TotalInvoices", Op: aggregate.OpCountDistinct, Field: aggregate.FieldInvoiceNo},
				{Name: "TotalCustomers", Op: aggregate.OpCountDistinct, Field: aggregate.FieldCustomerID},
				{Name: "TotalCountries", Op: aggregate.OpCountDistinct, Field: aggregate.FieldCountry},
				{Name: "TotalCategories", Op: aggregate.OpCountDistinct, Field: aggregate.FieldCategory},
				{Name: "TotalItemsSold", Op: aggregate.OpSum, Field: aggregate.FieldQuantity},
				{Name: "TotalRevenue", Op: aggregate.OpSum, Field: aggregate.FieldTotalPrice},
				{Name: "AvgTransactionValue", Op: aggregate.OpAvg, Field: aggregate.FieldTotalPrice},
				{Name: "FirstTransaction", Op: aggregate.OpMin, Field: aggregate.FieldInvoiceDate},
				{Name: "LastTransaction", Op: aggregate.OpMax, Field: aggregate.FieldInvoiceDate},
			},
		}
	}
	return nil
}

// Spec returns the definition of the named report with opts applied.
func Spec(name string, opts Options) (*aggregate.Spec, error) {
	s := define(name)
	if s == nil {
		return nil, fmt.Errorf("report: unknown report %q", name)
	}
	if l, ok := opts.Limits[name]; ok && !s.Global() {
		s.Limit = max(l, 0)
	}
	s.UnknownLabel = opts.UnknownLabel
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Select returns the definitions for names in canonical order. An empty list
// selects every report. Duplicates are collapsed.
func Select(names []string, opts Options) ([]*aggregate.Spec, error) {
	want := map[string]bool{}
	for _, n := range names {
		if define(n) == nil {
			return nil, fmt.Errorf("report: unknown report %q", n)
		}
		want[n] = true
	}
	var out []*aggregate.Spec
	for _, n := range Names {
		if len(want) > 0 && !want[n] {
			continue
		}
		s, err := Spec(n, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
