// Package sales defines the record types that flow through the pipeline: the
// raw transaction line as read from the source, and the cleaned record the
// normalizer hands to the aggregation stage.
package sales

import (
	"time"

	"github.com/shopspring/decimal"
)

// Raw is one transaction line as produced by the reader. Quantity and
// UnitPrice are already typed; InvoiceDate is kept as source text and parsed
// by the normalizer so that bad timestamps count as data-quality drops.
type Raw struct {
	Line        int // 1-based source line, for diagnostics
	InvoiceNo   string
	StockCode   string
	Description string
	Quantity    int64
	InvoiceDate string
	UnitPrice   decimal.Decimal
	// CustomerID is "" when the source cell was empty (null customer).
	CustomerID string
	Country    string
}

// HasCustomer reports whether the raw line carries a customer identifier.
func (r *Raw) HasCustomer() bool { return r.CustomerID != "" }

// Cleaned is a transaction line that passed every filter, with derived
// fields populated. Quantity, UnitPrice and TotalPrice are strictly positive.
type Cleaned struct {
	InvoiceNo   string
	StockCode   string
	Description string
	Quantity    int64
	UnitPrice   decimal.Decimal
	TotalPrice  decimal.Decimal
	InvoiceDate time.Time
	CustomerID  string
	Country     string

	Year      int
	Month     int
	YearMonth string // "YYYY-MM"
	Category  string // first whitespace-delimited token of Description; may be ""
}
