// Package transformer turns raw transaction lines into cleaned records.
//
// The normalizer is a single-pass, streaming filter: lines flow in over a
// channel, rejected lines are counted per reason, and accepted lines leave
// with their derived fields populated. Nothing is buffered beyond the
// channels supplied by the caller.
package transformer

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"salesagg/internal/config"
	"salesagg/internal/sales"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// Reason names why a raw line was dropped. The empty Reason means accepted.
type Reason string

const (
	ReasonMissingCustomer      Reason = "missing_customer"
	ReasonNonPositiveQuantity  Reason = "non_positive_quantity"
	ReasonNonPositiveUnitPrice Reason = "non_positive_unit_price"
	ReasonBadTimestamp         Reason = "bad_timestamp"
)

// Reasons lists every drop reason in evaluation order.
var Reasons = []Reason{
	ReasonMissingCustomer,
	ReasonNonPositiveQuantity,
	ReasonNonPositiveUnitPrice,
	ReasonBadTimestamp,
}

// DefaultTimestampLayouts covers the retail export format ("12/1/2010 8:26")
// and the common ISO renderings.
var DefaultTimestampLayouts = []string{
	"1/2/2006 15:04",
	"1/2/2006 15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02",
}

// Normalizer applies the cleaning rules to one raw line at a time. It is
// immutable after construction and safe for concurrent use.
type Normalizer struct {
	layouts []string
	loc     *time.Location
}

// NewNormalizer builds a Normalizer from the "clean" config block.
func NewNormalizer(c config.Clean) (*Normalizer, error) {
	n := &Normalizer{layouts: c.TimestampLayouts, loc: time.UTC}
	if len(n.layouts) == 0 {
		n.layouts = DefaultTimestampLayouts
	}
	if c.Location != "" {
		loc, err := time.LoadLocation(c.Location)
		if err != nil {
			return nil, fmt.Errorf("normalize: location %q: %w", c.Location, err)
		}
		n.loc = loc
	}
	return n, nil
}

// Normalize validates r and derives the cleaned record. Filters run in a
// fixed order and stop at the first failure: missing customer, then
// non-positive quantity, then non-positive unit price. A timestamp that no
// layout accepts is the last check.
func (n *Normalizer) Normalize(r *sales.Raw) (*sales.Cleaned, Reason) {
	cust := canonicalCustomerID(r.CustomerID)
	if cust == "" {
		return nil, ReasonMissingCustomer
	}
	if r.Quantity <= 0 {
		return nil, ReasonNonPositiveQuantity
	}
	if !r.UnitPrice.IsPositive() {
		return nil, ReasonNonPositiveUnitPrice
	}
	ts, ok := n.parseTime(r.InvoiceDate)
	if !ok {
		return nil, ReasonBadTimestamp
	}

	desc := nfc(strings.TrimSpace(r.Description))
	return &sales.Cleaned{
		InvoiceNo:   strings.TrimSpace(r.InvoiceNo),
		StockCode:   r.StockCode,
		Description: desc,
		Quantity:    r.Quantity,
		UnitPrice:   r.UnitPrice,
		TotalPrice:  decimal.NewFromInt(r.Quantity).Mul(r.UnitPrice),
		InvoiceDate: ts,
		CustomerID:  cust,
		Country:     nfc(strings.TrimSpace(r.Country)),
		Year:        ts.Year(),
		Month:       int(ts.Month()),
		YearMonth:   fmt.Sprintf("%04d-%02d", ts.Year(), int(ts.Month())),
		Category:    firstToken(desc),
	}, ""
}

func (n *Normalizer) parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, l := range n.layouts {
		if t, err := time.ParseInLocation(l, s, n.loc); err == nil {
			return t.In(n.loc), true
		}
	}
	return time.Time{}, false
}

// canonicalCustomerID trims the id and folds the integral float rendering
// "17850.0" (digits, a dot, then only zeros) to "17850". Anything else is
// kept as is.
func canonicalCustomerID(s string) string {
	s = strings.TrimSpace(s)
	whole, frac, ok := strings.Cut(s, ".")
	if !ok || whole == "" || frac == "" {
		return s
	}
	if strings.Trim(frac, "0") != "" || strings.TrimLeft(whole, "0123456789") != "" {
		return s
	}
	return whole
}

// firstToken returns the leading whitespace-delimited token of s, or "".
func firstToken(s string) string {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	if i := strings.IndexFunc(s, unicode.IsSpace); i >= 0 {
		return s[:i]
	}
	return s
}

func nfc(s string) string {
	if norm.NFC.IsNormalString(s) {
		return s
	}
	return norm.NFC.String(s)
}

// NormalizeLoop drains in, forwarding accepted records to out. Rejections are
// counted on stats (when non-nil) and reported through onReject (when
// non-nil). The loop returns when in is closed or ctx is done; it never
// closes out.
func NormalizeLoop(
	ctx context.Context,
	n *Normalizer,
	in <-chan *sales.Raw,
	out chan<- *sales.Cleaned,
	stats *DropStats,
	onReject func(line int, reason Reason),
) {
	for r := range in {
		c, reason := n.Normalize(r)
		if reason != "" {
			if stats != nil {
				stats.Add(reason)
			}
			if onReject != nil {
				onReject(r.Line, reason)
			}
			continue
		}
		select {
		case out <- c:
		case <-ctx.Done():
			return
		}
	}
}
