package aggregate

import (
	"errors"
	"fmt"
	"time"

	"salesagg/internal/sales"

	"github.com/shopspring/decimal"
)

// Field selects the cleaned-record attribute a metric reads.
type Field int

const (
	FieldInvoiceNo Field = iota
	FieldCustomerID
	FieldCountry
	FieldCategory
	FieldQuantity
	FieldUnitPrice
	FieldTotalPrice
	FieldInvoiceDate
)

func (f Field) kind() Kind {
	switch f {
	case FieldQuantity:
		return KindInt
	case FieldUnitPrice, FieldTotalPrice:
		return KindDecimal
	case FieldInvoiceDate:
		return KindTime
	default:
		return KindString
	}
}

func (f Field) str(c *sales.Cleaned) string {
	switch f {
	case FieldInvoiceNo:
		return c.InvoiceNo
	case FieldCustomerID:
		return c.CustomerID
	case FieldCountry:
		return c.Country
	case FieldCategory:
		return c.Category
	}
	return ""
}

func (f Field) dec(c *sales.Cleaned) decimal.Decimal {
	if f == FieldUnitPrice {
		return c.UnitPrice
	}
	return c.TotalPrice
}

func (f Field) instant(c *sales.Cleaned) time.Time { return c.InvoiceDate }

// Op is the reduction a metric applies to its field within a group.
type Op int

const (
	OpCountDistinct Op = iota
	OpSum
	OpAvg
	OpMin
	OpMax
)

func (o Op) String() string {
	switch o {
	case OpCountDistinct:
		return "count_distinct"
	case OpSum:
		return "sum"
	case OpAvg:
		return "avg"
	case OpMin:
		return "min"
	case OpMax:
		return "max"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Metric is one output column computed per group.
type Metric struct {
	Name  string
	Op    Op
	Field Field
}

// Kind returns the column kind the metric produces.
func (m Metric) Kind() Kind {
	switch m.Op {
	case OpCountDistinct:
		return KindInt
	case OpAvg:
		return KindDecimal
	default:
		return m.Field.kind()
	}
}

// KeyFunc extracts the group key of a record. An error routes the record to
// the unknown bucket.
type KeyFunc func(*sales.Cleaned) (Key, error)

// DefaultUnknownLabel is written into key columns of the unknown bucket.
const DefaultUnknownLabel = "(unknown)"

// Spec describes one grouped relation: how records are keyed, what is
// computed per group, and how groups are ordered and cut.
//
// A Spec with no KeyColumns is global: it always yields exactly one row.
type Spec struct {
	Name       string
	KeyColumns []string // zero, one or two names
	Key        KeyFunc  // nil for global specs
	Metrics    []Metric

	// OrderBy names the metric that drives ordering; "" orders by key.
	// Ties always fall back to ascending key order.
	OrderBy string
	Desc    bool
	// Limit caps the number of rows after ordering; 0 means no cap.
	Limit int

	UnknownLabel string
}

// Global reports whether the spec collapses everything into one group.
func (s *Spec) Global() bool { return len(s.KeyColumns) == 0 }

// Columns returns the output schema: key columns then metric columns.
func (s *Spec) Columns() []Column {
	cols := make([]Column, 0, len(s.KeyColumns)+len(s.Metrics))
	for _, k := range s.KeyColumns {
		cols = append(cols, Column{Name: k, Kind: KindString})
	}
	for _, m := range s.Metrics {
		cols = append(cols, Column{Name: m.Name, Kind: m.Kind()})
	}
	return cols
}

func (s *Spec) orderIndex() int {
	for i, m := range s.Metrics {
		if m.Name == s.OrderBy {
			return i
		}
	}
	return -1
}

func (s *Spec) unknownLabel() string {
	if s.UnknownLabel == "" {
		return DefaultUnknownLabel
	}
	return s.UnknownLabel
}

// Validate checks the spec for structural mistakes.
func (s *Spec) Validate() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("name is empty"))
	}
	if len(s.KeyColumns) > 2 {
		errs = append(errs, fmt.Errorf("%d key columns; at most 2 supported", len(s.KeyColumns)))
	}
	if s.Global() != (s.Key == nil) {
		errs = append(errs, errors.New("key function must be set exactly when key columns are"))
	}
	if s.Limit < 0 {
		errs = append(errs, fmt.Errorf("negative limit %d", s.Limit))
	}
	seen := map[string]bool{}
	for _, k := range s.KeyColumns {
		seen[k] = true
	}
	for _, m := range s.Metrics {
		if m.Name == "" || seen[m.Name] {
			errs = append(errs, fmt.Errorf("metric name %q is empty or duplicated", m.Name))
		}
		seen[m.Name] = true
		fk := m.Field.kind()
		switch m.Op {
		case OpCountDistinct:
			if fk != KindString {
				errs = append(errs, fmt.Errorf("metric %s: count_distinct needs a text field", m.Name))
			}
		case OpSum, OpAvg:
			if fk != KindInt && fk != KindDecimal {
				errs = append(errs, fmt.Errorf("metric %s: %s needs a numeric field", m.Name, m.Op))
			}
		case OpMin, OpMax:
			if fk == KindString {
				errs = append(errs, fmt.Errorf("metric %s: %s needs an ordered field", m.Name, m.Op))
			}
		default:
			errs = append(errs, fmt.Errorf("metric %s: unknown op %d", m.Name, int(m.Op)))
		}
	}
	if s.OrderBy != "" && s.orderIndex() < 0 {
		errs = append(errs, fmt.Errorf("order_by %q is not a metric", s.OrderBy))
	}
	if len(errs) > 0 {
		return fmt.Errorf("aggregate: spec %q: %w", s.Name, errors.Join(errs...))
	}
	return nil
}
