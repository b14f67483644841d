package aggregate

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeebo/xxh3"
)

// Kind is the value type of a relation column.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindDecimal
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindDecimal:
		return "decimal"
	case KindTime:
		return "time"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Column describes one relation column.
type Column struct {
	Name string
	Kind Kind
}

// Relation is a finished report table. Row values are string, int64,
// decimal.Decimal, time.Time or nil, matching the column kinds. A Relation is
// not modified after Finalize returns it.
type Relation struct {
	Name    string
	Columns []Column
	Rows    [][]any

	// Run statistics; not part of the data.
	Groups      int   // distinct keys before the limit was applied
	InputRows   int64 // records folded in
	UnknownKeys int64 // records routed to the unknown bucket
}

// ColumnIndex returns the position of name, or -1.
func (r *Relation) ColumnIndex(name string) int {
	for i, c := range r.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Checksum returns a stable fingerprint of the schema and rows. Two runs over
// the same input produce the same checksum regardless of worker counts.
func (r *Relation) Checksum() string {
	h := xxh3.New()
	var buf []byte
	for _, c := range r.Columns {
		buf = append(buf[:0], c.Name...)
		buf = append(buf, 0, byte(c.Kind), 0)
		_, _ = h.Write(buf)
	}
	for _, row := range r.Rows {
		for _, v := range row {
			buf = appendCanonical(buf[:0], v)
			buf = append(buf, 0x1f)
			_, _ = h.Write(buf)
		}
		_, _ = h.Write([]byte{0x1e})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// appendCanonical renders v in the form used for checksums and text sinks.
func appendCanonical(dst []byte, v any) []byte {
	switch x := v.(type) {
	case nil:
		return append(dst, 0)
	case string:
		return append(dst, x...)
	case int64:
		return strconv.AppendInt(dst, x, 10)
	case decimal.Decimal:
		return append(dst, x.String()...)
	case time.Time:
		return x.UTC().AppendFormat(dst, time.RFC3339Nano)
	default:
		return fmt.Appendf(dst, "%v", x)
	}
}

// FormatValue renders a relation value as text; nil becomes "".
func FormatValue(v any) string {
	if v == nil {
		return ""
	}
	return string(appendCanonical(nil, v))
}

type columnarColumn struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type columnar struct {
	Name     string           `json:"name"`
	Columns  []columnarColumn `json:"columns"`
	RowCount int              `json:"row_count"`
	Data     map[string][]any `json:"data"`
}

// MarshalColumnar encodes the relation as a column-oriented JSON document:
// one array of values per column, decimals as strings, times as RFC 3339.
func (r *Relation) MarshalColumnar() ([]byte, error) {
	doc := columnar{
		Name:     r.Name,
		Columns:  make([]columnarColumn, len(r.Columns)),
		RowCount: len(r.Rows),
		Data:     make(map[string][]any, len(r.Columns)),
	}
	for i, c := range r.Columns {
		doc.Columns[i] = columnarColumn{Name: c.Name, Kind: c.Kind.String()}
		vals := make([]any, len(r.Rows))
		for j, row := range r.Rows {
			switch v := row[i].(type) {
			case time.Time:
				vals[j] = v.UTC().Format(time.RFC3339Nano)
			default:
				vals[j] = v
			}
		}
		doc.Data[c.Name] = vals
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("aggregate: encode %s: %w", r.Name, err)
	}
	return b, nil
}

func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	switch x := a.(type) {
	case int64:
		return cmpInt(x, b.(int64))
	case decimal.Decimal:
		return x.Cmp(b.(decimal.Decimal))
	case time.Time:
		return x.Compare(b.(time.Time))
	case string:
		return compareNatural(x, b.(string))
	}
	return 0
}
