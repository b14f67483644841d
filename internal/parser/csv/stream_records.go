// Package csv streams retail transaction lines out of delimited text.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"salesagg/internal/config"
	"salesagg/internal/sales"

	"github.com/shopspring/decimal"
)

// Canonical column names of the retail layout, in positional order.
const (
	ColInvoiceNo   = "InvoiceNo"
	ColStockCode   = "StockCode"
	ColDescription = "Description"
	ColQuantity    = "Quantity"
	ColInvoiceDate = "InvoiceDate"
	ColUnitPrice   = "UnitPrice"
	ColCustomerID  = "CustomerID"
	ColCountry     = "Country"
)

var positional = []string{
	ColInvoiceNo, ColStockCode, ColDescription, ColQuantity,
	ColInvoiceDate, ColUnitPrice, ColCustomerID, ColCountry,
}

// optional columns may be absent from the header without failing the read.
var optional = map[string]bool{ColStockCode: true}

const utf8BOM = "\uFEFF"

// ErrMissingColumn is returned when the header lacks a required column.
var ErrMissingColumn = errors.New("csv: missing required column")

// StreamRecords reads src as CSV and emits one *sales.Raw per data line.
//
// Header handling:
//   - has_header (default true): the first line names the columns. Names are
//     mapped through header_map (source-name -> canonical) and then matched
//     case-insensitively against the canonical retail columns.
//   - has_header=false: columns are taken positionally in the retail order
//     InvoiceNo, StockCode, Description, Quantity, InvoiceDate, UnitPrice,
//     CustomerID, Country.
//
// Options: comma, trim_space (default true), lazy_quotes, encoding
// (utf-8 | iso-8859-1 | windows-1252).
//
// Malformed lines (CSV syntax errors, unparsable Quantity or UnitPrice) are
// reported through onErr(line, err) and skipped. Any other read failure is
// returned and ends the stream. src is always closed.
func StreamRecords(
	ctx context.Context,
	src io.ReadCloser,
	opt config.Options,
	out chan<- *sales.Raw,
	onErr func(line int, err error),
) error {
	defer src.Close()

	enc, err := decoderFor(opt.String("encoding", "utf-8"))
	if err != nil {
		return err
	}
	r := decodeReader(src, enc)

	cr := csv.NewReader(r)
	cr.Comma = opt.Rune("comma", ',')
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	trim := opt.Bool("trim_space", true)

	soft := func(line int, err error) {
		if onErr != nil {
			onErr(line, err)
		}
	}

	line := 0
	read := func() ([]string, error) {
		rec, err := cr.Read()
		var pe *csv.ParseError
		switch {
		case err == nil && len(rec) > 0:
			line, _ = cr.FieldPos(0)
		case errors.As(err, &pe):
			line = pe.StartLine
		}
		return rec, err
	}

	var ix columnIndex
	if opt.Bool("has_header", true) {
		hdr, err := read()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("csv: read header: %w", err)
		}
		ix, err = indexHeader(hdr, opt.StringMap("header_map"))
		if err != nil {
			return err
		}
	} else {
		ix = positionalIndex()
	}

	const logEveryN = 100_000
	emitted := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if isParseError(err) {
				soft(line, fmt.Errorf("csv read: %w", err))
				continue
			}
			return fmt.Errorf("csv: read line %d: %w", line, err)
		}

		raw, err := ix.decode(rec, trim)
		if err != nil {
			soft(line, err)
			continue
		}
		raw.Line = line

		select {
		case out <- raw:
			emitted++
			if emitted%logEveryN == 0 {
				log.Printf("reader: line=%d emitted=%d", line, emitted)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func isParseError(err error) bool {
	var pe *csv.ParseError
	return errors.As(err, &pe)
}

// columnIndex holds the source position of each canonical column, or -1.
type columnIndex map[string]int

func positionalIndex() columnIndex {
	ix := make(columnIndex, len(positional))
	for i, c := range positional {
		ix[c] = i
	}
	return ix
}

func indexHeader(hdr []string, headerMap map[string]string) (columnIndex, error) {
	canon := make(map[string]string, len(positional))
	for _, c := range positional {
		canon[strings.ToLower(c)] = c
	}

	ix := columnIndex{}
	for i, h := range hdr {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, utf8BOM)
		}
		if mapped, ok := headerMap[h]; ok {
			h = mapped
		}
		if c, ok := canon[strings.ToLower(h)]; ok {
			if _, dup := ix[c]; !dup {
				ix[c] = i
			}
		}
	}

	var missing []string
	for _, c := range positional {
		if _, ok := ix[c]; !ok && !optional[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return ix, nil
}

func (ix columnIndex) cell(rec []string, col string, trim bool) string {
	i, ok := ix[col]
	if !ok || i >= len(rec) {
		return ""
	}
	v := rec[i]
	if trim {
		v = strings.TrimSpace(v)
	}
	return v
}

// decode converts one CSV record into a Raw. Only Quantity and UnitPrice are
// typed here; every other rule belongs to the normalizer.
func (ix columnIndex) decode(rec []string, trim bool) (*sales.Raw, error) {
	qs := ix.cell(rec, ColQuantity, true)
	qty, err := strconv.ParseInt(qs, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("quantity %q: %w", qs, err)
	}
	ps := ix.cell(rec, ColUnitPrice, true)
	price, err := decimal.NewFromString(ps)
	if err != nil {
		return nil, fmt.Errorf("unit price %q: %w", ps, err)
	}
	return &sales.Raw{
		InvoiceNo:   ix.cell(rec, ColInvoiceNo, trim),
		StockCode:   ix.cell(rec, ColStockCode, trim),
		Description: ix.cell(rec, ColDescription, trim),
		Quantity:    qty,
		InvoiceDate: ix.cell(rec, ColInvoiceDate, trim),
		UnitPrice:   price,
		CustomerID:  ix.cell(rec, ColCustomerID, true),
		Country:     ix.cell(rec, ColCountry, trim),
	}, nil
}
