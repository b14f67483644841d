// Package csvfile exports the cleaned record stream as CSV. Output goes to a
// temporary file next to the destination and is renamed into place by
// Commit; Abort removes it and leaves any earlier export untouched.
package csvfile

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"salesagg/internal/sales"

	"github.com/google/uuid"
)

// Header is the column layout of the cleaned export.
var Header = []string{
	"InvoiceNo", "StockCode", "Description", "Quantity", "InvoiceDate", "UnitPrice",
	"CustomerID", "Country", "Year", "Month", "YearMonth", "TotalPrice", "ProductCategory",
}

const timeLayout = "2006-01-02 15:04:05"

// Exporter streams cleaned records to a CSV file.
type Exporter struct {
	path string
	tmp  string
	f    *os.File
	bw   *bufio.Writer
	w    *csv.Writer
	rows int64
	rec  []string
}

// Create opens a temp file beside path and writes the header.
func Create(path string) (*Exporter, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("csvfile: mkdir: %w", err)
	}
	tmp := filepath.Join(dir, "."+filepath.Base(path)+".tmp-"+uuid.NewString())
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("csvfile: create: %w", err)
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	e := &Exporter{path: path, tmp: tmp, f: f, bw: bw, w: csv.NewWriter(bw), rec: make([]string, len(Header))}
	if err := e.w.Write(Header); err != nil {
		e.Abort()
		return nil, fmt.Errorf("csvfile: write header: %w", err)
	}
	return e, nil
}

// Write appends one record. Not safe for concurrent use.
func (e *Exporter) Write(c *sales.Cleaned) error {
	r := e.rec
	r[0] = c.InvoiceNo
	r[1] = c.StockCode
	r[2] = c.Description
	r[3] = strconv.FormatInt(c.Quantity, 10)
	r[4] = c.InvoiceDate.Format(timeLayout)
	r[5] = c.UnitPrice.String()
	r[6] = c.CustomerID
	r[7] = c.Country
	r[8] = strconv.Itoa(c.Year)
	r[9] = strconv.Itoa(c.Month)
	r[10] = c.YearMonth
	r[11] = c.TotalPrice.String()
	r[12] = c.Category
	if err := e.w.Write(r); err != nil {
		return fmt.Errorf("csvfile: write row: %w", err)
	}
	e.rows++
	return nil
}

// Rows returns the number of records written so far.
func (e *Exporter) Rows() int64 { return e.rows }

// Commit flushes, syncs and renames the temp file over the destination.
func (e *Exporter) Commit() error {
	e.w.Flush()
	if err := e.w.Error(); err != nil {
		e.Abort()
		return fmt.Errorf("csvfile: flush csv: %w", err)
	}
	if err := e.bw.Flush(); err != nil {
		e.Abort()
		return fmt.Errorf("csvfile: flush: %w", err)
	}
	if err := e.f.Sync(); err != nil {
		e.Abort()
		return fmt.Errorf("csvfile: sync: %w", err)
	}
	if err := e.f.Close(); err != nil {
		_ = os.Remove(e.tmp)
		return fmt.Errorf("csvfile: close: %w", err)
	}
	if err := os.Rename(e.tmp, e.path); err != nil {
		_ = os.Remove(e.tmp)
		return fmt.Errorf("csvfile: rename: %w", err)
	}
	return nil
}

// Abort discards the temp file.
func (e *Exporter) Abort() {
	_ = e.f.Close()
	_ = os.Remove(e.tmp)
}
