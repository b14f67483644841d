// Package parquet writes each report relation to <dir>/<dest>.parquet. The
// file is written under a temporary name in the same directory and renamed
// into place, so readers never observe a partial file.
package parquet

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"salesagg/internal/aggregate"
	"salesagg/internal/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/types"
	"github.com/xitongsys/parquet-go/writer"
)

// Decimal columns match the DECIMAL(38,6) used by the SQL sinks.
const (
	decimalPrecision = 38
	decimalScale     = 6
)

// Writer is a directory-backed parquet sink.
type Writer struct {
	dir      string
	parallel int64
}

// New prepares dir for parquet output.
func New(dir string, parallel int) (*Writer, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("parquet: directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("parquet: mkdir: %w", err)
	}
	if parallel < 1 {
		parallel = 1
	}
	return &Writer{dir: dir, parallel: int64(parallel)}, nil
}

func init() {
	storage.Register("parquet", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return New(cfg.DSN, cfg.Options.Int("parallel", 1))
	})
}

// Path returns the final file path for dest.
func (w *Writer) Path(dest string) string { return filepath.Join(w.dir, dest+".parquet") }

// Write encodes rel into a temp file and renames it over the destination.
func (w *Writer) Write(ctx context.Context, dest string, rel *aggregate.Relation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	final := w.Path(dest)
	tmp := final + ".tmp-" + uuid.NewString()
	if err := w.writeFile(tmp, rel); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("parquet: rename: %w", err)
	}
	log.Printf("parquet: wrote %s (%d rows)", final, len(rel.Rows))
	return nil
}

func (w *Writer) writeFile(path string, rel *aggregate.Relation) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("parquet: create: %w", err)
	}
	defer file.Close()

	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewCSVWriter(schemaFor(rel.Columns), fw, w.parallel)
	if err != nil {
		return fmt.Errorf("parquet: writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i, row := range rel.Rows {
		if len(row) != len(rel.Columns) {
			return fmt.Errorf("parquet: row %d length %d != columns length %d", i, len(row), len(rel.Columns))
		}
		rec := make([]interface{}, len(row))
		for j, v := range row {
			rec[j] = toParquet(v)
		}
		if err := pw.Write(rec); err != nil {
			return fmt.Errorf("parquet: write row %d: %w", i, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("parquet: finalize: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("parquet: sync: %w", err)
	}
	return nil
}

// schemaFor builds CSVWriter metadata. Every column is OPTIONAL because
// summary averages and bounds are null on empty input.
func schemaFor(cols []aggregate.Column) []string {
	md := make([]string, len(cols))
	for i, c := range cols {
		var typ string
		switch c.Kind {
		case aggregate.KindInt:
			typ = "type=INT64"
		case aggregate.KindDecimal:
			typ = fmt.Sprintf("type=BYTE_ARRAY, convertedtype=DECIMAL, precision=%d, scale=%d", decimalPrecision, decimalScale)
		case aggregate.KindTime:
			typ = "type=INT64, convertedtype=TIMESTAMP_MILLIS"
		default:
			typ = "type=BYTE_ARRAY, convertedtype=UTF8"
		}
		md[i] = fmt.Sprintf("name=%s, %s, repetitiontype=OPTIONAL", c.Name, typ)
	}
	return md
}

// toParquet converts a relation value to the CSVWriter representation.
// Decimals become the big-endian two's-complement unscaled integer that a
// DECIMAL byte array carries, rounded to decimalScale.
func toParquet(v any) interface{} {
	switch x := v.(type) {
	case decimal.Decimal:
		unscaled := x.Round(decimalScale).Shift(decimalScale).BigInt()
		return types.StrIntToBinary(unscaled.String(), "BigEndian", 0, true)
	case time.Time:
		return x.UnixMilli()
	default:
		return v
	}
}

func (w *Writer) Close() error { return nil }
