// Package main wires the aggregation pipeline end-to-end. This file keeps the
// CLI layer thin: it depends on the storage-agnostic Sink contract and never
// imports database drivers directly.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"salesagg/internal/aggregate"
	"salesagg/internal/config"
	"salesagg/internal/datasource"
	"salesagg/internal/datasource/file"
	"salesagg/internal/datasource/httpsrc"
	"salesagg/internal/metrics"
	csvparser "salesagg/internal/parser/csv"
	"salesagg/internal/report"
	"salesagg/internal/sales"
	"salesagg/internal/storage"
	"salesagg/internal/storage/csvfile"
	"salesagg/internal/transformer"

	"golang.org/x/sync/errgroup"
)

const thisMany = 3

// counters holds cross-goroutine statistics for one run.
type counters struct {
	read        atomic.Int64 // records the reader emitted
	parseErrors atomic.Int64 // lines the reader could not decode
	cleaned     atomic.Int64 // records that passed the normalizer
	exported    atomic.Int64 // records written to the cleaned export
}

// runtimeConfig holds resolved concurrency and buffering settings. Values
// come from the pipeline with environment fallbacks.
type runtimeConfig struct {
	normalizers int
	aggregators int
	sinkWorkers int
	bufferSize  int
}

// Function variables used to introduce test seams.
var (
	newSinkFn = storage.New

	openSourceFn = openSource

	streamRecordsFn = csvparser.StreamRecords
)

// run executes source → reader → normalizers → tap (count, optional cleaned
// export) → report runner → sinks.
//
// Data-quality drops and malformed lines are counted and never fatal. A
// source failure cancels the run before anything is written. Each report is
// written independently; any write failure fails the run after the others
// have been attempted.
//
// Stats reported:
//
//   - read:         records the reader produced
//   - parse_errors: lines the reader skipped
//   - dropped_*:    normalizer rejections per reason
//   - cleaned:      records that reached aggregation
func run(ctx context.Context, p config.Pipeline, runID string) error {
	rt := newRuntimeConfig(p)
	job := p.Job

	log.Printf("runtime: run_id=%s normalizers=%d aggregators=%d sink_workers=%d buffer=%d",
		runID, rt.normalizers, rt.aggregators, rt.sinkWorkers, rt.bufferSize)

	specs, err := report.Select(p.Reports.Names, report.Options{
		Limits:       p.Reports.Limits,
		UnknownLabel: p.Reports.UnknownLabel,
	})
	if err != nil {
		return err
	}
	norm, err := transformer.NewNormalizer(p.Clean)
	if err != nil {
		return err
	}

	sink, err := newSinkFn(ctx, storage.Config{
		Kind:    p.Sink.Kind,
		DSN:     p.Sink.DSN,
		Prefix:  p.Sink.Prefix,
		Options: p.Sink.Options,
		RunID:   runID,
	})
	if err != nil {
		return fmt.Errorf("init sink: %w", err)
	}
	defer sink.Close()

	var exporter *csvfile.Exporter
	if p.Cleaned.Path != "" {
		if exporter, err = csvfile.Create(p.Cleaned.Path); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		stats counters
		drops transformer.DropStats
	)
	parseAgg := newErrAgg(thisMany)
	rejectAgg := newErrAgg(thisMany)

	rawCh := make(chan *sales.Raw, rt.bufferSize)        // reader → tap
	tapRawCh := make(chan *sales.Raw, rt.bufferSize)     // tap → normalizers
	cleanCh := make(chan *sales.Cleaned, rt.bufferSize)  // normalizers → tap
	reportCh := make(chan *sales.Cleaned, rt.bufferSize) // tap → runner

	// 1) Reader.
	var readErr error
	var wgReader sync.WaitGroup
	wgReader.Add(1)
	go func() {
		defer wgReader.Done()
		defer close(rawCh)

		start := time.Now()
		onParseErr := func(line int, err error) {
			parseAgg.add(fmt.Sprintf("line=%d: %v", line, err))
			stats.parseErrors.Add(1)
		}
		src, err := openSourceFn(ctx, p)
		if err == nil {
			err = streamRecordsFn(ctx, src, p.Parser.Options, rawCh, onParseErr)
		} else {
			err = fmt.Errorf("source open: %w", err)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			readErr = err
			cancel()
		}
		metrics.RecordStep(job, "read", readErr, time.Since(start))
	}()

	// 2) Tap: count read records.
	go func() {
		defer close(tapRawCh)
		for r := range rawCh {
			stats.read.Add(1)
			select {
			case tapRawCh <- r:
			case <-ctx.Done():
				for range rawCh {
				}
				return
			}
		}
	}()

	// 3) Normalizers.
	var wgNorm sync.WaitGroup
	wgNorm.Add(rt.normalizers)
	for i := 0; i < rt.normalizers; i++ {
		go func() {
			defer wgNorm.Done()
			transformer.NormalizeLoop(ctx, norm, tapRawCh, cleanCh, &drops, func(line int, reason transformer.Reason) {
				rejectAgg.add(fmt.Sprintf("line=%d: %s", line, reason))
			})
		}()
	}
	go func() {
		wgNorm.Wait()
		close(cleanCh)
	}()

	// 4) Tap: count cleaned records and feed the optional export.
	var exportErr error
	var wgTap sync.WaitGroup
	wgTap.Add(1)
	go func() {
		defer wgTap.Done()
		defer close(reportCh)
		for c := range cleanCh {
			stats.cleaned.Add(1)
			if exporter != nil && exportErr == nil {
				if err := exporter.Write(c); err != nil {
					exportErr = err
					exporter.Abort()
				} else {
					stats.exported.Add(1)
				}
			}
			select {
			case reportCh <- c:
			case <-ctx.Done():
				for range cleanCh {
				}
				return
			}
		}
	}()

	// 5) Aggregation.
	aggStart := time.Now()
	runner := &report.Runner{Specs: specs, Workers: rt.aggregators, Buffer: rt.bufferSize}
	rels, aggErr := runner.Run(ctx, reportCh)
	if aggErr != nil {
		cancel()
	}
	wgReader.Wait()
	wgTap.Wait()
	metrics.RecordStep(job, "aggregate", aggErr, time.Since(aggStart))

	if readErr != nil {
		if exporter != nil && exportErr == nil {
			exporter.Abort()
		}
		return fmt.Errorf("read: %w", readErr)
	}
	if aggErr != nil {
		if exporter != nil && exportErr == nil {
			exporter.Abort()
		}
		return aggErr
	}

	logErrorSamples(parseAgg, rejectAgg)
	logGlobalSummary(&stats, &drops)
	recordRowMetrics(job, &stats, &drops)

	var errs []error
	if exporter != nil {
		start := time.Now()
		if exportErr == nil {
			exportErr = exporter.Commit()
		}
		metrics.RecordStep(job, "export", exportErr, time.Since(start))
		if exportErr != nil {
			errs = append(errs, fmt.Errorf("cleaned export: %w", exportErr))
		} else {
			log.Printf("export: path=%s rows=%d", p.Cleaned.Path, stats.exported.Load())
		}
	}

	logKPIs(rels)

	errs = append(errs, writeReports(ctx, job, sink, p.Sink.Prefix, rels, rt.sinkWorkers)...)
	return errors.Join(errs...)
}

// writeReports writes every relation, at most workers at a time. A failed
// write does not stop the others.
func writeReports(ctx context.Context, job string, sink storage.Sink, prefix string, rels []*aggregate.Relation, workers int) []error {
	errs := make([]error, len(rels))
	var g errgroup.Group
	g.SetLimit(max(workers, 1))
	for i, rel := range rels {
		i, rel := i, rel
		g.Go(func() error {
			dest := storage.Destination(prefix, rel.Name)
			start := time.Now()
			err := sink.Write(ctx, dest, rel)
			metrics.RecordStep(job, "write:"+rel.Name, err, time.Since(start))
			if err != nil {
				log.Printf("sink: report=%s dest=%s failed: %v", rel.Name, dest, err)
				errs[i] = fmt.Errorf("write %s: %w", rel.Name, err)
				return nil
			}
			metrics.RecordReport(job, rel.Name, int64(len(rel.Rows)))
			log.Printf("sink: report=%s dest=%s rows=%d checksum=%s elapsed=%s",
				rel.Name, dest, len(rel.Rows), rel.Checksum(), time.Since(start).Truncate(time.Millisecond))
			return nil
		})
	}
	_ = g.Wait()

	var out []error
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

// newRuntimeConfig resolves the runtime configuration for a run using the
// pipeline values and environment-variable fallbacks.
func newRuntimeConfig(p config.Pipeline) runtimeConfig {
	return runtimeConfig{
		normalizers: pickInt(p.Runtime.NormalizeWorkers, getenvInt("SALESAGG_NORMALIZE_WORKERS", 4)),
		aggregators: pickInt(p.Runtime.AggregateWorkers, getenvInt("SALESAGG_AGGREGATE_WORKERS", 4)),
		sinkWorkers: pickInt(p.Runtime.SinkWorkers, getenvInt("SALESAGG_SINK_WORKERS", 1)),
		bufferSize:  pickInt(p.Runtime.ChannelBuffer, getenvInt("SALESAGG_CH_BUFFER", 4096)),
	}
}

func openSource(ctx context.Context, p config.Pipeline) (io.ReadCloser, error) {
	src, err := newSource(p.Source)
	if err != nil {
		return nil, err
	}
	return src.Open(ctx)
}

// newSource builds the data source selected by source.kind.
func newSource(s config.Source) (datasource.Source, error) {
	switch s.Kind {
	case "file":
		return file.NewLocal(s.File.Path), nil
	case "http":
		return httpsrc.New(httpsrc.Config{
			URL:        s.HTTP.URL,
			Headers:    s.HTTP.Headers,
			Timeout:    time.Duration(s.HTTP.TimeoutSeconds) * time.Second,
			MaxRetries: s.HTTP.MaxRetries,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported source.kind=%s", s.Kind)
	}
}

// logErrorSamples prints the first N parse errors and rejections.
func logErrorSamples(parseAgg, rejectAgg *errAgg) {
	if parseAgg.count > 0 {
		log.Printf("parse errors: %d (showing first %d)", parseAgg.count, len(parseAgg.first))
		for i, s := range parseAgg.first {
			log.Printf("  #%03d: %s", i+1, s)
		}
	}
	if rejectAgg.count > 0 {
		log.Printf("normalizer rejects: %d (showing first %d)", rejectAgg.count, len(rejectAgg.first))
		for i, s := range rejectAgg.first {
			log.Printf("  #%03d: %s", i+1, s)
		}
	}
}

// logGlobalSummary prints final statistics for the run and checks the
// accounting invariant:
//
//	read == cleaned + sum(dropped_*)
func logGlobalSummary(c *counters, d *transformer.DropStats) {
	read := c.read.Load()
	cleaned := c.cleaned.Load()

	log.Printf(
		"summary: read=%d parse_errors=%d dropped_missing_customer=%d dropped_non_positive_quantity=%d dropped_non_positive_unit_price=%d dropped_bad_timestamp=%d cleaned=%d",
		read,
		c.parseErrors.Load(),
		d.Get(transformer.ReasonMissingCustomer),
		d.Get(transformer.ReasonNonPositiveQuantity),
		d.Get(transformer.ReasonNonPositiveUnitPrice),
		d.Get(transformer.ReasonBadTimestamp),
		cleaned,
	)

	if accounted := cleaned + d.Total(); accounted != read {
		log.Printf("WARNING: row accounting mismatch: read=%d accounted=%d (delta=%d)", read, accounted, read-accounted)
	}
}

func recordRowMetrics(job string, c *counters, d *transformer.DropStats) {
	metrics.RecordRow(job, "read", c.read.Load())
	metrics.RecordRow(job, "parse_errors", c.parseErrors.Load())
	metrics.RecordRow(job, "cleaned", c.cleaned.Load())
	for r, n := range d.Snapshot() {
		metrics.RecordRow(job, string(r), n)
	}
}

// logKPIs prints the headline numbers and date range when the summary
// report ran.
func logKPIs(rels []*aggregate.Relation) {
	for _, rel := range rels {
		if rel.Name != report.Summary {
			continue
		}
		k, err := report.KPIs(rel)
		if err != nil {
			log.Printf("kpi: %v", err)
			return
		}
		log.Printf("kpi: revenue=%s orders=%d customers=%d avg_order_value=%s",
			k.TotalRevenue.StringFixed(2), k.TotalOrders, k.UniqueCustomers, k.AvgOrderValue.StringFixed(2))
		if !k.First.IsZero() {
			log.Printf("kpi: date_range=%s to %s", k.First.Format(time.DateTime), k.Last.Format(time.DateTime))
		}
		return
	}
}

func getenvInt(k string, def int) int {
	if s := os.Getenv(k); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

// pickInt chooses the first positive value 'a', otherwise returns 'b'.
func pickInt(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}

// errAgg keeps a count and the first few messages of a class of errors.
type errAgg struct {
	mu    sync.Mutex
	limit int
	count int
	first []string
}

func newErrAgg(limit int) *errAgg {
	return &errAgg{limit: limit}
}

func (a *errAgg) add(msg string) {
	a.mu.Lock()
	if a.count < a.limit {
		a.first = append(a.first, msg)
	}
	a.count++
	a.mu.Unlock()
}
