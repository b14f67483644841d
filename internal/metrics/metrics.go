// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from the aggregation pipeline.
//
//   - Backend is a narrow interface of counters and timings.
//   - A global, pluggable backend defaults to a no-op, so the helpers are
//     always safe to call even when no real backend is configured.
//   - Concrete systems (Prometheus Pushgateway, Datadog) live in subpackages,
//     mirroring the storage factory layout.
package metrics

import "time"

// Metric names emitted by the helpers below.
const (
	StepTotal       = "salesagg_step_total"
	StepDuration    = "salesagg_step_duration_seconds"
	RecordsTotal    = "salesagg_records_total"
	ReportRowsTotal = "salesagg_report_rows_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep records latency and success/failure of one pipeline step
// (read, normalize, aggregate, write:<report>, export).
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": status,
	}

	backend.IncCounter(StepTotal, 1, lbls)
	backend.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRow increments a record-level counter for the given job and kind.
//
// Kinds mirror the run summary: "read", "parse_errors", "cleaned", and one
// kind per rejection reason (e.g. "missing_customer").
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RecordsTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordReport counts rows written for a report.
func RecordReport(job, report string, rows int64) {
	if rows <= 0 {
		return
	}
	backend.IncCounter(ReportRowsTotal, float64(rows), Labels{
		"job":    job,
		"report": report,
	})
}
