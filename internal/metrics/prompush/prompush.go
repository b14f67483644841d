// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package. A batch run has no scrape window, so the registry is
// pushed to the gateway on Flush at the end of the run.
package prompush

import (
	"fmt"

	"salesagg/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	stepCounter  *prometheus.CounterVec // salesagg_step_total
	stepDuration *prometheus.SummaryVec // salesagg_step_duration_seconds

	recordCounter *prometheus.CounterVec // salesagg_records_total
	reportRows    *prometheus.CounterVec // salesagg_report_rows_total
}

// NewBackend constructs a Prometheus Pushgateway backend.
// jobName: the Pushgateway "job" name (usually the pipeline job).
// gatewayURL: base URL of the Pushgateway server.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "salesagg"
	}

	reg := prometheus.NewRegistry()

	// job is the Pushgateway grouping key, so it is not a metric label.
	stepCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Pipeline step executions, partitioned by step and status.",
		},
		[]string{"step", "status"},
	)
	stepDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       metrics.StepDuration,
			Help:       "Duration of pipeline steps in seconds, partitioned by step and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"step", "status"},
	)
	recordCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Record-level counts per kind (read, parse_errors, cleaned, rejection reasons).",
		},
		[]string{"kind"},
	)
	reportRows := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.ReportRowsTotal,
			Help: "Rows written per report.",
		},
		[]string{"report"},
	)

	for _, c := range []struct {
		what string
		col  prometheus.Collector
	}{
		{"step counter", stepCounter},
		{"step summary", stepDuration},
		{"record counter", recordCounter},
		{"report rows", reportRows},
	} {
		if err := reg.Register(c.col); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", c.what, err)
		}
	}

	return &Backend{
		gatewayURL:    gatewayURL,
		jobName:       jobName,
		reg:           reg,
		stepCounter:   stepCounter,
		stepDuration:  stepDuration,
		recordCounter: recordCounter,
		reportRows:    reportRows,
	}, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		if b.stepCounter == nil {
			return
		}
		b.stepCounter.WithLabelValues(labels["step"], labels["status"]).Add(delta)

	case metrics.RecordsTotal:
		if b.recordCounter == nil {
			return
		}
		b.recordCounter.WithLabelValues(labels["kind"]).Add(delta)

	case metrics.ReportRowsTotal:
		if b.reportRows == nil {
			return
		}
		b.reportRows.WithLabelValues(labels["report"]).Add(delta)

	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDuration || b.stepDuration == nil {
		return
	}
	b.stepDuration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
