package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"salesagg/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// readCounterValue reads the current value of a Counter for assertions in tests.
func readCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Counter.Write() error = %v", err)
	}
	if m.GetCounter() == nil {
		t.Fatalf("metric did not contain Counter value")
	}
	return m.GetCounter().GetValue()
}

// readSummaryCountSum reads sample count and sum from a SummaryVec.
func readSummaryCountSum(t *testing.T, v *prometheus.SummaryVec, labels ...string) (uint64, float64) {
	t.Helper()

	m := &dto.Metric{}
	metric, ok := v.WithLabelValues(labels...).(prometheus.Metric)
	if !ok {
		t.Fatalf("SummaryVec.WithLabelValues(...) does not implement prometheus.Metric")
	}
	if err := metric.Write(m); err != nil {
		t.Fatalf("Summary.Write() error = %v", err)
	}
	if m.GetSummary() == nil {
		t.Fatalf("metric did not contain Summary value")
	}
	return m.GetSummary().GetSampleCount(), m.GetSummary().GetSampleSum()
}

func TestNewBackend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		jobName     string
		gatewayURL  string
		wantErr     bool
		wantJobName string
	}{
		{name: "missing gateway URL returns error", jobName: "retail", wantErr: true},
		{name: "empty job name uses default", gatewayURL: "http://pushgateway:9091", wantJobName: "salesagg"},
		{name: "explicit job name is preserved", jobName: "retail", gatewayURL: "http://pushgateway:9091", wantJobName: "retail"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b, err := NewBackend(tt.jobName, tt.gatewayURL)
			if tt.wantErr {
				if err == nil || b != nil {
					t.Fatalf("NewBackend(%q, %q) = %v, %v; want nil, error", tt.jobName, tt.gatewayURL, b, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewBackend(%q, %q) error = %v", tt.jobName, tt.gatewayURL, err)
			}
			if b.jobName != tt.wantJobName {
				t.Fatalf("backend.jobName = %q, want %q", b.jobName, tt.wantJobName)
			}
		})
	}
}

// TestIncCounter verifies routing of counter updates to collectors.
func TestIncCounter(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("retail", "http://example.com")
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}

	b.IncCounter(metrics.StepTotal, 2, metrics.Labels{"step": "read", "status": "success"})
	b.IncCounter(metrics.RecordsTotal, 5, metrics.Labels{"kind": "bad_timestamp"})
	b.IncCounter(metrics.ReportRowsTotal, 15, metrics.Labels{"report": "sales_by_country"})
	b.IncCounter(metrics.ReportRowsTotal, 1, metrics.Labels{"report": "sales_by_country"})
	b.IncCounter("unknown_metric", 10, metrics.Labels{"kind": "bad_timestamp"})

	if got := readCounterValue(t, b.stepCounter.WithLabelValues("read", "success")); got != 2 {
		t.Fatalf("stepCounter = %v, want 2", got)
	}
	if got := readCounterValue(t, b.recordCounter.WithLabelValues("bad_timestamp")); got != 5 {
		t.Fatalf("recordCounter = %v, want 5", got)
	}
	if got := readCounterValue(t, b.reportRows.WithLabelValues("sales_by_country")); got != 16 {
		t.Fatalf("reportRows = %v, want 16", got)
	}
}

func TestIncCounterNilMetrics(t *testing.T) {
	t.Parallel()

	b := &Backend{}
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "s", "status": "success"})
	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{"kind": "read"})
	b.IncCounter(metrics.ReportRowsTotal, 1, metrics.Labels{"report": "summary"})
	b.ObserveHistogram(metrics.StepDuration, 1, metrics.Labels{})
}

func TestObserveHistogram(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("retail", "http://example.com")
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	lbls := metrics.Labels{"step": "aggregate", "status": "success"}
	b.ObserveHistogram(metrics.StepDuration, 1.5, lbls)
	b.ObserveHistogram("other_metric", 2.0, lbls)

	count, sum := readSummaryCountSum(t, b.stepDuration, "aggregate", "success")
	if count != 1 || sum != 1.5 {
		t.Fatalf("summary count=%d sum=%v; want 1, 1.5", count, sum)
	}
}

// TestFlush pushes to a fake Pushgateway and checks the job grouping path
// and the presence of our metric names in the body.
func TestFlush(t *testing.T) {
	t.Parallel()

	type pushRequestInfo struct {
		method string
		path   string
		body   string
	}
	reqCh := make(chan pushRequestInfo, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		body, _ := io.ReadAll(r.Body)
		reqCh <- pushRequestInfo{method: r.Method, path: r.URL.Path, body: string(body)}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	b, err := NewBackend("retail", server.URL)
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{"kind": "read"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	var got pushRequestInfo
	select {
	case got = <-reqCh:
	default:
		t.Fatalf("Flush() did not result in any HTTP request to the Pushgateway")
	}
	if got.method != http.MethodPut {
		t.Fatalf("method = %s, want PUT", got.method)
	}
	if !strings.Contains(got.path, "/job/retail") {
		t.Fatalf("path = %s, want job grouping", got.path)
	}
	if !strings.Contains(got.body, metrics.RecordsTotal) {
		t.Fatalf("push body does not mention %s", metrics.RecordsTotal)
	}
}

// BenchmarkIncCounterRecord measures the cost of incrementing the record
// counter through the Backend abstraction.
func BenchmarkIncCounterRecord(b *testing.B) {
	backend, err := NewBackend("retail", "http://example.com")
	if err != nil {
		b.Fatalf("NewBackend() error = %v", err)
	}
	labels := metrics.Labels{"kind": "cleaned"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		backend.IncCounter(metrics.RecordsTotal, 1, labels)
	}
}
