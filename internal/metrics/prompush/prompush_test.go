package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"dumpconv/internal/metrics"
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
	sum := m.GetSummary()
	return sum.GetSampleCount(), sum.GetSampleSum()
}

// TestNewBackend constructs backends with different inputs and validates
// field initialization and defaults.
func TestNewBackend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		jobName     string
		gatewayURL  string
		wantErr     bool
		wantJobName string
	}{
		{name: "missing gateway URL returns error", jobName: "orders", wantErr: true},
		{name: "empty job name uses default", gatewayURL: "http://pushgateway:9091", wantJobName: "dumpconv"},
		{name: "explicit job name is preserved", jobName: "orders", gatewayURL: "http://pushgateway:9091", wantJobName: "orders"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b, err := NewBackend(tt.jobName, tt.gatewayURL, "")
			if tt.wantErr {
				if err == nil || b != nil {
					t.Fatalf("NewBackend(%q, %q) = (%v, %v), want error", tt.jobName, tt.gatewayURL, b, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewBackend(%q, %q) error = %v, want nil", tt.jobName, tt.gatewayURL, err)
			}
			if b.jobName != tt.wantJobName {
				t.Fatalf("backend.jobName = %q, want %q", b.jobName, tt.wantJobName)
			}
			if b.stepCounter == nil || b.stepDuration == nil || b.recordCounter == nil || b.chunkCounter == nil || b.byteCounter == nil {
				t.Fatalf("collectors not initialized: %+v", b)
			}
		})
	}
}

// TestIncCounter routes each known metric name to its collector.
func TestIncCounter(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("orders", "http://example", "")
	if err != nil {
		t.Fatal(err)
	}

	b.IncCounter(metrics.StepTotal, 2, metrics.Labels{"step": "convert", "status": "success"})
	b.IncCounter(metrics.RecordsTotal, 5, metrics.Labels{"kind": "accepted"})
	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{"kind": "accepted"})
	b.IncCounter(metrics.ChunksTotal, 3, metrics.Labels{"status": "fallback"})
	b.IncCounter(metrics.BytesTotal, 1024, metrics.Labels{"direction": "out"})
	b.IncCounter("unknown_metric", 100, nil)

	if got := readCounterValue(t, b.stepCounter.WithLabelValues("convert", "success")); got != 2 {
		t.Fatalf("step counter = %v, want 2", got)
	}
	if got := readCounterValue(t, b.recordCounter.WithLabelValues("accepted")); got != 6 {
		t.Fatalf("record counter = %v, want 6", got)
	}
	if got := readCounterValue(t, b.chunkCounter.WithLabelValues("fallback")); got != 3 {
		t.Fatalf("chunk counter = %v, want 3", got)
	}
	if got := readCounterValue(t, b.byteCounter.WithLabelValues("out")); got != 1024 {
		t.Fatalf("byte counter = %v, want 1024", got)
	}
}

// TestIncCounterNilMetrics ensures a zero Backend ignores calls instead of
// panicking.
func TestIncCounterNilMetrics(t *testing.T) {
	t.Parallel()

	var b Backend
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "x", "status": "y"})
	b.IncCounter(metrics.ChunksTotal, 1, nil)
	b.ObserveHistogram(metrics.StepDuration, 1, nil)
}

func TestObserveHistogram(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("orders", "http://example", "")
	if err != nil {
		t.Fatal(err)
	}
	b.ObserveHistogram(metrics.StepDuration, 1.5, metrics.Labels{"step": "extract", "status": "success"})
	b.ObserveHistogram(metrics.StepDuration, 0.5, metrics.Labels{"step": "extract", "status": "success"})
	b.ObserveHistogram("other", 9, metrics.Labels{"step": "extract", "status": "success"})

	n, sum := readSummaryCountSum(t, b.stepDuration, "extract", "success")
	if n != 2 || sum != 2.0 {
		t.Fatalf("summary count=%d sum=%v, want 2 and 2.0", n, sum)
	}
}

// TestFlush pushes to a fake Pushgateway and checks the grouping path and the
// exposition body.
func TestFlush(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b, err := NewBackend("orders", srv.URL, "run-42")
	if err != nil {
		t.Fatal(err)
	}
	b.IncCounter(metrics.RecordsTotal, 7, metrics.Labels{"kind": "processed"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut {
		t.Fatalf("method = %s, want PUT", method)
	}
	if path != "/metrics/job/orders/run_id/run-42" {
		t.Fatalf("path = %q", path)
	}
	if body == "" {
		t.Fatalf("empty push body")
	}
	if strings.Contains(path, "//") {
		t.Fatalf("malformed grouping path %q", path)
	}
}

func TestFlushServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b, err := NewBackend("orders", srv.URL, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Flush(); err == nil {
		t.Fatalf("Flush() error = nil, want non-nil on 500")
	}
}

func BenchmarkIncCounterRecord(b *testing.B) {
	be, err := NewBackend("bench", "http://example", "")
	if err != nil {
		b.Fatal(err)
	}
	lbls := metrics.Labels{"kind": "accepted"}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		be.IncCounter(metrics.RecordsTotal, 1, lbls)
	}
}
