// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from conversion runs.
//
// It exposes a narrow interface (Backend) focused on counters and timing data,
// and a global, pluggable backend that defaults to a no-op implementation so
// metrics are always safe to call even when no real backend is configured.
// Concrete systems live in subpackages (prompush, datadog).
package metrics

import "time"

// Metric names shared by all backends.
const (
	StepTotal    = "dumpconv_step_total"
	StepDuration = "dumpconv_step_duration_seconds"
	RecordsTotal = "dumpconv_records_total"
	ChunksTotal  = "dumpconv_chunks_total"
	BytesTotal   = "dumpconv_bytes_total"
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

// RecordStep measures latency and success/failure of one pipeline stage
// (extract, sanitize, validate, prepare, convert, parallel, ...).
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
// Kinds mirror the run summary: "processed", "accepted", "rejected",
// "parse_errors", "truncated".
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RecordsTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordChunks increments the chunk counter. status is "merged" or
// "fallback".
func RecordChunks(job, status string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(ChunksTotal, float64(delta), Labels{
		"job":    job,
		"status": status,
	})
}

// RecordBytes increments the byte counter; direction is "in" or "out".
func RecordBytes(job, direction string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(BytesTotal, float64(delta), Labels{
		"job":       job,
		"direction": direction,
	})
}
