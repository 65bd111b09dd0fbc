package convert

import (
	"log"
	"time"

	"github.com/dustin/go-humanize"

	"dumpconv/internal/metrics"
)

// Log prints the run summary and, when the record accounting does not add
// up, a warning.
func (r Report) Log() {
	if len(r.Samples) > 0 {
		log.Printf("record problems: %d (showing first %d)", r.Rejected, len(r.Samples))
		for i, s := range r.Samples {
			log.Printf("  #%03d: %s", i+1, s)
		}
	}

	how := "expected"
	if r.Inferred {
		how = "inferred"
	}
	log.Printf(
		"summary: run=%s mode=%s workers=%d chunks=%d fallback=%d columns=%d (%s) tuples=%s processed=%s accepted=%s rejected=%s parse_errors=%s truncated=%d sanitized=%s",
		r.RunID,
		r.Mode,
		r.Workers,
		r.Chunks,
		r.Fallback,
		r.Expected,
		how,
		humanize.Comma(r.Tuples),
		humanize.Comma(r.Processed),
		humanize.Comma(r.Accepted),
		humanize.Comma(r.Rejected),
		humanize.Comma(r.ParseErrors),
		r.Truncated,
		humanize.Comma(r.Sanitized),
	)
	log.Printf("summary: in=%s out=%s digest=%016x took=%s",
		humanize.IBytes(uint64(max(r.BytesIn, 0))),
		humanize.IBytes(uint64(max(r.BytesOut, 0))),
		r.Digest,
		r.Duration.Round(time.Millisecond),
	)

	if accounted := r.Accepted + r.Rejected; accounted != r.Processed {
		log.Printf(
			"WARNING: row accounting mismatch: total=%d accounted=%d (delta=%d)",
			r.Processed,
			accounted,
			r.Processed-accounted,
		)
	}
}

// Record reports the run to the installed metrics backend.
func (r Report) Record(step string, err error) {
	metrics.RecordStep(r.Job, step, err, r.Duration)
	metrics.RecordRow(r.Job, "processed", r.Processed)
	metrics.RecordRow(r.Job, "accepted", r.Accepted)
	metrics.RecordRow(r.Job, "rejected", r.Rejected)
	metrics.RecordRow(r.Job, "parse_errors", r.ParseErrors)
	metrics.RecordRow(r.Job, "truncated", r.Truncated)
	metrics.RecordChunks(r.Job, "merged", int64(r.Chunks-r.Fallback))
	metrics.RecordChunks(r.Job, "fallback", int64(r.Fallback))
	metrics.RecordBytes(r.Job, "in", r.BytesIn)
	metrics.RecordBytes(r.Job, "out", r.BytesOut)
}
