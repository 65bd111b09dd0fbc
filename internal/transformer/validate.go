// Package transformer holds the record-level stages that sit between parsing
// and output: the column-count validator that partitions records into
// accepted and rejected streams, and the value sanitizer.
package transformer

import (
	"fmt"
	"io"

	"dumpconv/internal/record"
)

// RejectPreviewLen bounds the record text quoted in a rejection log entry.
const RejectPreviewLen = 100

// NoDataRows is reported when a validator never saw a record.
const NoDataRows = "No data rows encountered."

// ValidatorStats counts validator decisions. Accepted+Rejected always equals
// Processed.
type ValidatorStats struct {
	Processed int64
	Accepted  int64
	Rejected  int64
}

// ColumnValidator compares each record's field count to an expected count
// and writes a line-numbered entry to the rejection log for every mismatch.
// A mismatch is data, never an error.
//
// With an expected count of zero the first record observed fixes it. A
// ColumnValidator is not safe for concurrent use.
type ColumnValidator struct {
	expected int
	inferred bool
	log      io.Writer
	logErr   error
	stats    ValidatorStats
	first    string
}

// NewColumnValidator returns a validator. log may be nil to skip the
// rejection log.
func NewColumnValidator(expected int, log io.Writer) *ColumnValidator {
	if expected < 0 {
		expected = 0
	}
	return &ColumnValidator{expected: expected, log: log}
}

// Check records one record of fields columns at line and reports whether it
// is accepted. raw is only used for the log preview.
func (v *ColumnValidator) Check(line int, raw []byte, fields int) bool {
	v.stats.Processed++
	if v.expected == 0 {
		v.expected = fields
		v.inferred = true
	}
	if fields == v.expected {
		v.stats.Accepted++
		return true
	}
	v.stats.Rejected++
	entry := RejectEntry(line, v.expected, fields, raw)
	if v.first == "" {
		v.first = entry
	}
	if v.log != nil && v.logErr == nil {
		_, v.logErr = io.WriteString(v.log, entry)
	}
	return false
}

// Reject records a record that could not be parsed at all. It counts as
// processed and rejected and is logged with reason instead of counts.
func (v *ColumnValidator) Reject(line int, raw []byte, reason error) {
	v.stats.Processed++
	v.stats.Rejected++
	entry := fmt.Sprintf("Line %d: %v\n  Data preview: %s\n\n", line, reason, record.Preview(raw, RejectPreviewLen))
	if v.first == "" {
		v.first = entry
	}
	if v.log != nil && v.logErr == nil {
		_, v.logErr = io.WriteString(v.log, entry)
	}
}

// CheckRow is Check for a parsed row.
func (v *ColumnValidator) CheckRow(line int, raw []byte, row record.Row) bool {
	return v.Check(line, raw, len(row))
}

// Expected returns the expected column count (0 until inferred).
func (v *ColumnValidator) Expected() int { return v.expected }

// Inferred reports whether Expected came from the first record.
func (v *ColumnValidator) Inferred() bool { return v.inferred }

// Stats returns the counters so far.
func (v *ColumnValidator) Stats() ValidatorStats { return v.stats }

// FirstReject returns the log entry of the first rejected record, if any.
func (v *ColumnValidator) FirstReject() string { return v.first }

// Err returns the first error writing the rejection log.
func (v *ColumnValidator) Err() error { return v.logErr }

// Summary describes the outcome in one line, or NoDataRows.
func (v *ColumnValidator) Summary() string {
	if v.stats.Processed == 0 {
		return NoDataRows
	}
	how := "expected"
	if v.inferred {
		how = "inferred"
	}
	return fmt.Sprintf("columns=%d (%s) processed=%d accepted=%d rejected=%d",
		v.expected, how, v.stats.Processed, v.stats.Accepted, v.stats.Rejected)
}

// RejectEntry formats one rejection log entry.
func RejectEntry(line, expected, found int, raw []byte) string {
	return fmt.Sprintf("Line %d: Expected %d columns, found %d\n  Data preview: %s\n\n",
		line, expected, found, record.Preview(raw, RejectPreviewLen))
}
