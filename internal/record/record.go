// Package record holds the small value types that flow between the dump
// scanner, the field normalizer, the validator and the TSV writer.
package record

import "strings"

// NullToken is the two-character placeholder for SQL NULL in load-ready TSV.
const NullToken = `\N`

// ParsedValue is one field of a tuple with escapes resolved.
//
// WasQuoted distinguishes the bare literal NULL (SQL NULL) from the quoted
// string 'NULL' (literal text), and tells serializers whether the value has to
// be re-quoted.
type ParsedValue struct {
	Text      string
	WasQuoted bool
}

// Bare returns an unquoted value.
func Bare(s string) ParsedValue { return ParsedValue{Text: s} }

// Quoted returns a quoted value.
func Quoted(s string) ParsedValue { return ParsedValue{Text: s, WasQuoted: true} }

// IsNull reports whether v is the unquoted NULL literal (any case).
func (v ParsedValue) IsNull() bool {
	return !v.WasQuoted && len(v.Text) == 4 && strings.EqualFold(v.Text, "NULL")
}

// Row is an ordered list of parsed fields.
type Row []ParsedValue

// Texts returns the field texts of r, mostly for logging and tests.
func (r Row) Texts() []string {
	out := make([]string, len(r))
	for i, v := range r {
		out[i] = v.Text
	}
	return out
}

// Tuple is one tuple payload found in a dump: the bytes between a matching
// pair of parentheses with quoting preserved.
type Tuple struct {
	// Table is the INSERT target as written in the statement head, or empty
	// for orphan tuples whose head lies in an earlier chunk.
	Table string
	// Line is the 1-based input line on which the tuple opened.
	Line int
	// Payload is only valid until the next call on the reader that produced it.
	Payload []byte
}

// Span is a half-open byte interval [Start, End) of a tuple payload inside a
// statement buffer.
type Span struct{ Start, End int }

// Len returns the span length in bytes.
func (s Span) Len() int { return s.End - s.Start }

// Preview returns at most n bytes of b, suffixed with "..." when truncated.
func Preview(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
