package transformer

import (
	"strings"
	"unicode"

	"dumpconv/internal/record"
)

// Sanitizer cleans field text so it survives tab-delimited bulk loading:
// line breaks, tabs and other control characters become spaces, whitespace
// runs collapse to one space, and the result is trimmed. Quoted values may
// additionally have their commas swapped for CommaReplacement.
type Sanitizer struct {
	ReplaceCommas    bool
	CommaReplacement string
}

// SanitizeStats counts what a Sanitizer changed.
type SanitizeStats struct {
	Rows           int64
	ModifiedRows   int64
	ModifiedFields int64
}

// Value returns the cleaned text of v.
func (s Sanitizer) Value(v record.ParsedValue) string {
	if v.Text == "" {
		return v.Text
	}
	var b strings.Builder
	b.Grow(len(v.Text))
	space := false
	for _, r := range v.Text {
		if r < 0x20 || r == 0x7f || unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	out := b.String()
	if s.ReplaceCommas && v.WasQuoted {
		repl := s.CommaReplacement
		if repl == "" {
			repl = ";"
		}
		out = strings.ReplaceAll(out, ",", repl)
	}
	return out
}

// Row cleans row in place and reports how many fields changed.
func (s Sanitizer) Row(row record.Row, st *SanitizeStats) int {
	changed := 0
	for i, v := range row {
		if c := s.Value(v); c != v.Text {
			row[i].Text = c
			changed++
		}
	}
	if st != nil {
		st.Rows++
		if changed > 0 {
			st.ModifiedRows++
			st.ModifiedFields += int64(changed)
		}
	}
	return changed
}
