package chunk

import (
	"fmt"
	"strings"

	"dumpconv/internal/parser/sqldump"
)

// Boundary selects where a chunk may end.
type Boundary string

const (
	// BoundaryLine cuts at any LF. A quoted value that embeds a raw newline
	// can be split across two chunks and will be mangled; dumps written by
	// mysqldump escape newlines, so this is the default for external tools.
	BoundaryLine Boundary = "line"
	// BoundaryRecord cuts only at an LF outside any literal and tuple, right
	// after a statement terminator or a tuple separator.
	BoundaryRecord Boundary = "record"
)

// ParseBoundary parses a boundary name; "" means BoundaryLine.
func ParseBoundary(s string) (Boundary, error) {
	switch Boundary(strings.ToLower(strings.TrimSpace(s))) {
	case "", BoundaryLine:
		return BoundaryLine, nil
	case BoundaryRecord:
		return BoundaryRecord, nil
	}
	return "", fmt.Errorf("unknown chunk boundary %q (want line or record)", s)
}

// cutter follows the input one byte at a time and decides at every LF
// whether a chunk may end there. Quote and depth state carry across lines.
type cutter struct {
	policy Boundary

	sc      sqldump.Scanner
	depth   int
	last    byte // last syntax byte outside comments
	bol     bool // at the start of a line, only blanks seen so far
	dash    bool // bol and a single '-' seen
	comment bool // rest of the line is a comment
}

func newCutter(p Boundary) *cutter {
	return &cutter{policy: p, bol: true}
}

// feed consumes b, which holds no LF except possibly as its last byte.
func (c *cutter) feed(b []byte) {
	if c.policy != BoundaryRecord {
		return
	}
	for _, ch := range b {
		if ch == '\n' {
			c.bol, c.dash, c.comment = true, false, false
			if c.sc.Quoted() {
				c.sc.Advance(ch, -1)
			}
			continue
		}
		if c.comment {
			continue
		}
		if c.bol {
			if !c.sc.Quoted() && c.depth == 0 {
				switch {
				case ch == ' ' || ch == '\t' || ch == '\r':
					continue
				case ch == '#' && !c.dash:
					c.comment = true
					continue
				case ch == '-' && !c.dash:
					c.dash = true
					continue
				case ch == '-':
					c.comment = true
					continue
				}
				if c.dash {
					c.syntax('-')
				}
			}
			c.bol, c.dash = false, false
		}
		c.step(ch)
	}
}

func (c *cutter) step(ch byte) {
	// Doubled quotes need no lookahead here: closing and reopening leaves
	// the scanner in the same state.
	if st := c.sc.Advance(ch, -1); st.Kind == sqldump.StepSyntax {
		c.syntax(ch)
	}
}

func (c *cutter) syntax(ch byte) {
	switch ch {
	case ' ', '\t', '\r':
		return
	case '(':
		c.depth++
	case ')':
		if c.depth > 0 {
			c.depth--
		}
	}
	c.last = ch
}

// atCut reports whether the LF just fed may end a chunk.
func (c *cutter) atCut() bool {
	if c.policy != BoundaryRecord {
		return true
	}
	if c.sc.Quoted() || c.depth != 0 {
		return false
	}
	return c.last == 0 || c.last == ';' || c.last == ','
}
