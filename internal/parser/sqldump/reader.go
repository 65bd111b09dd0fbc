package sqldump

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"dumpconv/internal/record"
)

// DefaultMaxHead bounds the bytes buffered for a statement head before the
// VALUES keyword. Longer heads are skipped as non-data.
const DefaultMaxHead = 64 << 10

// ReaderOptions configures a TupleReader.
type ReaderOptions struct {
	// Tables restricts extraction to INSERTs into these tables. Empty means
	// every table.
	Tables []string
	// Orphans treats a "(" at statement start as a continuation tuple of an
	// INSERT whose head came before the input began. Chunk workers set it.
	Orphans bool
	// MaxHead overrides DefaultMaxHead when > 0.
	MaxHead int
	// FirstLine is the line number of the first input byte, so tuples read
	// from a chunk report positions in the whole file. Values below 1 mean 1.
	FirstLine int
}

// Stats counts what a TupleReader has seen so far.
type Stats struct {
	Statements int // statements terminated or flushed at EOF
	Inserts    int // INSERT statements whose tuples were emitted
	Skipped    int // non-data statements and filtered inserts
	Comments   int
	Tuples     int
	Orphans    int // tuples emitted without a statement head
	Truncated  int // tuples flushed at EOF without a closing parenthesis
}

type phase uint8

const (
	phaseStart phase = iota
	phaseHead
	phaseSkip
	phasePayload
	phaseLineComment
	phaseBlockComment
	phaseDone
)

// TupleReader streams tuple payloads out of SQL dump text. It holds at most
// one statement head and one tuple in memory.
type TupleReader struct {
	br      *bufio.Reader
	match   *TableMatcher
	orphans bool
	maxHead int

	sc     Scanner
	phase  phase
	line   int
	head   []byte
	table  string
	depth  int
	tuple  []byte
	tstart int
	kwSeen bool
	stats  Stats
}

// NewTupleReader returns a reader over r.
func NewTupleReader(r io.Reader, opt ReaderOptions) *TupleReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 1<<20)
	}
	maxHead := opt.MaxHead
	if maxHead <= 0 {
		maxHead = DefaultMaxHead
	}
	return &TupleReader{
		br:      br,
		match:   NewTableMatcher(opt.Tables),
		orphans: opt.Orphans,
		maxHead: maxHead,
		line:    max(opt.FirstLine, 1),
		head:    make([]byte, 0, 256),
		tuple:   make([]byte, 0, 4096),
	}
}

// Stats returns counters accumulated so far.
func (r *TupleReader) Stats() Stats { return r.stats }

// Next returns the next tuple, or io.EOF once the input is exhausted. The
// returned payload is overwritten by the following call.
//
// Read errors from the underlying reader (including decode errors) are
// returned wrapped and end the stream.
func (r *TupleReader) Next() (record.Tuple, error) {
	for {
		if r.phase == phaseDone {
			return record.Tuple{}, io.EOF
		}
		c, err := r.br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return r.finish()
			}
			r.phase = phaseDone
			return record.Tuple{}, fmt.Errorf("read dump at line %d: %w", r.line, err)
		}
		ln := r.line
		if c == '\n' {
			r.line++
		}

		switch r.phase {
		case phaseStart:
			r.start(c, ln)

		case phaseLineComment:
			if c == '\n' {
				r.phase = phaseStart
			}

		case phaseBlockComment:
			if c == '*' && r.peek() == '/' {
				_, _ = r.br.ReadByte()
				r.phase = phaseStart
			}

		case phaseHead:
			r.inHead(c, ln)

		case phaseSkip:
			st := r.advance(c)
			if st.Kind == StepSyntax && c == ';' {
				r.endStatement()
			}

		case phasePayload:
			if t, ok := r.inPayload(c, ln); ok {
				return t, nil
			}
		}
	}
}

func (r *TupleReader) start(c byte, ln int) {
	switch {
	case isSpace(c) || c == ';':
	case c == ',' && r.orphans:
		// A chunk may begin right after the separator between two tuples.
	case c == '#':
		r.stats.Comments++
		r.phase = phaseLineComment
	case c == '-' && r.peek() == '-':
		r.stats.Comments++
		r.phase = phaseLineComment
	case c == '/' && r.peek() == '*':
		_, _ = r.br.ReadByte()
		r.stats.Comments++
		r.phase = phaseBlockComment
	case c == '(' && r.orphans:
		r.sc.Reset()
		r.table = ""
		r.phase = phasePayload
		r.openTuple(ln)
	default:
		r.sc.Reset()
		r.head = r.head[:0]
		r.kwSeen = false
		r.phase = phaseHead
		r.inHead(c, ln)
	}
}

func (r *TupleReader) inHead(c byte, ln int) {
	st := r.advance(c)
	if st.Kind == StepSyntax {
		switch c {
		case ';':
			// Statement without VALUES: no tuples.
			if kind, _ := classifyHead(r.head); kind == KindInsert {
				r.stats.Inserts++
			} else {
				r.stats.Skipped++
			}
			r.endStatement()
			return
		case '(':
			if hasValuesSuffix(r.head) {
				kind, table := classifyHead(r.head)
				if kind != KindInsert || !r.match.Match(table) {
					r.stats.Skipped++
					r.phase = phaseSkip
					return
				}
				r.stats.Inserts++
				r.table = table
				r.phase = phasePayload
				r.openTuple(ln)
				return
			}
		}
	}
	r.head = append(r.head, c)
	if st.Skip {
		r.head = append(r.head, '\'')
	}
	if len(r.head) > r.maxHead {
		r.stats.Skipped++
		r.phase = phaseSkip
		return
	}
	if r.kwSeen {
		return
	}
	if kw, done := leadingKeyword(r.head); done {
		r.kwSeen = true
		switch strings.ToUpper(kw) {
		case "INSERT", "REPLACE":
		default:
			r.stats.Skipped++
			r.phase = phaseSkip
		}
	}
}

func (r *TupleReader) inPayload(c byte, ln int) (record.Tuple, bool) {
	st := r.advance(c)
	if r.depth == 0 {
		if st.Kind != StepSyntax {
			return record.Tuple{}, false
		}
		switch {
		case c == '(':
			r.openTuple(ln)
		case c == ';':
			r.endStatement()
		case isIdentByte(c):
			// A clause after the last tuple, such as ON DUPLICATE KEY UPDATE.
			r.phase = phaseSkip
		}
		// A ")" here is unbalanced nesting and is ignored like any other
		// stray byte between tuples.
		return record.Tuple{}, false
	}

	if st.Kind == StepSyntax {
		switch c {
		case '(':
			r.depth++
		case ')':
			r.depth--
			if r.depth == 0 {
				return r.emit(false), true
			}
		}
	}
	r.tuple = append(r.tuple, c)
	if st.Skip {
		r.tuple = append(r.tuple, '\'')
	}
	return record.Tuple{}, false
}

func (r *TupleReader) openTuple(ln int) {
	r.depth = 1
	r.tuple = r.tuple[:0]
	r.tstart = ln
}

func (r *TupleReader) emit(truncated bool) record.Tuple {
	r.stats.Tuples++
	if r.table == "" {
		r.stats.Orphans++
	}
	if truncated {
		r.stats.Truncated++
	}
	return record.Tuple{
		Table:   r.table,
		Line:    r.tstart,
		Payload: bytes.TrimSpace(r.tuple),
	}
}

func (r *TupleReader) endStatement() {
	r.stats.Statements++
	r.phase = phaseStart
	r.depth = 0
	r.table = ""
	r.sc.Reset()
}

// finish handles EOF: a pending non-empty tuple is flushed once, then the
// stream reports io.EOF.
func (r *TupleReader) finish() (record.Tuple, error) {
	prev := r.phase
	r.phase = phaseDone
	switch prev {
	case phasePayload:
		r.stats.Statements++
		if r.depth > 0 && len(bytes.TrimSpace(r.tuple)) > 0 {
			return r.emit(true), nil
		}
	case phaseHead, phaseSkip:
		r.stats.Statements++
	}
	return record.Tuple{}, io.EOF
}

// advance feeds c to the scanner and consumes the lookahead byte when the
// scanner asks for it.
func (r *TupleReader) advance(c byte) Step {
	next := -1
	if c == '\'' && r.sc.State() == InQuote {
		next = r.peek()
	}
	st := r.sc.Advance(c, next)
	if st.Skip {
		_, _ = r.br.ReadByte()
	}
	return st
}

func (r *TupleReader) peek() int {
	b, err := r.br.Peek(1)
	if err != nil || len(b) == 0 {
		return -1
	}
	return int(b[0])
}
