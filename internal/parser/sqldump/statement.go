package sqldump

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"dumpconv/internal/record"
)

// Statement is one complete statement (or comment) from a dump.
type Statement struct {
	Kind StatementKind
	// Table is the INSERT target as written, empty for other kinds.
	Table string
	// Line is the 1-based line on which the statement starts.
	Line int
	// Text is the statement including its terminating ";" when present. Line
	// comments exclude the newline.
	Text []byte
}

// Terminated reports whether the statement ended with ";".
func (s Statement) Terminated() bool {
	return len(s.Text) > 0 && s.Text[len(s.Text)-1] == ';'
}

// Spans returns the tuple payload ranges after the VALUES keyword. A
// statement without VALUES yields none. Each span excludes the enclosing
// parentheses and surrounding whitespace. An unclosed final tuple (a
// truncated dump) is included when non-empty.
func (s Statement) Spans() []record.Span {
	if s.Kind != KindInsert {
		return nil
	}
	at := valuesIndex(s.Text)
	if at < 0 {
		return nil
	}
	return tupleSpans(s.Text, at)
}

// Tuples returns the payload bytes for every span. The slices alias Text.
func (s Statement) Tuples() [][]byte {
	spans := s.Spans()
	out := make([][]byte, len(spans))
	for i, sp := range spans {
		out[i] = s.Text[sp.Start:sp.End]
	}
	return out
}

func tupleSpans(text []byte, from int) []record.Span {
	var (
		sc    Scanner
		depth int
		start int
		spans []record.Span
	)
	for i := from; i < len(text); i++ {
		c := text[i]
		st := sc.Advance(c, peekAt(text, i+1))
		if st.Skip {
			i++
		}
		if st.Kind != StepSyntax {
			continue
		}
		switch c {
		case '(':
			if depth == 0 {
				start = i + 1
			}
			depth++
		case ')':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				spans = append(spans, trimSpan(text, start, i))
			}
		case ';':
			if depth == 0 {
				return spans
			}
		default:
			if depth == 0 && len(spans) > 0 && isIdentByte(c) {
				return spans
			}
		}
	}
	if depth > 0 {
		if sp := trimSpan(text, start, len(text)); sp.Len() > 0 {
			spans = append(spans, sp)
		}
	}
	return spans
}

func trimSpan(text []byte, start, end int) record.Span {
	for start < end && isSpace(text[start]) {
		start++
	}
	for end > start && isSpace(text[end-1]) {
		end--
	}
	return record.Span{Start: start, End: end}
}

// StatementReader splits dump text into whole statements. Unlike
// TupleReader it buffers a full statement, which is what statement-level
// consumers such as SplitInserts need.
type StatementReader struct {
	br   *bufio.Reader
	line int
	buf  []byte
}

// NewStatementReader returns a StatementReader over r.
func NewStatementReader(r io.Reader) *StatementReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 1<<20)
	}
	return &StatementReader{br: br, line: 1}
}

// Next returns the next statement or io.EOF. The Text slice is reused by the
// following call. A statement missing its ";" at EOF is still returned.
func (r *StatementReader) Next() (Statement, error) {
	// Skip inter-statement whitespace and stray terminators.
	for {
		c, err := r.br.ReadByte()
		if err != nil {
			return Statement{}, r.wrap(err)
		}
		if c == '\n' {
			r.line++
			continue
		}
		if isSpace(c) || c == ';' {
			continue
		}
		if err := r.br.UnreadByte(); err != nil {
			return Statement{}, err
		}
		break
	}

	startLine := r.line
	r.buf = r.buf[:0]
	first, _ := r.br.ReadByte()
	r.buf = append(r.buf, first)
	if first == '\n' {
		r.line++
	}
	second := r.peek()

	switch {
	case first == '#' || first == '-' && second == '-':
		if err := r.readLine(); err != nil {
			return Statement{}, err
		}
		return Statement{Kind: KindComment, Line: startLine, Text: r.buf}, nil
	case first == '/' && second == '*':
		if err := r.readBlockComment(); err != nil {
			return Statement{}, err
		}
		return Statement{Kind: KindComment, Line: startLine, Text: r.buf}, nil
	}

	var sc Scanner
	sc.Advance(first, second)
	for {
		c, err := r.br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Statement{}, fmt.Errorf("read dump at line %d: %w", r.line, err)
		}
		if c == '\n' {
			r.line++
		}
		next := -1
		if c == '\'' && sc.State() == InQuote {
			next = r.peek()
		}
		st := sc.Advance(c, next)
		r.buf = append(r.buf, c)
		if st.Skip {
			q, _ := r.br.ReadByte()
			r.buf = append(r.buf, q)
		}
		if st.Kind == StepSyntax && c == ';' {
			break
		}
	}

	kind, table := classifyHead(r.buf)
	return Statement{Kind: kind, Table: table, Line: startLine, Text: r.buf}, nil
}

func (r *StatementReader) readLine() error {
	for {
		c, err := r.br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if c == '\n' {
			r.line++
			return nil
		}
		r.buf = append(r.buf, c)
	}
}

func (r *StatementReader) readBlockComment() error {
	for {
		c, err := r.br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if c == '\n' {
			r.line++
		}
		r.buf = append(r.buf, c)
		if c == '/' && len(r.buf) >= 4 && r.buf[len(r.buf)-2] == '*' {
			// Swallow the statement terminator of MySQL directives "/*!...*/;".
			if r.peek() == ';' {
				_, _ = r.br.ReadByte()
				r.buf = append(r.buf, ';')
			}
			return nil
		}
	}
}

func (r *StatementReader) peek() int {
	b, err := r.br.Peek(1)
	if err != nil || len(b) == 0 {
		return -1
	}
	return int(b[0])
}

func (r *StatementReader) wrap(err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	return fmt.Errorf("read dump at line %d: %w", r.line, err)
}
