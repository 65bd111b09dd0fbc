package sqldump

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"dumpconv/internal/record"
)

// NormalizePayload strips the decoration a payload line may carry when it
// was cut out of a dump by other tooling: surrounding whitespace, a trailing
// comma, a wrapping pair of double quotes, a leading "(" and a trailing ")"
// or ");".
func NormalizePayload(line []byte) []byte {
	s := bytes.TrimSpace(line)
	if len(s) == 0 {
		return s
	}
	if s[len(s)-1] == ',' {
		s = bytes.TrimRight(s[:len(s)-1], " \t\r\n")
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = bytes.TrimSpace(s[1 : len(s)-1])
	}
	if len(s) > 0 && s[0] == '(' {
		s = s[1:]
	}
	switch {
	case bytes.HasSuffix(s, []byte(");")):
		s = s[:len(s)-2]
	case bytes.HasSuffix(s, []byte(")")):
		s = s[:len(s)-1]
	}
	return s
}

// PayloadReader reads the one-payload-per-line intermediate format. A line
// that ends inside an open quote is joined with the following lines until
// the quote closes, so raw newlines inside literals do not split a record.
type PayloadReader struct {
	br   *bufio.Reader
	line int
	buf  []byte
}

// NewPayloadReader returns a reader over r.
func NewPayloadReader(r io.Reader) *PayloadReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 1<<20)
	}
	return &PayloadReader{br: br}
}

// Next returns the next non-empty normalized payload, or io.EOF. The payload
// is reused by the following call.
func (r *PayloadReader) Next() (record.Tuple, error) {
	for {
		r.buf = r.buf[:0]
		start := r.line + 1
		var sc Scanner
		for {
			chunk, err := r.br.ReadSlice('\n')
			if len(chunk) > 0 {
				r.line++
				scanQuotes(&sc, chunk)
				r.buf = append(r.buf, chunk...)
			}
			if err != nil && !errors.Is(err, bufio.ErrBufferFull) {
				if !errors.Is(err, io.EOF) {
					return record.Tuple{}, fmt.Errorf("read payload at line %d: %w", r.line, err)
				}
				if len(r.buf) == 0 {
					return record.Tuple{}, io.EOF
				}
				break
			}
			if errors.Is(err, bufio.ErrBufferFull) {
				// Long line: keep reading the same physical line.
				r.line--
				continue
			}
			if !sc.Quoted() {
				break
			}
		}
		p := NormalizePayload(r.buf)
		if len(p) == 0 {
			continue
		}
		return record.Tuple{Line: start, Payload: p}, nil
	}
}

// Line returns the last physical line consumed.
func (r *PayloadReader) Line() int { return r.line }

func scanQuotes(sc *Scanner, b []byte) {
	for i := 0; i < len(b); i++ {
		if sc.Advance(b[i], peekAt(b, i+1)).Skip {
			i++
		}
	}
}
