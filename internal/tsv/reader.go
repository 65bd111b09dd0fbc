package tsv

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"dumpconv/internal/record"
)

var decodeMap = [256]byte{
	'b':  '\b',
	'f':  '\f',
	'n':  '\n',
	'r':  '\r',
	't':  '\t',
	'v':  '\v',
	'\\': '\\',
}

// DecodeField reverses AppendValue. \N alone is NULL (a bare value); any
// other field is text (a quoted value), so re-encoding it is lossless.
func DecodeField(in string) (record.ParsedValue, error) {
	if in == record.NullToken {
		return record.Bare("NULL"), nil
	}
	if strings.IndexByte(in, '\\') < 0 {
		return record.Quoted(in), nil
	}
	var b strings.Builder
	b.Grow(len(in))
	start := 0
	for i, n := 0, len(in); i < n; i++ {
		if in[i] != '\\' {
			continue
		}
		b.WriteString(in[start:i])
		i++
		if i >= n {
			return record.ParsedValue{}, fmt.Errorf("unknown escape sequence: %q", in[i-1:])
		}
		ch := decodeMap[in[i]]
		if ch == 0 {
			return record.ParsedValue{}, fmt.Errorf("unknown escape sequence: %q", in[i-1:i+1])
		}
		b.WriteByte(ch)
		start = i + 1
	}
	b.WriteString(in[start:])
	return record.Quoted(b.String()), nil
}

// SplitLine decodes one TSV record (without its LF) into a row.
func SplitLine(line []byte) (record.Row, error) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	parts := bytes.Split(line, []byte{'\t'})
	row := make(record.Row, len(parts))
	for i, p := range parts {
		v, err := DecodeField(string(p))
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i+1, err)
		}
		row[i] = v
	}
	return row, nil
}

// CountFields returns the number of TAB separated fields in line.
func CountFields(line []byte) int {
	return bytes.Count(line, []byte{'\t'}) + 1
}

// LineReader yields the records of a TSV stream with 1-based line numbers.
type LineReader struct {
	sc   *bufio.Scanner
	line int
}

// NewLineReader reads lines of up to maxLine bytes (default 64 MiB).
func NewLineReader(r io.Reader, maxLine int) *LineReader {
	if maxLine <= 0 {
		maxLine = 64 << 20
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)
	return &LineReader{sc: sc}
}

// Next returns the next line without its terminator, or io.EOF.
func (r *LineReader) Next() ([]byte, int, error) {
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				return nil, r.line + 1, fmt.Errorf("line %d: %w", r.line+1, err)
			}
			return nil, r.line, err
		}
		return nil, r.line, io.EOF
	}
	r.line++
	return r.sc.Bytes(), r.line, nil
}
