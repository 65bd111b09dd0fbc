// Package tsv encodes rows in the load-ready tab-separated text format: UTF-8,
// LF line ends, no field quoting, backslash escapes, and \N for SQL NULL.
// Encoded values never contain a raw TAB or LF.
package tsv

import (
	"bufio"
	"io"

	"dumpconv/internal/record"
)

// AppendText appends the normalized, escaped form of s to dst:
//
//   - NUL bytes are removed
//   - CRLF and lone CR become LF
//   - TAB becomes a single space
//   - backslash becomes \\
//   - LF becomes the two characters \n
//
// The escaping is not idempotent: encoding its own output doubles every
// backslash. DecodeField undoes exactly one application.
func AppendText(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case 0:
		case '\r':
			if i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
			dst = append(dst, '\\', 'n')
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\t':
			dst = append(dst, ' ')
		case '\\':
			dst = append(dst, '\\', '\\')
		default:
			dst = append(dst, c)
		}
	}
	return dst
}

// AppendValue appends one encoded field. The bare NULL literal becomes \N;
// everything else, including quoted 'NULL', is text.
func AppendValue(dst []byte, v record.ParsedValue) []byte {
	if v.IsNull() {
		return append(dst, record.NullToken...)
	}
	return AppendText(dst, v.Text)
}

// AppendRow appends row as one TSV record including the trailing LF.
func AppendRow(dst []byte, row record.Row) []byte {
	for i, v := range row {
		if i > 0 {
			dst = append(dst, '\t')
		}
		dst = AppendValue(dst, v)
	}
	return append(dst, '\n')
}

// AppendFields appends plain text fields (no NULL detection) as one record.
func AppendFields(dst []byte, fields []string) []byte {
	for i, f := range fields {
		if i > 0 {
			dst = append(dst, '\t')
		}
		dst = AppendText(dst, f)
	}
	return append(dst, '\n')
}

// Writer buffers encoded records onto an io.Writer.
type Writer struct {
	bw      *bufio.Writer
	scratch []byte
	rows    int64
	bytes   int64
}

// NewWriter returns a Writer with a 1 MiB buffer.
func NewWriter(w io.Writer) *Writer { return NewWriterSize(w, 1<<20) }

// NewWriterSize returns a Writer whose buffer holds at least size bytes.
func NewWriterSize(w io.Writer, size int) *Writer {
	return &Writer{bw: bufio.NewWriterSize(w, size), scratch: make([]byte, 0, 4096)}
}

// WriteRow encodes and writes one row.
func (w *Writer) WriteRow(row record.Row) error {
	w.scratch = AppendRow(w.scratch[:0], row)
	return w.write()
}

// WriteFields writes plain text fields as one record.
func (w *Writer) WriteFields(fields []string) error {
	w.scratch = AppendFields(w.scratch[:0], fields)
	return w.write()
}

// WriteEncoded writes an already encoded record; line must end with LF.
func (w *Writer) WriteEncoded(line []byte) error {
	n, err := w.bw.Write(line)
	w.bytes += int64(n)
	if err == nil {
		w.rows++
	}
	return err
}

func (w *Writer) write() error {
	n, err := w.bw.Write(w.scratch)
	w.bytes += int64(n)
	if err == nil {
		w.rows++
	}
	return err
}

// Rows returns the number of records written.
func (w *Writer) Rows() int64 { return w.rows }

// Bytes returns the number of bytes handed to the buffer.
func (w *Writer) Bytes() int64 { return w.bytes }

// Flush writes buffered data to the underlying writer.
func (w *Writer) Flush() error { return w.bw.Flush() }
