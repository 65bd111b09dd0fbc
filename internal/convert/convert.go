// Package convert wires the parsing, validation and chunking packages into
// the stages of a dump conversion run: extract, sanitize, validate, prepare
// chunks, and the end-to-end Convert that goes from a dump straight to
// load-ready TSV, either on one goroutine or through the chunk scheduler.
//
// Every stage streams its input. Stages that write more than one artifact
// take their destinations as io.Writers; the *File helpers open them on an
// afero filesystem and apply the file naming conventions.
package convert

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"dumpconv/internal/textdecode"
	"dumpconv/internal/transformer"
)

// DefaultErrorSamples is how many record problems a run keeps for its
// summary.
const DefaultErrorSamples = 10

// Decode names the input charset and what happens to invalid sequences.
type Decode struct {
	Charset string
	Policy  textdecode.Policy
}

// reader wraps r so reads yield validated UTF-8.
func (d Decode) reader(r io.Reader) (io.Reader, error) {
	return textdecode.NewReader(r, d.Charset, d.Policy)
}

// asciiCompatible reports whether bytes below 0x80 mean the same thing raw
// and decoded, so the raw input can be cut at LF and each range decoded on
// its own.
func (d Decode) asciiCompatible() bool {
	_, canon, err := textdecode.Lookup(d.Charset)
	if err != nil {
		return false
	}
	return !strings.HasPrefix(canon, "utf-16") && !strings.HasPrefix(canon, "utf-32")
}

// Sanitize configures value cleaning. A nil *Sanitize disables it.
type Sanitize struct {
	KeepCommas       bool
	CommaReplacement string
}

func (s *Sanitize) sanitizer() *transformer.Sanitizer {
	if s == nil {
		return nil
	}
	return &transformer.Sanitizer{ReplaceCommas: !s.KeepCommas, CommaReplacement: s.CommaReplacement}
}

// errAgg keeps the first few record problems of a run and the total count.
// Chunk workers share one, so it locks.
type errAgg struct {
	mu    sync.Mutex
	limit int
	count int
	first []string
}

func newErrAgg(limit int) *errAgg {
	if limit < 0 {
		limit = 0
	}
	return &errAgg{limit: limit}
}

func (a *errAgg) add(msg string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	if a.count < a.limit {
		a.first = append(a.first, msg)
	}
	a.count++
	a.mu.Unlock()
}

func (a *errAgg) samples() []string {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.first...)
}

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// outFile is a buffered file created on an afero filesystem.
type outFile struct {
	f  afero.File
	bw *bufio.Writer
}

func createOut(fs afero.Fs, path string) (*outFile, error) {
	f, err := fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &outFile{f: f, bw: bufio.NewWriterSize(f, 1<<20)}, nil
}

func (o *outFile) Write(p []byte) (int, error) { return o.bw.Write(p) }

// Close flushes and closes the file. It is a no-op on a nil *outFile.
func (o *outFile) Close() error {
	if o == nil {
		return nil
	}
	err := o.bw.Flush()
	if cerr := o.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// writer returns o as an io.Writer, or a nil interface when o is nil, so
// optional destinations stay nil for the stages.
func (o *outFile) writer() io.Writer {
	if o == nil {
		return nil
	}
	return o
}

func osFs(fs afero.Fs) afero.Fs {
	if fs == nil {
		return afero.NewOsFs()
	}
	return fs
}

// escapeLine makes raw payload bytes fit on one line by escaping CR and LF
// the way SQL literals spell them.
func escapeLine(dst, raw []byte) []byte {
	for _, c := range raw {
		switch c {
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		default:
			dst = append(dst, c)
		}
	}
	return dst
}
