package csv

import (
	"bytes"
	"io"
	"sort"
)

// rewriter is an io.Reader that replaces every occurrence of pat with repl
// without buffering the whole stream. The last len(pat)-1 bytes of each block
// are held back as carry so matches spanning two reads are still found.
type rewriter struct {
	r     io.Reader
	pat   []byte
	repl  []byte
	tmp   []byte
	carry []byte
	buf   bytes.Buffer
	eof   bool
}

func newRewriter(r io.Reader, pat, repl []byte) *rewriter {
	k := max(len(pat)-1, 0)
	return &rewriter{
		r:     r,
		pat:   pat,
		repl:  repl,
		tmp:   make([]byte, 64<<10),
		carry: make([]byte, 0, k),
	}
}

// Scrub wraps r so every key of pairs is replaced by its value. Pairs are
// applied in key order, each as its own streaming pass.
func Scrub(r io.Reader, pairs map[string]string) io.Reader {
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		if k != "" && k != pairs[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		r = newRewriter(r, []byte(k), []byte(pairs[k]))
	}
	return r
}

func (sr *rewriter) Read(p []byte) (int, error) {
	for sr.buf.Len() == 0 {
		if sr.eof {
			return 0, io.EOF
		}
		if err := sr.fill(); err != nil {
			return 0, err
		}
	}
	return sr.buf.Read(p)
}

// fill reads one block, rewrites carry+block and queues all but the new
// carry for output.
func (sr *rewriter) fill() error {
	n, rerr := sr.r.Read(sr.tmp)
	if n > 0 {
		block := append(sr.carry, sr.tmp[:n]...)
		block = bytes.ReplaceAll(block, sr.pat, sr.repl)

		k := len(sr.pat) - 1
		if len(block) > k {
			sr.buf.Write(block[:len(block)-k])
			sr.carry = append(sr.carry[:0], block[len(block)-k:]...)
		} else {
			sr.carry = append(sr.carry[:0], block...)
		}
	}
	switch {
	case rerr == io.EOF:
		sr.buf.Write(sr.carry)
		sr.carry = sr.carry[:0]
		sr.eof = true
	case rerr != nil:
		return rerr
	}
	return nil
}
