// Package textdecode turns dump bytes in a declared charset into UTF-8 under
// an explicit decode-error policy.
//
// Policies:
//
//   - strict: the first undecodable sequence fails the read with *DecodeError.
//   - replace: undecodable sequences become U+FFFD.
//   - ignore: undecodable sequences are dropped.
//
// A leading UTF-8 byte order mark is removed for UTF-8 input.
package textdecode

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// Policy selects how undecodable input is handled.
type Policy string

const (
	Strict  Policy = "strict"
	Replace Policy = "replace"
	Ignore  Policy = "ignore"
)

// ParsePolicy validates s; the empty string means Strict.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return Strict, nil
	case Strict, Replace, Ignore:
		return p, nil
	default:
		return "", fmt.Errorf("unknown decode error policy %q (want strict, replace or ignore)", s)
	}
}

// DecodeError reports input that cannot be decoded under the strict policy.
// It is fatal for a conversion run.
type DecodeError struct {
	Charset string
	// Offset is the byte position of the offending sequence: in the raw input
	// for UTF-8 sources, in the decoded stream for other charsets.
	Offset int64
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: invalid byte sequence at offset %d", e.Charset, e.Offset)
}

var aliases = map[string]encoding.Encoding{
	"latin-1":    charmap.ISO8859_1,
	"latin1":     charmap.ISO8859_1,
	"iso-8859-1": charmap.ISO8859_1,
	"cp1250":     charmap.Windows1250,
	"cp1252":     charmap.Windows1252,
}

// Lookup resolves a charset label. It returns a nil Encoding for UTF-8, which
// needs no transcoding. IANA names are tried first, then WHATWG labels.
func Lookup(name string) (encoding.Encoding, string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "", "utf-8", "utf8", "utf-8-sig":
		return nil, "utf-8", nil
	}
	if e, ok := aliases[n]; ok {
		return e, n, nil
	}
	if e, err := ianaindex.IANA.Encoding(n); err == nil && e != nil {
		if e == unicode.UTF8 {
			return nil, "utf-8", nil
		}
		canon, _ := ianaindex.IANA.Name(e)
		if canon == "" {
			canon = n
		}
		return e, strings.ToLower(canon), nil
	}
	if e, err := htmlindex.Get(n); err == nil {
		if e == unicode.UTF8 {
			return nil, "utf-8", nil
		}
		canon, _ := htmlindex.Name(e)
		return e, canon, nil
	}
	return nil, "", fmt.Errorf("unsupported charset %q", name)
}

// NewReader wraps r so that reads yield UTF-8 text decoded from charset under
// policy p.
func NewReader(r io.Reader, charset string, p Policy) (io.Reader, error) {
	e, canon, err := Lookup(charset)
	if err != nil {
		return nil, err
	}
	if p == "" {
		p = Strict
	}
	t, err := transformerFor(e, canon, p)
	if err != nil {
		return nil, err
	}
	return transform.NewReader(r, t), nil
}

func transformerFor(e encoding.Encoding, canon string, p Policy) (transform.Transformer, error) {
	dropReplacement := runes.Remove(runes.Predicate(func(r rune) bool { return r == utf8.RuneError }))
	if e == nil {
		switch p {
		case Strict:
			return &checker{charset: canon, stripBOM: true}, nil
		case Replace:
			return unicode.UTF8BOM.NewDecoder(), nil
		case Ignore:
			return transform.Chain(unicode.UTF8BOM.NewDecoder(), dropReplacement), nil
		}
	} else {
		switch p {
		case Strict:
			return transform.Chain(e.NewDecoder(), &checker{charset: canon, rejectReplacement: true}), nil
		case Replace:
			return e.NewDecoder(), nil
		case Ignore:
			return transform.Chain(e.NewDecoder(), dropReplacement), nil
		}
	}
	return nil, fmt.Errorf("unknown decode error policy %q", p)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// checker passes valid UTF-8 through and fails on the first invalid sequence
// (and, with rejectReplacement, on U+FFFD produced by an upstream decoder).
type checker struct {
	charset           string
	stripBOM          bool
	rejectReplacement bool

	off     int64
	started bool
}

func (c *checker) Reset() {
	c.off = 0
	c.started = false
}

func (c *checker) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	defer func() { c.off += int64(nSrc) }()

	if !c.started && c.stripBOM {
		if len(src) < len(utf8BOM) && !atEOF && bytes.HasPrefix(utf8BOM, src) {
			return 0, 0, transform.ErrShortSrc
		}
		if bytes.HasPrefix(src, utf8BOM) {
			nSrc = len(utf8BOM)
		}
	}
	c.started = true

	for nSrc < len(src) {
		b := src[nSrc]
		if b < utf8.RuneSelf {
			if nDst >= len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			dst[nDst] = b
			nDst++
			nSrc++
			continue
		}
		r, size := utf8.DecodeRune(src[nSrc:])
		if r == utf8.RuneError {
			if size <= 1 {
				if !atEOF && !utf8.FullRune(src[nSrc:]) {
					return nDst, nSrc, transform.ErrShortSrc
				}
				return nDst, nSrc, &DecodeError{Charset: c.charset, Offset: c.off + int64(nSrc)}
			}
			if c.rejectReplacement {
				return nDst, nSrc, &DecodeError{Charset: c.charset, Offset: c.off + int64(nSrc)}
			}
		}
		if nDst+size > len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		copy(dst[nDst:], src[nSrc:nSrc+size])
		nDst += size
		nSrc += size
	}
	return nDst, nSrc, nil
}
