// Package csv converts delimited exports into load-ready TSV and repairs
// flattened exports whose line endings were lost. Both stream their input and
// keep memory bounded by the longest record.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"dumpconv/internal/config"
	"dumpconv/internal/tsv"
)

// Options configures the CSV reader.
type Options struct {
	// Comma is the field delimiter, ',' when zero.
	Comma rune

	// LazyQuotes lets a quote appear in an unquoted field and a non-doubled
	// quote appear in a quoted field.
	LazyQuotes bool

	// TrimSpace trims leading and trailing white space from every field.
	TrimSpace bool

	// DropHeader discards the first record.
	DropHeader bool

	// Scrub maps byte sequences to replacements applied to the raw input
	// before parsing.
	Scrub map[string]string
}

// OptionsFrom reads parser.options keys: comma, lazy_quotes, trim_space,
// drop_header and scrub.
func OptionsFrom(o config.Options) Options {
	return Options{
		Comma:      o.Rune("comma", ','),
		LazyQuotes: o.Bool("lazy_quotes", false),
		TrimSpace:  o.Bool("trim_space", false),
		DropHeader: o.Bool("drop_header", false),
		Scrub:      o.StringMap("scrub"),
	}
}

// Stats reports what a conversion did.
type Stats struct {
	Records int64
	Dropped int64
	Bytes   int64
}

// newReader builds an encoding/csv reader over r. Field counts are not
// enforced; column validation is a separate stage.
func newReader(r io.Reader, opt Options) *csv.Reader {
	if len(opt.Scrub) > 0 {
		r = Scrub(r, opt.Scrub)
	}
	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	cr.TrimLeadingSpace = opt.TrimSpace
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	return cr
}

// ToTSV converts the CSV stream r to TSV on w. Embedded delimiters and line
// breaks inside quoted fields survive; the TSV writer escapes them. A
// malformed record is fatal and reported with its line.
func ToTSV(ctx context.Context, r io.Reader, w io.Writer, opt Options) (Stats, error) {
	var st Stats
	cr := newReader(r, opt)
	tw := tsv.NewWriter(w)

	for n := int64(0); ; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return st, err
			}
		}

		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return st, fmt.Errorf("csv to tsv: %w", err)
		}
		if n == 0 {
			rec = StripHeaderBOM(rec)
			if opt.DropHeader {
				st.Dropped++
				continue
			}
		}
		if opt.TrimSpace {
			for i := range rec {
				rec[i] = trimSpace(rec[i])
			}
		}
		if err := tw.WriteFields(rec); err != nil {
			return st, fmt.Errorf("write tsv: %w", err)
		}
		st.Records++
	}

	if err := tw.Flush(); err != nil {
		return st, fmt.Errorf("flush tsv: %w", err)
	}
	st.Bytes = tw.Bytes()
	return st, nil
}

// trimSpace trims ASCII space and tab only; other control characters are
// left for the TSV writer to normalize.
func trimSpace(s string) string {
	i, j := 0, len(s)
	for i < j && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	for j > i && (s[j-1] == ' ' || s[j-1] == '\t') {
		j--
	}
	return s[i:j]
}
