package convert

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/dustin/go-humanize"

	"dumpconv/internal/parser/sqldump"
	"dumpconv/internal/record"
	"dumpconv/internal/transformer"
)

// ExtractOptions configures Extract.
type ExtractOptions struct {
	Tables        []string
	Decode        Decode
	ProgressEvery int
}

// ExtractStats reports what Extract saw.
type ExtractStats struct {
	sqldump.Stats
	Lines       int64
	ParseErrors int64
}

// Extract writes every tuple of the dump r to w as one payload line. Values
// are re-serialized, so a literal that spans lines in the dump occupies one
// line here. Tuples that do not parse are skipped, counted, and copied to
// rejects when it is not nil.
func Extract(ctx context.Context, r io.Reader, w, rejects io.Writer, opt ExtractOptions) (ExtractStats, error) {
	var st ExtractStats
	dr, err := opt.Decode.reader(r)
	if err != nil {
		return st, err
	}
	tr := sqldump.NewTupleReader(dr, sqldump.ReaderOptions{Tables: opt.Tables})
	bw := bufio.NewWriterSize(w, 1<<20)
	var (
		row  = make(record.Row, 0, 32)
		line = make([]byte, 0, 4096)
	)

	for n := int64(1); ; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return st, err
			}
		}
		t, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return st, err
		}
		row, err = sqldump.AppendRow(row[:0], t.Payload)
		if err != nil {
			st.ParseErrors++
			log.Printf("extract: skipping line %d: %v", t.Line, err)
			if rejects != nil {
				line = append(escapeLine(line[:0], t.Payload), '\n')
				if _, err := rejects.Write(line); err != nil {
					return st, fmt.Errorf("write rejects: %w", err)
				}
			}
			continue
		}
		line = append(sqldump.AppendSerialized(line[:0], row), '\n')
		if _, err := bw.Write(line); err != nil {
			return st, fmt.Errorf("write payloads: %w", err)
		}
		st.Lines++
		if opt.ProgressEvery > 0 && n%int64(opt.ProgressEvery) == 0 {
			log.Printf("extract: line=%d tuples=%s", t.Line, humanize.Comma(n))
		}
	}
	st.Stats = tr.Stats()
	if err := bw.Flush(); err != nil {
		return st, fmt.Errorf("flush payloads: %w", err)
	}
	return st, nil
}

// SanitizeOptions configures SanitizePayloads.
type SanitizeOptions struct {
	KeepCommas       bool
	CommaReplacement string
}

// SanitizeStats reports what SanitizePayloads changed.
type SanitizeStats struct {
	transformer.SanitizeStats
	ParseErrors int64
}

// SanitizePayloads cleans every payload line of r and writes it to w in the
// same format. Lines that do not parse are passed through unchanged and
// counted.
func SanitizePayloads(ctx context.Context, r io.Reader, w io.Writer, opt SanitizeOptions) (SanitizeStats, error) {
	var st SanitizeStats
	s := transformer.Sanitizer{ReplaceCommas: !opt.KeepCommas, CommaReplacement: opt.CommaReplacement}
	pr := sqldump.NewPayloadReader(r)
	bw := bufio.NewWriterSize(w, 1<<20)
	var (
		row  = make(record.Row, 0, 32)
		line = make([]byte, 0, 4096)
	)

	for n := 1; ; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return st, err
			}
		}
		t, err := pr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return st, err
		}
		row, err = sqldump.AppendRow(row[:0], t.Payload)
		if err != nil {
			st.ParseErrors++
			line = append(escapeLine(line[:0], t.Payload), '\n')
		} else {
			s.Row(row, &st.SanitizeStats)
			line = append(sqldump.AppendSerialized(line[:0], row), '\n')
		}
		if _, err := bw.Write(line); err != nil {
			return st, fmt.Errorf("write payloads: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return st, fmt.Errorf("flush payloads: %w", err)
	}
	return st, nil
}
