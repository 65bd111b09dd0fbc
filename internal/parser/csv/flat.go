package csv

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"

	"dumpconv/internal/record"
)

const (
	flatBlock = 1 << 20
	// maxFlatRecord bounds one record in prefix mode.
	maxFlatRecord = 64 << 20
)

// FlatOptions configures Regroup.
type FlatOptions struct {
	// Columns is the number of fields per output row. Required.
	Columns int

	// Comma is the single-byte field delimiter, ',' when zero.
	Comma byte

	// DropHeader omits the first regrouped row.
	DropHeader bool

	// SkipPartial logs and drops rows with the wrong field count instead of
	// failing.
	SkipPartial bool

	// RecordPrefix, when set, is a regular expression matching the start of
	// every record (for example `\d+_\d+,`). Records are then located by the
	// prefix instead of by counting fields, and text before the first match
	// is emitted as a header row.
	RecordPrefix string
}

// FlatStats reports what Regroup did.
type FlatStats struct {
	Rows    int64
	Skipped int64
}

// PartialRowError reports a row whose field count does not match Columns.
type PartialRowError struct {
	Got, Want int
	Preview   string
}

func (e *PartialRowError) Error() string {
	if e.Preview != "" {
		return fmt.Sprintf("record has %d fields (expected %d): %s", e.Got, e.Want, e.Preview)
	}
	return fmt.Sprintf("final row has %d fields (expected %d); check the column count or input formatting", e.Got, e.Want)
}

// Regroup repairs a CSV export delivered without line endings: it reads the
// stream r as a run of fields, groups every Columns fields into a row and
// writes newline-terminated CSV to w.
func Regroup(ctx context.Context, r io.Reader, w io.Writer, opt FlatOptions) (FlatStats, error) {
	var st FlatStats
	if opt.Columns <= 0 {
		return st, fmt.Errorf("regroup: column count must be greater than zero")
	}
	if opt.Comma == 0 {
		opt.Comma = ','
	}
	if opt.Comma == '"' || opt.Comma == '\n' || opt.Comma == '\r' {
		return st, fmt.Errorf("regroup: invalid delimiter %q", opt.Comma)
	}

	cw := csv.NewWriter(w)
	cw.Comma = rune(opt.Comma)
	index := 0
	emit := func(row []string) error {
		defer func() { index++ }()
		if index == 0 && opt.DropHeader {
			return nil
		}
		st.Rows++
		return cw.Write(row)
	}

	var err error
	if opt.RecordPrefix != "" {
		err = regroupByPrefix(ctx, r, opt, &st, emit)
	} else {
		err = regroupFixed(ctx, r, opt, &st, emit)
	}
	if err != nil {
		return st, err
	}
	cw.Flush()
	return st, cw.Error()
}

// regroupFixed assumes the input is a strict concatenation of fields. A row
// is complete at the delimiter that follows its last field.
func regroupFixed(ctx context.Context, r io.Reader, opt FlatOptions, st *FlatStats, emit func([]string) error) error {
	var (
		row          = make([]string, 0, opt.Columns)
		field        []byte
		inQuotes     bool
		pendingQuote bool
		buf          = make([]byte, flatBlock)
	)
	const quote = '"'

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := r.Read(buf)
		for i := 0; i < n; {
			ch := buf[i]
			if pendingQuote {
				pendingQuote = false
				if ch == quote {
					field = append(field, quote)
					i++
					continue
				}
				// The quote closed the field; ch is reprocessed unquoted.
				inQuotes = false
				continue
			}
			switch {
			case ch == quote:
				switch {
				case inQuotes:
					pendingQuote = true
				case len(field) > 0:
					field = append(field, ch)
				default:
					inQuotes = true
				}
			case ch == opt.Comma && !inQuotes:
				row = append(row, string(field))
				field = field[:0]
				if len(row) == opt.Columns {
					if err := emit(row); err != nil {
						return err
					}
					row = row[:0]
				}
			default:
				field = append(field, ch)
			}
			i++
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return fmt.Errorf("regroup: read: %w", rerr)
		}
	}

	if len(row) == 0 && len(field) == 0 {
		return nil
	}
	row = append(row, string(field))
	if allEmpty(row) {
		return nil
	}
	if len(row) != opt.Columns {
		if opt.SkipPartial {
			log.Printf("Skipping partial trailing row: got %d fields, expected %d", len(row), opt.Columns)
			st.Skipped++
			return nil
		}
		return &PartialRowError{Got: len(row), Want: opt.Columns}
	}
	return emit(row)
}

// regroupByPrefix cuts the stream at every match of opt.RecordPrefix and
// parses each record on its own.
func regroupByPrefix(ctx context.Context, r io.Reader, opt FlatOptions, st *FlatStats, emit func([]string) error) error {
	re, err := regexp.Compile("(?m)" + opt.RecordPrefix)
	if err != nil {
		return fmt.Errorf("regroup: record prefix: %w", err)
	}

	br := bufio.NewReaderSize(r, flatBlock)
	chunk := make([]byte, flatBlock)
	var buffer []byte
	started := false

	parse := func(rec []byte, expect bool) error {
		rec = bytes.TrimSpace(rec)
		if len(rec) == 0 {
			return nil
		}
		row, err := parseFlatRecord(rec, opt.Comma)
		if err != nil {
			return err
		}
		if len(row) == 0 {
			return nil
		}
		if expect && len(row) != opt.Columns {
			if opt.SkipPartial {
				log.Printf("Skipping record with %d fields (expected %d): %s", len(row), opt.Columns, record.Preview(rec, 120))
				st.Skipped++
				return nil
			}
			return &PartialRowError{Got: len(row), Want: opt.Columns, Preview: record.Preview(rec, 120)}
		}
		return emit(row)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := br.Read(chunk)
		buffer = append(buffer, chunk[:n]...)

		if n > 0 {
			locs := re.FindAllIndex(buffer, -1)
			if len(locs) == 0 {
				if started && len(buffer) > maxFlatRecord {
					return fmt.Errorf("regroup: record exceeds %d bytes without a prefix match", maxFlatRecord)
				}
			} else {
				if !started {
					// Text before the first record is a header.
					if err := parse(buffer[:locs[0][0]], false); err != nil {
						return err
					}
					started = true
				}
				for i := 0; i+1 < len(locs); i++ {
					if err := parse(buffer[locs[i][0]:locs[i+1][0]], true); err != nil {
						return err
					}
				}
				buffer = append(buffer[:0], buffer[locs[len(locs)-1][0]:]...)
			}
		}

		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return fmt.Errorf("regroup: read: %w", rerr)
		}
	}
	return parse(buffer, true)
}

// parseFlatRecord reads the first CSV record of rec after normalizing line
// endings.
func parseFlatRecord(rec []byte, comma byte) ([]string, error) {
	s := strings.ReplaceAll(string(rec), "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "")
	cr := csv.NewReader(strings.NewReader(s))
	cr.Comma = rune(comma)
	cr.FieldsPerRecord = -1
	row, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse record: %s (%w)", record.Preview(rec, 120), err)
	}
	return row, nil
}

func allEmpty(row []string) bool {
	for _, f := range row {
		if f != "" {
			return false
		}
	}
	return true
}
