package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/dustin/go-humanize"

	"dumpconv/internal/parser/sqldump"
	"dumpconv/internal/record"
	"dumpconv/internal/transformer"
	"dumpconv/internal/tsv"
)

// streamCounts are the per-stream record counters. Chunk workers report
// them through chunk.Result counts under the names in countNames.
type streamCounts struct {
	Tuples      int64
	Processed   int64
	Accepted    int64
	Rejected    int64
	ParseErrors int64
	Truncated   int64
	Sanitized   int64
}

var countNames = [...]string{"tuples", "processed", "accepted", "rejected", "parse_errors", "truncated", "sanitized"}

func (c *streamCounts) fields() [len(countNames)]*int64 {
	return [...]*int64{&c.Tuples, &c.Processed, &c.Accepted, &c.Rejected, &c.ParseErrors, &c.Truncated, &c.Sanitized}
}

func (c *streamCounts) toCounts(add func(string, int64)) {
	for i, p := range c.fields() {
		add(countNames[i], *p)
	}
}

func (c *streamCounts) fromCounts(m map[string]int64) {
	for i, p := range c.fields() {
		*p = m[countNames[i]]
	}
}

// streamConfig is what one tupleConverter needs to know about the run.
type streamConfig struct {
	reader           sqldump.ReaderOptions
	expected         int
	failOnParseError bool
	sanitize         *transformer.Sanitizer
	progressEvery    int
}

// tupleConverter turns the tuples of one stream into TSV rows. Accepted rows
// go to data; rejected rows are re-serialized as payload lines onto rejects
// and described on the validator's log. It is not safe for concurrent use.
type tupleConverter struct {
	cfg     streamConfig
	v       *transformer.ColumnValidator
	data    *tsv.Writer
	rejects io.Writer
	agg     *errAgg

	row     record.Row
	scratch []byte
	counts  streamCounts
}

func newTupleConverter(cfg streamConfig, data *tsv.Writer, rejects, logw io.Writer, agg *errAgg) *tupleConverter {
	return &tupleConverter{
		cfg:     cfg,
		v:       transformer.NewColumnValidator(cfg.expected, logw),
		data:    data,
		rejects: rejects,
		agg:     agg,
		row:     make(record.Row, 0, 32),
		scratch: make([]byte, 0, 4096),
	}
}

// run reads tuples from r until EOF. Data is left in the writer's buffer;
// the caller flushes.
func (c *tupleConverter) run(ctx context.Context, r io.Reader) error {
	tr := sqldump.NewTupleReader(r, c.cfg.reader)
	for n := int64(1); ; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		t, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := c.tuple(t); err != nil {
			return err
		}
		if c.cfg.progressEvery > 0 && n%int64(c.cfg.progressEvery) == 0 {
			log.Printf("convert: line=%d tuples=%s accepted=%s rejected=%s",
				t.Line, humanize.Comma(n), humanize.Comma(c.counts.Accepted), humanize.Comma(c.counts.Rejected))
		}
	}
	c.counts.Truncated = int64(tr.Stats().Truncated)
	if err := c.v.Err(); err != nil {
		return fmt.Errorf("write rejection log: %w", err)
	}
	return nil
}

func (c *tupleConverter) tuple(t record.Tuple) error {
	c.counts.Tuples++
	row, err := sqldump.AppendRow(c.row[:0], t.Payload)
	c.row = row
	if err != nil {
		var ue *sqldump.UnterminatedLiteralError
		if errors.As(err, &ue) {
			ue.Line = t.Line
		}
		if c.cfg.failOnParseError {
			return err
		}
		c.counts.ParseErrors++
		c.count()
		c.v.Reject(t.Line, t.Payload, sqldump.ErrUnterminatedLiteral)
		c.agg.add(err.Error())
		return c.reject(escapeLine(c.scratch[:0], t.Payload))
	}

	if !c.v.CheckRow(t.Line, t.Payload, row) {
		c.count()
		c.agg.add(fmt.Sprintf("line %d: expected %d columns, found %d", t.Line, c.v.Expected(), len(row)))
		return c.reject(sqldump.AppendSerialized(c.scratch[:0], row))
	}
	c.count()
	if c.cfg.sanitize != nil && c.cfg.sanitize.Row(row, nil) > 0 {
		c.counts.Sanitized++
	}
	if err := c.data.WriteRow(row); err != nil {
		return fmt.Errorf("write tsv: %w", err)
	}
	return nil
}

// count copies the validator counters after each decision.
func (c *tupleConverter) count() {
	st := c.v.Stats()
	c.counts.Processed, c.counts.Accepted, c.counts.Rejected = st.Processed, st.Accepted, st.Rejected
}

func (c *tupleConverter) reject(line []byte) error {
	c.scratch = line
	if c.rejects == nil {
		return nil
	}
	c.scratch = append(c.scratch, '\n')
	if _, err := c.rejects.Write(c.scratch); err != nil {
		return fmt.Errorf("write rejects: %w", err)
	}
	return nil
}
