package convert

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/zeebo/xxh3"

	"dumpconv/internal/chunk"
	"dumpconv/internal/datasource"
	"dumpconv/internal/parser/sqldump"
	"dumpconv/internal/tsv"
)

// Options configures Convert.
type Options struct {
	// Job names the run in logs and metric labels.
	Job string
	// RunID labels the run; a random UUID when empty.
	RunID  string
	Tables []string
	Decode Decode
	// ExpectedColumns of 0 takes the count from the first parsable tuple.
	ExpectedColumns  int
	FailOnParseError bool
	Sanitize         *Sanitize

	// Workers <= 1 converts on the calling goroutine.
	Workers    int
	ChunkLines int
	Window     int
	// TempDir receives spooled chunks of non-seekable inputs.
	TempDir  string
	KeepTemp bool
	// Fs holds the spool; the OS filesystem when nil.
	Fs afero.Fs

	ProgressEvery int
	ErrorSamples  int
}

// Outputs are the destinations of a conversion. Data is required; Rejects
// receives the payload line of every rejected tuple and Log the rejection
// log entries. Either may be nil.
type Outputs struct {
	Data    io.Writer
	Rejects io.Writer
	Log     io.Writer
}

// Report describes a finished conversion.
type Report struct {
	RunID    string
	Job      string
	Mode     string // "sequential" or "parallel"
	Workers  int
	Chunks   int
	Fallback int
	Expected int
	Inferred bool

	Tuples      int64
	Processed   int64
	Accepted    int64
	Rejected    int64
	ParseErrors int64
	Truncated   int64
	Sanitized   int64

	BytesIn  int64
	BytesOut int64
	// Digest is the xxh3 hash of the TSV written to Outputs.Data.
	Digest   uint64
	Duration time.Duration

	// Samples holds the first few record problems.
	Samples []string
}

func (r *Report) setCounts(c streamCounts) {
	r.Tuples, r.Processed, r.Accepted, r.Rejected = c.Tuples, c.Processed, c.Accepted, c.Rejected
	r.ParseErrors, r.Truncated, r.Sanitized = c.ParseErrors, c.Truncated, c.Sanitized
}

// Parallel reports whether opt and src allow the chunked path. Table filters
// need statement heads, which chunks after the first do not see, and UTF-16
// input cannot be cut at raw LF bytes.
func (opt Options) Parallel() bool {
	return opt.Workers > 1 && len(opt.Tables) == 0 && opt.Decode.asciiCompatible()
}

// Convert reads a dump from src and writes load-ready TSV. The parallel path
// cuts at record boundaries and produces the same bytes as the sequential
// one for any worker count.
func Convert(ctx context.Context, src datasource.Source, out Outputs, opt Options) (rep Report, err error) {
	if out.Data == nil {
		return rep, errors.New("convert: no data output")
	}
	start := time.Now()
	rep = Report{RunID: opt.RunID, Job: opt.Job, Mode: "sequential", Workers: 1}
	if rep.RunID == "" {
		rep.RunID = uuid.NewString()
	}
	agg := newErrAgg(pickSamples(opt.ErrorSamples))
	defer func() {
		rep.Duration = time.Since(start)
		rep.Samples = agg.samples()
	}()

	if opt.Workers > 1 && !opt.Parallel() {
		log.Printf("convert: running sequentially (tables=%v encoding=%q)", opt.Tables, opt.Decode.Charset)
	}
	if !opt.Parallel() {
		rc, err := src.Open(ctx)
		if err != nil {
			return rep, err
		}
		defer rc.Close()
		err = convertSequential(ctx, rc, out, opt, agg, &rep)
		return rep, err
	}
	err = convertParallel(ctx, src, out, opt, agg, &rep)
	return rep, err
}

func pickSamples(n int) int {
	if n > 0 {
		return n
	}
	return DefaultErrorSamples
}

func convertSequential(ctx context.Context, rc io.Reader, out Outputs, opt Options, agg *errAgg, rep *Report) error {
	in := &countingReader{r: rc}
	r, err := opt.Decode.reader(in)
	if err != nil {
		return err
	}

	h := xxh3.New()
	data := tsv.NewWriter(io.MultiWriter(out.Data, h))
	var rejects, logw *bufio.Writer
	if out.Rejects != nil {
		rejects = bufio.NewWriterSize(out.Rejects, 256<<10)
	}
	if out.Log != nil {
		logw = bufio.NewWriterSize(out.Log, 64<<10)
	}

	tc := newTupleConverter(streamConfig{
		reader:           sqldump.ReaderOptions{Tables: opt.Tables},
		expected:         opt.ExpectedColumns,
		failOnParseError: opt.FailOnParseError,
		sanitize:         opt.Sanitize.sanitizer(),
		progressEvery:    opt.ProgressEvery,
	}, data, writerOrNil(rejects), writerOrNil(logw), agg)

	runErr := tc.run(ctx, r)
	rep.setCounts(tc.counts)
	rep.Expected, rep.Inferred = tc.v.Expected(), tc.v.Inferred()
	rep.BytesIn = in.n
	if runErr != nil {
		return runErr
	}

	if err := data.Flush(); err != nil {
		return fmt.Errorf("flush tsv: %w", err)
	}
	for _, bw := range []*bufio.Writer{rejects, logw} {
		if bw == nil {
			continue
		}
		if err := bw.Flush(); err != nil {
			return fmt.Errorf("flush rejects: %w", err)
		}
	}
	rep.BytesOut = data.Bytes()
	rep.Digest = h.Sum64()
	return nil
}

func writerOrNil(bw *bufio.Writer) io.Writer {
	if bw == nil {
		return nil
	}
	return bw
}

// chunkInput opens src for the scheduler. Seekable sources are planned in
// place; anything else is spooled to chunk files first.
type chunkInput struct {
	src   chunk.Source
	tasks []chunk.Task
	bytes int64
	close func() error
}

func openChunks(ctx context.Context, src datasource.Source, opt Options, boundary chunk.Boundary) (*chunkInput, error) {
	plan := chunk.PlanOptions{ChunkLines: opt.ChunkLines, Boundary: boundary}

	if s, ok := src.(datasource.Seekable); ok {
		f, size, err := s.OpenAt(ctx)
		if err != nil {
			return nil, err
		}
		tasks, err := chunk.Plan(ctx, f, size, plan)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("plan chunks: %w", err)
		}
		return &chunkInput{src: chunk.ReaderAtSource{R: f}, tasks: tasks, bytes: size, close: f.Close}, nil
	}

	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	sp, err := chunk.Materialize(ctx, osFs(opt.Fs), opt.TempDir, rc, plan)
	if err != nil {
		return nil, fmt.Errorf("spool %s: %w", src.Name(), err)
	}
	log.Printf("convert: spooled %s into %d chunks under %s", src.Name(), len(sp.Tasks), sp.Dir)
	in := &chunkInput{src: sp.Source(), tasks: sp.Tasks, bytes: sp.Bytes, close: sp.Remove}
	if opt.KeepTemp {
		in.close = func() error { return nil }
	}
	return in, nil
}

func convertParallel(ctx context.Context, src datasource.Source, out Outputs, opt Options, agg *errAgg, rep *Report) error {
	// Chunks after the first are parsed without their statement head, so a
	// cut may only fall between tuples or statements.
	in, err := openChunks(ctx, src, opt, chunk.BoundaryRecord)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := in.close(); cerr != nil {
			log.Printf("convert: cleanup: %v", cerr)
		}
	}()

	expected := opt.ExpectedColumns
	if expected <= 0 {
		expected, err = firstColumnCount(ctx, in, opt.Decode)
		if err != nil {
			return err
		}
		rep.Inferred = expected > 0
	}
	rep.Expected = expected

	fn := rowTransform(streamConfig{
		expected:         expected,
		failOnParseError: opt.FailOnParseError,
		sanitize:         opt.Sanitize.sanitizer(),
	}, opt.Decode, agg)

	sum, err := chunk.Run(ctx, in.src, in.tasks, fn, []io.Writer{out.Data, out.Rejects, out.Log}, chunk.Options{
		Workers: opt.Workers,
		Window:  opt.Window,
		Progress: func(merged, total int) {
			if opt.ProgressEvery > 0 && (merged%10 == 0 || merged == total) {
				log.Printf("convert: merged chunk %d/%d", merged, total)
			}
		},
	})
	rep.Mode = "parallel"
	rep.Workers, rep.Chunks, rep.Fallback = sum.Workers, sum.Tasks, sum.Fallbacks
	var c streamCounts
	c.fromCounts(sum.Counts)
	rep.setCounts(c)
	rep.BytesIn = in.bytes
	if len(sum.Bytes) > 0 {
		rep.BytesOut = sum.Bytes[0]
	}
	rep.Digest = sum.Digest
	return err
}

// rowTransform is the in-process chunk transform: each task is decoded and
// converted on its own, with line numbers relative to the whole input.
func rowTransform(cfg streamConfig, dec Decode, agg *errAgg) chunk.TransformFunc {
	return func(ctx context.Context, t chunk.Task, in io.Reader) (*chunk.Result, error) {
		r, err := dec.reader(in)
		if err != nil {
			return nil, err
		}
		res := chunk.NewResult(t.Index, 3)
		data := tsv.NewWriterSize(res.Stream(0), 64<<10)

		c := cfg
		c.reader = sqldump.ReaderOptions{Orphans: t.Index > 0, FirstLine: t.FirstLine}
		tc := newTupleConverter(c, data, res.Stream(1), res.Stream(2), agg)
		if err := tc.run(ctx, r); err != nil {
			res.Release()
			return nil, fmt.Errorf("chunk %d: %w", t.Index, err)
		}
		if err := data.Flush(); err != nil {
			res.Release()
			return nil, err
		}
		tc.counts.toCounts(res.Add)
		return res, nil
	}
}

// firstColumnCount returns the field count of the first tuple that parses,
// reading the tasks in order. It is 0 when no tuple parses.
func firstColumnCount(ctx context.Context, in *chunkInput, dec Decode) (int, error) {
	tr := &taskReader{src: in.src, tasks: in.tasks}
	defer tr.Close()
	r, err := dec.reader(tr)
	if err != nil {
		return 0, err
	}
	tuples := sqldump.NewTupleReader(r, sqldump.ReaderOptions{})
	for n := 1; ; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		t, err := tuples.Next()
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		if row, err := sqldump.ParseRow(t.Payload); err == nil {
			return len(row), nil
		}
	}
}

// taskReader reads the tasks of a chunk.Source back to back.
type taskReader struct {
	src   chunk.Source
	tasks []chunk.Task
	cur   io.ReadCloser
}

func (r *taskReader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			if len(r.tasks) == 0 {
				return 0, io.EOF
			}
			rc, err := r.src.Open(r.tasks[0])
			if err != nil {
				return 0, err
			}
			r.cur, r.tasks = rc, r.tasks[1:]
		}
		n, err := r.cur.Read(p)
		if errors.Is(err, io.EOF) {
			r.cur.Close()
			r.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *taskReader) Close() error {
	if r.cur == nil {
		return nil
	}
	err := r.cur.Close()
	r.cur = nil
	return err
}
