// Package chunk splits a large input into line-aligned byte ranges, runs a
// transform over each range on a fixed pool of workers and merges the
// results back in input order.
//
// The merged output does not depend on the worker count: tasks are planned
// once, each task is transformed in isolation and the merger writes task
// results strictly by index.
package chunk

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
)

// DefaultChunkLines is the task size used when PlanOptions.ChunkLines is 0.
const DefaultChunkLines = 50000

// Task is one contiguous range of the input.
type Task struct {
	Index int
	// Start and End delimit the range [Start, End) in the original input.
	Start, End int64
	// FirstLine is the 1-based line number of the byte at Start.
	FirstLine int
	// Lines counts LF-terminated lines plus a final partial line.
	Lines int
	// Path is set when the range was materialized into its own file.
	Path string
}

// Size returns the byte length of the range.
func (t Task) Size() int64 { return t.End - t.Start }

func (t Task) String() string {
	return fmt.Sprintf("chunk %d [%d,%d) lines %d+%d", t.Index, t.Start, t.End, t.FirstLine, t.Lines)
}

// PlanOptions controls task sizing.
type PlanOptions struct {
	ChunkLines int
	Boundary   Boundary
}

func (o PlanOptions) withDefaults() PlanOptions {
	if o.ChunkLines <= 0 {
		o.ChunkLines = DefaultChunkLines
	}
	if o.Boundary == "" {
		o.Boundary = BoundaryLine
	}
	return o
}

// Plan scans the size bytes of r once and returns the task list. With
// BoundaryRecord a task can run past ChunkLines until the next safe cut.
func Plan(ctx context.Context, r io.ReaderAt, size int64, opt PlanOptions) ([]Task, error) {
	var tasks []Task
	err := walk(ctx, io.NewSectionReader(r, 0, size), opt, nil, func(t Task) error {
		tasks = append(tasks, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// walk reads src line by line. onData (optional) sees every byte in order;
// onCut is called once per finished task.
func walk(ctx context.Context, src io.Reader, opt PlanOptions, onData func(idx int, b []byte) error, onCut func(Task) error) error {
	opt = opt.withDefaults()
	br := bufio.NewReaderSize(src, 1<<20)
	cut := newCutter(opt.Boundary)

	cur := Task{FirstLine: 1}
	var off int64
	line := 1
	partial := false

	flush := func() error {
		cur.End = off
		if partial {
			cur.Lines++
		}
		if err := onCut(cur); err != nil {
			return err
		}
		cur = Task{Index: cur.Index + 1, Start: off, FirstLine: line}
		partial = false
		return nil
	}

	for {
		b, err := br.ReadSlice('\n')
		if len(b) > 0 {
			if onData != nil {
				if werr := onData(cur.Index, b); werr != nil {
					return werr
				}
			}
			cut.feed(b)
			off += int64(len(b))
			partial = true
			if b[len(b)-1] == '\n' {
				partial = false
				cur.Lines++
				line++
				if line%4096 == 0 {
					if cerr := ctx.Err(); cerr != nil {
						return cerr
					}
				}
				if cur.Lines >= opt.ChunkLines && cut.atCut() {
					if ferr := flush(); ferr != nil {
						return ferr
					}
				}
			}
		}
		if err == nil || errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		return fmt.Errorf("plan chunks at line %d: %w", line, err)
	}
	if off > cur.Start {
		return flush()
	}
	return nil
}
