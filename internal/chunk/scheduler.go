package chunk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"runtime"
	"sync"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// WorkerError marks a task failure the run can recover from by reprocessing
// sequentially. Any other error returned by a TransformFunc is fatal.
type WorkerError struct {
	Index int
	Err   error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.Index, e.Err)
}

func (e *WorkerError) Unwrap() error { return e.Err }

// Result is the output of one task. Out holds one buffer per output stream;
// the merger writes Out[i] to the i-th writer given to Run.
type Result struct {
	Index  int
	Out    []*bytes.Buffer
	Counts map[string]int64
}

var bufPool = sync.Pool{
	New: func() any { return bytes.NewBuffer(make([]byte, 0, 256<<10)) },
}

// NewResult returns a Result with streams pooled buffers.
func NewResult(index, streams int) *Result {
	r := &Result{Index: index, Out: make([]*bytes.Buffer, streams), Counts: map[string]int64{}}
	for i := range r.Out {
		b := bufPool.Get().(*bytes.Buffer)
		b.Reset()
		r.Out[i] = b
	}
	return r
}

// Stream returns the i-th output buffer.
func (r *Result) Stream(i int) *bytes.Buffer { return r.Out[i] }

// Add increments a named counter.
func (r *Result) Add(name string, n int64) { r.Counts[name] += n }

// Release returns the buffers to the pool.
func (r *Result) Release() {
	if r == nil {
		return
	}
	for i, b := range r.Out {
		if b != nil && b.Cap() <= 64<<20 {
			bufPool.Put(b)
		}
		r.Out[i] = nil
	}
}

// TransformFunc processes one task. in yields exactly the task's bytes. A
// returned *WorkerError triggers the sequential fallback; any other error
// aborts the run.
type TransformFunc func(ctx context.Context, t Task, in io.Reader) (*Result, error)

// Options configures Run.
type Options struct {
	// Workers is the pool size; 0 means GOMAXPROCS-1, at least 1.
	Workers int
	// Window bounds tasks in flight or waiting to merge; 0 means 2*Workers.
	Window int
	// Fallback replaces the transform in the sequential fallback when set.
	Fallback TransformFunc
	// Progress, when set, is called after every merged task.
	Progress func(merged, total int)
}

// DefaultWorkers returns GOMAXPROCS-1, at least 1.
func DefaultWorkers() int {
	if n := runtime.GOMAXPROCS(0) - 1; n > 1 {
		return n
	}
	return 1
}

// Summary describes a finished run.
type Summary struct {
	Tasks     int
	Workers   int
	Fallbacks int // tasks processed by the sequential fallback
	FailedAt  int // index of the first WorkerError, -1 when none
	Bytes     []int64
	Counts    map[string]int64
	// Digest is the xxh3 hash of everything written to the first stream.
	Digest uint64
}

type outcome struct {
	task Task
	res  *Result
	err  error
}

// Run transforms every task and writes results to outs in index order.
// outs[i] may be nil to discard stream i.
func Run(ctx context.Context, src Source, tasks []Task, fn TransformFunc, outs []io.Writer, opt Options) (Summary, error) {
	workers := opt.Workers
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	window := opt.Window
	if window <= 0 {
		window = 2 * workers
	}

	m := &merger{outs: outs, hash: xxh3.New(), sum: Summary{
		Tasks:    len(tasks),
		Workers:  workers,
		FailedAt: -1,
		Bytes:    make([]int64, len(outs)),
		Counts:   map[string]int64{},
	}}
	if len(tasks) == 0 {
		return m.sum, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(window))
	jobs := make(chan Task)
	done := make(chan outcome, window)
	stop := make(chan struct{})
	var stopOnce sync.Once

	g.Go(func() error {
		defer close(jobs)
		for _, t := range tasks {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			select {
			case <-stop:
				sem.Release(1)
				return nil
			default:
			}
			select {
			case jobs <- t:
			case <-stop:
				sem.Release(1)
				return nil
			case <-gctx.Done():
				sem.Release(1)
				return gctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for t := range jobs {
				res, err := runTask(gctx, src, t, fn)
				var we *WorkerError
				if err != nil && !errors.As(err, &we) {
					return err
				}
				select {
				case done <- outcome{task: t, res: res, err: err}:
				case <-gctx.Done():
					res.Release()
					return gctx.Err()
				}
			}
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(done)
	}()

	pending := make(map[int]outcome)
	next := 0
	var mergeErr error
	for o := range done {
		if mergeErr != nil || (m.sum.FailedAt >= 0 && o.task.Index > m.sum.FailedAt) {
			o.res.Release()
			sem.Release(1)
			continue
		}
		if o.err != nil {
			log.Printf("chunk: %v; falling back to sequential from chunk %d", o.err, o.task.Index)
			o.res.Release()
			sem.Release(1)
			if m.sum.FailedAt < 0 || o.task.Index < m.sum.FailedAt {
				m.sum.FailedAt = o.task.Index
			}
			stopOnce.Do(func() { close(stop) })
			for i, p := range pending {
				if i > m.sum.FailedAt {
					p.res.Release()
					sem.Release(1)
					delete(pending, i)
				}
			}
			continue
		}
		pending[o.task.Index] = o
		for {
			p, ok := pending[next]
			if !ok || (m.sum.FailedAt >= 0 && next >= m.sum.FailedAt) {
				break
			}
			delete(pending, next)
			mergeErr = m.write(p.res)
			sem.Release(1)
			if mergeErr != nil {
				cancel()
				break
			}
			next++
			if opt.Progress != nil {
				opt.Progress(next, len(tasks))
			}
		}
	}
	for _, p := range pending {
		p.res.Release()
	}

	if err := g.Wait(); err != nil && mergeErr == nil {
		return m.finish(), err
	}
	if mergeErr != nil {
		return m.finish(), mergeErr
	}

	if m.sum.FailedAt >= 0 {
		seq := fn
		if opt.Fallback != nil {
			seq = opt.Fallback
		}
		for ; next < len(tasks); next++ {
			res, err := runTask(ctx, src, tasks[next], seq)
			if err != nil {
				return m.finish(), fmt.Errorf("sequential fallback: %w", err)
			}
			m.sum.Fallbacks++
			if err := m.write(res); err != nil {
				return m.finish(), err
			}
			if opt.Progress != nil {
				opt.Progress(next+1, len(tasks))
			}
		}
	}
	return m.finish(), nil
}

// RunSequential processes every task in order on the calling goroutine.
func RunSequential(ctx context.Context, src Source, tasks []Task, fn TransformFunc, outs []io.Writer) (Summary, error) {
	m := &merger{outs: outs, hash: xxh3.New(), sum: Summary{
		Tasks:    len(tasks),
		Workers:  1,
		FailedAt: -1,
		Bytes:    make([]int64, len(outs)),
		Counts:   map[string]int64{},
	}}
	for _, t := range tasks {
		res, err := runTask(ctx, src, t, fn)
		if err != nil {
			return m.finish(), err
		}
		if err := m.write(res); err != nil {
			return m.finish(), err
		}
	}
	return m.finish(), nil
}

// runTask opens the task and applies fn. A panic inside fn becomes a
// WorkerError.
func runTask(ctx context.Context, src Source, t Task, fn TransformFunc) (res *Result, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	in, err := src.Open(t)
	if err != nil {
		return nil, &WorkerError{Index: t.Index, Err: fmt.Errorf("open: %w", err)}
	}
	defer in.Close()
	defer func() {
		if p := recover(); p != nil {
			res.Release()
			res, err = nil, &WorkerError{Index: t.Index, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	res, err = fn(ctx, t, in)
	if err != nil {
		res.Release()
		return nil, err
	}
	if res == nil {
		res = NewResult(t.Index, 0)
	}
	res.Index = t.Index
	return res, nil
}

type merger struct {
	outs []io.Writer
	hash *xxh3.Hasher
	sum  Summary
}

// write merges one result whole and releases it.
func (m *merger) write(r *Result) error {
	defer r.Release()
	for i, b := range r.Out {
		if i >= len(m.outs) || m.outs[i] == nil || b == nil {
			continue
		}
		p := b.Bytes()
		if i == 0 {
			_, _ = m.hash.Write(p)
		}
		n, err := m.outs[i].Write(p)
		m.sum.Bytes[i] += int64(n)
		if err != nil {
			return fmt.Errorf("merge chunk %d: %w", r.Index, err)
		}
	}
	for k, v := range r.Counts {
		m.sum.Counts[k] += v
	}
	return nil
}

func (m *merger) finish() Summary {
	m.sum.Digest = m.hash.Sum64()
	return m.sum
}
