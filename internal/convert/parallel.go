package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"dumpconv/internal/chunk"
	"dumpconv/internal/datasource"
	"dumpconv/internal/external"
	"dumpconv/internal/parser/sqldump"
)

// ParallelOptions configures Parallel.
type ParallelOptions struct {
	Job   string
	RunID string
	Tool  external.Tool

	Workers    int
	ChunkLines int
	Window     int
	Boundary   chunk.Boundary
	TempDir    string
	KeepTemp   bool
}

// Parallel cuts src into chunks, runs the external tool on each and merges
// their outputs to w in input order. A failing chunk switches the rest of
// the run to sequential processing.
func Parallel(ctx context.Context, src datasource.Source, w io.Writer, opt ParallelOptions) (rep Report, err error) {
	if w == nil {
		return rep, errors.New("parallel: no output")
	}
	start := time.Now()
	rep = Report{RunID: opt.RunID, Job: opt.Job, Mode: "parallel"}
	if rep.RunID == "" {
		rep.RunID = uuid.NewString()
	}
	defer func() { rep.Duration = time.Since(start) }()

	in, err := openChunks(ctx, src, Options{
		ChunkLines: opt.ChunkLines,
		TempDir:    opt.TempDir,
		KeepTemp:   opt.KeepTemp,
	}, opt.Boundary)
	if err != nil {
		return rep, err
	}
	defer func() {
		if cerr := in.close(); cerr != nil {
			log.Printf("parallel: cleanup: %v", cerr)
		}
	}()

	fs := afero.NewOsFs()
	work, err := afero.TempDir(fs, opt.TempDir, "dumpconv-tool-")
	if err != nil {
		return rep, fmt.Errorf("create work dir: %w", err)
	}
	if opt.KeepTemp {
		log.Printf("parallel: keeping chunk files under %s", work)
	} else {
		defer fs.RemoveAll(work)
	}

	fn := external.ChunkTransform(opt.Tool, work, opt.KeepTemp)
	outs := []io.Writer{w}
	var sum chunk.Summary
	if opt.Workers <= 1 {
		sum, err = chunk.RunSequential(ctx, in.src, in.tasks, fn, outs)
	} else {
		sum, err = chunk.Run(ctx, in.src, in.tasks, fn, outs, chunk.Options{
			Workers: opt.Workers,
			Window:  opt.Window,
			Progress: func(merged, total int) {
				log.Printf("parallel: merged chunk %d/%d", merged, total)
			},
		})
	}
	rep.Workers, rep.Chunks, rep.Fallback = sum.Workers, sum.Tasks, sum.Fallbacks
	rep.BytesIn = sum.Counts["bytes_in"]
	if len(sum.Bytes) > 0 {
		rep.BytesOut = sum.Bytes[0]
	}
	rep.Digest = sum.Digest
	return rep, err
}

// SplitOptions configures SplitFile.
type SplitOptions struct {
	Dir     string
	PerFile int
	Tables  []string
	Decode  Decode
}

// SplitFile splits the dump r into per-table files of at most PerFile INSERT
// statements under opt.Dir.
func SplitFile(ctx context.Context, fs afero.Fs, r io.Reader, opt SplitOptions) (sqldump.SplitResult, error) {
	dr, err := opt.Decode.reader(r)
	if err != nil {
		return sqldump.SplitResult{}, err
	}
	res, err := sqldump.SplitInserts(ctx, osFs(fs), dr, sqldump.SplitOptions{
		Dir:     opt.Dir,
		PerFile: opt.PerFile,
		Tables:  opt.Tables,
	})
	if err != nil {
		return res, fmt.Errorf("split inserts: %w", err)
	}
	return res, nil
}
