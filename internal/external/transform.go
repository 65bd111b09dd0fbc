package external

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"

	"dumpconv/internal/chunk"
)

// ChunkTransform adapts t to the chunk scheduler. Tasks that were
// materialized are passed to the tool by path; other tasks are first copied
// into a temp file under dir. Non-zero exits become chunk.WorkerError so the
// scheduler can retry sequentially.
func ChunkTransform(t Tool, dir string, keepTemp bool) chunk.TransformFunc {
	fs := afero.NewOsFs()
	return func(ctx context.Context, task chunk.Task, in io.Reader) (*chunk.Result, error) {
		inPath := task.Path
		if inPath == "" {
			f, err := afero.TempFile(fs, dir, fmt.Sprintf("chunk_%05d_in_*", task.Index))
			if err != nil {
				return nil, err
			}
			inPath = f.Name()
			_, err = io.Copy(f, in)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if !keepTemp {
				defer fs.Remove(inPath)
			}
			if err != nil {
				return nil, fmt.Errorf("spool chunk %d: %w", task.Index, err)
			}
		}

		out, err := afero.TempFile(fs, dir, fmt.Sprintf("chunk_%05d_out_*", task.Index))
		if err != nil {
			return nil, err
		}
		outPath := out.Name()
		_ = out.Close()
		// The tool creates its own output; a missing file means it produced none.
		_ = fs.Remove(outPath)
		if !keepTemp {
			defer fs.Remove(outPath)
		}

		if err := t.Run(ctx, inPath, outPath); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &chunk.WorkerError{Index: task.Index, Err: err}
		}

		f, err := fs.Open(outPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, &chunk.WorkerError{Index: task.Index, Err: fmt.Errorf("tool wrote no output file")}
			}
			return nil, err
		}
		defer f.Close()
		res := chunk.NewResult(task.Index, 1)
		n, err := io.Copy(res.Stream(0), f)
		if err != nil {
			res.Release()
			return nil, err
		}
		res.Add("bytes_in", task.Size())
		res.Add("bytes_out", n)
		return res, nil
	}
}
