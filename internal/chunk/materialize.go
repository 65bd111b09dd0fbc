package chunk

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"
)

// Spool is a set of chunk files written by Materialize.
type Spool struct {
	Fs    afero.Fs
	Dir   string
	Tasks []Task
	Bytes int64
}

// Source returns a Source reading the spooled files.
func (s *Spool) Source() Source { return FileSource{Fs: s.Fs} }

// Remove deletes the spool directory.
func (s *Spool) Remove() error {
	if s == nil || s.Dir == "" {
		return nil
	}
	return s.Fs.RemoveAll(s.Dir)
}

// Materialize copies a non-seekable stream into chunk files under a fresh
// directory inside dir (the OS temp dir when empty). Disk use is the input
// size; nothing is held in memory beyond one line.
func Materialize(ctx context.Context, fs afero.Fs, dir string, r io.Reader, opt PlanOptions) (*Spool, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	root, err := afero.TempDir(fs, dir, "dumpconv-chunks-")
	if err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}
	sp := &Spool{Fs: fs, Dir: root}

	var (
		f   afero.File
		bw  *bufio.Writer
		idx = -1
	)
	closeCur := func() error {
		if f == nil {
			return nil
		}
		err := bw.Flush()
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		f = nil
		return err
	}

	err = walk(ctx, r, opt,
		func(i int, b []byte) error {
			if i != idx {
				if err := closeCur(); err != nil {
					return err
				}
				name := filepath.Join(root, fmt.Sprintf("chunk_%05d.part", i))
				nf, err := fs.Create(name)
				if err != nil {
					return fmt.Errorf("create chunk %d: %w", i, err)
				}
				f, bw, idx = nf, bufio.NewWriterSize(nf, 256<<10), i
			}
			_, err := bw.Write(b)
			return err
		},
		func(t Task) error {
			t.Path = filepath.Join(root, fmt.Sprintf("chunk_%05d.part", t.Index))
			sp.Tasks = append(sp.Tasks, t)
			sp.Bytes += t.Size()
			return nil
		},
	)
	if cerr := closeCur(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = sp.Remove()
		return nil, err
	}
	return sp, nil
}
