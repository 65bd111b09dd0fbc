package chunk

import (
	"io"
	"os"

	"github.com/spf13/afero"
)

// Source opens the bytes of one task.
type Source interface {
	Open(t Task) (io.ReadCloser, error)
}

// ReaderAtSource serves tasks as sections of a single seekable input.
type ReaderAtSource struct {
	R io.ReaderAt
}

// Open implements Source.
func (s ReaderAtSource) Open(t Task) (io.ReadCloser, error) {
	if f, ok := s.R.(*os.File); ok {
		// Best effort; the range is about to be read start to end.
		_ = Advise(f, t.Start, t.Size())
	}
	return io.NopCloser(io.NewSectionReader(s.R, t.Start, t.Size())), nil
}

// FileSource serves materialized tasks from their own files.
type FileSource struct {
	Fs afero.Fs
}

// Open implements Source.
func (s FileSource) Open(t Task) (io.ReadCloser, error) {
	fs := s.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return fs.Open(t.Path)
}
