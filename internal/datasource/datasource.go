// Package datasource defines where conversion input comes from.
package datasource

import (
	"context"
	"io"
	"os"
)

// Source opens the raw input stream of a run.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	// Name is used in logs and error messages.
	Name() string
}

// File is an opened input that supports random access.
type File interface {
	io.Reader
	io.ReaderAt
	io.Closer
}

// Seekable is implemented by sources that can be read at arbitrary offsets.
// Chunk planning uses it to cut the input in place instead of spooling it.
type Seekable interface {
	Source
	OpenAt(ctx context.Context) (File, int64, error)
}

// Stdin reads the process standard input, or R when set.
type Stdin struct{ R io.Reader }

func (s Stdin) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := s.R
	if r == nil {
		r = os.Stdin
	}
	return io.NopCloser(r), nil
}

func (Stdin) Name() string { return "<stdin>" }
