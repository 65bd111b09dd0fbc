// Package file implements a local filesystem-backed data source.
package file

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/afero"

	"dumpconv/internal/datasource"
)

// Local opens a single path on an afero filesystem.
type Local struct {
	fs   afero.Fs
	path string
}

// NewLocal returns a Local bound to path on fs. A nil fs means the OS
// filesystem.
func NewLocal(fs afero.Fs, path string) *Local {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Local{fs: fs, path: path}
}

var _ datasource.Seekable = (*Local)(nil)

func (l *Local) Name() string { return l.path }

// Open returns the file for sequential reading. A context that is already
// done short-circuits before touching the filesystem. Errors keep the
// underlying cause for errors.Is checks (e.g. os.ErrNotExist).
func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
	f, _, err := l.OpenAt(ctx)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// OpenAt opens the file and reports its size. Directories are rejected.
func (l *Local) OpenAt(ctx context.Context) (datasource.File, int64, error) {
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	default:
	}
	f, err := l.fs.Open(l.path)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", l.path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", l.path, err)
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, 0, fmt.Errorf("open %s: is a directory", l.path)
	}
	return f, st.Size(), nil
}
