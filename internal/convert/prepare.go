package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"dumpconv/internal/loadscript"
	"dumpconv/internal/parser/sqldump"
	"dumpconv/internal/record"
	"dumpconv/internal/tsv"
)

// DefaultRowsPerFile caps the rows of one prepared chunk file.
const DefaultRowsPerFile = 200000

// PrepareOptions configures PrepareChunks.
type PrepareOptions struct {
	// Mode is the input format: ModeSQL payload lines or ModeTSV records.
	Mode string
	Dir  string
	// Base prefixes the output names; "data" when empty.
	Base        string
	RowsPerFile int
	MaxLine     int

	// LoadScript, when its Path is set, is rendered for the written files.
	LoadScript LoadScriptOptions
}

// LoadScriptOptions names the bulk-load statements written after the chunks.
type LoadScriptOptions struct {
	Path    string
	Dialect loadscript.Dialect
	Target  loadscript.Target
}

// PrepareReport lists the chunk files written.
type PrepareReport struct {
	Files []string
	Rows  int64
	Bytes int64
}

// ChunkName returns the file name of chunk n (1-based) for base.
func ChunkName(base string, n int) string {
	return fmt.Sprintf("%s_chunk_%04d.tsv", base, n)
}

// BaseName returns the default chunk base for an input path: its file name
// without extension.
func BaseName(path string) string {
	b := filepath.Base(path)
	return strings.TrimSuffix(b, filepath.Ext(b))
}

// chunkWriter rotates numbered TSV files every rows records. Files are only
// created when a record is written to them.
type chunkWriter struct {
	fs   afero.Fs
	dir  string
	base string
	rows int

	cur     *outFile
	tw      *tsv.Writer
	inFile  int
	rep     PrepareReport
	scratch []byte
}

func (c *chunkWriter) next() error {
	if err := c.close(); err != nil {
		return err
	}
	path := filepath.Join(c.dir, ChunkName(c.base, len(c.rep.Files)+1))
	o, err := createOut(c.fs, path)
	if err != nil {
		return err
	}
	c.cur, c.tw, c.inFile = o, tsv.NewWriterSize(o, 64<<10), 0
	c.rep.Files = append(c.rep.Files, path)
	return nil
}

func (c *chunkWriter) write(line []byte) error {
	if c.cur == nil || c.inFile >= c.rows {
		if err := c.next(); err != nil {
			return err
		}
	}
	if err := c.tw.WriteEncoded(line); err != nil {
		return fmt.Errorf("write %s: %w", c.rep.Files[len(c.rep.Files)-1], err)
	}
	c.inFile++
	c.rep.Rows++
	return nil
}

func (c *chunkWriter) close() error {
	if c.cur == nil {
		return nil
	}
	err := c.tw.Flush()
	c.rep.Bytes += c.tw.Bytes()
	if cerr := c.cur.Close(); err == nil {
		err = cerr
	}
	c.cur, c.tw = nil, nil
	return err
}

// PrepareChunks converts r into numbered TSV files of at most RowsPerFile
// rows under opt.Dir. In sql mode every payload line is parsed and encoded,
// turning a bare NULL into \N; in tsv mode non-empty lines are copied.
func PrepareChunks(ctx context.Context, fs afero.Fs, r io.Reader, opt PrepareOptions) (PrepareReport, error) {
	fs = osFs(fs)
	mode, err := ParseMode(opt.Mode)
	if err != nil {
		return PrepareReport{}, err
	}
	if opt.RowsPerFile <= 0 {
		opt.RowsPerFile = DefaultRowsPerFile
	}
	if opt.Base == "" {
		opt.Base = "data"
	}
	if opt.Dir != "" {
		if err := fs.MkdirAll(opt.Dir, 0o755); err != nil {
			return PrepareReport{}, fmt.Errorf("create %s: %w", opt.Dir, err)
		}
	}

	cw := &chunkWriter{fs: fs, dir: opt.Dir, base: opt.Base, rows: opt.RowsPerFile}
	if mode == ModeTSV {
		err = prepareTSV(ctx, r, cw, opt.MaxLine)
	} else {
		err = prepareSQL(ctx, r, cw)
	}
	if cerr := cw.close(); err == nil {
		err = cerr
	}
	if err != nil {
		return cw.rep, err
	}
	log.Printf("prepare: wrote %s rows into %d files (%s)",
		humanize.Comma(cw.rep.Rows), len(cw.rep.Files), humanize.IBytes(uint64(cw.rep.Bytes)))

	if opt.LoadScript.Path != "" {
		if err := writeLoadScript(fs, opt.LoadScript, cw.rep.Files); err != nil {
			return cw.rep, err
		}
	}
	return cw.rep, nil
}

func prepareSQL(ctx context.Context, r io.Reader, cw *chunkWriter) error {
	pr := sqldump.NewPayloadReader(r)
	row := make(record.Row, 0, 32)
	for n := 1; ; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		t, err := pr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		row, err = sqldump.AppendRow(row[:0], t.Payload)
		if err != nil {
			return fmt.Errorf("line %d: %w", t.Line, err)
		}
		cw.scratch = tsv.AppendRow(cw.scratch[:0], row)
		if err := cw.write(cw.scratch); err != nil {
			return err
		}
	}
}

func prepareTSV(ctx context.Context, r io.Reader, cw *chunkWriter, maxLine int) error {
	lr := tsv.NewLineReader(r, maxLine)
	for n := 1; ; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		line, _, err := lr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(line) == 0 {
			continue
		}
		cw.scratch = append(append(cw.scratch[:0], line...), '\n')
		if err := cw.write(cw.scratch); err != nil {
			return err
		}
	}
}

func writeLoadScript(fs afero.Fs, opt LoadScriptOptions, files []string) error {
	o, err := createOut(fs, opt.Path)
	if err != nil {
		return err
	}
	err = loadscript.WriteScript(o, opt.Dialect, opt.Target, files)
	if cerr := o.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write load script: %w", err)
	}
	return nil
}
