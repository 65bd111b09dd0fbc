package sqldump

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// SplitOptions configures SplitInserts.
type SplitOptions struct {
	// Dir receives the output files; it is created when missing.
	Dir string
	// PerFile is the number of INSERT statements per output file (default 1).
	PerFile int
	// Tables restricts which INSERT targets are written. Empty means all.
	Tables []string
}

// SplitResult summarizes a SplitInserts run.
type SplitResult struct {
	Statements int            // INSERT statements written
	Files      []string       // output paths in creation order
	PerTable   map[string]int // statements per normalized table name
}

// SplitInserts copies every INSERT statement of src into numbered files
// named "{table}_insert_{00001}.sql" under opt.Dir. Other statements are
// dropped. Statements missing their terminator are written with one added.
func SplitInserts(ctx context.Context, fs afero.Fs, src io.Reader, opt SplitOptions) (SplitResult, error) {
	res := SplitResult{PerTable: map[string]int{}}
	if opt.PerFile <= 0 {
		opt.PerFile = 1
	}
	if err := fs.MkdirAll(opt.Dir, 0o755); err != nil {
		return res, fmt.Errorf("create %s: %w", opt.Dir, err)
	}

	type openFile struct {
		f     afero.File
		count int
	}
	var (
		match   = NewTableMatcher(opt.Tables)
		current = map[string]*openFile{}
		fileNo  = map[string]int{}
	)
	closeAll := func() error {
		var first error
		for _, of := range current {
			if err := of.f.Close(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	sr := NewStatementReader(src)
	for {
		if err := ctx.Err(); err != nil {
			_ = closeAll()
			return res, err
		}
		st, err := sr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = closeAll()
			return res, err
		}
		if st.Kind != KindInsert || st.Table == "" || !match.Match(st.Table) {
			continue
		}

		name := fileStem(st.Table)
		of := current[name]
		if of == nil || of.count >= opt.PerFile {
			if of != nil {
				if err := of.f.Close(); err != nil {
					return res, err
				}
			}
			fileNo[name]++
			path := filepath.Join(opt.Dir, fmt.Sprintf("%s_insert_%05d.sql", name, fileNo[name]))
			f, err := fs.Create(path)
			if err != nil {
				_ = closeAll()
				return res, fmt.Errorf("create %s: %w", path, err)
			}
			of = &openFile{f: f}
			current[name] = of
			res.Files = append(res.Files, path)
		}

		out := st.Text
		if !st.Terminated() {
			out = append(out, ';')
		}
		out = append(out, '\n')
		if _, err := of.f.Write(out); err != nil {
			_ = closeAll()
			return res, fmt.Errorf("write %s: %w", of.f.Name(), err)
		}
		of.count++
		res.Statements++
		res.PerTable[name]++
	}
	return res, closeAll()
}

// fileStem turns a table identifier into a safe file name component.
func fileStem(table string) string {
	n := NormalizeTable(table)
	if i := strings.LastIndexByte(n, '.'); i >= 0 {
		n = n[i+1:]
	}
	n = strings.Map(func(r rune) rune {
		if r == '_' || r == '-' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' {
			return r
		}
		return '_'
	}, n)
	if n == "" {
		return "table"
	}
	return n
}

// Tables returns the table names of r sorted, for reporting.
func (r SplitResult) Tables() []string {
	out := make([]string, 0, len(r.PerTable))
	for t := range r.PerTable {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
