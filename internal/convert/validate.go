package convert

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"dumpconv/internal/parser/sqldump"
	"dumpconv/internal/transformer"
	"dumpconv/internal/tsv"
)

// Validation modes.
const (
	ModeSQL = "sql"
	ModeTSV = "tsv"
)

// ParseMode validates a validation or input mode name; "" means ModeSQL.
func ParseMode(s string) (string, error) {
	switch m := strings.ToLower(strings.TrimSpace(s)); m {
	case "", ModeSQL:
		return ModeSQL, nil
	case ModeTSV:
		return ModeTSV, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want sql or tsv)", s)
	}
}

// ValidateOptions configures Validate.
type ValidateOptions struct {
	Mode string
	// Expected of 0 takes the count from the first record.
	Expected int
	// SkipHeader drops the first record in tsv mode.
	SkipHeader bool
	MaxLine    int
}

// ValidateOutputs are the Validate destinations. Rejected and Log may be nil.
type ValidateOutputs struct {
	Accepted io.Writer
	Rejected io.Writer
	Log      io.Writer
}

// ValidateReport describes a finished validation.
type ValidateReport struct {
	transformer.ValidatorStats
	Expected    int
	Inferred    bool
	FirstReject string
	Summary     string
}

func reportOf(v *transformer.ColumnValidator) ValidateReport {
	return ValidateReport{
		ValidatorStats: v.Stats(),
		Expected:       v.Expected(),
		Inferred:       v.Inferred(),
		FirstReject:    v.FirstReject(),
		Summary:        v.Summary(),
	}
}

// Validate partitions the records of r by column count. Accepted and
// rejected records are copied verbatim, one per line; every rejection gets a
// log entry naming its line.
func Validate(ctx context.Context, r io.Reader, out ValidateOutputs, opt ValidateOptions) (ValidateReport, error) {
	mode, err := ParseMode(opt.Mode)
	if err != nil {
		return ValidateReport{}, err
	}
	if out.Accepted == nil {
		out.Accepted = io.Discard
	}
	acc := bufio.NewWriterSize(out.Accepted, 1<<20)
	var rej, logw *bufio.Writer
	if out.Rejected != nil {
		rej = bufio.NewWriterSize(out.Rejected, 256<<10)
	}
	if out.Log != nil {
		logw = bufio.NewWriterSize(out.Log, 64<<10)
	}
	v := transformer.NewColumnValidator(opt.Expected, writerOrNil(logw))

	if mode == ModeTSV {
		err = validateTSV(ctx, r, v, acc, rej, opt)
	} else {
		err = validateSQL(ctx, r, v, acc, rej)
	}
	if err == nil {
		err = v.Err()
	}
	for _, bw := range []*bufio.Writer{acc, rej, logw} {
		if bw == nil {
			continue
		}
		if ferr := bw.Flush(); err == nil && ferr != nil {
			err = ferr
		}
	}
	return reportOf(v), err
}

func writeLine(bw *bufio.Writer, b []byte) error {
	if bw == nil {
		return nil
	}
	if _, err := bw.Write(b); err != nil {
		return err
	}
	return bw.WriteByte('\n')
}

func validateTSV(ctx context.Context, r io.Reader, v *transformer.ColumnValidator, acc, rej *bufio.Writer, opt ValidateOptions) error {
	lr := tsv.NewLineReader(r, opt.MaxLine)
	header := opt.SkipHeader
	for n := 1; ; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		line, ln, err := lr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(line) == 0 {
			continue
		}
		if header {
			header = false
			continue
		}
		dst := rej
		if v.Check(ln, line, tsv.CountFields(line)) {
			dst = acc
		}
		if err := writeLine(dst, line); err != nil {
			return err
		}
	}
}

// validateSQL runs the payload reader, the validator and the writer as a
// three-stage pipeline of pooled rows.
func validateSQL(ctx context.Context, r io.Reader, v *transformer.ColumnValidator, acc, rej *bufio.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	in := make(chan *transformer.Row, 1024)
	accepted := make(chan *transformer.Row, 1024)
	var rejErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(in)
		pr := sqldump.NewPayloadReader(r)
		for {
			t, err := pr.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			row := transformer.GetRow()
			row.Line = t.Line
			row.Raw = append(row.Raw, t.Payload...)
			row.V, err = sqldump.AppendRow(row.V, t.Payload)
			if err != nil {
				row.Err = sqldump.ErrUnterminatedLiteral
			}
			select {
			case in <- row:
			case <-gctx.Done():
				row.Free()
				return gctx.Err()
			}
		}
	})
	g.Go(func() error {
		defer close(accepted)
		transformer.ValidateLoopRows(gctx, v, in, accepted, func(row *transformer.Row) {
			if rejErr == nil {
				if rejErr = writeLine(rej, row.Raw); rejErr != nil {
					cancel()
				}
			}
			row.Free()
		})
		return nil
	})
	g.Go(func() error {
		for row := range accepted {
			err := writeLine(acc, row.Raw)
			row.Free()
			if err != nil {
				return err
			}
		}
		return nil
	})

	err := g.Wait()
	if rejErr != nil {
		return fmt.Errorf("write rejects: %w", rejErr)
	}
	return err
}

// LogPathFor returns the rejection log path next to a reject file: the
// reject file name with its extension replaced by ".log".
func LogPathFor(rejectPath string) string {
	return strings.TrimSuffix(rejectPath, filepath.Ext(rejectPath)) + ".log"
}

// ValidateFile runs Validate from inPath to acceptedPath and rejectPath on
// fs. The rejection log is removed again when nothing was rejected.
func ValidateFile(ctx context.Context, fs afero.Fs, inPath, acceptedPath, rejectPath string, opt ValidateOptions) (ValidateReport, error) {
	fs = osFs(fs)
	f, err := fs.Open(inPath)
	if err != nil {
		return ValidateReport{}, fmt.Errorf("open %s: %w", inPath, err)
	}
	defer f.Close()

	outs := make([]*outFile, 0, 3)
	closeAll := func() error {
		var first error
		for _, o := range outs {
			if err := o.Close(); err != nil && first == nil {
				first = err
			}
		}
		outs = outs[:0]
		return first
	}
	defer closeAll()

	logPath := LogPathFor(rejectPath)
	for _, p := range []string{acceptedPath, rejectPath, logPath} {
		o, err := createOut(fs, p)
		if err != nil {
			return ValidateReport{}, err
		}
		outs = append(outs, o)
	}

	rep, err := Validate(ctx, f, ValidateOutputs{Accepted: outs[0], Rejected: outs[1], Log: outs[2]}, opt)
	if cerr := closeAll(); err == nil {
		err = cerr
	}
	if err != nil {
		return rep, err
	}
	if rep.Rejected == 0 {
		if err := fs.Remove(logPath); err != nil {
			return rep, fmt.Errorf("remove empty log: %w", err)
		}
	}
	return rep, nil
}
