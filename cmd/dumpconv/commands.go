package main

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"dumpconv/internal/config"
	"dumpconv/internal/convert"
	"dumpconv/internal/loadscript"
	"dumpconv/internal/metrics"
	"dumpconv/internal/textdecode"
)

// closeInto closes c and keeps its error unless *err is already set.
func closeInto(c io.Closer, err *error) {
	if cerr := c.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}

// openInput opens the job's source for sequential reading.
func (a *app) openInput(ctx context.Context) (io.ReadCloser, error) {
	src, err := a.source(a.job)
	if err != nil {
		return nil, err
	}
	return src.Open(ctx)
}

func decodeOf(j config.Job) (convert.Decode, error) {
	p, err := textdecode.ParsePolicy(j.Decode.Errors)
	if err != nil {
		return convert.Decode{}, err
	}
	return convert.Decode{Charset: j.Decode.Encoding, Policy: p}, nil
}

// convertOptions maps the job onto convert.Options. Knobs without a flag
// fall back to DUMPCONV_* variables.
func (a *app) convertOptions(j config.Job) (convert.Options, error) {
	dec, err := decodeOf(j)
	if err != nil {
		return convert.Options{}, err
	}
	opt := convert.Options{
		Job:              j.Job,
		RunID:            a.runID,
		Tables:           j.Parser.Tables,
		Decode:           dec,
		ExpectedColumns:  j.Validate.ExpectedColumns,
		FailOnParseError: j.Validate.FailOnParseError,
		Workers:          pickInt(j.Runtime.Workers, 1),
		ChunkLines:       j.Runtime.ChunkLines,
		Window:           pickInt(j.Runtime.Window, getenvInt("DUMPCONV_WINDOW", 0)),
		TempDir:          j.Runtime.TempDir,
		KeepTemp:         j.Runtime.KeepTemp,
		ProgressEvery:    pickInt(j.Runtime.ProgressEvery, getenvInt("DUMPCONV_PROGRESS_EVERY", 0)),
		ErrorSamples:     getenvInt("DUMPCONV_ERROR_SAMPLES", convert.DefaultErrorSamples),
	}
	if j.Sanitize.Enabled {
		opt.Sanitize = &convert.Sanitize{
			KeepCommas:       j.Sanitize.KeepCommas,
			CommaReplacement: j.Sanitize.CommaReplacement,
		}
	}
	return opt, nil
}

func addConvertCommand(root *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:   "convert [input]",
		Short: "Convert a SQL dump into TSV in one pass",
		Long: `convert reads INSERT statements from a SQL dump (a path, "-" for stdin or
an http(s) URL) and writes one TSV row per tuple.

Tuples with the wrong number of columns and tuples that fail to parse go to
--rejects, one payload per line, with a log next to it explaining each one.
With --workers above 1 the input is cut into chunks that are converted in
parallel and merged back in order. Chunks only end between tuples or
statements, so the output matches a single worker run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runConvert(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.StringP("output", "o", "", "TSV output path (stdout when empty)")
	f.String("rejects", "", "rejected payload lines; the log goes next to it")
	f.Int("expected-columns", 0, "columns per row (taken from the first row when 0)")
	f.StringSlice("tables", nil, "only convert INSERTs into these tables")
	f.Bool("sanitize", false, "clean values before writing")
	f.Bool("keep-commas", false, "with --sanitize, leave commas alone")
	f.String("comma-replacement", "", "with --sanitize, what replaces a comma (\";\" by default)")
	f.Bool("fail-on-parse-error", false, "stop at the first tuple that does not parse")
	addDecodeFlags(f)
	addRuntimeFlags(f)
	root.AddCommand(cmd)
}

func (a *app) runConvert(ctx context.Context) (err error) {
	j := a.job
	if err := a.checkJob(j); err != nil {
		return err
	}
	src, err := a.source(j)
	if err != nil {
		return err
	}
	opt, err := a.convertOptions(j)
	if err != nil {
		return err
	}
	if a.verbose {
		log.Printf("convert: source=%s tables=%v workers=%d chunk_lines=%d", src.Name(), opt.Tables, opt.Workers, opt.ChunkLines)
	}

	var closers []io.Closer
	closeAll := func() error {
		var first error
		for _, c := range closers {
			closeInto(c, &first)
		}
		closers = nil
		return first
	}
	defer closeInto(closerFunc(closeAll), &err)

	data, err := a.create(j.Output.Path)
	if err != nil {
		return err
	}
	closers = append(closers, data)
	out := convert.Outputs{Data: data}

	var logPath string
	if j.Output.RejectPath != "" {
		rejects, err := a.create(j.Output.RejectPath)
		if err != nil {
			return err
		}
		closers = append(closers, rejects)
		logPath = convert.LogPathFor(j.Output.RejectPath)
		logf, err := a.create(logPath)
		if err != nil {
			return err
		}
		closers = append(closers, logf)
		out.Rejects, out.Log = rejects, logf
	}

	rep, err := convert.Convert(ctx, src, out, opt)
	rep.Log()
	rep.Record("convert", err)
	if err != nil {
		return err
	}
	if err := closeAll(); err != nil {
		return err
	}
	if logPath != "" && rep.Rejected == 0 {
		return a.fs.Remove(logPath)
	}
	return nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func addStageCommands(root *cobra.Command, a *app) {
	extract := &cobra.Command{
		Use:   "extract [input]",
		Short: "Write the tuples of a SQL dump as one payload per line",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runExtract(cmd.Context())
		},
	}
	f := extract.Flags()
	f.StringP("output", "o", "", "payload output path (stdout when empty)")
	f.String("rejects", "", "payloads that do not parse")
	f.StringSlice("tables", nil, "only extract INSERTs into these tables")
	addDecodeFlags(f)
	root.AddCommand(extract)

	sanitize := &cobra.Command{
		Use:   "sanitize [input]",
		Short: "Clean the values of payload lines",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSanitize(cmd.Context())
		},
	}
	f = sanitize.Flags()
	f.StringP("output", "o", "", "payload output path (stdout when empty)")
	f.Bool("keep-commas", false, "leave commas inside quoted values alone")
	f.String("comma-replacement", "", "what replaces a comma (\";\" by default)")
	root.AddCommand(sanitize)

	validate := &cobra.Command{
		Use:   "validate [input]",
		Short: "Split records into accepted and rejected by column count",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runValidate(cmd.Context())
		},
	}
	f = validate.Flags()
	f.String("accepted", "", "accepted records (stdout when empty)")
	f.String("rejects", "", "rejected records; the log goes next to it")
	f.Int("expected-columns", 0, "columns per record (taken from the first record when 0)")
	f.String("mode", "", "input format: sql payload lines or tsv")
	f.Bool("skip-header", false, "drop the first record in tsv mode")
	root.AddCommand(validate)

	prepare := &cobra.Command{
		Use:   "prepare-chunks [input]",
		Short: "Write accepted records as numbered TSV files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPrepare(cmd.Context())
		},
	}
	f = prepare.Flags()
	f.String("dir", "", "output directory")
	f.String("base", "", "file name prefix (the input name when empty)")
	f.Int("rows-per-file", 0, "rows per file (200000 when 0)")
	f.String("mode", "", "input format: sql payload lines or tsv")
	f.String("load-script", "", "also write bulk-load statements to this path")
	f.String("load-dialect", "", "load script dialect: postgres or mysql")
	f.String("load-table", "", "target table of the load script")
	f.StringSlice("load-columns", nil, "target columns of the load script")
	root.AddCommand(prepare)
}

func (a *app) runExtract(ctx context.Context) (err error) {
	j := a.job
	start := time.Now()
	defer func() { metrics.RecordStep(j.Job, "extract", err, time.Since(start)) }()

	dec, err := decodeOf(j)
	if err != nil {
		return err
	}
	in, err := a.openInput(ctx)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := a.create(j.Output.Path)
	if err != nil {
		return err
	}
	defer closeInto(out, &err)

	var rejects io.Writer
	if j.Output.RejectPath != "" {
		rf, err := a.create(j.Output.RejectPath)
		if err != nil {
			return err
		}
		defer closeInto(rf, &err)
		rejects = rf
	}

	st, err := convert.Extract(ctx, in, out, rejects, convert.ExtractOptions{
		Tables:        j.Parser.Tables,
		Decode:        dec,
		ProgressEvery: j.Runtime.ProgressEvery,
	})
	log.Printf("extract: payloads=%s parse_errors=%s statements=%d skipped=%d truncated=%d",
		humanize.Comma(st.Lines), humanize.Comma(st.ParseErrors), st.Statements, st.Skipped, st.Truncated)
	metrics.RecordRow(j.Job, "processed", st.Lines)
	metrics.RecordRow(j.Job, "parse_errors", st.ParseErrors)
	return err
}

func (a *app) runSanitize(ctx context.Context) (err error) {
	j := a.job
	start := time.Now()
	defer func() { metrics.RecordStep(j.Job, "sanitize", err, time.Since(start)) }()

	in, err := a.openInput(ctx)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := a.create(j.Output.Path)
	if err != nil {
		return err
	}
	defer closeInto(out, &err)

	st, err := convert.SanitizePayloads(ctx, in, out, convert.SanitizeOptions{
		KeepCommas:       j.Sanitize.KeepCommas,
		CommaReplacement: j.Sanitize.CommaReplacement,
	})
	log.Printf("sanitize: rows=%s modified_rows=%s modified_fields=%s parse_errors=%d",
		humanize.Comma(st.Rows), humanize.Comma(st.ModifiedRows), humanize.Comma(st.ModifiedFields), st.ParseErrors)
	return err
}

func (a *app) runValidate(ctx context.Context) (err error) {
	j := a.job
	start := time.Now()
	defer func() { metrics.RecordStep(j.Job, "validate", err, time.Since(start)) }()

	opt := convert.ValidateOptions{
		Mode:       j.Validate.Mode,
		Expected:   j.Validate.ExpectedColumns,
		SkipHeader: j.Validate.SkipHeader,
	}
	var rep convert.ValidateReport
	if path, ok := localPath(j); ok && j.Output.Path != "" && j.Output.RejectPath != "" {
		rep, err = convert.ValidateFile(ctx, a.fs, path, j.Output.Path, j.Output.RejectPath, opt)
	} else {
		rep, err = a.validateStream(ctx, j, opt)
	}
	if err != nil {
		return err
	}

	logValidation(rep)
	metrics.RecordRow(j.Job, "processed", rep.Processed)
	metrics.RecordRow(j.Job, "accepted", rep.Accepted)
	metrics.RecordRow(j.Job, "rejected", rep.Rejected)
	return nil
}

func (a *app) validateStream(ctx context.Context, j config.Job, opt convert.ValidateOptions) (rep convert.ValidateReport, err error) {
	in, err := a.openInput(ctx)
	if err != nil {
		return rep, err
	}
	defer in.Close()
	acc, err := a.create(j.Output.Path)
	if err != nil {
		return rep, err
	}
	defer closeInto(acc, &err)

	out := convert.ValidateOutputs{Accepted: acc}
	if j.Output.RejectPath != "" {
		rej, err := a.create(j.Output.RejectPath)
		if err != nil {
			return rep, err
		}
		defer closeInto(rej, &err)
		logf, err := a.create(convert.LogPathFor(j.Output.RejectPath))
		if err != nil {
			return rep, err
		}
		defer closeInto(logf, &err)
		out.Rejected, out.Log = rej, logf
	}
	return convert.Validate(ctx, in, out, opt)
}

func logValidation(rep convert.ValidateReport) {
	if rep.Processed == 0 {
		log.Printf("validate: %s", rep.Summary)
		return
	}
	how := "expected"
	if rep.Inferred {
		how = "inferred"
	}
	log.Printf("validate: Expected columns: %d (%s)", rep.Expected, how)
	log.Printf("validate: accepted=%s rejected=%s", humanize.Comma(rep.Accepted), humanize.Comma(rep.Rejected))
	if rep.Rejected > 0 {
		log.Printf("validate: first mismatch:\n%s", rep.FirstReject)
	}
}

func (a *app) runPrepare(ctx context.Context) (err error) {
	j := a.job
	start := time.Now()
	defer func() { metrics.RecordStep(j.Job, "prepare", err, time.Since(start)) }()

	base := j.Output.Base
	if path, ok := localPath(j); ok && base == "" {
		base = convert.BaseName(path)
	}
	opt := convert.PrepareOptions{
		Mode:        j.Validate.Mode,
		Dir:         j.Output.Dir,
		Base:        base,
		RowsPerFile: j.Output.RowsPerFile,
	}
	if ls := j.Output.LoadScript; ls.Path != "" {
		d, err := loadscript.ParseDialect(ls.Dialect)
		if err != nil {
			return err
		}
		table := ls.Table
		if table == "" {
			table = base
		}
		opt.LoadScript = convert.LoadScriptOptions{
			Path:    ls.Path,
			Dialect: d,
			Target:  loadscript.Target{Table: table, Columns: ls.Columns},
		}
	}

	in, err := a.openInput(ctx)
	if err != nil {
		return err
	}
	defer in.Close()
	rep, err := convert.PrepareChunks(ctx, a.fs, in, opt)
	metrics.RecordRow(j.Job, "accepted", rep.Rows)
	metrics.RecordBytes(j.Job, "out", rep.Bytes)
	if err != nil {
		return err
	}
	if a.verbose {
		for _, f := range rep.Files {
			log.Printf("prepare: %s", f)
		}
	}
	return nil
}
