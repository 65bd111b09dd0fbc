package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"dumpconv/internal/chunk"
	"dumpconv/internal/config"
	"dumpconv/internal/convert"
	"dumpconv/internal/external"
	"dumpconv/internal/metrics"
	"dumpconv/internal/parser/csv"
	"dumpconv/internal/textdecode"
)

func addParallelCommands(root *cobra.Command, a *app) {
	parallel := &cobra.Command{
		Use:   "parallel [input]",
		Short: "Run an external converter over chunks of the input in parallel",
		Long: `parallel cuts the input into chunks, runs --tool on every chunk as
"tool <chunk-in> <chunk-out> [args...]" and concatenates the outputs in input
order. A chunk whose tool run fails is redone on a single worker.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runParallel(cmd.Context())
		},
	}
	f := parallel.Flags()
	f.StringP("output", "o", "", "merged output path (stdout when empty)")
	f.String("tool", "", "converter to run per chunk")
	f.String("tool-kind", "", "how to run the tool: python, shell or executable (from the path when empty)")
	f.StringSlice("tool-args", nil, "arguments passed after the chunk paths")
	f.String("boundary", "", "where chunks may end: line or record")
	addRuntimeFlags(f)
	root.AddCommand(parallel)

	split := &cobra.Command{
		Use:   "split-inserts [input]",
		Short: "Copy the INSERT statements of a dump into per-table files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSplit(cmd.Context())
		},
	}
	f = split.Flags()
	f.String("dir", "", "output directory")
	f.Int("per-file", 1, "INSERT statements per file")
	f.StringSlice("tables", nil, "only split INSERTs into these tables")
	addDecodeFlags(f)
	root.AddCommand(split)
}

func (a *app) runParallel(ctx context.Context) (err error) {
	j := a.job
	if err := a.checkJob(j); err != nil {
		return err
	}
	if j.External.Tool == "" {
		return errors.New("parallel: --tool is required (convert runs the in-process converter)")
	}
	kind, err := external.ParseKind(j.External.Kind)
	if err != nil {
		return err
	}
	tool, err := external.NewTool(j.External.Tool, kind, j.External.Args)
	if err != nil {
		return err
	}
	boundary, err := chunk.ParseBoundary(j.Runtime.Boundary)
	if err != nil {
		return err
	}
	src, err := a.source(j)
	if err != nil {
		return err
	}

	out, err := a.create(j.Output.Path)
	if err != nil {
		return err
	}
	defer closeInto(out, &err)

	rep, err := convert.Parallel(ctx, src, out, convert.ParallelOptions{
		Job:        j.Job,
		RunID:      a.runID,
		Tool:       tool,
		Workers:    pickInt(j.Runtime.Workers, getenvInt("DUMPCONV_WORKERS", chunk.DefaultWorkers())),
		ChunkLines: j.Runtime.ChunkLines,
		Window:     pickInt(j.Runtime.Window, getenvInt("DUMPCONV_WINDOW", 0)),
		Boundary:   boundary,
		TempDir:    j.Runtime.TempDir,
		KeepTemp:   j.Runtime.KeepTemp,
	})
	log.Printf("parallel: run=%s tool=%s (%s) workers=%d chunks=%d fallback=%d in=%s out=%s digest=%016x took=%s",
		rep.RunID, tool.Path, tool.Kind, rep.Workers, rep.Chunks, rep.Fallback,
		humanize.IBytes(uint64(max(rep.BytesIn, 0))), humanize.IBytes(uint64(max(rep.BytesOut, 0))),
		rep.Digest, rep.Duration.Round(time.Millisecond))
	rep.Record("parallel", err)
	return err
}

func (a *app) runSplit(ctx context.Context) (err error) {
	j := a.job
	start := time.Now()
	defer func() { metrics.RecordStep(j.Job, "split", err, time.Since(start)) }()

	dec, err := decodeOf(j)
	if err != nil {
		return err
	}
	in, err := a.openInput(ctx)
	if err != nil {
		return err
	}
	defer in.Close()

	res, err := convert.SplitFile(ctx, a.fs, in, convert.SplitOptions{
		Dir:     j.Output.Dir,
		PerFile: a.v.GetInt("per-file"),
		Tables:  j.Parser.Tables,
		Decode:  dec,
	})
	if err != nil {
		return err
	}
	log.Printf("split: statements=%s files=%d tables=%d", humanize.Comma(int64(res.Statements)), len(res.Files), len(res.PerTable))
	if a.verbose {
		for table, n := range res.PerTable {
			log.Printf("split: %s: %d statements", table, n)
		}
	}
	return nil
}

func addCSVCommands(root *cobra.Command, a *app) {
	toTSV := &cobra.Command{
		Use:   "csv2tsv [input]",
		Short: "Convert a quoted CSV export to TSV",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCSVToTSV(cmd.Context())
		},
	}
	f := toTSV.Flags()
	f.StringP("output", "o", "", "TSV output path (stdout when empty)")
	f.String("comma", "", "field delimiter (\",\" when empty)")
	f.Bool("lazy-quotes", false, "accept stray quotes")
	f.Bool("trim-space", false, "trim leading space of fields")
	f.Bool("drop-header", false, "drop the first record")
	addDecodeFlags(f)
	root.AddCommand(toTSV)

	flat := &cobra.Command{
		Use:   "fix-flat [input]",
		Short: "Regroup a CSV export that lost its line endings into rows",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runFixFlat(cmd.Context())
		},
	}
	f = flat.Flags()
	f.StringP("output", "o", "", "CSV output path (stdout when empty)")
	f.Int("columns", 0, "fields per row")
	f.String("comma", "", "field delimiter (\",\" when empty)")
	f.Bool("drop-header", false, "drop the first regrouped row")
	f.Bool("skip-partial", false, "drop rows with the wrong field count instead of failing")
	f.String("record-prefix", "", "regular expression matching the start of every record")
	addDecodeFlags(f)
	root.AddCommand(flat)
}

// delimiter returns the --comma value, a single character or "tab", or def.
func (a *app) delimiter(def rune) (rune, error) {
	if !a.v.IsSet("comma") {
		return def, nil
	}
	v := a.v.GetString("comma")
	if v == "tab" {
		return '\t', nil
	}
	s := []rune(v)
	if len(s) != 1 {
		return 0, fmt.Errorf("--comma must be a single character, got %q", string(s))
	}
	return s[0], nil
}

func (a *app) runCSVToTSV(ctx context.Context) (err error) {
	j := a.job
	start := time.Now()
	defer func() { metrics.RecordStep(j.Job, "csv2tsv", err, time.Since(start)) }()

	opt := csv.OptionsFrom(j.Parser.Options)
	if opt.Comma, err = a.delimiter(opt.Comma); err != nil {
		return err
	}
	a.boolean("lazy-quotes", &opt.LazyQuotes)
	a.boolean("trim-space", &opt.TrimSpace)
	a.boolean("drop-header", &opt.DropHeader)

	in, err := a.openDecoded(ctx, j)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := a.create(j.Output.Path)
	if err != nil {
		return err
	}
	defer closeInto(out, &err)

	st, err := csv.ToTSV(ctx, in, out, opt)
	log.Printf("csv2tsv: records=%s dropped=%d out=%s",
		humanize.Comma(st.Records), st.Dropped, humanize.IBytes(uint64(max(st.Bytes, 0))))
	metrics.RecordRow(j.Job, "processed", st.Records)
	return err
}

func (a *app) runFixFlat(ctx context.Context) (err error) {
	j := a.job
	start := time.Now()
	defer func() { metrics.RecordStep(j.Job, "fix_flat", err, time.Since(start)) }()

	o := j.Parser.Options
	comma, err := a.delimiter(o.Rune("comma", ','))
	if err != nil {
		return err
	}
	if comma > 0x7f {
		return fmt.Errorf("fix-flat needs a single-byte delimiter, got %q", comma)
	}
	opt := csv.FlatOptions{
		Columns:      o.Int("columns", 0),
		Comma:        byte(comma),
		DropHeader:   o.Bool("drop_header", false),
		SkipPartial:  o.Bool("skip_partial", false),
		RecordPrefix: o.String("record_prefix", ""),
	}
	a.integer("columns", &opt.Columns)
	a.boolean("drop-header", &opt.DropHeader)
	a.boolean("skip-partial", &opt.SkipPartial)
	a.str("record-prefix", &opt.RecordPrefix)

	in, err := a.openDecoded(ctx, j)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := a.create(j.Output.Path)
	if err != nil {
		return err
	}
	defer closeInto(out, &err)

	st, err := csv.Regroup(ctx, in, out, opt)
	log.Printf("fix-flat: rows=%s skipped=%d", humanize.Comma(st.Rows), st.Skipped)
	metrics.RecordRow(j.Job, "processed", st.Rows)
	metrics.RecordRow(j.Job, "rejected", st.Skipped)
	return err
}

// decodedInput reads the job's source through its charset decoder.
type decodedInput struct {
	r     io.Reader
	close func() error
}

func (d decodedInput) Read(p []byte) (int, error) { return d.r.Read(p) }
func (d decodedInput) Close() error               { return d.close() }

func (a *app) openDecoded(ctx context.Context, j config.Job) (decodedInput, error) {
	p, err := textdecode.ParsePolicy(j.Decode.Errors)
	if err != nil {
		return decodedInput{}, err
	}
	rc, err := a.openInput(ctx)
	if err != nil {
		return decodedInput{}, err
	}
	r, err := textdecode.NewReader(rc, j.Decode.Encoding, p)
	if err != nil {
		rc.Close()
		return decodedInput{}, err
	}
	return decodedInput{r: r, close: rc.Close}, nil
}

func addValidateConfigCommand(root *cobra.Command, a *app) {
	root.AddCommand(&cobra.Command{
		Use:   "validate-config",
		Short: "Check the job file given with --config and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := a.v.GetString("config")
			if cfgPath == "" {
				return errors.New("validate-config: --config is required")
			}
			issues := config.ValidateJob(a.job)
			for _, iss := range issues {
				fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
			}
			if config.HasErrors(issues) {
				log.Printf("Configuration is invalid: %v", cfgPath)
				return fmt.Errorf("invalid job %s", cfgPath)
			}
			log.Printf("Configuration is valid: %v", cfgPath)
			return nil
		},
	})
}
