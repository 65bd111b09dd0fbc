package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"dumpconv/internal/config"
	"dumpconv/internal/datasource"
	"dumpconv/internal/datasource/file"
	"dumpconv/internal/datasource/httpds"
	"dumpconv/internal/metrics"
	"dumpconv/internal/metrics/datadog"
	"dumpconv/internal/metrics/prompush"
)

const defaultJobName = "dumpconv"

// app carries the state shared by all subcommands of one invocation.
type app struct {
	v      *viper.Viper
	fs     afero.Fs
	stdin  io.Reader
	stdout io.Writer

	verbose bool
	runID   string
	job     config.Job
	flush   func()
}

func newApp() *app {
	return &app{
		v:      viper.New(),
		fs:     afero.NewOsFs(),
		stdin:  os.Stdin,
		stdout: os.Stdout,
		flush:  func() {},
	}
}

// close flushes the metrics backend, if one was installed.
func (a *app) close() { a.flush() }

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "dumpconv",
		Short: "Convert SQL dumps and delimited exports into load-ready TSV",
		Long: `dumpconv turns SQL dump INSERT statements (and CSV exports) into
tab-separated files ready for a bulk load.

The one-shot pipeline:
  dumpconv convert dump.sql -o data.tsv --rejects data.rejects

Or stage by stage:
  dumpconv extract dump.sql -o payloads.txt
  dumpconv sanitize payloads.txt -o clean.txt
  dumpconv validate clean.txt --accepted ok.txt --rejects bad.txt
  dumpconv prepare-chunks ok.txt --dir chunks

Every flag can also be set through a DUMPCONV_* environment variable
(--chunk-lines is DUMPCONV_CHUNK_LINES) or a .env file. Flags win over
the environment, which wins over the job file given with --config.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Usage is for flag errors only.
			cmd.SilenceUsage = true
			return a.setup(cmd, args)
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "job file (JSON or YAML)")
	pf.String("env-file", ".env", "dotenv file loaded before flags are resolved")
	pf.String("job", "", "job name for logs and metric labels")
	pf.BoolP("verbose", "v", false, "enable verbose logs")
	pf.String("metrics-backend", "", "metrics backend to use (pushgateway, datadog, none)")
	pf.String("pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	pf.String("statsd-addr", "", "DogStatsD address (overrides env DD_DOGSTATSD_URL)")

	addConvertCommand(root, a)
	addStageCommands(root, a)
	addParallelCommands(root, a)
	addCSVCommands(root, a)
	addValidateConfigCommand(root, a)
	return root
}

// setup loads the environment, binds the flags of the running command and
// resolves the job. It runs before every subcommand.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	envFile, _ := flags.GetString("env-file")
	if err := loadEnvFile(envFile, flags.Changed("env-file")); err != nil {
		return err
	}

	a.v.SetEnvPrefix("DUMPCONV")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if err := a.v.BindPFlags(flags); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	a.verbose = a.v.GetBool("verbose")

	job, err := a.resolveJob(args)
	if err != nil {
		return err
	}
	a.job = job
	a.runID = uuid.NewString()

	if cmd.Name() == "validate-config" {
		return nil
	}
	if a.job.Job == "" {
		a.job.Job = defaultJobName
	}
	a.setupMetrics()
	return nil
}

// loadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing default file is not an error.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// resolveJob reads the job file, if any, and applies flag and environment
// overrides on top. A positional argument names the input.
func (a *app) resolveJob(args []string) (config.Job, error) {
	var j config.Job
	if path := a.v.GetString("config"); path != "" {
		var err error
		if j, err = config.Load(path); err != nil {
			return config.Job{}, err
		}
	}
	if j.Parser.Options == nil {
		j.Parser.Options = config.Options{}
	}

	a.str("job", &j.Job)

	a.str("encoding", &j.Decode.Encoding)
	a.str("decode-errors", &j.Decode.Errors)
	a.list("tables", &j.Parser.Tables)

	a.boolean("sanitize", &j.Sanitize.Enabled)
	a.boolean("keep-commas", &j.Sanitize.KeepCommas)
	a.str("comma-replacement", &j.Sanitize.CommaReplacement)

	a.integer("expected-columns", &j.Validate.ExpectedColumns)
	a.str("mode", &j.Validate.Mode)
	a.boolean("skip-header", &j.Validate.SkipHeader)
	a.boolean("fail-on-parse-error", &j.Validate.FailOnParseError)

	a.str("output", &j.Output.Path)
	a.str("accepted", &j.Output.Path)
	a.str("rejects", &j.Output.RejectPath)
	a.str("dir", &j.Output.Dir)
	a.str("base", &j.Output.Base)
	a.integer("rows-per-file", &j.Output.RowsPerFile)
	a.str("load-dialect", &j.Output.LoadScript.Dialect)
	a.str("load-table", &j.Output.LoadScript.Table)
	a.list("load-columns", &j.Output.LoadScript.Columns)
	a.str("load-script", &j.Output.LoadScript.Path)

	a.integer("workers", &j.Runtime.Workers)
	a.integer("chunk-lines", &j.Runtime.ChunkLines)
	a.str("boundary", &j.Runtime.Boundary)
	a.str("temp-dir", &j.Runtime.TempDir)
	a.boolean("keep-temp", &j.Runtime.KeepTemp)
	a.integer("progress-every", &j.Runtime.ProgressEvery)

	a.str("tool", &j.External.Tool)
	a.str("tool-kind", &j.External.Kind)
	a.list("tool-args", &j.External.Args)

	if len(args) > 0 {
		setInput(&j.Source, args[0])
	}
	return j, nil
}

func (a *app) str(key string, dst *string) {
	if a.v.IsSet(key) {
		*dst = a.v.GetString(key)
	}
}

func (a *app) integer(key string, dst *int) {
	if a.v.IsSet(key) {
		*dst = a.v.GetInt(key)
	}
}

func (a *app) boolean(key string, dst *bool) {
	if a.v.IsSet(key) {
		*dst = a.v.GetBool(key)
	}
}

func (a *app) list(key string, dst *[]string) {
	if a.v.IsSet(key) {
		*dst = a.v.GetStringSlice(key)
	}
}

// setInput points src at arg: "-" is stdin, an http(s) URL is fetched and
// anything else is a local path.
func setInput(src *config.Source, arg string) {
	switch {
	case arg == "-":
		src.Kind = "stdin"
	case strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://"):
		src.Kind = "http"
		src.HTTP.URL = arg
	default:
		src.Kind = "file"
		src.File.Path = arg
	}
}

// checkJob prints the job's issues the way validate-config does and fails
// on errors. Warnings are only printed when verbose.
func (a *app) checkJob(j config.Job) error {
	issues := config.ValidateJob(j)
	for _, iss := range issues {
		if iss.Severity == config.SeverityError || a.verbose {
			fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		}
	}
	if config.HasErrors(issues) {
		return errors.New("invalid job")
	}
	return nil
}

func (a *app) source(j config.Job) (datasource.Source, error) {
	switch j.Source.Kind {
	case "", "file":
		if j.Source.File.Path == "" {
			return nil, errors.New("no input given")
		}
		return file.NewLocal(a.fs, j.Source.File.Path), nil
	case "stdin":
		return datasource.Stdin{R: a.stdin}, nil
	case "http":
		headers := make(http.Header, len(j.Source.HTTP.Headers))
		for k, v := range j.Source.HTTP.Headers {
			headers.Set(k, v)
		}
		c := httpds.NewClient(httpds.Config{
			MaxRetries:         j.Source.HTTP.MaxRetries,
			InsecureSkipVerify: j.Source.HTTP.InsecureSkipVerify,
		})
		return httpds.Source{Client: c, URL: j.Source.HTTP.URL, Headers: headers}, nil
	}
	return nil, fmt.Errorf("unknown source kind %q", j.Source.Kind)
}

// localPath returns the input path when the job reads a local file.
func localPath(j config.Job) (string, bool) {
	if j.Source.Kind != "" && j.Source.Kind != "file" {
		return "", false
	}
	return j.Source.File.Path, j.Source.File.Path != ""
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// create opens an output path; "" and "-" are standard output.
func (a *app) create(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopWriteCloser{a.stdout}, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := a.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	f, err := a.fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, nil
}

// setupMetrics installs the backend chosen flag -> env -> default.
func (a *app) setupMetrics() {
	backendName := a.v.GetString("metrics-backend")
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	jobName := a.job.Job

	switch backendName {
	case "pushgateway":
		gwURL := a.v.GetString("pushgateway-url")
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend(jobName, gwURL, a.runID)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
			return
		}
		log.Printf("metrics: url=%v, backend=%v, job_name=%v", gwURL, backendName, jobName)
		a.install(b)

	case "datadog":
		addr := a.v.GetString("statsd-addr")
		if addr == "" {
			addr = os.Getenv("DD_DOGSTATSD_URL")
		}
		if addr == "" {
			addr = "127.0.0.1:8125"
		}
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       addr,
			Namespace:  "dumpconv.",
			GlobalTags: []string{"job:" + jobName, "run_id:" + a.runID},
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return
		}
		log.Printf("metrics: url=%v, backend=%v, job_name=%v", addr, backendName, jobName)
		a.install(b)

	case "", "none":
		// metrics disabled; nop backend remains
		if a.verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}
}

func (a *app) install(b metrics.Backend) {
	metrics.SetBackend(b)
	a.flush = func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}
}

// Flag groups shared by several subcommands.

func addDecodeFlags(fs *pflag.FlagSet) {
	fs.String("encoding", "", "input charset (utf-8 when empty)")
	fs.String("decode-errors", "", "invalid input bytes: strict, replace or ignore")
}

func addRuntimeFlags(fs *pflag.FlagSet) {
	fs.IntP("workers", "w", 0, "parallel workers")
	fs.Int("chunk-lines", 0, "input lines per chunk")
	fs.String("temp-dir", "", "directory for spooled chunks")
	fs.Bool("keep-temp", false, "keep chunk files after the run")
}
