package config

import (
	"fmt"
	"net/url"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding for a Job.
//
// Path is a dotted path into the config (e.g. "runtime.workers").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidateJob performs static validation of a Job. It does not mutate the
// job; callers decide whether warnings are fatal.
func ValidateJob(j Job) []Issue {
	var issues []Issue

	if strings.TrimSpace(j.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "job",
			Message:  "job is empty; runs will be labeled \"dumpconv\" in metrics",
		})
	}
	issues = append(issues, validateSource(j.Source)...)
	issues = append(issues, validateDecode(j.Decode)...)
	issues = append(issues, validateParser(j.Parser)...)
	issues = append(issues, validateValidate(j.Validate, j.Parser)...)
	issues = append(issues, validateOutput(j.Output, j.Source)...)
	issues = append(issues, validateRuntime(j.Runtime, j.Source)...)
	issues = append(issues, validateExternal(j.External)...)

	return issues
}

func validateSource(s Source) []Issue {
	var issues []Issue

	switch s.Kind {
	case "", "file":
		if strings.TrimSpace(s.File.Path) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "source.file.path",
				Message:  "file source requires a non-empty path",
			})
		}
	case "stdin":
	case "http":
		u, err := url.Parse(s.HTTP.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "source.http.url",
				Message:  fmt.Sprintf("http source requires an absolute http(s) url, got %q", s.HTTP.URL),
			})
		}
		if s.HTTP.MaxRetries < 0 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "source.http.max_retries",
				Message:  "must not be negative",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.kind",
			Message:  fmt.Sprintf("unknown source kind %q (want file, stdin or http)", s.Kind),
		})
	}
	return issues
}

func validateDecode(d Decode) []Issue {
	switch strings.ToLower(d.Errors) {
	case "", "strict", "replace", "ignore":
		return nil
	}
	return []Issue{{
		Severity: SeverityError,
		Path:     "decode.errors",
		Message:  fmt.Sprintf("unknown decode error policy %q (want strict, replace or ignore)", d.Errors),
	}}
}

func validateParser(p Parser) []Issue {
	var issues []Issue

	switch p.Kind {
	case "", "sqldump", "payload", "tsv":
	case "csv":
		if r := p.Options.Rune("comma", ','); r == '"' || r == '\n' {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "parser.options.comma",
				Message:  fmt.Sprintf("invalid csv delimiter %q", r),
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.kind",
			Message:  fmt.Sprintf("unknown parser kind %q (want sqldump, payload, tsv or csv)", p.Kind),
		})
	}
	if len(p.Tables) > 0 && p.Kind != "" && p.Kind != "sqldump" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "parser.tables",
			Message:  "table filter only applies to sqldump input and is ignored",
		})
	}
	for i, t := range p.Tables {
		if strings.TrimSpace(t) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("parser.tables[%d]", i),
				Message:  "table name must not be empty",
			})
		}
	}
	return issues
}

func validateValidate(v Validate, p Parser) []Issue {
	var issues []Issue

	if v.ExpectedColumns < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "validate.expected_columns",
			Message:  "expected_columns must not be negative",
		})
	}
	switch v.Mode {
	case "", "sql", "tsv":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "validate.mode",
			Message:  fmt.Sprintf("unknown validate mode %q (want sql or tsv)", v.Mode),
		})
	}
	if v.SkipHeader && v.Mode != "tsv" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "validate.skip_header",
			Message:  "skip_header only applies to tsv mode",
		})
	}
	return issues
}

func validateOutput(o Output, s Source) []Issue {
	var issues []Issue

	if o.Path != "" && o.Path == s.File.Path {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "output.path",
			Message:  "output path must differ from the input path",
		})
	}
	if o.RejectPath != "" && o.RejectPath == o.Path {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "output.reject_path",
			Message:  "reject path must differ from the output path",
		})
	}
	if o.RowsPerFile < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "output.rows_per_file",
			Message:  "rows_per_file must not be negative",
		})
	}
	switch strings.ToLower(o.LoadScript.Dialect) {
	case "":
	case "postgres", "postgresql", "pg", "mysql", "mariadb":
		if o.LoadScript.Table == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "output.load_script.table",
				Message:  "load script requires a table name",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "output.load_script.dialect",
			Message:  fmt.Sprintf("unknown load dialect %q", o.LoadScript.Dialect),
		})
	}
	return issues
}

func validateRuntime(r RuntimeConfig, s Source) []Issue {
	var issues []Issue

	if r.Workers < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.workers",
			Message:  "workers must not be negative",
		})
	}
	if r.ChunkLines < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.chunk_lines",
			Message:  "chunk_lines must not be negative",
		})
	}
	if r.Window < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.window",
			Message:  "window must not be negative",
		})
	} else if r.Window > 0 && r.Workers > 0 && r.Window < r.Workers {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "runtime.window",
			Message:  fmt.Sprintf("window=%d is smaller than workers=%d; some workers will idle", r.Window, r.Workers),
		})
	}
	switch r.Boundary {
	case "", "line", "record":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.boundary",
			Message:  fmt.Sprintf("unknown chunk boundary %q (want line or record)", r.Boundary),
		})
	}
	if s.Spooled() && r.Workers > 1 && r.TempDir == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "runtime.temp_dir",
			Message:  "non-file input is spooled to the OS temp dir for parallel runs",
		})
	}
	return issues
}

func validateExternal(e External) []Issue {
	var issues []Issue

	switch e.Kind {
	case "", "builtin", "python", "shell", "executable":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "external.kind",
			Message:  fmt.Sprintf("unknown transform kind %q", e.Kind),
		})
	}
	if e.Tool == "" && e.Kind != "" && e.Kind != "builtin" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "external.tool",
			Message:  fmt.Sprintf("kind %q requires a tool path", e.Kind),
		})
	}
	return issues
}
