// Package config defines the job file model for dumpconv. A job file is JSON
// or YAML and names the input, how it is decoded and parsed, how records are
// validated, and where outputs go. Every field has a usable zero value so a
// job can be built from flags alone.
//
// Example (trimmed):
//
//	{
//	  "job":      "orders-export",
//	  "source":   { "kind": "file", "file": { "path": "dump.sql" } },
//	  "decode":   { "encoding": "latin-1", "errors": "replace" },
//	  "parser":   { "kind": "sqldump", "tables": ["orders"] },
//	  "validate": { "expected_columns": 12 },
//	  "output":   { "path": "orders.tsv", "reject_path": "orders.rejects" },
//	  "runtime":  { "workers": 6, "chunk_lines": 75000 }
//	}
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Job is the top-level object decoded from a job file.
type Job struct {
	// Job names the run for logs and metric labels.
	Job      string        `json:"job" yaml:"job"`
	Source   Source        `json:"source" yaml:"source"`
	Decode   Decode        `json:"decode" yaml:"decode"`
	Parser   Parser        `json:"parser" yaml:"parser"`
	Sanitize Sanitize      `json:"sanitize" yaml:"sanitize"`
	Validate Validate      `json:"validate" yaml:"validate"`
	Output   Output        `json:"output" yaml:"output"`
	Runtime  RuntimeConfig `json:"runtime" yaml:"runtime"`
	External External      `json:"external" yaml:"external"`
}

// Source identifies the input.
type Source struct {
	// Kind is "file", "stdin" or "http".
	Kind string     `json:"kind" yaml:"kind"`
	File SourceFile `json:"file" yaml:"file"`
	HTTP SourceHTTP `json:"http" yaml:"http"`
}

// Spooled reports whether the input cannot be read at random offsets and
// must be copied to chunk files before a parallel run.
func (s Source) Spooled() bool { return s.Kind == "stdin" || s.Kind == "http" }

// SourceHTTP holds configuration for the "http" source kind.
type SourceHTTP struct {
	URL                string            `json:"url" yaml:"url"`
	Headers            map[string]string `json:"headers" yaml:"headers"`
	MaxRetries         int               `json:"max_retries" yaml:"max_retries"`
	InsecureSkipVerify bool              `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// SourceFile holds configuration for the "file" source kind.
type SourceFile struct {
	Path string `json:"path" yaml:"path"`
}

// Decode configures charset handling.
type Decode struct {
	// Encoding is an IANA or WHATWG charset name; empty means utf-8.
	Encoding string `json:"encoding" yaml:"encoding"`
	// Errors is strict, replace or ignore.
	Errors string `json:"errors" yaml:"errors"`
}

// Parser selects the input format.
type Parser struct {
	// Kind is sqldump (default), payload, tsv or csv.
	Kind   string   `json:"kind" yaml:"kind"`
	Tables []string `json:"tables" yaml:"tables"`
	// Options is interpreted by the parser kind, e.g. csv "comma",
	// "lazy_quotes" or flat "columns".
	Options Options `json:"options" yaml:"options"`
}

// Sanitize configures the value cleaner.
type Sanitize struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// KeepCommas disables replacing commas inside quoted values.
	KeepCommas       bool   `json:"keep_commas" yaml:"keep_commas"`
	CommaReplacement string `json:"comma_replacement" yaml:"comma_replacement"`
}

// Validate configures the column validator.
type Validate struct {
	// ExpectedColumns of 0 infers the count from the first record.
	ExpectedColumns  int    `json:"expected_columns" yaml:"expected_columns"`
	Mode             string `json:"mode" yaml:"mode"`
	SkipHeader       bool   `json:"skip_header" yaml:"skip_header"`
	FailOnParseError bool   `json:"fail_on_parse_error" yaml:"fail_on_parse_error"`
}

// Output names the destinations.
type Output struct {
	Path        string     `json:"path" yaml:"path"`
	RejectPath  string     `json:"reject_path" yaml:"reject_path"`
	Dir         string     `json:"dir" yaml:"dir"`
	Base        string     `json:"base" yaml:"base"`
	RowsPerFile int        `json:"rows_per_file" yaml:"rows_per_file"`
	LoadScript  LoadScript `json:"load_script" yaml:"load_script"`
}

// LoadScript optionally renders bulk-load statements next to the chunks.
type LoadScript struct {
	Dialect string   `json:"dialect" yaml:"dialect"`
	Table   string   `json:"table" yaml:"table"`
	Columns []string `json:"columns" yaml:"columns"`
	Path    string   `json:"path" yaml:"path"`
}

// RuntimeConfig controls parallelism and chunking.
type RuntimeConfig struct {
	Workers       int    `json:"workers" yaml:"workers"`
	ChunkLines    int    `json:"chunk_lines" yaml:"chunk_lines"`
	Window        int    `json:"window" yaml:"window"`
	Boundary      string `json:"boundary" yaml:"boundary"`
	TempDir       string `json:"temp_dir" yaml:"temp_dir"`
	KeepTemp      bool   `json:"keep_temp" yaml:"keep_temp"`
	ProgressEvery int    `json:"progress_every" yaml:"progress_every"`
}

// External names a per-chunk converter run by the parallel stage.
type External struct {
	Tool string   `json:"tool" yaml:"tool"`
	Kind string   `json:"kind" yaml:"kind"`
	Args []string `json:"args" yaml:"args"`
}

// Load reads a job file. Files ending in .yaml or .yml are YAML, anything
// else is JSON. Unknown JSON fields are rejected.
func Load(path string) (Job, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Job{}, fmt.Errorf("read job %s: %w", path, err)
	}
	return Parse(b, filepath.Ext(path))
}

// Parse decodes a job from b. ext selects the format as in Load.
func Parse(b []byte, ext string) (Job, error) {
	var j Job
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &j); err != nil {
			return Job{}, fmt.Errorf("decode yaml job: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&j); err != nil {
			return Job{}, fmt.Errorf("decode json job: %w", err)
		}
	}
	if j.Parser.Options == nil {
		j.Parser.Options = Options{}
	}
	return j, nil
}

// Options is a small helper to fetch typed values from arbitrary JSON or
// YAML maps. It performs only minimal type coercion and returns provided
// defaults when a key is absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def if key is missing or not a string.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def if key is missing or not a bool.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers decode as float64
// and YAML integers as int; both are accepted.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		case int64:
			return int(n)
		}
	}
	return def
}

// Rune returns the first rune of a string value for key, or def if key is
// missing or empty. Useful for single-character settings such as a CSV
// delimiter; "\t" and "tab" both mean TAB.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			if s == `\t` || strings.EqualFold(s, "tab") {
				return '\t'
			}
			return []rune(s)[0]
		}
	}
	return def
}

// StringMap returns a map[string]string for key when the value is an object
// whose values are strings. Non-string values are ignored.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	if v, ok := o[key]; ok {
		if m, ok := v.(map[string]any); ok {
			for k, vv := range m {
				if s, ok := vv.(string); ok {
					res[k] = s
				}
			}
		}
	}
	return res
}

// StringSlice returns a []string for key when the value is an array of
// strings. Returns nil when the key is missing or the value is not an array.
func (o Options) StringSlice(key string) []string {
	if v, ok := o[key]; ok {
		switch vv := v.(type) {
		case []any:
			out := make([]string, 0, len(vv))
			for _, x := range vv {
				if s, ok := x.(string); ok {
					out = append(out, s)
				}
			}
			return out
		case []string:
			return vv
		}
	}
	return nil
}

// Any returns the raw value for key.
func (o Options) Any(key string) any {
	if v, ok := o[key]; ok {
		return v
	}
	return nil
}

// UnmarshalJSON decodes a missing or null "options" object to a non-nil,
// empty Options map.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
