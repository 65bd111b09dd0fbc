// Package external runs a single-process converter over one chunk file, so
// an existing tool can be parallelized by the chunk scheduler.
//
// A tool is invoked as
//
//	<tool> <chunk-input> <chunk-output> [args...]
//
// and must write its whole result to <chunk-output>.
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Kind says how a transform is run.
type Kind int

const (
	// Builtin is the in-process converter; it has no command.
	Builtin Kind = iota
	// Python runs the tool with a Python interpreter.
	Python
	// Shell runs the tool with bash.
	Shell
	// Executable runs the tool directly.
	Executable
)

func (k Kind) String() string {
	switch k {
	case Builtin:
		return "builtin"
	case Python:
		return "python"
	case Shell:
		return "shell"
	case Executable:
		return "executable"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind parses a kind name as printed by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "builtin", "":
		return Builtin, nil
	case "python":
		return Python, nil
	case "shell":
		return Shell, nil
	case "executable", "exec":
		return Executable, nil
	}
	return Builtin, fmt.Errorf("unknown transform kind %q", s)
}

// KindFor picks the kind from a tool path: .py is Python, .sh and .bash are
// Shell, a file with an execute bit is Executable, anything else is Shell.
func KindFor(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return Python
	case ".sh", ".bash":
		return Shell
	}
	if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() && fi.Mode().Perm()&0o111 != 0 {
		return Executable
	}
	return Shell
}

// Tool is an external converter.
type Tool struct {
	Path string
	Kind Kind
	Args []string
	// Python and Shell override the interpreters; defaults are python3 and
	// bash from PATH.
	Python string
	Shell  string
}

// NewTool resolves path and its kind. kind Builtin is replaced by KindFor.
func NewTool(path string, kind Kind, args []string) (Tool, error) {
	if path == "" {
		return Tool{}, fmt.Errorf("external tool path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Tool{}, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return Tool{}, fmt.Errorf("external tool: %w", err)
	}
	if fi.IsDir() {
		return Tool{}, fmt.Errorf("external tool %s is a directory", abs)
	}
	if kind == Builtin {
		kind = KindFor(abs)
	}
	return Tool{Path: abs, Kind: kind, Args: args}, nil
}

// Argv returns the full command line for one chunk.
func (t Tool) Argv(in, out string) ([]string, error) {
	var base []string
	switch t.Kind {
	case Python:
		base = []string{pick(t.Python, "python3"), t.Path}
	case Shell:
		base = []string{pick(t.Shell, "bash"), t.Path}
	case Executable:
		base = []string{t.Path}
	case Builtin:
		return nil, fmt.Errorf("builtin transform has no command")
	default:
		return nil, fmt.Errorf("unsupported transform kind %v", t.Kind)
	}
	argv := append(base, in, out)
	return append(argv, t.Args...), nil
}

// Command builds the process for one chunk.
func (t Tool) Command(ctx context.Context, in, out string) (*exec.Cmd, error) {
	argv, err := t.Argv(in, out)
	if err != nil {
		return nil, err
	}
	return exec.CommandContext(ctx, argv[0], argv[1:]...), nil
}

// ExitError reports a tool that did not exit cleanly.
type ExitError struct {
	Argv   []string
	Code   int
	Stdout string
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed (exit %d)", strings.Join(e.Argv, " "), e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		fmt.Fprintf(&b, ": %s", lastLines(s, 5))
	}
	return b.String()
}

func (e *ExitError) Unwrap() error { return e.Err }

// Run executes the tool on one chunk and waits for it.
func (t Tool) Run(ctx context.Context, in, out string) error {
	cmd, err := t.Command(ctx, in, out)
	if err != nil {
		return err
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		code := -1
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			code = ee.ExitCode()
		}
		return &ExitError{Argv: cmd.Args, Code: code, Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
	}
	return nil
}

func pick(s, def string) string {
	if s != "" {
		return s
	}
	return def
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
