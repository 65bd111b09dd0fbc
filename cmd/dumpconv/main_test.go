package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dumpconv/internal/config"
)

// run executes the CLI in-process. The default .env lookup is disabled so
// the working directory cannot leak into a test.
func run(t *testing.T, stdin string, args ...string) (*app, string, error) {
	t.Helper()
	a := newApp()
	a.stdin = strings.NewReader(stdin)
	var out bytes.Buffer
	a.stdout = &out

	root := newRootCmd(a)
	if !hasFlag(args, "env-file") {
		// Keep a developer's .env out of the run.
		args = append(args, "--env-file=")
	}
	root.SetArgs(args)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	err := root.Execute()
	a.close()
	return a, out.String(), err
}

func hasFlag(args []string, name string) bool {
	for _, arg := range args {
		if arg == "--"+name || strings.HasPrefix(arg, "--"+name+"=") {
			return true
		}
	}
	return false
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestConvertCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dump := writeFile(t, dir, "dump.sql", "INSERT INTO t VALUES (1,'a,b',NULL),\n(2,'x'),\n(3,'c\\nd','e');\n")
	out := filepath.Join(dir, "out", "data.tsv")
	rej := filepath.Join(dir, "data.rejects")

	_, _, err := run(t, "", "convert", dump, "-o", out, "--rejects", rej, "--expected-columns", "3")
	require.NoError(t, err)
	assert.Equal(t, "1\ta,b\t\\N\n3\tc\\nd\te\n", readFile(t, out))
	assert.Equal(t, "2,'x'\n", readFile(t, rej))
	assert.Contains(t, readFile(t, filepath.Join(dir, "data.log")), "Line 2: Expected 3 columns, found 2")
}

func TestConvertCommandRemovesEmptyLog(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dump := writeFile(t, dir, "dump.sql", "INSERT INTO t VALUES (1,'a'),(2,'b');\n")
	rej := filepath.Join(dir, "clean.rej")

	_, _, err := run(t, "", "convert", dump, "-o", filepath.Join(dir, "data.tsv"), "--rejects", rej)
	require.NoError(t, err)
	assert.Empty(t, readFile(t, rej))
	_, err = os.Stat(filepath.Join(dir, "clean.log"))
	assert.True(t, os.IsNotExist(err), "log of a clean run is removed")
}

func TestConvertCommandStdin(t *testing.T) {
	t.Parallel()

	_, out, err := run(t, "INSERT INTO t VALUES (1,'O''Brien');", "convert", "-")
	require.NoError(t, err)
	assert.Equal(t, "1\tO'Brien\n", out)
}

func TestConvertCommandParallel(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 1; i <= 200; i++ {
		if i%4 == 1 {
			b.WriteString("INSERT INTO t VALUES ")
		}
		fmt.Fprintf(&b, "(%d,'multi\nline %d')", i, i)
		if i%4 == 0 {
			b.WriteString(";\n")
		} else {
			b.WriteString(",\n")
		}
	}
	dir := t.TempDir()
	dump := writeFile(t, dir, "dump.sql", b.String())

	_, want, err := run(t, "", "convert", dump)
	require.NoError(t, err)
	_, got, err := run(t, "", "convert", dump, "-w", "4", "--chunk-lines", "7")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestConvertCommandBadInput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		args []string
	}{
		{name: "no input", args: []string{"convert"}},
		{name: "missing file", args: []string{"convert", "/does/not/exist.sql"}},
		{name: "bad boundary", args: []string{"parallel", "-", "--tool", "upper.sh", "--boundary", "paragraph"}},
		{name: "bad policy", args: []string{"convert", "-", "--decode-errors", "loud"}},
		{name: "parallel without tool", args: []string{"parallel", "-"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := run(t, "", tc.args...)
			assert.Error(t, err)
		})
	}
}

/*
TestFlagEnvJobPrecedence checks the override order: the job file sets
expected_columns, DUMPCONV_EXPECTED_COLUMNS overrides it and the flag
overrides both.
*/
func TestFlagEnvJobPrecedence(t *testing.T) {
	dir := t.TempDir()
	dump := writeFile(t, dir, "dump.sql", "INSERT INTO t VALUES (1,'a','b');\n")
	out := filepath.Join(dir, "out.tsv")
	job := writeFile(t, dir, "job.yaml", strings.Join([]string{
		"job: precedence",
		"source:",
		"  kind: file",
		"  file:",
		"    path: " + dump,
		"validate:",
		"  expected_columns: 2",
		"output:",
		"  path: " + out,
	}, "\n")+"\n")

	a, _, err := run(t, "", "convert", "--config", job)
	require.NoError(t, err)
	assert.Equal(t, "precedence", a.job.Job)
	assert.Equal(t, 2, a.job.Validate.ExpectedColumns)
	assert.Empty(t, readFile(t, out))

	t.Setenv("DUMPCONV_EXPECTED_COLUMNS", "3")
	a, _, err = run(t, "", "convert", "--config", job)
	require.NoError(t, err)
	assert.Equal(t, 3, a.job.Validate.ExpectedColumns)
	assert.Equal(t, "1\ta\tb\n", readFile(t, out))

	a, _, err = run(t, "", "convert", "--config", job, "--expected-columns", "4")
	require.NoError(t, err)
	assert.Equal(t, 4, a.job.Validate.ExpectedColumns)
}

func TestEnvFile(t *testing.T) {
	dir := t.TempDir()
	env := writeFile(t, dir, "test.env", "DUMPCONV_JOB=from-dotenv\n")
	t.Cleanup(func() { os.Unsetenv("DUMPCONV_JOB") })

	a, _, err := run(t, "INSERT INTO t VALUES (1);", "convert", "-", "--env-file", env)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", a.job.Job)

	_, _, err = run(t, "", "convert", "-", "--env-file", filepath.Join(dir, "missing.env"))
	assert.Error(t, err, "an explicit env file must exist")
}

func TestStageCommands(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dump := writeFile(t, dir, "dump.sql", "-- header\nINSERT INTO t VALUES (1,'a,  b',NULL),(2,'x'),(3,'c','d');\n")
	payloads := filepath.Join(dir, "payloads.txt")
	clean := filepath.Join(dir, "clean.txt")
	ok := filepath.Join(dir, "ok.txt")
	bad := filepath.Join(dir, "bad.txt")
	chunks := filepath.Join(dir, "chunks")
	script := filepath.Join(chunks, "load.sql")

	_, _, err := run(t, "", "extract", dump, "-o", payloads)
	require.NoError(t, err)
	assert.Equal(t, "1,'a,  b',NULL\n2,'x'\n3,'c','d'\n", readFile(t, payloads))

	_, _, err = run(t, "", "sanitize", payloads, "-o", clean)
	require.NoError(t, err)
	assert.Equal(t, "1,'a; b',NULL\n2,'x'\n3,'c','d'\n", readFile(t, clean))

	_, _, err = run(t, "", "validate", clean, "--accepted", ok, "--rejects", bad, "--expected-columns", "3")
	require.NoError(t, err)
	assert.Equal(t, "1,'a; b',NULL\n3,'c','d'\n", readFile(t, ok))
	assert.Equal(t, "2,'x'\n", readFile(t, bad))
	assert.Contains(t, readFile(t, filepath.Join(dir, "bad.log")), "Line 2: Expected 3 columns, found 2")

	_, _, err = run(t, "", "prepare-chunks", ok, "--dir", chunks, "--rows-per-file", "1",
		"--load-script", script, "--load-dialect", "postgres")
	require.NoError(t, err)
	assert.Equal(t, "1\ta; b\t\\N\n", readFile(t, filepath.Join(chunks, "ok_chunk_0001.tsv")))
	assert.Equal(t, "3\tc\td\n", readFile(t, filepath.Join(chunks, "ok_chunk_0002.tsv")))
	assert.Equal(t, 2, strings.Count(readFile(t, script), `COPY "ok" FROM`))
}

func TestValidateCommandStreams(t *testing.T) {
	t.Parallel()

	_, out, err := run(t, "id\tname\n1\tx\n2\n", "validate", "-", "--mode", "tsv", "--skip-header")
	require.NoError(t, err)
	assert.Equal(t, "1\tx\n", out)
}

func TestSplitInsertsCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dump := writeFile(t, dir, "dump.sql", "INSERT INTO a VALUES (1);\nINSERT INTO b VALUES (2);\nINSERT INTO a VALUES (3);\n")
	split := filepath.Join(dir, "split")

	_, _, err := run(t, "", "split-inserts", dump, "--dir", split, "--per-file", "10", "--tables", "a")
	require.NoError(t, err)
	entries, err := os.ReadDir(split)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	body := readFile(t, filepath.Join(split, entries[0].Name()))
	assert.Equal(t, 2, strings.Count(body, "INSERT INTO a"))
}

func TestCSVCommands(t *testing.T) {
	t.Parallel()

	_, out, err := run(t, "id,size\n1,\"4,4\"\n", "csv2tsv", "-")
	require.NoError(t, err)
	assert.Equal(t, "id\tsize\n1\t4,4\n", out)

	_, out, err = run(t, "id;size\n1;\"4;4\"\n", "csv2tsv", "-", "--comma", ";", "--drop-header")
	require.NoError(t, err)
	assert.Equal(t, "1\t4;4\n", out)

	_, out, err = run(t, "1,a,x,2,b,y,3,c,z", "fix-flat", "-", "--columns", "3")
	require.NoError(t, err)
	assert.Equal(t, "1,a,x\n2,b,y\n3,c,z\n", out)

	_, _, err = run(t, "1,a", "fix-flat", "-", "--columns", "3", "--comma", "ab")
	assert.Error(t, err)
}

func TestValidateConfigCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := writeFile(t, dir, "good.json", `{"job":"ok","source":{"kind":"stdin"}}`)
	bad := writeFile(t, dir, "bad.json", `{"job":"bad","source":{"kind":"ftp"}}`)

	_, _, err := run(t, "", "validate-config", "--config", good)
	assert.NoError(t, err)
	_, _, err = run(t, "", "validate-config", "--config", bad)
	assert.Error(t, err)
	_, _, err = run(t, "", "validate-config")
	assert.Error(t, err, "--config is required")
}

func TestParallelCommandExternalTool(t *testing.T) {
	if _, err := os.Stat("/bin/bash"); err != nil {
		t.Skip("bash not available")
	}
	t.Parallel()

	dir := t.TempDir()
	tool := writeFile(t, dir, "upper.sh", "tr a-z A-Z < \"$1\" > \"$2\"\n")
	dump := writeFile(t, dir, "dump.sql", strings.Repeat("insert into t values (1,'abc');\n", 40))

	_, out, err := run(t, "", "parallel", dump, "--tool", tool, "-w", "3", "--chunk-lines", "7", "--temp-dir", dir)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("INSERT INTO T VALUES (1,'ABC');\n", 40), out)
}

func TestGetenvIntAndPickInt(t *testing.T) {
	t.Setenv("DUMPCONV_TEST_INT", "12")
	t.Setenv("DUMPCONV_TEST_BAD", "twelve")

	assert.Equal(t, 12, getenvInt("DUMPCONV_TEST_INT", 3))
	assert.Equal(t, 3, getenvInt("DUMPCONV_TEST_BAD", 3))
	assert.Equal(t, 3, getenvInt("DUMPCONV_TEST_UNSET", 3))

	assert.Equal(t, 5, pickInt(5, 9))
	assert.Equal(t, 9, pickInt(0, 9))
	assert.Equal(t, 9, pickInt(-1, 9))
}

func TestSetInput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		arg, kind, path, url string
	}{
		{arg: "-", kind: "stdin"},
		{arg: "https://example.com/dump.sql", kind: "http", url: "https://example.com/dump.sql"},
		{arg: "dump.sql", kind: "file", path: "dump.sql"},
	}
	for _, tc := range cases {
		var src config.Source
		setInput(&src, tc.arg)
		assert.Equal(t, tc.kind, src.Kind, tc.arg)
		assert.Equal(t, tc.path, src.File.Path, tc.arg)
		assert.Equal(t, tc.url, src.HTTP.URL, tc.arg)
	}
}
