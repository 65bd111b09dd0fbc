package sqldump

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gotTuple struct {
	Table   string
	Line    int
	Payload string
}

func readAll(t *testing.T, in string, opt ReaderOptions) ([]gotTuple, Stats) {
	t.Helper()
	r := NewTupleReader(strings.NewReader(in), opt)
	var out []gotTuple
	for {
		tu, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		out = append(out, gotTuple{Table: tu.Table, Line: tu.Line, Payload: string(tu.Payload)})
	}
	return out, r.Stats()
}

func payloads(ts []gotTuple) []string {
	out := make([]string, len(ts))
	for i, x := range ts {
		out[i] = x.Payload
	}
	return out
}

func TestTupleReaderBasic(t *testing.T) {
	t.Parallel()

	got, st := readAll(t, `INSERT INTO t VALUES (1,'a,b',NULL),(2,'c\nd','x');`, ReaderOptions{})
	require.Len(t, got, 2)
	assert.Equal(t, gotTuple{Table: "t", Line: 1, Payload: `1,'a,b',NULL`}, got[0])
	assert.Equal(t, gotTuple{Table: "t", Line: 1, Payload: `2,'c\nd','x'`}, got[1])
	assert.Equal(t, 1, st.Statements)
	assert.Equal(t, 1, st.Inserts)
	assert.Equal(t, 2, st.Tuples)
}

func TestTupleReaderSkipsNonData(t *testing.T) {
	t.Parallel()

	in := strings.Join([]string{
		"-- MySQL dump",
		"# another comment",
		"/*!40101 SET NAMES utf8 */;",
		"SET FOREIGN_KEY_CHECKS=0;",
		"CREATE TABLE `t` (id int, name varchar(10));",
		"LOCK TABLES `t` WRITE;",
		"INSERT INTO `t` VALUES (1,'x;y'),(2,'(z');",
		"UNLOCK TABLES;",
		"",
	}, "\n")
	got, st := readAll(t, in, ReaderOptions{})
	assert.Equal(t, []string{`1,'x;y'`, `2,'(z'`}, payloads(got))
	assert.Equal(t, "`t`", got[0].Table)
	assert.Equal(t, 7, got[0].Line)
	assert.Equal(t, 3, st.Comments)
	assert.Equal(t, 4, st.Skipped)
}

func TestTupleReaderTruncatedDump(t *testing.T) {
	t.Parallel()

	got, st := readAll(t, "INSERT INTO t VALUES (1,'a'),(2,'b'", ReaderOptions{})
	assert.Equal(t, []string{`1,'a'`, `2,'b'`}, payloads(got))
	assert.Equal(t, 1, st.Truncated)

	got, _ = readAll(t, "INSERT INTO t VALUES (1,'a'),(3)", ReaderOptions{})
	assert.Equal(t, []string{`1,'a'`, `3`}, payloads(got), "statement without final ';'")
}

func TestTupleReaderEdgeCases(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		opt  ReaderOptions
		want []string
	}{
		{
			name: "statement without values yields nothing",
			in:   "INSERT INTO t SELECT * FROM u; INSERT INTO t VALUES (1);",
			want: []string{"1"},
		},
		{
			name: "stray close paren is ignored",
			in:   "INSERT INTO t VALUES (1,2)),(3);",
			want: []string{"1,2", "3"},
		},
		{
			name: "doubled quote and paren inside literal",
			in:   `INSERT INTO t VALUES ('O''Brien','a)b');`,
			want: []string{`'O''Brien','a)b'`},
		},
		{
			name: "escaped quote inside literal",
			in:   `INSERT INTO t VALUES ('it\'s)',1);`,
			want: []string{`'it\'s)',1`},
		},
		{
			name: "clause after the last tuple",
			in:   "INSERT INTO t VALUES (1),(2) ON DUPLICATE KEY UPDATE a=VALUES(a); INSERT INTO t VALUES (3);",
			want: []string{"1", "2", "3"},
		},
		{
			name: "column list",
			in:   "INSERT INTO t (a,b) VALUES (1,2);",
			want: []string{"1,2"},
		},
		{
			name: "nested parentheses are kept",
			in:   "INSERT INTO t VALUES (1,(2),'x');",
			want: []string{"1,(2),'x'"},
		},
		{
			name: "replace and ignore",
			in:   "REPLACE INTO a VALUES (1); insert ignore into b values (2);",
			want: []string{"1", "2"},
		},
		{
			name: "table filter",
			in:   "INSERT INTO orders VALUES (1);INSERT INTO `db`.`Users` VALUES (2);",
			opt:  ReaderOptions{Tables: []string{"users"}},
			want: []string{"2"},
		},
		{
			name: "filtered insert with semicolon in literal",
			in:   "INSERT INTO orders VALUES ('a;b');INSERT INTO users VALUES (2);",
			opt:  ReaderOptions{Tables: []string{"users"}},
			want: []string{"2"},
		},
		{
			name: "orphan tuples ignored by default",
			in:   "(5,'e'),\n(6,'f');\nINSERT INTO t VALUES (7);",
			want: []string{"7"},
		},
		{
			name: "orphan tuples",
			in:   "(5,'e'),\n(6,'f');\nINSERT INTO t VALUES (7);",
			opt:  ReaderOptions{Orphans: true},
			want: []string{"5,'e'", "6,'f'", "7"},
		},
		{
			name: "orphan chunk starting at a separator",
			in:   ",\n(8),(9);",
			opt:  ReaderOptions{Orphans: true},
			want: []string{"8", "9"},
		},
		{
			name: "quoted semicolon in head",
			in:   "SET @x='a;b'; INSERT INTO t VALUES (1);",
			want: []string{"1"},
		},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			got, _ := readAll(t, c.in, c.opt)
			assert.Equal(t, c.want, payloads(got))
		})
	}
}

func TestTupleReaderLineNumbers(t *testing.T) {
	t.Parallel()

	got, _ := readAll(t, "SET x=1;\nINSERT INTO t VALUES\n(1),\n('a\nb'),\n(3);\n", ReaderOptions{})
	require.Len(t, got, 3)
	assert.Equal(t, 3, got[0].Line)
	assert.Equal(t, 4, got[1].Line)
	assert.Equal(t, 6, got[2].Line)
}

func TestTupleReaderFirstLine(t *testing.T) {
	t.Parallel()

	got, _ := readAll(t, "(1),\n(2);\n", ReaderOptions{Orphans: true, FirstLine: 41})
	require.Len(t, got, 2)
	assert.Equal(t, 41, got[0].Line)
	assert.Equal(t, 42, got[1].Line)

	got, _ = readAll(t, "INSERT INTO t VALUES (1);", ReaderOptions{FirstLine: -3})
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Line)
}

func TestTupleReaderOrphanTable(t *testing.T) {
	t.Parallel()

	got, st := readAll(t, "(1),(2);", ReaderOptions{Orphans: true, Tables: []string{"users"}})
	assert.Len(t, got, 2, "orphan tuples bypass the table filter")
	assert.Equal(t, "", got[0].Table)
	assert.Equal(t, 2, st.Orphans)
}

func TestTupleReaderReadError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	src := io.MultiReader(strings.NewReader("INSERT INTO t VALUES (1"), iotest.ErrReader(boom))
	r := NewTupleReader(src, ReaderOptions{})
	_, err := r.Next()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF, "reader stays finished after an error")
}

func BenchmarkTupleReader(b *testing.B) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO `t` VALUES ")
	for i := 0; i < 1000; i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(`(1,'O''Brien','text, more text',NULL,'2013-01-24 20:25:01')`)
	}
	sb.WriteString(";\n")
	in := sb.String()

	b.ReportAllocs()
	b.SetBytes(int64(len(in)))
	for i := 0; i < b.N; i++ {
		r := NewTupleReader(strings.NewReader(in), ReaderOptions{})
		for {
			if _, err := r.Next(); err != nil {
				break
			}
		}
	}
}
