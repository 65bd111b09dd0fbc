package sqldump

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestStatementReaderKinds(t *testing.T) {
	t.Parallel()

	in := strings.Join([]string{
		"-- header",
		"/*!40101 SET NAMES utf8 */;",
		"SET x='a;b';",
		"INSERT INTO `t` (a,b) VALUES (1,'x'),( 2 , 'y' );",
		"UNLOCK TABLES;",
		"INSERT INTO t VALUES (3,'z'",
	}, "\n")

	type want struct {
		kind       StatementKind
		table      string
		line       int
		terminated bool
		tuples     []string
	}
	wants := []want{
		{kind: KindComment, line: 1},
		{kind: KindComment, line: 2, terminated: true},
		{kind: KindSkip, line: 3, terminated: true},
		{kind: KindInsert, table: "`t`", line: 4, terminated: true, tuples: []string{"1,'x'", "2 , 'y'"}},
		{kind: KindSkip, line: 5, terminated: true},
		{kind: KindInsert, table: "t", line: 6, tuples: []string{"3,'z'"}},
	}

	r := NewStatementReader(strings.NewReader(in))
	for i, w := range wants {
		st, err := r.Next()
		if err != nil {
			t.Fatalf("statement %d: %v", i, err)
		}
		if st.Kind != w.kind || st.Table != w.table || st.Line != w.line {
			t.Fatalf("statement %d = {%v %q %d}, want {%v %q %d}", i, st.Kind, st.Table, st.Line, w.kind, w.table, w.line)
		}
		if got := st.Terminated(); got != w.terminated {
			t.Fatalf("statement %d terminated=%v, want %v (%q)", i, got, w.terminated, st.Text)
		}
		tuples := st.Tuples()
		if len(tuples) != len(w.tuples) {
			t.Fatalf("statement %d tuples=%q, want %q", i, tuples, w.tuples)
		}
		for j := range tuples {
			if string(tuples[j]) != w.tuples[j] {
				t.Fatalf("statement %d tuple %d=%q, want %q", i, j, tuples[j], w.tuples[j])
			}
		}
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("want io.EOF, got %v", err)
	}
}

func TestStatementSpansDoNotOverlap(t *testing.T) {
	t.Parallel()

	st := Statement{
		Kind: KindInsert,
		Text: []byte(`INSERT INTO t VALUES (1,'a),(b'),(2,(3)),  (4) ;`),
	}
	spans := st.Spans()
	if len(spans) != 3 {
		t.Fatalf("spans=%v, want 3", spans)
	}
	for i := 1; i < len(spans); i++ {
		if spans[i].Start < spans[i-1].End {
			t.Fatalf("span %d %v overlaps %v", i, spans[i], spans[i-1])
		}
	}
	if got := string(st.Text[spans[0].Start:spans[0].End]); got != "1,'a),(b'" {
		t.Fatalf("first span=%q", got)
	}
}

func TestStatementWithoutValues(t *testing.T) {
	t.Parallel()

	st := Statement{Kind: KindInsert, Text: []byte("INSERT INTO t SELECT * FROM u;")}
	if spans := st.Spans(); len(spans) != 0 {
		t.Fatalf("spans=%v, want none", spans)
	}
	// A column literally named values inside the column list is not the keyword.
	st = Statement{Kind: KindInsert, Text: []byte("INSERT INTO t (values_x, `values`) VALUES (1,2);")}
	if got := st.Tuples(); len(got) != 1 || string(got[0]) != "1,2" {
		t.Fatalf("tuples=%q", got)
	}
}

func TestStatementTrailingClause(t *testing.T) {
	t.Parallel()

	st := Statement{Kind: KindInsert, Text: []byte("INSERT INTO t VALUES (1,'a'),(2,'b') ON DUPLICATE KEY UPDATE b=VALUES(b);")}
	got := st.Tuples()
	if len(got) != 2 || string(got[0]) != "1,'a'" || string(got[1]) != "2,'b'" {
		t.Fatalf("tuples=%q", got)
	}
}

func TestClassifyHead(t *testing.T) {
	t.Parallel()

	cases := []struct {
		head  string
		kind  StatementKind
		table string
	}{
		{"INSERT INTO users VALUES", KindInsert, "users"},
		{"insert low_priority ignore into `db`.`u` (a) values", KindInsert, "`db`.`u`"},
		{"REPLACE INTO [dbo].[t] VALUES", KindInsert, "[dbo].[t]"},
		{`INSERT INTO "my table"(a) VALUES`, KindInsert, `"my table"`},
		{"SET NAMES utf8", KindSkip, ""},
		{"LOCK TABLES t WRITE", KindSkip, ""},
		{"", KindSkip, ""},
	}
	for _, c := range cases {
		kind, table := classifyHead([]byte(c.head))
		if kind != c.kind || table != c.table {
			t.Fatalf("classifyHead(%q)=(%v,%q), want (%v,%q)", c.head, kind, table, c.kind, c.table)
		}
	}
}

func TestHasValuesSuffix(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]bool{
		"INSERT INTO t VALUES ":   true,
		"INSERT INTO t values\n":  true,
		"INSERT INTO t VALUE":     true,
		"INSERT INTO myvalues ":   false,
		"INSERT INTO t (a,b) ":    false,
		"VALUES":                  true,
		"INSERT INTO t_VALUES   ": false,
	} {
		if got := hasValuesSuffix([]byte(in)); got != want {
			t.Fatalf("hasValuesSuffix(%q)=%v, want %v", in, got, want)
		}
	}
}
