package sqldump

import (
	"errors"
	"strings"
	"testing"

	"dumpconv/internal/record"
)

func TestParseRow(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want record.Row
	}{
		{
			name: "mixed",
			in:   `1,'a,b',NULL`,
			want: record.Row{record.Bare("1"), record.Quoted("a,b"), record.Bare("NULL")},
		},
		{
			name: "doubled quote",
			in:   `'O''Brien'`,
			want: record.Row{record.Quoted("O'Brien")},
		},
		{
			name: "whitespace around fields",
			in:   "  1 ,  'x' , abc def ",
			want: record.Row{record.Bare("1"), record.Quoted("x"), record.Bare("abc def")},
		},
		{
			name: "quoted whitespace kept",
			in:   `'  padded  '`,
			want: record.Row{record.Quoted("  padded  ")},
		},
		{
			name: "escapes",
			in:   `'a\nb','c\td','e\0f','g\\h','i\'j'`,
			want: record.Row{
				record.Quoted("a\nb"), record.Quoted("c d"), record.Quoted("ef"),
				record.Quoted(`g\h`), record.Quoted("i'j"),
			},
		},
		{
			name: "newline between fields",
			in:   "1,\n 'x'",
			want: record.Row{record.Bare("1"), record.Quoted("x")},
		},
		{
			name: "empty quoted",
			in:   `''`,
			want: record.Row{record.Quoted("")},
		},
		{
			name: "empty payload",
			in:   ``,
			want: record.Row{record.Bare("")},
		},
		{
			name: "trailing comma",
			in:   `1,`,
			want: record.Row{record.Bare("1"), record.Bare("")},
		},
		{
			name: "quoted null is text",
			in:   `'NULL',NULL`,
			want: record.Row{record.Quoted("NULL"), record.Bare("NULL")},
		},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseRow([]byte(c.in))
			if err != nil {
				t.Fatalf("ParseRow(%q) error: %v", c.in, err)
			}
			if len(got) != len(c.want) {
				t.Fatalf("ParseRow(%q) len=%d, want %d: %+v", c.in, len(got), len(c.want), got)
			}
			for i := range got {
				if got[i] != c.want[i] {
					t.Fatalf("field %d = %+v, want %+v", i, got[i], c.want[i])
				}
			}
		})
	}
}

func TestParseRowUnterminated(t *testing.T) {
	t.Parallel()

	_, err := ParseRow([]byte(`1,'abc`))
	var ue *UnterminatedLiteralError
	if !errors.As(err, &ue) {
		t.Fatalf("want UnterminatedLiteralError, got %v", err)
	}
	if got, want := ue.Preview, `1,'abc`; got != want {
		t.Fatalf("preview=%q, want %q", got, want)
	}

	long := "'" + strings.Repeat("x", 300)
	_, err = ParseRow([]byte(long))
	if !errors.As(err, &ue) {
		t.Fatalf("want UnterminatedLiteralError, got %v", err)
	}
	if got, want := len(ue.Preview), PreviewLen+3; got != want {
		t.Fatalf("preview len=%d, want %d", got, want)
	}
	if !strings.HasSuffix(ue.Preview, "...") {
		t.Fatalf("preview %q lacks ellipsis", ue.Preview)
	}
}

func TestCountColumns(t *testing.T) {
	t.Parallel()

	n, err := CountColumns([]byte(`1,'a,b'`))
	if err != nil {
		t.Fatalf("CountColumns error: %v", err)
	}
	if n != 2 {
		t.Fatalf("CountColumns=%d, want 2", n)
	}
}

/*
Serializing a parsed row and parsing it again reproduces the values and the
quoting flags, even when literals contain separators, quotes, backslashes and
newlines.
*/
func TestSerializeRoundTrip(t *testing.T) {
	t.Parallel()

	payloads := []string{
		`1,'a,b',NULL`,
		`'O''Brien','it\'s'`,
		`'line1\nline2','tab\there'`,
		`'back\\slash',42,'NULL'`,
		`  7 , ' x ' ,'' `,
		`'(paren)','semi;colon'`,
	}
	for _, p := range payloads {
		first, err := ParseRow([]byte(p))
		if err != nil {
			t.Fatalf("ParseRow(%q): %v", p, err)
		}
		ser := SerializeRow(first)
		if strings.ContainsRune(string(ser), '\n') {
			t.Fatalf("serialized %q contains a raw newline", ser)
		}
		second, err := ParseRow(ser)
		if err != nil {
			t.Fatalf("ParseRow(serialized %q): %v", ser, err)
		}
		if len(first) != len(second) {
			t.Fatalf("round trip of %q: %d fields, want %d", p, len(second), len(first))
		}
		for i := range first {
			if first[i] != second[i] {
				t.Fatalf("round trip of %q field %d: %+v, want %+v", p, i, second[i], first[i])
			}
		}
	}
}

func TestSerializeRow(t *testing.T) {
	t.Parallel()

	row := record.Row{record.Bare("1"), record.Quoted("a'b\\c\nd"), record.Bare("NULL")}
	if got, want := string(SerializeRow(row)), `1,'a\'b\\c\nd',NULL`; got != want {
		t.Fatalf("SerializeRow=%q, want %q", got, want)
	}
}

func BenchmarkParseRow(b *testing.B) {
	in := []byte(`12345,'O''Brien','some longer text, with commas',NULL,'2013-01-24 20:25:01',0`)
	b.ReportAllocs()
	b.SetBytes(int64(len(in)))
	var row record.Row
	for i := 0; i < b.N; i++ {
		row, _ = AppendRow(row[:0], in)
	}
}
