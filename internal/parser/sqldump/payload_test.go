package sqldump

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestNormalizePayload(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"(1,'a'),":        "1,'a'",
		`"(1,2)"`:         "1,2",
		"(3);":            "3",
		"  (4)  \n":       "4",
		"5,'x'":           "5,'x'",
		"   ":             "",
		"(9,1,'','',0)\r": "9,1,'','',0",
	}
	for in, want := range cases {
		if got := string(NormalizePayload([]byte(in))); got != want {
			t.Fatalf("NormalizePayload(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestPayloadReaderJoinsQuotedNewlines(t *testing.T) {
	t.Parallel()

	in := "1,'a\nb'\n\n(2,'c'),\n3,'it''s'\n"
	r := NewPayloadReader(strings.NewReader(in))

	want := []struct {
		line    int
		payload string
	}{
		{1, "1,'a\nb'"},
		{4, "2,'c'"},
		{5, "3,'it''s'"},
	}
	for i, w := range want {
		tu, err := r.Next()
		if err != nil {
			t.Fatalf("payload %d: %v", i, err)
		}
		if tu.Line != w.line || string(tu.Payload) != w.payload {
			t.Fatalf("payload %d = (%d,%q), want (%d,%q)", i, tu.Line, tu.Payload, w.line, w.payload)
		}
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("want io.EOF, got %v", err)
	}
}

func TestPayloadReaderNoTrailingNewline(t *testing.T) {
	t.Parallel()

	r := NewPayloadReader(strings.NewReader("1,2"))
	tu, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got := string(tu.Payload); got != "1,2" {
		t.Fatalf("payload=%q", got)
	}
}
