package loadscript

import (
	"bytes"
	"strings"
	"testing"
)

func TestCopyFrom(t *testing.T) {
	t.Parallel()

	got := CopyFrom(Target{Table: "public.orders", Columns: []string{"id", `we"ird`}}, "/data/o'r_chunk_0001.tsv")
	want := `COPY "public"."orders" ("id", "we""ird") FROM '/data/o''r_chunk_0001.tsv' WITH (FORMAT text, DELIMITER E'\t', NULL '\N');`
	if got != want {
		t.Fatalf("CopyFrom=\n%s\nwant\n%s", got, want)
	}
}

func TestLoadData(t *testing.T) {
	t.Parallel()

	got := LoadData(Target{Table: "shop.orders", Columns: []string{"id", "a`b"}}, `/data/x.tsv`)
	want := "LOAD DATA LOCAL INFILE '/data/x.tsv' INTO TABLE `shop`.`orders` CHARACTER SET utf8mb4 " +
		`FIELDS TERMINATED BY '\t' ESCAPED BY '\\' LINES TERMINATED BY '\n'` + " (`id`, `a``b`);"
	if got != want {
		t.Fatalf("LoadData=\n%s\nwant\n%s", got, want)
	}
}

func TestParseDialect(t *testing.T) {
	t.Parallel()

	cases := map[string]Dialect{"pg": Postgres, "PostgreSQL": Postgres, "mariadb": MySQL, "mysql": MySQL}
	for in, want := range cases {
		got, err := ParseDialect(in)
		if err != nil || got != want {
			t.Fatalf("ParseDialect(%q)=(%q,%v), want %q", in, got, err, want)
		}
	}
	if _, err := ParseDialect("oracle"); err == nil {
		t.Fatalf("want error for unknown dialect")
	}
}

func TestWriteScript(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	files := []string{"/out/t_chunk_0001.tsv", "/out/t_chunk_0002.tsv"}
	if err := WriteScript(&buf, Postgres, Target{Table: "t"}, files); err != nil {
		t.Fatalf("WriteScript: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 || lines[0] != "BEGIN;" || lines[3] != "COMMIT;" {
		t.Fatalf("script=%q", buf.String())
	}
	if !strings.HasPrefix(lines[2], `COPY "t" FROM '/out/t_chunk_0002.tsv'`) {
		t.Fatalf("line 2=%q", lines[2])
	}
}
