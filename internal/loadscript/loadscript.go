// Package loadscript renders bulk-load statements for converted TSV chunks.
// Nothing here connects to a database.
package loadscript

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Dialect selects the statement syntax.
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

// ParseDialect accepts postgres/postgresql/pg and mysql/mariadb.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg", "":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	}
	return "", fmt.Errorf("unknown load dialect %q", s)
}

// Target names the table a chunk loads into.
type Target struct {
	// Table may be schema-qualified ("public.orders").
	Table   string
	Columns []string
}

// CopyFrom renders a PostgreSQL COPY for one TSV file in text format, where
// \N is NULL and backslash escapes are decoded.
func CopyFrom(t Target, path string) string {
	var b strings.Builder
	b.WriteString("COPY ")
	b.WriteString(pgIdent(t.Table))
	if len(t.Columns) > 0 {
		b.WriteString(" (")
		for i, c := range t.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(pgx.Identifier{c}.Sanitize())
		}
		b.WriteString(")")
	}
	b.WriteString(" FROM ")
	b.WriteString(pgString(path))
	b.WriteString(" WITH (FORMAT text, DELIMITER E'\\t', NULL '\\N');")
	return b.String()
}

// LoadData renders a MySQL LOAD DATA LOCAL INFILE for one TSV file.
func LoadData(t Target, path string) string {
	var b strings.Builder
	b.WriteString("LOAD DATA LOCAL INFILE ")
	b.WriteString(myString(path))
	b.WriteString(" INTO TABLE ")
	b.WriteString(myIdent(t.Table))
	b.WriteString(" CHARACTER SET utf8mb4 FIELDS TERMINATED BY '\\t' ESCAPED BY '\\\\' LINES TERMINATED BY '\\n'")
	if len(t.Columns) > 0 {
		b.WriteString(" (")
		for i, c := range t.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(myQuote(c))
		}
		b.WriteString(")")
	}
	b.WriteString(";")
	return b.String()
}

// Render returns the statement for d.
func Render(d Dialect, t Target, path string) (string, error) {
	switch d {
	case Postgres:
		return CopyFrom(t, path), nil
	case MySQL:
		return LoadData(t, path), nil
	}
	return "", fmt.Errorf("unknown load dialect %q", d)
}

// WriteScript writes one statement per file to w, inside a transaction for
// PostgreSQL. Relative paths are made absolute so the script runs anywhere.
func WriteScript(w io.Writer, d Dialect, t Target, files []string) error {
	if d == Postgres {
		if _, err := io.WriteString(w, "BEGIN;\n"); err != nil {
			return err
		}
	}
	for _, f := range files {
		if abs, err := filepath.Abs(f); err == nil {
			f = abs
		}
		stmt, err := Render(d, t, f)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, stmt); err != nil {
			return err
		}
	}
	if d == Postgres {
		_, err := io.WriteString(w, "COMMIT;\n")
		return err
	}
	return nil
}

func pgIdent(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

func pgString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func myIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = myQuote(p)
	}
	return strings.Join(parts, ".")
}

func myQuote(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

func myString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}
