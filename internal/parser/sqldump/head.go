package sqldump

import (
	"bytes"
	"strings"
)

// StatementKind classifies a statement by its leading keyword.
type StatementKind uint8

const (
	// KindInsert is INSERT or REPLACE; only these carry tuples.
	KindInsert StatementKind = iota
	// KindSkip is any other statement (SET, LOCK TABLES, UNLOCK TABLES,
	// CREATE, DROP, ...). It is passed over without interpretation.
	KindSkip
	// KindComment is a "--" or "#" line comment or a "/* */" block comment.
	KindComment
)

func (k StatementKind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindSkip:
		return "skip"
	case KindComment:
		return "comment"
	default:
		return "unknown"
	}
}

// insertModifiers may sit between INSERT/REPLACE and the table name.
var insertModifiers = map[string]struct{}{
	"LOW_PRIORITY":  {},
	"DELAYED":       {},
	"HIGH_PRIORITY": {},
	"IGNORE":        {},
	"INTO":          {},
}

// classifyHead inspects the start of a statement and returns its kind and,
// for inserts, the target table as written (quotes included).
func classifyHead(head []byte) (StatementKind, string) {
	toks := headTokens(head, 8)
	if len(toks) == 0 {
		return KindSkip, ""
	}
	switch strings.ToUpper(toks[0]) {
	case "INSERT", "REPLACE":
	default:
		return KindSkip, ""
	}
	for _, tok := range toks[1:] {
		if _, ok := insertModifiers[strings.ToUpper(tok)]; ok {
			continue
		}
		if strings.EqualFold(tok, "VALUES") || strings.EqualFold(tok, "VALUE") {
			break
		}
		return KindInsert, tok
	}
	return KindInsert, ""
}

// leadingKeyword reports the first word of head once it is complete, and
// whether it is complete.
func leadingKeyword(head []byte) (string, bool) {
	i := 0
	for i < len(head) && isSpace(head[i]) {
		i++
	}
	j := i
	for j < len(head) && isIdentByte(head[j]) {
		j++
	}
	if j == len(head) {
		return "", false
	}
	return string(head[i:j]), true
}

// headTokens splits head into at most max whitespace separated tokens;
// parentheses end a token and start a new one, quoted identifiers
// (`a b`, "a b", [a b]) stay whole.
func headTokens(head []byte, max int) []string {
	var toks []string
	i := 0
	for i < len(head) && len(toks) < max {
		for i < len(head) && isSpace(head[i]) {
			i++
		}
		if i >= len(head) {
			break
		}
		if head[i] == '(' || head[i] == ')' {
			toks = append(toks, string(head[i]))
			i++
			continue
		}
		start := i
		for i < len(head) && !isSpace(head[i]) && head[i] != '(' {
			switch head[i] {
			case '`', '"':
				q := head[i]
				i++
				for i < len(head) && head[i] != q {
					i++
				}
			case '[':
				for i < len(head) && head[i] != ']' {
					i++
				}
			}
			if i < len(head) {
				i++
			}
		}
		toks = append(toks, string(head[start:i]))
	}
	return toks
}

// hasValuesSuffix reports whether head, ignoring trailing whitespace, ends in
// the keyword VALUES (or the MySQL synonym VALUE).
func hasValuesSuffix(head []byte) bool {
	h := bytes.TrimRight(head, " \t\r\n\f\v")
	for _, kw := range [...]string{"VALUES", "VALUE"} {
		n := len(kw)
		if len(h) < n || !strings.EqualFold(string(h[len(h)-n:]), kw) {
			continue
		}
		if len(h) == n || !isIdentByte(h[len(h)-n-1]) {
			return true
		}
	}
	return false
}

// valuesIndex returns the offset just past the first VALUES keyword that sits
// outside quotes and parentheses, or -1.
func valuesIndex(text []byte) int {
	var sc Scanner
	depth := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		st := sc.Advance(c, peekAt(text, i+1))
		if st.Skip {
			i++
		}
		if st.Kind != StepSyntax {
			continue
		}
		switch c {
		case '(':
			depth++
			continue
		case ')':
			if depth > 0 {
				depth--
			}
			continue
		}
		if depth > 0 || (c != 'v' && c != 'V') {
			continue
		}
		if i > 0 && isIdentByte(text[i-1]) {
			continue
		}
		for _, kw := range [...]string{"VALUES", "VALUE"} {
			end := i + len(kw)
			if end > len(text) || !strings.EqualFold(string(text[i:end]), kw) {
				continue
			}
			if end < len(text) && isIdentByte(text[end]) {
				continue
			}
			return end
		}
	}
	return -1
}

// TableMatcher reports whether an INSERT target passes a table filter.
type TableMatcher struct {
	names map[string]struct{}
}

// NewTableMatcher builds a matcher. An empty list matches every table.
func NewTableMatcher(tables []string) *TableMatcher {
	if len(tables) == 0 {
		return &TableMatcher{}
	}
	m := &TableMatcher{names: make(map[string]struct{}, len(tables))}
	for _, t := range tables {
		if n := NormalizeTable(t); n != "" {
			m.names[n] = struct{}{}
		}
	}
	return m
}

// Match compares both the full normalized name and its last component.
func (m *TableMatcher) Match(table string) bool {
	if m == nil || len(m.names) == 0 {
		return true
	}
	n := NormalizeTable(table)
	if _, ok := m.names[n]; ok {
		return true
	}
	if i := strings.LastIndexByte(n, '.'); i >= 0 {
		_, ok := m.names[n[i+1:]]
		return ok
	}
	return false
}

// NormalizeTable strips identifier quoting and lowercases a table name:
// "`db`.`Users`" becomes "db.users".
func NormalizeTable(name string) string {
	r := strings.NewReplacer("`", "", `"`, "", "[", "", "]", "")
	return strings.ToLower(strings.TrimSpace(r.Replace(name)))
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

func peekAt(b []byte, i int) int {
	if i < len(b) {
		return int(b[i])
	}
	return -1
}
