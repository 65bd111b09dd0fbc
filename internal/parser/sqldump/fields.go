package sqldump

import (
	"bytes"

	"dumpconv/internal/record"
)

// ParseRow splits one tuple payload (the text between the outer parentheses)
// into fields.
//
// A comma outside quotes ends a field. Whitespace outside quotes is skipped
// before a field starts and after a closing quote; bare fields are trimmed,
// quoted fields never are. The last field is always emitted, so "" yields a
// single empty field and "1," yields two.
//
// An unclosed quote returns *UnterminatedLiteralError.
func ParseRow(payload []byte) (record.Row, error) {
	return AppendRow(nil, payload)
}

// AppendRow is ParseRow appending into dst, letting callers reuse a Row.
func AppendRow(dst record.Row, payload []byte) (record.Row, error) {
	var (
		sc     Scanner
		buf    = make([]byte, 0, 64)
		quoted bool
	)
	flush := func() {
		text := buf
		if !quoted {
			text = bytes.TrimSpace(text)
		}
		dst = append(dst, record.ParsedValue{Text: string(text), WasQuoted: quoted})
		buf = buf[:0]
		quoted = false
	}

	for i := 0; i < len(payload); i++ {
		c := payload[i]
		next := -1
		if i+1 < len(payload) {
			next = int(payload[i+1])
		}
		st := sc.Advance(c, next)
		if st.Skip {
			i++
		}
		switch st.Kind {
		case StepOpen:
			quoted = true
		case StepLiteral:
			buf = append(buf, st.Lit)
		case StepSyntax:
			switch {
			case c == ',':
				flush()
			case isSpace(c):
				if len(buf) > 0 && !quoted {
					buf = append(buf, c)
				}
			default:
				buf = append(buf, c)
			}
		}
	}
	if sc.Quoted() {
		return dst, newUnterminated(payload)
	}
	flush()
	return dst, nil
}

// CountColumns returns the number of fields in payload.
func CountColumns(payload []byte) (int, error) {
	row, err := ParseRow(payload)
	return len(row), err
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', '\v':
		return true
	}
	return false
}
