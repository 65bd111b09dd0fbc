package sqldump

import "dumpconv/internal/record"

// SerializeRow renders row back into tuple payload syntax without the outer
// parentheses. Quoted values are re-quoted with backslash escapes for
// backslash, quote and newline, so the result always fits on one line; bare
// values are written as-is.
func SerializeRow(row record.Row) []byte {
	return AppendSerialized(nil, row)
}

// AppendSerialized appends the serialized form of row to dst.
func AppendSerialized(dst []byte, row record.Row) []byte {
	for i, v := range row {
		if i > 0 {
			dst = append(dst, ',')
		}
		if !v.WasQuoted {
			dst = append(dst, v.Text...)
			continue
		}
		dst = append(dst, '\'')
		for j := 0; j < len(v.Text); j++ {
			switch c := v.Text[j]; c {
			case '\\':
				dst = append(dst, '\\', '\\')
			case '\'':
				dst = append(dst, '\\', '\'')
			case '\n':
				dst = append(dst, '\\', 'n')
			default:
				dst = append(dst, c)
			}
		}
		dst = append(dst, '\'')
	}
	return dst
}
