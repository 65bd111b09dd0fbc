package sqldump

import (
	"errors"
	"fmt"

	"dumpconv/internal/record"
)

// PreviewLen bounds the record text quoted in parse errors.
const PreviewLen = 120

// UnterminatedLiteralError reports a tuple whose quoted value never closed.
// It is scoped to one record; callers quarantine it or abort.
type UnterminatedLiteralError struct {
	Line    int
	Preview string
}

// ErrUnterminatedLiteral is the cause wrapped by UnterminatedLiteralError.
var ErrUnterminatedLiteral = errors.New("unterminated string literal")

func (e *UnterminatedLiteralError) Unwrap() error { return ErrUnterminatedLiteral }

func (e *UnterminatedLiteralError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: unterminated string literal: %s", e.Line, e.Preview)
	}
	return fmt.Sprintf("unterminated string literal: %s", e.Preview)
}

func newUnterminated(payload []byte) *UnterminatedLiteralError {
	return &UnterminatedLiteralError{Preview: record.Preview(payload, PreviewLen)}
}
