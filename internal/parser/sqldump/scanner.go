// Package sqldump scans SQL dump text: it finds statements and tuple
// boundaries while tracking single-quote and backslash state, and splits tuple
// payloads into parsed fields.
//
// Every reader in this package is built on Scanner, a three-state machine
// that decides whether a byte is syntax or literal content. Nothing here
// evaluates SQL; only INSERT heads, the VALUES keyword and tuple parentheses
// are recognized.
package sqldump

// QuoteState is the lexical state of a Scanner.
type QuoteState uint8

const (
	// Unquoted means the next byte is SQL syntax.
	Unquoted QuoteState = iota
	// InQuote means the next byte is inside a single-quoted literal.
	InQuote
	// Escape means the previous byte was a backslash inside a literal.
	Escape
)

func (s QuoteState) String() string {
	switch s {
	case Unquoted:
		return "unquoted"
	case InQuote:
		return "in-quote"
	case Escape:
		return "escape"
	default:
		return "unknown"
	}
}

// StepKind classifies what one Advance call consumed.
type StepKind uint8

const (
	// StepSyntax is a byte outside any literal.
	StepSyntax StepKind = iota
	// StepOpen is the quote that opened a literal.
	StepOpen
	// StepClose is the quote that closed a literal.
	StepClose
	// StepLiteral is content of a literal; Step.Lit holds the translated byte.
	StepLiteral
	// StepNone consumed a byte that contributes nothing (escape lead, \0).
	StepNone
)

// Step is the outcome of Scanner.Advance.
type Step struct {
	Kind StepKind
	// Lit is the literal byte for StepLiteral.
	Lit byte
	// Skip is set when the lookahead byte was consumed too (doubled quote).
	Skip bool
}

// Scanner tracks quote and escape state across a byte stream. The zero value
// is ready to use and starts Unquoted. It never allocates.
type Scanner struct {
	state QuoteState
}

// Advance consumes c. next is the byte following c, or -1 when c is the last
// byte available; it is only inspected for the doubled-quote escape. When the
// returned Step has Skip set the caller must not feed next again.
func (s *Scanner) Advance(c byte, next int) Step {
	switch s.state {
	case Unquoted:
		if c == '\'' {
			s.state = InQuote
			return Step{Kind: StepOpen}
		}
		return Step{Kind: StepSyntax}

	case InQuote:
		switch c {
		case '\\':
			s.state = Escape
			return Step{Kind: StepNone}
		case '\'':
			if next == '\'' {
				return Step{Kind: StepLiteral, Lit: '\'', Skip: true}
			}
			s.state = Unquoted
			return Step{Kind: StepClose}
		}
		return Step{Kind: StepLiteral, Lit: c}

	default: // Escape
		s.state = InQuote
		switch c {
		case 'n', 'r':
			return Step{Kind: StepLiteral, Lit: '\n'}
		case 't':
			return Step{Kind: StepLiteral, Lit: ' '}
		case '0':
			return Step{Kind: StepNone}
		}
		return Step{Kind: StepLiteral, Lit: c}
	}
}

// State returns the current state.
func (s *Scanner) State() QuoteState { return s.state }

// Quoted reports whether the scanner is inside a literal (including a pending
// escape).
func (s *Scanner) Quoted() bool { return s.state != Unquoted }

// Reset returns the scanner to Unquoted.
func (s *Scanner) Reset() { s.state = Unquoted }
