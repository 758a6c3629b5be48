// Package lexer converts FHIRPath source text into a token stream.
//
// The implementation follows the corpus's "start/current/width pointer"
// scanning technique (Rob Pike's "Lexical Scanning in Go"): a lexer reads
// runes one at a time, backs up when a lookahead doesn't match, and slices
// the accepted run out of the original input when it emits a token.
package lexer

import (
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/atomic-ehr/fhirpath-sub002/internal/fhirerr"
	"github.com/atomic-ehr/fhirpath-sub002/internal/token"
)

const eof = -1

// Lexer tokenizes a FHIRPath expression. Position tracking (line/column)
// is always on; spec.md notes it as an internal throughput knob, but this
// module has no mode where diagnostics lose position information.
type Lexer struct {
	input  string
	length int

	start   int // byte offset of the current token
	current int // byte offset of the scan head
	width   int // width of the last rune read, for backup

	line      int
	col       int
	startLine int
	startCol  int

	err *fhirerr.Error
}

// New creates a lexer over input. Call Next repeatedly until it returns an
// EOF token.
func New(input string) *Lexer {
	return &Lexer{input: input, length: len(input)}
}

// Err returns the first lexical error encountered, if any.
func (l *Lexer) Err() *fhirerr.Error { return l.err }

// Next scans and returns the next token.
func (l *Lexer) Next() token.Token {
	l.skipTrivia()
	if l.err != nil {
		return l.errorToken(l.err.Code, l.err.Message)
	}

	ch := l.peekRune()
	if ch == eof {
		return l.eofToken()
	}

	if k, ok := token.LookupSymbol2(ch, l.peekRuneAt(l.width)); ok {
		l.nextRune()
		l.nextRune()
		return l.newToken(k)
	}
	if k, ok := token.LookupSymbol1(ch); ok {
		l.nextRune()
		return l.newToken(k)
	}

	switch {
	case ch == '"' || ch == '\'':
		l.nextRune()
		l.mark()
		return l.scanString(ch)
	case ch == '`':
		l.nextRune()
		l.mark()
		return l.scanDelimitedIdent()
	case ch == '@':
		l.nextRune()
		return l.scanDateTimeOrTime()
	case ch == '$':
		return l.scanSpecialVariable()
	case ch == '%':
		return l.scanEnvVar()
	case isDigit(ch):
		return l.scanNumber()
	case isIdentStart(ch):
		return l.scanName()
	}

	l.nextRune()
	return l.errorToken(fhirerr.CodeInvalidSyntax, "unexpected character '"+string(ch)+"'")
}

// --- literal scanners ---

func (l *Lexer) scanString(quote rune) token.Token {
	var sb strings.Builder
	for {
		r := l.nextRune()
		switch r {
		case quote:
			val := sb.String()
			l.backup()
			l.mark()
			l.acceptRune(quote)
			t := l.newToken(token.String)
			t.StrValue = val
			return t
		case '\\':
			esc, ok := l.readEscape()
			if !ok {
				return l.errorToken(fhirerr.CodeInvalidSyntax, "invalid escape sequence")
			}
			sb.WriteRune(esc)
		case eof, '\n':
			return l.errorToken(fhirerr.CodeInvalidSyntax, "unterminated string literal")
		default:
			sb.WriteRune(r)
		}
	}
}

func (l *Lexer) scanDelimitedIdent() token.Token {
	var sb strings.Builder
	for {
		r := l.nextRune()
		switch r {
		case '`':
			val := sb.String()
			l.backup()
			l.mark()
			l.acceptRune('`')
			t := l.newToken(token.DelimitedIdent)
			t.StrValue = val
			return t
		case '\\':
			esc, ok := l.readEscape()
			if !ok {
				return l.errorToken(fhirerr.CodeInvalidSyntax, "invalid escape sequence")
			}
			sb.WriteRune(esc)
		case eof, '\n':
			return l.errorToken(fhirerr.CodeInvalidSyntax, "unterminated delimited identifier")
		default:
			sb.WriteRune(r)
		}
	}
}

func (l *Lexer) readEscape() (rune, bool) {
	r := l.nextRune()
	switch r {
	case 'n':
		return '\n', true
	case 't':
		return '\t', true
	case 'r':
		return '\r', true
	case 'f':
		return '\f', true
	case '\\':
		return '\\', true
	case '"':
		return '"', true
	case '\'':
		return '\'', true
	case '`':
		return '`', true
	case '/':
		return '/', true
	case 'u':
		var digits [4]rune
		for i := range digits {
			digits[i] = l.nextRune()
		}
		v, err := strconv.ParseUint(string(digits[:]), 16, 32)
		if err != nil {
			return 0, false
		}
		r1 := rune(v)
		if utf16.IsSurrogate(r1) {
			// Attempt to decode a surrogate pair following immediately.
			save := l.current
			if l.acceptRune('\\') && l.acceptRune('u') {
				var d2 [4]rune
				for i := range d2 {
					d2[i] = l.nextRune()
				}
				v2, err2 := strconv.ParseUint(string(d2[:]), 16, 32)
				if err2 == nil {
					dec := utf16.DecodeRune(r1, rune(v2))
					if dec != utf8.RuneError {
						return dec, true
					}
				}
			}
			l.current = save
		}
		return r1, true
	default:
		return 0, false
	}
}

// scanNumber scans integer or decimal literals. FHIRPath numbers have no
// exponent part (spec.md §4.1), unlike the corpus's JSON-style numbers.
func (l *Lexer) scanNumber() token.Token {
	l.acceptAll(isDigit)
	if l.peekRune() == '.' && isDigit(l.peekRuneAt(1)) {
		l.nextRune()
		l.acceptAll(isDigit)
	}
	t := l.newToken(token.Number)
	v, _ := strconv.ParseFloat(t.Lexeme, 64)
	t.NumValue = v
	return t
}

// scanDateTimeOrTime scans @YYYY[-MM[-DD[T...]]] or @THH[:MM[:SS[.fff]]].
// The leading '@' has already been consumed.
func (l *Lexer) scanDateTimeOrTime() token.Token {
	if l.peekRune() == 'T' {
		l.nextRune()
		l.acceptAll(isTimeChar)
		t := l.newToken(token.Time)
		t.StrValue = t.Lexeme
		return t
	}
	l.acceptAll(isDateTimeChar)
	t := l.newToken(token.DateTime)
	t.StrValue = t.Lexeme
	return t
}

func isDateTimeChar(r rune) bool {
	return isDigit(r) || r == '-' || r == 'T' || r == ':' || r == '.' || r == '+' || r == 'Z'
}
func isTimeChar(r rune) bool {
	return isDigit(r) || r == ':' || r == '.'
}

// scanSpecialVariable scans $this, $index, $total, or a generic $name.
func (l *Lexer) scanSpecialVariable() token.Token {
	l.nextRune() // consume '$'
	l.mark()
	for isIdentPart(l.peekRune()) {
		l.nextRune()
	}
	t := l.newToken(token.Special)
	switch t.Lexeme {
	case "this":
		t.Kind = token.This
	case "index":
		t.Kind = token.Index
	case "total":
		t.Kind = token.Total
	}
	return t
}

// scanEnvVar scans %name, %`name`, or %'name'.
func (l *Lexer) scanEnvVar() token.Token {
	l.nextRune() // consume '%'
	switch l.peekRune() {
	case '`':
		l.nextRune()
		l.mark()
		inner := l.scanDelimitedIdent()
		t := inner
		t.Kind = token.EnvVar
		return t
	case '\'':
		l.nextRune()
		l.mark()
		inner := l.scanString('\'')
		t := inner
		t.Kind = token.EnvVar
		return t
	default:
		l.mark()
		for isIdentPart(l.peekRune()) {
			l.nextRune()
		}
		t := l.newToken(token.EnvVar)
		t.StrValue = t.Lexeme
		return t
	}
}

// scanName scans an identifier, then promotes it to a keyword-operator
// Kind via the token package's lookup table (spec.md §3: keyword operators
// are lexed as identifiers; the parser/lexer here promotes eagerly since
// there is no ambiguity between a FHIRPath keyword and a property name at
// the lexical level — the parser still treats `and`/`or`/etc. as plain
// identifiers whenever they appear where a property name is syntactically
// valid, e.g. immediately after '.').
func (l *Lexer) scanName() token.Token {
	for isIdentPart(l.peekRune()) {
		l.nextRune()
	}
	t := l.newToken(token.Ident)
	t.StrValue = t.Lexeme
	if k, ok := token.LookupKeyword(t.Lexeme); ok {
		t.Kind = k
	}
	return t
}

// --- low-level helpers ---

func (l *Lexer) eofToken() token.Token {
	p := l.position()
	return token.Token{Kind: token.EOF, Range: token.Range{Start: p, End: p}}
}

func (l *Lexer) errorToken(code fhirerr.Code, msg string) token.Token {
	p := l.position()
	l.err = &fhirerr.Error{Code: code, Message: msg, Range: token.Range{Start: p, End: p}}
	t := l.newToken(token.EOF)
	return t
}

// mark resets the token-start marker to the current scan head, without
// emitting a token; used after consuming an opening delimiter so it is
// excluded from the emitted lexeme (the corpus's `ignore`).
func (l *Lexer) mark() {
	l.start = l.current
	l.startLine = l.line
	l.startCol = l.col
}

func (l *Lexer) newToken(k token.Kind) token.Token {
	t := token.Token{
		Kind:   k,
		Lexeme: l.input[l.start:l.current],
		Range: token.Range{
			Start: token.Position{Line: l.startLine, Character: l.startCol, Offset: l.start},
			End:   token.Position{Line: l.line, Character: l.col, Offset: l.current},
		},
	}
	l.width = 0
	l.mark()
	return t
}

func (l *Lexer) position() token.Position {
	return token.Position{Line: l.line, Character: l.col, Offset: l.current}
}

func (l *Lexer) peekRune() rune {
	if l.current >= l.length {
		return eof
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.current:])
	return r
}

func (l *Lexer) peekRuneAt(byteOffset int) rune {
	pos := l.current + byteOffset
	if pos >= l.length {
		return eof
	}
	r, _ := utf8.DecodeRuneInString(l.input[pos:])
	return r
}

func (l *Lexer) nextRune() rune {
	if l.current >= l.length {
		l.width = 0
		return eof
	}
	r, w := utf8.DecodeRuneInString(l.input[l.current:])
	l.width = w
	l.current += w
	if r == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
	return r
}

func (l *Lexer) backup() {
	l.current -= l.width
	if l.col > 0 {
		l.col--
	}
}

func (l *Lexer) acceptRune(r rune) bool {
	if l.peekRune() == r {
		l.nextRune()
		return true
	}
	return false
}

func (l *Lexer) acceptAll(isValid func(rune) bool) bool {
	matched := false
	for isValid(l.peekRune()) {
		l.nextRune()
		matched = true
	}
	return matched
}

func (l *Lexer) skipTrivia() {
	for {
		l.acceptAll(isWhitespace)
		l.mark()
		if l.peekRune() == '/' && l.peekRuneAt(l.runeWidth('/')) == '/' {
			for l.peekRune() != '\n' && l.peekRune() != eof {
				l.nextRune()
			}
			l.mark()
			continue
		}
		if l.peekRune() == '/' && l.peekRuneAt(l.runeWidth('/')) == '*' {
			l.nextRune()
			l.nextRune()
			closed := false
			for {
				r := l.nextRune()
				if r == eof {
					break
				}
				if r == '*' && l.peekRune() == '/' {
					l.nextRune()
					closed = true
					break
				}
			}
			if !closed {
				l.err = &fhirerr.Error{Code: fhirerr.CodeInvalidSyntax, Message: "unterminated comment", Range: token.Range{Start: l.position(), End: l.position()}}
				return
			}
			l.mark()
			continue
		}
		break
	}
}

func (l *Lexer) runeWidth(r rune) int { return utf8.RuneLen(r) }

func isWhitespace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v':
		return true
	}
	return false
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || isDigit(r)
}
