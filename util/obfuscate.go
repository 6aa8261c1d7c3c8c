package util

import (
	"fmt"
	"regexp"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/pkg/errors"
)

// Obfuscator replaces literal values in a statement text, so the result can
// leave the host without exposing user data
type Obfuscator interface {
	Obfuscate(text string) (string, error)
}

// ObfuscatorFunc - Allows plain functions to be used as an Obfuscator
type ObfuscatorFunc func(text string) (string, error)

func (f ObfuscatorFunc) Obfuscate(text string) (string, error) {
	return f(text)
}

// NewObfuscator returns the obfuscator configured by name ("tsql" or "pg_query")
func NewObfuscator(name string) (Obfuscator, error) {
	switch name {
	case "", "tsql":
		return TSQLObfuscator{}, nil
	case "pg_query":
		return PgQueryObfuscator{}, nil
	}
	return nil, fmt.Errorf("unknown obfuscator: %s", name)
}

// PgQueryObfuscator normalizes statements with the Postgres parser. This only
// works for the subset of T-SQL that is also valid Postgres syntax, other
// statements fail to obfuscate.
type PgQueryObfuscator struct{}

func (PgQueryObfuscator) Obfuscate(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyStatement
	}
	normalized, err := pg_query.Normalize(text)
	if err != nil {
		return "", errors.Wrap(err, "could not parse statement")
	}
	return normalized, nil
}

// TSQLObfuscator replaces string, Unicode string, numeric and binary literals
// with "?", removes comments and collapses whitespace. Variables (@name),
// identifiers and keywords are kept as-is.
type TSQLObfuscator struct{}

var ErrEmptyStatement = errors.New("statement text is empty")

var (
	errUnterminatedString     = errors.New("unterminated string literal")
	errUnterminatedComment    = errors.New("unterminated block comment")
	errUnterminatedIdentifier = errors.New("unterminated quoted identifier")
)

var inListRegexp = regexp.MustCompile(`(?i)\bIN\s*\(\s*\?(?:\s*,\s*\?)*\s*\)`)

func (TSQLObfuscator) Obfuscate(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyStatement
	}

	t := &tsqlTokenizer{sql: text, pendingSpace: false}
	t.out.Grow(len(text))

	for t.hasMore() {
		c := t.current()
		switch {
		case isSpaceByte(c):
			t.skipWhitespace()
		case c == '-' && t.peekIs('-'):
			t.skipLineComment()
		case c == '/' && t.peekIs('*'):
			if err := t.skipBlockComment(); err != nil {
				return "", err
			}
		case (c == 'N' || c == 'n') && t.peekIs('\'') && !t.afterIdentifier():
			t.advance()
			if err := t.skipStringLiteral(); err != nil {
				return "", err
			}
			t.emit("?")
		case c == '\'':
			if err := t.skipStringLiteral(); err != nil {
				return "", err
			}
			t.emit("?")
		case c == '[':
			if err := t.copyQuoted('[', ']'); err != nil {
				return "", err
			}
		case c == '"':
			if err := t.copyQuoted('"', '"'); err != nil {
				return "", err
			}
		case c == '@':
			t.copyVariable()
		case c == '0' && (t.peekIs('x') || t.peekIs('X')) && !t.afterIdentifier():
			t.skipHexLiteral()
			t.emit("?")
		case t.atNumericLiteral():
			t.skipNumericLiteral()
			t.emit("?")
		default:
			t.emitByte(c)
			t.advance()
		}
	}

	result := inListRegexp.ReplaceAllString(t.out.String(), "IN (?)")
	if result == "" {
		return "", ErrEmptyStatement
	}
	return result, nil
}

type tsqlTokenizer struct {
	sql          string
	idx          int
	out          strings.Builder
	pendingSpace bool
}

func (t *tsqlTokenizer) hasMore() bool {
	return t.idx < len(t.sql)
}

func (t *tsqlTokenizer) current() byte {
	return t.sql[t.idx]
}

func (t *tsqlTokenizer) peekIs(b byte) bool {
	return t.idx+1 < len(t.sql) && t.sql[t.idx+1] == b
}

func (t *tsqlTokenizer) advance() {
	t.idx++
}

// Whitespace is only written once the next token follows, which trims the output
func (t *tsqlTokenizer) flushSpace() {
	if t.pendingSpace && t.out.Len() > 0 {
		t.out.WriteByte(' ')
	}
	t.pendingSpace = false
}

func (t *tsqlTokenizer) emit(s string) {
	t.flushSpace()
	t.out.WriteString(s)
}

func (t *tsqlTokenizer) emitByte(b byte) {
	t.flushSpace()
	t.out.WriteByte(b)
}

func (t *tsqlTokenizer) afterIdentifier() bool {
	if t.idx == 0 {
		return false
	}
	return isIdentifierByte(t.sql[t.idx-1])
}

func (t *tsqlTokenizer) skipWhitespace() {
	for t.hasMore() && isSpaceByte(t.current()) {
		t.advance()
	}
	t.pendingSpace = true
}

func (t *tsqlTokenizer) skipLineComment() {
	for t.hasMore() && t.current() != '\n' {
		t.advance()
	}
	t.pendingSpace = true
}

// T-SQL block comments nest
func (t *tsqlTokenizer) skipBlockComment() error {
	depth := 0
	for t.hasMore() {
		if t.current() == '/' && t.peekIs('*') {
			depth++
			t.idx += 2
			continue
		}
		if t.current() == '*' && t.peekIs('/') {
			depth--
			t.idx += 2
			if depth == 0 {
				t.pendingSpace = true
				return nil
			}
			continue
		}
		t.advance()
	}
	return errUnterminatedComment
}

// Expects the opening quote at the current position, a doubled quote is an escaped quote
func (t *tsqlTokenizer) skipStringLiteral() error {
	t.advance()
	for t.hasMore() {
		if t.current() == '\'' {
			if t.peekIs('\'') {
				t.idx += 2
				continue
			}
			t.advance()
			return nil
		}
		t.advance()
	}
	return errUnterminatedString
}

func (t *tsqlTokenizer) copyQuoted(open byte, close byte) error {
	start := t.idx
	t.advance()
	for t.hasMore() {
		if t.current() == close {
			if t.peekIs(close) {
				t.idx += 2
				continue
			}
			t.advance()
			t.emit(t.sql[start:t.idx])
			return nil
		}
		t.advance()
	}
	return errUnterminatedIdentifier
}

func (t *tsqlTokenizer) copyVariable() {
	start := t.idx
	for t.hasMore() && t.current() == '@' {
		t.advance()
	}
	for t.hasMore() && (isIdentifierByte(t.current()) || t.current() == '$' || t.current() == '#') {
		t.advance()
	}
	t.emit(t.sql[start:t.idx])
}

func (t *tsqlTokenizer) skipHexLiteral() {
	t.idx += 2
	for t.hasMore() && isHexByte(t.current()) {
		t.advance()
	}
}

func (t *tsqlTokenizer) atNumericLiteral() bool {
	if t.afterIdentifier() {
		return false
	}
	c := t.current()
	if isDigitByte(c) {
		return true
	}
	return c == '.' && t.idx+1 < len(t.sql) && isDigitByte(t.sql[t.idx+1])
}

func (t *tsqlTokenizer) skipNumericLiteral() {
	for t.hasMore() && (isDigitByte(t.current()) || t.current() == '.') {
		t.advance()
	}
	if t.hasMore() && (t.current() == 'e' || t.current() == 'E') {
		next := t.idx + 1
		if next < len(t.sql) && (t.sql[next] == '+' || t.sql[next] == '-') {
			next++
		}
		if next < len(t.sql) && isDigitByte(t.sql[next]) {
			t.idx = next
			for t.hasMore() && isDigitByte(t.current()) {
				t.advance()
			}
		}
	}
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isDigitByte(c byte) bool {
	return c >= '0' && c <= '9'
}

func isHexByte(c byte) bool {
	return isDigitByte(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// Bytes >= 0x80 belong to multi-byte UTF-8 sequences, which only appear in identifiers or literals
func isIdentifierByte(c byte) bool {
	return c == '_' || isDigitByte(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}
