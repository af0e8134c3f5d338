package expr

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tkEOF tokenKind = iota
	tkRef            // identifier or dotted path, possibly with [n] indices
	tkString
	tkNumber
	tkLParen
	tkRParen
	tkComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	input string
	pos   int
}

func isRefChar(c byte) bool {
	return c == '_' || c == '.' || c == '[' || c == ']' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func (l *lexer) next() (token, error) {
	for l.pos < len(l.input) && (l.input[l.pos] == ' ' || l.input[l.pos] == '\t' || l.input[l.pos] == '\n' || l.input[l.pos] == '\r') {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{kind: tkEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.input[l.pos]
	switch {
	case c == '(':
		l.pos++
		return token{kind: tkLParen, text: "(", pos: start}, nil
	case c == ')':
		l.pos++
		return token{kind: tkRParen, text: ")", pos: start}, nil
	case c == ',':
		l.pos++
		return token{kind: tkComma, text: ",", pos: start}, nil
	case c == '\'' || c == '"':
		return l.scanString(c)
	case isDigit(c) || (c == '-' && l.pos+1 < len(l.input) && isDigit(l.input[l.pos+1])):
		return l.scanNumber()
	case isRefChar(c) && c != '.' && c != '[' && c != ']' && !isDigit(c):
		for l.pos < len(l.input) && isRefChar(l.input[l.pos]) {
			l.pos++
		}
		return token{kind: tkRef, text: l.input[start:l.pos], pos: start}, nil
	default:
		return token{}, fmt.Errorf("expr: unexpected character %q at offset %d", c, start)
	}
}

func (l *lexer) scanString(quote byte) (token, error) {
	start := l.pos
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		switch c {
		case quote:
			l.pos++
			return token{kind: tkString, text: sb.String(), pos: start}, nil
		case '\\':
			if l.pos+1 >= len(l.input) {
				return token{}, fmt.Errorf("expr: dangling escape at offset %d", l.pos)
			}
			l.pos++
			switch esc := l.input[l.pos]; esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '\\', '\'', '"':
				sb.WriteByte(esc)
			default:
				return token{}, fmt.Errorf("expr: unsupported escape \\%c at offset %d", esc, l.pos)
			}
			l.pos++
		default:
			sb.WriteByte(c)
			l.pos++
		}
	}
	return token{}, fmt.Errorf("expr: unterminated string at offset %d", start)
}

func (l *lexer) scanNumber() (token, error) {
	start := l.pos
	if l.input[l.pos] == '-' {
		l.pos++
	}
	seenDot := false
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if isDigit(c) {
			l.pos++
			continue
		}
		if c == '.' && !seenDot && l.pos+1 < len(l.input) && isDigit(l.input[l.pos+1]) {
			seenDot = true
			l.pos++
			continue
		}
		break
	}
	return token{kind: tkNumber, text: l.input[start:l.pos], pos: start}, nil
}
