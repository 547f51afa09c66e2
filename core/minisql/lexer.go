// Package minisql is a deliberately small step-based SQL engine over
// page-granular stable storage. It implements the core/engine contract:
// statements compile to cursor programs that are driven one step at a
// time and surface pending page I/O to the caller instead of blocking.
//
// The dialect is the subset the binding layer needs to be exercised end
// to end: CREATE TABLE, DROP TABLE, INSERT, SELECT with WHERE/ORDER
// BY/LIMIT, DELETE, and transaction control. It is not a general SQL
// implementation.
package minisql

import (
	"fmt"
	"strings"
)

// TokenType identifies a lexical token.
type TokenType uint8

const (
	tkEOF TokenType = iota
	tkIdent
	tkInteger
	tkFloat
	tkString
	tkQuestion  // positional parameter ?
	tkNamedPara // named parameter :name
	tkComma
	tkLParen
	tkRParen
	tkStar
	tkSemi
	tkEq
	tkNe
	tkLt
	tkGt
	tkLe
	tkGe
	tkIllegal
)

// Token is one lexical token.
type Token struct {
	Type   TokenType
	Lexeme string
	Pos    int
}

// Lexer tokenizes SQL input.
type Lexer struct {
	input   string
	pos     int
	readPos int
	ch      byte
}

// NewLexer creates a Lexer for the given SQL input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()

	tok := Token{Pos: l.pos}

	switch {
	case l.ch == 0:
		tok.Type = tkEOF
	case l.ch == ',':
		tok.Type, tok.Lexeme = tkComma, ","
		l.readChar()
	case l.ch == '(':
		tok.Type, tok.Lexeme = tkLParen, "("
		l.readChar()
	case l.ch == ')':
		tok.Type, tok.Lexeme = tkRParen, ")"
		l.readChar()
	case l.ch == '*':
		tok.Type, tok.Lexeme = tkStar, "*"
		l.readChar()
	case l.ch == ';':
		tok.Type, tok.Lexeme = tkSemi, ";"
		l.readChar()
	case l.ch == '?':
		tok.Type, tok.Lexeme = tkQuestion, "?"
		l.readChar()
	case l.ch == ':':
		l.readChar()
		start := l.pos
		for isIdentChar(l.ch) {
			l.readChar()
		}
		if l.pos == start {
			tok.Type, tok.Lexeme = tkIllegal, ":"
		} else {
			tok.Type, tok.Lexeme = tkNamedPara, l.input[start:l.pos]
		}
	case l.ch == '=':
		tok.Type, tok.Lexeme = tkEq, "="
		l.readChar()
		if l.ch == '=' { // == is accepted as =
			l.readChar()
		}
	case l.ch == '!':
		if l.peekChar() == '=' {
			tok.Type, tok.Lexeme = tkNe, "!="
			l.readChar()
			l.readChar()
		} else {
			tok.Type, tok.Lexeme = tkIllegal, "!"
			l.readChar()
		}
	case l.ch == '<':
		l.readChar()
		switch l.ch {
		case '=':
			tok.Type, tok.Lexeme = tkLe, "<="
			l.readChar()
		case '>':
			tok.Type, tok.Lexeme = tkNe, "<>"
			l.readChar()
		default:
			tok.Type, tok.Lexeme = tkLt, "<"
		}
	case l.ch == '>':
		l.readChar()
		if l.ch == '=' {
			tok.Type, tok.Lexeme = tkGe, ">="
			l.readChar()
		} else {
			tok.Type, tok.Lexeme = tkGt, ">"
		}
	case l.ch == '\'':
		return l.readString()
	case isDigit(l.ch) || (l.ch == '-' && isDigit(l.peekChar())):
		return l.readNumber()
	case isIdentStart(l.ch):
		start := l.pos
		for isIdentChar(l.ch) {
			l.readChar()
		}
		tok.Type, tok.Lexeme = tkIdent, l.input[start:l.pos]
	default:
		tok.Type, tok.Lexeme = tkIllegal, string(l.ch)
		l.readChar()
	}

	return tok
}

// readString reads a single-quoted string literal. A doubled quote is an
// escaped quote.
func (l *Lexer) readString() Token {
	tok := Token{Type: tkString, Pos: l.pos}
	l.readChar() // opening quote
	var sb strings.Builder
	for {
		if l.ch == 0 {
			return Token{Type: tkIllegal, Lexeme: "unterminated string", Pos: tok.Pos}
		}
		if l.ch == '\'' {
			if l.peekChar() == '\'' {
				sb.WriteByte('\'')
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar() // closing quote
			break
		}
		sb.WriteByte(l.ch)
		l.readChar()
	}
	tok.Lexeme = sb.String()
	return tok
}

// readNumber reads an integer or float literal.
func (l *Lexer) readNumber() Token {
	tok := Token{Type: tkInteger, Pos: l.pos}
	start := l.pos
	if l.ch == '-' {
		l.readChar()
	}
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		tok.Type = tkFloat
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	tok.Lexeme = l.input[start:l.pos]
	return tok
}

func isDigit(ch byte) bool      { return ch >= '0' && ch <= '9' }
func isIdentStart(ch byte) bool { return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') }
func isIdentChar(ch byte) bool  { return isIdentStart(ch) || isDigit(ch) }

func (t Token) String() string {
	return fmt.Sprintf("%q", t.Lexeme)
}
