package parser

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/petreldb/petrel-server/server/common"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokKeyword
	tokInt
	tokFloat
	tokString
	tokComma
	tokSemi
	tokLParen
	tokRParen
	tokDot
	tokStar
	tokPlus
	tokEq // =
	tokNe // <>
	tokLt // <
	tokGt // >
	tokLe // <=
	tokGe // >=
)

type token struct {
	kind tokenKind
	text string // keyword text is upper-cased, identifiers keep their case
}

var keywords = map[string]struct{}{
	"CREATE": {}, "DROP": {}, "TABLE": {}, "INDEX": {}, "SHOW": {},
	"TABLES": {}, "DESC": {}, "FROM": {}, "INSERT": {}, "INTO": {},
	"VALUES": {}, "DELETE": {}, "UPDATE": {}, "SET": {}, "WHERE": {},
	"SELECT": {}, "AND": {}, "ORDER": {}, "BY": {}, "ASC": {}, "LIMIT": {},
	"BEGIN": {}, "COMMIT": {}, "ABORT": {}, "ROLLBACK": {}, "HELP": {},
	"EXIT": {}, "AS": {}, "INT": {}, "BIGINT": {}, "FLOAT": {}, "CHAR": {},
	"DATETIME": {}, "SUM": {}, "MAX": {}, "MIN": {}, "COUNT": {}, "ON": {},
}

// lexer produces the token stream for one statement. It is byte-oriented:
// identifiers and keywords are ASCII, string literals pass through verbatim.
type lexer struct {
	src string
	pos int
}

func newLexer(src string) *lexer {
	return &lexer{src: src}
}

func (lx *lexer) next() (token, error) {
	for lx.pos < len(lx.src) && isSpace(lx.src[lx.pos]) {
		lx.pos++
	}
	if lx.pos >= len(lx.src) {
		return token{kind: tokEOF}, nil
	}
	c := lx.src[lx.pos]
	switch {
	case c == ',':
		lx.pos++
		return token{kind: tokComma, text: ","}, nil
	case c == ';':
		lx.pos++
		return token{kind: tokSemi, text: ";"}, nil
	case c == '(':
		lx.pos++
		return token{kind: tokLParen, text: "("}, nil
	case c == ')':
		lx.pos++
		return token{kind: tokRParen, text: ")"}, nil
	case c == '.':
		lx.pos++
		return token{kind: tokDot, text: "."}, nil
	case c == '*':
		lx.pos++
		return token{kind: tokStar, text: "*"}, nil
	case c == '+':
		lx.pos++
		return token{kind: tokPlus, text: "+"}, nil
	case c == '=':
		lx.pos++
		return token{kind: tokEq, text: "="}, nil
	case c == '<':
		lx.pos++
		if lx.pos < len(lx.src) && lx.src[lx.pos] == '>' {
			lx.pos++
			return token{kind: tokNe, text: "<>"}, nil
		}
		if lx.pos < len(lx.src) && lx.src[lx.pos] == '=' {
			lx.pos++
			return token{kind: tokLe, text: "<="}, nil
		}
		return token{kind: tokLt, text: "<"}, nil
	case c == '>':
		lx.pos++
		if lx.pos < len(lx.src) && lx.src[lx.pos] == '=' {
			lx.pos++
			return token{kind: tokGe, text: ">="}, nil
		}
		return token{kind: tokGt, text: ">"}, nil
	case c == '\'':
		return lx.stringLit()
	case c == '-' || isDigit(c):
		return lx.number()
	case isIdentStart(c):
		return lx.identOrKeyword()
	}
	return token{}, errors.Wrapf(common.ErrSyntax, "unexpected character %q", c)
}

func (lx *lexer) stringLit() (token, error) {
	start := lx.pos
	lx.pos++ // opening quote
	for lx.pos < len(lx.src) && lx.src[lx.pos] != '\'' {
		lx.pos++
	}
	if lx.pos >= len(lx.src) {
		return token{}, errors.Wrap(common.ErrSyntax, "unterminated string literal")
	}
	lit := lx.src[start+1 : lx.pos]
	lx.pos++ // closing quote
	return token{kind: tokString, text: lit}, nil
}

func (lx *lexer) number() (token, error) {
	start := lx.pos
	if lx.src[lx.pos] == '-' {
		lx.pos++
		if lx.pos >= len(lx.src) || !isDigit(lx.src[lx.pos]) {
			return token{}, errors.Wrap(common.ErrSyntax, "dangling minus sign")
		}
	}
	kind := tokInt
	for lx.pos < len(lx.src) && (isDigit(lx.src[lx.pos]) || lx.src[lx.pos] == '.') {
		if lx.src[lx.pos] == '.' {
			if kind == tokFloat {
				break
			}
			kind = tokFloat
		}
		lx.pos++
	}
	return token{kind: kind, text: lx.src[start:lx.pos]}, nil
}

func (lx *lexer) identOrKeyword() (token, error) {
	start := lx.pos
	for lx.pos < len(lx.src) && isIdentPart(lx.src[lx.pos]) {
		lx.pos++
	}
	word := lx.src[start:lx.pos]
	upper := strings.ToUpper(word)
	if _, ok := keywords[upper]; ok {
		return token{kind: tokKeyword, text: upper}, nil
	}
	return token{kind: tokIdent, text: word}, nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}
