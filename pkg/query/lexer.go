package query

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokPath
	tokParam
	tokString
	tokNumber
	tokSymbol
)

type token struct {
	kind tokenKind
	text string
	// space records whether whitespace preceded the token, so rendered SQL
	// keeps the spacing of the query text
	space bool
	pos   int
}

// is reports whether the token is the keyword kw, case-insensitively
func (t token) is(kw string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

var symbols = []string{"<>", "!=", "<=", ">=", "||", "=", "<", ">", "(", ")", ",", "+", "-", "*", "/", "%"}

// lex splits query text into tokens
func lex(input string) ([]token, error) {
	var tokens []token
	space := false
	for i := 0; i < len(input); {
		c := rune(input[i])
		switch {
		case unicode.IsSpace(c):
			space = true
			i++
			continue

		case isIdentStart(c):
			start := i
			for i < len(input) && (isIdentPart(rune(input[i])) || (input[i] == '.' && i+1 < len(input) && isIdentStart(rune(input[i+1])))) {
				i++
			}
			text := input[start:i]
			kind := tokIdent
			if strings.Contains(text, ".") {
				kind = tokPath
			}
			tokens = append(tokens, token{kind: kind, text: text, space: space, pos: start})

		case c == ':':
			start := i
			i++
			for i < len(input) && isIdentPart(rune(input[i])) {
				i++
			}
			if i == start+1 {
				return nil, fmt.Errorf("empty parameter name at offset %d", start)
			}
			tokens = append(tokens, token{kind: tokParam, text: input[start+1 : i], space: space, pos: start})

		case c == '?':
			return nil, fmt.Errorf("positional parameter at offset %d; use :name", i)

		case c == '\'':
			start := i
			i++
			for {
				if i >= len(input) {
					return nil, fmt.Errorf("unterminated string at offset %d", start)
				}
				if input[i] == '\'' {
					if i+1 < len(input) && input[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			tokens = append(tokens, token{kind: tokString, text: input[start:i], space: space, pos: start})

		case unicode.IsDigit(c):
			start := i
			for i < len(input) && (unicode.IsDigit(rune(input[i])) || input[i] == '.') {
				i++
			}
			tokens = append(tokens, token{kind: tokNumber, text: input[start:i], space: space, pos: start})

		default:
			matched := ""
			for _, sym := range symbols {
				if strings.HasPrefix(input[i:], sym) {
					matched = sym
					break
				}
			}
			if matched == "" {
				return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
			}
			tokens = append(tokens, token{kind: tokSymbol, text: matched, space: space, pos: i})
			i += len(matched)
		}
		space = false
	}
	return tokens, nil
}

func isIdentStart(c rune) bool {
	return c == '_' || unicode.IsLetter(c)
}

func isIdentPart(c rune) bool {
	return c == '_' || unicode.IsLetter(c) || unicode.IsDigit(c)
}
