package parser

import (
	"strings"
	"unicode"
)

// TokenType classifies a lexical token.
type TokenType int

const (
	EOF TokenType = iota
	Ident
	Number
	String
	Char
	Punct
	Directive // a whole preprocessor line, continuation lines joined
	AtKeyword // @interface, @end, ...
)

func (t TokenType) String() string {
	switch t {
	case EOF:
		return "end of input"
	case Ident:
		return "identifier"
	case Number:
		return "number"
	case String:
		return "string"
	case Char:
		return "character literal"
	case Punct:
		return "punctuation"
	case Directive:
		return "preprocessor directive"
	case AtKeyword:
		return "objective-c keyword"
	}
	return "unknown"
}

// Token is a lexical token with its position.
type Token struct {
	Type   TokenType
	Text   string
	Line   int
	Column int
	Doc    string // comment block directly above the token
}

// multi-character punctuators, longest first
var puncts = []string{"...", "<<=", ">>=", "->", "++", "--", "<<", ">>", "<=", ">=", "==", "!=", "&&", "||", "::"}

// Tokenize splits header text into tokens. Comments are dropped, but a comment
// block ending on the line above a token is attached to it as Doc.
func Tokenize(input string) []Token {
	var tokens []Token
	runes := []rune(input)
	line, col := 1, 1
	lineStart := true

	var doc []string
	docEndLine := 0
	lastTokenLine := 0

	advance := func(n int) {
		for k := 0; k < n && len(runes) > 0; k++ {
			if runes[0] == '\n' {
				line++
				col = 1
				lineStart = true
			} else {
				col++
			}
			runes = runes[1:]
		}
	}

	emit := func(tt TokenType, text string, l, c int) {
		tok := Token{Type: tt, Text: text, Line: l, Column: c}
		if len(doc) > 0 && docEndLine >= l-1 {
			tok.Doc = strings.Join(doc, "\n")
		}
		doc = nil
		lastTokenLine = l
		tokens = append(tokens, tok)
	}

	for len(runes) > 0 {
		r := runes[0]

		if r == '\n' {
			advance(1)
			continue
		}
		if unicode.IsSpace(r) {
			advance(1)
			continue
		}

		// Line comment
		if r == '/' && len(runes) > 1 && runes[1] == '/' {
			n := 0
			for n < len(runes) && runes[n] != '\n' {
				n++
			}
			text := strings.TrimSpace(strings.TrimLeft(string(runes[2:n]), "/"))
			if line != lastTokenLine {
				if docEndLine < line-1 {
					doc = nil
				}
				doc = append(doc, text)
				docEndLine = line
			}
			advance(n)
			continue
		}

		// Block comment
		if r == '/' && len(runes) > 1 && runes[1] == '*' {
			n := 2
			for n+1 < len(runes) && !(runes[n] == '*' && runes[n+1] == '/') {
				n++
			}
			body := string(runes[2:min(n, len(runes))])
			trailing := line == lastTokenLine
			if !trailing {
				if docEndLine < line-1 {
					doc = nil
				}
				for _, l := range strings.Split(body, "\n") {
					l = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(l), "*"))
					if l != "" {
						doc = append(doc, l)
					}
				}
			}
			advance(min(n+2, len(runes)))
			if !trailing {
				docEndLine = line
			}
			continue
		}

		l, c := line, col

		// Preprocessor directive: the rest of the logical line.
		if r == '#' && lineStart {
			var b strings.Builder
			n := 0
			for n < len(runes) && runes[n] != '\n' {
				if runes[n] == '\\' && n+1 < len(runes) && runes[n+1] == '\n' {
					b.WriteRune(' ')
					n += 2
					continue
				}
				if runes[n] == '/' && n+1 < len(runes) && runes[n+1] == '/' {
					for n < len(runes) && runes[n] != '\n' {
						n++
					}
					break
				}
				b.WriteRune(runes[n])
				n++
			}
			advance(n)
			emit(Directive, strings.TrimSpace(b.String()), l, c)
			continue
		}
		lineStart = false

		switch {
		case r == '@' && len(runes) > 1 && isIdentStart(runes[1]):
			n := 1
			for n < len(runes) && isIdentPart(runes[n]) {
				n++
			}
			text := string(runes[:n])
			advance(n)
			emit(AtKeyword, text, l, c)

		case r == '@' && len(runes) > 1 && runes[1] == '"':
			// Objective-C string literal: lex as a plain string.
			advance(1)
			n := scanQuoted(runes, '"')
			text := string(runes[:n])
			advance(n)
			emit(String, text, l, c)

		case isIdentStart(r):
			n := 0
			for n < len(runes) && isIdentPart(runes[n]) {
				n++
			}
			text := string(runes[:n])
			advance(n)
			emit(Ident, text, l, c)

		case unicode.IsDigit(r) || (r == '.' && len(runes) > 1 && unicode.IsDigit(runes[1])):
			n := 0
			for n < len(runes) && (isIdentPart(runes[n]) || runes[n] == '.' ||
				((runes[n] == '+' || runes[n] == '-') && n > 0 && (runes[n-1] == 'e' || runes[n-1] == 'E' || runes[n-1] == 'p' || runes[n-1] == 'P'))) {
				n++
			}
			text := string(runes[:n])
			advance(n)
			emit(Number, text, l, c)

		case r == '"':
			n := scanQuoted(runes, '"')
			text := string(runes[:n])
			advance(n)
			emit(String, text, l, c)

		case r == '\'':
			n := scanQuoted(runes, '\'')
			text := string(runes[:n])
			advance(n)
			emit(Char, text, l, c)

		default:
			text := string(r)
			for _, p := range puncts {
				if strings.HasPrefix(string(runes[:min(len(p), len(runes))]), p) {
					text = p
					break
				}
			}
			advance(len([]rune(text)))
			emit(Punct, text, l, c)
		}
	}

	tokens = append(tokens, Token{Type: EOF, Line: line, Column: col})
	return tokens
}

// scanQuoted returns the length of the quoted literal at the start of runes,
// including both quotes.
func scanQuoted(runes []rune, quote rune) int {
	n := 1
	for n < len(runes) && runes[n] != quote && runes[n] != '\n' {
		if runes[n] == '\\' {
			n++
		}
		n++
	}
	if n < len(runes) && runes[n] == quote {
		n++
	}
	return min(n, len(runes))
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}
