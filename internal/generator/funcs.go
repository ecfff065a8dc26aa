package generator

import (
	"go/token"
	"strconv"
	"strings"
	"text/template"
	"unicode"
)

// templateFuncs returns custom template functions.
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		// Naming
		"goName":    goName,
		"camelCase": camelCase,

		// String manipulation
		"join":  strings.Join,
		"quote": strconv.Quote,

		// Comment formatting
		"comment": func(s string) string { return formatComment(s, "// ") },
		"cComment": func(s string) string { return formatComment(s, " * ") },

		// Misc
		"notLast": func(i, length int) bool { return i < length-1 },
		"natives": func(list []nativeView, loader string) nativeSet {
			return nativeSet{Natives: list, Loader: loader}
		},
	}
}

// nativeSet is the argument of the natives template.
type nativeSet struct {
	Natives []nativeView
	Loader  string
}

// goName converts a C identifier to an exported Go name. Parts separated by
// underscores are capitalized; all-caps parts such as ARRAY_LEN are
// title-cased and mixed-case parts keep their case, so NSString stays.
func goName(s string) string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '_' })
	var b strings.Builder
	for _, part := range parts {
		runes := []rune(part)
		allUpper := len(runes) > 1 && strings.ToUpper(part) == part && strings.ToLower(part) != part
		runes[0] = unicode.ToUpper(runes[0])
		if allUpper {
			for j := 1; j < len(runes); j++ {
				runes[j] = unicode.ToLower(runes[j])
			}
		}
		b.WriteString(string(runes))
	}
	name := b.String()
	if name == "" {
		return "X"
	}
	if !unicode.IsLetter([]rune(name)[0]) {
		name = "X" + name
	}
	return name
}

// selectorName converts an Objective-C selector to a Go method name:
// newBlock:withMult: becomes NewBlockWithMult.
func selectorName(selector string) string {
	var b strings.Builder
	for _, part := range strings.Split(selector, ":") {
		if part == "" {
			continue
		}
		runes := []rune(part)
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}
	return b.String()
}

// localName returns a Go identifier usable for a parameter or local.
func localName(s string, index int) string {
	s = strings.TrimLeft(s, "_")
	if s == "" {
		return "arg" + strconv.Itoa(index)
	}
	if token.IsKeyword(s) || isPredeclared(s) {
		return s + "_"
	}
	return s
}

func isPredeclared(s string) bool {
	switch s {
	case "result", "err", "lib", "bool", "byte", "int", "string", "len", "cap", "new", "make", "nil", "true", "false", "unsafe", "ffi", "bridge", "fmt", "context", "sync", "o", "obj", "blk":
		return true
	}
	return false
}

// camelCase converts to camelCase.
func camelCase(s string) string {
	if s == "" {
		return s
	}
	pascal := pascalCase(s)
	runes := []rune(pascal)
	runes[0] = unicode.ToLower(runes[0])
	return string(runes)
}

// pascalCase converts to PascalCase.
func pascalCase(s string) string {
	words := splitWords(s)
	for i, word := range words {
		if len(word) > 0 {
			runes := []rune(word)
			runes[0] = unicode.ToUpper(runes[0])
			for j := 1; j < len(runes); j++ {
				runes[j] = unicode.ToLower(runes[j])
			}
			words[i] = string(runes)
		}
	}
	return strings.Join(words, "")
}

// splitWords splits a string into words (handles camelCase, PascalCase, snake_case, etc.).
func splitWords(s string) []string {
	var words []string
	var current []rune

	for i, r := range s {
		if r == '_' || r == '-' || r == ' ' || r == '.' {
			if len(current) > 0 {
				words = append(words, string(current))
				current = nil
			}
			continue
		}

		if unicode.IsUpper(r) && i > 0 {
			// Check if this is the start of a new word
			prev := rune(s[i-1])
			if unicode.IsLower(prev) || (i+1 < len(s) && unicode.IsLower(rune(s[i+1]))) {
				if len(current) > 0 {
					words = append(words, string(current))
					current = nil
				}
			}
		}

		current = append(current, r)
	}

	if len(current) > 0 {
		words = append(words, string(current))
	}

	return words
}

// formatComment formats a comment with a prefix.
func formatComment(comment, prefix string) string {
	if comment == "" {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(comment), "\n")
	var result []string
	for _, line := range lines {
		result = append(result, strings.TrimRight(prefix+strings.TrimSpace(line), " "))
	}
	return strings.Join(result, "\n")
}
