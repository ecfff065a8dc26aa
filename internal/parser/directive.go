package parser

import (
	"strings"

	"ffibind/internal/model"
)

// active reports whether tokens at the current position are compiled.
func (p *headerParser) active() bool {
	return len(p.conds) == 0 || p.conds[len(p.conds)-1].active
}

// directive applies one preprocessor line. Includes are not followed; every
// unit is parsed on its own. Conditions that cannot be evaluated select their
// first branch.
func (p *headerParser) directive(tok Token) {
	text := strings.TrimSpace(strings.TrimPrefix(tok.Text, "#"))
	keyword, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)

	switch keyword {
	case "if", "ifdef", "ifndef":
		parent := p.active()
		taken := !parent || p.condition(keyword, rest)
		p.conds = append(p.conds, cond{parent: parent, active: parent && taken, taken: taken})
		return
	case "elif", "elifdef", "elifndef":
		if len(p.conds) == 0 {
			p.fail(p.errorf(tok, "#%s without #if", keyword))
			return
		}
		top := &p.conds[len(p.conds)-1]
		if top.taken {
			top.active = false
			return
		}
		top.taken = p.condition(strings.TrimPrefix(keyword, "el"), rest)
		top.active = top.parent && top.taken
		return
	case "else":
		if len(p.conds) == 0 {
			p.fail(p.errorf(tok, "#else without #if"))
			return
		}
		top := &p.conds[len(p.conds)-1]
		top.active = top.parent && !top.taken
		top.taken = true
		return
	case "endif":
		if len(p.conds) == 0 {
			p.fail(p.errorf(tok, "#endif without #if"))
			return
		}
		p.conds = p.conds[:len(p.conds)-1]
		return
	}

	if !p.active() {
		return
	}
	switch keyword {
	case "define":
		p.define(tok, rest)
	case "undef":
		delete(p.constants, rest)
		delete(p.attrs, rest)
	case "pragma":
		switch strings.Join(strings.Fields(rest), " ") {
		case "clang assume_nonnull begin":
			p.audited = true
		case "clang assume_nonnull end":
			p.audited = false
		}
	case "error":
		p.fail(p.errorf(tok, "#error %s", rest))
	}
}

// condition evaluates an #if expression. Unknown macros and defined()
// checks count as true.
func (p *headerParser) condition(keyword, expr string) bool {
	switch keyword {
	case "ifdef", "ifndef":
		return true
	}
	v, err := EvalConstString(expr, p.lookupConst)
	if err != nil {
		return true
	}
	return v != 0
}

// define records object-like macros: integer constants become constant
// symbols, and macros expanding to nothing or to attributes are skipped
// wherever they appear. Function-like macros are ignored.
func (p *headerParser) define(tok Token, rest string) {
	n := 0
	for n < len(rest) && isIdentPart(rune(rest[n])) {
		n++
	}
	name := rest[:n]
	if name == "" || strings.HasPrefix(rest[n:], "(") {
		return
	}
	body := strings.TrimSpace(rest[n:])
	if body == "" || p.isAttributeBody(body) {
		p.attrs[name] = true
		return
	}

	v, err := EvalConstString(body, p.lookupConst)
	if err != nil {
		return
	}
	if sym, ok := p.unit.Lookup(name); ok && sym.Kind == model.SymbolConstant {
		sym.Constant = v
		p.constants[name] = v
		return
	}
	p.fail(p.addConstant(name, v, p.tokLoc(tok), commentText(tok.Doc)))
}

// isAttributeBody reports whether a macro body consists only of attributes,
// storage classes and other attribute macros.
func (p *headerParser) isAttributeBody(body string) bool {
	toks := Tokenize(body)
	for i := 0; i < len(toks) && toks[i].Type != EOF; i++ {
		tok := toks[i]
		switch {
		case tok.Type == Ident && (tok.Text == "extern" || tok.Text == "static" || ignoredWords[tok.Text]):
		case tok.Type == Ident && p.isAttribute(tok.Text):
			if i+1 < len(toks) && toks[i+1].Type == Punct && toks[i+1].Text == "(" {
				depth := 0
				for i++; i < len(toks) && toks[i].Type != EOF; i++ {
					if toks[i].Text == "(" {
						depth++
					} else if toks[i].Text == ")" {
						depth--
						if depth == 0 {
							break
						}
					}
				}
			}
		case tok.Type == String && i > 0 && toks[i-1].Text == "extern":
			// extern "C"
		default:
			return false
		}
	}
	return true
}
