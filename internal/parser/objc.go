package parser

import (
	"strings"

	"ffibind/internal/model"
)

func (p *headerParser) objcTopLevel(tok Token) error {
	switch tok.Text {
	case "@interface":
		return p.interfaceDecl()
	case "@class":
		return p.classForward()
	case "@protocol":
		// Protocols carry no bindings of their own.
		p.next()
		if _, err := p.expectIdent(); err != nil {
			return err
		}
		if p.isPunct(";") || p.isPunct(",") {
			p.until(";")
			_, err := p.expect(";")
			return err
		}
		return p.skipToEnd(tok)
	case "@implementation":
		p.next()
		return p.skipToEnd(tok)
	}
	return p.errorf(tok, "unexpected %s at top level", tok.Text)
}

func (p *headerParser) skipToEnd(start Token) error {
	for {
		tok := p.next()
		switch {
		case tok.Type == EOF:
			return p.errorf(start, "missing @end for %s", start.Text)
		case tok.Type == AtKeyword && tok.Text == "@end":
			return nil
		}
	}
}

func (p *headerParser) classForward() error {
	p.next()
	for {
		name, err := p.expectIdent()
		if err != nil {
			return err
		}
		if p.isPunct("<") {
			p.skipAngles()
		}
		p.unit.Classes = append(p.unit.Classes, name.Text)
		if !p.accept(",") {
			break
		}
	}
	_, err := p.expect(";")
	return err
}

// angleNames parses <A, B> lists.
func (p *headerParser) angleNames() []string {
	var names []string
	for _, tok := range p.angleTokens() {
		if tok.Type == Ident {
			names = append(names, tok.Text)
		}
	}
	return names
}

func (p *headerParser) angleTokens() []Token {
	start := p.pos
	p.skipAngles()
	var toks []Token
	for _, tok := range p.toks[start:p.pos] {
		if tok.Type != Directive {
			toks = append(toks, tok)
		}
	}
	return toks
}

func (p *headerParser) interfaceDecl() error {
	at := p.next()
	nameTok, err := p.expectIdent()
	if err != nil {
		return err
	}
	iface := &model.Interface{}

	var protocols []string
	if p.isPunct("<") {
		// generic parameters, or the protocols of a root class
		protocols = p.angleNames()
	}
	if p.isPunct("(") {
		// category or class extension
		p.skipGroup()
	}
	if p.accept(":") {
		super, err := p.expectIdent()
		if err != nil {
			return err
		}
		iface.Super = super.Text
		protocols = nil
		if p.isPunct("<") {
			// a second list means the first held superclass generic arguments
			protocols = p.angleNames()
		}
	}
	if p.isPunct("<") {
		protocols = p.angleNames()
	}
	iface.Protocols = protocols

	if p.isPunct("{") {
		ivars, err := p.structBody(nameTok.Text + "_ivars")
		if err != nil {
			return err
		}
		iface.Ivars = ivars
	}

members:
	for {
		tok := p.peek()
		switch {
		case tok.Type == EOF:
			return p.errorf(at, "missing @end for @interface %s", nameTok.Text)
		case tok.Type == AtKeyword:
			switch tok.Text {
			case "@end":
				p.next()
				break members
			case "@property":
				prop, err := p.property()
				if err != nil {
					return err
				}
				iface.Properties = append(iface.Properties, prop)
			case "@optional", "@required":
				p.next()
			default:
				return p.errorf(tok, "unexpected %s in @interface %s", tok.Text, nameTok.Text)
			}
		case tok.Type == Punct && (tok.Text == "+" || tok.Text == "-"):
			m, err := p.method()
			if err != nil {
				return err
			}
			iface.Methods = append(iface.Methods, m)
		case tok.Type == Punct && tok.Text == ";":
			p.next()
		case tok.Type == Ident && strings.HasSuffix(tok.Text, "_ASSUME_NONNULL_BEGIN"):
			p.next()
			p.audited = true
		case tok.Type == Ident && strings.HasSuffix(tok.Text, "_ASSUME_NONNULL_END"):
			p.next()
			p.audited = false
		default:
			return p.errorf(tok, "unexpected %s in @interface %s", describe(tok), nameTok.Text)
		}
	}

	return p.add(&model.Symbol{
		Name:      nameTok.Text,
		Kind:      model.SymbolInterface,
		Loc:       p.tokLoc(nameTok),
		Doc:       commentText(at.Doc),
		Interface: iface,
	})
}

// methodType parses a parenthesized method return or parameter type.
func (p *headerParser) methodType() (*model.Type, error) {
	p.next()
	for tok := p.peek(); tok.Type == Ident && objcQualifiers[tok.Text]; tok = p.peek() {
		p.next()
	}
	s, err := p.specifiers()
	if err != nil {
		return nil, err
	}
	d, err := p.declarator(s.typ)
	if err != nil {
		return nil, err
	}
	if d.name != "" {
		return nil, p.errorf(d.tok, "unexpected name %q in method type", d.name)
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	return p.audit(applyNull(d.typ, s.null)), nil
}

func (p *headerParser) method() (*model.Method, error) {
	sign := p.next()
	m := &model.Method{
		ClassMethod: sign.Text == "+",
		Loc:         p.tokLoc(sign),
		Doc:         commentText(sign.Doc),
		Return:      p.audit(&model.Type{Kind: model.KindObject}),
	}
	if p.isPunct("(") {
		ret, err := p.methodType()
		if err != nil {
			return nil, err
		}
		m.Return = ret
	}

	first, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if !p.isPunct(":") {
		m.Selector = first.Text
	} else {
		var sel strings.Builder
		keyword := first.Text
		for {
			p.next()
			sel.WriteString(keyword)
			sel.WriteString(":")

			typ := p.audit(&model.Type{Kind: model.KindObject})
			if p.isPunct("(") {
				if typ, err = p.methodType(); err != nil {
					return nil, err
				}
			}
			if p.skipAttributes() {
				m.ReturnsRetained = true
			}
			name, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			m.Params = append(m.Params, model.MethodParam{Keyword: keyword, Name: name.Text, Type: decay(typ)})
			if p.skipAttributes() {
				m.ReturnsRetained = true
			}

			if tok := p.peek(); tok.Type == Ident && !p.isAttribute(tok.Text) {
				if after := p.peekAt(1); after.Type == Punct && after.Text == ":" {
					keyword = tok.Text
					p.next()
					continue
				}
			}
			if p.isPunct(":") {
				keyword = ""
				continue
			}
			break
		}
		if p.accept(",") {
			if _, err := p.expect("..."); err != nil {
				return nil, err
			}
			m.Variadic = true
		}
		m.Selector = sel.String()
	}

	if p.skipAttributes() {
		m.ReturnsRetained = true
	}
	if p.isPunct("{") {
		p.skipGroup()
		return m, nil
	}
	if _, err := p.expect(";"); err != nil {
		return nil, err
	}
	return m, nil
}

func (p *headerParser) property() (*model.Property, error) {
	at := p.next()
	prop := &model.Property{Loc: p.tokLoc(at)}

	var null model.Nullability
	if p.accept("(") {
		for !p.isPunct(")") {
			attr, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			switch attr.Text {
			case "readonly":
				prop.ReadOnly = true
			case "class":
				prop.Class = true
			case "getter", "setter":
				if _, err := p.expect("="); err != nil {
					return nil, err
				}
				name, err := p.expectIdent()
				if err != nil {
					return nil, err
				}
				if attr.Text == "getter" {
					prop.Getter = name.Text
				} else {
					p.accept(":")
					prop.Setter = name.Text + ":"
				}
			default:
				if n, ok := nullabilityOf(attr.Text); ok {
					null = n
				}
			}
			if !p.accept(",") {
				break
			}
		}
		if _, err := p.expect(")"); err != nil {
			return nil, err
		}
	}

	s, err := p.specifiers()
	if err != nil {
		return nil, err
	}
	d, err := p.declarator(s.typ)
	if err != nil {
		return nil, err
	}
	if d.name == "" {
		return nil, p.errorf(d.tok, "expected property name")
	}
	prop.Name = d.name
	prop.Type = p.audit(applyNull(applyNull(d.typ, s.null), null))
	p.skipAttributes()
	if _, err := p.expect(";"); err != nil {
		return nil, err
	}
	return prop, nil
}
