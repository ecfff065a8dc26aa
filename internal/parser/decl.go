package parser

import (
	"fmt"
	"strings"

	"ffibind/internal/errors"
	"ffibind/internal/model"
)

// words that combine into a primitive type spelling
var primitiveWords = map[string]bool{
	"void": true, "char": true, "short": true, "int": true, "long": true,
	"float": true, "double": true, "signed": true, "unsigned": true,
	"_Bool": true, "bool": true,
}

// qualifiers and storage classes without effect on the binding
var ignoredWords = map[string]bool{
	"volatile": true, "restrict": true, "__restrict": true, "__restrict__": true,
	"register": true, "auto": true, "inline": true, "__inline": true, "__inline__": true,
	"_Thread_local": true, "__thread": true, "_Atomic": true, "__const": true,
	"__strong": true, "__weak": true, "__unsafe_unretained": true, "__autoreleasing": true,
	"__kindof": true, "__block": true,
}

// Objective-C parameter type qualifiers, only valid inside method types
var objcQualifiers = map[string]bool{
	"oneway": true, "in": true, "out": true, "inout": true, "bycopy": true, "byref": true,
}

// attribute-like identifiers, skipped together with an optional argument list
var knownAttributes = map[string]bool{
	"__attribute__": true, "__attribute": true, "__declspec": true, "__asm__": true, "__asm": true,
	"_Alignas": true, "alignas": true, "__extension__": true, "_Noreturn": true, "__unused": true,
	"__deprecated": true, "__cdecl": true, "__stdcall": true,
	"API_AVAILABLE": true, "API_UNAVAILABLE": true, "API_DEPRECATED": true, "API_DEPRECATED_WITH_REPLACEMENT": true,
	"NS_AVAILABLE": true, "NS_AVAILABLE_IOS": true, "NS_AVAILABLE_MAC": true, "NS_DEPRECATED": true,
	"NS_SWIFT_NAME": true, "NS_SWIFT_UNAVAILABLE": true, "NS_REFINED_FOR_SWIFT": true, "NS_NOESCAPE": true,
	"NS_DESIGNATED_INITIALIZER": true, "NS_REQUIRES_SUPER": true, "NS_UNAVAILABLE": true,
	"NS_RETURNS_NOT_RETAINED": true, "CF_RETURNS_NOT_RETAINED": true, "NS_RETURNS_INNER_POINTER": true,
	"NS_FORMAT_FUNCTION": true, "NS_INLINE": true, "CF_INLINE": true, "CF_SWIFT_NAME": true,
	"DEPRECATED_ATTRIBUTE": true, "UNAVAILABLE_ATTRIBUTE": true,
	"FOUNDATION_EXPORT": true, "FOUNDATION_EXTERN": true, "CF_EXPORT": true,
}

// attributes transferring ownership of the returned object to the caller
var retainedAttributes = map[string]bool{
	"NS_RETURNS_RETAINED": true,
	"CF_RETURNS_RETAINED": true,
}

// macros declaring an enum with a fixed underlying type
var enumMacros = map[string]bool{
	"NS_ENUM": true, "NS_OPTIONS": true, "NS_CLOSED_ENUM": true, "CF_ENUM": true, "CF_OPTIONS": true,
}

// isTypeWord reports whether name starts a type name.
func isTypeWord(name string) bool {
	switch name {
	case "struct", "union", "enum", "const":
		return true
	}
	return primitiveWords[name] || model.IsPrimitive(name)
}

func nullabilityOf(word string) (model.Nullability, bool) {
	switch word {
	case "_Nullable", "__nullable", "nullable", "_Nullable_result", "null_resettable":
		return model.Nullable, true
	case "_Nonnull", "__nonnull", "nonnull":
		return model.Nonnull, true
	case "_Null_unspecified", "__null_unspecified", "null_unspecified":
		return model.NullUnspecified, true
	}
	return "", false
}

// isMacroName reports whether name is spelled like a macro (UPPER_CASE).
func isMacroName(name string) bool {
	if !strings.Contains(name, "_") {
		return false
	}
	for _, r := range name {
		if r >= 'a' && r <= 'z' {
			return false
		}
	}
	return true
}

// cond is one level of #if nesting.
type cond struct {
	parent bool // enclosing level active
	active bool
	taken  bool // some branch of this level was active
}

// headerParser is the builtin recursive-descent backend.
type headerParser struct {
	*builder

	toks    []Token
	pos     int
	attrs   map[string]bool
	conds   []cond
	audited bool // inside an assume-nonnull region
	externC int
	declDoc string
	err     error
}

func newHeaderParser(path string, src []byte, ignore map[string]bool) *headerParser {
	attrs := make(map[string]bool, len(knownAttributes)+len(ignore))
	for k := range knownAttributes {
		attrs[k] = true
	}
	for k := range ignore {
		attrs[k] = true
	}
	return &headerParser{
		builder: newBuilder(path),
		toks:    Tokenize(string(src)),
		attrs:   attrs,
	}
}

func (p *headerParser) parse() (*model.Unit, error) {
	for {
		tok := p.peek()
		if p.err != nil {
			return nil, p.err
		}
		if tok.Type == EOF {
			break
		}
		if err := p.topLevel(tok); err != nil {
			return nil, err
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	if len(p.conds) > 0 {
		return nil, p.errorf(p.peek(), "unterminated conditional directive")
	}
	if p.externC > 0 {
		return nil, p.errorf(p.peek(), `unterminated extern "C" block`)
	}
	return p.unit, nil
}

func (p *headerParser) topLevel(tok Token) error {
	switch tok.Type {
	case AtKeyword:
		return p.objcTopLevel(tok)
	case Punct:
		switch {
		case tok.Text == ";":
			p.next()
			return nil
		case tok.Text == "}" && p.externC > 0:
			p.next()
			p.externC--
			return nil
		}
		return p.errorf(tok, "unexpected %q", tok.Text)
	case Ident:
		switch tok.Text {
		case "NS_ASSUME_NONNULL_BEGIN", "CF_ASSUME_NONNULL_BEGIN", "NS_HEADER_AUDIT_BEGIN":
			p.next()
			p.skipGroup()
			p.audited = true
			return nil
		case "NS_ASSUME_NONNULL_END", "CF_ASSUME_NONNULL_END", "NS_HEADER_AUDIT_END":
			p.next()
			p.skipGroup()
			p.audited = false
			return nil
		case "typedef":
			return p.typedefDecl()
		case "_Static_assert", "static_assert":
			p.next()
			p.skipGroup()
			p.accept(";")
			return nil
		case "extern":
			if p.peekAt(1).Type == String {
				p.next()
				p.next()
				if p.accept("{") {
					p.externC++
					return nil
				}
			}
		}
		return p.declaration()
	}
	return p.errorf(tok, "unexpected %s %q", tok.Type, tok.Text)
}

// Token stream

// peek returns the current token. Directives are consumed and applied on the
// way, and tokens inside inactive conditional branches are skipped.
func (p *headerParser) peek() Token {
	for {
		tok := p.toks[p.pos]
		switch {
		case tok.Type == Directive:
			p.pos++
			p.directive(tok)
		case tok.Type != EOF && !p.active():
			p.pos++
		default:
			return tok
		}
	}
}

// peekAt looks n tokens past the current one without applying directives.
func (p *headerParser) peekAt(n int) Token {
	p.peek()
	i := p.pos
	for n > 0 && p.toks[i].Type != EOF {
		i++
		if p.toks[i].Type != Directive {
			n--
		}
	}
	return p.toks[i]
}

func (p *headerParser) next() Token {
	tok := p.peek()
	if tok.Type != EOF {
		p.pos++
	}
	return tok
}

func (p *headerParser) isPunct(text string) bool {
	tok := p.peek()
	return tok.Type == Punct && tok.Text == text
}

func (p *headerParser) accept(text string) bool {
	if p.isPunct(text) {
		p.next()
		return true
	}
	return false
}

func (p *headerParser) expect(text string) (Token, error) {
	tok := p.peek()
	if tok.Type != Punct || tok.Text != text {
		return tok, p.errorf(tok, "expected %q, found %s", text, describe(tok))
	}
	return p.next(), nil
}

func (p *headerParser) expectIdent() (Token, error) {
	tok := p.peek()
	if tok.Type != Ident {
		return tok, p.errorf(tok, "expected identifier, found %s", describe(tok))
	}
	return p.next(), nil
}

func describe(tok Token) string {
	if tok.Type == EOF {
		return tok.Type.String()
	}
	return fmt.Sprintf("%q", tok.Text)
}

func (p *headerParser) tokLoc(tok Token) model.Location {
	return p.loc(tok.Line, tok.Column)
}

func (p *headerParser) errorf(tok Token, format string, args ...any) error {
	return errors.Parsef(p.tokLoc(tok), format, args...)
}

// fail records the first error raised while applying a directive.
func (p *headerParser) fail(err error) {
	if err != nil && p.err == nil {
		p.err = err
	}
}

// group consumes a balanced (), [] or {} group and returns its inner tokens.
// It does nothing when the current token opens no group.
func (p *headerParser) group() []Token {
	open := p.peek()
	if open.Type != Punct || (open.Text != "(" && open.Text != "[" && open.Text != "{") {
		return nil
	}
	p.next()
	var inner []Token
	depth := 1
	for {
		tok := p.next()
		if tok.Type == EOF {
			return inner
		}
		if tok.Type == Punct {
			switch tok.Text {
			case "(", "[", "{":
				depth++
			case ")", "]", "}":
				depth--
				if depth == 0 {
					return inner
				}
			}
		}
		inner = append(inner, tok)
	}
}

func (p *headerParser) skipGroup() { p.group() }

// until collects tokens up to, not including, the first of stops at nesting
// depth zero.
func (p *headerParser) until(stops ...string) []Token {
	var out []Token
	depth := 0
	for {
		tok := p.peek()
		if tok.Type == EOF {
			return out
		}
		if tok.Type == Punct {
			if depth == 0 {
				for _, s := range stops {
					if tok.Text == s {
						return out
					}
				}
			}
			switch tok.Text {
			case "(", "[", "{":
				depth++
			case ")", "]", "}":
				depth--
			}
		}
		out = append(out, p.next())
	}
}

// Attributes

func (p *headerParser) isAttribute(name string) bool {
	return p.attrs[name] || retainedAttributes[name]
}

// skipAttribute consumes one attribute with its argument list and reports
// whether it marks a retained return value.
func (p *headerParser) skipAttribute() bool {
	tok := p.next()
	retained := retainedAttributes[tok.Text]
	for _, arg := range p.group() {
		if arg.Text == "ns_returns_retained" || arg.Text == "cf_returns_retained" {
			retained = true
		}
	}
	return retained
}

func (p *headerParser) skipAttributes() bool {
	retained := false
	for {
		tok := p.peek()
		if tok.Type != Ident || !p.isAttribute(tok.Text) {
			return retained
		}
		if p.skipAttribute() {
			retained = true
		}
	}
}

// Declaration specifiers

type declSpec struct {
	typ      *model.Type
	anon     *model.Symbol // anonymous struct, union or enum defined in place
	null     model.Nullability
	static   bool
	retained bool
	tok      Token
}

func (p *headerParser) specifiers() (*declSpec, error) {
	s := &declSpec{tok: p.peek()}
	var (
		words     []string
		isConst   bool
		namedFrom string
	)

loop:
	for {
		tok := p.peek()
		if tok.Type != Ident {
			break
		}
		if n, ok := nullabilityOf(tok.Text); ok {
			s.null = n
			p.next()
			continue
		}
		switch {
		case tok.Text == "const":
			isConst = true
		case tok.Text == "static":
			s.static = true
		case tok.Text == "extern" || ignoredWords[tok.Text]:
		case p.isAttribute(tok.Text):
			if p.skipAttribute() {
				s.retained = true
			}
			continue
		case tok.Text == "struct" || tok.Text == "union" || tok.Text == "enum":
			if s.typ != nil && !p.dropMacroType(namedFrom) || len(words) > 0 {
				break loop
			}
			t, anon, err := p.tagSpecifier()
			if err != nil {
				return nil, err
			}
			s.typ, s.anon, namedFrom = t, anon, ""
			continue
		case primitiveWords[tok.Text]:
			if s.typ != nil && !p.dropMacroType(namedFrom) {
				break loop
			}
			s.typ, namedFrom = nil, ""
			words = append(words, tok.Text)
		default:
			if len(words) > 0 {
				break loop
			}
			if s.typ != nil {
				// EXPORT_MACRO Type *name: the macro is not a type.
				if after := p.peekAt(1); namedFrom == "" || !isMacroName(namedFrom) ||
					!(after.Type == Ident || (after.Type == Punct && after.Text == "*")) {
					break loop
				}
			}
			s.typ, namedFrom = typeFromName(tok.Text), tok.Text
			p.next()
			if p.isPunct("<") {
				// id<Protocol>, NSArray<Type *>
				p.skipAngles()
			}
			continue
		}
		p.next()
	}

	if len(words) > 0 {
		name, err := canonicalPrimitive(words)
		if err != nil {
			return nil, p.errorf(s.tok, "%v", err)
		}
		if name == "void" {
			s.typ = model.Void()
		} else {
			s.typ = model.Prim(name)
		}
	}
	if s.typ == nil {
		return nil, p.errorf(p.peek(), "expected type, found %s", describe(p.peek()))
	}
	if isConst {
		s.typ.Const = true
	}
	return s, nil
}

// dropMacroType reports whether a type taken from an identifier was really an
// unknown attribute macro, given that another type specifier follows.
func (p *headerParser) dropMacroType(namedFrom string) bool {
	return namedFrom != "" && isMacroName(namedFrom)
}

func (p *headerParser) skipAngles() {
	depth := 0
	for {
		tok := p.next()
		if tok.Type == EOF {
			return
		}
		switch tok.Text {
		case "<":
			depth++
		case ">":
			depth--
		case ">>":
			depth -= 2
		}
		if depth <= 0 {
			return
		}
	}
}

func typeFromName(name string) *model.Type {
	switch {
	case model.IsPrimitive(name):
		return model.Prim(name)
	case name == "id":
		return &model.Type{Kind: model.KindObject}
	}
	return model.Named(name)
}

// canonicalPrimitive folds multi-word primitive spellings, so that
// "long unsigned int" becomes "unsigned long".
func canonicalPrimitive(words []string) (string, error) {
	var (
		signed, unsigned bool
		longs, shorts    int
		base             string
	)
	for _, w := range words {
		switch w {
		case "signed":
			signed = true
		case "unsigned":
			unsigned = true
		case "long":
			longs++
		case "short":
			shorts++
		case "int":
			if base != "" && base != "int" {
				return "", fmt.Errorf("invalid type %q", strings.Join(words, " "))
			}
			base = "int"
		default:
			if base != "" && base != "int" {
				return "", fmt.Errorf("invalid type %q", strings.Join(words, " "))
			}
			base = w
		}
	}
	invalid := fmt.Errorf("invalid type %q", strings.Join(words, " "))
	switch base {
	case "void", "float", "_Bool", "bool":
		if signed || unsigned || longs > 0 || shorts > 0 {
			return "", invalid
		}
		return base, nil
	case "double":
		switch {
		case signed || unsigned || shorts > 0 || longs > 1:
			return "", invalid
		case longs == 1:
			return "long double", nil
		}
		return "double", nil
	case "char":
		switch {
		case longs > 0 || shorts > 0 || (signed && unsigned):
			return "", invalid
		case unsigned:
			return "unsigned char", nil
		case signed:
			return "signed char", nil
		}
		return "char", nil
	}
	if signed && unsigned || shorts > 1 || longs > 2 || (shorts > 0 && longs > 0) {
		return "", invalid
	}
	name := "int"
	switch {
	case shorts == 1:
		name = "short"
	case longs == 1:
		name = "long"
	case longs == 2:
		name = "long long"
	}
	if unsigned {
		name = "unsigned " + name
	}
	return name, nil
}

// tagSpecifier parses struct, union and enum specifiers. Named definitions are
// added to the unit directly; an anonymous definition is returned for the
// caller to name.
func (p *headerParser) tagSpecifier() (*model.Type, *model.Symbol, error) {
	kw := p.next()
	kind := model.TypeKind(kw.Text)
	p.skipAttributes()

	var name string
	if tok := p.peek(); tok.Type == Ident && !p.isAttribute(tok.Text) {
		name = tok.Text
		p.next()
	}
	p.skipAttributes()

	var underlying *model.Type
	if kind == model.KindEnum && p.accept(":") {
		s, err := p.specifiers()
		if err != nil {
			return nil, nil, err
		}
		underlying = s.typ
	}

	typ := &model.Type{Kind: kind, Name: name}
	if !p.isPunct("{") {
		if name == "" {
			return nil, nil, p.errorf(p.peek(), "expected %s name or body, found %s", kw.Text, describe(p.peek()))
		}
		return typ, nil, nil
	}

	sym := &model.Symbol{
		Name: name,
		Loc:  p.tokLoc(kw),
		Doc:  commentText(firstNonEmpty(kw.Doc, p.declDoc)),
	}
	p.declDoc = ""
	if kind == model.KindEnum {
		values, err := p.enumBody()
		if err != nil {
			return nil, nil, err
		}
		sym.Kind = model.SymbolEnum
		sym.Enum = &model.EnumDef{Values: values, Underlying: underlying, Tagged: name != ""}
	} else {
		fields, err := p.structBody(name)
		if err != nil {
			return nil, nil, err
		}
		sym.Kind = model.SymbolStruct
		if kind == model.KindUnion {
			sym.Kind = model.SymbolUnion
		}
		sym.Struct = &model.StructDef{Fields: fields, Union: kind == model.KindUnion, Tagged: name != ""}
	}
	p.skipAttributes()

	if name == "" {
		return typ, sym, nil
	}
	if err := p.add(sym); err != nil {
		return nil, nil, err
	}
	return typ, nil, nil
}

// nameAnon names and registers the anonymous definition of s, if any.
func (p *headerParser) nameAnon(s *declSpec, hint string) error {
	if s.anon == nil {
		return nil
	}
	anon := s.anon
	s.anon = nil
	return p.bindAnon(anon, s.typ, hint)
}

func joinName(owner, field string) string {
	if owner == "" {
		owner = "Anon"
	}
	return owner + "_" + field
}

func (p *headerParser) structBody(owner string) ([]model.Field, error) {
	open, err := p.expect("{")
	if err != nil {
		return nil, err
	}
	var fields []model.Field
	for !p.isPunct("}") {
		tok := p.peek()
		switch {
		case tok.Type == EOF:
			return nil, p.errorf(open, "unterminated struct body")
		case tok.Type == AtKeyword:
			// ivar visibility: @public, @private, @protected, @package
			p.next()
			continue
		case tok.Type == Punct && tok.Text == ";":
			p.next()
			continue
		}

		s, err := p.specifiers()
		if err != nil {
			return nil, err
		}
		if s.anon != nil && p.isPunct(";") {
			// anonymous member struct or union
			p.next()
			name := fmt.Sprintf("anon%d", len(fields))
			if err := p.nameAnon(s, joinName(owner, name)); err != nil {
				return nil, err
			}
			fields = append(fields, model.Field{Name: name, Type: s.typ, Loc: p.tokLoc(tok)})
			continue
		}

		for {
			d, err := p.declarator(s.typ)
			if err != nil {
				return nil, err
			}
			if d.name == "" && !p.isPunct(":") {
				return nil, p.errorf(d.tok, "expected field name, found %s", describe(d.tok))
			}
			f := model.Field{Name: d.name, Type: applyNull(d.typ, s.null), Loc: p.tokLoc(d.tok)}
			if p.isPunct(":") {
				colon := p.next()
				width, err := EvalConst(p.until(",", ";"), p.lookupConst)
				if err != nil {
					return nil, p.errorf(colon, "bit-field width of %s: %v", d.name, err)
				}
				if width < 0 {
					return nil, p.errorf(colon, "negative bit-field width for %s", d.name)
				}
				f.BitWidth = int(width)
				if f.BitWidth == 0 {
					f.BitWidth = -1 // zero-width bit-field
				}
			}
			if err := p.nameAnon(s, joinName(owner, d.name)); err != nil {
				return nil, err
			}
			fields = append(fields, f)
			if !p.accept(",") {
				break
			}
		}
		if _, err := p.expect(";"); err != nil {
			return nil, err
		}
	}
	p.next()
	return fields, nil
}

func (p *headerParser) enumBody() ([]model.EnumValue, error) {
	if _, err := p.expect("{"); err != nil {
		return nil, err
	}
	var values []model.EnumValue
	next := int64(0)
	for !p.isPunct("}") {
		nameTok, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		p.skipAttributes()
		v := model.EnumValue{Name: nameTok.Text, Value: next}
		if p.accept("=") {
			val, err := EvalConst(p.until(",", "}"), p.lookupConst)
			if err != nil {
				return nil, p.errorf(nameTok, "enumerator %s: %v", nameTok.Text, err)
			}
			v.Value, v.Explicit = val, true
		}
		p.constants[v.Name] = v.Value
		values = append(values, v)
		next = v.Value + 1
		if !p.accept(",") {
			break
		}
	}
	if _, err := p.expect("}"); err != nil {
		return nil, err
	}
	return values, nil
}

// Declarators

type declarator struct {
	name     string
	typ      *model.Type
	tok      Token
	retained bool
}

// declarator parses a possibly abstract declarator applied to base. Pointer
// and block operators bind looser than array and parameter suffixes, so the
// suffixes after a parenthesized declarator are applied first.
func (p *headerParser) declarator(base *model.Type) (*declarator, error) {
	d := &declarator{tok: p.peek()}
	t := base
	for p.isPunct("*") || p.isPunct("^") {
		op := p.next()
		null := p.pointerQualifiers(d)
		if op.Text == "^" {
			if t.Kind != model.KindFunction {
				return nil, p.errorf(op, "block declarator requires a parameter list")
			}
			t = model.BlockOf(t, null)
		} else {
			t = model.PointerTo(t, null)
		}
	}
	if p.skipAttributes() {
		d.retained = true
	}

	tok := p.peek()
	switch {
	case tok.Type == Punct && tok.Text == "(" && p.nestedDeclarator():
		open := p.pos
		p.skipGroup()
		outer, err := p.suffixes(t)
		if err != nil {
			return nil, err
		}
		end := p.pos
		p.pos = open + 1
		inner, err := p.declarator(outer)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(")"); err != nil {
			return nil, err
		}
		p.pos = end
		inner.retained = inner.retained || d.retained
		if p.skipAttributes() {
			inner.retained = true
		}
		return inner, nil
	case tok.Type == Ident && !isTypeWord(tok.Text):
		d.name, d.tok = tok.Text, tok
		p.next()
	}

	t, err := p.suffixes(t)
	if err != nil {
		return nil, err
	}
	d.typ = t
	if p.skipAttributes() {
		d.retained = true
	}
	return d, nil
}

// nestedDeclarator reports whether the "(" at the current position opens a
// parenthesized declarator rather than a parameter list.
func (p *headerParser) nestedDeclarator() bool {
	next := p.peekAt(1)
	switch {
	case next.Type == Punct:
		return next.Text == "*" || next.Text == "^" || next.Text == "("
	case next.Type == Ident:
		return next.Text == "__cdecl" || next.Text == "__stdcall"
	}
	return false
}

// pointerQualifiers consumes qualifiers following * or ^ and returns the
// pointer's nullability.
func (p *headerParser) pointerQualifiers(d *declarator) model.Nullability {
	var null model.Nullability
	for {
		tok := p.peek()
		if tok.Type != Ident {
			return null
		}
		if n, ok := nullabilityOf(tok.Text); ok && strings.HasPrefix(tok.Text, "_") {
			null = n
			p.next()
			continue
		}
		switch {
		case tok.Text == "const" || ignoredWords[tok.Text]:
			p.next()
		case p.isAttribute(tok.Text):
			if p.skipAttribute() {
				d.retained = true
			}
		default:
			return null
		}
	}
}

func (p *headerParser) suffixes(t *model.Type) (*model.Type, error) {
	var dims []int
	for p.isPunct("[") {
		open := p.next()
		expr := p.until("]")
		n := int64(0)
		if len(expr) > 0 {
			v, err := EvalConst(expr, p.lookupConst)
			if err != nil {
				return nil, p.errorf(open, "array dimension: %v", err)
			}
			if v < 0 {
				return nil, p.errorf(open, "negative array dimension %d", v)
			}
			n = v
		}
		if _, err := p.expect("]"); err != nil {
			return nil, err
		}
		dims = append(dims, int(n))
	}
	if len(dims) > 0 {
		for i := len(dims) - 1; i >= 0; i-- {
			t = model.ArrayOf(t, dims[i])
		}
		return t, nil
	}
	if p.isPunct("(") {
		sig, err := p.params(t)
		if err != nil {
			return nil, err
		}
		return &model.Type{Kind: model.KindFunction, Signature: sig}, nil
	}
	return t, nil
}

func (p *headerParser) params(ret *model.Type) (*model.BlockSignature, error) {
	p.next()
	sig := &model.BlockSignature{Return: p.audit(ret)}
	if p.accept(")") {
		return sig, nil
	}
	if tok := p.peek(); tok.Type == Ident && tok.Text == "void" {
		if after := p.peekAt(1); after.Type == Punct && after.Text == ")" {
			p.next()
			p.next()
			return sig, nil
		}
	}
	for {
		if p.accept("...") {
			sig.Variadic = true
			break
		}
		s, err := p.specifiers()
		if err != nil {
			return nil, err
		}
		d, err := p.declarator(s.typ)
		if err != nil {
			return nil, err
		}
		if err := p.nameAnon(s, joinName("Param", d.name)); err != nil {
			return nil, err
		}
		t := p.audit(decay(applyNull(d.typ, s.null)))
		sig.Params = append(sig.Params, model.Param{Name: d.name, Type: t})
		if !p.accept(",") {
			break
		}
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	return sig, nil
}

// decay converts array and function parameter types to pointers.
func decay(t *model.Type) *model.Type {
	switch t.Kind {
	case model.KindArray:
		elem := t.Elem
		if len(t.Dims) > 1 {
			elem = &model.Type{Kind: model.KindArray, Elem: t.Elem, Dims: t.Dims[1:]}
		}
		return model.PointerTo(elem, t.Nullability)
	case model.KindFunction:
		return model.PointerTo(t, model.NullUnspecified)
	}
	return t
}

// applyNull sets the nullability of a pointer-like type that has none.
func applyNull(t *model.Type, n model.Nullability) *model.Type {
	if n == model.NullUnspecified || t.Nullability != model.NullUnspecified {
		return t
	}
	switch t.Kind {
	case model.KindPointer, model.KindFuncPtr, model.KindBlock, model.KindObject, model.KindNamed:
		c := t.Clone()
		c.Nullability = n
		return c
	}
	return t
}

// audit applies the nonnull default of an assume-nonnull region.
func (p *headerParser) audit(t *model.Type) *model.Type {
	if !p.audited {
		return t
	}
	return applyNull(t, model.Nonnull)
}

// Declarations

func (p *headerParser) typedefDecl() error {
	kw := p.next()
	p.declDoc = kw.Doc
	doc := commentText(kw.Doc)
	if tok := p.peek(); tok.Type == Ident && enumMacros[tok.Text] {
		return p.enumMacro(doc)
	}

	s, err := p.specifiers()
	if err != nil {
		return err
	}
	for {
		d, err := p.declarator(s.typ)
		if err != nil {
			return err
		}
		if d.name == "" {
			return p.errorf(d.tok, "typedef requires a name")
		}
		t := applyNull(d.typ, s.null)
		if s.anon != nil && t == s.typ {
			// typedef struct { ... } Name;
			s.anon.Doc = firstNonEmpty(s.anon.Doc, doc)
			if err := p.nameAnon(s, d.name); err != nil {
				return err
			}
		} else {
			if err := p.nameAnon(s, "_"+d.name); err != nil {
				return err
			}
			if err := p.addTypedef(d.name, t, p.tokLoc(d.tok), doc); err != nil {
				return err
			}
		}
		if !p.accept(",") {
			break
		}
	}
	_, err = p.expect(";")
	return err
}

// enumMacro parses typedef NS_ENUM(Type, Name) { ... };
func (p *headerParser) enumMacro(doc string) error {
	p.next()
	if _, err := p.expect("("); err != nil {
		return err
	}
	s, err := p.specifiers()
	if err != nil {
		return err
	}
	if _, err := p.expect(","); err != nil {
		return err
	}
	name, err := p.expectIdent()
	if err != nil {
		return err
	}
	if _, err := p.expect(")"); err != nil {
		return err
	}
	p.skipAttributes()
	if !p.isPunct("{") {
		if err := p.addTypedef(name.Text, s.typ, p.tokLoc(name), doc); err != nil {
			return err
		}
	} else {
		values, err := p.enumBody()
		if err != nil {
			return err
		}
		def := &model.EnumDef{Values: values, Underlying: s.typ, Tagged: true}
		if err := p.addEnum(name.Text, def, p.tokLoc(name), doc); err != nil {
			return err
		}
	}
	p.skipAttributes()
	_, err = p.expect(";")
	return err
}

func (p *headerParser) declaration() error {
	first := p.peek()
	p.declDoc = first.Doc
	doc := commentText(first.Doc)

	s, err := p.specifiers()
	if err != nil {
		return err
	}
	if p.accept(";") {
		switch {
		case s.anon != nil && s.anon.Kind == model.SymbolEnum:
			// enum { A, B }; declares constants only
			for _, v := range s.anon.Enum.Values {
				if err := p.addConstant(v.Name, v.Value, s.anon.Loc, s.anon.Doc); err != nil {
					return err
				}
			}
			return nil
		case s.anon != nil:
			return p.nameAnon(s, "")
		case s.typ.Kind == model.KindStruct || s.typ.Kind == model.KindUnion:
			return p.addTypedef(s.typ.Name, s.typ, p.tokLoc(s.tok), doc)
		}
		return nil
	}

	for {
		d, err := p.declarator(s.typ)
		if err != nil {
			return err
		}
		if d.name == "" {
			return p.errorf(d.tok, "expected declarator name, found %s", describe(d.tok))
		}
		if err := p.nameAnon(s, d.name+"Type"); err != nil {
			return err
		}
		loc := p.tokLoc(d.tok)

		if d.typ.Kind == model.KindFunction {
			sig := *d.typ.Signature
			sig.Return = applyNull(sig.Return, s.null)
			fn := &model.Function{
				Signature:       &sig,
				ReturnsRetained: s.retained || d.retained,
				Static:          s.static,
			}
			sym := &model.Symbol{Name: d.name, Kind: model.SymbolFunction, Loc: loc, Doc: doc, Function: fn}
			if p.isPunct("{") {
				p.skipGroup()
				fn.Defined = true
				return p.add(sym)
			}
			if err := p.add(sym); err != nil {
				return err
			}
		} else {
			if p.accept("=") {
				p.until(",", ";")
			}
			if !s.static {
				sym := &model.Symbol{Name: d.name, Kind: model.SymbolGlobal, Loc: loc, Doc: doc, Global: applyNull(d.typ, s.null)}
				if err := p.add(sym); err != nil {
					return err
				}
			}
		}
		if !p.accept(",") {
			break
		}
	}
	_, err = p.expect(";")
	return err
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
