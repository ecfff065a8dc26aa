package parser

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	c "github.com/tree-sitter/tree-sitter-c/bindings/go"

	"ffibind/internal/errors"
	"ffibind/internal/model"
)

// treeSitterParser is the tree-sitter-c backend. It only accepts plain C.
type treeSitterParser struct {
	language *sitter.Language
}

func newTreeSitterParser() *treeSitterParser {
	return &treeSitterParser{language: sitter.NewLanguage(c.Language())}
}

func (tp *treeSitterParser) parse(path string, src []byte, ignore map[string]bool) (*model.Unit, error) {
	if isObjectiveC(src) {
		return nil, errors.Parsef(model.Location{File: path, Line: 1, Column: 1},
			"Objective-C syntax requires the builtin parser backend")
	}
	src = blankMacros(src, ignore)

	parser := sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(tp.language); err != nil {
		return nil, errors.Parsef(model.Location{File: path}, "tree-sitter: %v", err)
	}

	tree := parser.Parse(src, nil)
	if tree == nil {
		return nil, errors.Parsef(model.Location{File: path}, "tree-sitter returned no tree")
	}
	defer tree.Close()

	b := &tsBuilder{builder: newBuilder(path), src: src}
	root := tree.RootNode()
	if root.HasError() {
		if err := b.syntaxError(root); err != nil {
			return nil, err
		}
	}
	if err := b.items(root, nil); err != nil {
		return nil, err
	}
	return b.unit, nil
}

var (
	defineRe    = regexp.MustCompile(`(?m)^[ \t]*#[ \t]*define[ \t]+([A-Za-z_][A-Za-z0-9_]*)([ \t].*)?$`)
	cplusplusRe = regexp.MustCompile(`^[ \t]*#[ \t]*(ifdef[ \t]+__cplusplus|if[ \t]+defined[ \t]*\(?[ \t]*__cplusplus)`)
)

// blankMacros replaces attribute macros and #ifdef __cplusplus regions with
// spaces, keeping byte offsets and line numbers intact.
func blankMacros(src []byte, ignore map[string]bool) []byte {
	out := append([]byte(nil), src...)

	names := make(map[string]bool, len(knownAttributes)+len(ignore))
	for k := range knownAttributes {
		names[k] = true
	}
	for k := range retainedAttributes {
		names[k] = true
	}
	for k := range ignore {
		names[k] = true
	}
	hp := &headerParser{attrs: names}
	for _, m := range defineRe.FindAllSubmatch(src, -1) {
		body := strings.TrimSpace(string(m[2]))
		if body == "" || hp.isAttributeBody(body) {
			names[string(m[1])] = true
		}
	}

	lines := bytes.SplitAfter(out, []byte("\n"))
	offset := 0
	depth := 0
	for _, line := range lines {
		trimmed := bytes.TrimSpace(line)
		switch {
		case depth == 0 && cplusplusRe.Match(line):
			depth = 1
		case depth > 0 && bytes.HasPrefix(trimmed, []byte("#")) && bytes.Contains(trimmed, []byte("if")) && !bytes.Contains(trimmed, []byte("endif")) && !bytes.Contains(trimmed, []byte("elif")):
			depth++
		}
		if depth > 0 {
			blank(out[offset : offset+len(line)])
			if bytes.HasPrefix(trimmed, []byte("#")) && bytes.Contains(trimmed, []byte("endif")) {
				depth--
			}
		} else if !bytes.HasPrefix(trimmed, []byte("#")) {
			blankIdents(out[offset:offset+len(line)], names)
		}
		offset += len(line)
	}
	return out
}

func blank(b []byte) {
	for i := range b {
		if b[i] != '\n' {
			b[i] = ' '
		}
	}
}

// blankIdents blanks listed identifiers in one line, with a directly
// following parenthesized argument list.
func blankIdents(line []byte, names map[string]bool) {
	for i := 0; i < len(line); {
		if !isIdentStart(rune(line[i])) || (i > 0 && isIdentPart(rune(line[i-1]))) {
			i++
			continue
		}
		j := i
		for j < len(line) && isIdentPart(rune(line[j])) {
			j++
		}
		if !names[string(line[i:j])] {
			i = j
			continue
		}
		end := j
		k := j
		for k < len(line) && (line[k] == ' ' || line[k] == '\t') {
			k++
		}
		if k < len(line) && line[k] == '(' {
			depth := 0
			for ; k < len(line); k++ {
				if line[k] == '(' {
					depth++
				} else if line[k] == ')' {
					depth--
					if depth == 0 {
						end = k + 1
						break
					}
				}
			}
		}
		blank(line[i:end])
		i = end
	}
}

// tsBuilder maps a tree-sitter-c syntax tree onto unit symbols.
type tsBuilder struct {
	*builder
	src []byte
}

func (b *tsBuilder) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return string(b.src[n.StartByte():n.EndByte()])
}

func (b *tsBuilder) nodeLoc(n *sitter.Node) model.Location {
	pos := n.StartPosition()
	return b.loc(int(pos.Row)+1, int(pos.Column)+1)
}

func (b *tsBuilder) errorf(n *sitter.Node, format string, args ...any) error {
	return errors.Parsef(b.nodeLoc(n), format, args...)
}

// syntaxError reports the first ERROR or MISSING node below root. It
// returns nil when the only gaps are the names of unnamed bit-fields.
func (b *tsBuilder) syntaxError(root *sitter.Node) error {
	var bad *sitter.Node
	unnamed := false
	walkTree(root, func(n *sitter.Node) bool {
		if bad != nil {
			return false
		}
		if unnamedBitField(n) {
			unnamed = true
			return false
		}
		if n.IsError() || n.IsMissing() {
			bad = n
			return false
		}
		return n.HasError()
	})
	if bad == nil {
		if unnamed {
			return nil
		}
		return b.errorf(root, "syntax error")
	}
	if bad.IsMissing() {
		return b.errorf(bad, "syntax error: missing %s", bad.Kind())
	}
	return b.errorf(bad, "syntax error near %q", firstLine(b.text(bad)))
}

// unnamedBitField reports whether n is the field name tree-sitter-c inserts
// for `unsigned int : 0;`, which its grammar has no rule for. The name reads
// as empty, like the builtin parser's.
func unnamedBitField(n *sitter.Node) bool {
	if !n.IsMissing() || n.Kind() != "field_identifier" {
		return false
	}
	parent := n.Parent()
	if parent == nil || parent.Kind() != "field_declaration" {
		return false
	}
	for i := uint(0); i < parent.NamedChildCount(); i++ {
		if parent.NamedChild(i).Kind() == "bitfield_clause" {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	if len(s) > 40 {
		s = s[:40] + "..."
	}
	return s
}

func walkTree(node *sitter.Node, visitor func(*sitter.Node) bool) {
	if node == nil || !visitor(node) {
		return
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		walkTree(node.Child(i), visitor)
	}
}

func fieldChildren(n *sitter.Node, field string) []sitter.Node {
	cursor := n.Walk()
	defer cursor.Close()
	return n.ChildrenByFieldName(field, cursor)
}

func sameNode(a, b *sitter.Node) bool {
	return a != nil && b != nil && a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Kind() == b.Kind()
}

// items walks the top-level items of a translation unit, declaration list or
// conditional branch. A comment directly above an item documents it.
func (b *tsBuilder) items(parent *sitter.Node, skip []*sitter.Node) error {
	var doc string
	docEnd := -2
	for i := uint(0); i < parent.ChildCount(); i++ {
		n := parent.Child(i)
		if !n.IsNamed() {
			continue
		}
		skipped := false
		for _, s := range skip {
			if sameNode(n, s) {
				skipped = true
			}
		}
		if skipped {
			continue
		}
		if n.Kind() == "comment" {
			row := int(n.StartPosition().Row)
			if row > docEnd+1 {
				doc = ""
			}
			doc = strings.TrimSpace(doc + "\n" + cleanComment(b.text(n)))
			docEnd = int(n.EndPosition().Row)
			continue
		}
		itemDoc := ""
		if int(n.StartPosition().Row) == docEnd+1 {
			itemDoc = doc
		}
		doc, docEnd = "", -2
		if err := b.item(n, itemDoc); err != nil {
			return err
		}
	}
	return nil
}

func cleanComment(text string) string {
	text = strings.TrimPrefix(text, "//")
	text = strings.TrimPrefix(text, "/*")
	text = strings.TrimSuffix(text, "*/")
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(l), "*/"))
		if l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n")
}

func (b *tsBuilder) item(n *sitter.Node, doc string) error {
	switch n.Kind() {
	case "declaration":
		return b.declaration(n, doc)
	case "type_definition":
		return b.typeDefinition(n, doc)
	case "function_definition":
		return b.functionDefinition(n, doc)
	case "struct_specifier", "union_specifier", "enum_specifier":
		return b.standaloneSpecifier(n, doc)
	case "preproc_def":
		return b.define(n, doc)
	case "preproc_if", "preproc_ifdef":
		// first branch only, as the builtin backend does
		return b.items(n, []*sitter.Node{
			n.ChildByFieldName("name"),
			n.ChildByFieldName("condition"),
			n.ChildByFieldName("alternative"),
		})
	case "linkage_specification":
		body := n.ChildByFieldName("body")
		if body == nil {
			return nil
		}
		if body.Kind() == "declaration_list" {
			return b.items(body, nil)
		}
		return b.item(body, doc)
	case "preproc_include", "preproc_call", "preproc_function_def", "expression_statement":
		return nil
	}
	return b.errorf(n, "unsupported construct %s", n.Kind())
}

func (b *tsBuilder) define(n *sitter.Node, doc string) error {
	name := b.text(n.ChildByFieldName("name"))
	value := strings.TrimSpace(b.text(n.ChildByFieldName("value")))
	if value == "" {
		return nil
	}
	v, err := EvalConstString(value, b.lookupConst)
	if err != nil {
		return nil
	}
	return b.addConstant(name, v, b.nodeLoc(n), doc)
}

// Types

func (b *tsBuilder) qualified(decl *sitter.Node, t *model.Type) *model.Type {
	for i := uint(0); i < decl.ChildCount(); i++ {
		if ch := decl.Child(i); ch.Kind() == "type_qualifier" && b.text(ch) == "const" {
			t.Const = true
		}
	}
	return t
}

func (b *tsBuilder) hasSpecifier(decl *sitter.Node, kind, text string) bool {
	for i := uint(0); i < decl.ChildCount(); i++ {
		ch := decl.Child(i)
		if ch.Kind() == kind && (text == "" || strings.Contains(b.text(ch), text)) {
			return true
		}
	}
	return false
}

func (b *tsBuilder) typeSpec(n *sitter.Node, doc string) (*model.Type, *model.Symbol, error) {
	if n == nil {
		return nil, nil, errors.Parsef(b.loc(0, 0), "missing type specifier")
	}
	switch n.Kind() {
	case "primitive_type":
		name := b.text(n)
		if primitiveWords[name] {
			canon, err := canonicalPrimitive([]string{name})
			if err != nil {
				return nil, nil, b.errorf(n, "%v", err)
			}
			name = canon
		}
		if name == "void" {
			return model.Void(), nil, nil
		}
		return typeFromName(name), nil, nil
	case "sized_type_specifier":
		var words []string
		for i := uint(0); i < n.ChildCount(); i++ {
			words = append(words, b.text(n.Child(i)))
		}
		name, err := canonicalPrimitive(words)
		if err != nil {
			return nil, nil, b.errorf(n, "%v", err)
		}
		return model.Prim(name), nil, nil
	case "type_identifier":
		return typeFromName(b.text(n)), nil, nil
	case "struct_specifier", "union_specifier", "enum_specifier":
		return b.tagSpec(n, doc)
	}
	return nil, nil, b.errorf(n, "unsupported type specifier %s", n.Kind())
}

func (b *tsBuilder) tagSpec(n *sitter.Node, doc string) (*model.Type, *model.Symbol, error) {
	kind := model.TypeKind(strings.TrimSuffix(n.Kind(), "_specifier"))
	name := b.text(n.ChildByFieldName("name"))
	typ := &model.Type{Kind: kind, Name: name}

	body := n.ChildByFieldName("body")
	if body == nil {
		if name == "" {
			return nil, nil, b.errorf(n, "%s without name or body", kind)
		}
		return typ, nil, nil
	}

	sym := &model.Symbol{Name: name, Loc: b.nodeLoc(n), Doc: doc}
	if kind == model.KindEnum {
		def := &model.EnumDef{Tagged: name != ""}
		if u := n.ChildByFieldName("underlying_type"); u != nil {
			ut, _, err := b.typeSpec(u, "")
			if err != nil {
				return nil, nil, err
			}
			def.Underlying = ut
		}
		next := int64(0)
		for i := uint(0); i < body.NamedChildCount(); i++ {
			e := body.NamedChild(i)
			if e.Kind() != "enumerator" {
				continue
			}
			v := model.EnumValue{Name: b.text(e.ChildByFieldName("name")), Value: next}
			if val := e.ChildByFieldName("value"); val != nil {
				x, err := EvalConstString(b.text(val), b.lookupConst)
				if err != nil {
					return nil, nil, b.errorf(e, "enumerator %s: %v", v.Name, err)
				}
				v.Value, v.Explicit = x, true
			}
			b.constants[v.Name] = v.Value
			def.Values = append(def.Values, v)
			next = v.Value + 1
		}
		sym.Kind = model.SymbolEnum
		sym.Enum = def
	} else {
		fields, err := b.fields(body, name)
		if err != nil {
			return nil, nil, err
		}
		sym.Kind = model.SymbolStruct
		if kind == model.KindUnion {
			sym.Kind = model.SymbolUnion
		}
		sym.Struct = &model.StructDef{Fields: fields, Union: kind == model.KindUnion, Tagged: name != ""}
	}

	if name == "" {
		return typ, sym, nil
	}
	if err := b.add(sym); err != nil {
		return nil, nil, err
	}
	return typ, nil, nil
}

func (b *tsBuilder) fields(body *sitter.Node, owner string) ([]model.Field, error) {
	var fields []model.Field
	for i := uint(0); i < body.NamedChildCount(); i++ {
		fd := body.NamedChild(i)
		if fd.Kind() != "field_declaration" {
			continue
		}
		base, anon, err := b.typeSpec(fd.ChildByFieldName("type"), "")
		if err != nil {
			return nil, err
		}
		b.qualified(fd, base)

		decls := fieldChildren(fd, "declarator")
		if len(decls) == 0 && anon != nil {
			name := "anon" + strconv.Itoa(len(fields))
			if err := b.bindAnon(anon, base, joinName(owner, name)); err != nil {
				return nil, err
			}
			fields = append(fields, model.Field{Name: name, Type: base, Loc: b.nodeLoc(fd)})
			continue
		}

		var bits int
		for j := uint(0); j < fd.NamedChildCount(); j++ {
			if bc := fd.NamedChild(j); bc.Kind() == "bitfield_clause" {
				w, err := EvalConstString(strings.TrimPrefix(strings.TrimSpace(b.text(bc)), ":"), b.lookupConst)
				if err != nil {
					return nil, b.errorf(bc, "bit-field width: %v", err)
				}
				bits = int(w)
				if bits == 0 {
					bits = -1
				}
			}
		}

		if len(decls) == 0 && bits != 0 {
			fields = append(fields, model.Field{Type: base, BitWidth: bits, Loc: b.nodeLoc(fd)})
			continue
		}

		for j := range decls {
			name, t, err := b.declarator(&decls[j], base)
			if err != nil {
				return nil, err
			}
			if anon != nil {
				if err := b.bindAnon(anon, base, joinName(owner, name)); err != nil {
					return nil, err
				}
				anon = nil
			}
			fields = append(fields, model.Field{Name: name, Type: t, BitWidth: bits, Loc: b.nodeLoc(&decls[j])})
		}
	}
	return fields, nil
}

// declarator unwraps a declarator node outside-in, wrapping t at each level.
func (b *tsBuilder) declarator(n *sitter.Node, t *model.Type) (string, *model.Type, error) {
	if n == nil {
		return "", t, nil
	}
	switch n.Kind() {
	case "identifier", "field_identifier", "type_identifier":
		return b.text(n), t, nil
	case "pointer_declarator", "abstract_pointer_declarator":
		var null model.Nullability
		for i := uint(0); i < n.ChildCount(); i++ {
			if ch := n.Child(i); ch.Kind() == "type_qualifier" {
				if nn, ok := nullabilityOf(b.text(ch)); ok {
					null = nn
				}
			}
		}
		return b.declarator(n.ChildByFieldName("declarator"), model.PointerTo(t, null))
	case "array_declarator", "abstract_array_declarator":
		dim := int64(0)
		if size := n.ChildByFieldName("size"); size != nil {
			v, err := EvalConstString(b.text(size), b.lookupConst)
			if err != nil {
				return "", nil, b.errorf(size, "array dimension: %v", err)
			}
			dim = v
		}
		return b.declarator(n.ChildByFieldName("declarator"), model.ArrayOf(t, int(dim)))
	case "function_declarator", "abstract_function_declarator":
		sig, err := b.params(n.ChildByFieldName("parameters"), t)
		if err != nil {
			return "", nil, err
		}
		return b.declarator(n.ChildByFieldName("declarator"), &model.Type{Kind: model.KindFunction, Signature: sig})
	case "parenthesized_declarator", "abstract_parenthesized_declarator", "attributed_declarator":
		if n.NamedChildCount() == 0 {
			return "", t, nil
		}
		return b.declarator(n.NamedChild(0), t)
	case "init_declarator":
		return b.declarator(n.ChildByFieldName("declarator"), t)
	}
	return "", nil, b.errorf(n, "unsupported declarator %s", n.Kind())
}

func (b *tsBuilder) params(list *sitter.Node, ret *model.Type) (*model.BlockSignature, error) {
	sig := &model.BlockSignature{Return: ret}
	if list == nil {
		return sig, nil
	}
	for i := uint(0); i < list.NamedChildCount(); i++ {
		pd := list.NamedChild(i)
		switch pd.Kind() {
		case "variadic_parameter":
			sig.Variadic = true
			continue
		case "parameter_declaration":
		default:
			continue
		}
		base, anon, err := b.typeSpec(pd.ChildByFieldName("type"), "")
		if err != nil {
			return nil, err
		}
		b.qualified(pd, base)
		d := pd.ChildByFieldName("declarator")
		if d == nil && base.Kind == model.KindVoid && list.NamedChildCount() == 1 {
			break
		}
		name, t, err := b.declarator(d, base)
		if err != nil {
			return nil, err
		}
		if anon != nil {
			if err := b.bindAnon(anon, base, joinName("Param", name)); err != nil {
				return nil, err
			}
		}
		sig.Params = append(sig.Params, model.Param{Name: name, Type: decay(t)})
	}
	return sig, nil
}

// Declarations

func (b *tsBuilder) standaloneSpecifier(n *sitter.Node, doc string) error {
	t, anon, err := b.typeSpec(n, doc)
	if err != nil {
		return err
	}
	switch {
	case anon != nil && anon.Kind == model.SymbolEnum:
		for _, v := range anon.Enum.Values {
			if err := b.addConstant(v.Name, v.Value, anon.Loc, anon.Doc); err != nil {
				return err
			}
		}
		return nil
	case anon != nil:
		return b.bindAnon(anon, t, "")
	case t.Kind != model.KindEnum:
		return b.addTypedef(t.Name, t, b.nodeLoc(n), doc)
	}
	return nil
}

func (b *tsBuilder) declaration(n *sitter.Node, doc string) error {
	decls := fieldChildren(n, "declarator")
	if len(decls) == 0 {
		return b.standaloneSpecifier(n.ChildByFieldName("type"), doc)
	}
	base, anon, err := b.typeSpec(n.ChildByFieldName("type"), doc)
	if err != nil {
		return err
	}
	b.qualified(n, base)
	static := b.hasSpecifier(n, "storage_class_specifier", "static")
	retained := b.hasSpecifier(n, "attribute_specifier", "returns_retained")

	for i := range decls {
		d := &decls[i]
		name, t, err := b.declarator(d, base)
		if err != nil {
			return err
		}
		if anon != nil {
			if err := b.bindAnon(anon, base, name+"Type"); err != nil {
				return err
			}
			anon = nil
		}
		loc := b.nodeLoc(d)
		if t.Kind == model.KindFunction {
			fn := &model.Function{Signature: t.Signature, ReturnsRetained: retained, Static: static}
			if err := b.add(&model.Symbol{Name: name, Kind: model.SymbolFunction, Loc: loc, Doc: doc, Function: fn}); err != nil {
				return err
			}
			continue
		}
		if static {
			continue
		}
		if err := b.add(&model.Symbol{Name: name, Kind: model.SymbolGlobal, Loc: loc, Doc: doc, Global: t}); err != nil {
			return err
		}
	}
	return nil
}

func (b *tsBuilder) functionDefinition(n *sitter.Node, doc string) error {
	base, _, err := b.typeSpec(n.ChildByFieldName("type"), doc)
	if err != nil {
		return err
	}
	b.qualified(n, base)
	d := n.ChildByFieldName("declarator")
	name, t, err := b.declarator(d, base)
	if err != nil {
		return err
	}
	if t.Kind != model.KindFunction {
		return b.errorf(n, "function definition %s without parameter list", name)
	}
	fn := &model.Function{
		Signature:       t.Signature,
		Defined:         true,
		Static:          b.hasSpecifier(n, "storage_class_specifier", "static"),
		ReturnsRetained: b.hasSpecifier(n, "attribute_specifier", "returns_retained"),
	}
	return b.add(&model.Symbol{Name: name, Kind: model.SymbolFunction, Loc: b.nodeLoc(d), Doc: doc, Function: fn})
}

func (b *tsBuilder) typeDefinition(n *sitter.Node, doc string) error {
	base, anon, err := b.typeSpec(n.ChildByFieldName("type"), doc)
	if err != nil {
		return err
	}
	b.qualified(n, base)
	decls := fieldChildren(n, "declarator")
	if len(decls) == 0 {
		return b.errorf(n, "typedef requires a name")
	}
	for i := range decls {
		name, t, err := b.declarator(&decls[i], base)
		if err != nil {
			return err
		}
		if anon != nil && t == base {
			anon.Doc = firstNonEmpty(anon.Doc, doc)
			if err := b.bindAnon(anon, base, name); err != nil {
				return err
			}
			anon = nil
			continue
		}
		if anon != nil {
			if err := b.bindAnon(anon, base, "_"+name); err != nil {
				return err
			}
			anon = nil
		}
		if err := b.addTypedef(name, t, b.nodeLoc(&decls[i]), doc); err != nil {
			return err
		}
	}
	return nil
}
