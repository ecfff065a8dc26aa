// Package resolver turns a parsed unit into a resolved type graph: every
// named type reference is replaced by a concrete node, arrays are nested and
// by-value dependencies are ordered.
package resolver

import (
	"strings"
	"unicode"

	"go.uber.org/zap"

	"ffibind/internal/errors"
	"ffibind/internal/model"
)

// DefaultExternalClasses are Objective-C classes that resolve without a
// declaration in the unit.
var DefaultExternalClasses = []string{"NSObject", "NSString", "NSThread", "NSArray", "NSDictionary", "NSNumber", "NSData", "NSError"}

// builtin Objective-C runtime types, all opaque pointers
var runtimeTypes = map[string]bool{"SEL": true, "Class": true, "IMP": true, "Protocol": true}

// ownership families whose methods return retained objects
var retainedFamilies = []string{"alloc", "new", "copy", "mutableCopy"}

// Resolver resolves units against a set of external classes.
type Resolver struct {
	external map[string]bool
	retained map[string]bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithExternalClasses adds classes known outside the unit.
func WithExternalClasses(names ...string) Option {
	return func(r *Resolver) {
		for _, n := range names {
			r.external[n] = true
		}
	}
}

// WithRetained marks functions that return retained values although their
// declaration carries no attribute.
func WithRetained(names ...string) Option {
	return func(r *Resolver) {
		for _, n := range names {
			r.retained[n] = true
		}
	}
}

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		external: make(map[string]bool),
		retained: make(map[string]bool),
	}
	for _, n := range DefaultExternalClasses {
		r.external[n] = true
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve resolves unit with the default external classes.
func Resolve(unit *model.Unit) (*Graph, error) {
	return New().Resolve(unit)
}

// Resolve resolves every symbol of unit. All dangling references are
// collected into a single UnresolvedSymbolError.
func (r *Resolver) Resolve(unit *model.Unit) (*Graph, error) {
	rs := &resolution{
		Resolver:  r,
		unit:      unit,
		typedefs:  make(map[string]*model.Type),
		visiting:  make(map[string]bool),
		forwarded: make(map[string]bool, len(unit.Classes)),
	}
	for _, name := range unit.Classes {
		rs.forwarded[name] = true
	}

	g := newGraph(unit.Path, r.external)
	for _, sym := range unit.Symbols {
		resolved, err := rs.symbol(sym)
		if err != nil {
			return nil, err
		}
		g.add(resolved)
	}
	for _, name := range unit.Classes {
		if _, ok := unit.Lookup(name); !ok {
			g.forward[name] = true
		}
	}

	if len(rs.refs) > 0 {
		return nil, &errors.UnresolvedSymbolError{Unit: unit.Path, Refs: rs.refs}
	}
	if err := g.order(); err != nil {
		return nil, err
	}

	Logger().Debug("resolved unit",
		zap.String("unit", unit.Path),
		zap.Int("symbols", len(g.Symbols)))
	return g, nil
}

// resolution is the state of one Resolve call.
type resolution struct {
	*Resolver
	unit      *model.Unit
	typedefs  map[string]*model.Type // resolved typedef targets
	visiting  map[string]bool
	forwarded map[string]bool
	refs      []errors.Ref
	err       error // first fatal error
}

// scope identifies where a type reference occurs.
type scope struct {
	from  string
	class string // enclosing interface, for instancetype
	loc   model.Location
}

func (rs *resolution) dangling(name string, sc scope) {
	rs.refs = append(rs.refs, errors.Ref{Name: name, From: sc.from, Location: sc.loc})
}

func (rs *resolution) isClass(name string) bool {
	if sym, ok := rs.unit.Lookup(name); ok {
		return sym.Kind == model.SymbolInterface
	}
	return rs.forwarded[name] || rs.external[name]
}

func (rs *resolution) symbol(sym *model.Symbol) (*model.Symbol, error) {
	out := *sym
	sc := scope{from: sym.Name, loc: sym.Loc}

	switch sym.Kind {
	case model.SymbolFunction:
		fn := *sym.Function
		fn.Signature = rs.signature(sym.Function.Signature, sc)
		fn.ReturnsRetained = fn.ReturnsRetained || rs.retained[sym.Name]
		out.Function = &fn

	case model.SymbolStruct, model.SymbolUnion:
		def := *sym.Struct
		def.Fields = make([]model.Field, len(sym.Struct.Fields))
		for i, f := range sym.Struct.Fields {
			f.Type = rs.typ(f.Type, scope{from: sym.Name, loc: f.Loc})
			def.Fields[i] = f
		}
		out.Struct = &def

	case model.SymbolEnum:
		def := *sym.Enum
		def.Values = append([]model.EnumValue(nil), sym.Enum.Values...)
		if def.Underlying != nil {
			def.Underlying = rs.typ(def.Underlying, sc)
		}
		out.Enum = &def

	case model.SymbolTypedef, model.SymbolBlock:
		t, err := rs.typedefTarget(sym)
		if err != nil {
			return nil, err
		}
		out.Typedef = t

	case model.SymbolInterface:
		out.Interface = rs.iface(sym)

	case model.SymbolGlobal:
		out.Global = rs.typ(sym.Global, sc)
	}
	if rs.err != nil {
		return nil, rs.err
	}
	return &out, nil
}

// typedefTarget resolves the aliased type of a typedef once. A chain of
// typedefs that leads back to itself is an error.
func (rs *resolution) typedefTarget(sym *model.Symbol) (*model.Type, error) {
	if t, ok := rs.typedefs[sym.Name]; ok {
		return t, nil
	}
	if rs.visiting[sym.Name] {
		return nil, &errors.ResolveError{Symbol: sym.Name, Detail: "typedef refers to itself"}
	}
	rs.visiting[sym.Name] = true
	defer delete(rs.visiting, sym.Name)

	t := rs.typ(sym.Typedef, scope{from: sym.Name, loc: sym.Loc})
	rs.typedefs[sym.Name] = t
	return t, nil
}

func (rs *resolution) iface(sym *model.Symbol) *model.Interface {
	in := sym.Interface
	out := &model.Interface{
		Super:     in.Super,
		Protocols: in.Protocols,
		Ivars:     in.Ivars,
	}
	if in.Super != "" && !rs.isClass(in.Super) {
		rs.dangling(in.Super, scope{from: sym.Name, loc: sym.Loc})
	}

	for _, m := range in.Methods {
		sc := scope{from: sym.Name, class: sym.Name, loc: m.Loc}
		rm := *m
		rm.Return = rs.typ(m.Return, sc)
		rm.Params = make([]model.MethodParam, len(m.Params))
		for i, p := range m.Params {
			p.Type = rs.typ(p.Type, sc)
			rm.Params[i] = p
		}
		rm.ReturnsRetained = m.ReturnsRetained || (inRetainedFamily(m.Selector) && isRetainable(rm.Return))
		out.Methods = append(out.Methods, &rm)
	}
	for _, p := range in.Properties {
		rp := *p
		rp.Type = rs.typ(p.Type, scope{from: sym.Name, class: sym.Name, loc: p.Loc})
		out.Properties = append(out.Properties, &rp)
	}
	return out
}

func (rs *resolution) signature(sig *model.BlockSignature, sc scope) *model.BlockSignature {
	if sig == nil {
		return nil
	}
	out := &model.BlockSignature{
		Return:   rs.typ(sig.Return, sc),
		Params:   make([]model.Param, len(sig.Params)),
		Variadic: sig.Variadic,
	}
	for i, p := range sig.Params {
		out.Params[i] = model.Param{Name: p.Name, Type: rs.typ(p.Type, sc)}
	}
	return out
}

// typ returns the resolved form of t. Unresolvable names are recorded and
// returned unchanged so that resolution continues.
func (rs *resolution) typ(t *model.Type, sc scope) *model.Type {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case model.KindNamed:
		return rs.named(t, sc)

	case model.KindPointer:
		if t.Elem != nil && t.Elem.Kind == model.KindNamed && rs.isClass(t.Elem.Name) {
			return &model.Type{Kind: model.KindObject, Name: t.Elem.Name, Nullability: t.Nullability}
		}
		out := t.Clone()
		out.Elem = rs.typ(t.Elem, sc)
		return out

	case model.KindArray:
		elem := rs.typ(t.Elem, sc)
		if t.Len > 0 {
			out := t.Clone()
			out.Elem = elem
			return out
		}
		for i := len(t.Dims) - 1; i >= 0; i-- {
			arr := &model.Type{Kind: model.KindArray, Elem: elem, Len: t.Dims[i], Const: t.Const}
			if t.Dims[i] == 0 {
				arr.Dims = []int{0} // flexible
			}
			elem = arr
		}
		return elem

	case model.KindStruct, model.KindUnion, model.KindEnum:
		sym, ok := rs.unit.Lookup(t.Name)
		if !ok || string(sym.Kind) != string(t.Kind) {
			rs.dangling(string(t.Kind)+" "+t.Name, sc)
		}
		return t.Clone()

	case model.KindFunction, model.KindFuncPtr, model.KindBlock:
		out := t.Clone()
		out.Signature = rs.signature(t.Signature, sc)
		return out

	case model.KindObject:
		if t.Name != "" && !rs.isClass(t.Name) {
			rs.dangling(t.Name, sc)
		}
		return t.Clone()
	}
	return t.Clone()
}

func (rs *resolution) named(t *model.Type, sc scope) *model.Type {
	name := t.Name
	switch {
	case name == "instancetype":
		if sc.class == "" {
			rs.dangling(name, sc)
			return t.Clone()
		}
		return &model.Type{Kind: model.KindObject, Name: sc.class, Nullability: t.Nullability}
	case runtimeTypes[name]:
		return &model.Type{
			Kind:        model.KindTypedef,
			Name:        name,
			Elem:        model.PointerTo(model.Void(), model.NullUnspecified),
			Nullability: t.Nullability,
			Const:       t.Const,
		}
	}

	sym, ok := rs.unit.Lookup(name)
	if !ok {
		if rs.forwarded[name] || rs.external[name] {
			return &model.Type{Kind: model.KindObject, Name: name, Nullability: t.Nullability}
		}
		rs.dangling(name, sc)
		return t.Clone()
	}

	switch sym.Kind {
	case model.SymbolTypedef, model.SymbolBlock:
		target, err := rs.typedefTarget(sym)
		if err != nil {
			if rs.err == nil {
				rs.err = err
			}
			return t.Clone()
		}
		return &model.Type{Kind: model.KindTypedef, Name: name, Elem: target, Nullability: t.Nullability, Const: t.Const}
	case model.SymbolStruct:
		return &model.Type{Kind: model.KindStruct, Name: name, Const: t.Const}
	case model.SymbolUnion:
		return &model.Type{Kind: model.KindUnion, Name: name, Const: t.Const}
	case model.SymbolEnum:
		return &model.Type{Kind: model.KindEnum, Name: name, Const: t.Const}
	case model.SymbolInterface:
		return &model.Type{Kind: model.KindObject, Name: name, Nullability: t.Nullability}
	}
	rs.dangling(name, sc)
	return t.Clone()
}

// inRetainedFamily reports whether a selector belongs to a method family
// that returns a +1 reference: the family word followed by nothing, a colon
// or an uppercase letter.
func inRetainedFamily(selector string) bool {
	selector = strings.TrimLeft(selector, "_")
	for _, fam := range retainedFamilies {
		rest, ok := strings.CutPrefix(selector, fam)
		if !ok {
			continue
		}
		if rest == "" || rest[0] == ':' || unicode.IsUpper(rune(rest[0])) {
			return true
		}
	}
	return false
}

// isRetainable reports whether values of t are reference counted.
func isRetainable(t *model.Type) bool {
	switch u := t.Underlying(); {
	case u == nil:
		return false
	case u.Kind == model.KindObject, u.Kind == model.KindBlock:
		return true
	}
	return false
}
