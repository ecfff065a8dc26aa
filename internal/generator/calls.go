package generator

import (
	"fmt"
	"strconv"
	"strings"

	"ffibind/internal/model"
)

const (
	retainedDoc = "The result is a retained object; the caller must Release it."
	ownedDoc    = "The caller owns the result and must free it."
)

// paramIn is one native parameter.
type paramIn struct {
	name string
	typ  *model.Type
}

// callSite is the Go side of one native call: how Go arguments become
// native ones and how the native result comes back.
type callSite struct {
	params    []string // "name Type"
	prologue  []string
	args      []string // unsafe.Pointer expressions
	ffiParams []string
	encParams []string
	result    string // Go result type, "" for void
	resultVar string
	ffiReturn string
	retEnc    string
	convert   string // Go expression of the result
}

// scope hands out unique local names.
type scope map[string]bool

func newScope(reserved ...string) scope {
	s := scope{}
	for _, r := range reserved {
		s[r] = true
	}
	return s
}

func (s scope) add(name string) string {
	n := name
	for i := 2; s[n]; i++ {
		n = name + strconv.Itoa(i)
	}
	s[n] = true
	return n
}

// isWrapper reports whether t is passed as a Go wrapper with a Ptr method.
func isWrapper(t *model.Type) bool {
	u := t.Underlying()
	return u != nil && (u.Kind == model.KindObject || u.Kind == model.KindBlock)
}

// wrapCtor returns the constructor turning a raw pointer into the Go
// wrapper of t.
func (m *typeMapper) wrapCtor(t *model.Type) string {
	for cur := t; cur != nil && cur.Kind == model.KindTypedef; cur = cur.Elem {
		if sym, ok := m.graph.Lookup(cur.Name); ok && sym.Kind == model.SymbolBlock {
			return goName(cur.Name) + "At"
		}
	}
	u := t.Underlying()
	if u.Kind == model.KindObject && u.Name != "" {
		if sym, ok := m.graph.Lookup(u.Name); ok && sym.Kind == model.SymbolInterface {
			return goName(u.Name) + "At"
		}
	}
	return "bridge.ObjectAt"
}

// buildCall converts a native signature. message selects the Objective-C
// message path, which needs encodings instead of ffi descriptors and gets
// results at their exact size.
func (e *emitter) buildCall(sc scope, in []paramIn, ret *model.Type, retained, message bool) (*callSite, error) {
	cs := &callSite{}
	for i, p := range in {
		name := sc.add(localName(p.name, i))
		gt, err := e.goType(p.typ, useParam)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		cs.params = append(cs.params, name+" "+gt)

		arg := name
		switch {
		case isCString(p.typ):
			arg = sc.add(name + "C")
			cs.prologue = append(cs.prologue, fmt.Sprintf("%s := bridge.CString(%s)", arg, name))
		case isWrapper(p.typ) && isNullableRef(p.typ):
			v := sc.add(name + "V")
			arg = sc.add(name + "P")
			cs.prologue = append(cs.prologue,
				fmt.Sprintf("%s, _ := %s.Get()", v, name),
				fmt.Sprintf("%s := %s.Ptr()", arg, v))
		case isWrapper(p.typ):
			arg = sc.add(name + "P")
			cs.prologue = append(cs.prologue, fmt.Sprintf("%s := %s.Ptr()", arg, name))
		case isNullableRef(p.typ):
			arg = sc.add(name + "P")
			cs.prologue = append(cs.prologue, fmt.Sprintf("%s, _ := %s.Get()", arg, name))
		}
		cs.args = append(cs.args, "unsafe.Pointer(&"+arg+")")

		if message {
			cs.encParams = append(cs.encParams, e.objcEncoding(p.typ))
			continue
		}
		ft, err := e.ffiType(p.typ)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		cs.ffiParams = append(cs.ffiParams, ft)
	}

	if err := e.buildResult(cs, ret, retained, message); err != nil {
		return nil, fmt.Errorf("result: %w", err)
	}
	return cs, nil
}

func (e *emitter) buildResult(cs *callSite, ret *model.Type, retained, message bool) error {
	cs.ffiReturn = "&ffi.TypeVoid"
	cs.retEnc = "v"
	if ret == nil || ret.Underlying().Kind == model.KindVoid {
		return nil
	}
	if message {
		cs.retEnc = e.objcEncoding(ret)
	} else {
		ft, err := e.ffiType(ret)
		if err != nil {
			return err
		}
		cs.ffiReturn = ft
	}

	gt, err := e.goType(ret, useReturn)
	if err != nil {
		return err
	}
	base, err := e.baseType(ret, useReturn)
	if err != nil {
		return err
	}
	cs.result = gt

	switch {
	case isCString(ret):
		cs.resultVar = "var result *byte"
		cs.convert = "bridge.GoString(result)"

	case isWrapper(ret):
		cs.resultVar = "var result uintptr"
		ctor := e.wrapCtor(ret)
		object := ret.Underlying().Kind == model.KindObject
		switch {
		case retained && object && isNullableRef(ret):
			elem := "bridge.Retained[" + base + "]"
			cs.result = "bridge.Nullable[" + elem + "]"
			cs.convert = fmt.Sprintf("bridge.FromPtr(result, func(p uintptr) %s { return bridge.Retain(%s(p)) })", elem, ctor)
		case retained && object:
			cs.result = "bridge.Retained[" + base + "]"
			cs.convert = fmt.Sprintf("bridge.Retain(%s(result))", ctor)
		case isNullableRef(ret):
			cs.convert = fmt.Sprintf("bridge.FromPtr(result, %s)", ctor)
		default:
			cs.convert = ctor + "(result)"
		}

	case isNullableRef(ret):
		cs.resultVar = "var result " + base
		cs.convert = "bridge.NonZero(result)"

	default:
		if s, ok := e.scalarOf(ret); ok && !message && !s.float && s.size < 8 {
			cs.resultVar = "var result ffi.Arg"
			if gt == "bool" {
				cs.convert = "result != 0"
			} else {
				cs.convert = gt + "(result)"
			}
			return nil
		}
		cs.resultVar = "var result " + gt
		cs.convert = "result"
	}
	return nil
}

// ffiCall renders the call of a prepared native function.
func (cs *callSite) ffiCall(fnVar string, lead ...string) string {
	args := append(append([]string{}, lead...), cs.args...)
	ret := "nil"
	if cs.resultVar != "" {
		ret = "unsafe.Pointer(&result)"
	}
	return fmt.Sprintf("%s.Call(%s)", fnVar, strings.Join(append([]string{ret}, args...), ", "))
}

func (cs *callSite) signature(extra ...string) string {
	params := "(" + strings.Join(append(append([]string{}, cs.params...), extra...), ", ") + ")"
	if cs.result == "" {
		return params
	}
	return params + " " + cs.result
}

// function emits the binding of a C function and, when configured, its
// finalizer-wrapped variant.
func (e *emitter) function(sym *model.Symbol) error {
	fn := sym.Function
	switch {
	case fn.Static:
		return fmt.Errorf("static function has no exported symbol")
	case fn.Signature.Variadic:
		return fmt.Errorf("variadic functions cannot be called through libffi")
	}
	name := goName(sym.Name)
	fnVar := camelCase(sym.Name) + "Func"
	if err := e.claimAll(sym.Name, name, fnVar); err != nil {
		return err
	}

	retained := fn.ReturnsRetained || e.cfg.IsRetained(sym.Name)
	in := make([]paramIn, len(fn.Signature.Params))
	for i, p := range fn.Signature.Params {
		in[i] = paramIn{name: p.Name, typ: p.Type}
	}
	cs, err := e.buildCall(newScope("result"), in, fn.Signature.Return, retained, false)
	if err != nil {
		return err
	}

	e.view.Natives = append(e.view.Natives, nativeView{
		Var:   fnVar,
		CName: sym.Name,
		FFI:   append([]string{cs.ffiReturn}, cs.ffiParams...),
	})

	var extra []string
	switch {
	case !retained || cs.result == "":
	case isWrapper(fn.Signature.Return):
		extra = append(extra, retainedDoc)
	default:
		extra = append(extra, ownedDoc)
	}
	body := append([]string{}, cs.prologue...)
	if cs.resultVar != "" {
		body = append(body, cs.resultVar)
	}
	body = append(body, cs.ffiCall(fnVar))
	if cs.convert != "" {
		body = append(body, "return "+cs.convert)
	}
	e.view.Funcs = append(e.view.Funcs, wrapperView{
		Doc:       docLines(fmt.Sprintf("%s calls %s.", name, sym.Name), sym.Doc, extra...),
		Name:      name,
		Signature: cs.signature(),
		Body:      body,
	})

	if free, ok := e.cfg.Finalizer(sym.Name); ok {
		if err := e.resource(sym, free, in); err != nil {
			e.warn(sym.Name, fmt.Errorf("finalizer wrapper: %w", err))
		}
	}
	return nil
}

// resource emits <Name>Resource, which hands the allocated pointer to a
// bridge.Resource freed by free.
func (e *emitter) resource(sym *model.Symbol, free string, in []paramIn) error {
	ret := sym.Function.Signature.Return
	if u := ret.Underlying(); u.Kind != model.KindPointer && u.Kind != model.KindObject {
		return fmt.Errorf("%s does not return a pointer", sym.Name)
	}
	freeSym, ok := e.graph.Lookup(free)
	if !ok || freeSym.Kind != model.SymbolFunction {
		return fmt.Errorf("free function %s is not declared", free)
	}
	if err := e.available(free); err != nil {
		return err
	}
	sig := freeSym.Function.Signature
	if len(sig.Params) != 1 {
		return fmt.Errorf("free function %s must take exactly one parameter", free)
	}
	if u := sig.Params[0].Type.Underlying(); u.Kind != model.KindPointer && u.Kind != model.KindObject {
		return fmt.Errorf("free function %s must take a pointer", free)
	}

	helper := camelCase(free) + "Resource"
	if !e.frees[free] {
		body, err := e.freeBody(free, sig.Return)
		if err != nil {
			return err
		}
		if err := e.claim(helper, free); err != nil {
			return err
		}
		e.frees[free] = true
		e.view.Funcs = append(e.view.Funcs, wrapperView{
			Doc:       fmt.Sprintf("%s frees a resource with %s.", helper, free),
			Name:      helper,
			Signature: "(ptr uintptr) error",
			Body:      body,
		})
	}

	name := goName(sym.Name) + "Resource"
	if err := e.claim(name, sym.Name); err != nil {
		return err
	}
	cs, err := e.buildCall(newScope("result", "onError"), in, nil, false, false)
	if err != nil {
		return err
	}
	body := append([]string{}, cs.prologue...)
	body = append(body,
		"var result unsafe.Pointer",
		fmt.Sprintf("%s.Call(%s)", camelCase(sym.Name)+"Func", strings.Join(append([]string{"unsafe.Pointer(&result)"}, cs.args...), ", ")),
		"if result == nil {",
		"return nil",
		"}",
		fmt.Sprintf("return bridge.NewResource(uintptr(result), %s, onError)", helper),
	)
	e.view.Funcs = append(e.view.Funcs, wrapperView{
		Doc: fmt.Sprintf("%s calls %s and frees the result with %s once the resource\n"+
			"is closed or unreachable. onError receives a failed free and may be nil.", name, sym.Name, free),
		Name:      name,
		Signature: "(" + strings.Join(append(cs.params, "onError func(error)"), ", ") + ") *bridge.Resource",
		Body:      body,
	})
	return nil
}

func (e *emitter) freeBody(free string, ret *model.Type) ([]string, error) {
	fnVar := camelCase(free) + "Func"
	body := []string{"arg := ptr"}
	if ret == nil || ret.Underlying().Kind == model.KindVoid {
		return append(body,
			fnVar+".Call(nil, unsafe.Pointer(&arg))",
			"return nil",
		), nil
	}
	s, ok := e.scalarOf(ret)
	if !ok || s.float {
		return nil, fmt.Errorf("free function %s must return void or an integer status", free)
	}
	conv := "int64(result)"
	if s.signed && s.size < 8 {
		conv = fmt.Sprintf("int%d(result)", s.size*8)
	}
	return append(body,
		"var result ffi.Arg",
		fnVar+".Call(unsafe.Pointer(&result), unsafe.Pointer(&arg))",
		"if result != 0 {",
		fmt.Sprintf("return fmt.Errorf(\"%s returned %%d\", %s)", free, conv),
		"}",
		"return nil",
	), nil
}

// skippedSelectors are memory management methods handled by bridge.Object.
var skippedSelectors = map[string]bool{
	"dealloc":     true,
	"retain":      true,
	"release":     true,
	"autorelease": true,
}

// class emits the wrapper of an Objective-C interface. Methods that cannot
// be represented are reported individually; the class itself still emits.
func (e *emitter) class(sym *model.Symbol) error {
	iface := sym.Interface
	name := goName(sym.Name)
	if err := e.claimAll(sym.Name, name, name+"At"); err != nil {
		return err
	}
	cv := classView{
		Name:      name,
		CName:     sym.Name,
		Doc:       docLines(fmt.Sprintf("%s wraps the Objective-C class %s.", name, sym.Name), sym.Doc),
		Embed:     "bridge.Object",
		EmbedCtor: "bridge.ObjectAt",
	}
	if super, ok := e.graph.Lookup(iface.Super); ok && super.Kind == model.SymbolInterface && e.available(iface.Super) == nil {
		cv.Embed = goName(iface.Super)
		cv.EmbedCtor = cv.Embed + "At"
	}

	embedField := cv.Embed[strings.LastIndex(cv.Embed, ".")+1:]
	methodNames := map[string]bool{"Ptr": true, "IsNil": true, "Release": true, embedField: true}
	declared := map[string]bool{}

	for _, m := range iface.Methods {
		if skippedSelectors[m.Selector] && !m.ClassMethod {
			continue
		}
		declared[selectorKey(m.Selector, m.ClassMethod)] = true
		w, err := e.method(sym.Name, m, selectorName(m.Selector), methodNames)
		if err != nil {
			e.warn(methodSymbol(sym.Name, m.Selector, m.ClassMethod), err)
			continue
		}
		if m.ClassMethod {
			e.view.Funcs = append(e.view.Funcs, w)
			continue
		}
		cv.Methods = append(cv.Methods, w)
	}

	for _, p := range iface.Properties {
		for _, m := range propertyMethods(p) {
			if declared[selectorKey(m.Selector, m.ClassMethod)] {
				continue
			}
			declared[selectorKey(m.Selector, m.ClassMethod)] = true
			goMethod := goName(p.Name)
			if len(m.Params) > 0 {
				goMethod = "Set" + goMethod
			}
			w, err := e.method(sym.Name, m, goMethod, methodNames)
			if err != nil {
				e.warn(methodSymbol(sym.Name, m.Selector, m.ClassMethod), err)
				continue
			}
			if m.ClassMethod {
				e.view.Funcs = append(e.view.Funcs, w)
				continue
			}
			cv.Methods = append(cv.Methods, w)
		}
	}

	e.view.Classes = append(e.view.Classes, cv)
	return nil
}

func selectorKey(selector string, class bool) string {
	if class {
		return "+" + selector
	}
	return "-" + selector
}

// methodSymbol names a method in failure reports, as in -[NSView frame].
func methodSymbol(class, selector string, classMethod bool) string {
	kind := "-"
	if classMethod {
		kind = "+"
	}
	return fmt.Sprintf("%s[%s %s]", kind, class, selector)
}

// propertyMethods returns the accessor methods a property declares.
func propertyMethods(p *model.Property) []*model.Method {
	getter := p.Getter
	if getter == "" {
		getter = p.Name
	}
	out := []*model.Method{{Selector: getter, ClassMethod: p.Class, Return: p.Type, Loc: p.Loc}}
	if p.ReadOnly {
		return out
	}
	setter := p.Setter
	if setter == "" {
		setter = "set" + strings.ToUpper(p.Name[:1]) + p.Name[1:] + ":"
	}
	return append(out, &model.Method{
		Selector:    setter,
		ClassMethod: p.Class,
		Return:      model.Void(),
		Params:      []model.MethodParam{{Keyword: strings.TrimSuffix(setter, ":"), Name: "value", Type: p.Type}},
		Loc:         p.Loc,
	})
}

// method emits one message send. Instance methods become methods of the
// class wrapper; class methods become package functions prefixed with the
// class name.
func (e *emitter) method(class string, m *model.Method, goMethod string, taken map[string]bool) (wrapperView, error) {
	if m.Variadic {
		return wrapperView{}, fmt.Errorf("variadic methods cannot be sent through the messenger")
	}
	className := goName(class)

	var w wrapperView
	receiver := "Receiver: obj.Ptr(),"
	if m.ClassMethod {
		w.Name = className + goMethod
		if err := e.claim(w.Name, methodSymbol(class, m.Selector, true)); err != nil {
			return wrapperView{}, err
		}
		receiver = fmt.Sprintf("Class: %q,", class)
	} else {
		w.Name = uniqueField(goMethod, taken)
		w.Receiver = "(obj " + className + ") "
	}

	in := make([]paramIn, len(m.Params))
	for i, p := range m.Params {
		in[i] = paramIn{name: p.Name, typ: p.Type}
	}
	cs, err := e.buildCall(newScope("result", "err", "obj"), in, m.Return, m.ReturnsRetained, true)
	if err != nil {
		return wrapperView{}, err
	}

	var extra []string
	if m.ReturnsRetained && cs.result != "" {
		extra = append(extra, retainedDoc)
	}
	w.Doc = docLines(fmt.Sprintf("%s sends %s.", w.Name, methodSymbol(class, m.Selector, m.ClassMethod)), m.Doc, extra...)

	body := append([]string{}, cs.prologue...)
	if cs.resultVar != "" {
		body = append(body, cs.resultVar)
	}
	body = append(body,
		"err := bridge.Send(bridge.Message{",
		receiver,
		fmt.Sprintf("Selector: %q,", m.Selector),
		fmt.Sprintf("Types: %q,", cs.retEnc+"@:"+strings.Join(cs.encParams, "")),
	)
	if cs.resultVar != "" {
		body = append(body, "Return: unsafe.Pointer(&result),")
	}
	if len(cs.args) > 0 {
		body = append(body, "Args: []unsafe.Pointer{"+strings.Join(cs.args, ", ")+"},")
	}
	body = append(body, "})")

	params := "(" + strings.Join(cs.params, ", ") + ")"
	if cs.result == "" {
		w.Signature = params + " error"
		body = append(body, "return err")
	} else {
		w.Signature = fmt.Sprintf("%s (%s, error)", params, cs.result)
		body = append(body, "return "+cs.convert+", err")
	}
	w.Body = body
	return w, nil
}
