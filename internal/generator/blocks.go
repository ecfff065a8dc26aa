package generator

import (
	"fmt"
	"strconv"
	"strings"

	"ffibind/internal/model"
)

// block emits the Go side of a block typedef: the Go function type, the
// block wrapper with its constructor and Call method, and the trampoline
// native code calls with the closure handle as context.
func (e *emitter) block(sym *model.Symbol) error {
	sig := sym.Typedef.Underlying().Signature
	if sig == nil {
		return fmt.Errorf("block typedef %s has no signature", sym.Name)
	}
	if sig.Variadic {
		return fmt.Errorf("variadic blocks cannot be called through libffi")
	}

	name := goName(sym.Name)
	funcType := name + "Func"
	tramp := camelCase(sym.Name) + "Trampoline"
	newVar := "ffibindNew" + name + "Func"
	callVar := "ffibindCall" + name + "Func"
	if err := e.claimAll(sym.Name, name, name+"At", funcType, "New"+name, tramp, newVar, callVar); err != nil {
		return err
	}

	in := make([]paramIn, len(sig.Params))
	for i, p := range sig.Params {
		in[i] = paramIn{name: p.Name, typ: p.Type}
	}
	cs, err := e.buildCall(newScope("blk", "self", "result"), in, sig.Return, false, false)
	if err != nil {
		return err
	}
	listener := sig.IsListener()

	trampoline, err := e.trampoline(sym.Name, tramp, funcType, in, sig.Return, cs, listener)
	if err != nil {
		return err
	}

	bv := blockView{
		Name:       name,
		CName:      sym.Name,
		Doc:        docLines(fmt.Sprintf("%s is a native %s block.", name, sym.Name), sym.Doc),
		FuncType:   "func" + cs.signature(),
		Listener:   listener,
		Trampoline: trampoline,
	}

	ctorDoc := fmt.Sprintf("New%s creates a native %s block backed by fn. The block is\n"+
		"returned retained and fn is released when the block is destroyed.", name, sym.Name)
	ctorSig := fmt.Sprintf("(fn %s) %s", funcType, name)
	register := "c := bridge.Register(fn, nil, bridge.InlineMode)"
	if listener {
		ctorDoc += "\nCalls from any other execution context are queued on owner."
		ctorSig = fmt.Sprintf("(owner *bridge.Executor, fn %s) %s", funcType, name)
		register = "c := bridge.Register(fn, owner, bridge.ListenerMode)"
	}
	bv.Wrappers = append(bv.Wrappers, wrapperView{
		Doc:       ctorDoc,
		Name:      "New" + name,
		Signature: ctorSig,
		Body: []string{
			register,
			fmt.Sprintf("code := %s()", tramp),
			"h := c.Handle()",
			"release := blockReleaseCallback()",
			"var result uintptr",
			newVar + ".Call(unsafe.Pointer(&result), unsafe.Pointer(&code), unsafe.Pointer(&h), unsafe.Pointer(&release))",
			fmt.Sprintf("return %sAt(result)", name),
		},
	})

	body := append([]string{}, cs.prologue...)
	body = append(body, "self := blk.Ptr()")
	if cs.resultVar != "" {
		body = append(body, cs.resultVar)
	}
	body = append(body, cs.ffiCall(callVar, "unsafe.Pointer(&self)"))
	if cs.convert != "" {
		body = append(body, "return "+cs.convert)
	}
	bv.Wrappers = append(bv.Wrappers, wrapperView{
		Doc:       "Call invokes the block on the calling goroutine.",
		Receiver:  "(blk " + name + ") ",
		Name:      "Call",
		Signature: cs.signature(),
		Body:      body,
	})
	e.view.Blocks = append(e.view.Blocks, bv)

	e.view.BlockNatives = append(e.view.BlockNatives,
		nativeView{
			Var:   newVar,
			CName: "ffibind_new_" + sym.Name,
			FFI:   []string{"&ffi.TypePointer", "&ffi.TypePointer", "&ffi.TypePointer", "&ffi.TypePointer"},
		},
		nativeView{
			Var:   callVar,
			CName: "ffibind_call_" + sym.Name,
			FFI:   append([]string{cs.ffiReturn, "&ffi.TypePointer"}, cs.ffiParams...),
		},
	)
	e.view.Shims = append(e.view.Shims, e.shim(sym.Name, sig, listener))
	return nil
}

// trampoline renders the lazily created libffi closure of a block type.
// Arguments are copied out of native memory before delivery, since a
// queued listener call runs after the native frame is gone. Listener shims
// pass object and block arguments retained; the trampoline releases them
// once the Go function returns or delivery fails.
func (e *emitter) trampoline(block, varName, funcType string, in []paramIn, ret *model.Type, cs *callSite, listener bool) ([]string, error) {
	var locals, reads, releases []string
	for i, p := range in {
		local := "arg" + strconv.Itoa(i)
		src := fmt.Sprintf("args[%d]", i+1)
		locals = append(locals, local)
		if listener && isWrapper(p.typ) {
			ref := "ref" + strconv.Itoa(i)
			reads = append(reads,
				fmt.Sprintf("%s := *(*uintptr)(%s)", ref, src),
				local+" := "+e.wrapperFrom(p.typ, ref))
			releases = append(releases, fmt.Sprintf("bridge.ObjectAt(%s).Release()", ref))
			continue
		}
		read, err := e.fromNative(p.typ, src)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", p.name, err)
		}
		reads = append(reads, local+" := "+read)
	}
	invoke := fmt.Sprintf("fn.(%s)(%s)", funcType, strings.Join(locals, ", "))

	var deliver []string
	for _, r := range releases {
		deliver = append(deliver, "defer "+r)
	}
	if ret == nil || ret.Underlying().Kind == model.KindVoid {
		deliver = append(deliver, invoke)
	} else {
		store, err := e.toNative(ret, "v", "ret")
		if err != nil {
			return nil, fmt.Errorf("result: %w", err)
		}
		deliver = append(deliver, "v := "+invoke)
		deliver = append(deliver, store...)
	}

	lines := []string{
		fmt.Sprintf("var %s = sync.OnceValue(func() uintptr {", varName),
		fmt.Sprintf("return newTrampoline(%s, []*ffi.Type{%s}, func(ret unsafe.Pointer, args []unsafe.Pointer) {",
			cs.ffiReturn, strings.Join(append([]string{"&ffi.TypePointer"}, cs.ffiParams...), ", ")),
		"h := *(*bridge.Handle)(args[0])",
	}
	lines = append(lines, reads...)
	lines = append(lines, "err := bridge.Invoke(context.Background(), h, func(fn any) {")
	lines = append(lines, deliver...)
	lines = append(lines, "})", "if err != nil {")
	lines = append(lines, releases...)
	lines = append(lines,
		fmt.Sprintf("bridge.ReportDeliveryError(%q, err)", block),
		"}",
		"})",
		"})",
	)
	return lines, nil
}

// wrapperFrom returns the Go wrapper of t around the raw pointer ptr.
func (e *emitter) wrapperFrom(t *model.Type, ptr string) string {
	if isNullableRef(t) {
		return fmt.Sprintf("bridge.FromPtr(%s, %s)", ptr, e.wrapCtor(t))
	}
	return fmt.Sprintf("%s(%s)", e.wrapCtor(t), ptr)
}

// fromNative returns the Go expression reading a value of type t from the
// native argument slot src.
func (e *emitter) fromNative(t *model.Type, src string) (string, error) {
	gt, err := e.goType(t, useParam)
	if err != nil {
		return "", err
	}
	switch {
	case isCString(t):
		return fmt.Sprintf("bridge.GoString(*(**byte)(%s))", src), nil
	case isWrapper(t):
		return e.wrapperFrom(t, fmt.Sprintf("*(*uintptr)(%s)", src)), nil
	case isNullableRef(t):
		base, err := e.baseType(t, useParam)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("bridge.NonZero(*(*%s)(%s))", base, src), nil
	}
	return fmt.Sprintf("*(*%s)(%s)", gt, src), nil
}

// toNative returns the statements storing the Go value v of type t into
// the native result slot dst.
func (e *emitter) toNative(t *model.Type, v, dst string) ([]string, error) {
	gt, err := e.goType(t, useReturn)
	if err != nil {
		return nil, err
	}
	switch {
	case isCString(t):
		return nil, fmt.Errorf("a C string result cannot be produced from Go memory")
	case isWrapper(t) && isNullableRef(t):
		return []string{
			fmt.Sprintf("p, _ := %s.Get()", v),
			fmt.Sprintf("*(*uintptr)(%s) = p.Ptr()", dst),
		}, nil
	case isWrapper(t):
		return []string{fmt.Sprintf("*(*uintptr)(%s) = %s.Ptr()", dst, v)}, nil
	case isNullableRef(t):
		base, err := e.baseType(t, useReturn)
		if err != nil {
			return nil, err
		}
		return []string{
			fmt.Sprintf("p, _ := %s.Get()", v),
			fmt.Sprintf("*(*%s)(%s) = p", base, dst),
		}, nil
	}
	// libffi widens integer results to a full ffi_arg.
	if s, ok := e.scalarOf(t); ok && !s.float && s.size < 8 {
		if gt == "bool" {
			return []string{fmt.Sprintf("*(*ffi.Arg)(%s) = boolArg(%s)", dst, v)}, nil
		}
		return []string{fmt.Sprintf("*(*ffi.Arg)(%s) = ffi.Arg(%s)", dst, v)}, nil
	}
	return []string{fmt.Sprintf("*(*%s)(%s) = %s", gt, dst, v)}, nil
}

// shim describes the Objective-C functions that build and call a block.
// A listener block hands object and block arguments to Go retained, so they
// outlive a queued delivery.
func (e *emitter) shim(block string, sig *model.BlockSignature, listener bool) shimView {
	sv := shimView{Block: block, Ret: e.cType(sig.Return)}
	sv.Returns = sig.Return != nil && sig.Return.Underlying().Kind != model.KindVoid
	if !sv.Returns {
		sv.Ret = "void"
	}
	var fnTypes, types, params, args, passed []string
	for i, p := range sig.Params {
		ct := e.cType(p.Type)
		arg := "a" + strconv.Itoa(i)
		types = append(types, ct)
		params = append(params, cDecl(ct, arg))
		args = append(args, arg)
		switch {
		case listener && p.Type.Underlying().Kind == model.KindBlock:
			fnTypes = append(fnTypes, "void *")
			passed = append(passed, fmt.Sprintf("(__bridge_retained void *)[%s copy]", arg))
		case listener && isWrapper(p.Type):
			fnTypes = append(fnTypes, "void *")
			passed = append(passed, fmt.Sprintf("(__bridge_retained void *)%s", arg))
		default:
			fnTypes = append(fnTypes, ct)
			passed = append(passed, arg)
		}
	}
	sv.Params = "void"
	if len(params) > 0 {
		sv.Params = strings.Join(params, ", ")
		sv.FnParams = ", " + strings.Join(fnTypes, ", ")
		sv.ParamsTail = ", " + strings.Join(params, ", ")
		sv.Args = ", " + strings.Join(passed, ", ")
		sv.ArgList = strings.Join(args, ", ")
	}
	return sv
}

// cDecl declares name with the C type ct.
func cDecl(ct, name string) string {
	if strings.HasSuffix(ct, "*") {
		return ct + name
	}
	return ct + " " + name
}
