package generator

import (
	"fmt"
	"strconv"

	"ffibind/internal/config"
	"ffibind/internal/errors"
	"ffibind/internal/layout"
	"ffibind/internal/model"
	"ffibind/internal/resolver"
)

// reservedNames are package-level identifiers of the shared runtime file.
var reservedNames = []string{
	"Load", "lib", "loaders", "libraryName", "getLibraryPath",
	"trampoline", "trampolineFunc", "trampolines", "trampolinesMu", "newTrampoline",
	"blockReleaseCallback", "boolArg",
}

// emitter builds the template data of one unit. Symbols that cannot be
// represented are recorded as failures and every symbol referring to them
// is skipped in turn.
type emitter struct {
	*typeMapper
	filter *config.Filter
	unit   string

	failed   map[string]*errors.EmitError // symbols failed in any pass
	changed  bool
	failures []*errors.EmitError
	names    map[string]string // Go identifier -> owning symbol
	frees    map[string]bool   // free functions with a resource helper

	view *unitView
}

func newEmitter(cfg *config.Config, graph *resolver.Graph, calc *layout.Calculator, filter *config.Filter, unit string) *emitter {
	return &emitter{
		typeMapper: newTypeMapper(cfg, graph, calc),
		filter:     filter,
		unit:       unit,
		failed:     make(map[string]*errors.EmitError),
	}
}

// build runs emission passes until no new symbol fails.
func (e *emitter) build() *unitView {
	for _, sym := range e.graph.Symbols {
		if !e.filter.ShouldInclude(sym.Name) {
			e.unavailable[sym.Name] = "is excluded by the symbol filters"
		}
	}
	for {
		e.changed = false
		e.pass()
		if !e.changed {
			return e.view
		}
	}
}

func (e *emitter) pass() {
	e.failures = nil
	e.names = make(map[string]string)
	e.frees = make(map[string]bool)
	e.ffiStructs = make(map[string]bool)
	e.view = &unitView{
		Unit:     e.unit,
		Platform: e.calc.Platform().Name,
	}
	for _, name := range reservedNames {
		e.names[name] = "the runtime"
	}

	// Value types first: later declarations need the ffi descriptors.
	for _, sym := range e.graph.Ordered {
		if !isValueKind(sym.Kind) || e.skip(sym) {
			continue
		}
		var err error
		switch sym.Kind {
		case model.SymbolConstant:
			err = e.constant(sym)
		case model.SymbolEnum:
			err = e.enum(sym)
		case model.SymbolStruct, model.SymbolUnion:
			err = e.record(sym)
		case model.SymbolTypedef:
			err = e.typedef(sym)
		default:
			continue
		}
		if err != nil {
			e.fail(sym.Name, err)
		}
	}

	for _, sym := range e.graph.Ordered {
		if isValueKind(sym.Kind) || e.skip(sym) {
			continue
		}
		var err error
		switch sym.Kind {
		case model.SymbolBlock:
			err = e.block(sym)
		case model.SymbolInterface:
			err = e.class(sym)
		case model.SymbolFunction:
			err = e.function(sym)
		case model.SymbolGlobal:
			err = e.global(sym)
		default:
			continue
		}
		if err != nil {
			e.fail(sym.Name, err)
		}
	}
}

func isValueKind(kind model.SymbolKind) bool {
	switch kind {
	case model.SymbolConstant, model.SymbolEnum, model.SymbolStruct, model.SymbolUnion, model.SymbolTypedef:
		return true
	}
	return false
}

// skip reports whether sym is filtered or failed in an earlier pass. Each
// symbol is visited by one loop of a pass, so a stored failure is recorded
// once.
func (e *emitter) skip(sym *model.Symbol) bool {
	if err, ok := e.failed[sym.Name]; ok {
		e.failures = append(e.failures, err)
		return true
	}
	_, ok := e.unavailable[sym.Name]
	return ok
}

func (e *emitter) fail(symbol string, err error) {
	emitErr := errors.Emitf(symbol, "%v", err)
	e.failures = append(e.failures, emitErr)
	if _, ok := e.failed[symbol]; !ok {
		e.failed[symbol] = emitErr
		e.unavailable[symbol] = "could not be emitted"
		e.changed = true
	}
}

// warn records a failure that does not make the symbol unavailable.
func (e *emitter) warn(symbol string, err error) {
	e.failures = append(e.failures, errors.Emitf(symbol, "%v", err))
}

// claim reserves a package-level Go identifier for symbol.
func (e *emitter) claim(name, symbol string) error {
	if owner, ok := e.names[name]; ok && owner != symbol {
		return fmt.Errorf("Go name %s is already used by %s", name, owner)
	}
	e.names[name] = symbol
	return nil
}

func (e *emitter) claimAll(symbol string, names ...string) error {
	for _, n := range names {
		if err := e.claim(n, symbol); err != nil {
			return err
		}
	}
	return nil
}

func (e *emitter) constant(sym *model.Symbol) error {
	name := goName(sym.Name)
	if err := e.claim(name, sym.Name); err != nil {
		return err
	}
	e.view.Consts = append(e.view.Consts, constView{
		Name:  name,
		Value: strconv.FormatInt(sym.Constant, 10),
		Doc:   sym.Doc,
	})
	return nil
}

func (e *emitter) enum(sym *model.Symbol) error {
	if _, ok := e.cfg.MapType(sym.Name); ok {
		return nil
	}
	name := goName(sym.Name)
	if err := e.claim(name, sym.Name); err != nil {
		return err
	}
	s, ok := e.scalarOf(&model.Type{Kind: model.KindEnum, Name: sym.Name})
	if !ok {
		return fmt.Errorf("enum %s has no integer width", sym.Name)
	}
	goType := fmt.Sprintf("int%d", s.size*8)
	if !s.signed {
		goType = "u" + goType
	}

	ev := enumView{
		Name:   name,
		GoType: goType,
		Doc:    docLines(fmt.Sprintf("%s mirrors %s (%d bytes).", name, e.cType(&model.Type{Kind: model.KindEnum, Name: sym.Name}), s.size), sym.Doc),
	}
	for _, v := range sym.Enum.Values {
		if !fitsWidth(v.Value, s.size, s.signed) {
			return fmt.Errorf("value %s = %d does not fit in %s", v.Name, v.Value, goType)
		}
		vn := goName(v.Name)
		if err := e.claim(vn, sym.Name); err != nil {
			return err
		}
		ev.Values = append(ev.Values, constView{Name: vn, Value: strconv.FormatInt(v.Value, 10)})
	}
	e.view.Enums = append(e.view.Enums, ev)
	return nil
}

// fitsWidth reports whether v is representable in size bytes.
func fitsWidth(v int64, size int, signed bool) bool {
	if size >= 8 {
		return signed || v >= 0
	}
	bits := uint(size * 8)
	if signed {
		limit := int64(1) << (bits - 1)
		return v >= -limit && v < limit
	}
	return v >= 0 && v < int64(1)<<bits
}

func (e *emitter) record(sym *model.Symbol) error {
	if _, ok := e.cfg.MapType(sym.Name); ok {
		return nil
	}
	name := goName(sym.Name)
	if err := e.claim(name, sym.Name); err != nil {
		return err
	}
	if sym.Struct.Opaque {
		e.view.Opaques = append(e.view.Opaques, opaqueView{
			Name: name,
			Doc:  docLines(fmt.Sprintf("%s is the opaque native type %s. Only pointers to it are used.", name, sym.Name), sym.Doc),
		})
		return nil
	}
	l, err := e.calc.Struct(sym.Name)
	if err != nil {
		return err
	}
	if sym.Struct.Union {
		return e.union(sym, name, l)
	}

	sv := structView{
		Name: name,
		Size: l.Size,
		Doc: docLines(fmt.Sprintf("%s mirrors %s (size %d, align %d on %s).",
			name, e.cType(&model.Type{Kind: model.KindStruct, Name: sym.Name}), l.Size, l.Align, e.calc.Platform().Name), sym.Doc),
	}
	fieldNames := map[string]bool{}
	goOff, goAlign := 0, 1
	ffiOK := true
	var ffiElems []string
	for i, f := range sym.Struct.Fields {
		if f.BitWidth != 0 {
			return fmt.Errorf("bit-field %s has no Go representation", f.Name)
		}
		fl, ok := l.Field(f.Name)
		if !ok {
			return fmt.Errorf("no layout for field %s", f.Name)
		}
		base := goName(f.Name)
		if f.Name == "" {
			base = "Field" + strconv.Itoa(i)
		}
		fname := uniqueField(base, fieldNames)

		if isFlexibleArray(f.Type) {
			elem, err := e.baseType(f.Type.ArrayBase(), useField)
			if err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
			sv.Accessors = append(sv.Accessors, accessorView{Name: fname, CName: f.Name, Type: elem, Offset: fl.Offset})
			ffiOK = false
			continue
		}

		ft, err := e.baseType(f.Type, useField)
		if err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
		align := e.goAlign(f.Type)
		goAlign = max(goAlign, align)
		goOff = roundUp(goOff, align)
		if fl.Offset < goOff {
			return fmt.Errorf("field %s is at offset %d but Go places it at %d", f.Name, fl.Offset, goOff)
		}
		if fl.Offset > goOff {
			sv.Fields = append(sv.Fields, fieldView{Name: "_", Type: fmt.Sprintf("[%d]byte", fl.Offset-goOff)})
		}
		sv.Fields = append(sv.Fields, fieldView{
			Name:    fname,
			Type:    ft,
			Comment: fmt.Sprintf("offset %d, size %d", fl.Offset, fl.Size),
		})
		sv.Offsets = append(sv.Offsets, offsetView{Name: fname, Offset: fl.Offset})
		goOff = fl.Offset + fl.Size

		if ffiOK {
			elems, err := e.ffiElements(f.Type)
			if err != nil {
				ffiOK = false
				continue
			}
			ffiElems = append(ffiElems, elems...)
		}
	}
	if l.Size > roundUp(goOff, goAlign) {
		sv.Fields = append(sv.Fields, fieldView{Name: "_", Type: fmt.Sprintf("[%d]byte", l.Size-goOff)})
		goOff = l.Size
	}
	if goSize := roundUp(goOff, goAlign); goSize != l.Size {
		return fmt.Errorf("Go pads %s to %d bytes but its C size is %d", sym.Name, goSize, l.Size)
	}

	if ffiOK && len(ffiElems) > 0 {
		if err := e.claim("FFIType"+name, sym.Name); err != nil {
			return err
		}
		sv.FFI = ffiElems
		e.ffiStructs[sym.Name] = true
	}
	e.view.Structs = append(e.view.Structs, sv)
	return nil
}

// union emits a byte buffer sized like the union with one accessor per
// member.
func (e *emitter) union(sym *model.Symbol, name string, l layout.StructLayout) error {
	sv := structView{
		Name:  name,
		Size:  l.Size,
		Union: true,
		Doc: docLines(fmt.Sprintf("%s mirrors %s (size %d, align %d on %s). Members are read through accessors.",
			name, e.cType(&model.Type{Kind: model.KindUnion, Name: sym.Name}), l.Size, l.Align, e.calc.Platform().Name), sym.Doc),
	}
	align := min(l.Align, e.calc.Platform().PointerSize)
	if align > 1 {
		sv.Fields = append(sv.Fields, fieldView{Name: "_", Type: fmt.Sprintf("[0]uint%d", align*8)})
	}
	sv.Fields = append(sv.Fields, fieldView{Name: "raw", Type: fmt.Sprintf("[%d]byte", l.Size)})

	methods := map[string]bool{}
	for i, f := range sym.Struct.Fields {
		if f.BitWidth != 0 {
			return fmt.Errorf("bit-field %s has no Go representation", f.Name)
		}
		ft, err := e.baseType(f.Type, useField)
		if err != nil {
			return fmt.Errorf("member %s: %w", f.Name, err)
		}
		mname := goName(f.Name)
		if f.Name == "" {
			mname = "Member" + strconv.Itoa(i)
		}
		sv.Accessors = append(sv.Accessors, accessorView{Name: uniqueField(mname, methods), CName: f.Name, Type: ft})
	}
	e.view.Structs = append(e.view.Structs, sv)
	return nil
}

func isFlexibleArray(t *model.Type) bool {
	if t.Kind != model.KindArray {
		return false
	}
	if t.Len > 0 {
		return false
	}
	return len(t.Dims) > 0 && t.Dims[0] == 0
}

func uniqueField(name string, seen map[string]bool) string {
	n := name
	for seen[n] {
		n += "_"
	}
	seen[n] = true
	return n
}

func roundUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

func (e *emitter) typedef(sym *model.Symbol) error {
	if _, ok := e.cfg.MapType(sym.Name); ok {
		return nil
	}
	name := goName(sym.Name)
	if err := e.claim(name, sym.Name); err != nil {
		return err
	}
	target := sym.Typedef
	av := aliasView{Name: name, Doc: docLines(fmt.Sprintf("%s is the C typedef %s.", name, sym.Name), sym.Doc)}
	if target.Underlying().Kind == model.KindFuncPtr {
		av.Defined = true
		av.Target = "uintptr"
		av.Doc = docLines(fmt.Sprintf("%s is the function pointer type %s.", name, target.Underlying()), sym.Doc)
		e.view.Aliases = append(e.view.Aliases, av)
		return nil
	}
	gt, err := e.baseType(target, useField)
	if err != nil {
		return err
	}
	av.Target = gt
	e.view.Aliases = append(e.view.Aliases, av)
	return nil
}

func (e *emitter) global(sym *model.Symbol) error {
	name := goName(sym.Name)
	if err := e.claim(name, sym.Name); err != nil {
		return err
	}
	gt, err := e.baseType(sym.Global, useField)
	if err != nil {
		return err
	}
	e.view.Globals = append(e.view.Globals, wrapperView{
		Doc:       docLines(fmt.Sprintf("%s returns the address of the native global %s.", name, sym.Name), sym.Doc),
		Name:      name,
		Signature: fmt.Sprintf("() (*%s, error)", gt),
		Body: []string{
			fmt.Sprintf("ptr, err := lib.Get(%q)", sym.Name),
			"if err != nil {",
			fmt.Sprintf("return nil, fmt.Errorf(\"%s: %%w\", err)", sym.Name),
			"}",
			fmt.Sprintf("return (*%s)(*(*unsafe.Pointer)(unsafe.Pointer(&ptr))), nil", gt),
		},
	})
	return nil
}

// docLines joins a generated summary line with the header documentation.
func docLines(summary, doc string, extra ...string) string {
	out := summary
	if doc != "" {
		out += "\n\n" + doc
	}
	for _, x := range extra {
		out += "\n\n" + x
	}
	return out
}
