package generator

import (
	"fmt"
	"strings"

	"ffibind/internal/config"
	"ffibind/internal/layout"
	"ffibind/internal/model"
	"ffibind/internal/resolver"
)

// usage is the position a type appears in.
type usage int

const (
	useField usage = iota
	useParam
	useReturn
)

func (u usage) String() string {
	switch u {
	case useParam:
		return "parameter"
	case useReturn:
		return "return value"
	}
	return "field"
}

// typeMapper maps resolved C types to Go, ffi, Objective-C and C spellings
// for one graph and host platform.
type typeMapper struct {
	cfg   *config.Config
	graph *resolver.Graph
	calc  *layout.Calculator

	// unavailable maps symbols without a Go declaration to the reason.
	unavailable map[string]string
	// ffiStructs lists the structs that have an FFIType variable.
	ffiStructs map[string]bool
}

func newTypeMapper(cfg *config.Config, graph *resolver.Graph, calc *layout.Calculator) *typeMapper {
	return &typeMapper{
		cfg:         cfg,
		graph:       graph,
		calc:        calc,
		unavailable: make(map[string]string),
		ffiStructs:  make(map[string]bool),
	}
}

func (m *typeMapper) available(name string) error {
	if reason, ok := m.unavailable[name]; ok {
		return fmt.Errorf("refers to %s, which %s", name, reason)
	}
	return nil
}

// isCString reports whether t is const char *, which crosses as a Go string.
func isCString(t *model.Type) bool {
	if t == nil || t.Kind != model.KindPointer || t.Elem == nil {
		return false
	}
	e := t.Elem
	return e.Kind == model.KindPrimitive && e.Name == "char" && e.Const
}

// isNullableRef reports whether t is a nullable pointer, object or block.
func isNullableRef(t *model.Type) bool {
	if !t.IsNullable() {
		return false
	}
	switch t.Underlying().Kind {
	case model.KindPointer, model.KindObject, model.KindBlock, model.KindFuncPtr:
		return true
	}
	return false
}

// goType returns the Go spelling of t. Nullable references in parameters
// and results are wrapped in bridge.Nullable.
func (m *typeMapper) goType(t *model.Type, use usage) (string, error) {
	s, err := m.baseType(t, use)
	if err != nil || s == "" {
		return s, err
	}
	if use != useField && isNullableRef(t) && !isCString(t) {
		return "bridge.Nullable[" + s + "]", nil
	}
	return s, nil
}

func (m *typeMapper) baseType(t *model.Type, use usage) (string, error) {
	if t == nil {
		return "", nil
	}
	switch t.Kind {
	case model.KindVoid:
		if use == useReturn {
			return "", nil
		}
		return "", fmt.Errorf("void %s", use)

	case model.KindPrimitive:
		return m.primitive(t.Name)

	case model.KindTypedef:
		if mapped, ok := m.cfg.MapType(t.Name); ok {
			return mapped, nil
		}
		if _, ok := m.graph.Lookup(t.Name); !ok {
			// SEL, Class and the other runtime types
			return "uintptr", nil
		}
		if err := m.available(t.Name); err != nil {
			return "", err
		}
		return goName(t.Name), nil

	case model.KindEnum, model.KindStruct, model.KindUnion:
		if mapped, ok := m.cfg.MapType(t.Name); ok {
			return mapped, nil
		}
		if err := m.available(t.Name); err != nil {
			return "", err
		}
		if sym, ok := m.graph.Lookup(t.Name); ok && sym.Struct != nil && sym.Struct.Opaque && use != useField {
			return "", fmt.Errorf("opaque %s %s cannot be passed by value", t.Kind, t.Name)
		}
		return goName(t.Name), nil

	case model.KindPointer:
		if use != useField && isCString(t) {
			return "string", nil
		}
		elem := t.Elem
		if elem == nil || elem.Underlying().Kind == model.KindVoid {
			return "unsafe.Pointer", nil
		}
		if elem.Kind == model.KindStruct || elem.Kind == model.KindUnion {
			// Pointers to opaque structs are fine.
			if err := m.available(elem.Name); err != nil {
				return "", err
			}
			return "*" + goName(elem.Name), nil
		}
		inner, err := m.baseType(elem, useField)
		if err != nil {
			return "", err
		}
		return "*" + inner, nil

	case model.KindArray:
		elem, err := m.baseType(t.Elem, useField)
		if err != nil {
			return "", err
		}
		if use != useField {
			// Array parameters decay to a pointer to the first element.
			return "*" + elem, nil
		}
		if t.Len == 0 {
			return "", fmt.Errorf("flexible array %s", use)
		}
		return fmt.Sprintf("[%d]%s", t.Len, elem), nil

	case model.KindFuncPtr:
		return "uintptr", nil

	case model.KindBlock:
		return "", fmt.Errorf("anonymous block type %s; declare a typedef for it", t)

	case model.KindObject:
		if t.Name == "" {
			return "bridge.Object", nil
		}
		if sym, ok := m.graph.Lookup(t.Name); ok && sym.Kind == model.SymbolInterface {
			if err := m.available(t.Name); err != nil {
				return "", err
			}
			return goName(t.Name), nil
		}
		return "bridge.Object", nil
	}
	return "", fmt.Errorf("unsupported %s type %s", t.Kind, t)
}

// primitive returns the Go type of a primitive on the host platform.
func (m *typeMapper) primitive(name string) (string, error) {
	if mapped, ok := m.cfg.MapType(name); ok {
		return mapped, nil
	}
	info, ok := model.Primitives[name]
	if !ok {
		return "", fmt.Errorf("unknown primitive %s", name)
	}
	size, _, err := m.calc.Platform().Primitive(name)
	if err != nil {
		return "", err
	}
	switch {
	case info.Float && size == 4:
		return "float32", nil
	case info.Float && size == 8:
		return "float64", nil
	case info.Float:
		return "", fmt.Errorf("%s (%d bytes on %s) has no Go equivalent", name, size, m.calc.Platform().Name)
	case info.Signed:
		return fmt.Sprintf("int%d", size*8), nil
	}
	return fmt.Sprintf("uint%d", size*8), nil
}

// scalar describes how a value is passed through ffi.
type scalar struct {
	size   int
	signed bool
	float  bool
	bool   bool
}

// scalarOf returns the integer or float class of t, or false for pointers
// and aggregates.
func (m *typeMapper) scalarOf(t *model.Type) (scalar, bool) {
	u := t.Underlying()
	if u == nil {
		return scalar{}, false
	}
	switch u.Kind {
	case model.KindPrimitive:
		info := model.Primitives[u.Name]
		size, _, err := m.calc.Platform().Primitive(u.Name)
		if err != nil {
			return scalar{}, false
		}
		isBool := u.Name == "bool" || u.Name == "_Bool" || u.Name == "BOOL"
		return scalar{size: size, signed: info.Signed && !isBool, float: info.Float, bool: isBool}, true
	case model.KindEnum:
		w, err := m.calc.EnumWidth(u.Name)
		if err != nil {
			return scalar{}, false
		}
		return scalar{size: w, signed: m.enumSigned(u.Name)}, true
	}
	return scalar{}, false
}

// enumSigned reports whether an enum's Go type is signed. A fixed
// underlying type decides. Otherwise the enum is signed unless a value only
// fits its width as unsigned, the way C picks unsigned int for
// enum { A = 0xFFFFFFFF }.
func (m *typeMapper) enumSigned(name string) bool {
	sym, ok := m.graph.Lookup(name)
	if !ok || sym.Enum == nil {
		return true
	}
	if sym.Enum.Underlying != nil {
		u := sym.Enum.Underlying.Underlying()
		if u.Kind != model.KindPrimitive {
			return true
		}
		return model.Primitives[u.Name].Signed
	}

	w, err := m.calc.EnumWidth(name)
	if err != nil {
		return true
	}
	unsigned := false
	for _, v := range sym.Enum.Values {
		if !fitsWidth(v.Value, w, false) {
			return true
		}
		if !fitsWidth(v.Value, w, true) {
			unsigned = true
		}
	}
	return !unsigned
}

// ffiType returns the libffi type descriptor of t.
func (m *typeMapper) ffiType(t *model.Type) (string, error) {
	if t == nil {
		return "&ffi.TypeVoid", nil
	}
	u := t.Underlying()
	switch u.Kind {
	case model.KindVoid:
		return "&ffi.TypeVoid", nil
	case model.KindPrimitive, model.KindEnum:
		s, ok := m.scalarOf(u)
		if !ok {
			return "", fmt.Errorf("no ffi type for %s", u)
		}
		return scalarFFI(s)
	case model.KindPointer, model.KindArray, model.KindObject, model.KindBlock, model.KindFuncPtr:
		return "&ffi.TypePointer", nil
	case model.KindStruct:
		if err := m.available(u.Name); err != nil {
			return "", err
		}
		if !m.ffiStructs[u.Name] {
			return "", fmt.Errorf("struct %s cannot be passed by value", u.Name)
		}
		return "&FFIType" + goName(u.Name), nil
	case model.KindUnion:
		return "", fmt.Errorf("union %s cannot be passed by value", u.Name)
	}
	return "", fmt.Errorf("no ffi type for %s", u)
}

func scalarFFI(s scalar) (string, error) {
	switch {
	case s.float && s.size == 4:
		return "&ffi.TypeFloat", nil
	case s.float && s.size == 8:
		return "&ffi.TypeDouble", nil
	case s.float:
		return "&ffi.TypeLongdouble", nil
	case s.signed:
		return fmt.Sprintf("&ffi.TypeSint%d", s.size*8), nil
	}
	return fmt.Sprintf("&ffi.TypeUint%d", s.size*8), nil
}

// ffiElements returns the ffi element list of a struct field: arrays are
// flattened into repeated elements.
func (m *typeMapper) ffiElements(t *model.Type) ([]string, error) {
	if t.Kind == model.KindArray {
		base := t.ArrayBase()
		elem, err := m.ffiType(base)
		if err != nil {
			return nil, err
		}
		out := make([]string, t.ElementCount())
		for i := range out {
			out[i] = elem
		}
		return out, nil
	}
	elem, err := m.ffiType(t)
	if err != nil {
		return nil, err
	}
	return []string{elem}, nil
}

// goAlign returns the alignment Go gives the emitted type of t on the host.
func (m *typeMapper) goAlign(t *model.Type) int {
	ptr := m.calc.Platform().PointerSize
	u := t.Underlying()
	switch u.Kind {
	case model.KindArray:
		return m.goAlign(u.ArrayBase())
	case model.KindStruct, model.KindUnion:
		l, err := m.calc.Struct(u.Name)
		if err != nil {
			return 1
		}
		if u.Kind == model.KindUnion {
			return min(l.Align, ptr)
		}
		a := 1
		sym, _ := m.graph.Lookup(u.Name)
		for _, f := range sym.Struct.Fields {
			a = max(a, m.goAlign(f.Type))
		}
		return a
	}
	size, _, err := m.calc.SizeOf(u)
	if err != nil || size == 0 {
		return 1
	}
	return min(size, ptr)
}

// objcEncoding returns the Objective-C type encoding of t.
func (m *typeMapper) objcEncoding(t *model.Type) string {
	if t == nil {
		return "v"
	}
	if t.Kind == model.KindTypedef {
		switch t.Name {
		case "SEL":
			return ":"
		case "Class":
			return "#"
		}
	}
	u := t.Underlying()
	switch u.Kind {
	case model.KindVoid:
		return "v"
	case model.KindPrimitive:
		switch u.Name {
		case "bool", "_Bool":
			return "B"
		case "long double":
			return "D"
		}
		s, ok := m.scalarOf(u)
		if !ok {
			return "?"
		}
		return scalarEncoding(s)
	case model.KindEnum:
		s, _ := m.scalarOf(u)
		return scalarEncoding(s)
	case model.KindPointer:
		if u.Elem != nil && u.Elem.Kind == model.KindPrimitive && u.Elem.Name == "char" {
			return "*"
		}
		if u.Elem == nil || u.Elem.Underlying().Kind == model.KindVoid {
			return "^v"
		}
		if e := u.Elem.Underlying(); e.Kind == model.KindStruct {
			return "^{" + e.Name + "=}"
		}
		return "^" + m.objcEncoding(u.Elem)
	case model.KindArray:
		return fmt.Sprintf("[%d%s]", u.Len, m.objcEncoding(u.Elem))
	case model.KindObject:
		return "@"
	case model.KindBlock:
		return "@?"
	case model.KindFuncPtr:
		return "^?"
	case model.KindStruct, model.KindUnion:
		start, end := "{", "}"
		if u.Kind == model.KindUnion {
			start, end = "(", ")"
		}
		var b strings.Builder
		b.WriteString(start + u.Name + "=")
		if sym, ok := m.graph.Lookup(u.Name); ok && sym.Struct != nil {
			for _, f := range sym.Struct.Fields {
				b.WriteString(m.objcEncoding(f.Type))
			}
		}
		b.WriteString(end)
		return b.String()
	}
	return "?"
}

func scalarEncoding(s scalar) string {
	if s.float {
		if s.size == 4 {
			return "f"
		}
		return "d"
	}
	codes := map[int]string{1: "c", 2: "s", 4: "i", 8: "q"}
	c := codes[s.size]
	if c == "" {
		return "?"
	}
	if !s.signed && !s.bool {
		c = strings.ToUpper(c)
	}
	return c
}

// cType returns the C spelling of t for the native shim.
func (m *typeMapper) cType(t *model.Type) string {
	if t == nil {
		return "void"
	}
	var s string
	switch t.Kind {
	case model.KindVoid:
		s = "void"
	case model.KindPrimitive, model.KindTypedef:
		s = t.Name
	case model.KindStruct, model.KindUnion:
		s = t.Name
		if sym, ok := m.graph.Lookup(t.Name); ok && sym.Struct != nil && sym.Struct.Tagged {
			s = string(t.Kind) + " " + t.Name
		}
	case model.KindEnum:
		s = t.Name
		if sym, ok := m.graph.Lookup(t.Name); ok && sym.Enum != nil && sym.Enum.Tagged {
			s = "enum " + t.Name
		}
	case model.KindPointer, model.KindArray:
		elem := t.Elem
		if t.Kind == model.KindArray {
			elem = t.ArrayBase()
		}
		s = m.cType(elem) + " *"
	case model.KindObject:
		if t.Name == "" {
			s = "id"
		} else {
			s = t.Name + " *"
		}
	default:
		s = "void *"
	}
	if t.Const && t.Kind != model.KindPointer {
		s = "const " + s
	}
	switch t.Nullability {
	case model.Nullable:
		if t.Kind == model.KindPointer || t.Kind == model.KindObject {
			s += " _Nullable"
		}
	}
	return s
}
