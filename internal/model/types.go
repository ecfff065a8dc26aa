// Package model defines the intermediate representation for parsed C and
// Objective-C headers.
package model

import (
	"fmt"
	"strconv"
	"strings"
)

// TypeKind represents the category of a C type.
type TypeKind string

const (
	KindVoid      TypeKind = "void"
	KindPrimitive TypeKind = "primitive"
	KindPointer   TypeKind = "pointer"
	KindArray     TypeKind = "array"
	KindStruct    TypeKind = "struct"
	KindUnion     TypeKind = "union"
	KindEnum      TypeKind = "enum"
	KindFunction  TypeKind = "function" // bare function type, only as a declarator result
	KindFuncPtr   TypeKind = "funcptr"
	KindBlock     TypeKind = "block"
	KindObject    TypeKind = "object"
	KindTypedef   TypeKind = "typedef"
	KindNamed     TypeKind = "named" // unresolved identifier, replaced by the resolver
)

// Nullability is the pointer annotation of a type. Unspecified is distinct
// from Nonnull: only an explicit annotation (or an audited region) is Nonnull.
type Nullability string

const (
	NullUnspecified Nullability = ""
	Nullable        Nullability = "nullable"
	Nonnull         Nullability = "nonnull"
)

// Location is a position in a header unit.
type Location struct {
	File   string
	Line   int
	Column int
}

func (l Location) String() string {
	if l.File == "" {
		return fmt.Sprintf("%d:%d", l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// Type is a tagged variant over the C type categories.
type Type struct {
	Kind TypeKind // Type category

	// Name is the primitive spelling ("int32_t", "unsigned long"), the
	// struct/union/enum/typedef symbol name, or the class name of an object
	// ("" for id).
	Name string

	Elem        *Type           // pointee, array element, typedef target
	Len         int             // array: length of this dimension (resolved arrays)
	Dims        []int           // array: dimensions as declared, leftmost outermost
	Signature   *BlockSignature // block, funcptr and function types
	Nullability Nullability     // pointer, object and block types
	Const       bool
}

// BlockSignature is the return type and ordered parameters of a block,
// function pointer or function.
type BlockSignature struct {
	Return   *Type
	Params   []Param
	Variadic bool
}

// Param is a named or anonymous parameter.
type Param struct {
	Name string
	Type *Type
}

// IsListener reports whether the signature returns void. Listener blocks are
// delivered asynchronously to the context that created them.
func (s *BlockSignature) IsListener() bool {
	return s.Return == nil || s.Return.Kind == KindVoid
}

// Void is the void type.
func Void() *Type { return &Type{Kind: KindVoid} }

// Prim returns the primitive type with the given canonical spelling.
func Prim(name string) *Type { return &Type{Kind: KindPrimitive, Name: name} }

// Named returns an unresolved reference to an identifier.
func Named(name string) *Type { return &Type{Kind: KindNamed, Name: name} }

// PointerTo returns a pointer to t. Pointers to function types become
// function pointers.
func PointerTo(t *Type, null Nullability) *Type {
	if t.Kind == KindFunction {
		return &Type{Kind: KindFuncPtr, Signature: t.Signature, Nullability: null}
	}
	return &Type{Kind: KindPointer, Elem: t, Nullability: null}
}

// BlockOf returns a block type wrapping a function type.
func BlockOf(fn *Type, null Nullability) *Type {
	return &Type{Kind: KindBlock, Signature: fn.Signature, Nullability: null}
}

// ArrayOf returns an array of n elements of t. Consecutive dimensions of the
// same declarator are merged so that int x[3][2] has Dims [3 2].
func ArrayOf(t *Type, n int) *Type {
	if t.Kind == KindArray && t.Elem != nil && t.Len == 0 {
		return &Type{Kind: KindArray, Elem: t.Elem, Dims: append([]int{n}, t.Dims...), Const: t.Const}
	}
	return &Type{Kind: KindArray, Elem: t, Dims: []int{n}}
}

// Clone returns a shallow copy of t with a copied Dims slice.
func (t *Type) Clone() *Type {
	c := *t
	if t.Dims != nil {
		c.Dims = append([]int(nil), t.Dims...)
	}
	return &c
}

// Underlying follows typedef targets until a non-typedef type is reached.
func (t *Type) Underlying() *Type {
	for t != nil && t.Kind == KindTypedef && t.Elem != nil {
		t = t.Elem
	}
	return t
}

// IsNullable reports whether the type carries an explicit nullable annotation.
func (t *Type) IsNullable() bool {
	return t != nil && t.Nullability == Nullable
}

// ElementCount returns the number of scalar elements of a possibly nested
// array type, or 1 for non-array types.
func (t *Type) ElementCount() int {
	n := 1
	for t != nil && t.Kind == KindArray {
		if t.Len > 0 {
			n *= t.Len
			t = t.Elem
			continue
		}
		for _, d := range t.Dims {
			n *= d
		}
		t = t.Elem
	}
	return n
}

// ArrayDims returns the dimensions of a resolved nested array, leftmost first.
func (t *Type) ArrayDims() []int {
	var dims []int
	for t != nil && t.Kind == KindArray {
		if t.Len > 0 {
			dims = append(dims, t.Len)
		} else {
			dims = append(dims, t.Dims...)
		}
		t = t.Elem
	}
	return dims
}

// ArrayBase returns the innermost non-array element type.
func (t *Type) ArrayBase() *Type {
	for t != nil && t.Kind == KindArray {
		t = t.Elem
	}
	return t
}

// String returns a C-like rendering of the type used in diagnostics and tests.
func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	var s string
	switch t.Kind {
	case KindVoid:
		s = "void"
	case KindPrimitive, KindNamed, KindTypedef:
		s = t.Name
	case KindStruct, KindUnion, KindEnum:
		s = string(t.Kind) + " " + t.Name
	case KindPointer:
		s = t.Elem.String() + "*"
	case KindArray:
		var b strings.Builder
		b.WriteString(t.ArrayBase().String())
		for _, d := range t.ArrayDims() {
			b.WriteString("[")
			b.WriteString(strconv.Itoa(d))
			b.WriteString("]")
		}
		s = b.String()
	case KindObject:
		if t.Name == "" {
			s = "id"
		} else {
			s = t.Name + "*"
		}
	case KindFunction, KindFuncPtr, KindBlock:
		marker := ""
		switch t.Kind {
		case KindFuncPtr:
			marker = "(*)"
		case KindBlock:
			marker = "(^)"
		}
		s = t.Signature.Return.String() + " " + marker + "(" + t.Signature.paramString() + ")"
	default:
		s = "unknown"
	}
	if t.Const {
		s = "const " + s
	}
	switch t.Nullability {
	case Nullable:
		s += " _Nullable"
	case Nonnull:
		s += " _Nonnull"
	}
	return s
}

func (s *BlockSignature) paramString() string {
	parts := make([]string, 0, len(s.Params)+1)
	for _, p := range s.Params {
		parts = append(parts, p.Type.String())
	}
	if s.Variadic {
		parts = append(parts, "...")
	}
	return strings.Join(parts, ", ")
}

// Equal reports structural equality, ignoring array representation (flat
// Dims versus nested Len).
func (t *Type) Equal(o *Type) bool {
	return t.String() == o.String()
}
