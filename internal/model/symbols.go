package model

import "fmt"

// SymbolKind represents the category of a declared symbol.
type SymbolKind string

const (
	SymbolFunction  SymbolKind = "function"
	SymbolStruct    SymbolKind = "struct"
	SymbolUnion     SymbolKind = "union"
	SymbolEnum      SymbolKind = "enum"
	SymbolTypedef   SymbolKind = "typedef"
	SymbolBlock     SymbolKind = "block" // typedef of a block type
	SymbolInterface SymbolKind = "interface"
	SymbolGlobal    SymbolKind = "global"
	SymbolConstant  SymbolKind = "constant"
)

// Symbol is a named declaration of a header unit. Exactly one of the
// kind-specific fields is set.
type Symbol struct {
	Name string
	Kind SymbolKind
	Loc  Location
	Doc  string // Documentation comment

	Struct    *StructDef // struct, union
	Enum      *EnumDef
	Typedef   *Type // typedef, block: the aliased type
	Function  *Function
	Interface *Interface
	Global    *Type
	Constant  int64
}

// StructDef is a struct or union definition.
type StructDef struct {
	Fields []Field
	Union  bool
	Opaque bool // declared but never defined
	Tagged bool // has a tag name usable as "struct Name"
}

// Field is a struct member.
type Field struct {
	Name     string
	Type     *Type
	BitWidth int // 0 unless declared as a bit-field
	Loc      Location
}

// EnumDef is an ordered list of enumerators.
type EnumDef struct {
	Values     []EnumValue
	Underlying *Type // fixed underlying type (enum E : uint8_t), nil when unspecified
	Tagged     bool  // has a tag name usable as "enum Name"
}

// EnumValue is one enumerator with its computed value.
type EnumValue struct {
	Name     string
	Value    int64
	Explicit bool
}

// Function is a C function declaration or definition.
type Function struct {
	Signature       *BlockSignature
	ReturnsRetained bool
	Defined         bool // has a body in the unit
	Static          bool
}

// MethodParam is one keyword argument of an Objective-C selector.
type MethodParam struct {
	Keyword string // selector part preceding the colon
	Name    string
	Type    *Type
}

// Method is an Objective-C method declaration.
type Method struct {
	Selector        string
	ClassMethod     bool
	Return          *Type
	Params          []MethodParam
	Variadic        bool
	ReturnsRetained bool
	Loc             Location
	Doc             string
}

// Property is an Objective-C @property declaration.
type Property struct {
	Name     string
	Type     *Type
	ReadOnly bool
	Class    bool
	Getter   string
	Setter   string
	Loc      Location
}

// Interface is an Objective-C class interface with its method table.
type Interface struct {
	Super      string
	Protocols  []string
	Methods    []*Method
	Properties []*Property
	Ivars      []Field
}

// Method returns the method declared directly on the interface.
func (i *Interface) Method(selector string, class bool) (*Method, bool) {
	for _, m := range i.Methods {
		if m.Selector == selector && m.ClassMethod == class {
			return m, true
		}
	}
	return nil, false
}

// Unit is a parsed header unit: its symbols in declaration order.
type Unit struct {
	Path    string
	Symbols []*Symbol
	Classes []string // @class forward declarations

	index map[string]*Symbol
}

// NewUnit creates an empty unit.
func NewUnit(path string) *Unit {
	return &Unit{Path: path, index: make(map[string]*Symbol)}
}

// Lookup returns the symbol with the given name.
func (u *Unit) Lookup(name string) (*Symbol, bool) {
	s, ok := u.index[name]
	return s, ok
}

// Add inserts a symbol. An opaque struct declaration is replaced by a later
// definition, and repeated forward declarations or function prototypes are
// merged. Any other repeated name is an error.
func (u *Unit) Add(s *Symbol) error {
	prev, ok := u.index[s.Name]
	if !ok {
		u.index[s.Name] = s
		u.Symbols = append(u.Symbols, s)
		return nil
	}

	switch {
	case prev.Kind == s.Kind && prev.Struct != nil && s.Struct != nil:
		if s.Struct.Opaque {
			return nil
		}
		if prev.Struct.Opaque {
			s.Doc = firstNonEmpty(s.Doc, prev.Doc)
			*prev = *s
			return nil
		}
	case prev.Kind == SymbolFunction && s.Kind == SymbolFunction:
		if s.Function.Defined && !prev.Function.Defined {
			s.Doc = firstNonEmpty(prev.Doc, s.Doc)
			s.Function.ReturnsRetained = s.Function.ReturnsRetained || prev.Function.ReturnsRetained
			*prev = *s
		}
		return nil
	case prev.Kind == SymbolInterface && s.Kind == SymbolInterface:
		// Categories extend the method table of their class.
		prev.Interface.Methods = append(prev.Interface.Methods, s.Interface.Methods...)
		prev.Interface.Properties = append(prev.Interface.Properties, s.Interface.Properties...)
		if prev.Interface.Super == "" {
			prev.Interface.Super = s.Interface.Super
		}
		return nil
	case prev.Kind == SymbolGlobal && s.Kind == SymbolGlobal:
		return nil
	}
	return fmt.Errorf("%s %q redeclared (previous declaration at %s)", s.Kind, s.Name, prev.Loc)
}

// Count returns the number of symbols of the given kind.
func (u *Unit) Count(kind SymbolKind) int {
	n := 0
	for _, s := range u.Symbols {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
