package generator

// unitView is the template data of one unit.
type unitView struct {
	Package  string
	Source   string // header file name
	Unit     string // exported form of the unit name
	Library  string
	Platform string
	Holder   string // Objective-C context holder class of the shim

	Consts  []constView
	Enums   []enumView
	Structs []structView
	Opaques []opaqueView
	Aliases []aliasView
	Globals []wrapperView

	Natives []nativeView
	Funcs   []wrapperView

	Classes []classView

	Blocks       []blockView
	BlockNatives []nativeView
	Shims        []shimView
}

type constView struct {
	Name  string
	Value string
	Doc   string
}

type enumView struct {
	Name   string
	GoType string
	Doc    string
	Values []constView
}

type fieldView struct {
	Name    string
	Type    string
	Comment string
}

type offsetView struct {
	Name   string
	Offset int
}

// accessorView is a pointer accessor for a union member or a flexible
// array member.
type accessorView struct {
	Name   string
	CName  string
	Type   string
	Offset int
}

type structView struct {
	Name      string
	Doc       string
	Size      int
	Union     bool
	Fields    []fieldView
	Offsets   []offsetView
	Accessors []accessorView
	FFI       []string // libffi element types, nil when not passable by value
}

type opaqueView struct {
	Name string
	Doc  string
}

type aliasView struct {
	Name    string
	Target  string
	Doc     string
	Defined bool // a defined type rather than an alias
}

// nativeView is a native function prepared through libffi.
type nativeView struct {
	Var   string
	CName string
	FFI   []string // return type followed by parameter types
}

// wrapperView is a generated Go function or method. The body is rendered
// line by line.
type wrapperView struct {
	Doc       string
	Receiver  string
	Name      string
	Signature string
	Body      []string
}

type classView struct {
	Name      string
	CName     string
	Doc       string
	Embed     string
	EmbedCtor string
	Methods   []wrapperView
}

type blockView struct {
	Name       string
	CName      string
	Doc        string
	FuncType   string
	Listener   bool
	Trampoline []string
	Wrappers   []wrapperView
}

// shimView is the native side of one block type.
type shimView struct {
	Block      string
	Ret        string
	Returns    bool
	FnParams   string // ", int32_t" for the function pointer type
	Params     string // "int32_t a0" for the block literal
	ParamsTail string // ", int32_t a0" after the block argument
	Args       string // ", a0" after the context
	ArgList    string // "a0"
}
