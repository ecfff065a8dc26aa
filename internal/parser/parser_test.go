package parser

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ffibind/internal/errors"
	"ffibind/internal/model"
)

// Test Plan for the builtin header parser:
// - Parse the C fixture: functions, definitions, structs, nested arrays, enums,
//   constants, unions, opaque structs, function pointer typedefs, globals
// - Parse the Objective-C fixture: block typedefs, nullability, interfaces,
//   ivars, class/instance methods, multi-part selectors, retained returns
// - Ignore export macros defined as attributes
// - Build declarator types (pointers, arrays, function pointers, decay)
// - Apply assume-nonnull regions, skip inactive #if branches
// - Report malformed input as ParseError with a location

func parseFixture(t *testing.T, name string) *model.Unit {
	t.Helper()
	path := filepath.Join("testdata", name)
	src, err := os.ReadFile(path)
	require.NoError(t, err)
	unit, err := Parse(path, src)
	require.NoError(t, err)
	require.NotNil(t, unit)
	return unit
}

func mustLookup(t *testing.T, unit *model.Unit, name string, kind model.SymbolKind) *model.Symbol {
	t.Helper()
	sym, ok := unit.Lookup(name)
	require.True(t, ok, "symbol %s not found", name)
	require.Equal(t, kind, sym.Kind, "kind of %s", name)
	return sym
}

func parseString(t *testing.T, src string) *model.Unit {
	t.Helper()
	unit, err := Parse("test.h", []byte(src))
	require.NoError(t, err)
	return unit
}

func TestParse_NativeTestFixture(t *testing.T) {
	t.Parallel()

	unit := parseFixture(t, "native_test.h")

	t.Run("functions", func(t *testing.T) {
		assert.Equal(t, 22, unit.Count(model.SymbolFunction))

		fn := mustLookup(t, unit, "Function1Int32", model.SymbolFunction)
		require.Len(t, fn.Function.Signature.Params, 1)
		assert.Equal(t, "x", fn.Function.Signature.Params[0].Name)
		assert.Equal(t, "int32_t", fn.Function.Signature.Params[0].Type.String())
		assert.Equal(t, "int32_t", fn.Function.Signature.Return.String())

		def := mustLookup(t, unit, "Function1Double", model.SymbolFunction)
		assert.True(t, def.Function.Defined)

		get := mustLookup(t, unit, "getStruct1", model.SymbolFunction)
		assert.Empty(t, get.Function.Signature.Params)
		assert.Equal(t, "struct Struct1*", get.Function.Signature.Return.String())
		assert.Equal(t, "Returns a heap allocated Struct1.", get.Doc)

		byVal := mustLookup(t, unit, "Function1StructPassByValue", model.SymbolFunction)
		assert.Equal(t, "struct Struct3", byVal.Function.Signature.Params[0].Type.String())

		variadic := mustLookup(t, unit, "printf_like", model.SymbolFunction)
		assert.True(t, variadic.Function.Signature.Variadic)
		assert.Equal(t, "const char*", variadic.Function.Signature.Params[0].Type.String())
	})

	t.Run("nested arrays", func(t *testing.T) {
		s := mustLookup(t, unit, "Struct1", model.SymbolStruct)
		require.Len(t, s.Struct.Fields, 2)
		assert.Equal(t, "a", s.Struct.Fields[0].Name)
		assert.Equal(t, "int8_t", s.Struct.Fields[0].Type.String())

		data := s.Struct.Fields[1]
		assert.Equal(t, "data", data.Name)
		assert.Equal(t, model.KindArray, data.Type.Kind)
		assert.Equal(t, []int{3, 1, 2}, data.Type.Dims)
		assert.Equal(t, 6, data.Type.ElementCount())
		assert.Equal(t, "int32_t[3][1][2]", data.Type.String())
	})

	t.Run("enums", func(t *testing.T) {
		e := mustLookup(t, unit, "Enum1", model.SymbolEnum)
		require.Len(t, e.Enum.Values, 3)
		for i, name := range []string{"enum1Value1", "enum1Value2", "enum1Value3"} {
			assert.Equal(t, name, e.Enum.Values[i].Name)
			assert.Equal(t, int64(i), e.Enum.Values[i].Value)
			assert.False(t, e.Enum.Values[i].Explicit)
		}

		flags := mustLookup(t, unit, "Flags", model.SymbolEnum)
		want := map[string]int64{
			"FlagNone":     0,
			"FlagRead":     16,
			"FlagWrite":    32,
			"FlagAll":      48,
			"FlagChar":     65,
			"FlagNegative": -1,
		}
		require.Len(t, flags.Enum.Values, len(want))
		for _, v := range flags.Enum.Values {
			assert.Equal(t, want[v.Name], v.Value, v.Name)
		}
	})

	t.Run("struct with enums", func(t *testing.T) {
		s := mustLookup(t, unit, "StructWithEnums", model.SymbolStruct)
		require.Len(t, s.Struct.Fields, 6)
		assert.Equal(t, "Enum1", s.Struct.Fields[0].Type.String())
		assert.Equal(t, "Enum1[5]", s.Struct.Fields[1].Type.String())
		assert.Equal(t, "Enum2*", s.Struct.Fields[5].Type.String())
	})

	t.Run("typedefs and unions", func(t *testing.T) {
		op := mustLookup(t, unit, "BinaryOp", model.SymbolTypedef)
		assert.Equal(t, model.KindFuncPtr, op.Typedef.Kind)
		assert.Equal(t, "int32_t (*)(int32_t, int32_t)", op.Typedef.String())

		point := mustLookup(t, unit, "Point", model.SymbolStruct)
		assert.Len(t, point.Struct.Fields, 2)
		assert.False(t, point.Struct.Tagged)

		num := mustLookup(t, unit, "Number", model.SymbolUnion)
		assert.True(t, num.Struct.Union)
		assert.Equal(t, "uint8_t[8]", num.Struct.Fields[2].Type.String())

		opaque := mustLookup(t, unit, "Opaque", model.SymbolStruct)
		assert.True(t, opaque.Struct.Opaque)
		ref := mustLookup(t, unit, "OpaqueRef", model.SymbolTypedef)
		assert.Equal(t, "struct Opaque*", ref.Typedef.String())
	})

	t.Run("constants and globals", func(t *testing.T) {
		c := mustLookup(t, unit, "ARRAY_LEN", model.SymbolConstant)
		assert.Equal(t, int64(3), c.Constant)
		_, ok := unit.Lookup("aloc")
		assert.False(t, ok, "function-like macros are not symbols")

		g := mustLookup(t, unit, "globalArray", model.SymbolGlobal)
		assert.Equal(t, "int[3]", g.Global.String())
	})
}

func TestParse_BlockTestFixture(t *testing.T) {
	t.Parallel()

	unit := parseFixture(t, "block_test.h")

	t.Run("structs", func(t *testing.T) {
		vec2 := mustLookup(t, unit, "Vec2", model.SymbolStruct)
		assert.True(t, vec2.Struct.Tagged)
		vec4 := mustLookup(t, unit, "Vec4", model.SymbolStruct)
		assert.Len(t, vec4.Struct.Fields, 4)
	})

	t.Run("block typedefs", func(t *testing.T) {
		tests := []struct {
			name     string
			want     string
			listener bool
		}{
			{"IntBlock", "int32_t (^)(int32_t)", false},
			{"FloatBlock", "float (^)(float)", false},
			{"Vec4Block", "Vec4 (^)(Vec4)", false},
			{"VoidBlock", "void (^)()", true},
			{"ObjectBlock", "DummyObject* (^)(DummyObject*)", false},
			{"NullableObjectBlock", "DummyObject* _Nullable (^)(DummyObject* _Nullable)", false},
			{"BlockBlock", "IntBlock (^)(IntBlock)", false},
			{"ListenerBlock", "void (^)(IntBlock)", true},
			{"StructListenerBlock", "void (^)(struct Vec2, Vec4, NSObject*)", true},
			{"NoTrampolineListenerBlock", "void (^)(int32_t, Vec4, const char*)", true},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				sym := mustLookup(t, unit, tt.name, model.SymbolBlock)
				assert.Equal(t, tt.want, sym.Typedef.String())
				assert.Equal(t, tt.listener, sym.Typedef.Signature.IsListener())
			})
		}
	})

	t.Run("interfaces", func(t *testing.T) {
		dummy := mustLookup(t, unit, "DummyObject", model.SymbolInterface)
		assert.Equal(t, "NSObject", dummy.Interface.Super)
		require.Len(t, dummy.Interface.Ivars, 1)
		assert.Equal(t, "counter", dummy.Interface.Ivars[0].Name)

		m, ok := dummy.Interface.Method("newWithCounter:", true)
		require.True(t, ok)
		assert.Equal(t, "instancetype", m.Return.String())
		require.Len(t, m.Params, 1)
		assert.Equal(t, "_counter", m.Params[0].Name)
		assert.Equal(t, "int32_t*", m.Params[0].Type.String())

		_, ok = dummy.Interface.Method("dealloc", false)
		assert.True(t, ok)

		tester := mustLookup(t, unit, "BlockTester", model.SymbolInterface)
		assert.Len(t, tester.Interface.Methods, 20)

		multi, ok := tester.Interface.Method("callNSStringListener:x:", true)
		require.True(t, ok)
		require.Len(t, multi.Params, 2)
		assert.Equal(t, "callNSStringListener", multi.Params[0].Keyword)
		assert.Equal(t, "x", multi.Params[1].Keyword)
		assert.Equal(t, "int32_t", multi.Params[1].Type.String())

		retained, ok := tester.Interface.Method("callObjectBlock:", true)
		require.True(t, ok)
		assert.True(t, retained.ReturnsRetained)

		nullable, ok := tester.Interface.Method("callNullableObjectBlock:", true)
		require.True(t, ok)
		assert.True(t, nullable.Return.IsNullable())

		call, ok := tester.Interface.Method("call:", false)
		require.True(t, ok)
		assert.False(t, call.ClassMethod)
	})
}

func TestParse_ExportMacro(t *testing.T) {
	t.Parallel()

	unit := parseFixture(t, "native_add_library.h")

	alloc := mustLookup(t, unit, "foo_allocate", model.SymbolFunction)
	assert.Equal(t, "void*", alloc.Function.Signature.Return.String())

	free := mustLookup(t, unit, "foo_free_wrapper", model.SymbolFunction)
	require.Len(t, free.Function.Signature.Params, 1)
	assert.Equal(t, "native_resource", free.Function.Signature.Params[0].Name)

	_, ok := unit.Lookup("MYLIB_EXPORT")
	assert.False(t, ok)
}

func TestParse_Declarators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		src    string
		symbol string
		want   string
	}{
		{"pointer to function returning pointer", "int *(*f)(void);", "f", "int* (*)()"},
		{"pointer to array", "int (*p)[3];", "p", "int[3]*"},
		{"array of pointers", "int *a[3];", "a", "int*[3]"},
		{"multiword primitive", "unsigned long long x;", "x", "unsigned long long"},
		{"reordered words", "long unsigned int y;", "y", "unsigned long"},
		{"const pointer target", "const char *name;", "name", "const char*"},
		{"nullable pointer", "int * _Nullable p;", "p", "int* _Nullable"},
		{"pointer to pointer", "void **pp;", "pp", "void**"},
		{"dimension from constant", "#define N 4\nint arr[N * 2];", "arr", "int[8]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			unit := parseString(t, tt.src)
			sym := mustLookup(t, unit, tt.symbol, model.SymbolGlobal)
			assert.Equal(t, tt.want, sym.Global.String())
		})
	}
}

func TestParse_ParameterDecay(t *testing.T) {
	t.Parallel()

	unit := parseString(t, "void f(int a[4][2], int cb(int));")
	fn := mustLookup(t, unit, "f", model.SymbolFunction)
	require.Len(t, fn.Function.Signature.Params, 2)
	assert.Equal(t, "int[2]*", fn.Function.Signature.Params[0].Type.String())
	assert.Equal(t, model.KindFuncPtr, fn.Function.Signature.Params[1].Type.Kind)
}

func TestParse_AssumeNonnull(t *testing.T) {
	t.Parallel()

	unit := parseString(t, `
NS_ASSUME_NONNULL_BEGIN
void audited(int *p);
NS_ASSUME_NONNULL_END
void plain(int *q);
`)
	audited := mustLookup(t, unit, "audited", model.SymbolFunction)
	assert.Equal(t, model.Nonnull, audited.Function.Signature.Params[0].Type.Nullability)

	plain := mustLookup(t, unit, "plain", model.SymbolFunction)
	assert.Equal(t, model.NullUnspecified, plain.Function.Signature.Params[0].Type.Nullability)
}

func TestParse_Conditionals(t *testing.T) {
	t.Parallel()

	unit := parseString(t, `
#if 0
int hidden(void);
#else
int shown(void);
#endif
#ifdef __cplusplus
extern "C" {
#endif
int inside(void);
#ifdef __cplusplus
}
#endif
`)
	_, ok := unit.Lookup("hidden")
	assert.False(t, ok)
	mustLookup(t, unit, "shown", model.SymbolFunction)
	mustLookup(t, unit, "inside", model.SymbolFunction)
}

func TestParse_Enums(t *testing.T) {
	t.Parallel()

	unit := parseString(t, `
typedef NS_ENUM(NSInteger, Direction) {
  DirectionUp = 1,
  DirectionDown,
};
enum Small : uint8_t { SmallA, SmallB };
enum { LooseA = 7, LooseB };
`)
	dir := mustLookup(t, unit, "Direction", model.SymbolEnum)
	assert.Equal(t, "NSInteger", dir.Enum.Underlying.String())
	assert.Equal(t, int64(2), dir.Enum.Values[1].Value)

	small := mustLookup(t, unit, "Small", model.SymbolEnum)
	assert.Equal(t, "uint8_t", small.Enum.Underlying.String())

	loose := mustLookup(t, unit, "LooseB", model.SymbolConstant)
	assert.Equal(t, int64(8), loose.Constant)
}

func TestParse_AnonymousNested(t *testing.T) {
	t.Parallel()

	unit := parseString(t, `
struct Outer {
  struct { int a; } inner;
  union { int i; float f; };
  unsigned flag : 1;
};
`)
	outer := mustLookup(t, unit, "Outer", model.SymbolStruct)
	require.Len(t, outer.Struct.Fields, 3)
	assert.Equal(t, "struct Outer_inner", outer.Struct.Fields[0].Type.String())
	assert.Equal(t, "union Outer_anon1", outer.Struct.Fields[1].Type.String())
	assert.Equal(t, 1, outer.Struct.Fields[2].BitWidth)

	mustLookup(t, unit, "Outer_inner", model.SymbolStruct)
	mustLookup(t, unit, "Outer_anon1", model.SymbolUnion)
}

func TestParse_ForwardThenDefinition(t *testing.T) {
	t.Parallel()

	unit := parseString(t, `
struct Node;
typedef struct Node Node;
struct Node { int value; struct Node *next; };
int length(const Node *head);
int length(const Node *head) { return 0; }
`)
	node := mustLookup(t, unit, "Node", model.SymbolStruct)
	assert.False(t, node.Struct.Opaque)
	assert.Equal(t, "struct Node*", node.Struct.Fields[1].Type.String())

	fn := mustLookup(t, unit, "length", model.SymbolFunction)
	assert.True(t, fn.Function.Defined)
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
		line int
		msg  string
	}{
		{"unterminated struct", "struct S {\n  int a;\n", 1, "unterminated struct body"},
		{"bad parameter list", "int f(;\n", 1, "expected type"},
		{"duplicate definition", "struct A { int x; };\nstruct A { int y; };\n", 2, "redeclared"},
		{"missing end", "@interface Foo : NSObject\n- (void)bar;\n", 1, "missing @end"},
		{"stray end", "@end\n", 1, "unexpected @end"},
		{"unknown constant", "enum E { A = MISSING };\n", 1, "unknown identifier"},
		{"unterminated conditional", "#if 1\nint x;\n", 3, "unterminated conditional"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse("bad.h", []byte(tt.src))
			require.Error(t, err)

			var perr *errors.ParseError
			require.True(t, stderrors.As(err, &perr), "want ParseError, got %T", err)
			assert.Equal(t, "bad.h", perr.Location.File)
			assert.Equal(t, tt.line, perr.Location.Line)
			assert.Contains(t, perr.Message, tt.msg)
			assert.Equal(t, errors.PhaseParse, errors.PhaseOf(err))
		})
	}
}

func TestParse_IgnoredMacros(t *testing.T) {
	t.Parallel()

	src := []byte("MYLIB_API int answer(void);\nEXPORT_IT Widget *make_widget(void);\n")
	unit, err := New(WithIgnoredMacros("MYLIB_API")).Parse("m.h", src)
	require.NoError(t, err)

	mustLookup(t, unit, "answer", model.SymbolFunction)
	widget := mustLookup(t, unit, "make_widget", model.SymbolFunction)
	assert.Equal(t, "Widget*", widget.Function.Signature.Return.String())
}

func TestParse_Properties(t *testing.T) {
	t.Parallel()

	unit := parseString(t, `
@class Other;
@protocol Greeter;
@protocol Named <NSObject>
- (NSString *)name;
@end
@interface Person : NSObject <Named>
@property (nonatomic, readonly, nullable) NSString *nickname;
@property (class, getter=isShared) BOOL shared;
- (instancetype)initWithName:(NSString *)name age:(NSInteger)age NS_DESIGNATED_INITIALIZER;
+ (Person *)newPerson NS_RETURNS_RETAINED;
@end
`)
	assert.Equal(t, []string{"Other"}, unit.Classes)

	person := mustLookup(t, unit, "Person", model.SymbolInterface)
	assert.Equal(t, []string{"Named"}, person.Interface.Protocols)
	require.Len(t, person.Interface.Properties, 2)

	nick := person.Interface.Properties[0]
	assert.Equal(t, "nickname", nick.Name)
	assert.True(t, nick.ReadOnly)
	assert.True(t, nick.Type.IsNullable())

	shared := person.Interface.Properties[1]
	assert.True(t, shared.Class)
	assert.Equal(t, "isShared", shared.Getter)

	init, ok := person.Interface.Method("initWithName:age:", false)
	require.True(t, ok)
	assert.Equal(t, "NSInteger", init.Params[1].Type.String())

	newPerson, ok := person.Interface.Method("newPerson", true)
	require.True(t, ok)
	assert.True(t, newPerson.ReturnsRetained)
}

func TestParse_InterfaceProtocols(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		src       string
		super     string
		protocols []string
	}{
		{
			name:      "root class",
			src:       "@interface Root <NSCopying, Named>\n@end\n",
			protocols: []string{"NSCopying", "Named"},
		},
		{
			name:      "after the superclass",
			src:       "@interface Person : NSObject <Named, NSCopying>\n@end\n",
			super:     "NSObject",
			protocols: []string{"Named", "NSCopying"},
		},
		{
			name:      "generic superclass",
			src:       "@interface Names : NSArray<NSString *> <Named>\n@end\n",
			super:     "NSArray",
			protocols: []string{"Named"},
		},
		{
			name:  "no protocols",
			src:   "@interface Plain : NSObject\n@end\n",
			super: "NSObject",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			unit := parseString(t, tt.src)
			require.Len(t, unit.Symbols, 1)
			iface := unit.Symbols[0].Interface
			require.NotNil(t, iface)
			assert.Equal(t, tt.super, iface.Super)
			assert.Equal(t, tt.protocols, iface.Protocols)
		})
	}
}
