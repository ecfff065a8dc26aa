package resolver

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ffibind/internal/errors"
	"ffibind/internal/model"
	"ffibind/internal/parser"
)

// Test Plan:
// - Typedef names, tags and classes resolve to concrete nodes
// - Flat array dimensions become nested arrays, leftmost outermost
// - Every dangling name is reported in one UnresolvedSymbolError
// - instancetype resolves to the enclosing class
// - Method lookup walks the superclass chain only
// - By-value dependencies order the symbols; by-value cycles fail

func resolveString(t *testing.T, src string, opts ...Option) (*Graph, error) {
	t.Helper()
	unit, err := parser.Parse("test.h", []byte(src))
	require.NoError(t, err)
	return New(opts...).Resolve(unit)
}

func mustResolve(t *testing.T, src string, opts ...Option) *Graph {
	t.Helper()
	g, err := resolveString(t, src, opts...)
	require.NoError(t, err)
	return g
}

func resolveFixture(t *testing.T, name string) *Graph {
	t.Helper()
	src, err := os.ReadFile("../parser/testdata/" + name)
	require.NoError(t, err)
	unit, err := parser.Parse(name, src)
	require.NoError(t, err)
	g, err := Resolve(unit)
	require.NoError(t, err)
	return g
}

func TestResolve_NativeFixture(t *testing.T) {
	t.Parallel()

	g := resolveFixture(t, "native_test.h")

	t.Run("nested arrays", func(t *testing.T) {
		s, ok := g.Lookup("Struct1")
		require.True(t, ok)
		data := s.Struct.Fields[1].Type

		require.Equal(t, model.KindArray, data.Kind)
		assert.Equal(t, 3, data.Len)
		require.Equal(t, model.KindArray, data.Elem.Kind)
		assert.Equal(t, 1, data.Elem.Len)
		require.Equal(t, model.KindArray, data.Elem.Elem.Kind)
		assert.Equal(t, 2, data.Elem.Elem.Len)
		assert.Equal(t, "int32_t", data.Elem.Elem.Elem.Name)
		assert.Equal(t, 6, data.ElementCount())
		assert.Equal(t, "int32_t[3][1][2]", data.String())
	})

	t.Run("enum references", func(t *testing.T) {
		fn, ok := g.Lookup("funcWithEnum1")
		require.True(t, ok)
		assert.Equal(t, model.KindEnum, fn.Function.Signature.Return.Kind)
		assert.Equal(t, "Enum1", fn.Function.Signature.Return.Name)

		s, ok := g.Lookup("StructWithEnums")
		require.True(t, ok)
		ptr := s.Struct.Fields[2].Type
		require.Equal(t, model.KindPointer, ptr.Kind)
		assert.Equal(t, model.KindEnum, ptr.Elem.Kind)
	})

	t.Run("typedef chains", func(t *testing.T) {
		fn, ok := g.Lookup("opaque_new")
		require.True(t, ok)
		ret := fn.Function.Signature.Return
		require.Equal(t, model.KindTypedef, ret.Kind)
		assert.Equal(t, "OpaqueRef", ret.Name)
		assert.Equal(t, "struct Opaque*", ret.Underlying().String())

		apply, ok := g.Lookup("apply")
		require.True(t, ok)
		op := apply.Function.Signature.Params[0].Type
		assert.Equal(t, model.KindFuncPtr, op.Underlying().Kind)
	})

	t.Run("globals", func(t *testing.T) {
		arr, ok := g.Lookup("globalArray")
		require.True(t, ok)
		assert.Equal(t, 3, arr.Global.Len)
	})
}

func TestResolve_BlockFixture(t *testing.T) {
	t.Parallel()

	g := resolveFixture(t, "block_test.h")

	dummy, ok := g.Lookup("DummyObject")
	require.True(t, ok)
	m, ok := dummy.Interface.Method("newWithCounter:", true)
	require.True(t, ok)
	assert.Equal(t, model.KindObject, m.Return.Kind)
	assert.Equal(t, "DummyObject", m.Return.Name)
	assert.True(t, m.ReturnsRetained, "new family returns retained")

	initM, ok := dummy.Interface.Method("initWithCounter:", false)
	require.True(t, ok)
	assert.False(t, initM.ReturnsRetained)

	obj, ok := g.Lookup("ObjectBlock")
	require.True(t, ok)
	sig := obj.Typedef.Signature
	assert.Equal(t, model.KindObject, sig.Return.Kind)
	assert.Equal(t, "DummyObject", sig.Return.Name)

	nullable, ok := g.Lookup("NullableObjectBlock")
	require.True(t, ok)
	assert.True(t, nullable.Typedef.Signature.Params[0].Type.IsNullable())

	structListener, ok := g.Lookup("StructListenerBlock")
	require.True(t, ok)
	params := structListener.Typedef.Signature.Params
	assert.Equal(t, model.KindStruct, params[0].Type.Kind)
	assert.Equal(t, model.KindStruct, params[1].Type.Kind)
	assert.Equal(t, model.KindObject, params[2].Type.Kind)
	assert.True(t, g.IsExternalClass("NSObject"))
	assert.False(t, g.IsExternalClass("DummyObject"))

	tester, ok := g.Lookup("BlockTester")
	require.True(t, ok)
	newBlock, ok := tester.Interface.Method("newBlock:withMult:", true)
	require.True(t, ok)
	assert.True(t, newBlock.ReturnsRetained, "blocks are retainable")
	assert.Equal(t, model.KindTypedef, newBlock.Return.Kind)
}

func TestResolve_Unresolved(t *testing.T) {
	t.Parallel()

	_, err := resolveString(t, `
struct Holder {
  Missing a;
  struct Undeclared *b;
};
Other make_other(Missing m);
`)

	var uerr *errors.UnresolvedSymbolError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "test.h", uerr.Unit)
	assert.Len(t, uerr.Refs, 4)
	assert.Equal(t, []string{"Missing", "Other", "struct Undeclared"}, uerr.Names())
	assert.Equal(t, "Holder", uerr.Refs[0].From)
	assert.Equal(t, 3, uerr.Refs[0].Location.Line)
}

func TestResolve_ForwardDeclarations(t *testing.T) {
	t.Parallel()

	g := mustResolve(t, `
@class Widget;
struct Handle;
Widget *widget_for(struct Handle *h);
`)
	fn, ok := g.Lookup("widget_for")
	require.True(t, ok)
	assert.Equal(t, model.KindObject, fn.Function.Signature.Return.Kind)
	assert.True(t, g.IsExternalClass("Widget"))
	assert.Equal(t, "struct Handle*", fn.Function.Signature.Params[0].Type.String())
}

func TestResolve_ExternalClasses(t *testing.T) {
	t.Parallel()

	src := `
@interface View : UIView
- (UIColor *)color;
@end
`
	_, err := resolveString(t, src)
	var uerr *errors.UnresolvedSymbolError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, []string{"UIColor", "UIView"}, uerr.Names())

	g := mustResolve(t, src, WithExternalClasses("UIView", "UIColor"))
	view, ok := g.Lookup("View")
	require.True(t, ok)
	assert.Equal(t, "UIView", view.Interface.Super)
}

func TestResolve_InstancetypeOutsideInterface(t *testing.T) {
	t.Parallel()

	_, err := resolveString(t, "instancetype make(void);\n")
	var uerr *errors.UnresolvedSymbolError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, []string{"instancetype"}, uerr.Names())
}

func TestResolve_RetainedConfig(t *testing.T) {
	t.Parallel()

	g := mustResolve(t, "void *make_buffer(int n);\nvoid *peek_buffer(int n);\n", WithRetained("make_buffer"))

	made, _ := g.Lookup("make_buffer")
	assert.True(t, made.Function.ReturnsRetained)
	peeked, _ := g.Lookup("peek_buffer")
	assert.False(t, peeked.Function.ReturnsRetained)
}

func TestGraph_LookupMethod(t *testing.T) {
	t.Parallel()

	g := mustResolve(t, `
@interface Base : NSObject
- (int)size;
+ (instancetype)shared;
@end
@interface Derived : Base
- (int)count;
@end
@interface Leaf : Derived
@end
`)

	m, owner, ok := g.LookupMethod("Leaf", "size", false)
	require.True(t, ok)
	assert.Equal(t, "Base", owner)
	assert.Equal(t, "size", m.Selector)

	shared, owner, ok := g.LookupMethod("Leaf", "shared", true)
	require.True(t, ok)
	assert.Equal(t, "Base", owner)
	assert.Equal(t, "Base", shared.Return.Name, "instancetype binds to the declaring class")

	_, _, ok = g.LookupMethod("Leaf", "size", true)
	assert.False(t, ok, "class and instance methods are distinct")

	_, _, ok = g.LookupMethod("Leaf", "description", false)
	assert.False(t, ok, "external superclasses are not searched")

	assert.Equal(t, []string{"Derived", "Base", "NSObject"}, g.Supers("Leaf"))
}

func TestGraph_Order(t *testing.T) {
	t.Parallel()

	g := mustResolve(t, `
typedef struct Outer Outer;
struct Outer {
  struct Middle m;
  struct Outer *self;
};
struct Middle {
  struct Inner in[2];
};
struct Inner {
  int x;
};
`)

	var names []string
	for _, s := range g.Ordered {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"Inner", "Middle", "Outer"}, names)
}

func TestGraph_ByValueCycle(t *testing.T) {
	t.Parallel()

	_, err := resolveString(t, `
struct A;
struct B { struct A a; };
struct A { struct B b; };
`)
	var rerr *errors.ResolveError
	require.ErrorAs(t, err, &rerr)
	assert.Contains(t, rerr.Detail, "cycle")

	_, err = resolveString(t, "struct Self { struct Self inner; };\n")
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "Self", rerr.Symbol)
}

func TestInRetainedFamily(t *testing.T) {
	t.Parallel()

	tests := []struct {
		selector string
		want     bool
	}{
		{"new", true},
		{"newWithCounter:", true},
		{"alloc", true},
		{"copy", true},
		{"mutableCopyWithZone:", true},
		{"_newObject", true},
		{"newsletter", false},
		{"copyright", false},
		{"init", false},
		{"makeFromBlock:", false},
	}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, inRetainedFamily(tt.selector))
		})
	}
}
