package parser

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ffibind/internal/errors"
	"ffibind/internal/model"
)

// Test Plan:
// - Both backends produce the same symbols for the C fixture
// - Objective-C input is rejected by the tree-sitter backend
// - Syntax errors carry a line number
// - Attribute macros are blanked before tree-sitter sees them
// - Unnamed bit-fields parse like the builtin backend

func TestTreeSitter_MatchesBuiltin(t *testing.T) {
	t.Parallel()

	src, err := os.ReadFile("testdata/native_test.h")
	require.NoError(t, err)

	builtin, err := New().Parse("native_test.h", src)
	require.NoError(t, err)
	ts, err := New(WithBackend(BackendTreeSitter)).Parse("native_test.h", src)
	require.NoError(t, err)

	require.Equal(t, names(builtin), names(ts))
	for _, want := range builtin.Symbols {
		got, ok := ts.Lookup(want.Name)
		require.True(t, ok, want.Name)
		assert.Equal(t, want.Kind, got.Kind, want.Name)
		switch want.Kind {
		case model.SymbolFunction:
			assert.Equal(t, signature(want.Function.Signature), signature(got.Function.Signature), want.Name)
			assert.Equal(t, want.Function.Defined, got.Function.Defined, want.Name)
		case model.SymbolStruct, model.SymbolUnion:
			require.Len(t, got.Struct.Fields, len(want.Struct.Fields), want.Name)
			for i, f := range want.Struct.Fields {
				assert.Equal(t, f.Name, got.Struct.Fields[i].Name)
				assert.Equal(t, f.Type.String(), got.Struct.Fields[i].Type.String())
			}
		case model.SymbolEnum:
			assert.Equal(t, want.Enum.Values, got.Enum.Values, want.Name)
		case model.SymbolConstant:
			assert.Equal(t, want.Constant, got.Constant, want.Name)
		}
	}
}

func TestTreeSitter_RejectsObjectiveC(t *testing.T) {
	t.Parallel()

	src := []byte("@interface Foo\n- (void)bar;\n@end\n")
	_, err := New(WithBackend(BackendTreeSitter)).Parse("foo.h", src)

	var perr *errors.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Error(), "builtin parser backend")
}

func TestTreeSitter_SyntaxError(t *testing.T) {
	t.Parallel()

	src := []byte("int ok(void);\n\nint broken(int x;\n")
	_, err := New(WithBackend(BackendTreeSitter)).Parse("broken.h", src)

	var perr *errors.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "broken.h", perr.Location.File)
	assert.GreaterOrEqual(t, perr.Location.Line, 3)
}

func TestTreeSitter_UnnamedBitFields(t *testing.T) {
	t.Parallel()

	src := []byte("struct K { unsigned int :0; char a; unsigned int b : 3; unsigned int : 4; };\n")

	builtin, err := New().Parse("k.h", src)
	require.NoError(t, err)
	ts, err := New(WithBackend(BackendTreeSitter)).Parse("k.h", src)
	require.NoError(t, err)

	want := mustLookup(t, builtin, "K", model.SymbolStruct)
	got := mustLookup(t, ts, "K", model.SymbolStruct)
	require.Len(t, got.Struct.Fields, len(want.Struct.Fields))
	for i, f := range want.Struct.Fields {
		assert.Equal(t, f.Name, got.Struct.Fields[i].Name, "field %d", i)
		assert.Equal(t, f.BitWidth, got.Struct.Fields[i].BitWidth, "field %d", i)
		assert.Equal(t, f.Type.String(), got.Struct.Fields[i].Type.String(), "field %d", i)
	}
	assert.Equal(t, -1, got.Struct.Fields[0].BitWidth, "zero width")
	assert.Equal(t, "", got.Struct.Fields[3].Name)
}

func TestTreeSitter_BlanksExportMacros(t *testing.T) {
	t.Parallel()

	src, err := os.ReadFile("testdata/native_add_library.h")
	require.NoError(t, err)

	unit, err := New(WithBackend(BackendTreeSitter)).Parse("native_add_library.h", src)
	require.NoError(t, err)

	sym, ok := unit.Lookup("foo_free_wrapper")
	require.True(t, ok)
	assert.Equal(t, "void (void*)", signature(sym.Function.Signature))
	_, ok = unit.Lookup("foo_allocate")
	assert.True(t, ok)
}

func TestBlankMacros(t *testing.T) {
	t.Parallel()

	src := []byte("#define API __attribute__((visibility(\"default\")))\nAPI int f(void);\n#ifdef __cplusplus\nextern \"C\" {\n#endif\n")
	out := blankMacros(src, nil)

	require.Len(t, out, len(src))
	assert.Contains(t, string(out), "    int f(void);")
	assert.NotContains(t, string(out), "extern")
}

func TestAutoBackend(t *testing.T) {
	t.Parallel()

	p := New(WithBackend(BackendAuto))
	assert.Equal(t, BackendTreeSitter, p.backendFor("lib/impl.c"))
	assert.Equal(t, BackendBuiltin, p.backendFor("lib/api.h"))
	assert.Equal(t, BackendBuiltin, New().backendFor("lib/impl.c"))
}

func names(u *model.Unit) []string {
	out := make([]string, 0, len(u.Symbols))
	for _, s := range u.Symbols {
		out = append(out, s.Name)
	}
	return out
}

func signature(s *model.BlockSignature) string {
	return (&model.Type{Kind: model.KindFunction, Signature: s}).String()
}
