package layout

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ffibind/internal/errors"
	"ffibind/internal/parser"
	"ffibind/internal/resolver"
)

// Test Plan:
// - Struct1 places a at 0 and data at 4 with size 24, total 28
// - Offsets never decrease and every layout is aligned on every platform
// - Unions overlap all members at offset 0
// - Enum width follows the configured policy and fixed underlying types
// - Opaque members and misplaced flexible arrays fail with a LayoutError
// - A trailing flexible array has no size but aligns the struct
// - A written manifest parses back and verifies against the calculator

func graphFor(t *testing.T, src string) *resolver.Graph {
	t.Helper()
	unit, err := parser.Parse("test.h", []byte(src))
	require.NoError(t, err)
	g, err := resolver.Resolve(unit)
	require.NoError(t, err)
	return g
}

func fixtureGraph(t *testing.T) *resolver.Graph {
	t.Helper()
	src, err := os.ReadFile("../parser/testdata/native_test.h")
	require.NoError(t, err)
	return graphFor(t, string(src))
}

func calc(t *testing.T, g *resolver.Graph, platform string, opts ...CalcOption) *Calculator {
	t.Helper()
	p, err := LookupPlatform(platform)
	require.NoError(t, err)
	return NewCalculator(g, p, opts...)
}

func TestCalculator_Struct1(t *testing.T) {
	t.Parallel()

	c := calc(t, fixtureGraph(t), "linux-x64")
	l, err := c.Struct("Struct1")
	require.NoError(t, err)

	a, ok := l.Field("a")
	require.True(t, ok)
	assert.Equal(t, 0, a.Offset)
	assert.Equal(t, 1, a.Size)

	data, ok := l.Field("data")
	require.True(t, ok)
	assert.Equal(t, 4, data.Offset)
	assert.Equal(t, 24, data.Size)

	assert.Equal(t, 28, l.Size)
	assert.Equal(t, 4, l.Align)
}

func TestCalculator_Invariants(t *testing.T) {
	t.Parallel()

	g := fixtureGraph(t)
	for _, name := range PlatformNames() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			layouts, err := calc(t, g, name).All()
			require.NoError(t, err)
			require.NotEmpty(t, layouts)

			for _, l := range layouts {
				sum, last := 0, 0
				for _, f := range l.Fields {
					if !l.Union {
						assert.GreaterOrEqual(t, f.Offset, last, "%s.%s", l.Name, f.Name)
					}
					assert.LessOrEqual(t, f.Offset+f.Size, l.Size, "%s.%s", l.Name, f.Name)
					assert.Zero(t, f.Offset%f.Align, "%s.%s", l.Name, f.Name)
					last = f.Offset
					sum += f.Size
					assert.GreaterOrEqual(t, l.Align, f.Align)
				}
				if !l.Union {
					assert.GreaterOrEqual(t, l.Size, sum, l.Name)
				}
				assert.Zero(t, l.Size%l.Align, l.Name)
			}
		})
	}
}

func TestCalculator_Platforms(t *testing.T) {
	t.Parallel()

	g := graphFor(t, `
struct Mixed {
  char c;
  double d;
  long l;
  void *p;
};
`)

	tests := []struct {
		platform string
		dOffset  int
		lSize    int
		size     int
	}{
		{"linux-x64", 8, 8, 32},
		{"linux-ia32", 4, 4, 20},
		{"linux-arm", 8, 4, 24},
		{"windows-x64", 8, 4, 32},
		{"macos-arm64", 8, 8, 32},
	}
	for _, tt := range tests {
		t.Run(tt.platform, func(t *testing.T) {
			t.Parallel()
			l, err := calc(t, g, tt.platform).Struct("Mixed")
			require.NoError(t, err)
			d, _ := l.Field("d")
			assert.Equal(t, tt.dOffset, d.Offset)
			lf, _ := l.Field("l")
			assert.Equal(t, tt.lSize, lf.Size)
			assert.Equal(t, tt.size, l.Size)
		})
	}
}

func TestCalculator_Union(t *testing.T) {
	t.Parallel()

	l, err := calc(t, fixtureGraph(t), "linux-x64").Struct("Number")
	require.NoError(t, err)
	assert.True(t, l.Union)
	assert.Equal(t, 8, l.Size)
	assert.Equal(t, 8, l.Align)
	for _, f := range l.Fields {
		assert.Zero(t, f.Offset)
	}
}

func TestCalculator_EnumWidth(t *testing.T) {
	t.Parallel()

	g := graphFor(t, `
enum Color { Red, Green };
enum Small : uint8_t { SmallA };
struct Paint {
  char tag;
  enum Color color;
  enum Small small;
};
`)

	l, err := calc(t, g, "linux-x64").Struct("Paint")
	require.NoError(t, err)
	color, _ := l.Field("color")
	assert.Equal(t, 4, color.Offset)
	assert.Equal(t, 4, color.Size)
	small, _ := l.Field("small")
	assert.Equal(t, 1, small.Size)
	assert.Equal(t, 12, l.Size)

	narrow := calc(t, g, "linux-x64", WithEnumPolicy(EnumPolicy{Width: 2, Overrides: map[string]int{"Small": 8}}))
	l, err = narrow.Struct("Paint")
	require.NoError(t, err)
	color, _ = l.Field("color")
	assert.Equal(t, 2, color.Offset)
	assert.Equal(t, 2, color.Size)
	small, _ = l.Field("small")
	assert.Equal(t, 8, small.Offset)
	assert.Equal(t, 16, l.Size)

	w, err := narrow.EnumWidth("Color")
	require.NoError(t, err)
	assert.Equal(t, 2, w)
}

func TestCalculator_BitFields(t *testing.T) {
	t.Parallel()

	g := graphFor(t, `
struct Flags {
  unsigned int a : 3;
  unsigned int b : 30;
  unsigned int : 0;
  unsigned char c : 2;
};
`)
	l, err := calc(t, g, "linux-x64").Struct("Flags")
	require.NoError(t, err)

	a, _ := l.Field("a")
	assert.Equal(t, 0, a.Offset)
	assert.Equal(t, 0, a.BitOffset)
	b, _ := l.Field("b")
	assert.Equal(t, 4, b.Offset, "b does not fit the first unit")
	assert.Equal(t, 0, b.BitOffset)
	c, _ := l.Field("c")
	assert.Equal(t, 8, c.Offset)
	assert.Equal(t, 12, l.Size)
}

func TestCalculator_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		src    string
		symbol string
		field  string
		detail string
	}{
		{
			name:   "opaque by value",
			src:    "struct Hidden;\nstruct Holder { struct Hidden h; };\n",
			symbol: "Holder",
			field:  "h",
			detail: "opaque",
		},
		{
			name:   "flexible array not last",
			src:    "struct Buf { char data[]; int n; };\n",
			symbol: "Buf",
			field:  "data",
			detail: "flexible array",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := calc(t, graphFor(t, tt.src), "linux-x64").Struct(tt.symbol)
			var lerr *errors.LayoutError
			require.ErrorAs(t, err, &lerr)
			assert.Equal(t, tt.symbol, lerr.Symbol)
			assert.Equal(t, tt.field, lerr.Field)
			assert.Contains(t, lerr.Detail, tt.detail)
			assert.Equal(t, "linux-x64", lerr.Platform)
		})
	}

	_, err := calc(t, fixtureGraph(t), "linux-x64").Struct("Opaque")
	var lerr *errors.LayoutError
	require.ErrorAs(t, err, &lerr)
}

func TestCalculator_FlexibleArray(t *testing.T) {
	t.Parallel()

	l, err := calc(t, graphFor(t, "struct Buf { short n; double data[]; };\n"), "linux-x64").Struct("Buf")
	require.NoError(t, err)

	data, ok := l.Field("data")
	require.True(t, ok)
	assert.Equal(t, 8, data.Offset)
	assert.Equal(t, 0, data.Size)
	assert.Equal(t, 8, l.Size, "the flexible member adds padding but no storage")
	assert.Equal(t, 8, l.Align)
}

func TestManifest_RoundTrip(t *testing.T) {
	t.Parallel()

	g := fixtureGraph(t)
	x64 := calc(t, g, "linux-x64")
	ia32 := calc(t, g, "linux-ia32")

	m, err := BuildManifest("native_test.h", x64, ia32)
	require.NoError(t, err)
	data, err := m.Marshal()
	require.NoError(t, err)

	parsed, err := ParseManifest(data)
	require.NoError(t, err)
	assert.Equal(t, m, parsed)
	require.NoError(t, Verify(parsed, x64))
	require.NoError(t, Verify(parsed, ia32))

	// A manifest written for one platform does not verify on another.
	parsed.Platforms["linux-x64"] = parsed.Platforms["linux-ia32"]
	err = Verify(parsed, x64)
	var lerr *errors.LayoutError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "linux-x64", lerr.Platform)
}

func TestParseManifest_Version(t *testing.T) {
	t.Parallel()

	_, err := ParseManifest([]byte("version: 7\nunit: a.h\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version 7")
}

func TestLookupPlatform(t *testing.T) {
	t.Parallel()

	p, err := LookupPlatform("linux-ia32")
	require.NoError(t, err)
	assert.Equal(t, "linux-ia32", p.Name)
	assert.Equal(t, 4, p.PointerSize)

	_, err = LookupPlatform("plan9-mips")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "linux-x64")
}
