package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_ReusesIdenticalUnits(t *testing.T) {
	t.Parallel()

	cache, err := NewCache(16)
	require.NoError(t, err)
	defer cache.Close()

	p := New(WithCache(cache))
	src := []byte("int add(int a, int b);\n")

	first, err := p.Parse("add.h", src)
	require.NoError(t, err)
	second, err := p.Parse("add.h", src)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.EqualValues(t, 1, cache.Hits())

	changed, err := p.Parse("add.h", []byte("int add(int a, int b);\nint sub(int a, int b);\n"))
	require.NoError(t, err)
	assert.NotSame(t, first, changed)
	assert.Len(t, changed.Symbols, 2)
}

func TestCacheKey(t *testing.T) {
	t.Parallel()

	src := []byte("int x;")
	assert.Equal(t, cacheKey("a.h", BackendBuiltin, src), cacheKey("a.h", BackendBuiltin, src))
	assert.NotEqual(t, cacheKey("a.h", BackendBuiltin, src), cacheKey("b.h", BackendBuiltin, src))
	assert.NotEqual(t, cacheKey("a.h", BackendBuiltin, src), cacheKey("a.h", BackendTreeSitter, src))
}
