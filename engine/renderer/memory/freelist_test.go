package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreeListFirstFitWithAlignment(t *testing.T) {
	f := newFreeList(1024)

	a, ok := f.allocate(10, 1)
	require.True(t, ok)
	assert.Equal(t, uint64(0), a)

	b, ok := f.allocate(64, 256)
	require.True(t, ok)
	assert.Equal(t, uint64(256), b)

	// the padding in front of b is still usable
	c, ok := f.allocate(100, 4)
	require.True(t, ok)
	assert.Equal(t, uint64(12), c)

	assert.Equal(t, uint64(1024-10-64-100), f.available())
}

func TestFreeListCoalesces(t *testing.T) {
	f := newFreeList(300)
	a, _ := f.allocate(100, 1)
	b, _ := f.allocate(100, 1)
	c, _ := f.allocate(100, 1)
	_, ok := f.allocate(1, 1)
	assert.False(t, ok)

	require.NoError(t, f.free(a, 100))
	require.NoError(t, f.free(c, 100))
	assert.Len(t, f.ranges, 2)
	require.NoError(t, f.free(b, 100))
	assert.True(t, f.empty())

	whole, ok := f.allocate(300, 1)
	require.True(t, ok)
	assert.Equal(t, uint64(0), whole)
}

func TestFreeListRejectsDoubleFree(t *testing.T) {
	f := newFreeList(128)
	a, _ := f.allocate(32, 1)
	require.NoError(t, f.free(a, 32))
	assert.Error(t, f.free(a, 32))
	assert.Error(t, f.free(120, 16), "range past the end")
}

func TestAlignUpNonPowerOfTwo(t *testing.T) {
	assert.Equal(t, uint64(12), alignUp(10, 6))
	assert.Equal(t, uint64(12), alignUp(12, 6))
	assert.Equal(t, uint64(16), alignUp(9, 8))
}
