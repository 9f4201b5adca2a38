package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueFixed(t *testing.T) {
	q := NewRingQueue[int](2)
	require.NoError(t, q.Enqueue(1))
	require.NoError(t, q.Enqueue(2))
	assert.ErrorIs(t, q.Enqueue(3), ErrQueueFull)

	v, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, q.Enqueue(3))
	v, _ = q.Dequeue()
	assert.Equal(t, 2, v)
	v, _ = q.Dequeue()
	assert.Equal(t, 3, v)

	_, err = q.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestRingQueueGrowableKeepsOrder(t *testing.T) {
	q := NewGrowableRingQueue[int](2)
	require.NoError(t, q.Enqueue(1))
	require.NoError(t, q.Enqueue(2))
	_, _ = q.Dequeue()
	for i := 3; i <= 6; i++ {
		require.NoError(t, q.Enqueue(i))
	}
	assert.Equal(t, 5, q.Len())

	head, err := q.Peek()
	require.NoError(t, err)
	assert.Equal(t, 2, head)

	for want := 2; want <= 6; want++ {
		v, err := q.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
	assert.True(t, q.IsEmpty())
}
