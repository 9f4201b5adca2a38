package vulkan

import (
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeCallSerializesGroup(t *testing.T) {
	pool := NewVulkanLockPool()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.SafeCall(QueueManagement, func() error {
				v := counter
				counter = v + 1
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 32, counter)
}

func TestSafeCallReturnsError(t *testing.T) {
	pool := NewVulkanLockPool()
	boom := errors.New("boom")
	require.ErrorIs(t, pool.SafeCall(PipelineManagement, func() error { return boom }), boom)
	// the group is usable again after an error
	require.NoError(t, pool.SafeCall(PipelineManagement, func() error { return nil }))
}
