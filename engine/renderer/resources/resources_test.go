package resources

import (
	goimage "image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
	"github.com/spaghettifunk/anima-core/engine/renderer/headless"
	"github.com/spaghettifunk/anima-core/engine/renderer/memory"
)

func newManagers(t *testing.T, opts headless.Options, cfg core.MemoryConfig) (*BufferManager, *ImageManager, *headless.Device) {
	t.Helper()
	dev := headless.New(opts)
	alloc := memory.NewAllocator(dev, cfg)
	return NewBufferManager(dev, alloc), NewImageManager(dev, alloc), dev
}

func defaultMemory() core.MemoryConfig {
	return core.DefaultConfig().Memory
}

func TestHandleValidityAfterRandomDestroys(t *testing.T) {
	buffers, _, _ := newManagers(t, headless.Options{}, defaultMemory())
	rng := rand.New(rand.NewSource(42))

	handles := make([]BufferHandle, 200)
	for i := range handles {
		h, err := buffers.Create(driver.MemoryHostVisible, uint64(16+rng.Intn(512)), driver.UsageUniform)
		require.NoError(t, err)
		handles[i] = h
	}

	destroyed := map[int]bool{}
	for _, i := range rng.Perm(len(handles))[:80] {
		require.NoError(t, buffers.Destroy(handles[i]))
		destroyed[i] = true
	}
	// reuse some of the freed slots
	for i := 0; i < 40; i++ {
		_, err := buffers.Create(driver.MemoryDeviceLocal, 64, driver.UsageVertex|driver.UsageTransferDst)
		require.NoError(t, err)
	}

	for i, h := range handles {
		_, err := buffers.Get(h)
		if destroyed[i] {
			assert.ErrorIs(t, err, core.ErrInvalidHandle, "handle %d", i)
			assert.ErrorIs(t, buffers.Destroy(h), core.ErrInvalidHandle)
			assert.ErrorIs(t, buffers.Write(h, 0, []byte{1}), core.ErrInvalidHandle)
		} else {
			assert.NoError(t, err, "handle %d", i)
		}
	}
	assert.Equal(t, 200-80+40, buffers.Live())
}

func TestCreateRejectsIncompatibleUsage(t *testing.T) {
	buffers, _, _ := newManagers(t, headless.Options{}, defaultMemory())

	_, err := buffers.Create(driver.MemoryStaging, 64, driver.UsageVertex)
	assert.ErrorIs(t, err, core.ErrInvalidOperation)
	_, err = buffers.Create(driver.MemoryStaging, 64, driver.UsageTransferSrc|driver.UsageUniform)
	assert.ErrorIs(t, err, core.ErrInvalidOperation)
	_, err = buffers.Create(driver.MemoryHostVisible, 0, driver.UsageUniform)
	assert.ErrorIs(t, err, core.ErrInvalidOperation)

	_, err = buffers.Create(driver.MemoryStaging, 64, driver.UsageTransferSrc)
	assert.NoError(t, err)
}

func TestCreateOutOfMemory(t *testing.T) {
	cfg := defaultMemory()
	cfg.DeviceLocalBlockSize = 1024
	cfg.DeviceLocalBudget = 1024
	buffers, _, _ := newManagers(t, headless.Options{}, cfg)

	_, err := buffers.Create(driver.MemoryDeviceLocal, 1024, driver.UsageVertex)
	require.NoError(t, err)
	_, err = buffers.Create(driver.MemoryDeviceLocal, 16, driver.UsageVertex)
	assert.ErrorIs(t, err, core.ErrOutOfMemory)
	assert.Equal(t, 1, buffers.Live(), "a failed create leaves nothing behind")
}

func TestWriteAndRead(t *testing.T) {
	buffers, _, _ := newManagers(t, headless.Options{}, defaultMemory())
	h, err := buffers.Create(driver.MemoryHostVisible, 32, driver.UsageUniform)
	require.NoError(t, err)

	require.NoError(t, buffers.Write(h, 8, []byte{1, 2, 3}))
	got, err := buffers.Read(h, 8, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	assert.ErrorIs(t, buffers.Write(h, 30, []byte{1, 2, 3}), core.ErrInvalidOperation)

	gpu, err := buffers.Create(driver.MemoryDeviceLocal, 32, driver.UsageVertex)
	require.NoError(t, err)
	assert.ErrorIs(t, buffers.Write(gpu, 0, []byte{1}), core.ErrInvalidOperation)
}

func TestDestroyAllReleasesMemory(t *testing.T) {
	buffers, images, dev := newManagers(t, headless.Options{}, defaultMemory())
	for i := 0; i < 5; i++ {
		_, err := buffers.Create(driver.MemoryDeviceLocal, 128, driver.UsageIndex)
		require.NoError(t, err)
	}
	_, err := images.Create(ImageDesc{ImageDesc: driver.ImageDesc{Width: 8, Height: 8, Format: driver.FormatRGBA8Unorm, Usage: driver.ImageSampled}})
	require.NoError(t, err)

	buffers.DestroyAll()
	images.DestroyAll()
	assert.Equal(t, 0, buffers.Live())
	assert.Equal(t, 0, images.Live())
	// the first block of a pool is kept for reuse
	assert.LessOrEqual(t, dev.LiveAllocations.Load(), int64(1))
}

func TestRecreateOnlyTouchesSwapchainDependentImages(t *testing.T) {
	_, images, _ := newManagers(t, headless.Options{}, defaultMemory())
	depth, err := images.Create(ImageDesc{
		ImageDesc:          driver.ImageDesc{Width: 100, Height: 50, Format: driver.FormatD32Float, Usage: driver.ImageDepthAttachment},
		SwapchainDependent: true,
	})
	require.NoError(t, err)
	tex, err := images.Create(ImageDesc{ImageDesc: driver.ImageDesc{Width: 4, Height: 4, Format: driver.FormatRGBA8Unorm, Usage: driver.ImageSampled}})
	require.NoError(t, err)
	require.NoError(t, images.SetLayout(tex, driver.LayoutShaderReadOnly))
	require.NoError(t, images.SetLayout(depth, driver.LayoutDepthAttachment))

	require.NoError(t, images.Recreate(200, 100))

	d, err := images.Get(depth)
	require.NoError(t, err, "handle survives recreation")
	assert.Equal(t, uint32(200), d.Desc.Width)
	assert.Equal(t, driver.LayoutUndefined, d.Layout)

	tx, _ := images.Get(tex)
	assert.Equal(t, uint32(4), tx.Desc.Width)
	assert.Equal(t, driver.LayoutShaderReadOnly, tx.Layout)
}

func TestImageRejectsDepthColorAttachment(t *testing.T) {
	_, images, _ := newManagers(t, headless.Options{}, defaultMemory())
	_, err := images.Create(ImageDesc{ImageDesc: driver.ImageDesc{Width: 4, Height: 4, Format: driver.FormatD32Float, Usage: driver.ImageColorAttachment}})
	assert.ErrorIs(t, err, core.ErrInvalidOperation)
}

func TestConvertRGBA(t *testing.T) {
	src := goimage.NewNRGBA(goimage.Rect(0, 0, 2, 1))
	src.Set(0, 0, color.NRGBA{R: 255, A: 255})
	src.Set(1, 0, color.NRGBA{B: 255, A: 255})

	pix, w, h := ConvertRGBA(src)
	assert.Equal(t, uint32(2), w)
	assert.Equal(t, uint32(1), h)
	assert.Equal(t, []byte{255, 0, 0, 255, 0, 0, 255, 255}, pix)
}

func TestDeletionQueueWaitsForFramesInFlight(t *testing.T) {
	q := NewDeletionQueue(2)
	var ran []int
	q.Push(5, func() { ran = append(ran, 5) })
	q.Push(6, func() { ran = append(ran, 6) })

	assert.Equal(t, 0, q.Collect(6))
	assert.Equal(t, 1, q.Collect(7))
	assert.Equal(t, []int{5}, ran)
	assert.Equal(t, 1, q.Flush())
	assert.Equal(t, []int{5, 6}, ran)
}
