package pool

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/command"
	"github.com/spaghettifunk/anima-core/engine/renderer/descriptors"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
	"github.com/spaghettifunk/anima-core/engine/renderer/headless"
	"github.com/spaghettifunk/anima-core/engine/renderer/memory"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-core/engine/renderer/resources"
)

type fixture struct {
	dev      *headless.Device
	buffers  *resources.BufferManager
	deletion *resources.DeletionQueue
	tracker  *command.Tracker
	pools    *Allocator
}

func newFixture(t *testing.T, cfg core.PoolConfig) *fixture {
	t.Helper()
	dev := headless.New(headless.Options{})
	alloc := memory.NewAllocator(dev, core.DefaultConfig().Memory)
	f := &fixture{
		dev:      dev,
		buffers:  resources.NewBufferManager(dev, alloc),
		deletion: resources.NewDeletionQueue(2),
		tracker:  command.NewTracker(),
	}
	var err error
	f.pools, err = NewAllocator(f.buffers, f.tracker, f.deletion, cfg)
	require.NoError(t, err)
	return f
}

// flush records and submits the pending pool uploads as frame n.
func (f *fixture) flush(t *testing.T, n uint64) {
	t.Helper()
	f.pools.BeginFrame(n)
	rec := command.NewRecorder(f.dev, f.tracker, f.buffers, nil, f.deletion)
	cb, err := f.dev.NewCommandBuffer()
	require.NoError(t, err)
	require.NoError(t, rec.Begin(cb, n))
	require.NoError(t, f.pools.Flush(rec))
	require.NoError(t, rec.End())
	require.NoError(t, f.dev.Submit(&driver.Submission{CommandBuffer: cb}))
	require.NoError(t, rec.Commit())
	f.pools.Commit()
}

func instance(i int) metadata.InstanceData {
	return metadata.InstanceData{
		Model:         mgl32.Translate3D(float32(i), 0, 0),
		Color:         mgl32.Vec4{1, 1, 1, 1},
		MaterialIndex: uint32(i),
	}
}

// gpuMaterialIndex reads the material index of a slot back from the device.
func (f *fixture) gpuMaterialIndex(t *testing.T, h metadata.InstanceHandle) uint32 {
	t.Helper()
	bh, err := f.pools.Buffer(h)
	require.NoError(t, err)
	native, err := f.buffers.Native(bh)
	require.NoError(t, err)
	raw := f.dev.BufferContents(native)
	off := int(h.Slot)*descriptors.InstanceStride + descriptors.InstanceMaterialIndexOffset
	return binary.LittleEndian.Uint32(raw[off:])
}

func (f *fixture) gpuTranslationX(t *testing.T, h metadata.InstanceHandle) float32 {
	t.Helper()
	bh, _ := f.pools.Buffer(h)
	native, _ := f.buffers.Native(bh)
	raw := f.dev.BufferContents(native)
	// column 3, row 0 of the model matrix
	off := int(h.Slot)*descriptors.InstanceStride + descriptors.InstanceModelOffset + 48
	return math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
}

func TestGrowthKeepsHandlesStable(t *testing.T) {
	f := newFixture(t, core.PoolConfig{InitialCapacity: 4, GrowthFactor: 1.5, MaxPoolSize: 64})
	mesh := uuid.New()

	var handles []metadata.InstanceHandle
	for i := 0; i < 4; i++ {
		h, err := f.pools.Request(mesh, metadata.ArchetypeStandardPBR)
		require.NoError(t, err)
		require.NoError(t, f.pools.Update(h, instance(i)))
		handles = append(handles, h)
	}
	f.flush(t, 0)
	first, _ := f.pools.Buffer(handles[0])
	assert.EqualValues(t, 4, f.pools.Stats().Capacity)

	h, err := f.pools.Request(mesh, metadata.ArchetypeStandardPBR)
	require.NoError(t, err)
	require.NoError(t, f.pools.Update(h, instance(4)))
	handles = append(handles, h)

	st := f.pools.Stats()
	assert.EqualValues(t, 6, st.Capacity, "ceil(4 * 1.5)")
	assert.Equal(t, 1, st.Grows)
	assert.Equal(t, 5, st.Instances)
	grown, _ := f.pools.Buffer(handles[0])
	assert.NotEqual(t, first, grown)

	f.flush(t, 1)
	assert.Empty(t, f.dev.Hazards())
	for i, h := range handles {
		assert.Equal(t, uint32(i), h.Slot)
		data, err := f.pools.Get(h)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), data.MaterialIndex)
		assert.Equal(t, uint32(i), f.gpuMaterialIndex(t, h), "slot %d on the device", i)
		assert.Equal(t, float32(i), f.gpuTranslationX(t, h))
	}

	// the old buffer outlives the frame that copied from it
	assert.True(t, f.buffers.Valid(first))
	f.deletion.Collect(3)
	assert.False(t, f.buffers.Valid(first))
}

func TestGrowthCopiesWithoutReupload(t *testing.T) {
	f := newFixture(t, core.PoolConfig{InitialCapacity: 2, GrowthFactor: 2, MaxPoolSize: 16})
	mesh := uuid.New()
	a, _ := f.pools.Request(mesh, metadata.ArchetypeUnlit)
	b, _ := f.pools.Request(mesh, metadata.ArchetypeUnlit)
	require.NoError(t, f.pools.Update(a, instance(7)))
	require.NoError(t, f.pools.Update(b, instance(8)))
	f.flush(t, 0)

	c, err := f.pools.Request(mesh, metadata.ArchetypeUnlit)
	require.NoError(t, err)
	f.flush(t, 1)
	assert.EqualValues(t, descriptors.InstanceStride, f.pools.Stats().Uploaded, "only the new slot is uploaded")

	var copies int
	for _, c := range f.dev.LastSubmission() {
		if c.Op == headless.OpCopyBuffer {
			copies++
		}
	}
	assert.Equal(t, 1, copies)
	assert.Equal(t, uint32(7), f.gpuMaterialIndex(t, a))
	assert.Equal(t, uint32(8), f.gpuMaterialIndex(t, b))
	assert.Equal(t, uint32(0), f.gpuMaterialIndex(t, c))
	assert.Empty(t, f.dev.Hazards())
}

func TestPoolExhaustion(t *testing.T) {
	f := newFixture(t, core.PoolConfig{InitialCapacity: 4, GrowthFactor: 1.5, MaxPoolSize: 9})
	mesh := uuid.New()

	var handles []metadata.InstanceHandle
	for i := 0; i < 9; i++ {
		h, err := f.pools.Request(mesh, metadata.ArchetypeStandardPBR)
		require.NoError(t, err, "request %d", i)
		handles = append(handles, h)
	}
	before := f.pools.Stats()
	assert.EqualValues(t, 9, before.Capacity, "4 -> 6 -> 9")
	live := f.buffers.Live()

	_, err := f.pools.Request(mesh, metadata.ArchetypeStandardPBR)
	assert.ErrorIs(t, err, core.ErrPoolExhausted)
	assert.Equal(t, before, f.pools.Stats(), "nothing was allocated")
	assert.Equal(t, live, f.buffers.Live())
	for _, h := range handles {
		_, err := f.pools.Get(h)
		assert.NoError(t, err)
	}

	// a freed slot can be handed out again
	require.NoError(t, f.pools.Release(handles[3]))
	h, err := f.pools.Request(mesh, metadata.ArchetypeStandardPBR)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), h.Slot)
	assert.NotEqual(t, handles[3].Generation, h.Generation)
	_, err = f.pools.Get(handles[3])
	assert.ErrorIs(t, err, core.ErrInvalidHandle)

	// another archetype is another pool
	_, err = f.pools.Request(mesh, metadata.ArchetypeTransparentPBR)
	assert.NoError(t, err)
	assert.Equal(t, 2, f.pools.Stats().Pools)
}

func TestPoolFreedWithLastInstance(t *testing.T) {
	f := newFixture(t, core.DefaultConfig().Pools)
	mesh := uuid.New()
	a, err := f.pools.Request(mesh, metadata.ArchetypeStandardPBR)
	require.NoError(t, err)
	b, err := f.pools.Request(mesh, metadata.ArchetypeStandardPBR)
	require.NoError(t, err)
	f.flush(t, 0)
	buf, _ := f.pools.Buffer(a)

	f.pools.BeginFrame(4)
	require.NoError(t, f.pools.Release(a))
	assert.Equal(t, 1, f.pools.Stats().Pools)
	require.NoError(t, f.pools.Release(b))
	assert.Zero(t, f.pools.Stats().Pools)
	assert.ErrorIs(t, f.pools.Release(b), core.ErrInvalidHandle)
	assert.ErrorIs(t, f.pools.Update(a, instance(1)), core.ErrInvalidHandle)

	assert.True(t, f.buffers.Valid(buf), "frame 4 may still read it")
	f.deletion.Collect(6)
	assert.False(t, f.buffers.Valid(buf))

	// requesting again builds a fresh pool
	c, err := f.pools.Request(mesh, metadata.ArchetypeStandardPBR)
	require.NoError(t, err)
	assert.NotEqual(t, a.Pool, c.Pool)
	assert.Equal(t, uint32(0), c.Slot)
}

func TestRequestDefaultsAndDirtyRange(t *testing.T) {
	f := newFixture(t, core.DefaultConfig().Pools)
	mesh := uuid.New()
	var hs []metadata.InstanceHandle
	for i := 0; i < 10; i++ {
		h, err := f.pools.Request(mesh, metadata.ArchetypeUnlitTransparent)
		require.NoError(t, err)
		hs = append(hs, h)
	}
	d, err := f.pools.Get(hs[0])
	require.NoError(t, err)
	assert.Equal(t, mgl32.Ident4(), d.Model)
	assert.Equal(t, mgl32.Vec4{1, 1, 1, 1}, d.Color)

	f.flush(t, 0)
	assert.EqualValues(t, 10*descriptors.InstanceStride, f.pools.Stats().Uploaded)

	require.NoError(t, f.pools.Update(hs[2], instance(2)))
	require.NoError(t, f.pools.Update(hs[5], instance(5)))
	f.flush(t, 1)
	assert.EqualValues(t, 4*descriptors.InstanceStride, f.pools.Stats().Uploaded, "slots 2 through 5")

	f.flush(t, 2)
	assert.Zero(t, f.pools.Stats().Uploaded)
	assert.Empty(t, f.dev.Hazards())
}

func TestRejectsBadInput(t *testing.T) {
	f := newFixture(t, core.DefaultConfig().Pools)
	_, err := f.pools.Request(uuid.New(), metadata.Archetype(42))
	assert.ErrorIs(t, err, core.ErrInvalidOperation)
	assert.ErrorIs(t, f.pools.Release(metadata.InstanceHandle{}), core.ErrInvalidHandle)

	_, err = NewAllocator(f.buffers, f.tracker, f.deletion, core.PoolConfig{InitialCapacity: 8, GrowthFactor: 1.5, MaxPoolSize: 4})
	assert.ErrorIs(t, err, core.ErrInvalidOperation)
	_, err = NewAllocator(f.buffers, f.tracker, f.deletion, core.PoolConfig{InitialCapacity: 8, GrowthFactor: 1, MaxPoolSize: 16})
	assert.ErrorIs(t, err, core.ErrInvalidOperation)
}

func TestUnsubmittedFlushIsRecordedAgain(t *testing.T) {
	f := newFixture(t, core.PoolConfig{InitialCapacity: 2, GrowthFactor: 2, MaxPoolSize: 16})
	mesh := uuid.New()
	a, _ := f.pools.Request(mesh, metadata.ArchetypeUnlit)
	b, _ := f.pools.Request(mesh, metadata.ArchetypeUnlit)
	require.NoError(t, f.pools.Update(a, instance(7)))
	require.NoError(t, f.pools.Update(b, instance(8)))
	f.flush(t, 0)
	old, _ := f.pools.Buffer(a)

	c, err := f.pools.Request(mesh, metadata.ArchetypeUnlit)
	require.NoError(t, err)
	require.NoError(t, f.pools.Update(c, instance(9)))

	// frame 1 is recorded and then dropped
	f.pools.BeginFrame(1)
	rec := command.NewRecorder(f.dev, f.tracker, f.buffers, nil, f.deletion)
	cb, err := f.dev.NewCommandBuffer()
	require.NoError(t, err)
	require.NoError(t, rec.Begin(cb, 1))
	require.NoError(t, f.pools.Flush(rec))
	require.NoError(t, rec.End())
	rec.Discard()

	f.deletion.Collect(10)
	assert.True(t, f.buffers.Valid(old), "the growth copy has not reached the device")

	f.flush(t, 2)
	assert.Empty(t, f.dev.Hazards())
	assert.Equal(t, uint32(7), f.gpuMaterialIndex(t, a))
	assert.Equal(t, uint32(8), f.gpuMaterialIndex(t, b))
	assert.Equal(t, uint32(9), f.gpuMaterialIndex(t, c))
	assert.True(t, f.buffers.Valid(old))
	f.deletion.Collect(4)
	assert.False(t, f.buffers.Valid(old))

	f.flush(t, 3)
	assert.Zero(t, f.pools.Stats().Uploaded)
}

func TestReleasedPoolsLeaveNoTrackerState(t *testing.T) {
	f := newFixture(t, core.PoolConfig{InitialCapacity: 2, GrowthFactor: 2, MaxPoolSize: 16})
	for i := 0; i < 8; i++ {
		mesh := uuid.New()
		var hs []metadata.InstanceHandle
		for j := 0; j < 3; j++ {
			h, err := f.pools.Request(mesh, metadata.ArchetypeStandardPBR)
			require.NoError(t, err)
			hs = append(hs, h)
		}
		f.flush(t, uint64(i))
		for _, h := range hs {
			require.NoError(t, f.pools.Release(h))
		}
	}
	assert.Positive(t, f.deletion.Len())
	f.deletion.Flush()
	assert.Zero(t, f.tracker.Len())
	assert.Zero(t, f.buffers.Live())
}
