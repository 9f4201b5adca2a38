package command

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
	"github.com/spaghettifunk/anima-core/engine/renderer/headless"
	"github.com/spaghettifunk/anima-core/engine/renderer/memory"
	"github.com/spaghettifunk/anima-core/engine/renderer/resources"
)

type env struct {
	dev      *headless.Device
	buffers  *resources.BufferManager
	images   *resources.ImageManager
	tracker  *Tracker
	deletion *resources.DeletionQueue
	rec      *Recorder
}

func newEnv(t *testing.T, opts headless.Options) *env {
	t.Helper()
	dev := headless.New(opts)
	alloc := memory.NewAllocator(dev, core.DefaultConfig().Memory)
	e := &env{
		dev:      dev,
		buffers:  resources.NewBufferManager(dev, alloc),
		images:   resources.NewImageManager(dev, alloc),
		tracker:  NewTracker(),
		deletion: resources.NewDeletionQueue(2),
	}
	e.rec = NewRecorder(dev, e.tracker, e.buffers, e.images, e.deletion)
	return e
}

func (e *env) vertexBuffer(t *testing.T, size uint64) resources.BufferHandle {
	t.Helper()
	h, err := e.buffers.Create(driver.MemoryDeviceLocal, size, driver.UsageVertex|driver.UsageTransferDst|driver.UsageTransferSrc)
	require.NoError(t, err)
	return h
}

func (e *env) begin(t *testing.T, frame uint64) driver.CommandBuffer {
	t.Helper()
	cb, err := e.dev.NewCommandBuffer()
	require.NoError(t, err)
	require.NoError(t, e.rec.Begin(cb, frame))
	return cb
}

func (e *env) submit(t *testing.T, cb driver.CommandBuffer) {
	t.Helper()
	require.NoError(t, e.rec.End())
	require.NoError(t, e.dev.Submit(&driver.Submission{CommandBuffer: cb}))
	require.NoError(t, e.rec.Commit())
}

func (e *env) draw(t *testing.T, vb resources.BufferHandle) {
	t.Helper()
	e.rec.BeginRenderPass(0, driver.ClearValues{})
	require.NoError(t, e.rec.BindVertexBuffers(0, vb))
	e.rec.DrawIndexed(3, 1, 0, 0, 0)
	e.rec.EndRenderPass()
}

func hazardKinds(dev *headless.Device) []driver.HazardKind {
	var kinds []driver.HazardKind
	for _, h := range dev.Hazards() {
		kinds = append(kinds, h.Kind)
	}
	return kinds
}

func barriersOf(cmds []headless.Command) []*driver.Dependency {
	var deps []*driver.Dependency
	for _, c := range cmds {
		if c.Op == headless.OpPipelineBarrier {
			deps = append(deps, c.Dependency)
		}
	}
	return deps
}

func TestWriteAfterReadWithoutBarrierIsReported(t *testing.T) {
	e := newEnv(t, headless.Options{})
	vb := e.vertexBuffer(t, 256)

	cb := e.begin(t, 0)
	e.rec.SetAutoBarriers(false)
	e.draw(t, vb)
	require.NoError(t, e.rec.WriteBuffer(vb, 0, make([]byte, 64)))
	e.submit(t, cb)

	assert.Equal(t, []driver.HazardKind{driver.WriteAfterRead}, hazardKinds(e.dev))
	assert.Empty(t, barriersOf(e.dev.LastSubmission()))
}

func TestWriteAfterReadBarrierRemovesHazard(t *testing.T) {
	e := newEnv(t, headless.Options{})
	vb := e.vertexBuffer(t, 256)

	cb := e.begin(t, 0)
	e.draw(t, vb)
	require.NoError(t, e.rec.WriteBuffer(vb, 0, make([]byte, 64)))
	e.submit(t, cb)

	assert.Empty(t, e.dev.Hazards())
	deps := barriersOf(e.dev.LastSubmission())
	require.Len(t, deps, 1)
	require.Len(t, deps[0].Buffers, 1)
	bar := deps[0].Buffers[0].Barrier
	// execution half: vertex input before transfer
	assert.Equal(t, driver.StageVertexInput, bar.SyncBefore)
	assert.Equal(t, driver.StageTransfer, bar.SyncAfter)
	// memory half: attribute reads before transfer writes
	assert.Equal(t, driver.AccessVertexAttributeRead, bar.AccessBefore)
	assert.Equal(t, driver.AccessTransferWrite, bar.AccessAfter)
	assert.Equal(t, 1, e.rec.Stats().Barriers)
}

func TestReadAfterWrite(t *testing.T) {
	t.Run("raw recording is reported", func(t *testing.T) {
		e := newEnv(t, headless.Options{})
		vb := e.vertexBuffer(t, 256)
		cb := e.begin(t, 0)
		e.rec.SetAutoBarriers(false)
		require.NoError(t, e.rec.WriteBuffer(vb, 0, make([]byte, 64)))
		e.draw(t, vb)
		e.submit(t, cb)
		assert.Equal(t, []driver.HazardKind{driver.ReadAfterWrite}, hazardKinds(e.dev))
	})

	t.Run("undeclared read is refused", func(t *testing.T) {
		e := newEnv(t, headless.Options{})
		vb := e.vertexBuffer(t, 256)
		cb := e.begin(t, 0)
		require.NoError(t, e.rec.WriteBuffer(vb, 0, make([]byte, 64)))
		e.draw(t, vb)
		assert.ErrorIs(t, e.rec.End(), core.ErrInvalidOperation)
		_ = cb
	})

	t.Run("declared read gets a barrier", func(t *testing.T) {
		e := newEnv(t, headless.Options{})
		vb := e.vertexBuffer(t, 256)
		cb := e.begin(t, 0)
		require.NoError(t, e.rec.WriteBuffer(vb, 0, make([]byte, 64)))
		require.NoError(t, e.rec.UseBuffers(ScopeVertexRead, vb))
		e.draw(t, vb)
		e.submit(t, cb)
		assert.Empty(t, e.dev.Hazards())

		deps := barriersOf(e.dev.LastSubmission())
		require.Len(t, deps, 1)
		bar := deps[0].Buffers[0].Barrier
		assert.Equal(t, driver.StageTransfer, bar.SyncBefore)
		assert.Equal(t, driver.AccessTransferWrite, bar.AccessBefore)
		assert.Equal(t, driver.StageVertexInput, bar.SyncAfter)
		assert.Equal(t, driver.AccessVertexAttributeRead, bar.AccessAfter)
	})
}

func TestWriteAfterWrite(t *testing.T) {
	for _, auto := range []bool{false, true} {
		e := newEnv(t, headless.Options{})
		vb := e.vertexBuffer(t, 256)
		cb := e.begin(t, 0)
		e.rec.SetAutoBarriers(auto)
		require.NoError(t, e.rec.WriteBuffer(vb, 0, make([]byte, 64)))
		require.NoError(t, e.rec.WriteBuffer(vb, 32, make([]byte, 64)))
		e.submit(t, cb)
		if auto {
			assert.Empty(t, e.dev.Hazards())
		} else {
			assert.Equal(t, []driver.HazardKind{driver.WriteAfterWrite}, hazardKinds(e.dev))
		}
	}
}

func TestTrackerSpansSubmissions(t *testing.T) {
	e := newEnv(t, headless.Options{})
	vb := e.vertexBuffer(t, 256)

	for frame := uint64(0); frame < 4; frame++ {
		cb := e.begin(t, frame)
		require.NoError(t, e.rec.WriteBuffer(vb, 0, bytes.Repeat([]byte{byte(frame)}, 64)))
		require.NoError(t, e.rec.UseBuffers(ScopeVertexRead, vb))
		e.draw(t, vb)
		e.submit(t, cb)
	}
	assert.Empty(t, e.dev.Hazards(), "the read of frame N is ordered before the write of frame N+1")
	native, _ := e.buffers.Native(vb)
	assert.Equal(t, byte(3), e.dev.BufferContents(native)[0])
}

func TestLargeWriteGoesThroughStaging(t *testing.T) {
	e := newEnv(t, headless.Options{})
	vb := e.vertexBuffer(t, 1<<17)
	data := bytes.Repeat([]byte{0xab}, 70000)
	live := e.buffers.Live()

	cb := e.begin(t, 5)
	require.NoError(t, e.rec.WriteBuffer(vb, 16, data))
	e.submit(t, cb)

	cmds := e.dev.LastSubmission()
	require.Len(t, cmds, 1)
	assert.Equal(t, headless.OpCopyBuffer, cmds[0].Op)
	native, _ := e.buffers.Native(vb)
	assert.Equal(t, data, e.dev.BufferContents(native)[16:16+len(data)])

	assert.Equal(t, live+1, e.buffers.Live(), "staging buffer kept until the frame completes")
	assert.Zero(t, e.deletion.Collect(6))
	assert.Equal(t, 1, e.deletion.Collect(7))
	assert.Equal(t, live, e.buffers.Live())
}

func TestHostVisibleWriteIsDirect(t *testing.T) {
	e := newEnv(t, headless.Options{})
	ubo, err := e.buffers.Create(driver.MemoryHostVisible, 64, driver.UsageUniform)
	require.NoError(t, err)
	cb := e.begin(t, 0)
	require.NoError(t, e.rec.WriteBuffer(ubo, 0, []byte{1, 2, 3, 4}))
	e.submit(t, cb)
	assert.Empty(t, e.dev.LastSubmission())
	got, err := e.buffers.Read(ubo, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)
}

func TestUploadImage(t *testing.T) {
	e := newEnv(t, headless.Options{})
	tex, err := e.images.Create(resources.ImageDesc{ImageDesc: driver.ImageDesc{
		Width: 2, Height: 2, Format: driver.FormatRGBA8Unorm, Usage: driver.ImageSampled | driver.ImageTransferDst,
	}})
	require.NoError(t, err)
	pixels := bytes.Repeat([]byte{10, 20, 30, 255}, 4)

	for frame := uint64(0); frame < 2; frame++ {
		cb := e.begin(t, frame)
		require.NoError(t, e.rec.UploadImage(tex, pixels))
		e.submit(t, cb)
	}
	assert.Empty(t, e.dev.Hazards())

	layout, err := e.images.Layout(tex)
	require.NoError(t, err)
	assert.Equal(t, driver.LayoutShaderReadOnly, layout)
	native, _ := e.images.Native(tex)
	assert.Equal(t, driver.LayoutShaderReadOnly, e.dev.ImageLayout(native))
	assert.Equal(t, pixels, e.dev.ImageContents(native)[:16])

	cb := e.begin(t, 2)
	assert.ErrorIs(t, e.rec.UploadImage(tex, pixels[:4]), core.ErrInvalidOperation)
	e.submit(t, cb)
}

func TestStateMachine(t *testing.T) {
	e := newEnv(t, headless.Options{})
	vb := e.vertexBuffer(t, 64)

	assert.ErrorIs(t, e.rec.End(), core.ErrInvalidOperation, "end before begin")
	assert.ErrorIs(t, e.rec.WriteBuffer(vb, 0, make([]byte, 4)), core.ErrInvalidOperation)

	cb := e.begin(t, 0)
	assert.ErrorIs(t, e.rec.Begin(cb, 0), core.ErrInvalidOperation)
	e.rec.DrawIndexed(3, 1, 0, 0, 0)
	assert.ErrorIs(t, e.rec.End(), core.ErrInvalidOperation, "draw outside a render pass")

	cb = e.begin(t, 1)
	e.rec.BeginRenderPass(0, driver.ClearValues{})
	assert.Equal(t, StateInRenderPass, e.rec.State())
	assert.ErrorIs(t, e.rec.WriteBuffer(vb, 0, make([]byte, 4)), core.ErrInvalidOperation)
	assert.ErrorIs(t, e.rec.UseBuffers(ScopeVertexRead, vb), core.ErrInvalidOperation)
	e.rec.EndRenderPass()
	assert.ErrorIs(t, e.rec.WriteBuffer(vb, 60, make([]byte, 8)), core.ErrInvalidOperation, "past the end")
	e.submit(t, cb)
	assert.Equal(t, StateSubmitted, e.rec.State())
	assert.ErrorIs(t, e.rec.Commit(), core.ErrInvalidOperation, "committed twice")

	require.NoError(t, e.buffers.Destroy(vb))
	cb = e.begin(t, 2)
	assert.ErrorIs(t, e.rec.WriteBuffer(vb, 0, make([]byte, 4)), core.ErrInvalidHandle)
	e.submit(t, cb)
}

func TestImmediate(t *testing.T) {
	e := newEnv(t, headless.Options{})
	vb := e.vertexBuffer(t, 1<<17)
	live := e.buffers.Live()
	data := bytes.Repeat([]byte{7}, 80000)

	err := Immediate(e.dev, e.tracker, e.buffers, e.images, time.Second, func(r *Recorder) error {
		return r.WriteBuffer(vb, 0, data)
	})
	require.NoError(t, err)
	assert.Equal(t, live, e.buffers.Live(), "staging released after the wait")
	native, _ := e.buffers.Native(vb)
	assert.Equal(t, byte(7), e.dev.BufferContents(native)[79999])

	e.dev.Hang(true)
	err = Immediate(e.dev, e.tracker, e.buffers, e.images, 20*time.Millisecond, func(r *Recorder) error {
		return r.WriteBuffer(vb, 0, data[:64])
	})
	assert.ErrorIs(t, err, core.ErrDeviceLost)
}

func TestDiscardRestoresTracking(t *testing.T) {
	e := newEnv(t, headless.Options{})
	vb := e.vertexBuffer(t, 1<<17)
	native, _ := e.buffers.Native(vb)
	tex, err := e.images.Create(resources.ImageDesc{ImageDesc: driver.ImageDesc{
		Width: 2, Height: 2, Format: driver.FormatRGBA8Unorm, Usage: driver.ImageSampled | driver.ImageTransferDst,
	}})
	require.NoError(t, err)

	cb := e.begin(t, 0)
	require.NoError(t, e.rec.WriteBuffer(vb, 0, make([]byte, 64)))
	e.submit(t, cb)
	tracked := e.tracker.Len()
	require.Equal(t, driver.ReadAfterWrite, e.tracker.Hazard(native, ScopeVertexRead, false))

	// the barrier and the staging copy of a recording that is never submitted
	cb = e.begin(t, 1)
	require.NoError(t, e.rec.UseBuffers(ScopeVertexRead, vb))
	require.NoError(t, e.rec.WriteBuffer(vb, 0, make([]byte, 70000)))
	require.NoError(t, e.rec.TransitionImage(tex, driver.LayoutTransferDst))
	e.rec.BeginRenderPass(0, driver.ClearValues{})
	e.rec.Discard()

	assert.Equal(t, StateReady, e.rec.State())
	assert.Equal(t, tracked, e.tracker.Len())
	assert.Equal(t, driver.ReadAfterWrite, e.tracker.Hazard(native, ScopeVertexRead, false), "the barrier never ran")
	layout, err := e.images.Layout(tex)
	require.NoError(t, err)
	assert.Equal(t, driver.LayoutUndefined, layout)
	assert.ErrorIs(t, e.rec.Commit(), core.ErrInvalidOperation)

	cb = e.begin(t, 2)
	require.NoError(t, e.rec.UseBuffers(ScopeVertexRead, vb))
	e.draw(t, vb)
	e.submit(t, cb)
	assert.Empty(t, e.dev.Hazards())
	require.Len(t, barriersOf(e.dev.LastSubmission()), 1)
}

func TestImmediateFailureLeavesNoTrackedState(t *testing.T) {
	e := newEnv(t, headless.Options{})
	vb := e.vertexBuffer(t, 1<<17)
	native, _ := e.buffers.Native(vb)
	live := e.buffers.Live()

	err := Immediate(e.dev, e.tracker, e.buffers, e.images, time.Second, func(r *Recorder) error {
		if err := r.WriteBuffer(vb, 0, make([]byte, 80000)); err != nil {
			return err
		}
		return r.WriteBuffer(resources.BufferHandle{}, 0, []byte{1})
	})
	assert.ErrorIs(t, err, core.ErrInvalidHandle)
	assert.Zero(t, e.tracker.Len())
	assert.Equal(t, driver.HazardNone, e.tracker.Hazard(native, ScopeVertexRead, false))
	assert.Equal(t, live, e.buffers.Live(), "staging released")
	assert.Empty(t, e.dev.Submitted())
}
