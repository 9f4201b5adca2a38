package renderer

import (
	"encoding/binary"
	gomath "math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/math"
	"github.com/spaghettifunk/anima-core/engine/renderer/descriptors"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
	"github.com/spaghettifunk/anima-core/engine/renderer/headless"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-core/engine/renderer/pipeline"
	"github.com/spaghettifunk/anima-core/engine/renderer/resources"
)

var testShaders = pipeline.MapShaderSource{
	"pbr.vert":   {0x03, 0x02, 0x23, 0x07},
	"pbr.frag":   {0x03, 0x02, 0x23, 0x07},
	"unlit.vert": {0x03, 0x02, 0x23, 0x07},
	"unlit.frag": {0x03, 0x02, 0x23, 0x07},
}

type harness struct {
	dev    *headless.Device
	pres   *headless.Presenter
	events *core.EventBus
	r      *Renderer
	mesh   *metadata.Mesh
}

func newHarness(t *testing.T, opts headless.Options, configure ...func(*core.Config)) *harness {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.Renderer.Backend = core.BackendHeadless
	cfg.Renderer.FenceTimeoutMS = 50
	cfg.Renderer.AcquireTimeoutMS = 50
	for _, fn := range configure {
		fn(cfg)
	}
	dev := headless.New(opts)
	events := core.NewEventBus()
	r, err := New(Options{Config: cfg, Device: dev, Shaders: testShaders, Events: events})
	require.NoError(t, err)
	t.Cleanup(func() {
		r.Shutdown()
		dev.Close()
	})
	h := &harness{dev: dev, pres: dev.HeadlessPresenter(), events: events, r: r}
	h.mesh, err = r.UploadMesh("quad", quadVertices(), []uint32{0, 1, 2, 2, 3, 0})
	require.NoError(t, err)
	return h
}

func quadVertices() []math.Vertex3D {
	return []math.Vertex3D{
		{Position: mgl32.Vec3{-0.5, -0.5, 0}, Texcoord: mgl32.Vec2{0, 0}},
		{Position: mgl32.Vec3{0.5, -0.5, 0}, Texcoord: mgl32.Vec2{1, 0}},
		{Position: mgl32.Vec3{0.5, 0.5, 0}, Texcoord: mgl32.Vec2{1, 1}},
		{Position: mgl32.Vec3{-0.5, 0.5, 0}, Texcoord: mgl32.Vec2{0, 1}},
	}
}

// spawn places one instance of the harness mesh at z.
func (h *harness) spawn(t *testing.T, mat *metadata.Material, z float32) metadata.RenderEntity {
	t.Helper()
	inst, err := h.r.AcquireInstance(h.mesh, mat.Archetype)
	require.NoError(t, err)
	model := mgl32.Translate3D(0, 0, z)
	require.NoError(t, h.r.UpdateInstance(inst, metadata.InstanceData{Model: model, Color: mgl32.Vec4{1, 1, 1, 1}}))
	return metadata.RenderEntity{Mesh: h.mesh, Material: mat, Instance: inst, Model: model}
}

func packet(entities ...metadata.RenderEntity) *metadata.RenderPacket {
	return &metadata.RenderPacket{
		DeltaTime: 1.0 / 60.0,
		Camera: metadata.CameraData{
			View:       mgl32.Ident4(),
			Projection: mgl32.Perspective(mgl32.DegToRad(45), 16.0/9.0, 0.1, 100),
			Viewport:   mgl32.Vec2{1280, 720},
			Near:       0.1,
			Far:        100,
		},
		Lighting: metadata.Lighting{
			Ambient:     mgl32.Vec4{0.1, 0.1, 0.1, 1},
			Directional: []metadata.DirectionalLight{{Direction: mgl32.Vec3{0, -1, 0}, Color: mgl32.Vec3{1, 1, 1}, Intensity: 1}},
		},
		Entities: entities,
	}
}

type drawn struct {
	pipeline string
	slot     uint32
}

// drawsOf lists the draws of a command stream with the pipeline bound at
// each one.
func drawsOf(cmds []headless.Command) []drawn {
	var out []drawn
	var bound string
	for _, c := range cmds {
		switch c.Op {
		case headless.OpBindPipeline:
			bound = c.Pipeline
		case headless.OpDrawIndexed:
			out = append(out, drawn{pipeline: bound, slot: c.FirstInstance})
		}
	}
	return out
}

var (
	opaqueMat = &metadata.Material{Name: "brick", Archetype: metadata.ArchetypeStandardPBR, Params: metadata.DefaultMaterialParams()}
	glassMat  = &metadata.Material{Name: "glass", Archetype: metadata.ArchetypeTransparentPBR, Params: metadata.DefaultMaterialParams()}
	smokeMat  = &metadata.Material{Name: "smoke", Archetype: metadata.ArchetypeUnlitTransparent, Params: metadata.DefaultMaterialParams()}
)

func TestOpaqueBeforeTransparentBackToFront(t *testing.T) {
	h := newHarness(t, headless.Options{})

	near := h.spawn(t, glassMat, -3)
	wall := h.spawn(t, opaqueMat, -1)
	far := h.spawn(t, glassMat, -9)
	smoke := h.spawn(t, smokeMat, -7)
	mid := h.spawn(t, glassMat, -6)
	floor := h.spawn(t, opaqueMat, -2)

	require.NoError(t, h.r.DrawFrame(packet(near, wall, far, smoke, mid, floor)))
	assert.Empty(t, h.dev.Hazards())

	got := drawsOf(h.dev.LastSubmission())
	assert.Equal(t, []drawn{
		{"standard_pbr", wall.Instance.Slot},
		{"standard_pbr", floor.Instance.Slot},
		{"transparent_pbr", far.Instance.Slot},
		{"unlit_transparent", smoke.Instance.Slot},
		{"transparent_pbr", mid.Instance.Slot},
		{"transparent_pbr", near.Instance.Slot},
	}, got)

	st := h.r.Stats()
	assert.Equal(t, 2, st.Opaque)
	assert.Equal(t, 4, st.Transparent)
	assert.Zero(t, st.Skipped)
	assert.Equal(t, 1, h.pres.Presented)
}

func TestDrawsBindInstanceSlotAndPushConstants(t *testing.T) {
	h := newHarness(t, headless.Options{})
	e := h.spawn(t, opaqueMat, -4)
	require.NoError(t, h.r.DrawFrame(packet(e)))

	var push []byte
	var draws int
	for _, c := range h.dev.LastSubmission() {
		switch c.Op {
		case headless.OpPushConstants:
			push = c.Data
		case headless.OpDrawIndexed:
			draws++
			assert.EqualValues(t, 6, c.IndexCount)
			assert.EqualValues(t, 1, c.InstanceCount)
			assert.Equal(t, e.Instance.Slot, c.FirstInstance)
		}
	}
	assert.Equal(t, 1, draws)
	require.Len(t, push, descriptors.PushConstantSize)
	// z translation sits in column 3, row 2 of the model matrix
	assert.Equal(t, float32(-4), float32frombits(push[descriptors.PushModelOffset+56:]))
}

func float32frombits(b []byte) float32 {
	return gomath.Float32frombits(binary.LittleEndian.Uint32(b))
}

func TestFramesStayHazardFree(t *testing.T) {
	h := newHarness(t, headless.Options{}, func(cfg *core.Config) {
		cfg.Pools.InitialCapacity = 2
	})

	entities := []metadata.RenderEntity{h.spawn(t, opaqueMat, -2), h.spawn(t, glassMat, -5)}
	for frame := 0; frame < 8; frame++ {
		// grow the opaque pool while earlier frames are in flight
		switch frame {
		case 3:
			entities = append(entities, h.spawn(t, opaqueMat, -10), h.spawn(t, opaqueMat, -11))
		case 5:
			entities = append(entities, h.spawn(t, opaqueMat, -12))
		}
		for i := range entities {
			entities[i].Model = mgl32.Translate3D(float32(frame), 0, -float32(i+2))
			require.NoError(t, h.r.UpdateInstance(entities[i].Instance, metadata.InstanceData{
				Model: entities[i].Model,
				Color: mgl32.Vec4{1, 1, 1, 1},
			}))
		}
		verts := quadVertices()
		verts[0].Position = mgl32.Vec3{-0.5, -0.5, float32(frame)}
		require.NoError(t, h.r.QueueBufferUpdate(h.mesh.VertexBuffer, 0, descriptors.EncodeVertices(verts)))

		require.NoError(t, h.r.DrawFrame(packet(entities...)), "frame %d", frame)
		require.Empty(t, h.dev.Hazards(), "frame %d", frame)
		assert.Equal(t, len(entities), h.r.Stats().Opaque+h.r.Stats().Transparent)
	}

	m := h.r.Metrics()
	assert.EqualValues(t, 8, m.FramesSubmitted)
	assert.Zero(t, m.FramesSkipped)
	assert.Equal(t, 8, h.pres.Presented)
	assert.Equal(t, 2, h.r.PoolStats().Grows, "opaque pool 2 -> 3 -> 5")

	// the last update of every instance reached the device
	for i, e := range entities {
		bh, err := h.r.pools.Buffer(e.Instance)
		require.NoError(t, err)
		native, err := h.r.buffers.Native(bh)
		require.NoError(t, err)
		raw := h.dev.BufferContents(native)
		off := int(e.Instance.Slot)*descriptors.InstanceStride + descriptors.InstanceModelOffset + 48
		assert.Equal(t, float32(7), float32frombits(raw[off:]), "instance %d", i)
	}
}

func TestOutOfDateSkipsFrameAndRecreates(t *testing.T) {
	h := newHarness(t, headless.Options{})
	e := h.spawn(t, opaqueMat, -2)
	built := h.dev.PipelinesBuilt.Load()

	h.pres.MarkOutOfDate()
	require.NoError(t, h.r.DrawFrame(packet(e)))
	assert.Equal(t, 1, h.pres.Resizes)
	assert.Zero(t, h.pres.Presented)
	assert.EqualValues(t, 1, h.r.Metrics().FramesSkipped)

	require.NoError(t, h.r.DrawFrame(packet(e)))
	assert.Equal(t, 1, h.pres.Presented)
	assert.Equal(t, built, h.dev.PipelinesBuilt.Load(), "same formats, same pipelines")
	assert.Empty(t, h.dev.Hazards())
}

func TestResizeRecreatesDepthOnly(t *testing.T) {
	h := newHarness(t, headless.Options{})
	e := h.spawn(t, opaqueMat, -2)
	require.NoError(t, h.r.DrawFrame(packet(e)))
	built := h.dev.PipelinesBuilt.Load()

	require.NoError(t, h.r.OnResize(800, 600))
	depth, err := h.r.images.Get(h.r.depth)
	require.NoError(t, err)
	assert.EqualValues(t, 800, depth.Desc.Width)
	assert.EqualValues(t, 600, depth.Desc.Height)
	assert.Equal(t, built, h.dev.PipelinesBuilt.Load())

	tex, err := h.r.images.Get(h.r.DefaultTexture())
	require.NoError(t, err)
	assert.EqualValues(t, defaultTextureSize, tex.Desc.Width, "textures keep their size")

	require.NoError(t, h.r.DrawFrame(packet(e)))
	assert.Equal(t, 2, h.pres.Presented)
	assert.Empty(t, h.dev.Hazards())
}

func TestMinimizedWindowSkipsFrames(t *testing.T) {
	h := newHarness(t, headless.Options{})
	e := h.spawn(t, opaqueMat, -2)

	submitted := h.dev.Submissions.Load()
	require.NoError(t, h.r.OnResize(0, 0))
	for i := 0; i < 3; i++ {
		require.NoError(t, h.r.DrawFrame(packet(e)))
	}
	assert.Zero(t, h.pres.Presented)
	assert.EqualValues(t, 3, h.r.Metrics().FramesSkipped)
	assert.Equal(t, submitted, h.dev.Submissions.Load())

	require.NoError(t, h.r.OnResize(1024, 768))
	require.NoError(t, h.r.DrawFrame(packet(e)))
	assert.Equal(t, 1, h.pres.Presented)
	assert.Equal(t, uint32(1024), h.pres.Extent().Width)
}

func TestResizeEvent(t *testing.T) {
	h := newHarness(t, headless.Options{})
	e := h.spawn(t, opaqueMat, -2)

	h.events.Fire(core.EVENT_CODE_RESIZED, nil, core.EventContext{U32: [4]uint32{640, 480}})
	assert.Zero(t, h.pres.Resizes, "applied at the next frame")
	require.NoError(t, h.r.DrawFrame(packet(e)))
	assert.Equal(t, 1, h.pres.Resizes)
	assert.EqualValues(t, 640, h.pres.Extent().Width)
	assert.EqualValues(t, 480, h.pres.Extent().Height)
	assert.Equal(t, 1, h.pres.Presented)
}

func TestFailedPipelineDropsOnlyItsDraws(t *testing.T) {
	h := newHarness(t, headless.Options{
		FailPipeline: func(name string) bool { return name == "transparent_pbr" },
	})
	wall := h.spawn(t, opaqueMat, -1)
	glass := h.spawn(t, glassMat, -5)
	smoke := h.spawn(t, smokeMat, -6)

	require.NoError(t, h.r.DrawFrame(packet(wall, glass, smoke)))
	assert.Equal(t, []drawn{
		{"standard_pbr", wall.Instance.Slot},
		{"unlit_transparent", smoke.Instance.Slot},
	}, drawsOf(h.dev.LastSubmission()))

	st := h.r.Stats()
	assert.Equal(t, 1, st.Opaque)
	assert.Equal(t, 1, st.Transparent)
	assert.Equal(t, 1, st.Skipped)
	assert.GreaterOrEqual(t, h.r.PipelineStats().Failed, 1)
	assert.Equal(t, 1, h.pres.Presented)
}

func TestDeviceLostIsFatal(t *testing.T) {
	h := newHarness(t, headless.Options{})
	e := h.spawn(t, opaqueMat, -2)
	require.NoError(t, h.r.DrawFrame(packet(e)))

	h.dev.LoseDevice()
	err := h.r.DrawFrame(packet(e))
	assert.ErrorIs(t, err, core.ErrDeviceLost)
}

func TestHungDeviceReportsDeviceLost(t *testing.T) {
	h := newHarness(t, headless.Options{})
	e := h.spawn(t, opaqueMat, -2)

	h.dev.Hang(true)
	var err error
	// the first frames fill the slots; waiting on a slot again times out
	for i := 0; i < 3 && err == nil; i++ {
		err = h.r.DrawFrame(packet(e))
	}
	assert.ErrorIs(t, err, core.ErrDeviceLost)
	h.dev.Hang(false)
}

func TestQueueBufferUpdateValidation(t *testing.T) {
	h := newHarness(t, headless.Options{})
	e := h.spawn(t, opaqueMat, -2)

	vb := h.mesh.VertexBuffer
	assert.ErrorIs(t, h.r.QueueBufferUpdate(resources.BufferHandle{}, 0, []byte{1}), core.ErrInvalidHandle)
	assert.ErrorIs(t, h.r.QueueBufferUpdate(vb, 4*descriptors.VertexStride-2, []byte{1, 2, 3}), core.ErrInvalidOperation)

	h.r.DestroyMesh(h.mesh)
	assert.True(t, h.r.buffers.Valid(vb), "in-flight frames may still read it")
	for i := 0; i < 3; i++ {
		require.NoError(t, h.r.DrawFrame(packet()))
	}
	assert.False(t, h.r.buffers.Valid(vb))
	assert.ErrorIs(t, h.r.QueueBufferUpdate(vb, 0, []byte{1}), core.ErrInvalidHandle)

	// an entity whose mesh is gone is skipped
	require.NoError(t, h.r.DrawFrame(packet(e)))
	assert.Equal(t, 1, h.r.Stats().Skipped)
	assert.Empty(t, drawsOf(h.dev.LastSubmission()))
}

func TestUploadMesh(t *testing.T) {
	h := newHarness(t, headless.Options{})
	native, err := h.r.buffers.Native(h.mesh.VertexBuffer)
	require.NoError(t, err)
	assert.Equal(t, descriptors.EncodeVertices(quadVertices()), h.dev.BufferContents(native)[:4*descriptors.VertexStride])
	assert.EqualValues(t, 4, h.mesh.VertexCount)
	assert.EqualValues(t, 6, h.mesh.IndexCount)
	assert.Equal(t, mgl32.Vec3{-0.5, -0.5, 0}, h.mesh.Extents.Min)
	assert.Equal(t, mgl32.Vec3{0.5, 0.5, 0}, h.mesh.Extents.Max)

	_, err = h.r.UploadMesh("empty", nil, nil)
	assert.ErrorIs(t, err, core.ErrInvalidOperation)
}

func TestMaterialWithTextures(t *testing.T) {
	h := newHarness(t, headless.Options{})
	pixels := make([]byte, 4*4*4)
	for i := range pixels {
		pixels[i] = 200
	}
	tex, err := h.r.UploadTexture(4, 4, pixels)
	require.NoError(t, err)

	mat := &metadata.Material{Name: "painted", Archetype: metadata.ArchetypeUnlit, Params: metadata.DefaultMaterialParams()}
	mat.Textures[metadata.TextureBaseColor] = tex
	e := h.spawn(t, mat, -3)
	require.NoError(t, h.r.DrawFrame(packet(e)))
	assert.Empty(t, h.dev.Hazards())

	require.NoError(t, h.r.ReleaseMaterial(mat))
	assert.ErrorIs(t, h.r.ReleaseMaterial(mat), core.ErrResourceNotFound)
	// drawing binds it again
	require.NoError(t, h.r.DrawFrame(packet(e)))
	assert.Len(t, drawsOf(h.dev.LastSubmission()), 1)
}

func TestDefaultMaterialForUntexturedEntity(t *testing.T) {
	h := newHarness(t, headless.Options{})
	inst, err := h.r.AcquireInstance(h.mesh, metadata.ArchetypeStandardPBR)
	require.NoError(t, err)
	e := metadata.RenderEntity{Mesh: h.mesh, Instance: inst, Model: mgl32.Ident4()}

	require.NoError(t, h.r.DrawFrame(packet(e)))
	assert.Equal(t, []drawn{{"standard_pbr", inst.Slot}}, drawsOf(h.dev.LastSubmission()))
	assert.Equal(t, metadata.DefaultMaterialName, h.r.DefaultMaterial().Name)
}

func TestReloadShadersKeepsPipelinesUsable(t *testing.T) {
	h := newHarness(t, headless.Options{})
	wall := h.spawn(t, opaqueMat, -1)
	require.NoError(t, h.r.DrawFrame(packet(wall)))
	compiled := h.r.PipelineStats().Compiled

	require.NoError(t, h.r.ReloadShaders())
	assert.Equal(t, compiled, h.r.PipelineStats().Compiled)

	require.NoError(t, h.r.DrawFrame(packet(wall)))
	assert.Equal(t, []drawn{{"standard_pbr", wall.Instance.Slot}}, drawsOf(h.dev.LastSubmission()))
	assert.Empty(t, h.dev.Hazards())
}

func TestDestroyedTextureStopsDrawing(t *testing.T) {
	h := newHarness(t, headless.Options{})
	tex, err := h.r.UploadTexture(4, 4, make([]byte, 4*4*4))
	require.NoError(t, err)
	mat := &metadata.Material{Name: "poster", Archetype: metadata.ArchetypeUnlit, Params: metadata.DefaultMaterialParams()}
	mat.Textures[metadata.TextureBaseColor] = tex
	e := h.spawn(t, mat, -3)

	require.NoError(t, h.r.DrawFrame(packet(e)))
	assert.Equal(t, 1, h.r.Stats().Opaque)
	materials := h.r.descriptors.Materials()

	h.r.DestroyTexture(tex)
	assert.Equal(t, materials-1, h.r.descriptors.Materials(), "the cached set is released")
	for frame := 0; frame < 5; frame++ {
		require.NoError(t, h.r.DrawFrame(packet(e)))
		assert.Zero(t, h.r.Stats().Opaque, "frame %d", frame)
		assert.Equal(t, 1, h.r.Stats().Skipped, "frame %d", frame)
		assert.Empty(t, drawsOf(h.dev.LastSubmission()), "frame %d", frame)
	}
	_, err = h.r.images.Get(tex)
	assert.ErrorIs(t, err, core.ErrInvalidHandle)
	_, err = h.r.materialSet(mat)
	assert.ErrorIs(t, err, core.ErrInvalidHandle)
	assert.Empty(t, h.dev.Hazards())
}

// gpuInstanceZ reads the z translation of an instance back from the device.
func (h *harness) gpuInstanceZ(t *testing.T, inst metadata.InstanceHandle) float32 {
	t.Helper()
	bh, err := h.r.pools.Buffer(inst)
	require.NoError(t, err)
	native, err := h.r.buffers.Native(bh)
	require.NoError(t, err)
	raw := h.dev.BufferContents(native)
	off := int(inst.Slot)*descriptors.InstanceStride + descriptors.InstanceModelOffset + 56
	return float32frombits(raw[off:])
}

func TestFailedFrameKeepsPoolContents(t *testing.T) {
	h := newHarness(t, headless.Options{}, func(cfg *core.Config) {
		cfg.Memory.StagingBudget = cfg.Memory.StagingBlockSize
		cfg.Pools.InitialCapacity = 4
	})
	var entities []metadata.RenderEntity
	for i := 0; i < 4; i++ {
		entities = append(entities, h.spawn(t, opaqueMat, -float32(i+1)))
	}
	require.NoError(t, h.r.DrawFrame(packet(entities...)))
	trackedBefore := h.r.tracker.Len()

	// fill the staging pool so the next large upload cannot get a staging buffer
	hog, err := h.r.buffers.Create(driver.MemoryStaging, h.r.cfg.Memory.StagingBlockSize-4096, driver.UsageTransferSrc)
	require.NoError(t, err)
	for i := 0; i < 400; i++ {
		entities = append(entities, h.spawn(t, opaqueMat, -float32(i+5)))
	}
	assert.ErrorIs(t, h.r.DrawFrame(packet(entities...)), core.ErrOutOfMemory)
	assert.Equal(t, trackedBefore, h.r.tracker.Len(), "the failed recording left no tracked state")

	require.NoError(t, h.r.buffers.Destroy(hog))
	for frame := 0; frame < 4; frame++ {
		require.NoError(t, h.r.DrawFrame(packet(entities...)), "frame %d", frame)
	}
	assert.Empty(t, h.dev.Hazards())
	for i, e := range entities[:4] {
		assert.Equal(t, -float32(i+1), h.gpuInstanceZ(t, e.Instance), "instance %d kept its data through growth", i)
	}
	assert.Equal(t, float32(-404), h.gpuInstanceZ(t, entities[403].Instance))
}

func TestFailedFrameKeepsQueuedUpdates(t *testing.T) {
	h := newHarness(t, headless.Options{}, func(cfg *core.Config) {
		cfg.Memory.StagingBudget = cfg.Memory.StagingBlockSize
		cfg.Pools.InitialCapacity = 4
	})
	e := h.spawn(t, opaqueMat, -1)
	require.NoError(t, h.r.DrawFrame(packet(e)))

	verts := quadVertices()
	verts[2].Position = mgl32.Vec3{3, 3, 3}
	require.NoError(t, h.r.QueueBufferUpdate(h.mesh.VertexBuffer, 0, descriptors.EncodeVertices(verts)))

	hog, err := h.r.buffers.Create(driver.MemoryStaging, h.r.cfg.Memory.StagingBlockSize-4096, driver.UsageTransferSrc)
	require.NoError(t, err)
	entities := []metadata.RenderEntity{e}
	for i := 0; i < 400; i++ {
		entities = append(entities, h.spawn(t, opaqueMat, -float32(i+2)))
	}
	require.Error(t, h.r.DrawFrame(packet(entities...)))
	require.NoError(t, h.r.buffers.Destroy(hog))

	require.NoError(t, h.r.DrawFrame(packet(entities...)))
	native, err := h.r.buffers.Native(h.mesh.VertexBuffer)
	require.NoError(t, err)
	assert.Equal(t, descriptors.EncodeVertices(verts), h.dev.BufferContents(native)[:4*descriptors.VertexStride])
	assert.Empty(t, h.dev.Hazards())
}
