package descriptors

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-core/engine/containers"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
	"github.com/spaghettifunk/anima-core/engine/renderer/headless"
	"github.com/spaghettifunk/anima-core/engine/renderer/memory"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-core/engine/renderer/resources"
)

type fixture struct {
	dev     *headless.Device
	buffers *resources.BufferManager
	images  *resources.ImageManager
	white   resources.ImageHandle
	mgr     *Manager
}

func newFixture(t *testing.T, frames int) *fixture {
	t.Helper()
	dev := headless.New(headless.Options{})
	alloc := memory.NewAllocator(dev, core.DefaultConfig().Memory)
	f := &fixture{
		dev:     dev,
		buffers: resources.NewBufferManager(dev, alloc),
		images:  resources.NewImageManager(dev, alloc),
	}
	var err error
	f.white, err = f.images.Create(resources.ImageDesc{ImageDesc: driver.ImageDesc{
		Width: 1, Height: 1, Format: driver.FormatRGBA8Unorm, Usage: driver.ImageSampled | driver.ImageTransferDst,
	}})
	require.NoError(t, err)
	f.mgr, err = NewManager(dev, f.buffers, f.images, Options{FramesInFlight: frames, DefaultTexture: f.white})
	require.NoError(t, err)
	t.Cleanup(f.mgr.Destroy)
	return f
}

func f32At(b []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
}

func u32At(b []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(b[off:])
}

func (f *fixture) materialBytes(t *testing.T, h DescriptorSetHandle) []byte {
	t.Helper()
	ms, ok := f.mgr.materials.Get(containers.Handle(h))
	require.True(t, ok)
	data, err := f.buffers.Read(ms.ubo, 0, MaterialUBOSize)
	require.NoError(t, err)
	return data
}

func TestMaterialBlockRoundTrip(t *testing.T) {
	f := newFixture(t, 2)
	mat := &metadata.Material{Name: "red", Archetype: metadata.ArchetypeStandardPBR, Params: metadata.DefaultMaterialParams()}
	mat.Params.BaseColor = mgl32.Vec4{1, 0, 0, 1}
	mat.Params.Metallic = 0.5
	mat.Params.Roughness = 0.2

	h, err := f.mgr.BindMaterial(mat)
	require.NoError(t, err)
	data := f.materialBytes(t, h)
	require.Len(t, data, 96)

	assert.Equal(t, float32(1), f32At(data, 0))
	assert.Equal(t, float32(0), f32At(data, 4))
	assert.Equal(t, float32(0), f32At(data, 8))
	assert.Equal(t, float32(1), f32At(data, 12))
	assert.Equal(t, float32(0.5), f32At(data, 16))
	assert.Equal(t, float32(0.2), f32At(data, 20))
	assert.Equal(t, float32(1), f32At(data, 24), "ambient occlusion")
	assert.Equal(t, float32(1), f32At(data, 28), "normal scale")

	assert.Equal(t, uint32(0), u32At(data, 48), "no textures")
	assert.Equal(t, uint32(metadata.ArchetypeStandardPBR), u32At(data, 52))
	assert.Equal(t, AlphaOpaque, u32At(data, 56))
	assert.Equal(t, float32(1), f32At(data, 64), "opacity")
	for off := 80; off < 96; off++ {
		assert.Zero(t, data[off], "padding byte %d", off)
	}
}

func TestMaterialTextureFlags(t *testing.T) {
	f := newFixture(t, 2)
	tex, err := f.images.Create(resources.ImageDesc{ImageDesc: driver.ImageDesc{
		Width: 4, Height: 4, Format: driver.FormatRGBA8Srgb, Usage: driver.ImageSampled | driver.ImageTransferDst,
	}})
	require.NoError(t, err)

	mat := &metadata.Material{Archetype: metadata.ArchetypeTransparentPBR, Params: metadata.DefaultMaterialParams()}
	mat.Textures[metadata.TextureBaseColor] = tex
	mat.Textures[metadata.TextureOpacity] = tex
	h, err := f.mgr.BindMaterial(mat)
	require.NoError(t, err)

	data := f.materialBytes(t, h)
	assert.Equal(t, uint32(1|1<<5), u32At(data, MaterialTextureFlagsOffset))
	assert.Equal(t, AlphaBlend, u32At(data, MaterialTextureFlagsOffset+8))
}

func TestMaterialsShareSets(t *testing.T) {
	f := newFixture(t, 2)
	a := &metadata.Material{Name: "a", Archetype: metadata.ArchetypeUnlit, Params: metadata.DefaultMaterialParams()}
	b := *a
	b.Name = "b"
	c := *a
	c.Params.Roughness = 0.9

	ha, err := f.mgr.BindMaterial(a)
	require.NoError(t, err)
	hb, err := f.mgr.BindMaterial(&b)
	require.NoError(t, err)
	hc, err := f.mgr.BindMaterial(&c)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
	assert.NotEqual(t, ha, hc)
	assert.Equal(t, 2, f.mgr.Materials())

	queue := resources.NewDeletionQueue(2)
	require.NoError(t, f.mgr.ReleaseMaterial(ha, queue, 0))
	_, err = f.mgr.MaterialSet(ha)
	assert.NoError(t, err, "one reference left")
	require.NoError(t, f.mgr.ReleaseMaterial(hb, queue, 0))
	_, err = f.mgr.MaterialSet(ha)
	assert.ErrorIs(t, err, core.ErrInvalidHandle)
	assert.ErrorIs(t, f.mgr.ReleaseMaterial(ha, queue, 0), core.ErrInvalidHandle)

	live := f.buffers.Live()
	assert.Equal(t, 1, queue.Collect(2))
	assert.Equal(t, live-1, f.buffers.Live())
}

func TestBindMaterialRejectsStaleTexture(t *testing.T) {
	f := newFixture(t, 2)
	tex, err := f.images.Create(resources.ImageDesc{ImageDesc: driver.ImageDesc{
		Width: 2, Height: 2, Format: driver.FormatRGBA8Unorm, Usage: driver.ImageSampled,
	}})
	require.NoError(t, err)
	require.NoError(t, f.images.Destroy(tex))

	mat := &metadata.Material{Archetype: metadata.ArchetypeUnlit}
	mat.Textures[metadata.TextureNormal] = tex
	_, err = f.mgr.BindMaterial(mat)
	assert.ErrorIs(t, err, core.ErrInvalidHandle)
	assert.Zero(t, f.mgr.Materials())

	mat.Archetype = metadata.ArchetypeCount
	mat.Textures = [metadata.TextureSlotCount]resources.ImageHandle{}
	_, err = f.mgr.BindMaterial(mat)
	assert.ErrorIs(t, err, core.ErrInvalidOperation)
}

func TestLightingTruncation(t *testing.T) {
	f := newFixture(t, 2)
	lighting := &metadata.Lighting{Ambient: mgl32.Vec4{0.1, 0.1, 0.1, 1}}
	for i := 0; i < 70; i++ {
		lighting.Point = append(lighting.Point, metadata.PointLight{
			Position: mgl32.Vec3{float32(i), 0, 0}, Color: mgl32.Vec3{1, 1, 1}, Intensity: 2, Range: 10,
		})
	}
	for i := 0; i < 5; i++ {
		lighting.Directional = append(lighting.Directional, metadata.DirectionalLight{Direction: mgl32.Vec3{0, -2, 0}, Color: mgl32.Vec3{1, 0.5, 0}, Intensity: 3})
	}
	lighting.Spot = []metadata.SpotLight{{Direction: mgl32.Vec3{0, 0, -1}, Intensity: 1, InnerCone: 0, OuterCone: math.Pi / 3}}

	report, err := f.mgr.UpdateFrameUniforms(0, &metadata.CameraData{View: mgl32.Ident4(), Projection: mgl32.Ident4()}, lighting)
	require.NoError(t, err)
	assert.Equal(t, LightingReport{Directional: 4, Point: 64, Spot: 1, DroppedDirectional: 1, DroppedPoint: 6}, report)
	assert.Equal(t, 7, report.Dropped())

	_, lightingBuf, err := f.mgr.FrameBuffers(0)
	require.NoError(t, err)
	data, err := f.buffers.Read(lightingBuf, 0, LightingUBOSize)
	require.NoError(t, err)

	assert.Equal(t, uint32(4), u32At(data, LightingCountsOffset))
	assert.Equal(t, uint32(64), u32At(data, LightingCountsOffset+4))
	assert.Equal(t, uint32(1), u32At(data, LightingCountsOffset+8))

	// direction normalized, intensity kept apart from the color
	assert.Equal(t, float32(-1), f32At(data, LightingDirectionalOffset+4))
	assert.Equal(t, float32(3), f32At(data, LightingDirectionalOffset+12))
	assert.Equal(t, float32(0.5), f32At(data, LightingDirectionalOffset+20))

	last := LightingPointOffset + 63*PointLightStride
	assert.Equal(t, float32(63), f32At(data, last))
	assert.Equal(t, float32(10), f32At(data, last+12))
	assert.Equal(t, float32(1), f32At(data, last+16), "color is not premultiplied")
	assert.Equal(t, float32(2), f32At(data, last+28))

	assert.InDelta(t, 1.0, f32At(data, LightingSpotOffset+48), 1e-6)
	assert.InDelta(t, 0.5, f32At(data, LightingSpotOffset+52), 1e-6)
	assert.Equal(t, LightingUBOSize, LightingSpotOffset+metadata.MaxSpotLights*SpotLightStride)
}

func TestFrameUniformsArePerSlot(t *testing.T) {
	f := newFixture(t, 2)
	cam := &metadata.CameraData{View: mgl32.Ident4(), Projection: mgl32.Ident4(), Position: mgl32.Vec3{1, 2, 3}, Near: 0.1, Far: 100}
	_, err := f.mgr.UpdateFrameUniforms(0, cam, &metadata.Lighting{})
	require.NoError(t, err)

	moved := *cam
	moved.Position = mgl32.Vec3{9, 9, 9}
	_, err = f.mgr.UpdateFrameUniforms(1, &moved, &metadata.Lighting{})
	require.NoError(t, err)

	cam0, _, err := f.mgr.FrameBuffers(0)
	require.NoError(t, err)
	data, err := f.buffers.Read(cam0, 0, CameraUBOSize)
	require.NoError(t, err)
	assert.Equal(t, float32(1), f32At(data, CameraPositionOffset))
	assert.Equal(t, float32(1), f32At(data, CameraPositionOffset+12), "position w")
	assert.Equal(t, float32(0.1), f32At(data, CameraNearFarOffset))
	assert.Equal(t, float32(100), f32At(data, CameraNearFarOffset+4))

	_, err = f.mgr.UpdateFrameUniforms(2, cam, &metadata.Lighting{})
	assert.ErrorIs(t, err, core.ErrInvalidOperation)
	s0, err := f.mgr.GlobalSet(0)
	require.NoError(t, err)
	s1, err := f.mgr.GlobalSet(1)
	require.NoError(t, err)
	assert.NotSame(t, s0, s1)
}

func TestCameraViewProjection(t *testing.T) {
	cam := &metadata.CameraData{
		View:       mgl32.Translate3D(0, 0, -5),
		Projection: mgl32.Perspective(mgl32.DegToRad(60), 16.0/9.0, 0.1, 100),
	}
	data := make([]byte, CameraUBOSize)
	EncodeCamera(data, cam)
	vp := cam.Projection.Mul4(cam.View)
	for i := 0; i < 16; i++ {
		assert.Equal(t, vp[i], f32At(data, CameraViewProjectionOffset+4*i))
	}
	assert.Equal(t, float32(-5), f32At(data, CameraViewOffset+4*14))
}

func TestPushConstantsNormalMatrix(t *testing.T) {
	model := mgl32.Translate3D(1, 2, 3).Mul4(mgl32.Scale3D(2, 2, 2))
	data := make([]byte, PushConstantSize)
	EncodePushConstants(data, model)

	assert.Equal(t, float32(3), f32At(data, PushModelOffset+4*14))
	// inverse transpose of a uniform scale by 2
	assert.InDelta(t, 0.5, f32At(data, PushNormalOffset), 1e-6)
	assert.InDelta(t, 0.5, f32At(data, PushNormalOffset+16+4), 1e-6)
	assert.InDelta(t, 0.5, f32At(data, PushNormalOffset+32+8), 1e-6)
	assert.Zero(t, f32At(data, PushNormalOffset+12), "padding")
}

func TestInstanceAndVertexLayout(t *testing.T) {
	d := &metadata.InstanceData{
		Model:         mgl32.Translate3D(4, 5, 6),
		Color:         mgl32.Vec4{0.25, 0.5, 0.75, 1},
		Flags:         [4]uint32{7, 0, 0, 0},
		MaterialIndex: 9,
	}
	data := make([]byte, InstanceStride)
	EncodeInstance(data, d)
	assert.Equal(t, float32(5), f32At(data, InstanceModelOffset+4*13))
	assert.Equal(t, float32(0.75), f32At(data, InstanceColorOffset+8))
	assert.Equal(t, uint32(7), u32At(data, InstanceFlagsOffset))
	assert.Equal(t, uint32(9), u32At(data, InstanceMaterialIndexOffset))

	attrs := VertexAttributes()
	require.Len(t, attrs, 15)
	assert.Equal(t, uint32(InstanceNormalOffset+32), attrs[10].Offset)
	assert.Equal(t, uint32(14), attrs[14].Location)

	assert.Len(t, EncodeIndices([]uint32{0, 1, 2}), 12)
}
