package descriptors

import (
	"encoding/binary"
	"math"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	emath "github.com/spaghettifunk/anima-core/engine/math"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

// Block sizes in bytes. Every block follows std140 rules: vec4 alignment,
// arrays of structs padded to 16 bytes, matrices column-major.
const (
	CameraUBOSize    = 240
	LightingUBOSize  = 3488
	MaterialUBOSize  = 96
	PushConstantSize = 112
)

// CameraUBO offsets.
const (
	CameraViewOffset           = 0
	CameraProjectionOffset     = 64
	CameraViewProjectionOffset = 128
	CameraPositionOffset       = 192
	CameraDirectionOffset      = 208
	CameraViewportOffset       = 224
	CameraNearFarOffset        = 232
)

// LightingUBO offsets and array strides.
const (
	LightingAmbientOffset     = 0
	LightingCountsOffset      = 16
	LightingDirectionalOffset = 32
	LightingPointOffset       = LightingDirectionalOffset + metadata.MaxDirectionalLights*DirectionalLightStride
	LightingSpotOffset        = LightingPointOffset + metadata.MaxPointLights*PointLightStride

	DirectionalLightStride = 32
	PointLightStride       = 48
	SpotLightStride        = 64
)

// MaterialUBO offsets.
const (
	MaterialBaseColorOffset    = 0
	MaterialSurfaceOffset      = 16 // metallic, roughness, ao, normal scale
	MaterialEmissionOffset     = 32
	MaterialTextureFlagsOffset = 48 // texture mask, archetype, alpha mode, unused
	MaterialParamsOffset       = 64 // opacity, alpha cutoff, emission strength, unused
)

// Push constant offsets.
const (
	PushModelOffset  = 0
	PushNormalOffset = 64
)

// Alpha modes written to texture_flags.z.
const (
	AlphaOpaque uint32 = iota
	AlphaBlend
	AlphaMask
)

// LightingReport tells how many lights of each kind made it into the block and
// how many were dropped because the block was full.
type LightingReport struct {
	Directional, Point, Spot                      int
	DroppedDirectional, DroppedPoint, DroppedSpot int
}

func (r LightingReport) Dropped() int {
	return r.DroppedDirectional + r.DroppedPoint + r.DroppedSpot
}

// block writes std140 values into a byte slice, little endian.
type block []byte

func (b block) f32(off int, v float32) {
	binary.LittleEndian.PutUint32(b[off:], math.Float32bits(v))
}

func (b block) u32(off int, v uint32) {
	binary.LittleEndian.PutUint32(b[off:], v)
}

func (b block) vec4(off int, x, y, z, w float32) {
	b.f32(off, x)
	b.f32(off+4, y)
	b.f32(off+8, z)
	b.f32(off+12, w)
}

func (b block) vec3w(off int, v mgl32.Vec3, w float32) {
	b.vec4(off, v[0], v[1], v[2], w)
}

func (b block) mat4(off int, m mgl32.Mat4) {
	for i, v := range m {
		b.f32(off+4*i, v)
	}
}

// mat3 writes three columns, each padded to a vec4.
func (b block) mat3(off int, m mgl32.Mat3) {
	for col := 0; col < 3; col++ {
		c := m.Col(col)
		b.vec3w(off+16*col, c, 0)
	}
}

func (b block) zero() {
	for i := range b {
		b[i] = 0
	}
}

// EncodeCamera writes c into dst, which must hold CameraUBOSize bytes.
func EncodeCamera(dst []byte, c *metadata.CameraData) {
	b := block(dst[:CameraUBOSize])
	b.mat4(CameraViewOffset, c.View)
	b.mat4(CameraProjectionOffset, c.Projection)
	b.mat4(CameraViewProjectionOffset, c.ViewProjection())
	b.vec3w(CameraPositionOffset, c.Position, 1)
	b.vec3w(CameraDirectionOffset, c.Direction, 0)
	b.f32(CameraViewportOffset, c.Viewport[0])
	b.f32(CameraViewportOffset+4, c.Viewport[1])
	b.f32(CameraNearFarOffset, c.Near)
	b.f32(CameraNearFarOffset+4, c.Far)
}

// EncodeLighting writes l into dst, which must hold LightingUBOSize bytes.
// Lights beyond the per-kind maximum are dropped, in list order.
func EncodeLighting(dst []byte, l *metadata.Lighting) LightingReport {
	b := block(dst[:LightingUBOSize])
	b.zero()

	var r LightingReport
	r.Directional, r.DroppedDirectional = split(len(l.Directional), metadata.MaxDirectionalLights)
	r.Point, r.DroppedPoint = split(len(l.Point), metadata.MaxPointLights)
	r.Spot, r.DroppedSpot = split(len(l.Spot), metadata.MaxSpotLights)

	b.vec4(LightingAmbientOffset, l.Ambient[0], l.Ambient[1], l.Ambient[2], l.Ambient[3])
	b.u32(LightingCountsOffset, uint32(r.Directional))
	b.u32(LightingCountsOffset+4, uint32(r.Point))
	b.u32(LightingCountsOffset+8, uint32(r.Spot))

	for i, d := range l.Directional[:r.Directional] {
		off := LightingDirectionalOffset + i*DirectionalLightStride
		dir := d.Direction
		if dir.Len() > 0 {
			dir = dir.Normalize()
		}
		b.vec3w(off, dir, d.Intensity)
		b.vec3w(off+16, d.Color, 0)
	}
	for i, p := range l.Point[:r.Point] {
		off := LightingPointOffset + i*PointLightStride
		b.vec3w(off, p.Position, p.Range)
		b.vec3w(off+16, p.Color, p.Intensity)
		b.vec4(off+32, p.Constant, p.Linear, p.Quadratic, 0)
	}
	for i, s := range l.Spot[:r.Spot] {
		off := LightingSpotOffset + i*SpotLightStride
		dir := s.Direction
		if dir.Len() > 0 {
			dir = dir.Normalize()
		}
		b.vec3w(off, s.Position, s.Range)
		b.vec3w(off+16, dir, s.Intensity)
		b.vec3w(off+32, s.Color, 0)
		// the shader compares against cosines, inner first
		b.vec4(off+48, math32.Cos(s.InnerCone), math32.Cos(s.OuterCone), 0, 0)
	}
	return r
}

func split(n, max int) (kept, dropped int) {
	if n > max {
		return max, n - max
	}
	return n, 0
}

// EncodeMaterial writes the parameter block of m into dst, which must hold
// MaterialUBOSize bytes.
func EncodeMaterial(dst []byte, m *metadata.Material) {
	b := block(dst[:MaterialUBOSize])
	b.zero()
	p := &m.Params
	b.vec4(MaterialBaseColorOffset, p.BaseColor[0], p.BaseColor[1], p.BaseColor[2], p.BaseColor[3])
	b.vec4(MaterialSurfaceOffset, p.Metallic, p.Roughness, p.AmbientOcclusion, p.NormalScale)
	b.vec3w(MaterialEmissionOffset, p.Emission, 0)
	b.u32(MaterialTextureFlagsOffset, m.TextureMask())
	b.u32(MaterialTextureFlagsOffset+4, uint32(m.Archetype))
	b.u32(MaterialTextureFlagsOffset+8, AlphaModeOf(m))
	b.vec4(MaterialParamsOffset, p.Opacity, p.AlphaCutoff, p.EmissionStrength, 0)
}

func AlphaModeOf(m *metadata.Material) uint32 {
	switch {
	case m.Archetype.IsTransparent():
		return AlphaBlend
	case m.Params.AlphaCutoff > 0:
		return AlphaMask
	}
	return AlphaOpaque
}

// EncodePushConstants writes the model and normal matrices into dst, which
// must hold PushConstantSize bytes.
func EncodePushConstants(dst []byte, model mgl32.Mat4) {
	b := block(dst[:PushConstantSize])
	b.mat4(PushModelOffset, model)
	b.mat3(PushNormalOffset, emath.NormalMatrix(model))
}
