package descriptors

import (
	emath "github.com/spaghettifunk/anima-core/engine/math"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

// Vertex input layout: binding 0 streams math.Vertex3D per vertex, binding 1
// streams instance records per instance.
const (
	VertexStride   = 44
	InstanceStride = 176

	BindingVertex   uint32 = 0
	BindingInstance uint32 = 1
)

// Instance record offsets.
const (
	InstanceModelOffset         = 0
	InstanceNormalOffset        = 64
	InstanceColorOffset         = 112
	InstanceEmissionOffset      = 128
	InstanceFlagsOffset         = 144
	InstanceMaterialIndexOffset = 160
)

// EncodeInstance writes d into dst, which must hold InstanceStride bytes.
func EncodeInstance(dst []byte, d *metadata.InstanceData) {
	b := block(dst[:InstanceStride])
	b.zero()
	b.mat4(InstanceModelOffset, d.Model)
	b.mat3(InstanceNormalOffset, emath.NormalMatrix(d.Model))
	b.vec4(InstanceColorOffset, d.Color[0], d.Color[1], d.Color[2], d.Color[3])
	b.vec4(InstanceEmissionOffset, d.Emission[0], d.Emission[1], d.Emission[2], d.Emission[3])
	for i, f := range d.Flags {
		b.u32(InstanceFlagsOffset+4*i, f)
	}
	b.u32(InstanceMaterialIndexOffset, d.MaterialIndex)
}

// VertexBindings describes both input streams to a pipeline.
func VertexBindings() []driver.VertexBinding {
	return []driver.VertexBinding{
		{Binding: BindingVertex, Stride: VertexStride, Rate: driver.RateVertex},
		{Binding: BindingInstance, Stride: InstanceStride, Rate: driver.RateInstance},
	}
}

// VertexAttributes lists the shader input locations. Locations 0-3 are the
// vertex, 4-14 the instance record.
func VertexAttributes() []driver.VertexAttribute {
	attrs := []driver.VertexAttribute{
		{Location: 0, Binding: BindingVertex, Format: driver.FormatRGB32Float, Offset: 0},
		{Location: 1, Binding: BindingVertex, Format: driver.FormatRGB32Float, Offset: 12},
		{Location: 2, Binding: BindingVertex, Format: driver.FormatRG32Float, Offset: 24},
		{Location: 3, Binding: BindingVertex, Format: driver.FormatRGB32Float, Offset: 32},
	}
	loc := uint32(4)
	// model matrix, then normal matrix, one column per location
	for col := uint32(0); col < 7; col++ {
		attrs = append(attrs, driver.VertexAttribute{Location: loc, Binding: BindingInstance, Format: driver.FormatRGBA32Float, Offset: InstanceModelOffset + 16*col})
		loc++
	}
	attrs = append(attrs,
		driver.VertexAttribute{Location: loc, Binding: BindingInstance, Format: driver.FormatRGBA32Float, Offset: InstanceColorOffset},
		driver.VertexAttribute{Location: loc + 1, Binding: BindingInstance, Format: driver.FormatRGBA32Float, Offset: InstanceEmissionOffset},
		driver.VertexAttribute{Location: loc + 2, Binding: BindingInstance, Format: driver.FormatRGBA32Uint, Offset: InstanceFlagsOffset},
		driver.VertexAttribute{Location: loc + 3, Binding: BindingInstance, Format: driver.FormatR32Uint, Offset: InstanceMaterialIndexOffset},
	)
	return attrs
}

// EncodeVertices packs vertices into the binding 0 layout.
func EncodeVertices(vertices []emath.Vertex3D) []byte {
	out := make([]byte, len(vertices)*VertexStride)
	b := block(out)
	for i, v := range vertices {
		off := i * VertexStride
		for j := 0; j < 3; j++ {
			b.f32(off+4*j, v.Position[j])
			b.f32(off+12+4*j, v.Normal[j])
			b.f32(off+32+4*j, v.Tangent[j])
		}
		b.f32(off+24, v.Texcoord[0])
		b.f32(off+28, v.Texcoord[1])
	}
	return out
}

// EncodeIndices packs 32-bit indices.
func EncodeIndices(indices []uint32) []byte {
	out := make([]byte, 4*len(indices))
	b := block(out)
	for i, idx := range indices {
		b.u32(4*i, idx)
	}
	return out
}
