package math

import "github.com/chewxy/math32"

// GeometryGenerateNormals writes face normals into every vertex of each
// triangle. Smoothing is left to a separate pass.
func GeometryGenerateNormals(vertices []Vertex3D, indices []uint32) {
	for i := 0; i+2 < len(indices); i += 3 {
		i0, i1, i2 := indices[i], indices[i+1], indices[i+2]

		edge1 := vertices[i1].Position.Sub(vertices[i0].Position)
		edge2 := vertices[i2].Position.Sub(vertices[i0].Position)
		normal := edge1.Cross(edge2).Normalize()

		vertices[i0].Normal = normal
		vertices[i1].Normal = normal
		vertices[i2].Normal = normal
	}
}

func GeometryGenerateTangents(vertices []Vertex3D, indices []uint32) {
	for i := 0; i+2 < len(indices); i += 3 {
		i0, i1, i2 := indices[i], indices[i+1], indices[i+2]

		edge1 := vertices[i1].Position.Sub(vertices[i0].Position)
		edge2 := vertices[i2].Position.Sub(vertices[i0].Position)

		deltaU1 := vertices[i1].Texcoord.X() - vertices[i0].Texcoord.X()
		deltaV1 := vertices[i1].Texcoord.Y() - vertices[i0].Texcoord.Y()
		deltaU2 := vertices[i2].Texcoord.X() - vertices[i0].Texcoord.X()
		deltaV2 := vertices[i2].Texcoord.Y() - vertices[i0].Texcoord.Y()

		dividend := deltaU1*deltaV2 - deltaU2*deltaV1
		if math32.Abs(dividend) < K_FLOAT_EPSILON {
			// degenerate uv mapping
			continue
		}
		fc := 1.0 / dividend

		tangent := Vec3{
			fc * (deltaV2*edge1.X() - deltaV1*edge2.X()),
			fc * (deltaV2*edge1.Y() - deltaV1*edge2.Y()),
			fc * (deltaV2*edge1.Z() - deltaV1*edge2.Z()),
		}.Normalize()

		if deltaV1*deltaU2-deltaV2*deltaU1 < 0.0 {
			tangent = tangent.Mul(-1)
		}

		vertices[i0].Tangent = tangent
		vertices[i1].Tangent = tangent
		vertices[i2].Tangent = tangent
	}
}

// ExtentsOf returns the axis-aligned bounds of the vertex positions.
func ExtentsOf(vertices []Vertex3D) Extents3D {
	var e Extents3D
	if len(vertices) == 0 {
		return e
	}
	e.Min, e.Max = vertices[0].Position, vertices[0].Position
	for _, v := range vertices[1:] {
		for i := 0; i < 3; i++ {
			e.Min[i] = math32.Min(e.Min[i], v.Position[i])
			e.Max[i] = math32.Max(e.Max[i], v.Position[i])
		}
	}
	return e
}
