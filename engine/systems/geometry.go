package systems

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/math"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

func nonZero(v float32, what string) float32 {
	if v == 0 {
		core.LogWarn("%s must be nonzero. Defaulting to one.", what)
		return 1
	}
	return v
}

func namesOrDefault(config *metadata.GeometryConfig, name, materialName string) {
	config.Name = name
	if config.Name == "" {
		config.Name = metadata.DefaultGeometryName
	}
	config.MaterialName = materialName
	if config.MaterialName == "" {
		config.MaterialName = metadata.DefaultMaterialName
	}
}

/**
 * @brief Generates configuration for plane geometries given the provided parameters.
 * NOTE: vertex and index arrays are dynamically allocated and should be freed upon object disposal.
 * Thus, this should not be considered production code.
 *
 * @param width The overall width of the plane. Must be non-zero.
 * @param height The overall height of the plane. Must be non-zero.
 * @param xSegmentCount The number of segments along the x-axis in the plane. Must be non-zero.
 * @param ySegmentCount The number of segments along the y-axis in the plane. Must be non-zero.
 * @param tileX The number of times the texture should tile across the plane on the x-axis. Must be non-zero.
 * @param tileY The number of times the texture should tile across the plane on the y-axis. Must be non-zero.
 * @param name The name of the generated geometry.
 * @param materialName The name of the material to be used.
 */
func GeneratePlaneConfig(width, height float32, xSegmentCount, ySegmentCount uint32, tileX, tileY float32, name, materialName string) (*metadata.GeometryConfig, error) {
	width = nonZero(width, "Width")
	height = nonZero(height, "Height")
	tileX = nonZero(tileX, "tileX")
	tileY = nonZero(tileY, "tileY")
	if xSegmentCount < 1 || ySegmentCount < 1 {
		return nil, errors.Wrapf(core.ErrInvalidOperation, "plane needs at least one segment per axis, got %dx%d", xSegmentCount, ySegmentCount)
	}

	segments := xSegmentCount * ySegmentCount
	config := &metadata.GeometryConfig{
		Vertices: make([]math.Vertex3D, segments*4), // 4 verts per segment
		Indices:  make([]uint32, segments*6),        // 6 indices per segment
	}

	// TODO: This generates extra vertices, but we can always deduplicate them later.
	segWidth := width / float32(xSegmentCount)
	segHeight := height / float32(ySegmentCount)
	halfWidth := width * 0.5
	halfHeight := height * 0.5
	for y := uint32(0); y < ySegmentCount; y++ {
		for x := uint32(0); x < xSegmentCount; x++ {
			minX := (float32(x) * segWidth) - halfWidth
			minY := (float32(y) * segHeight) - halfHeight
			maxX := minX + segWidth
			maxY := minY + segHeight
			minUVX := (float32(x) / float32(xSegmentCount)) * tileX
			minUVY := (float32(y) / float32(ySegmentCount)) * tileY
			maxUVX := (float32(x+1) / float32(xSegmentCount)) * tileX
			maxUVY := (float32(y+1) / float32(ySegmentCount)) * tileY

			vOffset := ((y * xSegmentCount) + x) * 4
			v := config.Vertices[vOffset : vOffset+4]
			v[0].Position, v[0].Texcoord = math.Vec3{minX, minY, 0}, math.Vec2{minUVX, minUVY}
			v[1].Position, v[1].Texcoord = math.Vec3{maxX, maxY, 0}, math.Vec2{maxUVX, maxUVY}
			v[2].Position, v[2].Texcoord = math.Vec3{minX, maxY, 0}, math.Vec2{minUVX, maxUVY}
			v[3].Position, v[3].Texcoord = math.Vec3{maxX, minY, 0}, math.Vec2{maxUVX, minUVY}
			for i := range v {
				v[i].Normal = math.Vec3{0, 0, 1}
			}

			iOffset := ((y * xSegmentCount) + x) * 6
			quadIndices(config.Indices[iOffset:iOffset+6], vOffset)
		}
	}

	math.GeometryGenerateTangents(config.Vertices, config.Indices)
	config.Extents = math.ExtentsOf(config.Vertices)
	namesOrDefault(config, name, materialName)
	return config, nil
}

func quadIndices(dst []uint32, vOffset uint32) {
	dst[0] = vOffset + 0
	dst[1] = vOffset + 1
	dst[2] = vOffset + 2
	dst[3] = vOffset + 0
	dst[4] = vOffset + 3
	dst[5] = vOffset + 1
}

// cube faces as outward normal plus the four corners, in quadIndices order
var cubeFaces = [6]struct {
	normal  math.Vec3
	corners [4][3]int
}{
	// front
	{math.Vec3{0, 0, 1}, [4][3]int{{0, 0, 1}, {1, 1, 1}, {0, 1, 1}, {1, 0, 1}}},
	// back
	{math.Vec3{0, 0, -1}, [4][3]int{{1, 0, 0}, {0, 1, 0}, {1, 1, 0}, {0, 0, 0}}},
	// left
	{math.Vec3{-1, 0, 0}, [4][3]int{{0, 0, 0}, {0, 1, 1}, {0, 1, 0}, {0, 0, 1}}},
	// right
	{math.Vec3{1, 0, 0}, [4][3]int{{1, 0, 1}, {1, 1, 0}, {1, 1, 1}, {1, 0, 0}}},
	// bottom
	{math.Vec3{0, -1, 0}, [4][3]int{{1, 0, 1}, {0, 0, 0}, {1, 0, 0}, {0, 0, 1}}},
	// top
	{math.Vec3{0, 1, 0}, [4][3]int{{0, 1, 1}, {1, 1, 0}, {0, 1, 0}, {1, 1, 1}}},
}

/**
 * @brief Generates configuration for a box centered on the origin, with
 * 4 vertices per face so that every face gets its own normal and uvs.
 */
func GenerateCubeConfig(width, height, depth, tileX, tileY float32, name, materialName string) (*metadata.GeometryConfig, error) {
	width = nonZero(width, "Width")
	height = nonZero(height, "Height")
	depth = nonZero(depth, "Depth")
	tileX = nonZero(tileX, "tileX")
	tileY = nonZero(tileY, "tileY")

	config := &metadata.GeometryConfig{
		Vertices: make([]math.Vertex3D, 4*6), // 4 verts per side, 6 sides
		Indices:  make([]uint32, 6*6),        // 6 indices per side, 6 sides
	}

	half := math.Vec3{width * 0.5, height * 0.5, depth * 0.5}
	uvs := [4]math.Vec2{{0, 0}, {tileX, tileY}, {0, tileY}, {tileX, 0}}
	for f, face := range cubeFaces {
		vOffset := uint32(f * 4)
		for c, corner := range face.corners {
			var pos math.Vec3
			for axis := 0; axis < 3; axis++ {
				pos[axis] = half[axis]
				if corner[axis] == 0 {
					pos[axis] = -half[axis]
				}
			}
			config.Vertices[vOffset+uint32(c)] = math.Vertex3D{
				Position: pos,
				Normal:   face.normal,
				Texcoord: uvs[c],
			}
		}
		quadIndices(config.Indices[f*6:f*6+6], vOffset)
	}

	math.GeometryGenerateTangents(config.Vertices, config.Indices)
	config.Extents = math.Extents3D{Min: half.Mul(-1), Max: half}
	namesOrDefault(config, name, materialName)
	return config, nil
}
