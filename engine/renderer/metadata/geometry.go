package metadata

import (
	"github.com/spaghettifunk/anima-core/engine/math"
)

/** @brief The name of the default geometry. */
const DefaultGeometryName string = "default"

/**
 * @brief Represents the configuration for a geometry: CPU-side vertices and
 * indices waiting to be uploaded as a Mesh.
 */
type GeometryConfig struct {
	/** @brief An array of Vertices. */
	Vertices []math.Vertex3D
	/** @brief An array of 32-bit Indices. */
	Indices []uint32

	Center  math.Vec3
	Extents math.Extents3D

	/** @brief The Name of the geometry. */
	Name string
	/** @brief The name of the material used by the geometry. */
	MaterialName string
}

// IsValid reports a config with whole triangles whose indices stay in range.
func (c *GeometryConfig) IsValid() bool {
	if len(c.Vertices) == 0 || len(c.Indices) == 0 || len(c.Indices)%3 != 0 {
		return false
	}
	for _, i := range c.Indices {
		if int(i) >= len(c.Vertices) {
			return false
		}
	}
	return true
}
