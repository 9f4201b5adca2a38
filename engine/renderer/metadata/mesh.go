package metadata

import (
	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-core/engine/math"
	"github.com/spaghettifunk/anima-core/engine/renderer/resources"
)

/**
 * @brief Geometry uploaded to the GPU. Vertices use the math.Vertex3D layout
 * and indices are 32-bit.
 */
type Mesh struct {
	/** @brief Identity used to key instance pools. */
	ID           uuid.UUID
	Name         string
	VertexBuffer resources.BufferHandle
	IndexBuffer  resources.BufferHandle
	VertexCount  uint32
	IndexCount   uint32
	Extents      math.Extents3D
}
