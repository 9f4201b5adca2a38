package metadata

import (
	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-core/engine/math"
)

// PoolKey selects the instance pool of an object.
type PoolKey struct {
	Mesh      uuid.UUID
	Archetype Archetype
}

// InstanceHandle names one slot of an instance pool. Slot indices never move
// while the handle is alive, including across pool growth.
type InstanceHandle struct {
	Pool       uint64
	Slot       uint32
	Generation uint32
}

func (h InstanceHandle) IsZero() bool { return h.Generation == 0 }

/** @brief The per-instance data consumed by the vertex stage. */
type InstanceData struct {
	Model         math.Mat4
	Color         math.Vec4
	Emission      math.Vec4
	Flags         [4]uint32
	MaterialIndex uint32
}
