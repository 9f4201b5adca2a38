package metadata

import "github.com/spaghettifunk/anima-core/engine/math"

/** @brief One object to draw this frame. */
type RenderEntity struct {
	Mesh     *Mesh
	Material *Material
	Instance InstanceHandle
	Model    math.Mat4
}

/** @brief Everything the renderer needs to draw one frame. */
type RenderPacket struct {
	DeltaTime float64
	Camera    CameraData
	Lighting  Lighting
	Entities  []RenderEntity
}
