package metadata

import "github.com/spaghettifunk/anima-core/engine/math"

/** @brief Per-frame camera state as the shaders see it. */
type CameraData struct {
	View       math.Mat4
	Projection math.Mat4
	Position   math.Vec3
	Direction  math.Vec3
	Viewport   math.Vec2
	Near       float32
	Far        float32
}

func (c CameraData) ViewProjection() math.Mat4 {
	return c.Projection.Mul4(c.View)
}
