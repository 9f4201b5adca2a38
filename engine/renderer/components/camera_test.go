package components

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"

	"github.com/spaghettifunk/anima-core/engine/math"
)

func TestCameraViewFollowsPosition(t *testing.T) {
	c := NewCamera()
	c.SetPosition(math.Vec3{0, 0, 10})

	view := c.GetView()
	assert.False(t, c.IsDirty)

	// the camera origin lands at the view-space origin
	origin := view.Mul4x1(mgl32.Vec4{0, 0, 10, 1})
	assert.InDelta(t, 0, origin.X(), 1e-5)
	assert.InDelta(t, 0, origin.Y(), 1e-5)
	assert.InDelta(t, 0, origin.Z(), 1e-5)

	// a point in front of the camera is on the negative z axis
	ahead := view.Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	assert.InDelta(t, -10, ahead.Z(), 1e-5)
}

func TestCameraMovement(t *testing.T) {
	c := NewCamera()
	c.MoveForward(2)
	assert.True(t, c.IsDirty)
	assert.InDelta(t, -2, c.Position.Z(), 1e-5)

	c.MoveRight(1)
	assert.InDelta(t, 1, c.Position.X(), 1e-5)

	c.MoveUp(3)
	assert.InDelta(t, 3, c.Position.Y(), 1e-5)
}

func TestCameraPitchIsClamped(t *testing.T) {
	c := NewCamera()
	c.Pitch(10)
	assert.InDelta(t, pitchLimit, c.EulerRotation.X(), 1e-6)
	c.Pitch(-20)
	assert.InDelta(t, -pitchLimit, c.EulerRotation.X(), 1e-6)
}

func TestCameraData(t *testing.T) {
	c := NewCamera()
	data := c.Data(1280, 720)
	assert.Equal(t, math.Vec2{1280, 720}, data.Viewport)
	assert.InDelta(t, -1, data.Direction.Z(), 1e-5)
	// clip-space y is flipped
	assert.Less(t, data.Projection[5], float32(0))

	// a zero height falls back to a square aspect
	square := c.Projection(100, 0)
	assert.InDelta(t, -square[5], square[0], 1e-5)
}
