package components

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/anima-core/engine/math"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

/**
 * @brief Represents a camera that can be used for
 * a variety of things, especially rendering. Ideally,
 * these are created and managed by the camera system.
 */
type Camera struct {
	/**
	 * @brief The position of this camera.
	 * NOTE: Do not set this directly, use SetPosition() instead
	 * so the view matrix is recalculated when needed.
	 */
	Position math.Vec3
	/**
	 * @brief The rotation of this camera using Euler angles (pitch, yaw, roll).
	 * NOTE: Do not set this directly, use SetEulerRotation() instead
	 * so the view matrix is recalculated when needed.
	 */
	EulerRotation math.Vec3
	/** @brief Vertical field of view in radians. */
	FOV  float32
	Near float32
	Far  float32
	/** @brief Internal flag used to determine when the view matrix needs to be rebuilt. */
	IsDirty bool
	/**
	 * @brief The view matrix of this camera.
	 * NOTE: IMPORTANT: Do not get this directly, use GetView() instead
	 * so the view matrix is recalculated when needed.
	 */
	ViewMatrix math.Mat4
}

/** @brief The name of the default camera. */
const DEFAULT_CAMERA_NAME string = "default"

// 89 degrees
const pitchLimit float32 = 1.55334306

func NewCamera() *Camera {
	camera := &Camera{}
	camera.Reset()
	return camera
}

func (c *Camera) Reset() {
	c.EulerRotation = math.Vec3{}
	c.Position = math.Vec3{}
	c.FOV = math.DegToRad(45)
	c.Near = 0.1
	c.Far = 1000
	c.IsDirty = false
	c.ViewMatrix = mgl32.Ident4()
}

func (c *Camera) GetPosition() math.Vec3 {
	return c.Position
}

func (c *Camera) SetPosition(position math.Vec3) {
	c.Position = position
	c.IsDirty = true
}

func (c *Camera) GetEulerRotation() math.Vec3 {
	return c.EulerRotation
}

func (c *Camera) SetEulerRotation(rotation math.Vec3) {
	c.EulerRotation = rotation
	c.IsDirty = true
}

func (c *Camera) orientation() math.Quaternion {
	return mgl32.AnglesToQuat(c.EulerRotation.X(), c.EulerRotation.Y(), c.EulerRotation.Z(), mgl32.XYZ)
}

func (c *Camera) GetView() math.Mat4 {
	if c.IsDirty {
		world := mgl32.Translate3D(c.Position.X(), c.Position.Y(), c.Position.Z()).Mul4(c.orientation().Mat4())
		c.ViewMatrix = world.Inv()
		c.IsDirty = false
	}
	return c.ViewMatrix
}

func (c *Camera) Forward() math.Vec3 {
	return c.orientation().Rotate(math.Vec3{0, 0, -1})
}

func (c *Camera) Backward() math.Vec3 {
	return c.Forward().Mul(-1)
}

func (c *Camera) Left() math.Vec3 {
	return c.Right().Mul(-1)
}

func (c *Camera) Right() math.Vec3 {
	return c.orientation().Rotate(math.Vec3{1, 0, 0})
}

func (c *Camera) move(direction math.Vec3, amount float32) {
	c.Position = c.Position.Add(direction.Mul(amount))
	c.IsDirty = true
}

func (c *Camera) MoveForward(amount float32) { c.move(c.Forward(), amount) }
func (c *Camera) MoveBackward(amount float32) { c.move(c.Backward(), amount) }
func (c *Camera) MoveLeft(amount float32) { c.move(c.Left(), amount) }
func (c *Camera) MoveRight(amount float32) { c.move(c.Right(), amount) }
func (c *Camera) MoveUp(amount float32) { c.move(math.Vec3{0, 1, 0}, amount) }
func (c *Camera) MoveDown(amount float32) { c.move(math.Vec3{0, -1, 0}, amount) }

func (c *Camera) Yaw(amount float32) {
	c.EulerRotation[1] += amount
	c.IsDirty = true
}

func (c *Camera) Pitch(amount float32) {
	c.EulerRotation[0] = math.Clamp(c.EulerRotation[0]+amount, -pitchLimit, pitchLimit)
	c.IsDirty = true
}

// Projection is a right-handed perspective with the clip-space Y axis
// pointing down, as the Vulkan viewport expects.
func (c *Camera) Projection(width, height uint32) math.Mat4 {
	aspect := float32(1)
	if height > 0 {
		aspect = float32(width) / float32(height)
	}
	proj := mgl32.Perspective(c.FOV, aspect, c.Near, c.Far)
	proj[5] *= -1
	return proj
}

// Data is the camera as the renderer consumes it for a surface of the given size.
func (c *Camera) Data(width, height uint32) metadata.CameraData {
	return metadata.CameraData{
		View:       c.GetView(),
		Projection: c.Projection(width, height),
		Position:   c.Position,
		Direction:  c.Forward(),
		Viewport:   math.Vec2{float32(width), float32(height)},
		Near:       c.Near,
		Far:        c.Far,
	}
}
