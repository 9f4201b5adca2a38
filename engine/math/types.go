package math

import "github.com/go-gl/mathgl/mgl32"

type (
	Vec2       = mgl32.Vec2
	Vec3       = mgl32.Vec3
	Vec4       = mgl32.Vec4
	Mat3       = mgl32.Mat3
	Mat4       = mgl32.Mat4
	Quaternion = mgl32.Quat
)

/**
 * @brief Represents the extents of a 3d object.
 */
type Extents3D struct {
	/** @brief The minimum extents of the object. */
	Min Vec3
	/** @brief The maximum extents of the object. */
	Max Vec3
}

/**
 * @brief Represents a single vertex in 3D space. The GPU layout is
 * position, normal, texcoord, tangent, tightly packed (44 bytes).
 */
type Vertex3D struct {
	/** @brief The position of the vertex */
	Position Vec3
	/** @brief The normal of the vertex. */
	Normal Vec3
	/** @brief The texture coordinate of the vertex. */
	Texcoord Vec2
	/** @brief The tangent of the vertex. */
	Tangent Vec3
}

/**
 * @brief Represents the transform of an object in the world.
 * Transforms can have a parent whose own transform is then
 * taken into account. The properties should be changed through
 * the setters so the local matrix is regenerated.
 */
type Transform struct {
	/** @brief The position in the world. */
	Position Vec3
	/** @brief The rotation in the world. */
	Rotation Quaternion
	/** @brief The scale in the world. */
	Scale Vec3
	/** @brief Set when position, rotation or scale changed since the last GetLocal. */
	IsDirty bool
	/** @brief The cached local transformation matrix. */
	Local Mat4
	/** @brief An optional parent transform. */
	Parent *Transform
}
