package metadata

import "github.com/spaghettifunk/anima-core/engine/math"

// Light limits of the lighting uniform block. Lights past these counts are
// dropped for the frame.
const (
	MaxDirectionalLights = 4
	MaxPointLights       = 64
	MaxSpotLights        = 4
)

/**
 * @brief Light colors are linear and never premultiplied: Intensity is the
 * only scale applied, once, by the shader.
 */
type DirectionalLight struct {
	Direction math.Vec3
	Color     math.Vec3
	Intensity float32
}

type PointLight struct {
	Position  math.Vec3
	Color     math.Vec3
	Intensity float32
	Range     float32
	Constant  float32
	Linear    float32
	Quadratic float32
}

type SpotLight struct {
	Position  math.Vec3
	Direction math.Vec3
	Color     math.Vec3
	Intensity float32
	Range     float32
	/** @brief Cone half-angles in radians. */
	InnerCone float32
	OuterCone float32
}

type Lighting struct {
	/** @brief Ambient term; rgb color, w unused. */
	Ambient     math.Vec4
	Directional []DirectionalLight
	Point       []PointLight
	Spot        []SpotLight
}
