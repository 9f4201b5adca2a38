package metadata

import (
	"github.com/spaghettifunk/anima-core/engine/math"
	"github.com/spaghettifunk/anima-core/engine/renderer/resources"
)

/** @brief The name of the default material. */
const DefaultMaterialName string = "default"

/** @brief Texture slots of a material, in descriptor binding order (binding = slot + 1). */
type TextureSlot uint8

const (
	TextureBaseColor TextureSlot = iota
	TextureNormal
	TextureMetallicRoughness
	TextureOcclusion
	TextureEmission
	TextureOpacity

	TextureSlotCount
)

/**
 * @brief The parameter bundle of a material. Two materials with equal
 * bundles and textures share GPU state.
 */
type MaterialParams struct {
	BaseColor        math.Vec4
	Metallic         float32
	Roughness        float32
	AmbientOcclusion float32
	NormalScale      float32
	Emission         math.Vec3
	EmissionStrength float32
	Opacity          float32
	AlphaCutoff      float32
}

func DefaultMaterialParams() MaterialParams {
	return MaterialParams{
		BaseColor:        math.Vec4{1, 1, 1, 1},
		Metallic:         0,
		Roughness:        0.5,
		AmbientOcclusion: 1,
		NormalScale:      1,
		Opacity:          1,
	}
}

/**
 * @brief A material, which describes how a surface is shaded. Owned by the
 * application; the renderer only reads it.
 */
type Material struct {
	Name      string
	Archetype Archetype
	Params    MaterialParams
	/** @brief Optional textures. A zero handle means the slot is empty. */
	Textures [TextureSlotCount]resources.ImageHandle
}

// MaterialKey identifies the GPU state of a material. The name does not take part.
type MaterialKey struct {
	Archetype Archetype
	Params    MaterialParams
	Textures  [TextureSlotCount]resources.ImageHandle
}

func (m *Material) Key() MaterialKey {
	return MaterialKey{Archetype: m.Archetype, Params: m.Params, Textures: m.Textures}
}

func (m *Material) HasTexture(slot TextureSlot) bool {
	return !m.Textures[slot].IsZero()
}

// TextureMask has bit i set when slot i holds a texture.
func (m *Material) TextureMask() uint32 {
	var mask uint32
	for i := TextureSlot(0); i < TextureSlotCount; i++ {
		if m.HasTexture(i) {
			mask |= 1 << i
		}
	}
	return mask
}
