// Package descriptors owns the fixed resource-binding contract between the
// renderer and its shaders: the two descriptor set layouts, the byte layout of
// every uniform block, and the descriptor sets that point at them.
package descriptors

import (
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

// LayoutVersion changes whenever a binding or a block layout below changes.
// Pipelines compiled against another version must be rebuilt.
const LayoutVersion uint32 = 1

const (
	SetGlobal   uint32 = 0
	SetMaterial uint32 = 1
)

// set 0
const (
	BindingCamera   uint32 = 0
	BindingLighting uint32 = 1
)

// set 1
const (
	BindingMaterial     uint32 = 0
	BindingFirstTexture uint32 = 1
)

// TextureBinding is the set 1 binding of a texture slot.
func TextureBinding(slot metadata.TextureSlot) uint32 {
	return BindingFirstTexture + uint32(slot)
}

func GlobalBindings() []driver.DescriptorBinding {
	return []driver.DescriptorBinding{
		{Binding: BindingCamera, Type: driver.DescriptorUniformBuffer, Stages: driver.ShaderVertex | driver.ShaderFragment},
		{Binding: BindingLighting, Type: driver.DescriptorUniformBuffer, Stages: driver.ShaderFragment},
	}
}

func MaterialBindings() []driver.DescriptorBinding {
	bindings := []driver.DescriptorBinding{
		{Binding: BindingMaterial, Type: driver.DescriptorUniformBuffer, Stages: driver.ShaderVertex | driver.ShaderFragment},
	}
	for slot := metadata.TextureSlot(0); slot < metadata.TextureSlotCount; slot++ {
		bindings = append(bindings, driver.DescriptorBinding{
			Binding: TextureBinding(slot),
			Type:    driver.DescriptorCombinedImageSampler,
			Stages:  driver.ShaderFragment,
		})
	}
	return bindings
}
