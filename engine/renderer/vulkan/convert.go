package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
)

var formats = map[driver.Format]vk.Format{
	driver.FormatRGBA8Unorm:  vk.FormatR8g8b8a8Unorm,
	driver.FormatRGBA8Srgb:   vk.FormatR8g8b8a8Srgb,
	driver.FormatBGRA8Unorm:  vk.FormatB8g8r8a8Unorm,
	driver.FormatBGRA8Srgb:   vk.FormatB8g8r8a8Srgb,
	driver.FormatR8Unorm:     vk.FormatR8Unorm,
	driver.FormatD32Float:    vk.FormatD32Sfloat,
	driver.FormatD32FloatS8:  vk.FormatD32SfloatS8Uint,
	driver.FormatD24UnormS8:  vk.FormatD24UnormS8Uint,
	driver.FormatRG32Float:   vk.FormatR32g32Sfloat,
	driver.FormatRGB32Float:  vk.FormatR32g32b32Sfloat,
	driver.FormatRGBA32Float: vk.FormatR32g32b32a32Sfloat,
	driver.FormatRGBA32Uint:  vk.FormatR32g32b32a32Uint,
	driver.FormatR32Uint:     vk.FormatR32Uint,
}

func convFormat(f driver.Format) vk.Format {
	if vf, ok := formats[f]; ok {
		return vf
	}
	return vk.FormatUndefined
}

func formatFromVk(vf vk.Format) driver.Format {
	for f, v := range formats {
		if v == vf {
			return f
		}
	}
	return driver.FormatUndefined
}

func convBufferUsage(u driver.BufferUsage) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlagBits
	if u&driver.UsageVertex != 0 {
		flags |= vk.BufferUsageVertexBufferBit
	}
	if u&driver.UsageIndex != 0 {
		flags |= vk.BufferUsageIndexBufferBit
	}
	if u&driver.UsageUniform != 0 {
		flags |= vk.BufferUsageUniformBufferBit
	}
	if u&driver.UsageStorage != 0 {
		flags |= vk.BufferUsageStorageBufferBit
	}
	if u&driver.UsageTransferSrc != 0 {
		flags |= vk.BufferUsageTransferSrcBit
	}
	if u&driver.UsageTransferDst != 0 {
		flags |= vk.BufferUsageTransferDstBit
	}
	return vk.BufferUsageFlags(flags)
}

func convImageUsage(u driver.ImageUsage) vk.ImageUsageFlags {
	var flags vk.ImageUsageFlagBits
	if u&driver.ImageSampled != 0 {
		flags |= vk.ImageUsageSampledBit
	}
	if u&driver.ImageColorAttachment != 0 {
		flags |= vk.ImageUsageColorAttachmentBit
	}
	if u&driver.ImageDepthAttachment != 0 {
		flags |= vk.ImageUsageDepthStencilAttachmentBit
	}
	if u&driver.ImageTransferSrc != 0 {
		flags |= vk.ImageUsageTransferSrcBit
	}
	if u&driver.ImageTransferDst != 0 {
		flags |= vk.ImageUsageTransferDstBit
	}
	return vk.ImageUsageFlags(flags)
}

func aspectOf(f driver.Format) vk.ImageAspectFlags {
	switch f {
	case driver.FormatD32Float:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	case driver.FormatD32FloatS8, driver.FormatD24UnormS8:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

func convLayout(l driver.ImageLayout) vk.ImageLayout {
	switch l {
	case driver.LayoutGeneral:
		return vk.ImageLayoutGeneral
	case driver.LayoutColorAttachment:
		return vk.ImageLayoutColorAttachmentOptimal
	case driver.LayoutDepthAttachment:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case driver.LayoutShaderReadOnly:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case driver.LayoutTransferSrc:
		return vk.ImageLayoutTransferSrcOptimal
	case driver.LayoutTransferDst:
		return vk.ImageLayoutTransferDstOptimal
	case driver.LayoutPresentSrc:
		return vk.ImageLayoutPresentSrc
	}
	return vk.ImageLayoutUndefined
}

var stageBits = [...]struct {
	from driver.PipelineStage
	to   vk.PipelineStageFlagBits
}{
	{driver.StageTopOfPipe, vk.PipelineStageTopOfPipeBit},
	{driver.StageDrawIndirect, vk.PipelineStageDrawIndirectBit},
	{driver.StageVertexInput, vk.PipelineStageVertexInputBit},
	{driver.StageVertexShader, vk.PipelineStageVertexShaderBit},
	{driver.StageFragmentShader, vk.PipelineStageFragmentShaderBit},
	{driver.StageEarlyFragmentTests, vk.PipelineStageEarlyFragmentTestsBit},
	{driver.StageLateFragmentTests, vk.PipelineStageLateFragmentTestsBit},
	{driver.StageColorAttachmentOutput, vk.PipelineStageColorAttachmentOutputBit},
	{driver.StageTransfer, vk.PipelineStageTransferBit},
	{driver.StageBottomOfPipe, vk.PipelineStageBottomOfPipeBit},
	{driver.StageHost, vk.PipelineStageHostBit},
}

func convStages(s driver.PipelineStage) vk.PipelineStageFlags {
	var flags vk.PipelineStageFlagBits
	for _, b := range stageBits {
		if s&b.from != 0 {
			flags |= b.to
		}
	}
	return vk.PipelineStageFlags(flags)
}

var accessBits = [...]struct {
	from driver.Access
	to   vk.AccessFlagBits
}{
	{driver.AccessIndirectCommandRead, vk.AccessIndirectCommandReadBit},
	{driver.AccessIndexRead, vk.AccessIndexReadBit},
	{driver.AccessVertexAttributeRead, vk.AccessVertexAttributeReadBit},
	{driver.AccessUniformRead, vk.AccessUniformReadBit},
	{driver.AccessShaderRead, vk.AccessShaderReadBit},
	{driver.AccessShaderWrite, vk.AccessShaderWriteBit},
	{driver.AccessColorAttachmentRead, vk.AccessColorAttachmentReadBit},
	{driver.AccessColorAttachmentWrite, vk.AccessColorAttachmentWriteBit},
	{driver.AccessDepthStencilRead, vk.AccessDepthStencilAttachmentReadBit},
	{driver.AccessDepthStencilWrite, vk.AccessDepthStencilAttachmentWriteBit},
	{driver.AccessTransferRead, vk.AccessTransferReadBit},
	{driver.AccessTransferWrite, vk.AccessTransferWriteBit},
	{driver.AccessHostRead, vk.AccessHostReadBit},
	{driver.AccessHostWrite, vk.AccessHostWriteBit},
	{driver.AccessMemoryRead, vk.AccessMemoryReadBit},
	{driver.AccessMemoryWrite, vk.AccessMemoryWriteBit},
}

func convAccess(a driver.Access) vk.AccessFlags {
	var flags vk.AccessFlagBits
	for _, b := range accessBits {
		if a&b.from != 0 {
			flags |= b.to
		}
	}
	return vk.AccessFlags(flags)
}

func convShaderStages(s driver.ShaderStage) vk.ShaderStageFlags {
	var flags vk.ShaderStageFlagBits
	if s&driver.ShaderVertex != 0 {
		flags |= vk.ShaderStageVertexBit
	}
	if s&driver.ShaderFragment != 0 {
		flags |= vk.ShaderStageFragmentBit
	}
	return vk.ShaderStageFlags(flags)
}

func convDescriptorType(t driver.DescriptorType) vk.DescriptorType {
	if t == driver.DescriptorCombinedImageSampler {
		return vk.DescriptorTypeCombinedImageSampler
	}
	return vk.DescriptorTypeUniformBuffer
}

func convIndexType(t driver.IndexType) vk.IndexType {
	if t == driver.IndexUint16 {
		return vk.IndexTypeUint16
	}
	return vk.IndexTypeUint32
}

func convCullMode(c driver.CullMode) vk.CullModeFlags {
	switch c {
	case driver.CullNone:
		return vk.CullModeFlags(vk.CullModeNone)
	case driver.CullFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	}
	return vk.CullModeFlags(vk.CullModeBackBit)
}

func convVertexRate(r driver.VertexRate) vk.VertexInputRate {
	if r == driver.RateInstance {
		return vk.VertexInputRateInstance
	}
	return vk.VertexInputRateVertex
}

// memoryFlags are the properties a memory type needs to back kind.
func memoryFlags(kind driver.MemoryKind) vk.MemoryPropertyFlagBits {
	if kind.HostVisible() {
		return vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	}
	return vk.MemoryPropertyDeviceLocalBit
}
