package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-core/engine/core"
)

// VulkanShaderStage is one compiled module and the pipeline stage it feeds.
type VulkanShaderStage struct {
	Handle                vk.ShaderModule
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

// newShaderStage wraps SPIR-V code. The code length must be a multiple of 4.
func (d *Device) newShaderStage(name string, code []byte, stage vk.ShaderStageFlagBits) (*VulkanShaderStage, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, errors.Wrapf(core.ErrPipelineCreationFailed, "%s: %d bytes is not SPIR-V", name, len(code))
	}
	var module vk.ShaderModule
	info := shaderModuleInfo(code)
	res := vk.CreateShaderModule(d.logical, &info, nil, &module)
	if res != vk.Success {
		return nil, errors.Wrapf(core.ErrPipelineCreationFailed, "%s: vkCreateShaderModule %s", name, VulkanResultString(res))
	}
	return &VulkanShaderStage{
		Handle: module,
		ShaderStageCreateInfo: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  stage,
			Module: module,
			PName:  VulkanSafeString("main"),
		},
	}, nil
}

// shaderModuleInfo describes code to vkCreateShaderModule. CodeSize is in
// bytes while PCode is read as words.
func shaderModuleInfo(code []byte) vk.ShaderModuleCreateInfo {
	return vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code)),
		PCode:    sliceUint32(code),
	}
}

func (s *VulkanShaderStage) destroy(d *Device) {
	if s.Handle != nil {
		vk.DestroyShaderModule(d.logical, s.Handle, nil)
		s.Handle = nil
	}
}

func sliceUint32(data []byte) []uint32 {
	return unsafe.Slice((*uint32)(unsafe.Pointer(&data[0])), len(data)/4)
}
