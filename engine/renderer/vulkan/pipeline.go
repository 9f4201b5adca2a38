package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
)

// VulkanPipeline holds a graphics pipeline and its layout.
type VulkanPipeline struct {
	dev            *Device
	name           string
	Handle         vk.Pipeline
	PipelineLayout vk.PipelineLayout
	pushStages     vk.ShaderStageFlags
}

// NewPipeline builds a pipeline for the main render pass. Viewport and
// scissor are dynamic state, so the pipeline survives a resize.
func (d *Device) NewPipeline(desc *driver.PipelineDesc) (driver.Pipeline, error) {
	if d.presenter == nil || d.presenter.renderPass == nil {
		return nil, errors.Wrapf(core.ErrPipelineCreationFailed, "%s: no render pass", desc.Name)
	}
	if desc.PushConstantSize > d.limits.MaxPushConstantsSize {
		return nil, errors.Wrapf(core.ErrPipelineCreationFailed, "%s: %d bytes of push constants exceed the limit", desc.Name, desc.PushConstantSize)
	}

	vert, err := d.newShaderStage(desc.Name+".vert", desc.VertexCode, vk.ShaderStageVertexBit)
	if err != nil {
		return nil, err
	}
	defer vert.destroy(d)
	frag, err := d.newShaderStage(desc.Name+".frag", desc.FragmentCode, vk.ShaderStageFragmentBit)
	if err != nil {
		return nil, err
	}
	defer frag.destroy(d)

	out := &VulkanPipeline{
		dev:        d,
		name:       desc.Name,
		pushStages: vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit),
	}

	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                convCullMode(desc.Cull),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:  vk.False,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.False,
		DepthWriteEnable:  vk.False,
		StencilTestEnable: vk.False,
	}
	if desc.DepthTest {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthCompareOp = vk.CompareOpLess
	}
	if desc.DepthWrite {
		depthStencil.DepthWriteEnable = vk.True
	}

	colorBlendAttachmentState := vk.PipelineColorBlendAttachmentState{
		BlendEnable: vk.False,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
			vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
	}
	if desc.Blend == driver.BlendAlpha {
		colorBlendAttachmentState.BlendEnable = vk.True
		colorBlendAttachmentState.SrcColorBlendFactor = vk.BlendFactorSrcAlpha
		colorBlendAttachmentState.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		colorBlendAttachmentState.ColorBlendOp = vk.BlendOpAdd
		colorBlendAttachmentState.SrcAlphaBlendFactor = vk.BlendFactorSrcAlpha
		colorBlendAttachmentState.DstAlphaBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		colorBlendAttachmentState.AlphaBlendOp = vk.BlendOpAdd
	}

	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{colorBlendAttachmentState},
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	bindings := make([]vk.VertexInputBindingDescription, len(desc.Bindings))
	for i, b := range desc.Bindings {
		bindings[i] = vk.VertexInputBindingDescription{
			Binding:   b.Binding,
			Stride:    b.Stride,
			InputRate: convVertexRate(b.Rate),
		}
	}
	attributes := make([]vk.VertexInputAttributeDescription, len(desc.Attributes))
	for i, a := range desc.Attributes {
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: a.Location,
			Binding:  a.Binding,
			Format:   convFormat(a.Format),
			Offset:   a.Offset,
		}
	}
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}

	setLayouts := make([]vk.DescriptorSetLayout, len(desc.SetLayouts))
	for i, dl := range desc.SetLayouts {
		l, ok := dl.(*setLayout)
		if !ok || l.handle == nil {
			return nil, errors.Wrapf(core.ErrInvalidHandle, "%s: descriptor set layout %d", desc.Name, i)
		}
		setLayouts[i] = l.handle
	}
	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(setLayouts)),
		PSetLayouts:    setLayouts,
	}
	if desc.PushConstantSize > 0 {
		pipelineLayoutCreateInfo.PushConstantRangeCount = 1
		pipelineLayoutCreateInfo.PPushConstantRanges = []vk.PushConstantRange{{
			StageFlags: out.pushStages,
			Offset:     0,
			Size:       desc.PushConstantSize,
		}}
	}

	err = d.locks.SafeCall(PipelineManagement, func() error {
		var layout vk.PipelineLayout
		if res := vk.CreatePipelineLayout(d.logical, &pipelineLayoutCreateInfo, nil, &layout); res != vk.Success {
			return errors.Wrapf(core.ErrPipelineCreationFailed, "%s: vkCreatePipelineLayout %s", desc.Name, VulkanResultString(res))
		}
		out.PipelineLayout = layout

		pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
			SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
			StageCount:          2,
			PStages:             []vk.PipelineShaderStageCreateInfo{vert.ShaderStageCreateInfo, frag.ShaderStageCreateInfo},
			PVertexInputState:   &vertexInputInfo,
			PInputAssemblyState: &inputAssembly,
			PViewportState:      &viewportState,
			PRasterizationState: &rasterizerCreateInfo,
			PMultisampleState:   &multisamplingCreateInfo,
			PDepthStencilState:  &depthStencil,
			PColorBlendState:    &colorBlendStateCreateInfo,
			PDynamicState:       &dynamicStateCreateInfo,
			Layout:              out.PipelineLayout,
			RenderPass:          d.presenter.renderPass.Handle,
			Subpass:             0,
			BasePipelineIndex:   -1,
		}
		pipelines := make([]vk.Pipeline, 1)
		res := vk.CreateGraphicsPipelines(d.logical, vk.NullPipelineCache, 1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo}, nil, pipelines)
		if res != vk.Success {
			return errors.Wrapf(core.ErrPipelineCreationFailed, "%s: vkCreateGraphicsPipelines %s", desc.Name, VulkanResultString(res))
		}
		out.Handle = pipelines[0]
		return nil
	})
	if err != nil {
		out.Destroy()
		return nil, err
	}
	core.LogDebug("Graphics pipeline %s created.", desc.Name)
	return out, nil
}

func (pipeline *VulkanPipeline) Name() string { return pipeline.name }

func (pipeline *VulkanPipeline) Destroy() {
	d := pipeline.dev
	_ = d.locks.SafeCall(PipelineManagement, func() error {
		if pipeline.Handle != nil {
			vk.DestroyPipeline(d.logical, pipeline.Handle, nil)
			pipeline.Handle = nil
		}
		if pipeline.PipelineLayout != nil {
			vk.DestroyPipelineLayout(d.logical, pipeline.PipelineLayout, nil)
			pipeline.PipelineLayout = nil
		}
		return nil
	})
}
