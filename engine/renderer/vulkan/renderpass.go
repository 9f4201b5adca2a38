package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
)

// VulkanRenderpass is the main pass: one color attachment presented at the
// end and one depth attachment cleared every frame.
type VulkanRenderpass struct {
	Handle vk.RenderPass
}

func (d *Device) renderpassCreate(colorFormat, depthFormat vk.Format) (*VulkanRenderpass, error) {
	colorAttachment := vk.AttachmentDescription{
		Format:         colorFormat,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutPresentSrc,
	}
	depthAttachment := vk.AttachmentDescription{
		Format:         depthFormat,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpDontCare,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
	}

	colorAttachmentReference := []vk.AttachmentReference{{
		Attachment: 0,
		Layout:     vk.ImageLayoutColorAttachmentOptimal,
	}}
	depthAttachmentReference := vk.AttachmentReference{
		Attachment: 1,
		Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
	}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:       vk.PipelineBindPointGraphics,
		ColorAttachmentCount:    1,
		PColorAttachments:       colorAttachmentReference,
		PDepthStencilAttachment: &depthAttachmentReference,
	}

	// the previous frame may still read or write the attachments
	dependency := vk.SubpassDependency{
		SrcSubpass: vk.SubpassExternal,
		DstSubpass: 0,
		SrcStageMask: convStages(driver.StageColorAttachmentOutput | driver.StageEarlyFragmentTests |
			driver.StageLateFragmentTests),
		SrcAccessMask: convAccess(driver.AccessDepthStencilWrite),
		DstStageMask: convStages(driver.StageColorAttachmentOutput | driver.StageEarlyFragmentTests |
			driver.StageLateFragmentTests),
		DstAccessMask: convAccess(driver.AccessColorAttachmentRead | driver.AccessColorAttachmentWrite |
			driver.AccessDepthStencilRead | driver.AccessDepthStencilWrite),
	}

	renderpassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: 2,
		PAttachments:    []vk.AttachmentDescription{colorAttachment, depthAttachment},
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	var handle vk.RenderPass
	if res := vk.CreateRenderPass(d.logical, &renderpassCreateInfo, nil, &handle); res != vk.Success {
		return nil, d.resultError(res, "creating main render pass")
	}
	return &VulkanRenderpass{Handle: handle}, nil
}

func (vr *VulkanRenderpass) destroy(d *Device) {
	if vr.Handle != nil {
		vk.DestroyRenderPass(d.logical, vr.Handle, nil)
		vr.Handle = nil
	}
}

func (vr *VulkanRenderpass) begin(cmd vk.CommandBuffer, framebuffer vk.Framebuffer, extent vk.Extent2D, clear driver.ClearValues) {
	clearValues := make([]vk.ClearValue, 2)
	clearValues[0].SetColor(clear.Color[:])
	clearValues[1].SetDepthStencil(clear.Depth, clear.Stencil)

	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  vr.Handle,
		Framebuffer: framebuffer,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: extent,
		},
		ClearValueCount: 2,
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(cmd, &beginInfo, vk.SubpassContentsInline)
}
