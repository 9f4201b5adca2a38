package vulkan

import (
	vk "github.com/goki/vulkan"
)

type VulkanFramebuffer struct {
	Handle      vk.Framebuffer
	Attachments []vk.ImageView
}

func (d *Device) framebufferCreate(renderpass *VulkanRenderpass, extent vk.Extent2D, attachments []vk.ImageView) (*VulkanFramebuffer, error) {
	out := &VulkanFramebuffer{
		Attachments: append([]vk.ImageView(nil), attachments...),
	}
	framebufferCreateInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderpass.Handle,
		AttachmentCount: uint32(len(out.Attachments)),
		PAttachments:    out.Attachments,
		Width:           extent.Width,
		Height:          extent.Height,
		Layers:          1,
	}
	var handle vk.Framebuffer
	if res := vk.CreateFramebuffer(d.logical, &framebufferCreateInfo, nil, &handle); res != vk.Success {
		return nil, d.resultError(res, "creating framebuffer")
	}
	out.Handle = handle
	return out, nil
}

func (vfb *VulkanFramebuffer) destroy(d *Device) {
	if vfb.Handle != nil {
		vk.DestroyFramebuffer(d.logical, vfb.Handle, nil)
		vfb.Handle = nil
	}
	vfb.Attachments = nil
}
