package vulkan

import (
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
)

var _ driver.Presenter = (*Presenter)(nil)

type VulkanSwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

// Presenter owns the swapchain, its image views, the main render pass and one
// framebuffer per swapchain image. Framebuffers exist only while a depth
// attachment is attached.
type Presenter struct {
	dev *Device

	mu           sync.Mutex
	handle       vk.Swapchain
	format       vk.SurfaceFormat
	extent       vk.Extent2D
	images       []vk.Image
	views        []vk.ImageView
	renderPass   *VulkanRenderpass
	framebuffers []*VulkanFramebuffer
	depth        *image
}

func newPresenter(d *Device, width, height uint32) (*Presenter, error) {
	p := &Presenter{dev: d}
	if err := p.createSwapchain(width, height); err != nil {
		p.destroy()
		return nil, err
	}
	rp, err := d.renderpassCreate(p.format.Format, d.depthFormat)
	if err != nil {
		p.destroy()
		return nil, err
	}
	p.renderPass = rp
	return p, nil
}

func (d *Device) querySwapchainSupport() (*VulkanSwapchainSupportInfo, error) {
	info := &VulkanSwapchainSupportInfo{}
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(d.physical, d.surface, &info.Capabilities); res != vk.Success {
		return nil, d.resultError(res, "querying surface capabilities")
	}
	info.Capabilities.Deref()
	info.Capabilities.CurrentExtent.Deref()
	info.Capabilities.MinImageExtent.Deref()
	info.Capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	if res := vk.GetPhysicalDeviceSurfaceFormats(d.physical, d.surface, &formatCount, nil); res != vk.Success {
		return nil, d.resultError(res, "querying surface formats")
	}
	info.Formats = make([]vk.SurfaceFormat, formatCount)
	if res := vk.GetPhysicalDeviceSurfaceFormats(d.physical, d.surface, &formatCount, info.Formats); res != vk.Success {
		return nil, d.resultError(res, "querying surface formats")
	}
	for i := range info.Formats {
		info.Formats[i].Deref()
	}

	var modeCount uint32
	if res := vk.GetPhysicalDeviceSurfacePresentModes(d.physical, d.surface, &modeCount, nil); res != vk.Success {
		return nil, d.resultError(res, "querying present modes")
	}
	info.PresentModes = make([]vk.PresentMode, modeCount)
	if res := vk.GetPhysicalDeviceSurfacePresentModes(d.physical, d.surface, &modeCount, info.PresentModes); res != vk.Success {
		return nil, d.resultError(res, "querying present modes")
	}
	if len(info.Formats) == 0 || len(info.PresentModes) == 0 {
		return nil, errors.Wrap(core.ErrInvalidOperation, "required swapchain support not present")
	}
	return info, nil
}

func chooseSurfaceFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, f := range formats {
		if f.Format == vk.FormatB8g8r8a8Unorm && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return f
		}
	}
	for _, f := range formats {
		if formatFromVk(f.Format) != driver.FormatUndefined {
			return f
		}
	}
	return formats[0]
}

func choosePresentMode(modes []vk.PresentMode) vk.PresentMode {
	for _, m := range modes {
		if m == vk.PresentModeMailbox {
			return m
		}
	}
	return vk.PresentModeFifo
}

func chooseExtent(caps vk.SurfaceCapabilities, width, height uint32) vk.Extent2D {
	extent := vk.Extent2D{Width: width, Height: height}
	if caps.CurrentExtent.Width != math.MaxUint32 {
		extent = caps.CurrentExtent
	}
	extent.Width = clamp(extent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	extent.Height = clamp(extent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)
	return extent
}

func clamp(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}

// createSwapchain replaces the current swapchain, if any.
func (p *Presenter) createSwapchain(width, height uint32) error {
	d := p.dev
	support, err := d.querySwapchainSupport()
	if err != nil {
		return err
	}
	p.format = chooseSurfaceFormat(support.Formats)
	p.extent = chooseExtent(support.Capabilities, width, height)

	imageCount := support.Capabilities.MinImageCount + 1
	if support.Capabilities.MaxImageCount > 0 && imageCount > support.Capabilities.MaxImageCount {
		imageCount = support.Capabilities.MaxImageCount
	}

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.surface,
		MinImageCount:    imageCount,
		ImageFormat:      p.format.Format,
		ImageColorSpace:  p.format.ColorSpace,
		ImageExtent:      p.extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     support.Capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      choosePresentMode(support.PresentModes),
		Clipped:          vk.True,
		OldSwapchain:     p.handle,
	}
	if d.graphicsFamily != d.presentFamily {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{d.graphicsFamily, d.presentFamily}
	}

	var handle vk.Swapchain
	if res := vk.CreateSwapchain(d.logical, &createInfo, nil, &handle); res != vk.Success {
		return d.resultError(res, "creating swapchain")
	}
	p.destroyImages()
	if p.handle != vk.NullSwapchain {
		vk.DestroySwapchain(d.logical, p.handle, nil)
	}
	p.handle = handle

	var count uint32
	if res := vk.GetSwapchainImages(d.logical, p.handle, &count, nil); res != vk.Success {
		return d.resultError(res, "getting swapchain images")
	}
	p.images = make([]vk.Image, count)
	if res := vk.GetSwapchainImages(d.logical, p.handle, &count, p.images); res != vk.Success {
		return d.resultError(res, "getting swapchain images")
	}
	p.views = make([]vk.ImageView, 0, count)
	for _, img := range p.images {
		view, err := d.createImageView(img, p.format.Format, vk.ImageAspectFlags(vk.ImageAspectColorBit))
		if err != nil {
			return err
		}
		p.views = append(p.views, view)
	}
	core.LogInfo("Swapchain created: %dx%d, %d images.", p.extent.Width, p.extent.Height, count)
	return nil
}

func (p *Presenter) destroyFramebuffers() {
	for _, fb := range p.framebuffers {
		fb.destroy(p.dev)
	}
	p.framebuffers = nil
}

// destroyImages drops the views and framebuffers. The images belong to the
// swapchain.
func (p *Presenter) destroyImages() {
	p.destroyFramebuffers()
	for _, v := range p.views {
		vk.DestroyImageView(p.dev.logical, v, nil)
	}
	p.views = nil
	p.images = nil
}

func (p *Presenter) destroy() {
	p.destroyImages()
	if p.handle != vk.NullSwapchain {
		vk.DestroySwapchain(p.dev.logical, p.handle, nil)
		p.handle = vk.NullSwapchain
	}
	if p.renderPass != nil {
		p.renderPass.destroy(p.dev)
		p.renderPass = nil
	}
	p.depth = nil
}

func (p *Presenter) Acquire(signal driver.Semaphore, timeout time.Duration) (uint32, error) {
	if p.dev.isLost() {
		return 0, errors.Wrap(core.ErrDeviceLost, "acquire")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var idx uint32
	result := vk.AcquireNextImage(p.dev.logical, p.handle, uint64(timeout.Nanoseconds()),
		semaphoreHandle(signal), vk.NullFence, &idx)
	switch result {
	case vk.Success, vk.Suboptimal:
		// a suboptimal image is still presentable; present reports it
		return idx, nil
	case vk.Timeout, vk.NotReady:
		return 0, errors.Wrapf(core.ErrTimeout, "no swapchain image available after %s", timeout)
	}
	return 0, p.dev.resultError(result, "acquire")
}

func (p *Presenter) Present(imageIndex uint32, wait driver.Semaphore) error {
	if p.dev.isLost() {
		return errors.Wrap(core.ErrDeviceLost, "present")
	}
	p.mu.Lock()
	handle := p.handle
	p.mu.Unlock()
	presentInfo := vk.PresentInfo{
		SType:          vk.StructureTypePresentInfo,
		SwapchainCount: 1,
		PSwapchains:    []vk.Swapchain{handle},
		PImageIndices:  []uint32{imageIndex},
	}
	if s := semaphoreHandle(wait); s != vk.NullSemaphore {
		presentInfo.WaitSemaphoreCount = 1
		presentInfo.PWaitSemaphores = []vk.Semaphore{s}
	}
	return p.dev.locks.SafeCall(QueueManagement, func() error {
		result := vk.QueuePresent(p.dev.presentQueue, &presentInfo)
		if result == vk.Success {
			return nil
		}
		return p.dev.resultError(result, "present")
	})
}

// Resize recreates the swapchain. The depth attachment is dropped and must be
// attached again at the new size.
func (p *Presenter) Resize(width, height uint32) error {
	if width == 0 || height == 0 {
		return errors.Wrapf(core.ErrInvalidOperation, "resize to %dx%d", width, height)
	}
	if err := p.dev.WaitIdle(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.depth = nil
	return p.createSwapchain(width, height)
}

func (p *Presenter) Extent() driver.Extent2D {
	p.mu.Lock()
	defer p.mu.Unlock()
	return driver.Extent2D{Width: p.extent.Width, Height: p.extent.Height}
}

func (p *Presenter) ColorFormat() driver.Format { return formatFromVk(p.format.Format) }

func (p *Presenter) DepthFormat() driver.Format { return formatFromVk(p.dev.depthFormat) }

func (p *Presenter) ImageCount() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return uint32(len(p.images))
}

// AttachDepth rebuilds the framebuffers around img.
func (p *Presenter) AttachDepth(di driver.Image) error {
	img, ok := di.(*image)
	if !ok || img.view == nil {
		return errors.Wrap(core.ErrInvalidHandle, "depth attachment")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	desc := img.desc
	if desc.Width != p.extent.Width || desc.Height != p.extent.Height || !desc.Format.IsDepth() {
		return errors.Wrapf(core.ErrInvalidOperation, "depth attachment %dx%d does not match surface %dx%d",
			desc.Width, desc.Height, p.extent.Width, p.extent.Height)
	}
	p.destroyFramebuffers()
	for _, view := range p.views {
		fb, err := p.dev.framebufferCreate(p.renderPass, p.extent, []vk.ImageView{view, img.view})
		if err != nil {
			p.destroyFramebuffers()
			return err
		}
		p.framebuffers = append(p.framebuffers, fb)
	}
	p.depth = img
	return nil
}

func (p *Presenter) beginRenderPass(cmd vk.CommandBuffer, imageIndex uint32, clear driver.ClearValues) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(imageIndex) >= len(p.framebuffers) {
		return errors.Wrapf(core.ErrInvalidOperation, "no framebuffer for image %d, depth not attached", imageIndex)
	}
	p.renderPass.begin(cmd, p.framebuffers[imageIndex].Handle, p.extent, clear)
	return nil
}
