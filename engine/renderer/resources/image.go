package resources

import (
	goimage "image"

	"github.com/cockroachdb/errors"
	"golang.org/x/image/draw"

	"github.com/spaghettifunk/anima-core/engine/containers"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
	"github.com/spaghettifunk/anima-core/engine/renderer/memory"
)

type ImageDesc struct {
	driver.ImageDesc
	// SwapchainDependent images follow the surface size and are rebuilt by Recreate.
	SwapchainDependent bool
}

/** @brief A GPU image, its memory and its current layout. Owned by the ImageManager. */
type Image struct {
	Native driver.Image
	Desc   ImageDesc
	/** @brief Layout the image was last transitioned to by recorded commands. */
	Layout driver.ImageLayout
	alloc  *memory.Allocation
}

// ImageManager owns textures and render targets. Images always live in
// device-local memory; their contents arrive through the command recorder.
type ImageManager struct {
	dev       driver.Device
	allocator *memory.Allocator
	images    *containers.Arena[Image]
}

func NewImageManager(dev driver.Device, allocator *memory.Allocator) *ImageManager {
	return &ImageManager{
		dev:       dev,
		allocator: allocator,
		images:    containers.NewArena[Image](32),
	}
}

func (m *ImageManager) Create(desc ImageDesc) (ImageHandle, error) {
	native, alloc, err := m.build(desc)
	if err != nil {
		return ImageHandle{}, err
	}
	h := m.images.Insert(Image{Native: native, Desc: desc, Layout: driver.LayoutUndefined, alloc: alloc})
	return ImageHandle(h), nil
}

func (m *ImageManager) build(desc ImageDesc) (driver.Image, *memory.Allocation, error) {
	if desc.Usage == 0 {
		return nil, nil, errors.Wrap(core.ErrInvalidOperation, "image without usage")
	}
	if desc.Format.IsDepth() && desc.Usage&driver.ImageColorAttachment != 0 {
		return nil, nil, errors.Wrap(core.ErrInvalidOperation, "depth format used as color attachment")
	}
	native, err := m.dev.NewImage(desc.ImageDesc)
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating image")
	}
	req := native.Requirements()
	if !m.dev.SupportsMemory(req, driver.MemoryDeviceLocal) {
		native.Destroy()
		return nil, nil, errors.Wrap(core.ErrInvalidOperation, "image cannot live in device-local memory")
	}
	alloc, err := m.allocator.Allocate(driver.MemoryDeviceLocal, req)
	if err != nil {
		native.Destroy()
		return nil, nil, err
	}
	if err := m.dev.BindImageMemory(native, alloc.Memory, alloc.Offset); err != nil {
		native.Destroy()
		_ = m.allocator.Free(alloc)
		return nil, nil, errors.Wrap(err, "binding image memory")
	}
	return native, alloc, nil
}

func (m *ImageManager) Get(h ImageHandle) (*Image, error) {
	img, ok := m.images.Get(containers.Handle(h))
	if !ok {
		return nil, errors.Wrapf(core.ErrInvalidHandle, "%s", h)
	}
	return img, nil
}

func (m *ImageManager) Native(h ImageHandle) (driver.Image, error) {
	img, err := m.Get(h)
	if err != nil {
		return nil, err
	}
	return img.Native, nil
}

func (m *ImageManager) Layout(h ImageHandle) (driver.ImageLayout, error) {
	img, err := m.Get(h)
	if err != nil {
		return driver.LayoutUndefined, err
	}
	return img.Layout, nil
}

// SetLayout records a transition that has been recorded into a command buffer.
func (m *ImageManager) SetLayout(h ImageHandle, layout driver.ImageLayout) error {
	img, err := m.Get(h)
	if err != nil {
		return err
	}
	img.Layout = layout
	return nil
}

func (m *ImageManager) Destroy(h ImageHandle) error {
	img, ok := m.images.Remove(containers.Handle(h))
	if !ok {
		return errors.Wrapf(core.ErrInvalidHandle, "destroy %s", h)
	}
	img.Native.Destroy()
	if err := m.allocator.Free(img.alloc); err != nil {
		return errors.Wrapf(err, "destroy %s", h)
	}
	return nil
}

// Recreate rebuilds every swapchain-dependent image at the new size. Handles
// stay valid; other images are left untouched. The device must be idle.
func (m *ImageManager) Recreate(width, height uint32) error {
	var handles []ImageHandle
	m.images.Each(func(h containers.Handle, img *Image) {
		if img.Desc.SwapchainDependent {
			handles = append(handles, ImageHandle(h))
		}
	})
	for _, h := range handles {
		img, _ := m.Get(h)
		img.Native.Destroy()
		if err := m.allocator.Free(img.alloc); err != nil {
			return errors.Wrapf(err, "recreate %s", h)
		}
		desc := img.Desc
		desc.Width, desc.Height = width, height
		native, alloc, err := m.build(desc)
		if err != nil {
			// the handle is useless without a native image
			m.images.Remove(containers.Handle(h))
			return errors.Wrapf(err, "recreate %s", h)
		}
		img, _ = m.Get(h)
		img.Native, img.alloc, img.Desc, img.Layout = native, alloc, desc, driver.LayoutUndefined
	}
	core.LogDebug("recreated %d swapchain-dependent images at %dx%d", len(handles), width, height)
	return nil
}

func (m *ImageManager) Live() int {
	return m.images.Len()
}

func (m *ImageManager) DestroyAll() {
	var handles []ImageHandle
	m.images.Each(func(h containers.Handle, _ *Image) {
		handles = append(handles, ImageHandle(h))
	})
	for _, h := range handles {
		if err := m.Destroy(h); err != nil {
			core.LogError("destroy %s: %s", h, err)
		}
	}
}

// ConvertRGBA returns the pixels of src as tightly packed 8-bit RGBA, the
// layout expected by FormatRGBA8Unorm and FormatRGBA8Srgb uploads.
func ConvertRGBA(src goimage.Image) (pixels []byte, width, height uint32) {
	b := src.Bounds()
	if rgba, ok := src.(*goimage.RGBA); ok && rgba.Stride == 4*b.Dx() && b.Min == (goimage.Point{}) {
		return rgba.Pix, uint32(b.Dx()), uint32(b.Dy())
	}
	dst := goimage.NewRGBA(goimage.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst.Pix, uint32(b.Dx()), uint32(b.Dy())
}
