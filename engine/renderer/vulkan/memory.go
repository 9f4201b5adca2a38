package vulkan

import (
	"fmt"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
)

type memory struct {
	dev    *Device
	handle vk.DeviceMemory
	kind   driver.MemoryKind
	size   uint64
	mapped []byte
}

func (d *Device) AllocateMemory(kind driver.MemoryKind, size uint64) (driver.Memory, error) {
	if kind >= driver.MemoryKindCount || d.memoryTypes[kind] < 0 {
		return nil, errors.Wrapf(core.ErrOutOfMemory, "device has no %s memory type", kind)
	}
	var handle vk.DeviceMemory
	res := vk.AllocateMemory(d.logical, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(size),
		MemoryTypeIndex: uint32(d.memoryTypes[kind]),
	}, nil, &handle)
	if res != vk.Success {
		return nil, d.resultError(res, "allocating %d bytes of %s memory", size, kind)
	}
	m := &memory{dev: d, handle: handle, kind: kind, size: size}
	if kind.HostVisible() {
		var ptr unsafe.Pointer
		if res := vk.MapMemory(d.logical, handle, 0, vk.DeviceSize(size), 0, &ptr); res != vk.Success {
			vk.FreeMemory(d.logical, handle, nil)
			return nil, d.resultError(res, "mapping %s memory", kind)
		}
		m.mapped = unsafe.Slice((*byte)(ptr), size)
	}
	return m, nil
}

func (m *memory) Kind() driver.MemoryKind { return m.kind }

func (m *memory) Size() uint64 { return m.size }

func (m *memory) Mapped() []byte { return m.mapped }

func (m *memory) Destroy() {
	if m.handle == nil {
		return
	}
	if m.mapped != nil {
		vk.UnmapMemory(m.dev.logical, m.handle)
		m.mapped = nil
	}
	vk.FreeMemory(m.dev.logical, m.handle, nil)
	m.handle = nil
}

func (d *Device) SupportsMemory(req driver.MemoryRequirements, kind driver.MemoryKind) bool {
	if kind >= driver.MemoryKindCount {
		return false
	}
	idx := d.memoryTypes[kind]
	return idx >= 0 && req.TypeBits&(1<<uint32(idx)) != 0
}

type buffer struct {
	dev    *Device
	handle vk.Buffer
	size   uint64
	usage  driver.BufferUsage
	req    driver.MemoryRequirements
}

func (d *Device) NewBuffer(size uint64, usage driver.BufferUsage) (driver.Buffer, error) {
	if size == 0 {
		return nil, errors.Wrap(core.ErrInvalidOperation, "zero sized buffer")
	}
	var handle vk.Buffer
	res := vk.CreateBuffer(d.logical, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Usage:       convBufferUsage(usage),
		Size:        vk.DeviceSize(size),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &handle)
	if res != vk.Success {
		return nil, d.resultError(res, "creating buffer of %d bytes", size)
	}
	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.logical, handle, &memReqs)
	memReqs.Deref()
	return &buffer{
		dev:    d,
		handle: handle,
		size:   size,
		usage:  usage,
		req: driver.MemoryRequirements{
			Size:      uint64(memReqs.Size),
			Alignment: uint64(memReqs.Alignment),
			TypeBits:  memReqs.MemoryTypeBits,
		},
	}, nil
}

func (b *buffer) Size() uint64 { return b.size }

func (b *buffer) Usage() driver.BufferUsage { return b.usage }

func (b *buffer) Requirements() driver.MemoryRequirements { return b.req }

func (b *buffer) Destroy() {
	if b.handle != nil {
		vk.DestroyBuffer(b.dev.logical, b.handle, nil)
		b.handle = nil
	}
}

func (b *buffer) String() string {
	return fmt.Sprintf("buffer(%d bytes)", b.size)
}

func (d *Device) BindBufferMemory(db driver.Buffer, dm driver.Memory, offset uint64) error {
	b, ok := db.(*buffer)
	if !ok || b.handle == nil {
		return errors.Wrap(core.ErrInvalidHandle, "bind buffer memory: buffer")
	}
	m, ok := dm.(*memory)
	if !ok || m.handle == nil {
		return errors.Wrap(core.ErrInvalidHandle, "bind buffer memory: memory")
	}
	if offset+b.req.Size > m.size {
		return errors.Wrapf(core.ErrInvalidOperation, "%s does not fit at offset %d of a %d byte block", b, offset, m.size)
	}
	if res := vk.BindBufferMemory(d.logical, b.handle, m.handle, vk.DeviceSize(offset)); res != vk.Success {
		return d.resultError(res, "binding %s", b)
	}
	return nil
}

type image struct {
	dev     *Device
	handle  vk.Image
	view    vk.ImageView
	sampler vk.Sampler
	desc    driver.ImageDesc
	req     driver.MemoryRequirements
	// swapchain images are owned by the swapchain
	borrowed bool
}

func (d *Device) NewImage(desc driver.ImageDesc) (driver.Image, error) {
	format := convFormat(desc.Format)
	if format == vk.FormatUndefined || desc.Width == 0 || desc.Height == 0 {
		return nil, errors.Wrapf(core.ErrInvalidOperation, "image %dx%d of format %d", desc.Width, desc.Height, desc.Format)
	}
	var handle vk.Image
	res := vk.CreateImage(d.logical, &vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     vk.ImageType2d,
		Format:        format,
		Extent:        vk.Extent3D{Width: desc.Width, Height: desc.Height, Depth: 1},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         convImageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &handle)
	if res != vk.Success {
		return nil, d.resultError(res, "creating image %dx%d", desc.Width, desc.Height)
	}
	var memReqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.logical, handle, &memReqs)
	memReqs.Deref()
	return &image{
		dev:    d,
		handle: handle,
		desc:   desc,
		req: driver.MemoryRequirements{
			Size:      uint64(memReqs.Size),
			Alignment: uint64(memReqs.Alignment),
			TypeBits:  memReqs.MemoryTypeBits,
		},
	}, nil
}

func (i *image) Desc() driver.ImageDesc { return i.desc }

func (i *image) Requirements() driver.MemoryRequirements { return i.req }

func (i *image) String() string {
	return fmt.Sprintf("image(%dx%d)", i.desc.Width, i.desc.Height)
}

func (i *image) Destroy() {
	if i.sampler != nil {
		vk.DestroySampler(i.dev.logical, i.sampler, nil)
		i.sampler = nil
	}
	if i.view != nil {
		vk.DestroyImageView(i.dev.logical, i.view, nil)
		i.view = nil
	}
	if i.handle != nil && !i.borrowed {
		vk.DestroyImage(i.dev.logical, i.handle, nil)
	}
	i.handle = nil
}

// BindImageMemory also creates the view, and the sampler of sampled images.
func (d *Device) BindImageMemory(di driver.Image, dm driver.Memory, offset uint64) error {
	img, ok := di.(*image)
	if !ok || img.handle == nil {
		return errors.Wrap(core.ErrInvalidHandle, "bind image memory: image")
	}
	m, ok := dm.(*memory)
	if !ok || m.handle == nil {
		return errors.Wrap(core.ErrInvalidHandle, "bind image memory: memory")
	}
	if m.kind != driver.MemoryDeviceLocal {
		return errors.Wrapf(core.ErrInvalidOperation, "%s bound to %s memory", img, m.kind)
	}
	if res := vk.BindImageMemory(d.logical, img.handle, m.handle, vk.DeviceSize(offset)); res != vk.Success {
		return d.resultError(res, "binding %s", img)
	}
	view, err := d.createImageView(img.handle, convFormat(img.desc.Format), aspectOf(img.desc.Format))
	if err != nil {
		return err
	}
	img.view = view
	if img.desc.Usage&driver.ImageSampled != 0 {
		sampler, err := d.createSampler()
		if err != nil {
			return err
		}
		img.sampler = sampler
	}
	return nil
}

func (d *Device) createImageView(handle vk.Image, format vk.Format, aspect vk.ImageAspectFlags) (vk.ImageView, error) {
	var view vk.ImageView
	res := vk.CreateImageView(d.logical, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    handle,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspect,
			LevelCount: 1,
			LayerCount: 1,
		},
	}, nil, &view)
	if res != vk.Success {
		return nil, d.resultError(res, "creating image view")
	}
	return view, nil
}

func (d *Device) createSampler() (vk.Sampler, error) {
	var samp vk.Sampler
	res := vk.CreateSampler(d.logical, &vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterLinear,
		MinFilter:               vk.FilterLinear,
		AddressModeU:            vk.SamplerAddressModeRepeat,
		AddressModeV:            vk.SamplerAddressModeRepeat,
		AddressModeW:            vk.SamplerAddressModeRepeat,
		AnisotropyEnable:        vk.True,
		MaxAnisotropy:           d.limits.MaxSamplerAnisotropy,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		MipmapMode:              vk.SamplerMipmapModeLinear,
	}, nil, &samp)
	if res != vk.Success {
		return nil, d.resultError(res, "creating sampler")
	}
	return samp, nil
}
