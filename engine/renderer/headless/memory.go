package headless

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
)

// memory type i backs MemoryKind i
const (
	bufferTypeBits = 1<<driver.MemoryDeviceLocal | 1<<driver.MemoryHostVisible | 1<<driver.MemoryStaging
	imageTypeBits  = 1 << driver.MemoryDeviceLocal
)

type memory struct {
	dev       *Device
	kind      driver.MemoryKind
	data      []byte
	destroyed bool
}

func (d *Device) AllocateMemory(kind driver.MemoryKind, size uint64) (driver.Memory, error) {
	if kind >= driver.MemoryKindCount || size == 0 {
		return nil, errors.Wrapf(core.ErrInvalidOperation, "allocate %d bytes of %s memory", size, kind)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return nil, errors.Wrap(core.ErrDeviceLost, "allocate memory")
	}
	if limit := d.opts.HeapSize[kind]; limit != 0 && d.heapUsed[kind]+size > limit {
		return nil, errors.Wrapf(core.ErrOutOfMemory, "%s heap: %d of %d bytes used, %d requested",
			kind, d.heapUsed[kind], limit, size)
	}
	d.heapUsed[kind] += size
	d.LiveAllocations.Add(1)
	return &memory{dev: d, kind: kind, data: make([]byte, size)}, nil
}

func (m *memory) Kind() driver.MemoryKind { return m.kind }

func (m *memory) Size() uint64 { return uint64(len(m.data)) }

func (m *memory) Mapped() []byte {
	if !m.kind.HostVisible() {
		return nil
	}
	return m.data
}

func (m *memory) Destroy() {
	if m.destroyed {
		return
	}
	m.destroyed = true
	m.dev.mu.Lock()
	m.dev.heapUsed[m.kind] -= uint64(len(m.data))
	m.dev.mu.Unlock()
	m.dev.LiveAllocations.Add(-1)
}

func (d *Device) SupportsMemory(req driver.MemoryRequirements, kind driver.MemoryKind) bool {
	return req.TypeBits&(1<<kind) != 0
}

type buffer struct {
	dev       *Device
	id        uint64
	size      uint64
	usage     driver.BufferUsage
	mem       *memory
	offset    uint64
	destroyed bool
}

func (d *Device) NewBuffer(size uint64, usage driver.BufferUsage) (driver.Buffer, error) {
	if size == 0 || usage == 0 {
		return nil, errors.Wrapf(core.ErrInvalidOperation, "buffer of %d bytes with usage %#x", size, usage)
	}
	return &buffer{dev: d, id: d.id(), size: size, usage: usage}, nil
}

func (b *buffer) Size() uint64 { return b.size }

func (b *buffer) Usage() driver.BufferUsage { return b.usage }

func (b *buffer) Requirements() driver.MemoryRequirements {
	align := uint64(16)
	if b.usage&driver.UsageUniform != 0 {
		align = 256
	}
	return driver.MemoryRequirements{Size: b.size, Alignment: align, TypeBits: bufferTypeBits}
}

func (b *buffer) Destroy() {
	if b.destroyed {
		return
	}
	b.destroyed = true
	b.dev.forget(b)
}

func (b *buffer) String() string {
	return fmt.Sprintf("buffer#%d", b.id)
}

// bytes is nil until memory is bound.
func (b *buffer) bytes() []byte {
	if b.mem == nil {
		return nil
	}
	return b.mem.data[b.offset : b.offset+b.size]
}

func (d *Device) BindBufferMemory(db driver.Buffer, dm driver.Memory, offset uint64) error {
	b, ok := db.(*buffer)
	if !ok || b.destroyed {
		return errors.Wrap(core.ErrInvalidHandle, "bind buffer memory")
	}
	m, ok := dm.(*memory)
	if !ok || m.destroyed {
		return errors.Wrap(core.ErrInvalidHandle, "bind buffer memory: memory")
	}
	if b.mem != nil {
		return errors.Wrapf(core.ErrInvalidOperation, "%s already bound", b)
	}
	req := b.Requirements()
	if offset%req.Alignment != 0 || offset+b.size > m.Size() {
		return errors.Wrapf(core.ErrInvalidOperation, "%s: offset %d (align %d) size %d exceeds memory of %d",
			b, offset, req.Alignment, b.size, m.Size())
	}
	b.mem, b.offset = m, offset
	return nil
}

type image struct {
	dev       *Device
	id        uint64
	desc      driver.ImageDesc
	mem       *memory
	offset    uint64
	destroyed bool
}

func (d *Device) NewImage(desc driver.ImageDesc) (driver.Image, error) {
	if desc.Width == 0 || desc.Height == 0 || desc.Format.BytesPerPixel() == 0 {
		return nil, errors.Wrapf(core.ErrInvalidOperation, "image %dx%d format %d", desc.Width, desc.Height, desc.Format)
	}
	img := &image{dev: d, id: d.id(), desc: desc}
	d.mu.Lock()
	d.layouts[img] = driver.LayoutUndefined
	d.mu.Unlock()
	return img, nil
}

func (i *image) Desc() driver.ImageDesc { return i.desc }

func (i *image) Requirements() driver.MemoryRequirements {
	size := uint64(i.desc.Width) * uint64(i.desc.Height) * uint64(i.desc.Format.BytesPerPixel())
	return driver.MemoryRequirements{Size: size, Alignment: 256, TypeBits: imageTypeBits}
}

func (i *image) Destroy() {
	if i.destroyed {
		return
	}
	i.destroyed = true
	i.dev.forget(i)
	i.dev.mu.Lock()
	delete(i.dev.layouts, i)
	i.dev.mu.Unlock()
}

func (i *image) String() string {
	return fmt.Sprintf("image#%d", i.id)
}

func (i *image) bytes() []byte {
	if i.mem == nil {
		return nil
	}
	return i.mem.data[i.offset : i.offset+i.Requirements().Size]
}

func (d *Device) BindImageMemory(di driver.Image, dm driver.Memory, offset uint64) error {
	img, ok := di.(*image)
	if !ok || img.destroyed {
		return errors.Wrap(core.ErrInvalidHandle, "bind image memory")
	}
	m, ok := dm.(*memory)
	if !ok || m.destroyed {
		return errors.Wrap(core.ErrInvalidHandle, "bind image memory: memory")
	}
	req := img.Requirements()
	if req.TypeBits&(1<<m.kind) == 0 {
		return errors.Wrapf(core.ErrInvalidOperation, "%s cannot live in %s memory", img, m.kind)
	}
	if offset%req.Alignment != 0 || offset+req.Size > m.Size() {
		return errors.Wrapf(core.ErrInvalidOperation, "%s: range [%d, %d) outside memory of %d", img, offset, offset+req.Size, m.Size())
	}
	img.mem, img.offset = m, offset
	return nil
}

// ImageLayout is the layout the device last saw the image transitioned to.
func (d *Device) ImageLayout(di driver.Image) driver.ImageLayout {
	img, _ := di.(*image)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.layouts[img]
}

// BufferContents returns a copy of what the device holds for b, including
// device-local memory the host cannot map.
func (d *Device) BufferContents(db driver.Buffer) []byte {
	b, ok := db.(*buffer)
	if !ok {
		return nil
	}
	return append([]byte(nil), b.bytes()...)
}

// ImageContents returns a copy of the image texels.
func (d *Device) ImageContents(di driver.Image) []byte {
	img, ok := di.(*image)
	if !ok {
		return nil
	}
	return append([]byte(nil), img.bytes()...)
}

func (d *Device) forget(res interface{}) {
	d.mu.Lock()
	delete(d.states, res)
	d.mu.Unlock()
}
