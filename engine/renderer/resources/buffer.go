package resources

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-core/engine/containers"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
	"github.com/spaghettifunk/anima-core/engine/renderer/memory"
)

/** @brief A GPU buffer and the memory backing it. Owned by the BufferManager. */
type Buffer struct {
	/** @brief The driver object. */
	Native driver.Buffer
	Kind   driver.MemoryKind
	Usage  driver.BufferUsage
	/** @brief Size requested at creation, in bytes. */
	Size  uint64
	alloc *memory.Allocation
}

// BufferManager owns every buffer of the renderer. It is single-writer: only
// the render goroutine calls it.
type BufferManager struct {
	dev       driver.Device
	allocator *memory.Allocator
	buffers   *containers.Arena[Buffer]
}

func NewBufferManager(dev driver.Device, allocator *memory.Allocator) *BufferManager {
	return &BufferManager{
		dev:       dev,
		allocator: allocator,
		buffers:   containers.NewArena[Buffer](64),
	}
}

func checkBufferUsage(kind driver.MemoryKind, size uint64, usage driver.BufferUsage) error {
	if size == 0 {
		return errors.Wrap(core.ErrInvalidOperation, "zero-sized buffer")
	}
	if usage == 0 {
		return errors.Wrap(core.ErrInvalidOperation, "buffer without usage")
	}
	if kind == driver.MemoryStaging {
		if usage&driver.UsageTransferSrc == 0 {
			return errors.Wrap(core.ErrInvalidOperation, "staging buffer must be a transfer source")
		}
		if usage&^(driver.UsageTransferSrc|driver.UsageTransferDst) != 0 {
			return errors.Wrapf(core.ErrInvalidOperation, "staging buffer cannot have usage %#x", usage)
		}
	}
	return nil
}

// Create allocates a buffer of size bytes in memory of the given kind.
func (m *BufferManager) Create(kind driver.MemoryKind, size uint64, usage driver.BufferUsage) (BufferHandle, error) {
	if err := checkBufferUsage(kind, size, usage); err != nil {
		return BufferHandle{}, err
	}
	native, err := m.dev.NewBuffer(size, usage)
	if err != nil {
		return BufferHandle{}, errors.Wrap(err, "creating buffer")
	}
	req := native.Requirements()
	if !m.dev.SupportsMemory(req, kind) {
		native.Destroy()
		return BufferHandle{}, errors.Wrapf(core.ErrInvalidOperation, "usage %#x cannot live in %s memory", usage, kind)
	}
	alloc, err := m.allocator.Allocate(kind, req)
	if err != nil {
		native.Destroy()
		return BufferHandle{}, err
	}
	if err := m.dev.BindBufferMemory(native, alloc.Memory, alloc.Offset); err != nil {
		native.Destroy()
		_ = m.allocator.Free(alloc)
		return BufferHandle{}, errors.Wrap(err, "binding buffer memory")
	}
	h := m.buffers.Insert(Buffer{Native: native, Kind: kind, Usage: usage, Size: size, alloc: alloc})
	return BufferHandle(h), nil
}

// Get resolves a handle. The pointer is only valid until the next Create.
func (m *BufferManager) Get(h BufferHandle) (*Buffer, error) {
	b, ok := m.buffers.Get(containers.Handle(h))
	if !ok {
		return nil, errors.Wrapf(core.ErrInvalidHandle, "%s", h)
	}
	return b, nil
}

func (m *BufferManager) Native(h BufferHandle) (driver.Buffer, error) {
	b, err := m.Get(h)
	if err != nil {
		return nil, err
	}
	return b.Native, nil
}

func (m *BufferManager) Valid(h BufferHandle) bool {
	return m.buffers.Valid(containers.Handle(h))
}

// Write copies data into a host-visible buffer. Device-local buffers are
// filled through the command recorder instead.
func (m *BufferManager) Write(h BufferHandle, offset uint64, data []byte) error {
	b, err := m.mapped(h, offset, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(b[offset:], data)
	return nil
}

// Read copies n bytes out of a host-visible buffer.
func (m *BufferManager) Read(h BufferHandle, offset, n uint64) ([]byte, error) {
	b, err := m.mapped(h, offset, n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b[offset:offset+n]...), nil
}

func (m *BufferManager) mapped(h BufferHandle, offset, n uint64) ([]byte, error) {
	b, err := m.Get(h)
	if err != nil {
		return nil, err
	}
	if !b.Kind.HostVisible() {
		return nil, errors.Wrapf(core.ErrInvalidOperation, "%s lives in %s memory", h, b.Kind)
	}
	if offset+n > b.Size || offset+n < offset {
		return nil, errors.Wrapf(core.ErrInvalidOperation, "%s: range [%d, %d) outside %d bytes", h, offset, offset+n, b.Size)
	}
	return b.alloc.Bytes()[:b.Size], nil
}

// Destroy releases the buffer immediately. Callers that may still have it in
// flight go through a DeletionQueue.
func (m *BufferManager) Destroy(h BufferHandle) error {
	b, ok := m.buffers.Remove(containers.Handle(h))
	if !ok {
		return errors.Wrapf(core.ErrInvalidHandle, "destroy %s", h)
	}
	b.Native.Destroy()
	if err := m.allocator.Free(b.alloc); err != nil {
		return errors.Wrapf(err, "destroy %s", h)
	}
	return nil
}

func (m *BufferManager) Live() int {
	return m.buffers.Len()
}

// DestroyAll releases every buffer still alive, at teardown.
func (m *BufferManager) DestroyAll() {
	var handles []BufferHandle
	m.buffers.Each(func(h containers.Handle, _ *Buffer) {
		handles = append(handles, BufferHandle(h))
	})
	if len(handles) > 0 {
		core.LogDebug("destroying %d buffers left alive at shutdown", len(handles))
	}
	for _, h := range handles {
		if err := m.Destroy(h); err != nil {
			core.LogError("destroy %s: %s", h, err)
		}
	}
}
