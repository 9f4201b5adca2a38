// Package memory sub-allocates device memory for the resource managers.
package memory

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
)

// Allocation is a range of a device memory block. It stays valid until it is
// passed to Free.
type Allocation struct {
	Kind   driver.MemoryKind
	Memory driver.Memory
	Offset uint64
	Size   uint64

	block *block
	freed bool
}

// Bytes is the mapped window of a host-visible allocation, nil otherwise.
func (a *Allocation) Bytes() []byte {
	m := a.Memory.Mapped()
	if m == nil {
		return nil
	}
	return m[a.Offset : a.Offset+a.Size]
}

func (a *Allocation) String() string {
	return fmt.Sprintf("%s[%d %d]", a.Kind, a.Offset, a.Size)
}

type block struct {
	memory      driver.Memory
	free        *freeList
	allocations int
	dedicated   bool
}

type pool struct {
	kind      driver.MemoryKind
	blockSize uint64
	budget    uint64
	blocks    []*block
	reserved  uint64
	used      uint64
}

type PoolStats struct {
	Kind     driver.MemoryKind
	Blocks   int
	Reserved uint64
	Used     uint64
}

// Allocator hands out ranges of large device blocks, one pool per memory kind.
// All bookkeeping is serialized by a single mutex; the managers calling it
// never hold locks of their own while doing so.
type Allocator struct {
	dev             driver.Device
	nonCoherentAtom uint64

	mu    sync.Mutex
	pools [driver.MemoryKindCount]*pool
}

func NewAllocator(dev driver.Device, cfg core.MemoryConfig) *Allocator {
	a := &Allocator{dev: dev, nonCoherentAtom: dev.Limits().NonCoherentAtomSize}
	a.pools[driver.MemoryDeviceLocal] = &pool{kind: driver.MemoryDeviceLocal, blockSize: cfg.DeviceLocalBlockSize, budget: cfg.DeviceLocalBudget}
	a.pools[driver.MemoryHostVisible] = &pool{kind: driver.MemoryHostVisible, blockSize: cfg.HostVisibleBlockSize, budget: cfg.HostVisibleBudget}
	a.pools[driver.MemoryStaging] = &pool{kind: driver.MemoryStaging, blockSize: cfg.StagingBlockSize, budget: cfg.StagingBudget}
	return a
}

// Allocate returns a range satisfying req from the pool of kind, growing the
// pool by one block when no existing block fits. It fails with
// core.ErrOutOfMemory when the pool budget or the device heap is exhausted.
func (a *Allocator) Allocate(kind driver.MemoryKind, req driver.MemoryRequirements) (*Allocation, error) {
	if kind >= driver.MemoryKindCount || req.Size == 0 {
		return nil, errors.Wrapf(core.ErrInvalidOperation, "allocate %d bytes of %s memory", req.Size, kind)
	}
	align := req.Alignment
	if kind.HostVisible() && a.nonCoherentAtom > align {
		align = a.nonCoherentAtom
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.pools[kind]

	for _, b := range p.blocks {
		if b.dedicated {
			continue
		}
		if offset, ok := b.free.allocate(req.Size, align); ok {
			return p.commit(b, offset, req.Size), nil
		}
	}

	size := p.blockSize
	dedicated := false
	if req.Size > size {
		size = req.Size
		dedicated = true
	}
	if p.budget != 0 && p.reserved+size > p.budget {
		return nil, errors.Wrapf(core.ErrOutOfMemory, "%s pool: %d of %d bytes reserved, %d more requested",
			kind, p.reserved, p.budget, size)
	}
	mem, err := a.dev.AllocateMemory(kind, size)
	if err != nil {
		if errors.Is(err, core.ErrOutOfMemory) {
			return nil, err
		}
		return nil, errors.Wrapf(core.ErrOutOfMemory, "%s block of %d bytes: %v", kind, size, err)
	}
	b := &block{memory: mem, free: newFreeList(size), dedicated: dedicated}
	p.blocks = append(p.blocks, b)
	p.reserved += size
	core.LogDebug("memory: new %s block of %d bytes (%d blocks)", kind, size, len(p.blocks))

	offset, ok := b.free.allocate(req.Size, align)
	if !ok {
		// a fresh block always fits what it was sized for
		return nil, errors.AssertionFailedf("fresh %s block cannot hold %d bytes", kind, req.Size)
	}
	return p.commit(b, offset, req.Size), nil
}

func (p *pool) commit(b *block, offset, size uint64) *Allocation {
	b.allocations++
	p.used += size
	return &Allocation{Kind: p.kind, Memory: b.memory, Offset: offset, Size: size, block: b}
}

// Free returns the range to its block. Blocks left empty are released, except
// the first block of each pool which is kept for reuse.
func (a *Allocator) Free(alloc *Allocation) error {
	if alloc == nil || alloc.block == nil {
		return errors.Wrap(core.ErrInvalidHandle, "free of a foreign allocation")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if alloc.freed {
		return errors.Wrapf(core.ErrInvalidOperation, "double free of %s", alloc)
	}
	p := a.pools[alloc.Kind]
	if p == nil || !p.owns(alloc.block) {
		return errors.Wrapf(core.ErrInvalidOperation, "free %s: block no longer allocated", alloc)
	}
	if err := alloc.block.free.free(alloc.Offset, alloc.Size); err != nil {
		return errors.Wrapf(core.ErrInvalidOperation, "free %s: %v", alloc, err)
	}
	alloc.freed = true
	alloc.block.allocations--
	p.used -= alloc.Size

	if alloc.block.allocations == 0 && (alloc.block.dedicated || p.blocks[0] != alloc.block) {
		p.release(alloc.block)
	}
	return nil
}

func (p *pool) owns(b *block) bool {
	for _, cur := range p.blocks {
		if cur == b {
			return true
		}
	}
	return false
}

func (p *pool) release(b *block) {
	for i, cur := range p.blocks {
		if cur == b {
			p.blocks = append(p.blocks[:i], p.blocks[i+1:]...)
			break
		}
	}
	p.reserved -= b.memory.Size()
	b.memory.Destroy()
}

func (a *Allocator) Stats() []PoolStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	stats := make([]PoolStats, 0, len(a.pools))
	for _, p := range a.pools {
		stats = append(stats, PoolStats{Kind: p.kind, Blocks: len(p.blocks), Reserved: p.reserved, Used: p.used})
	}
	return stats
}

// Destroy releases every block. Outstanding allocations become dangling.
func (a *Allocator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.pools {
		for _, b := range p.blocks {
			b.memory.Destroy()
		}
		p.blocks = nil
		p.reserved, p.used = 0, 0
	}
}
