// Package pool keeps per-instance data of every renderable object in GPU
// buffers, one growable pool per (mesh, archetype) pair. A slot handed out by
// Request keeps its index for as long as it is held, so the draw of an
// instance can always use its slot as the first instance index.
package pool

import (
	"sort"

	"github.com/chewxy/math32"
	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/command"
	"github.com/spaghettifunk/anima-core/engine/renderer/descriptors"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-core/engine/renderer/resources"
)

const instanceUsage = driver.UsageVertex | driver.UsageTransferDst | driver.UsageTransferSrc

type Stats struct {
	Pools     int
	Instances int
	Capacity  uint32
	Grows     int
	// bytes written by the last Flush
	Uploaded uint64
}

type slot struct {
	data       metadata.InstanceData
	generation uint32
	live       bool
}

type instancePool struct {
	id       uint64
	key      metadata.PoolKey
	buffer   resources.BufferHandle
	capacity uint32
	slots    []slot
	free     []uint32
	refs     int

	// dirty slot range [dirtyLo, dirtyHi)
	dirtyLo, dirtyHi uint32
	// buffer replaced by growth whose contents still have to be copied over
	retired       resources.BufferHandle
	retiredLength uint64
}

func (p *instancePool) markDirty(s uint32) {
	if p.dirtyLo >= p.dirtyHi {
		p.dirtyLo, p.dirtyHi = s, s+1
		return
	}
	if s < p.dirtyLo {
		p.dirtyLo = s
	}
	if s+1 > p.dirtyHi {
		p.dirtyHi = s + 1
	}
}

// flushed is what a Flush recorded for one pool, applied by Commit.
type flushed struct {
	pool             uint64
	retired          resources.BufferHandle
	dirtyLo, dirtyHi uint32
}

// Allocator owns every instance pool. Like the other managers it is only used
// from the render goroutine.
type Allocator struct {
	buffers  *resources.BufferManager
	tracker  *command.Tracker
	deletion *resources.DeletionQueue
	cfg      core.PoolConfig

	pools  map[metadata.PoolKey]*instancePool
	byID   map[uint64]*instancePool
	nextID uint64
	frame  uint64
	grows  int
	upload uint64
	// recorded by the last Flush, not yet known to be submitted
	pending []flushed
}

func NewAllocator(buffers *resources.BufferManager, tracker *command.Tracker, deletion *resources.DeletionQueue, cfg core.PoolConfig) (*Allocator, error) {
	if cfg.InitialCapacity == 0 || cfg.MaxPoolSize < cfg.InitialCapacity {
		return nil, errors.Wrapf(core.ErrInvalidOperation, "pool sizes: initial %d, max %d", cfg.InitialCapacity, cfg.MaxPoolSize)
	}
	if cfg.GrowthFactor <= 1 {
		return nil, errors.Wrapf(core.ErrInvalidOperation, "pool growth factor %.2f must exceed 1", cfg.GrowthFactor)
	}
	return &Allocator{
		buffers:  buffers,
		tracker:  tracker,
		deletion: deletion,
		cfg:      cfg,
		pools:    make(map[metadata.PoolKey]*instancePool),
		byID:     make(map[uint64]*instancePool),
	}, nil
}

// BeginFrame tells the allocator which frame is being recorded, so replaced
// buffers are kept alive until that frame has completed.
func (a *Allocator) BeginFrame(frame uint64) {
	a.frame = frame
}

func (a *Allocator) newBuffer(capacity uint32) (resources.BufferHandle, error) {
	return a.buffers.Create(driver.MemoryDeviceLocal, uint64(capacity)*descriptors.InstanceStride, instanceUsage)
}

func (a *Allocator) retire(h resources.BufferHandle) {
	if h.IsZero() {
		return
	}
	a.deletion.Push(a.frame, func() {
		a.destroy(h)
	})
}

func (a *Allocator) destroy(h resources.BufferHandle) {
	if native, err := a.buffers.Native(h); err == nil {
		a.tracker.Forget(native)
	}
	if err := a.buffers.Destroy(h); err != nil {
		core.LogError("instance pool: %s", err)
	}
}

// nextCapacity grows by the configured factor, rounding up, capped at the
// maximum pool size.
func (a *Allocator) nextCapacity(cur uint32) uint32 {
	next := uint32(math32.Ceil(float32(cur) * a.cfg.GrowthFactor))
	if next <= cur {
		next = cur + 1
	}
	if next > a.cfg.MaxPoolSize {
		next = a.cfg.MaxPoolSize
	}
	return next
}

func (a *Allocator) grow(p *instancePool) error {
	if p.capacity >= a.cfg.MaxPoolSize {
		return errors.Wrapf(core.ErrPoolExhausted, "pool %d (%s) holds %d instances", p.id, p.key.Archetype, p.capacity)
	}
	capacity := a.nextCapacity(p.capacity)
	buf, err := a.newBuffer(capacity)
	if err != nil {
		return errors.Wrapf(err, "growing pool %d to %d instances", p.id, capacity)
	}
	if p.retired.IsZero() {
		p.retired = p.buffer
		p.retiredLength = uint64(p.capacity) * descriptors.InstanceStride
	} else {
		// grown twice before a flush: the intermediate buffer never got data
		a.retire(p.buffer)
	}
	core.LogDebug("instance pool %d: %d -> %d instances", p.id, p.capacity, capacity)
	p.buffer = buf
	p.capacity = capacity
	a.grows++
	return nil
}

// Request reserves a slot in the pool of (mesh, archetype), creating or
// growing the pool as needed. On error nothing was allocated.
func (a *Allocator) Request(mesh uuid.UUID, archetype metadata.Archetype) (metadata.InstanceHandle, error) {
	if !archetype.Valid() {
		return metadata.InstanceHandle{}, errors.Wrapf(core.ErrInvalidOperation, "archetype %d", archetype)
	}
	key := metadata.PoolKey{Mesh: mesh, Archetype: archetype}
	p, ok := a.pools[key]
	if !ok {
		buf, err := a.newBuffer(a.cfg.InitialCapacity)
		if err != nil {
			return metadata.InstanceHandle{}, errors.Wrap(err, "creating instance pool")
		}
		a.nextID++
		p = &instancePool{id: a.nextID, key: key, buffer: buf, capacity: a.cfg.InitialCapacity}
		a.pools[key] = p
		a.byID[p.id] = p
	}

	var idx uint32
	if n := len(p.free); n > 0 {
		idx = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		if uint32(len(p.slots)) == p.capacity {
			if err := a.grow(p); err != nil {
				return metadata.InstanceHandle{}, err
			}
		}
		idx = uint32(len(p.slots))
		p.slots = append(p.slots, slot{})
	}

	s := &p.slots[idx]
	s.generation++
	if s.generation == 0 {
		s.generation = 1
	}
	s.live = true
	s.data = metadata.InstanceData{Model: mgl32.Ident4(), Color: mgl32.Vec4{1, 1, 1, 1}}
	p.refs++
	p.markDirty(idx)
	return metadata.InstanceHandle{Pool: p.id, Slot: idx, Generation: s.generation}, nil
}

func (a *Allocator) lookup(h metadata.InstanceHandle) (*instancePool, *slot, error) {
	p, ok := a.byID[h.Pool]
	if !ok || int(h.Slot) >= len(p.slots) {
		return nil, nil, errors.Wrapf(core.ErrInvalidHandle, "instance %d/%d", h.Pool, h.Slot)
	}
	s := &p.slots[h.Slot]
	if !s.live || s.generation != h.Generation || h.Generation == 0 {
		return nil, nil, errors.Wrapf(core.ErrInvalidHandle, "instance %d/%d", h.Pool, h.Slot)
	}
	return p, s, nil
}

// Release gives the slot back. The pool and its buffer go away with the last
// slot, once the frames that may still read them have completed.
func (a *Allocator) Release(h metadata.InstanceHandle) error {
	p, s, err := a.lookup(h)
	if err != nil {
		return errors.Wrap(err, "release")
	}
	s.live = false
	s.data = metadata.InstanceData{}
	p.free = append(p.free, h.Slot)
	p.refs--
	if p.refs > 0 {
		return nil
	}
	a.retire(p.buffer)
	a.retire(p.retired)
	delete(a.pools, p.key)
	delete(a.byID, p.id)
	core.LogDebug("instance pool %d released", p.id)
	return nil
}

// Update replaces the data of an instance. It reaches the GPU on the next
// Flush.
func (a *Allocator) Update(h metadata.InstanceHandle, data metadata.InstanceData) error {
	p, s, err := a.lookup(h)
	if err != nil {
		return errors.Wrap(err, "update")
	}
	s.data = data
	p.markDirty(h.Slot)
	return nil
}

func (a *Allocator) Get(h metadata.InstanceHandle) (metadata.InstanceData, error) {
	_, s, err := a.lookup(h)
	if err != nil {
		return metadata.InstanceData{}, err
	}
	return s.data, nil
}

// Buffer returns the buffer holding the instance, to bind as the instance
// stream. It changes when the pool grows.
func (a *Allocator) Buffer(h metadata.InstanceHandle) (resources.BufferHandle, error) {
	p, _, err := a.lookup(h)
	if err != nil {
		return resources.BufferHandle{}, err
	}
	return p.buffer, nil
}

// Buffers lists the buffer of every pool, for declaring the reads of a render
// pass.
func (a *Allocator) Buffers() []resources.BufferHandle {
	out := make([]resources.BufferHandle, 0, len(a.pools))
	for _, p := range a.sorted() {
		out = append(out, p.buffer)
	}
	return out
}

func (a *Allocator) sorted() []*instancePool {
	out := make([]*instancePool, 0, len(a.byID))
	for _, p := range a.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Flush records the copies of grown pools and the uploads of dirty slots.
// The recorder must be outside a render pass. Nothing is marked as uploaded
// until Commit; a frame that is never submitted is simply flushed again.
func (a *Allocator) Flush(rec *command.Recorder) error {
	a.upload = 0
	a.pending = a.pending[:0]
	for _, p := range a.sorted() {
		done := flushed{pool: p.id}
		if !p.retired.IsZero() {
			if err := rec.CopyBuffer(p.retired, p.buffer, driver.BufferCopy{Size: p.retiredLength}); err != nil {
				return errors.Wrapf(err, "pool %d growth copy", p.id)
			}
			done.retired = p.retired
		}
		if p.dirtyLo < p.dirtyHi {
			data := make([]byte, int(p.dirtyHi-p.dirtyLo)*descriptors.InstanceStride)
			for i := p.dirtyLo; i < p.dirtyHi; i++ {
				s := &p.slots[i]
				if !s.live {
					// freed slots are never drawn; leave them zeroed
					continue
				}
				off := int(i-p.dirtyLo) * descriptors.InstanceStride
				descriptors.EncodeInstance(data[off:off+descriptors.InstanceStride], &s.data)
			}
			if err := rec.WriteBuffer(p.buffer, uint64(p.dirtyLo)*descriptors.InstanceStride, data); err != nil {
				return errors.Wrapf(err, "pool %d upload", p.id)
			}
			a.upload += uint64(len(data))
			done.dirtyLo, done.dirtyHi = p.dirtyLo, p.dirtyHi
		}
		if !done.retired.IsZero() || done.dirtyLo < done.dirtyHi {
			a.pending = append(a.pending, done)
		}
	}
	return nil
}

// Commit marks what the last Flush recorded as uploaded, once the command
// buffer holding it has been submitted. Buffers replaced by growth are then
// released after the frame completes.
func (a *Allocator) Commit() {
	for _, done := range a.pending {
		p, ok := a.byID[done.pool]
		if !ok {
			continue
		}
		if !done.retired.IsZero() && p.retired == done.retired {
			a.retire(p.retired)
			p.retired = resources.BufferHandle{}
			p.retiredLength = 0
		}
		if done.dirtyLo < done.dirtyHi && p.dirtyLo == done.dirtyLo && p.dirtyHi == done.dirtyHi {
			p.dirtyLo, p.dirtyHi = 0, 0
		}
	}
	a.pending = a.pending[:0]
}

func (a *Allocator) Stats() Stats {
	st := Stats{Pools: len(a.pools), Grows: a.grows, Uploaded: a.upload}
	for _, p := range a.pools {
		st.Instances += p.refs
		st.Capacity += p.capacity
	}
	return st
}

// Destroy releases every pool buffer immediately. The device must be idle.
func (a *Allocator) Destroy() {
	for _, p := range a.sorted() {
		for _, h := range []resources.BufferHandle{p.buffer, p.retired} {
			if !h.IsZero() {
				a.destroy(h)
			}
		}
	}
	a.pending = nil
	a.pools = make(map[metadata.PoolKey]*instancePool)
	a.byID = make(map[uint64]*instancePool)
}
