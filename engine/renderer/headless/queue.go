package headless

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
)

var (
	scopeVertexRead    = driver.Scope{Stages: driver.StageVertexInput, Access: driver.AccessVertexAttributeRead}
	scopeIndexRead     = driver.Scope{Stages: driver.StageVertexInput, Access: driver.AccessIndexRead}
	scopeTransferRead  = driver.Scope{Stages: driver.StageTransfer, Access: driver.AccessTransferRead}
	scopeTransferWrite = driver.Scope{Stages: driver.StageTransfer, Access: driver.AccessTransferWrite}
	scopeSampledRead   = driver.Scope{Stages: driver.StageFragmentShader, Access: driver.AccessShaderRead}
)

func (d *Device) Submit(s *driver.Submission) error {
	cb, ok := s.CommandBuffer.(*commandBuffer)
	if !ok {
		return errors.Wrap(core.ErrInvalidHandle, "submit: command buffer")
	}
	if cb.state != cbExecutable {
		return errors.Wrap(core.ErrInvalidOperation, "submit: command buffer not ended")
	}

	d.mu.Lock()
	if d.lost {
		d.mu.Unlock()
		return errors.Wrap(core.ErrDeviceLost, "submit")
	}
	if s.Wait != nil {
		if sem, ok := s.Wait.(*semaphore); !ok || !sem.consume() {
			d.report(Hazard{Kind: driver.SemaphoreMisuse, Resource: "semaphore", Command: -1, Detail: "submission waits on a semaphore nothing signaled"})
		}
	}
	d.replay(cb.commands)
	d.history = append(d.history, append([]Command(nil), cb.commands...))
	hung := d.hung
	d.mu.Unlock()

	d.Submissions.Add(1)
	if s.Signal != nil {
		if sem, ok := s.Signal.(*semaphore); ok && !sem.signal() {
			d.mu.Lock()
			d.report(Hazard{Kind: driver.SemaphoreMisuse, Resource: "semaphore", Command: -1, Detail: "signaling a semaphore that is already signaled"})
			d.mu.Unlock()
		}
	}
	if f, ok := s.Fence.(*fence); ok && !hung {
		if d.opts.Latency > 0 {
			time.AfterFunc(d.opts.Latency, f.signal)
		} else {
			f.signal()
		}
	}
	return nil
}

// report must be called with d.mu held.
func (d *Device) report(h Hazard) {
	d.hazards = append(d.hazards, h)
	core.LogWarn("validation: %s on %s at command %d: %s", h.Kind, h.Resource, h.Command, h.Detail)
	if d.opts.OnHazard != nil {
		d.opts.OnHazard(h)
	}
}

func (d *Device) state(res interface{}) *driver.AccessState {
	st, ok := d.states[res]
	if !ok {
		s := driver.NewAccessState()
		st = &s
		d.states[res] = st
	}
	return st
}

func (d *Device) access(res fmt.Stringer, cmd int, s driver.Scope, write bool) {
	st := d.state(res)
	if kind := st.Check(s, write); kind != driver.HazardNone {
		d.report(Hazard{Kind: kind, Resource: res.String(), Command: cmd, Detail: s.String()})
	}
	st.Access(s, write)
}

type bindings struct {
	vertex []*buffer
	index  *buffer
	sets   map[uint32]*descriptorSet
}

// replay executes and validates cmds in order. Called with d.mu held.
func (d *Device) replay(cmds []Command) {
	bound := bindings{sets: map[uint32]*descriptorSet{}}
	for i := range cmds {
		c := &cmds[i]
		switch c.Op {
		case OpBindVertexBuffers:
			first := int(c.offset)
			for len(bound.vertex) < first+len(c.buffers) {
				bound.vertex = append(bound.vertex, nil)
			}
			copy(bound.vertex[first:], c.buffers)
		case OpBindIndexBuffer:
			bound.index = c.src
		case OpBindDescriptorSet:
			bound.sets[c.SetIndex] = c.set
		case OpDrawIndexed:
			d.validateDraw(i, &bound)
		case OpUpdateBuffer:
			d.access(c.dst, i, scopeTransferWrite, true)
			copy(c.dst.bytes()[c.offset:], c.Data)
		case OpCopyBuffer:
			d.access(c.src, i, scopeTransferRead, false)
			d.access(c.dst, i, scopeTransferWrite, true)
			for _, r := range c.regions {
				copy(c.dst.bytes()[r.DstOffset:r.DstOffset+r.Size], c.src.bytes()[r.SrcOffset:r.SrcOffset+r.Size])
			}
		case OpCopyBufferToImage:
			d.access(c.src, i, scopeTransferRead, false)
			if cur := d.layouts[c.image]; cur != driver.LayoutTransferDst || c.layout != driver.LayoutTransferDst {
				d.report(Hazard{Kind: driver.LayoutMismatch, Resource: c.image.String(), Command: i,
					Detail: fmt.Sprintf("copy into image in layout %s", cur)})
			}
			d.access(c.image, i, scopeTransferWrite, true)
			copy(c.image.bytes(), c.src.bytes())
		case OpPipelineBarrier:
			d.applyDependency(i, c.Dependency)
		}
	}
}

func (d *Device) validateDraw(cmd int, bound *bindings) {
	for _, b := range bound.vertex {
		if b != nil {
			d.access(b, cmd, scopeVertexRead, false)
		}
	}
	if bound.index != nil {
		d.access(bound.index, cmd, scopeIndexRead, false)
	}
	for _, set := range bound.sets {
		for binding, img := range set.images {
			if cur := d.layouts[img]; cur != driver.LayoutShaderReadOnly {
				d.report(Hazard{Kind: driver.LayoutMismatch, Resource: img.String(), Command: cmd,
					Detail: fmt.Sprintf("binding %d sampled in layout %s", binding, cur)})
			}
			d.access(img, cmd, scopeSampledRead, false)
		}
	}
}

func (d *Device) applyDependency(cmd int, dep *driver.Dependency) {
	for _, b := range dep.Memory {
		for _, st := range d.states {
			st.Apply(b)
		}
	}
	for _, bb := range dep.Buffers {
		if b, ok := bb.Buffer.(*buffer); ok {
			d.state(b).Apply(bb.Barrier)
		}
	}
	for _, ib := range dep.Images {
		img, ok := ib.Image.(*image)
		if !ok {
			continue
		}
		cur := d.layouts[img]
		if ib.LayoutBefore != driver.LayoutUndefined && ib.LayoutBefore != cur {
			d.report(Hazard{Kind: driver.LayoutMismatch, Resource: img.String(), Command: cmd,
				Detail: fmt.Sprintf("transition from %s but image is in %s", ib.LayoutBefore, cur)})
		}
		d.layouts[img] = ib.LayoutAfter
		d.state(img).Apply(ib.Barrier)
	}
}
