package headless

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
)

type Op uint8

const (
	OpBeginRenderPass Op = iota
	OpEndRenderPass
	OpSetViewport
	OpSetScissor
	OpBindPipeline
	OpBindDescriptorSet
	OpPushConstants
	OpBindVertexBuffers
	OpBindIndexBuffer
	OpDrawIndexed
	OpCopyBuffer
	OpUpdateBuffer
	OpCopyBufferToImage
	OpPipelineBarrier
)

func (o Op) String() string {
	return [...]string{"begin-render-pass", "end-render-pass", "set-viewport", "set-scissor",
		"bind-pipeline", "bind-descriptor-set", "push-constants", "bind-vertex-buffers",
		"bind-index-buffer", "draw-indexed", "copy-buffer", "update-buffer",
		"copy-buffer-to-image", "pipeline-barrier"}[o]
}

// Command is one recorded command. The exported fields are what tests look at.
type Command struct {
	Op            Op
	Pipeline      string
	SetIndex      uint32
	IndexCount    uint32
	InstanceCount uint32
	FirstInstance uint32
	ImageIndex    uint32
	Data          []byte
	Dependency    *driver.Dependency

	pipeline *pipeline
	set      *descriptorSet
	buffers  []*buffer
	offsets  []uint64
	src, dst *buffer
	image    *image
	layout   driver.ImageLayout
	regions  []driver.BufferCopy
	offset   uint64
}

type cbState uint8

const (
	cbInitial cbState = iota
	cbRecording
	cbInRenderPass
	cbExecutable
)

type commandBuffer struct {
	dev      *Device
	state    cbState
	commands []Command
	err      error
}

func (d *Device) NewCommandBuffer() (driver.CommandBuffer, error) {
	return &commandBuffer{dev: d}, nil
}

func (cb *commandBuffer) fail(format string, args ...interface{}) {
	if cb.err == nil {
		cb.err = errors.Wrapf(core.ErrInvalidOperation, format, args...)
	}
}

func (cb *commandBuffer) record(c Command, inRenderPass bool) {
	switch {
	case cb.state != cbRecording && cb.state != cbInRenderPass:
		cb.fail("%s recorded outside begin/end", c.Op)
		return
	case inRenderPass && cb.state != cbInRenderPass:
		cb.fail("%s requires an active render pass", c.Op)
		return
	case !inRenderPass && cb.state == cbInRenderPass && isTransfer(c.Op):
		cb.fail("%s is not allowed inside a render pass", c.Op)
		return
	}
	cb.commands = append(cb.commands, c)
}

func isTransfer(op Op) bool {
	return op == OpCopyBuffer || op == OpUpdateBuffer || op == OpCopyBufferToImage || op == OpPipelineBarrier
}

func (cb *commandBuffer) Begin() error {
	if cb.state != cbInitial {
		return errors.Wrap(core.ErrInvalidOperation, "begin on a command buffer that was not reset")
	}
	cb.state = cbRecording
	return nil
}

func (cb *commandBuffer) End() error {
	if cb.state == cbInRenderPass {
		cb.fail("end inside a render pass")
	} else if cb.state != cbRecording {
		cb.fail("end without begin")
	}
	if cb.err != nil {
		return cb.err
	}
	cb.state = cbExecutable
	return nil
}

func (cb *commandBuffer) Reset() error {
	cb.state = cbInitial
	cb.commands = cb.commands[:0]
	cb.err = nil
	return nil
}

func (cb *commandBuffer) Destroy() {
	cb.commands = nil
}

func (cb *commandBuffer) BeginRenderPass(imageIndex uint32, _ driver.ClearValues) {
	if cb.state != cbRecording {
		cb.fail("render pass begun in state %d", cb.state)
		return
	}
	cb.commands = append(cb.commands, Command{Op: OpBeginRenderPass, ImageIndex: imageIndex})
	cb.state = cbInRenderPass
}

func (cb *commandBuffer) EndRenderPass() {
	if cb.state != cbInRenderPass {
		cb.fail("end render pass without begin")
		return
	}
	cb.commands = append(cb.commands, Command{Op: OpEndRenderPass})
	cb.state = cbRecording
}

func (cb *commandBuffer) SetViewport(driver.Viewport) {
	cb.record(Command{Op: OpSetViewport}, false)
}

func (cb *commandBuffer) SetScissor(driver.Rect) {
	cb.record(Command{Op: OpSetScissor}, false)
}

func (cb *commandBuffer) BindPipeline(dp driver.Pipeline) {
	p, ok := dp.(*pipeline)
	if !ok {
		cb.fail("bind pipeline: foreign pipeline")
		return
	}
	cb.record(Command{Op: OpBindPipeline, Pipeline: p.desc.Name, pipeline: p}, false)
}

func (cb *commandBuffer) BindDescriptorSet(dp driver.Pipeline, index uint32, ds driver.DescriptorSet) {
	p, _ := dp.(*pipeline)
	s, ok := ds.(*descriptorSet)
	if !ok || p == nil {
		cb.fail("bind descriptor set %d: foreign object", index)
		return
	}
	cb.record(Command{Op: OpBindDescriptorSet, Pipeline: p.desc.Name, SetIndex: index, set: s}, false)
}

func (cb *commandBuffer) PushConstants(dp driver.Pipeline, _ driver.ShaderStage, offset uint32, data []byte) {
	p, _ := dp.(*pipeline)
	if p == nil {
		cb.fail("push constants: foreign pipeline")
		return
	}
	if offset+uint32(len(data)) > p.desc.PushConstantSize {
		cb.fail("push constants [%d, %d) outside the %d-byte range of %s", offset, offset+uint32(len(data)), p.desc.PushConstantSize, p.desc.Name)
		return
	}
	cb.record(Command{Op: OpPushConstants, Pipeline: p.desc.Name, Data: append([]byte(nil), data...)}, false)
}

func (cb *commandBuffer) BindVertexBuffers(first uint32, dbs []driver.Buffer, offsets []uint64) {
	bufs := make([]*buffer, 0, len(dbs))
	for _, db := range dbs {
		b, ok := db.(*buffer)
		if !ok || b.destroyed || b.usage&driver.UsageVertex == 0 {
			cb.fail("bind vertex buffers: buffer %v unusable as vertex input", db)
			return
		}
		bufs = append(bufs, b)
	}
	cb.record(Command{Op: OpBindVertexBuffers, offset: uint64(first), buffers: bufs, offsets: append([]uint64(nil), offsets...)}, false)
}

func (cb *commandBuffer) BindIndexBuffer(db driver.Buffer, offset uint64, _ driver.IndexType) {
	b, ok := db.(*buffer)
	if !ok || b.destroyed || b.usage&driver.UsageIndex == 0 {
		cb.fail("bind index buffer: buffer %v unusable as index input", db)
		return
	}
	cb.record(Command{Op: OpBindIndexBuffer, src: b, offset: offset}, false)
}

func (cb *commandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	cb.record(Command{Op: OpDrawIndexed, IndexCount: indexCount, InstanceCount: instanceCount, FirstInstance: firstInstance}, true)
}

func (cb *commandBuffer) CopyBuffer(dsrc, ddst driver.Buffer, regions []driver.BufferCopy) {
	src, ok1 := dsrc.(*buffer)
	dst, ok2 := ddst.(*buffer)
	if !ok1 || !ok2 || src.destroyed || dst.destroyed {
		cb.fail("copy buffer: invalid buffer")
		return
	}
	for _, r := range regions {
		if r.SrcOffset+r.Size > src.size || r.DstOffset+r.Size > dst.size {
			cb.fail("copy buffer: region out of range")
			return
		}
	}
	cb.record(Command{Op: OpCopyBuffer, src: src, dst: dst, regions: append([]driver.BufferCopy(nil), regions...)}, false)
}

func (cb *commandBuffer) UpdateBuffer(ddst driver.Buffer, offset uint64, data []byte) {
	dst, ok := ddst.(*buffer)
	if !ok || dst.destroyed {
		cb.fail("update buffer: invalid buffer")
		return
	}
	if uint64(len(data)) > cb.dev.Limits().MaxUpdateBufferSize || len(data)%4 != 0 || offset%4 != 0 {
		cb.fail("update buffer: %d bytes at %d not allowed inline", len(data), offset)
		return
	}
	if offset+uint64(len(data)) > dst.size {
		cb.fail("update buffer: range out of %s", dst)
		return
	}
	cb.record(Command{Op: OpUpdateBuffer, dst: dst, offset: offset, Data: append([]byte(nil), data...)}, false)
}

func (cb *commandBuffer) CopyBufferToImage(dsrc driver.Buffer, dimg driver.Image, layout driver.ImageLayout) {
	src, ok1 := dsrc.(*buffer)
	img, ok2 := dimg.(*image)
	if !ok1 || !ok2 || src.destroyed || img.destroyed {
		cb.fail("copy buffer to image: invalid object")
		return
	}
	cb.record(Command{Op: OpCopyBufferToImage, src: src, image: img, layout: layout}, false)
}

func (cb *commandBuffer) PipelineBarrier(dep *driver.Dependency) {
	if dep.Empty() {
		return
	}
	cp := &driver.Dependency{
		Memory:  append([]driver.Barrier(nil), dep.Memory...),
		Buffers: append([]driver.BufferBarrier(nil), dep.Buffers...),
		Images:  append([]driver.ImageBarrier(nil), dep.Images...),
	}
	cb.record(Command{Op: OpPipelineBarrier, Dependency: cp}, false)
}
