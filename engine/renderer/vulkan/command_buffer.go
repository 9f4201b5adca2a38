package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
)

// commandBuffer records straight into a primary vulkan command buffer.
// Misuse is remembered and reported by End so that recording calls stay
// error free.
type commandBuffer struct {
	dev    *Device
	handle vk.CommandBuffer
	state  VulkanCommandBufferState
	err    error
}

func (d *Device) NewCommandBuffer() (driver.CommandBuffer, error) {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.commandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	handles := make([]vk.CommandBuffer, 1)
	err := d.locks.SafeCall(CommandPoolManagement, func() error {
		if res := vk.AllocateCommandBuffers(d.logical, &allocateInfo, handles); res != vk.Success {
			return d.resultError(res, "allocating command buffer")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &commandBuffer{dev: d, handle: handles[0]}, nil
}

func (cb *commandBuffer) fail(format string, args ...interface{}) {
	if cb.err == nil {
		cb.err = errors.Wrapf(core.ErrInvalidOperation, format, args...)
	}
}

func (cb *commandBuffer) recording(what string) bool {
	if cb.state != COMMAND_BUFFER_STATE_RECORDING && cb.state != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		cb.fail("%s recorded outside begin/end", what)
		return false
	}
	return true
}

func (cb *commandBuffer) inRenderPass(what string) bool {
	if cb.state != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		cb.fail("%s requires an active render pass", what)
		return false
	}
	return true
}

func (cb *commandBuffer) outsideRenderPass(what string) bool {
	if !cb.recording(what) {
		return false
	}
	if cb.state == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		cb.fail("%s is not allowed inside a render pass", what)
		return false
	}
	return true
}

func (cb *commandBuffer) Begin() error {
	if cb.state != COMMAND_BUFFER_STATE_READY {
		return errors.Wrap(core.ErrInvalidOperation, "begin on a command buffer that was not reset")
	}
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(cb.handle, &beginInfo); res != vk.Success {
		return cb.dev.resultError(res, "vkBeginCommandBuffer")
	}
	cb.state = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (cb *commandBuffer) End() error {
	switch cb.state {
	case COMMAND_BUFFER_STATE_IN_RENDER_PASS:
		cb.fail("end inside a render pass")
	case COMMAND_BUFFER_STATE_RECORDING:
	default:
		cb.fail("end without begin")
	}
	if cb.err != nil {
		return cb.err
	}
	if res := vk.EndCommandBuffer(cb.handle); res != vk.Success {
		return cb.dev.resultError(res, "vkEndCommandBuffer")
	}
	cb.state = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (cb *commandBuffer) Reset() error {
	if res := vk.ResetCommandBuffer(cb.handle, 0); res != vk.Success {
		return cb.dev.resultError(res, "vkResetCommandBuffer")
	}
	cb.state = COMMAND_BUFFER_STATE_READY
	cb.err = nil
	return nil
}

func (cb *commandBuffer) Destroy() {
	if cb.handle == nil {
		return
	}
	d := cb.dev
	_ = d.locks.SafeCall(CommandPoolManagement, func() error {
		vk.FreeCommandBuffers(d.logical, d.commandPool, 1, []vk.CommandBuffer{cb.handle})
		return nil
	})
	cb.handle = nil
}

func (cb *commandBuffer) BeginRenderPass(imageIndex uint32, clear driver.ClearValues) {
	if cb.state != COMMAND_BUFFER_STATE_RECORDING {
		cb.fail("render pass begun in state %d", cb.state)
		return
	}
	if cb.dev.presenter == nil {
		cb.fail("render pass without a presentation surface")
		return
	}
	if err := cb.dev.presenter.beginRenderPass(cb.handle, imageIndex, clear); err != nil {
		if cb.err == nil {
			cb.err = err
		}
		return
	}
	cb.state = COMMAND_BUFFER_STATE_IN_RENDER_PASS
}

func (cb *commandBuffer) EndRenderPass() {
	if !cb.inRenderPass("end render pass") {
		return
	}
	vk.CmdEndRenderPass(cb.handle)
	cb.state = COMMAND_BUFFER_STATE_RECORDING
}

func (cb *commandBuffer) SetViewport(v driver.Viewport) {
	if !cb.inRenderPass("set viewport") {
		return
	}
	vk.CmdSetViewport(cb.handle, 0, 1, []vk.Viewport{{
		X:        v.X,
		Y:        v.Y,
		Width:    v.Width,
		Height:   v.Height,
		MinDepth: v.MinDepth,
		MaxDepth: v.MaxDepth,
	}})
}

func (cb *commandBuffer) SetScissor(r driver.Rect) {
	if !cb.inRenderPass("set scissor") {
		return
	}
	vk.CmdSetScissor(cb.handle, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: r.X, Y: r.Y},
		Extent: vk.Extent2D{Width: r.Width, Height: r.Height},
	}})
}

func (cb *commandBuffer) pipeline(dp driver.Pipeline, what string) *VulkanPipeline {
	p, ok := dp.(*VulkanPipeline)
	if !ok || p.Handle == nil {
		cb.fail("%s: invalid pipeline", what)
		return nil
	}
	return p
}

func (cb *commandBuffer) BindPipeline(dp driver.Pipeline) {
	if !cb.inRenderPass("bind pipeline") {
		return
	}
	if p := cb.pipeline(dp, "bind pipeline"); p != nil {
		vk.CmdBindPipeline(cb.handle, vk.PipelineBindPointGraphics, p.Handle)
	}
}

func (cb *commandBuffer) BindDescriptorSet(dp driver.Pipeline, index uint32, ds driver.DescriptorSet) {
	if !cb.recording("bind descriptor set") {
		return
	}
	p := cb.pipeline(dp, "bind descriptor set")
	set, ok := ds.(*descriptorSet)
	if p == nil || !ok || set.handle == nil {
		cb.fail("bind descriptor set %d: invalid set", index)
		return
	}
	vk.CmdBindDescriptorSets(cb.handle, vk.PipelineBindPointGraphics, p.PipelineLayout,
		index, 1, []vk.DescriptorSet{set.handle}, 0, nil)
}

func (cb *commandBuffer) PushConstants(dp driver.Pipeline, stages driver.ShaderStage, offset uint32, data []byte) {
	if !cb.recording("push constants") || len(data) == 0 {
		return
	}
	p := cb.pipeline(dp, "push constants")
	if p == nil {
		return
	}
	if offset+uint32(len(data)) > cb.dev.limits.MaxPushConstantsSize {
		cb.fail("push constants: %d bytes at %d exceed the device limit", len(data), offset)
		return
	}
	vk.CmdPushConstants(cb.handle, p.PipelineLayout, convShaderStages(stages), offset,
		uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (cb *commandBuffer) BindVertexBuffers(first uint32, dbs []driver.Buffer, offsets []uint64) {
	if !cb.recording("bind vertex buffers") {
		return
	}
	if len(dbs) != len(offsets) {
		cb.fail("bind vertex buffers: %d buffers with %d offsets", len(dbs), len(offsets))
		return
	}
	handles := make([]vk.Buffer, len(dbs))
	vkOffsets := make([]vk.DeviceSize, len(dbs))
	for i, db := range dbs {
		b, ok := db.(*buffer)
		if !ok || b.handle == nil {
			cb.fail("bind vertex buffers: invalid buffer at %d", i)
			return
		}
		handles[i] = b.handle
		vkOffsets[i] = vk.DeviceSize(offsets[i])
	}
	vk.CmdBindVertexBuffers(cb.handle, first, uint32(len(handles)), handles, vkOffsets)
}

func (cb *commandBuffer) BindIndexBuffer(db driver.Buffer, offset uint64, t driver.IndexType) {
	if !cb.recording("bind index buffer") {
		return
	}
	b, ok := db.(*buffer)
	if !ok || b.handle == nil {
		cb.fail("bind index buffer: invalid buffer")
		return
	}
	vk.CmdBindIndexBuffer(cb.handle, b.handle, vk.DeviceSize(offset), convIndexType(t))
}

func (cb *commandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	if !cb.inRenderPass("draw indexed") {
		return
	}
	vk.CmdDrawIndexed(cb.handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (cb *commandBuffer) CopyBuffer(dsrc, ddst driver.Buffer, regions []driver.BufferCopy) {
	if !cb.outsideRenderPass("copy buffer") || len(regions) == 0 {
		return
	}
	src, ok1 := dsrc.(*buffer)
	dst, ok2 := ddst.(*buffer)
	if !ok1 || !ok2 || src.handle == nil || dst.handle == nil {
		cb.fail("copy buffer: invalid buffer")
		return
	}
	copies := make([]vk.BufferCopy, 0, len(regions))
	for _, r := range regions {
		if r.SrcOffset+r.Size > src.size || r.DstOffset+r.Size > dst.size {
			cb.fail("copy buffer: region out of range")
			return
		}
		copies = append(copies, vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		})
	}
	vk.CmdCopyBuffer(cb.handle, src.handle, dst.handle, uint32(len(copies)), copies)
}

func (cb *commandBuffer) UpdateBuffer(ddst driver.Buffer, offset uint64, data []byte) {
	if !cb.outsideRenderPass("update buffer") || len(data) == 0 {
		return
	}
	dst, ok := ddst.(*buffer)
	if !ok || dst.handle == nil {
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
	vk.CmdUpdateBuffer(cb.handle, dst.handle, vk.DeviceSize(offset), vk.DeviceSize(len(data)), (*uint32)(unsafe.Pointer(&data[0])))
}

func (cb *commandBuffer) CopyBufferToImage(dsrc driver.Buffer, dimg driver.Image, layout driver.ImageLayout) {
	if !cb.outsideRenderPass("copy buffer to image") {
		return
	}
	src, ok1 := dsrc.(*buffer)
	img, ok2 := dimg.(*image)
	if !ok1 || !ok2 || src.handle == nil || img.handle == nil {
		cb.fail("copy buffer to image: invalid object")
		return
	}
	region := vk.BufferImageCopy{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: aspectOf(img.desc.Format),
			LayerCount: 1,
		},
		ImageExtent: vk.Extent3D{Width: img.desc.Width, Height: img.desc.Height, Depth: 1},
	}
	vk.CmdCopyBufferToImage(cb.handle, src.handle, img.handle, convLayout(layout), 1, []vk.BufferImageCopy{region})
}

func (cb *commandBuffer) PipelineBarrier(dep *driver.Dependency) {
	if dep.Empty() || !cb.outsideRenderPass("pipeline barrier") {
		return
	}
	before, after := dep.Stages()

	memory := make([]vk.MemoryBarrier, 0, len(dep.Memory))
	for _, b := range dep.Memory {
		memory = append(memory, vk.MemoryBarrier{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: convAccess(b.AccessBefore),
			DstAccessMask: convAccess(b.AccessAfter),
		})
	}
	buffers := make([]vk.BufferMemoryBarrier, 0, len(dep.Buffers))
	for _, b := range dep.Buffers {
		buf, ok := b.Buffer.(*buffer)
		if !ok || buf.handle == nil {
			cb.fail("pipeline barrier: invalid buffer")
			return
		}
		size := vk.DeviceSize(b.Size)
		if b.Size == 0 {
			size = vk.DeviceSize(vk.WholeSize)
		}
		buffers = append(buffers, vk.BufferMemoryBarrier{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       convAccess(b.AccessBefore),
			DstAccessMask:       convAccess(b.AccessAfter),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Buffer:              buf.handle,
			Offset:              vk.DeviceSize(b.Offset),
			Size:                size,
		})
	}
	images := make([]vk.ImageMemoryBarrier, 0, len(dep.Images))
	for _, b := range dep.Images {
		img, ok := b.Image.(*image)
		if !ok || img.handle == nil {
			cb.fail("pipeline barrier: invalid image")
			return
		}
		images = append(images, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       convAccess(b.AccessBefore),
			DstAccessMask:       convAccess(b.AccessAfter),
			OldLayout:           convLayout(b.LayoutBefore),
			NewLayout:           convLayout(b.LayoutAfter),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img.handle,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: aspectOf(img.desc.Format),
				LevelCount: 1,
				LayerCount: 1,
			},
		})
	}
	vk.CmdPipelineBarrier(cb.handle, convStages(before), convStages(after), 0,
		uint32(len(memory)), memory, uint32(len(buffers)), buffers, uint32(len(images)), images)
}

// Submit hands one ended command buffer to the graphics queue.
func (d *Device) Submit(s *driver.Submission) error {
	cb, ok := s.CommandBuffer.(*commandBuffer)
	if !ok || cb.handle == nil {
		return errors.Wrap(core.ErrInvalidHandle, "submit: command buffer")
	}
	if cb.state != COMMAND_BUFFER_STATE_RECORDING_ENDED {
		return errors.Wrap(core.ErrInvalidOperation, "submit: command buffer not ended")
	}
	if d.isLost() {
		return errors.Wrap(core.ErrDeviceLost, "submit")
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.handle},
	}
	if wait := semaphoreHandle(s.Wait); wait != vk.NullSemaphore {
		stage := s.WaitStage
		if stage == 0 {
			stage = driver.StageColorAttachmentOutput
		}
		submitInfo.WaitSemaphoreCount = 1
		submitInfo.PWaitSemaphores = []vk.Semaphore{wait}
		submitInfo.PWaitDstStageMask = []vk.PipelineStageFlags{convStages(stage)}
	}
	if signal := semaphoreHandle(s.Signal); signal != vk.NullSemaphore {
		submitInfo.SignalSemaphoreCount = 1
		submitInfo.PSignalSemaphores = []vk.Semaphore{signal}
	}
	fence := vk.NullFence
	if f, ok := s.Fence.(*VulkanFence); ok {
		fence = f.Handle
	}
	return d.locks.SafeCall(QueueManagement, func() error {
		if res := vk.QueueSubmit(d.graphicsQueue, 1, []vk.SubmitInfo{submitInfo}, fence); res != vk.Success {
			return d.resultError(res, "vkQueueSubmit")
		}
		return nil
	})
}
