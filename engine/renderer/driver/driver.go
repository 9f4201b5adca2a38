// Package driver defines the contract between the renderer core and a GPU
// backend. The core never touches a graphics API directly: the vulkan package
// implements these interfaces over a real device and the headless package
// implements them in software for tests and CI.
package driver

import "time"

// Destroyer is implemented by every driver object. Destroying twice is a no-op.
type Destroyer interface {
	Destroy()
}

type MemoryRequirements struct {
	Size      uint64
	Alignment uint64
	// bit i set: memory type i of the device can back the resource
	TypeBits uint32
}

// Memory is a single device allocation. Host-visible kinds are persistently
// mapped and expose their bytes through Mapped; other kinds return nil.
type Memory interface {
	Destroyer
	Kind() MemoryKind
	Size() uint64
	Mapped() []byte
}

type Buffer interface {
	Destroyer
	Size() uint64
	Usage() BufferUsage
	Requirements() MemoryRequirements
}

type ImageDesc struct {
	Width, Height uint32
	Format        Format
	Usage         ImageUsage
}

type Image interface {
	Destroyer
	Desc() ImageDesc
	Requirements() MemoryRequirements
}

type DescriptorType uint8

const (
	DescriptorUniformBuffer DescriptorType = iota
	DescriptorCombinedImageSampler
)

type DescriptorBinding struct {
	Binding uint32
	Type    DescriptorType
	Stages  ShaderStage
}

type DescriptorSetLayout interface {
	Destroyer
	Bindings() []DescriptorBinding
}

// DescriptorWrite points one binding at a buffer range or a sampled image.
type DescriptorWrite struct {
	Binding uint32
	Buffer  Buffer
	Offset  uint64
	Range   uint64
	Image   Image
}

type DescriptorSet interface {
	Destroyer
	Update(writes []DescriptorWrite) error
}

type Pipeline interface {
	Destroyer
	Name() string
}

type Fence interface {
	Destroyer
}

type Semaphore interface {
	Destroyer
}

// Submission is one queue submit: wait on Wait at WaitStage, execute the
// command buffer, then signal Signal and Fence. Wait, Signal and Fence are
// optional.
type Submission struct {
	CommandBuffer CommandBuffer
	Wait          Semaphore
	WaitStage     PipelineStage
	Signal        Semaphore
	Fence         Fence
}

type Limits struct {
	MinUniformBufferOffsetAlignment uint64
	NonCoherentAtomSize             uint64
	MaxPushConstantsSize            uint32
	// largest payload accepted by CommandBuffer.UpdateBuffer
	MaxUpdateBufferSize uint64
}

type Extent2D struct {
	Width, Height uint32
}

// Device is the logical GPU connection. Object creation may be called from
// several goroutines; recording a single command buffer may not.
type Device interface {
	Name() string
	Limits() Limits

	// AllocateMemory fails with core.ErrOutOfMemory when the heap is exhausted.
	AllocateMemory(kind MemoryKind, size uint64) (Memory, error)
	// SupportsMemory reports whether a resource with req can live in kind.
	SupportsMemory(req MemoryRequirements, kind MemoryKind) bool

	NewBuffer(size uint64, usage BufferUsage) (Buffer, error)
	BindBufferMemory(b Buffer, m Memory, offset uint64) error
	NewImage(desc ImageDesc) (Image, error)
	BindImageMemory(img Image, m Memory, offset uint64) error

	NewDescriptorSetLayout(bindings []DescriptorBinding) (DescriptorSetLayout, error)
	NewDescriptorSet(layout DescriptorSetLayout) (DescriptorSet, error)
	NewPipeline(desc *PipelineDesc) (Pipeline, error)

	// NewFence creates an unsignaled fence.
	NewFence() (Fence, error)
	// WaitFence returns core.ErrTimeout after timeout, core.ErrDeviceLost if the
	// device is gone.
	WaitFence(f Fence, timeout time.Duration) error
	ResetFence(f Fence) error
	NewSemaphore() (Semaphore, error)

	NewCommandBuffer() (CommandBuffer, error)
	Submit(s *Submission) error

	// Presenter is nil for devices without a surface.
	Presenter() Presenter
	WaitIdle() error
	Close()
}

// Presenter owns the swapchain images. The depth attachment used by the main
// render pass is created by the caller and handed over with AttachDepth.
type Presenter interface {
	// Acquire signals signal once the returned image is ready. It returns
	// core.ErrSwapchainOutOfDate when the surface must be recreated.
	Acquire(signal Semaphore, timeout time.Duration) (uint32, error)
	Present(imageIndex uint32, wait Semaphore) error
	Resize(width, height uint32) error
	Extent() Extent2D
	ColorFormat() Format
	DepthFormat() Format
	ImageCount() uint32
	AttachDepth(img Image) error
}

type ClearValues struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

type Rect struct {
	X, Y          int32
	Width, Height uint32
}

type BufferCopy struct {
	SrcOffset, DstOffset, Size uint64
}

// CommandBuffer records commands for a single queue submission.
type CommandBuffer interface {
	Destroyer
	Begin() error
	End() error
	Reset() error

	BeginRenderPass(imageIndex uint32, clear ClearValues)
	EndRenderPass()
	SetViewport(v Viewport)
	SetScissor(r Rect)

	BindPipeline(p Pipeline)
	BindDescriptorSet(p Pipeline, index uint32, set DescriptorSet)
	PushConstants(p Pipeline, stages ShaderStage, offset uint32, data []byte)
	BindVertexBuffers(first uint32, buffers []Buffer, offsets []uint64)
	BindIndexBuffer(b Buffer, offset uint64, t IndexType)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)

	CopyBuffer(src, dst Buffer, regions []BufferCopy)
	UpdateBuffer(dst Buffer, offset uint64, data []byte)
	CopyBufferToImage(src Buffer, dst Image, layout ImageLayout)

	PipelineBarrier(dep *Dependency)
}
