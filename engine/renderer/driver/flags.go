package driver

import "strings"

// MemoryKind selects the allocator pool a resource lives in.
type MemoryKind uint8

const (
	// GPU-only memory. Written through transfers.
	MemoryDeviceLocal MemoryKind = iota
	// Host-visible, coherent and persistently mapped. Used for uniforms.
	MemoryHostVisible
	// Host-visible upload memory, source of transfers.
	MemoryStaging

	MemoryKindCount
)

func (k MemoryKind) String() string {
	switch k {
	case MemoryDeviceLocal:
		return "device-local"
	case MemoryHostVisible:
		return "host-visible"
	case MemoryStaging:
		return "staging"
	}
	return "unknown"
}

// HostVisible reports whether memory of this kind can be mapped.
func (k MemoryKind) HostVisible() bool {
	return k == MemoryHostVisible || k == MemoryStaging
}

type BufferUsage uint32

const (
	UsageVertex BufferUsage = 1 << iota
	UsageIndex
	UsageUniform
	UsageStorage
	UsageTransferSrc
	UsageTransferDst
)

type ImageUsage uint32

const (
	ImageSampled ImageUsage = 1 << iota
	ImageColorAttachment
	ImageDepthAttachment
	ImageTransferSrc
	ImageTransferDst
)

type Format uint32

const (
	FormatUndefined Format = iota
	FormatRGBA8Unorm
	FormatRGBA8Srgb
	FormatBGRA8Unorm
	FormatBGRA8Srgb
	FormatR8Unorm
	FormatD32Float
	FormatD32FloatS8
	FormatD24UnormS8
	// vertex attribute formats
	FormatRG32Float
	FormatRGB32Float
	FormatRGBA32Float
	FormatRGBA32Uint
	FormatR32Uint
)

// BytesPerPixel is zero for formats that are not image formats.
func (f Format) BytesPerPixel() uint32 {
	switch f {
	case FormatR8Unorm:
		return 1
	case FormatRGBA8Unorm, FormatRGBA8Srgb, FormatBGRA8Unorm, FormatBGRA8Srgb, FormatD32Float, FormatD24UnormS8:
		return 4
	case FormatD32FloatS8:
		return 8
	}
	return 0
}

func (f Format) IsDepth() bool {
	return f == FormatD32Float || f == FormatD32FloatS8 || f == FormatD24UnormS8
}

type ImageLayout uint8

const (
	LayoutUndefined ImageLayout = iota
	LayoutGeneral
	LayoutColorAttachment
	LayoutDepthAttachment
	LayoutShaderReadOnly
	LayoutTransferSrc
	LayoutTransferDst
	LayoutPresentSrc
)

func (l ImageLayout) String() string {
	return [...]string{"undefined", "general", "color-attachment", "depth-attachment",
		"shader-read-only", "transfer-src", "transfer-dst", "present-src"}[l]
}

// PipelineStage is a bit set of pipeline stages: the execution half of a
// dependency.
type PipelineStage uint32

const (
	StageTopOfPipe PipelineStage = 1 << iota
	StageDrawIndirect
	StageVertexInput
	StageVertexShader
	StageFragmentShader
	StageEarlyFragmentTests
	StageLateFragmentTests
	StageColorAttachmentOutput
	StageTransfer
	StageBottomOfPipe
	StageHost

	StageNone PipelineStage = 0

	StageAllGraphics = StageDrawIndirect | StageVertexInput | StageVertexShader |
		StageFragmentShader | StageEarlyFragmentTests | StageLateFragmentTests |
		StageColorAttachmentOutput
	StageAllCommands = StageAllGraphics | StageTransfer
)

// Contains reports whether every stage of o is part of s. The all-commands and
// all-graphics shortcuts are expanded by construction.
func (s PipelineStage) Contains(o PipelineStage) bool {
	return s&o == o
}

var stageNames = [...]string{"top-of-pipe", "draw-indirect", "vertex-input", "vertex-shader",
	"fragment-shader", "early-fragment-tests", "late-fragment-tests",
	"color-attachment-output", "transfer", "bottom-of-pipe", "host"}

func (s PipelineStage) String() string {
	return bitNames(uint32(s), stageNames[:])
}

// Access is a bit set of memory access types: the memory half of a dependency.
type Access uint32

const (
	AccessIndirectCommandRead Access = 1 << iota
	AccessIndexRead
	AccessVertexAttributeRead
	AccessUniformRead
	AccessShaderRead
	AccessShaderWrite
	AccessColorAttachmentRead
	AccessColorAttachmentWrite
	AccessDepthStencilRead
	AccessDepthStencilWrite
	AccessTransferRead
	AccessTransferWrite
	AccessHostRead
	AccessHostWrite
	AccessMemoryRead
	AccessMemoryWrite

	AccessNone Access = 0
)

const writeAccesses = AccessShaderWrite | AccessColorAttachmentWrite | AccessDepthStencilWrite |
	AccessTransferWrite | AccessHostWrite | AccessMemoryWrite

func (a Access) Contains(o Access) bool {
	return a&o == o
}

func (a Access) IsWrite() bool {
	return a&writeAccesses != 0
}

var accessNames = [...]string{"indirect-command-read", "index-read", "vertex-attribute-read",
	"uniform-read", "shader-read", "shader-write", "color-attachment-read",
	"color-attachment-write", "depth-stencil-read", "depth-stencil-write",
	"transfer-read", "transfer-write", "host-read", "host-write", "memory-read", "memory-write"}

func (a Access) String() string {
	return bitNames(uint32(a), accessNames[:])
}

func bitNames(v uint32, names []string) string {
	if v == 0 {
		return "none"
	}
	var parts []string
	for i, n := range names {
		if v&(1<<uint(i)) != 0 {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, "|")
}

type ShaderStage uint8

const (
	ShaderVertex ShaderStage = 1 << iota
	ShaderFragment
)

func (s ShaderStage) Suffix() string {
	switch s {
	case ShaderVertex:
		return "vert"
	case ShaderFragment:
		return "frag"
	}
	return "unknown"
}

type IndexType uint8

const (
	IndexUint32 IndexType = iota
	IndexUint16
)
