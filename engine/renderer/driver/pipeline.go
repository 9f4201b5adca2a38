package driver

type BlendMode uint8

const (
	BlendOpaque BlendMode = iota
	// src-alpha / one-minus-src-alpha
	BlendAlpha
)

type CullMode uint8

const (
	CullBack CullMode = iota
	CullNone
	CullFront
)

type VertexRate uint8

const (
	RateVertex VertexRate = iota
	RateInstance
)

type VertexBinding struct {
	Binding uint32
	Stride  uint32
	Rate    VertexRate
}

type VertexAttribute struct {
	Location uint32
	Binding  uint32
	Format   Format
	Offset   uint32
}

// PipelineDesc is everything needed to build a graphics pipeline against the
// presenter's main render pass.
type PipelineDesc struct {
	Name             string
	VertexCode       []byte
	FragmentCode     []byte
	Bindings         []VertexBinding
	Attributes       []VertexAttribute
	SetLayouts       []DescriptorSetLayout
	PushConstantSize uint32
	Blend            BlendMode
	DepthTest        bool
	DepthWrite       bool
	Cull             CullMode
}
