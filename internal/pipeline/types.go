package pipeline

import (
	"github.com/mattjoyce/pipec/internal/cache"
	"github.com/mattjoyce/pipec/internal/checksum"
)

// ShaderStage enumerates the API shader stages in pipeline order.
type ShaderStage uint32

const (
	StageVertex ShaderStage = iota
	StageTessControl
	StageTessEval
	StageGeometry
	StageFragment
	StageCompute

	// StageCopyShader is the hardware copy stage that follows a geometry
	// shader. It never appears in a build description.
	StageCopyShader

	StageInvalid ShaderStage = 0xFFFFFFFF
)

// GfxStageCount is the number of graphics stages in a build description.
const GfxStageCount = 5

var stageNames = [...]string{"vertex", "tessellation control", "tessellation evaluation", "geometry", "fragment", "compute", "copy"}
var stageAbbrevs = [...]string{"VS", "TCS", "TES", "GS", "FS", "CS", "COPY"}

// Name returns a human readable stage name.
func (s ShaderStage) Name() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "invalid"
}

// Abbrev returns the short stage name used in logs.
func (s ShaderStage) Abbrev() string {
	if int(s) < len(stageAbbrevs) {
		return stageAbbrevs[s]
	}
	return "??"
}

func (s ShaderStage) String() string { return s.Name() }

// Mask returns the single-bit stage mask of s.
func (s ShaderStage) Mask() uint32 {
	if s >= 32 {
		return 0
	}
	return 1 << s
}

// BinaryType describes the encoding of a shader module.
type BinaryType uint32

const (
	BinaryUnknown BinaryType = iota
	BinarySpirv
	BinaryLlvmBc
)

func (t BinaryType) String() string {
	switch t {
	case BinarySpirv:
		return "spirv"
	case BinaryLlvmBc:
		return "llvm-bc"
	default:
		return "unknown"
	}
}

// ShaderModule is a validated shader binary and its content hash.
type ShaderModule struct {
	BinType BinaryType
	Code    []byte
	Hash    checksum.Hash
}

// SpecializationMapEntry maps a specialization constant to a byte range of
// SpecializationInfo.Data.
type SpecializationMapEntry struct {
	ConstantID uint32
	Offset     uint32
	Size       uint32
}

type SpecializationInfo struct {
	MapEntries []SpecializationMapEntry
	Data       []byte
}

// ResourceMappingNodeType is the kind of a resource mapping node.
type ResourceMappingNodeType uint32

const (
	NodeDescriptorResource ResourceMappingNodeType = iota
	NodeDescriptorSampler
	NodeDescriptorCombinedTexture
	NodeDescriptorTexelBuffer
	NodeDescriptorFmask
	NodeDescriptorBuffer
	NodeDescriptorTableVaPtr
	NodeIndirectUserDataVaPtr
	NodePushConst
	NodeDescriptorBufferCompact
)

var nodeTypeNames = [...]string{
	"DescriptorResource", "DescriptorSampler", "DescriptorCombinedTexture", "DescriptorTexelBuffer",
	"DescriptorFmask", "DescriptorBuffer", "DescriptorTableVaPtr", "IndirectUserDataVaPtr",
	"PushConst", "DescriptorBufferCompact",
}

func (t ResourceMappingNodeType) String() string {
	if int(t) < len(nodeTypeNames) {
		return nodeTypeNames[t]
	}
	return "Unknown"
}

// ParseNodeType is the inverse of ResourceMappingNodeType.String.
func ParseNodeType(s string) (ResourceMappingNodeType, bool) {
	for i, name := range nodeTypeNames {
		if name == s {
			return ResourceMappingNodeType(i), true
		}
	}
	return 0, false
}

// IsDescriptor reports whether t binds a (set, binding) descriptor.
func (t ResourceMappingNodeType) IsDescriptor() bool {
	switch t {
	case NodeDescriptorResource, NodeDescriptorSampler, NodeDescriptorCombinedTexture,
		NodeDescriptorTexelBuffer, NodeDescriptorFmask, NodeDescriptorBuffer, NodeDescriptorBufferCompact:
		return true
	}
	return false
}

// DescriptorRange is the (set, binding) pair of a descriptor node.
type DescriptorRange struct {
	Set     uint32
	Binding uint32
}

// ResourceMappingNode describes one user data binding. Table holds the
// children of a DescriptorTableVaPtr node; siblings are sorted by ascending,
// non-overlapping OffsetInDwords.
type ResourceMappingNode struct {
	Type           ResourceMappingNodeType
	SizeInDwords   uint32
	OffsetInDwords uint32

	SRD   DescriptorRange
	Table []ResourceMappingNode

	// UserDataPtrSize is the size in dwords of the indirect user data table.
	UserDataPtrSize uint32
}

// End returns the first dword past the node.
func (n *ResourceMappingNode) End() uint32 {
	return n.OffsetInDwords + n.SizeInDwords
}

// CloneNodes deep-copies a node list.
func CloneNodes(nodes []ResourceMappingNode) []ResourceMappingNode {
	if nodes == nil {
		return nil
	}
	out := make([]ResourceMappingNode, len(nodes))
	for i, n := range nodes {
		out[i] = n
		out[i].Table = CloneNodes(n.Table)
	}
	return out
}

// DescriptorRangeValue supplies fixed descriptor contents (immutable
// samplers) for a range of bindings.
type DescriptorRangeValue struct {
	Type      ResourceMappingNodeType
	Set       uint32
	Binding   uint32
	ArraySize uint32
	Value     []uint32
}

// PipelineShaderInfo describes one stage of a pipeline. A stage with a nil
// Module is inactive.
type PipelineShaderInfo struct {
	Module                *ShaderModule
	EntryTarget           string
	Specialization        *SpecializationInfo
	UserDataNodes         []ResourceMappingNode
	DescriptorRangeValues []DescriptorRangeValue
}

// Active reports whether the stage has a module.
func (si *PipelineShaderInfo) Active() bool {
	return si != nil && si.Module != nil
}

type VertexInputRate uint32

const (
	VertexInputRateVertex VertexInputRate = iota
	VertexInputRateInstance
)

type VertexBinding struct {
	Binding   uint32
	Stride    uint32
	InputRate VertexInputRate
}

type VertexAttribute struct {
	Location uint32
	Binding  uint32
	Format   uint32
	Offset   uint32
}

type VertexInputState struct {
	Bindings   []VertexBinding
	Attributes []VertexAttribute
}

// PrimitiveTopology values follow VkPrimitiveTopology.
type PrimitiveTopology uint32

const (
	TopologyPointList PrimitiveTopology = iota
	TopologyLineList
	TopologyLineStrip
	TopologyTriangleList
	TopologyTriangleStrip
	TopologyTriangleFan
	TopologyLineListWithAdjacency
	TopologyLineStripWithAdjacency
	TopologyTriangleListWithAdjacency
	TopologyTriangleStripWithAdjacency
	TopologyPatchList
)

type InputAssemblyState struct {
	Topology           PrimitiveTopology
	PatchControlPoints uint32
	DeviceIndex        uint32
	DisableVertexReuse bool
}

type ViewportState struct {
	DepthClipEnable bool
}

type RasterizerState struct {
	RasterizerDiscardEnable bool
	PerSampleShading        bool
	NumSamples              uint32
	SamplePatternIdx        uint32
	UsrClipPlaneMask        uint8
}

// MaxColorTargets is the number of color attachments a pipeline can bind.
const MaxColorTargets = 8

// ColorTarget describes one color attachment. A zero Format marks an unused
// target.
type ColorTarget struct {
	Format               uint32
	BlendEnable          bool
	BlendSrcAlphaToColor bool
}

type ColorBlendState struct {
	AlphaToCoverageEnable bool
	DualSourceBlendEnable bool
	Targets               [MaxColorTargets]ColorTarget
}

// OutputAllocFunc returns storage of exactly size bytes for the finished
// pipeline binary, or nil when allocation fails.
type OutputAllocFunc func(size int) []byte

// GraphicsPipelineBuildInfo describes a graphics pipeline build.
type GraphicsPipelineBuildInfo struct {
	VS, TCS, TES, GS, FS PipelineShaderInfo

	VertexInput *VertexInputState
	IA          InputAssemblyState
	VP          ViewportState
	RS          RasterizerState
	CB          ColorBlendState

	// ShaderCache, when set, replaces the compiler's internal cache.
	ShaderCache *cache.Cache
	OutputAlloc OutputAllocFunc
}

// Stage returns the shader info of a graphics stage, or nil.
func (p *GraphicsPipelineBuildInfo) Stage(stage ShaderStage) *PipelineShaderInfo {
	switch stage {
	case StageVertex:
		return &p.VS
	case StageTessControl:
		return &p.TCS
	case StageTessEval:
		return &p.TES
	case StageGeometry:
		return &p.GS
	case StageFragment:
		return &p.FS
	}
	return nil
}

// Stages returns pointers to the five graphics stage infos in stage order.
func (p *GraphicsPipelineBuildInfo) Stages() [GfxStageCount]*PipelineShaderInfo {
	return [GfxStageCount]*PipelineShaderInfo{&p.VS, &p.TCS, &p.TES, &p.GS, &p.FS}
}

// StageMask returns the mask of active graphics stages.
func (p *GraphicsPipelineBuildInfo) StageMask() uint32 {
	var mask uint32
	for i, si := range p.Stages() {
		if si.Active() {
			mask |= ShaderStage(i).Mask()
		}
	}
	return mask
}

// CloneStages returns a copy of p whose stage infos can be modified without
// affecting p. Modules are shared; node lists are deep-copied.
func (p *GraphicsPipelineBuildInfo) CloneStages() *GraphicsPipelineBuildInfo {
	out := *p
	for _, si := range out.Stages() {
		si.UserDataNodes = CloneNodes(si.UserDataNodes)
	}
	return &out
}

// ComputePipelineBuildInfo describes a compute pipeline build.
type ComputePipelineBuildInfo struct {
	CS          PipelineShaderInfo
	DeviceIndex uint32

	// ShaderCache, when set, replaces the compiler's internal cache.
	ShaderCache *cache.Cache
	OutputAlloc OutputAllocFunc
}
