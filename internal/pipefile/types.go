// Package pipefile reads pipeline descriptions: YAML files naming the shader
// files of each stage, or the same document as JSON with the module bytes
// inlined.
package pipefile

// Kinds of pipeline description.
const (
	KindGraphics = "graphics"
	KindCompute  = "compute"
)

// Spec is one pipeline description.
type Spec struct {
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	// Kind is graphics or compute. When empty it is inferred from the stages.
	Kind   string               `yaml:"kind,omitempty" json:"kind,omitempty"`
	Stages map[string]StageSpec `yaml:"stages" json:"stages"`

	VertexInput *VertexInputSpec `yaml:"vertex_input,omitempty" json:"vertex_input,omitempty"`
	IA          IASpec           `yaml:"input_assembly,omitempty" json:"input_assembly,omitempty"`
	RS          RSSpec           `yaml:"rasterizer,omitempty" json:"rasterizer,omitempty"`
	CB          CBSpec           `yaml:"color_blend,omitempty" json:"color_blend,omitempty"`
	DeviceIndex uint32           `yaml:"device_index,omitempty" json:"device_index,omitempty"`
}

// StageSpec describes one shader stage. Exactly one of File or Code is set.
type StageSpec struct {
	// File is a .spv, .bc or .wgsl path relative to the description.
	File string `yaml:"file,omitempty" json:"file,omitempty"`
	// Code is the module binary. JSON carries it as base64.
	Code           []byte              `yaml:"-" json:"code,omitempty"`
	Entry          string              `yaml:"entry,omitempty" json:"entry,omitempty"`
	Specialization *SpecializationSpec `yaml:"specialization,omitempty" json:"specialization,omitempty"`
	UserData       []NodeSpec          `yaml:"user_data,omitempty" json:"user_data,omitempty"`
}

// SpecializationSpec sets specialization constants. Each constant is one
// 32-bit word.
type SpecializationSpec struct {
	Constants map[uint32]uint32 `yaml:"constants" json:"constants"`
}

// NodeSpec is a resource mapping node. Type uses the node type names, e.g.
// DescriptorBuffer or DescriptorTableVaPtr.
type NodeSpec struct {
	Type            string     `yaml:"type" json:"type"`
	Offset          uint32     `yaml:"offset" json:"offset"`
	Size            uint32     `yaml:"size" json:"size"`
	Set             uint32     `yaml:"set,omitempty" json:"set,omitempty"`
	Binding         uint32     `yaml:"binding,omitempty" json:"binding,omitempty"`
	Table           []NodeSpec `yaml:"table,omitempty" json:"table,omitempty"`
	UserDataPtrSize uint32     `yaml:"user_data_ptr_size,omitempty" json:"user_data_ptr_size,omitempty"`
}

type VertexInputSpec struct {
	Bindings []struct {
		Binding  uint32 `yaml:"binding" json:"binding"`
		Stride   uint32 `yaml:"stride" json:"stride"`
		Instance bool   `yaml:"instance,omitempty" json:"instance,omitempty"`
	} `yaml:"bindings" json:"bindings"`
	Attributes []struct {
		Location uint32 `yaml:"location" json:"location"`
		Binding  uint32 `yaml:"binding" json:"binding"`
		Format   uint32 `yaml:"format" json:"format"`
		Offset   uint32 `yaml:"offset" json:"offset"`
	} `yaml:"attributes" json:"attributes"`
}

type IASpec struct {
	// Topology is a lower-case topology name such as triangle_list.
	Topology           string `yaml:"topology,omitempty" json:"topology,omitempty"`
	PatchControlPoints uint32 `yaml:"patch_control_points,omitempty" json:"patch_control_points,omitempty"`
	DisableVertexReuse bool   `yaml:"disable_vertex_reuse,omitempty" json:"disable_vertex_reuse,omitempty"`
}

type RSSpec struct {
	DepthClip         bool   `yaml:"depth_clip,omitempty" json:"depth_clip,omitempty"`
	RasterizerDiscard bool   `yaml:"rasterizer_discard,omitempty" json:"rasterizer_discard,omitempty"`
	PerSampleShading  bool   `yaml:"per_sample_shading,omitempty" json:"per_sample_shading,omitempty"`
	Samples           uint32 `yaml:"samples,omitempty" json:"samples,omitempty"`
	ClipPlaneMask     uint8  `yaml:"clip_plane_mask,omitempty" json:"clip_plane_mask,omitempty"`
}

type CBSpec struct {
	AlphaToCoverage bool         `yaml:"alpha_to_coverage,omitempty" json:"alpha_to_coverage,omitempty"`
	DualSourceBlend bool         `yaml:"dual_source_blend,omitempty" json:"dual_source_blend,omitempty"`
	Targets         []TargetSpec `yaml:"targets,omitempty" json:"targets,omitempty"`
}

type TargetSpec struct {
	Format uint32 `yaml:"format" json:"format"`
	Blend  bool   `yaml:"blend,omitempty" json:"blend,omitempty"`
}
