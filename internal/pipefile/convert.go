package pipefile

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/mattjoyce/pipec/internal/pipeline"
)

// ModuleBuilder turns shader binaries into modules.
type ModuleBuilder interface {
	BuildShaderModule(code []byte) (*pipeline.ShaderModule, error)
}

// graphicsStageKeys is in stage order.
var graphicsStageKeys = []string{"vs", "tcs", "tes", "gs", "fs"}

var topologies = map[string]pipeline.PrimitiveTopology{
	"point_list":                    pipeline.TopologyPointList,
	"line_list":                     pipeline.TopologyLineList,
	"line_strip":                    pipeline.TopologyLineStrip,
	"triangle_list":                 pipeline.TopologyTriangleList,
	"triangle_strip":                pipeline.TopologyTriangleStrip,
	"triangle_fan":                  pipeline.TopologyTriangleFan,
	"line_list_with_adjacency":      pipeline.TopologyLineListWithAdjacency,
	"line_strip_with_adjacency":     pipeline.TopologyLineStripWithAdjacency,
	"triangle_list_with_adjacency":  pipeline.TopologyTriangleListWithAdjacency,
	"triangle_strip_with_adjacency": pipeline.TopologyTriangleStripWithAdjacency,
	"patch_list":                    pipeline.TopologyPatchList,
}

func stageIndex(key string) int {
	for i, k := range graphicsStageKeys {
		if k == key {
			return i
		}
	}
	return -1
}

// ResolvedKind returns Kind, or infers it from the stage keys.
func (s *Spec) ResolvedKind() (string, error) {
	if len(s.Stages) == 0 {
		return "", fmt.Errorf("stages must be non-empty")
	}
	_, hasCS := s.Stages["cs"]
	kind := s.Kind
	if kind == "" {
		kind = KindGraphics
		if hasCS {
			kind = KindCompute
		}
	}

	switch kind {
	case KindCompute:
		if !hasCS || len(s.Stages) != 1 {
			return "", fmt.Errorf("compute pipeline needs exactly one stage, cs")
		}
	case KindGraphics:
		for key := range s.Stages {
			if stageIndex(key) < 0 {
				return "", fmt.Errorf("unknown graphics stage %q (want vs, tcs, tes, gs or fs)", key)
			}
		}
	default:
		return "", fmt.Errorf("kind must be %s or %s (got %q)", KindGraphics, KindCompute, kind)
	}
	return kind, nil
}

// Graphics converts a graphics description to a build info.
func (s *Spec) Graphics(mb ModuleBuilder) (*pipeline.GraphicsPipelineBuildInfo, error) {
	kind, err := s.ResolvedKind()
	if err != nil {
		return nil, err
	}
	if kind != KindGraphics {
		return nil, fmt.Errorf("pipeline %q is %s, not graphics", s.Name, kind)
	}

	info := &pipeline.GraphicsPipelineBuildInfo{}
	for i, key := range graphicsStageKeys {
		st, ok := s.Stages[key]
		if !ok {
			continue
		}
		si, err := st.shaderInfo(mb)
		if err != nil {
			return nil, fmt.Errorf("stages.%s: %w", key, err)
		}
		*info.Stage(pipeline.ShaderStage(i)) = si
	}

	if vi := s.VertexInput; vi != nil {
		info.VertexInput = &pipeline.VertexInputState{}
		for _, b := range vi.Bindings {
			rate := pipeline.VertexInputRateVertex
			if b.Instance {
				rate = pipeline.VertexInputRateInstance
			}
			info.VertexInput.Bindings = append(info.VertexInput.Bindings, pipeline.VertexBinding{
				Binding: b.Binding, Stride: b.Stride, InputRate: rate,
			})
		}
		for _, a := range vi.Attributes {
			info.VertexInput.Attributes = append(info.VertexInput.Attributes, pipeline.VertexAttribute{
				Location: a.Location, Binding: a.Binding, Format: a.Format, Offset: a.Offset,
			})
		}
	}

	if s.IA.Topology != "" {
		topo, ok := topologies[s.IA.Topology]
		if !ok {
			return nil, fmt.Errorf("input_assembly.topology: unknown topology %q", s.IA.Topology)
		}
		info.IA.Topology = topo
	} else {
		info.IA.Topology = pipeline.TopologyTriangleList
	}
	info.IA.PatchControlPoints = s.IA.PatchControlPoints
	info.IA.DisableVertexReuse = s.IA.DisableVertexReuse
	info.IA.DeviceIndex = s.DeviceIndex

	info.VP.DepthClipEnable = s.RS.DepthClip
	info.RS = pipeline.RasterizerState{
		RasterizerDiscardEnable: s.RS.RasterizerDiscard,
		PerSampleShading:        s.RS.PerSampleShading,
		NumSamples:              s.RS.Samples,
		UsrClipPlaneMask:        s.RS.ClipPlaneMask,
	}
	if info.RS.NumSamples == 0 {
		info.RS.NumSamples = 1
	}

	if len(s.CB.Targets) > pipeline.MaxColorTargets {
		return nil, fmt.Errorf("color_blend.targets: at most %d targets", pipeline.MaxColorTargets)
	}
	info.CB.AlphaToCoverageEnable = s.CB.AlphaToCoverage
	info.CB.DualSourceBlendEnable = s.CB.DualSourceBlend
	for i, t := range s.CB.Targets {
		info.CB.Targets[i] = pipeline.ColorTarget{Format: t.Format, BlendEnable: t.Blend}
	}
	return info, nil
}

// Compute converts a compute description to a build info.
func (s *Spec) Compute(mb ModuleBuilder) (*pipeline.ComputePipelineBuildInfo, error) {
	kind, err := s.ResolvedKind()
	if err != nil {
		return nil, err
	}
	if kind != KindCompute {
		return nil, fmt.Errorf("pipeline %q is %s, not compute", s.Name, kind)
	}
	si, err := s.Stages["cs"].shaderInfo(mb)
	if err != nil {
		return nil, fmt.Errorf("stages.cs: %w", err)
	}
	return &pipeline.ComputePipelineBuildInfo{CS: si, DeviceIndex: s.DeviceIndex}, nil
}

func (st StageSpec) shaderInfo(mb ModuleBuilder) (pipeline.PipelineShaderInfo, error) {
	if len(st.Code) == 0 {
		return pipeline.PipelineShaderInfo{}, fmt.Errorf("module code is empty")
	}
	m, err := mb.BuildShaderModule(st.Code)
	if err != nil {
		return pipeline.PipelineShaderInfo{}, err
	}
	entry := st.Entry
	if entry == "" {
		entry = "main"
	}
	nodes, err := convertNodes(st.UserData)
	if err != nil {
		return pipeline.PipelineShaderInfo{}, fmt.Errorf("user_data: %w", err)
	}
	return pipeline.PipelineShaderInfo{
		Module:         m,
		EntryTarget:    entry,
		Specialization: st.Specialization.info(),
		UserDataNodes:  nodes,
	}, nil
}

func convertNodes(specs []NodeSpec) ([]pipeline.ResourceMappingNode, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make([]pipeline.ResourceMappingNode, 0, len(specs))
	for i, ns := range specs {
		typ, ok := pipeline.ParseNodeType(ns.Type)
		if !ok {
			return nil, fmt.Errorf("[%d]: unknown node type %q", i, ns.Type)
		}
		if len(ns.Table) > 0 && typ != pipeline.NodeDescriptorTableVaPtr {
			return nil, fmt.Errorf("[%d]: only DescriptorTableVaPtr nodes have a table", i)
		}
		table, err := convertNodes(ns.Table)
		if err != nil {
			return nil, fmt.Errorf("[%d].table%w", i, err)
		}
		out = append(out, pipeline.ResourceMappingNode{
			Type:            typ,
			SizeInDwords:    ns.Size,
			OffsetInDwords:  ns.Offset,
			SRD:             pipeline.DescriptorRange{Set: ns.Set, Binding: ns.Binding},
			Table:           table,
			UserDataPtrSize: ns.UserDataPtrSize,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OffsetInDwords < out[j].OffsetInDwords })
	return out, nil
}

func (sp *SpecializationSpec) info() *pipeline.SpecializationInfo {
	if sp == nil || len(sp.Constants) == 0 {
		return nil
	}
	ids := make([]uint32, 0, len(sp.Constants))
	for id := range sp.Constants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	info := &pipeline.SpecializationInfo{Data: make([]byte, 4*len(ids))}
	for i, id := range ids {
		off := uint32(4 * i)
		binary.LittleEndian.PutUint32(info.Data[off:], sp.Constants[id])
		info.MapEntries = append(info.MapEntries, pipeline.SpecializationMapEntry{ConstantID: id, Offset: off, Size: 4})
	}
	return info
}
