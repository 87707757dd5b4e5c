package pipeline

import (
	"fmt"

	"github.com/mattjoyce/pipec/internal/checksum"
)

// descriptorSizeInDwords is the size of one fixed descriptor value.
const descriptorSizeInDwords = 4

// GraphicsPipelineHash returns the compact cache key of a graphics pipeline.
func GraphicsPipelineHash(info *GraphicsPipelineBuildInfo) (uint64, error) {
	h, err := GenerateGraphicsHash(info)
	if err != nil {
		return 0, err
	}
	return h.Compact64(), nil
}

// ComputePipelineHash returns the compact cache key of a compute pipeline.
func ComputePipelineHash(info *ComputePipelineBuildInfo) (uint64, error) {
	h, err := GenerateComputeHash(info)
	if err != nil {
		return 0, err
	}
	return h.Compact64(), nil
}

// GenerateGraphicsHash folds every field of info that affects generated code
// into a full digest. The field order is fixed; persisted cache entries are
// keyed by it.
func GenerateGraphicsHash(info *GraphicsPipelineBuildInfo) (checksum.Hash, error) {
	if info == nil {
		return checksum.Hash{}, fmt.Errorf("nil graphics pipeline build info: %w", ErrInvalidValue)
	}
	c := checksum.New()
	for i, si := range info.Stages() {
		if err := updateShaderInfo(c, ShaderStage(i), si); err != nil {
			return checksum.Hash{}, err
		}
	}

	if vi := info.VertexInput; vi != nil && len(vi.Bindings) > 0 {
		updateVertexInput(c, vi)
	}

	c.UpdateUint32(uint32(info.IA.Topology))
	c.UpdateUint32(info.IA.PatchControlPoints)
	c.UpdateUint32(info.IA.DeviceIndex)
	c.UpdateBool(info.IA.DisableVertexReuse)

	c.UpdateBool(info.VP.DepthClipEnable)

	c.UpdateBool(info.RS.RasterizerDiscardEnable)
	if info.RS.PerSampleShading {
		c.UpdateBool(true)
	}
	c.UpdateUint32(info.RS.NumSamples)
	c.UpdateUint32(info.RS.SamplePatternIdx)
	c.Update([]byte{info.RS.UsrClipPlaneMask})

	c.UpdateBool(info.CB.AlphaToCoverageEnable)
	c.UpdateBool(info.CB.DualSourceBlendEnable)
	for _, t := range info.CB.Targets {
		if t.Format == 0 {
			continue
		}
		c.UpdateUint32(t.Format)
		c.UpdateBool(t.BlendEnable)
		c.UpdateBool(t.BlendSrcAlphaToColor)
	}

	return c.Final(), nil
}

// GenerateComputeHash folds the compute stage into a full digest.
func GenerateComputeHash(info *ComputePipelineBuildInfo) (checksum.Hash, error) {
	if info == nil {
		return checksum.Hash{}, fmt.Errorf("nil compute pipeline build info: %w", ErrInvalidValue)
	}
	c := checksum.New()
	if err := updateShaderInfo(c, StageCompute, &info.CS); err != nil {
		return checksum.Hash{}, err
	}
	return c.Final(), nil
}

// GraphicsShaderHash returns the per-stage cache key of one graphics stage:
// its shader info plus the fixed-function state the stage depends on.
func GraphicsShaderHash(info *GraphicsPipelineBuildInfo, stage ShaderStage) (uint64, error) {
	si := info.Stage(stage)
	if si == nil {
		return 0, fmt.Errorf("stage %s: %w", stage, ErrInvalidValue)
	}

	c := checksum.New()
	if err := updateShaderInfo(c, stage, si); err != nil {
		return 0, err
	}
	c.UpdateUint32(info.IA.DeviceIndex)

	switch stage {
	case StageTessControl:
		c.UpdateUint32(info.IA.PatchControlPoints)
	case StageVertex:
		if vi := info.VertexInput; vi != nil && len(vi.Bindings) > 0 && len(vi.Attributes) > 0 {
			updateVertexInput(c, vi)
		}
	case StageFragment:
		if info.RS.PerSampleShading {
			c.UpdateBool(true)
		}
	}
	return c.Final().Compact64(), nil
}

// ComputeShaderHash returns the per-stage cache key of the compute stage.
func ComputeShaderHash(info *ComputePipelineBuildInfo) (uint64, error) {
	c := checksum.New()
	if err := updateShaderInfo(c, StageCompute, &info.CS); err != nil {
		return 0, err
	}
	c.UpdateUint32(info.DeviceIndex)
	return c.Final().Compact64(), nil
}

func updateVertexInput(c *checksum.Context, vi *VertexInputState) {
	c.UpdateUint32(uint32(len(vi.Bindings)))
	for _, b := range vi.Bindings {
		c.UpdateUint32(b.Binding)
		c.UpdateUint32(b.Stride)
		c.UpdateUint32(uint32(b.InputRate))
	}
	c.UpdateUint32(uint32(len(vi.Attributes)))
	for _, a := range vi.Attributes {
		c.UpdateUint32(a.Location)
		c.UpdateUint32(a.Binding)
		c.UpdateUint32(a.Format)
		c.UpdateUint32(a.Offset)
	}
}

func updateShaderInfo(c *checksum.Context, stage ShaderStage, si *PipelineShaderInfo) error {
	if !si.Active() {
		return nil
	}

	c.UpdateUint32(uint32(stage))
	c.UpdateHash(si.Module.Hash)
	c.UpdateString(si.EntryTarget)

	if spec := si.Specialization; spec != nil && len(spec.MapEntries) > 0 {
		c.UpdateUint32(uint32(len(spec.MapEntries)))
		for _, e := range spec.MapEntries {
			c.UpdateUint32(e.ConstantID)
			c.UpdateUint32(e.Offset)
			c.UpdateUint32(e.Size)
		}
		c.UpdateUint32(uint32(len(spec.Data)))
		c.Update(spec.Data)
	}

	if len(si.DescriptorRangeValues) > 0 {
		c.UpdateUint32(uint32(len(si.DescriptorRangeValues)))
		for _, rv := range si.DescriptorRangeValues {
			c.UpdateUint32(uint32(rv.Type))
			c.UpdateUint32(rv.Set)
			c.UpdateUint32(rv.Binding)
			c.UpdateUint32(rv.ArraySize)
			n := int(rv.ArraySize) * descriptorSizeInDwords
			if n > len(rv.Value) {
				return fmt.Errorf("%s shader: descriptor range (%d, %d) holds %d dwords, want %d: %w",
					stage.Name(), rv.Set, rv.Binding, len(rv.Value), n, ErrInvalidValue)
			}
			for _, v := range rv.Value[:n] {
				c.UpdateUint32(v)
			}
		}
	}

	for i := range si.UserDataNodes {
		if err := updateNode(c, &si.UserDataNodes[i]); err != nil {
			return fmt.Errorf("%s shader: %w", stage.Name(), err)
		}
	}
	return nil
}

func updateNode(c *checksum.Context, n *ResourceMappingNode) error {
	c.UpdateUint32(uint32(n.Type))
	c.UpdateUint32(n.SizeInDwords)
	c.UpdateUint32(n.OffsetInDwords)

	switch {
	case n.Type.IsDescriptor():
		c.UpdateUint32(n.SRD.Set)
		c.UpdateUint32(n.SRD.Binding)
	case n.Type == NodeDescriptorTableVaPtr:
		for i := range n.Table {
			if err := updateNode(c, &n.Table[i]); err != nil {
				return err
			}
		}
	case n.Type == NodeIndirectUserDataVaPtr:
		c.UpdateUint32(n.UserDataPtrSize)
	case n.Type == NodePushConst:
	default:
		return fmt.Errorf("resource mapping node type %d: %w", uint32(n.Type), ErrInvalidValue)
	}
	return nil
}
