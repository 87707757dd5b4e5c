package compiler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/pipec/internal/backend"
	"github.com/mattjoyce/pipec/internal/cache"
	"github.com/mattjoyce/pipec/internal/checksum"
	"github.com/mattjoyce/pipec/internal/log"
	"github.com/mattjoyce/pipec/internal/metrics"
	"github.com/mattjoyce/pipec/internal/onchip"
	"github.com/mattjoyce/pipec/internal/pipeline"
	"github.com/mattjoyce/pipec/internal/spirv"
)

// Build kinds used as metric labels.
const (
	kindGraphics = "graphics"
	kindCompute  = "compute"
)

// BuildOutput is the result of a pipeline build.
type BuildOutput struct {
	Binary   []byte
	Hash     uint64
	CacheHit bool
	// Replaced is set when a shader override was applied. Such builds
	// bypass the cache.
	Replaced bool
	BuildID  string
}

// BuildShaderModule wraps a shader binary into a module. The code is copied.
func (c *Compiler) BuildShaderModule(code []byte) (*pipeline.ShaderModule, error) {
	var binType pipeline.BinaryType
	switch {
	case spirv.IsSpirvBinary(code):
		binType = pipeline.BinarySpirv
	case spirv.IsLlvmBitcode(code):
		binType = pipeline.BinaryLlvmBc
	default:
		return nil, fmt.Errorf("unrecognized shader binary of %d bytes: %w", len(code), pipeline.ErrInvalidShader)
	}
	buf := append([]byte(nil), code...)
	return &pipeline.ShaderModule{BinType: binType, Code: buf, Hash: checksum.FromBuffer(buf)}, nil
}

// GraphicsPipelineHash returns the compact cache key of info.
func (c *Compiler) GraphicsPipelineHash(info *pipeline.GraphicsPipelineBuildInfo) (uint64, error) {
	return pipeline.GraphicsPipelineHash(info)
}

// ComputePipelineHash returns the compact cache key of info.
func (c *Compiler) ComputePipelineHash(info *pipeline.ComputePipelineBuildInfo) (uint64, error) {
	return pipeline.ComputePipelineHash(info)
}

// validateStage checks that an active stage names an entry point its module
// provides. In strict mode the module must also pass capability checks.
func (c *Compiler) validateStage(stage pipeline.ShaderStage, si *pipeline.PipelineShaderInfo) error {
	if !si.Active() {
		return nil
	}
	switch si.Module.BinType {
	case pipeline.BinarySpirv:
		if si.EntryTarget == "" {
			return pipeline.NewStageError(stage, pipeline.PhaseValidate,
				fmt.Errorf("missing entry point name: %w", pipeline.ErrInvalidShader))
		}
		if spirv.StageMaskFromEntry(si.Module.Code, si.EntryTarget)&stage.Mask() == 0 {
			return pipeline.NewStageError(stage, pipeline.PhaseValidate,
				fmt.Errorf("no entry point %q: %w", si.EntryTarget, pipeline.ErrInvalidShader))
		}
		if c.opts.DisableWipFeatures {
			if err := spirv.VerifyBinary(si.Module.Code, true); err != nil {
				return pipeline.NewStageError(stage, pipeline.PhaseValidate,
					fmt.Errorf("%w: %w", pipeline.ErrUnsupported, err))
			}
		}
	case pipeline.BinaryLlvmBc:
	default:
		return pipeline.NewStageError(stage, pipeline.PhaseValidate,
			fmt.Errorf("binary type %s: %w", si.Module.BinType, pipeline.ErrInvalidShader))
	}
	return nil
}

// buildState is the per-build bookkeeping shared by both pipeline kinds.
type buildState struct {
	id      string
	kind    string
	logger  *slog.Logger
	metrics *metrics.Metrics
	phases  map[pipeline.Phase]time.Duration
}

func (c *Compiler) newBuild(kind string) *buildState {
	id := uuid.NewString()
	return &buildState{
		id:      id,
		kind:    kind,
		logger:  log.WithBuild(id).With("component", "compiler", "kind", kind),
		metrics: c.metrics,
		phases:  make(map[pipeline.Phase]time.Duration),
	}
}

// track starts timing phase; the returned func stops it.
func (b *buildState) track(phase pipeline.Phase) func() {
	start := time.Now()
	return func() {
		d := time.Since(start)
		b.phases[phase] += d
		b.metrics.ObservePhase(string(phase), d)
	}
}

func (b *buildState) profile() []any {
	attrs := make([]any, 0, 2*len(b.phases))
	for phase, d := range b.phases {
		attrs = append(attrs, string(phase), d.String())
	}
	return attrs
}

// finish records the outcome of a build.
func (c *Compiler) finish(b *buildState, out *BuildOutput, err error) {
	switch {
	case err != nil:
		c.metrics.Build(b.kind, metrics.ResultError)
		b.logger.Error("pipeline build failed", "error", err)
	case out == nil:
		c.metrics.Build(b.kind, metrics.ResultError)
	case out.CacheHit:
		c.metrics.Build(b.kind, metrics.ResultCacheHit)
		b.logger.Info("pipeline build finished", "cache_hit", true, "size", len(out.Binary))
	default:
		c.metrics.Build(b.kind, metrics.ResultSuccess)
		b.logger.Info("pipeline build finished", "cache_hit", false, "size", len(out.Binary), "replaced", out.Replaced)
	}
	if c.opts.EnableTimeProfiler && len(b.phases) > 0 {
		b.logger.Info("time profile", b.profile()...)
	}
}

// output copies bin into storage from alloc, or a fresh slice without one.
func output(alloc pipeline.OutputAllocFunc, bin []byte) ([]byte, error) {
	if alloc == nil {
		return append([]byte(nil), bin...), nil
	}
	buf := alloc(len(bin))
	if buf == nil || len(buf) < len(bin) {
		return nil, fmt.Errorf("output allocator returned %d bytes for %d: %w", len(buf), len(bin), pipeline.ErrOutOfMemory)
	}
	buf = buf[:len(bin)]
	copy(buf, bin)
	return buf, nil
}

// BuildGraphicsPipeline builds info into a pipeline binary. info is not
// modified: user data merging and shader replacement work on a copy of its
// stages. ctx bounds only the wait for another build of the same pipeline.
func (c *Compiler) BuildGraphicsPipeline(ctx context.Context, info *pipeline.GraphicsPipelineBuildInfo) (out *BuildOutput, err error) {
	b := c.newBuild(kindGraphics)
	defer func() { c.finish(b, out, err) }()

	if info == nil {
		return nil, fmt.Errorf("nil graphics pipeline build info: %w", pipeline.ErrInvalidValue)
	}
	if info.StageMask() == 0 {
		return nil, fmt.Errorf("graphics pipeline without shader stages: %w", pipeline.ErrInvalidValue)
	}
	done := b.track(pipeline.PhaseValidate)
	for i, si := range info.Stages() {
		stage := pipeline.ShaderStage(i)
		if c.opts.DisableWipFeatures && si.Active() && wipStage(stage) {
			done()
			return nil, pipeline.NewStageError(stage, pipeline.PhaseValidate, pipeline.ErrUnsupported)
		}
		if err := c.validateStage(stage, si); err != nil {
			done()
			return nil, err
		}
	}
	done()

	hash, err := pipeline.GenerateGraphicsHash(info)
	if err != nil {
		return nil, err
	}

	work := info.CloneStages()
	stages := work.Stages()
	restore, replaced, err := c.replacer.Apply(stages[:], hash.Compact64())
	if err != nil {
		b.logger.Warn("shader replacement skipped", "error", err)
	}
	defer restore()
	if replaced {
		if hash, err = pipeline.GenerateGraphicsHash(work); err != nil {
			return nil, err
		}
	}

	out = &BuildOutput{Hash: hash.Compact64(), Replaced: replaced, BuildID: b.id}
	b.logger = b.logger.With("pipeline_hash", checksum.FormatCompact(out.Hash))
	b.logger.Info("pipeline build started", "stages", stageList(work.StageMask()))
	for i, si := range stages {
		if si.Active() {
			b.logger.Debug("shader hash", "stage", pipeline.ShaderStage(i).Abbrev(),
				"hash", checksum.FormatCompact(si.Module.Hash.Compact64()))
		}
	}

	bin, err := c.cachedBuild(ctx, b, info.ShaderCache, hash, replaced, func(st backend.State) ([]byte, error) {
		return c.buildGraphics(st, b, work)
	})
	if err != nil {
		return nil, err
	}
	out.CacheHit = bin.hit
	if out.Binary, err = output(info.OutputAlloc, bin.data); err != nil {
		return nil, err
	}
	return out, nil
}

// BuildComputePipeline builds info into a pipeline binary.
func (c *Compiler) BuildComputePipeline(ctx context.Context, info *pipeline.ComputePipelineBuildInfo) (out *BuildOutput, err error) {
	b := c.newBuild(kindCompute)
	defer func() { c.finish(b, out, err) }()

	if info == nil {
		return nil, fmt.Errorf("nil compute pipeline build info: %w", pipeline.ErrInvalidValue)
	}
	if !info.CS.Active() {
		return nil, fmt.Errorf("compute pipeline without compute shader: %w", pipeline.ErrInvalidValue)
	}
	done := b.track(pipeline.PhaseValidate)
	err = c.validateStage(pipeline.StageCompute, &info.CS)
	done()
	if err != nil {
		return nil, err
	}

	hash, err := pipeline.GenerateComputeHash(info)
	if err != nil {
		return nil, err
	}

	work := *info
	restore, replaced, err := c.replacer.Apply([]*pipeline.PipelineShaderInfo{&work.CS}, hash.Compact64())
	if err != nil {
		b.logger.Warn("shader replacement skipped", "error", err)
	}
	defer restore()
	if replaced {
		if hash, err = pipeline.GenerateComputeHash(&work); err != nil {
			return nil, err
		}
	}

	out = &BuildOutput{Hash: hash.Compact64(), Replaced: replaced, BuildID: b.id}
	b.logger = b.logger.With("pipeline_hash", checksum.FormatCompact(out.Hash))
	b.logger.Info("pipeline build started", "stages", pipeline.StageCompute.Abbrev())
	b.logger.Debug("shader hash", "stage", pipeline.StageCompute.Abbrev(),
		"hash", checksum.FormatCompact(work.CS.Module.Hash.Compact64()))

	bin, err := c.cachedBuild(ctx, b, info.ShaderCache, hash, replaced, func(st backend.State) ([]byte, error) {
		return c.buildCompute(st, b, &work)
	})
	if err != nil {
		return nil, err
	}
	out.CacheHit = bin.hit
	if out.Binary, err = output(info.OutputAlloc, bin.data); err != nil {
		return nil, err
	}
	return out, nil
}

type cachedBinary struct {
	data []byte
	hit  bool
}

// cachedBuild returns the binary for hash from the cache, or runs build on
// a pooled context and commits the result. Replaced builds skip the cache.
func (c *Compiler) cachedBuild(ctx context.Context, b *buildState, external *cache.Cache, hash checksum.Hash, replaced bool, build func(backend.State) ([]byte, error)) (cachedBinary, error) {
	sc := c.selectCache(external)

	var h *cache.Handle
	if !replaced {
		data, handle, err := c.lookup(ctx, b.logger, sc, hash)
		if err != nil {
			return cachedBinary{}, err
		}
		if data != nil {
			return cachedBinary{data: data, hit: true}, nil
		}
		h = handle
	}

	pc, err := c.pool.Acquire()
	if err != nil {
		c.resolve(ctx, b.logger, sc, h, nil, err)
		return cachedBinary{}, err
	}
	b.logger.Debug("compilation context acquired", "context", pc.ID())

	bin, err := build(pc.State())
	c.resolve(ctx, b.logger, sc, h, bin, err)
	c.pool.Release(pc)
	if err != nil {
		return cachedBinary{}, err
	}
	return cachedBinary{data: bin}, nil
}

// wipStage reports whether stage is rejected by DisableWipFeatures.
func wipStage(stage pipeline.ShaderStage) bool {
	switch stage {
	case pipeline.StageTessControl, pipeline.StageTessEval, pipeline.StageGeometry:
		return true
	}
	return false
}

func stageList(mask uint32) []string {
	var names []string
	for s := pipeline.StageVertex; s <= pipeline.StageCompute; s++ {
		if mask&s.Mask() != 0 {
			names = append(names, s.Abbrev())
		}
	}
	return names
}

// buildGraphics runs the backend passes for a graphics pipeline. info is the
// build-scoped copy; its user data nodes are fused in place on hardware that
// merges stages.
func (c *Compiler) buildGraphics(st backend.State, b *buildState, info *pipeline.GraphicsPipelineBuildInfo) ([]byte, error) {
	var units [pipeline.GfxStageCount]*backend.Unit
	skipPatch := false

	for i, si := range info.Stages() {
		stage := pipeline.ShaderStage(i)
		if !si.Active() {
			continue
		}
		bitcode := si.Module.BinType == pipeline.BinaryLlvmBc
		skipPatch = skipPatch || bitcode

		u, err := c.translate(st, b, stage, si, !bitcode)
		if err != nil {
			return nil, err
		}
		units[i] = u
	}

	if !c.opts.AutoLayoutDesc && units[pipeline.StageFragment] == nil {
		done := b.track(pipeline.PhaseNullFs)
		fs, err := c.be.BuildNullFs(st)
		done()
		if err != nil {
			return nil, pipeline.NewStageError(pipeline.StageFragment, pipeline.PhaseNullFs, err)
		}
		units[pipeline.StageFragment] = fs
	}

	patch := &backend.PatchInfo{}
	for i, u := range units {
		if u != nil {
			patch.StageMask |= pipeline.ShaderStage(i).Mask()
		}
	}

	if !skipPatch {
		for i := pipeline.GfxStageCount - 1; i >= 0; i-- {
			if units[i] == nil {
				continue
			}
			done := b.track(pipeline.PhasePatchPrepare)
			err := c.be.PreRun(st, units[i], patch)
			done()
			if err != nil {
				return nil, pipeline.NewStageError(pipeline.ShaderStage(i), pipeline.PhasePatchPrepare, err)
			}
		}
	}

	if gs := units[pipeline.StageGeometry]; gs != nil && !c.opts.DisableGsOnChip && c.property.SupportsGsOnChip() {
		es := units[pipeline.StageVertex]
		if units[pipeline.StageTessControl] != nil || units[pipeline.StageTessEval] != nil {
			es = units[pipeline.StageTessEval]
		}
		patch.GsOnChip = c.estimateGsOnChip(es, gs)
		b.logger.Debug("gs on-chip estimate",
			"on_chip", patch.GsOnChip.OnChip,
			"prims_per_subgroup", patch.GsOnChip.PrimsPerSubgroup,
			"es_verts_per_subgroup", patch.GsOnChip.EsVertsPerSubgroup,
			"lds_size", patch.GsOnChip.LdsSize)
	}

	merge := c.gfxIP.SupportsStageMerge()
	if merge {
		done := b.track(pipeline.PhaseMerge)
		err := pipeline.FuseUserDataNodes(info)
		done()
		if err != nil {
			return nil, err
		}
		for i, si := range info.Stages() {
			if units[i] != nil && si.Active() {
				units[i].UserDataNodes = si.UserDataNodes
			}
		}
	}

	if !skipPatch {
		for i := pipeline.GfxStageCount - 1; i >= 0; i-- {
			if units[i] == nil {
				continue
			}
			done := b.track(pipeline.PhasePatch)
			err := c.be.Run(st, units[i], patch)
			done()
			if err != nil {
				return nil, pipeline.NewStageError(pipeline.ShaderStage(i), pipeline.PhasePatch, err)
			}
		}
	}

	if merge {
		if err := c.mergeStages(st, b, &units); err != nil {
			return nil, err
		}
	}

	var sections []backend.Section
	for i, u := range units {
		if u == nil {
			continue
		}
		done := b.track(pipeline.PhaseCodeGen)
		s, err := c.be.Generate(st, u)
		done()
		if err != nil {
			return nil, pipeline.NewStageError(pipeline.ShaderStage(i), pipeline.PhaseCodeGen, err)
		}
		sections = append(sections, s)
	}

	if gs := units[pipeline.StageGeometry]; gs != nil {
		done := b.track(pipeline.PhaseCopyShader)
		s, err := c.copyShader(st, gs)
		done()
		if err != nil {
			return nil, pipeline.NewStageError(pipeline.StageCopyShader, pipeline.PhaseCopyShader, err)
		}
		sections = append(sections, s)
	}

	return c.finalize(st, b, sections)
}

// translate runs translation and verification of one stage, and lowering
// unless lower is false.
func (c *Compiler) translate(st backend.State, b *buildState, stage pipeline.ShaderStage, si *pipeline.PipelineShaderInfo, lower bool) (*backend.Unit, error) {
	done := b.track(pipeline.PhaseTranslate)
	u, err := c.be.Translate(st, &backend.TranslateRequest{
		Stage:          stage,
		Module:         si.Module,
		EntryTarget:    si.EntryTarget,
		Specialization: si.Specialization,
		UserDataNodes:  si.UserDataNodes,
	})
	done()
	if err != nil {
		return nil, pipeline.NewStageError(stage, pipeline.PhaseTranslate, err)
	}

	done = b.track(pipeline.PhaseVerify)
	err = c.be.Verify(st, u)
	done()
	if err != nil {
		return nil, pipeline.NewStageError(stage, pipeline.PhaseVerify, fmt.Errorf("%w: %w", pipeline.ErrInvalidShader, err))
	}

	if lower {
		done = b.track(pipeline.PhaseLower)
		err = c.be.Lower(st, u)
		done()
		if err != nil {
			return nil, pipeline.NewStageError(stage, pipeline.PhaseLower, err)
		}
	}
	return u, nil
}

// estimateGsOnChip sizes the GS rings from the usage of the ES and GS
// units. es may be nil, in which case the GS is fed from fixed function.
func (c *Compiler) estimateGsOnChip(es, gs *backend.Unit) onchip.Result {
	var esLocs uint32
	if es != nil {
		esLocs = es.Usage.OutputLocCount
	}
	instances := max(gs.Usage.GsInvocations, 1)
	esGs, gsVs := onchip.ItemSizes(esLocs, gs.Usage.OutputLocCount, gs.Usage.GsOutputVertices, instances)
	return onchip.Estimate(onchip.Params{
		EsGsItemSize:            esGs,
		GsVsItemSize:            gsVs,
		InstanceCount:           instances,
		InputPrimitive:          gs.Usage.GsInputPrimitive,
		DefaultPrimsPerSubgroup: c.property.GsOnChipDefaultPrimsPerSubgroup,
		LdsSizePerSubgroup:      c.property.GsOnChipDefaultLdsSizePerSubgroup,
		LdsGranularity:          c.property.LdsSizeDwordGranularity,
	})
}

// mergeStages fuses LS-HS and ES-GS. The merged units take the slots of
// the later stage.
func (c *Compiler) mergeStages(st backend.State, b *buildState, units *[pipeline.GfxStageCount]*backend.Unit) error {
	hasVs := units[pipeline.StageVertex] != nil
	hasTcs := units[pipeline.StageTessControl] != nil
	hasTs := hasTcs || units[pipeline.StageTessEval] != nil
	hasGs := units[pipeline.StageGeometry] != nil

	if hasTs && (hasVs || hasTcs) {
		done := b.track(pipeline.PhaseMerge)
		lshs, err := c.be.MergeLsHs(st, units[pipeline.StageVertex], units[pipeline.StageTessControl])
		done()
		if err != nil {
			return pipeline.NewStageError(pipeline.StageTessControl, pipeline.PhaseMerge, err)
		}
		units[pipeline.StageVertex] = nil
		units[pipeline.StageTessControl] = lshs
	}

	if hasGs {
		esStage := pipeline.StageVertex
		if hasTs {
			esStage = pipeline.StageTessEval
		}
		done := b.track(pipeline.PhaseMerge)
		esgs, err := c.be.MergeEsGs(st, units[esStage], units[pipeline.StageGeometry])
		done()
		if err != nil {
			return pipeline.NewStageError(pipeline.StageGeometry, pipeline.PhaseMerge, err)
		}
		units[esStage] = nil
		units[pipeline.StageGeometry] = esgs
	}
	return nil
}

func (c *Compiler) copyShader(st backend.State, gs *backend.Unit) (backend.Section, error) {
	u, err := c.be.BuildCopyShader(st, gs)
	if err != nil {
		return backend.Section{}, err
	}
	return c.be.Generate(st, u)
}

func (c *Compiler) finalize(st backend.State, b *buildState, sections []backend.Section) ([]byte, error) {
	done := b.track(pipeline.PhaseFinalize)
	bin, err := c.be.Finalize(st, sections)
	done()
	if err != nil {
		return nil, fmt.Errorf("finalize pipeline: %w", err)
	}
	if len(bin) == 0 {
		return nil, fmt.Errorf("finalize pipeline: empty binary: %w", pipeline.ErrInvalidValue)
	}
	return bin, nil
}

// buildCompute runs the backend passes for a compute pipeline.
func (c *Compiler) buildCompute(st backend.State, b *buildState, info *pipeline.ComputePipelineBuildInfo) ([]byte, error) {
	bitcode := info.CS.Module.BinType == pipeline.BinaryLlvmBc
	u, err := c.translate(st, b, pipeline.StageCompute, &info.CS, !bitcode)
	if err != nil {
		return nil, err
	}

	if !bitcode {
		patch := &backend.PatchInfo{StageMask: pipeline.StageCompute.Mask()}
		done := b.track(pipeline.PhasePatchPrepare)
		err = c.be.PreRun(st, u, patch)
		done()
		if err != nil {
			return nil, pipeline.NewStageError(pipeline.StageCompute, pipeline.PhasePatchPrepare, err)
		}
		done = b.track(pipeline.PhasePatch)
		err = c.be.Run(st, u, patch)
		done()
		if err != nil {
			return nil, pipeline.NewStageError(pipeline.StageCompute, pipeline.PhasePatch, err)
		}
	}

	done := b.track(pipeline.PhaseCodeGen)
	s, err := c.be.Generate(st, u)
	done()
	if err != nil {
		return nil, pipeline.NewStageError(pipeline.StageCompute, pipeline.PhaseCodeGen, err)
	}
	return c.finalize(st, b, []backend.Section{s})
}
