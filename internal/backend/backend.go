// Package backend declares the collaborators the compiler drives for each
// build: translation, verification, lowering, patching, stage merging, code
// generation and finalization. Their internals live behind these interfaces.
package backend

import (
	"github.com/mattjoyce/pipec/internal/gpu"
	"github.com/mattjoyce/pipec/internal/onchip"
	"github.com/mattjoyce/pipec/internal/pipeline"
)

//go:generate mockgen -destination=mocks/mock_backend.go -package=mocks github.com/mattjoyce/pipec/internal/backend Backend,State

// State is one compiler session worth of backend state. States are pooled and
// reused across builds; Reset is called when a build returns its state.
type State interface {
	GfxIP() gpu.GfxIPVersion
	Reset()
	Close() error
}

// ResourceUsage is what translation learned about a stage that the compiler
// needs for GS on-chip sizing.
type ResourceUsage struct {
	OutputLocCount   uint32
	GsInvocations    uint32
	GsOutputVertices uint32
	GsInputPrimitive onchip.InputPrimitive
}

// Unit is one stage, or one merged hardware stage, in flight.
type Unit struct {
	Stage         pipeline.ShaderStage
	MergedStages  uint32
	Usage         ResourceUsage
	UserDataNodes []pipeline.ResourceMappingNode

	// Payload is owned by the backend.
	Payload any
}

// TranslateRequest describes one stage to translate.
type TranslateRequest struct {
	Stage          pipeline.ShaderStage
	Module         *pipeline.ShaderModule
	EntryTarget    string
	Specialization *pipeline.SpecializationInfo
	UserDataNodes  []pipeline.ResourceMappingNode
}

// PatchInfo is the pipeline-wide state patch passes see.
type PatchInfo struct {
	StageMask uint32
	GsOnChip  onchip.Result
}

// Section is the code generated for one unit.
type Section struct {
	Stage pipeline.ShaderStage
	Data  []byte
}

type Translator interface {
	Translate(st State, req *TranslateRequest) (*Unit, error)
}

type Verifier interface {
	Verify(st State, u *Unit) error
}

type Lowerer interface {
	Lower(st State, u *Unit) error
}

// Patcher runs the pipeline-aware passes. PreRun collects cross-stage
// information and runs before the pipeline-wide decisions; Run applies them.
type Patcher interface {
	PreRun(st State, u *Unit, info *PatchInfo) error
	Run(st State, u *Unit, info *PatchInfo) error
}

// StageMerger fuses two stages into one hardware shader.
type StageMerger interface {
	MergeLsHs(st State, ls, hs *Unit) (*Unit, error)
	MergeEsGs(st State, es, gs *Unit) (*Unit, error)
}

type CodeGenerator interface {
	Generate(st State, u *Unit) (Section, error)
}

type CopyShaderBuilder interface {
	BuildCopyShader(st State, gs *Unit) (*Unit, error)
}

type NullFsBuilder interface {
	BuildNullFs(st State) (*Unit, error)
}

// Finalizer links the generated sections into the pipeline binary.
type Finalizer interface {
	Finalize(st State, sections []Section) ([]byte, error)
}

// Backend bundles every collaborator of a build.
type Backend interface {
	NewState(gfxIP gpu.GfxIPVersion) (State, error)

	Translator
	Verifier
	Lowerer
	Patcher
	StageMerger
	CodeGenerator
	CopyShaderBuilder
	NullFsBuilder
	Finalizer
}
