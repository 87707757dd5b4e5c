package pipeline

import (
	"errors"
	"fmt"

	"github.com/mattjoyce/pipec/internal/cache"
)

var (
	// ErrInvalidShader is returned for malformed modules, missing or
	// unresolvable entry points and failed IR verification.
	ErrInvalidShader = errors.New("invalid shader")

	// ErrInvalidValue is returned for malformed descriptors.
	ErrInvalidValue = errors.New("invalid value")

	// ErrInvalidPointer is returned when a required callback is missing.
	ErrInvalidPointer = errors.New("invalid pointer")

	// ErrOutOfMemory is returned when the output allocator yields no storage.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrUnsupported is returned when a feature is not available on the
	// configured hardware generation or is disabled by strict mode.
	ErrUnsupported = errors.New("unsupported")

	// ErrUnavailable is returned when an optional input (for example a
	// replacement shader file) does not exist.
	ErrUnavailable = errors.New("unavailable")

	// ErrUnknown marks a cache entry that exists but cannot be read back.
	ErrUnknown = cache.ErrUnknown

	// ErrOverlappingNodes is returned by MergeUserDataNodes when two sibling
	// lists describe overlapping dword ranges.
	ErrOverlappingNodes = errors.New("overlapping resource mapping nodes")

	// ErrMismatchedNodes is returned by MergeUserDataNodes when nodes at the
	// same offset disagree on type, size or content.
	ErrMismatchedNodes = errors.New("mismatched resource mapping nodes")
)

// Phase names the step of a build that produced a StageError.
type Phase string

const (
	PhaseValidate     Phase = "validate"
	PhaseTranslate    Phase = "translate"
	PhaseVerify       Phase = "verify"
	PhaseLower        Phase = "lower"
	PhasePatchPrepare Phase = "patch-prepare"
	PhasePatch        Phase = "patch"
	PhaseMerge        Phase = "merge"
	PhaseCodeGen      Phase = "codegen"
	PhaseCopyShader   Phase = "copy-shader"
	PhaseNullFs       Phase = "null-fs"
	PhaseFinalize     Phase = "finalize"
)

// StageError identifies the stage and phase a build failed in.
type StageError struct {
	Stage ShaderStage
	Phase Phase
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s shader: %s: %v", e.Stage.Name(), e.Phase, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err with its stage and phase.
func NewStageError(stage ShaderStage, phase Phase, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Phase: phase, Err: err}
}
