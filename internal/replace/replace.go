// Package replace substitutes shader modules with override binaries found on
// disk, keyed by the compact hash of the original module. It is a
// development aid for trying shader changes without rebuilding the
// application that supplies them.
package replace

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattjoyce/pipec/internal/checksum"
	"github.com/mattjoyce/pipec/internal/log"
	"github.com/mattjoyce/pipec/internal/pipeline"
	"github.com/mattjoyce/pipec/internal/spirv"
)

// Mode selects when replacement happens.
type Mode int

const (
	ModeDisable Mode = iota
	// ModeShaderHash replaces any shader with an override file.
	ModeShaderHash
	// ModeShaderPipelineHash replaces shaders only in listed pipelines.
	ModeShaderPipelineHash
)

func (m Mode) String() string {
	switch m {
	case ModeDisable:
		return "disable"
	case ModeShaderHash:
		return "shader_hash"
	case ModeShaderPipelineHash:
		return "pipeline_hash"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses a mode name as written in configuration.
func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{ModeDisable, ModeShaderHash, ModeShaderPipelineHash} {
		if m.String() == s {
			return m, nil
		}
	}
	return ModeDisable, fmt.Errorf("unknown replace mode %q", s)
}

// FileName returns the override file name for a shader hash.
func FileName(shaderHash uint64) string {
	return fmt.Sprintf("Shader_0x%016X_replace.spv", shaderHash)
}

// Source looks up override binaries.
type Source interface {
	Lookup(shaderHash uint64) ([]byte, bool, error)
}

// DirSource reads overrides from a directory.
type DirSource struct {
	Dir string
}

func (d DirSource) Lookup(shaderHash uint64) ([]byte, bool, error) {
	data, err := os.ReadFile(filepath.Join(d.Dir, FileName(shaderHash)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Replacer applies overrides to the stages of one build.
type Replacer struct {
	mode      Mode
	src       Source
	pipelines map[uint64]bool
	logger    *slog.Logger
}

// New returns a replacer. pipelineHashes only matter in
// ModeShaderPipelineHash.
func New(mode Mode, src Source, pipelineHashes []uint64) *Replacer {
	r := &Replacer{
		mode:      mode,
		src:       src,
		pipelines: make(map[uint64]bool, len(pipelineHashes)),
		logger:    log.WithComponent("replace"),
	}
	for _, h := range pipelineHashes {
		r.pipelines[h] = true
	}
	return r
}

// Enabled reports whether the replacer may replace anything.
func (r *Replacer) Enabled() bool {
	return r != nil && r.mode != ModeDisable && r.src != nil
}

// Matches reports whether shaders of the pipeline are eligible.
func (r *Replacer) Matches(pipelineHash uint64) bool {
	if !r.Enabled() {
		return false
	}
	return r.mode == ModeShaderHash || r.pipelines[pipelineHash]
}

// Apply swaps the module of every active stage that has an override. The
// returned restore func puts the original modules back and must be called
// on every path; it is valid even when nothing was replaced.
func (r *Replacer) Apply(stages []*pipeline.PipelineShaderInfo, pipelineHash uint64) (func(), bool, error) {
	originals := make(map[*pipeline.PipelineShaderInfo]*pipeline.ShaderModule)
	restore := func() {
		for si, m := range originals {
			si.Module = m
		}
	}
	if !r.Matches(pipelineHash) {
		return restore, false, nil
	}

	for _, si := range stages {
		if !si.Active() {
			continue
		}
		orig := si.Module
		shaderHash := orig.Hash.Compact64()
		code, ok, err := r.src.Lookup(shaderHash)
		if err != nil {
			restore()
			return func() {}, false, fmt.Errorf("read replacement for shader %s: %w", checksum.FormatCompact(shaderHash), err)
		}
		if !ok {
			continue
		}

		binType, ok := binaryType(code)
		if !ok {
			r.logger.Warn("replacement is neither SPIR-V nor bitcode, ignored",
				"shader_hash", checksum.FormatCompact(shaderHash), "size", len(code))
			continue
		}

		originals[si] = orig
		si.Module = &pipeline.ShaderModule{
			BinType: binType,
			Code:    code,
			Hash:    checksum.FromBuffer(code),
		}
		r.logger.Info("shader replaced",
			"shader_hash", checksum.FormatCompact(shaderHash),
			"pipeline_hash", checksum.FormatCompact(pipelineHash),
			"size", len(code))
	}
	return restore, len(originals) > 0, nil
}

func binaryType(code []byte) (pipeline.BinaryType, bool) {
	switch {
	case spirv.IsSpirvBinary(code):
		return pipeline.BinarySpirv, true
	case spirv.IsLlvmBitcode(code):
		return pipeline.BinaryLlvmBc, true
	}
	return 0, false
}
