// Package ref is a deterministic reference backend. It does not generate ISA:
// every stage becomes a tagged section recording what the pipeline passes
// decided about it, and Finalize packs the sections into a PELF container.
// The CLI and the HTTP service build with it; tests use it to check that the
// compiler drives a backend in the right order.
package ref

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/mattjoyce/pipec/internal/backend"
	"github.com/mattjoyce/pipec/internal/checksum"
	"github.com/mattjoyce/pipec/internal/gpu"
	"github.com/mattjoyce/pipec/internal/onchip"
	"github.com/mattjoyce/pipec/internal/pipeline"
	"github.com/mattjoyce/pipec/internal/spirv"
)

// ErrWrongState is returned when a call receives state from another backend.
var ErrWrongState = errors.New("state not created by reference backend")

// Default usage of a stage whose module declares nothing.
const (
	defaultOutputLocations = 1
	defaultOutputVertices  = 3
	defaultGsInvocations   = 1
)

// State counts what a session did since its last Reset.
type State struct {
	gfxIP      gpu.GfxIPVersion
	translated int
	builds     int
	closed     bool
}

func (s *State) GfxIP() gpu.GfxIPVersion { return s.gfxIP }

// Reset clears per-build counters.
func (s *State) Reset() {
	s.translated = 0
	s.builds++
}

func (s *State) Close() error {
	s.closed = true
	return nil
}

// Builds returns how many builds returned this state to its pool.
func (s *State) Builds() int { return s.builds }

// payload is the backend-owned part of a Unit.
type payload struct {
	entry    string
	binType  pipeline.BinaryType
	code     []byte
	lowered  bool
	prepared bool
	patched  bool
	gsOnChip bool
	parts    []*payload
}

// Backend implements backend.Backend.
type Backend struct{}

var _ backend.Backend = Backend{}

// New returns the reference backend.
func New() Backend { return Backend{} }

func (Backend) NewState(gfxIP gpu.GfxIPVersion) (backend.State, error) {
	if err := gfxIP.Validate(); err != nil {
		return nil, err
	}
	return &State{gfxIP: gfxIP}, nil
}

func refState(st backend.State) (*State, error) {
	s, ok := st.(*State)
	if !ok || s == nil {
		return nil, ErrWrongState
	}
	if s.closed {
		return nil, fmt.Errorf("state closed: %w", ErrWrongState)
	}
	return s, nil
}

func unitPayload(u *backend.Unit) (*payload, error) {
	if u == nil {
		return nil, fmt.Errorf("nil unit: %w", pipeline.ErrInvalidValue)
	}
	p, ok := u.Payload.(*payload)
	if !ok {
		return nil, fmt.Errorf("%s unit has foreign payload: %w", u.Stage.Abbrev(), pipeline.ErrInvalidValue)
	}
	return p, nil
}

// Translate records the module and reads its usage. Bitcode modules are
// taken as-is with default usage.
func (Backend) Translate(st backend.State, req *backend.TranslateRequest) (*backend.Unit, error) {
	s, err := refState(st)
	if err != nil {
		return nil, err
	}
	if req.Module == nil || len(req.Module.Code) == 0 {
		return nil, fmt.Errorf("%s: empty module: %w", req.Stage.Abbrev(), pipeline.ErrInvalidShader)
	}

	var usage spirv.Usage
	if req.Module.BinType == pipeline.BinarySpirv {
		if spirv.StageMaskFromEntry(req.Module.Code, req.EntryTarget)&req.Stage.Mask() == 0 {
			return nil, fmt.Errorf("%s: no entry point %q: %w", req.Stage.Abbrev(), req.EntryTarget, pipeline.ErrInvalidShader)
		}
		usage, err = spirv.ScanUsage(req.Module.Code)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", req.Stage.Abbrev(), pipeline.ErrInvalidShader, err)
		}
	}
	s.translated++

	return &backend.Unit{
		Stage:         req.Stage,
		MergedStages:  req.Stage.Mask(),
		Usage:         resourceUsage(usage),
		UserDataNodes: req.UserDataNodes,
		Payload: &payload{
			entry:   req.EntryTarget,
			binType: req.Module.BinType,
			code:    req.Module.Code,
		},
	}, nil
}

func resourceUsage(u spirv.Usage) backend.ResourceUsage {
	r := backend.ResourceUsage{
		OutputLocCount:   max(u.OutputLocations, defaultOutputLocations),
		GsInvocations:    max(u.Invocations, defaultGsInvocations),
		GsOutputVertices: u.OutputVertices,
		GsInputPrimitive: onchip.InputTriangles,
	}
	if r.GsOutputVertices == 0 {
		r.GsOutputVertices = defaultOutputVertices
	}
	switch u.InputPrimitive {
	case spirv.GsInputPoints:
		r.GsInputPrimitive = onchip.InputPoints
	case spirv.GsInputLines:
		r.GsInputPrimitive = onchip.InputLines
	case spirv.GsInputLinesAdjacency:
		r.GsInputPrimitive = onchip.InputLinesAdjacency
	case spirv.GsInputTrianglesAdjacency:
		r.GsInputPrimitive = onchip.InputTrianglesAdjacency
	}
	return r
}

// Verify checks the layout of translated SPIR-V.
func (Backend) Verify(st backend.State, u *backend.Unit) error {
	if _, err := refState(st); err != nil {
		return err
	}
	p, err := unitPayload(u)
	if err != nil {
		return err
	}
	if p.binType != pipeline.BinarySpirv {
		return nil
	}
	if err := spirv.VerifyBinary(p.code, false); err != nil {
		return fmt.Errorf("%s: %w: %w", u.Stage.Abbrev(), pipeline.ErrInvalidShader, err)
	}
	return nil
}

func (Backend) Lower(st backend.State, u *backend.Unit) error {
	if _, err := refState(st); err != nil {
		return err
	}
	p, err := unitPayload(u)
	if err != nil {
		return err
	}
	p.lowered = true
	return nil
}

func (Backend) PreRun(st backend.State, u *backend.Unit, _ *backend.PatchInfo) error {
	if _, err := refState(st); err != nil {
		return err
	}
	p, err := unitPayload(u)
	if err != nil {
		return err
	}
	p.prepared = true
	return nil
}

func (Backend) Run(st backend.State, u *backend.Unit, info *backend.PatchInfo) error {
	if _, err := refState(st); err != nil {
		return err
	}
	p, err := unitPayload(u)
	if err != nil {
		return err
	}
	if !p.prepared {
		return fmt.Errorf("%s: patch before preliminary patch: %w", u.Stage.Abbrev(), pipeline.ErrInvalidValue)
	}
	p.patched = true
	p.gsOnChip = info.GsOnChip.OnChip
	return nil
}

// MergeLsHs fuses VS and TCS. ls may be nil when the pipeline has no VS.
func (b Backend) MergeLsHs(st backend.State, ls, hs *backend.Unit) (*backend.Unit, error) {
	return b.merge(st, pipeline.StageTessControl, ls, hs)
}

// MergeEsGs fuses the stage feeding the GS with the GS.
func (b Backend) MergeEsGs(st backend.State, es, gs *backend.Unit) (*backend.Unit, error) {
	return b.merge(st, pipeline.StageGeometry, es, gs)
}

func (Backend) merge(st backend.State, stage pipeline.ShaderStage, first, second *backend.Unit) (*backend.Unit, error) {
	if _, err := refState(st); err != nil {
		return nil, err
	}
	if second == nil {
		return nil, fmt.Errorf("merge into %s without %s: %w", stage.Abbrev(), stage.Abbrev(), pipeline.ErrInvalidValue)
	}
	out := &backend.Unit{
		Stage:         stage,
		Usage:         second.Usage,
		UserDataNodes: second.UserDataNodes,
	}
	merged := &payload{patched: true, prepared: true}
	for _, u := range []*backend.Unit{first, second} {
		if u == nil {
			continue
		}
		p, err := unitPayload(u)
		if err != nil {
			return nil, err
		}
		out.MergedStages |= u.MergedStages
		merged.gsOnChip = merged.gsOnChip || p.gsOnChip
		merged.parts = append(merged.parts, p)
	}
	out.Payload = merged
	return out, nil
}

// Generate emits the tagged section of u: stage, merged stage mask, flags,
// then the hash of every module folded into the unit.
func (Backend) Generate(st backend.State, u *backend.Unit) (backend.Section, error) {
	if _, err := refState(st); err != nil {
		return backend.Section{}, err
	}
	p, err := unitPayload(u)
	if err != nil {
		return backend.Section{}, err
	}

	var flags uint32
	if p.gsOnChip {
		flags |= FlagGsOnChip
	}
	if u.Stage == pipeline.StageCopyShader {
		flags |= FlagCopyShader
	}
	leaves := p.leaves()
	if len(leaves) == 1 && leaves[0].code == nil && u.Stage == pipeline.StageFragment {
		flags |= FlagNullFs
	}

	data := binary.LittleEndian.AppendUint32(nil, uint32(u.Stage))
	data = binary.LittleEndian.AppendUint32(data, u.MergedStages)
	data = binary.LittleEndian.AppendUint32(data, flags)
	data = binary.LittleEndian.AppendUint32(data, uint32(len(leaves)))
	for _, l := range leaves {
		h := checksum.FromBuffer(l.code)
		data = append(data, h[:]...)
	}
	return backend.Section{Stage: u.Stage, Data: data}, nil
}

func (p *payload) leaves() []*payload {
	if len(p.parts) == 0 {
		return []*payload{p}
	}
	var out []*payload
	for _, part := range p.parts {
		out = append(out, part.leaves()...)
	}
	return out
}

func (Backend) BuildCopyShader(st backend.State, gs *backend.Unit) (*backend.Unit, error) {
	if _, err := refState(st); err != nil {
		return nil, err
	}
	if gs == nil {
		return nil, fmt.Errorf("copy shader without geometry shader: %w", pipeline.ErrInvalidValue)
	}
	p, err := unitPayload(gs)
	if err != nil {
		return nil, err
	}
	return &backend.Unit{
		Stage:        pipeline.StageCopyShader,
		MergedStages: pipeline.StageCopyShader.Mask(),
		Usage:        gs.Usage,
		Payload:      &payload{prepared: true, patched: true, gsOnChip: p.gsOnChip},
	}, nil
}

func (Backend) BuildNullFs(st backend.State) (*backend.Unit, error) {
	if _, err := refState(st); err != nil {
		return nil, err
	}
	return &backend.Unit{
		Stage:        pipeline.StageFragment,
		MergedStages: pipeline.StageFragment.Mask(),
		Payload:      &payload{entry: "main", binType: pipeline.BinarySpirv, lowered: true},
	}, nil
}

// Finalize packs sections, ordered by stage, into a container.
func (Backend) Finalize(st backend.State, sections []backend.Section) ([]byte, error) {
	s, err := refState(st)
	if err != nil {
		return nil, err
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("no sections: %w", pipeline.ErrInvalidValue)
	}
	sorted := append([]backend.Section(nil), sections...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Stage < sorted[j].Stage })
	return Marshal(Container{GfxIP: s.gfxIP, Sections: sorted}), nil
}
