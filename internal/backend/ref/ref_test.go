package ref

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pipec/internal/backend"
	"github.com/mattjoyce/pipec/internal/checksum"
	"github.com/mattjoyce/pipec/internal/gpu"
	"github.com/mattjoyce/pipec/internal/onchip"
	"github.com/mattjoyce/pipec/internal/pipeline"
	"github.com/mattjoyce/pipec/internal/spirv"
	"github.com/mattjoyce/pipec/internal/spirv/spirvtest"
)

func newState(t *testing.T) backend.State {
	t.Helper()
	st, err := New().NewState(gpu.GfxIPVersion{Major: 9})
	require.NoError(t, err)
	return st
}

func translate(t *testing.T, st backend.State, stage pipeline.ShaderStage, model spirv.ExecutionModel, tag uint32) *backend.Unit {
	t.Helper()
	code := spirvtest.Shader(model, tag)
	u, err := New().Translate(st, &backend.TranslateRequest{
		Stage:       stage,
		Module:      &pipeline.ShaderModule{BinType: pipeline.BinarySpirv, Code: code, Hash: checksum.FromBuffer(code)},
		EntryTarget: "main",
	})
	require.NoError(t, err)
	return u
}

func TestNewStateRejectsUnknownGfxIP(t *testing.T) {
	_, err := New().NewState(gpu.GfxIPVersion{Major: 5})
	assert.ErrorIs(t, err, gpu.ErrUnsupported)
}

func TestTranslateChecksEntryPoint(t *testing.T) {
	st := newState(t)
	code := spirvtest.Shader(spirv.ModelFragment, 1)
	_, err := New().Translate(st, &backend.TranslateRequest{
		Stage:       pipeline.StageVertex,
		Module:      &pipeline.ShaderModule{BinType: pipeline.BinarySpirv, Code: code},
		EntryTarget: "main",
	})
	assert.ErrorIs(t, err, pipeline.ErrInvalidShader)

	_, err = New().Translate(st, &backend.TranslateRequest{
		Stage:  pipeline.StageVertex,
		Module: &pipeline.ShaderModule{BinType: pipeline.BinarySpirv},
	})
	assert.ErrorIs(t, err, pipeline.ErrInvalidShader)
}

func TestTranslateDefaultUsage(t *testing.T) {
	u := translate(t, newState(t), pipeline.StageGeometry, spirv.ModelGeometry, 1)
	assert.Equal(t, backend.ResourceUsage{
		OutputLocCount:   1,
		GsInvocations:    1,
		GsOutputVertices: 3,
		GsInputPrimitive: onchip.InputTriangles,
	}, u.Usage)
	assert.Equal(t, pipeline.StageGeometry.Mask(), u.MergedStages)
}

func TestTranslateBitcode(t *testing.T) {
	u, err := New().Translate(newState(t), &backend.TranslateRequest{
		Stage:  pipeline.StageVertex,
		Module: &pipeline.ShaderModule{BinType: pipeline.BinaryLlvmBc, Code: []byte{'B', 'C', 0xC0, 0xDE}},
	})
	require.NoError(t, err)
	assert.NoError(t, New().Verify(newState(t), u))
}

func TestForeignStateRejected(t *testing.T) {
	st := newState(t)
	u := translate(t, st, pipeline.StageVertex, spirv.ModelVertex, 1)
	require.NoError(t, st.Close())
	assert.ErrorIs(t, New().Lower(st, u), ErrWrongState)
	assert.ErrorIs(t, New().Lower(nil, u), ErrWrongState)
}

func TestRunRequiresPreRun(t *testing.T) {
	st := newState(t)
	u := translate(t, st, pipeline.StageVertex, spirv.ModelVertex, 1)
	info := &backend.PatchInfo{}
	assert.ErrorIs(t, New().Run(st, u, info), pipeline.ErrInvalidValue)
	require.NoError(t, New().PreRun(st, u, info))
	assert.NoError(t, New().Run(st, u, info))
}

func TestFullBuildContainer(t *testing.T) {
	be := New()
	st := newState(t)
	vs := translate(t, st, pipeline.StageVertex, spirv.ModelVertex, 1)
	gs := translate(t, st, pipeline.StageGeometry, spirv.ModelGeometry, 2)
	fs, err := be.BuildNullFs(st)
	require.NoError(t, err)

	info := &backend.PatchInfo{GsOnChip: onchip.Result{OnChip: true}}
	for _, u := range []*backend.Unit{fs, gs, vs} {
		require.NoError(t, be.PreRun(st, u, info))
		require.NoError(t, be.Run(st, u, info))
	}

	esgs, err := be.MergeEsGs(st, vs, gs)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageVertex.Mask()|pipeline.StageGeometry.Mask(), esgs.MergedStages)

	copyShader, err := be.BuildCopyShader(st, esgs)
	require.NoError(t, err)

	var sections []backend.Section
	for _, u := range []*backend.Unit{esgs, fs, copyShader} {
		s, err := be.Generate(st, u)
		require.NoError(t, err)
		sections = append(sections, s)
	}

	bin, err := be.Finalize(st, sections)
	require.NoError(t, err)

	c, err := Unmarshal(bin)
	require.NoError(t, err)
	assert.Equal(t, gpu.GfxIPVersion{Major: 9}, c.GfxIP)
	require.Len(t, c.Sections, 3)

	// Sections come back in stage order.
	gsInfo, err := DecodeSection(c.Sections[0])
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageGeometry, gsInfo.Stage)
	assert.Equal(t, 2, gsInfo.Modules)
	assert.NotZero(t, gsInfo.Flags&FlagGsOnChip)

	fsInfo, err := DecodeSection(c.Sections[1])
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageFragment, fsInfo.Stage)
	assert.NotZero(t, fsInfo.Flags&FlagNullFs)

	copyInfo, err := DecodeSection(c.Sections[2])
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageCopyShader, copyInfo.Stage)
	assert.NotZero(t, copyInfo.Flags&FlagCopyShader)
}

func TestGenerateDeterministic(t *testing.T) {
	gen := func() []byte {
		st := newState(t)
		u := translate(t, st, pipeline.StageFragment, spirv.ModelFragment, 7)
		s, err := New().Generate(st, u)
		require.NoError(t, err)
		return s.Data
	}
	assert.Equal(t, gen(), gen())
}

func TestUnmarshalRejectsBadInput(t *testing.T) {
	good := Marshal(Container{
		GfxIP:    gpu.GfxIPVersion{Major: 8},
		Sections: []backend.Section{{Stage: pipeline.StageVertex, Data: []byte{1, 2, 3}}},
	})
	_, err := Unmarshal(good)
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", append([]byte("XELF"), good[4:]...)},
		{"truncated", good[:len(good)-1]},
		{"trailing", append(append([]byte(nil), good...), 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.data)
			assert.ErrorIs(t, err, ErrBadContainer)
		})
	}
}

func TestFinalizeRequiresSections(t *testing.T) {
	_, err := New().Finalize(newState(t), nil)
	assert.ErrorIs(t, err, pipeline.ErrInvalidValue)
}

func TestResetCountsBuilds(t *testing.T) {
	st := newState(t)
	st.Reset()
	st.Reset()
	assert.Equal(t, 2, st.(*State).Builds())
}
