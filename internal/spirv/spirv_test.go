package spirv

import (
	"encoding/binary"
	"testing"

	nspirv "github.com/gogpu/naga/spirv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// module assembles a minimal SPIR-V binary.
type module struct {
	words []uint32
}

func newModule() *module {
	return &module{words: []uint32{nspirv.MagicNumber, 0x00010300, 0, 16, 0}}
}

func (m *module) op(op nspirv.OpCode, operands ...uint32) *module {
	m.words = append(m.words, uint32(len(operands)+1)<<16|uint32(op))
	m.words = append(m.words, operands...)
	return m
}

func (m *module) entry(model ExecutionModel, id uint32, name string) *module {
	return m.op(nspirv.OpEntryPoint, append([]uint32{uint32(model), id}, packString(name)...)...)
}

func (m *module) bytes() []byte {
	b := make([]byte, len(m.words)*4)
	for i, w := range m.words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return b
}

func packString(s string) []uint32 {
	b := append([]byte(s), 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return out
}

func validModule() *module {
	return newModule().
		op(nspirv.OpCapability, uint32(nspirv.CapabilityShader)).
		op(nspirv.OpMemoryModel, 0, 1).
		entry(ModelVertex, 1, "main").
		entry(ModelFragment, 2, "main").
		entry(ModelGLCompute, 3, "cs_main")
}

func TestIsSpirvBinary(t *testing.T) {
	assert.True(t, IsSpirvBinary(validModule().bytes()))
	assert.False(t, IsSpirvBinary([]byte{0x03, 0x02, 0x23, 0x07}), "header too short")
	assert.False(t, IsSpirvBinary([]byte("BC\xC0\xDE0000000000000000")))
	assert.False(t, IsSpirvBinary(nil))
}

func TestIsLlvmBitcode(t *testing.T) {
	assert.True(t, IsLlvmBitcode([]byte{'B', 'C', 0xC0, 0xDE, 0x35, 0x14}))
	assert.True(t, IsLlvmBitcode([]byte{0xDE, 0xC0, 0x17, 0x0B, 0, 0, 0, 0}))
	assert.False(t, IsLlvmBitcode(validModule().bytes()))
	assert.False(t, IsLlvmBitcode([]byte{'B', 'C'}))
}

func TestEntryPoints(t *testing.T) {
	eps, err := EntryPoints(validModule().bytes())
	require.NoError(t, err)
	assert.Equal(t, []EntryPoint{
		{Model: ModelVertex, Name: "main"},
		{Model: ModelFragment, Name: "main"},
		{Model: ModelGLCompute, Name: "cs_main"},
	}, eps)

	code := validModule().bytes()
	assert.Equal(t, ModelVertex.StageMask()|ModelFragment.StageMask(), StageMaskFromEntry(code, "main"))
	assert.Equal(t, uint32(1<<5), StageMaskFromEntry(code, "cs_main"))
	assert.Zero(t, StageMaskFromEntry(code, "missing"))
}

func TestEntryPointNameMultipleOfFour(t *testing.T) {
	code := newModule().op(nspirv.OpMemoryModel, 0, 1).entry(ModelGeometry, 1, "gsmn").bytes()
	eps, err := EntryPoints(code)
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, "gsmn", eps[0].Name)
}

func TestVersion(t *testing.T) {
	major, minor, err := Version(validModule().bytes())
	require.NoError(t, err)
	assert.Equal(t, uint32(1), major)
	assert.Equal(t, uint32(3), minor)
}

func TestVerifyBinary(t *testing.T) {
	require.NoError(t, VerifyBinary(validModule().bytes(), true))

	noEntry := newModule().op(nspirv.OpMemoryModel, 0, 1).bytes()
	assert.ErrorIs(t, VerifyBinary(noEntry, false), ErrMalformed)

	noModel := newModule().entry(ModelVertex, 1, "main").bytes()
	assert.ErrorIs(t, VerifyBinary(noModel, false), ErrMalformed)

	truncated := validModule().bytes()
	truncated = truncated[:len(truncated)-4]
	assert.ErrorIs(t, VerifyBinary(truncated, false), ErrMalformed)

	kernel := validModule().op(nspirv.OpCapability, 6).bytes()
	assert.NoError(t, VerifyBinary(kernel, false))
	assert.ErrorIs(t, VerifyBinary(kernel, true), ErrMalformed)
}

func TestCompileWGSL(t *testing.T) {
	const src = `
@vertex
fn vs_main(@builtin(vertex_index) idx: u32) -> @builtin(position) vec4<f32> {
    return vec4<f32>(0.0, 0.0, 0.0, 1.0);
}
`
	code, err := CompileWGSL(src)
	require.NoError(t, err)
	require.True(t, IsSpirvBinary(code))
	assert.Equal(t, ModelVertex.StageMask(), StageMaskFromEntry(code, "vs_main"))

	_, err = CompileWGSL("fn broken(")
	assert.Error(t, err)
}

func TestScanUsage(t *testing.T) {
	code := validModule().
		entry(ModelGeometry, 4, "gs_main").
		op(opExecutionMode, 4, modeInputLinesAdj).
		op(opExecutionMode, 4, modeInvocations, 2).
		op(opExecutionMode, 4, modeOutputVertices, 6).
		op(opDecorate, 10, decorationLocation, 0).
		op(opDecorate, 11, decorationLocation, 3).
		op(opDecorate, 12, decorationLocation, 7).
		op(opVariable, 20, 10, storageClassOutput).
		op(opVariable, 20, 11, storageClassOutput).
		op(opVariable, 20, 12, 1). // Input
		bytes()

	u, err := ScanUsage(code)
	require.NoError(t, err)
	assert.Equal(t, Usage{
		OutputLocations: 4,
		Invocations:     2,
		OutputVertices:  6,
		InputPrimitive:  GsInputLinesAdjacency,
	}, u)

	u, err = ScanUsage(validModule().bytes())
	require.NoError(t, err)
	assert.Equal(t, Usage{}, u)

	bad := validModule().op(opExecutionMode, 4).bytes()
	_, err = ScanUsage(bad)
	assert.ErrorIs(t, err, ErrMalformed)
}
