// Package spirvtest assembles small SPIR-V modules for tests.
package spirvtest

import (
	"encoding/binary"

	nspirv "github.com/gogpu/naga/spirv"

	"github.com/mattjoyce/pipec/internal/spirv"
)

// Module is a SPIR-V module under construction.
type Module struct {
	words []uint32
	next  uint32
}

// New returns a module with a SPIR-V 1.3 header, the Shader capability and
// a logical GLSL450 memory model.
func New() *Module {
	m := &Module{words: []uint32{nspirv.MagicNumber, 0x00010300, 0, 64, 0}, next: 1}
	m.Op(nspirv.OpCapability, uint32(nspirv.CapabilityShader))
	m.Op(nspirv.OpMemoryModel, 0, 1)
	return m
}

// Op appends an instruction.
func (m *Module) Op(op nspirv.OpCode, operands ...uint32) *Module {
	m.words = append(m.words, uint32(len(operands)+1)<<16|uint32(op))
	m.words = append(m.words, operands...)
	return m
}

// Entry appends an entry point with a fresh function id.
func (m *Module) Entry(model spirv.ExecutionModel, name string) *Module {
	id := m.next
	m.next++
	return m.Op(nspirv.OpEntryPoint, append([]uint32{uint32(model), id}, packString(name)...)...)
}

// Bytes returns the encoded module. Each call returns a new slice.
func (m *Module) Bytes() []byte {
	b := make([]byte, len(m.words)*4)
	for i, w := range m.words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return b
}

// Shader returns a module with a single entry point named "main". Distinct
// tags give distinct module bytes.
func Shader(model spirv.ExecutionModel, tag uint32) []byte {
	return New().Entry(model, "main").Op(opNop, tag).Bytes()
}

// opNop carries the tag of Shader.
const opNop nspirv.OpCode = 0

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
