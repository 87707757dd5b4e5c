// Package spirv recognizes shader module binaries and inspects SPIR-V
// modules for the entry points and instructions the compiler validates.
package spirv

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogpu/naga"
	nspirv "github.com/gogpu/naga/spirv"
)

// ErrMalformed is returned for SPIR-V that cannot be walked.
var ErrMalformed = errors.New("malformed SPIR-V")

// headerWords is the number of words before the first instruction.
const headerWords = 5

// LLVM bitcode magics: the raw 'BC' 0xC0DE stream and the wrapper header.
var bitcodeMagic = [4]byte{'B', 'C', 0xC0, 0xDE}

const bitcodeWrapperMagic = 0x0B17C0DE

// ExecutionModel is the SPIR-V execution model of an entry point.
type ExecutionModel uint32

const (
	ModelVertex ExecutionModel = iota
	ModelTessellationControl
	ModelTessellationEvaluation
	ModelGeometry
	ModelFragment
	ModelGLCompute
)

// StageMask returns the mask of the pipeline stage that runs the model. Stage
// bits follow the order vertex, tess control, tess eval, geometry, fragment,
// compute.
func (m ExecutionModel) StageMask() uint32 {
	if m > ModelGLCompute {
		return 0
	}
	return 1 << uint32(m)
}

// EntryPoint is one OpEntryPoint of a module.
type EntryPoint struct {
	Model ExecutionModel
	Name  string
}

// IsSpirvBinary reports whether code starts with a SPIR-V header.
func IsSpirvBinary(code []byte) bool {
	return len(code) >= headerWords*4 && len(code)%4 == 0 &&
		binary.LittleEndian.Uint32(code) == nspirv.MagicNumber
}

// IsLlvmBitcode reports whether code is an LLVM bitcode stream.
func IsLlvmBitcode(code []byte) bool {
	if len(code) < 4 {
		return false
	}
	return [4]byte(code[:4]) == bitcodeMagic || binary.LittleEndian.Uint32(code) == bitcodeWrapperMagic
}

// Version returns the major and minor version from the module header.
func Version(code []byte) (major, minor uint32, err error) {
	if !IsSpirvBinary(code) {
		return 0, 0, ErrMalformed
	}
	v := binary.LittleEndian.Uint32(code[4:])
	return (v >> 16) & 0xFF, (v >> 8) & 0xFF, nil
}

type instruction struct {
	op       nspirv.OpCode
	operands []uint32
}

// walk calls fn for every instruction after the header.
func walk(code []byte, fn func(inst instruction) error) error {
	if !IsSpirvBinary(code) {
		return ErrMalformed
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}

	for pos := headerWords; pos < len(words); {
		count := int(words[pos] >> 16)
		op := nspirv.OpCode(words[pos] & 0xFFFF)
		if count == 0 || pos+count > len(words) {
			return fmt.Errorf("instruction %d at word %d has word count %d: %w", op, pos, count, ErrMalformed)
		}
		if err := fn(instruction{op: op, operands: words[pos+1 : pos+count]}); err != nil {
			return err
		}
		pos += count
	}
	return nil
}

// literalString decodes a nul-terminated string packed into words.
func literalString(words []uint32) (string, int) {
	var b []byte
	for i, w := range words {
		for shift := 0; shift < 32; shift += 8 {
			c := byte(w >> shift)
			if c == 0 {
				return string(b), i + 1
			}
			b = append(b, c)
		}
	}
	return string(b), len(words)
}

// EntryPoints lists the entry points declared by a module.
func EntryPoints(code []byte) ([]EntryPoint, error) {
	var eps []EntryPoint
	err := walk(code, func(inst instruction) error {
		if inst.op != nspirv.OpEntryPoint {
			return nil
		}
		if len(inst.operands) < 3 {
			return fmt.Errorf("short OpEntryPoint: %w", ErrMalformed)
		}
		name, _ := literalString(inst.operands[2:])
		eps = append(eps, EntryPoint{Model: ExecutionModel(inst.operands[0]), Name: name})
		return nil
	})
	return eps, err
}

// StageMaskFromEntry returns the mask of stages that have an entry point
// named entry. An unreadable module yields 0.
func StageMaskFromEntry(code []byte, entry string) uint32 {
	eps, err := EntryPoints(code)
	if err != nil {
		return 0
	}
	var mask uint32
	for _, ep := range eps {
		if ep.Name == entry {
			mask |= ep.Model.StageMask()
		}
	}
	return mask
}

// Capability values accepted in strict mode. These are the graphics
// capabilities of Vulkan 1.0 core.
var supportedCapabilities = map[uint32]bool{
	0:  true, // Matrix
	uint32(nspirv.CapabilityShader): true,
	2:  true, // Geometry
	3:  true, // Tessellation
	9:  true, // Float16Buffer
	10: true, // Float64
	11: true, // Int64
	12: true, // Int64Atomics
	17: true, // ImageBasic
	22: true, // Int16
	24: true, // TessellationPointSize
	25: true, // GeometryPointSize
	27: true, // ImageGatherExtended
	29: true, // StorageImageMultisample
	32: true, // ClipDistance
	33: true, // CullDistance
	35: true, // SampleRateShading
	37: true, // SampledRect
	39: true, // Int8
	40: true, // InputAttachment
	41: true, // SparseResidency
	42: true, // MinLod
	43: true, // Sampled1D
	44: true, // Image1D
	45: true, // SampledCubeArray
	46: true, // SampledBuffer
	47: true, // ImageBuffer
	48: true, // ImageMSArray
	49: true, // StorageImageExtendedFormats
	50: true, // ImageQuery
	51: true, // DerivativeControl
	52: true, // InterpolationFunction
	53: true, // TransformFeedback
	54: true, // GeometryStreams
	55: true, // StorageImageReadWithoutFormat
	56: true, // StorageImageWriteWithoutFormat
	57: true, // MultiViewport
}

// VerifyBinary walks the module and checks its layout: instructions fit the
// binary, a memory model and at least one entry point are declared. With
// strict set, capabilities outside the supported graphics set are rejected.
func VerifyBinary(code []byte, strict bool) error {
	var memoryModel, entryPoints int
	err := walk(code, func(inst instruction) error {
		switch inst.op {
		case nspirv.OpMemoryModel:
			memoryModel++
		case nspirv.OpEntryPoint:
			entryPoints++
		case nspirv.OpCapability:
			if len(inst.operands) != 1 {
				return fmt.Errorf("OpCapability with %d operands: %w", len(inst.operands), ErrMalformed)
			}
			if strict && !supportedCapabilities[inst.operands[0]] {
				return fmt.Errorf("unsupported capability %d: %w", inst.operands[0], ErrMalformed)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if memoryModel != 1 {
		return fmt.Errorf("%d OpMemoryModel instructions: %w", memoryModel, ErrMalformed)
	}
	if entryPoints == 0 {
		return fmt.Errorf("no OpEntryPoint: %w", ErrMalformed)
	}
	return nil
}

// CompileWGSL compiles WGSL source to a SPIR-V module.
func CompileWGSL(source string) ([]byte, error) {
	code, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("compile wgsl: %w", err)
	}
	return code, nil
}

// Opcodes and operand values read by ScanUsage.
const (
	opExecutionMode nspirv.OpCode = 16
	opVariable      nspirv.OpCode = 59
	opDecorate      nspirv.OpCode = 71

	storageClassOutput  = 3
	decorationLocation  = 30
	modeInvocations     = 0
	modeInputPoints     = 19
	modeInputLines      = 20
	modeInputLinesAdj   = 21
	modeTriangles       = 22
	modeInputTrianglesA = 23
	modeOutputVertices  = 26
)

// GsInput is the input primitive declared by a geometry shader.
type GsInput uint32

const (
	GsInputNone GsInput = iota
	GsInputPoints
	GsInputLines
	GsInputLinesAdjacency
	GsInputTriangles
	GsInputTrianglesAdjacency
)

// Usage is the resource usage ScanUsage finds in a module.
type Usage struct {
	// OutputLocations is one past the highest Location decorated on an
	// Output variable.
	OutputLocations uint32
	Invocations     uint32
	OutputVertices  uint32
	InputPrimitive  GsInput
}

// ScanUsage reads output locations and geometry execution modes from code.
// Execution modes of every entry point are merged.
func ScanUsage(code []byte) (Usage, error) {
	var u Usage
	outputs := make(map[uint32]bool)
	locations := make(map[uint32]uint32)

	err := walk(code, func(inst instruction) error {
		ops := inst.operands
		switch inst.op {
		case opVariable:
			if len(ops) >= 3 && ops[2] == storageClassOutput {
				outputs[ops[1]] = true
			}
		case opDecorate:
			if len(ops) >= 3 && ops[1] == decorationLocation {
				locations[ops[0]] = ops[2]
			}
		case opExecutionMode:
			if len(ops) < 2 {
				return fmt.Errorf("OpExecutionMode with %d operands: %w", len(ops), ErrMalformed)
			}
			switch ops[1] {
			case modeInvocations:
				if len(ops) >= 3 {
					u.Invocations = ops[2]
				}
			case modeOutputVertices:
				if len(ops) >= 3 {
					u.OutputVertices = ops[2]
				}
			case modeInputPoints:
				u.InputPrimitive = GsInputPoints
			case modeInputLines:
				u.InputPrimitive = GsInputLines
			case modeInputLinesAdj:
				u.InputPrimitive = GsInputLinesAdjacency
			case modeTriangles:
				u.InputPrimitive = GsInputTriangles
			case modeInputTrianglesA:
				u.InputPrimitive = GsInputTrianglesAdjacency
			}
		}
		return nil
	})
	if err != nil {
		return Usage{}, err
	}

	for id, loc := range locations {
		if outputs[id] && loc+1 > u.OutputLocations {
			u.OutputLocations = loc + 1
		}
	}
	return u, nil
}
