package ref

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mattjoyce/pipec/internal/backend"
	"github.com/mattjoyce/pipec/internal/gpu"
	"github.com/mattjoyce/pipec/internal/pipeline"
)

// Container layout, little endian:
//
//	magic "PELF" | version u32 | gfx major, minor, stepping u32 | count u32
//	count x (stage u32 | size u32 | data)
const (
	containerMagic   = "PELF"
	containerVersion = 1
	headerSize       = 4 + 5*4
)

// Section flags written by Generate.
const (
	FlagGsOnChip uint32 = 1 << iota
	FlagCopyShader
	FlagNullFs
)

// ErrBadContainer is returned by Unmarshal.
var ErrBadContainer = errors.New("bad pipeline container")

// Container is a finalized pipeline binary.
type Container struct {
	GfxIP    gpu.GfxIPVersion
	Sections []backend.Section
}

// Marshal encodes c.
func Marshal(c Container) []byte {
	out := append([]byte(nil), containerMagic...)
	out = binary.LittleEndian.AppendUint32(out, containerVersion)
	out = binary.LittleEndian.AppendUint32(out, c.GfxIP.Major)
	out = binary.LittleEndian.AppendUint32(out, c.GfxIP.Minor)
	out = binary.LittleEndian.AppendUint32(out, c.GfxIP.Stepping)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(c.Sections)))
	for _, s := range c.Sections {
		out = binary.LittleEndian.AppendUint32(out, uint32(s.Stage))
		out = binary.LittleEndian.AppendUint32(out, uint32(len(s.Data)))
		out = append(out, s.Data...)
	}
	return out
}

// Unmarshal decodes a container. Section data aliases b.
func Unmarshal(b []byte) (Container, error) {
	if len(b) < headerSize || string(b[:4]) != containerMagic {
		return Container{}, fmt.Errorf("missing header: %w", ErrBadContainer)
	}
	if v := binary.LittleEndian.Uint32(b[4:]); v != containerVersion {
		return Container{}, fmt.Errorf("version %d: %w", v, ErrBadContainer)
	}
	c := Container{GfxIP: gpu.GfxIPVersion{
		Major:    binary.LittleEndian.Uint32(b[8:]),
		Minor:    binary.LittleEndian.Uint32(b[12:]),
		Stepping: binary.LittleEndian.Uint32(b[16:]),
	}}
	count := binary.LittleEndian.Uint32(b[20:])

	rest := b[headerSize:]
	for i := uint32(0); i < count; i++ {
		if len(rest) < 8 {
			return Container{}, fmt.Errorf("section %d: truncated header: %w", i, ErrBadContainer)
		}
		stage := pipeline.ShaderStage(binary.LittleEndian.Uint32(rest))
		size := binary.LittleEndian.Uint32(rest[4:])
		rest = rest[8:]
		if uint64(size) > uint64(len(rest)) {
			return Container{}, fmt.Errorf("section %d: size %d exceeds data: %w", i, size, ErrBadContainer)
		}
		c.Sections = append(c.Sections, backend.Section{Stage: stage, Data: rest[:size:size]})
		rest = rest[size:]
	}
	if len(rest) != 0 {
		return Container{}, fmt.Errorf("%d trailing bytes: %w", len(rest), ErrBadContainer)
	}
	return c, nil
}

// SectionInfo is the decoded header of a section written by Generate.
type SectionInfo struct {
	Stage        pipeline.ShaderStage
	MergedStages uint32
	Flags        uint32
	Modules      int
}

// DecodeSection reads the header Generate writes at the start of a section.
func DecodeSection(s backend.Section) (SectionInfo, error) {
	if len(s.Data) < 16 {
		return SectionInfo{}, fmt.Errorf("section of %d bytes: %w", len(s.Data), ErrBadContainer)
	}
	info := SectionInfo{
		Stage:        pipeline.ShaderStage(binary.LittleEndian.Uint32(s.Data)),
		MergedStages: binary.LittleEndian.Uint32(s.Data[4:]),
		Flags:        binary.LittleEndian.Uint32(s.Data[8:]),
		Modules:      int(binary.LittleEndian.Uint32(s.Data[12:])),
	}
	if len(s.Data) != 16+info.Modules*16 {
		return SectionInfo{}, fmt.Errorf("section of %d bytes for %d modules: %w", len(s.Data), info.Modules, ErrBadContainer)
	}
	return info, nil
}
