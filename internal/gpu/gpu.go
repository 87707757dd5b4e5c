// Package gpu describes the hardware generations the compiler targets.
package gpu

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnsupported is returned for graphics IP versions the compiler cannot
// target.
var ErrUnsupported = errors.New("unsupported graphics IP")

// GfxIPVersion identifies a graphics IP block.
type GfxIPVersion struct {
	Major    uint32
	Minor    uint32
	Stepping uint32
}

func (v GfxIPVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Stepping)
}

// ParseGfxIP parses "major", "major.minor" or "major.minor.stepping".
func ParseGfxIP(s string) (GfxIPVersion, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) == 0 || len(parts) > 3 {
		return GfxIPVersion{}, fmt.Errorf("invalid graphics IP %q", s)
	}
	var nums [3]uint32
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return GfxIPVersion{}, fmt.Errorf("invalid graphics IP %q: %w", s, err)
		}
		nums[i] = uint32(n)
	}
	return GfxIPVersion{Major: nums[0], Minor: nums[1], Stepping: nums[2]}, nil
}

// Validate rejects generations outside GFX6 to GFX9.
func (v GfxIPVersion) Validate() error {
	if v.Major < 6 || v.Major > 9 {
		return fmt.Errorf("gfx%d: %w", v.Major, ErrUnsupported)
	}
	return nil
}

// SupportsStageMerge reports whether the hardware runs LS-HS and ES-GS as
// merged shaders.
func (v GfxIPVersion) SupportsStageMerge() bool {
	return v.Major >= 9
}

// Property holds the hardware limits the compiler sizes its output against.
type Property struct {
	WaveSize              uint32
	LdsSizePerCu          uint32
	LdsSizePerThreadGroup uint32
	NumShaderEngines      uint32
	GsPrimBufferDepth     uint32
	MaxUserDataCount      uint32

	// GS on-chip defaults, only set up to GFX8.
	GsOnChipDefaultPrimsPerSubgroup   uint32
	GsOnChipDefaultLdsSizePerSubgroup uint32
	LdsSizeDwordGranularity           uint32
}

// NewProperty returns the hardware properties of v.
func NewProperty(v GfxIPVersion) (Property, error) {
	if err := v.Validate(); err != nil {
		return Property{}, err
	}

	p := Property{
		WaveSize:              64,
		LdsSizePerCu:          32768,
		LdsSizePerThreadGroup: 32 * 1024,
		NumShaderEngines:      4,
		GsPrimBufferDepth:     0x100,
		MaxUserDataCount:      16,
	}
	if v.Major > 6 {
		p.LdsSizePerCu = 65536
	}
	if v.Major >= 9 {
		p.MaxUserDataCount = 32
	}
	if v.Major <= 8 {
		p.GsOnChipDefaultPrimsPerSubgroup = 64
		p.GsOnChipDefaultLdsSizePerSubgroup = 8192
		p.LdsSizeDwordGranularity = 128
	}

	switch v.Major {
	case 6:
		p.NumShaderEngines = 1
		if v.Stepping == 0 {
			p.NumShaderEngines = 2
		}
	case 7:
		switch v.Stepping {
		case 0:
			p.NumShaderEngines = 2
		case 1:
			p.NumShaderEngines = 4
		default:
			p.NumShaderEngines = 1
		}
	case 8:
		if v.Minor == 1 || v.Stepping <= 1 {
			p.NumShaderEngines = 1
		}
	}
	return p, nil
}

// SupportsGsOnChip reports whether GS on-chip sizing is known for p.
func (p Property) SupportsGsOnChip() bool {
	return p.GsOnChipDefaultLdsSizePerSubgroup > 0
}
