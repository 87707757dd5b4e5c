// Package onchip decides whether a geometry shader pipeline can keep its
// ES-GS and GS-VS rings in LDS, and how to partition a subgroup if so.
package onchip

// InputPrimitive is the primitive type a geometry shader consumes.
type InputPrimitive uint32

const (
	InputPoints InputPrimitive = iota
	InputLines
	InputLinesAdjacency
	InputTriangles
	InputTrianglesAdjacency
)

func (p InputPrimitive) String() string {
	switch p {
	case InputPoints:
		return "points"
	case InputLines:
		return "lines"
	case InputLinesAdjacency:
		return "lines_adjacency"
	case InputTriangles:
		return "triangles"
	case InputTrianglesAdjacency:
		return "triangles_adjacency"
	}
	return "unknown"
}

// vertices returns the vertices per primitive and whether half of them are
// adjacency vertices.
func (p InputPrimitive) vertices() (uint32, bool, bool) {
	switch p {
	case InputPoints:
		return 1, false, true
	case InputLines:
		return 2, false, true
	case InputLinesAdjacency:
		return 4, true, true
	case InputTriangles:
		return 3, false, true
	case InputTrianglesAdjacency:
		return 6, true, true
	}
	return 0, false, false
}

const (
	// DefaultMaxPrimsPerSubgroup caps prims times instances per subgroup for
	// adjacency input or instanced geometry shaders.
	DefaultMaxPrimsPerSubgroup = 256

	// DefaultOffChipThreshold is the minimum number of GS primitives per
	// subgroup, counting instances, for on-chip mode to pay off.
	DefaultOffChipThreshold = 64
)

// Params are the inputs of Estimate. Sizes are in dwords.
type Params struct {
	// EsGsItemSize is 4 times the output location count of the stage that
	// feeds the geometry shader.
	EsGsItemSize uint32
	// GsVsItemSize is 4 times the geometry shader output location count,
	// output vertices and instance count.
	GsVsItemSize uint32

	InstanceCount  uint32
	InputPrimitive InputPrimitive

	DefaultPrimsPerSubgroup uint32
	MaxPrimsPerSubgroup     uint32
	LdsSizePerSubgroup      uint32
	LdsGranularity          uint32
	OffChipThreshold        uint32
}

// ItemSizes returns the ES-GS and GS-VS ring item sizes in dwords for the
// given output location counts.
func ItemSizes(esOutputLocs, gsOutputLocs, outputVertices, instances uint32) (esGs, gsVs uint32) {
	return 4 * esOutputLocs, 4 * gsOutputLocs * outputVertices * instances
}

// Result is the outcome of Estimate. The partition fields are filled in even
// when OnChip is false so callers can log why.
type Result struct {
	OnChip             bool
	PrimsPerSubgroup   uint32
	EsVertsPerSubgroup uint32
	LdsSize            uint32
	EsGsLdsSize        uint32
	GsVsLdsSize        uint32
}

// Estimate computes the GS on-chip subgroup partition for p.
func Estimate(p Params) Result {
	vertsPerPrim, adjacency, ok := p.InputPrimitive.vertices()
	if !ok || p.EsGsItemSize == 0 || p.GsVsItemSize == 0 || p.LdsSizePerSubgroup == 0 {
		return Result{}
	}

	instances := p.InstanceCount
	if instances == 0 {
		instances = 1
	}
	maxPrims := p.MaxPrimsPerSubgroup
	if maxPrims == 0 {
		maxPrims = DefaultMaxPrimsPerSubgroup
	}
	threshold := p.OffChipThreshold
	if threshold == 0 {
		threshold = DefaultOffChipThreshold
	}

	// Half of the adjacency vertices are shared between primitives.
	esMinVerts := vertsPerPrim
	if adjacency {
		esMinVerts >>= 1
	}

	prims := p.DefaultPrimsPerSubgroup
	if adjacency || instances > 1 {
		prims = min(prims, maxPrims/instances)
	}

	gsVsLds := p.GsVsItemSize * prims
	esGsLds := p.EsGsItemSize * esMinVerts * prims
	ldsSize := alignUp(esGsLds+gsVsLds, p.LdsGranularity)

	budget := p.LdsSizePerSubgroup
	if ldsSize > budget {
		esGsPerPrim := p.EsGsItemSize * esMinVerts
		total := esGsPerPrim + p.GsVsItemSize

		esGsLds = roundUpToMultiple(esGsPerPrim*budget/total, esGsPerPrim)
		if esGsLds > budget {
			return Result{LdsSize: budget, EsGsLdsSize: esGsLds}
		}
		gsVsLds = roundDownToMultiple(budget-esGsLds, p.GsVsItemSize)
		ldsSize = budget
	}

	res := Result{
		PrimsPerSubgroup: gsVsLds / p.GsVsItemSize,
		LdsSize:          ldsSize,
		EsGsLdsSize:      esGsLds,
		GsVsLdsSize:      gsVsLds,
	}

	// Adjacency vertices are not always reused, so the last primitive of a
	// subgroup may need all of its vertices.
	esVerts := esGsLds / p.EsGsItemSize
	if adjacency {
		esMinVerts = vertsPerPrim
	}
	if esVerts >= esMinVerts {
		res.EsVertsPerSubgroup = esVerts - (esMinVerts - 1)
	}

	res.OnChip = res.PrimsPerSubgroup*instances >= threshold && res.EsVertsPerSubgroup > 0
	return res
}

func alignUp(v, granularity uint32) uint32 {
	if granularity == 0 {
		return v
	}
	return (v + granularity - 1) / granularity * granularity
}

func roundUpToMultiple(v, m uint32) uint32 {
	if m == 0 {
		return v
	}
	return (v + m - 1) / m * m
}

func roundDownToMultiple(v, m uint32) uint32 {
	if m == 0 {
		return v
	}
	return v / m * m
}
