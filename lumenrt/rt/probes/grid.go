package probes

import (
	"math"

	"github.com/gekko3d/lumen/lumenrt/rt/core"
	"github.com/gekko3d/lumen/lumenrt/rt/pool"

	"github.com/go-gl/mathgl/mgl32"
)

// grid is the regular probe lattice of one probe type and its per-volume cell partitions.
// Volume v uses cells of spacing*skip[v], so every cell has a kept probe on each corner.
type grid struct {
	typ     ProbeType
	spacing float32
	bounds  core.AABB
	counts  [3]int
	probes  *pool.Pool[Probe]

	cells        [NumVolumes]*pool.Pool[ProbeCell]
	cellCounts   [NumVolumes][3]int
	cellSize     [NumVolumes]float32
	skip         [NumVolumes]int
	insertRadius float32
}

func newGrid(t ProbeType, cfg TypeConfig, bounds core.AABB, radiusRatio float32) *grid {
	g := &grid{
		typ:          t,
		spacing:      cfg.Spacing,
		bounds:       bounds,
		skip:         cfg.Skip,
		insertRadius: cfg.Spacing * radiusRatio,
	}
	size := bounds.Size()
	for a := 0; a < 3; a++ {
		g.counts[a] = int(math.Floor(float64(size[a]/cfg.Spacing))) + 1
	}
	g.probes = pool.New[Probe](g.probeCount())
	for z := 0; z < g.counts[2]; z++ {
		for y := 0; y < g.counts[1]; y++ {
			for x := 0; x < g.counts[0]; x++ {
				coord := [3]int{x, y, z}
				g.probes.Add(Probe{
					Index:        g.probes.Len(),
					GridCoord:    coord,
					Position:     bounds.Min.Add(mgl32.Vec3{float32(x), float32(y), float32(z)}.Mul(cfg.Spacing)),
					Type:         t,
					CullIndex:    [NumVolumes]int{-1, -1},
					TexArraySlot: -1,
				})
			}
		}
	}

	for v := 0; v < NumVolumes; v++ {
		g.cellSize[v] = cfg.Spacing * float32(cfg.Skip[v])
		for a := 0; a < 3; a++ {
			g.cellCounts[v][a] = max(int(math.Ceil(float64(size[a]/g.cellSize[v]))), 1)
		}
		n := g.cellCount(v)
		g.cells[v] = pool.New[ProbeCell](n)
		for i := 0; i < n; i++ {
			c := g.cellCoord(v, i)
			lo := bounds.Min.Add(mgl32.Vec3{float32(c[0]), float32(c[1]), float32(c[2])}.Mul(g.cellSize[v]))
			g.cells[v].Add(ProbeCell{
				Index:  i,
				Bounds: core.AABB{Min: lo, Max: lo.Add(mgl32.Vec3{1, 1, 1}.Mul(g.cellSize[v]))},
			})
		}
	}

	for i := 0; i < g.probeCount(); i++ {
		g.addProbeToCells(i, bounds.Min, bounds.Max)
	}
	return g
}

func (g *grid) probeCount() int {
	return g.counts[0] * g.counts[1] * g.counts[2]
}

func (g *grid) cellCount(v int) int {
	c := g.cellCounts[v]
	return c[0] * c[1] * c[2]
}

func (g *grid) cellCoord(v, index int) [3]int {
	c := g.cellCounts[v]
	return [3]int{index % c[0], index / c[0] % c[1], index / (c[0] * c[1])}
}

func (g *grid) flatten(v int, c [3]int) int {
	n := g.cellCounts[v]
	return c[0] + c[1]*n[0] + c[2]*n[0]*n[1]
}

// probe returns a pointer into the pool, valid until the next Add (the lattice never grows).
func (g *grid) probe(i int) *Probe {
	return g.probes.Ptr(pool.Handle(i + 1))
}

func (g *grid) cell(v, i int) *ProbeCell {
	return g.cells[v].Ptr(pool.Handle(i + 1))
}

// keptBy reports whether volume v samples the probe under its skip factor.
func (g *grid) keptBy(v int, p *Probe) bool {
	s := g.skip[v]
	return p.GridCoord[0]%s == 0 && p.GridCoord[1]%s == 0 && p.GridCoord[2]%s == 0
}

// cellAxis maps a coordinate to a cell along axis a with floor semantics, clamped to the grid.
func (g *grid) cellAxis(v, a int, x float32) int {
	i := int(math.Floor(float64((x - g.bounds.Min[a]) / g.cellSize[v])))
	return min(max(i, 0), g.cellCounts[v][a]-1)
}

func (g *grid) cellIndex(pos mgl32.Vec3, v int) int {
	return g.flatten(v, [3]int{g.cellAxis(v, 0, pos.X()), g.cellAxis(v, 1, pos.Y()), g.cellAxis(v, 2, pos.Z())})
}

// cellRange lists the cells of volume v touching box, in index order.
func (g *grid) cellRange(v int, box core.AABB) []int {
	if !box.Intersects(g.bounds) {
		return nil
	}
	var lo, hi [3]int
	for a := 0; a < 3; a++ {
		lo[a] = g.cellAxis(v, a, box.Min[a])
		hi[a] = g.cellAxis(v, a, box.Max[a])
	}
	var out []int
	for z := lo[2]; z <= hi[2]; z++ {
		for y := lo[1]; y <= hi[1]; y++ {
			for x := lo[0]; x <= hi[0]; x++ {
				out = append(out, g.flatten(v, [3]int{x, y, z}))
			}
		}
	}
	return out
}

// addProbeToCells inserts probe i into every cell whose box meets its insertion sphere,
// limited to probes inside [minBounds, maxBounds]. It returns how many volume-0 cells hold it.
func (g *grid) addProbeToCells(i int, minBounds, maxBounds mgl32.Vec3) int {
	p := g.probe(i)
	limit := core.AABB{Min: minBounds, Max: maxBounds}
	if !limit.IntersectsSphere(p.Position, g.insertRadius) {
		return 0
	}
	// Widened slightly so a zero radius still reaches cells sharing the probe's boundary.
	reach := max(g.insertRadius, 1e-4)
	r := mgl32.Vec3{reach, reach, reach}
	sphereBox := core.AABB{Min: p.Position.Sub(r), Max: p.Position.Add(r)}
	inVolume0 := 0
	for v := 0; v < NumVolumes; v++ {
		if !g.keptBy(v, p) {
			continue
		}
		for _, ci := range g.cellRange(v, sphereBox) {
			c := g.cell(v, ci)
			if !c.Bounds.IntersectsSphere(p.Position, g.insertRadius) {
				continue
			}
			if !containsInt(c.Probes, i) {
				c.Probes = append(c.Probes, i)
			}
			if v == 0 {
				inVolume0++
			}
		}
	}
	return inVolume0
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// cellIndexData flattens each cell's probe list to ProbesPerCell slots, -1 padded, for all volumes
// back to back. offsets[v] is the first cell of volume v. Probes on the cell's own corners come
// first, so a longer list loses only its neighbours.
func (g *grid) cellIndexData() (data []int32, offsets [NumVolumes]uint32) {
	row := make([]int, 0, ProbesPerCell)
	for v := 0; v < NumVolumes; v++ {
		offsets[v] = uint32(len(data) / ProbesPerCell)
		for i := 0; i < g.cellCount(v); i++ {
			c := g.cell(v, i)
			row = row[:0]
			for _, pi := range c.Probes {
				if c.Bounds.Contains(g.probe(pi).Position) {
					row = append(row, pi)
				}
			}
			for _, pi := range c.Probes {
				if !c.Bounds.Contains(g.probe(pi).Position) {
					row = append(row, pi)
				}
			}
			for k := 0; k < ProbesPerCell; k++ {
				idx := int32(-1)
				if k < len(row) {
					idx = int32(row[k])
				}
				data = append(data, idx)
			}
		}
	}
	return data, offsets
}
