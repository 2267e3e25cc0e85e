package tree

/* stock.go recomputes and extrapolates cached cell aggregates between
rebuilds. */

import (
	"github.com/astrofold/willow/lib/geom"
	"github.com/astrofold/willow/lib/particles"
)

// Stock recomputes every cell's aggregate properties bottom-up without
// restructuring: mass, center of mass, bulk velocity, bounding box, hmax,
// quadrupole moments, and particle/active counts. In the depth-first layout
// children always have larger indices than their parent, so a single reverse
// sweep stocks children before parents. Stocking twice without moving
// particles yields identical aggregates.
func (t *Tree) Stock(tab *particles.Table) {
	for c := t.NCell - 1; c >= 0; c-- {
		if t.Cells[c].Leaf() {
			t.stockLeaf(&t.Cells[c], tab)
		} else {
			t.stockInterior(&t.Cells[c])
		}
	}
}

func (t *Tree) stockLeaf(cell *Cell, tab *particles.Table) {
	cell.M, cell.HMax = 0, 0
	cell.N, cell.NActive = 0, 0
	cell.R, cell.V = geom.Vec{}, geom.Vec{}
	cell.Q = [5]float64{}
	cell.Box = geom.EmptyBox()

	t.EachLeafParticle(cell, func(i int32) {
		m := tab.M[i]
		cell.M += m
		cell.R = cell.R.Add(tab.R[i].Scale(m))
		cell.V = cell.V.Add(tab.V[i].Scale(m))
		cell.Box.Absorb(tab.R[i])
		if tab.H[i] > cell.HMax {
			cell.HMax = tab.H[i]
		}
		cell.N++
		if tab.Active[i] {
			cell.NActive++
		}
	})

	if cell.N == 0 {
		cell.Box = geom.Box{}
		cell.RMax, cell.MAC = 0, 0
		return
	}
	if cell.M > 0 {
		inv := 1 / cell.M
		cell.R = cell.R.Scale(inv)
		cell.V = cell.V.Scale(inv)
	}

	// Quadrupole moments need the final center of mass, hence the second
	// pass over the chain.
	t.EachLeafParticle(cell, func(i int32) {
		addQuadrupole(&cell.Q, tab.M[i], tab.R[i].Sub(cell.R))
	})

	finishGeometry(cell)
}

func (t *Tree) stockInterior(cell *Cell) {
	c1, c2 := &t.Cells[cell.C1], &t.Cells[cell.C2]

	cell.N = c1.N + c2.N
	cell.NActive = c1.NActive + c2.NActive
	cell.M = c1.M + c2.M
	cell.HMax = c1.HMax
	if c2.HMax > cell.HMax {
		cell.HMax = c2.HMax
	}

	if cell.N == 0 {
		cell.R, cell.V = geom.Vec{}, geom.Vec{}
		cell.Q = [5]float64{}
		cell.Box = geom.Box{}
		cell.RMax, cell.MAC = 0, 0
		return
	}

	cell.R, cell.V = geom.Vec{}, geom.Vec{}
	if cell.M > 0 {
		inv := 1 / cell.M
		cell.R = c1.R.Scale(c1.M).Add(c2.R.Scale(c2.M)).Scale(inv)
		cell.V = c1.V.Scale(c1.M).Add(c2.V.Scale(c2.M)).Scale(inv)
	}

	cell.Box = geom.EmptyBox()
	for _, ch := range [2]*Cell{c1, c2} {
		if ch.N == 0 {
			continue
		}
		cell.Box.Absorb(ch.Min)
		cell.Box.Absorb(ch.Max)
	}

	// Combine child quadrupoles about the new center of mass with the
	// parallel-axis terms for the shifted child centers.
	cell.Q = [5]float64{}
	for _, ch := range [2]*Cell{c1, c2} {
		if ch.N == 0 {
			continue
		}
		for q := 0; q < 5; q++ {
			cell.Q[q] += ch.Q[q]
		}
		addQuadrupole(&cell.Q, ch.M, ch.R.Sub(cell.R))
	}

	finishGeometry(cell)
}

// addQuadrupole accumulates the traceless quadrupole contribution of mass m
// at offset dr from the expansion center.
func addQuadrupole(q *[5]float64, m float64, dr geom.Vec) {
	drsqd := dr.NormSqd()
	q[0] += m * (3*dr[0]*dr[0] - drsqd)
	q[1] += m * (3*dr[1]*dr[1] - drsqd)
	q[2] += m * 3 * dr[0] * dr[1]
	q[3] += m * 3 * dr[0] * dr[2]
	q[4] += m * 3 * dr[1] * dr[2]
}

// finishGeometry stocks the derived size measures: the half-diagonal RMax
// and the opening-criterion coefficient MAC.
func finishGeometry(cell *Cell) {
	cell.RMax = 0.5 * cell.Max.Sub(cell.Min).Norm()
	s := 2 * cell.RMax
	cell.MAC = cell.M * s * s
}

// Extrapolate advances cached centers and bounding boxes by each cell's bulk
// velocity over dt, trading exactness for speed. It is only valid over short
// intervals within one tree generation; it must never be relied on across a
// rebuild boundary.
func (t *Tree) Extrapolate(dt float64) {
	for c := 0; c < t.NCell; c++ {
		cell := &t.Cells[c]
		if cell.N == 0 {
			continue
		}
		dr := cell.V.Scale(dt)
		cell.R = cell.R.Add(dr)
		cell.Min = cell.Min.Add(dr)
		cell.Max = cell.Max.Add(dr)
	}
}

// UpdateActiveParticleCounters recounts the per-leaf active totals (the
// external integrator flips active flags between force passes) and refreshes
// the interior sums.
func (t *Tree) UpdateActiveParticleCounters(tab *particles.Table) {
	for c := t.NCell - 1; c >= 0; c-- {
		cell := &t.Cells[c]
		if cell.Leaf() {
			cell.NActive = 0
			t.EachLeafParticle(cell, func(i int32) {
				if tab.Active[i] {
					cell.NActive++
				}
			})
		} else {
			cell.NActive = t.Cells[cell.C1].NActive +
				t.Cells[cell.C2].NActive
		}
	}
}

// ActiveCellList appends to out the indices of all leaf cells containing at
// least one active particle, followed by any imported cells. Imported cells
// always count as active: they exist precisely because a remote rank needs
// forces computed for their particles.
func (t *Tree) ActiveCellList(out []int32) []int32 {
	for c := 0; c < t.NCell; c++ {
		cell := &t.Cells[c]
		if cell.Leaf() && cell.NActive > 0 {
			out = append(out, int32(c))
		}
	}
	for c := t.NCell; c < t.NCellTot; c++ {
		out = append(out, int32(c))
	}
	return out
}

// ActiveParticleList appends the indices of the active particles in cell c.
func (t *Tree) ActiveParticleList(
	c *Cell, tab *particles.Table, out []int32,
) []int32 {
	t.EachLeafParticle(c, func(i int32) {
		if tab.Active[i] {
			out = append(out, i)
		}
	})
	return out
}
