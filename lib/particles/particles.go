/*package particles contains the particle table used by the tree, ghost,
gravity, and exchange layers.

The table is an arena of struct-of-array fields addressed by stable integer
indices. Indices are contiguous in the order [real][periodic-ghost][imported]:
real particles live in [0, NReal), boundary ghosts in [NReal, NReal +
NPeriodicGhost), and particles imported from other ranks after that. Ghosts
and imports are append-only within a step and are discarded wholesale, so no
index ever dangles across a tree rebuild.*/
package particles

import (
	"github.com/astrofold/willow/lib/errs"
	"github.com/astrofold/willow/lib/geom"
)

// Particle is a value copy of one table entry. The gravity loop copies active
// particles into thread-local buffers and the exchange layer serializes these,
// so the field set here is exactly the per-particle state that crosses a rank
// boundary.
type Particle struct {
	R, V, A, AGrav   geom.Vec
	M, H             float64
	GPot, GPE        float64
	Dudt, DivV       float64
	IOrig            int64
	Level, LevelNeib int32
	Active           bool
}

// Table owns the particle arena for one rank.
type Table struct {
	R, V, A, AGrav   []geom.Vec
	M, H             []float64
	GPot, GPE        []float64
	Dudt, DivV       []float64
	Active           []bool
	IOrig            []int64
	Level, LevelNeib []int32

	// NReal counts rank-owned particles, NPeriodicGhost the boundary images
	// appended after them, and NImported the particles spliced in by the
	// exchange layer after those.
	NReal, NPeriodicGhost, NImported int
	// NMax is the allocation limit. Exceeding it mid-step is fatal.
	NMax int
}

// New creates a Table with capacity for nmax particles, real plus ghost plus
// imported.
func New(nmax int) *Table {
	return &Table{
		R: make([]geom.Vec, nmax), V: make([]geom.Vec, nmax),
		A: make([]geom.Vec, nmax), AGrav: make([]geom.Vec, nmax),
		M: make([]float64, nmax), H: make([]float64, nmax),
		GPot: make([]float64, nmax), GPE: make([]float64, nmax),
		Dudt: make([]float64, nmax), DivV: make([]float64, nmax),
		Active: make([]bool, nmax), IOrig: make([]int64, nmax),
		Level: make([]int32, nmax), LevelNeib: make([]int32, nmax),
		NMax: nmax,
	}
}

// Ntot returns the total number of live entries: real + ghost + imported.
func (t *Table) Ntot() int { return t.NReal + t.NPeriodicGhost + t.NImported }

// NGhostMax returns how many more ghost/imported entries fit.
func (t *Table) NGhostMax() int { return t.NMax - t.Ntot() }

// Append adds a real particle and returns its index. It may only be called
// while the table holds no ghosts or imports, i.e. by the IC layer between
// steps.
func (t *Table) Append(r, v geom.Vec, m, h float64, iorig int64) int {
	if t.NPeriodicGhost != 0 || t.NImported != 0 {
		errs.Internal("Append called on a table holding %d ghosts and %d "+
			"imported particles. Real particles must stay contiguous at the "+
			"front of the table.", t.NPeriodicGhost, t.NImported)
	}
	if t.NReal >= t.NMax {
		errs.Internal("Particle table overflow: all %d slots are in use. "+
			"Increase nmax.", t.NMax)
	}
	i := t.NReal
	t.NReal++
	t.R[i], t.V[i] = r, v
	t.M[i], t.H[i] = m, h
	t.IOrig[i] = iorig
	t.Active[i] = true
	return i
}

// Get copies entry i out of the table.
func (t *Table) Get(i int) Particle {
	return Particle{
		R: t.R[i], V: t.V[i], A: t.A[i], AGrav: t.AGrav[i],
		M: t.M[i], H: t.H[i], GPot: t.GPot[i], GPE: t.GPE[i],
		Dudt: t.Dudt[i], DivV: t.DivV[i], IOrig: t.IOrig[i],
		Level: t.Level[i], LevelNeib: t.LevelNeib[i], Active: t.Active[i],
	}
}

// Set overwrites entry i with p.
func (t *Table) Set(i int, p Particle) {
	t.R[i], t.V[i], t.A[i], t.AGrav[i] = p.R, p.V, p.A, p.AGrav
	t.M[i], t.H[i] = p.M, p.H
	t.GPot[i], t.GPE[i] = p.GPot, p.GPE
	t.Dudt[i], t.DivV[i] = p.Dudt, p.DivV
	t.IOrig[i] = p.IOrig
	t.Level[i], t.LevelNeib[i] = p.Level, p.LevelNeib
	t.Active[i] = p.Active
}

// ResetGhosts discards all boundary ghosts and imported particles. The ghost
// search calls this before synthesizing a fresh generation.
func (t *Table) ResetGhosts() {
	t.NPeriodicGhost = 0
	t.NImported = 0
}

// ResetImports discards imported particles while keeping boundary ghosts.
// The exchange layer calls this at the start of each export round so repeated
// rounds never stack stale imports behind the live ones.
func (t *Table) ResetImports() {
	t.NImported = 0
}

// AppendImported reserves a slot past every live entry for a particle
// received from another rank and returns its index.
func (t *Table) AppendImported(p Particle) int {
	i := t.Ntot()
	if i >= t.NMax {
		errs.Internal("Particle table overflow while importing: all %d "+
			"slots are in use. The run must be restarted with a larger nmax "+
			"or rebalanced more aggressively.", t.NMax)
	}
	t.NImported++
	t.Set(i, p)
	return i
}

// CheckBoundaryGhost classifies particle i against both edges of axis k and
// creates the required ghost images. grange is the ghost search range in units
// of the particle's smoothing length (ghost_range * kernel_range), and tghost
// is the lifetime the ghosts must stay valid for, which widens the test by the
// particle's drift. Returns the number of ghosts created (0, 1, or 2).
func (t *Table) CheckBoundaryGhost(
	i, k int, tghost, grange float64, box *geom.DomainBox,
) int {
	if box.Bound[k] == geom.Open || box.Bound[k] == geom.RankOwned {
		return 0
	}

	n := 0
	drift := t.V[i][k] * tghost
	lo := t.R[i][k] + minFloat(0, drift)
	hi := t.R[i][k] + maxFloat(0, drift)

	if lo < box.Min[k]+grange*t.H[i] {
		t.makeGhost(i, k, box, true)
		n++
	}
	if hi > box.Max[k]-grange*t.H[i] {
		t.makeGhost(i, k, box, false)
		n++
	}
	return n
}

// makeGhost appends one ghost image of particle i for axis k. lhs selects
// which edge the source particle is near: a particle near the lower edge of a
// periodic axis images to the far side at +L.
func (t *Table) makeGhost(i, k int, box *geom.DomainBox, lhs bool) {
	if t.NImported != 0 {
		errs.Internal("Ghost created after import splice: ghosts must come " +
			"before imported particles in the table.")
	}
	j := t.Ntot()
	if j >= t.NMax {
		errs.Internal("Not enough memory for ghost particles: table holds "+
			"%d real and %d ghost particles with nmax = %d. Ghosts are not "+
			"optional; the step cannot proceed without them.",
			t.NReal, t.NPeriodicGhost, t.NMax)
	}

	p := t.Get(i)
	switch box.Bound[k] {
	case geom.Periodic:
		if lhs {
			p.R[k] += box.Width(k)
		} else {
			p.R[k] -= box.Width(k)
		}
	case geom.Mirror:
		if lhs {
			p.R[k] = 2*box.Min[k] - p.R[k]
		} else {
			p.R[k] = 2*box.Max[k] - p.R[k]
		}
		p.V[k] = -p.V[k]
	}
	// Ghosts are passive images: they contribute to their neighbours but
	// accumulate no forces of their own.
	p.Active = false

	t.NPeriodicGhost++
	t.Set(j, p)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
