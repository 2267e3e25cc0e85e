/*package gravity computes long-range gravitational accelerations by walking
the local tree and the pruned summaries of remote ranks with a multipole
acceptance criterion.

The per-cell loops are data-parallel: each goroutine owns disjoint
active-particle accumulators (work is partitioned by cell ownership), so no
synchronization is needed inside the loop, and the shared read-only cell
arrays need no locking. Accumulators are reset at the start of each force
pass. Single-threaded runs are deterministic; across thread counts only
numerical-tolerance equivalence holds, since summation order is unspecified.*/
package gravity

import (
	"fmt"
	"math"

	"github.com/dgravesa/go-parallel/parallel"

	"github.com/astrofold/willow/lib/geom"
	"github.com/astrofold/willow/lib/particles"
	"github.com/astrofold/willow/lib/thread"
	"github.com/astrofold/willow/lib/tree"
)

// Multipole selects the expansion order used for accepted cells.
type Multipole int

const (
	// Monopole treats each accepted cell as a point mass at its center of
	// mass.
	Monopole Multipole = iota
	// Quadrupole adds the traceless second-moment correction.
	Quadrupole
	// FastMonopole aggregates all accepted cells into a single expansion
	// about the active cell's center, applied to each particle as one
	// correction term.
	FastMonopole
)

// ParseMultipole converts a config string to a Multipole order. Unrecognized
// strings are a setup error, never a mid-run one.
func ParseMultipole(s string) (Multipole, error) {
	switch s {
	case "monopole":
		return Monopole, nil
	case "quadrupole":
		return Quadrupole, nil
	case "fast_monopole":
		return FastMonopole, nil
	}
	return Monopole, fmt.Errorf("'%s' is not a valid multipole order. Only "+
		"'monopole', 'quadrupole', and 'fast_monopole' are valid.", s)
}

// scratch holds one goroutine's buffers. They are sized at first use and
// reused; growth happens through append on goroutine-owned slices, so no
// reallocation is ever shared across a parallel section.
type scratch struct {
	activeList []int32
	activePart []particles.Particle
	gravCells  []*tree.Cell
	direct     []int32
	export     [][]int32 // per-remote-rank cell flags, merged serially
}

// Solver accumulates gravitational accelerations and potentials for all
// active particles.
type Solver struct {
	MAC       tree.MAC
	Multipole Multipole

	cellList []int32
	scratch  []*scratch
}

// NewSolver creates a Solver with the given acceptance criterion and
// expansion order.
func NewSolver(mac tree.MAC, multipole Multipole) *Solver {
	return &Solver{MAC: mac, Multipole: multipole}
}

// ensureScratch guarantees one scratch block per goroutine. It runs strictly
// before the parallel section so buffer allocation never races.
func (s *Solver) ensureScratch(n, nranks int) {
	for len(s.scratch) < n {
		s.scratch = append(s.scratch, &scratch{})
	}
	for _, sc := range s.scratch {
		for len(sc.export) < nranks {
			sc.export = append(sc.export, []int32{})
		}
	}
}

// macFactor computes the per-cell term for the potential-scaled acceptance
// criterion: the maximum over the cell's active particles of gpot^(-2/3).
// The geometric criterion ignores it.
func (s *Solver) macFactor(parts []particles.Particle) float64 {
	if !s.MAC.Eigen {
		return 0
	}
	macfactor := 0.0
	for j := range parts {
		if parts[j].GPot <= 0 {
			continue
		}
		if f := math.Pow(1/parts[j].GPot, 2.0/3.0); f > macfactor {
			macfactor = f
		}
	}
	return macfactor
}

// UpdateAllGravForces runs the local force pass: for every cell containing
// at least one active particle (imported cells included), it walks the local
// tree, applies the chosen multipole expansion to the accepted cells, and
// direct-sums the leaf remainders. Gravitational accumulators of the active
// particles are reset at the start of the pass.
func (s *Solver) UpdateAllGravForces(tab *particles.Table, tr *tree.Tree) {
	s.cellList = tr.ActiveCellList(s.cellList[:0])
	s.localPass(s.cellList, tab, tr)
}

// UpdateImportedGravForces runs the local pass for the imported cells alone.
// It follows the import splice, computing against the local tree the forces
// that the particles' home rank could not, before the deltas go back.
func (s *Solver) UpdateImportedGravForces(
	tab *particles.Table, tr *tree.Tree,
) {
	s.localPass(tr.ImportedCells(), tab, tr)
}

func (s *Solver) localPass(
	cells []int32, tab *particles.Table, tr *tree.Tree,
) {
	nthreads := thread.N()
	s.ensureScratch(nthreads, 0)

	parallel.WithNumGoroutines(nthreads).For(
		len(cells),
		func(cc, tid int) {
			sc := s.scratch[tid]
			cell := &tr.Cells[cells[cc]]

			sc.loadActive(cell, tab, tr)
			macfactor := s.macFactor(sc.activePart)
			for j := range sc.activePart {
				sc.activePart[j].AGrav = geom.Vec{}
				sc.activePart[j].GPot = 0
			}

			sc.gravCells, sc.direct = tr.GravityInteractionList(
				cell, &s.MAC, macfactor, sc.gravCells[:0], sc.direct[:0])

			s.applyCells(sc, cell)
			s.applyDirect(sc, tab)
			sc.storeActive(tab)
		})
}

// UpdateGravityExportList runs the distant pass: every active cell is tested
// against each remote rank's pruned tree. Accepted pruned cells contribute
// their multipole terms immediately; a rank whose pruned resolution is
// exhausted gets the requesting cell flagged for export instead, so the real
// data behind that region can be transferred and evaluated exactly. Returns,
// per remote rank, the local indices of the cells to export.
func (s *Solver) UpdateGravityExportList(
	rank int, tab *particles.Table, tr *tree.Tree, pruned []*tree.Tree,
) [][]int32 {
	s.cellList = tr.ActiveCellList(s.cellList[:0])
	nthreads := thread.N()
	s.ensureScratch(nthreads, len(pruned))
	for _, sc := range s.scratch {
		for j := range sc.export {
			sc.export[j] = sc.export[j][:0]
		}
	}

	parallel.WithNumGoroutines(nthreads).For(
		len(s.cellList),
		func(cc, tid int) {
			sc := s.scratch[tid]
			c := s.cellList[cc]
			cell := &tr.Cells[c]

			sc.loadActive(cell, tab, tr)
			macfactor := s.macFactor(sc.activePart)
			for j := range sc.activePart {
				sc.activePart[j].AGrav = geom.Vec{}
				sc.activePart[j].GPot = 0
			}

			sc.gravCells = sc.gravCells[:0]
			for j := range pruned {
				if j == rank {
					continue
				}
				var export bool
				sc.gravCells, export = pruned[j].DistantGravityInteractionList(
					cell, &s.MAC, macfactor, sc.gravCells)
				if export {
					sc.export[j] = append(sc.export[j], c)
				}
			}

			sc.direct = sc.direct[:0]
			s.applyCells(sc, cell)
			sc.addActive(tab)
		})

	// Merge the per-goroutine export flags outside the parallel section.
	export := make([][]int32, len(pruned))
	for _, sc := range s.scratch {
		for j := range sc.export {
			export[j] = append(export[j], sc.export[j]...)
		}
	}
	return export
}

// loadActive copies the cell's active particles into the goroutine-local
// buffers.
func (sc *scratch) loadActive(
	cell *tree.Cell, tab *particles.Table, tr *tree.Tree,
) {
	sc.activeList = tr.ActiveParticleList(cell, tab, sc.activeList[:0])
	sc.activePart = sc.activePart[:0]
	for _, i := range sc.activeList {
		sc.activePart = append(sc.activePart, tab.Get(int(i)))
	}
}

// storeActive writes the accumulated forces back to the table, overwriting
// the gravitational fields and folding them into the total acceleration.
// Cell ownership makes these writes disjoint across goroutines.
func (sc *scratch) storeActive(tab *particles.Table) {
	for j, i := range sc.activeList {
		p := &sc.activePart[j]
		tab.AGrav[i] = p.AGrav
		tab.GPot[i] = p.GPot
		tab.GPE[i] = p.M * p.GPot
		tab.A[i] = tab.A[i].Add(p.AGrav)
	}
}

// addActive adds the accumulated contributions on top of whatever previous
// passes stored, for passes that refine rather than reset.
func (sc *scratch) addActive(tab *particles.Table) {
	for j, i := range sc.activeList {
		p := &sc.activePart[j]
		tab.AGrav[i] = tab.AGrav[i].Add(p.AGrav)
		tab.GPot[i] += p.GPot
		tab.GPE[i] = p.M * tab.GPot[i]
		tab.A[i] = tab.A[i].Add(p.AGrav)
	}
}

// applyCells applies the chosen multipole expansion of every accepted cell
// to the active particles.
func (s *Solver) applyCells(sc *scratch, cell *tree.Cell) {
	switch s.Multipole {
	case Monopole:
		for j := range sc.activePart {
			monopoleForces(&sc.activePart[j], sc.gravCells)
		}
	case Quadrupole:
		for j := range sc.activePart {
			quadrupoleForces(&sc.activePart[j], sc.gravCells)
		}
	case FastMonopole:
		fastMonopoleForces(sc.activePart, sc.gravCells, cell)
	}
}

// applyDirect direct-sums the leaf remainders onto each active particle,
// skipping self-interaction.
func (s *Solver) applyDirect(sc *scratch, tab *particles.Table) {
	for j := range sc.activePart {
		p := &sc.activePart[j]
		self := sc.activeList[j]
		for _, i := range sc.direct {
			if i == self {
				continue
			}
			dr := tab.R[i].Sub(p.R)
			drsqd := dr.NormSqd()
			if drsqd == 0 {
				continue
			}
			invdr := 1 / math.Sqrt(drsqd)
			invdr3 := invdr * invdr * invdr
			p.AGrav = p.AGrav.Add(dr.Scale(tab.M[i] * invdr3))
			p.GPot += tab.M[i] * invdr
		}
	}
}

func monopoleForces(p *particles.Particle, cells []*tree.Cell) {
	for _, c := range cells {
		dr := c.R.Sub(p.R)
		drsqd := dr.NormSqd()
		if drsqd == 0 {
			continue
		}
		invdr := 1 / math.Sqrt(drsqd)
		invdr3 := invdr * invdr * invdr
		p.AGrav = p.AGrav.Add(dr.Scale(c.M * invdr3))
		p.GPot += c.M * invdr
	}
}

func quadrupoleForces(p *particles.Particle, cells []*tree.Cell) {
	for _, c := range cells {
		dr := c.R.Sub(p.R)
		drsqd := dr.NormSqd()
		if drsqd == 0 {
			continue
		}
		invdr := 1 / math.Sqrt(drsqd)
		invdrsqd := invdr * invdr
		invdr3 := invdrsqd * invdr
		invdr5 := invdr3 * invdrsqd

		qxx, qyy := c.Q[0], c.Q[1]
		qzz := -qxx - qyy
		qxy, qxz, qyz := c.Q[2], c.Q[3], c.Q[4]
		qdr := geom.Vec{
			qxx*dr[0] + qxy*dr[1] + qxz*dr[2],
			qxy*dr[0] + qyy*dr[1] + qyz*dr[2],
			qxz*dr[0] + qyz*dr[1] + qzz*dr[2],
		}
		qscalar := dr[0]*qdr[0] + dr[1]*qdr[1] + dr[2]*qdr[2]
		qfactor := 2.5 * qscalar * invdr5 * invdrsqd

		p.AGrav = p.AGrav.Add(dr.Scale(c.M*invdr3 - qfactor))
		p.AGrav = p.AGrav.Add(qdr.Scale(invdr5))
		p.GPot += c.M*invdr + 0.5*qscalar*invdr5
	}
}

// fastMonopoleForces expands the whole accepted-cell list once about the
// active cell's center of mass and applies the first-order expansion to each
// particle, instead of evaluating every cell per particle.
func fastMonopoleForces(
	parts []particles.Particle, cells []*tree.Cell, target *tree.Cell,
) {
	var ac geom.Vec
	var pot float64
	var tid [3][3]float64

	for _, c := range cells {
		dr := c.R.Sub(target.R)
		drsqd := dr.NormSqd()
		if drsqd == 0 {
			continue
		}
		invdr := 1 / math.Sqrt(drsqd)
		invdrsqd := invdr * invdr
		invdr3 := invdrsqd * invdr

		ac = ac.Add(dr.Scale(c.M * invdr3))
		pot += c.M * invdr
		for a := 0; a < 3; a++ {
			for b := 0; b < 3; b++ {
				tid[a][b] += c.M * invdr3 * 3 * dr[a] * dr[b] * invdrsqd
			}
			tid[a][a] -= c.M * invdr3
		}
	}

	for j := range parts {
		p := &parts[j]
		dx := p.R.Sub(target.R)
		var da geom.Vec
		for a := 0; a < 3; a++ {
			da[a] = tid[a][0]*dx[0] + tid[a][1]*dx[1] + tid[a][2]*dx[2]
		}
		p.AGrav = p.AGrav.Add(ac).Add(da)
		p.GPot += pot + ac[0]*dx[0] + ac[1]*dx[1] + ac[2]*dx[2]
	}
}
