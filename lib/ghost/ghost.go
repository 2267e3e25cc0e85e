/*package ghost synthesizes boundary-image particles for periodic and mirror
domain axes. Ghosts are created fresh each search and carry a lifetime tghost:
the search widens its tests by up to tghost of drift at each cell's bulk
velocity, so the images stay valid until the lifetime expires, after which
they are stale and must be regenerated.*/
package ghost

import (
	"github.com/astrofold/willow/lib/geom"
	"github.com/astrofold/willow/lib/particles"
	"github.com/astrofold/willow/lib/tree"
)

// Manager runs the per-axis boundary ghost search.
type Manager struct {
	// GhostRange scales how deep past the kernel range the boundary zone
	// reaches, in units of smoothing length. KernRange is the kernel's
	// compact support radius in the same units.
	GhostRange, KernRange float64

	tghost float64
	age    float64
}

// New creates a Manager. A GhostRange of 1.1-1.6 gives a safety margin over
// the exact kernel support so ghosts survive small drifts.
func New(ghostRange, kernRange float64) *Manager {
	return &Manager{GhostRange: ghostRange, KernRange: kernRange}
}

// SearchBoundary discards the previous ghost generation and synthesizes a
// new one valid for the next tghost of simulation time. Axes are processed
// x, then y, then z; ghosts created by an earlier axis live outside the
// indexed tree range and are rechecked for the later axes by direct linear
// scan rather than tree walk. Returns the number of ghosts created. Running
// out of ghost capacity is fatal inside the table: ghosts are not optional
// and the step cannot proceed without them.
func (g *Manager) SearchBoundary(
	tghost float64, box *geom.DomainBox,
	tab *particles.Table, tr *tree.Tree,
) int {
	tab.ResetGhosts()
	g.tghost, g.age = tghost, 0

	if box.AllOpen() {
		return 0
	}

	grange := g.GhostRange * g.KernRange

	for k := 0; k < geom.NDim; k++ {
		if box.AxisOpen(k) || box.Bound[k] == geom.RankOwned {
			continue
		}

		// Ghosts made by earlier axis passes, frozen before this pass so
		// the images we create below are not immediately re-imaged.
		ntotBefore := tab.Ntot()

		g.searchAxis(k, tghost, grange, box, tab, tr)

		for i := tab.NReal; i < ntotBefore; i++ {
			tab.CheckBoundaryGhost(i, k, tghost, grange, box)
		}
	}

	return tab.NPeriodicGhost
}

// searchAxis walks the tree for one axis, opening any cell whose bounding
// box, extended by the ghost range times the cell's hmax and adjusted for up
// to tghost of drift at the cell's bulk velocity, crosses the domain edge.
// Leaf candidates delegate per-particle classification to the table.
func (g *Manager) searchAxis(
	k int, tghost, grange float64, box *geom.DomainBox,
	tab *particles.Table, tr *tree.Tree,
) {
	c := int32(0)
	for c < int32(tr.NCell) {
		cell := &tr.Cells[c]

		drift := cell.V[k] * tghost
		lo := cell.Min[k] + minFloat(0, drift)
		hi := cell.Max[k] + maxFloat(0, drift)

		if cell.N == 0 ||
			(lo >= box.Min[k]+grange*cell.HMax &&
				hi <= box.Max[k]-grange*cell.HMax) {
			c = cell.CNext
			continue
		}
		if !cell.Leaf() {
			c = cell.C1
			continue
		}

		tr.EachLeafParticle(cell, func(i int32) {
			tab.CheckBoundaryGhost(int(i), k, tghost, grange, box)
		})
		c = cell.CNext
	}
}

// Advance ages the current ghost generation by dt.
func (g *Manager) Advance(dt float64) { g.age += dt }

// Stale returns true once the ghost generation has outlived its tghost and
// must be regenerated before further neighbour or force work.
func (g *Manager) Stale() bool { return g.age > g.tghost }

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
