package tree

/* gravwalk.go contains the multipole-acceptance walks. The same descent runs
against the local tree (where a rejected leaf falls back to direct summation)
and against a remote rank's pruned tree (where a rejected leaf means the real
data behind that region must be imported before the interaction can be
completed at the required accuracy). */

import (
	"github.com/astrofold/willow/lib/geom"
)

// MAC is the multipole acceptance criterion, resolved once at setup from the
// configuration strings. The geometric test accepts a cell as a single
// aggregate source when it subtends less than the maximum opening angle; the
// eigen variant additionally scales acceptance by the requesting particles'
// current potential, admitting larger cells where the field is strong.
type MAC struct {
	ThetaMaxSqd    float64
	InvThetaMaxSqd float64
	MacError       float64
	Eigen          bool
}

// NewGeometricMAC returns the fixed opening-angle criterion.
func NewGeometricMAC(thetamaxsqd float64) MAC {
	return MAC{ThetaMaxSqd: thetamaxsqd, InvThetaMaxSqd: 1 / thetamaxsqd}
}

// NewEigenMAC returns the potential-scaled criterion. macerror is the target
// relative force error.
func NewEigenMAC(thetamaxsqd, macerror float64) MAC {
	return MAC{
		ThetaMaxSqd: thetamaxsqd, InvThetaMaxSqd: 1 / thetamaxsqd,
		MacError: macerror, Eigen: true,
	}
}

// mustOpen returns true if the cell at squared distance drsqd from the
// requesting cell is too close or too large to approximate as one source.
// macfactor is the per-active-cell term derived from particle potentials;
// it is ignored by the purely geometric criterion.
func (m *MAC) mustOpen(drsqd float64, cell *Cell, macfactor float64) bool {
	if drsqd < cell.RMax*cell.RMax*m.InvThetaMaxSqd {
		return true
	}
	if m.Eigen && drsqd*drsqd*m.MacError < cell.MAC*macfactor {
		return true
	}
	return false
}

// GravityInteractionList walks this tree for one active cell and splits its
// mass into two lists: cells far enough to approximate as aggregate
// multipole sources, and individual particles from leaves that had to be
// opened all the way down (the direct-summation remainder). Both lists are
// appended to and returned.
func (t *Tree) GravityInteractionList(
	target *Cell, mac *MAC, macfactor float64,
	gravCells []*Cell, direct []int32,
) ([]*Cell, []int32) {
	c := int32(0)
	for c < int32(t.NCell) {
		cell := &t.Cells[c]
		if cell.N == 0 {
			c = cell.CNext
			continue
		}

		drsqd := cell.R.DistSqd(target.R)
		if !mac.mustOpen(drsqd, cell, macfactor) &&
			!geom.Overlap(cell.Box, target.Box) {
			gravCells = append(gravCells, cell)
			c = cell.CNext
			continue
		}
		if !cell.Leaf() {
			c = cell.C1
			continue
		}

		t.EachLeafParticle(cell, func(i int32) {
			direct = append(direct, i)
		})
		c = cell.CNext
	}
	return gravCells, direct
}

// DistantGravityInteractionList runs the same descent against a pruned
// remote tree. If any rejected cell turns out to be a pruned leaf, the walk
// cannot open it further: the appended cells are rolled back and export is
// returned true, flagging that the requesting cell must be exported to the
// pruned tree's rank for full evaluation.
func (t *Tree) DistantGravityInteractionList(
	target *Cell, mac *MAC, macfactor float64, gravCells []*Cell,
) ([]*Cell, bool) {
	start := len(gravCells)

	c := int32(0)
	for c < int32(t.NCell) {
		cell := &t.Cells[c]
		if cell.N == 0 {
			c = cell.CNext
			continue
		}

		drsqd := cell.R.DistSqd(target.R)
		if !mac.mustOpen(drsqd, cell, macfactor) &&
			!geom.Overlap(cell.Box, target.Box) {
			gravCells = append(gravCells, cell)
			c = cell.CNext
			continue
		}
		if cell.Leaf() {
			return gravCells[:start], true
		}
		c = cell.C1
	}
	return gravCells, false
}
