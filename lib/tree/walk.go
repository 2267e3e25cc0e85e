package tree

/* walk.go contains the non-gravity tree walks: fixed-radius neighbour
gathering and domain-overlap searches. */

import (
	"errors"
	"fmt"

	"github.com/astrofold/willow/lib/geom"
	"github.com/astrofold/willow/lib/particles"
)

// ErrNeighbourOverflow reports that a neighbour list did not fit in the
// caller's buffer. No partial result is returned; the caller must retry with
// a larger buffer.
var ErrNeighbourOverflow = errors.New(
	"neighbour list exceeds the output buffer capacity")

// sphereBoxOverlap returns true if the sphere at rp with radius rsearch
// intersects the box expanded by ext on every face.
func sphereBoxOverlap(rp geom.Vec, rsearch float64, box *geom.Box, ext float64) bool {
	drsqd := 0.0
	for k := 0; k < geom.NDim; k++ {
		if d := (box.Min[k] - ext) - rp[k]; d > 0 {
			drsqd += d * d
		} else if d := rp[k] - (box.Max[k] + ext); d > 0 {
			drsqd += d * d
		}
	}
	return drsqd <= rsearch*rsearch
}

// GatherNeighbourList finds every particle within rsearch of rp and writes
// its index into neiblist, returning the count. Cells are opened whenever
// their smoothing-length-extended bounding box intersects the query sphere;
// leaf chains are then tested by exact squared distance. If neiblist is too
// small the walk aborts with ErrNeighbourOverflow and the caller must retry
// with a larger buffer: a silently truncated neighbour list would corrupt
// the hydro sums downstream.
func (t *Tree) GatherNeighbourList(
	rp geom.Vec, rsearch float64, tab *particles.Table, neiblist []int32,
) (int, error) {
	nneib := 0
	rsqd := rsearch * rsearch

	c := int32(0)
	for c < int32(t.NCell) {
		cell := &t.Cells[c]

		if cell.N == 0 || !sphereBoxOverlap(rp, rsearch, &cell.Box, cell.HMax) {
			c = cell.CNext
			continue
		}
		if !cell.Leaf() {
			c = cell.C1
			continue
		}

		for i := cell.IFirst; i != nilIndex; i = t.INext[i] {
			if tab.R[i].DistSqd(rp) <= rsqd {
				if nneib >= len(neiblist) {
					return 0, ErrNeighbourOverflow
				}
				neiblist[nneib] = i
				nneib++
			}
			if i == cell.ILast {
				break
			}
		}
		c = cell.CNext
	}

	return nneib, nil
}

// CheckValidNeighbourList recomputes the neighbour list of the query point by
// brute force and checks that neiblist[:nneib] contains every true neighbour
// exactly once. It is a debug-only consistency check: any mismatch means the
// tree walk or the stocked bounding boxes are broken, and the caller should
// treat the error as fatal rather than correct the list.
func (t *Tree) CheckValidNeighbourList(
	rp geom.Vec, rsearch float64, tab *particles.Table,
	nneib int, neiblist []int32,
) error {
	rsqd := rsearch * rsearch
	for i := t.IFirst; i <= t.ILast; i++ {
		if tab.R[i].DistSqd(rp) > rsqd {
			continue
		}
		count := 0
		for j := 0; j < nneib; j++ {
			if neiblist[j] == i {
				count++
			}
		}
		if count != 1 {
			return fmt.Errorf("Problem with neighbour list: particle %d at "+
				"distance %.6g appears %d times for a search radius of %.6g.",
				i, tab.R[i].DistSqd(rp), count, rsearch)
		}
	}
	return nil
}

// DomainOverlapParticleList appends the indices of every particle owned by
// box under the half-open domain convention, walking only the cells whose
// bounding boxes overlap it. The exchange layer uses this to find migration
// candidates for a neighbouring rank's domain.
func (t *Tree) DomainOverlapParticleList(
	box geom.Box, tab *particles.Table, out []int32,
) []int32 {
	c := int32(0)
	for c < int32(t.NCell) {
		cell := &t.Cells[c]

		if cell.N == 0 || !geom.Overlap(cell.Box, box) {
			c = cell.CNext
			continue
		}
		if !cell.Leaf() {
			c = cell.C1
			continue
		}

		t.EachLeafParticle(cell, func(i int32) {
			if box.Owns(tab.R[i]) {
				out = append(out, i)
			}
		})
		c = cell.CNext
	}
	return out
}
