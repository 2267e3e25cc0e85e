/*package tree contains the hierarchical spatial partition over the particle
table: cell construction, bottom-up stocking of aggregate properties, cheap
extrapolation between rebuilds, fixed-radius neighbour walks, and the
multipole-acceptance walks used by the gravity and exchange layers.

Cells form a binary hierarchy laid out in depth-first order, so a cell's
first child is always the next cell in the array and CNext skips its whole
subtree. Leaves hold at most Nleafmax particles threaded on the INext index
chain; the chain continues across leaves in depth-first order, which makes an
interior cell's [IFirst, ILast] span traversable with the same loop as a
leaf's.*/
package tree

import (
	"github.com/astrofold/willow/lib/errs"
	"github.com/astrofold/willow/lib/geom"
	"github.com/astrofold/willow/lib/particles"
)

const nilIndex = -1

// Cell is one node of the hierarchy. Every field is fixed-size so the
// exchange layer can serialize cells as flat records.
type Cell struct {
	geom.Box
	// R is the center of mass and V the mass-weighted bulk velocity.
	R, V geom.Vec
	// M is the total mass, HMax the largest smoothing length of any
	// contained particle, and RMax the half-diagonal of the bounding box.
	M, HMax, RMax float64
	// MAC is the stocked coefficient for the potential-scaled opening
	// criterion, m * (2*RMax)^2.
	MAC float64
	// Q is the traceless quadrupole moment about R, packed as
	// {Qxx, Qyy, Qxy, Qxz, Qyz}; Qzz = -Qxx - Qyy.
	Q [5]float64

	Level          int32
	C1, C2, CNext  int32
	IFirst, ILast  int32
	N, NActive     int32
}

// Leaf returns true if the cell has no children.
func (c *Cell) Leaf() bool { return c.C1 == nilIndex }

// Splitter chooses how an interior cell divides its particles between its
// two children. The two provided strategies are the k-d median split and the
// octant-style midpoint split.
type Splitter interface {
	// Split reorders idx so idx[:cut] belongs to the first child and
	// idx[cut:] to the second, and returns cut with 0 < cut < len(idx).
	Split(r []geom.Vec, idx []int32, box geom.Box) int
}

// MedianSplit is the k-d strategy: it splits at the median coordinate along
// the axis of greatest extent, giving children with equal particle counts.
type MedianSplit struct{}

// MidpointSplit is the octant-style strategy: it splits at the geometric
// midpoint of the box along the axis of greatest extent, giving spatially
// regular cells at the cost of unbalanced counts. It falls back to the
// median when every particle lands on one side.
type MidpointSplit struct{}

func longestAxis(box *geom.Box) int {
	k, span := 0, box.Max[0]-box.Min[0]
	for kk := 1; kk < geom.NDim; kk++ {
		if s := box.Max[kk] - box.Min[kk]; s > span {
			k, span = kk, s
		}
	}
	return k
}

func (MedianSplit) Split(r []geom.Vec, idx []int32, box geom.Box) int {
	k := longestAxis(&box)
	mid := len(idx) / 2
	quickSelect(r, idx, 0, len(idx)-1, mid, k)
	return mid
}

func (MidpointSplit) Split(r []geom.Vec, idx []int32, box geom.Box) int {
	k := longestAxis(&box)
	pivot := 0.5 * (box.Min[k] + box.Max[k])

	cut := 0
	for i := range idx {
		if r[idx[i]][k] < pivot {
			idx[cut], idx[i] = idx[i], idx[cut]
			cut++
		}
	}
	if cut == 0 || cut == len(idx) {
		return MedianSplit{}.Split(r, idx, box)
	}
	return cut
}

// quickSelect partitions idx[left:right+1] so that the element with rank
// target along axis k sits at position target, in O(n) on average.
func quickSelect(r []geom.Vec, idx []int32, left, right, target, k int) {
	for left < right {
		pivot := r[idx[(left+right)/2]][k]
		i, j := left, right
		for i <= j {
			for r[idx[i]][k] < pivot {
				i++
			}
			for r[idx[j]][k] > pivot {
				j--
			}
			if i <= j {
				idx[i], idx[j] = idx[j], idx[i]
				i++
				j--
			}
		}
		if target <= j {
			right = j
		} else if target >= i {
			left = i
		} else {
			return
		}
	}
}

// Tree is the spatial hierarchy over one contiguous index range of the
// particle table. One generation of cells lives from one Build call to the
// next; Stock and Extrapolate refresh aggregates without restructuring.
type Tree struct {
	Cells []Cell
	// INext threads particles into per-leaf chains, continued across leaves
	// in depth-first order. Indexed by particle index; nilIndex terminates.
	INext []int32

	Nleafmax int
	// NCellMax bounds the cell arena, including headroom for cells imported
	// by the exchange layer. Exceeding it is fatal.
	NCellMax int
	Split    Splitter

	// IFirst and ILast bound the particle index range covered by this tree.
	IFirst, ILast int32
	Ntot          int
	// LTot is the deepest level of the current generation.
	LTot int32

	// NCell counts local cells; NCellTot additionally counts imported
	// cells appended past them by the exchange layer.
	NCell, NCellTot, NImportedCell int

	idx        []int32 // build scratch
	lastLinked int32   // tail of the cross-leaf INext chain during build
}

// New creates a Tree. nmax is the particle table capacity (which sizes the
// INext chain), ncellmax bounds the cell arena.
func New(nleafmax, ncellmax, nmax int, split Splitter) *Tree {
	if nleafmax < 1 {
		errs.External("Invalid Nleafmax = %d; it must be at least 1.",
			nleafmax)
	}
	return &Tree{
		Cells:    make([]Cell, 0, ncellmax),
		INext:    make([]int32, nmax),
		Nleafmax: nleafmax,
		NCellMax: ncellmax,
		Split:    split,
	}
}

// Build partitions the particle index range [ifirst, ilast] into a fresh
// cell hierarchy and stocks it. All cached aggregates of the previous
// generation are invalidated. Building past NCellMax is fatal: the tree
// would no longer have headroom for the import splice.
func (t *Tree) Build(tab *particles.Table, ifirst, ilast int) {
	n := ilast - ifirst + 1
	if n < 0 {
		n = 0
	}
	t.IFirst, t.ILast = int32(ifirst), int32(ilast)
	t.Ntot = n
	t.Cells = t.Cells[:0]
	t.LTot = 0
	t.lastLinked = nilIndex

	if cap(t.idx) < n {
		t.idx = make([]int32, n)
	}
	t.idx = t.idx[:n]
	for i := 0; i < n; i++ {
		t.idx[i] = int32(ifirst + i)
	}

	t.buildCell(tab, t.idx, 0)
	if t.lastLinked != nilIndex {
		t.INext[t.lastLinked] = nilIndex
	}

	t.NCell = len(t.Cells)
	t.NCellTot = t.NCell
	t.NImportedCell = 0

	t.Stock(tab)
}

// buildCell appends the cell covering idx and, recursively, its subtree.
// Returns the new cell's index.
func (t *Tree) buildCell(tab *particles.Table, idx []int32, level int32) int32 {
	c := int32(len(t.Cells))
	if len(t.Cells) >= t.NCellMax {
		errs.Internal("Tree cell overflow: building needs more than the "+
			"allocated %d cells. Increase ncellmax.", t.NCellMax)
	}
	t.Cells = append(t.Cells, Cell{Level: level, C1: nilIndex, C2: nilIndex})
	if level > t.LTot {
		t.LTot = level
	}

	if len(idx) <= t.Nleafmax {
		t.linkLeaf(c, idx)
		t.Cells[c].CNext = int32(len(t.Cells))
		return c
	}

	// Particle extents drive the split decision; stocking recomputes the
	// stored bounding boxes afterwards.
	box := geom.EmptyBox()
	for _, i := range idx {
		box.Absorb(tab.R[i])
	}

	cut := t.Split.Split(tab.R, idx, box)
	c1 := t.buildCell(tab, idx[:cut], level+1)
	c2 := t.buildCell(tab, idx[cut:], level+1)

	t.Cells[c].C1, t.Cells[c].C2 = c1, c2
	t.Cells[c].IFirst = t.Cells[c1].IFirst
	t.Cells[c].ILast = t.Cells[c2].ILast
	if t.Cells[c].IFirst == nilIndex {
		t.Cells[c].IFirst = t.Cells[c2].IFirst
	}
	if t.Cells[c].ILast == nilIndex {
		t.Cells[c].ILast = t.Cells[c1].ILast
	}
	t.Cells[c].CNext = int32(len(t.Cells))
	return c
}

// linkLeaf threads idx onto the INext chain and records the leaf's range
// endpoints.
func (t *Tree) linkLeaf(c int32, idx []int32) {
	cell := &t.Cells[c]
	if len(idx) == 0 {
		cell.IFirst, cell.ILast = nilIndex, nilIndex
		return
	}

	cell.IFirst, cell.ILast = idx[0], idx[len(idx)-1]
	if t.lastLinked != nilIndex {
		t.INext[t.lastLinked] = idx[0]
	}
	for j := 0; j+1 < len(idx); j++ {
		t.INext[idx[j]] = idx[j+1]
	}
	t.lastLinked = idx[len(idx)-1]
}

// EachLeafParticle calls f for every particle in the cell's chain span.
// It works for interior cells too, since the chain is continuous across
// leaves in depth-first order.
func (t *Tree) EachLeafParticle(c *Cell, f func(i int32)) {
	if c.IFirst == nilIndex {
		return
	}
	for i := c.IFirst; i != nilIndex; i = t.INext[i] {
		f(i)
		if i == c.ILast {
			break
		}
	}
}
