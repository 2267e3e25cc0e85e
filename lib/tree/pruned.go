package tree

/* pruned.go builds the depth-truncated tree summaries sent to other ranks
and manages the cells imported back from them. */

import (
	"github.com/astrofold/willow/lib/errs"
)

// BuildPruned copies this tree's cells down to and including plevel into a
// fresh Tree with relinked child/next pointers. The copy carries aggregates
// but no particle data, so its message size is bounded by the pruning level
// rather than the local particle count. Truncated interior cells become
// leaves of the pruned tree; a multipole-acceptance walk that cannot accept
// one of them has exhausted the summary's resolution.
func (t *Tree) BuildPruned(plevel int32) *Tree {
	p := &Tree{
		Nleafmax: t.Nleafmax,
		NCellMax: t.NCellMax,
		IFirst:   t.IFirst,
		ILast:    t.ILast,
		Ntot:     t.Ntot,
		LTot:     plevel,
	}
	if t.NCell > 0 {
		p.copyPruned(t, 0, plevel)
	}
	p.NCell = len(p.Cells)
	p.NCellTot = p.NCell
	return p
}

func (p *Tree) copyPruned(src *Tree, c int32, plevel int32) int32 {
	cell := src.Cells[c]
	nc := int32(len(p.Cells))
	p.Cells = append(p.Cells, cell)

	if cell.Leaf() || cell.Level >= plevel {
		p.Cells[nc].C1, p.Cells[nc].C2 = nilIndex, nilIndex
	} else {
		c1 := p.copyPruned(src, cell.C1, plevel)
		c2 := p.copyPruned(src, cell.C2, plevel)
		p.Cells[nc].C1, p.Cells[nc].C2 = c1, c2
	}
	p.Cells[nc].CNext = int32(len(p.Cells))
	return nc
}

// AppendImportedCell splices a cell received from another rank past the
// local cells and returns its index. Imported cells are not linked into the
// walk structure; they act purely as active-cell work items whose particles
// were appended to the table by the same import. Overflow is fatal.
func (t *Tree) AppendImportedCell(cell Cell) int32 {
	if t.NCellTot >= t.NCellMax {
		errs.Internal("Tree cell overflow while importing: all %d cell "+
			"slots are in use. The run must be restarted with a larger "+
			"ncellmax or rebalanced more aggressively.", t.NCellMax)
	}
	c := int32(t.NCellTot)
	t.Cells = append(t.Cells[:t.NCellTot], cell)
	t.NCellTot++
	t.NImportedCell++
	return c
}

// LinkImportedParticles threads a contiguous imported particle range
// [ifirst, ilast] onto the INext chain so the usual leaf loops work on
// imported cells.
func (t *Tree) LinkImportedParticles(ifirst, ilast int32) {
	for i := ifirst; i < ilast; i++ {
		t.INext[i] = i + 1
	}
	if ilast >= ifirst {
		t.INext[ilast] = nilIndex
	}
}

// ResetImports drops every imported cell, restoring the tree to its local
// generation. The matching particle-side reset happens in the table.
func (t *Tree) ResetImports() {
	t.Cells = t.Cells[:t.NCell]
	t.NCellTot = t.NCell
	t.NImportedCell = 0
}

// ImportedCells returns the indices of the currently spliced-in cells.
func (t *Tree) ImportedCells() []int32 {
	out := make([]int32, 0, t.NImportedCell)
	for c := t.NCell; c < t.NCellTot; c++ {
		out = append(out, int32(c))
	}
	return out
}
