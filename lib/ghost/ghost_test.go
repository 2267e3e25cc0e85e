package ghost

import (
	"math"
	"math/rand"
	"testing"

	"github.com/astrofold/willow/lib/geom"
	"github.com/astrofold/willow/lib/particles"
	"github.com/astrofold/willow/lib/tree"
)

const testH = 0.04

func testDomain(bounds ...geom.BoundaryKind) *geom.DomainBox {
	box := &geom.DomainBox{}
	for k := 0; k < geom.NDim; k++ {
		box.Min[k], box.Max[k] = 0, 1
		box.Bound[k] = geom.Open
	}
	for k, b := range bounds {
		box.Bound[k] = b
	}
	return box
}

func randomSetup(n int, seed int64) (*particles.Table, *tree.Tree) {
	rng := rand.New(rand.NewSource(seed))
	tab := particles.New(8 * n)
	for i := 0; i < n; i++ {
		r := geom.Vec{rng.Float64(), rng.Float64(), rng.Float64()}
		tab.Append(r, geom.Vec{}, 1/float64(n), testH, int64(i))
	}
	tr := tree.New(6, 16*n, tab.NMax, tree.MedianSplit{})
	tr.Build(tab, 0, tab.NReal-1)
	return tab, tr
}

// expectedGhosts brute-forces the ghost count: each particle contributes an
// image for every non-open axis edge it is close to, and images of images
// for every combination of such axes.
func expectedGhosts(tab *particles.Table, box *geom.DomainBox, grange float64) int {
	n := 0
	for i := 0; i < tab.NReal; i++ {
		images := 1
		for k := 0; k < geom.NDim; k++ {
			if box.AxisOpen(k) {
				continue
			}
			edges := 0
			if tab.R[i][k] < box.Min[k]+grange*tab.H[i] {
				edges++
			}
			if tab.R[i][k] > box.Max[k]-grange*tab.H[i] {
				edges++
			}
			images *= 1 + edges
		}
		n += images - 1
	}
	return n
}

func TestPeriodicGhostCount(t *testing.T) {
	tests := []struct {
		bounds []geom.BoundaryKind
	}{
		{[]geom.BoundaryKind{geom.Periodic}},
		{[]geom.BoundaryKind{geom.Periodic, geom.Periodic}},
		{[]geom.BoundaryKind{geom.Periodic, geom.Periodic, geom.Periodic}},
		{[]geom.BoundaryKind{geom.Mirror, geom.Periodic}},
	}

	for i := range tests {
		tab, tr := randomSetup(500, int64(100+i))
		box := testDomain(tests[i].bounds...)
		g := New(1.6, 2.0)

		nghost := g.SearchBoundary(0, box, tab, tr)
		want := expectedGhosts(tab, box, 1.6*2.0)
		if nghost != want {
			t.Errorf("%d) SearchBoundary made %d ghosts, brute force "+
				"expects %d.", i, nghost, want)
		}
		if nghost != tab.NPeriodicGhost {
			t.Errorf("%d) SearchBoundary returned %d but the table holds "+
				"%d ghosts.", i, nghost, tab.NPeriodicGhost)
		}
	}
}

func TestPeriodicGhostOffsets(t *testing.T) {
	tab, tr := randomSetup(400, 55)
	box := testDomain(geom.Periodic, geom.Periodic, geom.Periodic)
	g := New(1.6, 2.0)
	g.SearchBoundary(0, box, tab, tr)

	for j := tab.NReal; j < tab.Ntot(); j++ {
		i := int(tab.IOrig[j])
		for k := 0; k < geom.NDim; k++ {
			d := tab.R[j][k] - tab.R[i][k]
			if d != 0 && math.Abs(math.Abs(d)-box.Width(k)) > 1e-15 {
				t.Errorf("Ghost %d of particle %d is offset by %g along "+
					"axis %d; offsets must be 0 or the box width.",
					j, i, d, k)
			}
		}
		if tab.R[j] == tab.R[i] {
			t.Errorf("Ghost %d coincides with its parent %d.", j, i)
		}
		if tab.M[j] != tab.M[i] || tab.H[j] != tab.H[i] {
			t.Errorf("Ghost %d does not carry its parent's mass and "+
				"smoothing length.", j)
		}
	}
}

func TestMirrorGhostReflection(t *testing.T) {
	tab := particles.New(32)
	tab.Append(geom.Vec{0.02, 0.5, 0.5}, geom.Vec{2, 1, 1}, 1, testH, 0)
	tr := tree.New(4, 64, tab.NMax, tree.MedianSplit{})
	tr.Build(tab, 0, tab.NReal-1)

	box := testDomain(geom.Mirror)
	g := New(1.6, 2.0)
	if nghost := g.SearchBoundary(0, box, tab, tr); nghost != 1 {
		t.Fatalf("Made %d ghosts, expected 1.", nghost)
	}

	if tab.R[1][0] != -0.02 {
		t.Errorf("Mirror ghost sits at x = %g, expected %g.",
			tab.R[1][0], -0.02)
	}
	if tab.V[1] != (geom.Vec{-2, 1, 1}) {
		t.Errorf("Mirror ghost velocity = %v, expected {-2 1 1}.", tab.V[1])
	}
}

func TestAllOpenSkips(t *testing.T) {
	tab, tr := randomSetup(100, 77)
	g := New(1.6, 2.0)
	if nghost := g.SearchBoundary(0, testDomain(), tab, tr); nghost != 0 {
		t.Errorf("Open domain produced %d ghosts.", nghost)
	}
}

func TestGhostLifetime(t *testing.T) {
	tab, tr := randomSetup(100, 78)
	box := testDomain(geom.Periodic)
	g := New(1.6, 2.0)

	g.SearchBoundary(0.5, box, tab, tr)
	if g.Stale() {
		t.Errorf("Ghosts are stale immediately after a search.")
	}
	g.Advance(0.3)
	if g.Stale() {
		t.Errorf("Ghosts went stale at age 0.3 with lifetime 0.5.")
	}
	g.Advance(0.3)
	if !g.Stale() {
		t.Errorf("Ghosts are not stale at age 0.6 with lifetime 0.5.")
	}
}

func TestRepeatedSearchResets(t *testing.T) {
	tab, tr := randomSetup(300, 79)
	box := testDomain(geom.Periodic, geom.Periodic)
	g := New(1.6, 2.0)

	first := g.SearchBoundary(0, box, tab, tr)
	second := g.SearchBoundary(0, box, tab, tr)
	if first != second {
		t.Errorf("Two identical searches made %d then %d ghosts; the "+
			"second search must discard the first generation.", first, second)
	}
}
