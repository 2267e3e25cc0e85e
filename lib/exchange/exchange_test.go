package exchange

import (
	"math/rand"
	"reflect"
	"sort"
	"sync"
	"testing"

	"github.com/astrofold/willow/lib/balance"
	"github.com/astrofold/willow/lib/eq"
	"github.com/astrofold/willow/lib/geom"
	"github.com/astrofold/willow/lib/particles"
	"github.com/astrofold/willow/lib/tree"
)

// rankSetup builds one rank's table and tree: n particles in the unit box
// shifted by offset along x, with ids starting at idBase.
func rankSetup(n int, seed, idBase int64, offset float64) (
	*particles.Table, *tree.Tree,
) {
	rng := rand.New(rand.NewSource(seed))
	tab := particles.New(8 * n)
	for i := 0; i < n; i++ {
		r := geom.Vec{offset + rng.Float64(), rng.Float64(), rng.Float64()}
		tab.Append(r, geom.Vec{}, 1/float64(n), 0.05, idBase+int64(i))
	}
	tr := tree.New(6, 32*n, tab.NMax, tree.MedianSplit{})
	tr.Build(tab, 0, tab.NReal-1)
	return tab, tr
}

// runPair runs one protocol closure per rank concurrently and fails the test
// on any error.
func runPair(t *testing.T, f [2]func() error) {
	var wg sync.WaitGroup
	var errs [2]error
	for rank := 0; rank < 2; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			errs[rank] = f[rank]()
		}(rank)
	}
	wg.Wait()
	for rank := 0; rank < 2; rank++ {
		if errs[rank] != nil {
			t.Fatalf("Rank %d failed: %v", rank, errs[rank])
		}
	}
}

func TestCommunicatePrunedTrees(t *testing.T) {
	group := NewChannelGroup(2)
	var tabs [2]*particles.Table
	var trs [2]*tree.Tree
	tabs[0], trs[0] = rankSetup(200, 1, 0, 0)
	tabs[1], trs[1] = rankSetup(300, 2, 1000, 2)

	ex := [2]*Exchanger{
		New(0, 2, group[0]), New(1, 2, group[1]),
	}
	var got [2][]*tree.Tree
	runPair(t, [2]func() error{
		func() (err error) {
			got[0], err = ex[0].CommunicatePrunedTrees(trs[0], 3)
			return err
		},
		func() (err error) {
			got[1], err = ex[1].CommunicatePrunedTrees(trs[1], 3)
			return err
		},
	})

	for rank := 0; rank < 2; rank++ {
		peer := 1 - rank
		want := trs[peer].BuildPruned(3)
		if got[rank][peer].Ntot != want.Ntot ||
			!reflect.DeepEqual(got[rank][peer].Cells, want.Cells) {
			t.Errorf("Rank %d's copy of rank %d's pruned tree does not "+
				"match the original.", rank, peer)
		}
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	group := NewChannelGroup(2)
	var tabs [2]*particles.Table
	var trs [2]*tree.Tree
	tabs[0], trs[0] = rankSetup(120, 3, 0, 0)
	tabs[1], trs[1] = rankSetup(150, 4, 1000, 2)

	ex := [2]*Exchanger{
		New(0, 2, group[0]), New(1, 2, group[1]),
	}

	// Rank 0 exports every active cell; rank 1 exports nothing.
	export0 := make([][]int32, 2)
	export0[1] = trs[0].ActiveCellList(nil)
	export1 := make([][]int32, 2)

	runPair(t, [2]func() error{
		func() error { return ex[0].ExportAndImport(export0, tabs[0], trs[0]) },
		func() error { return ex[1].ExportAndImport(export1, tabs[1], trs[1]) },
	})

	if got := ex[1].Manifest.ImportCount[0]; got != ex[0].Manifest.NExported() {
		t.Fatalf("Rank 1 imported %d particles, rank 0 exported %d.",
			got, ex[0].Manifest.NExported())
	}
	if trs[1].NImportedCell != len(export0[1]) {
		t.Errorf("Rank 1 spliced %d cells, rank 0 sent %d.",
			trs[1].NImportedCell, len(export0[1]))
	}
	if ex[0].Manifest.NImported() != 0 || tabs[0].NImported != 0 {
		t.Errorf("Rank 0 imported particles despite rank 1 exporting none.")
	}

	// The imported rows must mirror the exported ones field for field, in
	// send order, with the accumulators zeroed.
	first := ex[1].Manifest.ImportFirst[0]
	for j, i := range ex[0].Manifest.IDsSent[1] {
		row := first + j
		if tabs[1].IOrig[row] != tabs[0].IOrig[i] {
			t.Fatalf("Imported row %d has id %d, expected %d.",
				row, tabs[1].IOrig[row], tabs[0].IOrig[i])
		}
		if tabs[1].R[row] != tabs[0].R[i] ||
			tabs[1].M[row] != tabs[0].M[i] ||
			tabs[1].H[row] != tabs[0].H[i] {
			t.Errorf("Imported row %d does not match exported particle %d.",
				row, i)
		}
		if tabs[1].AGrav[row] != (geom.Vec{}) || tabs[1].GPot[row] != 0 {
			t.Errorf("Imported row %d arrived with non-zero accumulators.",
				row)
		}
		if !tabs[1].Active[row] {
			t.Errorf("Imported row %d is inactive; imports exist to have "+
				"forces computed.", row)
		}
	}

	// Each imported cell's chain must cover exactly its particle range.
	for _, c := range trs[1].ImportedCells() {
		cell := &trs[1].Cells[c]
		count := int32(0)
		trs[1].EachLeafParticle(cell, func(i int32) {
			if i < cell.IFirst || i > cell.ILast {
				t.Errorf("Imported cell %d's chain reaches index %d "+
					"outside [%d, %d].", c, i, cell.IFirst, cell.ILast)
			}
			count++
		})
		if count != cell.N {
			t.Errorf("Imported cell %d's chain covers %d particles, "+
				"expected %d.", c, count, cell.N)
		}
	}

	// Stamp deltas on the imported rows and send them home.
	count := ex[1].Manifest.ImportCount[0]
	for j := first; j < first+count; j++ {
		tabs[1].A[j] = geom.Vec{1, 2, 3}
		tabs[1].AGrav[j] = geom.Vec{4, 5, 6}
		tabs[1].GPot[j] = 7
		tabs[1].GPE[j] = 8
		tabs[1].Dudt[j] = 9
		tabs[1].DivV[j] = 10
		tabs[1].LevelNeib[j] = 5
	}

	runPair(t, [2]func() error{
		func() error { return ex[0].ReturnExportedForces(tabs[0]) },
		func() error { return ex[1].ReturnExportedForces(tabs[1]) },
	})

	for _, i := range ex[0].Manifest.IDsSent[1] {
		if tabs[0].A[i] != (geom.Vec{1, 2, 3}) ||
			tabs[0].AGrav[i] != (geom.Vec{4, 5, 6}) ||
			tabs[0].GPot[i] != 7 || tabs[0].GPE[i] != 8 ||
			tabs[0].Dudt[i] != 9 || tabs[0].DivV[i] != 10 {
			t.Errorf("Exported particle %d did not receive its deltas.", i)
			break
		}
		if tabs[0].LevelNeib[i] != 5 {
			t.Errorf("Exported particle %d has levelneib %d, expected the "+
				"max-merge to give 5.", i, tabs[0].LevelNeib[i])
			break
		}
	}
}

func TestRepeatedExportRounds(t *testing.T) {
	group := NewChannelGroup(2)
	var tabs [2]*particles.Table
	var trs [2]*tree.Tree
	tabs[0], trs[0] = rankSetup(80, 9, 0, 0)
	tabs[1], trs[1] = rankSetup(60, 10, 1000, 2)

	ex := [2]*Exchanger{
		New(0, 2, group[0]), New(1, 2, group[1]),
	}

	// Both ranks export every local active cell, computed once up front so
	// both rounds ship the same payload.
	var exports [2][][]int32
	for rank := 0; rank < 2; rank++ {
		exports[rank] = make([][]int32, 2)
		exports[rank][1-rank] = trs[rank].ActiveCellList(nil)
	}
	round := func(rank int) func() error {
		return func() error {
			return ex[rank].ExportAndImport(exports[rank], tabs[rank], trs[rank])
		}
	}

	runPair(t, [2]func() error{round(0), round(1)})
	var nimp, ntot, ncell [2]int
	for rank := 0; rank < 2; rank++ {
		nimp[rank] = tabs[rank].NImported
		ntot[rank] = tabs[rank].Ntot()
		ncell[rank] = trs[rank].NImportedCell
	}

	// A second round replaces the first one's imports instead of stacking
	// behind them.
	runPair(t, [2]func() error{round(0), round(1)})
	for rank := 0; rank < 2; rank++ {
		if tabs[rank].NImported != nimp[rank] ||
			tabs[rank].Ntot() != ntot[rank] {
			t.Errorf("Rank %d holds %d imports (Ntot %d) after the second "+
				"round, %d (Ntot %d) after the first.", rank,
				tabs[rank].NImported, tabs[rank].Ntot(),
				nimp[rank], ntot[rank])
		}
		if trs[rank].NImportedCell != ncell[rank] {
			t.Errorf("Rank %d holds %d imported cells after the second "+
				"round, %d after the first.", rank,
				trs[rank].NImportedCell, ncell[rank])
		}
	}
}

func TestGatherWorkPoints(t *testing.T) {
	group := NewChannelGroup(2)
	ex := [2]*Exchanger{
		New(0, 2, group[0]), New(1, 2, group[1]),
	}

	own := [2][]balance.WorkPoint{
		{{R: geom.Vec{0.1, 0, 0}, W: 1}, {R: geom.Vec{0.2, 0, 0}, W: 2}},
		{{R: geom.Vec{0.7, 0, 0}, W: 3}, {R: geom.Vec{0.8, 0, 0}, W: 4},
			{R: geom.Vec{0.9, 0, 0}, W: 5}},
	}

	var got [2][]balance.WorkPoint
	runPair(t, [2]func() error{
		func() (err error) {
			got[0], err = ex[0].GatherWorkPoints(own[0])
			return err
		},
		func() (err error) {
			got[1], err = ex[1].GatherWorkPoints(own[1])
			return err
		},
	})

	want := append(append([]balance.WorkPoint{}, own[0]...), own[1]...)
	for rank := 0; rank < 2; rank++ {
		if !reflect.DeepEqual(got[rank], want) {
			t.Errorf("Rank %d gathered %v, expected the rank-ordered "+
				"combination %v.", rank, got[rank], want)
		}
	}
}

func TestMigrateParticles(t *testing.T) {
	group := NewChannelGroup(2)
	var tabs [2]*particles.Table
	var trs [2]*tree.Tree
	// Both ranks hold particles spread over [0, 1), so each owns some of
	// the other's after the domain is cut at x = 0.5.
	tabs[0], trs[0] = rankSetup(100, 5, 0, 0)
	tabs[1], trs[1] = rankSetup(100, 6, 1000, 0)

	domains := []geom.Box{
		{Min: geom.Vec{0, 0, 0}, Max: geom.Vec{0.5, 1, 1}},
		{Min: geom.Vec{0.5, 0, 0}, Max: geom.Vec{1, 1, 1}},
	}
	ex := [2]*Exchanger{
		New(0, 2, group[0]), New(1, 2, group[1]),
	}

	nrealBefore := tabs[0].NReal + tabs[1].NReal
	idsBefore := sortedIDs(tabs)

	var sent, recv [2]int
	runPair(t, [2]func() error{
		func() (err error) {
			transfer := ex[0].FindTransferParticles(domains, tabs[0], trs[0])
			sent[0], recv[0], err = ex[0].MigrateParticles(
				transfer, tabs[0], trs[0])
			return err
		},
		func() (err error) {
			transfer := ex[1].FindTransferParticles(domains, tabs[1], trs[1])
			sent[1], recv[1], err = ex[1].MigrateParticles(
				transfer, tabs[1], trs[1])
			return err
		},
	})

	if sent[0] != recv[1] || sent[1] != recv[0] {
		t.Errorf("Send/receive counts disagree: rank 0 sent %d and got %d, "+
			"rank 1 sent %d and got %d.", sent[0], recv[0], sent[1], recv[1])
	}
	if tabs[0].NReal+tabs[1].NReal != nrealBefore {
		t.Errorf("Migration changed the total particle count from %d to %d.",
			nrealBefore, tabs[0].NReal+tabs[1].NReal)
	}

	for rank := 0; rank < 2; rank++ {
		for i := 0; i < tabs[rank].NReal; i++ {
			if !domains[rank].Contains(tabs[rank].R[i]) {
				t.Errorf("Rank %d still holds particle %d at %v outside "+
					"its domain.", rank, tabs[rank].IOrig[i], tabs[rank].R[i])
			}
		}
	}
	if !eq.Int64s(idsBefore, sortedIDs(tabs)) {
		t.Errorf("Migration lost or duplicated particle ids.")
	}
}

func TestMigrateParticlesCutBoundary(t *testing.T) {
	group := NewChannelGroup(2)
	var tabs [2]*particles.Table
	var trs [2]*tree.Tree
	tabs[0], trs[0] = rankSetup(50, 7, 0, 0)
	tabs[1], trs[1] = rankSetup(50, 8, 1000, 0)

	// One particle per rank sits exactly on the cut plane. The half-open
	// ownership convention assigns both to the upper side, so rank 0's copy
	// must migrate exactly once and rank 1's must stay put.
	tabs[0].Append(geom.Vec{0.5, 0.25, 0.25}, geom.Vec{}, 0.02, 0.05, 500)
	tabs[1].Append(geom.Vec{0.5, 0.75, 0.75}, geom.Vec{}, 0.02, 0.05, 1500)
	trs[0].Build(tabs[0], 0, tabs[0].NReal-1)
	trs[1].Build(tabs[1], 0, tabs[1].NReal-1)

	domains := []geom.Box{
		{Min: geom.Vec{0, 0, 0}, Max: geom.Vec{0.5, 1, 1}},
		{Min: geom.Vec{0.5, 0, 0}, Max: geom.Vec{1, 1, 1}},
	}
	ex := [2]*Exchanger{
		New(0, 2, group[0]), New(1, 2, group[1]),
	}

	runPair(t, [2]func() error{
		func() (err error) {
			transfer := ex[0].FindTransferParticles(domains, tabs[0], trs[0])
			_, _, err = ex[0].MigrateParticles(transfer, tabs[0], trs[0])
			return err
		},
		func() (err error) {
			transfer := ex[1].FindTransferParticles(domains, tabs[1], trs[1])
			_, _, err = ex[1].MigrateParticles(transfer, tabs[1], trs[1])
			return err
		},
	})

	count := func(id int64) (n, owner int) {
		for rank := 0; rank < 2; rank++ {
			for i := 0; i < tabs[rank].NReal; i++ {
				if tabs[rank].IOrig[i] == id {
					n++
					owner = rank
				}
			}
		}
		return n, owner
	}

	if n, owner := count(500); n != 1 || owner != 1 {
		t.Errorf("The cut-plane particle from rank 0 appears %d times with "+
			"final owner %d, expected once on rank 1.", n, owner)
	}
	if n, owner := count(1500); n != 1 || owner != 1 {
		t.Errorf("The cut-plane particle from rank 1 appears %d times with "+
			"final owner %d, expected once on rank 1.", n, owner)
	}
}

// sortedIDs flattens both ranks' real-particle ids into one sorted list.
func sortedIDs(tabs [2]*particles.Table) []int64 {
	ids := []int64{}
	for rank := 0; rank < 2; rank++ {
		for i := 0; i < tabs[rank].NReal; i++ {
			ids = append(ids, tabs[rank].IOrig[i])
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
