package diag

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gocarina/gocsv"

	"github.com/astrofold/willow/lib/geom"
	"github.com/astrofold/willow/lib/particles"
	"github.com/astrofold/willow/lib/tree"
)

func TestLoggerRoundTrip(t *testing.T) {
	l := NewLogger()
	l.Add(StepStats{Step: 0, Mode: "build", NReal: 100, NCell: 41,
		WorkMean: 4.5, WorkStd: 1.25})
	l.Add(StepStats{Step: 1, Mode: "stock", NReal: 100, NGhost: 12,
		NCell: 41})

	fname := filepath.Join(t.TempDir(), "stats.csv")
	if err := l.Write(fname); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	fp, err := os.Open(fname)
	if err != nil {
		t.Fatal(err)
	}
	defer fp.Close()

	var rows []*StepStats
	if err := gocsv.Unmarshal(fp, &rows); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Read back %d rows, expected 2.", len(rows))
	}
	if rows[0].Mode != "build" || rows[0].WorkMean != 4.5 ||
		rows[1].NGhost != 12 {
		t.Errorf("Rows changed across the round trip: %+v, %+v.",
			rows[0], rows[1])
	}
}

func TestLeafWork(t *testing.T) {
	// Eight particles at the corners of a cube with Nleafmax = 2 give a
	// perfectly balanced tree: every leaf holds exactly two particles.
	tab := particles.New(32)
	for i := 0; i < 8; i++ {
		r := geom.Vec{float64(i & 1), float64(i >> 1 & 1), float64(i >> 2)}
		tab.Append(r, geom.Vec{}, 1, 0.1, int64(i))
	}
	tr := tree.New(2, 64, tab.NMax, tree.MedianSplit{})
	tr.Build(tab, 0, tab.NReal-1)

	mean, std := LeafWork(tr)
	if math.Abs(mean-2) > 1e-15 {
		t.Errorf("Mean leaf work = %g, expected 2.", mean)
	}
	if std != 0 {
		t.Errorf("Leaf work deviation = %g for a uniform tree, expected 0.",
			std)
	}
}
