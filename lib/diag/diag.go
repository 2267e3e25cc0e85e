/*package diag collects per-step statistics and writes them out as CSV so
runs can be compared and balance regressions spotted without attaching a
profiler.*/
package diag

import (
	"os"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/stat"

	"github.com/astrofold/willow/lib/tree"
)

// StepStats is one CSV row of step-level counters.
type StepStats struct {
	Step      int     `csv:"step"`
	Mode      string  `csv:"mode"`
	NReal     int     `csv:"n_real"`
	NGhost    int     `csv:"n_ghost"`
	NImported int     `csv:"n_imported"`
	NExported int     `csv:"n_exported"`
	NCell     int     `csv:"n_cell"`
	WorkMean  float64 `csv:"work_mean"`
	WorkStd   float64 `csv:"work_std"`
}

// Logger accumulates rows in memory and writes them in one shot. Step
// loops are long and rows are tiny, so buffering everything is fine and
// keeps the hot path free of file I/O.
type Logger struct {
	rows []*StepStats
}

func NewLogger() *Logger { return &Logger{} }

// Add records one step's row.
func (l *Logger) Add(s StepStats) {
	row := s
	l.rows = append(l.rows, &row)
}

// Len returns the number of recorded rows.
func (l *Logger) Len() int { return len(l.rows) }

// Rows returns the recorded rows in step order.
func (l *Logger) Rows() []*StepStats { return l.rows }

// Write stores every recorded row in fname as CSV with a header line.
func (l *Logger) Write(fname string) error {
	fp, err := os.Create(fname)
	if err != nil {
		return err
	}
	defer fp.Close()
	return gocsv.Marshal(&l.rows, fp)
}

// LeafWork returns the mean and standard deviation of the per-leaf particle
// counts of the tree's local cells, a cheap proxy for how evenly the work of
// a walk spreads over the hierarchy.
func LeafWork(tr *tree.Tree) (mean, std float64) {
	var work []float64
	for c := 0; c < tr.NCell; c++ {
		cell := &tr.Cells[c]
		if !cell.Leaf() || cell.N == 0 {
			continue
		}
		work = append(work, float64(cell.N))
	}

	if len(work) == 0 {
		return 0, 0
	}
	mean = stat.Mean(work, nil)
	if len(work) < 2 {
		return mean, 0
	}
	return mean, stat.StdDev(work, nil)
}
