/*package ic loads initial conditions from CSV files. The format is a plain
header-labelled table so test fixtures and quick experiments can be written
by hand or from a script; it is not a snapshot format.*/
package ic

import (
	"fmt"
	"os"

	"github.com/gocarina/gocsv"

	"github.com/astrofold/willow/lib/geom"
	"github.com/astrofold/willow/lib/particles"
)

// Row is one particle of an initial-conditions file.
type Row struct {
	X  float64 `csv:"x"`
	Y  float64 `csv:"y"`
	Z  float64 `csv:"z"`
	VX float64 `csv:"vx"`
	VY float64 `csv:"vy"`
	VZ float64 `csv:"vz"`
	M  float64 `csv:"m"`
	H  float64 `csv:"h"`
}

// Read loads fname into tab, assigning ids in file order. The table must be
// freshly created: ids are only unique if nothing was appended before.
func Read(fname string, tab *particles.Table) (int, error) {
	fp, err := os.Open(fname)
	if err != nil {
		return 0, err
	}
	defer fp.Close()

	var rows []*Row
	if err := gocsv.Unmarshal(fp, &rows); err != nil {
		return 0, fmt.Errorf("Error reading IC file %s: %v", fname, err)
	}
	if len(rows) > tab.NMax {
		return 0, fmt.Errorf("The IC file %s holds %d particles, but the "+
			"table only has room for %d. Increase tree.nmax.",
			fname, len(rows), tab.NMax)
	}

	for i, row := range rows {
		if row.M <= 0 || row.H <= 0 {
			return 0, fmt.Errorf("Particle %d of %s has m = %g and h = %g. "+
				"Both must be positive.", i, fname, row.M, row.H)
		}
		tab.Append(
			geom.Vec{row.X, row.Y, row.Z},
			geom.Vec{row.VX, row.VY, row.VZ},
			row.M, row.H, int64(i),
		)
	}
	return len(rows), nil
}
