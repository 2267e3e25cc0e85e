/*package config reads the INI-style run configuration and resolves its
string-keyed switches into closed typed values exactly once, so nothing
downstream ever branches on raw strings. Every validation failure is
reported at setup time through an ordinary error; after Resolve succeeds, no
configuration state can fail mid-run.*/
package config

import (
	"fmt"

	"gopkg.in/gcfg.v1"

	"github.com/astrofold/willow/lib/format"
	"github.com/astrofold/willow/lib/geom"
	"github.com/astrofold/willow/lib/gravity"
	"github.com/astrofold/willow/lib/tree"
)

// File mirrors the configuration file layout. gcfg maps the variable
// Nleafmax of section [tree] onto Tree.Nleafmax and so on.
type File struct {
	Tree struct {
		Nleafmax      int
		Ncellmax      int
		Nmax          int
		Split         string
		RebuildPeriod int
		StockPeriod   int
		PruneLevel    int
	}
	Gravity struct {
		Mac         string
		Thetamaxsqd float64
		Macerror    float64
		Multipole   string
	}
	Ghost struct {
		GhostRange float64
		KernRange  float64
	}
	Domain struct {
		XBound, YBound, ZBound string
		XMin, XMax             float64
		YMin, YMax             float64
		ZMin, ZMax             float64
	}
	Run struct {
		Ranks    int
		Threads  int
		WorkTol  float64
		Diag     string
		Snapshot string
	}
}

// DefaultFile returns the File that an empty configuration resolves from.
func DefaultFile() File {
	var f File
	f.Tree.Nleafmax = 8
	f.Tree.Split = "median"
	f.Tree.RebuildPeriod = 8
	f.Tree.StockPeriod = 1
	f.Tree.PruneLevel = 6
	f.Gravity.Mac = "geometric"
	f.Gravity.Thetamaxsqd = 0.15
	f.Gravity.Macerror = 1e-4
	f.Gravity.Multipole = "monopole"
	f.Ghost.GhostRange = 1.6
	f.Ghost.KernRange = 2.0
	f.Domain.XBound = "open"
	f.Domain.YBound = "open"
	f.Domain.ZBound = "open"
	f.Run.Ranks = 1
	f.Run.Threads = -1
	f.Run.WorkTol = 1e-3
	return f
}

// Config is the resolved configuration. All string switches have become
// typed values and all numbers have been validated.
type Config struct {
	Nleafmax, NCellMax, NMax   int
	Split                      tree.Splitter
	RebuildPeriod, StockPeriod int
	PruneLevel                 int32

	MAC       tree.MAC
	Multipole gravity.Multipole

	GhostRange, KernRange float64

	Domain geom.DomainBox

	Ranks, Threads int
	WorkTol        float64
	Diag, Snapshot string
}

// Read parses fname and resolves it. Absent variables take their defaults.
func Read(fname string) (*Config, error) {
	f := DefaultFile()
	if err := gcfg.ReadFileInto(&f, fname); err != nil {
		return nil, fmt.Errorf("Error reading config file %s: %v", fname, err)
	}
	return f.Resolve()
}

// Resolve validates f and converts it into a Config.
func (f *File) Resolve() (*Config, error) {
	c := &Config{}

	if f.Tree.Nmax < 1 {
		return nil, fmt.Errorf("The variable tree.Nmax was set to %d. It "+
			"must be at least 1 and must leave headroom for ghost and "+
			"imported particles.", f.Tree.Nmax)
	}
	c.NMax = f.Tree.Nmax

	if f.Tree.Nleafmax < 1 {
		return nil, fmt.Errorf("The variable tree.Nleafmax was set to %d. "+
			"It must be at least 1.", f.Tree.Nleafmax)
	}
	c.Nleafmax = f.Tree.Nleafmax

	c.NCellMax = f.Tree.Ncellmax
	if c.NCellMax == 0 {
		// A binary tree over nmax particles has below 2*nmax cells; the rest
		// is headroom for the import splice.
		c.NCellMax = 4 * c.NMax
	}
	if c.NCellMax < 1 {
		return nil, fmt.Errorf("The variable tree.Ncellmax was set to %d. "+
			"It must be positive.", f.Tree.Ncellmax)
	}

	switch f.Tree.Split {
	case "median":
		c.Split = tree.MedianSplit{}
	case "midpoint":
		c.Split = tree.MidpointSplit{}
	default:
		return nil, fmt.Errorf("The variable tree.Split was set to '%s'. "+
			"Only 'median' and 'midpoint' are valid.", f.Tree.Split)
	}

	if f.Tree.RebuildPeriod < 1 || f.Tree.StockPeriod < 1 {
		return nil, fmt.Errorf("The variables tree.RebuildPeriod and "+
			"tree.StockPeriod were set to %d and %d. Both must be at least "+
			"1.", f.Tree.RebuildPeriod, f.Tree.StockPeriod)
	}
	c.RebuildPeriod = f.Tree.RebuildPeriod
	c.StockPeriod = f.Tree.StockPeriod

	if f.Tree.PruneLevel < 0 {
		return nil, fmt.Errorf("The variable tree.PruneLevel was set to "+
			"%d. It cannot be negative.", f.Tree.PruneLevel)
	}
	c.PruneLevel = int32(f.Tree.PruneLevel)

	if f.Gravity.Thetamaxsqd <= 0 {
		return nil, fmt.Errorf("The variable gravity.Thetamaxsqd was set "+
			"to %g. It must be positive.", f.Gravity.Thetamaxsqd)
	}
	switch f.Gravity.Mac {
	case "geometric":
		c.MAC = tree.NewGeometricMAC(f.Gravity.Thetamaxsqd)
	case "eigen":
		if f.Gravity.Macerror <= 0 {
			return nil, fmt.Errorf("The variable gravity.Macerror was set "+
				"to %g. The eigen criterion needs a positive target error.",
				f.Gravity.Macerror)
		}
		c.MAC = tree.NewEigenMAC(f.Gravity.Thetamaxsqd, f.Gravity.Macerror)
	default:
		return nil, fmt.Errorf("The variable gravity.Mac was set to '%s'. "+
			"Only 'geometric' and 'eigen' are valid.", f.Gravity.Mac)
	}

	var err error
	if c.Multipole, err = gravity.ParseMultipole(f.Gravity.Multipole); err != nil {
		return nil, fmt.Errorf("The variable gravity.Multipole is invalid: "+
			"%v", err)
	}

	if f.Ghost.GhostRange < 1 {
		return nil, fmt.Errorf("The variable ghost.GhostRange was set to "+
			"%g. Values below 1 would create ghosts inside the kernel "+
			"support.", f.Ghost.GhostRange)
	}
	if f.Ghost.KernRange <= 0 {
		return nil, fmt.Errorf("The variable ghost.KernRange was set to "+
			"%g. It must be positive.", f.Ghost.KernRange)
	}
	c.GhostRange, c.KernRange = f.Ghost.GhostRange, f.Ghost.KernRange

	bounds := [geom.NDim]string{
		f.Domain.XBound, f.Domain.YBound, f.Domain.ZBound,
	}
	for k := 0; k < geom.NDim; k++ {
		if c.Domain.Bound[k], err = geom.ParseBoundaryKind(bounds[k]); err != nil {
			return nil, fmt.Errorf("The variable domain.%cBound is "+
				"invalid: %v", 'x'+k, err)
		}
	}
	c.Domain.Min = geom.Vec{f.Domain.XMin, f.Domain.YMin, f.Domain.ZMin}
	c.Domain.Max = geom.Vec{f.Domain.XMax, f.Domain.YMax, f.Domain.ZMax}
	for k := 0; k < geom.NDim; k++ {
		if c.Domain.Bound[k] == geom.Open {
			continue
		}
		if c.Domain.Max[k] <= c.Domain.Min[k] {
			return nil, fmt.Errorf("The %c axis has a %s boundary but zero "+
				"or negative extent [%g, %g]. Non-open axes need a positive "+
				"width.", 'x'+k, c.Domain.Bound[k], c.Domain.Min[k],
				c.Domain.Max[k])
		}
	}

	if f.Run.Ranks < 1 {
		return nil, fmt.Errorf("The variable run.Ranks was set to %d. It "+
			"must be at least 1.", f.Run.Ranks)
	}
	c.Ranks = f.Run.Ranks
	c.Threads = f.Run.Threads
	if f.Run.WorkTol <= 0 || f.Run.WorkTol >= 0.5 {
		return nil, fmt.Errorf("The variable run.WorkTol was set to %g. "+
			"It must be in (0, 0.5).", f.Run.WorkTol)
	}
	c.WorkTol = f.Run.WorkTol

	if err := format.Check(f.Run.Diag); err != nil {
		return nil, fmt.Errorf("The variable run.Diag is invalid: %v", err)
	}
	if err := format.Check(f.Run.Snapshot); err != nil {
		return nil, fmt.Errorf("The variable run.Snapshot is invalid: %v", err)
	}
	c.Diag, c.Snapshot = f.Run.Diag, f.Run.Snapshot

	return c, nil
}
