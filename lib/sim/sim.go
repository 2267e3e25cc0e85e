/*package sim owns the per-step orchestration: one Simulation per rank wires
the particle table, the tree, the ghost manager, the gravity solver, and the
exchange protocol together and runs them in a fixed order every step. The
order is load-bearing: ghosts must exist before neighbour work, imports must
be spliced before the imported force pass, and deltas must return before the
integrator reads accelerations. Hydro physics stays outside: the integrator
registers a callback and flips Active flags; this package never interprets
either.*/
package sim

import (
	"fmt"

	"github.com/astrofold/willow/lib/balance"
	"github.com/astrofold/willow/lib/config"
	"github.com/astrofold/willow/lib/diag"
	"github.com/astrofold/willow/lib/exchange"
	"github.com/astrofold/willow/lib/geom"
	"github.com/astrofold/willow/lib/ghost"
	"github.com/astrofold/willow/lib/gravity"
	"github.com/astrofold/willow/lib/particles"
	"github.com/astrofold/willow/lib/tree"
	"github.com/astrofold/willow/lib/treeio"
)

// Mode is how the tree was refreshed this step.
type Mode int

const (
	ModeBuild Mode = iota
	ModeStock
	ModeExtrapolate
)

func (m Mode) String() string {
	switch m {
	case ModeBuild:
		return "build"
	case ModeStock:
		return "stock"
	case ModeExtrapolate:
		return "extrapolate"
	}
	return "unknown"
}

// HydroCallback computes the non-gravitational physics for the step. It runs
// after the ghost search, so the table holds a fresh ghost generation, and
// before the gravity passes, so anything it adds to A survives the step.
// GhostTree indexes the ghosts; it is nil when no ghosts exist.
type HydroCallback func(tab *particles.Table, tr, ghostTree *tree.Tree)

// Simulation is the per-rank engine state.
type Simulation struct {
	Config *config.Config

	Table     *particles.Table
	Tree      *tree.Tree
	GhostTree *tree.Tree
	Ghosts    *ghost.Manager
	Gravity   *gravity.Solver
	Exchanger *exchange.Exchanger
	Log       *diag.Logger

	// Domains holds every rank's RankOwned box; only multi-rank runs use it.
	Domains []geom.Box

	Hydro HydroCallback

	step         int
	built        bool
	forceRebuild bool
	nghost       int
	pruned       []*tree.Tree
	ghostTree    *tree.Tree
}

// New creates a single-rank Simulation from a resolved configuration.
func New(cfg *config.Config) *Simulation {
	return &Simulation{
		Config:    cfg,
		Table:     particles.New(cfg.NMax),
		Tree:      tree.New(cfg.Nleafmax, cfg.NCellMax, cfg.NMax, cfg.Split),
		Ghosts:    ghost.New(cfg.GhostRange, cfg.KernRange),
		Gravity:   gravity.NewSolver(cfg.MAC, cfg.Multipole),
		Log:       diag.NewLogger(),
		ghostTree: tree.New(cfg.Nleafmax, cfg.NCellMax, cfg.NMax, cfg.Split),
	}
}

// NewRank creates one rank of a multi-rank Simulation communicating over t.
func NewRank(cfg *config.Config, rank int, t exchange.Transport) *Simulation {
	s := New(cfg)
	s.Exchanger = exchange.New(rank, cfg.Ranks, t)
	return s
}

// AddParticle appends one real particle. Only valid between steps.
func (s *Simulation) AddParticle(r, v geom.Vec, m, h float64, iorig int64) {
	s.Table.Append(r, v, m, h, iorig)
	s.forceRebuild = true
}

// ForceRebuild makes the next step rebuild the tree regardless of period.
func (s *Simulation) ForceRebuild() { s.forceRebuild = true }

// Step advances the engine by one step of length dt. The external integrator
// is expected to have set the Active flags; freshly added particles default
// to active.
func (s *Simulation) Step(dt float64) error {
	tab, tr, cfg := s.Table, s.Tree, s.Config

	mode := s.refreshTree(dt)

	s.nghost = s.Ghosts.SearchBoundary(dt, &cfg.Domain, tab, tr)
	s.GhostTree = nil
	if s.nghost > 0 {
		s.ghostTree.Build(tab, tab.NReal, tab.NReal+s.nghost-1)
		s.GhostTree = s.ghostTree
	}

	// Accelerations are rebuilt from scratch every step: the hydro callback
	// adds its terms, then the gravity passes add theirs.
	for i := 0; i < tab.Ntot(); i++ {
		if tab.Active[i] {
			tab.A[i] = geom.Vec{}
		}
	}
	if s.Hydro != nil {
		s.Hydro(tab, tr, s.GhostTree)
	}

	nexport := 0
	if s.Exchanger == nil {
		s.Gravity.UpdateAllGravForces(tab, tr)
	} else {
		var err error
		if mode == ModeBuild || s.pruned == nil {
			s.pruned, err = s.Exchanger.CommunicatePrunedTrees(
				tr, cfg.PruneLevel)
			if err != nil {
				return fmt.Errorf("pruned tree exchange failed: %v", err)
			}
		}

		s.Gravity.UpdateAllGravForces(tab, tr)
		export := s.Gravity.UpdateGravityExportList(
			s.Exchanger.Rank, tab, tr, s.pruned)

		if err := s.Exchanger.ExportAndImport(export, tab, tr); err != nil {
			return fmt.Errorf("particle export failed: %v", err)
		}
		s.Gravity.UpdateImportedGravForces(tab, tr)
		if err := s.Exchanger.ReturnExportedForces(tab); err != nil {
			return fmt.Errorf("force return failed: %v", err)
		}
		nexport = s.Exchanger.Manifest.NExported()
	}

	mean, std := diag.LeafWork(tr)
	s.Log.Add(diag.StepStats{
		Step: s.step, Mode: mode.String(),
		NReal: tab.NReal, NGhost: s.nghost, NImported: tab.NImported,
		NExported: nexport, NCell: tr.NCell,
		WorkMean: mean, WorkStd: std,
	})

	s.Ghosts.Advance(dt)
	s.step++
	return nil
}

// refreshTree picks and runs the tree update for this step: a full rebuild
// on the rebuild period or when forced, a restock on the stock period, and a
// velocity extrapolation otherwise.
func (s *Simulation) refreshTree(dt float64) Mode {
	tab, tr, cfg := s.Table, s.Tree, s.Config

	if !s.built || s.forceRebuild || s.step%cfg.RebuildPeriod == 0 {
		tr.Build(tab, 0, tab.NReal-1)
		s.built, s.forceRebuild = true, false
		s.pruned = nil
		return ModeBuild
	}

	tr.ResetImports()
	if s.step%cfg.StockPeriod == 0 {
		tr.Stock(tab)
		return ModeStock
	}
	tr.Extrapolate(dt)
	tr.UpdateActiveParticleCounters(tab)
	return ModeExtrapolate
}

// GatherNeighbourList finds every particle, real or ghost, within rsearch of
// rp. It walks the main tree and, when ghosts exist, the ghost tree, writing
// into neiblist. On tree.ErrNeighbourOverflow the caller retries with a
// larger buffer.
func (s *Simulation) GatherNeighbourList(
	rp geom.Vec, rsearch float64, neiblist []int32,
) (int, error) {
	n, err := s.Tree.GatherNeighbourList(rp, rsearch, s.Table, neiblist)
	if err != nil {
		return 0, err
	}
	if s.GhostTree == nil {
		return n, nil
	}
	ng, err := s.GhostTree.GatherNeighbourList(
		rp, rsearch, s.Table, neiblist[n:])
	if err != nil {
		return 0, err
	}
	return n + ng, nil
}

// Rebalance recuts the global domain into per-rank boxes using the current
// particles as the work measure, migrates every particle to its new owner,
// and forces a rebuild. Single-rank simulations keep their domain as is.
func (s *Simulation) Rebalance() (sent, recv int, err error) {
	if s.Exchanger == nil {
		return 0, 0, nil
	}

	// Migration appends real particles, which needs a table free of the
	// step's transient ghosts and imports.
	s.Table.ResetGhosts()
	s.Tree.ResetImports()

	points, err := s.Exchanger.GatherWorkPoints(
		balance.ParticleWork(s.Table, nil))
	if err != nil {
		return 0, 0, fmt.Errorf("work gather failed: %v", err)
	}
	s.Domains = balance.BisectDomains(
		s.Config.Domain.Box, s.Config.Ranks, points, s.Config.WorkTol)

	transfer := s.Exchanger.FindTransferParticles(s.Domains, s.Table, s.Tree)
	sent, recv, err = s.Exchanger.MigrateParticles(transfer, s.Table, s.Tree)
	if err != nil {
		return sent, recv, fmt.Errorf("particle migration failed: %v", err)
	}
	s.forceRebuild = true
	return sent, recv, nil
}

// WriteSnapshot stores the current real particles and local tree in fname.
func (s *Simulation) WriteSnapshot(fname string) error {
	return treeio.Write(fname, s.Table, s.Tree)
}

// WriteDiagnostics stores the accumulated per-step statistics as CSV.
func (s *Simulation) WriteDiagnostics(fname string) error {
	return s.Log.Write(fname)
}

// StepCount returns the number of completed steps.
func (s *Simulation) StepCount() int { return s.step }
