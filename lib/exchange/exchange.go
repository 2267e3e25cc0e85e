/*package exchange implements the synchronous rank-to-rank protocol: pruned
tree summaries out, flagged cells and their active particles out, computed
force deltas back, plus whole-particle migration when the domain boundaries
move.

Every phase is a pairwise ordered exchange over all peers: the lower rank
sends first, the higher rank receives first, then the roles flip. With the
blocking Transport this fixed order is deadlock-free, and it keeps the step
fully synchronous, which the fixed §6-style pipeline relies on.*/
package exchange

import (
	"fmt"

	"github.com/astrofold/willow/lib/balance"
	"github.com/astrofold/willow/lib/errs"
	"github.com/astrofold/willow/lib/geom"
	"github.com/astrofold/willow/lib/particles"
	"github.com/astrofold/willow/lib/tree"
)

// Manifest records what was sent and received in the current export round so
// the return phase can be checked against it. It is reset every round.
type Manifest struct {
	// IDsSent holds, per peer, the local table indices of the particles
	// serialized into that peer's export message, in message order. The
	// returned deltas must line up with it one-to-one.
	IDsSent [][]int32
	// CellsSent counts cells exported per peer.
	CellsSent []int
	// ImportFirst and ImportCount locate each peer's block of imported
	// particles in the table. Imports from one peer are contiguous.
	ImportFirst []int
	ImportCount []int
}

// NewManifest creates a Manifest for an nranks-wide group.
func NewManifest(nranks int) *Manifest {
	return &Manifest{
		IDsSent:     make([][]int32, nranks),
		CellsSent:   make([]int, nranks),
		ImportFirst: make([]int, nranks),
		ImportCount: make([]int, nranks),
	}
}

// Reset clears the round's bookkeeping without freeing the buffers.
func (m *Manifest) Reset() {
	for j := range m.IDsSent {
		m.IDsSent[j] = m.IDsSent[j][:0]
		m.CellsSent[j] = 0
		m.ImportFirst[j] = 0
		m.ImportCount[j] = 0
	}
}

// NExported returns the total number of particles serialized this round.
func (m *Manifest) NExported() int {
	n := 0
	for j := range m.IDsSent {
		n += len(m.IDsSent[j])
	}
	return n
}

// NImported returns the total number of particles spliced in this round.
func (m *Manifest) NImported() int {
	n := 0
	for _, c := range m.ImportCount {
		n += c
	}
	return n
}

// Exchanger drives the protocol for one rank.
type Exchanger struct {
	Rank, NRanks int
	Transport    Transport
	Manifest     *Manifest
}

// New creates an Exchanger for rank in an nranks-wide group.
func New(rank, nranks int, tr Transport) *Exchanger {
	return &Exchanger{
		Rank: rank, NRanks: nranks,
		Transport: tr,
		Manifest:  NewManifest(nranks),
	}
}

// roundTrip performs one pairwise ordered exchange with peer: the lower rank
// sends before it receives.
func (e *Exchanger) roundTrip(peer int, out []byte) ([]byte, error) {
	if e.Rank < peer {
		if err := e.Transport.Send(peer, out); err != nil {
			return nil, fmt.Errorf("send to rank %d failed: %v", peer, err)
		}
		in, err := e.Transport.Recv(peer)
		if err != nil {
			return nil, fmt.Errorf("recv from rank %d failed: %v", peer, err)
		}
		return in, nil
	}
	in, err := e.Transport.Recv(peer)
	if err != nil {
		return nil, fmt.Errorf("recv from rank %d failed: %v", peer, err)
	}
	if err := e.Transport.Send(peer, out); err != nil {
		return nil, fmt.Errorf("send to rank %d failed: %v", peer, err)
	}
	return in, nil
}

// CommunicatePrunedTrees broadcasts this rank's pruned summary of its local
// tree and collects every peer's summary. Slot Rank of the result holds this
// rank's own pruned tree.
func (e *Exchanger) CommunicatePrunedTrees(
	local *tree.Tree, plevel int32,
) ([]*tree.Tree, error) {
	own := local.BuildPruned(plevel)
	out, err := encodePrunedTree(own)
	if err != nil {
		return nil, err
	}

	pruned := make([]*tree.Tree, e.NRanks)
	pruned[e.Rank] = own
	for peer := 0; peer < e.NRanks; peer++ {
		if peer == e.Rank {
			continue
		}
		in, err := e.roundTrip(peer, out)
		if err != nil {
			return nil, err
		}
		if pruned[peer], err = decodePrunedTree(in); err != nil {
			return nil, fmt.Errorf(
				"corrupt pruned tree from rank %d: %v", peer, err)
		}
	}
	return pruned, nil
}

// ExportAndImport runs the first phase of the export round: for each peer,
// serialize the flagged cells (export[peer], as produced by the gravity
// export pass) with their active particles, exchange messages, and splice
// everything received into the local table and tree. Imported cells become
// active-cell work items for the next local force pass; imported particles
// are linked contiguously so the usual leaf loops traverse them. Running out
// of table or cell capacity during the splice is fatal.
func (e *Exchanger) ExportAndImport(
	export [][]int32, tab *particles.Table, tr *tree.Tree,
) error {
	e.Manifest.Reset()
	tab.ResetImports()
	tr.ResetImports()

	for peer := 0; peer < e.NRanks; peer++ {
		if peer == e.Rank {
			continue
		}

		var out []byte
		var err error
		out, e.Manifest.IDsSent[peer], err = encodeExport(
			export[peer], tab, tr, e.Manifest.IDsSent[peer][:0])
		if err != nil {
			return err
		}
		e.Manifest.CellsSent[peer] = len(export[peer])

		in, err := e.roundTrip(peer, out)
		if err != nil {
			return err
		}

		e.Manifest.ImportFirst[peer] = tab.Ntot()
		err = decodeExport(in,
			func(cell tree.Cell, npart int32) {
				first := int32(tab.Ntot())
				cell.IFirst = first
				cell.ILast = first + npart - 1
				if npart == 0 {
					cell.IFirst, cell.ILast = -1, -1
				}
				tr.AppendImportedCell(cell)
				if npart > 0 {
					tr.LinkImportedParticles(first, first+npart-1)
				}
			},
			func(p particles.Particle) {
				tab.AppendImported(p)
			})
		if err != nil {
			return fmt.Errorf("corrupt export message from rank %d: %v",
				peer, err)
		}
		e.Manifest.ImportCount[peer] =
			tab.Ntot() - e.Manifest.ImportFirst[peer]
	}
	return nil
}

// ReturnExportedForces runs the second phase: send back the deltas computed
// for each peer's imported particles and fold the deltas received for our
// own exported particles into the table. Records are matched positionally
// against the manifest and cross-checked by particle id; a mismatch means
// the two ranks disagree about the round's contents, which is unrecoverable.
func (e *Exchanger) ReturnExportedForces(tab *particles.Table) error {
	for peer := 0; peer < e.NRanks; peer++ {
		if peer == e.Rank {
			continue
		}

		out, err := encodeReturns(tab,
			e.Manifest.ImportFirst[peer], e.Manifest.ImportCount[peer])
		if err != nil {
			return err
		}

		in, err := e.roundTrip(peer, out)
		if err != nil {
			return err
		}

		ids := e.Manifest.IDsSent[peer]
		j := 0
		n, err := decodeReturns(in, func(rec returnRecord) {
			if j >= len(ids) {
				return
			}
			i := ids[j]
			if tab.IOrig[i] != rec.IOrig {
				errs.Internal("Exported particle mismatch: rank %d returned "+
					"a delta for particle id %d in the slot where id %d was "+
					"sent. The export manifests of the two ranks have "+
					"diverged.", peer, rec.IOrig, tab.IOrig[i])
			}
			tab.A[i] = tab.A[i].Add(rec.A)
			tab.AGrav[i] = tab.AGrav[i].Add(rec.AGrav)
			tab.GPot[i] += rec.GPot
			tab.GPE[i] += rec.GPE
			tab.Dudt[i] += rec.Dudt
			tab.DivV[i] += rec.DivV
			if rec.LevelNeib > tab.LevelNeib[i] {
				tab.LevelNeib[i] = rec.LevelNeib
			}
			j++
		})
		if err != nil {
			return fmt.Errorf("corrupt return message from rank %d: %v",
				peer, err)
		}
		if n != len(ids) {
			errs.Internal("Exported particle mismatch: sent %d particles to "+
				"rank %d but got %d deltas back.", len(ids), peer, n)
		}
	}
	return nil
}

// GatherWorkPoints combines every rank's work points into one slice, ordered
// by rank so each rank computes the result in the same order and the
// rebalancing cuts come out bit-identical everywhere.
func (e *Exchanger) GatherWorkPoints(
	own []balance.WorkPoint,
) ([]balance.WorkPoint, error) {
	out, err := encodeWorkPoints(own)
	if err != nil {
		return nil, err
	}

	perRank := make([][]balance.WorkPoint, e.NRanks)
	perRank[e.Rank] = own
	for peer := 0; peer < e.NRanks; peer++ {
		if peer == e.Rank {
			continue
		}
		in, err := e.roundTrip(peer, out)
		if err != nil {
			return nil, err
		}
		if perRank[peer], err = decodeWorkPoints(in); err != nil {
			return nil, fmt.Errorf(
				"corrupt work message from rank %d: %v", peer, err)
		}
	}

	var all []balance.WorkPoint
	for _, pts := range perRank {
		all = append(all, pts...)
	}
	return all, nil
}

// FindTransferParticles returns, per peer, the local real particles that now
// lie inside that peer's domain. The walk only opens cells overlapping the
// peer's box, so the cost scales with the migrating fringe rather than the
// whole table.
func (e *Exchanger) FindTransferParticles(
	domains []geom.Box, tab *particles.Table, tr *tree.Tree,
) [][]int32 {
	out := make([][]int32, e.NRanks)
	for peer := 0; peer < e.NRanks; peer++ {
		if peer == e.Rank {
			continue
		}
		out[peer] = tr.DomainOverlapParticleList(domains[peer], tab, nil)
	}
	return out
}

// MigrateParticles hands off every particle that left this rank's domain to
// its new owner and receives the incomers. It must run between steps, with
// no ghosts or imports in the table, right before the rebuild that follows a
// domain boundary update. Returns (sent, received).
func (e *Exchanger) MigrateParticles(
	transfer [][]int32, tab *particles.Table, tr *tree.Tree,
) (int, int, error) {
	nsent, nrecv := 0, 0
	for peer := 0; peer < e.NRanks; peer++ {
		if peer == e.Rank {
			continue
		}

		out, err := encodeParticles(tab, transfer[peer])
		if err != nil {
			return nsent, nrecv, err
		}

		in, err := e.roundTrip(peer, out)
		if err != nil {
			return nsent, nrecv, err
		}

		err = decodeParticles(in, func(p particles.Particle) {
			i := tab.Append(p.R, p.V, p.M, p.H, p.IOrig)
			tab.Set(i, p)
			nrecv++
		})
		if err != nil {
			return nsent, nrecv, fmt.Errorf(
				"corrupt migration message from rank %d: %v", peer, err)
		}
		nsent += len(transfer[peer])
	}

	e.removeTransferred(transfer, tab)
	return nsent, nrecv, nil
}

// removeTransferred compacts the table by swapping each departed particle
// with the last real one. Removal runs strictly after every peer's message
// was built, so the indices in transfer are still valid when they are
// deleted, highest first.
func (e *Exchanger) removeTransferred(
	transfer [][]int32, tab *particles.Table,
) {
	var all []int32
	for _, idx := range transfer {
		all = append(all, idx...)
	}
	sortDescending(all)

	for _, i := range all {
		last := tab.NReal - 1
		if int(i) != last {
			tab.Set(int(i), tab.Get(last))
		}
		tab.NReal--
	}
}

func sortDescending(a []int32) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j] > a[j-1]; j-- {
			a[j], a[j-1] = a[j-1], a[j]
		}
	}
}
