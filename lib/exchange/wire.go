package exchange

/* wire.go defines the byte-level message formats. Every message is
little-endian and starts with a {npart, ncell int32} header; what follows
depends on the message kind. Records are fixed-layout structs serialized
tightly with encoding/binary, so peers must be built from the same source to
interoperate. There is no version field. */

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/astrofold/willow/lib/balance"
	"github.com/astrofold/willow/lib/geom"
	"github.com/astrofold/willow/lib/particles"
	"github.com/astrofold/willow/lib/tree"
)

var byteOrder = binary.LittleEndian

type header struct {
	NPart, NCell int32
}

// returnRecord carries the force deltas computed for one imported particle
// back to its home rank. IOrig lets the receiver assert the records line up
// with what it sent.
type returnRecord struct {
	IOrig                 int64
	A, AGrav              geom.Vec
	GPot, GPE, Dudt, DivV float64
	LevelNeib             int32
}

// encodeExport serializes the export message for one peer: a header, then
// each cell record immediately followed by its active-particle records. The
// cell's IFirst/ILast are rewritten to message-local particle offsets before
// serialization; the receiver rewrites them again to its own table indices.
// The particle indices serialized, in order, are appended to idsSent.
func encodeExport(
	cells []int32, tab *particles.Table, tr *tree.Tree, idsSent []int32,
) ([]byte, []int32, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, byteOrder, header{}); err != nil {
		return nil, idsSent, err
	}

	npart := int32(0)
	var active []int32
	for _, c := range cells {
		cell := tr.Cells[c]
		active = tr.ActiveParticleList(&tr.Cells[c], tab, active[:0])

		cell.IFirst = npart
		cell.ILast = npart + int32(len(active)) - 1
		cell.N = int32(len(active))
		cell.NActive = int32(len(active))
		cell.C1, cell.C2, cell.CNext = -1, -1, -1
		if err := binary.Write(buf, byteOrder, cell); err != nil {
			return nil, idsSent, err
		}

		for _, i := range active {
			p := tab.Get(int(i))
			// The receiver computes these from scratch, so zero them here:
			// everything it returns is then a pure delta.
			p.A, p.AGrav = geom.Vec{}, geom.Vec{}
			p.GPot, p.GPE, p.Dudt, p.DivV = 0, 0, 0, 0
			if err := binary.Write(buf, byteOrder, p); err != nil {
				return nil, idsSent, err
			}
			idsSent = append(idsSent, i)
		}
		npart += int32(len(active))
	}

	b := buf.Bytes()
	patchHeader(b, header{NPart: npart, NCell: int32(len(cells))})
	return b, idsSent, nil
}

// decodeExport walks an export message, calling cellf for each cell record
// and partf for each of the particle records that follow it.
func decodeExport(
	b []byte, cellf func(cell tree.Cell, npart int32),
	partf func(p particles.Particle),
) error {
	r := bytes.NewReader(b)
	var h header
	if err := binary.Read(r, byteOrder, &h); err != nil {
		return err
	}

	got := int32(0)
	for c := int32(0); c < h.NCell; c++ {
		var cell tree.Cell
		if err := binary.Read(r, byteOrder, &cell); err != nil {
			return err
		}
		cellf(cell, cell.N)
		for j := int32(0); j < cell.N; j++ {
			var p particles.Particle
			if err := binary.Read(r, byteOrder, &p); err != nil {
				return err
			}
			partf(p)
		}
		got += cell.N
	}
	if got != h.NPart {
		return fmt.Errorf("Corrupt export message: header claims %d "+
			"particles, but the cell records account for %d.", h.NPart, got)
	}
	return nil
}

// encodePrunedTree serializes a pruned tree summary: header {ntot, ncell}
// followed by the cell records with their already-relinked pointers.
func encodePrunedTree(t *tree.Tree) ([]byte, error) {
	buf := &bytes.Buffer{}
	h := header{NPart: int32(t.Ntot), NCell: int32(t.NCell)}
	if err := binary.Write(buf, byteOrder, h); err != nil {
		return nil, err
	}
	for c := 0; c < t.NCell; c++ {
		if err := binary.Write(buf, byteOrder, t.Cells[c]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodePrunedTree(b []byte) (*tree.Tree, error) {
	r := bytes.NewReader(b)
	var h header
	if err := binary.Read(r, byteOrder, &h); err != nil {
		return nil, err
	}

	t := &tree.Tree{
		Cells:    make([]tree.Cell, h.NCell),
		Ntot:     int(h.NPart),
		NCell:    int(h.NCell),
		NCellTot: int(h.NCell),
		NCellMax: int(h.NCell),
	}
	for c := range t.Cells {
		if err := binary.Read(r, byteOrder, &t.Cells[c]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// encodeReturns serializes the computed deltas for one peer's imported
// particles, in the exact order the particles arrived.
func encodeReturns(tab *particles.Table, first, count int) ([]byte, error) {
	buf := &bytes.Buffer{}
	h := header{NPart: int32(count)}
	if err := binary.Write(buf, byteOrder, h); err != nil {
		return nil, err
	}
	for i := first; i < first+count; i++ {
		rec := returnRecord{
			IOrig: tab.IOrig[i],
			A:     tab.A[i], AGrav: tab.AGrav[i],
			GPot: tab.GPot[i], GPE: tab.GPE[i],
			Dudt: tab.Dudt[i], DivV: tab.DivV[i],
			LevelNeib: tab.LevelNeib[i],
		}
		if err := binary.Write(buf, byteOrder, rec); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeReturns(b []byte, f func(rec returnRecord)) (int, error) {
	r := bytes.NewReader(b)
	var h header
	if err := binary.Read(r, byteOrder, &h); err != nil {
		return 0, err
	}
	for j := int32(0); j < h.NPart; j++ {
		var rec returnRecord
		if err := binary.Read(r, byteOrder, &rec); err != nil {
			return int(j), err
		}
		f(rec)
	}
	return int(h.NPart), nil
}

// encodeParticles serializes full particle records for migration.
func encodeParticles(tab *particles.Table, idx []int32) ([]byte, error) {
	buf := &bytes.Buffer{}
	h := header{NPart: int32(len(idx))}
	if err := binary.Write(buf, byteOrder, h); err != nil {
		return nil, err
	}
	for _, i := range idx {
		if err := binary.Write(buf, byteOrder, tab.Get(int(i))); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeParticles(b []byte, f func(p particles.Particle)) error {
	r := bytes.NewReader(b)
	var h header
	if err := binary.Read(r, byteOrder, &h); err != nil {
		return err
	}
	for j := int32(0); j < h.NPart; j++ {
		var p particles.Particle
		if err := binary.Read(r, byteOrder, &p); err != nil {
			return err
		}
		f(p)
	}
	return nil
}

// encodeWorkPoints serializes a rank's load measure for the rebalancing
// gather.
func encodeWorkPoints(points []balance.WorkPoint) ([]byte, error) {
	buf := &bytes.Buffer{}
	h := header{NPart: int32(len(points))}
	if err := binary.Write(buf, byteOrder, h); err != nil {
		return nil, err
	}
	for i := range points {
		if err := binary.Write(buf, byteOrder, points[i]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeWorkPoints(b []byte) ([]balance.WorkPoint, error) {
	r := bytes.NewReader(b)
	var h header
	if err := binary.Read(r, byteOrder, &h); err != nil {
		return nil, err
	}
	points := make([]balance.WorkPoint, h.NPart)
	for i := range points {
		if err := binary.Read(r, byteOrder, &points[i]); err != nil {
			return nil, err
		}
	}
	return points, nil
}

// patchHeader overwrites the leading header bytes of an already-built
// message, used when counts are only known after serialization.
func patchHeader(b []byte, h header) {
	byteOrder.PutUint32(b[0:4], uint32(h.NPart))
	byteOrder.PutUint32(b[4:8], uint32(h.NCell))
}
