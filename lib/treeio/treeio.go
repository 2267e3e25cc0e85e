/*package treeio writes and reads compressed snapshots of the particle table
and the local tree. Snapshots are for restarts and offline inspection on the
writing machine's toolchain, not for interchange with other codes: records
are the in-memory layouts serialized little-endian and zstd-compressed
blockwise.*/
package treeio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/DataDog/zstd"

	"github.com/astrofold/willow/lib/particles"
	"github.com/astrofold/willow/lib/tree"
)

const (
	// MagicNumber is an arbitrary number at the start of every snapshot
	// which should catch attempts to read something else by accident.
	MagicNumber = 0x57696c77
	// ReverseMagicNumber is the magic number as read on a machine with
	// flipped endianness.
	ReverseMagicNumber = 0x776c6957
	Version            = 1

	compressionLevel = 1
)

var byteOrder = binary.LittleEndian

type fileHeader struct {
	NPart, NCell         int64
	PartBytes, CellBytes int64
}

// Write stores the table's real particles and the tree's local cells in
// fname. Ghosts and imports are transient step state and are not written.
func Write(fname string, tab *particles.Table, tr *tree.Tree) error {
	partBlock := &bytes.Buffer{}
	for i := 0; i < tab.NReal; i++ {
		if err := binary.Write(partBlock, byteOrder, tab.Get(i)); err != nil {
			return err
		}
	}
	cellBlock := &bytes.Buffer{}
	for c := 0; c < tr.NCell; c++ {
		if err := binary.Write(cellBlock, byteOrder, tr.Cells[c]); err != nil {
			return err
		}
	}

	partZ, err := zstd.CompressLevel(nil, partBlock.Bytes(), compressionLevel)
	if err != nil {
		return fmt.Errorf("Could not compress the particle block of %s: %v",
			fname, err)
	}
	cellZ, err := zstd.CompressLevel(nil, cellBlock.Bytes(), compressionLevel)
	if err != nil {
		return fmt.Errorf("Could not compress the cell block of %s: %v",
			fname, err)
	}

	fp, err := os.Create(fname)
	if err != nil {
		return err
	}
	defer fp.Close()

	if err := binary.Write(fp, byteOrder, uint32(MagicNumber)); err != nil {
		return err
	}
	if err := binary.Write(fp, byteOrder, uint32(Version)); err != nil {
		return err
	}
	hd := fileHeader{
		NPart: int64(tab.NReal), NCell: int64(tr.NCell),
		PartBytes: int64(len(partZ)), CellBytes: int64(len(cellZ)),
	}
	if err := binary.Write(fp, byteOrder, hd); err != nil {
		return err
	}
	if _, err := fp.Write(partZ); err != nil {
		return err
	}
	_, err = fp.Write(cellZ)
	return err
}

// Read loads a snapshot back as value slices. It never mutates live step
// state: restarts append the particles to a fresh table and rebuild the
// tree, so the stored cells are only needed for inspection and testing.
func Read(fname string) ([]particles.Particle, []tree.Cell, error) {
	b, err := ioutil.ReadFile(fname)
	if err != nil {
		return nil, nil, err
	}
	r := bytes.NewReader(b)

	var magic, version uint32
	if err := binary.Read(r, byteOrder, &magic); err != nil {
		return nil, nil, err
	}
	if magic == ReverseMagicNumber {
		return nil, nil, fmt.Errorf("%s was written on a machine with "+
			"flipped endianness and cannot be read here.", fname)
	}
	if magic != MagicNumber {
		return nil, nil, fmt.Errorf("%s is not a snapshot file: its magic "+
			"number is 0x%x, not 0x%x.", fname, magic, uint32(MagicNumber))
	}
	if err := binary.Read(r, byteOrder, &version); err != nil {
		return nil, nil, err
	}
	if version != Version {
		return nil, nil, fmt.Errorf("%s has snapshot version %d, but this "+
			"build reads version %d.", fname, version, Version)
	}

	var hd fileHeader
	if err := binary.Read(r, byteOrder, &hd); err != nil {
		return nil, nil, err
	}

	off := int64(len(b)) - int64(r.Len())
	if off+hd.PartBytes+hd.CellBytes > int64(len(b)) {
		return nil, nil, fmt.Errorf("%s is truncated: the header claims %d "+
			"block bytes past offset %d, but the file holds %d.",
			fname, hd.PartBytes+hd.CellBytes, off, len(b))
	}
	partZ := b[off : off+hd.PartBytes]
	cellZ := b[off+hd.PartBytes : off+hd.PartBytes+hd.CellBytes]

	partB, err := zstd.Decompress(nil, partZ)
	if err != nil {
		return nil, nil, fmt.Errorf("Could not decompress the particle "+
			"block of %s: %v", fname, err)
	}
	cellB, err := zstd.Decompress(nil, cellZ)
	if err != nil {
		return nil, nil, fmt.Errorf("Could not decompress the cell block "+
			"of %s: %v", fname, err)
	}

	parts := make([]particles.Particle, hd.NPart)
	pr := bytes.NewReader(partB)
	for i := range parts {
		if err := binary.Read(pr, byteOrder, &parts[i]); err != nil {
			return nil, nil, err
		}
	}
	cells := make([]tree.Cell, hd.NCell)
	cr := bytes.NewReader(cellB)
	for c := range cells {
		if err := binary.Read(cr, byteOrder, &cells[c]); err != nil {
			return nil, nil, err
		}
	}
	return parts, cells, nil
}
