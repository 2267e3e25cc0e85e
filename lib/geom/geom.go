/*package geom contains the small geometric types shared by the tree, ghost,
and exchange layers: 3-vectors, axis-aligned boxes, and the simulation domain
with its per-axis boundary behaviour.*/
package geom

import (
	"fmt"
	"math"
)

// NDim is the spatial dimensionality of the engine. Runs in fewer dimensions
// leave the trailing axes Open with zero extent, which makes every loop over
// [0, NDim) behave correctly without a second instantiation of the code.
const NDim = 3

// Vec is a position, velocity, or acceleration in simulation units.
type Vec [NDim]float64

// Add returns v + u.
func (v Vec) Add(u Vec) Vec {
	for k := 0; k < NDim; k++ {
		v[k] += u[k]
	}
	return v
}

// Sub returns v - u.
func (v Vec) Sub(u Vec) Vec {
	for k := 0; k < NDim; k++ {
		v[k] -= u[k]
	}
	return v
}

// Scale returns a*v.
func (v Vec) Scale(a float64) Vec {
	for k := 0; k < NDim; k++ {
		v[k] *= a
	}
	return v
}

// NormSqd returns |v|^2.
func (v Vec) NormSqd() float64 {
	sum := 0.0
	for k := 0; k < NDim; k++ {
		sum += v[k] * v[k]
	}
	return sum
}

// Norm returns |v|.
func (v Vec) Norm() float64 { return math.Sqrt(v.NormSqd()) }

// DistSqd returns |v - u|^2.
func (v Vec) DistSqd(u Vec) float64 {
	sum := 0.0
	for k := 0; k < NDim; k++ {
		d := v[k] - u[k]
		sum += d * d
	}
	return sum
}

// Box is an axis-aligned bounding box.
type Box struct {
	Min, Max Vec
}

// Overlap returns true if the boxes a and b intersect.
func Overlap(a, b Box) bool {
	for k := 0; k < NDim; k++ {
		if a.Max[k] < b.Min[k] || a.Min[k] > b.Max[k] {
			return false
		}
	}
	return true
}

// Contains returns true if r lies inside the box (inclusive).
func (b *Box) Contains(r Vec) bool {
	for k := 0; k < NDim; k++ {
		if r[k] < b.Min[k] || r[k] > b.Max[k] {
			return false
		}
	}
	return true
}

// Owns returns true if r lies inside the box under the half-open convention
// Min <= r < Max. Domain cuts put a particle sitting exactly on a cut plane
// on the upper side, so ownership tests follow the same convention and every
// position has exactly one owning subdomain.
func (b *Box) Owns(r Vec) bool {
	for k := 0; k < NDim; k++ {
		if r[k] < b.Min[k] || r[k] >= b.Max[k] {
			return false
		}
	}
	return true
}

// Expand returns the box grown by dr on every face.
func (b Box) Expand(dr float64) Box {
	for k := 0; k < NDim; k++ {
		b.Min[k] -= dr
		b.Max[k] += dr
	}
	return b
}

// EmptyBox returns a box ready for min/max accumulation.
func EmptyBox() Box {
	b := Box{}
	for k := 0; k < NDim; k++ {
		b.Min[k] = math.Inf(1)
		b.Max[k] = math.Inf(-1)
	}
	return b
}

// Absorb grows the box to include r.
func (b *Box) Absorb(r Vec) {
	for k := 0; k < NDim; k++ {
		if r[k] < b.Min[k] {
			b.Min[k] = r[k]
		}
		if r[k] > b.Max[k] {
			b.Max[k] = r[k]
		}
	}
}

// BoundaryKind describes what happens to particles at one axis of the
// simulation domain. The string forms accepted by the config layer are
// "open", "periodic", "mirror", and "rank".
type BoundaryKind int

const (
	// Open axes do nothing: particles near the edge see vacuum.
	Open BoundaryKind = iota
	// Periodic axes wrap: ghosts are offset copies at r ± L.
	Periodic
	// Mirror axes reflect: ghosts have reflected positions and velocities.
	Mirror
	// RankOwned axes are cut by the domain decomposition; the exchange
	// layer, not the ghost layer, is responsible for them.
	RankOwned
)

// ParseBoundaryKind converts a config string to a BoundaryKind. Unrecognized
// strings are an immediate setup error, never a mid-run one.
func ParseBoundaryKind(s string) (BoundaryKind, error) {
	switch s {
	case "open":
		return Open, nil
	case "periodic":
		return Periodic, nil
	case "mirror":
		return Mirror, nil
	case "rank":
		return RankOwned, nil
	}
	return Open, fmt.Errorf("'%s' is not a valid boundary kind. Only "+
		"'open', 'periodic', 'mirror', and 'rank' are valid.", s)
}

func (k BoundaryKind) String() string {
	switch k {
	case Open:
		return "open"
	case Periodic:
		return "periodic"
	case Mirror:
		return "mirror"
	case RankOwned:
		return "rank"
	}
	return fmt.Sprintf("BoundaryKind(%d)", int(k))
}

// DomainBox is the simulation domain: spatial extents plus the boundary
// behaviour of each axis. It drives whether the ghost layer or the exchange
// layer has to act on a given axis.
type DomainBox struct {
	Box
	Bound [NDim]BoundaryKind
}

// Width returns the domain extent along axis k.
func (d *DomainBox) Width(k int) float64 { return d.Max[k] - d.Min[k] }

// AxisOpen returns true if axis k needs no boundary handling at all.
func (d *DomainBox) AxisOpen(k int) bool { return d.Bound[k] == Open }

// AllOpen returns true if every axis is open, in which case the boundary
// ghost search can be skipped entirely.
func (d *DomainBox) AllOpen() bool {
	for k := 0; k < NDim; k++ {
		if d.Bound[k] != Open {
			return false
		}
	}
	return true
}
