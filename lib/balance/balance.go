/*package balance computes where to cut a domain box so that the work on
each side is equal. The division feeds the recursive bisection that assigns
RankOwned subdomains to ranks; what counts as "work" is up to the caller,
which keeps timestep-weighted or cost-model-weighted balancing out of this
package.*/
package balance

import (
	"gonum.org/v1/gonum/floats"

	"github.com/astrofold/willow/lib/geom"
	"github.com/astrofold/willow/lib/particles"
)

// WorkPoint is one unit of load at a position. The balancer only ever reads
// one coordinate of R, but carrying the full position lets one slice serve
// successive cuts along different axes.
type WorkPoint struct {
	R geom.Vec
	W float64
}

// DefaultTol is the relative work imbalance at which bisection stops.
const DefaultTol = 1e-3

// maxBisections bounds the search. 64 halvings exhaust float64 resolution
// over any physical box, so hitting the bound means the bracket collapsed.
const maxBisections = 64

// ParticleWork builds the simplest work measure: one unit per real particle.
func ParticleWork(tab *particles.Table, out []WorkPoint) []WorkPoint {
	for i := 0; i < tab.NReal; i++ {
		out = append(out, WorkPoint{R: tab.R[i], W: 1})
	}
	return out
}

// TotalWork sums the weights of points.
func TotalWork(points []WorkPoint, scratch []float64) (float64, []float64) {
	scratch = scratch[:0]
	for i := range points {
		scratch = append(scratch, points[i].W)
	}
	return floats.Sum(scratch), scratch
}

// FindLoadBalancingDivision returns the coordinate along axis k that splits
// box into two halves of equal work. Each bisection step computes the work
// fraction left of the candidate plane and narrows the bracket toward the
// heavier side, stopping when the fraction is within tol of one half or the
// bracket collapses. The call is side-effect-free; callers apply the
// returned division to the domain boxes themselves. If the points carry no
// work the previous division rOld is kept.
func FindLoadBalancingDivision(
	k int, rOld float64, box geom.Box, points []WorkPoint, tol float64,
) float64 {
	if tol <= 0 {
		tol = DefaultTol
	}

	total, _ := TotalWork(points, nil)
	if total <= 0 {
		return rOld
	}

	lo, hi := box.Min[k], box.Max[k]
	r := rOld
	if r <= lo || r >= hi {
		r = 0.5 * (lo + hi)
	}

	for it := 0; it < maxBisections && hi-lo > 0; it++ {
		left := 0.0
		for i := range points {
			if points[i].R[k] < r {
				left += points[i].W
			}
		}

		frac := left / total
		if frac > 0.5-tol && frac < 0.5+tol {
			break
		}
		if frac > 0.5 {
			hi = r
		} else {
			lo = r
		}
		r = 0.5 * (lo + hi)
	}
	return r
}

// BisectDomains recursively cuts box into n RankOwned subdomains of near
// equal work, cycling the cut axis. The result is indexed by rank. Counts
// that are not powers of two get uneven splits: the work target of each side
// is proportional to how many ranks it will hold.
func BisectDomains(
	box geom.Box, n int, points []WorkPoint, tol float64,
) []geom.Box {
	out := make([]geom.Box, 0, n)
	return bisect(box, n, 0, points, tol, out)
}

func bisect(
	box geom.Box, n, axis int, points []WorkPoint, tol float64,
	out []geom.Box,
) []geom.Box {
	if n <= 1 {
		return append(out, box)
	}

	nLeft := n / 2
	r := findWeightedDivision(
		axis, box, points, float64(nLeft)/float64(n), tol)

	left, right := box, box
	left.Max[axis], right.Min[axis] = r, r

	var pl, pr []WorkPoint
	for i := range points {
		if points[i].R[axis] < r {
			pl = append(pl, points[i])
		} else {
			pr = append(pr, points[i])
		}
	}

	out = bisect(left, nLeft, (axis+1)%geom.NDim, pl, tol, out)
	return bisect(right, n-nLeft, (axis+1)%geom.NDim, pr, tol, out)
}

// findWeightedDivision generalizes the half split to an arbitrary target
// work fraction on the left side.
func findWeightedDivision(
	k int, box geom.Box, points []WorkPoint, target, tol float64,
) float64 {
	if tol <= 0 {
		tol = DefaultTol
	}

	total, _ := TotalWork(points, nil)
	lo, hi := box.Min[k], box.Max[k]
	r := 0.5 * (lo + hi)
	if total <= 0 {
		return r
	}

	for it := 0; it < maxBisections && hi-lo > 0; it++ {
		left := 0.0
		for i := range points {
			if points[i].R[k] < r {
				left += points[i].W
			}
		}

		frac := left / total
		if frac > target-tol && frac < target+tol {
			break
		}
		if frac > target {
			hi = r
		} else {
			lo = r
		}
		r = 0.5 * (lo + hi)
	}
	return r
}
