/*package eq is a simple package for telling whether two arrays are equal to
one another. It exists for tests.*/
package eq

import (
	"github.com/astrofold/willow/lib/geom"
)

// Ints returns true if two []int arrays are the same and false otherwise.
func Ints(x, y []int) bool {
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

// Int32s returns true if two []int32 arrays are the same and false otherwise.
func Int32s(x, y []int32) bool {
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

// Int64s returns true if two []int64 arrays are the same and false otherwise.
func Int64s(x, y []int64) bool {
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

// Float64s returns true if two []float64 arrays are the same and false
// otherwise.
func Float64s(x, y []float64) bool {
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

// Float64sEps returns true if the two []float64 arrays are within eps of one
// another and false otherwise.
func Float64sEps(x, y []float64, eps float64) bool {
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i]+eps < y[i] || x[i]-eps > y[i] {
			return false
		}
	}
	return true
}

// Vecs returns true if two []geom.Vec arrays are the same and false
// otherwise.
func Vecs(x, y []geom.Vec) bool {
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

// VecsEps returns true if the two []geom.Vec arrays are within eps of one
// another componentwise and false otherwise.
func VecsEps(x, y []geom.Vec, eps float64) bool {
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		for k := 0; k < geom.NDim; k++ {
			if x[i][k]+eps < y[i][k] || x[i][k]-eps > y[i][k] {
				return false
			}
		}
	}
	return true
}
