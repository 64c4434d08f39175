package cusum

import "sort"

// QuantileSortedVec returns the linear-interpolation quantile of an
// already-sorted-ascending slice, the scheme used to calibrate a CUSUM
// family's threshold from its learning-phase maxima.
func QuantileSortedVec(sortedVec []float64, quantile float64) float64 {
	n := len(sortedVec)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sortedVec[0]
	}
	idx := float64(n-1) * quantile
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sortedVec[n-1]
	}
	frac := idx - float64(lo)
	return sortedVec[lo] + frac*(sortedVec[hi]-sortedVec[lo])
}

// SortFloat64s sorts vec ascending in place, the precondition
// QuantileSortedVec requires of its input.
func SortFloat64s(vec []float64) {
	sort.Float64s(vec)
}
