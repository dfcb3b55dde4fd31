package utils

import "math"

// MeanStdDev returns the mean and the population standard deviation
// (divisor n) of x. Both are NaN when x is empty.
func MeanStdDev(x []float64) (mean, stddev float64) {
	n := float64(len(x))
	if len(x) == 0 {
		return math.NaN(), math.NaN()
	}
	var sum float64
	for _, v := range x {
		sum += v
	}
	mean = sum / n
	var ss float64
	for _, v := range x {
		d := v - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / n)
}

// AllFinite reports whether every element of x is neither NaN nor ±Inf.
// It returns the index of the first offending element, or -1.
func AllFinite(x []float64) (bool, int) {
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false, i
		}
	}
	return true, -1
}
