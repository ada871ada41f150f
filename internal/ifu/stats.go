package ifu

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Robust statistics shared by the residual and star-finding layers. All of
// these treat NaN as "no data".

// Median returns the median of vals, averaging the two central values for
// even-length input. The input slice is sorted in place. Returns NaN for an
// empty slice.
func Median(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	sort.Float64s(vals)
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}

// NaNMedian returns the median of the valid (non-NaN) values in vals
// without modifying the input. Returns NaN when nothing is valid.
func NaNMedian(vals []float64) float64 {
	return Median(compact(vals))
}

// NaNMAD returns the median absolute deviation of the valid values around
// their median. Multiply by 1.4826 for a robust sigma estimate on
// Gaussian-like data.
func NaNMAD(vals []float64) float64 {
	clean := compact(vals)
	if len(clean) == 0 {
		return math.NaN()
	}
	med := Median(clean)
	dev := make([]float64, len(clean))
	for i, v := range clean {
		dev[i] = math.Abs(v - med)
	}
	return Median(dev)
}

// NaNStdErr returns the standard error of the mean of the valid values:
// stddev / sqrt(n). Returns NaN when fewer than two values are valid.
func NaNStdErr(vals []float64) float64 {
	clean := compact(vals)
	if len(clean) < 2 {
		return math.NaN()
	}
	return stat.StdDev(clean, nil) / math.Sqrt(float64(len(clean)))
}

// RobustSigma converts a MAD to an equivalent Gaussian sigma.
func RobustSigma(mad float64) float64 {
	return 1.4826 * mad
}

func compact(vals []float64) []float64 {
	clean := make([]float64, 0, len(vals))
	for _, v := range vals {
		if !math.IsNaN(v) {
			clean = append(clean, v)
		}
	}
	return clean
}
