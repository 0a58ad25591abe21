package stats

import (
	"math"
	"sort"
)

// Aggregator reduces a sample set to one figure.
type Aggregator func([]float64) float64

// Mean returns the arithmetic mean, or NaN for no samples.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Median returns the 50th percentile.
func Median(xs []float64) float64 {
	return Percentile(50)(xs)
}

// Percentile returns an aggregator for the p-th percentile, interpolating
// linearly between the two closest ranks.
func Percentile(p float64) Aggregator {
	return func(xs []float64) float64 {
		if len(xs) == 0 {
			return math.NaN()
		}
		s := append([]float64(nil), xs...)
		sort.Float64s(s)

		rank := p / 100 * float64(len(s)-1)
		lo := int(math.Floor(rank))
		hi := int(math.Ceil(rank))
		if lo < 0 {
			return s[0]
		}
		if hi >= len(s) {
			return s[len(s)-1]
		}
		return s[lo] + (s[hi]-s[lo])*(rank-float64(lo))
	}
}

// Named pairs an aggregator with its report column title.
type Named struct {
	Name string
	Agg  Aggregator
}

// ReportAggregators are the report columns, in order.
var ReportAggregators = []Named{
	{Name: "Average", Agg: Mean},
	{Name: "Median", Agg: Median},
	{Name: "95th Percentile", Agg: Percentile(95)},
	{Name: "99th Percentile", Agg: Percentile(99)},
}
