package stats

import "fmt"

// GroupSpeedup is one group's contribution to a weighted speedup.
type GroupSpeedup struct {
	Group string
	// Share is the group's percentage of all baseline samples.
	Share   float64
	Speedup float64
}

// pair returns the baseline and experimental samples of every baseline
// group, in baseline group order.
func pair(base, exp *Latencies) ([]string, error) {
	groups := base.Groups()
	for _, g := range groups {
		if _, ok := exp.Samples(g); !ok {
			return nil, fmt.Errorf("group %q missing from experimental samples", g)
		}
	}
	return groups, nil
}

func concat(l *Latencies, groups []string) []float64 {
	var all []float64
	for _, g := range groups {
		s, _ := l.Samples(g)
		all = append(all, s...)
	}
	return all
}

// OverallSpeedup is agg(all baseline samples) / agg(all experimental samples).
func OverallSpeedup(base, exp *Latencies, agg Aggregator) (float64, error) {
	groups, err := pair(base, exp)
	if err != nil {
		return 0, err
	}
	return agg(concat(base, groups)) / agg(concat(exp, groups)), nil
}

// WeightedGroupSpeedup averages per-group speedups weighted by each group's
// baseline sample count.
func WeightedGroupSpeedup(base, exp *Latencies, agg Aggregator) (float64, []GroupSpeedup, error) {
	groups, err := pair(base, exp)
	if err != nil {
		return 0, nil, err
	}
	total := base.Len()
	if total == 0 {
		return 0, nil, fmt.Errorf("no baseline samples")
	}

	rows := make([]GroupSpeedup, 0, len(groups))
	weighted := 0.0
	for _, g := range groups {
		b, _ := base.Samples(g)
		e, _ := exp.Samples(g)
		speedup := agg(b) / agg(e)
		weighted += float64(len(b)) * speedup
		rows = append(rows, GroupSpeedup{
			Group:   g,
			Share:   100 * float64(len(b)) / float64(total),
			Speedup: speedup,
		})
	}
	return weighted / float64(total), rows, nil
}

// PerSampleSpeedup is the mean of baseline/experimental ratios taken sample
// by sample. Extra samples on either side are ignored.
func PerSampleSpeedup(base, exp *Latencies) (float64, error) {
	groups, err := pair(base, exp)
	if err != nil {
		return 0, err
	}
	b, e := concat(base, groups), concat(exp, groups)
	n := len(b)
	if len(e) < n {
		n = len(e)
	}
	ratios := make([]float64, n)
	for i := 0; i < n; i++ {
		ratios[i] = b[i] / e[i]
	}
	return Mean(ratios), nil
}
