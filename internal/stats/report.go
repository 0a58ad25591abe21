package stats

import (
	"fmt"
	"io"
	"strings"
)

// ReportHeader is the first line of a comparison report.
const ReportHeader = "Stat, Speedup Type, Average, Median, 95th Percentile, 99th Percentile"

// Report holds every speedup figure for one baseline/experimental pair.
type Report struct {
	PerSample float64
	// Weighted and Overall are indexed like ReportAggregators.
	Weighted []float64
	Overall  []float64
	// Groups holds per-group rows for the mean aggregator.
	Groups []GroupSpeedup
}

// Compare computes a Report.
func Compare(base, exp *Latencies) (Report, error) {
	var r Report
	var err error
	if r.PerSample, err = PerSampleSpeedup(base, exp); err != nil {
		return Report{}, err
	}
	for i, a := range ReportAggregators {
		w, rows, err := WeightedGroupSpeedup(base, exp, a.Agg)
		if err != nil {
			return Report{}, err
		}
		if i == 0 {
			r.Groups = rows
		}
		o, err := OverallSpeedup(base, exp, a.Agg)
		if err != nil {
			return Report{}, err
		}
		r.Weighted = append(r.Weighted, w)
		r.Overall = append(r.Overall, o)
	}
	return r, nil
}

// Write prints the report rows labelled stat.
func (r Report) Write(w io.Writer, stat string) error {
	if _, err := fmt.Fprintf(w, "%s, Per Transaction Speedup, %f, N/A, N/A, N/A\n", stat, r.PerSample); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%s, Weighted Group Speedup, %s\n", stat, joinFloats(r.Weighted)); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%s, All Transaction Speedup, %s\n", stat, joinFloats(r.Overall))
	return err
}

// WriteGroups prints one "group,share,speedup" line per group.
func (r Report) WriteGroups(w io.Writer) error {
	for _, g := range r.Groups {
		if _, err := fmt.Fprintf(w, "%s,%f,%f\n", g.Group, g.Share, g.Speedup); err != nil {
			return err
		}
	}
	return nil
}

// WriteReport compares base and exp and writes the header and rows to w.
func WriteReport(w io.Writer, stat string, base, exp *Latencies) (Report, error) {
	r, err := Compare(base, exp)
	if err != nil {
		return Report{}, err
	}
	if _, err := fmt.Fprintln(w, ReportHeader); err != nil {
		return Report{}, err
	}
	return r, r.Write(w, stat)
}

func joinFloats(xs []float64) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprintf("%f", x)
	}
	return strings.Join(parts, ", ")
}
