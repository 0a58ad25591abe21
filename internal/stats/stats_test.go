package stats

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const eps = 1e-9

func approx(a, b float64) bool { return math.Abs(a-b) < eps }

func TestLoad(t *testing.T) {
	in := "120\n\nread,80\nread,40\nwrite,300\n"
	l, err := Load(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := l.Groups(); strings.Join(got, ",") != "all,read,write" {
		t.Errorf("Groups = %v, want [all read write]", got)
	}
	if l.Len() != 4 {
		t.Errorf("Len = %d, want 4", l.Len())
	}
	reads, _ := l.Samples("read")
	if len(reads) != 2 || reads[1] != 40 {
		t.Errorf("read samples = %v, want [80 40]", reads)
	}
}

func TestLoad_BadLine(t *testing.T) {
	_, err := Load(strings.NewReader("10\nread,abc\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("error = %v, want line 2 error", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lat")
	if err := os.WriteFile(path, []byte("1\n2\n3\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	l, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	all, _ := l.Samples(DefaultGroup)
	if Mean(all) != 2 {
		t.Errorf("Mean = %v, want 2", Mean(all))
	}
}

func TestAggregators(t *testing.T) {
	xs := []float64{15, 20, 35, 40, 50}
	tests := []struct {
		name string
		agg  Aggregator
		want float64
	}{
		{name: "mean", agg: Mean, want: 32},
		{name: "median", agg: Median, want: 35},
		{name: "p0", agg: Percentile(0), want: 15},
		{name: "p100", agg: Percentile(100), want: 50},
		{name: "p40", agg: Percentile(40), want: 29},
		{name: "p95", agg: Percentile(95), want: 48},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.agg(xs); !approx(got, tt.want) {
				t.Errorf("got = %v, want %v", got, tt.want)
			}
		})
	}
	if !math.IsNaN(Mean(nil)) || !math.IsNaN(Median(nil)) {
		t.Error("aggregate of no samples should be NaN")
	}
	if xs[0] != 15 || xs[4] != 50 {
		t.Error("Percentile reordered its input")
	}
}

func scaled(base *Latencies, factor float64) *Latencies {
	out := NewLatencies()
	for _, g := range base.Groups() {
		s, _ := base.Samples(g)
		for _, v := range s {
			out.Add(g, v/factor)
		}
	}
	return out
}

func TestSpeedups_UniformSpeedupRoundTrip(t *testing.T) {
	base := NewLatencies()
	for i, v := range []float64{100, 250, 90, 400, 120, 130} {
		g := "read"
		if i%3 == 0 {
			g = "write"
		}
		base.Add(g, v)
	}
	exp := scaled(base, 2)

	for _, a := range ReportAggregators {
		overall, err := OverallSpeedup(base, exp, a.Agg)
		if err != nil {
			t.Fatalf("OverallSpeedup: %v", err)
		}
		weighted, rows, err := WeightedGroupSpeedup(base, exp, a.Agg)
		if err != nil {
			t.Fatalf("WeightedGroupSpeedup: %v", err)
		}
		if !approx(overall, 2) || !approx(weighted, overall) {
			t.Errorf("%s: overall = %v, weighted = %v, want 2", a.Name, overall, weighted)
		}

		share := 0.0
		for _, r := range rows {
			share += r.Share
		}
		if !approx(share, 100) {
			t.Errorf("%s: shares sum = %v, want 100", a.Name, share)
		}
	}

	ps, err := PerSampleSpeedup(base, exp)
	if err != nil {
		t.Fatalf("PerSampleSpeedup: %v", err)
	}
	if !approx(ps, 2) {
		t.Errorf("PerSampleSpeedup = %v, want 2", ps)
	}
}

func TestWeightedGroupSpeedup(t *testing.T) {
	base, exp := NewLatencies(), NewLatencies()
	for i := 0; i < 3; i++ {
		base.Add("read", 100)
		exp.Add("read", 50)
	}
	base.Add("write", 90)
	exp.Add("write", 30)

	got, rows, err := WeightedGroupSpeedup(base, exp, Mean)
	if err != nil {
		t.Fatalf("WeightedGroupSpeedup: %v", err)
	}
	// (3*2 + 1*3) / 4
	if !approx(got, 2.25) {
		t.Errorf("weighted = %v, want 2.25", got)
	}
	if len(rows) != 2 || rows[0].Group != "read" || !approx(rows[0].Share, 75) || !approx(rows[1].Speedup, 3) {
		t.Errorf("rows = %+v", rows)
	}
}

func TestSpeedups_MissingGroup(t *testing.T) {
	base, exp := NewLatencies(), NewLatencies()
	base.Add("read", 10)
	base.Add("write", 10)
	exp.Add("read", 5)

	if _, err := OverallSpeedup(base, exp, Mean); err == nil {
		t.Error("OverallSpeedup error = nil, want missing group error")
	}
	if _, _, err := WeightedGroupSpeedup(base, exp, Mean); err == nil {
		t.Error("WeightedGroupSpeedup error = nil, want missing group error")
	}
	if _, err := PerSampleSpeedup(base, exp); err == nil {
		t.Error("PerSampleSpeedup error = nil, want missing group error")
	}
}

func TestWriteReport(t *testing.T) {
	base, exp := NewLatencies(), NewLatencies()
	for _, v := range []float64{10, 20, 30, 40} {
		base.Add(DefaultGroup, v)
		exp.Add(DefaultGroup, v/4)
	}

	var buf bytes.Buffer
	r, err := WriteReport(&buf, "Mixed", base, exp)
	if err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	want := ReportHeader + "\n" +
		"Mixed, Per Transaction Speedup, 4.000000, N/A, N/A, N/A\n" +
		"Mixed, Weighted Group Speedup, 4.000000, 4.000000, 4.000000, 4.000000\n" +
		"Mixed, All Transaction Speedup, 4.000000, 4.000000, 4.000000, 4.000000\n"
	if buf.String() != want {
		t.Errorf("report =\n%s\nwant\n%s", buf.String(), want)
	}

	buf.Reset()
	if err := r.WriteGroups(&buf); err != nil {
		t.Fatalf("WriteGroups: %v", err)
	}
	if got := buf.String(); got != "all,100.000000,4.000000\n" {
		t.Errorf("groups = %q", got)
	}
}
