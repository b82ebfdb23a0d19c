package pbench

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Summary describes a set of samples. Values keep the unit of the input.
type Summary struct {
	Count  int
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
	P50    float64
	P95    float64
	P99    float64
}

// Summarize sorts values in place and computes the summary.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	sort.Float64s(values)

	s := Summary{
		Count: len(values),
		Min:   values[0],
		Max:   values[len(values)-1],
		Mean:  stat.Mean(values, nil),
		P50:   stat.Quantile(0.50, stat.Empirical, values, nil),
		P95:   stat.Quantile(0.95, stat.Empirical, values, nil),
		P99:   stat.Quantile(0.99, stat.Empirical, values, nil),
	}
	if len(values) > 1 {
		s.StdDev = stat.StdDev(values, nil)
	}
	return s
}

// SummarizeDurations summarizes in microseconds.
func SummarizeDurations(d []time.Duration) Summary {
	values := make([]float64, len(d))
	for i, v := range d {
		values[i] = float64(v) / float64(time.Microsecond)
	}
	return Summarize(values)
}
