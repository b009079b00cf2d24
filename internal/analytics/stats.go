package analytics

import (
	"math"

	"github.com/montanaflynn/stats"
)

// Median returns the median of values, averaging the two middle values for an
// even count. It returns nil for an empty input and never mutates values.
func Median(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	m, err := stats.Median(stats.Float64Data(values))
	if err != nil {
		return nil
	}
	return &m
}

// Max returns the largest value, or nil for an empty input.
func Max(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	m, err := stats.Max(stats.Float64Data(values))
	if err != nil {
		return nil
	}
	return &m
}

// Mean returns the arithmetic mean, or nil for an empty input.
func Mean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	m, err := stats.Mean(stats.Float64Data(values))
	if err != nil {
		return nil
	}
	return &m
}

// Finite maps NaN and ±Inf to 0. Totals pass through it so an overflowing
// sum never reaches a caller.
func Finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// PercentWithin returns the share of values <= threshold as a percentage in
// [0, 100]. An empty input is 0, not nil: no data counts as nothing achieved.
func PercentWithin(values []float64, threshold float64) float64 {
	if len(values) == 0 {
		return 0
	}
	n := 0
	for _, v := range values {
		if v <= threshold {
			n++
		}
	}
	return float64(n) / float64(len(values)) * 100
}

// SafeDiv returns num/den, or nil when den is zero or the quotient is not finite.
func SafeDiv(num, den float64) *float64 {
	if den == 0 {
		return nil
	}
	q := num / den
	if math.IsNaN(q) || math.IsInf(q, 0) {
		return nil
	}
	return &q
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// RoundTo rounds v to the given number of decimal places, half away from zero.
func RoundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	if s := v * p; !math.IsInf(s, 0) {
		return math.Round(s) / p
	}
	return v
}

func roundPtr(v *float64, places int) *float64 {
	if v == nil {
		return nil
	}
	r := RoundTo(*v, places)
	return &r
}

func ptr[T any](v T) *T { return &v }
