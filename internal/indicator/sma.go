package indicator

import (
	"math"

	"trading-scanner/internal/model"
)

// smaSeries calculates the Simple Moving Average over a rolling window.
// out[i] is NaN until the window ending at i holds period finite values.
// A running sum keeps this O(n).
func smaSeries(vals []float64, period int) []float64 {
	out := nanSlice(len(vals))
	if period <= 0 {
		return out
	}

	sum := 0.0
	valid := 0
	for i, v := range vals {
		if !model.IsMissing(v) {
			sum += v
			valid++
		}
		if i >= period {
			// Subtract the oldest value leaving the window
			old := vals[i-period]
			if !model.IsMissing(old) {
				sum -= old
				valid--
			}
		}
		if i >= period-1 && valid == period {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// stdSeries calculates the rolling population standard deviation.
func stdSeries(vals []float64, period int) []float64 {
	out := nanSlice(len(vals))
	mean := smaSeries(vals, period)
	for i := period - 1; i < len(vals); i++ {
		if i < 0 || model.IsMissing(mean[i]) {
			continue
		}
		ss := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := vals[j] - mean[i]
			ss += d * d
		}
		out[i] = math.Sqrt(ss / float64(period))
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// firstFinite returns the index of the first finite value, or -1.
func firstFinite(vals []float64) int {
	for i, v := range vals {
		if !model.IsMissing(v) {
			return i
		}
	}
	return -1
}
