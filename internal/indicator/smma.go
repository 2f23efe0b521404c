package indicator

import (
	"math"

	"trading-scanner/internal/model"
)

// wilderSeries calculates Wilder's smoothed moving average.
// First value is SMA(period), then SMMA = (prev*(period-1) + value) / period.
func wilderSeries(vals []float64, period int) []float64 {
	if period <= 0 {
		return nanSlice(len(vals))
	}
	return smoothSeries(vals, period, 1.0/float64(period))
}

// trueRangeSeries returns max(high-low, |high-prevClose|, |low-prevClose|).
// The first row has no previous close and is NaN. When high/low are nil the
// close-to-close move is used instead.
func trueRangeSeries(high, low, close []float64) []float64 {
	out := nanSlice(len(close))
	for i := 1; i < len(close); i++ {
		prev := close[i-1]
		if model.IsMissing(prev) {
			continue
		}
		if high == nil || low == nil {
			if !model.IsMissing(close[i]) {
				out[i] = math.Abs(close[i] - prev)
			}
			continue
		}
		h, l := high[i], low[i]
		if model.IsMissing(h) || model.IsMissing(l) {
			continue
		}
		out[i] = math.Max(h-l, math.Max(math.Abs(h-prev), math.Abs(l-prev)))
	}
	return out
}
