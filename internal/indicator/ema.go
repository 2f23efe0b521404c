package indicator

import "trading-scanner/internal/model"

// emaSeries calculates the Exponential Moving Average.
// The first value is the SMA of the first period finite inputs; after that
// EMA = price*multiplier + EMA_prev*(1-multiplier), multiplier = 2/(period+1).
func emaSeries(vals []float64, period int) []float64 {
	return smoothSeries(vals, period, 2.0/float64(period+1))
}

// smoothSeries is the SMA-seeded exponential smoother shared by EMA and
// Wilder smoothing. A missing input after the seed yields NaN at that row
// and leaves the running value untouched; a missing input during the seed
// restarts it.
func smoothSeries(vals []float64, period int, multiplier float64) []float64 {
	out := nanSlice(len(vals))
	if period <= 0 {
		return out
	}

	var (
		count   int
		sum     float64
		current float64
	)
	for i, v := range vals {
		if model.IsMissing(v) {
			if count < period {
				count, sum = 0, 0
			}
			continue
		}
		if count < period {
			// Accumulate for initial SMA seed
			sum += v
			count++
			if count == period {
				current = sum / float64(period)
				out[i] = current
			}
			continue
		}
		current = v*multiplier + current*(1-multiplier)
		out[i] = current
	}
	return out
}
