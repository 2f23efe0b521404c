package indicator

import (
	"fmt"

	"trading-scanner/internal/model"
)

// ColRSI is the column RSI adds to the series.
const ColRSI = "rsi"

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
// Scores (RSI-50)/50, so readings in overbought territory score positive.
type RSI struct{}

// NewRSI creates the RSI indicator.
func NewRSI() *RSI { return &RSI{} }

func (r *RSI) ID() string   { return "rsi" }
func (r *RSI) Name() string { return "Relative Strength Index" }
func (r *RSI) Description() string {
	return "Wilder RSI; flags oversold below the lower bound and overbought above the upper bound"
}

func (r *RSI) RequiredColumns(column string) []string { return []string{column} }

func (r *RSI) ParamSchema() ParamSchema {
	return ParamSchema{
		"window": intParam(14, 2, 500),
		"lower":  floatParam(30, 0, 100),
		"upper":  floatParam(70, 0, 100),
	}
}

func (r *RSI) Capabilities() []Capability {
	return []Capability{CapBuySignal, CapSellSignal, CapOverboughtOversold, CapMomentum}
}

func (r *RSI) Calculate(s *model.Series, column string, cfg Config) (*model.Series, error) {
	if err := requireColumns(s, column); err != nil {
		return nil, err
	}
	return s.With(ColRSI, rsiSeries(s.Column(column), cfg.Int("window")))
}

func (r *RSI) Snapshot(s *model.Series, column string, cfg Config) Snapshot {
	snap := Snapshot{}
	snap.Set(ColRSI, s.Last(ColRSI))
	return snap
}

func (r *RSI) Score(s *model.Series, column string, cfg Config) *Score {
	if cfg.Weight <= 0 {
		return nil
	}
	rsi := s.Last(ColRSI)
	if model.IsMissing(rsi) {
		return nil
	}
	raw := (rsi - 50) / 50
	return NewScore(raw, cfg.Weight,
		fmt.Sprintf("RSI %.2f is %s", rsi, r.state(rsi, cfg)),
		[]string{
			fmt.Sprintf("RSI(%d) = %s", cfg.Int("window"), num(rsi)),
			fmt.Sprintf("raw = (%s - 50) / 50 = %s", num(rsi), signed(raw)),
			contributionLine(raw, cfg.Weight),
		})
}

func (r *RSI) Explain(s *model.Series, column string, cfg Config) []string {
	window := cfg.Int("window")
	rsi := s.Last(ColRSI)
	if model.IsMissing(rsi) {
		return []string{fmt.Sprintf("RSI(%d): insufficient data (needs %d observations)", window, window+1)}
	}
	return []string{
		fmt.Sprintf("RSI(%d) = %s (oversold < %g, overbought > %g)", window, num(rsi), cfg.Float("lower"), cfg.Float("upper")),
		"state: " + r.state(rsi, cfg),
		fmt.Sprintf("raw = (RSI - 50) / 50 = %s", signed((rsi-50)/50)),
	}
}

func (r *RSI) state(rsi float64, cfg Config) string {
	switch {
	case rsi < cfg.Float("lower"):
		return "oversold"
	case rsi > cfg.Float("upper"):
		return "overbought"
	default:
		return "neutral"
	}
}

// rsiSeries computes Wilder RSI. The first value appears once period price
// changes have been seen. A window with no movement reads 50.
func rsiSeries(vals []float64, period int) []float64 {
	gains := nanSlice(len(vals))
	losses := nanSlice(len(vals))
	for i := 1; i < len(vals); i++ {
		if model.IsMissing(vals[i]) || model.IsMissing(vals[i-1]) {
			continue
		}
		delta := vals[i] - vals[i-1]
		gains[i], losses[i] = 0, 0
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}

	avgGain := wilderSeries(gains, period)
	avgLoss := wilderSeries(losses, period)
	out := nanSlice(len(vals))
	for i := range out {
		ag, al := avgGain[i], avgLoss[i]
		if model.IsMissing(ag) || model.IsMissing(al) {
			continue
		}
		switch {
		case al == 0 && ag == 0:
			out[i] = 50
		case al == 0:
			out[i] = 100
		default:
			rs := ag / al
			out[i] = 100.0 - (100.0 / (1.0 + rs))
		}
	}
	return out
}
