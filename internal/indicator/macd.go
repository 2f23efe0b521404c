package indicator

import (
	"fmt"

	"trading-scanner/internal/model"
)

// MACD columns.
const (
	ColMACD       = "macd"
	ColMACDSignal = "macd_signal"
	ColMACDHist   = "macd_hist"
)

// MACD is the Moving Average Convergence Divergence indicator.
// The histogram is scored relative to price so instruments of different
// price levels are comparable.
type MACD struct{}

// NewMACD creates the MACD indicator.
func NewMACD() *MACD { return &MACD{} }

func (m *MACD) ID() string   { return "macd" }
func (m *MACD) Name() string { return "MACD" }
func (m *MACD) Description() string {
	return "EMA(fast) - EMA(slow) with a signal EMA; scores histogram / price"
}

func (m *MACD) RequiredColumns(column string) []string { return []string{column} }

func (m *MACD) ParamSchema() ParamSchema {
	return ParamSchema{
		"fast":   intParam(12, 1, 200),
		"slow":   intParam(26, 2, 400),
		"signal": intParam(9, 1, 200),
	}
}

func (m *MACD) Capabilities() []Capability {
	return []Capability{CapBuySignal, CapSellSignal, CapMomentum, CapCrossSignals}
}

func (m *MACD) Calculate(s *model.Series, column string, cfg Config) (*model.Series, error) {
	if err := requireColumns(s, column); err != nil {
		return nil, err
	}
	vals := s.Column(column)
	fast := emaSeries(vals, cfg.Int("fast"))
	slow := emaSeries(vals, cfg.Int("slow"))

	line := nanSlice(len(vals))
	for i := range line {
		if allFinite(fast[i], slow[i]) {
			line[i] = fast[i] - slow[i]
		}
	}
	signal := emaSeries(line, cfg.Int("signal"))
	hist := nanSlice(len(vals))
	for i := range hist {
		if allFinite(line[i], signal[i]) {
			hist[i] = line[i] - signal[i]
		}
	}

	return s.WithColumns(
		[]string{ColMACD, ColMACDSignal, ColMACDHist},
		map[string][]float64{ColMACD: line, ColMACDSignal: signal, ColMACDHist: hist},
	)
}

func (m *MACD) Snapshot(s *model.Series, column string, cfg Config) Snapshot {
	snap := Snapshot{}
	snap.Set(ColMACD, s.Last(ColMACD))
	snap.Set(ColMACDSignal, s.Last(ColMACDSignal))
	snap.Set(ColMACDHist, s.Last(ColMACDHist))
	return snap
}

func (m *MACD) Score(s *model.Series, column string, cfg Config) *Score {
	if cfg.Weight <= 0 {
		return nil
	}
	hist := s.Last(ColMACDHist)
	price := s.Last(column)
	if model.IsMissing(hist) || model.IsMissing(price) || price <= 0 {
		return nil
	}
	raw := hist / price
	return NewScore(raw, cfg.Weight,
		fmt.Sprintf("MACD histogram %s (%s)", signed(hist), m.bias(hist)),
		[]string{
			fmt.Sprintf("MACD = %s, signal = %s, histogram = %s", num(s.Last(ColMACD)), num(s.Last(ColMACDSignal)), signed(hist)),
			fmt.Sprintf("raw = histogram / price = %s / %s = %s", signed(hist), num(price), signed(raw)),
			contributionLine(raw, cfg.Weight),
		})
}

func (m *MACD) Explain(s *model.Series, column string, cfg Config) []string {
	head := fmt.Sprintf("MACD(%d,%d,%d)", cfg.Int("fast"), cfg.Int("slow"), cfg.Int("signal"))
	hist := s.Last(ColMACDHist)
	price := s.Last(column)
	if model.IsMissing(hist) {
		return []string{head + ": insufficient data"}
	}
	lines := []string{
		fmt.Sprintf("%s: line = %s, signal = %s, histogram = %s", head, num(s.Last(ColMACD)), num(s.Last(ColMACDSignal)), signed(hist)),
		"momentum: " + m.bias(hist),
	}
	if model.IsMissing(price) || price <= 0 {
		return append(lines, fmt.Sprintf("insufficient data: price %s is not positive, no score", num(price)))
	}
	return append(lines, fmt.Sprintf("raw = histogram / price = %s", signed(hist/price)))
}

func (m *MACD) bias(hist float64) string {
	switch {
	case hist > 0:
		return "bullish, MACD above signal"
	case hist < 0:
		return "bearish, MACD below signal"
	default:
		return "flat"
	}
}
