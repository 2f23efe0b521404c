package indicator

import (
	"fmt"
	"strings"
	"time"

	"trading-scanner/internal/model"
)

// momentumWeights are the fixed blend weights per lookback window (days).
// Windows outside this table are reported but not scored.
var momentumWeights = map[int]float64{
	30:  0.40,
	60:  0.30,
	90:  0.15,
	180: 0.10,
	360: 0.05,
}

// Momentum blends calendar-day lookback returns into one score. Windows
// without enough history drop out and the remaining weights are renormalized.
type Momentum struct{}

// NewMomentum creates the Momentum indicator.
func NewMomentum() *Momentum { return &Momentum{} }

func (m *Momentum) ID() string   { return "momentum" }
func (m *Momentum) Name() string { return "Multi-window Momentum" }
func (m *Momentum) Description() string {
	return "weighted average of 30/60/90/180/360-day returns, renormalized over available windows"
}

func (m *Momentum) RequiredColumns(column string) []string { return []string{column} }

func (m *Momentum) ParamSchema() ParamSchema {
	return ParamSchema{
		"windows": {Type: ParamIntList, Default: []int{30, 60, 90, 180, 360}, Min: bound(1), Max: bound(3650)},
	}
}

func (m *Momentum) Capabilities() []Capability {
	return []Capability{CapBuySignal, CapSellSignal, CapMomentum}
}

// MomentumColumn returns the column name for a lookback window.
func MomentumColumn(window int) string { return fmt.Sprintf("momentum_%dd", window) }

func (m *Momentum) Calculate(s *model.Series, column string, cfg Config) (*model.Series, error) {
	if err := requireColumns(s, column); err != nil {
		return nil, err
	}
	windows := cfg.Ints("windows")
	names := make([]string, 0, len(windows))
	cols := make(map[string][]float64, len(windows))
	for _, w := range windows {
		name := MomentumColumn(w)
		if _, dup := cols[name]; dup {
			continue
		}
		names = append(names, name)
		cols[name] = lookbackReturns(s.Dates(), s.Column(column), w)
	}
	return s.WithColumns(names, cols)
}

func (m *Momentum) Snapshot(s *model.Series, column string, cfg Config) Snapshot {
	snap := Snapshot{}
	for _, w := range cfg.Ints("windows") {
		snap.Set(MomentumColumn(w), s.Last(MomentumColumn(w)))
	}
	if raw, _, ok := m.blend(s, cfg); ok {
		snap.Set("momentum_score", raw)
	}
	return snap
}

func (m *Momentum) Score(s *model.Series, column string, cfg Config) *Score {
	if cfg.Weight <= 0 {
		return nil
	}
	raw, terms, ok := m.blend(s, cfg)
	if !ok {
		return nil
	}
	details := append(terms, fmt.Sprintf("raw = %s", signed(raw)), contributionLine(raw, cfg.Weight))
	return NewScore(raw, cfg.Weight, fmt.Sprintf("weighted momentum %s", pct(raw)), details)
}

func (m *Momentum) Explain(s *model.Series, column string, cfg Config) []string {
	lines := make([]string, 0, len(cfg.Ints("windows"))+1)
	for _, w := range cfg.Ints("windows") {
		v := s.Last(MomentumColumn(w))
		if model.IsMissing(v) {
			lines = append(lines, fmt.Sprintf("%d-day return: insufficient history", w))
			continue
		}
		lines = append(lines, fmt.Sprintf("%d-day return: %s", w, pct(v)))
	}
	if raw, _, ok := m.blend(s, cfg); ok {
		lines = append(lines, fmt.Sprintf("weighted momentum = %s", pct(raw)))
	} else {
		lines = append(lines, "momentum: insufficient data")
	}
	return lines
}

// blend returns the renormalized weighted average of the last-row returns
// and the ordered calculation terms.
func (m *Momentum) blend(s *model.Series, cfg Config) (float64, []string, bool) {
	var (
		sum, wsum float64
		used      []string
		terms     []string
	)
	for _, w := range cfg.Ints("windows") {
		weight, scored := momentumWeights[w]
		v := s.Last(MomentumColumn(w))
		if !scored || model.IsMissing(v) {
			continue
		}
		sum += weight * v
		wsum += weight
		used = append(used, fmt.Sprintf("%.2f", weight))
		terms = append(terms, fmt.Sprintf("%d-day: %s × %.2f", w, pct(v), weight))
	}
	if wsum == 0 {
		return 0, nil, false
	}
	terms = append(terms, fmt.Sprintf("weights renormalized by %s = %.2f", strings.Join(used, " + "), wsum))
	return sum / wsum, terms, true
}

// lookbackReturns computes, for every row, the fractional change from the
// latest observation dated at or before (date - window days) to the row.
func lookbackReturns(dates []time.Time, vals []float64, window int) []float64 {
	out := nanSlice(len(vals))
	j := -1
	for i := range vals {
		target := dates[i].AddDate(0, 0, -window)
		for j+1 < len(dates) && !dates[j+1].After(target) {
			j++
		}
		if j < 0 {
			continue
		}
		past, cur := vals[j], vals[i]
		if !allFinite(past, cur) || past == 0 {
			continue
		}
		out[i] = cur/past - 1
	}
	return out
}
