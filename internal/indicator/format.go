package indicator

import (
	"fmt"
	"math"

	"trading-scanner/internal/model"
)

// num formats a reading for explanations; missing values render as "n/a".
func num(v float64) string {
	if model.IsMissing(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", v)
}

// signed formats a score with an explicit sign.
func signed(v float64) string {
	if model.IsMissing(v) {
		return "n/a"
	}
	return fmt.Sprintf("%+.4f", v)
}

// pct formats a fraction as a percentage.
func pct(v float64) string {
	if model.IsMissing(v) {
		return "n/a"
	}
	return fmt.Sprintf("%+.2f%%", v*100)
}

func contributionLine(raw, weight float64) string {
	return fmt.Sprintf("contribution = %s × %.2f = %s", signed(raw), weight, signed(raw*weight))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// allFinite reports whether every value is finite.
func allFinite(vals ...float64) bool {
	for _, v := range vals {
		if model.IsMissing(v) {
			return false
		}
	}
	return true
}
