package runner

import (
	"strings"

	"trading-scanner/internal/model"
)

// FilterInstruments keeps instruments whose name matches at least one
// include keyword (when any are given) and none of the exclude keywords.
// Instruments without a name are matched by id.
func FilterInstruments(instruments []model.Instrument, include, exclude []string, caseSensitive bool) []model.Instrument {
	fold := func(s string) string {
		if caseSensitive {
			return s
		}
		return strings.ToLower(s)
	}
	matchAny := func(text string, keywords []string) bool {
		for _, k := range keywords {
			if k != "" && strings.Contains(text, fold(k)) {
				return true
			}
		}
		return false
	}

	out := make([]model.Instrument, 0, len(instruments))
	for _, in := range instruments {
		text := in.Name
		if text == "" {
			text = in.ID
		}
		text = fold(text)
		if len(include) > 0 && !matchAny(text, include) {
			continue
		}
		if matchAny(text, exclude) {
			continue
		}
		out = append(out, in)
	}
	return out
}
