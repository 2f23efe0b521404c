package scan

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrNilCriteria is returned by Scan when no criteria are given.
	ErrNilCriteria = errors.New("scan criteria is nil")

	// ErrInvalidCriteria wraps every criteria validation failure.
	ErrInvalidCriteria = errors.New("invalid scan criteria")
)

// Criteria is the per-call scan configuration. Weights default to 0, which
// leaves an indicator out of the scan entirely.
type Criteria struct {
	Column        string                    `json:"column" yaml:"column"`
	Weights       map[string]float64        `json:"weights" yaml:"weights"`
	Params        map[string]map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	BuyThreshold  float64                   `json:"score_buy_threshold" yaml:"score_buy_threshold"`
	SellThreshold float64                   `json:"score_sell_threshold" yaml:"score_sell_threshold"`
}

// Weight returns the configured weight for an indicator id, or 0.
func (c *Criteria) Weight(id string) float64 {
	if c == nil {
		return 0
	}
	return c.Weights[id]
}

// WeightedIDs returns the ids with a positive weight, sorted.
func (c *Criteria) WeightedIDs() []string {
	ids := make([]string, 0, len(c.Weights))
	for id, w := range c.Weights {
		if w > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Validate checks the column and that thresholds and weights are finite,
// with non-negative thresholds.
func (c *Criteria) Validate() error {
	if c == nil {
		return ErrNilCriteria
	}
	var errs []error
	if c.Column == "" {
		errs = append(errs, errors.New("column is empty"))
	}
	for name, v := range map[string]float64{"score_buy_threshold": c.BuyThreshold, "score_sell_threshold": c.SellThreshold} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			errs = append(errs, fmt.Errorf("%s must be a finite value >= 0, got %v", name, v))
		}
	}
	for _, id := range sortedKeys(c.Weights) {
		if w := c.Weights[id]; math.IsNaN(w) || math.IsInf(w, 0) {
			errs = append(errs, fmt.Errorf("weight %s is not finite", id))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidCriteria, errors.Join(errs...))
	}
	return nil
}

// WithMinThreshold returns a copy whose thresholds are raised to at least min.
func (c Criteria) WithMinThreshold(min float64) Criteria {
	c.BuyThreshold = math.Max(c.BuyThreshold, min)
	c.SellThreshold = math.Max(c.SellThreshold, min)
	return c
}

// WithOverrides returns a copy whose Params carry overrides layered over the
// criteria params, key by key. The receiver's maps are not modified.
func (c Criteria) WithOverrides(overrides map[string]map[string]any) Criteria {
	if len(overrides) == 0 {
		return c
	}
	params := make(map[string]map[string]any, len(c.Params)+len(overrides))
	for id, p := range c.Params {
		params[id] = p
	}
	for id, o := range overrides {
		if len(o) == 0 {
			continue
		}
		merged := make(map[string]any, len(params[id])+len(o))
		for k, v := range params[id] {
			merged[k] = v
		}
		for k, v := range o {
			merged[k] = v
		}
		params[id] = merged
	}
	c.Params = params
	return c
}

// Canonical returns a deterministic JSON encoding of the criteria: the same
// configuration always yields the same bytes. encoding/json sorts map keys,
// which covers the weights and nested parameter maps.
func (c *Criteria) Canonical() ([]byte, error) {
	if c == nil {
		return nil, ErrNilCriteria
	}
	weights := make(map[string]float64, len(c.Weights))
	for id, w := range c.Weights {
		if w > 0 {
			weights[id] = w
		}
	}
	params := make(map[string]map[string]any, len(c.Params))
	for id, p := range c.Params {
		if len(p) > 0 && weights[id] > 0 {
			params[id] = p
		}
	}
	return json.Marshal(struct {
		Column        string                    `json:"column"`
		BuyThreshold  float64                   `json:"score_buy_threshold"`
		SellThreshold float64                   `json:"score_sell_threshold"`
		Weights       map[string]float64        `json:"weights"`
		Params        map[string]map[string]any `json:"params"`
	}{c.Column, c.BuyThreshold, c.SellThreshold, weights, params})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
