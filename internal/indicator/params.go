package indicator

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ParamType is the declared type of an indicator parameter.
type ParamType string

const (
	ParamInt     ParamType = "int"
	ParamFloat   ParamType = "float"
	ParamIntList ParamType = "int_list"
)

// ParamSpec describes one parameter. Min and Max are optional bounds.
type ParamSpec struct {
	Type    ParamType `json:"type" yaml:"type"`
	Default any       `json:"default" yaml:"default"`
	Min     *float64  `json:"min,omitempty" yaml:"min,omitempty"`
	Max     *float64  `json:"max,omitempty" yaml:"max,omitempty"`
}

// ParamSchema maps parameter names to their specs.
type ParamSchema map[string]ParamSpec

// Names returns the parameter names sorted.
func (ps ParamSchema) Names() []string {
	names := make([]string, 0, len(ps))
	for n := range ps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func bound(v float64) *float64 { return &v }

func intParam(def int, min, max float64) ParamSpec {
	return ParamSpec{Type: ParamInt, Default: def, Min: bound(min), Max: bound(max)}
}

func floatParam(def float64, min, max float64) ParamSpec {
	return ParamSpec{Type: ParamFloat, Default: def, Min: bound(min), Max: bound(max)}
}

// Config is the resolved configuration of one indicator for one scan.
type Config struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"parameters"`
	Weight float64        `json:"weight"`
}

// BuildConfig resolves parameters as schema defaults overlaid by each layer in
// order (later layers win). A layer value that fails validation is dropped in
// favour of the previous value and reported in the returned error; the
// returned Config is always usable.
func BuildConfig(ind Indicator, weight float64, layers ...map[string]any) (Config, error) {
	schema := ind.ParamSchema()
	params := make(map[string]any, len(schema))
	for name, spec := range schema {
		params[name] = spec.Default
	}

	var errs []error
	for _, layer := range layers {
		keys := make([]string, 0, len(layer))
		for k := range layer {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := layer[k]
			spec, known := schema[k]
			if !known {
				params[k] = v
				continue
			}
			if err := spec.validate(v); err != nil {
				errs = append(errs, fmt.Errorf("%s.%s: %w", ind.ID(), k, err))
				continue
			}
			params[k] = v
		}
	}

	return Config{Name: ind.Name(), Params: params, Weight: weight}, errors.Join(errs...)
}

func (spec ParamSpec) validate(v any) error {
	switch spec.Type {
	case ParamInt, ParamFloat:
		f, ok := toFloat(v)
		if !ok {
			return fmt.Errorf("expected %s, got %T", spec.Type, v)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("expected finite %s, got %v", spec.Type, f)
		}
		if spec.Type == ParamInt && f != math.Trunc(f) {
			return fmt.Errorf("expected integer, got %v", f)
		}
		return spec.checkBounds(f)
	case ParamIntList:
		list, ok := toInts(v)
		if !ok || len(list) == 0 {
			return fmt.Errorf("expected non-empty integer list, got %T", v)
		}
		for _, n := range list {
			if err := spec.checkBounds(float64(n)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (spec ParamSpec) checkBounds(f float64) error {
	if spec.Min != nil && f < *spec.Min {
		return fmt.Errorf("%v below minimum %v", f, *spec.Min)
	}
	if spec.Max != nil && f > *spec.Max {
		return fmt.Errorf("%v above maximum %v", f, *spec.Max)
	}
	return nil
}

// Int returns an integer parameter, or 0 if absent or not numeric.
func (c Config) Int(name string) int {
	f, _ := toFloat(c.Params[name])
	return int(f)
}

// Float returns a float parameter, or 0 if absent or not numeric.
func (c Config) Float(name string) float64 {
	f, _ := toFloat(c.Params[name])
	return f
}

// Ints returns an integer-list parameter, or nil.
func (c Config) Ints(name string) []int {
	list, _ := toInts(c.Params[name])
	return list
}

// toFloat accepts the numeric shapes produced by Go literals, encoding/json
// and yaml.v3 decoding.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toInts(v any) ([]int, bool) {
	switch l := v.(type) {
	case []int:
		out := make([]int, len(l))
		copy(out, l)
		return out, true
	case []float64:
		out := make([]int, len(l))
		for i, f := range l {
			if f != math.Trunc(f) {
				return nil, false
			}
			out[i] = int(f)
		}
		return out, true
	case []any:
		out := make([]int, len(l))
		for i, e := range l {
			f, ok := toFloat(e)
			if !ok || f != math.Trunc(f) {
				return nil, false
			}
			out[i] = int(f)
		}
		return out, true
	}
	return nil, false
}
