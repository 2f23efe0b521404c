package indicator

import (
	"log/slog"
	"sync"
)

// Registry maps indicator ids to implementations. It is built once at startup
// and only read afterwards; registration order is the order the scan engine
// evaluates indicators in.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]Indicator
	order  []string
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byID:   make(map[string]Indicator, 16),
		logger: logger,
	}
}

// NewDefaultRegistry creates a registry with every built-in indicator.
func NewDefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	RegisterBuiltins(r)
	return r
}

// Register adds ind under ind.ID(). A duplicate id replaces the previous
// indicator in place (last write wins) and is logged.
func (r *Registry) Register(ind Indicator) {
	id := ind.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[id]; exists {
		r.logger.Warn("indicator already registered, replacing", slog.String("indicator", id))
	} else {
		r.order = append(r.order, id)
	}
	r.byID[id] = ind
}

// Get returns the indicator for id.
func (r *Registry) Get(id string) (Indicator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ind, ok := r.byID[id]
	return ind, ok
}

// All returns a copy of the id → indicator map.
func (r *Registry) All() map[string]Indicator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Indicator, len(r.byID))
	for id, ind := range r.byID {
		out[id] = ind
	}
	return out
}

// IDs returns registered ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered indicators.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// RegisterBuiltins registers all built-in indicators. The order here is the
// evaluation order of the scan engine.
func RegisterBuiltins(r *Registry) {
	r.Register(NewRSI())
	r.Register(NewMACD())
	r.Register(NewADX())
	r.Register(NewATR())
	r.Register(NewMomentum())
	r.Register(NewEMARegime())
	r.Register(NewBollinger())
	r.Register(NewSMATrend())
}
