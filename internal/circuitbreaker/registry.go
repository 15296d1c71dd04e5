package circuitbreaker

import (
	"sync"

	"github.com/vyrodovalexey/avaproxy/internal/observability"
)

// Registry lazily creates one breaker per name. A disabled registry hands
// out nil breakers, which never reject.
type Registry struct {
	breakers sync.Map
	config   Config
	enabled  bool
	logger   observability.Logger
	onState  StateFunc
}

// NewRegistry creates a new breaker registry.
func NewRegistry(enabled bool, cfg Config, logger observability.Logger, onState StateFunc) *Registry {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Registry{
		config:  cfg,
		enabled: enabled,
		logger:  logger,
		onState: onState,
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *CircuitBreaker {
	if r == nil || !r.enabled {
		return nil
	}
	if v, ok := r.breakers.Load(name); ok {
		return v.(*CircuitBreaker)
	}

	cb := NewCircuitBreaker(name, r.config, r.logger, r.onState)
	actual, loaded := r.breakers.LoadOrStore(name, cb)
	if loaded {
		return actual.(*CircuitBreaker)
	}

	r.logger.Debug("created circuit breaker", observability.String("name", name))
	return cb
}

// Names returns the names of all created breakers.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	var names []string
	r.breakers.Range(func(key, _ interface{}) bool {
		names = append(names, key.(string))
		return true
	})
	return names
}
