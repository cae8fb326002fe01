package circuitbreaker

import (
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"golang.org/x/exp/maps"
)

// Registry keeps one circuit breaker per chain
type Registry struct {
	cfg      Config
	clock    clock.Clock
	mutex    sync.Mutex
	breakers map[uint64]*CircuitBreaker
}

// NewRegistry creates an empty registry
func NewRegistry(cfg Config, clk clock.Clock) *Registry {
	return &Registry{
		cfg:      cfg,
		clock:    clk,
		breakers: make(map[uint64]*CircuitBreaker),
	}
}

// For returns the breaker of the chain, creating it if needed
func (r *Registry) For(chainID uint64) *CircuitBreaker {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	cb, ok := r.breakers[chainID]
	if !ok {
		cb = NewCircuitBreaker(r.cfg, r.clock, chainID)
		r.breakers[chainID] = cb
	}
	return cb
}

// IsOpen returns true if the circuit of the chain is open
func (r *Registry) IsOpen(chainID uint64) bool {
	return r.For(chainID).IsOpen()
}

// RecordFailure records a network failure for the chain
func (r *Registry) RecordFailure(chainID uint64) bool {
	return r.For(chainID).RecordFailure()
}

// RecordSuccess records a successful network call for the chain
func (r *Registry) RecordSuccess(chainID uint64) {
	r.For(chainID).RecordSuccess()
}

// States returns the state of every known breaker ordered by chain id
func (r *Registry) States() []State {
	r.mutex.Lock()
	chainIDs := maps.Keys(r.breakers)
	r.mutex.Unlock()

	sort.Slice(chainIDs, func(i, j int) bool { return chainIDs[i] < chainIDs[j] })
	states := make([]State, 0, len(chainIDs))
	for _, chainID := range chainIDs {
		states = append(states, r.For(chainID).GetState())
	}
	return states
}
