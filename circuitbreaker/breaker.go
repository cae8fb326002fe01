package circuitbreaker

import (
	"sync"
	"time"

	"github.com/0xPolygonHermez/zkevm-txqueue/log"
	"github.com/0xPolygonHermez/zkevm-txqueue/metrics"
	"github.com/benbjohnson/clock"
)

// CircuitBreaker stops the submissions to a chain after repeated network failures
type CircuitBreaker struct {
	cfg          Config
	clock        clock.Clock
	chainID      uint64
	failureCount int
	lastFailure  time.Time
	tripped      bool
	tripTime     time.Time
	mu           sync.Mutex
}

// State is a snapshot of the breaker
type State struct {
	ChainID      uint64    `json:"chainId"`
	Open         bool      `json:"open"`
	FailureCount int       `json:"failureCount"`
	LastFailure  time.Time `json:"lastFailure"`
	TripTime     time.Time `json:"tripTime"`
}

// NewCircuitBreaker creates a new circuit breaker for a chain
func NewCircuitBreaker(cfg Config, clk clock.Clock, chainID uint64) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:     cfg,
		clock:   clk,
		chainID: chainID,
	}
}

// RecordFailure records a failure and trips the circuit if threshold is reached
func (cb *CircuitBreaker) RecordFailure() bool {
	if !cb.cfg.Enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clock.Now()

	if cb.tripped {
		if now.Sub(cb.tripTime) > cb.cfg.ResetTimeout.Duration {
			log.Infof("circuit breaker for chain %d: reset after timeout", cb.chainID)
			cb.tripped = false
			cb.failureCount = 0
		} else {
			return true
		}
	}

	if now.Sub(cb.lastFailure) > cb.cfg.FailureWindow.Duration {
		cb.failureCount = 0
	}

	cb.failureCount++
	cb.lastFailure = now

	if cb.failureCount >= cb.cfg.FailureThreshold {
		cb.tripped = true
		cb.tripTime = now
		metrics.CircuitBreakerTrips.WithLabelValues(metrics.Chain(cb.chainID)).Inc()
		log.Warnf("circuit breaker for chain %d tripped: %d failures in window", cb.chainID, cb.failureCount)
		return true
	}

	return false
}

// RecordSuccess clears the failure count of a closed circuit
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.tripped {
		cb.failureCount = 0
	}
}

// IsOpen returns true if the circuit is open (tripped)
func (cb *CircuitBreaker) IsOpen() bool {
	if !cb.cfg.Enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.tripped && cb.clock.Now().Sub(cb.tripTime) > cb.cfg.ResetTimeout.Duration {
		cb.tripped = false
		cb.failureCount = 0
		return false
	}

	return cb.tripped
}

// Reset manually resets the circuit breaker
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.tripped = false
	cb.failureCount = 0
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	open := cb.IsOpen()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	return State{
		ChainID:      cb.chainID,
		Open:         open,
		FailureCount: cb.failureCount,
		LastFailure:  cb.lastFailure,
		TripTime:     cb.tripTime,
	}
}
