package circuitbreaker

import "github.com/0xPolygonHermez/zkevm-txqueue/config/types"

// Config for the per chain circuit breaker
type Config struct {
	// Enabled turns the circuit breaker on
	Enabled bool `mapstructure:"Enabled"`

	// FailureThreshold is the number of network failures within FailureWindow that opens the circuit
	FailureThreshold int `mapstructure:"FailureThreshold"`

	// FailureWindow is the time window used to count failures
	FailureWindow types.Duration `mapstructure:"FailureWindow"`

	// ResetTimeout is the time the circuit stays open before letting txs through again
	ResetTimeout types.Duration `mapstructure:"ResetTimeout"`
}
