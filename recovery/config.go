package recovery

import "github.com/0xPolygonHermez/zkevm-txqueue/config/types"

// Config for the failure analysis and recovery
type Config struct {
	// RetryLimit is the max number of recovery attempts of a failed tx
	RetryLimit uint64 `mapstructure:"RetryLimit"`

	// BackoffBase is the delay before the first recovery tx can be submitted
	BackoffBase types.Duration `mapstructure:"BackoffBase"`

	// BackoffMultiplier multiplies the delay on each retry of the same tx
	BackoffMultiplier float64 `mapstructure:"BackoffMultiplier"`

	// BackoffMax caps the delay before a recovery tx can be submitted
	BackoffMax types.Duration `mapstructure:"BackoffMax"`

	// AutoRecover executes the suggested fix without waiting for a caller confirmation
	AutoRecover bool `mapstructure:"AutoRecover"`

	// AutoRecoverMaxCostGwei is the max estimated cost of a suggested fix to be executed automatically
	AutoRecoverMaxCostGwei uint64 `mapstructure:"AutoRecoverMaxCostGwei"`

	// FeeBumpPercent is the fee increase of the bump-fee strategy
	FeeBumpPercent uint64 `mapstructure:"FeeBumpPercent"`

	// GasLimitBumpPercent is the gas limit increase of the increase-gas-limit strategy
	GasLimitBumpPercent uint64 `mapstructure:"GasLimitBumpPercent"`
}
