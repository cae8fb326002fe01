package scheduler

import "github.com/0xPolygonHermez/zkevm-txqueue/config/types"

// Config for the queue scheduler
type Config struct {
	// TickInterval is the time between two scheduling rounds
	TickInterval types.Duration `mapstructure:"TickInterval"`

	// MaxConcurrent is the max number of txs pending or submitted at the same time
	MaxConcurrent uint16 `mapstructure:"MaxConcurrent"`

	// MaxConcurrentPerChain limits the in flight txs per chain, 0 means no limit
	MaxConcurrentPerChain uint16 `mapstructure:"MaxConcurrentPerChain"`

	// Aging defines when a queued tx is promoted to the next priority
	Aging AgingConfig `mapstructure:"Aging"`
}

// AgingConfig contains the age a queued tx needs to reach to leave each priority.
// A zero value disables the promotion from that priority
type AgingConfig struct {
	// LowToNormal is the age to promote a low priority tx
	LowToNormal types.Duration `mapstructure:"LowToNormal"`

	// NormalToHigh is the age to promote a normal priority tx
	NormalToHigh types.Duration `mapstructure:"NormalToHigh"`

	// HighToUrgent is the age to promote a high priority tx
	HighToUrgent types.Duration `mapstructure:"HighToUrgent"`
}
