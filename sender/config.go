package sender

import "github.com/0xPolygonHermez/zkevm-txqueue/config/types"

// Config for the queue sender
type Config struct {
	// Workers is the number of sender workers signing and broadcasting txs, usually equal to Scheduler.MaxConcurrent
	Workers uint16 `mapstructure:"Workers"`

	// QueueSize is the size of the channel buffer for the txs dispatched by the scheduler
	QueueSize uint16 `mapstructure:"QueueSize"`

	// SubmitTimeout bounds the time to resolve the nonce, sign and broadcast a tx
	SubmitTimeout types.Duration `mapstructure:"SubmitTimeout"`
}
