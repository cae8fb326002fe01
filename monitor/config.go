package monitor

import "github.com/0xPolygonHermez/zkevm-txqueue/config/types"

// Config for the confirmation monitor
type Config struct {
	// Workers is the number of monitor workers to query for txs receipts
	Workers uint16 `mapstructure:"Workers"`

	// QueueSize is the size of the queue for submitted txs that need to be monitored to get the tx receipt
	QueueSize uint16 `mapstructure:"QueueSize"`

	// InitialWaitInterval is the time the monitor worker will wait before to try get the tx receipt for first time
	InitialWaitInterval types.Duration `mapstructure:"InitialWaitInterval"`

	// RetryWaitInterval is the time the monitor worker will wait before to retry to get the tx receipt if it still doesn't exists
	RetryWaitInterval types.Duration `mapstructure:"RetryWaitInterval"`

	// ConfirmationTimeout is the time a submitted tx can be monitored waiting for the receipt before it's failed as timed out
	ConfirmationTimeout types.Duration `mapstructure:"ConfirmationTimeout"`

	// ReceiptTimeout bounds each receipt query to the node
	ReceiptTimeout types.Duration `mapstructure:"ReceiptTimeout"`
}
