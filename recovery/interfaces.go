package recovery

import (
	"context"
	"math/big"

	"github.com/0xPolygonHermez/zkevm-txqueue/pool"
	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/ethereum/go-ethereum/common"
)

// NetworkState gives the executor the fee and nonce the network expects when a failure is analyzed
type NetworkState interface {
	SuggestGasPrice(ctx context.Context, chainID uint64) (*big.Int, error)
	PendingNonce(ctx context.Context, chainID uint64, from common.Address) (uint64, error)
}

type poolInterface interface {
	Enqueue(ctx context.Context, req types.TxRequest) (string, error)
	Get(id string) (*types.QueuedTransaction, error)
	ListByAddress(address common.Address) []*types.QueuedTransaction
	UpdateStatus(ctx context.Context, id string, newStatus types.TxStatus, update pool.TxUpdate) (*types.QueuedTransaction, error)
}

type eventBusInterface interface {
	Publish(e types.Event)
	Subscribe(bufferSize int, eventTypes ...types.EventType) (<-chan types.Event, func())
}

type failedTxDBInterface interface {
	UpsertFailedTransaction(ctx context.Context, f *types.FailedTransaction) error
	GetFailedTransactions(ctx context.Context) ([]*types.FailedTransaction, error)
}
