package server

import (
	"context"

	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/ethereum/go-ethereum/common"
)

type poolInterface interface {
	Enqueue(ctx context.Context, req types.TxRequest) (string, error)
	Get(id string) (*types.QueuedTransaction, error)
	ListByStatus(status types.TxStatus) []*types.QueuedTransaction
	ListByAddress(address common.Address) []*types.QueuedTransaction
	Cancel(ctx context.Context, id string) (bool, error)
	ClearCompleted(ctx context.Context) int
	Stats() types.QueueStats
}

type recoveryInterface interface {
	Get(ref string) (*types.FailedTransaction, error)
	List() []*types.FailedTransaction
	Recover(ctx context.Context, ref string, strategyType types.StrategyType) (string, error)
	Report(ctx context.Context, txID string, rawError string) (*types.FailedTransaction, error)
}

type eventSubscriber interface {
	Subscribe(bufferSize int, eventTypes ...types.EventType) (<-chan types.Event, func())
}
