package scheduler

import (
	"context"

	"github.com/0xPolygonHermez/zkevm-txqueue/pool"
	"github.com/0xPolygonHermez/zkevm-txqueue/types"
)

type poolInterface interface {
	ListByStatus(status types.TxStatus) []*types.QueuedTransaction
	BoostPriority(ctx context.Context, id string, from, to types.Priority) (bool, error)
	Claim(ctx context.Context, selector pool.Selector) []*types.QueuedTransaction
}

type senderInterface interface {
	Dispatch(tx *types.QueuedTransaction)
}

type breakerInterface interface {
	IsOpen(chainID uint64) bool
}
