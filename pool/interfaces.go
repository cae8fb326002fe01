package pool

import (
	"context"

	"github.com/0xPolygonHermez/zkevm-txqueue/types"
)

type poolDBInterface interface {
	UpsertTransaction(ctx context.Context, tx *types.QueuedTransaction) error
	DeleteTransactions(ctx context.Context, ids []string) error
	GetTransactionsByStatus(ctx context.Context, statuses []types.TxStatus) ([]*types.QueuedTransaction, error)
}

type eventPublisher interface {
	Publish(e types.Event)
}
