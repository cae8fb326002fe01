package monitor

import (
	"context"

	"github.com/0xPolygonHermez/zkevm-txqueue/pool"
	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
)

// ReceiptSource returns the receipt of a submitted tx. It must return an error wrapping
// ethereum.NotFound while the tx is pending and types.ErrDropped when the network no longer knows the tx
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, chainID uint64, hash common.Hash) (*ethTypes.Receipt, error)
}

type poolInterface interface {
	Get(id string) (*types.QueuedTransaction, error)
	UpdateStatus(ctx context.Context, id string, newStatus types.TxStatus, update pool.TxUpdate) (*types.QueuedTransaction, error)
}

type outcomeHandlerInterface interface {
	HandleFailure(ctx context.Context, tx *types.QueuedTransaction, failure error)
	HandleConfirmed(ctx context.Context, tx *types.QueuedTransaction)
}

type breakerInterface interface {
	RecordFailure(chainID uint64) bool
	RecordSuccess(chainID uint64)
}

type nonceReleaserInterface interface {
	Release(chainID uint64, from common.Address, nonce uint64)
}
