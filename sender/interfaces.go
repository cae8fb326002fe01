package sender

import (
	"context"

	"github.com/0xPolygonHermez/zkevm-txqueue/pool"
	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
)

// Signer signs the payload of a queued tx. Errors must wrap types.ErrSigningDenied
// when the signature was refused and types.ErrSigningUnavailable when the signer can't be reached
type Signer interface {
	Sign(ctx context.Context, tx *types.QueuedTransaction) (*ethTypes.Transaction, error)
}

// Broadcaster sends signed txs to the network. Errors refused by the node must wrap types.ErrSubmissionRejected
type Broadcaster interface {
	Submit(ctx context.Context, chainID uint64, tx *ethTypes.Transaction) (common.Hash, error)
}

// NonceSource returns the next nonce the network expects from an address
type NonceSource interface {
	PendingNonce(ctx context.Context, chainID uint64, from common.Address) (uint64, error)
}

type poolInterface interface {
	Get(id string) (*types.QueuedTransaction, error)
	UpdateStatus(ctx context.Context, id string, newStatus types.TxStatus, update pool.TxUpdate) (*types.QueuedTransaction, error)
}

type monitorInterface interface {
	Watch(tx *types.QueuedTransaction)
}

type failureHandlerInterface interface {
	HandleFailure(ctx context.Context, tx *types.QueuedTransaction, failure error)
}

type breakerInterface interface {
	RecordFailure(chainID uint64) bool
	RecordSuccess(chainID uint64)
}
