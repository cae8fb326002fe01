package sender

import (
	"context"

	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"
)

type signerMock struct {
	mock.Mock
}

func (m *signerMock) Sign(ctx context.Context, tx *types.QueuedTransaction) (*ethTypes.Transaction, error) {
	args := m.Called(ctx, tx)
	signed, _ := args.Get(0).(*ethTypes.Transaction)
	return signed, args.Error(1)
}

type broadcasterMock struct {
	mock.Mock
}

func (m *broadcasterMock) Submit(ctx context.Context, chainID uint64, tx *ethTypes.Transaction) (common.Hash, error) {
	args := m.Called(ctx, chainID, tx)
	return args.Get(0).(common.Hash), args.Error(1)
}

type nonceSourceMock struct {
	mock.Mock
}

func (m *nonceSourceMock) PendingNonce(ctx context.Context, chainID uint64, from common.Address) (uint64, error) {
	args := m.Called(ctx, chainID, from)
	return args.Get(0).(uint64), args.Error(1)
}

type monitorMock struct {
	mock.Mock
}

func (m *monitorMock) Watch(tx *types.QueuedTransaction) {
	m.Called(tx)
}

type failureHandlerMock struct {
	mock.Mock
}

func (m *failureHandlerMock) HandleFailure(ctx context.Context, tx *types.QueuedTransaction, failure error) {
	m.Called(ctx, tx, failure)
}

type breakerMock struct {
	mock.Mock
}

func (m *breakerMock) RecordFailure(chainID uint64) bool {
	args := m.Called(chainID)
	return args.Bool(0)
}

func (m *breakerMock) RecordSuccess(chainID uint64) {
	m.Called(chainID)
}
