package server

import (
	"context"

	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/mock"
)

type poolMock struct {
	mock.Mock
}

func (m *poolMock) Enqueue(ctx context.Context, req types.TxRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *poolMock) Get(id string) (*types.QueuedTransaction, error) {
	args := m.Called(id)
	tx, _ := args.Get(0).(*types.QueuedTransaction)
	return tx, args.Error(1)
}

func (m *poolMock) ListByStatus(status types.TxStatus) []*types.QueuedTransaction {
	args := m.Called(status)
	return args.Get(0).([]*types.QueuedTransaction)
}

func (m *poolMock) ListByAddress(address common.Address) []*types.QueuedTransaction {
	args := m.Called(address)
	return args.Get(0).([]*types.QueuedTransaction)
}

func (m *poolMock) Cancel(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *poolMock) ClearCompleted(ctx context.Context) int {
	args := m.Called(ctx)
	return args.Int(0)
}

func (m *poolMock) Stats() types.QueueStats {
	args := m.Called()
	return args.Get(0).(types.QueueStats)
}

type recoveryMock struct {
	mock.Mock
}

func (m *recoveryMock) Get(ref string) (*types.FailedTransaction, error) {
	args := m.Called(ref)
	f, _ := args.Get(0).(*types.FailedTransaction)
	return f, args.Error(1)
}

func (m *recoveryMock) List() []*types.FailedTransaction {
	args := m.Called()
	return args.Get(0).([]*types.FailedTransaction)
}

func (m *recoveryMock) Recover(ctx context.Context, ref string, strategyType types.StrategyType) (string, error) {
	args := m.Called(ctx, ref, strategyType)
	return args.String(0), args.Error(1)
}

func (m *recoveryMock) Report(ctx context.Context, txID string, rawError string) (*types.FailedTransaction, error) {
	args := m.Called(ctx, txID, rawError)
	f, _ := args.Get(0).(*types.FailedTransaction)
	return f, args.Error(1)
}
