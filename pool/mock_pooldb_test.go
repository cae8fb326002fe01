package pool

import (
	"context"

	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/stretchr/testify/mock"
)

type poolDBMock struct {
	mock.Mock
}

func (m *poolDBMock) UpsertTransaction(ctx context.Context, tx *types.QueuedTransaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *poolDBMock) DeleteTransactions(ctx context.Context, ids []string) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

func (m *poolDBMock) GetTransactionsByStatus(ctx context.Context, statuses []types.TxStatus) ([]*types.QueuedTransaction, error) {
	args := m.Called(ctx, statuses)
	txs, _ := args.Get(0).([]*types.QueuedTransaction)
	return txs, args.Error(1)
}

type recordedEvents struct {
	events []types.Event
}

func (r *recordedEvents) Publish(e types.Event) {
	r.events = append(r.events, e)
}

func (r *recordedEvents) eventTypes() []types.EventType {
	result := []types.EventType{}
	for _, e := range r.events {
		result = append(result, e.Type)
	}
	return result
}
