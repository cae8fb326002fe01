package scheduler

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	cfgTypes "github.com/0xPolygonHermez/zkevm-txqueue/config/types"
	"github.com/0xPolygonHermez/zkevm-txqueue/pool"
	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "0x617b3a3528F9cDd6630fd3301B9c8911F7Bf063D"
	bob   = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	carol = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
)

type senderRecorder struct {
	mutex sync.Mutex
	txs   []*types.QueuedTransaction
}

func (s *senderRecorder) Dispatch(tx *types.QueuedTransaction) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.txs = append(s.txs, tx)
}

func (s *senderRecorder) count() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.txs)
}

type openChains map[uint64]bool

func (o openChains) IsOpen(chainID uint64) bool {
	return o[chainID]
}

func testConfig() Config {
	return Config{
		TickInterval:  cfgTypes.NewDuration(time.Second),
		MaxConcurrent: 10,
		Aging: AgingConfig{
			LowToNormal:  cfgTypes.NewDuration(time.Minute),
			NormalToHigh: cfgTypes.NewDuration(5 * time.Minute),
			HighToUrgent: cfgTypes.NewDuration(10 * time.Minute),
		},
	}
}

type testEnv struct {
	clock     *clock.Mock
	pool      *pool.Pool
	sender    *senderRecorder
	scheduler *Scheduler
}

func newTestEnv(cfg Config, breakers breakerInterface) *testEnv {
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	p := pool.NewPool(clk, nil, nil)
	sender := &senderRecorder{}
	if breakers == nil {
		breakers = openChains{}
	}
	return &testEnv{
		clock:     clk,
		pool:      p,
		sender:    sender,
		scheduler: NewScheduler(cfg, clk, p, sender, breakers),
	}
}

func (e *testEnv) enqueue(t *testing.T, from string, chainID uint64, priority types.Priority, nonce *uint64) string {
	to := common.HexToAddress("0x1")
	id, err := e.pool.Enqueue(context.Background(), types.TxRequest{
		From:     from,
		ChainID:  chainID,
		Nonce:    nonce,
		Priority: priority,
		Payload: types.TxPayload{
			To:       &to,
			Value:    big.NewInt(1),
			GasLimit: 21000,
			GasPrice: big.NewInt(1),
		},
	})
	require.NoError(t, err)
	return id
}

func (e *testEnv) status(t *testing.T, id string) types.TxStatus {
	tx, err := e.pool.Get(id)
	require.NoError(t, err)
	return tx.Status
}

func nonce(n uint64) *uint64 {
	return &n
}

func ids(txs []*types.QueuedTransaction) []string {
	result := []string{}
	for _, tx := range txs {
		result = append(result, tx.ID)
	}
	return result
}

func TestOneInFlightPerSender(t *testing.T) {
	env := newTestEnv(testConfig(), nil)
	ctx := context.Background()

	id7 := env.enqueue(t, alice, 1, types.PriorityUrgent, nonce(7))
	id5 := env.enqueue(t, alice, 1, types.PriorityLow, nonce(5))
	id6 := env.enqueue(t, alice, 1, types.PriorityNormal, nonce(6))

	claimed := env.scheduler.Tick(ctx)
	assert.Equal(t, []string{id5}, ids(claimed))
	assert.Equal(t, types.TxStatusPending, env.status(t, id5))
	assert.Equal(t, types.TxStatusQueued, env.status(t, id6))
	assert.Equal(t, types.TxStatusQueued, env.status(t, id7))

	// nothing else while nonce 5 is in flight
	assert.Empty(t, env.scheduler.Tick(ctx))

	hash := common.HexToHash("0x05")
	_, err := env.pool.UpdateStatus(ctx, id5, types.TxStatusSubmitted, pool.TxUpdate{Hash: &hash})
	require.NoError(t, err)
	assert.Empty(t, env.scheduler.Tick(ctx))

	_, err = env.pool.UpdateStatus(ctx, id5, types.TxStatusConfirmed, pool.TxUpdate{})
	require.NoError(t, err)
	assert.Equal(t, []string{id6}, ids(env.scheduler.Tick(ctx)))
	assert.Equal(t, 2, env.sender.count())
}

func TestFailedNonceHoldsSender(t *testing.T) {
	env := newTestEnv(testConfig(), nil)
	ctx := context.Background()

	id5 := env.enqueue(t, alice, 1, types.PriorityNormal, nonce(5))
	id6 := env.enqueue(t, alice, 1, types.PriorityNormal, nonce(6))
	assert.Equal(t, []string{id5}, ids(env.scheduler.Tick(ctx)))

	_, err := env.pool.UpdateStatus(ctx, id5, types.TxStatusFailed, pool.TxUpdate{Err: fmt.Errorf("%w: transaction underpriced", types.ErrSubmissionRejected)})
	require.NoError(t, err)
	// nonce 5 was never used, 6 would get stuck
	assert.Empty(t, env.scheduler.Tick(ctx))
	assert.Equal(t, types.TxStatusQueued, env.status(t, id6))

	// an operator sweeps the failure
	require.True(t, env.pool.Remove(ctx, id5))
	assert.Equal(t, []string{id6}, ids(env.scheduler.Tick(ctx)))
}

func TestNonceBeforeNonceless(t *testing.T) {
	env := newTestEnv(testConfig(), nil)

	nonceless := env.enqueue(t, alice, 1, types.PriorityNormal, nil)
	env.clock.Add(time.Second)
	explicit := env.enqueue(t, alice, 1, types.PriorityNormal, nonce(3))

	assert.Equal(t, []string{explicit}, ids(env.scheduler.Tick(context.Background())))
	assert.Equal(t, types.TxStatusQueued, env.status(t, nonceless))
}

func TestPriorityAcrossSenders(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	env := newTestEnv(cfg, nil)

	low := env.enqueue(t, alice, 1, types.PriorityLow, nil)
	env.clock.Add(time.Second)
	urgent := env.enqueue(t, bob, 1, types.PriorityUrgent, nil)

	assert.Equal(t, []string{urgent}, ids(env.scheduler.Tick(context.Background())))
	assert.Equal(t, types.TxStatusQueued, env.status(t, low))
}

func TestSamePriorityOlderFirst(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	env := newTestEnv(cfg, nil)

	older := env.enqueue(t, bob, 1, types.PriorityHigh, nil)
	env.clock.Add(time.Second)
	env.enqueue(t, alice, 1, types.PriorityHigh, nil)

	assert.Equal(t, []string{older}, ids(env.scheduler.Tick(context.Background())))
}

func TestMaxConcurrent(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 2
	env := newTestEnv(cfg, nil)

	a := env.enqueue(t, alice, 1, types.PriorityNormal, nil)
	env.clock.Add(time.Second)
	b := env.enqueue(t, bob, 1, types.PriorityNormal, nil)
	env.clock.Add(time.Second)
	c := env.enqueue(t, carol, 1, types.PriorityNormal, nil)

	claimed := env.scheduler.Tick(context.Background())
	assert.ElementsMatch(t, []string{a, b}, ids(claimed))
	assert.Equal(t, types.TxStatusQueued, env.status(t, c))

	// no free slot
	assert.Empty(t, env.scheduler.Tick(context.Background()))
}

func TestMaxConcurrentPerChain(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentPerChain = 1
	env := newTestEnv(cfg, nil)

	a := env.enqueue(t, alice, 1, types.PriorityNormal, nil)
	env.clock.Add(time.Second)
	env.enqueue(t, bob, 1, types.PriorityNormal, nil)
	c := env.enqueue(t, carol, 2, types.PriorityNormal, nil)

	assert.ElementsMatch(t, []string{a, c}, ids(env.scheduler.Tick(context.Background())))
}

func TestNotBeforeAndOpenCircuit(t *testing.T) {
	env := newTestEnv(testConfig(), openChains{2: true})
	ctx := context.Background()

	to := common.HexToAddress("0x1")
	delayed, err := env.pool.Enqueue(ctx, types.TxRequest{
		From:      alice,
		ChainID:   1,
		NotBefore: env.clock.Now().Add(30 * time.Second),
		Payload:   types.TxPayload{To: &to, GasLimit: 21000},
	})
	require.NoError(t, err)
	env.enqueue(t, bob, 2, types.PriorityUrgent, nil)

	assert.Empty(t, env.scheduler.Tick(ctx))

	env.clock.Add(30 * time.Second)
	assert.Equal(t, []string{delayed}, ids(env.scheduler.Tick(ctx)))
}

func TestAging(t *testing.T) {
	env := newTestEnv(testConfig(), nil)
	ctx := context.Background()

	// keep alice busy so nothing of her is selected
	busy := env.enqueue(t, alice, 1, types.PriorityUrgent, nonce(1))
	require.Len(t, env.scheduler.Tick(ctx), 1)

	low := env.enqueue(t, alice, 1, types.PriorityLow, nonce(2))

	env.clock.Add(time.Minute)
	env.scheduler.Tick(ctx)
	tx, err := env.pool.Get(low)
	require.NoError(t, err)
	assert.Equal(t, types.PriorityLow, tx.Priority)

	env.clock.Add(time.Second)
	env.scheduler.Tick(ctx)
	tx, err = env.pool.Get(low)
	require.NoError(t, err)
	assert.Equal(t, types.PriorityNormal, tx.Priority)

	// one tier per round, never lower
	env.clock.Add(time.Hour)
	env.scheduler.Tick(ctx)
	tx, _ = env.pool.Get(low)
	assert.Equal(t, types.PriorityHigh, tx.Priority)
	env.scheduler.Tick(ctx)
	tx, _ = env.pool.Get(low)
	assert.Equal(t, types.PriorityUrgent, tx.Priority)
	env.scheduler.Tick(ctx)
	tx, _ = env.pool.Get(low)
	assert.Equal(t, types.PriorityUrgent, tx.Priority)

	assert.Equal(t, types.TxStatusPending, env.status(t, busy))
}

func TestStartStop(t *testing.T) {
	env := newTestEnv(testConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env.scheduler.Start(ctx)
	assert.True(t, env.scheduler.IsRunning())

	env.enqueue(t, alice, 1, types.PriorityNormal, nil)
	require.Eventually(t, func() bool {
		env.clock.Add(time.Second)
		return env.sender.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	env.scheduler.Stop()
	assert.False(t, env.scheduler.IsRunning())
	env.scheduler.Stop()
}
