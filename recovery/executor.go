package recovery

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/0xPolygonHermez/zkevm-txqueue/log"
	"github.com/0xPolygonHermez/zkevm-txqueue/metrics"
	"github.com/0xPolygonHermez/zkevm-txqueue/pool"
	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
)

const (
	outcomeStarted   = "started"
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"

	cancelledError = "recovery transaction cancelled"
)

var weiPerGwei = big.NewInt(1e9)

// Executor keeps the failure records and executes their recovery strategies by
// enqueueing new txs. A failure record is keyed by the first failed tx and
// every recovery tx of it refers to that key
type Executor struct {
	cfg      Config
	clock    clock.Clock
	analyzer *Analyzer
	pool     poolInterface
	network  NetworkState
	events   eventBusInterface
	db       failedTxDBInterface

	mutex   sync.Mutex
	records map[string]*types.FailedTransaction
	byHash  map[common.Hash]string
	byTxID  map[string]string

	unsubscribe func()
	done        chan struct{}
}

// NewExecutor creates an executor. network, events and db may be nil
func NewExecutor(cfg Config, clk clock.Clock, pool poolInterface, network NetworkState, events eventBusInterface, db failedTxDBInterface) *Executor {
	return &Executor{
		cfg:      cfg,
		clock:    clk,
		analyzer: NewAnalyzer(cfg, clk),
		pool:     pool,
		network:  network,
		events:   events,
		db:       db,
		records:  make(map[string]*types.FailedTransaction),
		byHash:   make(map[common.Hash]string),
		byTxID:   make(map[string]string),
	}
}

// Start loads the stored failure records and follows the cancellation of recovery txs
func (e *Executor) Start(ctx context.Context) error {
	if e.db != nil {
		records, err := e.db.GetFailedTransactions(ctx)
		if err != nil {
			return fmt.Errorf("failed to load failed txs: %w", err)
		}
		e.mutex.Lock()
		for _, f := range records {
			e.index(f)
		}
		e.mutex.Unlock()
		log.Infof("%d failed txs loaded from the database", len(records))
	}

	if e.events == nil {
		return nil
	}
	events, unsubscribe := e.events.Subscribe(64, types.EventTransactionCancelled)
	e.unsubscribe = unsubscribe
	e.done = make(chan struct{})
	go func() {
		defer close(e.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Transaction != nil && ev.Transaction.RecoveryOf != "" {
					e.handleCancelled(ctx, ev.Transaction)
				}
			}
		}
	}()
	return nil
}

// Stop stops following the cancellations
func (e *Executor) Stop() {
	if e.unsubscribe == nil {
		return
	}
	e.unsubscribe()
	<-e.done
}

// HandleFailure analyzes a tx that reached the failed status. The failure of a
// recovery tx updates the record of the original failure
func (e *Executor) HandleFailure(ctx context.Context, tx *types.QueuedTransaction, failure error) {
	actx := e.analysisContext(ctx, tx)
	analysis := e.analyzer.Analyze(tx, failure, actx)
	metrics.Failures.WithLabelValues(metrics.Chain(tx.ChainID), string(analysis.FailureReason)).Inc()

	e.mutex.Lock()
	record, found := e.records[tx.RecoveryOf]
	isRecovery := tx.RecoveryOf != "" && found
	if isRecovery {
		e.endAttempt(record, tx, analysis.RawError)
		record.Transaction = analysis.Transaction
		record.FailureReason = analysis.FailureReason
		record.RawError = analysis.RawError
		record.CanRecover = analysis.CanRecover
		record.SuggestedFix = analysis.SuggestedFix
		record.Strategies = analysis.Strategies
		record.AnalyzedAt = analysis.AnalyzedAt
		record.Status = types.RecoveryStatusFailed
		if tx.HasHash() {
			e.byHash[tx.Hash] = record.Key
		}
	} else {
		if existing, found := e.records[analysis.Key]; found && existing.Status == types.RecoveryStatusInProgress {
			e.mutex.Unlock()
			log.Warnf("failure of tx %s not recorded, a recovery of it is in progress", tx.Tag())
			return
		}
		record = analysis
		e.index(record)
	}
	snapshot := record.Copy()
	e.mutex.Unlock()

	e.persist(ctx, snapshot)
	if isRecovery {
		log.Infof("recovery tx %s of %s failed, reason: %s, error: %s", tx.Tag(), snapshot.Key, snapshot.FailureReason, snapshot.RawError)
		metrics.RecoveryAttempts.WithLabelValues(strategyLabel(snapshot), outcomeFailed).Inc()
		e.publish(types.EventRecoveryFailed, snapshot)
	} else {
		log.Infof("tx %s failed, reason: %s, can recover: %t, error: %s", tx.Tag(), snapshot.FailureReason, snapshot.CanRecover, snapshot.RawError)
		e.publish(types.EventAnalysisComplete, snapshot)
	}

	e.autoRecover(ctx, snapshot)
}

// HandleConfirmed completes the recovery attempt of a confirmed recovery tx
func (e *Executor) HandleConfirmed(ctx context.Context, tx *types.QueuedTransaction) {
	if tx.RecoveryOf == "" {
		return
	}

	e.mutex.Lock()
	record, found := e.records[tx.RecoveryOf]
	if !found {
		e.mutex.Unlock()
		log.Warnf("recovery tx %s confirmed but the failure %s is unknown", tx.Tag(), tx.RecoveryOf)
		return
	}
	attempt := e.endAttempt(record, tx, "")
	if attempt != nil {
		attempt.NewHash = tx.Hash
	}
	record.Status = types.RecoveryStatusSuccess
	e.byHash[tx.Hash] = record.Key
	snapshot := record.Copy()
	e.mutex.Unlock()

	e.persist(ctx, snapshot)
	log.Infof("failure %s recovered by tx %s", snapshot.Key, tx.Tag())
	metrics.RecoveryAttempts.WithLabelValues(strategyLabel(snapshot), outcomeSucceeded).Inc()
	e.publish(types.EventRecoverySuccess, snapshot)
}

func (e *Executor) handleCancelled(ctx context.Context, tx *types.QueuedTransaction) {
	e.mutex.Lock()
	record, found := e.records[tx.RecoveryOf]
	if !found || record.Status != types.RecoveryStatusInProgress {
		e.mutex.Unlock()
		return
	}
	e.endAttempt(record, tx, cancelledError)
	record.Status = types.RecoveryStatusFailed
	snapshot := record.Copy()
	e.mutex.Unlock()

	e.persist(ctx, snapshot)
	log.Infof("recovery tx %s of %s cancelled", tx.Tag(), snapshot.Key)
	metrics.RecoveryAttempts.WithLabelValues(strategyLabel(snapshot), outcomeFailed).Inc()
	e.publish(types.EventRecoveryFailed, snapshot)
}

// reconcile closes the open attempt of a record in progress whose recovery tx was
// cancelled or removed without the executor being told. Must be called with the mutex locked
func (e *Executor) reconcile(ctx context.Context, record *types.FailedTransaction) {
	attempt := record.LastAttempt()
	if attempt == nil || !attempt.EndedAt.IsZero() {
		return
	}
	tx, err := e.pool.Get(attempt.TxID)
	switch {
	case errors.Is(err, types.ErrNotFound):
		tx = &types.QueuedTransaction{ID: attempt.TxID, RecoveryOf: record.Key}
	case err != nil || tx.Status != types.TxStatusCancelled:
		return
	}

	e.endAttempt(record, tx, cancelledError)
	record.Status = types.RecoveryStatusFailed
	snapshot := record.Copy()
	e.persist(ctx, snapshot)
	log.Infof("recovery tx %s of %s is no longer in the queue, recovery marked as failed", attempt.TxID, record.Key)
	metrics.RecoveryAttempts.WithLabelValues(string(attempt.Strategy), outcomeFailed).Inc()
	e.publish(types.EventRecoveryFailed, snapshot)
}

// endAttempt closes the attempt of the recovery tx, must be called with the mutex locked
func (e *Executor) endAttempt(record *types.FailedTransaction, tx *types.QueuedTransaction, errMsg string) *types.RecoveryAttempt {
	for i := len(record.Attempts) - 1; i >= 0; i-- {
		attempt := &record.Attempts[i]
		if attempt.TxID == tx.ID {
			attempt.EndedAt = e.clock.Now()
			attempt.Error = errMsg
			return attempt
		}
	}
	log.Warnf("no recovery attempt of %s found for tx %s", record.Key, tx.Tag())
	return nil
}

// Recover executes a strategy of the failure referenced by hash or tx id. An
// empty strategy type executes the suggested fix. It returns the id of the recovery tx
func (e *Executor) Recover(ctx context.Context, ref string, strategyType types.StrategyType) (string, error) {
	e.mutex.Lock()
	record, err := e.lookup(ref)
	if err != nil {
		e.mutex.Unlock()
		return "", err
	}
	original := record.Transaction.Copy()
	e.mutex.Unlock()

	actx := e.analysisContext(ctx, original)

	e.mutex.Lock()
	defer e.mutex.Unlock()

	// the record may have changed while the network was queried
	record, err = e.lookup(ref)
	if err != nil {
		return "", err
	}
	if record.Status == types.RecoveryStatusInProgress {
		e.reconcile(ctx, record)
	}
	strategy, err := e.checkRecoverable(record, strategyType)
	if err != nil {
		return "", err
	}

	tx := record.Transaction
	payload, err := ApplyStrategy(strategy, tx.Payload, actx)
	if err != nil {
		return "", err
	}

	now := e.clock.Now()
	req := types.TxRequest{
		From:       tx.From.Hex(),
		ChainID:    tx.ChainID,
		Nonce:      e.recoveryNonce(strategy, tx, actx),
		Payload:    payload,
		Priority:   tx.Priority,
		RecoveryOf: record.Key,
		RetryCount: tx.RetryCount + 1,
		NotBefore:  now.Add(e.cfg.Backoff(tx.RetryCount)),
	}
	id, err := e.pool.Enqueue(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue recovery tx of %s: %w", record.Key, err)
	}

	record.Status = types.RecoveryStatusInProgress
	record.Attempts = append(record.Attempts, types.RecoveryAttempt{
		Strategy:  strategy.Type,
		TxID:      id,
		StartedAt: now,
	})
	e.byTxID[id] = record.Key
	snapshot := record.Copy()

	log.Infof("recovery of %s started with strategy %s, tx %s, attempt %d of %d", record.Key, strategy.Type, id, len(record.Attempts), e.cfg.RetryLimit)
	metrics.RecoveryAttempts.WithLabelValues(string(strategy.Type), outcomeStarted).Inc()

	// published with the lock held so no outcome of the recovery tx is published before
	e.persist(ctx, snapshot)
	e.publish(types.EventRecoveryStarted, snapshot)
	if retry, err := e.pool.Get(id); err == nil {
		e.publishTx(types.EventTransactionRetry, retry)
	}
	return id, nil
}

// checkRecoverable returns the strategy to execute, must be called with the mutex locked
func (e *Executor) checkRecoverable(record *types.FailedTransaction, strategyType types.StrategyType) (*types.RecoveryStrategy, error) {
	switch {
	case record.Status == types.RecoveryStatusInProgress:
		return nil, fmt.Errorf("%w: %s", types.ErrRecoveryInProgress, record.Key)
	case !record.CanRecover:
		return nil, fmt.Errorf("%w: %s failed with reason %s", types.ErrRecoveryUnavailable, record.Key, record.FailureReason)
	case record.Status != types.RecoveryStatusAvailable && record.Status != types.RecoveryStatusFailed:
		return nil, fmt.Errorf("%w: %s recovery status is %s", types.ErrRecoveryUnavailable, record.Key, record.Status)
	case uint64(len(record.Attempts)) >= e.cfg.RetryLimit:
		return nil, fmt.Errorf("%w: %s was retried %d times", types.ErrRetryLimitReached, record.Key, len(record.Attempts))
	}

	if strategyType == "" {
		return record.SuggestedFix, nil
	}
	strategy, found := record.Strategy(strategyType)
	if !found {
		return nil, fmt.Errorf("%w: strategy %s is not a candidate for %s", types.ErrRecoveryUnavailable, strategyType, record.Key)
	}
	return strategy, nil
}

// recoveryNonce keeps the nonce of the failed tx so the recovery tx replaces
// it, unless the nonce was consumed by a mined tx or is the cause of the failure
func (e *Executor) recoveryNonce(strategy *types.RecoveryStrategy, tx *types.QueuedTransaction, actx AnalysisContext) *uint64 {
	if strategy.Type == types.StrategyFixNonce {
		if actx.NextNonce != nil {
			return e.skipHeldNonces(tx, *actx.NextNonce)
		}
		if strategy.Nonce != nil {
			return e.skipHeldNonces(tx, *strategy.Nonce)
		}
		return nil
	}
	if tx.ErrorKind == types.ErrReverted.Error() {
		return nil
	}
	return copyNonce(tx.Nonce)
}

// skipHeldNonces returns the first nonce from nonce on that no unfinished tx
// of the sender in the pool holds
func (e *Executor) skipHeldNonces(tx *types.QueuedTransaction, nonce uint64) *uint64 {
	held := make(map[uint64]struct{})
	for _, other := range e.pool.ListByAddress(tx.From) {
		if other.ChainID != tx.ChainID || other.Nonce == nil || other.Status.IsTerminal() {
			continue
		}
		held[*other.Nonce] = struct{}{}
	}
	for {
		if _, found := held[nonce]; !found {
			break
		}
		log.Debugf("nonce %d of %s is held by a queued tx, skipping it", nonce, tx.From.Hex())
		nonce++
	}
	return &nonce
}

func (e *Executor) autoRecover(ctx context.Context, f *types.FailedTransaction) {
	if !e.cfg.AutoRecover || !f.CanRecover || f.SuggestedFix == nil || f.SuggestedFix.RequiresConfirmation {
		return
	}
	if uint64(len(f.Attempts)) >= e.cfg.RetryLimit {
		log.Infof("failure %s reached the retry limit, waiting for an operator", f.Key)
		return
	}
	cost := f.SuggestedFix.EstimatedCost
	if cost == nil || cost.Sign() <= 0 {
		log.Infof("cost of the suggested fix %s of %s is unknown, waiting for confirmation", f.SuggestedFix.Type, f.Key)
		return
	}
	limit := new(big.Int).Mul(new(big.Int).SetUint64(e.cfg.AutoRecoverMaxCostGwei), weiPerGwei)
	if cost.Cmp(limit) > 0 {
		log.Infof("suggested fix %s of %s costs more than %d gwei, waiting for confirmation", f.SuggestedFix.Type, f.Key, e.cfg.AutoRecoverMaxCostGwei)
		return
	}

	if _, err := e.Recover(ctx, f.Key, ""); err != nil && !errors.Is(err, types.ErrRecoveryInProgress) {
		log.Warnf("automatic recovery of %s failed, error: %v", f.Key, err)
	}
}

// Report fails a submitted tx with an error detected outside the queue and analyzes it
func (e *Executor) Report(ctx context.Context, txID string, rawError string) (*types.FailedTransaction, error) {
	failure := errors.New(rawError)
	failed, err := e.pool.UpdateStatus(ctx, txID, types.TxStatusFailed, pool.TxUpdate{Err: failure})
	if err != nil {
		return nil, err
	}
	e.HandleFailure(ctx, failed, failure)

	ref := failed.ID
	if failed.RecoveryOf != "" {
		ref = failed.RecoveryOf
	}
	return e.Get(ref)
}

// Get returns the failure record referenced by hash or tx id
func (e *Executor) Get(ref string) (*types.FailedTransaction, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	record, err := e.lookup(ref)
	if err != nil {
		return nil, err
	}
	return record.Copy(), nil
}

// List returns the failure records sorted by analysis time
func (e *Executor) List() []*types.FailedTransaction {
	e.mutex.Lock()
	list := make([]*types.FailedTransaction, 0, len(e.records))
	for _, f := range e.records {
		list = append(list, f.Copy())
	}
	e.mutex.Unlock()

	sort.Slice(list, func(i, j int) bool {
		if !list[i].AnalyzedAt.Equal(list[j].AnalyzedAt) {
			return list[i].AnalyzedAt.Before(list[j].AnalyzedAt)
		}
		return list[i].Key < list[j].Key
	})
	return list
}

// lookup must be called with the mutex locked
func (e *Executor) lookup(ref string) (*types.FailedTransaction, error) {
	if record, found := e.records[ref]; found {
		return record, nil
	}
	key, found := e.byTxID[ref]
	if !found && isHash(ref) {
		key, found = e.byHash[common.HexToHash(ref)]
	}
	if !found {
		return nil, fmt.Errorf("%w: failed tx %s", types.ErrNotFound, ref)
	}
	return e.records[key], nil
}

func isHash(ref string) bool {
	return len(ref) == 2+2*common.HashLength && strings.HasPrefix(ref, "0x")
}

// index must be called with the mutex locked
func (e *Executor) index(f *types.FailedTransaction) {
	e.records[f.Key] = f
	if f.TxID != "" {
		e.byTxID[f.TxID] = f.Key
	}
	if f.Hash != (common.Hash{}) {
		e.byHash[f.Hash] = f.Key
	}
	for _, attempt := range f.Attempts {
		e.byTxID[attempt.TxID] = f.Key
		if attempt.NewHash != (common.Hash{}) {
			e.byHash[attempt.NewHash] = f.Key
		}
	}
}

func (e *Executor) analysisContext(ctx context.Context, tx *types.QueuedTransaction) AnalysisContext {
	var actx AnalysisContext
	if e.network == nil || tx == nil {
		return actx
	}
	if price, err := e.network.SuggestGasPrice(ctx, tx.ChainID); err != nil {
		log.Debugf("failed to get gas price of chain %d, error: %v", tx.ChainID, err)
	} else {
		actx.MinFeePerGas = price
	}
	if nonce, err := e.network.PendingNonce(ctx, tx.ChainID, tx.From); err != nil {
		log.Debugf("failed to get pending nonce of %s on chain %d, error: %v", tx.From.Hex(), tx.ChainID, err)
	} else {
		actx.NextNonce = &nonce
	}
	return actx
}

func (e *Executor) persist(ctx context.Context, f *types.FailedTransaction) {
	if e.db == nil {
		return
	}
	if err := e.db.UpsertFailedTransaction(context.WithoutCancel(ctx), f); err != nil {
		log.Errorf("error storing failed tx %s, error: %v", f.Key, err)
	}
}

func (e *Executor) publish(t types.EventType, f *types.FailedTransaction) {
	if e.events == nil {
		return
	}
	e.events.Publish(types.Event{Type: t, Time: e.clock.Now(), Failure: f, Transaction: f.Transaction})
}

func (e *Executor) publishTx(t types.EventType, tx *types.QueuedTransaction) {
	if e.events == nil {
		return
	}
	e.events.Publish(types.Event{Type: t, Time: e.clock.Now(), Transaction: tx})
}

func strategyLabel(f *types.FailedTransaction) string {
	if attempt := f.LastAttempt(); attempt != nil {
		return string(attempt.Strategy)
	}
	return "none"
}
