package pool

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/0xPolygonHermez/zkevm-txqueue/log"
	"github.com/0xPolygonHermez/zkevm-txqueue/metrics"
	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Pool is the in-memory store of queued transactions. Every status change goes
// through it and is validated against the transaction lifecycle.
type Pool struct {
	clock  clock.Clock
	events eventPublisher
	poolDB poolDBInterface
	mutex  sync.RWMutex
	txs    map[string]*types.QueuedTransaction
}

// TxUpdate contains the optional fields applied together with a status change
type TxUpdate struct {
	Hash  *common.Hash
	Nonce *uint64
	// Payload replaces the payload, the sender sets it to the gas and fees that were signed
	Payload *types.TxPayload
	Err     error
}

// Snapshot is the view of the queue given to a Selector
type Snapshot struct {
	Now      time.Time
	Queued   []*types.QueuedTransaction
	InFlight []*types.QueuedTransaction
	// Finished holds the confirmed and failed txs that have a nonce
	Finished []*types.QueuedTransaction
}

// Selector returns the ids of the queued txs to move to pending
type Selector func(s Snapshot) []string

// NewPool creates a pool. poolDB may be nil to keep the queue only in memory
func NewPool(clk clock.Clock, events eventPublisher, poolDB poolDBInterface) *Pool {
	return &Pool{
		clock:  clk,
		events: events,
		poolDB: poolDB,
		txs:    make(map[string]*types.QueuedTransaction),
	}
}

// Enqueue validates the request and adds it to the queue with status queued
func (p *Pool) Enqueue(ctx context.Context, req types.TxRequest) (string, error) {
	if err := validateRequest(req); err != nil {
		return "", err
	}

	now := p.clock.Now()
	tx := &types.QueuedTransaction{
		ID:         uuid.NewString(),
		From:       common.HexToAddress(req.From),
		ChainID:    req.ChainID,
		Payload:    req.Payload.Copy(),
		Priority:   req.Priority,
		Status:     types.TxStatusQueued,
		RetryCount: req.RetryCount,
		CreatedAt:  now,
		UpdatedAt:  now,
		NotBefore:  req.NotBefore,
		RecoveryOf: req.RecoveryOf,
	}
	if req.Nonce != nil {
		nonce := *req.Nonce
		tx.Nonce = &nonce
	}
	if tx.Priority == types.PriorityUnset {
		tx.Priority = types.PriorityNormal
	}

	p.mutex.Lock()
	if p.poolDB != nil {
		if err := p.poolDB.UpsertTransaction(ctx, tx); err != nil {
			p.mutex.Unlock()
			return "", fmt.Errorf("failed to store tx in the pool db: %w", err)
		}
	}
	p.txs[tx.ID] = tx
	snapshot := tx.Copy()
	p.mutex.Unlock()

	metrics.TransactionsEnqueued.WithLabelValues(metrics.Chain(snapshot.ChainID), snapshot.Priority.String()).Inc()
	log.Infof("tx %s added to the queue, chain: %d, priority: %s, retry: %d", snapshot.Tag(), snapshot.ChainID, snapshot.Priority, snapshot.RetryCount)
	p.publish(types.EventTransactionAdded, snapshot, types.PriorityUnset)

	return tx.ID, nil
}

func validateRequest(req types.TxRequest) error {
	if !common.IsHexAddress(req.From) {
		return fmt.Errorf("%w: invalid from address %q", types.ErrInvalidRequest, req.From)
	}
	if req.ChainID == 0 {
		return fmt.Errorf("%w: chain id is required", types.ErrInvalidRequest)
	}
	if req.Payload.To == nil && len(req.Payload.Data) == 0 {
		return fmt.Errorf("%w: payload needs a recipient or data", types.ErrInvalidRequest)
	}
	if req.Priority < types.PriorityUnset || req.Priority > types.PriorityUrgent {
		return fmt.Errorf("%w: invalid priority %d", types.ErrInvalidRequest, req.Priority)
	}
	if req.Payload.GasPrice != nil && req.Payload.GasFeeCap != nil {
		return fmt.Errorf("%w: gasPrice and maxFeePerGas are mutually exclusive", types.ErrInvalidRequest)
	}
	if req.Payload.GasTipCap != nil && req.Payload.GasFeeCap == nil {
		return fmt.Errorf("%w: maxPriorityFeePerGas requires maxFeePerGas", types.ErrInvalidRequest)
	}
	for _, v := range []*big.Int{req.Payload.Value, req.Payload.GasPrice, req.Payload.GasFeeCap, req.Payload.GasTipCap} {
		if v != nil && v.Sign() < 0 {
			return fmt.Errorf("%w: negative amount in payload", types.ErrInvalidRequest)
		}
	}
	return nil
}

// Get returns a copy of the tx
func (p *Pool) Get(id string) (*types.QueuedTransaction, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	tx, ok := p.txs[id]
	if !ok {
		return nil, fmt.Errorf("%w: tx %s", types.ErrNotFound, id)
	}
	return tx.Copy(), nil
}

// ListByStatus returns copies of the txs with the given status ordered by creation time
func (p *Pool) ListByStatus(status types.TxStatus) []*types.QueuedTransaction {
	return p.list(func(tx *types.QueuedTransaction) bool { return tx.Status == status })
}

// ListByAddress returns copies of the txs sent from address ordered by creation time
func (p *Pool) ListByAddress(address common.Address) []*types.QueuedTransaction {
	return p.list(func(tx *types.QueuedTransaction) bool { return tx.From == address })
}

func (p *Pool) list(filter func(tx *types.QueuedTransaction) bool) []*types.QueuedTransaction {
	p.mutex.RLock()
	result := []*types.QueuedTransaction{}
	for _, tx := range p.txs {
		if filter(tx) {
			result = append(result, tx.Copy())
		}
	}
	p.mutex.RUnlock()

	sortByCreation(result)
	return result
}

func sortByCreation(txs []*types.QueuedTransaction) {
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].ID < txs[j].ID
		}
		return txs[i].CreatedAt.Before(txs[j].CreatedAt)
	})
}

// Remove deletes a confirmed, failed or cancelled tx from the queue. Returns
// false if it doesn't exist or is not finished yet
func (p *Pool) Remove(ctx context.Context, id string) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	tx, ok := p.txs[id]
	if !ok || !tx.Status.IsTerminal() {
		return false
	}
	delete(p.txs, id)
	p.deleteFromDB(ctx, []string{id})
	return true
}

// UpdateStatus moves the tx to newStatus applying the update fields. The
// transition is validated and applied atomically.
func (p *Pool) UpdateStatus(ctx context.Context, id string, newStatus types.TxStatus, update TxUpdate) (*types.QueuedTransaction, error) {
	p.mutex.Lock()
	tx, ok := p.txs[id]
	if !ok {
		p.mutex.Unlock()
		return nil, fmt.Errorf("%w: tx %s", types.ErrNotFound, id)
	}
	if !tx.Status.CanTransitionTo(newStatus) {
		p.mutex.Unlock()
		return nil, fmt.Errorf("%w: tx %s %s -> %s", types.ErrInvalidTransition, id, tx.Status, newStatus)
	}

	now := p.clock.Now()
	tx.Status = newStatus
	tx.UpdatedAt = now
	if update.Nonce != nil {
		nonce := *update.Nonce
		tx.Nonce = &nonce
	}
	if update.Hash != nil {
		tx.Hash = *update.Hash
	}
	if update.Payload != nil {
		tx.Payload = update.Payload.Copy()
	}
	switch newStatus {
	case types.TxStatusPending:
		tx.LastAttemptAt = now
	case types.TxStatusSubmitted:
		tx.SubmittedAt = now
	case types.TxStatusConfirmed:
		tx.ConfirmedAt = now
	case types.TxStatusFailed:
		if update.Err != nil {
			tx.Error = update.Err.Error()
			tx.ErrorKind = types.ErrorKind(update.Err)
		}
	}
	p.persist(ctx, tx)
	snapshot := tx.Copy()
	p.mutex.Unlock()

	if newStatus.IsTerminal() {
		metrics.TransactionsFinished.WithLabelValues(metrics.Chain(snapshot.ChainID), string(newStatus)).Inc()
	}

	switch newStatus {
	case types.TxStatusSubmitted:
		log.Infof("tx %s submitted", snapshot.Tag())
		p.publish(types.EventTransactionSubmitted, snapshot, types.PriorityUnset)
	case types.TxStatusConfirmed:
		metrics.ObserveSince(metrics.ConfirmationTime, snapshot.ChainID, snapshot.CreatedAt, now)
		log.Infof("tx %s confirmed", snapshot.Tag())
		p.publish(types.EventTransactionConfirmed, snapshot, types.PriorityUnset)
	case types.TxStatusFailed:
		log.Infof("tx %s failed, error: %s", snapshot.Tag(), snapshot.Error)
		p.publish(types.EventTransactionFailed, snapshot, types.PriorityUnset)
	case types.TxStatusCancelled:
		log.Infof("tx %s cancelled", snapshot.Tag())
		p.publish(types.EventTransactionCancelled, snapshot, types.PriorityUnset)
	}

	return snapshot, nil
}

// Cancel cancels a queued or pending tx. Returns false without error if the tx
// was already cancelled and ErrNotCancellable if it was already submitted or finished
func (p *Pool) Cancel(ctx context.Context, id string) (bool, error) {
	p.mutex.RLock()
	tx, ok := p.txs[id]
	var status types.TxStatus
	if ok {
		status = tx.Status
	}
	p.mutex.RUnlock()

	if !ok {
		return false, fmt.Errorf("%w: tx %s", types.ErrNotFound, id)
	}
	if status == types.TxStatusCancelled {
		return false, nil
	}
	if !status.CanTransitionTo(types.TxStatusCancelled) {
		return false, fmt.Errorf("%w: tx %s is %s", types.ErrNotCancellable, id, status)
	}

	_, err := p.UpdateStatus(ctx, id, types.TxStatusCancelled, TxUpdate{})
	if err != nil {
		// status changed in between
		current, getErr := p.Get(id)
		if getErr == nil && current.Status == types.TxStatusCancelled {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", types.ErrNotCancellable, err)
	}
	return true, nil
}

// Claim runs the selector over a consistent snapshot of the queue and moves the
// selected queued txs to pending. Returns copies of the claimed txs
func (p *Pool) Claim(ctx context.Context, selector Selector) []*types.QueuedTransaction {
	p.mutex.Lock()

	now := p.clock.Now()
	snapshot := Snapshot{Now: now}
	for _, tx := range p.txs {
		switch {
		case tx.Status == types.TxStatusQueued:
			snapshot.Queued = append(snapshot.Queued, tx.Copy())
		case tx.Status.IsInFlight():
			snapshot.InFlight = append(snapshot.InFlight, tx.Copy())
		case tx.Nonce != nil && (tx.Status == types.TxStatusConfirmed || tx.Status == types.TxStatusFailed):
			snapshot.Finished = append(snapshot.Finished, tx.Copy())
		}
	}
	sortByCreation(snapshot.Queued)
	sortByCreation(snapshot.InFlight)
	sortByCreation(snapshot.Finished)

	claimed := []*types.QueuedTransaction{}
	for _, id := range selector(snapshot) {
		tx, ok := p.txs[id]
		if !ok || tx.Status != types.TxStatusQueued {
			continue
		}
		tx.Status = types.TxStatusPending
		tx.LastAttemptAt = now
		tx.UpdatedAt = now
		p.persist(ctx, tx)
		claimed = append(claimed, tx.Copy())
	}
	p.mutex.Unlock()

	return claimed
}

// BoostPriority promotes a queued tx from one priority to another. It's a
// compare and set, returns false if the tx is no longer queued with priority from
func (p *Pool) BoostPriority(ctx context.Context, id string, from, to types.Priority) (bool, error) {
	if to <= from || to > types.PriorityUrgent {
		return false, fmt.Errorf("%w: can't boost priority %s to %s", types.ErrInvalidRequest, from, to)
	}

	p.mutex.Lock()
	tx, ok := p.txs[id]
	if !ok {
		p.mutex.Unlock()
		return false, fmt.Errorf("%w: tx %s", types.ErrNotFound, id)
	}
	if tx.Status != types.TxStatusQueued || tx.Priority != from {
		p.mutex.Unlock()
		return false, nil
	}
	tx.Priority = to
	tx.UpdatedAt = p.clock.Now()
	p.persist(ctx, tx)
	snapshot := tx.Copy()
	p.mutex.Unlock()

	metrics.PriorityBoosts.WithLabelValues(to.String()).Inc()
	log.Debugf("tx %s priority boosted from %s to %s", snapshot.Tag(), from, to)
	p.publish(types.EventPriorityBoosted, snapshot, from)
	return true, nil
}

// ClearCompleted removes confirmed, failed and cancelled txs. Returns the number of removed txs
func (p *Pool) ClearCompleted(ctx context.Context) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	ids := []string{}
	for id, tx := range p.txs {
		if tx.Status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		delete(p.txs, id)
	}
	p.deleteFromDB(ctx, ids)

	return len(ids)
}

// Stats computes the queue statistics
func (p *Pool) Stats() types.QueueStats {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	stats := types.QueueStats{
		Total:    len(p.txs),
		ByStatus: make(map[types.TxStatus]int, len(types.AllTxStatuses)),
	}
	for _, status := range types.AllTxStatuses {
		stats.ByStatus[status] = 0
	}

	var confirmationTime time.Duration
	var retries uint64
	for _, tx := range p.txs {
		stats.ByStatus[tx.Status]++
		if tx.Status.IsInFlight() {
			stats.InFlight++
		}
		if tx.Status == types.TxStatusConfirmed {
			confirmationTime += tx.ConfirmedAt.Sub(tx.CreatedAt)
		}
		retries += tx.RetryCount
	}

	confirmed := stats.ByStatus[types.TxStatusConfirmed]
	failed := stats.ByStatus[types.TxStatusFailed]
	if confirmed > 0 {
		stats.AverageConfirmationTime = confirmationTime / time.Duration(confirmed)
	}
	if stats.Total > 0 {
		stats.AverageRetryCount = float64(retries) / float64(stats.Total)
	}
	if confirmed+failed > 0 {
		stats.SuccessRate = float64(confirmed) / float64(confirmed+failed)
	}
	return stats
}

// Restore loads the unfinished txs stored in the pool db. Pending txs go back to
// queued. Returns the submitted txs, they need to be monitored again
func (p *Pool) Restore(ctx context.Context) ([]*types.QueuedTransaction, error) {
	if p.poolDB == nil {
		return nil, nil
	}

	txs, err := p.poolDB.GetTransactionsByStatus(ctx, []types.TxStatus{types.TxStatusQueued, types.TxStatusPending, types.TxStatusSubmitted})
	if err != nil {
		return nil, err
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	submitted := []*types.QueuedTransaction{}
	for _, tx := range txs {
		if tx.Status == types.TxStatusPending {
			log.Warnf("tx %s was pending when the queue stopped, moving it back to queued", tx.Tag())
			tx.Status = types.TxStatusQueued
			tx.UpdatedAt = p.clock.Now()
			p.persist(ctx, tx)
		}
		p.txs[tx.ID] = tx
		if tx.Status == types.TxStatusSubmitted {
			submitted = append(submitted, tx.Copy())
		}
	}
	log.Infof("restored %d txs from the pool db, %d submitted", len(txs), len(submitted))

	return submitted, nil
}

func (p *Pool) persist(ctx context.Context, tx *types.QueuedTransaction) {
	if p.poolDB == nil {
		return
	}
	if err := p.poolDB.UpsertTransaction(ctx, tx); err != nil {
		log.Errorf("error storing tx %s in the pool db, error: %v", tx.Tag(), err)
	}
}

func (p *Pool) deleteFromDB(ctx context.Context, ids []string) {
	if p.poolDB == nil || len(ids) == 0 {
		return
	}
	if err := p.poolDB.DeleteTransactions(ctx, ids); err != nil {
		log.Errorf("error deleting %d txs from the pool db, error: %v", len(ids), err)
	}
}

func (p *Pool) publish(t types.EventType, tx *types.QueuedTransaction, previous types.Priority) {
	if p.events == nil {
		return
	}
	p.events.Publish(types.Event{
		Type:             t,
		Time:             p.clock.Now(),
		Transaction:      tx,
		PreviousPriority: previous,
	})
}
