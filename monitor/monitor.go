package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/0xPolygonHermez/zkevm-txqueue/log"
	"github.com/0xPolygonHermez/zkevm-txqueue/pool"
	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum"
	"golang.org/x/sync/errgroup"
)

// Monitor polls the receipts of the submitted txs until they are confirmed, reverted, dropped or timed out
type Monitor struct {
	cfg              Config
	clock            clock.Clock
	pool             poolInterface
	receipts         ReceiptSource
	handler          outcomeHandlerInterface
	breakers         breakerInterface
	nonces           nonceReleaserInterface
	requestChan      chan *watchRequest
	requestRetryList *retryList
	retryWake        chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

type watchRequest struct {
	tx        *types.QueuedTransaction
	nextRetry time.Time
}

const (
	defaultRetryWaitInterval   = 3 * time.Second
	defaultConfirmationTimeout = 30 * time.Minute
)

// NewMonitor creates a monitor. handler, breakers and nonces may be nil. A zero
// RetryWaitInterval or ConfirmationTimeout is replaced by its default, a
// submitted tx is never polled without a deadline
func NewMonitor(cfg Config, clk clock.Clock, pool poolInterface, receipts ReceiptSource, handler outcomeHandlerInterface,
	breakers breakerInterface, nonces nonceReleaserInterface) *Monitor {
	if cfg.RetryWaitInterval.Duration <= 0 {
		log.Warnf("monitor RetryWaitInterval not set, using %s", defaultRetryWaitInterval)
		cfg.RetryWaitInterval.Duration = defaultRetryWaitInterval
	}
	if cfg.ConfirmationTimeout.Duration <= 0 {
		log.Warnf("monitor ConfirmationTimeout not set, using %s", defaultConfirmationTimeout)
		cfg.ConfirmationTimeout.Duration = defaultConfirmationTimeout
	}
	return &Monitor{
		cfg:              cfg,
		clock:            clk,
		pool:             pool,
		receipts:         receipts,
		handler:          handler,
		breakers:         breakers,
		nonces:           nonces,
		requestChan:      make(chan *watchRequest, cfg.QueueSize),
		requestRetryList: newRetryList(),
		retryWake:        make(chan struct{}, 1),
	}
}

// Start launches the monitor workers and the retry loop
func (m *Monitor) Start(ctx context.Context) {
	log.Infof("starting %d monitor workers", m.cfg.Workers)

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.group, _ = errgroup.WithContext(m.ctx)
	for i := 0; i < int(m.cfg.Workers); i++ {
		workerNum := i
		m.group.Go(func() error {
			m.startMonitorWorker(workerNum)
			return nil
		})
	}
	m.group.Go(func() error {
		m.checkRequestRetries()
		return nil
	})
}

// Stop stops the workers, the txs still being watched stay submitted
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	_ = m.group.Wait()
	log.Infof("monitor stopped, %d txs left in the retry list", m.requestRetryList.len())
}

// Watch starts monitoring a submitted tx
func (m *Monitor) Watch(tx *types.QueuedTransaction) {
	request := &watchRequest{tx: tx.Copy()}

	if m.cfg.InitialWaitInterval.Duration > 0 {
		request.nextRetry = m.capToDeadline(request.tx, m.clock.Now().Add(m.cfg.InitialWaitInterval.Duration))
		m.addRequestToRetryList(request)
	} else {
		m.enqueueRequest(request)
	}
}

// WatchAll monitors the txs that were already submitted when the queue was restored
func (m *Monitor) WatchAll(txs []*types.QueuedTransaction) {
	log.Infof("monitoring %d submitted txs restored from the database", len(txs))
	for _, tx := range txs {
		m.Watch(tx)
	}
}

// Watching returns the number of txs waiting for a receipt retry
func (m *Monitor) Watching() int {
	return m.requestRetryList.len()
}

func (m *Monitor) done() <-chan struct{} {
	if m.ctx == nil {
		return nil
	}
	return m.ctx.Done()
}

func (m *Monitor) enqueueRequest(request *watchRequest) {
	log.Debugf("monitor request for tx %s added to the queue channel", request.tx.Tag())
	// Enqueue watchRequest in the channel. We do in a go func to avoid blocking in case the channel buffer is full
	go func() {
		select {
		case m.requestChan <- request:
		case <-m.done():
		}
	}()
}

func (m *Monitor) startMonitorWorker(workerNum int) {
	log.Debugf("monitor-worker[%03d]: started", workerNum)
	for {
		select {
		case <-m.ctx.Done():
			log.Debugf("monitor-worker[%03d]: stopped", workerNum)
			return
		case request := <-m.requestChan:
			m.processRequest(request, workerNum)
		}
	}
}

func (m *Monitor) deadline(tx *types.QueuedTransaction) time.Time {
	submittedAt := tx.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = tx.UpdatedAt
	}
	return submittedAt.Add(m.cfg.ConfirmationTimeout.Duration)
}

func (m *Monitor) capToDeadline(tx *types.QueuedTransaction, t time.Time) time.Time {
	if deadline := m.deadline(tx); deadline.Before(t) {
		return deadline
	}
	return t
}

func (m *Monitor) scheduleRequestRetry(request *watchRequest, workerNum int) {
	request.nextRetry = m.capToDeadline(request.tx, m.clock.Now().Add(m.cfg.RetryWaitInterval.Duration))
	log.Debugf("monitor-worker[%03d]: scheduled retry monitor tx %s at %v", workerNum, request.tx.Tag(), request.nextRetry)

	m.addRequestToRetryList(request)
}

func (m *Monitor) addRequestToRetryList(request *watchRequest) {
	if !m.requestRetryList.add(request) {
		return
	}
	select {
	case m.retryWake <- struct{}{}:
	default:
	}
}

func (m *Monitor) processRequest(request *watchRequest, workerNum int) {
	tx := request.tx
	current, err := m.pool.Get(tx.ID)
	if err != nil || current.Status != types.TxStatusSubmitted {
		log.Debugf("monitor-worker[%03d]: tx %s is no longer submitted, stop monitoring", workerNum, tx.Tag())
		return
	}

	now := m.clock.Now()
	if !now.Before(m.deadline(tx)) {
		log.Infof("monitor-worker[%03d]: tx %s not confirmed after %s", workerNum, tx.Tag(), m.cfg.ConfirmationTimeout)
		m.fail(tx, fmt.Errorf("%w: not confirmed after %s", types.ErrTimedOut, m.cfg.ConfirmationTimeout))
		return
	}

	log.Infof("monitor-worker[%03d]: monitoring tx %s", workerNum, tx.Tag())
	ctx := m.ctx
	if m.cfg.ReceiptTimeout.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ReceiptTimeout.Duration)
		defer cancel()
	}

	receipt, err := m.receipts.TransactionReceipt(ctx, tx.ChainID, tx.Hash)
	if err != nil {
		switch {
		case errors.Is(err, ethereum.NotFound):
			log.Debugf("monitor-worker[%03d]: receipt for tx %s still not available, schedule retry", workerNum, tx.Tag())
		case errors.Is(err, types.ErrDropped):
			log.Infof("monitor-worker[%03d]: tx %s dropped by the network", workerNum, tx.Tag())
			m.fail(tx, err)
			return
		default:
			log.Errorf("monitor-worker[%03d]: error getting receipt for tx %s, error: %v", workerNum, tx.Tag(), err)
			if m.breakers != nil && m.breakers.RecordFailure(tx.ChainID) {
				log.Warnf("circuit breaker open for chain %d after error: %v", tx.ChainID, err)
			}
		}
		if m.ctx.Err() == nil {
			m.scheduleRequestRetry(request, workerNum)
		}
		return
	}
	if m.breakers != nil {
		m.breakers.RecordSuccess(tx.ChainID)
	}

	if receipt.Status == 0 {
		log.Infof("monitor-worker[%03d]: receipt for tx %s received, status: %d", workerNum, tx.Tag(), receipt.Status)
		m.fail(tx, &types.RevertError{GasUsed: receipt.GasUsed, GasLimit: tx.Payload.GasLimit})
		return
	}

	confirmed, err := m.pool.UpdateStatus(context.WithoutCancel(m.ctx), tx.ID, types.TxStatusConfirmed, pool.TxUpdate{})
	if err != nil {
		log.Errorf("monitor-worker[%03d]: error updating status for tx %s, error: %v", workerNum, tx.Tag(), err)
		return
	}
	log.Infof("monitor-worker[%03d]: receipt for tx %s received, status: %d, block: %v", workerNum, tx.Tag(), receipt.Status, receipt.BlockNumber)
	if m.handler != nil {
		m.handler.HandleConfirmed(context.WithoutCancel(m.ctx), confirmed)
	}
}

func (m *Monitor) fail(tx *types.QueuedTransaction, failure error) {
	ctx := context.WithoutCancel(m.ctx)
	failed, err := m.pool.UpdateStatus(ctx, tx.ID, types.TxStatusFailed, pool.TxUpdate{Err: failure})
	if err != nil {
		log.Errorf("error updating tx %s status (%s), error: %v", tx.Tag(), types.TxStatusFailed, err)
		return
	}
	// a dropped or timed out tx was not mined, its nonce must be used again
	if m.nonces != nil && failed.Nonce != nil && (errors.Is(failure, types.ErrDropped) || errors.Is(failure, types.ErrTimedOut)) {
		m.nonces.Release(failed.ChainID, failed.From, *failed.Nonce)
	}
	if m.handler != nil {
		m.handler.HandleFailure(ctx, failed, failure)
	}
}

// checkRequestRetries moves the requests to the workers queue when their retry time is reached
func (m *Monitor) checkRequestRetries() {
	for {
		for _, request := range m.requestRetryList.popDue(m.clock.Now()) {
			log.Debugf("retry monitor tx %s that was schedule to %v", request.tx.Tag(), request.nextRetry)
			m.enqueueRequest(request)
		}

		var wait <-chan time.Time
		if next, ok := m.requestRetryList.next(); ok {
			wait = m.clock.After(next.Sub(m.clock.Now()))
		}

		select {
		case <-m.ctx.Done():
			return
		case <-wait:
		case <-m.retryWake:
			log.Debugf("continuing processing monitor txs requests retries")
		}
	}
}
