package sender

import (
	"context"
	"errors"
	"fmt"

	"github.com/0xPolygonHermez/zkevm-txqueue/log"
	"github.com/0xPolygonHermez/zkevm-txqueue/metrics"
	"github.com/0xPolygonHermez/zkevm-txqueue/pool"
	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"
)

// Sender resolves the nonce, signs and broadcasts the txs selected by the
// scheduler, then hands them to the monitor to wait for the confirmation
type Sender struct {
	cfg         Config
	clock       clock.Clock
	pool        poolInterface
	signer      Signer
	broadcaster Broadcaster
	nonces      NonceSource
	monitor     monitorInterface
	failures    failureHandlerInterface
	breakers    breakerInterface
	requestChan chan *sendRequest
	tracker     *NonceTracker

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

type sendRequest struct {
	tx *types.QueuedTransaction
}

// NewSender creates a sender. nonces and breakers may be nil, a nil tracker is
// replaced by a new one
func NewSender(cfg Config, clk clock.Clock, pool poolInterface, signer Signer, broadcaster Broadcaster, nonces NonceSource,
	tracker *NonceTracker, monitor monitorInterface, failures failureHandlerInterface, breakers breakerInterface) *Sender {
	if tracker == nil {
		tracker = NewNonceTracker()
	}
	return &Sender{
		cfg:         cfg,
		clock:       clk,
		pool:        pool,
		signer:      signer,
		broadcaster: broadcaster,
		nonces:      nonces,
		monitor:     monitor,
		failures:    failures,
		breakers:    breakers,
		requestChan: make(chan *sendRequest, cfg.QueueSize),
		tracker:     tracker,
	}
}

// Start launches the sender workers
func (s *Sender) Start(ctx context.Context) {
	log.Infof("starting %d sender workers", s.cfg.Workers)

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.group, _ = errgroup.WithContext(s.ctx)
	for i := 0; i < int(s.cfg.Workers); i++ {
		workerNum := i
		s.group.Go(func() error {
			s.startSenderWorker(workerNum)
			return nil
		})
	}
}

// Stop stops the workers and waits for the in progress submissions
func (s *Sender) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	_ = s.group.Wait()
	log.Infof("sender workers stopped")
}

// Dispatch adds a pending tx to the workers queue
func (s *Sender) Dispatch(tx *types.QueuedTransaction) {
	request := &sendRequest{tx: tx}
	log.Debugf("send request for tx %s added to the queue channel", tx.Tag())
	// Enqueue sendRequest in the channel. We do in a go func to avoid blocking in case the channel buffer is full
	go func() {
		select {
		case s.requestChan <- request:
		case <-s.done():
		}
	}()
}

func (s *Sender) done() <-chan struct{} {
	if s.ctx == nil {
		return nil
	}
	return s.ctx.Done()
}

func (s *Sender) startSenderWorker(workerNum int) {
	log.Debugf("sender-worker[%03d]: started", workerNum)
	for {
		select {
		case <-s.ctx.Done():
			log.Debugf("sender-worker[%03d]: stopped", workerNum)
			return
		case request := <-s.requestChan:
			s.workerProcessRequest(request, workerNum)
		}
	}
}

func (s *Sender) workerProcessRequest(request *sendRequest, workerNum int) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("sender-worker[%03d]: panic sending tx %s: %v", workerNum, request.tx.Tag(), r)
			s.fail(s.ctx, request.tx, fmt.Errorf("sender panic: %v", r))
		}
	}()

	log.Debugf("sender-worker[%03d]: sending tx %s", workerNum, request.tx.Tag())
	hash, err := s.Submit(s.ctx, request.tx)
	if err != nil {
		log.Infof("sender-worker[%03d]: sending tx %s returns error: %v", workerNum, request.tx.Tag(), err)
		return
	}
	log.Infof("sender-worker[%03d]: tx %s sent, hash: %s", workerNum, request.tx.Tag(), hash.Hex())
}

// Submit signs and broadcasts a pending tx. On success the tx is moved to
// submitted and watched by the monitor, on failure it is moved to failed and
// handed to the failure handler. No retries are done here.
func (s *Sender) Submit(ctx context.Context, tx *types.QueuedTransaction) (common.Hash, error) {
	current, err := s.pool.Get(tx.ID)
	if err != nil {
		return common.Hash{}, err
	}
	if current.Status != types.TxStatusPending {
		return common.Hash{}, fmt.Errorf("%w: tx %s is %s", types.ErrInvalidTransition, tx.ID, current.Status)
	}
	tx = current

	if s.cfg.SubmitTimeout.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SubmitTimeout.Duration)
		defer cancel()
	}

	start := s.clock.Now()
	if tx.Nonce == nil {
		nonce, err := s.resolveNonce(ctx, tx)
		if err != nil {
			s.recordNetworkFailure(tx.ChainID, err)
			return common.Hash{}, s.fail(ctx, tx, fmt.Errorf("failed to resolve nonce: %w", err))
		}
		tx.Nonce = &nonce
	}

	signed, err := s.signer.Sign(ctx, tx)
	if err != nil {
		return common.Hash{}, s.fail(ctx, tx, err)
	}
	tx.Payload = signedPayload(tx.Payload, signed)

	hash, err := s.broadcaster.Submit(ctx, tx.ChainID, signed)
	if err != nil {
		if !errors.Is(err, types.ErrSubmissionRejected) {
			s.recordNetworkFailure(tx.ChainID, err)
		}
		return common.Hash{}, s.fail(ctx, tx, err)
	}
	if s.breakers != nil {
		s.breakers.RecordSuccess(tx.ChainID)
	}
	s.tracker.Track(tx.ChainID, tx.From, *tx.Nonce)
	metrics.ObserveSince(metrics.SubmissionTime, tx.ChainID, start, s.clock.Now())

	submitted, err := s.pool.UpdateStatus(ctx, tx.ID, types.TxStatusSubmitted, pool.TxUpdate{Hash: &hash, Nonce: tx.Nonce, Payload: &tx.Payload})
	if err != nil {
		// cancelled while it was being broadcast
		log.Warnf("tx %s broadcast with hash %s but its status could not be updated, error: %v", tx.Tag(), hash.Hex(), err)
		return hash, err
	}
	s.monitor.Watch(submitted)

	return hash, nil
}

func (s *Sender) fail(ctx context.Context, tx *types.QueuedTransaction, failure error) error {
	// the submission context may have expired, the failure must be recorded anyway
	ctx = context.WithoutCancel(ctx)
	if tx.Nonce != nil {
		s.tracker.Release(tx.ChainID, tx.From, *tx.Nonce)
	}

	failed, err := s.pool.UpdateStatus(ctx, tx.ID, types.TxStatusFailed, pool.TxUpdate{Nonce: tx.Nonce, Payload: &tx.Payload, Err: failure})
	if err != nil {
		log.Errorf("error updating tx %s status (%s), error: %v", tx.Tag(), types.TxStatusFailed, err)
		return failure
	}
	if s.failures != nil {
		s.failures.HandleFailure(ctx, failed, failure)
	}
	return failure
}

func (s *Sender) recordNetworkFailure(chainID uint64, err error) {
	if s.breakers == nil {
		return
	}
	if s.breakers.RecordFailure(chainID) {
		log.Warnf("circuit breaker open for chain %d after error: %v", chainID, err)
	}
}

// resolveNonce returns the pending nonce of the network, never lower than the
// next nonce this sender already used for the address. The nonce is reserved
// until the tx fails, so a tx cancelled while it's being broadcast doesn't let
// the next one of the address take the same nonce
func (s *Sender) resolveNonce(ctx context.Context, tx *types.QueuedTransaction) (uint64, error) {
	if s.nonces == nil {
		return 0, errors.New("nonce not set and no nonce source configured")
	}
	nonce, err := s.nonces.PendingNonce(ctx, tx.ChainID, tx.From)
	if err != nil {
		return 0, err
	}
	return s.tracker.Reserve(tx.ChainID, tx.From, nonce), nil
}

// signedPayload returns the payload with the gas limit and the fees of the signed tx,
// the signer fills them when the payload leaves them unset
func signedPayload(payload types.TxPayload, signed *ethTypes.Transaction) types.TxPayload {
	if signed == nil {
		return payload
	}
	p := payload.Copy()
	p.GasLimit = signed.Gas()
	switch signed.Type() {
	case ethTypes.LegacyTxType, ethTypes.AccessListTxType:
		p.GasPrice = signed.GasPrice()
		p.GasFeeCap, p.GasTipCap = nil, nil
	default:
		p.GasPrice = nil
		p.GasFeeCap = signed.GasFeeCap()
		p.GasTipCap = signed.GasTipCap()
	}
	return p
}
