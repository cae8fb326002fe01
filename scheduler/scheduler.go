package scheduler

import (
	"context"
	"sync"

	"github.com/0xPolygonHermez/zkevm-txqueue/log"
	"github.com/0xPolygonHermez/zkevm-txqueue/pool"
	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/benbjohnson/clock"
)

// Scheduler runs the periodic scheduling round: aging first, then the
// selection of the txs to hand over to the sender
type Scheduler struct {
	cfg      Config
	clock    clock.Clock
	pool     poolInterface
	sender   senderInterface
	breakers breakerInterface

	mutex   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler creates a scheduler. breakers may be nil
func NewScheduler(cfg Config, clk clock.Clock, pool poolInterface, sender senderInterface, breakers breakerInterface) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		clock:    clk,
		pool:     pool,
		sender:   sender,
		breakers: breakers,
	}
}

// Tick runs one scheduling round and returns the txs dispatched to the sender
func (s *Scheduler) Tick(ctx context.Context) []*types.QueuedTransaction {
	if boosted := s.age(ctx, s.clock.Now()); boosted > 0 {
		log.Debugf("scheduler: %d txs promoted by aging", boosted)
	}

	var isOpen func(uint64) bool
	if s.breakers != nil {
		isOpen = s.breakers.IsOpen
	}

	claimed := s.pool.Claim(ctx, func(snapshot pool.Snapshot) []string {
		return Select(s.cfg, snapshot, isOpen)
	})

	for _, tx := range claimed {
		log.Debugf("scheduler: dispatching tx %s, priority: %s", tx.Tag(), tx.Priority)
		s.sender.Dispatch(tx)
	}
	return claimed
}

// Start runs Tick every TickInterval until ctx is done or Stop is called
func (s *Scheduler) Start(ctx context.Context) {
	s.mutex.Lock()
	if s.running {
		s.mutex.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mutex.Unlock()

	log.Infof("starting scheduler, tick interval: %v, max concurrent: %d", s.cfg.TickInterval.Duration, s.cfg.MaxConcurrent)
	go s.runLoop(ctx, s.stopCh, s.doneCh)
}

// Stop stops the scheduling loop and waits for the current round to end
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return
	}
	close(s.stopCh)
	s.running = false
	done := s.doneCh
	s.mutex.Unlock()

	<-done
	log.Infof("scheduler stopped")
}

// IsRunning returns whether the scheduling loop is active
func (s *Scheduler) IsRunning() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.running
}

func (s *Scheduler) runLoop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := s.clock.Ticker(s.cfg.TickInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mutex.Lock()
			s.running = false
			s.mutex.Unlock()
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}
