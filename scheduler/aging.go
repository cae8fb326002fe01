package scheduler

import (
	"context"
	"time"

	"github.com/0xPolygonHermez/zkevm-txqueue/log"
	"github.com/0xPolygonHermez/zkevm-txqueue/types"
)

// threshold returns the age a tx needs to leave priority p, 0 if it never leaves it
func (c AgingConfig) threshold(p types.Priority) time.Duration {
	switch p {
	case types.PriorityLow:
		return c.LowToNormal.Duration
	case types.PriorityNormal:
		return c.NormalToHigh.Duration
	case types.PriorityHigh:
		return c.HighToUrgent.Duration
	}
	return 0
}

// age promotes one tier every queued tx older than the threshold of its
// priority. Returns the number of promoted txs
func (s *Scheduler) age(ctx context.Context, now time.Time) int {
	boosted := 0
	for _, tx := range s.pool.ListByStatus(types.TxStatusQueued) {
		threshold := s.cfg.Aging.threshold(tx.Priority)
		if threshold == 0 || now.Sub(tx.CreatedAt) <= threshold {
			continue
		}
		ok, err := s.pool.BoostPriority(ctx, tx.ID, tx.Priority, tx.Priority.Next())
		if err != nil {
			log.Errorf("error boosting priority of tx %s, error: %v", tx.Tag(), err)
			continue
		}
		if ok {
			boosted++
		}
	}
	return boosted
}
