package scheduler

import (
	"sort"
	"strings"

	"github.com/0xPolygonHermez/zkevm-txqueue/pool"
	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/ethereum/go-ethereum/common"
)

type senderKey struct {
	chainID uint64
	from    common.Address
}

func keyOf(tx *types.QueuedTransaction) senderKey {
	return senderKey{chainID: tx.ChainID, from: tx.From}
}

// Select returns the ids of the queued txs to submit in this round.
//
// Only the head of each (chain, sender) group is eligible, and only if the sender
// has nothing in flight on that chain, so nonces go out strictly in order.
// A head with an explicit nonce above a nonce left unused by a failed tx of the
// sender waits until that nonce is taken again, see nonceGaps.
// Heads are ranked by priority and then by age, and admitted while there are
// free slots globally and for their chain.
func Select(cfg Config, s pool.Snapshot, isOpen func(chainID uint64) bool) []string {
	inFlight := len(s.InFlight)
	available := int(cfg.MaxConcurrent) - inFlight
	if available <= 0 {
		return nil
	}

	busy := make(map[senderKey]bool, len(s.InFlight))
	perChain := make(map[uint64]int)
	for _, tx := range s.InFlight {
		busy[keyOf(tx)] = true
		perChain[tx.ChainID]++
	}

	groups := make(map[senderKey][]*types.QueuedTransaction)
	for _, tx := range s.Queued {
		groups[keyOf(tx)] = append(groups[keyOf(tx)], tx)
	}

	gaps := nonceGaps(s)
	candidates := make([]*types.QueuedTransaction, 0, len(groups))
	for key, group := range groups {
		if busy[key] {
			continue
		}
		sortGroup(group)
		head := group[0]
		if head.NotBefore.After(s.Now) {
			continue
		}
		if gap, found := gaps[key]; found && head.Nonce != nil && *head.Nonce > gap {
			// a tx without nonce takes the unused one
			head = firstWithoutNonce(group)
			if head == nil || head.NotBefore.After(s.Now) {
				continue
			}
		}
		if isOpen != nil && isOpen(head.ChainID) {
			continue
		}
		candidates = append(candidates, head)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	selected := []string{}
	for _, tx := range candidates {
		if len(selected) == available {
			break
		}
		if cfg.MaxConcurrentPerChain > 0 && perChain[tx.ChainID] >= int(cfg.MaxConcurrentPerChain) {
			continue
		}
		perChain[tx.ChainID]++
		selected = append(selected, tx.ID)
	}
	return selected
}

// nonceGaps returns for each sender the lowest nonce of a failed tx that was
// never consumed and that no other tx of the sender holds. Sending a higher nonce
// before it would leave the tx stuck in the node.
//
// The nonce of a failed tx is consumed when the tx was mined (reverted), when the
// node reported it as used, or when a higher nonce of the sender was confirmed.
// A gap is closed by a queued or in flight tx with the same nonce (a recovery
// tx keeps it) or by removing the failed tx from the queue.
func nonceGaps(s pool.Snapshot) map[senderKey]uint64 {
	consumed := make(map[senderKey]uint64)
	taken := make(map[senderKey]map[uint64]bool)
	markConsumed := func(tx *types.QueuedTransaction) {
		if next := *tx.Nonce + 1; next > consumed[keyOf(tx)] {
			consumed[keyOf(tx)] = next
		}
	}
	for _, list := range [][]*types.QueuedTransaction{s.Queued, s.InFlight} {
		for _, tx := range list {
			if tx.Nonce == nil {
				continue
			}
			if taken[keyOf(tx)] == nil {
				taken[keyOf(tx)] = make(map[uint64]bool)
			}
			taken[keyOf(tx)][*tx.Nonce] = true
		}
	}
	for _, tx := range s.Finished {
		if tx.Nonce != nil && (tx.Status == types.TxStatusConfirmed || nonceConsumed(tx)) {
			markConsumed(tx)
		}
	}

	gaps := make(map[senderKey]uint64)
	for _, tx := range s.Finished {
		if tx.Nonce == nil || tx.Status != types.TxStatusFailed || nonceConsumed(tx) {
			continue
		}
		key := keyOf(tx)
		nonce := *tx.Nonce
		if nonce < consumed[key] || taken[key][nonce] {
			continue
		}
		if gap, found := gaps[key]; !found || nonce < gap {
			gaps[key] = nonce
		}
	}
	return gaps
}

func firstWithoutNonce(group []*types.QueuedTransaction) *types.QueuedTransaction {
	for _, tx := range group {
		if tx.Nonce == nil {
			return tx
		}
	}
	return nil
}

var consumedNoncePatterns = []string{"nonce too low", "nonce has already been used", "already known"}

func nonceConsumed(tx *types.QueuedTransaction) bool {
	if tx.ErrorKind == types.ErrReverted.Error() {
		return true
	}
	msg := strings.ToLower(tx.Error)
	for _, p := range consumedNoncePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// sortGroup orders the txs of a sender: explicit nonces ascending first, then
// the txs without nonce by creation time
func sortGroup(group []*types.QueuedTransaction) {
	sort.SliceStable(group, func(i, j int) bool {
		a, b := group[i], group[j]
		switch {
		case a.Nonce != nil && b.Nonce != nil:
			if *a.Nonce != *b.Nonce {
				return *a.Nonce < *b.Nonce
			}
		case a.Nonce != nil:
			return true
		case b.Nonce != nil:
			return false
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
