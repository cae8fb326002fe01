package sender

import (
	"sync"

	"github.com/0xPolygonHermez/zkevm-txqueue/log"
	"github.com/ethereum/go-ethereum/common"
)

type nonceKey struct {
	chainID uint64
	from    common.Address
}

// NonceTracker keeps the next nonce used locally by each address, so the
// nonces resolved for txs sent one after the other don't depend on how fast
// the node updates its pending nonce
type NonceTracker struct {
	mutex sync.Mutex
	next  map[nonceKey]uint64
}

// NewNonceTracker creates an empty tracker
func NewNonceTracker() *NonceTracker {
	return &NonceTracker{next: make(map[nonceKey]uint64)}
}

// Reserve returns the nonce for the next tx of the address, the network pending
// nonce or the next local one if the network is behind. The nonce stays reserved
// until it's released
func (t *NonceTracker) Reserve(chainID uint64, from common.Address, networkNonce uint64) uint64 {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	key := nonceKey{chainID, from}
	nonce := networkNonce
	if next, ok := t.next[key]; ok && next > nonce {
		log.Debugf("%s: network pending nonce %d behind local nonce %d", from.Hex(), networkNonce, next)
		nonce = next
	}
	t.next[key] = nonce + 1
	return nonce
}

// Track records a nonce used by a broadcast tx
func (t *NonceTracker) Track(chainID uint64, from common.Address, nonce uint64) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	key := nonceKey{chainID, from}
	if next, ok := t.next[key]; !ok || nonce+1 > next {
		t.next[key] = nonce + 1
	}
}

// Release forgets the local nonce if the failed tx was the last one used, so
// the next resolution asks the network again and the nonce is not skipped
func (t *NonceTracker) Release(chainID uint64, from common.Address, nonce uint64) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	key := nonceKey{chainID, from}
	if next, ok := t.next[key]; ok && next == nonce+1 {
		delete(t.next, key)
		log.Debugf("%s: nonce %d released", from.Hex(), nonce)
	}
}
