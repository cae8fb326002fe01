package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/0xPolygonHermez/zkevm-txqueue/log"
)

// retryList holds the monitor requests waiting for their next receipt query, indexed by tx ID and sorted by nextRetry
type retryList struct {
	requests map[string]*watchRequest
	sorted   []*watchRequest
	mutex    sync.Mutex
}

func newRetryList() *retryList {
	return &retryList{
		requests: make(map[string]*watchRequest),
		sorted:   []*watchRequest{},
	}
}

// add inserts the request keeping the list sorted, requests with the same nextRetry keep their insertion order.
// It returns false if a request for the same tx is already in the list
func (l *retryList) add(request *watchRequest) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	id := request.tx.ID
	if _, found := l.requests[id]; found {
		return false
	}
	l.requests[id] = request

	i := sort.Search(len(l.sorted), func(i int) bool {
		return l.sorted[i].nextRetry.After(request.nextRetry)
	})
	l.sorted = append(l.sorted, nil)
	copy(l.sorted[i+1:], l.sorted[i:])
	l.sorted[i] = request
	log.Debugf("added monitor request for tx %s with nextRetry time %v to retry list at index %d from total %d", request.tx.Tag(), request.nextRetry, i, len(l.sorted))
	return true
}

// popDue removes and returns the requests whose nextRetry is not after now
func (l *retryList) popDue(now time.Time) []*watchRequest {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	n := 0
	for n < len(l.sorted) && !l.sorted[n].nextRetry.After(now) {
		delete(l.requests, l.sorted[n].tx.ID)
		n++
	}
	if n == 0 {
		return nil
	}

	due := make([]*watchRequest, n)
	copy(due, l.sorted[:n])
	l.sorted = append(l.sorted[:0], l.sorted[n:]...)
	return due
}

// next returns the earliest nextRetry time in the list
func (l *retryList) next() (time.Time, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if len(l.sorted) == 0 {
		return time.Time{}, false
	}
	return l.sorted[0].nextRetry, true
}

func (l *retryList) len() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return len(l.sorted)
}
