package monitor

import (
	"testing"
	"time"

	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequest(id string, nextRetry time.Time) *watchRequest {
	return &watchRequest{tx: &types.QueuedTransaction{ID: id}, nextRetry: nextRetry}
}

func ids(l *retryList) []string {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	ids := make([]string, 0, len(l.sorted))
	for _, request := range l.sorted {
		ids = append(ids, request.tx.ID)
	}
	return ids
}

func TestRetryListAdd(t *testing.T) {
	l := newRetryList()

	now := time.Now()
	past := now.Add(-time.Minute * 5)
	future := now.Add(time.Minute * 5)

	require.True(t, l.add(newRequest("1", now)))
	require.True(t, l.add(newRequest("2", now)))
	require.True(t, l.add(newRequest("3", past)))
	require.True(t, l.add(newRequest("4", past)))
	require.True(t, l.add(newRequest("5", future)))
	require.False(t, l.add(newRequest("5", past)))

	assert.Equal(t, []string{"3", "4", "1", "2", "5"}, ids(l))
	assert.Equal(t, 5, l.len())
}

func TestRetryListPopDue(t *testing.T) {
	l := newRetryList()

	now := time.Now()
	l.add(newRequest("a", now.Add(time.Second)))
	l.add(newRequest("b", now.Add(-time.Second)))
	l.add(newRequest("c", now))

	next, ok := l.next()
	require.True(t, ok)
	assert.Equal(t, now.Add(-time.Second), next)

	due := l.popDue(now)
	require.Len(t, due, 2)
	assert.Equal(t, "b", due[0].tx.ID)
	assert.Equal(t, "c", due[1].tx.ID)
	assert.Equal(t, []string{"a"}, ids(l))

	// popped requests can be added again
	assert.True(t, l.add(newRequest("b", now)))
	assert.Nil(t, l.popDue(now.Add(-time.Minute)))

	l.popDue(now.Add(time.Minute))
	_, ok = l.next()
	assert.False(t, ok)
}
