package event

import (
	"sync"

	"github.com/0xPolygonHermez/zkevm-txqueue/log"
	"github.com/0xPolygonHermez/zkevm-txqueue/metrics"
	"github.com/0xPolygonHermez/zkevm-txqueue/types"
)

// DefaultBufferSize is the channel buffer used when Subscribe receives a non positive size
const DefaultBufferSize = 64

type subscription struct {
	ch     chan types.Event
	filter map[types.EventType]struct{}
}

func (s *subscription) wants(t types.EventType) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[t]
	return ok
}

// Bus fans out queue and recovery events to subscribers. Publish never blocks,
// events are dropped for subscribers whose buffer is full.
type Bus struct {
	mutex  sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool
}

// NewBus creates an event bus
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*subscription)}
}

// Subscribe returns a channel receiving the events of the given types (all if none)
// and a function to unsubscribe. The channel is closed on unsubscribe.
func (b *Bus) Subscribe(bufferSize int, eventTypes ...types.EventType) (<-chan types.Event, func()) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	sub := &subscription{
		ch:     make(chan types.Event, bufferSize),
		filter: make(map[types.EventType]struct{}, len(eventTypes)),
	}
	for _, t := range eventTypes {
		sub.filter[t] = struct{}{}
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mutex.Lock()
			defer b.mutex.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
		})
	}
}

// Publish delivers the event to every interested subscriber
func (b *Bus) Publish(e types.Event) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	for _, sub := range b.subs {
		if !sub.wants(e.Type) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			metrics.EventsDropped.WithLabelValues(string(e.Type)).Inc()
			log.Warnf("event %s dropped, subscriber buffer full", e.Type)
		}
	}
}

// Close unsubscribes everybody
func (b *Bus) Close() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
	b.closed = true
}
