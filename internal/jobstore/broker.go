package jobstore

import (
	"sync"

	"renderd/pkg/types"
)

const subscriberBuffer = 16

// Broker fans progress events out to in-process subscribers, keyed by
// job id. Delivery preserves publish order per subscriber; a subscriber
// that stops draining its channel loses events rather than blocking the
// publisher.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[int]chan types.ProgressEvent
	next int
}

// NewBroker constructs an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[int]chan types.ProgressEvent)}
}

// Publish delivers ev to every subscriber of ev.JobID. Never blocks.
func (b *Broker) Publish(ev types.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[ev.JobID] {
		select {
		case ch <- ev:
		default:
			// Slow subscriber: drop rather than stall the write path.
		}
	}
}

// Subscribe registers a listener for events on the given job id. The
// returned cancel func unregisters the listener and closes the channel;
// it is safe to call more than once.
func (b *Broker) Subscribe(jobID string) (<-chan types.ProgressEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[int]chan types.ProgressEvent)
	}
	id := b.next
	b.next++
	ch := make(chan types.ProgressEvent, subscriberBuffer)
	b.subs[jobID][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[jobID], id)
			if len(b.subs[jobID]) == 0 {
				delete(b.subs, jobID)
			}
			close(ch)
		})
	}
	return ch, cancel
}
