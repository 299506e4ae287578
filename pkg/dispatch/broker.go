// Package dispatch provides the case job queue, worker pool, and the
// publish/subscribe broker that fans stage events out to streaming clients.
package dispatch

import (
	"sync"

	"caseflow/pkg/logx"
	"caseflow/pkg/proto"
)

const subscriberBuffer = 32

// Broker fans stage events out to per-case subscribers. Publishing never
// blocks: a subscriber that falls behind its buffer loses events rather than
// stalling the pipeline.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[chan *proto.StageEvent]struct{}
	logger *logx.Logger
}

// NewBroker creates an empty broker.
func NewBroker(logger *logx.Logger) *Broker {
	if logger == nil {
		logger = logx.NewLogger("broker")
	}
	return &Broker{
		subs:   make(map[string]map[chan *proto.StageEvent]struct{}),
		logger: logger,
	}
}

// Subscribe registers for a case's stage events. The returned cancel
// function must be called when the subscriber is done; it closes the channel.
func (b *Broker) Subscribe(caseID string) (<-chan *proto.StageEvent, func()) {
	ch := make(chan *proto.StageEvent, subscriberBuffer)

	b.mu.Lock()
	if b.subs[caseID] == nil {
		b.subs[caseID] = make(map[chan *proto.StageEvent]struct{})
	}
	b.subs[caseID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[caseID]; ok {
			if _, subscribed := set[ch]; subscribed {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(b.subs, caseID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers of its case.
func (b *Broker) Publish(event *proto.StageEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs[event.CaseID] {
		select {
		case ch <- event:
		default:
			b.logger.Warn("dropping %s event for slow subscriber of case %s", event.Stage, event.CaseID)
		}
	}
}

// SubscriberCount returns the number of active subscribers for a case.
func (b *Broker) SubscriberCount(caseID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[caseID])
}
