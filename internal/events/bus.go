// Package events carries the sidecar's internal invalidation events.
// Views subscribe to topics; notification handlers publish. A single
// dispatch goroutine fans events out, so subscribers observe them in
// publication order.
package events

import (
	"log"
	"sync"
)

// Topic groups events by the view state they invalidate.
type Topic string

const (
	TopicServer      Topic = "server"      // connection / server config changed
	TopicStacks      Topic = "stacks"      // stack list or active stack changed
	TopicComponents  Topic = "components"  // component list changed
	TopicProject     Topic = "project"     // active project changed
	TopicRuns        Topic = "runs"        // pipeline run state changed
	TopicDeployments Topic = "deployments" // deployment state changed
	TopicEnvironment Topic = "environment" // install status / client readiness
)

// Event is one invalidation notice.
type Event struct {
	Topic   Topic
	Payload any
}

const subscriberBuffer = 64

type subscriber struct {
	topics map[Topic]bool // nil means all topics
	ch     chan Event
}

// Bus is an in-process publish/subscribe channel. Publish never blocks
// the caller; a slow subscriber drops events rather than stalling the
// dispatch loop, which is safe because every refresh triggered by an
// event is idempotent.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	queue  chan Event
	done   chan struct{}
	closed bool
}

// NewBus creates the bus and starts its dispatch goroutine.
func NewBus() *Bus {
	b := &Bus{
		subs:  make(map[int]*subscriber),
		queue: make(chan Event, 256),
		done:  make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// Subscribe registers interest in the given topics (none means all).
// The returned cancel func must be called to release the subscription.
func (b *Bus) Subscribe(topics ...Topic) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	if len(topics) > 0 {
		sub.topics = make(map[Topic]bool, len(topics))
		for _, t := range topics {
			sub.topics[t] = true
		}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish enqueues an event for in-order delivery to all subscribers.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return
	}

	select {
	case b.queue <- Event{Topic: topic, Payload: payload}:
	default:
		log.Printf("events: queue full, dropping %s event", topic)
	}
}

// Close stops the dispatch loop. Pending events are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	close(b.done)
}

func (b *Bus) dispatch() {
	for {
		select {
		case ev := <-b.queue:
			b.mu.Lock()
			for _, sub := range b.subs {
				if sub.topics != nil && !sub.topics[ev.Topic] {
					continue
				}
				select {
				case sub.ch <- ev:
				default:
					// Subscriber lagging. The next event on this topic
					// re-triggers the same idempotent refresh.
				}
			}
			b.mu.Unlock()
		case <-b.done:
			return
		}
	}
}
