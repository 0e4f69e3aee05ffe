// Package bus is the in-memory publish/subscribe fan-out for session
// topics. One topic exists per session id, plus one per transport-layer
// alias; a subscriber may sit on any number of topics at once. Publishing
// never blocks on a slow subscriber: each subscriber owns a bounded queue
// and overflow drops the oldest queued event.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/villagehq/village-core/core/events"
)

const defaultQueueSize = 64

type Option func(*Bus)

// WithQueueSize bounds each subscriber's delivery queue.
func WithQueueSize(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.queueSize = size
		}
	}
}

// WithDropCallback observes events dropped on subscriber queue overflow.
func WithDropCallback(fn func(topic string, event events.Event)) Option {
	return func(b *Bus) { b.onDrop = fn }
}

type Bus struct {
	queueSize int
	onDrop    func(topic string, event events.Event)

	mu     sync.RWMutex
	topics map[string]map[uint64]*Subscriber
	closed bool

	nextID atomic.Uint64
}

func New(opts ...Option) *Bus {
	b := &Bus{
		queueSize: defaultQueueSize,
		topics:    make(map[string]map[uint64]*Subscriber),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscriber delivers published events to its handler from a dedicated
// goroutine, so one subscriber's pace never affects another's.
type Subscriber struct {
	id      uint64
	bus     *Bus
	handler func(events.Event)

	queue     chan queued
	done      chan struct{}
	closeOnce sync.Once

	dropped atomic.Uint64
}

type queued struct {
	topic string
	event events.Event
}

// Subscribe registers a handler under the given topics and starts its
// delivery goroutine. There is no backlog replay: only events published
// after registration are delivered.
func (b *Bus) Subscribe(handler func(events.Event), topics ...string) *Subscriber {
	s := &Subscriber{
		id:      b.nextID.Add(1),
		bus:     b,
		handler: handler,
		queue:   make(chan queued, b.queueSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.done)
		return s
	}
	for _, topic := range topics {
		b.attachLocked(topic, s)
	}
	b.mu.Unlock()

	go s.pump()
	return s
}

func (b *Bus) attachLocked(topic string, s *Subscriber) {
	if topic == "" {
		return
	}
	set, ok := b.topics[topic]
	if !ok {
		set = make(map[uint64]*Subscriber)
		b.topics[topic] = set
	}
	set[s.id] = s
}

// Also adds the subscriber to another topic, used when a session becomes
// addressable by a second key mid-stream.
func (s *Subscriber) Also(topic string) {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if s.bus.closed || s.isClosed() {
		return
	}
	s.bus.attachLocked(topic, s)
}

// Close removes the subscriber from every topic and stops its delivery
// goroutine. Other subscribers are unaffected.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.bus.mu.Lock()
		for topic, set := range s.bus.topics {
			delete(set, s.id)
			if len(set) == 0 {
				delete(s.bus.topics, topic)
			}
		}
		s.bus.mu.Unlock()
		close(s.done)
	})
}

// Dropped returns how many events overflowed this subscriber's queue.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscriber) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Subscriber) pump() {
	for {
		select {
		case item := <-s.queue:
			s.handler(item.event)
		case <-s.done:
			return
		}
	}
}

// offer enqueues without blocking, evicting the oldest queued event when
// the queue is full.
func (s *Subscriber) offer(topic string, event events.Event) (droppedEvent events.Event, delivered bool) {
	item := queued{topic: topic, event: event}
	select {
	case s.queue <- item:
		return nil, true
	default:
	}

	var evicted events.Event
	select {
	case old := <-s.queue:
		evicted = old.event
	default:
	}

	select {
	case s.queue <- item:
		s.dropped.Add(1)
		return evicted, true
	default:
		s.dropped.Add(1)
		return event, false
	}
}

// Publish delivers the event to every current subscriber of the topic.
// Delivery is at-least-once per connected subscriber and fire-and-forget
// from the publisher's point of view.
func (b *Bus) Publish(topic string, event events.Event) {
	b.mu.RLock()
	set := b.topics[topic]
	targets := make([]*Subscriber, 0, len(set))
	for _, s := range set {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		if s.isClosed() {
			continue
		}
		if evicted, _ := s.offer(topic, event); evicted != nil {
			logger.Warn("subscriber queue overflow, dropped oldest event",
				"topic", topic, "kind", string(evicted.Kind()))
			if b.onDrop != nil {
				b.onDrop(topic, evicted)
			}
		}
	}
}

// SubscriberCount returns how many subscribers sit on a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Close shuts the bus down and closes every subscriber.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	seen := map[uint64]*Subscriber{}
	for _, set := range b.topics {
		for id, s := range set {
			seen[id] = s
		}
	}
	b.mu.Unlock()

	for _, s := range seen {
		s.Close()
	}
}
