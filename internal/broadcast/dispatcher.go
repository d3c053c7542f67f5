package broadcast

import (
	"context"
	"sync"
)

const defaultSubscriberBuffer = 32

// Dispatcher fans messages out to in-process subscribers keyed by stream.
// Slow subscribers drop messages rather than block publishers.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*Subscription
	nextID      int64
	bufferSize  int
}

// Subscription receives messages for a mutable set of streams.
type Subscription struct {
	id         int64
	dispatcher *Dispatcher
	stream     chan Message
	mu         sync.Mutex
	streams    map[string]struct{}
	closed     bool
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*Subscription),
		bufferSize:  defaultSubscriberBuffer,
	}
}

// Subscribe registers a subscription for streams. It is closed when ctx ends
// or Close is called.
func (d *Dispatcher) Subscribe(ctx context.Context, streams ...string) *Subscription {
	subscription := &Subscription{
		id:         d.nextSequence(),
		dispatcher: d,
		stream:     make(chan Message, d.bufferSize),
		streams:    make(map[string]struct{}),
	}
	for _, stream := range streams {
		subscription.Follow(stream)
	}
	go func() {
		<-ctx.Done()
		subscription.Close()
	}()
	return subscription
}

// Publish delivers message to every subscription following its stream.
func (d *Dispatcher) Publish(message Message) {
	if message.Stream == "" || message.Event == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.Stream]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*Subscription, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		subscriber.deliver(message)
	}
}

// SubscriberCount returns the number of subscriptions following stream.
func (d *Dispatcher) SubscriberCount(stream string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[stream])
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(stream string, subscription *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[stream]; !ok {
		d.subscribers[stream] = make(map[int64]*Subscription)
	}
	d.subscribers[stream][subscription.id] = subscription
}

func (d *Dispatcher) unregister(stream string, subscriptionID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[stream]
	if subscribers != nil {
		delete(subscribers, subscriptionID)
		if len(subscribers) == 0 {
			delete(d.subscribers, stream)
		}
	}
	d.mu.Unlock()
}

// Messages returns the delivery channel; it is closed with the subscription.
func (s *Subscription) Messages() <-chan Message {
	return s.stream
}

// Follow adds stream to the subscription.
func (s *Subscription) Follow(stream string) {
	if stream == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, ok := s.streams[stream]; ok {
		return
	}
	s.streams[stream] = struct{}{}
	s.dispatcher.register(stream, s)
}

// Unfollow removes stream from the subscription.
func (s *Subscription) Unfollow(stream string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.streams[stream]; !ok {
		return
	}
	delete(s.streams, stream)
	s.dispatcher.unregister(stream, s.id)
}

// Close unregisters every stream and closes Messages. Safe to call twice.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for stream := range s.streams {
		s.dispatcher.unregister(stream, s.id)
	}
	s.streams = nil
	close(s.stream)
}

func (s *Subscription) deliver(message Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.stream <- message:
	default:
	}
}
