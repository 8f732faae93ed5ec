// Package events implements the typed event relay that carries state changes
// from a Node's sync loop up to the Registry, which republishes them to its
// own subscribers. The volume manager does not subscribe to these events.
package events

import (
	"sync"
	"time"
)

// Kind identifies which entity an Event describes.
type Kind string

const (
	KindNode    Kind = "node"
	KindPool    Kind = "pool"
	KindReplica Kind = "replica"
	KindNexus   Kind = "nexus"
)

// Op identifies what happened to the entity.
type Op string

const (
	OpNew Op = "new"
	OpMod Op = "mod"
	OpDel Op = "del"
)

// Event is a tagged-union notification: Kind selects which entity changed,
// Op selects what happened, Payload carries the entity's current value (for
// OpDel, the last cached value of the removed entity).
type Event struct {
	ID        string
	Kind      Kind
	Op        Op
	NodeName  string
	Timestamp time.Time
	Payload   interface{}
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker fans a single publish stream out to any number of subscribers
// without letting a slow subscriber block the publisher.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish publishes an event to all subscribers.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// subscriber buffer full, drop rather than block the publisher
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
