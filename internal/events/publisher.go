// Package events provides change notifications for store and connection
// observers.
package events

import (
	"context"
	"sync"
	"time"
)

// NotificationType identifies what changed.
type NotificationType string

const (
	// TypeTimelineChanged is published when the store state changes.
	TypeTimelineChanged NotificationType = "timeline.changed"
	// TypeConnectionChanged is published when the connection snapshot changes.
	TypeConnectionChanged NotificationType = "connection.changed"
	// TypeLifecycle is published when the lifecycle coordinator resumes or suspends.
	TypeLifecycle NotificationType = "lifecycle"
)

// Notification is a change signal. Observers read fresh state from the
// source instead of relying on the payload.
type Notification struct {
	Type    NotificationType
	Source  string
	AgentID string
	At      time.Time
	Payload any
}

// Handler is a callback invoked when a notification matches a subscription.
type Handler func(n *Notification)

// Filter defines criteria for matching notifications.
type Filter struct {
	// Types filters by notification type (nil = all types).
	Types []NotificationType

	// Sources filters by publishing component (nil = all sources).
	Sources []string

	// AgentID filters to a specific agent (empty = all).
	AgentID string
}

// Matches returns true if the notification matches the filter criteria.
func (f *Filter) Matches(n *Notification) bool {
	if n == nil {
		return false
	}

	if len(f.Types) > 0 {
		matched := false
		for _, t := range f.Types {
			if n.Type == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if len(f.Sources) > 0 {
		matched := false
		for _, s := range f.Sources {
			if n.Source == s {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if f.AgentID != "" && n.AgentID != "" && n.AgentID != f.AgentID {
		return false
	}

	return true
}

type subscription struct {
	id      string
	filter  Filter
	handler Handler
}

// Publisher defines the interface for notification publishing and subscription.
type Publisher interface {
	// Publish sends a notification to all matching subscribers.
	Publish(ctx context.Context, n *Notification)

	// Subscribe registers a handler for notifications matching the filter.
	Subscribe(id string, filter Filter, handler Handler) error

	// Unsubscribe removes a subscription by ID.
	Unsubscribe(id string) error
}

// InMemoryPublisher implements Publisher using in-process fan-out.
type InMemoryPublisher struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
}

// NewInMemoryPublisher creates a new in-memory publisher.
func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{
		subscriptions: make(map[string]*subscription),
	}
}

// Publish sends a notification to all matching subscribers synchronously.
// Handlers run outside the publisher lock and may call back into it.
func (p *InMemoryPublisher) Publish(ctx context.Context, n *Notification) {
	if n == nil {
		return
	}
	if ctx != nil && ctx.Err() != nil {
		return
	}

	p.mu.RLock()
	var handlers []Handler
	for _, sub := range p.subscriptions {
		if sub.filter.Matches(n) {
			handlers = append(handlers, sub.handler)
		}
	}
	p.mu.RUnlock()

	for _, handler := range handlers {
		handler(n)
	}
}

// Subscribe registers a handler for notifications matching the filter.
func (p *InMemoryPublisher) Subscribe(id string, filter Filter, handler Handler) error {
	if id == "" {
		return ErrInvalidSubscriptionID
	}
	if handler == nil {
		return ErrNilHandler
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subscriptions[id]; exists {
		return ErrSubscriptionExists
	}

	p.subscriptions[id] = &subscription{
		id:      id,
		filter:  filter,
		handler: handler,
	}

	return nil
}

// Unsubscribe removes a subscription by ID.
func (p *InMemoryPublisher) Unsubscribe(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subscriptions[id]; !exists {
		return ErrSubscriptionNotFound
	}

	delete(p.subscriptions, id)
	return nil
}

// SubscriberCount returns the number of active subscribers.
func (p *InMemoryPublisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscriptions)
}

// UpdateSubscription replaces the filter for an existing subscription.
func (p *InMemoryPublisher) UpdateSubscription(id string, filter Filter) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub, exists := p.subscriptions[id]
	if !exists {
		return ErrSubscriptionNotFound
	}

	sub.filter = filter
	return nil
}

// Close removes all subscriptions.
func (p *InMemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions = make(map[string]*subscription)
}

// Errors for publisher operations.
var (
	ErrInvalidSubscriptionID = &PublisherError{Message: "subscription ID is required"}
	ErrNilHandler            = &PublisherError{Message: "handler cannot be nil"}
	ErrSubscriptionExists    = &PublisherError{Message: "subscription with this ID already exists"}
	ErrSubscriptionNotFound  = &PublisherError{Message: "subscription not found"}
)

// PublisherError represents an error from publisher operations.
type PublisherError struct {
	Message string
}

func (e *PublisherError) Error() string {
	return e.Message
}
