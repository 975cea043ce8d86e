package statesync

import (
	"context"
	"time"
)

// Handler receives events from a subscription. Handlers run on the
// backend's delivery goroutine and must not block.
type Handler func(evt Event)

// Subscription is a handle to an active subscription.
type Subscription interface {
	// Unsubscribe stops delivery. Safe to call more than once.
	Unsubscribe()
}

// Backend is the cross-worker synchronization surface. Two
// implementations exist: an in-process backend used when sync is disabled
// or the distributed backend is unreachable at startup, and a Redis
// backend for real deployments.
//
// Backends deliver every event, including the publisher's own; ownership
// filtering happens in the Manager, which already must discard events
// carrying its worker id.
type Backend interface {
	// Publish broadcasts an event. Fire-and-forget: a failure here delays
	// cross-worker convergence but never affects local correctness.
	Publish(ctx context.Context, evt Event) error

	// Subscribe starts delivering events to handler until the returned
	// subscription is cancelled or the backend closes.
	Subscribe(handler Handler) (Subscription, error)

	// GetState returns the stored record for a provider, or nil when none
	// exists.
	GetState(ctx context.Context, provider string) (*StatePayload, error)

	// SetState overwrites the stored record; the TTL resets on each write.
	SetState(ctx context.Context, provider string, payload StatePayload, ttl time.Duration) error

	// Health reports whether the backend is reachable.
	Health(ctx context.Context) bool

	// Close drains subscriptions and releases connections.
	Close() error
}
