package statesync

import (
	"context"
	"sync"
	"time"
)

// InProcessBackend satisfies Backend with a mutex-guarded map and a local
// fan-out of event callbacks. It carries the same semantics as the Redis
// backend minus cross-process visibility, which makes it the fallback when
// sync is disabled or the distributed backend is unreachable at startup.
type InProcessBackend struct {
	mu       sync.Mutex
	states   map[string]localRecord
	handlers map[int]Handler
	nextID   int
	closed   bool
	now      func() time.Time
}

type localRecord struct {
	payload   StatePayload
	expiresAt time.Time
}

// NewInProcessBackend creates an empty in-process backend.
func NewInProcessBackend() *InProcessBackend {
	return &InProcessBackend{
		states:   make(map[string]localRecord),
		handlers: make(map[int]Handler),
		now:      time.Now,
	}
}

func (b *InProcessBackend) Publish(ctx context.Context, evt Event) error {
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(evt)
	}
	return nil
}

func (b *InProcessBackend) Subscribe(handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	return &localSubscription{backend: b, id: id}, nil
}

func (b *InProcessBackend) GetState(ctx context.Context, provider string) (*StatePayload, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.states[provider]
	if !ok || b.now().After(rec.expiresAt) {
		delete(b.states, provider)
		return nil, nil
	}
	p := rec.payload
	return &p, nil
}

func (b *InProcessBackend) SetState(ctx context.Context, provider string, payload StatePayload, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.states[provider] = localRecord{payload: payload, expiresAt: b.now().Add(ttl)}
	return nil
}

func (b *InProcessBackend) Health(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

func (b *InProcessBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.handlers = make(map[int]Handler)
	return nil
}

type localSubscription struct {
	backend *InProcessBackend
	id      int
}

func (s *localSubscription) Unsubscribe() {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	delete(s.backend.handlers, s.id)
}
