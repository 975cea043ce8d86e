package statesync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/flexiai/flexiai/core"
)

// reconnect backoff bounds for a dropped subscription.
const (
	subscribeBackoffInitial = 500 * time.Millisecond
	subscribeBackoffMax     = 30 * time.Second
)

// RedisBackendOptions configures the Redis backend.
type RedisBackendOptions struct {
	RedisURL string
	Prefix   string // key/channel namespace, defaults to DefaultPrefix
	Logger   core.Logger
}

// RedisBackend implements Backend on a Redis key/value store with
// publish-subscribe on one channel. Keys are `<prefix>:state:<provider>`;
// the channel is `<prefix>:events`.
type RedisBackend struct {
	client *redis.Client
	prefix string
	logger core.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisBackend connects to Redis and verifies the connection before
// returning. An unreachable backend fails here so the caller can fall back
// to the in-process backend.
func NewRedisBackend(opts RedisBackendOptions) (*RedisBackend, error) {
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required: %w", core.ErrInvalidConfiguration)
	}

	redisOpt, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", core.ErrInvalidConfiguration)
	}

	client := redis.NewClient(redisOpt)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", core.ErrConnectionFailed)
	}

	ctx, bgCancel := context.WithCancel(context.Background())
	b := &RedisBackend{
		client: client,
		prefix: opts.Prefix,
		logger: opts.Logger,
		ctx:    ctx,
		cancel: bgCancel,
	}

	b.logger.Info("Redis sync backend connected", map[string]interface{}{
		"operation": "sync_backend_connected",
		"prefix":    opts.Prefix,
		"channel":   b.channel(),
	})

	return b, nil
}

func (b *RedisBackend) channel() string {
	return b.prefix + ":events"
}

func (b *RedisBackend) stateKey(provider string) string {
	return fmt.Sprintf("%s:state:%s", b.prefix, provider)
}

func (b *RedisBackend) Publish(ctx context.Context, evt Event) error {
	data, err := evt.Encode()
	if err != nil {
		return fmt.Errorf("encode sync event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(), data).Err(); err != nil {
		return fmt.Errorf("publish sync event: %w", err)
	}
	return nil
}

// Subscribe starts a delivery goroutine. A dropped connection is retried
// with exponential backoff indefinitely; during the outage the process
// degrades to in-process semantics and converges once delivery resumes.
func (b *RedisBackend) Subscribe(handler Handler) (Subscription, error) {
	subCtx, cancel := context.WithCancel(b.ctx)
	pubsub := b.client.Subscribe(subCtx, b.channel())

	// Confirm the subscription before returning so callers know delivery
	// has started.
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", b.channel(), core.ErrConnectionFailed)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() { _ = pubsub.Close() }()

		backoff := subscribeBackoffInitial
		for {
			msg, err := pubsub.ReceiveMessage(subCtx)
			if err != nil {
				if subCtx.Err() != nil {
					return
				}
				b.logger.Warn("Sync subscription receive failed, retrying", map[string]interface{}{
					"operation":  "sync_subscribe_retry",
					"channel":    b.channel(),
					"error":      err.Error(),
					"backoff_ms": backoff.Milliseconds(),
				})
				select {
				case <-subCtx.Done():
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > subscribeBackoffMax {
					backoff = subscribeBackoffMax
				}
				continue
			}
			backoff = subscribeBackoffInitial

			evt, err := DecodeEvent([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn("Discarding malformed sync event", map[string]interface{}{
					"operation": "sync_event_malformed",
					"channel":   b.channel(),
					"error":     err.Error(),
				})
				continue
			}
			handler(evt)
		}
	}()

	return &redisSubscription{cancel: cancel}, nil
}

func (b *RedisBackend) GetState(ctx context.Context, provider string) (*StatePayload, error) {
	data, err := b.client.Get(ctx, b.stateKey(provider)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get state for %q: %w", provider, err)
	}

	var payload StatePayload
	if err := decodePayload([]byte(data), &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (b *RedisBackend) SetState(ctx context.Context, provider string, payload StatePayload, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	data, err := encodePayload(payload)
	if err != nil {
		return err
	}
	if err := b.client.Set(ctx, b.stateKey(provider), data, ttl).Err(); err != nil {
		return fmt.Errorf("set state for %q: %w", provider, err)
	}
	return nil
}

func (b *RedisBackend) Health(ctx context.Context) bool {
	return b.client.Ping(ctx).Err() == nil
}

func (b *RedisBackend) Close() error {
	b.cancel()
	b.wg.Wait()
	return b.client.Close()
}

type redisSubscription struct {
	cancel context.CancelFunc
}

func (s *redisSubscription) Unsubscribe() {
	s.cancel()
}
