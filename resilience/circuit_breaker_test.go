package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexiai/flexiai/core"
)

func testConfig(name string) Config {
	cfg := DefaultConfig(name)
	cfg.FailureThreshold = 3
	cfg.RecoveryTimeout = 50 * time.Millisecond
	return cfg
}

func failWith(kind core.ErrorKind) error {
	return core.NewProviderError(kind, "boom", "", nil)
}

func TestCircuitBreakerStateTransitions(t *testing.T) {
	cb, err := NewCircuitBreaker(testConfig("test"))
	require.NoError(t, err)

	require.Equal(t, StateClosed, cb.State())

	// Failures below the threshold keep the breaker closed.
	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func() error {
			return failWith(core.KindUpstream5xx)
		})
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 2, cb.Snapshot().ConsecutiveFailures)

	// The threshold failure opens it.
	_ = cb.Execute(context.Background(), func() error {
		return failWith(core.KindUpstream5xx)
	})
	require.Equal(t, StateOpen, cb.State())
	require.NotNil(t, cb.Snapshot().OpenedAt)

	// Open rejects without invoking the operation.
	invoked := false
	err = cb.Execute(context.Background(), func() error {
		invoked = true
		return nil
	})
	require.ErrorIs(t, err, core.ErrCircuitBreakerOpen)
	assert.False(t, invoked)

	// After the recovery timeout a probe is admitted; success closes.
	time.Sleep(80 * time.Millisecond)
	err = cb.Execute(context.Background(), func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())

	snap := cb.Snapshot()
	assert.Equal(t, 0, snap.ConsecutiveFailures)
	assert.Equal(t, 1, snap.SuccessesSinceClose)
	assert.Nil(t, snap.OpenedAt)
}

func TestCircuitBreakerFailedProbeReopens(t *testing.T) {
	cb, err := NewCircuitBreaker(testConfig("probe"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func() error {
			return failWith(core.KindNetwork)
		})
	}
	require.Equal(t, StateOpen, cb.State())
	firstOpen := *cb.Snapshot().OpenedAt

	time.Sleep(80 * time.Millisecond)
	_ = cb.Execute(context.Background(), func() error {
		return failWith(core.KindNetwork)
	})

	require.Equal(t, StateOpen, cb.State())
	secondOpen := *cb.Snapshot().OpenedAt
	assert.True(t, secondOpen.After(firstOpen), "reopen must refresh opened_at")

	// Immediately rejected again for a full recovery window.
	err = cb.Execute(context.Background(), func() error { return nil })
	require.ErrorIs(t, err, core.ErrCircuitBreakerOpen)
}

func TestCircuitBreakerSuccessResetsFailureStreak(t *testing.T) {
	cb, err := NewCircuitBreaker(testConfig("streak"))
	require.NoError(t, err)

	_ = cb.Execute(context.Background(), func() error { return failWith(core.KindTimeout) })
	_ = cb.Execute(context.Background(), func() error { return failWith(core.KindTimeout) })
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))

	// Streak restarted: two more failures still leave it closed.
	_ = cb.Execute(context.Background(), func() error { return failWith(core.KindTimeout) })
	_ = cb.Execute(context.Background(), func() error { return failWith(core.KindTimeout) })
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerUnexpectedKindsDoNotCount(t *testing.T) {
	cfg := testConfig("filtered")
	cfg.ExpectedErrorKinds = []core.ErrorKind{core.KindUpstream5xx}
	cb, err := NewCircuitBreaker(cfg)
	require.NoError(t, err)

	// Safety blocks are content problems; the breaker must not charge them.
	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func() error {
			return failWith(core.KindSafetyBlock)
		})
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Snapshot().ConsecutiveFailures)
}

func TestCircuitBreakerEmptyExpectedSetCountsEverything(t *testing.T) {
	cfg := testConfig("catch-all")
	cfg.ExpectedErrorKinds = nil
	cb, err := NewCircuitBreaker(cfg)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func() error {
			return failWith(core.KindSafetyBlock)
		})
	}
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerHalfOpenCap(t *testing.T) {
	cfg := testConfig("cap")
	cfg.HalfOpenMaxCalls = 2
	cb, err := NewCircuitBreaker(cfg)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func() error { return failWith(core.KindNetwork) })
	}
	require.Equal(t, StateOpen, cb.State())
	time.Sleep(80 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(context.Background(), func() error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}

	<-started
	<-started
	require.Equal(t, StateHalfOpen, cb.State())
	assert.Equal(t, 2, cb.Snapshot().HalfOpenInFlight)

	// Third concurrent probe is over the cap.
	err = cb.Execute(context.Background(), func() error { return nil })
	require.ErrorIs(t, err, core.ErrCircuitBreakerOpen)

	close(release)
	wg.Wait()
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerApplyRemoteIsIdempotent(t *testing.T) {
	cb, err := NewCircuitBreaker(testConfig("remote"))
	require.NoError(t, err)

	openedAt := time.Now().Add(-time.Second)
	snap := Snapshot{
		State:               StateOpen,
		ConsecutiveFailures: 7,
		OpenedAt:            &openedAt,
	}

	cb.ApplyRemote(snap)
	first := cb.Snapshot()
	cb.ApplyRemote(snap)
	second := cb.Snapshot()

	assert.Equal(t, first.State, second.State)
	assert.Equal(t, first.ConsecutiveFailures, second.ConsecutiveFailures)
	require.NotNil(t, second.OpenedAt)
	assert.True(t, second.OpenedAt.Equal(openedAt))
}

func TestCircuitBreakerApplyRemoteEmitsNoEvents(t *testing.T) {
	cb, err := NewCircuitBreaker(testConfig("silent"))
	require.NoError(t, err)

	obs := &recordingObserver{}
	cb.AddObserver(obs)

	cb.ApplyRemote(Snapshot{State: StateOpen})
	assert.Empty(t, obs.events(), "remote applies must not feed back into the sync channel")
}

func TestCircuitBreakerObserverEvents(t *testing.T) {
	cb, err := NewCircuitBreaker(testConfig("events"))
	require.NoError(t, err)

	obs := &recordingObserver{}
	cb.AddObserver(obs)

	_ = cb.Execute(context.Background(), func() error { return failWith(core.KindNetwork) })
	_ = cb.Execute(context.Background(), func() error { return failWith(core.KindNetwork) })
	_ = cb.Execute(context.Background(), func() error { return failWith(core.KindNetwork) })
	// Rejections while open produce no events.
	err = cb.Execute(context.Background(), func() error { return nil })
	require.ErrorIs(t, err, core.ErrCircuitBreakerOpen)

	got := obs.events()
	require.Len(t, got, 3)
	assert.Equal(t, EventFailure, got[0].Type)
	assert.Equal(t, EventFailure, got[1].Type)
	assert.Equal(t, EventOpened, got[2].Type)
	assert.Equal(t, 3, got[2].Snapshot.ConsecutiveFailures)
}

func TestCircuitBreakerRecordOutsideGate(t *testing.T) {
	cb, err := NewCircuitBreaker(testConfig("external"))
	require.NoError(t, err)

	cb.RecordFailure(core.KindTimeout)
	cb.RecordFailure(core.KindTimeout)
	cb.RecordFailure(core.KindTimeout)
	assert.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	cb.RecordSuccess()
	assert.Equal(t, 1, cb.Snapshot().SuccessesSinceClose)
}

func TestCircuitBreakerConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero threshold", func(c *Config) { c.FailureThreshold = 0 }},
		{"negative timeout", func(c *Config) { c.RecoveryTimeout = -time.Second }},
		{"zero half-open cap", func(c *Config) { c.HalfOpenMaxCalls = 0 }},
		{"missing name", func(c *Config) { c.Name = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("valid")
			tt.mutate(&cfg)
			_, err := NewCircuitBreaker(cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrInvalidConfiguration))
		})
	}
}

func TestCircuitBreakerConcurrentExecutes(t *testing.T) {
	cb, err := NewCircuitBreaker(DefaultConfig("concurrent"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = cb.Execute(context.Background(), func() error {
				if n%2 == 0 {
					return failWith(core.KindNetwork)
				}
				return nil
			})
		}(i)
	}
	wg.Wait()

	// Threshold invariant: enough consecutive failures implies not closed,
	// and a closed breaker stays under the threshold.
	snap := cb.Snapshot()
	if snap.ConsecutiveFailures >= DefaultFailureThreshold {
		assert.NotEqual(t, StateClosed, snap.State)
	}
}

type recordingObserver struct {
	mu   sync.Mutex
	evts []Event
}

func (o *recordingObserver) OnBreakerEvent(evt Event) {
	o.mu.Lock()
	o.evts = append(o.evts, evt)
	o.mu.Unlock()
}

func (o *recordingObserver) events() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Event, len(o.evts))
	copy(out, o.evts)
	return out
}
