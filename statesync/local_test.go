package statesync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcessBackendStateExpiry(t *testing.T) {
	backend := NewInProcessBackend()
	now := time.Now()
	backend.now = func() time.Time { return now }

	require.NoError(t, backend.SetState(context.Background(), "p1", StatePayload{State: "OPEN"}, time.Minute))

	record, err := backend.GetState(context.Background(), "p1")
	require.NoError(t, err)
	require.NotNil(t, record)

	now = now.Add(2 * time.Minute)
	record, err = backend.GetState(context.Background(), "p1")
	require.NoError(t, err)
	assert.Nil(t, record, "expired records must read as absent")
}

func TestInProcessBackendUnsubscribe(t *testing.T) {
	backend := NewInProcessBackend()

	var got int
	sub, err := backend.Subscribe(func(Event) { got++ })
	require.NoError(t, err)

	require.NoError(t, backend.Publish(context.Background(), Event{Kind: "failure"}))
	assert.Equal(t, 1, got)

	sub.Unsubscribe()
	require.NoError(t, backend.Publish(context.Background(), Event{Kind: "failure"}))
	assert.Equal(t, 1, got)
}

func TestInProcessBackendHealthAfterClose(t *testing.T) {
	backend := NewInProcessBackend()
	assert.True(t, backend.Health(context.Background()))
	require.NoError(t, backend.Close())
	assert.False(t, backend.Health(context.Background()))
}
