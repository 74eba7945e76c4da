package stream_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"bazaar/adapters/stream"
)

func TestRenewMutex(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	_, client := setupTest(t)

	mutex := stream.NewRenewMutex(
		client,
		"test-lock",
		stream.WithRenewMutexExpiry(time.Second),
	)

	lockCtx, err := mutex.Lock(context.Background())
	assert.NoError(t, err)
	assert.NotNil(t, lockCtx)
	assert.True(t, mutex.Valid())

	ok, err := mutex.Unlock()
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, mutex.Valid())
}

func TestRenewMutexCanceledContext(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	_, client := setupTest(t)

	mutex := stream.NewRenewMutex(client, "test-lock")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := mutex.Lock(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
