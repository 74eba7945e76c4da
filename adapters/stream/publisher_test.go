package stream_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"bazaar/adapters/stream"
)

func TestPublisher(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	_, client := setupTest(t)

	publisher, err := stream.NewPublisher[TestMessage](client, "test-stream")
	assert.NoError(t, err)

	// 未啟動前發布應失敗
	assert.ErrorIs(t, publisher.Publish(TestMessage{ID: "0"}), stream.ErrClosed)

	publisher.Start()
	defer publisher.Close()

	msg := TestMessage{ID: "1", Data: "hello"}
	assert.NoError(t, publisher.Publish(msg))

	// 背景 goroutine 非同步寫入，輪詢直到訊息出現
	ctx := context.Background()
	assert.Eventually(t, func() bool {
		entries, err := client.XRange(ctx, "test-stream", "-", "+").Result()
		return err == nil && len(entries) == 1
	}, 3*time.Second, 10*time.Millisecond)

	entries, err := client.XRange(ctx, "test-stream", "-", "+").Result()
	assert.NoError(t, err)
	decoded, err := stream.DecodeMessage[TestMessage](entries[0].Values)
	assert.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestPublisherValidation(t *testing.T) {
	_, client := setupTest(t)

	_, err := stream.NewPublisher[TestMessage](nil, "test-stream")
	assert.Error(t, err)

	_, err = stream.NewPublisher[TestMessage](client, "")
	assert.Error(t, err)
}
