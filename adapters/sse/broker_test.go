package sse_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"bazaar/adapters/sse"
)

func TestBroker(t *testing.T) {
	defer goleak.VerifyNone(t)

	broker := sse.NewBroker[Message]()
	broker.Start()
	defer broker.Done()

	// 測試訂閱
	ch, err := broker.Subscribe("test_topic")
	assert.NoError(t, err)
	assert.NotNil(t, ch)

	// 測試發布訊息(單節點模式直接在本地廣播)
	msg := Message{Data: "test message"}
	go func() {
		assert.NoError(t, broker.Publish("test_topic", msg))
	}()

	select {
	case received := <-ch:
		assert.Equal(t, msg, received)
	case <-time.After(time.Second):
		t.Fatal("did not receive message in time")
	}

	// 測試取消訂閱
	broker.Unsubscribe("test_topic", ch)
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")
}

func TestBrokerWithSource(t *testing.T) {
	defer goleak.VerifyNone(t)

	source := make(chan sse.Envelope[Message])
	broker := sse.NewBroker[Message](sse.WithBrokerSource(source))
	broker.Start()
	defer broker.Done()

	ch, err := broker.Subscribe("upstream_topic")
	assert.NoError(t, err)

	// 上游來源的訊息應廣播給本地訂閱者
	msg := Message{Data: "from upstream"}
	source <- sse.Envelope[Message]{Topic: "upstream_topic", Message: msg}

	select {
	case received := <-ch:
		assert.Equal(t, msg, received)
	case <-time.After(time.Second):
		t.Fatal("did not receive message in time")
	}

	broker.Unsubscribe("upstream_topic", ch)
}

func TestBrokerWithSink(t *testing.T) {
	defer goleak.VerifyNone(t)

	sunk := make(chan sse.Envelope[Message], 1)
	broker := sse.NewBroker[Message](sse.WithBrokerSink(func(envelope sse.Envelope[Message]) error {
		sunk <- envelope
		return nil
	}))
	broker.Start()
	defer broker.Done()

	// 設置 sink 後 Publish 不在本地廣播，只交給 sink
	msg := Message{Data: "outbound"}
	assert.NoError(t, broker.Publish("sink_topic", msg))

	select {
	case envelope := <-sunk:
		assert.Equal(t, "sink_topic", envelope.Topic)
		assert.Equal(t, msg, envelope.Message)
	case <-time.After(time.Second):
		t.Fatal("sink did not receive message in time")
	}
}

func TestBrokerDone(t *testing.T) {
	defer goleak.VerifyNone(t)

	broker := sse.NewBroker[Message]()
	broker.Start()

	ch, err := broker.Subscribe("test_topic")
	assert.NoError(t, err)

	broker.Done()

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")

	// 停止後的操作應回報取消
	_, err = broker.Subscribe("test_topic")
	assert.Error(t, err)
	assert.Error(t, broker.Publish("test_topic", Message{}))
}
