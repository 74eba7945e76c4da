package sse

import (
	"context"
	"log/slog"
	"sync"
)

type brokerOptions[T any] struct {
	logger *slog.Logger
	source <-chan Envelope[T]
	sink   func(Envelope[T]) error
}

type BrokerOption[T any] func(*brokerOptions[T])

// WithBrokerLogger 設置日誌記錄器
func WithBrokerLogger[T any](logger *slog.Logger) BrokerOption[T] {
	return func(o *brokerOptions[T]) {
		o.logger = logger
	}
}

// WithBrokerSource 設置上游訊息來源
// 跨節點部署時接上 stream 訂閱者的輸出，讓別的節點發布的訊息也能廣播到本地
func WithBrokerSource[T any](source <-chan Envelope[T]) BrokerOption[T] {
	return func(o *brokerOptions[T]) {
		o.source = source
	}
}

// WithBrokerSink 設置下游發布函數
// 設置後 Publish 只把訊息交給 sink(通常是 stream 發布者)，
// 訊息會經由上游來源繞回來再廣播，保證所有節點看到同樣的順序
func WithBrokerSink[T any](sink func(Envelope[T]) error) BrokerOption[T] {
	return func(o *brokerOptions[T]) {
		o.sink = sink
	}
}

// Broker 管理多個 SSE 主題的訂閱與發布。
// 沒有設置 source/sink 時為單節點模式，Publish 直接在本地廣播
type Broker[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu     sync.RWMutex   // 保護 active 和 topics 的讀寫
	wg     sync.WaitGroup // 用於等待所有 goroutine 完成
	active bool           // 標記 broker 是否正在運作中

	topics  map[string]*Topic[T]
	options brokerOptions[T]
}

func NewBroker[T any](opts ...BrokerOption[T]) *Broker[T] {
	// 默認選項
	options := brokerOptions[T]{
		logger: slog.Default(),
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Broker[T]{
		ctx:     ctx,
		cancel:  cancel,
		logger:  options.logger.With(slog.String("caller", "Broker")),
		topics:  make(map[string]*Topic[T]),
		active:  true,
		options: options,
	}
}

// Start 啟動 Broker，開始處理上游訊息的接收與廣播。
// 應在呼叫其他方法前先呼叫此方法。
func (b *Broker[T]) Start() {
	if b.options.source == nil {
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.ctx.Done():
				return
			case envelope, ok := <-b.options.source:
				if !ok {
					return
				}
				b.broadcast(envelope)
			}
		}
	}()
}

// Done 停止 Broker 的運作。
func (b *Broker[T]) Done() {
	b.mu.Lock()
	if !b.active {
		b.mu.Unlock()
		return
	}
	b.active = false
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range b.topics {
		topic.CloseAll()
	}
	clear(b.topics)
}

// Subscribe 訂閱指定的主題。
func (b *Broker[T]) Subscribe(topic string) (<-chan T, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.active {
		return nil, context.Canceled
	}

	t, ok := b.topics[topic]
	if !ok {
		t = NewTopic[T]()
		b.topics[topic] = t
	}
	return t.Subscribe(), nil
}

// Publish 發布訊息到指定的主題。
func (b *Broker[T]) Publish(topic string, data T) error {
	b.mu.RLock()
	if !b.active {
		b.mu.RUnlock()
		return context.Canceled
	}
	b.mu.RUnlock()

	envelope := Envelope[T]{Topic: topic, Message: data}
	if b.options.sink != nil {
		return b.options.sink(envelope)
	}
	b.broadcast(envelope)
	return nil
}

// Unsubscribe 取消訂閱指定的主題。
func (b *Broker[T]) Unsubscribe(topic string, ch <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topic]
	if !ok {
		return
	}

	t.Unsubscribe(ch)
	if t.Idle() {
		delete(b.topics, topic)
	}
}

func (b *Broker[T]) broadcast(envelope Envelope[T]) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if topic, ok := b.topics[envelope.Topic]; ok {
		topic.Broadcast(envelope.Message)
	}
}
