package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"log/slog"

	"github.com/redis/go-redis/v9"
)

type subscriberOptions[T any] struct {
	logger       *slog.Logger
	bufferSize   int
	blockTimeout time.Duration
	startID      string
	decodeFunc   func(map[string]any) (T, error)
}

type SubscriberOption[T any] func(*subscriberOptions[T])

// WithSubscriberLogger 設置日誌記錄器
func WithSubscriberLogger[T any](logger *slog.Logger) SubscriberOption[T] {
	return func(o *subscriberOptions[T]) {
		o.logger = logger
	}
}

// WithSubscriberBufferSize 設置下游channel的緩衝大小
func WithSubscriberBufferSize[T any](size int) SubscriberOption[T] {
	return func(o *subscriberOptions[T]) {
		o.bufferSize = size
	}
}

// WithSubscriberBlockTimeout 設置阻塞讀取超時時間
func WithSubscriberBlockTimeout[T any](d time.Duration) SubscriberOption[T] {
	return func(o *subscriberOptions[T]) {
		o.blockTimeout = d
	}
}

// WithSubscriberStartID 設置開始讀取的訊息編號
// 默認為 "$"，只讀取啟動後的新訊息
func WithSubscriberStartID[T any](id string) SubscriberOption[T] {
	return func(o *subscriberOptions[T]) {
		o.startID = id
	}
}

// WithSubscriberDecodeFunc 設置自定義解析函數
func WithSubscriberDecodeFunc[T any](fn func(map[string]any) (T, error)) SubscriberOption[T] {
	return func(o *subscriberOptions[T]) {
		o.decodeFunc = fn
	}
}

// Subscriber 持續讀取 Redis Stream 並把解析後的訊息送往下游 channel
type Subscriber[T any] struct {
	client     *redis.Client
	stream     string
	lastID     string
	downStream chan T
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	logger     *slog.Logger
	options    subscriberOptions[T]
}

func NewSubscriber[T any](client *redis.Client, stream string, opts ...SubscriberOption[T]) (*Subscriber[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	// 默認選項
	options := subscriberOptions[T]{
		logger:       slog.Default(),
		bufferSize:   100,
		blockTimeout: time.Second,
		startID:      "$",
		decodeFunc:   DecodeMessage[T],
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Subscriber[T]{
		client:  client,
		stream:  stream,
		lastID:  options.startID,
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "Subscriber"), slog.String("stream", stream)),
		options: options,
	}, nil
}

func (s *Subscriber[T]) Start() {
	if !s.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.downStream = make(chan T, s.options.bufferSize)
	s.closed = false
	s.cancelFunc = cancel
	s.logger.Info("starting stream subscriber")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("subscriber goroutine stopped")
		defer close(s.downStream)

		for {
			select {
			case <-ctx.Done():
				return
			default:
				message, err := s.fetchNextMessage(ctx)
				if err != nil {
					if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
						continue
					}
					s.logger.Error("fetch message error", slog.Any("error", err))
					continue
				}

				// 解析消息
				data, err := s.options.decodeFunc(message.Values)
				if err != nil {
					s.logger.Error("failed to decode message",
						slog.String("messageId", message.ID),
						slog.Any("error", err))
					continue
				}

				// 發送到下游
				select {
				case <-ctx.Done():
					return
				case s.downStream <- data:
					s.logger.Debug("message sent to downstream",
						slog.String("messageId", message.ID))
				}
			}
		}
	}()
}

func (s *Subscriber[T]) fetchNextMessage(ctx context.Context) (redis.XMessage, error) {
	streams, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{s.stream, s.lastID},
		Count:   1,
		Block:   s.options.blockTimeout,
	}).Result()

	if err != nil {
		return redis.XMessage{}, err
	}

	if len(streams) > 0 && len(streams[0].Messages) > 0 {
		message := streams[0].Messages[0]
		s.lastID = message.ID
		s.logger.Debug("received message", slog.String("messageId", message.ID))
		return message, nil
	}

	return redis.XMessage{}, redis.Nil
}

// Subscribe 訂閱數據流
func (s *Subscriber[T]) Subscribe() <-chan T {
	return s.downStream
}

// Close 關閉訂閱者
func (s *Subscriber[T]) Close() {
	if s.closed {
		return
	}
	s.logger.Info("closing stream subscriber")
	s.closed = true
	s.cancelFunc()
	s.wg.Wait()
	s.logger.Info("stream subscriber closed")
}
