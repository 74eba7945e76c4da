package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Message 封裝消息和ack所需資料
type Message[T any] struct {
	Data T

	client    *redis.Client
	done      bool
	messageID string
	stream    string
	group     string

	raw map[string]any
}

// Done 確認消息已處理完成
func (m *Message[T]) Done(ctx context.Context) error {
	const op = "Message.Done"
	if m.done {
		return nil
	}
	err := m.client.XAck(ctx, m.stream, m.group, m.messageID).Err()
	if err != nil {
		return fmt.Errorf("[%s] failed to ack message: %w", op, err)
	}
	m.done = true
	return nil
}

// Fail 確認消息處理失敗，把原始訊息連同錯誤送進 dead-letter stream
func (m *Message[T]) Fail(ctx context.Context, failErr error) error {
	const op = "Message.Fail"
	if m.done {
		return nil
	}

	m.raw["error"] = failErr.Error()
	err := m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: m.stream + ":dead-letter",
		Values: m.raw,
	}).Err()
	if err != nil {
		return fmt.Errorf("[%s] failed to move message to dead letter queue: %w", op, err)
	}

	err = m.client.XAck(ctx, m.stream, m.group, m.messageID).Err()
	if err != nil {
		return fmt.Errorf("[%s] failed to ack failed message: %w", op, err)
	}
	m.done = true
	return nil
}

type groupConsumerOptions[T any] struct {
	logger       *slog.Logger
	decodeFunc   func(map[string]any) (T, error)
	bufferSize   int
	blockTimeout time.Duration
	mutex        IRenewMutex
}

type GroupConsumerOption[T any] func(*groupConsumerOptions[T])

// WithGroupConsumerLogger 設置日誌記錄器
func WithGroupConsumerLogger[T any](logger *slog.Logger) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.logger = logger
	}
}

// WithGroupConsumerDecodeFunc 設置消息解析函數
func WithGroupConsumerDecodeFunc[T any](fn func(map[string]any) (T, error)) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.decodeFunc = fn
	}
}

// WithGroupConsumerBufferSize 設置下游channel的緩衝大小
func WithGroupConsumerBufferSize[T any](size int) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.bufferSize = size
	}
}

// WithGroupConsumerBlockTimeout 設置阻塞讀取超時時間
func WithGroupConsumerBlockTimeout[T any](d time.Duration) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.blockTimeout = d
	}
}

// WithGroupConsumerMutex 設置跨節點互斥鎖
// 設置後同一時間只有一個節點會讀取這個consumer group
func WithGroupConsumerMutex[T any](mutex IRenewMutex) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.mutex = mutex
	}
}

// GroupConsumer 以 consumer group 的方式讀取 Redis Stream
// 訊息必須由下游呼叫 Done 或 Fail 確認，未確認的訊息會留在 pending 清單
type GroupConsumer[T any] struct {
	client     *redis.Client
	stream     string
	group      string
	consumer   string
	downStream chan *Message[T]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	logger     *slog.Logger
	options    groupConsumerOptions[T]
}

func NewGroupConsumer[T any](
	client *redis.Client,
	stream, group, consumer string,
	opts ...GroupConsumerOption[T],
) (*GroupConsumer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" || group == "" || consumer == "" {
		return nil, errors.New("stream, group and consumer cannot be empty")
	}

	// 默認選項
	options := groupConsumerOptions[T]{
		logger:       slog.Default(),
		decodeFunc:   DecodeMessage[T],
		bufferSize:   1,
		blockTimeout: time.Second,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &GroupConsumer[T]{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		closed:   true,
		logger:   options.logger.With(slog.String("caller", "GroupConsumer"), slog.String("stream", stream), slog.String("group", group), slog.String("consumer", consumer)),
		options:  options,
	}, nil
}

func (gc *GroupConsumer[T]) Start() error {
	const op = "GroupConsumer.Start"
	if !gc.closed {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())

	// 建立 consumer group，已存在時忽略
	err := gc.client.XGroupCreateMkStream(ctx, gc.stream, gc.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		cancel()
		return fmt.Errorf("[%s] failed to create consumer group, err=%w", op, err)
	}

	// 跨節點互斥: 只有拿到鎖的節點開始讀取
	if gc.options.mutex != nil {
		lockCtx, err := gc.options.mutex.Lock(ctx)
		if err != nil {
			cancel()
			return fmt.Errorf("[%s] failed to acquire group lock, err=%w", op, err)
		}
		ctx = lockCtx
	}

	gc.downStream = make(chan *Message[T], gc.options.bufferSize)
	gc.cancelFunc = cancel
	gc.closed = false
	gc.logger.Info("starting group consumer")

	gc.wg.Add(1)
	go func() {
		defer gc.wg.Done()
		defer gc.logger.Info("group consumer goroutine stopped")
		defer close(gc.downStream)

		for {
			select {
			case <-ctx.Done():
				return
			default:
				message, err := gc.fetchNextMessage(ctx)
				if err != nil {
					if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
						continue
					}
					gc.logger.Error("fetch message error", slog.Any("error", err))
					continue
				}

				data, err := gc.options.decodeFunc(message.Values)
				if err != nil {
					gc.logger.Error("failed to decode message",
						slog.String("messageId", message.ID),
						slog.Any("error", err))
					continue
				}

				wrapped := &Message[T]{
					Data:      data,
					client:    gc.client,
					messageID: message.ID,
					stream:    gc.stream,
					group:     gc.group,
					raw:       message.Values,
				}

				select {
				case <-ctx.Done():
					return
				case gc.downStream <- wrapped:
					gc.logger.Debug("message sent to downstream",
						slog.String("messageId", message.ID))
				}
			}
		}
	}()
	return nil
}

func (gc *GroupConsumer[T]) fetchNextMessage(ctx context.Context) (redis.XMessage, error) {
	streams, err := gc.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    gc.group,
		Consumer: gc.consumer,
		Streams:  []string{gc.stream, ">"},
		Count:    1,
		Block:    gc.options.blockTimeout,
	}).Result()

	if err != nil {
		return redis.XMessage{}, err
	}

	if len(streams) > 0 && len(streams[0].Messages) > 0 {
		message := streams[0].Messages[0]
		gc.logger.Debug("received message", slog.String("messageId", message.ID))
		return message, nil
	}

	return redis.XMessage{}, redis.Nil
}

// Subscribe 訂閱數據流
func (gc *GroupConsumer[T]) Subscribe() <-chan *Message[T] {
	return gc.downStream
}

// Close 關閉消費者並釋放互斥鎖
func (gc *GroupConsumer[T]) Close() error {
	if gc.closed {
		return nil
	}
	gc.logger.Info("closing group consumer")
	gc.closed = true
	gc.cancelFunc()
	gc.wg.Wait()
	if gc.options.mutex != nil {
		if _, err := gc.options.mutex.Unlock(); err != nil {
			gc.logger.Warn("failed to release group lock", slog.Any("error", err))
		}
	}
	gc.logger.Info("group consumer closed")
	return nil
}
