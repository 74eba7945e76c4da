package stream

import (
	"context"
	"errors"
)

var (
	ErrClosed = errors.New("stream adapter is closed")
)

// IPublisher 定義了 Publisher 的操作介面
type IPublisher[T any] interface {
	Start()
	Publish(data T) error
	Close()
}

// ISubscriber 定義了 Subscriber 的操作介面
type ISubscriber[T any] interface {
	Start()
	Subscribe() <-chan T
	Close()
}

// IGroupConsumer 定義了 GroupConsumer 的操作介面
type IGroupConsumer[T any] interface {
	Start() error
	Subscribe() <-chan *Message[T]
	Close() error
}

// IRenewMutex 定義了自動續期互斥鎖的操作介面
type IRenewMutex interface {
	Lock(ctx context.Context) (context.Context, error)
	Unlock() (bool, error)
	Valid() bool
}
