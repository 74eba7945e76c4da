package sse

import (
	"sync"
)

// Topic 管理針對某個主題的所有訂閱者，
// 並將接收到的訊息廣播給所有訂閱者。
type Topic[T any] struct {
	subscribers map[<-chan T]chan<- T
	mu          sync.RWMutex
}

func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{
		subscribers: make(map[<-chan T]chan<- T),
	}
}

// Subscribe 建立一個新的 chan T，將其加入 subscribers，並回傳唯讀通道給呼叫者。
func (t *Topic[T]) Subscribe() <-chan T {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan T)
	t.subscribers[ch] = ch
	return ch
}

// Unsubscribe 從 subscribers 中移除指定的通道，並關閉該通道。
func (t *Topic[T]) Unsubscribe(ch <-chan T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if writeCh, exists := t.subscribers[ch]; exists {
		delete(t.subscribers, ch)
		close(writeCh)
	}
}

// CloseAll 關閉所有訂閱者的通道並清空訂閱清單。
func (t *Topic[T]) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, writeCh := range t.subscribers {
		close(writeCh)
	}
	clear(t.subscribers)
}

// Broadcast 將訊息廣播給所有仍在訂閱清單中的通道。
func (t *Topic[T]) Broadcast(message T) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, writeCh := range t.subscribers {
		writeCh <- message
	}
}

// Idle 判斷 subscribers 是否為空。
func (t *Topic[T]) Idle() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subscribers) == 0
}
