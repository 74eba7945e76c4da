package sse

// Envelope 表示一則要送往特定主題的訊息
type Envelope[T any] struct {
	Topic   string `json:"topic"`
	Message T      `json:"message"`
}

// ITopic 定義了單一主題廣播的介面
type ITopic[T any] interface {
	// Subscribe 建立一個新的訂閱並返回接收訊息的通道
	Subscribe() <-chan T
	// Unsubscribe 取消指定通道的訂閱
	Unsubscribe(ch <-chan T)
	// CloseAll 取消所有訂閱
	CloseAll()
	// Broadcast 將訊息廣播給所有訂閱者
	Broadcast(message T)
	// Idle 檢查是否沒有訂閱者
	Idle() bool
}

// IBroker 定義了 SSE 訊息中介的介面
type IBroker[T any] interface {
	// Start 啟動 Broker，開始處理訊息的接收與廣播。
	// 應在呼叫其他方法前先呼叫此方法。
	Start()
	// Done 停止 Broker，釋放所有資源。
	Done()
	// Subscribe 註冊並訂閱指定主題，返回一個新的接收通道。
	Subscribe(topic string) (<-chan T, error)
	// Publish 將資料推送到指定主題。
	Publish(topic string, data T) error
	// Unsubscribe 取消訂閱指定主題。
	Unsubscribe(topic string, ch <-chan T)
}
