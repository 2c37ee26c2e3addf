package sse

import (
	"sync"
)

// Channel 管理單一頻道的所有訂閱者並把訊息廣播給他們。
// 訂閱者的通道帶有緩衝，緩衝滿了訊息會被丟棄而不是卡住廣播：
// 價格事件是完整快照，慢的瀏覽器漏掉幾筆也能靠下一筆追上
type Channel[T any] struct {
	// 以唯讀端當key，這樣Unsubscribe收到唯讀通道也找得回可寫端
	subscribers map[<-chan T]chan T
	bufferSize  int
	mu          sync.RWMutex
}

func NewChannel[T any](bufferSize int) IChannel[T] {
	if bufferSize <= 0 {
		bufferSize = 8
	}
	return &Channel[T]{
		subscribers: make(map[<-chan T]chan T),
		bufferSize:  bufferSize,
	}
}

// Subscribe 建立一個新的訂閱並回傳唯讀通道給呼叫者
func (c *Channel[T]) Subscribe() <-chan T {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan T, c.bufferSize)
	c.subscribers[ch] = ch
	return ch
}

// Unsubscribe 移除指定的訂閱並關閉該通道
func (c *Channel[T]) Unsubscribe(ch <-chan T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if writeCh, exists := c.subscribers[ch]; exists {
		delete(c.subscribers, ch)
		close(writeCh)
	}
}

// UnsubscribeAll 關閉所有訂閱者的通道並清空訂閱清單
func (c *Channel[T]) UnsubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, writeCh := range c.subscribers {
		close(writeCh)
	}
	clear(c.subscribers)
}

// Broadcast 將訊息廣播給所有訂閱者，緩衝已滿的訂閱者會被跳過
func (c *Channel[T]) Broadcast(message T) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, writeCh := range c.subscribers {
		select {
		case writeCh <- message:
		default:
		}
	}
}

// IsIdle 檢查是否沒有訂閱者
func (c *Channel[T]) IsIdle() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscribers) == 0
}
