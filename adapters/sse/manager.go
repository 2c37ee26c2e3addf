package sse

import (
	"context"
	"log/slog"
	"sync"

	adapter "gavel/adapters/redis"
)

type managerOptions struct {
	logger        *slog.Logger
	channelBuffer int
}

type ManagerOption func(*managerOptions)

// WithManagerLogger 設置日誌記錄器
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(o *managerOptions) {
		o.logger = logger
	}
}

// WithManagerChannelBuffer 設置每個訂閱者通道的緩衝大小
func WithManagerChannelBuffer(size int) ManagerOption {
	return func(o *managerOptions) {
		o.channelBuffer = size
	}
}

// ConnectionManager 管理多個 SSE 頻道的訂閱與發布。
// 事件經由 Redis Stream 送出再消費回來，所以多個服務實例
// 各自的訂閱者都收得到任一實例發布的事件
type ConnectionManager[T any] struct {
	producer adapter.IProducer[Event[T]]
	consumer adapter.IConsumer[Event[T]]

	mu       sync.RWMutex
	wg       sync.WaitGroup
	active   bool
	channels map[string]IChannel[T]
	logger   *slog.Logger
	options  managerOptions
}

func NewConnectionManager[T any](
	producer adapter.IProducer[Event[T]],
	consumer adapter.IConsumer[Event[T]],
	opts ...ManagerOption,
) IConnectionManager[T] {
	// 默認選項
	options := managerOptions{
		logger:        slog.Default(),
		channelBuffer: 8,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &ConnectionManager[T]{
		producer: producer,
		consumer: consumer,
		channels: make(map[string]IChannel[T]),
		logger:   options.logger.With(slog.String("caller", "ConnectionManager")),
		options:  options,
	}
}

// Start 啟動事件的接收與廣播
func (cm *ConnectionManager[T]) Start() {
	cm.mu.Lock()
	if cm.active {
		cm.mu.Unlock()
		return
	}
	cm.active = true
	cm.mu.Unlock()

	cm.producer.Start()
	cm.consumer.Start()
	cm.logger.Info("starting sse connection manager")

	cm.wg.Add(1)
	go func() {
		defer cm.wg.Done()
		for event := range cm.consumer.Subscribe() {
			cm.mu.RLock()
			channel, ok := cm.channels[event.Channel]
			cm.mu.RUnlock()
			if ok {
				channel.Broadcast(event.Message)
			}
		}
	}()
}

// Done 停止連線管理器並釋放所有訂閱
func (cm *ConnectionManager[T]) Done() {
	cm.mu.Lock()
	if !cm.active {
		cm.mu.Unlock()
		return
	}
	cm.active = false
	cm.mu.Unlock()

	// 先關上游再等廣播goroutine收尾，期間不能持有鎖
	cm.consumer.Close()
	cm.producer.Close()
	cm.wg.Wait()

	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, channel := range cm.channels {
		channel.UnsubscribeAll()
	}
	clear(cm.channels)
	cm.logger.Info("sse connection manager stopped")
}

// Subscribe 訂閱指定的頻道
func (cm *ConnectionManager[T]) Subscribe(channelName string) (<-chan T, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.active {
		return nil, context.Canceled
	}

	c, ok := cm.channels[channelName]
	if !ok {
		c = NewChannel[T](cm.options.channelBuffer)
		cm.channels[channelName] = c
	}
	return c.Subscribe(), nil
}

// Publish 發布事件到指定的頻道
func (cm *ConnectionManager[T]) Publish(channelName string, data T) error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.active {
		return context.Canceled
	}

	return cm.producer.Publish(Event[T]{
		Channel: channelName,
		Message: data,
	})
}

// Unsubscribe 取消訂閱指定的頻道，頻道沒有訂閱者之後會被回收
func (cm *ConnectionManager[T]) Unsubscribe(channelName string, ch <-chan T) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	c, ok := cm.channels[channelName]
	if !ok {
		return
	}

	c.Unsubscribe(ch)
	if c.IsIdle() {
		delete(cm.channels, channelName)
	}
}
