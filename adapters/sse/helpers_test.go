package sse_test

import (
	"io"
	"log"
	"sync"

	"gavel/adapters/sse"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
}

// Message 表示一筆推播給前端的事件內容
type Message struct {
	Data string `msgpack:"data"`
}

// loopbackBus 在行程內模擬 Redis Stream：Publish 進來的事件
// 直接回送給消費端，讓測試不需要真的連 Redis
type loopbackBus struct {
	mu     sync.Mutex
	events chan sse.Event[Message]
	closed bool
}

func newLoopbackBus() *loopbackBus {
	return &loopbackBus{
		events: make(chan sse.Event[Message], 100),
	}
}

func (b *loopbackBus) Start() {}

func (b *loopbackBus) Publish(data sse.Event[Message]) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.events <- data
	return nil
}

func (b *loopbackBus) Subscribe() <-chan sse.Event[Message] {
	return b.events
}

func (b *loopbackBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.events)
}
