package sse_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"gavel/adapters/sse"
)

func TestChannel(t *testing.T) {
	ch := sse.NewChannel[Message](8)

	// 測試訂閱
	sub := ch.Subscribe()
	assert.NotNil(t, sub)

	// 測試廣播訊息
	msg := Message{Data: "test message"}
	ch.Broadcast(msg)

	select {
	case received := <-sub:
		assert.Equal(t, msg, received)
	case <-time.After(time.Second):
		t.Fatal("did not receive message in time")
	}

	// 測試取消訂閱
	ch.Unsubscribe(sub)
	_, ok := <-sub
	assert.False(t, ok, "channel should be closed")

	// 測試 IsIdle
	assert.True(t, ch.IsIdle(), "channel should be idle")
}

func TestChannelDropsWhenSubscriberFull(t *testing.T) {
	ch := sse.NewChannel[Message](1)

	slow := ch.Subscribe()
	fast := ch.Subscribe()

	ch.Broadcast(Message{Data: "first"})
	// fast持續消費，slow放著不讀
	assert.Equal(t, Message{Data: "first"}, <-fast)

	// slow的緩衝已滿，第二筆對它會被丟棄而不是卡住整個廣播
	ch.Broadcast(Message{Data: "second"})
	assert.Equal(t, Message{Data: "second"}, <-fast)

	assert.Equal(t, Message{Data: "first"}, <-slow)
	select {
	case extra := <-slow:
		t.Fatalf("expected second message to be dropped, got %v", extra)
	case <-time.After(100 * time.Millisecond):
	}

	ch.UnsubscribeAll()
	assert.True(t, ch.IsIdle())
}
