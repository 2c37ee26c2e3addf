package sse_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"gavel/adapters/sse"
)

func TestConnectionManager(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := newLoopbackBus()
	cm := sse.NewConnectionManager[Message](bus, bus)
	cm.Start()
	defer cm.Done()

	// 測試訂閱
	ch, err := cm.Subscribe("listing:1")
	require.NoError(t, err)
	require.NotNil(t, ch)

	// 測試發布訊息
	msg := Message{Data: "test message"}
	err = cm.Publish("listing:1", msg)
	assert.NoError(t, err)

	select {
	case received := <-ch:
		assert.Equal(t, msg, received)
	case <-time.After(time.Second):
		t.Fatal("did not receive message in time")
	}

	// 測試取消訂閱
	cm.Unsubscribe("listing:1", ch)
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")
}

func TestConnectionManagerRoutesByChannel(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := newLoopbackBus()
	cm := sse.NewConnectionManager[Message](bus, bus)
	cm.Start()
	defer cm.Done()

	first, err := cm.Subscribe("listing:1")
	require.NoError(t, err)
	second, err := cm.Subscribe("listing:2")
	require.NoError(t, err)

	require.NoError(t, cm.Publish("listing:2", Message{Data: "for second"}))

	select {
	case received := <-second:
		assert.Equal(t, Message{Data: "for second"}, received)
	case <-time.After(time.Second):
		t.Fatal("did not receive message in time")
	}

	// 不是自己頻道的事件不會送過來
	select {
	case unexpected := <-first:
		t.Fatalf("unexpected message on other channel: %v", unexpected)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnectionManagerDone(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := newLoopbackBus()
	cm := sse.NewConnectionManager[Message](bus, bus)
	cm.Start()

	ch, err := cm.Subscribe("listing:1")
	require.NoError(t, err)

	cm.Done()

	// 停止後所有訂閱通道都會被關閉
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after Done")

	// 停止後的訂閱與發布都會被拒絕
	_, err = cm.Subscribe("listing:1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, cm.Publish("listing:1", Message{Data: "late"}), context.Canceled)

	// 重複Done是no-op
	cm.Done()
}
