package redis

import (
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// bidNotice 模擬廣播給SSE訂閱者的出價訊息
type bidNotice struct {
	ListingID string `msgpack:"listingId"`
	Price     int64  `msgpack:"price"`
}

func encodeNotice(t *testing.T, notice bidNotice) map[string]any {
	t.Helper()
	values, err := EncodeMessage(notice)
	require.NoError(t, err)
	return values
}

func TestNewConsumer(t *testing.T) {
	tests := []struct {
		name   string
		client *redis.Client
		stream string
		opts   []ConsumerOption
		errMsg string
	}{
		{
			name:   "正常建立",
			client: redis.NewClient(&redis.Options{}),
			stream: "bid-events",
		},
		{
			name:   "帶自訂選項",
			client: redis.NewClient(&redis.Options{}),
			stream: "bid-events",
			opts: []ConsumerOption{
				WithConsumerLogger(slog.Default()),
				WithConsumerBufferSize(16),
				WithConsumerBatchSize(4),
				WithConsumerBlockTimeout(2 * time.Second),
			},
		},
		{
			name:   "client不能為nil",
			stream: "bid-events",
			errMsg: "redis client cannot be nil",
		},
		{
			name:   "stream不能為空",
			client: redis.NewClient(&redis.Options{}),
			errMsg: "stream cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)

			consumer, err := NewConsumer[bidNotice](tt.client, tt.stream, tt.opts...)
			if tt.errMsg != "" {
				assert.ErrorContains(t, err, tt.errMsg)
				assert.Nil(t, consumer)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, consumer)
				consumer.Close()
			}
			if tt.client != nil {
				tt.client.Close()
			}
		})
	}
}

// 第一次讀取從尾端開始，之後的讀取游標要跟著最後一筆訊息前進
func TestConsumerTailsStream(t *testing.T) {
	defer goleak.VerifyNone(t)
	client, mock, cleanup := setupTest(t)
	defer cleanup()

	notices := []bidNotice{
		{ListingID: "listing-1", Price: 1000},
		{ListingID: "listing-1", Price: 1300},
		{ListingID: "listing-1", Price: 1500},
	}

	mock.ExpectXRead(&redis.XReadArgs{
		Streams: []string{"bid-events", "$"},
		Count:   16,
		Block:   time.Second,
	}).SetVal([]redis.XStream{{
		Stream: "bid-events",
		Messages: []redis.XMessage{
			{ID: "1-0", Values: encodeNotice(t, notices[0])},
			{ID: "2-0", Values: encodeNotice(t, notices[1])},
		},
	}})
	// 游標沒有前進到2-0的話，這個期望不會被命中，第三筆就收不到
	mock.ExpectXRead(&redis.XReadArgs{
		Streams: []string{"bid-events", "2-0"},
		Count:   16,
		Block:   time.Second,
	}).SetVal([]redis.XStream{{
		Stream: "bid-events",
		Messages: []redis.XMessage{
			{ID: "3-0", Values: encodeNotice(t, notices[2])},
		},
	}})

	consumer, err := NewConsumer[bidNotice](client, "bid-events")
	require.NoError(t, err)

	consumer.Start()
	defer consumer.Close()

	for _, want := range notices {
		select {
		case got := <-consumer.Subscribe():
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for notice %+v", want)
		}
	}
}

// 同一批裡解不開的訊息被跳過，不影響後面的訊息
func TestConsumerSkipsUndecodableMessage(t *testing.T) {
	defer goleak.VerifyNone(t)
	client, mock, cleanup := setupTest(t)
	defer cleanup()

	want := bidNotice{ListingID: "listing-1", Price: 1300}
	mock.ExpectXRead(&redis.XReadArgs{
		Streams: []string{"bid-events", "$"},
		Count:   16,
		Block:   time.Second,
	}).SetVal([]redis.XStream{{
		Stream: "bid-events",
		Messages: []redis.XMessage{
			{ID: "1-0", Values: map[string]any{"unexpected": "shape"}},
			{ID: "2-0", Values: encodeNotice(t, want)},
		},
	}})

	consumer, err := NewConsumer[bidNotice](client, "bid-events")
	require.NoError(t, err)

	consumer.Start()
	defer consumer.Close()

	select {
	case got := <-consumer.Subscribe():
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for decodable notice")
	}
}

func TestConsumerCloseEndsSubscription(t *testing.T) {
	defer goleak.VerifyNone(t)
	client, mock, cleanup := setupTest(t)
	defer cleanup()

	mock.ExpectXRead(&redis.XReadArgs{
		Streams: []string{"bid-events", "$"},
		Count:   16,
		Block:   time.Second,
	}).SetErr(redis.Nil)

	consumer, err := NewConsumer[bidNotice](client, "bid-events")
	require.NoError(t, err)

	consumer.Start()
	consumer.Start() // 重複啟動是no-op
	time.Sleep(100 * time.Millisecond)
	consumer.Close()
	consumer.Close() // 重複關閉是no-op

	_, ok := <-consumer.Subscribe()
	assert.False(t, ok, "關閉後下游channel要跟著結束")
}
