package redis

import (
	"log/slog"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// closeNotice 模擬排進結標佇列的訊息
type closeNotice struct {
	ListingID string `msgpack:"listingId"`
	Reason    string `msgpack:"reason"`
}

func TestNewProducer(t *testing.T) {
	tests := []struct {
		name    string
		client  *redis.Client
		stream  string
		opts    []ProducerOption
		errMsg  string
	}{
		{
			name:   "正常建立",
			client: redis.NewClient(&redis.Options{}),
			stream: "close-requests",
		},
		{
			name:   "帶自訂選項",
			client: redis.NewClient(&redis.Options{}),
			stream: "close-requests",
			opts: []ProducerOption{
				WithProducerLogger(slog.Default()),
				WithProducerBufferSize(16),
			},
		},
		{
			name:   "client不能為nil",
			stream: "close-requests",
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

			producer, err := NewProducer[closeNotice](tt.client, tt.stream, tt.opts...)
			if tt.errMsg != "" {
				assert.ErrorContains(t, err, tt.errMsg)
				assert.Nil(t, producer)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, producer)
				producer.Close()
			}
			if tt.client != nil {
				tt.client.Close()
			}
		})
	}
}

// Close要等緩衝內的訊息全部送出才返回，所以不需要任何sleep，
// 清理階段的期望檢查就能證明兩筆XADD都發生了
func TestProducerDrainsBufferOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)
	client, mock, cleanup := setupTest(t)
	defer cleanup()

	first := closeNotice{ListingID: "listing-1", Reason: "expired"}
	second := closeNotice{ListingID: "listing-2", Reason: "expired"}
	for _, notice := range []closeNotice{first, second} {
		values, err := EncodeMessage(notice)
		require.NoError(t, err)
		mock.ExpectXAdd(&redis.XAddArgs{
			Stream: "close-requests",
			Values: values,
		}).SetVal("1234-0")
	}

	producer, err := NewProducer[closeNotice](client, "close-requests")
	require.NoError(t, err)

	producer.Start()
	require.NoError(t, producer.Publish(first))
	require.NoError(t, producer.Publish(second))
	producer.Close()
}

func TestProducerPublishAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)
	client, _, cleanup := setupTest(t)
	defer cleanup()

	producer, err := NewProducer[closeNotice](client, "close-requests")
	require.NoError(t, err)

	producer.Start()
	producer.Close()
	producer.Close() // 重複關閉是no-op

	err = producer.Publish(closeNotice{ListingID: "listing-1"})
	assert.ErrorIs(t, err, ErrProducerClosed)
}

// 單筆XADD失敗只會被記錄，不會中斷後面的訊息
func TestProducerKeepsDrainingAfterRedisError(t *testing.T) {
	defer goleak.VerifyNone(t)
	client, mock, cleanup := setupTest(t)
	defer cleanup()

	dropped := closeNotice{ListingID: "listing-1", Reason: "expired"}
	delivered := closeNotice{ListingID: "listing-2", Reason: "expired"}

	droppedValues, err := EncodeMessage(dropped)
	require.NoError(t, err)
	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: "close-requests",
		Values: droppedValues,
	}).SetErr(redis.ErrClosed)

	deliveredValues, err := EncodeMessage(delivered)
	require.NoError(t, err)
	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: "close-requests",
		Values: deliveredValues,
	}).SetVal("1234-0")

	producer, err := NewProducer[closeNotice](client, "close-requests")
	require.NoError(t, err)

	producer.Start()
	producer.Start() // 重複啟動是no-op
	require.NoError(t, producer.Publish(dropped))
	require.NoError(t, producer.Publish(delivered))
	producer.Close()
}
