package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestNewQueueConsumer(t *testing.T) {
	tests := []struct {
		name     string
		client   *redis.Client
		stream   string
		group    string
		consumer string
		opts     []QueueConsumerOption[TestMessage]
		wantErr  bool
		errMsg   string
	}{
		{
			name:     "valid configuration",
			client:   redis.NewClient(&redis.Options{}),
			stream:   "test-stream",
			group:    "test-group",
			consumer: "test-consumer",
			wantErr:  false,
		},
		{
			name:     "nil client",
			client:   nil,
			stream:   "test-stream",
			group:    "test-group",
			consumer: "test-consumer",
			wantErr:  true,
			errMsg:   "redis client cannot be nil",
		},
		{
			name:     "empty stream",
			client:   redis.NewClient(&redis.Options{}),
			stream:   "",
			group:    "test-group",
			consumer: "test-consumer",
			wantErr:  true,
			errMsg:   "stream, group and consumer cannot be empty",
		},
		{
			name:     "empty group",
			client:   redis.NewClient(&redis.Options{}),
			stream:   "test-stream",
			group:    "",
			consumer: "test-consumer",
			wantErr:  true,
			errMsg:   "stream, group and consumer cannot be empty",
		},
		{
			name:     "with custom options",
			client:   redis.NewClient(&redis.Options{}),
			stream:   "test-stream",
			group:    "test-group",
			consumer: "test-consumer",
			opts: []QueueConsumerOption[TestMessage]{
				WithQueueConsumerBufferSize[TestMessage](10),
				WithQueueConsumerBlockTimeout[TestMessage](2 * time.Second),
				WithQueueConsumerClaimMinIdle[TestMessage](time.Minute),
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)

			consumer, err := NewQueueConsumer(tt.client, tt.stream, tt.group, tt.consumer, tt.opts...)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Nil(t, consumer)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, consumer)
			}

			if tt.client != nil {
				tt.client.Close()
			}
		})
	}
}

func TestQueueConsumer_Start(t *testing.T) {
	t.Run("creates consumer group", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		mock.ExpectXGroupCreateMkStream("test-stream", "test-group", "$").SetVal("OK")

		consumer, err := NewQueueConsumer[TestMessage](client, "test-stream", "test-group", "test-consumer")
		require.NoError(t, err)

		require.NoError(t, consumer.Start())
		time.Sleep(100 * time.Millisecond)
		assert.NoError(t, consumer.Close())
	})

	t.Run("tolerates existing consumer group", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		mock.ExpectXGroupCreateMkStream("test-stream", "test-group", "$").
			SetErr(errors.New("BUSYGROUP Consumer Group name already exists"))

		consumer, err := NewQueueConsumer[TestMessage](client, "test-stream", "test-group", "test-consumer")
		require.NoError(t, err)

		require.NoError(t, consumer.Start())
		time.Sleep(100 * time.Millisecond)
		assert.NoError(t, consumer.Close())
	})

	t.Run("group create failure", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		mock.ExpectXGroupCreateMkStream("test-stream", "test-group", "$").SetErr(redis.ErrClosed)

		consumer, err := NewQueueConsumer[TestMessage](client, "test-stream", "test-group", "test-consumer")
		require.NoError(t, err)

		err = consumer.Start()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create consumer group")
	})
}

func TestQueueConsumer_TaskLifecycle(t *testing.T) {
	testMsg := TestMessage{ID: "1", Data: "close listing"}

	t.Run("deliver then ack", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		msgValues, err := EncodeMessage(testMsg)
		require.NoError(t, err)

		mock.ExpectXGroupCreateMkStream("test-stream", "test-group", "$").SetVal("OK")
		mock.ExpectXAutoClaim(&redis.XAutoClaimArgs{
			Stream:   "test-stream",
			Group:    "test-group",
			Consumer: "test-consumer",
			MinIdle:  30 * time.Second,
			Start:    "0",
			Count:    1,
		}).SetVal([]redis.XMessage{}, "0-0")
		mock.ExpectXReadGroup(&redis.XReadGroupArgs{
			Group:    "test-group",
			Consumer: "test-consumer",
			Streams:  []string{"test-stream", ">"},
			Count:    1,
			Block:    time.Second,
		}).SetVal([]redis.XStream{
			{
				Stream:   "test-stream",
				Messages: []redis.XMessage{{ID: "1234-0", Values: msgValues}},
			},
		})
		mock.ExpectXAck("test-stream", "test-group", "1234-0").SetVal(1)

		consumer, err := NewQueueConsumer[TestMessage](client, "test-stream", "test-group", "test-consumer")
		require.NoError(t, err)
		require.NoError(t, consumer.Start())
		defer consumer.Close()

		select {
		case task := <-consumer.Subscribe():
			assert.Equal(t, testMsg, task.Data)
			assert.NoError(t, task.Done(context.Background()))
			// 重複確認是no-op
			assert.NoError(t, task.Done(context.Background()))
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for task")
		}
	})

	t.Run("deliver then fail moves to dead letter", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		msgValues, err := EncodeMessage(testMsg)
		require.NoError(t, err)
		deadLetterValues := map[string]any{
			"data":  msgValues["data"],
			"error": "handler exploded",
		}

		mock.ExpectXGroupCreateMkStream("test-stream", "test-group", "$").SetVal("OK")
		mock.ExpectXAutoClaim(&redis.XAutoClaimArgs{
			Stream:   "test-stream",
			Group:    "test-group",
			Consumer: "test-consumer",
			MinIdle:  30 * time.Second,
			Start:    "0",
			Count:    1,
		}).SetVal([]redis.XMessage{}, "0-0")
		mock.ExpectXReadGroup(&redis.XReadGroupArgs{
			Group:    "test-group",
			Consumer: "test-consumer",
			Streams:  []string{"test-stream", ">"},
			Count:    1,
			Block:    time.Second,
		}).SetVal([]redis.XStream{
			{
				Stream:   "test-stream",
				Messages: []redis.XMessage{{ID: "1234-0", Values: msgValues}},
			},
		})
		mock.ExpectXAdd(&redis.XAddArgs{
			Stream: "test-stream:dead-letter",
			Values: deadLetterValues,
		}).SetVal("1-0")
		mock.ExpectXAck("test-stream", "test-group", "1234-0").SetVal(1)

		consumer, err := NewQueueConsumer[TestMessage](client, "test-stream", "test-group", "test-consumer")
		require.NoError(t, err)
		require.NoError(t, consumer.Start())
		defer consumer.Close()

		select {
		case task := <-consumer.Subscribe():
			assert.Equal(t, testMsg, task.Data)
			assert.NoError(t, task.Fail(context.Background(), errors.New("handler exploded")))
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for task")
		}
	})

	t.Run("claims pending message before reading new ones", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		msgValues, err := EncodeMessage(testMsg)
		require.NoError(t, err)

		mock.ExpectXGroupCreateMkStream("test-stream", "test-group", "$").SetVal("OK")
		mock.ExpectXAutoClaim(&redis.XAutoClaimArgs{
			Stream:   "test-stream",
			Group:    "test-group",
			Consumer: "test-consumer",
			MinIdle:  30 * time.Second,
			Start:    "0",
			Count:    1,
		}).SetVal([]redis.XMessage{{ID: "1000-0", Values: msgValues}}, "0-0")
		mock.ExpectXAck("test-stream", "test-group", "1000-0").SetVal(1)

		consumer, err := NewQueueConsumer[TestMessage](client, "test-stream", "test-group", "test-consumer")
		require.NoError(t, err)
		require.NoError(t, consumer.Start())
		defer consumer.Close()

		select {
		case task := <-consumer.Subscribe():
			assert.Equal(t, testMsg, task.Data)
			assert.NoError(t, task.Done(context.Background()))
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for claimed task")
		}
	})

	t.Run("undecodable message goes to dead letter", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		badValues := map[string]any{"unexpected": "shape"}

		mock.ExpectXGroupCreateMkStream("test-stream", "test-group", "$").SetVal("OK")
		mock.ExpectXAutoClaim(&redis.XAutoClaimArgs{
			Stream:   "test-stream",
			Group:    "test-group",
			Consumer: "test-consumer",
			MinIdle:  30 * time.Second,
			Start:    "0",
			Count:    1,
		}).SetVal([]redis.XMessage{}, "0-0")
		mock.ExpectXReadGroup(&redis.XReadGroupArgs{
			Group:    "test-group",
			Consumer: "test-consumer",
			Streams:  []string{"test-stream", ">"},
			Count:    1,
			Block:    time.Second,
		}).SetVal([]redis.XStream{
			{
				Stream:   "test-stream",
				Messages: []redis.XMessage{{ID: "1234-0", Values: badValues}},
			},
		})
		mock.ExpectXAdd(&redis.XAddArgs{
			Stream: "test-stream:dead-letter",
			Values: badValues,
		}).SetVal("1-0")
		mock.ExpectXAck("test-stream", "test-group", "1234-0").SetVal(1)

		consumer, err := NewQueueConsumer[TestMessage](client, "test-stream", "test-group", "test-consumer")
		require.NoError(t, err)
		require.NoError(t, consumer.Start())
		defer consumer.Close()

		select {
		case <-consumer.Subscribe():
			t.Fatal("should not receive undecodable message")
		case <-time.After(300 * time.Millisecond):
			// Expected timeout
		}
	})
}
