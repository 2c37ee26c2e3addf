package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Task 封裝一筆待處理的工作和消費確認需要的資料。
// 處理成功呼叫 Done，確定無法處理呼叫 Fail 移進 dead-letter；
// 兩者都沒呼叫的話訊息會留在 pending，之後被重新認領重送
type Task[T any] struct {
	Data T

	client    *redis.Client
	done      bool
	messageID string
	stream    string
	group     string
	raw       map[string]any
}

// Done 確認工作已處理完成
func (t *Task[T]) Done(ctx context.Context) error {
	const op = "Task.Done"
	if t.done {
		return nil
	}
	if err := t.client.XAck(ctx, t.stream, t.group, t.messageID).Err(); err != nil {
		return fmt.Errorf("[%s] failed to ack message: %w", op, err)
	}
	t.done = true
	return nil
}

// Fail 放棄這筆工作並附上原因移進 dead-letter stream
func (t *Task[T]) Fail(ctx context.Context, failErr error) error {
	const op = "Task.Fail"
	if t.done {
		return nil
	}
	t.raw["error"] = failErr.Error()
	if err := t.client.XAdd(ctx, &redis.XAddArgs{
		Stream: t.stream + ":dead-letter",
		Values: t.raw,
	}).Err(); err != nil {
		return fmt.Errorf("[%s] failed to move message to dead letter queue: %w", op, err)
	}
	if err := t.client.XAck(ctx, t.stream, t.group, t.messageID).Err(); err != nil {
		return fmt.Errorf("[%s] failed to ack failed message: %w", op, err)
	}
	t.done = true
	return nil
}

type queueConsumerOptions[T any] struct {
	logger       *slog.Logger
	decodeFunc   func(map[string]any) (T, error)
	bufferSize   int
	blockTimeout time.Duration
	claimMinIdle time.Duration
}

type QueueConsumerOption[T any] func(*queueConsumerOptions[T])

// WithQueueConsumerLogger 設置日誌記錄器
func WithQueueConsumerLogger[T any](logger *slog.Logger) QueueConsumerOption[T] {
	return func(o *queueConsumerOptions[T]) {
		o.logger = logger
	}
}

// WithQueueConsumerDecodeFunc 設置訊息解析函數
func WithQueueConsumerDecodeFunc[T any](fn func(map[string]any) (T, error)) QueueConsumerOption[T] {
	return func(o *queueConsumerOptions[T]) {
		o.decodeFunc = fn
	}
}

// WithQueueConsumerBufferSize 設置下游channel的緩衝大小
func WithQueueConsumerBufferSize[T any](size int) QueueConsumerOption[T] {
	return func(o *queueConsumerOptions[T]) {
		o.bufferSize = size
	}
}

// WithQueueConsumerBlockTimeout 設置阻塞讀取的超時時間
func WithQueueConsumerBlockTimeout[T any](d time.Duration) QueueConsumerOption[T] {
	return func(o *queueConsumerOptions[T]) {
		o.blockTimeout = d
	}
}

// WithQueueConsumerClaimMinIdle 設置認領pending訊息所需的最小閒置時間
func WithQueueConsumerClaimMinIdle[T any](d time.Duration) QueueConsumerOption[T] {
	return func(o *queueConsumerOptions[T]) {
		o.claimMinIdle = d
	}
}

// QueueConsumer 以 consumer group 的方式消費 Redis Stream：
// 同一個 group 內的每筆訊息只會被一個實例拿到，搭配冪等的處理邏輯
// 就能容忍重送。當機實例留下的 pending 訊息會被其他實例用
// XAUTOCLAIM 認領回來重新處理
type QueueConsumer[T any] struct {
	client     *redis.Client
	stream     string
	group      string
	consumer   string
	downStream chan *Task[T]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	logger     *slog.Logger
	options    queueConsumerOptions[T]
}

func NewQueueConsumer[T any](
	client *redis.Client,
	stream, group, consumer string,
	opts ...QueueConsumerOption[T],
) (IQueueConsumer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" || group == "" || consumer == "" {
		return nil, errors.New("stream, group and consumer cannot be empty")
	}

	// 默認選項
	options := queueConsumerOptions[T]{
		logger:       slog.Default(),
		decodeFunc:   DecodeMessage[T],
		bufferSize:   1,
		blockTimeout: time.Second,
		claimMinIdle: 30 * time.Second,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &QueueConsumer[T]{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		closed:   true,
		logger: options.logger.With(
			slog.String("caller", "QueueConsumer"),
			slog.String("stream", stream),
			slog.String("group", group),
			slog.String("consumer", consumer),
		),
		options: options,
	}, nil
}

func (s *QueueConsumer[T]) Start() error {
	const op = "QueueConsumer.Start"
	if !s.closed {
		return nil
	}

	// 建立consumer group，已存在時redis會回BUSYGROUP
	err := s.client.XGroupCreateMkStream(context.Background(), s.stream, s.group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("[%s] failed to create consumer group: %w", op, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.downStream = make(chan *Task[T], s.options.bufferSize)
	s.cancelFunc = cancel
	s.closed = false
	s.logger.Info("starting queue consumer")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("queue consumer goroutine stopped")
		defer close(s.downStream)

		for {
			select {
			case <-ctx.Done():
				return
			default:
				message, err := s.fetchNextMessage(ctx)
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					if errors.Is(err, context.Canceled) {
						return
					}
					s.logger.Error("fetch message error", slog.Any("error", err))
					continue
				}

				data, err := s.options.decodeFunc(message.Values)
				if err != nil {
					// 解析失敗重試也不會成功，直接移進dead-letter讓系統繼續前進
					s.logger.Error("failed to decode message",
						slog.String("messageId", message.ID),
						slog.Any("error", err))
					if deadLetterErr := s.moveToDeadLetter(ctx, message); deadLetterErr != nil {
						s.logger.Error("error moving message to dead letter",
							slog.String("messageId", message.ID),
							slog.Any("error", deadLetterErr))
					}
					continue
				}

				task := &Task[T]{
					Data:      data,
					client:    s.client,
					messageID: message.ID,
					stream:    s.stream,
					group:     s.group,
					raw:       message.Values,
				}
				select {
				case <-ctx.Done():
					// 尚未送到下游的訊息會以pending留在stream，之後被重新認領
					return
				case s.downStream <- task:
				}
			}
		}
	}()

	return nil
}

// fetchNextMessage 優先認領閒置過久的pending訊息，沒有才讀新訊息
func (s *QueueConsumer[T]) fetchNextMessage(ctx context.Context) (redis.XMessage, error) {
	claimed, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.stream,
		Group:    s.group,
		Consumer: s.consumer,
		MinIdle:  s.options.claimMinIdle,
		Start:    "0",
		Count:    1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return redis.XMessage{}, err
	}
	if len(claimed) > 0 {
		s.logger.Info("claimed pending message", slog.String("messageId", claimed[0].ID))
		return claimed[0], nil
	}

	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, ">"},
		Count:    1,
		Block:    s.options.blockTimeout,
	}).Result()
	if err != nil {
		return redis.XMessage{}, err
	}
	if len(streams) > 0 && len(streams[0].Messages) > 0 {
		return streams[0].Messages[0], nil
	}
	return redis.XMessage{}, redis.Nil
}

func (s *QueueConsumer[T]) moveToDeadLetter(ctx context.Context, message redis.XMessage) error {
	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream + ":dead-letter",
		Values: message.Values,
	}).Err(); err != nil {
		return fmt.Errorf("failed to move message to dead letter queue: %w", err)
	}
	return s.client.XAck(ctx, s.stream, s.group, message.ID).Err()
}

// Subscribe 訂閱工作佇列
func (s *QueueConsumer[T]) Subscribe() <-chan *Task[T] {
	return s.downStream
}

func (s *QueueConsumer[T]) Close() error {
	if s.closed {
		return nil
	}
	s.logger.Info("closing queue consumer")
	s.closed = true
	s.cancelFunc()
	s.wg.Wait()
	s.logger.Info("queue consumer closed")
	return nil
}
