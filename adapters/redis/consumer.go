package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type consumerOptions struct {
	logger       *slog.Logger
	bufferSize   int
	batchSize    int64
	blockTimeout time.Duration
}

type ConsumerOption func(*consumerOptions)

// WithConsumerLogger 設置日誌記錄器
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(o *consumerOptions) {
		o.logger = logger
	}
}

// WithConsumerBufferSize 設置下游channel的緩衝大小
func WithConsumerBufferSize(size int) ConsumerOption {
	return func(o *consumerOptions) {
		o.bufferSize = size
	}
}

// WithConsumerBatchSize 設置單次讀取的訊息數量上限
func WithConsumerBatchSize(size int64) ConsumerOption {
	return func(o *consumerOptions) {
		o.batchSize = size
	}
}

// WithConsumerBlockTimeout 設置阻塞讀取的超時時間
func WithConsumerBlockTimeout(d time.Duration) ConsumerOption {
	return func(o *consumerOptions) {
		o.blockTimeout = d
	}
}

// Consumer 從 Redis Stream 的尾端讀取訊息，用於即時廣播：
// 只關心啟動之後的新訊息，不做消費確認，每個實例都會收到全部訊息
type Consumer[T any] struct {
	client     *redis.Client
	stream     string
	lastID     string
	downStream chan T
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	logger     *slog.Logger
	options    consumerOptions
}

func NewConsumer[T any](client *redis.Client, stream string, opts ...ConsumerOption) (IConsumer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	// 默認選項
	options := consumerOptions{
		logger:       slog.Default(),
		bufferSize:   100,
		batchSize:    16,
		blockTimeout: time.Second,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Consumer[T]{
		client:  client,
		stream:  stream,
		lastID:  "$",
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "Consumer"), slog.String("stream", stream)),
		options: options,
	}, nil
}

func (c *Consumer[T]) Start() {
	if !c.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.downStream = make(chan T, c.options.bufferSize)
	c.cancelFunc = cancel
	c.closed = false
	c.logger.Info("starting stream consumer")

	c.wg.Add(1)
	go c.tail(ctx)
}

// tail 追著stream的尾端整批讀取，解不開的訊息記錄後跳過
func (c *Consumer[T]) tail(ctx context.Context) {
	defer c.wg.Done()
	defer c.logger.Info("consumer goroutine stopped")
	defer close(c.downStream)

	for ctx.Err() == nil {
		streams, err := c.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{c.stream, c.lastID},
			Count:   c.options.batchSize,
			Block:   c.options.blockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if !errors.Is(err, redis.Nil) {
				c.logger.Error("fetch message error", slog.Any("error", err))
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				c.lastID = message.ID
				data, err := DecodeMessage[T](message.Values)
				if err != nil {
					c.logger.Error("failed to decode message",
						slog.String("messageId", message.ID),
						slog.Any("error", err))
					continue
				}
				select {
				case <-ctx.Done():
					return
				case c.downStream <- data:
					c.logger.Debug("message sent to downstream", slog.String("messageId", message.ID))
				}
			}
		}
	}
}

// Subscribe 訂閱數據流
func (c *Consumer[T]) Subscribe() <-chan T {
	return c.downStream
}

// Close 關閉消費者
func (c *Consumer[T]) Close() {
	if c.closed {
		return
	}
	c.logger.Info("closing stream consumer")
	c.closed = true
	c.cancelFunc()
	c.wg.Wait()
	c.logger.Info("stream consumer closed")
}
