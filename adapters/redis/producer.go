package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/chanx"
)

var ErrProducerClosed = errors.New("producer is closed")

type producerOptions struct {
	logger     *slog.Logger
	bufferSize int
}

type ProducerOption func(*producerOptions)

// WithProducerLogger 設置日誌記錄器
func WithProducerLogger(logger *slog.Logger) ProducerOption {
	return func(o *producerOptions) {
		o.logger = logger
	}
}

// WithProducerBufferSize 設置發送緩衝的初始容量
func WithProducerBufferSize(size int) ProducerOption {
	return func(o *producerOptions) {
		o.bufferSize = size
	}
}

// Producer 把訊息寫進 Redis Stream。Publish 先序列化再丟進無界緩衝，
// 實際的 XADD 由背景 goroutine 完成，所以出價的熱路徑不會被 Redis 往返卡住。
// Close 會等緩衝內剩下的訊息送完才返回，結標請求不會因為下線而遺失
type Producer[T any] struct {
	client     *redis.Client
	stream     string
	pending    *chanx.UnboundedChan[map[string]any]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	logger     *slog.Logger
	options    producerOptions
}

func NewProducer[T any](client *redis.Client, stream string, opts ...ProducerOption) (IProducer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	// 默認選項
	options := producerOptions{
		logger:     slog.Default(),
		bufferSize: 100,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Producer[T]{
		client:  client,
		stream:  stream,
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "Producer"), slog.String("stream", stream)),
		options: options,
	}, nil
}

func (p *Producer[T]) Start() {
	if !p.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.pending = chanx.NewUnboundedChan[map[string]any](ctx, p.options.bufferSize)
	p.cancelFunc = cancel
	p.closed = false
	p.logger.Info("starting stream producer")

	p.wg.Add(1)
	go p.drain(ctx)
}

// drain 依序把緩衝內的訊息寫進stream，緩衝的寫入端關閉且清空後結束
func (p *Producer[T]) drain(ctx context.Context) {
	defer p.wg.Done()
	defer p.logger.Info("producer goroutine stopped")

	for message := range p.pending.Out {
		id, err := p.client.XAdd(ctx, &redis.XAddArgs{
			Stream: p.stream,
			Values: message,
		}).Result()
		if err != nil {
			p.logger.Error("publish message error", slog.Any("error", err))
			continue
		}
		p.logger.Debug("message published", slog.String("messageId", id))
	}
}

// Publish 序列化資料並排進發送緩衝
func (p *Producer[T]) Publish(data T) error {
	if p.closed {
		return ErrProducerClosed
	}
	message, err := EncodeMessage(data)
	if err != nil {
		return fmt.Errorf("encode message error: %w", err)
	}
	p.pending.In <- message
	return nil
}

// Close 停止接收新訊息，等緩衝內剩下的訊息送完後返回
func (p *Producer[T]) Close() {
	if p.closed {
		return
	}
	p.logger.Info("closing stream producer")
	p.closed = true
	close(p.pending.In)
	p.wg.Wait()
	p.cancelFunc()
	p.logger.Info("stream producer closed")
}
