package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	redisAdapter "gavel/adapters/redis"
	"gavel/adapters/sse"
	"gavel/ledger"
	"gavel/models"
)

type serverOptions struct {
	logger *slog.Logger
	db     *gorm.DB
}

type ServerOption func(*serverOptions)

// WithServerLogger 設置日誌記錄器
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// WithServerDB 直接指定資料庫連線，跳過依照設定檔建立連線的流程
func WithServerDB(db *gorm.DB) ServerOption {
	return func(o *serverOptions) {
		o.db = db
	}
}

type ServerImpl struct {
	db            *gorm.DB
	redisClient   *redis.Client
	store         *ledger.Store
	directory     *ledger.UserDirectory
	htmlChecker   *bluemonday.Policy
	sseManager    sse.IConnectionManager[BidEvent]
	closeProducer redisAdapter.IProducer[CloseRequest]
	closeConsumer redisAdapter.IQueueConsumer[CloseRequest]
	logger        *slog.Logger
	wg            sync.WaitGroup
	cancelFunc    context.CancelFunc
	sseKeepalive  time.Duration

	config ServerConfig
}

func NewServer(config ServerConfig, opts ...ServerOption) (*ServerImpl, error) {
	const op = "NewServer"

	// 默認選項
	options := serverOptions{
		logger: slog.Default(),
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	// 初始化資料庫連線
	db := options.db
	if db == nil {
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s", config.DB.User, config.DB.Password, config.DB.Host, config.DB.Port, config.DB.Database, config.DB.Schema)
		var err error
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			TranslateError: true,
			NamingStrategy: schema.NamingStrategy{
				TablePrefix: config.DB.Schema + ".",
			},
		})
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
		}
	}
	if err := db.AutoMigrate(&models.User{}, &models.Listing{}, &models.Bid{}, &models.Order{}); err != nil {
		return nil, fmt.Errorf("[%s] Fail to migrate database, err=%w", op, err)
	}

	// 初始化Redis連線
	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	// 初始化帳本
	store, err := ledger.NewStore(db, ledger.WithStoreLogger(options.logger))
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create ledger store, err=%w", op, err)
	}

	// 初始化SSE管理器，出價事件經由Redis Stream跨實例廣播
	bidStream := config.Redis.KeyPrefix + config.Redis.StreamKeys.Bids
	bidProducer, err := redisAdapter.NewProducer[sse.Event[BidEvent]](redisClient, bidStream,
		redisAdapter.WithProducerLogger(options.logger))
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create bid producer, err=%w", op, err)
	}
	bidConsumer, err := redisAdapter.NewConsumer[sse.Event[BidEvent]](redisClient, bidStream,
		redisAdapter.WithConsumerLogger(options.logger))
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create bid consumer, err=%w", op, err)
	}
	sseManager := sse.NewConnectionManager[BidEvent](bidProducer, bidConsumer,
		sse.WithManagerLogger(options.logger))

	// 初始化結標佇列，同一筆結標請求只會被一個實例處理
	closeStream := config.Redis.KeyPrefix + config.Redis.StreamKeys.Close
	closeProducer, err := redisAdapter.NewProducer[CloseRequest](redisClient, closeStream,
		redisAdapter.WithProducerLogger(options.logger))
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create close producer, err=%w", op, err)
	}
	closeConsumer, err := redisAdapter.NewQueueConsumer[CloseRequest](redisClient, closeStream, config.Redis.ConsumerGroup, config.ID,
		redisAdapter.WithQueueConsumerLogger[CloseRequest](options.logger))
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create close consumer, err=%w", op, err)
	}

	return &ServerImpl{
		db:            db,
		redisClient:   redisClient,
		store:         store,
		directory:     ledger.NewUserDirectory(db),
		htmlChecker:   bluemonday.UGCPolicy(),
		sseManager:    sseManager,
		closeProducer: closeProducer,
		closeConsumer: closeConsumer,
		logger:        options.logger,
		sseKeepalive:  30 * time.Second,
		config:        config,
	}, nil
}

func (impl *ServerImpl) Start() error {
	const op = "ServerImpl.Start"
	// 啟動SSE管理器
	impl.sseManager.Start()
	// 啟動結標佇列
	impl.closeProducer.Start()
	if err := impl.closeConsumer.Start(); err != nil {
		return fmt.Errorf("[%s] Fail to start close consumer, err=%w", op, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	impl.cancelFunc = cancel

	// 啟動一個worker定期把到期的商品排進結標佇列
	impl.logger.Info("Start close sweeper")
	impl.wg.Add(1)
	go func() {
		logger := impl.logger.With(slog.String("caller", "CloseSweeper"))
		defer impl.wg.Done()
		defer logger.Info("Close sweeper stopped")
		ticker := time.NewTicker(impl.config.Auction.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				due, err := impl.store.DueListings(ctx, time.Now().UTC(), 100)
				if err != nil {
					logger.Error("Fail to list due listings", slog.Any("error", err))
					continue
				}
				for _, listing := range due {
					if err := impl.closeProducer.Publish(CloseRequest{ListingID: listing.ID}); err != nil {
						logger.Error("Fail to enqueue close request", slog.String("listingID", listing.ID.String()), slog.Any("error", err))
					}
				}
			}
		}
	}()

	// 啟動一個worker消費結標佇列並執行結標。
	// 結標本身是冪等的，所以重送和多個實例同時排程都不會出錯
	impl.logger.Info("Start close worker")
	impl.wg.Add(1)
	go func() {
		logger := impl.logger.With(slog.String("caller", "CloseWorker"))
		defer impl.wg.Done()
		defer logger.Info("Close worker stopped")
		ch := impl.closeConsumer.Subscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case task, ok := <-ch:
				if !ok {
					return
				}
				listing, err := impl.store.CloseListing(ctx, task.Data.ListingID, false, time.Now().UTC())
				if err != nil {
					logger.Error("Fail to close listing", slog.String("listingID", task.Data.ListingID.String()), slog.Any("error", err))
					if failErr := task.Fail(ctx, err); failErr != nil {
						logger.Error("Fail to fail close task", slog.Any("error", failErr))
					}
					continue
				}
				logger.Info("Listing closed", slog.String("listingID", listing.ID.String()), slog.String("status", string(listing.Status)))
				if err := task.Done(ctx); err != nil {
					logger.Error("Close success but fail to done task", slog.Any("error", err))
				}
			}
		}
	}()

	return nil
}

func (impl *ServerImpl) Close() {
	// 關閉結標佇列的消費端，worker的channel會跟著結束
	if err := impl.closeConsumer.Close(); err != nil {
		impl.logger.Error("Fail to close close consumer", slog.Any("error", err))
	}
	// 關閉背景worker
	if impl.cancelFunc != nil {
		impl.cancelFunc()
	}
	impl.wg.Wait()
	// 關閉結標佇列的發送端
	impl.closeProducer.Close()
	// 關閉SSE管理器
	impl.sseManager.Done()
	// 關閉Redis連線
	if err := impl.redisClient.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		impl.logger.Error("Fail to close redis client", slog.Any("error", err))
	}
}
