package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// RenewingMutex 是跨服務實例的分散式互斥鎖，拿到鎖之後會在背景
// 自動續期直到 Unlock。出價和結標用它對同一件商品做前線的互斥，
// 資料庫的版本比對仍然是正確性的最後防線。
type RenewingMutex struct {
	mutex   *redsync.Mutex
	cancel  context.CancelFunc
	mu      sync.Mutex
	wg      sync.WaitGroup
	renewed bool
	options renewingMutexOptions
}

type renewingMutexOptions struct {
	expiry        time.Duration
	retryDelay    time.Duration
	renewInterval time.Duration
}

type RenewingMutexOption func(*renewingMutexOptions)

// WithMutexExpiry 設置鎖的過期時間
func WithMutexExpiry(d time.Duration) RenewingMutexOption {
	return func(o *renewingMutexOptions) {
		o.expiry = d
	}
}

// WithMutexRetryDelay 設置搶鎖失敗後的重試延遲
func WithMutexRetryDelay(d time.Duration) RenewingMutexOption {
	return func(o *renewingMutexOptions) {
		o.retryDelay = d
	}
}

// WithMutexRenewInterval 設置自動續期的間隔
func WithMutexRenewInterval(d time.Duration) RenewingMutexOption {
	return func(o *renewingMutexOptions) {
		o.renewInterval = d
	}
}

func NewRenewingMutex(client *redis.Client, key string, opts ...RenewingMutexOption) IRenewingMutex {
	// 默認選項
	options := renewingMutexOptions{
		expiry:     8 * time.Second,
		retryDelay: 100 * time.Millisecond,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	// 未指定續期間隔時使用過期時間的1/3
	if options.renewInterval <= 0 {
		options.renewInterval = options.expiry / 3
	}

	rs := redsync.New(goredis.NewPool(client))
	return &RenewingMutex{
		mutex: rs.NewMutex(
			key,
			redsync.WithExpiry(options.expiry),
			redsync.WithTries(1),
		),
		options: options,
	}
}

// Lock 在ctx的期限內反覆嘗試取得鎖，成功後回傳一個子context：
// 續期失敗（鎖被外力奪走）時子context會被取消，持鎖方應該放棄手上的工作
func (m *RenewingMutex) Lock(ctx context.Context) (context.Context, error) {
	timer := time.NewTimer(1)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			err := m.mutex.TryLockContext(ctx)
			if err == nil {
				lockCtx, cancel := context.WithCancel(ctx)
				m.cancel = cancel
				m.startRenewal(lockCtx)
				return lockCtx, nil
			}
			var redisErr *redsync.RedisError
			if errors.As(err, &redisErr) {
				return nil, fmt.Errorf("failed to acquire lock: %w", err)
			}
			timer.Reset(m.options.retryDelay)
		}
	}
}

// Unlock 停止續期並釋放鎖
func (m *RenewingMutex) Unlock() (bool, error) {
	m.stopRenewal()
	m.wg.Wait()
	return m.mutex.Unlock()
}

func (m *RenewingMutex) startRenewal(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.renewed {
		return
	}
	m.renewed = true

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.options.renewInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := m.mutex.Extend()
				if err != nil || !ok {
					m.stopRenewal()
					return
				}
			}
		}
	}()
}

func (m *RenewingMutex) stopRenewal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.renewed {
		return
	}
	m.renewed = false
	if m.cancel != nil {
		m.cancel()
	}
}
