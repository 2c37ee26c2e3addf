// Package ledger 是整個拍賣核心中唯一能碰到資料庫的元件。
// 所有會動到多筆資料的操作都包在單一交易內，並以商品列上的版本號
// 做樂觀鎖比對：輸掉競爭的交易整筆回滾，由 Store 內部重試。
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"gavel/auction"
	"gavel/models"
)

type storeOptions struct {
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration
}

type StoreOption func(*storeOptions)

// WithStoreLogger 設置日誌記錄器
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(o *storeOptions) {
		o.logger = logger
	}
}

// WithStoreMaxRetries 設置版本衝突的內部重試次數
func WithStoreMaxRetries(n int) StoreOption {
	return func(o *storeOptions) {
		o.maxRetries = n
	}
}

// WithStoreRetryDelay 設置重試之間的基礎延遲
func WithStoreRetryDelay(d time.Duration) StoreOption {
	return func(o *storeOptions) {
		o.retryDelay = d
	}
}

type Store struct {
	db      *gorm.DB
	logger  *slog.Logger
	options storeOptions
}

func NewStore(db *gorm.DB, opts ...StoreOption) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}

	// 默認選項
	options := storeOptions{
		logger:     slog.Default(),
		maxRetries: 3,
		retryDelay: 10 * time.Millisecond,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Store{
		db:      db,
		logger:  options.logger.With(slog.String("caller", "Store")),
		options: options,
	}, nil
}

// withConflictRetry 以有限次數重試輸掉樂觀鎖競爭的操作，
// 其他種類的錯誤一律直接回傳
func (s *Store) withConflictRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < s.options.maxRetries; attempt++ {
		err = fn()
		if !errors.Is(err, auction.ErrConflict) {
			return err
		}
		s.logger.Warn("retrying after version conflict", slog.Int("attempt", attempt+1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * s.options.retryDelay):
		}
	}
	return err
}

// CreateListingParams 是建立商品需要的欄位
type CreateListingParams struct {
	SellerID      uuid.UUID
	Title         string
	Description   string
	StartingPrice int64
	Increment     int64
	OpensAt       time.Time
	ClosesAt      time.Time
}

// CreateListing 建立一件 draft 狀態的商品。
// 賣家是否存在由呼叫端透過使用者目錄驗證，這裡不重複檢查。
func (s *Store) CreateListing(ctx context.Context, p CreateListingParams) (models.Listing, error) {
	const op = "Store.CreateListing"
	if p.StartingPrice <= 0 {
		return models.Listing{}, fmt.Errorf("[%s] %w: starting price must be positive", op, auction.ErrInvalidInput)
	}
	if p.Increment <= 0 {
		return models.Listing{}, fmt.Errorf("[%s] %w: increment must be positive", op, auction.ErrInvalidInput)
	}
	if !p.ClosesAt.After(p.OpensAt) {
		return models.Listing{}, fmt.Errorf("[%s] %w: closes-at must be after opens-at", op, auction.ErrInvalidInput)
	}

	listing := models.Listing{
		SellerID:      p.SellerID,
		Title:         p.Title,
		Description:   p.Description,
		StartingPrice: p.StartingPrice,
		Increment:     p.Increment,
		Status:        auction.StatusDraft,
		OpensAt:       p.OpensAt,
		ClosesAt:      p.ClosesAt,
		CurrentPrice:  p.StartingPrice,
	}
	if result := s.db.WithContext(ctx).Create(&listing); result.Error != nil {
		return models.Listing{}, fmt.Errorf("[%s] Fail to create listing, err=%w", op, result.Error)
	}
	return listing, nil
}

// GetListing 取得單一商品和目前的領先出價
func (s *Store) GetListing(ctx context.Context, id uuid.UUID) (models.Listing, error) {
	const op = "Store.GetListing"
	var listing models.Listing
	if result := s.db.WithContext(ctx).Preload("CurrentBid").First(&listing, "id = ?", id); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return models.Listing{}, fmt.Errorf("[%s] %w: listing %s", op, auction.ErrNotFound, id)
		}
		return models.Listing{}, fmt.Errorf("[%s] Fail to find listing, err=%w", op, result.Error)
	}
	return listing, nil
}

// OpenListing 把商品從 draft 轉成 active。
// 已經是 active 的商品直接回傳成功，讓排程重複觸發時不會報錯。
func (s *Store) OpenListing(ctx context.Context, id uuid.UUID, now time.Time) (models.Listing, error) {
	const op = "Store.OpenListing"
	var listing models.Listing
	err := s.withConflictRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if result := tx.First(&listing, "id = ?", id); result.Error != nil {
				if errors.Is(result.Error, gorm.ErrRecordNotFound) {
					return fmt.Errorf("[%s] %w: listing %s", op, auction.ErrNotFound, id)
				}
				return fmt.Errorf("[%s] Fail to find listing, err=%w", op, result.Error)
			}
			if listing.Status == auction.StatusActive {
				return nil
			}
			next, err := auction.Next(listing.Status, auction.EventOpen)
			if err != nil {
				return fmt.Errorf("[%s] %w", op, err)
			}
			if now.Before(listing.OpensAt) {
				return fmt.Errorf("[%s] %w: listing opens at %s", op, auction.ErrInvalidInput, listing.OpensAt.Format(time.RFC3339))
			}
			result := tx.Model(&models.Listing{}).
				Where("id = ? AND version = ?", listing.ID, listing.Version).
				Updates(map[string]any{"status": next, "version": listing.Version + 1})
			if result.Error != nil {
				return fmt.Errorf("[%s] Fail to update listing, err=%w", op, result.Error)
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("[%s] %w: listing %s version %d", op, auction.ErrConflict, listing.ID, listing.Version)
			}
			listing.Status = next
			listing.Version++
			return nil
		})
	})
	if err != nil {
		return models.Listing{}, err
	}
	return listing, nil
}

// PlaceBidParams 是提交出價需要的欄位，MaxProxy 不為 nil 時代表代理出價
type PlaceBidParams struct {
	ListingID uuid.UUID
	BidderID  uuid.UUID
	Amount    int64
	MaxProxy  *int64
}

// PlaceBid 提交一筆出價並在同一筆交易內完成決標計算。
// 出價時間在進入這裡的當下指定，作為同一件商品內出價全序的依據；
// 狀態和結標時間的檢查都在交易內重做一次，不依賴請求入口的檢查。
func (s *Store) PlaceBid(ctx context.Context, p PlaceBidParams) (models.Bid, error) {
	const op = "Store.PlaceBid"
	if p.Amount <= 0 {
		return models.Bid{}, fmt.Errorf("[%s] %w: amount must be positive", op, auction.ErrInvalidInput)
	}
	if p.MaxProxy != nil && *p.MaxProxy < p.Amount {
		return models.Bid{}, fmt.Errorf("[%s] %w: proxy ceiling below amount", op, auction.ErrInvalidInput)
	}

	submittedAt := time.Now().UTC()
	var bid models.Bid
	err := s.withConflictRetry(ctx, func() error {
		bid = models.Bid{}
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var listing models.Listing
			if result := tx.Preload("CurrentBid").First(&listing, "id = ?", p.ListingID); result.Error != nil {
				if errors.Is(result.Error, gorm.ErrRecordNotFound) {
					return fmt.Errorf("[%s] %w: listing %s", op, auction.ErrNotFound, p.ListingID)
				}
				return fmt.Errorf("[%s] Fail to find listing, err=%w", op, result.Error)
			}
			if listing.SellerID == p.BidderID {
				return fmt.Errorf("[%s] %w: seller cannot bid on own listing", op, auction.ErrInvalidInput)
			}
			// 狀態和時間窗在交易內重新檢查，結標後到達的出價一律拒絕
			if listing.Status != auction.StatusActive || submittedAt.Before(listing.OpensAt) || !submittedAt.Before(listing.ClosesAt) {
				return fmt.Errorf("[%s] %w: status=%s", op, auction.ErrListingNotOpen, listing.Status)
			}

			kind, limit := auction.BidKindManual, p.Amount
			if p.MaxProxy != nil {
				kind, limit = auction.BidKindProxy, *p.MaxProxy
			}
			var leader *auction.Candidate
			if listing.CurrentBidID != nil && listing.CurrentBid != nil {
				leader = &auction.Candidate{
					BidID:       listing.CurrentBid.ID,
					BidderID:    listing.CurrentBid.BidderID,
					Kind:        listing.CurrentBid.Kind,
					Amount:      listing.CurrentBid.Amount,
					Limit:       listing.CurrentBid.Limit(),
					SubmittedAt: listing.CurrentBid.SubmittedAt,
				}
			}
			challenger := auction.Candidate{
				BidID:       uuid.Must(uuid.NewV7()),
				BidderID:    p.BidderID,
				Kind:        kind,
				Amount:      p.Amount,
				Limit:       limit,
				SubmittedAt: submittedAt,
			}
			outcome, err := auction.Resolve(listing.StartingPrice, listing.Increment, leader, listing.CurrentPrice, challenger)
			if err != nil {
				return fmt.Errorf("[%s] %w", op, err)
			}

			bid = models.Bid{
				ID:              challenger.BidID,
				ListingID:       listing.ID,
				BidderID:        p.BidderID,
				Kind:            kind,
				Amount:          p.Amount,
				MaxProxy:        p.MaxProxy,
				EffectiveAmount: outcome.ChallengerEffective,
				Superseded:      !outcome.ChallengerLeads,
				SubmittedAt:     submittedAt,
			}
			if result := tx.Create(&bid); result.Error != nil {
				return fmt.Errorf("[%s] Fail to create bid, err=%w", op, result.Error)
			}
			if outcome.ChallengerLeads {
				if leader != nil {
					// 舊領先者被淘汰
					if result := tx.Model(&models.Bid{}).Where("id = ?", leader.BidID).Update("superseded", true); result.Error != nil {
						return fmt.Errorf("[%s] Fail to supersede previous leader, err=%w", op, result.Error)
					}
				}
			} else {
				// 領先者防守成功，抬高其有效金額
				if result := tx.Model(&models.Bid{}).Where("id = ?", outcome.LeaderID).Update("effective_amount", outcome.Price); result.Error != nil {
					return fmt.Errorf("[%s] Fail to raise leader effective amount, err=%w", op, result.Error)
				}
			}
			// 版本不符代表有並行出價或結標搶先提交，整筆交易回滾後重試
			result := tx.Model(&models.Listing{}).
				Where("id = ? AND version = ?", listing.ID, listing.Version).
				Updates(map[string]any{
					"current_bid_id": outcome.LeaderID,
					"current_price":  outcome.Price,
					"version":        listing.Version + 1,
				})
			if result.Error != nil {
				return fmt.Errorf("[%s] Fail to update listing, err=%w", op, result.Error)
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("[%s] %w: listing %s version %d", op, auction.ErrConflict, listing.ID, listing.Version)
			}
			return nil
		})
	})
	if err != nil {
		return models.Bid{}, err
	}
	return bid, nil
}

// CloseListing 結標並在同一筆交易內結算。
// 有效的領先出價存在時建立訂單並轉成 settled，否則轉成 cancelled；
// 已經是終態的商品直接回傳成功，容忍計時器重複觸發。
// force 為 true 代表賣家提前結標，否則要求結標時間已經到達。
func (s *Store) CloseListing(ctx context.Context, id uuid.UUID, force bool, now time.Time) (models.Listing, error) {
	const op = "Store.CloseListing"
	var listing models.Listing
	err := s.withConflictRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if result := tx.Preload("CurrentBid").First(&listing, "id = ?", id); result.Error != nil {
				if errors.Is(result.Error, gorm.ErrRecordNotFound) {
					return fmt.Errorf("[%s] %w: listing %s", op, auction.ErrNotFound, id)
				}
				return fmt.Errorf("[%s] Fail to find listing, err=%w", op, result.Error)
			}
			if listing.Status.Terminal() {
				return nil
			}
			ended, err := auction.Next(listing.Status, auction.EventClose)
			if err != nil {
				return fmt.Errorf("[%s] %w", op, err)
			}
			if !force && now.Before(listing.ClosesAt) {
				return fmt.Errorf("[%s] %w: listing closes at %s", op, auction.ErrInvalidInput, listing.ClosesAt.Format(time.RFC3339))
			}

			// 結標和結算在同一筆交易內完成，ended 只存在於這裡
			event := auction.EventCancel
			if listing.CurrentBidID != nil && listing.CurrentBid != nil && !listing.CurrentBid.Superseded {
				order := models.Order{
					ListingID:  listing.ID,
					BuyerID:    listing.CurrentBid.BidderID,
					SellerID:   listing.SellerID,
					FinalPrice: listing.CurrentBid.EffectiveAmount,
				}
				if result := tx.Create(&order); result.Error != nil {
					// 訂單已存在代表前一次結算在狀態更新前中斷，重送視為成功
					if !errors.Is(result.Error, gorm.ErrDuplicatedKey) {
						return fmt.Errorf("[%s] Fail to create order, err=%w", op, result.Error)
					}
					s.logger.Warn("order already exists, treating close as replay", slog.String("listingID", listing.ID.String()))
				}
				event = auction.EventSettle
			}
			final, err := auction.Next(ended, event)
			if err != nil {
				return fmt.Errorf("[%s] %w", op, err)
			}

			result := tx.Model(&models.Listing{}).
				Where("id = ? AND version = ?", listing.ID, listing.Version).
				Updates(map[string]any{"status": final, "version": listing.Version + 1})
			if result.Error != nil {
				return fmt.Errorf("[%s] Fail to update listing, err=%w", op, result.Error)
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("[%s] %w: listing %s version %d", op, auction.ErrConflict, listing.ID, listing.Version)
			}
			listing.Status = final
			listing.Version++
			return nil
		})
	})
	if err != nil {
		return models.Listing{}, err
	}
	return listing, nil
}

// ListBids 依出價時間由舊到新回傳一件商品的所有出價
func (s *Store) ListBids(ctx context.Context, listingID uuid.UUID) ([]models.Bid, error) {
	const op = "Store.ListBids"
	if _, err := s.GetListing(ctx, listingID); err != nil {
		return nil, err
	}
	var bids []models.Bid
	if result := s.db.WithContext(ctx).
		Where("listing_id = ?", listingID).
		Order("submitted_at ASC, id ASC").
		Find(&bids); result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to list bids, err=%w", op, result.Error)
	}
	return bids, nil
}

// CurrentPrice 回傳商品目前價格和狀態：有領先出價時是其有效金額，
// 否則是起標價。讀的是最後一次提交的結果，不會看到進行中的決標。
func (s *Store) CurrentPrice(ctx context.Context, listingID uuid.UUID) (int64, auction.Status, error) {
	listing, err := s.GetListing(ctx, listingID)
	if err != nil {
		return 0, "", err
	}
	return listing.CurrentPrice, listing.Status, nil
}

// GetOrder 取得商品結算後的訂單，尚未結算時回傳 ErrNotFound
func (s *Store) GetOrder(ctx context.Context, listingID uuid.UUID) (models.Order, error) {
	const op = "Store.GetOrder"
	var order models.Order
	if result := s.db.WithContext(ctx).First(&order, "listing_id = ?", listingID); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return models.Order{}, fmt.Errorf("[%s] %w: no order for listing %s", op, auction.ErrNotFound, listingID)
		}
		return models.Order{}, fmt.Errorf("[%s] Fail to find order, err=%w", op, result.Error)
	}
	return order, nil
}

// DueListings 回傳結標時間已到卻還在 active 的商品，供背景排程使用
func (s *Store) DueListings(ctx context.Context, now time.Time, limit int) ([]models.Listing, error) {
	const op = "Store.DueListings"
	var listings []models.Listing
	if result := s.db.WithContext(ctx).
		Where("status = ? AND closes_at <= ?", auction.StatusActive, now).
		Order("closes_at ASC").
		Limit(limit).
		Find(&listings); result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to list due listings, err=%w", op, result.Error)
	}
	return listings, nil
}
