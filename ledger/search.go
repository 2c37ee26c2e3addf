package ledger

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"gavel/auction"
	"gavel/models"
)

// SearchQuery 是商品搜尋的條件
type SearchQuery struct {
	Title        string
	PriceFrom    *int64
	PriceTo      *int64
	ExcludeEnded bool
	SortKey      string
	Desc         bool
	Limit        int
}

// sortColumns 是允許排序的欄位白名單，查詢條件不允許拼進SQL
var sortColumns = map[string]string{
	"title":        "title",
	"opensAt":      "opens_at",
	"closesAt":     "closes_at",
	"currentPrice": "current_price",
	"startPrice":   "starting_price",
}

// SearchListings 依條件搜尋商品，結果以排序鍵加上 id 穩定排序
func (s *Store) SearchListings(ctx context.Context, q SearchQuery) ([]models.Listing, error) {
	const op = "Store.SearchListings"

	query := s.db.WithContext(ctx).Model(&models.Listing{})
	if q.Title != "" {
		query = query.Where("title LIKE ?", "%"+q.Title+"%")
	}
	if q.PriceFrom != nil {
		query = query.Where("current_price >= ?", *q.PriceFrom)
	}
	if q.PriceTo != nil {
		query = query.Where("current_price <= ?", *q.PriceTo)
	}
	if q.ExcludeEnded {
		query = query.Where("status IN ?", []auction.Status{auction.StatusDraft, auction.StatusActive}).
			Where("closes_at > ?", time.Now().UTC())
	}

	sortKey := "closes_at"
	if q.SortKey != "" {
		column, ok := sortColumns[q.SortKey]
		if !ok {
			return nil, fmt.Errorf("[%s] %w: invalid sort key %q", op, auction.ErrInvalidInput, q.SortKey)
		}
		sortKey = column
	}
	query = query.Order(clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: sortKey}, Desc: q.Desc},
		{Column: clause.Column{Name: "id"}, Desc: false},
	}})

	limit := 20
	if q.Limit > 0 {
		limit = q.Limit
	}
	query = query.Limit(limit)

	var listings []models.Listing
	if result := query.Find(&listings); result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to search listings, err=%w", op, result.Error)
	}
	return listings, nil
}
