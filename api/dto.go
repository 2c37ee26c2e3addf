package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"gavel/auction"
	"gavel/models"
)

// CreateListingRequest 是新增商品的請求內容。
// Increment 省略時使用全域預設的加價幅度
type CreateListingRequest struct {
	SellerID      uuid.UUID `json:"sellerId" binding:"required"`
	Title         string    `json:"title" binding:"required"`
	Description   string    `json:"description"`
	StartingPrice int64     `json:"startingPrice" binding:"required"`
	Increment     *int64    `json:"increment"`
	OpensAt       time.Time `json:"opensAt" binding:"required"`
	ClosesAt      time.Time `json:"closesAt" binding:"required"`
}

// PlaceBidRequest 是出價的請求內容，MaxProxy 不為 nil 時代表代理出價
type PlaceBidRequest struct {
	BidderID uuid.UUID `json:"bidderId" binding:"required"`
	Amount   int64     `json:"amount" binding:"required"`
	MaxProxy *int64    `json:"maxProxy"`
}

// ListingView 是商品對外的完整表示
type ListingView struct {
	ID            uuid.UUID      `json:"id"`
	SellerID      uuid.UUID      `json:"sellerId"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	StartingPrice int64          `json:"startingPrice"`
	Increment     int64          `json:"increment"`
	Status        auction.Status `json:"status"`
	OpensAt       time.Time      `json:"opensAt"`
	ClosesAt      time.Time      `json:"closesAt"`
	CurrentPrice  int64          `json:"currentPrice"`
	Bids          []BidView      `json:"bids,omitempty"`
}

// BidView 是出價對外的表示，代理上限永遠不會出現在這裡
type BidView struct {
	ID              uuid.UUID       `json:"id"`
	ListingID       uuid.UUID       `json:"listingId"`
	BidderID        uuid.UUID       `json:"bidderId"`
	Kind            auction.BidKind `json:"kind"`
	Amount          int64           `json:"amount"`
	EffectiveAmount int64           `json:"effectiveAmount"`
	Superseded      bool            `json:"superseded"`
	SubmittedAt     time.Time       `json:"submittedAt"`
}

// OrderView 是結算訂單對外的表示
type OrderView struct {
	ID         uuid.UUID `json:"id"`
	ListingID  uuid.UUID `json:"listingId"`
	BuyerID    uuid.UUID `json:"buyerId"`
	SellerID   uuid.UUID `json:"sellerId"`
	FinalPrice int64     `json:"finalPrice"`
	CreatedAt  time.Time `json:"createdAt"`
}

// PriceView 是目前價格查詢的回應
type PriceView struct {
	Price  int64          `json:"price"`
	Status auction.Status `json:"status"`
}

// SearchResult 是商品搜尋的回應
type SearchResult struct {
	Count int           `json:"count"`
	Items []ListingView `json:"items"`
}

// ErrorResponse 是所有失敗回應的共同格式。
// 和出價相關的拒絕會帶上商品目前的價格和狀態
type ErrorResponse struct {
	Message      string          `json:"message"`
	Retryable    bool            `json:"retryable,omitempty"`
	CurrentPrice *int64          `json:"currentPrice,omitempty"`
	Status       *auction.Status `json:"status,omitempty"`
}

func toListingView(listing models.Listing) ListingView {
	return ListingView{
		ID:            listing.ID,
		SellerID:      listing.SellerID,
		Title:         listing.Title,
		Description:   listing.Description,
		StartingPrice: listing.StartingPrice,
		Increment:     listing.Increment,
		Status:        listing.Status,
		OpensAt:       listing.OpensAt,
		ClosesAt:      listing.ClosesAt,
		CurrentPrice:  listing.CurrentPrice,
	}
}

func toBidView(bid models.Bid) BidView {
	return BidView{
		ID:              bid.ID,
		ListingID:       bid.ListingID,
		BidderID:        bid.BidderID,
		Kind:            bid.Kind,
		Amount:          bid.Amount,
		EffectiveAmount: bid.EffectiveAmount,
		Superseded:      bid.Superseded,
		SubmittedAt:     bid.SubmittedAt,
	}
}

func toBidViews(bids []models.Bid) []BidView {
	return lo.Map(bids, func(bid models.Bid, _ int) BidView {
		return toBidView(bid)
	})
}

func toOrderView(order models.Order) OrderView {
	return OrderView{
		ID:         order.ID,
		ListingID:  order.ListingID,
		BuyerID:    order.BuyerID,
		SellerID:   order.SellerID,
		FinalPrice: order.FinalPrice,
		CreatedAt:  order.CreatedAt,
	}
}
