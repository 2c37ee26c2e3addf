package api

import (
	"time"

	"github.com/google/uuid"
)

// BidEvent 是一筆被接受的出價對外廣播的內容。
// 金額是出價的有效金額，代理上限不會出現在這裡
type BidEvent struct {
	ListingID uuid.UUID `json:"listingId" msgpack:"listingId"`
	BidderID  uuid.UUID `json:"bidderId" msgpack:"bidderId"`
	Amount    int64     `json:"amount" msgpack:"amount"`
	Price     int64     `json:"price" msgpack:"price"`
	Time      time.Time `json:"time" msgpack:"time"`
}

// CloseRequest 是排進結標佇列的一筆工作
type CloseRequest struct {
	ListingID uuid.UUID `msgpack:"listingId"`
}
