package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"gavel/auction"
)

// Bid 代表拍賣商品的一筆出價紀錄
// 出價一旦寫入就不會刪除；Superseded 和 EffectiveAmount 以外的欄位
// 都是不可變的。MaxProxy 是代理出價的上限，永遠不會出現在任何回應
// 或事件中
type Bid struct {
	gorm.Model

	ID              uuid.UUID       `gorm:"type:uuid;primaryKey"`
	ListingID       uuid.UUID       `gorm:"type:uuid;not null;index;<-:create"`
	BidderID        uuid.UUID       `gorm:"type:uuid;not null;<-:create"`
	Kind            auction.BidKind `gorm:"type:varchar(8);not null;<-:create"`
	Amount          int64           `gorm:"type:bigint;not null;<-:create"`
	MaxProxy        *int64          `gorm:"type:bigint;<-:create"`
	EffectiveAmount int64           `gorm:"type:bigint;not null"`
	Superseded      bool            `gorm:"not null;default:false"`
	SubmittedAt     time.Time       `gorm:"not null;index;<-:create"`

	// 外鍵關聯
	Bidder  User    `gorm:"foreignKey:BidderID"`
	Listing Listing `gorm:"foreignKey:ListingID"`
}

func (b *Bid) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.Must(uuid.NewV7())
	}
	return nil
}

// Limit 回傳這筆出價能推進到的最高金額
func (b *Bid) Limit() int64 {
	if b.Kind == auction.BidKindProxy && b.MaxProxy != nil {
		return *b.MaxProxy
	}
	return b.Amount
}
