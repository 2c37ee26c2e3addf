package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"gavel/auction"
)

// Listing 代表市集中的一件拍賣商品
// 除了商品資訊和拍賣時間窗之外，還以反正規化的方式記錄目前的
// 領先出價和價格，並帶一個版本號供樂觀鎖比對
type Listing struct {
	gorm.Model

	ID            uuid.UUID      `gorm:"type:uuid;primaryKey"`
	SellerID      uuid.UUID      `gorm:"type:uuid;not null;<-:create"`
	Title         string         `gorm:"type:varchar(255);not null;<-:create"`
	Description   string         `gorm:"type:text;not null;<-:create"`
	StartingPrice int64          `gorm:"type:bigint;not null;<-:create"`
	Increment     int64          `gorm:"type:bigint;not null;<-:create"`
	Status        auction.Status `gorm:"type:varchar(16);not null;index"`
	OpensAt       time.Time      `gorm:"not null"`
	ClosesAt      time.Time      `gorm:"not null;index"`
	CurrentBidID  *uuid.UUID     `gorm:"type:uuid"`
	CurrentPrice  int64          `gorm:"type:bigint;not null"`
	Version       uint64         `gorm:"type:bigint;not null;default:0"`

	// 外鍵關聯
	Seller     User `gorm:"foreignKey:SellerID"`
	CurrentBid *Bid `gorm:"foreignKey:CurrentBidID"`
	Bids       []Bid
}

func (l *Listing) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.Must(uuid.NewV7())
	}
	return nil
}
