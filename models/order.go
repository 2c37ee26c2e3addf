package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Order 是商品結標後由得標出價產生的結算紀錄
// listing_id 上的唯一性限制保證一件商品最多只會產生一張訂單，
// 付款和出貨由外部系統接手
type Order struct {
	gorm.Model

	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	ListingID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex;<-:create"`
	BuyerID    uuid.UUID `gorm:"type:uuid;not null;<-:create"`
	SellerID   uuid.UUID `gorm:"type:uuid;not null;<-:create"`
	FinalPrice int64     `gorm:"type:bigint;not null;<-:create"`

	// 外鍵關聯
	Listing Listing `gorm:"foreignKey:ListingID"`
	Buyer   User    `gorm:"foreignKey:BuyerID"`
	Seller  User    `gorm:"foreignKey:SellerID"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.Must(uuid.NewV7())
	}
	return nil
}
