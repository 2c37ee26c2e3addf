package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User 代表市集中的使用者
// 註冊、認證和個人資料都由外部系統負責，這裡只保留
// 出價和商品需要參照的最小欄位
type User struct {
	gorm.Model

	ID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	Username string    `gorm:"type:varchar(255);not null;<-:create"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.Must(uuid.NewV7())
	}
	return nil
}
