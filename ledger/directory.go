package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"gavel/models"
)

// UserDirectory 以 users 表實作使用者目錄的最小合約。
// 註冊和認證屬於外部系統，核心只需要在決標前確認賣家和買家存在。
type UserDirectory struct {
	db *gorm.DB
}

func NewUserDirectory(db *gorm.DB) *UserDirectory {
	return &UserDirectory{db: db}
}

// UserExists 回報指定的使用者是否存在
func (d *UserDirectory) UserExists(ctx context.Context, id uuid.UUID) (bool, error) {
	const op = "UserDirectory.UserExists"
	var count int64
	if result := d.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Count(&count); result.Error != nil {
		return false, fmt.Errorf("[%s] Fail to count users, err=%w", op, result.Error)
	}
	return count > 0, nil
}
