package models

import (
	"time"

	"github.com/google/uuid"
)

// User 代表拍賣系統中的使用者
// 由身分服務寫入，這裡只讀取使用者名稱與錢包地址
type User struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey;<-:create"`
	Username      string    `gorm:"type:varchar(255);not null;<-:create"`
	WalletAddress string    `gorm:"type:varchar(128);not null;uniqueIndex"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
