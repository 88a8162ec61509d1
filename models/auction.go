package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Auction 代表一場有時間限制的拍賣
// 包含經濟條件、時間設定、目前最高出價的摘要以及賣家資訊
type Auction struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;<-:create"`
	AuctionID int64     `gorm:"uniqueIndex;not null;<-:create"`

	Title       string `gorm:"type:varchar(255);not null;<-:create"`
	Description string `gorm:"type:text;not null;<-:create"`

	StartingPrice   decimal.Decimal `gorm:"type:numeric(36,18);not null;<-:create"`
	ReservePrice    decimal.Decimal `gorm:"type:numeric(36,18);not null;<-:create"`
	MinBidIncrement decimal.Decimal `gorm:"type:numeric(36,18);not null;<-:create"`

	StartTime      time.Time     `gorm:"not null;<-:create"`
	EndTime        time.Time     `gorm:"not null;index"`
	Duration       time.Duration `gorm:"not null;<-:create"`
	TimeExtensions int           `gorm:"not null;default:0"`

	Status       AuctionStatus   `gorm:"type:varchar(16);not null;index"`
	CurrentPrice decimal.Decimal `gorm:"type:numeric(36,18);not null;default:0"`
	CurrentBidID *uuid.UUID      `gorm:"type:uuid"`
	BidCount     int64           `gorm:"not null;default:0"`
	LastBidTime  *time.Time

	LastBidderAddress  string     `gorm:"type:varchar(128)"`
	LastBidderUserID   *uuid.UUID `gorm:"type:uuid"`
	LastBidderUsername string     `gorm:"type:varchar(255)"`

	SellerAddress  string    `gorm:"type:varchar(128);not null;<-:create"`
	SellerUserID   uuid.UUID `gorm:"type:uuid;not null;<-:create"`
	SellerUsername string    `gorm:"type:varchar(255);not null;<-:create"`

	ActivationTxHash string `gorm:"type:varchar(128)"`
	FinalizedAt      *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a *Auction) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		a.ID = id
	}
	return nil
}

// HasBids 是否已經有出價成功寫入
func (a *Auction) HasBids() bool {
	return a.CurrentBidID != nil
}

// Floor 下一筆出價必須超過的基準價格
func (a *Auction) Floor() decimal.Decimal {
	if a.HasBids() {
		return a.CurrentPrice
	}
	return a.StartingPrice
}

// IsExpired 拍賣仍為 active 但已經超過結束時間
func (a *Auction) IsExpired(now time.Time) bool {
	return a.Status == AuctionStatusActive && !now.Before(a.EndTime)
}
