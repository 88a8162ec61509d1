package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Bid 代表對某場拍賣的一次出價
// TransactionHash 為冪等鍵，每筆結算交易只會對應一筆出價紀錄
type Bid struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey;<-:create"`
	AuctionID       int64     `gorm:"not null;index;uniqueIndex:idx_bids_current_highest,where:is_current_highest = true;<-:create"`
	TransactionHash string    `gorm:"type:varchar(128);not null;uniqueIndex;<-:create"`
	BlockNumber     uint64    `gorm:"not null;default:0"`

	BidAmount          decimal.Decimal `gorm:"type:numeric(36,18);not null;<-:create"`
	PreviousHighestBid decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	BidIncrement       decimal.Decimal `gorm:"type:numeric(36,18);not null"`

	Status           BidStatus `gorm:"type:varchar(16);not null;index"`
	IsCurrentHighest bool      `gorm:"not null;default:false"`
	IsWinningBid     bool      `gorm:"not null;default:false"`
	Verified         bool      `gorm:"not null;default:false"`
	FailureReason    string    `gorm:"type:varchar(64)"`

	IsRefunded   bool                `gorm:"not null;default:false"`
	RefundAmount decimal.NullDecimal `gorm:"type:numeric(36,18)"`
	RefundedAt   *time.Time
	RefundTxHash string `gorm:"type:varchar(128)"`

	BidderAddress  string    `gorm:"type:varchar(128);not null;index;<-:create"`
	BidderUserID   uuid.UUID `gorm:"type:uuid;not null;<-:create"`
	BidderUsername string    `gorm:"type:varchar(255);not null;<-:create"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (b *Bid) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// IsRefundable 被超越且尚未退款的出價
func (b *Bid) IsRefundable() bool {
	return b.Status == BidStatusOutbid && !b.IsRefunded
}
