package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"arbiter/models"
)

// HighestBid 寫入拍賣摘要的最高出價資訊
type HighestBid struct {
	BidID          uuid.UUID
	Amount         decimal.Decimal
	BidderAddress  string
	BidderUserID   uuid.UUID
	BidderUsername string
	At             time.Time
}

// RefundRecord 退款子紀錄，寫入後不可再修改
type RefundRecord struct {
	Amount decimal.Decimal
	TxHash string
	At     time.Time
}

// ListFilter 拍賣列表的查詢條件
type ListFilter struct {
	Status *models.AuctionStatus
	Limit  int
	Offset int
}

// IAuctionStore 定義了拍賣資料的存取介面
type IAuctionStore interface {
	Create(ctx context.Context, auction *models.Auction) error
	Get(ctx context.Context, auctionID int64) (*models.Auction, error)
	List(ctx context.Context, filter ListFilter) ([]models.Auction, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Auction, error)
	// TrySetHighest 只有在 current_price 仍等於 expectedPreviousPrice 且拍賣仍可出價時才會寫入
	TrySetHighest(ctx context.Context, auctionID int64, highest HighestBid, expectedPreviousPrice decimal.Decimal) (*models.Auction, error)
	ExtendEndTime(ctx context.Context, auctionID int64, newEndTime time.Time) (*models.Auction, bool, error)
	Transition(ctx context.Context, auctionID int64, to models.AuctionStatus, changes map[string]any) (*models.Auction, error)
	Expire(ctx context.Context, auctionID int64, now time.Time) (*models.Auction, bool, error)
	Cancel(ctx context.Context, auctionID int64) (*models.Auction, error)
}

// IBidStore 定義了出價紀錄的存取介面
type IBidStore interface {
	Create(ctx context.Context, bid *models.Bid) error
	Get(ctx context.Context, bidID uuid.UUID) (*models.Bid, error)
	GetByTransactionHash(ctx context.Context, txHash string) (*models.Bid, error)
	Highest(ctx context.Context, auctionID int64) (*models.Bid, error)
	ListByAuction(ctx context.Context, auctionID int64) ([]models.Bid, error)
	ListRefundable(ctx context.Context, auctionID int64) ([]models.Bid, error)
	MarkWinning(ctx context.Context, bidID uuid.UUID, previousHighest, increment decimal.Decimal) error
	MarkOutbid(ctx context.Context, bidID uuid.UUID) error
	MarkWon(ctx context.Context, bidID uuid.UUID) error
	MarkFailed(ctx context.Context, bidID uuid.UUID, reason string) error
	MarkVerified(ctx context.Context, txHash string, blockNumber uint64) (*models.Bid, error)
	Refund(ctx context.Context, bidID uuid.UUID, record RefundRecord) (*models.Bid, error)
}

// IUserStore 定義了使用者目錄的讀取介面
type IUserStore interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

// IRepository 將各個 store 組合在一起，並提供交易
type IRepository interface {
	Auctions() IAuctionStore
	Bids() IBidStore
	Users() IUserStore
	// Transaction 在同一個資料庫交易中執行 fn，fn 回傳錯誤時整個交易回滾
	Transaction(ctx context.Context, fn func(tx IRepository) error) error
	Ping(ctx context.Context) error
}
