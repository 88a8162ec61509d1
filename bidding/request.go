package bidding

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// 金額欄位皆為 numeric(36,18)，超出範圍的金額在寫入前就拒絕
const amountScale = 18

var maxAmount = decimal.New(1, 36-amountScale)

// validateAmount 檢查金額能被完整寫入資料庫，不會被捨入或溢位
func validateAmount(name string, amount decimal.Decimal) error {
	if !amount.Truncate(amountScale).Equal(amount) {
		return fmt.Errorf("%w: %s %s has more than %d decimal places", ErrInvalidRequest, name, amount, amountScale)
	}
	if amount.Abs().GreaterThanOrEqual(maxAmount) {
		return fmt.Errorf("%w: %s %s is out of range", ErrInvalidRequest, name, amount)
	}
	return nil
}

// Bidder 由身分服務解析出的出價者資訊
type Bidder struct {
	UserID   uuid.UUID
	Address  string
	Username string
}

// BidRequest 一次出價請求，請使用 NewBidRequest 建立
type BidRequest struct {
	AuctionID       int64
	Bidder          Bidder
	Amount          decimal.Decimal
	TransactionHash string
	BlockNumber     uint64
}

// NewBidRequest 解析金額並檢查請求的格式
func NewBidRequest(auctionID int64, bidder Bidder, amount, txHash string, blockNumber uint64) (BidRequest, error) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return BidRequest{}, fmt.Errorf("%w: amount %q is not a decimal", ErrInvalidRequest, amount)
	}
	req := BidRequest{
		AuctionID:       auctionID,
		Bidder:          bidder,
		Amount:          parsed,
		TransactionHash: strings.TrimSpace(txHash),
		BlockNumber:     blockNumber,
	}
	if err := req.Validate(); err != nil {
		return BidRequest{}, err
	}
	return req, nil
}

func (r BidRequest) Validate() error {
	switch {
	case r.AuctionID <= 0:
		return fmt.Errorf("%w: auction id must be positive", ErrInvalidRequest)
	case !r.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	case r.TransactionHash == "":
		return fmt.Errorf("%w: transaction hash is required", ErrInvalidRequest)
	case r.Bidder.Address == "":
		return fmt.Errorf("%w: bidder address is required", ErrInvalidRequest)
	}
	return validateAmount("amount", r.Amount)
}

// CreateAuctionRequest 建立拍賣所需的條件
type CreateAuctionRequest struct {
	AuctionID       int64
	Title           string
	Description     string
	StartingPrice   decimal.Decimal
	ReservePrice    decimal.Decimal
	MinBidIncrement decimal.Decimal
	StartTime       time.Time
	EndTime         time.Time
	Seller          Bidder
}

func (r CreateAuctionRequest) Validate(now time.Time) error {
	switch {
	case r.AuctionID <= 0:
		return fmt.Errorf("%w: auction id must be positive", ErrInvalidRequest)
	case strings.TrimSpace(r.Title) == "":
		return fmt.Errorf("%w: title is required", ErrInvalidRequest)
	case r.StartingPrice.IsNegative(), r.ReservePrice.IsNegative(), r.MinBidIncrement.IsNegative():
		return fmt.Errorf("%w: prices must not be negative", ErrInvalidRequest)
	case !r.EndTime.After(r.StartTime):
		return fmt.Errorf("%w: end time must be after start time", ErrInvalidRequest)
	case !r.EndTime.After(now):
		return fmt.Errorf("%w: end time must be in the future", ErrInvalidRequest)
	case r.Seller.Address == "":
		return fmt.Errorf("%w: seller address is required", ErrInvalidRequest)
	}
	for name, amount := range map[string]decimal.Decimal{
		"starting price":    r.StartingPrice,
		"reserve price":     r.ReservePrice,
		"min bid increment": r.MinBidIncrement,
	} {
		if err := validateAmount(name, amount); err != nil {
			return err
		}
	}
	return nil
}

// RefundRequest 退款請求，Amount 為零時退還完整出價金額
type RefundRequest struct {
	BidID  uuid.UUID
	Amount decimal.Decimal
	TxHash string
}
