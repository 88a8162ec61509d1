package settlement

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind 結算層回報的事件種類
type Kind string

const (
	KindAuctionActivated Kind = "auction_activated"
	KindBidConfirmed     Kind = "bid_confirmed"
	KindBidReverted      Kind = "bid_reverted"
	KindRefundConfirmed  Kind = "refund_confirmed"
	KindAuctionSettled   Kind = "auction_settled"
)

var (
	ErrInvalidConfirmation = errors.New("invalid confirmation")
	// ErrBidNotRecorded 出價確認比 HTTP 出價請求先到，稍後重試即可
	ErrBidNotRecorded = errors.New("bid not recorded yet")
)

// Confirmation 結算層對鏈上交易的確認
//
// TxHash 是這次確認對應的交易；BidTxHash 只在 bid_reverted 與 refund_confirmed 時使用，
// 指向原本出價的交易
type Confirmation struct {
	Kind        Kind            `msgpack:"kind" json:"kind"`
	AuctionID   int64           `msgpack:"auctionId" json:"auctionId"`
	TxHash      string          `msgpack:"txHash" json:"txHash"`
	BidTxHash   string          `msgpack:"bidTxHash,omitempty" json:"bidTxHash,omitempty"`
	BlockNumber uint64          `msgpack:"blockNumber" json:"blockNumber"`
	Amount      decimal.Decimal `msgpack:"amount" json:"amount"`
	Reason      string          `msgpack:"reason,omitempty" json:"reason,omitempty"`
	ObservedAt  time.Time       `msgpack:"observedAt" json:"observedAt"`
}

func (c Confirmation) Validate() error {
	switch c.Kind {
	case KindAuctionActivated, KindAuctionSettled:
		if c.AuctionID <= 0 {
			return fmt.Errorf("%w: %s requires an auction id", ErrInvalidConfirmation, c.Kind)
		}
	case KindBidConfirmed:
		if strings.TrimSpace(c.TxHash) == "" {
			return fmt.Errorf("%w: %s requires a transaction hash", ErrInvalidConfirmation, c.Kind)
		}
	case KindBidReverted, KindRefundConfirmed:
		if strings.TrimSpace(c.BidTxHash) == "" {
			return fmt.Errorf("%w: %s requires the bid transaction hash", ErrInvalidConfirmation, c.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidConfirmation, c.Kind)
	}
	if c.Amount.IsNegative() {
		return fmt.Errorf("%w: amount cannot be negative", ErrInvalidConfirmation)
	}
	return nil
}
