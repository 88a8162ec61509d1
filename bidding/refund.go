package bidding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"arbiter/models"
	"arbiter/store"
)

type refundLedgerOptions struct {
	logger *slog.Logger
	clock  func() time.Time
}

type RefundLedgerOption func(*refundLedgerOptions)

// WithRefundLedgerLogger 設置日誌記錄器
func WithRefundLedgerLogger(logger *slog.Logger) RefundLedgerOption {
	return func(o *refundLedgerOptions) {
		o.logger = logger
	}
}

// WithRefundLedgerClock 設置時間來源
func WithRefundLedgerClock(clock func() time.Time) RefundLedgerOption {
	return func(o *refundLedgerOptions) {
		o.clock = clock
	}
}

// RefundLedger 記錄被超越的出價的退款
// 退款子紀錄只會寫入一次，之後的請求都回傳同一筆紀錄
type RefundLedger struct {
	repo    store.IRepository
	logger  *slog.Logger
	options refundLedgerOptions
}

// RefundOutcome 退款處理結果，AlreadyRefunded 表示這筆出價先前已經退款
type RefundOutcome struct {
	Bid             *models.Bid
	AlreadyRefunded bool
}

func NewRefundLedger(repo store.IRepository, opts ...RefundLedgerOption) (*RefundLedger, error) {
	if repo == nil {
		return nil, errors.New("repository cannot be nil")
	}
	options := refundLedgerOptions{
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &RefundLedger{
		repo:    repo,
		logger:  options.logger.With(slog.String("caller", "RefundLedger")),
		options: options,
	}, nil
}

// ListRefundable 列出拍賣中被超越且尚未退款的出價
func (l *RefundLedger) ListRefundable(ctx context.Context, auctionID int64) ([]models.Bid, error) {
	const op = "RefundLedger.ListRefundable"
	if _, err := l.repo.Auctions().Get(ctx, auctionID); err != nil {
		return nil, fmt.Errorf("[%s] Fail to get auction, err=%w", op, err)
	}
	bids, err := l.repo.Bids().ListRefundable(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to list refundable bids, err=%w", op, err)
	}
	return bids, nil
}

// ProcessRefund 記錄一筆退款
func (l *RefundLedger) ProcessRefund(ctx context.Context, req RefundRequest) (*RefundOutcome, error) {
	const op = "RefundLedger.ProcessRefund"
	bid, err := l.repo.Bids().Get(ctx, req.BidID)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to get bid, err=%w", op, err)
	}
	if bid.IsRefunded {
		return &RefundOutcome{Bid: bid, AlreadyRefunded: true}, nil
	}
	if !bid.IsRefundable() {
		return nil, fmt.Errorf("[%s] bidID=%s status=%s, err=%w", op, bid.ID, bid.Status, ErrNotEligible)
	}

	amount := req.Amount
	if amount.IsZero() {
		amount = bid.BidAmount
	}
	if amount.IsNegative() || amount.GreaterThan(bid.BidAmount) {
		return nil, fmt.Errorf("[%s] amount=%s bidAmount=%s, err=%w", op, amount, bid.BidAmount, ErrInvalidRefundAmount)
	}
	if err := validateAmount("refund amount", amount); err != nil {
		return nil, fmt.Errorf("[%s] %v, err=%w", op, err, ErrInvalidRefundAmount)
	}

	refunded, err := l.repo.Bids().Refund(ctx, bid.ID, store.RefundRecord{
		Amount: amount,
		TxHash: req.TxHash,
		At:     l.options.clock().UTC().Truncate(time.Microsecond),
	})
	if err != nil {
		// 併發的退款請求先完成了
		if errors.Is(err, store.ErrInvalidTransition) && refunded != nil && refunded.IsRefunded {
			return &RefundOutcome{Bid: refunded, AlreadyRefunded: true}, nil
		}
		return nil, fmt.Errorf("[%s] Fail to refund bid, err=%w", op, err)
	}

	l.logger.Info("Bid refunded",
		slog.String("bidID", bid.ID.String()),
		slog.Int64("auctionID", bid.AuctionID),
		slog.String("amount", amount.String()))
	return &RefundOutcome{Bid: refunded}, nil
}
