package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"arbiter/bidding"
	"arbiter/models"
)

// IEngine Applier 需要的拍賣引擎操作
type IEngine interface {
	ActivateAuction(ctx context.Context, auctionID int64, txHash string) (*models.Auction, error)
	ConfirmBid(ctx context.Context, txHash string, blockNumber uint64) (*models.Bid, error)
	RejectBid(ctx context.Context, txHash string, reason string) (*models.Bid, error)
	GetBidByTransactionHash(ctx context.Context, txHash string) (*models.Bid, error)
	EndAuction(ctx context.Context, auctionID int64) (*models.Auction, error)
}

// IRefundLedger Applier 需要的退款操作
type IRefundLedger interface {
	ProcessRefund(ctx context.Context, req bidding.RefundRequest) (*bidding.RefundOutcome, error)
}

type applierOptions struct {
	logger *slog.Logger
}

type ApplierOption func(*applierOptions)

// WithApplierLogger 設置日誌記錄器
func WithApplierLogger(logger *slog.Logger) ApplierOption {
	return func(o *applierOptions) {
		o.logger = logger
	}
}

// Applier 將結算層的確認套用到拍賣引擎與退款帳本
type Applier struct {
	engine IEngine
	ledger IRefundLedger
	logger *slog.Logger
}

func NewApplier(engine IEngine, ledger IRefundLedger, opts ...ApplierOption) (*Applier, error) {
	if engine == nil {
		return nil, errors.New("engine cannot be nil")
	}
	if ledger == nil {
		return nil, errors.New("refund ledger cannot be nil")
	}

	// 默認選項
	options := applierOptions{
		logger: slog.Default(),
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Applier{
		engine: engine,
		ledger: ledger,
		logger: options.logger.With(slog.String("caller", "Applier")),
	}, nil
}

// Apply 套用一筆確認，重複套用相同的確認不會改變結果
func (a *Applier) Apply(ctx context.Context, c Confirmation) error {
	const op = "Applier.Apply"
	if err := c.Validate(); err != nil {
		return fmt.Errorf("[%s] %w", op, err)
	}
	logger := a.logger.With(slog.String("kind", string(c.Kind)), slog.Int64("auctionID", c.AuctionID))

	switch c.Kind {
	case KindAuctionActivated:
		if _, err := a.engine.ActivateAuction(ctx, c.AuctionID, c.TxHash); err != nil {
			return fmt.Errorf("[%s] Fail to activate auction, err=%w", op, err)
		}
	case KindBidConfirmed:
		if _, err := a.engine.ConfirmBid(ctx, c.TxHash, c.BlockNumber); err != nil {
			if errors.Is(err, bidding.ErrNotFound) {
				return fmt.Errorf("[%s] txHash=%s, err=%w", op, c.TxHash, ErrBidNotRecorded)
			}
			return fmt.Errorf("[%s] Fail to confirm bid, err=%w", op, err)
		}
	case KindBidReverted:
		reason := c.Reason
		if reason == "" {
			reason = "Reverted"
		}
		if _, err := a.engine.RejectBid(ctx, c.BidTxHash, reason); err != nil {
			return fmt.Errorf("[%s] Fail to reject bid, err=%w", op, err)
		}
	case KindRefundConfirmed:
		bid, err := a.engine.GetBidByTransactionHash(ctx, c.BidTxHash)
		if err != nil {
			return fmt.Errorf("[%s] Fail to get bid, err=%w", op, err)
		}
		outcome, err := a.ledger.ProcessRefund(ctx, bidding.RefundRequest{
			BidID:  bid.ID,
			Amount: c.Amount,
			TxHash: c.TxHash,
		})
		if err != nil {
			return fmt.Errorf("[%s] Fail to process refund, err=%w", op, err)
		}
		if outcome.AlreadyRefunded {
			logger.Debug("Refund already recorded", slog.String("bidID", bid.ID.String()))
		}
	case KindAuctionSettled:
		if _, err := a.engine.EndAuction(ctx, c.AuctionID); err != nil {
			return fmt.Errorf("[%s] Fail to finalize auction, err=%w", op, err)
		}
	}

	logger.Debug("Confirmation applied", slog.String("txHash", c.TxHash))
	return nil
}

// IsPermanent 判斷錯誤是否重試也不會成功，這類訊息應該直接轉入死信佇列
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, bidding.ErrStoreUnavailable) || errors.Is(err, ErrBidNotRecorded) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrInvalidConfirmation) ||
		errors.Is(err, bidding.ErrNotFound) ||
		errors.Is(err, bidding.ErrInvalidTransition) ||
		errors.Is(err, bidding.ErrNotEligible) ||
		errors.Is(err, bidding.ErrInvalidRefundAmount)
}
