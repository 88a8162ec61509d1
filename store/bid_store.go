package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"arbiter/models"
)

// BidStore 以 gorm 實作出價紀錄的存取
// 狀態轉移一律以 status 作為條件，不符合狀態機的更新不會影響任何資料列
type BidStore struct {
	db *gorm.DB
}

func (s *BidStore) Create(ctx context.Context, bid *models.Bid) error {
	const op = "BidStore.Create"
	if err := s.db.WithContext(ctx).Create(bid).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%s: txHash=%s: %w", op, bid.TransactionHash, ErrDuplicateTransactionHash)
		}
		return wrapError(op, err)
	}
	return nil
}

func (s *BidStore) Get(ctx context.Context, bidID uuid.UUID) (*models.Bid, error) {
	const op = "BidStore.Get"
	var bid models.Bid
	if err := s.db.WithContext(ctx).Where("id = ?", bidID).First(&bid).Error; err != nil {
		return nil, wrapError(op, err)
	}
	return &bid, nil
}

func (s *BidStore) GetByTransactionHash(ctx context.Context, txHash string) (*models.Bid, error) {
	const op = "BidStore.GetByTransactionHash"
	var bid models.Bid
	if err := s.db.WithContext(ctx).Where("transaction_hash = ?", txHash).First(&bid).Error; err != nil {
		return nil, wrapError(op, err)
	}
	return &bid, nil
}

func (s *BidStore) Highest(ctx context.Context, auctionID int64) (*models.Bid, error) {
	const op = "BidStore.Highest"
	var bid models.Bid
	err := s.db.WithContext(ctx).
		Where("auction_id = ? AND is_current_highest = ?", auctionID, true).
		First(&bid).Error
	if err != nil {
		return nil, wrapError(op, err)
	}
	return &bid, nil
}

func (s *BidStore) ListByAuction(ctx context.Context, auctionID int64) ([]models.Bid, error) {
	const op = "BidStore.ListByAuction"
	var bids []models.Bid
	err := s.db.WithContext(ctx).
		Where("auction_id = ?", auctionID).
		Order("created_at ASC").Order("id ASC").
		Find(&bids).Error
	if err != nil {
		return nil, wrapError(op, err)
	}
	return bids, nil
}

func (s *BidStore) ListRefundable(ctx context.Context, auctionID int64) ([]models.Bid, error) {
	const op = "BidStore.ListRefundable"
	var bids []models.Bid
	err := s.db.WithContext(ctx).
		Where("auction_id = ? AND status = ? AND is_refunded = ?", auctionID, models.BidStatusOutbid, false).
		Order("created_at ASC").Order("id ASC").
		Find(&bids).Error
	if err != nil {
		return nil, wrapError(op, err)
	}
	return bids, nil
}

func (s *BidStore) MarkWinning(ctx context.Context, bidID uuid.UUID, previousHighest, increment decimal.Decimal) error {
	return s.transition(ctx, "BidStore.MarkWinning", bidID, models.BidStatusWinning, map[string]any{
		"is_current_highest":   true,
		"previous_highest_bid": previousHighest,
		"bid_increment":        increment,
	})
}

func (s *BidStore) MarkOutbid(ctx context.Context, bidID uuid.UUID) error {
	return s.transition(ctx, "BidStore.MarkOutbid", bidID, models.BidStatusOutbid, map[string]any{
		"is_current_highest": false,
	})
}

func (s *BidStore) MarkWon(ctx context.Context, bidID uuid.UUID) error {
	return s.transition(ctx, "BidStore.MarkWon", bidID, models.BidStatusWon, map[string]any{
		"is_winning_bid": true,
	})
}

func (s *BidStore) MarkFailed(ctx context.Context, bidID uuid.UUID, reason string) error {
	return s.transition(ctx, "BidStore.MarkFailed", bidID, models.BidStatusFailed, map[string]any{
		"failure_reason": reason,
	})
}

func (s *BidStore) MarkVerified(ctx context.Context, txHash string, blockNumber uint64) (*models.Bid, error) {
	const op = "BidStore.MarkVerified"
	result := s.db.WithContext(ctx).Model(&models.Bid{}).
		Where("transaction_hash = ?", txHash).
		Updates(map[string]any{
			"verified":     true,
			"block_number": blockNumber,
		})
	if result.Error != nil {
		return nil, wrapError(op, result.Error)
	}
	return s.GetByTransactionHash(ctx, txHash)
}

func (s *BidStore) Refund(ctx context.Context, bidID uuid.UUID, record RefundRecord) (*models.Bid, error) {
	const op = "BidStore.Refund"
	result := s.db.WithContext(ctx).Model(&models.Bid{}).
		Where("id = ? AND status = ? AND is_refunded = ?", bidID, models.BidStatusOutbid, false).
		Updates(map[string]any{
			"status":         models.BidStatusRefunded,
			"is_refunded":    true,
			"refund_amount":  decimal.NewNullDecimal(record.Amount),
			"refunded_at":    record.At,
			"refund_tx_hash": record.TxHash,
		})
	if result.Error != nil {
		return nil, wrapError(op, result.Error)
	}
	bid, err := s.Get(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected == 0 {
		return bid, fmt.Errorf("%s: status=%s refunded=%t: %w", op, bid.Status, bid.IsRefunded, ErrInvalidTransition)
	}
	return bid, nil
}

func (s *BidStore) transition(ctx context.Context, op string, bidID uuid.UUID, to models.BidStatus, changes map[string]any) error {
	updates := map[string]any{"status": to}
	for column, value := range changes {
		updates[column] = value
	}
	result := s.db.WithContext(ctx).Model(&models.Bid{}).
		Where("id = ? AND status IN ?", bidID, models.PredecessorsOf(to)).
		Updates(updates)
	if result.Error != nil {
		return wrapError(op, result.Error)
	}
	if result.RowsAffected == 0 {
		bid, err := s.Get(ctx, bidID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%s: %s -> %s: %w", op, bid.Status, to, ErrInvalidTransition)
	}
	return nil
}
