package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"arbiter/models"
)

// AuctionStore 以 gorm 實作拍賣資料的存取
// 所有會改變拍賣狀態的操作都是單一條件式 UPDATE，由資料庫保證原子性
type AuctionStore struct {
	db *gorm.DB
}

func (s *AuctionStore) Create(ctx context.Context, auction *models.Auction) error {
	const op = "AuctionStore.Create"
	if err := s.db.WithContext(ctx).Create(auction).Error; err != nil {
		return wrapError(op, err)
	}
	return nil
}

func (s *AuctionStore) Get(ctx context.Context, auctionID int64) (*models.Auction, error) {
	const op = "AuctionStore.Get"
	var auction models.Auction
	if err := s.db.WithContext(ctx).Where("auction_id = ?", auctionID).First(&auction).Error; err != nil {
		return nil, wrapError(op, err)
	}
	return &auction, nil
}

func (s *AuctionStore) List(ctx context.Context, filter ListFilter) ([]models.Auction, error) {
	const op = "AuctionStore.List"
	query := s.db.WithContext(ctx).Model(&models.Auction{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	var auctions []models.Auction
	if err := query.Order("auction_id DESC").Find(&auctions).Error; err != nil {
		return nil, wrapError(op, err)
	}
	return auctions, nil
}

func (s *AuctionStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Auction, error) {
	const op = "AuctionStore.ListExpired"
	var auctions []models.Auction
	err := s.db.WithContext(ctx).
		Where("status = ? AND end_time <= ?", models.AuctionStatusActive, now).
		Order("end_time ASC").
		Limit(limit).
		Find(&auctions).Error
	if err != nil {
		return nil, wrapError(op, err)
	}
	return auctions, nil
}

func (s *AuctionStore) TrySetHighest(ctx context.Context, auctionID int64, highest HighestBid, expectedPreviousPrice decimal.Decimal) (*models.Auction, error) {
	const op = "AuctionStore.TrySetHighest"
	result := s.db.WithContext(ctx).Model(&models.Auction{}).
		Where("auction_id = ? AND status = ? AND current_price = ? AND end_time > ?",
			auctionID, models.AuctionStatusActive, expectedPreviousPrice, highest.At).
		Updates(map[string]any{
			"current_price":        highest.Amount,
			"current_bid_id":       highest.BidID,
			"bid_count":            gorm.Expr("bid_count + 1"),
			"last_bid_time":        highest.At,
			"last_bidder_address":  highest.BidderAddress,
			"last_bidder_user_id":  highest.BidderUserID,
			"last_bidder_username": highest.BidderUsername,
		})
	if result.Error != nil {
		return nil, wrapError(op, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%s: auctionID=%d: %w", op, auctionID, ErrConflict)
	}
	return s.Get(ctx, auctionID)
}

func (s *AuctionStore) ExtendEndTime(ctx context.Context, auctionID int64, newEndTime time.Time) (*models.Auction, bool, error) {
	const op = "AuctionStore.ExtendEndTime"
	result := s.db.WithContext(ctx).Model(&models.Auction{}).
		Where("auction_id = ? AND status = ? AND end_time < ?", auctionID, models.AuctionStatusActive, newEndTime).
		Updates(map[string]any{
			"end_time":        newEndTime,
			"time_extensions": gorm.Expr("time_extensions + 1"),
		})
	if result.Error != nil {
		return nil, false, wrapError(op, result.Error)
	}
	auction, err := s.Get(ctx, auctionID)
	if err != nil {
		return nil, false, err
	}
	return auction, result.RowsAffected > 0, nil
}

func (s *AuctionStore) Transition(ctx context.Context, auctionID int64, to models.AuctionStatus, changes map[string]any) (*models.Auction, error) {
	const op = "AuctionStore.Transition"
	updates := map[string]any{"status": to}
	for column, value := range changes {
		updates[column] = value
	}
	result := s.db.WithContext(ctx).Model(&models.Auction{}).
		Where("auction_id = ? AND status IN ?", auctionID, models.AuctionPredecessorsOf(to)).
		Updates(updates)
	if result.Error != nil {
		return nil, wrapError(op, result.Error)
	}
	auction, err := s.Get(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected == 0 {
		return auction, fmt.Errorf("%s: %s -> %s: %w", op, auction.Status, to, ErrInvalidTransition)
	}
	return auction, nil
}

func (s *AuctionStore) Expire(ctx context.Context, auctionID int64, now time.Time) (*models.Auction, bool, error) {
	const op = "AuctionStore.Expire"
	result := s.db.WithContext(ctx).Model(&models.Auction{}).
		Where("auction_id = ? AND status = ? AND end_time <= ?", auctionID, models.AuctionStatusActive, now).
		Update("status", models.AuctionStatusEnded)
	if result.Error != nil {
		return nil, false, wrapError(op, result.Error)
	}
	auction, err := s.Get(ctx, auctionID)
	if err != nil {
		return nil, false, err
	}
	return auction, result.RowsAffected > 0, nil
}

func (s *AuctionStore) Cancel(ctx context.Context, auctionID int64) (*models.Auction, error) {
	const op = "AuctionStore.Cancel"
	result := s.db.WithContext(ctx).Model(&models.Auction{}).
		Where("auction_id = ? AND status IN ? AND bid_count = 0 AND current_bid_id IS NULL",
			auctionID, models.AuctionPredecessorsOf(models.AuctionStatusCancelled)).
		Update("status", models.AuctionStatusCancelled)
	if result.Error != nil {
		return nil, wrapError(op, result.Error)
	}
	auction, err := s.Get(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected == 0 {
		return auction, fmt.Errorf("%s: status=%s bids=%d: %w", op, auction.Status, auction.BidCount, ErrInvalidTransition)
	}
	return auction, nil
}
