package bidding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"arbiter/models"
	"arbiter/store"
)

// CreateAuction 建立一場 pending 狀態的拍賣，等待結算層確認後才會開始
func (e *Engine) CreateAuction(ctx context.Context, req CreateAuctionRequest) (*models.Auction, error) {
	const op = "Engine.CreateAuction"
	now := e.now()
	if err := req.Validate(now); err != nil {
		return nil, err
	}
	auction := &models.Auction{
		AuctionID:       req.AuctionID,
		Title:           req.Title,
		Description:     req.Description,
		StartingPrice:   req.StartingPrice,
		ReservePrice:    req.ReservePrice,
		MinBidIncrement: req.MinBidIncrement,
		StartTime:       req.StartTime.UTC(),
		EndTime:         req.EndTime.UTC(),
		Duration:        req.EndTime.Sub(req.StartTime),
		Status:          models.AuctionStatusPending,
		CurrentPrice:    decimal.Zero,
		SellerAddress:   req.Seller.Address,
		SellerUserID:    req.Seller.UserID,
		SellerUsername:  req.Seller.Username,
	}
	if err := e.repo.Auctions().Create(ctx, auction); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("[%s] auctionID=%d, err=%w", op, req.AuctionID, ErrAuctionExists)
		}
		return nil, fmt.Errorf("[%s] Fail to create auction, err=%w", op, err)
	}
	e.logger.Info("Auction created", slog.Int64("auctionID", auction.AuctionID), slog.Time("endTime", auction.EndTime))
	return auction, nil
}

// GetAuction 讀取拍賣，已過結束時間的 active 拍賣會在讀取時轉為 ended
func (e *Engine) GetAuction(ctx context.Context, auctionID int64) (*models.Auction, error) {
	const op = "Engine.GetAuction"
	auction, err := e.repo.Auctions().Get(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to get auction, err=%w", op, err)
	}
	if now := e.now(); auction.IsExpired(now) {
		if auction, _, err = e.expire(ctx, auctionID, now); err != nil {
			return nil, fmt.Errorf("[%s] Fail to end expired auction, err=%w", op, err)
		}
	}
	return auction, nil
}

func (e *Engine) ListAuctions(ctx context.Context, filter store.ListFilter) ([]models.Auction, error) {
	const op = "Engine.ListAuctions"
	auctions, err := e.repo.Auctions().List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to list auctions, err=%w", op, err)
	}
	return auctions, nil
}

// ActivateAuction 結算層確認拍賣合約後，將拍賣從 pending 轉為 active
// 重複收到同一筆確認時直接回傳目前的拍賣
func (e *Engine) ActivateAuction(ctx context.Context, auctionID int64, txHash string) (*models.Auction, error) {
	const op = "Engine.ActivateAuction"
	auction, err := e.repo.Auctions().Transition(ctx, auctionID, models.AuctionStatusActive, map[string]any{
		"activation_tx_hash": txHash,
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) && auction != nil &&
			auction.Status != models.AuctionStatusPending && auction.ActivationTxHash == txHash && txHash != "" {
			return auction, nil
		}
		return nil, fmt.Errorf("[%s] Fail to activate auction, err=%w", op, err)
	}
	now := e.now()
	e.logger.Info("Auction activated", slog.Int64("auctionID", auctionID), slog.String("txHash", txHash))
	e.publish(newAuctionEvent(EventAuctionActivated, auction, now))
	return auction, nil
}

// CloseAuction 明確地結束拍賣，已經結束的拍賣不做任何事
func (e *Engine) CloseAuction(ctx context.Context, auctionID int64) (*models.Auction, error) {
	const op = "Engine.CloseAuction"
	auction, err := e.repo.Auctions().Transition(ctx, auctionID, models.AuctionStatusEnded, nil)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) && auction != nil && auction.Status.IsOver() {
			return auction, nil
		}
		return nil, fmt.Errorf("[%s] Fail to close auction, err=%w", op, err)
	}
	e.logger.Info("Auction closed", slog.Int64("auctionID", auctionID))
	e.publish(newAuctionEvent(EventAuctionEnded, auction, e.now()))
	return auction, nil
}

// CancelAuction 賣家在還沒有任何出價前取消拍賣
func (e *Engine) CancelAuction(ctx context.Context, auctionID int64, requester Bidder) (*models.Auction, error) {
	const op = "Engine.CancelAuction"
	auction, err := e.repo.Auctions().Get(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to get auction, err=%w", op, err)
	}
	if requester.UserID != auction.SellerUserID {
		return nil, fmt.Errorf("[%s] auctionID=%d, err=%w", op, auctionID, ErrNotSeller)
	}
	if auction.Status == models.AuctionStatusCancelled {
		return auction, nil
	}
	if !auction.Status.CanTransitionTo(models.AuctionStatusCancelled) {
		return nil, fmt.Errorf("[%s] auctionID=%d status=%s, err=%w", op, auctionID, auction.Status, ErrInvalidTransition)
	}
	if auction.HasBids() {
		return nil, fmt.Errorf("[%s] auctionID=%d, err=%w", op, auctionID, ErrAuctionHasBids)
	}

	cancelled, err := e.repo.Auctions().Cancel(ctx, auctionID)
	if err != nil {
		// 讀取之後才有出價提交
		if errors.Is(err, store.ErrInvalidTransition) && cancelled != nil && cancelled.HasBids() {
			return nil, fmt.Errorf("[%s] auctionID=%d, err=%w", op, auctionID, ErrAuctionHasBids)
		}
		return nil, fmt.Errorf("[%s] Fail to cancel auction, err=%w", op, err)
	}
	e.logger.Info("Auction cancelled", slog.Int64("auctionID", auctionID))
	e.publish(newAuctionEvent(EventAuctionCancelled, cancelled, e.now()))
	return cancelled, nil
}

// EndAuction 在拍賣結束後記錄得標者並將拍賣轉為 finalized
// 已經 finalized 的拍賣直接回傳，不會重複處理
func (e *Engine) EndAuction(ctx context.Context, auctionID int64) (*models.Auction, error) {
	const op = "Engine.EndAuction"
	now := e.now()
	auction, err := e.repo.Auctions().Get(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to get auction, err=%w", op, err)
	}
	if auction.Status == models.AuctionStatusFinalized {
		return auction, nil
	}
	if auction.IsExpired(now) {
		if auction, _, err = e.expire(ctx, auctionID, now); err != nil {
			return nil, fmt.Errorf("[%s] Fail to end expired auction, err=%w", op, err)
		}
	}
	if !auction.Status.CanTransitionTo(models.AuctionStatusFinalized) {
		return nil, fmt.Errorf("[%s] auctionID=%d status=%s, err=%w", op, auctionID, auction.Status, ErrAuctionNotEnded)
	}

	var winner *models.Bid
	err = e.repo.Transaction(ctx, func(tx store.IRepository) error {
		highest, err := tx.Bids().Highest(ctx, auctionID)
		switch {
		case err == nil:
			if err := tx.Bids().MarkWon(ctx, highest.ID); err != nil {
				return err
			}
			winner = highest
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		finalized, err := tx.Auctions().Transition(ctx, auctionID, models.AuctionStatusFinalized, map[string]any{
			"finalized_at": now,
		})
		if err != nil {
			return err
		}
		auction = finalized
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// 另一個請求已經完成 finalize
			current, getErr := e.repo.Auctions().Get(ctx, auctionID)
			if getErr == nil && current.Status == models.AuctionStatusFinalized {
				return current, nil
			}
		}
		return nil, fmt.Errorf("[%s] Fail to finalize auction, err=%w", op, err)
	}

	logger := e.logger.With(slog.Int64("auctionID", auctionID))
	if winner != nil {
		logger.Info("Auction finalized", slog.String("winningBidID", winner.ID.String()), slog.String("amount", winner.BidAmount.String()))
	} else {
		logger.Info("Auction finalized without bids")
	}
	e.publish(newAuctionEvent(EventAuctionFinalized, auction, now))
	return auction, nil
}

// CloseExpired 將已過結束時間的 active 拍賣轉為 ended，回傳實際轉換的數量
func (e *Engine) CloseExpired(ctx context.Context, limit int) (int, error) {
	const op = "Engine.CloseExpired"
	now := e.now()
	expired, err := e.repo.Auctions().ListExpired(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("[%s] Fail to list expired auctions, err=%w", op, err)
	}
	closed := 0
	for _, auction := range expired {
		if ctx.Err() != nil {
			return closed, ctx.Err()
		}
		_, ended, err := e.expire(ctx, auction.AuctionID, now)
		if err != nil {
			return closed, fmt.Errorf("[%s] Fail to end auction %d, err=%w", op, auction.AuctionID, err)
		}
		if ended {
			closed++
		}
	}
	return closed, nil
}

func (e *Engine) expire(ctx context.Context, auctionID int64, now time.Time) (*models.Auction, bool, error) {
	auction, expired, err := e.repo.Auctions().Expire(ctx, auctionID, now)
	if err != nil {
		return nil, false, err
	}
	if expired {
		e.logger.Info("Auction ended", slog.Int64("auctionID", auctionID), slog.Time("endTime", auction.EndTime))
		e.publish(newAuctionEvent(EventAuctionEnded, auction, now))
	}
	return auction, expired, nil
}

func (e *Engine) GetBid(ctx context.Context, bidID uuid.UUID) (*models.Bid, error) {
	const op = "Engine.GetBid"
	bid, err := e.repo.Bids().Get(ctx, bidID)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to get bid, err=%w", op, err)
	}
	return bid, nil
}

func (e *Engine) GetBidByTransactionHash(ctx context.Context, txHash string) (*models.Bid, error) {
	const op = "Engine.GetBidByTransactionHash"
	bid, err := e.repo.Bids().GetByTransactionHash(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to get bid, err=%w", op, err)
	}
	return bid, nil
}

func (e *Engine) ListBids(ctx context.Context, auctionID int64) ([]models.Bid, error) {
	const op = "Engine.ListBids"
	if _, err := e.repo.Auctions().Get(ctx, auctionID); err != nil {
		return nil, fmt.Errorf("[%s] Fail to get auction, err=%w", op, err)
	}
	bids, err := e.repo.Bids().ListByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to list bids, err=%w", op, err)
	}
	return bids, nil
}

// ConfirmBid 結算層確認出價交易已上鏈
func (e *Engine) ConfirmBid(ctx context.Context, txHash string, blockNumber uint64) (*models.Bid, error) {
	const op = "Engine.ConfirmBid"
	bid, err := e.repo.Bids().MarkVerified(ctx, txHash, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to verify bid, err=%w", op, err)
	}
	return bid, nil
}

// RejectBid 結算層回報出價交易失敗，只有尚未成為最高價的出價可以被標記為 failed
func (e *Engine) RejectBid(ctx context.Context, txHash string, reason string) (*models.Bid, error) {
	const op = "Engine.RejectBid"
	bid, err := e.repo.Bids().GetByTransactionHash(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to get bid, err=%w", op, err)
	}
	if bid.Status == models.BidStatusFailed {
		return bid, nil
	}
	if !bid.Status.CanTransitionTo(models.BidStatusFailed) {
		return nil, fmt.Errorf("[%s] bidID=%s status=%s, err=%w", op, bid.ID, bid.Status, ErrInvalidTransition)
	}
	if err := e.repo.Bids().MarkFailed(ctx, bid.ID, reason); err != nil {
		return nil, fmt.Errorf("[%s] Fail to mark bid failed, err=%w", op, err)
	}
	return e.GetBid(ctx, bid.ID)
}
