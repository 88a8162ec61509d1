package bidding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"arbiter/models"
	"arbiter/store"
)

const (
	DefaultMaxCommitAttempts  = 3
	DefaultAntiSnipeWindow    = 600 * time.Second
	DefaultAntiSnipeExtension = 600 * time.Second
)

type engineOptions struct {
	logger             *slog.Logger
	clock              func() time.Time
	maxCommitAttempts  int
	antiSnipeWindow    time.Duration
	antiSnipeExtension time.Duration
	publisher          EventPublisher
}

type EngineOption func(*engineOptions)

// WithEngineLogger 設置日誌記錄器
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithEngineClock 設置時間來源
func WithEngineClock(clock func() time.Time) EngineOption {
	return func(o *engineOptions) {
		o.clock = clock
	}
}

// WithEngineMaxCommitAttempts 設置最高價競爭失敗時的最大提交次數
func WithEngineMaxCommitAttempts(attempts int) EngineOption {
	return func(o *engineOptions) {
		o.maxCommitAttempts = attempts
	}
}

// WithEngineAntiSnipe 設置防狙擊的觸發區間與每次延長的時間
func WithEngineAntiSnipe(window, extension time.Duration) EngineOption {
	return func(o *engineOptions) {
		o.antiSnipeWindow = window
		o.antiSnipeExtension = extension
	}
}

// WithEnginePublisher 設置拍賣事件的發布者
func WithEnginePublisher(publisher EventPublisher) EngineOption {
	return func(o *engineOptions) {
		o.publisher = publisher
	}
}

// Engine 負責出價仲裁與拍賣生命週期
// Engine 本身不保存任何拍賣狀態，所有判斷都以 store 讀到的資料為準，
// 同一場拍賣的併發出價由 store 的條件式更新決定先後
type Engine struct {
	repo    store.IRepository
	logger  *slog.Logger
	options engineOptions
}

// PlaceBidResult 出價成功後的結果
type PlaceBidResult struct {
	Bid      *models.Bid
	Auction  *models.Auction
	Previous *models.Bid
	Extended bool
	Attempts int
}

func NewEngine(repo store.IRepository, opts ...EngineOption) (*Engine, error) {
	if repo == nil {
		return nil, errors.New("repository cannot be nil")
	}

	// 默認選項
	options := engineOptions{
		logger:             slog.Default(),
		clock:              time.Now,
		maxCommitAttempts:  DefaultMaxCommitAttempts,
		antiSnipeWindow:    DefaultAntiSnipeWindow,
		antiSnipeExtension: DefaultAntiSnipeExtension,
		publisher:          nopPublisher{},
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	if options.maxCommitAttempts < 1 {
		return nil, errors.New("max commit attempts must be at least 1")
	}
	if options.antiSnipeWindow < 0 || options.antiSnipeExtension < 0 {
		return nil, errors.New("anti-snipe durations cannot be negative")
	}

	return &Engine{
		repo:    repo,
		logger:  options.logger.With(slog.String("caller", "Engine")),
		options: options,
	}, nil
}

func (e *Engine) now() time.Time {
	return e.options.clock().UTC().Truncate(time.Microsecond)
}

// PlaceBid 驗證並提交一筆出價
// 驗證順序: 拍賣狀態、結束時間、賣家、交易重複、最低加價、底價。
// 提交時以讀到的 current_price 做 compare-and-swap，失敗時重新讀取並重新驗證，最多嘗試 maxCommitAttempts 次
func (e *Engine) PlaceBid(ctx context.Context, req BidRequest) (*PlaceBidResult, error) {
	const op = "Engine.PlaceBid"
	if err := req.Validate(); err != nil {
		return nil, err
	}
	logger := e.logger.With(
		slog.Int64("auctionID", req.AuctionID),
		slog.String("txHash", req.TransactionHash),
		slog.String("amount", req.Amount.String()),
	)

	now := e.now()
	auction, err := e.repo.Auctions().Get(ctx, req.AuctionID)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to get auction, err=%w", op, err)
	}
	if err := e.checkOpen(ctx, auction, now); err != nil {
		return nil, err
	}
	if isSeller(auction, req.Bidder) {
		return nil, rejected(ReasonSellerCannotBid, "bidder %s is the seller", req.Bidder.Address)
	}
	if _, err := e.repo.Bids().GetByTransactionHash(ctx, req.TransactionHash); err == nil {
		return nil, rejected(ReasonDuplicateTransaction, "transaction %s already recorded", req.TransactionHash)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("[%s] Fail to check transaction hash, err=%w", op, err)
	}
	if err := checkAmount(auction, req.Amount); err != nil {
		return nil, err
	}

	floor := auction.Floor()
	bid := &models.Bid{
		AuctionID:          req.AuctionID,
		TransactionHash:    req.TransactionHash,
		BlockNumber:        req.BlockNumber,
		BidAmount:          req.Amount,
		PreviousHighestBid: floor,
		BidIncrement:       req.Amount.Sub(floor),
		Status:             models.BidStatusActive,
		BidderAddress:      req.Bidder.Address,
		BidderUserID:       req.Bidder.UserID,
		BidderUsername:     req.Bidder.Username,
	}
	if err := e.repo.Bids().Create(ctx, bid); err != nil {
		if errors.Is(err, store.ErrDuplicateTransactionHash) {
			return nil, rejected(ReasonDuplicateTransaction, "transaction %s already recorded", req.TransactionHash)
		}
		return nil, fmt.Errorf("[%s] Fail to create bid, err=%w", op, err)
	}
	logger = logger.With(slog.String("bidID", bid.ID.String()))

	for attempt := 1; ; attempt++ {
		result, err := e.commit(ctx, auction, bid, now)
		if err == nil {
			result.Attempts = attempt
			logger.Info("Bid committed",
				slog.Int("attempt", attempt),
				slog.Bool("extended", result.Extended),
				slog.Time("endTime", result.Auction.EndTime))
			e.publishPlaced(result, now)
			return result, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			e.failBid(ctx, logger, bid, "StoreUnavailable")
			return nil, fmt.Errorf("[%s] Fail to commit bid, err=%w", op, err)
		}

		logger.Debug("Highest bid changed before commit", slog.Int("attempt", attempt))
		if attempt >= e.options.maxCommitAttempts {
			e.failBid(ctx, logger, bid, string(ReasonOutbid))
			return nil, rejected(ReasonOutbid, "lost the highest bid race %d times", attempt)
		}

		// 重新讀取拍賣並重新驗證
		now = e.now()
		auction, err = e.repo.Auctions().Get(ctx, req.AuctionID)
		if err != nil {
			e.failBid(ctx, logger, bid, "StoreUnavailable")
			return nil, fmt.Errorf("[%s] Fail to reload auction, err=%w", op, err)
		}
		if err := e.checkOpen(ctx, auction, now); err != nil {
			if reason, ok := RejectionReason(err); ok {
				e.failBid(ctx, logger, bid, string(reason))
			}
			return nil, err
		}
		if err := checkAmount(auction, req.Amount); err != nil {
			e.failBid(ctx, logger, bid, string(ReasonOutbid))
			return nil, rejected(ReasonOutbid, "current price is now %s", auction.CurrentPrice)
		}
	}
}

// commit 在同一個交易中更新拍賣摘要、降級前一筆最高出價、升級新出價並處理防狙擊延長
func (e *Engine) commit(ctx context.Context, auction *models.Auction, bid *models.Bid, now time.Time) (*PlaceBidResult, error) {
	floor := auction.Floor()
	increment := bid.BidAmount.Sub(floor)
	result := &PlaceBidResult{}

	err := e.repo.Transaction(ctx, func(tx store.IRepository) error {
		updated, err := tx.Auctions().TrySetHighest(ctx, auction.AuctionID, store.HighestBid{
			BidID:          bid.ID,
			Amount:         bid.BidAmount,
			BidderAddress:  bid.BidderAddress,
			BidderUserID:   bid.BidderUserID,
			BidderUsername: bid.BidderUsername,
			At:             now,
		}, auction.CurrentPrice)
		if err != nil {
			return err
		}

		previous, err := tx.Bids().Highest(ctx, auction.AuctionID)
		switch {
		case err == nil:
			if err := tx.Bids().MarkOutbid(ctx, previous.ID); err != nil {
				return err
			}
			result.Previous = previous
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		if err := tx.Bids().MarkWinning(ctx, bid.ID, floor, increment); err != nil {
			return err
		}

		if updated.EndTime.Sub(now) <= e.options.antiSnipeWindow {
			extendedAuction, extended, err := tx.Auctions().ExtendEndTime(ctx, auction.AuctionID, updated.EndTime.Add(e.options.antiSnipeExtension))
			if err != nil {
				return err
			}
			updated = extendedAuction
			result.Extended = extended
		}
		committed, err := tx.Bids().Get(ctx, bid.ID)
		if err != nil {
			return err
		}
		result.Auction = updated
		result.Bid = committed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) publishPlaced(result *PlaceBidResult, now time.Time) {
	e.publish(newBidEvent(EventBidPlaced, result.Auction, result.Bid, now))
	if result.Previous != nil {
		e.publish(newBidEvent(EventBidOutbid, result.Auction, result.Previous, now))
	}
	if result.Extended {
		e.publish(newAuctionEvent(EventAuctionExtended, result.Auction, now))
	}
}

func (e *Engine) publish(event AuctionEvent) {
	if err := e.options.publisher.Publish(event); err != nil {
		e.logger.Warn("Fail to publish auction event",
			slog.String("type", string(event.Type)),
			slog.Int64("auctionID", event.AuctionID),
			slog.Any("error", err))
	}
}

// failBid 盡力將出價標記為 failed，失敗只記錄日誌
// 請求被取消時仍要寫入，否則出價會一直停在 active
func (e *Engine) failBid(ctx context.Context, logger *slog.Logger, bid *models.Bid, reason string) {
	if err := e.repo.Bids().MarkFailed(context.WithoutCancel(ctx), bid.ID, reason); err != nil {
		logger.Error("Fail to mark bid failed", slog.String("reason", reason), slog.Any("error", err))
	}
}

// checkOpen 檢查拍賣是否仍接受出價，過期的 active 拍賣會順便轉為 ended
func (e *Engine) checkOpen(ctx context.Context, auction *models.Auction, now time.Time) error {
	switch {
	case auction.IsExpired(now):
		if _, _, err := e.expire(ctx, auction.AuctionID, now); err != nil {
			e.logger.Warn("Fail to end expired auction", slog.Int64("auctionID", auction.AuctionID), slog.Any("error", err))
		}
		return rejected(ReasonAuctionEnded, "auction ended at %s", auction.EndTime.Format(time.RFC3339))
	case auction.Status == models.AuctionStatusActive:
		return nil
	case auction.Status.IsOver():
		return rejected(ReasonAuctionEnded, "auction is %s", auction.Status)
	default:
		return rejected(ReasonAuctionNotActive, "auction is %s", auction.Status)
	}
}

func checkAmount(auction *models.Auction, amount decimal.Decimal) error {
	minimum := auction.Floor().Add(auction.MinBidIncrement)
	if amount.LessThan(minimum) {
		return rejected(ReasonBelowMinIncrement, "bid %s is below the minimum %s", amount, minimum)
	}
	if amount.LessThan(auction.ReservePrice) {
		return rejected(ReasonBelowReserve, "bid %s is below the reserve price", amount)
	}
	return nil
}

func isSeller(auction *models.Auction, bidder Bidder) bool {
	if strings.EqualFold(auction.SellerAddress, bidder.Address) {
		return true
	}
	return bidder.UserID != uuid.Nil && bidder.UserID == auction.SellerUserID
}
