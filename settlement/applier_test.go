package settlement_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/bidding"
	"arbiter/models"
	"arbiter/settlement"
	"arbiter/store/storetest"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

var t0 = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	engine  *bidding.Engine
	ledger  *bidding.RefundLedger
	applier *settlement.Applier
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo, _ := storetest.NewRepository(t)
	env := &testEnv{now: t0.Add(10 * time.Minute)}
	clock := func() time.Time { return env.now }

	engine, err := bidding.NewEngine(repo, bidding.WithEngineClock(clock))
	require.NoError(t, err)
	ledger, err := bidding.NewRefundLedger(repo, bidding.WithRefundLedgerClock(clock))
	require.NoError(t, err)
	applier, err := settlement.NewApplier(engine, ledger)
	require.NoError(t, err)

	env.engine, env.ledger, env.applier = engine, ledger, applier

	_, err = engine.CreateAuction(context.Background(), bidding.CreateAuctionRequest{
		AuctionID:       1,
		Title:           "Vinyl record",
		StartingPrice:   decimal.RequireFromString("1"),
		ReservePrice:    decimal.RequireFromString("1"),
		MinBidIncrement: decimal.RequireFromString("0.1"),
		StartTime:       t0,
		EndTime:         t0.Add(time.Hour),
		Seller:          bidding.Bidder{UserID: uuid.New(), Address: "0xseller", Username: "seller"},
	})
	require.NoError(t, err)
	return env
}

func (env *testEnv) placeBid(t *testing.T, name, amount string) *models.Bid {
	t.Helper()
	req, err := bidding.NewBidRequest(1, bidding.Bidder{UserID: uuid.New(), Address: "0x" + name, Username: name},
		amount, fmt.Sprintf("0xbid-%s-%s", name, amount), 10)
	require.NoError(t, err)
	result, err := env.engine.PlaceBid(context.Background(), req)
	require.NoError(t, err)
	return result.Bid
}

func TestNewApplier(t *testing.T) {
	_, err := settlement.NewApplier(nil, nil)
	assert.EqualError(t, err, "engine cannot be nil")

	repo, _ := storetest.NewRepository(t)
	engine, err := bidding.NewEngine(repo)
	require.NoError(t, err)
	_, err = settlement.NewApplier(engine, nil)
	assert.EqualError(t, err, "refund ledger cannot be nil")
}

func TestConfirmation_Validate(t *testing.T) {
	tests := []struct {
		name    string
		c       settlement.Confirmation
		wantErr bool
	}{
		{name: "activation", c: settlement.Confirmation{Kind: settlement.KindAuctionActivated, AuctionID: 1, TxHash: "0x1"}},
		{name: "activation without auction", c: settlement.Confirmation{Kind: settlement.KindAuctionActivated}, wantErr: true},
		{name: "bid confirmed", c: settlement.Confirmation{Kind: settlement.KindBidConfirmed, TxHash: "0x1"}},
		{name: "bid confirmed without hash", c: settlement.Confirmation{Kind: settlement.KindBidConfirmed}, wantErr: true},
		{name: "refund without bid hash", c: settlement.Confirmation{Kind: settlement.KindRefundConfirmed, TxHash: "0x1"}, wantErr: true},
		{name: "negative amount", c: settlement.Confirmation{Kind: settlement.KindRefundConfirmed, BidTxHash: "0x1", Amount: decimal.NewFromInt(-1)}, wantErr: true},
		{name: "unknown kind", c: settlement.Confirmation{Kind: "minted", AuctionID: 1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, settlement.ErrInvalidConfirmation)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestApplier_Lifecycle(t *testing.T) {
	// 準備測試環境
	env := newTestEnv(t)
	ctx := context.Background()

	// 執行測試：啟動、出價、確認、結算、退款
	activation := settlement.Confirmation{Kind: settlement.KindAuctionActivated, AuctionID: 1, TxHash: "0xactivate"}
	require.NoError(t, env.applier.Apply(ctx, activation))
	require.NoError(t, env.applier.Apply(ctx, activation))

	losing := env.placeBid(t, "alice", "1.1")
	winning := env.placeBid(t, "bob", "1.5")

	require.NoError(t, env.applier.Apply(ctx, settlement.Confirmation{
		Kind: settlement.KindBidConfirmed, AuctionID: 1, TxHash: winning.TransactionHash, BlockNumber: 77,
	}))

	env.now = t0.Add(2 * time.Hour)
	settled := settlement.Confirmation{Kind: settlement.KindAuctionSettled, AuctionID: 1, TxHash: "0xsettle"}
	require.NoError(t, env.applier.Apply(ctx, settled))
	require.NoError(t, env.applier.Apply(ctx, settled))

	refund := settlement.Confirmation{
		Kind: settlement.KindRefundConfirmed, AuctionID: 1, TxHash: "0xrefund", BidTxHash: losing.TransactionHash,
	}
	require.NoError(t, env.applier.Apply(ctx, refund))
	require.NoError(t, env.applier.Apply(ctx, refund))

	// 驗證結果
	auction, err := env.engine.GetAuction(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusFinalized, auction.Status)

	won, err := env.engine.GetBid(ctx, winning.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BidStatusWon, won.Status)
	assert.True(t, won.Verified)
	assert.Equal(t, uint64(77), won.BlockNumber)

	refunded, err := env.engine.GetBid(ctx, losing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BidStatusRefunded, refunded.Status)
	assert.True(t, refunded.RefundAmount.Decimal.Equal(decimal.RequireFromString("1.1")))
	assert.Equal(t, "0xrefund", refunded.RefundTxHash)
}

func TestApplier_Errors(t *testing.T) {
	tests := []struct {
		name          string
		confirmation  settlement.Confirmation
		wantErr       error
		wantPermanent bool
	}{
		{
			name:          "invalid confirmation",
			confirmation:  settlement.Confirmation{Kind: "unknown"},
			wantErr:       settlement.ErrInvalidConfirmation,
			wantPermanent: true,
		},
		{
			name:          "unknown auction",
			confirmation:  settlement.Confirmation{Kind: settlement.KindAuctionActivated, AuctionID: 404, TxHash: "0x1"},
			wantErr:       bidding.ErrNotFound,
			wantPermanent: true,
		},
		{
			name:          "unknown bid",
			confirmation:  settlement.Confirmation{Kind: settlement.KindBidReverted, AuctionID: 1, BidTxHash: "0xmissing"},
			wantErr:       bidding.ErrNotFound,
			wantPermanent: true,
		},
		{
			name:          "bid confirmed before it is recorded",
			confirmation:  settlement.Confirmation{Kind: settlement.KindBidConfirmed, AuctionID: 1, TxHash: "0xlater", BlockNumber: 10},
			wantErr:       settlement.ErrBidNotRecorded,
			wantPermanent: false,
		},
		{
			name:          "settled before the end",
			confirmation:  settlement.Confirmation{Kind: settlement.KindAuctionSettled, AuctionID: 1},
			wantErr:       bidding.ErrAuctionNotEnded,
			wantPermanent: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			err := env.applier.Apply(context.Background(), tt.confirmation)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantPermanent, settlement.IsPermanent(err))
		})
	}
}

func TestApplier_RefundOfWinningBid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.applier.Apply(ctx, settlement.Confirmation{Kind: settlement.KindAuctionActivated, AuctionID: 1, TxHash: "0xa"}))
	winning := env.placeBid(t, "alice", "1.1")

	err := env.applier.Apply(ctx, settlement.Confirmation{
		Kind: settlement.KindRefundConfirmed, AuctionID: 1, TxHash: "0xrefund", BidTxHash: winning.TransactionHash,
	})
	assert.ErrorIs(t, err, bidding.ErrNotEligible)
	assert.True(t, settlement.IsPermanent(err))
}

func TestIsPermanent(t *testing.T) {
	assert.False(t, settlement.IsPermanent(nil))
	assert.False(t, settlement.IsPermanent(fmt.Errorf("wrapped: %w", bidding.ErrStoreUnavailable)))
	assert.False(t, settlement.IsPermanent(context.DeadlineExceeded))
	assert.False(t, settlement.IsPermanent(errors.New("connection reset")))
	assert.False(t, settlement.IsPermanent(fmt.Errorf("wrapped: %w", settlement.ErrBidNotRecorded)))
	assert.True(t, settlement.IsPermanent(fmt.Errorf("wrapped: %w", bidding.ErrInvalidTransition)))
}
