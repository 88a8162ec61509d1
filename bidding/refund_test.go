package bidding_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/bidding"
	"arbiter/models"
)

// outbidScenario 建立一場拍賣，alice 出價 1.1 後被 bob 以 1.2 超越
func outbidScenario(t *testing.T, env *testEnv) (outbid, winning *models.Bid) {
	t.Helper()
	ctx := context.Background()
	env.startAuction(t, 1)
	first, err := env.engine.PlaceBid(ctx, bidRequest(t, 1, newBidder("alice"), "1.1"))
	require.NoError(t, err)
	second, err := env.engine.PlaceBid(ctx, bidRequest(t, 1, newBidder("bob"), "1.2"))
	require.NoError(t, err)
	return first.Bid, second.Bid
}

func TestNewRefundLedger(t *testing.T) {
	ledger, err := bidding.NewRefundLedger(nil)
	assert.EqualError(t, err, "repository cannot be nil")
	assert.Nil(t, ledger)
}

func TestRefundLedger_ListRefundable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	outbid, _ := outbidScenario(t, env)

	bids, err := env.ledger.ListRefundable(ctx, 1)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Equal(t, outbid.ID, bids[0].ID)

	_, err = env.ledger.ListRefundable(ctx, 404)
	assert.ErrorIs(t, err, bidding.ErrNotFound)
}

func TestRefundLedger_ProcessRefund(t *testing.T) {
	tests := []struct {
		name       string
		bid        func(outbid, winning *models.Bid) uuid.UUID
		amount     string
		wantErr    error
		wantAmount string
	}{
		{
			name:       "zero amount refunds the full bid",
			bid:        func(outbid, _ *models.Bid) uuid.UUID { return outbid.ID },
			amount:     "0",
			wantAmount: "1.1",
		},
		{
			name:       "partial refund",
			bid:        func(outbid, _ *models.Bid) uuid.UUID { return outbid.ID },
			amount:     "0.6",
			wantAmount: "0.6",
		},
		{
			name:    "more than the bid",
			bid:     func(outbid, _ *models.Bid) uuid.UUID { return outbid.ID },
			amount:  "1.11",
			wantErr: bidding.ErrInvalidRefundAmount,
		},
		{
			name:    "negative amount",
			bid:     func(outbid, _ *models.Bid) uuid.UUID { return outbid.ID },
			amount:  "-1",
			wantErr: bidding.ErrInvalidRefundAmount,
		},
		{
			name:    "more than eighteen decimal places",
			bid:     func(outbid, _ *models.Bid) uuid.UUID { return outbid.ID },
			amount:  "0.6000000000000000000001",
			wantErr: bidding.ErrInvalidRefundAmount,
		},
		{
			name:    "winning bid",
			bid:     func(_, winning *models.Bid) uuid.UUID { return winning.ID },
			amount:  "0",
			wantErr: bidding.ErrNotEligible,
		},
		{
			name:    "unknown bid",
			bid:     func(_, _ *models.Bid) uuid.UUID { return uuid.New() },
			amount:  "0",
			wantErr: bidding.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// 準備測試環境
			env := newTestEnv(t)
			ctx := context.Background()
			outbid, winning := outbidScenario(t, env)

			// 執行測試
			outcome, err := env.ledger.ProcessRefund(ctx, bidding.RefundRequest{
				BidID:  tt.bid(outbid, winning),
				Amount: decimal.RequireFromString(tt.amount),
				TxHash: "0xrefund",
			})

			// 驗證結果
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.False(t, outcome.AlreadyRefunded)
			assert.Equal(t, models.BidStatusRefunded, outcome.Bid.Status)
			assert.True(t, outcome.Bid.IsRefunded)
			require.True(t, outcome.Bid.RefundAmount.Valid)
			assert.True(t, outcome.Bid.RefundAmount.Decimal.Equal(decimal.RequireFromString(tt.wantAmount)))
			assert.Equal(t, "0xrefund", outcome.Bid.RefundTxHash)
			require.NotNil(t, outcome.Bid.RefundedAt)
			assert.True(t, outcome.Bid.RefundedAt.Equal(env.clock.Now()))

			refundable, err := env.ledger.ListRefundable(ctx, 1)
			require.NoError(t, err)
			assert.Empty(t, refundable)
		})
	}
}

func TestRefundLedger_ProcessRefundIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	outbid, _ := outbidScenario(t, env)

	first, err := env.ledger.ProcessRefund(ctx, bidding.RefundRequest{BidID: outbid.ID, TxHash: "0xfirst"})
	require.NoError(t, err)
	require.False(t, first.AlreadyRefunded)

	// 第二次請求帶著不同的金額與交易，原本的紀錄不變
	second, err := env.ledger.ProcessRefund(ctx, bidding.RefundRequest{
		BidID:  outbid.ID,
		Amount: decimal.RequireFromString("0.5"),
		TxHash: "0xsecond",
	})
	require.NoError(t, err)
	assert.True(t, second.AlreadyRefunded)
	assert.True(t, second.Bid.RefundAmount.Decimal.Equal(decimal.RequireFromString("1.1")))
	assert.Equal(t, "0xfirst", second.Bid.RefundTxHash)
}

func TestRefundLedger_ConcurrentRefunds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	outbid, _ := outbidScenario(t, env)

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := env.ledger.ProcessRefund(ctx, bidding.RefundRequest{BidID: outbid.ID})
			if !assert.NoError(t, err) {
				return
			}
			if !outcome.AlreadyRefunded {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fresh)
}
