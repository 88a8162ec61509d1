package bidding_test

import (
	"context"
	"io"
	"log"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"arbiter/bidding"
	"arbiter/models"
	"arbiter/store"
	"arbiter/store/storetest"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

var t0 = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

var seller = bidding.Bidder{
	UserID:   uuid.MustParse("0192a0f0-0000-7000-8000-000000000001"),
	Address:  "0xSeller",
	Username: "seller",
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []bidding.AuctionEvent
}

func (p *recordingPublisher) Publish(event bidding.AuctionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Types() []bidding.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]bidding.EventType, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.Type)
	}
	return types
}

type testEnv struct {
	repo      *store.Repository
	engine    *bidding.Engine
	ledger    *bidding.RefundLedger
	clock     *fakeClock
	publisher *recordingPublisher
}

func newTestEnv(t *testing.T, opts ...bidding.EngineOption) *testEnv {
	t.Helper()
	repo, _ := storetest.NewRepository(t)
	clock := newFakeClock(t0.Add(10 * time.Minute))
	publisher := &recordingPublisher{}

	opts = append([]bidding.EngineOption{
		bidding.WithEngineClock(clock.Now),
		bidding.WithEnginePublisher(publisher),
	}, opts...)
	engine, err := bidding.NewEngine(repo, opts...)
	require.NoError(t, err)

	ledger, err := bidding.NewRefundLedger(repo, bidding.WithRefundLedgerClock(clock.Now))
	require.NoError(t, err)

	return &testEnv{repo: repo, engine: engine, ledger: ledger, clock: clock, publisher: publisher}
}

// startAuction 建立並啟動一場起標價 1.0、最低加價 0.1、底價 1.0 的拍賣，結束時間為 t0 + 1h
func (env *testEnv) startAuction(t *testing.T, auctionID int64) *models.Auction {
	t.Helper()
	ctx := context.Background()
	_, err := env.engine.CreateAuction(ctx, bidding.CreateAuctionRequest{
		AuctionID:       auctionID,
		Title:           "Vintage camera",
		Description:     "Mint condition",
		StartingPrice:   decimal.RequireFromString("1.0"),
		ReservePrice:    decimal.RequireFromString("1.0"),
		MinBidIncrement: decimal.RequireFromString("0.1"),
		StartTime:       t0,
		EndTime:         t0.Add(time.Hour),
		Seller:          seller,
	})
	require.NoError(t, err)
	auction, err := env.engine.ActivateAuction(ctx, auctionID, "0xactivate")
	require.NoError(t, err)
	return auction
}

func newBidder(name string) bidding.Bidder {
	return bidding.Bidder{
		UserID:   uuid.New(),
		Address:  "0x" + name,
		Username: name,
	}
}

func bidRequest(t *testing.T, auctionID int64, bidder bidding.Bidder, amount string) bidding.BidRequest {
	t.Helper()
	req, err := bidding.NewBidRequest(auctionID, bidder, amount, "0x"+uuid.NewString(), 100)
	require.NoError(t, err)
	return req
}

// hookRepository 在讀取拍賣之後呼叫 onGet，用來在讀取與提交之間插入競爭的出價
// onTransaction 在交易開始前呼叫，bidGetErr 不為 nil 時交易外的 Bids().Get 都回傳該錯誤
type hookRepository struct {
	store.IRepository
	onGet         func(auctionID int64)
	onTransaction func()
	bidGetErr     error
}

func (r *hookRepository) Auctions() store.IAuctionStore {
	return &hookAuctionStore{IAuctionStore: r.IRepository.Auctions(), onGet: r.onGet}
}

func (r *hookRepository) Bids() store.IBidStore {
	return &hookBidStore{IBidStore: r.IRepository.Bids(), getErr: r.bidGetErr}
}

func (r *hookRepository) Transaction(ctx context.Context, fn func(tx store.IRepository) error) error {
	if r.onTransaction != nil {
		r.onTransaction()
	}
	return r.IRepository.Transaction(ctx, fn)
}

type hookBidStore struct {
	store.IBidStore
	getErr error
}

func (s *hookBidStore) Get(ctx context.Context, bidID uuid.UUID) (*models.Bid, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.IBidStore.Get(ctx, bidID)
}

type hookAuctionStore struct {
	store.IAuctionStore
	onGet func(auctionID int64)
}

func (s *hookAuctionStore) Get(ctx context.Context, auctionID int64) (*models.Auction, error) {
	auction, err := s.IAuctionStore.Get(ctx, auctionID)
	if s.onGet != nil {
		s.onGet(auctionID)
	}
	return auction, err
}

func requireReason(t *testing.T, err error, want bidding.Reason) {
	t.Helper()
	require.ErrorIs(t, err, bidding.ErrRejected)
	reason, ok := bidding.RejectionReason(err)
	require.True(t, ok)
	require.Equal(t, want, reason)
}
