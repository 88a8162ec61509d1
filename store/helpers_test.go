package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"arbiter/models"
	"arbiter/store"
)

var baseTime = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func createAuction(t *testing.T, repo store.IRepository, auctionID int64, status models.AuctionStatus) *models.Auction {
	t.Helper()
	auction := &models.Auction{
		AuctionID:       auctionID,
		Title:           "Vintage camera",
		Description:     "Mint condition",
		StartingPrice:   decimal.RequireFromString("1.0"),
		ReservePrice:    decimal.RequireFromString("1.0"),
		MinBidIncrement: decimal.RequireFromString("0.1"),
		StartTime:       baseTime,
		EndTime:         baseTime.Add(time.Hour),
		Duration:        time.Hour,
		Status:          status,
		CurrentPrice:    decimal.Zero,
		SellerAddress:   "0xseller",
		SellerUserID:    uuid.New(),
		SellerUsername:  "seller",
	}
	require.NoError(t, repo.Auctions().Create(context.Background(), auction))
	return auction
}

func createBid(t *testing.T, repo store.IRepository, auctionID int64, amount string) *models.Bid {
	t.Helper()
	bid := &models.Bid{
		AuctionID:          auctionID,
		TransactionHash:    fmt.Sprintf("0x%s", uuid.NewString()),
		BidAmount:          decimal.RequireFromString(amount),
		PreviousHighestBid: decimal.Zero,
		BidIncrement:       decimal.Zero,
		Status:             models.BidStatusActive,
		BidderAddress:      "0xbidder",
		BidderUserID:       uuid.New(),
		BidderUsername:     "bidder",
	}
	require.NoError(t, repo.Bids().Create(context.Background(), bid))
	return bid
}
