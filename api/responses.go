package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"arbiter/models"
)

type auctionResponse struct {
	ID              uuid.UUID       `json:"id"`
	AuctionID       int64           `json:"auctionId"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Status          string          `json:"status"`
	StartingPrice   decimal.Decimal `json:"startingPrice"`
	ReservePrice    decimal.Decimal `json:"reservePrice"`
	MinBidIncrement decimal.Decimal `json:"minBidIncrement"`
	CurrentPrice    decimal.Decimal `json:"currentPrice"`
	CurrentBidID    *uuid.UUID      `json:"currentBidId,omitempty"`
	BidCount        int64           `json:"bidCount"`
	LastBidTime     *time.Time      `json:"lastBidTime,omitempty"`
	LastBidder      string          `json:"lastBidder,omitempty"`
	Seller          string          `json:"seller"`
	SellerAddress   string          `json:"sellerAddress"`
	StartTime       time.Time       `json:"startTime"`
	EndTime         time.Time       `json:"endTime"`
	TimeExtensions  int             `json:"timeExtensions"`
	FinalizedAt     *time.Time      `json:"finalizedAt,omitempty"`
}

func newAuctionResponse(auction *models.Auction) auctionResponse {
	return auctionResponse{
		ID:              auction.ID,
		AuctionID:       auction.AuctionID,
		Title:           auction.Title,
		Description:     auction.Description,
		Status:          string(auction.Status),
		StartingPrice:   auction.StartingPrice,
		ReservePrice:    auction.ReservePrice,
		MinBidIncrement: auction.MinBidIncrement,
		CurrentPrice:    auction.CurrentPrice,
		CurrentBidID:    auction.CurrentBidID,
		BidCount:        auction.BidCount,
		LastBidTime:     auction.LastBidTime,
		LastBidder:      auction.LastBidderUsername,
		Seller:          auction.SellerUsername,
		SellerAddress:   auction.SellerAddress,
		StartTime:       auction.StartTime,
		EndTime:         auction.EndTime,
		TimeExtensions:  auction.TimeExtensions,
		FinalizedAt:     auction.FinalizedAt,
	}
}

type bidResponse struct {
	ID                 uuid.UUID        `json:"id"`
	AuctionID          int64            `json:"auctionId"`
	TransactionHash    string           `json:"transactionHash"`
	BlockNumber        uint64           `json:"blockNumber"`
	Amount             decimal.Decimal  `json:"amount"`
	PreviousHighestBid decimal.Decimal  `json:"previousHighestBid"`
	Increment          decimal.Decimal  `json:"increment"`
	Status             string           `json:"status"`
	IsCurrentHighest   bool             `json:"isCurrentHighest"`
	IsWinningBid       bool             `json:"isWinningBid"`
	Verified           bool             `json:"verified"`
	Bidder             string           `json:"bidder"`
	BidderAddress      string           `json:"bidderAddress"`
	IsRefunded         bool             `json:"isRefunded"`
	RefundAmount       *decimal.Decimal `json:"refundAmount,omitempty"`
	RefundedAt         *time.Time       `json:"refundedAt,omitempty"`
	RefundTxHash       string           `json:"refundTxHash,omitempty"`
	FailureReason      string           `json:"failureReason,omitempty"`
	CreatedAt          time.Time        `json:"createdAt"`
}

func newBidResponse(bid *models.Bid) bidResponse {
	response := bidResponse{
		ID:                 bid.ID,
		AuctionID:          bid.AuctionID,
		TransactionHash:    bid.TransactionHash,
		BlockNumber:        bid.BlockNumber,
		Amount:             bid.BidAmount,
		PreviousHighestBid: bid.PreviousHighestBid,
		Increment:          bid.BidIncrement,
		Status:             string(bid.Status),
		IsCurrentHighest:   bid.IsCurrentHighest,
		IsWinningBid:       bid.IsWinningBid,
		Verified:           bid.Verified,
		Bidder:             bid.BidderUsername,
		BidderAddress:      bid.BidderAddress,
		IsRefunded:         bid.IsRefunded,
		RefundedAt:         bid.RefundedAt,
		RefundTxHash:       bid.RefundTxHash,
		FailureReason:      bid.FailureReason,
		CreatedAt:          bid.CreatedAt,
	}
	if bid.RefundAmount.Valid {
		response.RefundAmount = lo.ToPtr(bid.RefundAmount.Decimal)
	}
	return response
}

func newAuctionResponses(auctions []models.Auction) []auctionResponse {
	return lo.Map(auctions, func(auction models.Auction, _ int) auctionResponse {
		return newAuctionResponse(&auction)
	})
}

func newBidResponses(bids []models.Bid) []bidResponse {
	return lo.Map(bids, func(bid models.Bid, _ int) bidResponse {
		return newBidResponse(&bid)
	})
}

type placeBidResponse struct {
	Bid      bidResponse     `json:"bid"`
	Auction  auctionResponse `json:"auction"`
	Extended bool            `json:"extended"`
}

type refundResponse struct {
	Bid             bidResponse `json:"bid"`
	AlreadyRefunded bool        `json:"alreadyRefunded"`
}
