package bidding

import (
	"time"

	"arbiter/models"
)

type EventType string

const (
	EventBidPlaced        EventType = "bid_placed"
	EventBidOutbid        EventType = "bid_outbid"
	EventAuctionExtended  EventType = "auction_extended"
	EventAuctionActivated EventType = "auction_activated"
	EventAuctionEnded     EventType = "auction_ended"
	EventAuctionFinalized EventType = "auction_finalized"
	EventAuctionCancelled EventType = "auction_cancelled"
)

// AuctionEvent 已提交的狀態變化，供事件串流與 SSE 使用
type AuctionEvent struct {
	Type         EventType `json:"type"`
	AuctionID    int64     `json:"auctionId"`
	BidID        string    `json:"bidId,omitempty"`
	Amount       string    `json:"amount,omitempty"`
	Bidder       string    `json:"bidder,omitempty"`
	CurrentPrice string    `json:"currentPrice"`
	BidCount     int64     `json:"bidCount"`
	Status       string    `json:"status"`
	EndTime      time.Time `json:"endTime"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// EventPublisher 發布拍賣事件，發布失敗不會影響已提交的狀態
type EventPublisher interface {
	Publish(event AuctionEvent) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(AuctionEvent) error { return nil }

func newAuctionEvent(eventType EventType, auction *models.Auction, at time.Time) AuctionEvent {
	return AuctionEvent{
		Type:         eventType,
		AuctionID:    auction.AuctionID,
		CurrentPrice: auction.CurrentPrice.String(),
		BidCount:     auction.BidCount,
		Status:       string(auction.Status),
		EndTime:      auction.EndTime,
		OccurredAt:   at,
	}
}

func newBidEvent(eventType EventType, auction *models.Auction, bid *models.Bid, at time.Time) AuctionEvent {
	event := newAuctionEvent(eventType, auction, at)
	event.BidID = bid.ID.String()
	event.Amount = bid.BidAmount.String()
	event.Bidder = bid.BidderUsername
	return event
}
