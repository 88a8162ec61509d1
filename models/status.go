package models

import "github.com/samber/lo"

// AuctionStatus 拍賣的生命週期狀態
type AuctionStatus string

const (
	AuctionStatusPending   AuctionStatus = "pending"
	AuctionStatusActive    AuctionStatus = "active"
	AuctionStatusEnded     AuctionStatus = "ended"
	AuctionStatusFinalized AuctionStatus = "finalized"
	AuctionStatusCancelled AuctionStatus = "cancelled"
)

// 拍賣狀態只能往前推進，cancelled 只能從 pending 或 active 進入
var auctionTransitions = map[AuctionStatus][]AuctionStatus{
	AuctionStatusPending: {AuctionStatusActive, AuctionStatusCancelled},
	AuctionStatusActive:  {AuctionStatusEnded, AuctionStatusCancelled},
	AuctionStatusEnded:   {AuctionStatusFinalized},
}

// CanTransitionTo 檢查是否允許從目前狀態轉移到 next
func (s AuctionStatus) CanTransitionTo(next AuctionStatus) bool {
	return lo.Contains(auctionTransitions[s], next)
}

func (s AuctionStatus) IsValid() bool {
	switch s {
	case AuctionStatusPending, AuctionStatusActive, AuctionStatusEnded, AuctionStatusFinalized, AuctionStatusCancelled:
		return true
	}
	return false
}

// IsOver 表示拍賣已經不再接受出價，且不會再回到可出價狀態
func (s AuctionStatus) IsOver() bool {
	return s == AuctionStatusEnded || s == AuctionStatusFinalized
}

// BidStatus 出價的生命週期狀態
type BidStatus string

const (
	BidStatusActive   BidStatus = "active"
	BidStatusWinning  BidStatus = "winning"
	BidStatusOutbid   BidStatus = "outbid"
	BidStatusWon      BidStatus = "won"
	BidStatusRefunded BidStatus = "refunded"
	BidStatusFailed   BidStatus = "failed"
)

var bidTransitions = map[BidStatus][]BidStatus{
	BidStatusActive:  {BidStatusWinning, BidStatusFailed},
	BidStatusWinning: {BidStatusOutbid, BidStatusWon},
	BidStatusOutbid:  {BidStatusRefunded},
}

// CanTransitionTo 檢查是否允許從目前狀態轉移到 next
func (s BidStatus) CanTransitionTo(next BidStatus) bool {
	return lo.Contains(bidTransitions[s], next)
}

// PredecessorsOf 回傳可以轉移到 next 的所有狀態，供條件式更新使用
func PredecessorsOf(next BidStatus) []BidStatus {
	var from []BidStatus
	for status, targets := range bidTransitions {
		if lo.Contains(targets, next) {
			from = append(from, status)
		}
	}
	return from
}

// AuctionPredecessorsOf 回傳可以轉移到 next 的所有拍賣狀態
func AuctionPredecessorsOf(next AuctionStatus) []AuctionStatus {
	var from []AuctionStatus
	for status, targets := range auctionTransitions {
		if lo.Contains(targets, next) {
			from = append(from, status)
		}
	}
	return from
}
