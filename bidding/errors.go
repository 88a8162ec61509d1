package bidding

import (
	"errors"
	"fmt"

	"arbiter/store"
)

var (
	ErrNotFound          = store.ErrNotFound
	ErrStoreUnavailable  = store.ErrStoreUnavailable
	ErrInvalidTransition = store.ErrInvalidTransition

	ErrRejected            = errors.New("bid rejected")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrAuctionExists       = errors.New("auction already exists")
	ErrAuctionNotEnded     = errors.New("auction has not ended")
	ErrAuctionHasBids      = errors.New("auction already has bids")
	ErrNotSeller           = errors.New("only the seller can do this")
	ErrNotEligible         = errors.New("bid is not eligible for refund")
	ErrInvalidRefundAmount = errors.New("invalid refund amount")
)

// Reason 出價被拒絕的原因，每一個驗證步驟對應一個原因
type Reason string

const (
	ReasonAuctionNotActive     Reason = "AuctionNotActive"
	ReasonAuctionEnded         Reason = "AuctionEnded"
	ReasonSellerCannotBid      Reason = "SellerCannotBid"
	ReasonBelowMinIncrement    Reason = "BelowMinIncrement"
	ReasonBelowReserve         Reason = "BelowReserve"
	ReasonDuplicateTransaction Reason = "DuplicateTransaction"
	ReasonOutbid               Reason = "Outbid"
)

// RejectedError 出價違反業務規則時回傳的錯誤
type RejectedError struct {
	Reason Reason
	Detail string
}

func (e *RejectedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("bid rejected: %s", e.Reason)
	}
	return fmt.Sprintf("bid rejected: %s: %s", e.Reason, e.Detail)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

func rejected(reason Reason, format string, args ...any) *RejectedError {
	return &RejectedError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// RejectionReason 取出錯誤鏈中的拒絕原因
func RejectionReason(err error) (Reason, bool) {
	var rejectedErr *RejectedError
	if errors.As(err, &rejectedErr) {
		return rejectedErr.Reason, true
	}
	return "", false
}
