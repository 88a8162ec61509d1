package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"arbiter/adapters/sse"
	"arbiter/bidding"
)

type errorResponse struct {
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

var reasonStatus = map[bidding.Reason]int{
	bidding.ReasonAuctionNotActive:     http.StatusForbidden,
	bidding.ReasonSellerCannotBid:      http.StatusForbidden,
	bidding.ReasonAuctionEnded:         http.StatusGone,
	bidding.ReasonBelowMinIncrement:    http.StatusBadRequest,
	bidding.ReasonBelowReserve:         http.StatusBadRequest,
	bidding.ReasonDuplicateTransaction: http.StatusConflict,
	bidding.ReasonOutbid:               http.StatusConflict,
}

// statusOf 將 engine 與 store 的錯誤對應到 HTTP 狀態碼
func statusOf(err error) int {
	if reason, ok := bidding.RejectionReason(err); ok {
		if status, ok := reasonStatus[reason]; ok {
			return status
		}
		return http.StatusConflict
	}
	switch {
	case errors.Is(err, bidding.ErrInvalidRequest), errors.Is(err, bidding.ErrInvalidRefundAmount):
		return http.StatusBadRequest
	case errors.Is(err, bidding.ErrNotSeller):
		return http.StatusForbidden
	case errors.Is(err, bidding.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, bidding.ErrAuctionExists),
		errors.Is(err, bidding.ErrAuctionHasBids),
		errors.Is(err, bidding.ErrAuctionNotEnded),
		errors.Is(err, bidding.ErrNotEligible),
		errors.Is(err, bidding.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, bidding.ErrStoreUnavailable), errors.Is(err, sse.ErrManagerClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError 回應錯誤，5xx 只回傳狀態文字，細節寫進日誌
func writeError(c *gin.Context, err error) {
	status := statusOf(err)
	response := errorResponse{Message: err.Error()}
	if reason, ok := bidding.RejectionReason(err); ok {
		response.Reason = string(reason)
	}
	if status >= http.StatusInternalServerError {
		loggerFrom(c).Error("Request failed", slog.Int("status", status), slog.Any("error", err))
		response.Message = http.StatusText(status)
	}
	c.JSON(status, response)
}
