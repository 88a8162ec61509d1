package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"arbiter/bidding"
)

type activateAuctionRequest struct {
	TransactionHash string `json:"transactionHash" binding:"required,max=128"`
}

type refundRequest struct {
	// Amount 為空時退還完整出價金額
	Amount          string `json:"amount"`
	TransactionHash string `json:"transactionHash" binding:"required,max=128"`
}

// (POST /internal/auctions/:auctionID/activate)
func (s *Server) PostInternalAuctionActivate(c *gin.Context) {
	const op = "PostInternalAuctionActivate"
	auctionID, ok := auctionIDParam(c)
	if !ok {
		return
	}
	var body activateAuctionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Message: err.Error()})
		return
	}
	auction, err := s.engine.ActivateAuction(c.Request.Context(), auctionID, body.TransactionHash)
	if err != nil {
		writeError(c, fmt.Errorf("[%s] Fail to activate auction, err=%w", op, err))
		return
	}
	c.JSON(http.StatusOK, newAuctionResponse(auction))
}

// (POST /internal/auctions/:auctionID/close)
func (s *Server) PostInternalAuctionClose(c *gin.Context) {
	const op = "PostInternalAuctionClose"
	auctionID, ok := auctionIDParam(c)
	if !ok {
		return
	}
	auction, err := s.engine.CloseAuction(c.Request.Context(), auctionID)
	if err != nil {
		writeError(c, fmt.Errorf("[%s] Fail to close auction, err=%w", op, err))
		return
	}
	c.JSON(http.StatusOK, newAuctionResponse(auction))
}

// (POST /internal/auctions/:auctionID/finalize)
func (s *Server) PostInternalAuctionFinalize(c *gin.Context) {
	const op = "PostInternalAuctionFinalize"
	auctionID, ok := auctionIDParam(c)
	if !ok {
		return
	}
	auction, err := s.engine.EndAuction(c.Request.Context(), auctionID)
	if err != nil {
		writeError(c, fmt.Errorf("[%s] Fail to finalize auction, err=%w", op, err))
		return
	}
	c.JSON(http.StatusOK, newAuctionResponse(auction))
}

// (GET /internal/auctions/:auctionID/refunds)
func (s *Server) GetInternalAuctionRefunds(c *gin.Context) {
	const op = "GetInternalAuctionRefunds"
	auctionID, ok := auctionIDParam(c)
	if !ok {
		return
	}
	bids, err := s.ledger.ListRefundable(c.Request.Context(), auctionID)
	if err != nil {
		writeError(c, fmt.Errorf("[%s] Fail to list refundable bids, err=%w", op, err))
		return
	}
	c.JSON(http.StatusOK, newBidResponses(bids))
}

// (POST /internal/bids/:bidID/refund)
func (s *Server) PostInternalBidRefund(c *gin.Context) {
	const op = "PostInternalBidRefund"
	bidID, ok := bidIDParam(c)
	if !ok {
		return
	}
	var body refundRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Message: err.Error()})
		return
	}
	amount, err := parseDecimal("amount", body.Amount, decimal.Zero)
	if err != nil {
		writeError(c, err)
		return
	}

	outcome, err := s.ledger.ProcessRefund(c.Request.Context(), bidding.RefundRequest{
		BidID:  bidID,
		Amount: amount,
		TxHash: body.TransactionHash,
	})
	if err != nil {
		s.metrics.refunds.WithLabelValues("rejected").Inc()
		writeError(c, fmt.Errorf("[%s] Fail to process refund, err=%w", op, err))
		return
	}
	if outcome.AlreadyRefunded {
		s.metrics.refunds.WithLabelValues("already_refunded").Inc()
	} else {
		s.metrics.refunds.WithLabelValues("refunded").Inc()
	}
	c.JSON(http.StatusOK, refundResponse{
		Bid:             newBidResponse(outcome.Bid),
		AlreadyRefunded: outcome.AlreadyRefunded,
	})
}
