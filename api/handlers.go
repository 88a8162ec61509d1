package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"arbiter/bidding"
	"arbiter/models"
	"arbiter/store"
)

const maxListLimit = 100

type createAuctionRequest struct {
	AuctionID       int64      `json:"auctionId" binding:"required,gt=0"`
	Title           string     `json:"title" binding:"required,max=255"`
	Description     string     `json:"description"`
	StartingPrice   string     `json:"startingPrice" binding:"required"`
	ReservePrice    string     `json:"reservePrice"`
	MinBidIncrement string     `json:"minBidIncrement" binding:"required"`
	StartTime       *time.Time `json:"startTime"`
	EndTime         time.Time  `json:"endTime" binding:"required"`
}

type placeBidRequest struct {
	Amount          string `json:"amount" binding:"required"`
	TransactionHash string `json:"transactionHash" binding:"required,max=128"`
	BlockNumber     uint64 `json:"blockNumber"`
}

func auctionIDParam(c *gin.Context) (int64, bool) {
	auctionID, err := strconv.ParseInt(c.Param("auctionID"), 10, 64)
	if err != nil || auctionID <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid auction id"})
		return 0, false
	}
	return auctionID, true
}

func bidIDParam(c *gin.Context) (uuid.UUID, bool) {
	bidID, err := uuid.Parse(c.Param("bidID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid bid id"})
		return uuid.Nil, false
	}
	return bidID, true
}

func parseDecimal(field, value string, fallback decimal.Decimal) (decimal.Decimal, error) {
	if value == "" {
		return fallback, nil
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %q is not a decimal", bidding.ErrInvalidRequest, field, value)
	}
	return parsed, nil
}

// Create an auction
// (POST /auctions)
func (s *Server) PostAuctions(c *gin.Context) {
	const op = "PostAuctions"
	var body createAuctionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Message: err.Error()})
		return
	}

	startingPrice, err := parseDecimal("startingPrice", body.StartingPrice, decimal.Zero)
	if err != nil {
		writeError(c, err)
		return
	}
	// 沒有指定底價時以起標價為底價
	reservePrice, err := parseDecimal("reservePrice", body.ReservePrice, startingPrice)
	if err != nil {
		writeError(c, err)
		return
	}
	minBidIncrement, err := parseDecimal("minBidIncrement", body.MinBidIncrement, decimal.Zero)
	if err != nil {
		writeError(c, err)
		return
	}
	startTime := s.now()
	if body.StartTime != nil {
		startTime = *body.StartTime
	}

	auction, err := s.engine.CreateAuction(c.Request.Context(), bidding.CreateAuctionRequest{
		AuctionID:       body.AuctionID,
		Title:           s.titlePolicy.Sanitize(body.Title),
		Description:     s.htmlPolicy.Sanitize(body.Description),
		StartingPrice:   startingPrice,
		ReservePrice:    reservePrice,
		MinBidIncrement: minBidIncrement,
		StartTime:       startTime,
		EndTime:         body.EndTime,
		Seller:          bidderFrom(c),
	})
	if err != nil {
		writeError(c, fmt.Errorf("[%s] Fail to create auction, err=%w", op, err))
		return
	}
	c.Header("Location", "/auctions/"+auctionChannel(auction.AuctionID))
	c.JSON(http.StatusCreated, newAuctionResponse(auction))
}

// List auctions
// (GET /auctions)
func (s *Server) GetAuctions(c *gin.Context) {
	const op = "GetAuctions"
	filter := store.ListFilter{Limit: 20}
	if status := c.Query("status"); status != "" {
		auctionStatus := models.AuctionStatus(status)
		if !auctionStatus.IsValid() {
			c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid status"})
			return
		}
		filter.Status = &auctionStatus
	}
	if limit := c.Query("limit"); limit != "" {
		value, err := strconv.Atoi(limit)
		if err != nil || value <= 0 || value > maxListLimit {
			c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid limit"})
			return
		}
		filter.Limit = value
	}
	if offset := c.Query("offset"); offset != "" {
		value, err := strconv.Atoi(offset)
		if err != nil || value < 0 {
			c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid offset"})
			return
		}
		filter.Offset = value
	}

	auctions, err := s.engine.ListAuctions(c.Request.Context(), filter)
	if err != nil {
		writeError(c, fmt.Errorf("[%s] Fail to list auctions, err=%w", op, err))
		return
	}
	c.JSON(http.StatusOK, newAuctionResponses(auctions))
}

// Get auction details
// (GET /auctions/:auctionID)
func (s *Server) GetAuction(c *gin.Context) {
	const op = "GetAuction"
	auctionID, ok := auctionIDParam(c)
	if !ok {
		return
	}
	auction, err := s.engine.GetAuction(c.Request.Context(), auctionID)
	if err != nil {
		writeError(c, fmt.Errorf("[%s] Fail to get auction, err=%w", op, err))
		return
	}
	c.JSON(http.StatusOK, newAuctionResponse(auction))
}

// List bids of an auction
// (GET /auctions/:auctionID/bids)
func (s *Server) GetAuctionBids(c *gin.Context) {
	const op = "GetAuctionBids"
	auctionID, ok := auctionIDParam(c)
	if !ok {
		return
	}
	bids, err := s.engine.ListBids(c.Request.Context(), auctionID)
	if err != nil {
		writeError(c, fmt.Errorf("[%s] Fail to list bids, err=%w", op, err))
		return
	}
	c.JSON(http.StatusOK, newBidResponses(bids))
}

// Place a bid on an auction
// (POST /auctions/:auctionID/bids)
func (s *Server) PostAuctionBids(c *gin.Context) {
	const op = "PostAuctionBids"
	auctionID, ok := auctionIDParam(c)
	if !ok {
		return
	}
	var body placeBidRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Message: err.Error()})
		return
	}
	req, err := bidding.NewBidRequest(auctionID, bidderFrom(c), body.Amount, body.TransactionHash, body.BlockNumber)
	if err != nil {
		s.metrics.bids.WithLabelValues("invalid").Inc()
		writeError(c, err)
		return
	}

	result, err := s.engine.PlaceBid(c.Request.Context(), req)
	if err != nil {
		if reason, ok := bidding.RejectionReason(err); ok {
			s.metrics.bids.WithLabelValues(string(reason)).Inc()
		} else {
			s.metrics.bids.WithLabelValues("error").Inc()
		}
		writeError(c, fmt.Errorf("[%s] Fail to place bid, err=%w", op, err))
		return
	}
	s.metrics.bids.WithLabelValues("accepted").Inc()

	c.Header("Location", "/bids/"+result.Bid.ID.String())
	c.JSON(http.StatusCreated, placeBidResponse{
		Bid:      newBidResponse(result.Bid),
		Auction:  newAuctionResponse(result.Auction),
		Extended: result.Extended,
	})
}

// Cancel an auction without bids
// (POST /auctions/:auctionID/cancel)
func (s *Server) PostAuctionCancel(c *gin.Context) {
	const op = "PostAuctionCancel"
	auctionID, ok := auctionIDParam(c)
	if !ok {
		return
	}
	auction, err := s.engine.CancelAuction(c.Request.Context(), auctionID, bidderFrom(c))
	if err != nil {
		writeError(c, fmt.Errorf("[%s] Fail to cancel auction, err=%w", op, err))
		return
	}
	c.JSON(http.StatusOK, newAuctionResponse(auction))
}

// Get bid details
// (GET /bids/:bidID)
func (s *Server) GetBid(c *gin.Context) {
	const op = "GetBid"
	bidID, ok := bidIDParam(c)
	if !ok {
		return
	}
	bid, err := s.engine.GetBid(c.Request.Context(), bidID)
	if err != nil {
		writeError(c, fmt.Errorf("[%s] Fail to get bid, err=%w", op, err))
		return
	}
	c.JSON(http.StatusOK, newBidResponse(bid))
}
