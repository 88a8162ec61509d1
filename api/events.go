package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	redisAdapter "arbiter/adapters/redis"
	"arbiter/adapters/sse"
	"arbiter/bidding"
)

// eventPublisher 將拍賣事件寫入 Redis Stream，頻道名稱為拍賣編號
type eventPublisher struct {
	producer redisAdapter.IProducer[sse.PublishRequest[bidding.AuctionEvent]]
}

func newEventPublisher(producer redisAdapter.IProducer[sse.PublishRequest[bidding.AuctionEvent]]) *eventPublisher {
	return &eventPublisher{producer: producer}
}

func (p *eventPublisher) Publish(event bidding.AuctionEvent) error {
	return p.producer.Publish(sse.PublishRequest[bidding.AuctionEvent]{
		Channel: auctionChannel(event.AuctionID),
		Message: event,
	})
}

func auctionChannel(auctionID int64) string {
	return strconv.FormatInt(auctionID, 10)
}

// Track auction events
// (GET /auctions/:auctionID/events)
func (s *Server) GetAuctionEvents(c *gin.Context) {
	const op = "GetAuctionEvents"
	auctionID, ok := auctionIDParam(c)
	if !ok {
		return
	}
	auction, err := s.engine.GetAuction(c.Request.Context(), auctionID)
	if err != nil {
		writeError(c, fmt.Errorf("[%s] Fail to get auction, err=%w", op, err))
		return
	}
	// 已經結束的拍賣不會再有出價事件
	if auction.Status.IsOver() {
		c.JSON(http.StatusGone, errorResponse{Message: "auction has ended"})
		return
	}

	channel := auctionChannel(auctionID)
	ch, err := s.sseManager.Subscribe(channel)
	if err != nil {
		writeError(c, fmt.Errorf("[%s] Fail to subscribe to auction events, err=%w", op, err))
		return
	}
	defer s.sseManager.Unsubscribe(channel, ch)

	// SSE請求合法，開始初始化串流
	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	c.SSEvent("snapshot", newAuctionResponse(auction))
	w.Flush()

	keepAlive := time.NewTicker(s.config.SSEKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				// 服務關閉中
				return
			}
			c.SSEvent(string(event.Type), event)
			w.Flush()
		// 一段時間沒有事件就發送一個註解行，確保瀏覽器和代理不會斷開連線
		case <-keepAlive.C:
			if _, err := w.WriteString(": keep-alive\n\n"); err != nil {
				return
			}
			w.Flush()
		}
	}
}
