package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// 存活探針，服務還在運作就回傳 200
// (GET /healthz)
func (s *Server) GetHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// 就緒探針，資料庫與 Redis 都能連線才回傳 200
// (GET /readyz)
func (s *Server) GetReadyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{"database": "ok", "redis": "ok"}
	ready := true
	if err := s.repo.Ping(ctx); err != nil {
		checks["database"] = err.Error()
		ready = false
	}
	if err := s.redisClient.Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
		ready = false
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": checks, "uptime": time.Since(s.startedAt).String()})
}
