package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	redisAdapter "arbiter/adapters/redis"
	"arbiter/settlement"
)

// runSettlementWorker 讀取結算確認並套用到 engine 與退款帳本
func (s *Server) runSettlementWorker(ctx context.Context) {
	logger := s.logger.With(slog.String("caller", "SettlementWorker"))
	logger.Info("Start settlement worker")
	defer logger.Info("Settlement worker stopped")

	ch := s.groupConsumer.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.handleConfirmation(ctx, logger, msg)
		}
	}
}

// handleConfirmation 暫時性錯誤會退避重試，永久性錯誤或重試次數用完時移到死信佇列
func (s *Server) handleConfirmation(ctx context.Context, logger *slog.Logger, msg *redisAdapter.Message[settlement.Confirmation]) {
	confirmation := msg.Data
	logger = logger.With(
		slog.String("messageId", msg.ID()),
		slog.String("kind", string(confirmation.Kind)),
		slog.Int64("auctionID", confirmation.AuctionID),
	)
	logger.Debug("Receive confirmation")

	var err error
	delay := s.config.Settlement.RetryDelay
	for attempt := 1; ; attempt++ {
		err = s.applier.Apply(ctx, confirmation)
		if err == nil || settlement.IsPermanent(err) || attempt >= s.config.Settlement.MaxAttempts {
			break
		}
		logger.Warn("Fail to apply confirmation, retrying", slog.Int("attempt", attempt), slog.Any("error", err))
		if !sleep(ctx, delay) {
			break
		}
		delay *= 2
	}

	// 服務關閉中，訊息留在 pending 中，重新啟動後會再處理
	if ctx.Err() != nil {
		return
	}

	if err == nil {
		s.metrics.settlementMessages.WithLabelValues(string(confirmation.Kind), "applied").Inc()
		if doneErr := msg.Done(ctx); doneErr != nil {
			logger.Error("Apply success but fail to done message", slog.Any("error", doneErr))
		}
		return
	}

	outcome := "failed"
	if settlement.IsPermanent(err) {
		outcome = "rejected"
	}
	s.metrics.settlementMessages.WithLabelValues(string(confirmation.Kind), outcome).Inc()
	logger.Error("Fail to apply confirmation", slog.String("outcome", outcome), slog.Any("error", err))
	if failErr := msg.Fail(ctx, err); failErr != nil {
		logger.Error("Fail to move confirmation to dead letter queue", slog.Any("error", failErr))
	}
}

// runSweeper 持有鎖的實例定期把已經過了結束時間的拍賣轉為 ended
func (s *Server) runSweeper(ctx context.Context) {
	logger := s.logger.With(slog.String("caller", "ExpirySweeper"))
	logger.Info("Start expiry sweeper")
	defer logger.Info("Expiry sweeper stopped")

	for ctx.Err() == nil {
		lockCtx, err := s.sweeperMutex.Lock(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("Fail to acquire sweeper lock", slog.Any("error", err))
			sleep(ctx, s.config.Sweeper.Interval)
			continue
		}
		logger.Debug("Sweeper lock acquired")

		s.sweep(lockCtx, logger)

		if _, err := s.sweeperMutex.Unlock(); err != nil {
			logger.Warn("Fail to release sweeper lock", slog.Any("error", err))
		}
	}
}

func (s *Server) sweep(ctx context.Context, logger *slog.Logger) {
	ticker := time.NewTicker(s.config.Sweeper.Interval)
	defer ticker.Stop()

	for {
		closed, err := s.engine.CloseExpired(ctx, s.config.Sweeper.BatchSize)
		if closed > 0 {
			s.metrics.auctionsExpired.Add(float64(closed))
			logger.Info("Expired auctions closed", slog.Int("count", closed))
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Fail to close expired auctions", slog.Any("error", err))
		}
		// 整批都處理完代表可能還有剩下的，直接處理下一批
		if err == nil && closed == s.config.Sweeper.BatchSize {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sleep 等待 d，ctx 被取消時提早返回 false
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
