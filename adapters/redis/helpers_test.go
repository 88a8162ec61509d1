package redis

import (
	"io"
	"log"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func setupTest(t *testing.T) (*redis.Client, redismock.ClientMock, func()) {
	db, mock := redismock.NewClientMock()
	return db, mock, func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	}
}

// setupMiniredis 啟動一個 miniredis，cleanup 會先關閉 client 再關閉 server
func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client, func()) {
	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client, func() {
		client.Close()
		mr.Close()
	}
}

type TestMessage struct {
	ID        string          `msgpack:"id"`
	AuctionID int64           `msgpack:"auctionId"`
	Amount    decimal.Decimal `msgpack:"amount"`
	At        time.Time       `msgpack:"at"`
}

func newTestMessage(id string) TestMessage {
	return TestMessage{
		ID:        id,
		AuctionID: 42,
		Amount:    decimal.RequireFromString("1.25"),
		At:        time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
	}
}

// receive 在timeout內從channel讀取一筆資料
func receive[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return v
	case <-time.After(timeout):
		t.Fatal("did not receive message in time")
	}
	var zero T
	return zero
}
