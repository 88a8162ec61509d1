package redis

import (
	"context"
)

// IProducer 將資料寫入 Redis Stream
type IProducer[T any] interface {
	Start()
	Publish(data T) error
	Close()
}

// IConsumer 從 Redis Stream 的最新位置開始廣播式讀取，不做確認
type IConsumer[T any] interface {
	Start()
	Subscribe() <-chan T
	Close()
}

// IGroupConsumer 以消費者群組讀取 Redis Stream，每則訊息需要呼叫 Done 或 Fail
type IGroupConsumer[T any] interface {
	Start() error
	Subscribe() <-chan *Message[T]
	Close() error
}

// IAutoRenewMutex 自動續期的分散式鎖
// Lock 回傳的 context 會在鎖遺失或 Unlock 時被取消
type IAutoRenewMutex interface {
	Lock(ctx context.Context) (context.Context, error)
	Unlock() (bool, error)
	Valid() bool
}
