package sse

import (
	"errors"
	"log/slog"
	"sync"
)

var ErrManagerClosed = errors.New("connection manager is closed")

type managerOptions struct {
	logger     *slog.Logger
	bufferSize int
}

type ManagerOption func(*managerOptions)

// WithManagerLogger 設置日誌記錄器
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(o *managerOptions) {
		o.logger = logger
	}
}

// WithManagerBufferSize 設置每個訂閱者通道的緩衝大小
func WithManagerBufferSize(size int) ManagerOption {
	return func(o *managerOptions) {
		o.bufferSize = size
	}
}

// ConnectionManager 管理多個 SSE 頻道的訂閱，
// 訊息來自跨節點共享的來源，讓每個服務實例都能推送給自己的連線。
type ConnectionManager[T any] struct {
	source ISource[T]
	logger *slog.Logger

	mu     sync.RWMutex   // 保護 active 和 channels 的讀寫
	wg     sync.WaitGroup // 用於等待轉發的 goroutine 完成
	active bool           // 標記 manager 是否正在運作中

	channels map[string]*Channel[T]
	options  managerOptions
}

// NewConnectionManager 建立一個新的連線管理器
func NewConnectionManager[T any](source ISource[T], opts ...ManagerOption) (*ConnectionManager[T], error) {
	if source == nil {
		return nil, errors.New("source cannot be nil")
	}

	// 默認選項
	options := managerOptions{
		logger:     slog.Default(),
		bufferSize: 16,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &ConnectionManager[T]{
		source:   source,
		logger:   options.logger.With(slog.String("caller", "ConnectionManager")),
		channels: make(map[string]*Channel[T]),
		options:  options,
	}, nil
}

// Start 啟動來源並開始轉發訊息。
// 應在呼叫其他方法前先呼叫此方法。
func (cm *ConnectionManager[T]) Start() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.active {
		return
	}

	cm.source.Start()
	cm.active = true

	cm.wg.Add(1)
	go func() {
		defer cm.wg.Done()
		for msg := range cm.source.Subscribe() {
			cm.mu.RLock()
			if channel, ok := cm.channels[msg.Channel]; ok {
				channel.Broadcast(msg.Message)
			}
			cm.mu.RUnlock()
		}
	}()
}

// Done 停止連線管理器的運作，關閉所有訂閱者的通道
func (cm *ConnectionManager[T]) Done() {
	cm.mu.Lock()
	if !cm.active {
		cm.mu.Unlock()
		return
	}
	cm.active = false
	cm.mu.Unlock()

	// 來源關閉後 Subscribe 的通道會被關閉，轉發的 goroutine 隨之結束
	cm.source.Close()
	cm.wg.Wait()

	cm.mu.Lock()
	defer cm.mu.Unlock()
	var dropped int64
	for _, channel := range cm.channels {
		dropped += channel.Dropped()
		channel.UnsubscribeAll()
	}
	clear(cm.channels)
	cm.logger.Info("connection manager stopped", slog.Int64("dropped", dropped))
}

// Subscribe 訂閱指定的頻道。
func (cm *ConnectionManager[T]) Subscribe(channelName string) (<-chan T, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.active {
		return nil, ErrManagerClosed
	}

	c, ok := cm.channels[channelName]
	if !ok {
		c = NewChannel[T](cm.options.bufferSize)
		cm.channels[channelName] = c
	}
	return c.Subscribe(), nil
}

// Unsubscribe 取消訂閱指定的頻道，頻道沒有訂閱者時一併移除。
func (cm *ConnectionManager[T]) Unsubscribe(channelName string, ch <-chan T) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	c, ok := cm.channels[channelName]
	if !ok {
		return
	}

	c.Unsubscribe(ch)
	if c.IsIdle() {
		delete(cm.channels, channelName)
	}
}

// Subscribers 回傳指定頻道目前的訂閱者數量
func (cm *ConnectionManager[T]) Subscribers(channelName string) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	c, ok := cm.channels[channelName]
	if !ok {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscribers)
}
