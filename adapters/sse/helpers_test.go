package sse_test

import (
	"io"
	"log"
	"log/slog"
	"sync"
	"testing"
	"time"

	"arbiter/adapters/sse"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// Message 表示一個 SSE 訊息，包含資料字段。
type Message struct {
	Data string `json:"data" msgpack:"data"`
}

// fakeSource 以記憶體 channel 模擬跨節點的訊息來源
type fakeSource struct {
	mu      sync.Mutex
	ch      chan sse.PublishRequest[Message]
	started int
	closed  bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan sse.PublishRequest[Message], 16)}
}

func (s *fakeSource) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
}

func (s *fakeSource) Subscribe() <-chan sse.PublishRequest[Message] {
	return s.ch
}

func (s *fakeSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *fakeSource) send(channel, data string) {
	s.ch <- sse.PublishRequest[Message]{Channel: channel, Message: Message{Data: data}}
}

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
