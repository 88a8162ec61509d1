package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrConsumerClosed = errors.New("consumer is closed")
)

// Message 封裝消息和ack所需資料
type Message[T any] struct {
	Data T

	client     *redis.Client
	done       bool
	messageID  string
	stream     string
	group      string
	deadLetter string

	raw map[string]any
}

// ID 回傳 Stream 訊息ID
func (m *Message[T]) ID() string {
	return m.messageID
}

// Done 確認消息已處理完成
func (m *Message[T]) Done(ctx context.Context) error {
	const op = "Message.Done"
	if m.done {
		return nil
	}
	if err := m.client.XAck(ctx, m.stream, m.group, m.messageID).Err(); err != nil {
		return fmt.Errorf("%s: failed to ack message: %w", op, err)
	}
	m.done = true
	return nil
}

// Fail 將消息連同錯誤原因移到死信佇列並確認
func (m *Message[T]) Fail(ctx context.Context, failErr error) error {
	const op = "Message.Fail"
	if m.done {
		return nil
	}

	values := make(map[string]any, len(m.raw)+2)
	for k, v := range m.raw {
		values[k] = v
	}
	values["error"] = failErr.Error()
	values["messageId"] = m.messageID

	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: m.deadLetter, Values: values})
		pipe.XAck(ctx, m.stream, m.group, m.messageID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: failed to move message to dead letter queue: %w", op, err)
	}
	m.done = true
	return nil
}

type groupConsumerOptions[T any] struct {
	logger         *slog.Logger
	decodeFunc     func(map[string]any) (T, error)
	bufferSize     int
	blockTimeout   time.Duration
	retryDelay     time.Duration
	startID        string
	deadLetter     string
	mutex          IAutoRenewMutex
	strictOrdering bool
}

type GroupConsumerOption[T any] func(*groupConsumerOptions[T])

// WithGroupConsumerLogger 設置日誌記錄器
func WithGroupConsumerLogger[T any](logger *slog.Logger) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.logger = logger
	}
}

// WithGroupConsumerDecodeFunc 設置消息解析函數
func WithGroupConsumerDecodeFunc[T any](fn func(map[string]any) (T, error)) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.decodeFunc = fn
	}
}

// WithGroupConsumerBufferSize 設置下游channel的緩衝大小
func WithGroupConsumerBufferSize[T any](size int) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.bufferSize = size
	}
}

// WithGroupConsumerBlockTimeout 設置阻塞讀取超時時間
func WithGroupConsumerBlockTimeout[T any](d time.Duration) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.blockTimeout = d
	}
}

// WithGroupConsumerRetryDelay 設置讀取失敗後的等待時間
func WithGroupConsumerRetryDelay[T any](d time.Duration) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.retryDelay = d
	}
}

// WithGroupConsumerStartID 設置群組不存在時，建立群組使用的起始ID
func WithGroupConsumerStartID[T any](id string) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.startID = id
	}
}

// WithGroupConsumerDeadLetterStream 設置死信佇列的 Stream 名稱
func WithGroupConsumerDeadLetterStream[T any](stream string) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.deadLetter = stream
	}
}

// WithGroupConsumerMutex 注入mutex (主要用於測試)
func WithGroupConsumerMutex[T any](mutex IAutoRenewMutex) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.mutex = mutex
	}
}

// WithGroupConsumerStrictOrdering 設置是否使用嚴格順序模式
// 嚴格順序模式下同一時間只有持有鎖的實例會讀取訊息，並且會先處理整個群組的 pending 訊息
func WithGroupConsumerStrictOrdering[T any](strict bool) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.strictOrdering = strict
	}
}

type GroupConsumer[T any] struct {
	client        *redis.Client
	stream        string
	group         string
	consumer      string
	downStream    chan *Message[T]
	cancelFunc    context.CancelFunc
	wg            sync.WaitGroup
	mu            sync.Mutex
	closed        bool
	logger        *slog.Logger
	mutex         IAutoRenewMutex
	pendingMsgIds []string
	cursor        string
	options       groupConsumerOptions[T]
}

func NewGroupConsumer[T any](
	client *redis.Client,
	stream, group, consumer string,
	opts ...GroupConsumerOption[T],
) (*GroupConsumer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" || group == "" || consumer == "" {
		return nil, errors.New("stream, group and consumer cannot be empty")
	}

	// 默認選項
	options := groupConsumerOptions[T]{
		logger:       slog.Default(),
		decodeFunc:   DecodePayload[T],
		bufferSize:   1,
		blockTimeout: time.Second,
		retryDelay:   100 * time.Millisecond,
		startID:      "0",
		deadLetter:   stream + ":dead-letter",
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	gc := &GroupConsumer[T]{
		logger: options.logger.With(
			slog.String("caller", "GroupConsumer"),
			slog.String("stream", stream),
			slog.String("group", group),
			slog.String("consumer", consumer),
		),
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		closed:   true,
		options:  options,
	}

	// 只在嚴格順序模式下設置mutex
	if options.strictOrdering {
		if options.mutex != nil {
			gc.mutex = options.mutex
		} else {
			gc.mutex = NewAutoRenewMutex(client, fmt.Sprintf("lock:%s:%s", stream, group), WithAutoRenewMutexSkipLockError(true))
		}
	}

	return gc, nil
}

// Start 建立消費者群組（已存在時略過）並開始讀取
func (s *GroupConsumer[T]) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		return nil
	}

	if err := s.ensureGroup(context.Background()); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.downStream = make(chan *Message[T], s.options.bufferSize)
	s.cancelFunc = cancel
	s.closed = false
	s.logger.Info("starting group consumer")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("group consumer goroutine stopped")
		defer close(s.downStream)

		for ctx.Err() == nil {
			workloadContext := ctx

			// 嚴格順序模式下先拿鎖，workloadContext 會在鎖遺失時被取消
			if s.options.strictOrdering {
				var err error
				workloadContext, err = s.mutex.Lock(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					s.logger.Error("failed to acquire lock", slog.Any("error", err))
					sleep(ctx, s.options.retryDelay)
					continue
				}
			}

			err := s.messagesWorkflow(workloadContext)
			if s.options.strictOrdering {
				if _, unlockErr := s.mutex.Unlock(); unlockErr != nil {
					s.logger.Warn("failed to release lock", slog.Any("error", unlockErr))
				}
			}
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.Canceled) {
				s.logger.Warn("lock lost, restarting group consumer")
			} else if err != nil {
				s.logger.Error("error processing messages, restarting group consumer", slog.Any("error", err))
				sleep(ctx, s.options.retryDelay)
			}
		}
	}()

	return nil
}

func (s *GroupConsumer[T]) ensureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, s.options.startID).Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Subscribe 訂閱Stream，返回Message通道
func (s *GroupConsumer[T]) Subscribe() <-chan *Message[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downStream
}

func (s *GroupConsumer[T]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.logger.Info("closing group consumer")
	s.closed = true
	s.cancelFunc()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("group consumer closed gracefully")
	return nil
}

// messagesWorkflow 每一輪開始時先重送 pending 訊息，之後才讀取新訊息
func (s *GroupConsumer[T]) messagesWorkflow(ctx context.Context) error {
	s.cursor = "0"
	s.pendingMsgIds = nil
	if s.options.strictOrdering {
		if err := s.fetchPendingMessageIds(ctx); err != nil {
			return err
		}
		s.cursor = ">"
	}

	for {
		if ctx.Err() != nil {
			return context.Canceled
		}
		message, err := s.fetchNextMessage(ctx)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return context.Canceled
			}
			// 其他的錯誤一般是server跟redis之間的通訊異常
			return fmt.Errorf("fetch message error: %w", err)
		}

		// pending 中的訊息已經從 Stream 刪除
		if len(message.Values) == 0 {
			if err := s.client.XAck(ctx, s.stream, s.group, message.ID).Err(); err != nil {
				return fmt.Errorf("ack deleted message error: %w", err)
			}
			continue
		}

		data, err := s.options.decodeFunc(message.Values)
		if err != nil {
			// 解析失敗重試也不會成功，移到死信佇列後繼續
			s.logger.Error("failed to decode message",
				slog.String("messageId", message.ID),
				slog.Any("error", err),
			)
			msg := s.newMessage(message, data)
			if deadLetterErr := msg.Fail(ctx, err); deadLetterErr != nil {
				// 訊息留在 pending 中，下一輪開始時會再處理
				return deadLetterErr
			}
			continue
		}

		select {
		case <-ctx.Done():
			// 訊息留在 pending 中，下一輪開始時會再處理
			return context.Canceled
		case s.downStream <- s.newMessage(message, data):
		}
	}
}

func (s *GroupConsumer[T]) newMessage(message redis.XMessage, data T) *Message[T] {
	return &Message[T]{
		Data:       data,
		messageID:  message.ID,
		stream:     s.stream,
		group:      s.group,
		deadLetter: s.options.deadLetter,
		client:     s.client,
		raw:        message.Values,
	}
}

// fetchPendingMessageIds 取得整個群組尚未確認的訊息ID
func (s *GroupConsumer[T]) fetchPendingMessageIds(ctx context.Context) error {
	s.pendingMsgIds = make([]string, 0, 100)
	start := "-"

	for {
		pending, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: s.stream,
			Group:  s.group,
			Start:  start,
			End:    "+",
			Count:  100,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break
			}
			return fmt.Errorf("error getting pending messages: %w", err)
		}

		for _, p := range pending {
			s.pendingMsgIds = append(s.pendingMsgIds, p.ID)
		}
		if len(pending) < 100 {
			break
		}
		// 排除已經取得的最後一筆
		start = "(" + pending[len(pending)-1].ID
	}

	s.logger.Info("fetched pending message IDs", slog.Int("count", len(s.pendingMsgIds)))
	return nil
}

func (s *GroupConsumer[T]) fetchNextMessage(ctx context.Context) (redis.XMessage, error) {
	// 嚴格順序模式：依序讀取整個群組的 pending 訊息
	if len(s.pendingMsgIds) > 0 {
		id := s.pendingMsgIds[0]
		s.pendingMsgIds = s.pendingMsgIds[1:]
		messages, err := s.client.XRangeN(ctx, s.stream, id, id, 1).Result()
		if err != nil {
			return redis.XMessage{}, err
		}
		if len(messages) == 0 {
			return redis.XMessage{ID: id}, nil
		}
		return messages[0], nil
	}

	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, s.cursor},
		Count:    1,
		Block:    s.options.blockTimeout,
	}).Result()
	if err != nil {
		return redis.XMessage{}, err
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		// 自己的 pending 訊息已經讀完，改為讀取新訊息
		if s.cursor != ">" {
			s.cursor = ">"
		}
		return redis.XMessage{}, redis.Nil
	}

	message := streams[0].Messages[0]
	if s.cursor != ">" {
		s.cursor = message.ID
	}
	return message, nil
}
