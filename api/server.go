package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	redisAdapter "arbiter/adapters/redis"
	"arbiter/adapters/sse"
	"arbiter/bidding"
	"arbiter/settlement"
	"arbiter/store"
)

type serverOptions struct {
	logger *slog.Logger
	clock  func() time.Time
}

type ServerOption func(*serverOptions)

// WithServerLogger 設置日誌記錄器
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// WithServerClock 設置 engine 與退款帳本使用的時間來源
func WithServerClock(clock func() time.Time) ServerOption {
	return func(o *serverOptions) {
		o.clock = clock
	}
}

type Server struct {
	config ServerConfig
	logger *slog.Logger
	now    func() time.Time

	db          *gorm.DB
	repo        *store.Repository
	redisClient *redis.Client

	engine  *bidding.Engine
	ledger  *bidding.RefundLedger
	applier *settlement.Applier

	producer      *redisAdapter.Producer[sse.PublishRequest[bidding.AuctionEvent]]
	sseManager    *sse.ConnectionManager[bidding.AuctionEvent]
	groupConsumer *redisAdapter.GroupConsumer[settlement.Confirmation]
	sweeperMutex  redisAdapter.IAutoRenewMutex

	verifier    *TokenVerifier
	htmlPolicy  *bluemonday.Policy
	titlePolicy *bluemonday.Policy
	metrics     *Metrics
	router      *gin.Engine

	ownsConnections bool
	startedAt       time.Time
	wg              sync.WaitGroup
	cancelFunc      context.CancelFunc
}

// NewServer 建立資料庫與 Redis 連線後初始化服務
func NewServer(config ServerConfig, opts ...ServerOption) (*Server, error) {
	const op = "NewServer"

	// 初始化資料庫連線
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", config.DB.User, config.DB.Password, config.DB.Host, config.DB.Port, config.DB.Database)
	if config.DB.Schema != "" {
		dsn += "&search_path=" + config.DB.Schema
	}
	db, err := store.Open(postgres.Open(dsn), config.DB.Schema)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}
	if config.DB.AutoMigrate {
		if err := store.Migrate(db); err != nil {
			return nil, fmt.Errorf("[%s] Fail to migrate database, err=%w", op, err)
		}
	}

	// 初始化Redis連線
	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	server, err := NewServerWithConnections(config, db, redisClient, opts...)
	if err != nil {
		redisClient.Close()
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, err
	}
	server.ownsConnections = true
	return server, nil
}

// NewServerWithConnections 使用已經建立好的連線初始化服務，Close 時不會關閉這些連線
func NewServerWithConnections(config ServerConfig, db *gorm.DB, redisClient *redis.Client, opts ...ServerOption) (*Server, error) {
	const op = "NewServerWithConnections"
	if db == nil || redisClient == nil {
		return nil, errors.New("database and redis client cannot be nil")
	}

	// 默認選項
	options := serverOptions{
		logger: slog.Default(),
		clock:  time.Now,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	config = withDefaults(config)
	logger := options.logger

	verifier, err := NewTokenVerifier(config.Auth)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create token verifier, err=%w", op, err)
	}

	// 初始化拍賣事件的 Stream 與 SSE 管理器
	producer, err := redisAdapter.NewProducer[sse.PublishRequest[bidding.AuctionEvent]](
		redisClient,
		config.Redis.StreamKeys.Events,
		redisAdapter.WithProducerLogger[sse.PublishRequest[bidding.AuctionEvent]](logger),
		redisAdapter.WithProducerMaxLen[sse.PublishRequest[bidding.AuctionEvent]](config.Redis.EventStreamMaxLen),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create producer, err=%w", op, err)
	}
	consumer, err := redisAdapter.NewConsumer[sse.PublishRequest[bidding.AuctionEvent]](
		redisClient,
		config.Redis.StreamKeys.Events,
		redisAdapter.WithConsumerLogger[sse.PublishRequest[bidding.AuctionEvent]](logger),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create consumer, err=%w", op, err)
	}
	sseManager, err := sse.NewConnectionManager[bidding.AuctionEvent](consumer, sse.WithManagerLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create sse connection manager, err=%w", op, err)
	}

	// 初始化出價仲裁
	repo := store.NewRepository(db)
	engine, err := bidding.NewEngine(
		repo,
		bidding.WithEngineLogger(logger),
		bidding.WithEngineClock(options.clock),
		bidding.WithEngineMaxCommitAttempts(config.Bidding.MaxCommitAttempts),
		bidding.WithEngineAntiSnipe(config.Bidding.AntiSnipeWindow, config.Bidding.AntiSnipeExtension),
		bidding.WithEnginePublisher(newEventPublisher(producer)),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create engine, err=%w", op, err)
	}
	ledger, err := bidding.NewRefundLedger(
		repo,
		bidding.WithRefundLedgerLogger(logger),
		bidding.WithRefundLedgerClock(options.clock),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create refund ledger, err=%w", op, err)
	}

	// 初始化結算確認的 group consumer
	applier, err := settlement.NewApplier(engine, ledger, settlement.WithApplierLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create settlement applier, err=%w", op, err)
	}
	groupConsumer, err := redisAdapter.NewGroupConsumer[settlement.Confirmation](
		redisClient,
		config.Redis.StreamKeys.Settlement,
		config.Redis.ConsumerGroup,
		config.ID,
		redisAdapter.WithGroupConsumerLogger[settlement.Confirmation](logger),
		redisAdapter.WithGroupConsumerStrictOrdering[settlement.Confirmation](true),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create group consumer, err=%w", op, err)
	}

	server := &Server{
		config:        config,
		logger:        logger,
		now:           options.clock,
		db:            db,
		repo:          repo,
		redisClient:   redisClient,
		engine:        engine,
		ledger:        ledger,
		applier:       applier,
		producer:      producer,
		sseManager:    sseManager,
		groupConsumer: groupConsumer,
		sweeperMutex: redisAdapter.NewAutoRenewMutex(
			redisClient,
			config.Redis.KeyPrefix+"lock:sweeper",
			redisAdapter.WithAutoRenewMutexLogger(logger),
			redisAdapter.WithAutoRenewMutexSkipLockError(true),
		),
		verifier:    verifier,
		htmlPolicy:  bluemonday.UGCPolicy(),
		titlePolicy: bluemonday.StrictPolicy(),
		metrics:     NewMetrics(),
		startedAt:   time.Now(),
	}

	router := gin.New()
	// 只信任直接連線的位址，避免 X-Forwarded-For 繞過 LocalOnly
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, fmt.Errorf("[%s] Fail to set trusted proxies, err=%w", op, err)
	}
	router.Use(gin.Recovery(), RequestLogger(logger))
	server.RegisterRoutes(router)
	server.router = router

	return server, nil
}

func withDefaults(config ServerConfig) ServerConfig {
	if config.ID == "" {
		config.ID = "arbiter"
	}
	if config.Redis.ConsumerGroup == "" {
		config.Redis.ConsumerGroup = "arbiter"
	}
	if config.Redis.StreamKeys.Events == "" {
		config.Redis.StreamKeys.Events = config.Redis.KeyPrefix + "auction-events"
	}
	if config.Redis.StreamKeys.Settlement == "" {
		config.Redis.StreamKeys.Settlement = config.Redis.KeyPrefix + "settlement"
	}
	if config.Bidding.MaxCommitAttempts == 0 {
		config.Bidding.MaxCommitAttempts = bidding.DefaultMaxCommitAttempts
	}
	if config.Bidding.AntiSnipeWindow == 0 {
		config.Bidding.AntiSnipeWindow = bidding.DefaultAntiSnipeWindow
	}
	if config.Bidding.AntiSnipeExtension == 0 {
		config.Bidding.AntiSnipeExtension = bidding.DefaultAntiSnipeExtension
	}
	if config.Sweeper.Interval <= 0 {
		config.Sweeper.Interval = 5 * time.Second
	}
	if config.Sweeper.BatchSize <= 0 {
		config.Sweeper.BatchSize = 100
	}
	if config.Settlement.MaxAttempts <= 0 {
		config.Settlement.MaxAttempts = 5
	}
	if config.Settlement.RetryDelay <= 0 {
		config.Settlement.RetryDelay = 200 * time.Millisecond
	}
	if config.SSEKeepAlive <= 0 {
		config.SSEKeepAlive = 30 * time.Second
	}
	return config
}

// RegisterRoutes 註冊所有路由
func (s *Server) RegisterRoutes(router gin.IRouter) {
	router.GET("/healthz", s.GetHealthz)
	router.GET("/readyz", s.GetReadyz)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	router.GET("/openapi.yaml", s.GetOpenAPI)

	auth := RequireBidder(s.verifier, s.repo.Users())
	router.POST("/auctions", auth, s.PostAuctions)
	router.GET("/auctions", s.GetAuctions)
	router.GET("/auctions/:auctionID", s.GetAuction)
	router.GET("/auctions/:auctionID/bids", s.GetAuctionBids)
	router.POST("/auctions/:auctionID/bids", auth, s.PostAuctionBids)
	router.POST("/auctions/:auctionID/cancel", auth, s.PostAuctionCancel)
	router.GET("/auctions/:auctionID/events", s.GetAuctionEvents)
	router.GET("/bids/:bidID", s.GetBid)

	internal := router.Group("/internal", LocalOnly())
	internal.POST("/auctions/:auctionID/activate", s.PostInternalAuctionActivate)
	internal.POST("/auctions/:auctionID/close", s.PostInternalAuctionClose)
	internal.POST("/auctions/:auctionID/finalize", s.PostInternalAuctionFinalize)
	internal.GET("/auctions/:auctionID/refunds", s.GetInternalAuctionRefunds)
	internal.POST("/bids/:bidID/refund", s.PostInternalBidRefund)
}

// Handler 回傳處理 HTTP 請求的 handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 啟動事件 Stream、SSE 管理器、結算 worker 與過期拍賣的清理
func (s *Server) Start() error {
	const op = "Server.Start"
	// 啟動producer
	s.producer.Start()
	// 啟動sse connection manager
	s.sseManager.Start()
	// 啟動group consumer
	if err := s.groupConsumer.Start(); err != nil {
		return fmt.Errorf("[%s] Fail to start group consumer, err=%w", op, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.runSettlementWorker(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.runSweeper(ctx)
	}()
	return nil
}

// StopStreaming 關閉所有 SSE 連線，讓 HTTP server 可以順利關閉
func (s *Server) StopStreaming() {
	s.sseManager.Done()
}

func (s *Server) Close() {
	// 關閉worker
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.wg.Wait()
	// 關閉group consumer
	if err := s.groupConsumer.Close(); err != nil {
		s.logger.Warn("Fail to close group consumer", slog.Any("error", err))
	}
	// 關閉sse connection manager
	s.sseManager.Done()
	// 送出尚未寫入的事件
	s.producer.Close()

	if s.ownsConnections {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Warn("Fail to close redis client", slog.Any("error", err))
		}
		if sqlDB, err := s.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				s.logger.Warn("Fail to close database", slog.Any("error", err))
			}
		}
	}
}
