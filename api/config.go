package api

import (
	"crypto/ed25519"
	"time"
)

type ServerConfig struct {
	// ID 服務實例的名稱，作為 Redis 消費者群組中的消費者名稱
	ID string

	Auth       AuthConfig
	DB         DBConfig
	Redis      RedisConfig
	Bidding    BiddingConfig
	Sweeper    SweeperConfig
	Settlement SettlementConfig

	// SSEKeepAlive 沒有事件時送出註解行的間隔
	SSEKeepAlive time.Duration
}

type AuthConfig struct {
	PublicKey ed25519.PublicKey
	Issuer    string
	Audience  string
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string

	AutoMigrate bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	KeyPrefix     string
	ConsumerGroup string
	StreamKeys    RedisStreamKeys
	// EventStreamMaxLen 事件 Stream 的大約長度上限，0 表示不修剪
	EventStreamMaxLen int64
}

type RedisStreamKeys struct {
	// Events 已提交的拍賣事件，每個實例都會廣播式讀取並推送給 SSE 連線
	Events string
	// Settlement 鏈上結算確認，以消費者群組讀取
	Settlement string
}

type BiddingConfig struct {
	MaxCommitAttempts  int
	AntiSnipeWindow    time.Duration
	AntiSnipeExtension time.Duration
}

type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
}

type SettlementConfig struct {
	// MaxAttempts 暫時性錯誤的最大處理次數，超過後移到死信佇列
	MaxAttempts int
	RetryDelay  time.Duration
}
