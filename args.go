package main

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"arbiter/api"
	"arbiter/bidding"
)

func ParseArgs() (Args, error) {
	// config file
	pflag.String("config", "", "path to a YAML config file")

	// server config
	pflag.String("server-url", "0.0.0.0:8080", "")
	pflag.String("server-id", "", "consumer name of this instance, defaults to the hostname")
	pflag.String("log-level", "info", "debug, info, warn or error")
	pflag.Duration("sse-keep-alive", 30*time.Second, "")
	pflag.Duration("shutdown-timeout", 10*time.Second, "")

	// auth config
	pflag.String("auth-public-key-file", "", "PEM encoded Ed25519 public key of the identity service")
	pflag.String("auth-issuer", "", "")
	pflag.String("auth-audience", "", "")

	// db config
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "", "")
	pflag.Bool("db-auto-migrate", true, "")

	// redis config
	pflag.String("redis-addr", "", "")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 15, "")
	pflag.String("redis-key-prefix", "arbiter:", "")
	pflag.String("redis-consumer-group", "arbiter", "")
	pflag.Int64("redis-event-stream-max-len", 100000, "")

	// redis stream keys
	pflag.String("redis-stream-key-for-events", "arbiter:auction-events", "")
	pflag.String("redis-stream-key-for-settlement", "arbiter:settlement", "")

	// bidding config
	pflag.Int("bidding-max-commit-attempts", bidding.DefaultMaxCommitAttempts, "")
	pflag.Duration("bidding-anti-snipe-window", bidding.DefaultAntiSnipeWindow, "")
	pflag.Duration("bidding-anti-snipe-extension", bidding.DefaultAntiSnipeExtension, "")

	// worker config
	pflag.Duration("sweeper-interval", 5*time.Second, "")
	pflag.Int("sweeper-batch-size", 100, "")
	pflag.Int("settlement-max-attempts", 5, "")
	pflag.Duration("settlement-retry-delay", 200*time.Millisecond, "")

	// bind pflag to viper
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("ARBITER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			return Args{}, fmt.Errorf("fail to read config file, err=%w", err)
		}
	}

	serverID := viper.GetString("server-id")
	if serverID == "" {
		serverID, _ = os.Hostname()
	}

	var publicKey ed25519.PublicKey
	if keyFile := viper.GetString("auth-public-key-file"); keyFile != "" {
		key, err := readPublicKey(keyFile)
		if err != nil {
			return Args{}, err
		}
		publicKey = key
	}

	// initial arguments
	return Args{
		ServerURL:       viper.GetString("server-url"),
		LogLevel:        viper.GetString("log-level"),
		ShutdownTimeout: viper.GetDuration("shutdown-timeout"),
		ServerConfig: api.ServerConfig{
			ID:           serverID,
			SSEKeepAlive: viper.GetDuration("sse-keep-alive"),
			Auth: api.AuthConfig{
				PublicKey: publicKey,
				Issuer:    viper.GetString("auth-issuer"),
				Audience:  viper.GetString("auth-audience"),
			},
			DB: api.DBConfig{
				User:        viper.GetString("db-user"),
				Password:    viper.GetString("db-password"),
				Host:        viper.GetString("db-host"),
				Port:        viper.GetInt("db-port"),
				Database:    viper.GetString("db-database"),
				Schema:      viper.GetString("db-schema"),
				AutoMigrate: viper.GetBool("db-auto-migrate"),
			},
			Redis: api.RedisConfig{
				Addr:              viper.GetString("redis-addr"),
				Password:          viper.GetString("redis-password"),
				DB:                viper.GetInt("redis-db"),
				KeyPrefix:         viper.GetString("redis-key-prefix"),
				ConsumerGroup:     viper.GetString("redis-consumer-group"),
				EventStreamMaxLen: viper.GetInt64("redis-event-stream-max-len"),
				StreamKeys: api.RedisStreamKeys{
					Events:     viper.GetString("redis-stream-key-for-events"),
					Settlement: viper.GetString("redis-stream-key-for-settlement"),
				},
			},
			Bidding: api.BiddingConfig{
				MaxCommitAttempts:  viper.GetInt("bidding-max-commit-attempts"),
				AntiSnipeWindow:    viper.GetDuration("bidding-anti-snipe-window"),
				AntiSnipeExtension: viper.GetDuration("bidding-anti-snipe-extension"),
			},
			Sweeper: api.SweeperConfig{
				Interval:  viper.GetDuration("sweeper-interval"),
				BatchSize: viper.GetInt("sweeper-batch-size"),
			},
			Settlement: api.SettlementConfig{
				MaxAttempts: viper.GetInt("settlement-max-attempts"),
				RetryDelay:  viper.GetDuration("settlement-retry-delay"),
			},
		},
	}, nil
}

func readPublicKey(path string) (ed25519.PublicKey, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fail to read public key file, err=%w", err)
	}
	key, err := jwt.ParseEdPublicKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("fail to parse public key, err=%w", err)
	}
	publicKey, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("public key is not an ed25519 key")
	}
	return publicKey, nil
}

type Args struct {
	ServerURL       string
	LogLevel        string
	ShutdownTimeout time.Duration
	ServerConfig    api.ServerConfig
}

func (args Args) Validate() error {
	var errs []error
	if args.ServerURL == "" {
		errs = append(errs, errors.New("server-url is required"))
	}
	if len(args.ServerConfig.Auth.PublicKey) == 0 {
		errs = append(errs, errors.New("auth-public-key-file is required"))
	}
	if args.ServerConfig.DB.Host == "" || args.ServerConfig.DB.Database == "" {
		errs = append(errs, errors.New("db-host and db-database are required"))
	}
	if args.ServerConfig.Redis.Addr == "" {
		errs = append(errs, errors.New("redis-addr is required"))
	}
	if args.ServerConfig.Bidding.MaxCommitAttempts < 1 {
		errs = append(errs, errors.New("bidding-max-commit-attempts must be at least 1"))
	}
	if _, err := parseLogLevel(args.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func parseLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return l, fmt.Errorf("invalid log-level %q", level)
	}
	return l, nil
}
