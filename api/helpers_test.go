package api

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"arbiter/models"
	"arbiter/store/storetest"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	gin.SetMode(gin.TestMode)
}

const (
	testIssuer   = "identity"
	testAudience = "arbiter"
	localAddr    = "127.0.0.1:40000"
)

var t0 = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

type testEnv struct {
	server     *Server
	db         *gorm.DB
	mr         *miniredis.Miniredis
	client     *redis.Client
	clock      *fakeClock
	privateKey ed25519.PrivateKey
}

// newTestEnv 建立以 sqlite 與 miniredis 為後端的服務，測試結束時依序關閉服務、Redis、資料庫
func newTestEnv(t *testing.T, mutate ...func(*ServerConfig)) *testEnv {
	t.Helper()
	db := storetest.NewDB(t)

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	publicKey, privateKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	config := ServerConfig{
		ID: "node-1",
		Auth: AuthConfig{
			PublicKey: publicKey,
			Issuer:    testIssuer,
			Audience:  testAudience,
		},
		Redis: RedisConfig{KeyPrefix: "test:"},
		Sweeper: SweeperConfig{
			Interval:  20 * time.Millisecond,
			BatchSize: 10,
		},
		Settlement: SettlementConfig{
			MaxAttempts: 2,
			RetryDelay:  10 * time.Millisecond,
		},
		SSEKeepAlive: 50 * time.Millisecond,
	}
	for _, fn := range mutate {
		fn(&config)
	}

	clock := &fakeClock{now: t0}
	server, err := NewServerWithConnections(config, db, client, WithServerClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(server.Close)

	return &testEnv{
		server:     server,
		db:         db,
		mr:         mr,
		client:     client,
		clock:      clock,
		privateKey: privateKey,
	}
}

// createUser 模擬身分服務寫入的使用者
func (env *testEnv) createUser(t *testing.T, username string) models.User {
	t.Helper()
	user := models.User{
		ID:            uuid.New(),
		Username:      username,
		WalletAddress: "0x" + username,
	}
	require.NoError(t, env.db.Create(&user).Error)
	return user
}

func (env *testEnv) signToken(t *testing.T, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(env.privateKey)
	require.NoError(t, err)
	return token
}

func (env *testEnv) tokenFor(t *testing.T, user models.User) string {
	t.Helper()
	return env.signToken(t, validClaims(user.ID.String()))
}

func validClaims(subject string) Claims {
	return Claims{
		Username: "from-token",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{testAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

type request struct {
	method     string
	path       string
	body       any
	token      string
	remoteAddr string
}

func (env *testEnv) do(t *testing.T, r request) *httptest.ResponseRecorder {
	t.Helper()
	return env.doWithHeader(t, r, "", "")
}

// doWithHeader 送出請求，value 不為空時額外設置 key 標頭
func (env *testEnv) doWithHeader(t *testing.T, r request, key, value string) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader = http.NoBody
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(r.method, r.path, body)
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	if value != "" {
		req.Header.Set(key, value)
	}
	req.RemoteAddr = localAddr
	if r.remoteAddr != "" {
		req.RemoteAddr = r.remoteAddr
	}

	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// auctionBody 起標價 1.0、最低加價 0.1 的拍賣，結束時間為 t0 + 1h
func auctionBody(auctionID int64) map[string]any {
	return map[string]any{
		"auctionId":       auctionID,
		"title":           "Vintage camera",
		"description":     "Mint condition",
		"startingPrice":   "1.0",
		"minBidIncrement": "0.1",
		"endTime":         t0.Add(time.Hour).Format(time.RFC3339),
	}
}

// createAuction 透過 API 建立拍賣
func (env *testEnv) createAuction(t *testing.T, seller models.User, body map[string]any) auctionResponse {
	t.Helper()
	w := env.do(t, request{method: http.MethodPost, path: "/auctions", body: body, token: env.tokenFor(t, seller)})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[auctionResponse](t, w)
}

// startAuction 建立並透過內部路由啟動拍賣
func (env *testEnv) startAuction(t *testing.T, seller models.User, auctionID int64) auctionResponse {
	t.Helper()
	env.createAuction(t, seller, auctionBody(auctionID))
	w := env.do(t, request{
		method: http.MethodPost,
		path:   internalAuctionPath(auctionID) + "/activate",
		body:   map[string]any{"transactionHash": "0xactivate"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[auctionResponse](t, w)
}

func (env *testEnv) placeBid(t *testing.T, bidder models.User, auctionID int64, amount, txHash string) *httptest.ResponseRecorder {
	t.Helper()
	return env.do(t, request{
		method: http.MethodPost,
		path:   "/auctions/" + auctionChannel(auctionID) + "/bids",
		body:   map[string]any{"amount": amount, "transactionHash": txHash, "blockNumber": 100},
		token:  env.tokenFor(t, bidder),
	})
}

func internalAuctionPath(auctionID int64) string {
	return "/internal/auctions/" + auctionChannel(auctionID)
}

// auctionStatus 直接從資料庫讀取拍賣狀態，讀取失敗時回傳空字串
func (env *testEnv) auctionStatus(auctionID int64) models.AuctionStatus {
	var auction models.Auction
	if err := env.db.Where("auction_id = ?", auctionID).First(&auction).Error; err != nil {
		return ""
	}
	return auction.Status
}
