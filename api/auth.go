package api

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"arbiter/bidding"
	"arbiter/store"
)

const bidderContextKey = "bidder"

// Claims 身分服務簽發的存取權杖
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenVerifier 以 Ed25519 公鑰驗證存取權杖
type TokenVerifier struct {
	publicKey ed25519.PublicKey
	parser    *jwt.Parser
}

func NewTokenVerifier(config AuthConfig) (*TokenVerifier, error) {
	if len(config.PublicKey) != ed25519.PublicKeySize {
		return nil, errors.New("invalid ed25519 public key")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}
	return &TokenVerifier{
		publicKey: config.PublicKey,
		parser:    jwt.NewParser(opts...),
	}, nil
}

// ParseAndValidate 解析並驗證權杖，回傳其中的 claims
func (v *TokenVerifier) ParseAndValidate(tokenString string) (*Claims, error) {
	const op = "TokenVerifier.ParseAndValidate"
	token, err := v.parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%s: token is invalid", op)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("%s: token claims are invalid", op)
	}
	return claims, nil
}

// RequireBidder 驗證 Bearer 權杖，並透過使用者目錄把 subject 轉換成出價者身分
func RequireBidder(verifier *TokenVerifier, users store.IUserStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		const op = "RequireBidder"
		header := c.GetHeader("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Message: "missing bearer token"})
			return
		}
		claims, err := verifier.ParseAndValidate(tokenString)
		if err != nil {
			loggerFrom(c).Warn("Fail to parse and validate JWT", slog.String("op", op), slog.Any("error", err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Message: "invalid token"})
			return
		}
		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Message: "invalid token subject"})
			return
		}
		user, err := users.Get(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Message: "unknown user"})
				return
			}
			writeError(c, fmt.Errorf("[%s] Fail to get user, err=%w", op, err))
			c.Abort()
			return
		}

		username := user.Username
		if username == "" {
			username = claims.Username
		}
		c.Set(bidderContextKey, bidding.Bidder{
			UserID:   user.ID,
			Address:  user.WalletAddress,
			Username: username,
		})
		c.Next()
	}
}

// bidderFrom 取出 RequireBidder 設置的出價者
func bidderFrom(c *gin.Context) bidding.Bidder {
	value, _ := c.Get(bidderContextKey)
	bidder, _ := value.(bidding.Bidder)
	return bidder
}
