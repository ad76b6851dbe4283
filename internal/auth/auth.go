package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"groupchat/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const apiAudience = "api"

// ctxUserID 是 gin 上下文里可信调用者 id 的键。
const ctxUserID = "userID"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownUser  = errors.New("user not found")
)

// Claims 是 access token 的载荷，用户 id 同时写在 uid 与 sub 中。
type Claims struct {
	UserID uint `json:"uid"`
	jwt.RegisteredClaims
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func VerifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

func sign(claims jwt.Claims, secret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// parseHS256 只接受 HS256 且 aud 匹配的 token。
func parseHS256(tokenStr, secret, audience string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithAudience(audience), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return err
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

func GenerateAccessToken(userID uint, secret string, ttlMinutes int) (string, error) {
	now := time.Now()
	return sign(Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			Audience:  jwt.ClaimStrings{apiAudience},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}, secret)
}

// ParseAccessToken 校验签名、有效期与 audience；通话凭证不能当作 access token。
func ParseAccessToken(tokenStr, secret string) (*Claims, error) {
	var claims Claims
	if err := parseHS256(tokenStr, secret, apiAudience, &claims); err != nil {
		return nil, err
	}
	if claims.Subject != strconv.FormatUint(uint64(claims.UserID), 10) {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// GenerateRefreshToken 返回 64 位十六进制的随机串，服务端只按值查找。
func GenerateRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// UserLookup 是确认 token 主体仍然存在所需的能力。
type UserLookup interface {
	GetUser(ctx context.Context, id uint) (*models.User, error)
}

// Authenticator 把 bearer token 解析为仍然存在的用户，HTTP 与 WebSocket 入口共用。
type Authenticator struct {
	secret string
	users  UserLookup
}

func NewAuthenticator(secret string, users UserLookup) *Authenticator {
	return &Authenticator{secret: secret, users: users}
}

func (a *Authenticator) Authenticate(ctx context.Context, tokenStr string) (*models.User, error) {
	if tokenStr == "" {
		return nil, ErrMissingToken
	}
	claims, err := ParseAccessToken(tokenStr, a.secret)
	if err != nil {
		return nil, ErrInvalidToken
	}
	user, err := a.users.GetUser(ctx, claims.UserID)
	if err != nil {
		return nil, ErrUnknownUser
	}
	return user, nil
}

// BearerToken 从 Authorization 头中取出 token。
func BearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// Middleware 校验 access token，并把可信的 userID 写入上下文。
// 之后所有业务操作的调用者身份都只能从这里取得。
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := a.Authenticate(c.Request.Context(), BearerToken(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(ctxUserID, user.ID)
		c.Next()
	}
}

// GetUserID 未经过 Middleware 时返回 0。
func GetUserID(c *gin.Context) uint {
	return c.GetUint(ctxUserID)
}
