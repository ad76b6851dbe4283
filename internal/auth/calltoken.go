package auth

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const callAudience = "call"

// 通话角色：房间创建者拿到 admin，其他成员为 user。
const (
	CallRoleAdmin = "admin"
	CallRoleUser  = "user"
)

// CallClaims 是交给视频通话服务的短期凭证，只对单个房间有效。
type CallClaims struct {
	RoomID uint   `json:"room_id"`
	UserID uint   `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func GenerateCallToken(roomID, userID uint, role, secret string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)
	s, err := sign(CallClaims{
		RoomID: roomID,
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatUint(uint64(userID), 10),
			Audience:  jwt.ClaimStrings{callAudience},
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}, secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return s, exp, nil
}

func ParseCallToken(tokenStr, secret string) (*CallClaims, error) {
	var claims CallClaims
	if err := parseHS256(tokenStr, secret, callAudience, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}
