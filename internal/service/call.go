package service

import (
	"context"
	"time"

	"groupchat/internal/auth"
	"groupchat/internal/authz"
)

// CallService 为房间成员签发视频通话凭证。
type CallService struct {
	guard  *authz.Guard
	secret string
	ttl    time.Duration
}

func NewCallService(guard *authz.Guard, secret string, ttl time.Duration) *CallService {
	return &CallService{guard: guard, secret: secret, ttl: ttl}
}

type CallTokenDTO struct {
	Token     string    `json:"token"`
	RoomID    uint      `json:"room_id"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueToken 成员拿到 user 角色，创建者拿到可以主持通话的 admin 角色。
func (s *CallService) IssueToken(ctx context.Context, roomID, userID uint) (*CallTokenDTO, error) {
	a, err := s.guard.Authorize(ctx, roomID, userID, authz.ObjCall, authz.ActJoin)
	if err != nil {
		return nil, roomError(err, ErrNotRoomMember)
	}
	role := auth.CallRoleUser
	if s.guard.Allowed(a.Role, authz.ObjCall, authz.ActModerate) {
		role = auth.CallRoleAdmin
	}
	token, exp, err := auth.GenerateCallToken(roomID, userID, role, s.secret, s.ttl)
	if err != nil {
		return nil, err
	}
	return &CallTokenDTO{Token: token, RoomID: roomID, Role: role, ExpiresAt: exp}, nil
}
