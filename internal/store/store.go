// Package store 定义持久层接口。唯一性、级联删除等约束由实现负责保证：
// pgstore 依赖 Postgres 约束，memstore 在互斥锁内模拟同样的约束。
package store

import (
	"context"
	"errors"
	"time"

	"groupchat/internal/models"
)

var (
	ErrNotFound  = errors.New("store: record not found")
	ErrDuplicate = errors.New("store: duplicate key")
	ErrNotMember = errors.New("store: not a room member")
)

type Users interface {
	// CreateUser 同时写入用户与其资料；用户名冲突返回 ErrDuplicate。
	CreateUser(ctx context.Context, u *models.User, p *models.Profile) error
	GetUser(ctx context.Context, id uint) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	SaveRefreshToken(ctx context.Context, userID uint, token string, expiresAt time.Time) error
	// RotateRefreshToken 原子地校验并吊销旧 token，再保存新 token，返回所属用户。
	RotateRefreshToken(ctx context.Context, oldToken, newToken string, expiresAt time.Time) (uint, error)
}

type Profiles interface {
	GetProfile(ctx context.Context, userID uint) (*models.Profile, error)
	UpdateProfile(ctx context.Context, p *models.Profile) error
	ListProfiles(ctx context.Context, userIDs []uint) ([]models.Profile, error)
}

type Rooms interface {
	// CreateRoom 邀请码冲突时返回 ErrDuplicate，且不会留下房间。
	CreateRoom(ctx context.Context, r *models.Room) error
	GetRoom(ctx context.Context, id uint) (*models.Room, error)
	GetRoomByInviteCode(ctx context.Context, code string) (*models.Room, error)
	ListRoomsForUser(ctx context.Context, userID uint) ([]models.Room, error)
	// DeleteRoom 级联删除成员与消息。
	DeleteRoom(ctx context.Context, id uint) error
}

type Members interface {
	// AddMember 幂等：已是成员时返回 false 且不报错。
	AddMember(ctx context.Context, roomID, userID uint) (bool, error)
	RemoveMember(ctx context.Context, roomID, userID uint) (bool, error)
	IsMember(ctx context.Context, roomID, userID uint) (bool, error)
	ListMembers(ctx context.Context, roomID uint) ([]models.RoomMember, error)
	CountMembers(ctx context.Context, roomID uint) (int64, error)
}

type Messages interface {
	// CreateMessage 与作者的成员关系校验在同一原子操作内完成：作者不是成员返回
	// ErrNotMember，房间不存在返回 ErrNotFound。
	CreateMessage(ctx context.Context, m *models.Message) error
	// ListMessages 按 (created_at, id) 升序返回 beforeID 之前的最多 limit 条。
	ListMessages(ctx context.Context, roomID uint, limit int, beforeID uint) ([]models.Message, error)
}

type PushTokens interface {
	SavePushToken(ctx context.Context, t *models.PushToken) error
	DeletePushToken(ctx context.Context, userID uint, token string) error
	ListPushTokens(ctx context.Context, userIDs []uint) ([]models.PushToken, error)
	DeletePushTokens(ctx context.Context, tokens []string) (int64, error)
}

// Store 聚合全部仓储接口。
type Store interface {
	Users
	Profiles
	Rooms
	Members
	Messages
	PushTokens
}
