// Package authz 把调用者解析为房间内的角色（outsider / member / creator），
// 再用 Casbin 声明式策略判定 (角色, 对象, 动作) 是否允许。
package authz

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"groupchat/internal/models"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

type Role string

const (
	RoleOutsider Role = "outsider"
	RoleMember   Role = "member"
	RoleCreator  Role = "creator"
)

type Object string

const (
	ObjRoom       Object = "room"
	ObjMembership Object = "membership"
	ObjMessage    Object = "message"
	ObjCall       Object = "call"
)

type Action string

const (
	ActRead     Action = "read"
	ActWrite    Action = "write"
	ActLeave    Action = "leave"
	ActDelete   Action = "delete"
	ActKick     Action = "kick"
	ActJoin     Action = "join"
	ActModerate Action = "moderate"
)

// ErrDenied 表示策略拒绝了该操作。
var ErrDenied = errors.New("authz: permission denied")

// RoomLookup 是 Guard 解析角色所需的最小存储能力。
type RoomLookup interface {
	GetRoom(ctx context.Context, id uint) (*models.Room, error)
	IsMember(ctx context.Context, roomID, userID uint) (bool, error)
}

// Actor 是已在某个房间内解析出角色的调用者，UserID 只来自已验证的 token。
type Actor struct {
	UserID uint
	Role   Role
	Room   *models.Room
}

func (a Actor) IsCreator() bool { return a.Role == RoleCreator }
func (a Actor) IsMember() bool  { return a.Role == RoleMember || a.Role == RoleCreator }

type Guard struct {
	rooms    RoomLookup
	enforcer *casbin.SyncedEnforcer
}

func NewGuard(rooms RoomLookup) (*Guard, error) {
	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("load casbin model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	if err := loadPolicy(e, embeddedPolicy); err != nil {
		return nil, err
	}
	return &Guard{rooms: rooms, enforcer: e}, nil
}

func loadPolicy(e *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		switch parts[0] {
		case "p":
			if len(parts) != 5 {
				return fmt.Errorf("malformed policy line %q", line)
			}
			if _, err := e.AddPolicy(parts[1], parts[2], parts[3], parts[4]); err != nil {
				return fmt.Errorf("add policy %q: %w", line, err)
			}
		case "g":
			if len(parts) != 3 {
				return fmt.Errorf("malformed grouping line %q", line)
			}
			if _, err := e.AddGroupingPolicy(parts[1], parts[2]); err != nil {
				return fmt.Errorf("add grouping policy %q: %w", line, err)
			}
		}
	}
	return nil
}

// Resolve 查出房间并确定 userID 在其中的角色；房间不存在时透传存储层错误。
func (g *Guard) Resolve(ctx context.Context, roomID, userID uint) (Actor, error) {
	room, err := g.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return Actor{}, err
	}
	a := Actor{UserID: userID, Role: RoleOutsider, Room: room}
	if room.CreatorID == userID {
		a.Role = RoleCreator
		return a, nil
	}
	ok, err := g.rooms.IsMember(ctx, roomID, userID)
	if err != nil {
		return Actor{}, err
	}
	if ok {
		a.Role = RoleMember
	}
	return a, nil
}

// Allowed 只做策略判定，不访问存储。
func (g *Guard) Allowed(role Role, obj Object, act Action) bool {
	ok, err := g.enforcer.Enforce(string(role), string(obj), string(act))
	return err == nil && ok
}

// Check 在策略拒绝时返回 ErrDenied。
func (g *Guard) Check(a Actor, obj Object, act Action) error {
	if !g.Allowed(a.Role, obj, act) {
		return fmt.Errorf("%w: %s cannot %s %s", ErrDenied, a.Role, act, obj)
	}
	return nil
}

// Authorize 等价于 Resolve 之后 Check。
func (g *Guard) Authorize(ctx context.Context, roomID, userID uint, obj Object, act Action) (Actor, error) {
	a, err := g.Resolve(ctx, roomID, userID)
	if err != nil {
		return Actor{}, err
	}
	return a, g.Check(a, obj, act)
}
