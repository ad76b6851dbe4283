package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"groupchat/internal/authz"
	"groupchat/internal/invite"
	"groupchat/internal/metrics"
	"groupchat/internal/models"
	"groupchat/internal/store"

	"github.com/rs/zerolog/log"
)

// DefaultCodeAttempts 是邀请码冲突时的最大生成次数。
const DefaultCodeAttempts = 5

// RoomService 封装房间创建、邀请码加入以及成员生命周期。
type RoomService struct {
	store    store.Store
	guard    *authz.Guard
	rt       Realtime
	codes    invite.Generator
	attempts int
}

func NewRoomService(st store.Store, guard *authz.Guard, rt Realtime) *RoomService {
	if rt == nil {
		rt = nopRealtime{}
	}
	return &RoomService{store: st, guard: guard, rt: rt, codes: invite.NewCode, attempts: DefaultCodeAttempts}
}

// WithCodeGenerator 替换邀请码生成器。
func (s *RoomService) WithCodeGenerator(gen invite.Generator, attempts int) *RoomService {
	s.codes = gen
	if attempts > 0 {
		s.attempts = attempts
	}
	return s
}

// RoomDTO 是对外输出的房间数据，邀请码只对成员可见。
type RoomDTO struct {
	ID         uint      `json:"id"`
	Name       string    `json:"name"`
	CreatorID  uint      `json:"creator_id"`
	InviteCode string    `json:"invite_code,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Members    int64     `json:"members"`
	Online     int       `json:"online"`
}

func toRoomDTO(r *models.Room) RoomDTO {
	dto := RoomDTO{ID: r.ID, Name: r.Name, CreatorID: r.CreatorID, CreatedAt: r.CreatedAt}
	if r.InviteCode != nil {
		dto.InviteCode = *r.InviteCode
	}
	return dto
}

type CreateRoomInput struct {
	Name       string `json:"name" validate:"required,max=128"`
	InviteCode string `json:"invite_code"`
}

// PartialCreateError 表示房间已写入但创建者成员关系写入失败。房间不会回滚，
// 调用方可以用邀请码重新加入来补齐成员关系。
type PartialCreateError struct {
	Room RoomDTO
	Err  error
}

func (e *PartialCreateError) Error() string {
	return fmt.Sprintf("room %d created but creator membership failed: %v", e.Room.ID, e.Err)
}

func (e *PartialCreateError) Unwrap() error { return e.Err }

// Create 创建房间；未提供邀请码时自动生成，冲突时有限次重试。
func (s *RoomService) Create(ctx context.Context, creatorID uint, in CreateRoomInput) (*RoomDTO, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	supplied := strings.TrimSpace(in.InviteCode) != ""
	code := invite.Normalize(in.InviteCode)
	if supplied && !invite.Valid(code) {
		return nil, validationError(fmt.Sprintf("invite_code must be %d lowercase letters or digits", invite.Length))
	}

	var room models.Room
	for attempt := 1; ; attempt++ {
		if !supplied {
			var err error
			if code, err = s.codes(); err != nil {
				return nil, err
			}
		}
		c := code
		room = models.Room{Name: in.Name, CreatorID: creatorID, InviteCode: &c}
		err := s.store.CreateRoom(ctx, &room)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return nil, err
		}
		if supplied {
			return nil, ErrInviteCodeTaken
		}
		metrics.InviteCodeCollisions.Inc()
		if attempt >= s.attempts {
			log.Warn().Uint("creator_id", creatorID).Int("attempts", attempt).Msg("invite code space exhausted")
			return nil, ErrInviteCodesExhausted
		}
	}
	metrics.RoomsCreated.Inc()

	dto := toRoomDTO(&room)
	if _, err := s.store.AddMember(ctx, room.ID, creatorID); err != nil {
		log.Error().Err(err).Uint("room_id", room.ID).Uint("creator_id", creatorID).Msg("add creator membership")
		return nil, &PartialCreateError{Room: dto, Err: err}
	}
	dto.Members = 1
	return &dto, nil
}

// JoinResult 是邀请码加入的结果；重复加入时 AlreadyMember 为 true。
type JoinResult struct {
	RoomID        uint `json:"room_id"`
	AlreadyMember bool `json:"already_member"`
}

// JoinByCode 通过邀请码加入房间，幂等：已是成员时直接返回同一个房间。
// 并发重复加入由 (room_id, user_id) 主键兜底，落败方同样走成功路径。
func (s *RoomService) JoinByCode(ctx context.Context, userID uint, code string) (*JoinResult, error) {
	code = invite.Normalize(code)
	if code == "" {
		return nil, validationError("code is required")
	}
	if !invite.Valid(code) {
		return nil, validationError("invite code must be 8 letters or digits")
	}
	room, err := s.store.GetRoomByInviteCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidInviteCode
		}
		return nil, err
	}
	created, err := s.store.AddMember(ctx, room.ID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// 房间在查找之后被删除
			return nil, ErrInvalidInviteCode
		}
		return nil, err
	}
	if !created {
		metrics.RoomJoins.WithLabelValues("already_member").Inc()
		return &JoinResult{RoomID: room.ID, AlreadyMember: true}, nil
	}
	metrics.RoomJoins.WithLabelValues("joined").Inc()
	s.rt.Broadcast(room.ID, RoomEvent{Type: EventMemberJoined, RoomID: room.ID, UserID: userID})
	return &JoinResult{RoomID: room.ID}, nil
}

// Leave 移除调用者自己的成员关系；创建者只能删除房间。
func (s *RoomService) Leave(ctx context.Context, roomID, userID uint) error {
	a, err := s.guard.Resolve(ctx, roomID, userID)
	if err != nil {
		return roomError(err, ErrNotMember)
	}
	if !a.IsMember() {
		return ErrNotMember
	}
	if err := s.guard.Check(a, authz.ObjRoom, authz.ActLeave); err != nil {
		return ErrCreatorCannotLeave
	}
	removed, err := s.store.RemoveMember(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotMember
	}
	s.rt.Evict(roomID, userID)
	s.rt.Broadcast(roomID, RoomEvent{Type: EventMemberLeft, RoomID: roomID, UserID: userID})
	return nil
}

// Kick 只有创建者可以移除其他成员，且不能移除自己。
func (s *RoomService) Kick(ctx context.Context, roomID, actorID, targetID uint) error {
	a, err := s.guard.Authorize(ctx, roomID, actorID, authz.ObjMembership, authz.ActKick)
	if err != nil {
		return roomError(err, ErrCreatorOnly)
	}
	if targetID == a.Room.CreatorID {
		return ErrCannotKickCreator
	}
	removed, err := s.store.RemoveMember(ctx, roomID, targetID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrTargetNotMember
	}
	s.rt.Evict(roomID, targetID)
	s.rt.Broadcast(roomID, RoomEvent{Type: EventMemberKicked, RoomID: roomID, UserID: targetID, ActorID: actorID})
	return nil
}

// Delete 只有创建者可以删除房间，成员与消息随之级联删除。
func (s *RoomService) Delete(ctx context.Context, roomID, actorID uint) error {
	if _, err := s.guard.Authorize(ctx, roomID, actorID, authz.ObjRoom, authz.ActDelete); err != nil {
		return roomError(err, ErrCreatorOnly)
	}
	if err := s.store.DeleteRoom(ctx, roomID); err != nil {
		return roomError(err, ErrCreatorOnly)
	}
	metrics.RoomsDeleted.Inc()
	s.rt.Broadcast(roomID, RoomEvent{Type: EventRoomDeleted, RoomID: roomID, ActorID: actorID})
	s.rt.CloseRoom(roomID)
	return nil
}

// Get 返回房间详情，仅成员可见。
func (s *RoomService) Get(ctx context.Context, roomID, userID uint) (*RoomDTO, error) {
	a, err := s.guard.Authorize(ctx, roomID, userID, authz.ObjRoom, authz.ActRead)
	if err != nil {
		return nil, roomError(err, ErrNotRoomMember)
	}
	dto := toRoomDTO(a.Room)
	if dto.Members, err = s.store.CountMembers(ctx, roomID); err != nil {
		return nil, err
	}
	dto.Online = s.rt.Online(roomID)
	return &dto, nil
}

// List 返回调用者所在的全部房间，附带成员数与在线人数。
func (s *RoomService) List(ctx context.Context, userID uint) ([]RoomDTO, error) {
	rooms, err := s.store.ListRoomsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]RoomDTO, 0, len(rooms))
	for i := range rooms {
		dto := toRoomDTO(&rooms[i])
		if dto.Members, err = s.store.CountMembers(ctx, rooms[i].ID); err != nil {
			return nil, err
		}
		dto.Online = s.rt.Online(rooms[i].ID)
		out = append(out, dto)
	}
	return out, nil
}

// MemberDTO 是成员列表中的一项。
type MemberDTO struct {
	UserID      uint      `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	IsCreator   bool      `json:"is_creator"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Members 列出房间成员及其资料，仅成员可见。
func (s *RoomService) Members(ctx context.Context, roomID, userID uint) ([]MemberDTO, error) {
	a, err := s.guard.Authorize(ctx, roomID, userID, authz.ObjMembership, authz.ActRead)
	if err != nil {
		return nil, roomError(err, ErrNotRoomMember)
	}
	members, err := s.store.ListMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	profiles, err := profileIndex(ctx, s.store, ids)
	if err != nil {
		return nil, err
	}
	out := make([]MemberDTO, 0, len(members))
	for _, m := range members {
		p := profiles[m.UserID]
		out = append(out, MemberDTO{
			UserID:      m.UserID,
			DisplayName: p.DisplayName,
			AvatarURL:   p.AvatarURL,
			IsCreator:   m.UserID == a.Room.CreatorID,
			JoinedAt:    m.JoinedAt,
		})
	}
	return out, nil
}

// profileIndex 批量取资料并按 userID 建索引。
func profileIndex(ctx context.Context, st store.Profiles, ids []uint) (map[uint]models.Profile, error) {
	out := make(map[uint]models.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	profiles, err := st.ListProfiles(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		out[p.UserID] = p
	}
	return out, nil
}
