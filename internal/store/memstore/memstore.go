// Package memstore 是 store.Store 的内存实现，用于本地无数据库运行和单元测试。
// 所有唯一约束与级联删除都在同一把锁内完成，语义与 pgstore 保持一致。
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"groupchat/internal/models"
	"groupchat/internal/store"
)

type memberKey struct{ roomID, userID uint }

type tokenKey struct {
	userID uint
	token  string
}

type Store struct {
	mu sync.RWMutex

	nextUserID uint
	nextRoomID uint
	nextMsgID  uint

	users         map[uint]models.User
	usernames     map[string]uint
	profiles      map[uint]models.Profile
	refreshTokens map[string]models.RefreshToken
	rooms         map[uint]models.Room
	inviteCodes   map[string]uint
	members       map[memberKey]models.RoomMember
	messages      map[uint]models.Message
	pushTokens    map[tokenKey]models.PushToken

	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:         make(map[uint]models.User),
		usernames:     make(map[string]uint),
		profiles:      make(map[uint]models.Profile),
		refreshTokens: make(map[string]models.RefreshToken),
		rooms:         make(map[uint]models.Room),
		inviteCodes:   make(map[string]uint),
		members:       make(map[memberKey]models.RoomMember),
		messages:      make(map[uint]models.Message),
		pushTokens:    make(map[tokenKey]models.PushToken),
		now:           time.Now,
	}
}

func (s *Store) CreateUser(_ context.Context, u *models.User, p *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usernames[u.Username]; ok {
		return store.ErrDuplicate
	}
	s.nextUserID++
	now := s.now()
	u.ID = s.nextUserID
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = *u
	s.usernames[u.Username] = u.ID

	p.UserID = u.ID
	p.UpdatedAt = now
	s.profiles[u.ID] = *p
	return nil
}

func (s *Store) GetUser(_ context.Context, id uint) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usernames[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	u := s.users[id]
	return &u, nil
}

func (s *Store) SaveRefreshToken(_ context.Context, userID uint, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refreshTokens[token]; ok {
		return store.ErrDuplicate
	}
	s.refreshTokens[token] = models.RefreshToken{UserID: userID, Token: token, ExpiresAt: expiresAt, CreatedAt: s.now()}
	return nil
}

func (s *Store) RotateRefreshToken(_ context.Context, oldToken, newToken string, expiresAt time.Time) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	rec, ok := s.refreshTokens[oldToken]
	if !ok || rec.RevokedAt != nil || !rec.ExpiresAt.After(now) {
		return 0, store.ErrNotFound
	}
	if _, dup := s.refreshTokens[newToken]; dup {
		return 0, store.ErrDuplicate
	}
	rec.RevokedAt = &now
	s.refreshTokens[oldToken] = rec
	s.refreshTokens[newToken] = models.RefreshToken{UserID: rec.UserID, Token: newToken, ExpiresAt: expiresAt, CreatedAt: now}
	return rec.UserID, nil
}

func (s *Store) GetProfile(_ context.Context, userID uint) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) UpdateProfile(_ context.Context, p *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.UserID]; !ok {
		return store.ErrNotFound
	}
	p.UpdatedAt = s.now()
	s.profiles[p.UserID] = *p
	return nil
}

func (s *Store) ListProfiles(_ context.Context, userIDs []uint) ([]models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Profile, 0, len(userIDs))
	for _, id := range userIDs {
		if p, ok := s.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) CreateRoom(_ context.Context, r *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.InviteCode != nil {
		if _, ok := s.inviteCodes[*r.InviteCode]; ok {
			return store.ErrDuplicate
		}
	}
	s.nextRoomID++
	r.ID = s.nextRoomID
	r.CreatedAt = s.now()
	stored := *r
	stored.Members, stored.Messages = nil, nil
	s.rooms[r.ID] = stored
	if r.InviteCode != nil {
		s.inviteCodes[*r.InviteCode] = r.ID
	}
	return nil
}

func (s *Store) GetRoom(_ context.Context, id uint) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (s *Store) GetRoomByInviteCode(_ context.Context, code string) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.inviteCodes[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	r := s.rooms[id]
	return &r, nil
}

func (s *Store) ListRoomsForUser(_ context.Context, userID uint) ([]models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Room
	for k := range s.members {
		if k.userID == userID {
			out = append(out, s.rooms[k.roomID])
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) DeleteRoom(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.rooms, id)
	if r.InviteCode != nil {
		delete(s.inviteCodes, *r.InviteCode)
	}
	for k := range s.members {
		if k.roomID == id {
			delete(s.members, k)
		}
	}
	for mid, m := range s.messages {
		if m.RoomID == id {
			delete(s.messages, mid)
		}
	}
	return nil
}

func (s *Store) AddMember(_ context.Context, roomID, userID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return false, store.ErrNotFound
	}
	k := memberKey{roomID, userID}
	if _, ok := s.members[k]; ok {
		return false, nil
	}
	s.members[k] = models.RoomMember{RoomID: roomID, UserID: userID, JoinedAt: s.now()}
	return true, nil
}

func (s *Store) RemoveMember(_ context.Context, roomID, userID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memberKey{roomID, userID}
	if _, ok := s.members[k]; !ok {
		return false, nil
	}
	delete(s.members, k)
	return true, nil
}

func (s *Store) IsMember(_ context.Context, roomID, userID uint) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[memberKey{roomID, userID}]
	return ok, nil
}

func (s *Store) ListMembers(_ context.Context, roomID uint) ([]models.RoomMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.RoomMember
	for k, m := range s.members {
		if k.roomID == roomID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *Store) CountMembers(_ context.Context, roomID uint) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for k := range s.members {
		if k.roomID == roomID {
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateMessage(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[m.RoomID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := s.members[memberKey{roomID: m.RoomID, userID: m.UserID}]; !ok {
		return store.ErrNotMember
	}
	s.nextMsgID++
	m.ID = s.nextMsgID
	m.CreatedAt = s.now()
	s.messages[m.ID] = *m
	return nil
}

func messageLess(a, b models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (s *Store) ListMessages(_ context.Context, roomID uint, limit int, beforeID uint) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var cursor *models.Message
	if beforeID > 0 {
		c, ok := s.messages[beforeID]
		if !ok {
			return nil, nil
		}
		cursor = &c
	}
	var msgs []models.Message
	for _, m := range s.messages {
		if m.RoomID != roomID {
			continue
		}
		if cursor != nil && !messageLess(m, *cursor) {
			continue
		}
		msgs = append(msgs, m)
	}
	sort.Slice(msgs, func(i, j int) bool { return messageLess(msgs[i], msgs[j]) })
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *Store) SavePushToken(_ context.Context, t *models.PushToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	k := tokenKey{t.UserID, t.Token}
	if existing, ok := s.pushTokens[k]; ok {
		t.CreatedAt = existing.CreatedAt
	} else {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	s.pushTokens[k] = *t
	return nil
}

func (s *Store) DeletePushToken(_ context.Context, userID uint, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pushTokens, tokenKey{userID, token})
	return nil
}

func (s *Store) ListPushTokens(_ context.Context, userIDs []uint) ([]models.PushToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[uint]struct{}, len(userIDs))
	for _, id := range userIDs {
		want[id] = struct{}{}
	}
	var out []models.PushToken
	for k, t := range s.pushTokens {
		if _, ok := want[k.userID]; ok {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Token < out[j].Token
	})
	return out, nil
}

func (s *Store) DeletePushTokens(_ context.Context, tokens []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		drop[t] = struct{}{}
	}
	var n int64
	for k := range s.pushTokens {
		if _, ok := drop[k.token]; ok {
			delete(s.pushTokens, k)
			n++
		}
	}
	return n, nil
}
