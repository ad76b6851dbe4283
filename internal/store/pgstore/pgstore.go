// Package pgstore 基于 gorm + Postgres 实现 store.Store。
package pgstore

import (
	"context"
	"errors"
	"time"

	"groupchat/internal/models"
	"groupchat/internal/store"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// translate 把 gorm 错误映射为 store 层错误。
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return store.ErrDuplicate
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return store.ErrNotFound
	}
	return err
}

func (s *Store) CreateUser(ctx context.Context, u *models.User, p *models.Profile) error {
	return translate(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(u).Error; err != nil {
			return err
		}
		p.UserID = u.ID
		return tx.Create(p).Error
	}))
}

func (s *Store) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *Store) SaveRefreshToken(ctx context.Context, userID uint, token string, expiresAt time.Time) error {
	rt := models.RefreshToken{UserID: userID, Token: token, ExpiresAt: expiresAt}
	return translate(s.db.WithContext(ctx).Create(&rt).Error)
}

func (s *Store) RotateRefreshToken(ctx context.Context, oldToken, newToken string, expiresAt time.Time) (uint, error) {
	var userID uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.RefreshToken
		now := time.Now()
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token = ? AND revoked_at IS NULL AND expires_at > ?", oldToken, now).
			First(&rec).Error
		if err != nil {
			return err
		}
		if err := tx.Model(&rec).Update("revoked_at", &now).Error; err != nil {
			return err
		}
		userID = rec.UserID
		return tx.Create(&models.RefreshToken{UserID: rec.UserID, Token: newToken, ExpiresAt: expiresAt}).Error
	})
	return userID, translate(err)
}

func (s *Store) GetProfile(ctx context.Context, userID uint) (*models.Profile, error) {
	var p models.Profile
	if err := s.db.WithContext(ctx).First(&p, "user_id = ?", userID).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (s *Store) UpdateProfile(ctx context.Context, p *models.Profile) error {
	p.UpdatedAt = time.Now()
	res := s.db.WithContext(ctx).Model(&models.Profile{}).Where("user_id = ?", p.UserID).Updates(map[string]interface{}{
		"display_name": p.DisplayName,
		"avatar_url":   p.AvatarURL,
		"updated_at":   p.UpdatedAt,
	})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListProfiles(ctx context.Context, userIDs []uint) ([]models.Profile, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var out []models.Profile
	if err := s.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&out).Error; err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (s *Store) CreateRoom(ctx context.Context, r *models.Room) error {
	return translate(s.db.WithContext(ctx).Omit(clause.Associations).Create(r).Error)
}

func (s *Store) GetRoom(ctx context.Context, id uint) (*models.Room, error) {
	var r models.Room
	if err := s.db.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (s *Store) GetRoomByInviteCode(ctx context.Context, code string) (*models.Room, error) {
	var r models.Room
	if err := s.db.WithContext(ctx).Where("invite_code = ?", code).First(&r).Error; err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (s *Store) ListRoomsForUser(ctx context.Context, userID uint) ([]models.Room, error) {
	var rooms []models.Room
	err := s.db.WithContext(ctx).
		Joins("JOIN room_members ON room_members.room_id = rooms.id").
		Where("room_members.user_id = ?", userID).
		Order("rooms.created_at desc").Order("rooms.id desc").
		Find(&rooms).Error
	if err != nil {
		return nil, translate(err)
	}
	return rooms, nil
}

// DeleteRoom 只删除 rooms 行，成员与消息由外键 ON DELETE CASCADE 清理。
func (s *Store) DeleteRoom(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Room{}, id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AddMember 使用 INSERT ... ON CONFLICT DO NOTHING，并发重复加入只会留下一行。
func (s *Store) AddMember(ctx context.Context, roomID, userID uint) (bool, error) {
	m := models.RoomMember{RoomID: roomID, UserID: userID, JoinedAt: time.Now()}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) RemoveMember(ctx context.Context, roomID, userID uint) (bool, error) {
	res := s.db.WithContext(ctx).Where("room_id = ? AND user_id = ?", roomID, userID).Delete(&models.RoomMember{})
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) IsMember(ctx context.Context, roomID, userID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.RoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).Count(&count).Error
	if err != nil {
		return false, translate(err)
	}
	return count > 0, nil
}

func (s *Store) ListMembers(ctx context.Context, roomID uint) ([]models.RoomMember, error) {
	var out []models.RoomMember
	err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Order("joined_at asc").Order("user_id asc").Find(&out).Error
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (s *Store) CountMembers(ctx context.Context, roomID uint) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.RoomMember{}).Where("room_id = ?", roomID).Count(&count).Error; err != nil {
		return 0, translate(err)
	}
	return count, nil
}

// CreateMessage 以 FOR SHARE 锁住作者的成员行再写入，并发的踢人或删房
// 会等待本事务提交，已提交的踢人则让写入失败。
func (s *Store) CreateMessage(ctx context.Context, m *models.Message) error {
	return translate(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rm models.RoomMember
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Where("room_id = ? AND user_id = ?", m.RoomID, m.UserID).
			Take(&rm).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := tx.Select("id").First(&models.Room{}, m.RoomID).Error; err != nil {
				return err
			}
			return store.ErrNotMember
		}
		if err != nil {
			return err
		}
		return tx.Create(m).Error
	}))
}

func (s *Store) ListMessages(ctx context.Context, roomID uint, limit int, beforeID uint) ([]models.Message, error) {
	q := s.db.WithContext(ctx).Where("room_id = ?", roomID)
	if beforeID > 0 {
		q = q.Where("(created_at, id) < (SELECT created_at, id FROM messages WHERE id = ?)", beforeID)
	}
	var msgs []models.Message
	if err := q.Order("created_at desc").Order("id desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, translate(err)
	}
	// 反转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Store) SavePushToken(ctx context.Context, t *models.PushToken) error {
	return translate(s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"platform", "updated_at"}),
	}).Create(t).Error)
}

func (s *Store) DeletePushToken(ctx context.Context, userID uint, token string) error {
	return translate(s.db.WithContext(ctx).Where("user_id = ? AND token = ?", userID, token).Delete(&models.PushToken{}).Error)
}

func (s *Store) ListPushTokens(ctx context.Context, userIDs []uint) ([]models.PushToken, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var out []models.PushToken
	if err := s.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&out).Error; err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (s *Store) DeletePushTokens(ctx context.Context, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("token IN ?", tokens).Delete(&models.PushToken{})
	return res.RowsAffected, translate(res.Error)
}
