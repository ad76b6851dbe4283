package models

import "time"

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile 与 User 一对一，只有本人可以修改。
type Profile struct {
	UserID      uint   `gorm:"primaryKey;autoIncrement:false"`
	DisplayName string `gorm:"size:64;not null"`
	AvatarURL   string `gorm:"size:512"`
	UpdatedAt   time.Time
}

// Room 的邀请码一旦设置即全局唯一；删除房间时级联删除成员与消息。
type Room struct {
	ID         uint    `gorm:"primaryKey"`
	Name       string  `gorm:"size:128;not null"`
	CreatorID  uint    `gorm:"index;not null"`
	InviteCode *string `gorm:"uniqueIndex;size:16"`
	CreatedAt  time.Time

	Members  []RoomMember `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE"`
	Messages []Message    `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE"`
}

// RoomMember 以 (room_id, user_id) 为联合主键，保证同一用户在同一房间最多一行。
type RoomMember struct {
	RoomID   uint `gorm:"primaryKey;autoIncrement:false"`
	UserID   uint `gorm:"primaryKey;autoIncrement:false;index"`
	JoinedAt time.Time
}

type Message struct {
	ID        uint      `gorm:"primaryKey;index:idx_msg_room_order,priority:3"`
	RoomID    uint      `gorm:"not null;index:idx_msg_room_order,priority:1"`
	UserID    uint      `gorm:"index;not null"`
	Content   string    `gorm:"type:text;not null;default:''"`
	FileURL   *string   `gorm:"size:1024"`
	CreatedAt time.Time `gorm:"index:idx_msg_room_order,priority:2"`
}

// PushToken 以 (user_id, token) 为联合主键，注册时 upsert。
type PushToken struct {
	UserID    uint   `gorm:"primaryKey;autoIncrement:false"`
	Token     string `gorm:"primaryKey;size:255"`
	Platform  string `gorm:"size:16"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
