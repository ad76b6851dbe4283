package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"groupchat/internal/models"
	"groupchat/internal/store"
)

// ProfileService 管理用户的公开资料与推送 token。
type ProfileService struct {
	store store.Store
}

func NewProfileService(st store.Store) *ProfileService {
	return &ProfileService{store: st}
}

type ProfileDTO struct {
	UserID      uint      `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toProfileDTO(p *models.Profile) ProfileDTO {
	return ProfileDTO{UserID: p.UserID, DisplayName: p.DisplayName, AvatarURL: p.AvatarURL, UpdatedAt: p.UpdatedAt}
}

// Get 资料对所有已登录用户可见。
func (s *ProfileService) Get(ctx context.Context, userID uint) (*ProfileDTO, error) {
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	dto := toProfileDTO(p)
	return &dto, nil
}

// UpdateProfileInput 中为 nil 的字段保持不变。
type UpdateProfileInput struct {
	DisplayName *string `json:"display_name" validate:"omitempty,min=1,max=64"`
	AvatarURL   *string `json:"avatar_url" validate:"omitempty,url,max=512"`
}

// Update 只有本人可以修改自己的资料。
func (s *ProfileService) Update(ctx context.Context, actorID, userID uint, in UpdateProfileInput) (*ProfileDTO, error) {
	if actorID != userID {
		return nil, ErrNotProfileOwner
	}
	if in.DisplayName != nil {
		v := strings.TrimSpace(*in.DisplayName)
		if v == "" {
			return nil, validationError("display_name must not be empty")
		}
		in.DisplayName = &v
	}
	if in.AvatarURL != nil {
		v := strings.TrimSpace(*in.AvatarURL)
		in.AvatarURL = &v
	}
	// 空头像地址表示清除头像，不做 URL 校验
	check := in
	if check.AvatarURL != nil && *check.AvatarURL == "" {
		check.AvatarURL = nil
	}
	if err := validateStruct(check); err != nil {
		return nil, err
	}

	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	if in.DisplayName != nil {
		p.DisplayName = *in.DisplayName
	}
	if in.AvatarURL != nil {
		p.AvatarURL = *in.AvatarURL
	}
	if err := s.store.UpdateProfile(ctx, p); err != nil {
		return nil, err
	}
	dto := toProfileDTO(p)
	return &dto, nil
}

type PushTokenInput struct {
	Token    string `json:"token" validate:"required,max=512"`
	Platform string `json:"platform" validate:"required,oneof=android ios web"`
}

// RegisterPushToken 以 (user, token) 为键写入或刷新推送 token。
func (s *ProfileService) RegisterPushToken(ctx context.Context, userID uint, in PushTokenInput) error {
	in.Token = strings.TrimSpace(in.Token)
	in.Platform = strings.ToLower(strings.TrimSpace(in.Platform))
	if err := validateStruct(in); err != nil {
		return err
	}
	return s.store.SavePushToken(ctx, &models.PushToken{UserID: userID, Token: in.Token, Platform: in.Platform})
}

// UnregisterPushToken 幂等，token 不存在时同样返回成功。
func (s *ProfileService) UnregisterPushToken(ctx context.Context, userID uint, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return validationError("token is required")
	}
	return s.store.DeletePushToken(ctx, userID, token)
}
