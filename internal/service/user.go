package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"groupchat/internal/auth"
	"groupchat/internal/config"
	"groupchat/internal/models"
	"groupchat/internal/store"
)

// UserService 封装注册、登录与 token 刷新。
type UserService struct {
	store store.Users
	cfg   config.Config
}

func NewUserService(st store.Users, cfg config.Config) *UserService {
	return &UserService{store: st, cfg: cfg}
}

type RegisterInput struct {
	Username string `json:"username" validate:"required,min=2,max=64"`
	Password string `json:"password" validate:"required,min=4,max=128"`
}

// RegisterResult 注册成功后返回的数据。
type RegisterResult struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
}

// Register 注册新用户，并以用户名作为初始昵称创建资料。
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := models.User{Username: in.Username, PasswordHash: hash}
	profile := models.Profile{DisplayName: in.Username}
	if err := s.store.CreateUser(ctx, &user, &profile); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return &RegisterResult{ID: user.ID, Username: user.Username}, nil
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         models.User `json:"-"`
}

// Login 校验用户名密码并签发 token 对。
func (s *UserService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	at, err := auth.GenerateAccessToken(user.ID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	rt, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveRefreshToken(ctx, user.ID, rt, s.refreshExpiry()); err != nil {
		return nil, err
	}
	return &LoginResult{AccessToken: at, RefreshToken: rt, User: *user}, nil
}

// RefreshResult 刷新 token 后返回的新 token 对。
type RefreshResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshTokens 验证旧 refresh token 并签发新 token 对（旋转刷新）。
func (s *UserService) RefreshTokens(ctx context.Context, oldRT string) (*RefreshResult, error) {
	newRT, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	userID, err := s.store.RotateRefreshToken(ctx, oldRT, newRT, s.refreshExpiry())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidRefresh
		}
		return nil, err
	}
	at, err := auth.GenerateAccessToken(userID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	return &RefreshResult{AccessToken: at, RefreshToken: newRT}, nil
}

func (s *UserService) refreshExpiry() time.Time {
	return time.Now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
}
