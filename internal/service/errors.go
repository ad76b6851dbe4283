package service

import (
	"errors"

	"groupchat/internal/authz"
	"groupchat/internal/store"
)

// 错误分类，handler 通过 errors.Is 映射到 HTTP 状态码。
var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
)

// Error 是带分类的业务错误，Error() 返回可直接展示给调用方的文案。
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }
func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

var (
	ErrUsernameTaken      = newError(ErrConflict, "username taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRefresh     = errors.New("invalid refresh token")

	ErrRoomNotFound         = newError(ErrNotFound, "room not found")
	ErrInvalidInviteCode    = newError(ErrNotFound, "invalid invite code")
	ErrNotMember            = newError(ErrNotFound, "not a member of this room")
	ErrTargetNotMember      = newError(ErrNotFound, "user is not a member of this room")
	ErrProfileNotFound      = newError(ErrNotFound, "profile not found")
	ErrNotRoomMember        = newError(ErrForbidden, "room members only")
	ErrCreatorOnly          = newError(ErrForbidden, "only the room creator can do this")
	ErrCreatorCannotLeave   = newError(ErrForbidden, "the creator cannot leave; delete the room instead")
	ErrCannotKickCreator    = newError(ErrForbidden, "the creator cannot be kicked")
	ErrNotProfileOwner      = newError(ErrForbidden, "profiles can only be edited by their owner")
	ErrInviteCodeTaken      = newError(ErrConflict, "invite code already in use")
	ErrInviteCodesExhausted = newError(ErrConflict, "could not allocate a unique invite code")
)

func validationError(msg string) *Error { return newError(ErrValidation, msg) }

// roomError 把 Guard 与存储层返回的错误折叠为业务错误。
func roomError(err error, denied *Error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrRoomNotFound
	case errors.Is(err, authz.ErrDenied), errors.Is(err, store.ErrNotMember):
		return denied
	}
	return err
}
