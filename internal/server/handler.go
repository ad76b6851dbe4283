package server

import (
	"errors"
	"net/http"
	"strconv"

	"groupchat/internal/auth"
	"groupchat/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	userSvc    *service.UserService
	roomSvc    *service.RoomService
	msgSvc     *service.MessageService
	profileSvc *service.ProfileService
	callSvc    *service.CallService
}

func NewHandler(userSvc *service.UserService, roomSvc *service.RoomService, msgSvc *service.MessageService, profileSvc *service.ProfileService, callSvc *service.CallService) *Handler {
	return &Handler{userSvc: userSvc, roomSvc: roomSvc, msgSvc: msgSvc, profileSvc: profileSvc, callSvc: callSvc}
}

// writeError 按错误分类映射 HTTP 状态码；未分类的错误只记录日志，不向外暴露细节。
func writeError(c *gin.Context, err error, op string) {
	var partial *service.PartialCreateError
	switch {
	case errors.As(err, &partial):
		log.Error().Err(err).Str("op", op).Str("request_id", c.GetString("requestID")).Msg("partial failure")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "room created but joining it failed; retry with the invite code", "room": partial.Room})
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrInvalidRefresh):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("op", op).Str("request_id", c.GetString("requestID")).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return false
	}
	return true
}

func pathID(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(v), true
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req service.RegisterInput
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.userSvc.Register(c.Request.Context(), req)
	if err != nil {
		writeError(c, err, "register")
		return
	}
	c.JSON(http.StatusOK, result)
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		writeError(c, err, "login")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"user":          gin.H{"id": result.User.ID, "username": result.User.Username},
	})
}

// RefreshToken 处理 token 刷新请求。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.RefreshTokens(c.Request.Context(), req.RefreshToken)
	if err != nil {
		writeError(c, err, "refresh token")
		return
	}
	c.JSON(http.StatusOK, result)
}

// CreateRoom 创建房间，调用者成为创建者。
func (h *Handler) CreateRoom(c *gin.Context) {
	var req service.CreateRoomInput
	if !bindJSON(c, &req) {
		return
	}
	room, err := h.roomSvc.Create(c.Request.Context(), auth.GetUserID(c), req)
	if err != nil {
		writeError(c, err, "create room")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room": room})
}

// ListRooms 返回调用者加入的房间。
func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.roomSvc.List(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		writeError(c, err, "list rooms")
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *Handler) GetRoom(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	room, err := h.roomSvc.Get(c.Request.Context(), roomID, auth.GetUserID(c))
	if err != nil {
		writeError(c, err, "get room")
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

// JoinRoom 通过邀请码加入房间。
func (h *Handler) JoinRoom(c *gin.Context) {
	var req struct {
		Code string `json:"code"`
	}
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.roomSvc.JoinByCode(c.Request.Context(), auth.GetUserID(c), req.Code)
	if err != nil {
		writeError(c, err, "join room")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) LeaveRoom(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.roomSvc.Leave(c.Request.Context(), roomID, auth.GetUserID(c)); err != nil {
		writeError(c, err, "leave room")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) DeleteRoom(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.roomSvc.Delete(c.Request.Context(), roomID, auth.GetUserID(c)); err != nil {
		writeError(c, err, "delete room")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListMembers(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	members, err := h.roomSvc.Members(c.Request.Context(), roomID, auth.GetUserID(c))
	if err != nil {
		writeError(c, err, "list members")
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

// KickMember 由创建者移除成员。
func (h *Handler) KickMember(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	target, ok := pathID(c, "userID")
	if !ok {
		return
	}
	if err := h.roomSvc.Kick(c.Request.Context(), roomID, auth.GetUserID(c), target); err != nil {
		writeError(c, err, "kick member")
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMessages 处理获取房间消息列表请求。
func (h *Handler) ListMessages(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint
	if bid := c.Query("before_id"); bid != "" {
		if v, err := strconv.ParseUint(bid, 10, 64); err == nil && v > 0 {
			beforeID = uint(v)
		}
	}
	msgs, err := h.msgSvc.List(c.Request.Context(), roomID, auth.GetUserID(c), limit, beforeID)
	if err != nil {
		writeError(c, err, "list messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) SendMessage(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.SendMessageInput
	if !bindJSON(c, &req) {
		return
	}
	msg, err := h.msgSvc.Send(c.Request.Context(), roomID, auth.GetUserID(c), req)
	if err != nil {
		writeError(c, err, "send message")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// CallToken 为房间成员签发视频通话凭证。
func (h *Handler) CallToken(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	tok, err := h.callSvc.IssueToken(c.Request.Context(), roomID, auth.GetUserID(c))
	if err != nil {
		writeError(c, err, "call token")
		return
	}
	c.JSON(http.StatusOK, tok)
}

func (h *Handler) GetProfile(c *gin.Context) {
	userID, ok := pathID(c, "userID")
	if !ok {
		return
	}
	p, err := h.profileSvc.Get(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err, "get profile")
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	userID, ok := pathID(c, "userID")
	if !ok {
		return
	}
	var req service.UpdateProfileInput
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.profileSvc.Update(c.Request.Context(), auth.GetUserID(c), userID, req)
	if err != nil {
		writeError(c, err, "update profile")
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

func (h *Handler) RegisterPushToken(c *gin.Context) {
	var req service.PushTokenInput
	if !bindJSON(c, &req) {
		return
	}
	if err := h.profileSvc.RegisterPushToken(c.Request.Context(), auth.GetUserID(c), req); err != nil {
		writeError(c, err, "register push token")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) UnregisterPushToken(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if err := h.profileSvc.UnregisterPushToken(c.Request.Context(), auth.GetUserID(c), req.Token); err != nil {
		writeError(c, err, "unregister push token")
		return
	}
	c.Status(http.StatusNoContent)
}
