package service

import (
	"context"
	"html"
	"strings"
	"time"

	"groupchat/internal/authz"
	"groupchat/internal/events"
	"groupchat/internal/metrics"
	"groupchat/internal/models"
	"groupchat/internal/store"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// MessagePublisher 在消息提交后发布事件，events.Publisher 实现它。
type MessagePublisher interface {
	PublishMessage(ctx context.Context, e events.MessageCreated) error
}

// MessageService 封装消息相关的业务逻辑。
type MessageService struct {
	store  store.Store
	guard  *authz.Guard
	rt     Realtime
	bus    MessagePublisher
	policy *bluemonday.Policy
}

func NewMessageService(st store.Store, guard *authz.Guard, rt Realtime, bus MessagePublisher) *MessageService {
	if rt == nil {
		rt = nopRealtime{}
	}
	if bus == nil {
		bus = events.NopPublisher{}
	}
	return &MessageService{store: st, guard: guard, rt: rt, bus: bus, policy: bluemonday.StrictPolicy()}
}

// MessageDTO 是对外输出的消息数据。
type MessageDTO struct {
	Type        string    `json:"type"`
	ID          uint      `json:"id"`
	RoomID      uint      `json:"room_id"`
	UserID      uint      `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Content     string    `json:"content"`
	FileURL     string    `json:"file_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toMessageDTO(m *models.Message, displayName string) MessageDTO {
	dto := MessageDTO{
		Type:        EventMessage,
		ID:          m.ID,
		RoomID:      m.RoomID,
		UserID:      m.UserID,
		DisplayName: displayName,
		Content:     m.Content,
		CreatedAt:   m.CreatedAt,
	}
	if m.FileURL != nil {
		dto.FileURL = *m.FileURL
	}
	return dto
}

type SendMessageInput struct {
	Content string `json:"content" validate:"max=4000"`
	FileURL string `json:"file_url" validate:"omitempty,url,max=512"`
}

// Send 仅房间成员可以发言。消息先落库，再广播给在线订阅者并发布事件。
func (s *MessageService) Send(ctx context.Context, roomID, userID uint, in SendMessageInput) (*MessageDTO, error) {
	a, err := s.guard.Authorize(ctx, roomID, userID, authz.ObjMessage, authz.ActWrite)
	if err != nil {
		return nil, roomError(err, ErrNotRoomMember)
	}
	in.Content = s.sanitize(in.Content)
	in.FileURL = strings.TrimSpace(in.FileURL)
	if in.Content == "" && in.FileURL == "" {
		return nil, validationError("content or file_url is required")
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	msg := models.Message{RoomID: roomID, UserID: userID, Content: in.Content}
	if in.FileURL != "" {
		msg.FileURL = &in.FileURL
	}
	if err := s.store.CreateMessage(ctx, &msg); err != nil {
		return nil, roomError(err, ErrNotRoomMember)
	}
	metrics.MessagesTotal.Inc()

	var name string
	if p, err := s.store.GetProfile(ctx, userID); err == nil {
		name = p.DisplayName
	}
	dto := toMessageDTO(&msg, name)
	s.rt.Broadcast(roomID, dto)

	e := events.MessageCreated{
		MessageID:  msg.ID,
		RoomID:     roomID,
		RoomName:   a.Room.Name,
		UserID:     userID,
		SenderName: name,
		Content:    msg.Content,
		HasFile:    msg.FileURL != nil,
		CreatedAt:  msg.CreatedAt,
	}
	if err := s.bus.PublishMessage(ctx, e); err != nil {
		log.Warn().Err(err).Uint("message_id", msg.ID).Msg("publish message event")
	}
	return &dto, nil
}

// sanitize 去掉全部 HTML 标签，保留纯文本。
func (s *MessageService) sanitize(content string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(content)))
}

// List 分页查询指定房间的消息，按时间升序返回，仅成员可读。
func (s *MessageService) List(ctx context.Context, roomID, userID uint, limit int, beforeID uint) ([]MessageDTO, error) {
	if _, err := s.guard.Authorize(ctx, roomID, userID, authz.ObjMessage, authz.ActRead); err != nil {
		return nil, roomError(err, ErrNotRoomMember)
	}
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}

	msgs, err := s.store.ListMessages(ctx, roomID, limit, beforeID)
	if err != nil {
		return nil, err
	}

	seen := make(map[uint]struct{}, len(msgs))
	userIDs := make([]uint, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.UserID]; ok {
			continue
		}
		seen[m.UserID] = struct{}{}
		userIDs = append(userIDs, m.UserID)
	}
	profiles, err := profileIndex(ctx, s.store, userIDs)
	if err != nil {
		return nil, err
	}

	out := make([]MessageDTO, 0, len(msgs))
	for i := range msgs {
		out = append(out, toMessageDTO(&msgs[i], profiles[msgs[i].UserID].DisplayName))
	}
	return out, nil
}
