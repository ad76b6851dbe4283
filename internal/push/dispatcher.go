package push

import (
	"context"
	"strconv"
	"unicode/utf8"

	"groupchat/internal/events"
	"groupchat/internal/metrics"
	"groupchat/internal/models"

	"github.com/rs/zerolog/log"
)

const previewRunes = 120

// Recipients 是分发推送需要的存储能力。
type Recipients interface {
	ListMembers(ctx context.Context, roomID uint) ([]models.RoomMember, error)
	ListPushTokens(ctx context.Context, userIDs []uint) ([]models.PushToken, error)
	DeletePushTokens(ctx context.Context, tokens []string) (int64, error)
}

// Dispatcher 把 MessageCreated 推送给除发送者外的全部房间成员。
type Dispatcher struct {
	store  Recipients
	sender Sender
	dedupe Deduper
}

func NewDispatcher(st Recipients, sender Sender, dedupe Deduper) *Dispatcher {
	return &Dispatcher{store: st, sender: sender, dedupe: dedupe}
}

// Handle 按消息 id 去重后调用 Dispatch，可以直接作为 events.Handler 使用。
func (d *Dispatcher) Handle(ctx context.Context, e events.MessageCreated) error {
	first, err := d.dedupe.FirstSeen(ctx, e.MessageID)
	if err != nil {
		// 去重存储不可用时宁可重复推送
		log.Warn().Err(err).Uint("message_id", e.MessageID).Msg("push dedupe unavailable")
	} else if !first {
		metrics.PushDeduped.Inc()
		return nil
	}
	sent, err := d.Dispatch(ctx, e)
	log.Debug().Uint("message_id", e.MessageID).Int("sent", sent).Msg("push dispatched")
	return err
}

// Dispatch 推送给除发送者外的房间成员，返回送达数量。
// 单个批次失败不会中断后续批次，返回最后一个错误。
func (d *Dispatcher) Dispatch(ctx context.Context, e events.MessageCreated) (int, error) {
	members, err := d.store.ListMembers(ctx, e.RoomID)
	if err != nil {
		return 0, err
	}
	recipients := make([]uint, 0, len(members))
	for _, m := range members {
		if m.UserID != e.UserID {
			recipients = append(recipients, m.UserID)
		}
	}
	if len(recipients) == 0 {
		return 0, nil
	}
	rows, err := d.store.ListPushTokens(ctx, recipients)
	if err != nil {
		return 0, err
	}
	tokens := make([]string, 0, len(rows))
	for _, t := range rows {
		tokens = append(tokens, t.Token)
	}
	if len(tokens) == 0 {
		return 0, nil
	}

	n := notificationFor(e)
	var invalid []string
	var lastErr error
	sent := 0
	for start := 0; start < len(tokens); start += MaxBatch {
		end := start + MaxBatch
		if end > len(tokens) {
			end = len(tokens)
		}
		chunk := tokens[start:end]
		res, err := d.sender.Send(ctx, chunk, n)
		if err != nil {
			metrics.PushSent.WithLabelValues("error").Add(float64(len(chunk)))
			log.Error().Err(err).Uint("room_id", e.RoomID).Int("tokens", len(chunk)).Msg("push batch failed")
			lastErr = err
			continue
		}
		sent += res.Success
		metrics.PushSent.WithLabelValues("success").Add(float64(res.Success))
		metrics.PushSent.WithLabelValues("failure").Add(float64(res.Failure))
		invalid = append(invalid, res.Invalid...)
	}

	if len(invalid) > 0 {
		removed, err := d.store.DeletePushTokens(ctx, invalid)
		if err != nil {
			log.Error().Err(err).Int("tokens", len(invalid)).Msg("delete invalid push tokens")
		} else {
			metrics.PushInvalidTokens.Add(float64(removed))
		}
	}
	return sent, lastErr
}

func notificationFor(e events.MessageCreated) Notification {
	body := e.Content
	if utf8.RuneCountInString(body) > previewRunes {
		body = string([]rune(body)[:previewRunes]) + "..."
	}
	if body == "" && e.HasFile {
		body = "sent a file"
	}
	if e.SenderName != "" {
		body = e.SenderName + ": " + body
	}
	return Notification{
		Title: e.RoomName,
		Body:  body,
		Data: map[string]string{
			"type":       "message",
			"room_id":    strconv.FormatUint(uint64(e.RoomID), 10),
			"message_id": strconv.FormatUint(uint64(e.MessageID), 10),
		},
	}
}
