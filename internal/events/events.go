// Package events 定义消息落库后对外发布的事件，以及基于 Kafka 的发布与消费。
package events

import (
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// MessageCreated 在消息提交后发布，推送 worker 据此给离线成员发通知。
type MessageCreated struct {
	MessageID  uint      `json:"message_id"`
	RoomID     uint      `json:"room_id"`
	RoomName   string    `json:"room_name"`
	UserID     uint      `json:"user_id"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	HasFile    bool      `json:"has_file"`
	CreatedAt  time.Time `json:"created_at"`
}

// Key 按房间分区，保证同一房间的事件有序。
func (e MessageCreated) Key() []byte {
	return []byte(strconv.FormatUint(uint64(e.RoomID), 10))
}

func Encode(e MessageCreated) ([]byte, error) {
	return json.Marshal(e)
}

func Decode(b []byte) (MessageCreated, error) {
	var e MessageCreated
	err := json.Unmarshal(b, &e)
	return e, err
}
