package service

// 房间内实时事件类型。
const (
	EventMessage      = "message"
	EventMemberJoined = "member_joined"
	EventMemberLeft   = "member_left"
	EventMemberKicked = "member_kicked"
	EventRoomDeleted  = "room_deleted"
)

// RoomEvent 是成员变动类事件的负载。
type RoomEvent struct {
	Type    string `json:"type"`
	RoomID  uint   `json:"room_id"`
	UserID  uint   `json:"user_id,omitempty"`
	ActorID uint   `json:"actor_id,omitempty"`
}

// Realtime 是按房间维护订阅的实时通道，由 ws.Hub 实现。
// 数据先落库再调用这里，订阅方看到的事件一定已经提交。
type Realtime interface {
	Broadcast(roomID uint, event interface{})
	// Evict 断开某用户在该房间的全部订阅（离开或被踢）。
	Evict(roomID, userID uint)
	// CloseRoom 房间删除后拆除整个房间的订阅。
	CloseRoom(roomID uint)
	Online(roomID uint) int
}

type nopRealtime struct{}

func (nopRealtime) Broadcast(uint, interface{}) {}
func (nopRealtime) Evict(uint, uint)            {}
func (nopRealtime) CloseRoom(uint)              {}
func (nopRealtime) Online(uint) int             { return 0 }
