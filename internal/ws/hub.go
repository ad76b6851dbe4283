package ws

import (
	"sync"
	"sync/atomic"

	"groupchat/internal/metrics"
	"groupchat/internal/service"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Hub 管理房间级别的子 Hub，实现延迟创建与并发安全。
// 它只负责投递，谁能订阅由 Serve 在握手时经 Guard 判定。
type Hub struct {
	mu    sync.RWMutex
	rooms map[uint]*RoomHub
}

var _ service.Realtime = (*Hub)(nil)

func NewHub() *Hub { return &Hub{rooms: make(map[uint]*RoomHub)} }

// GetRoom 若房间未初始化则懒加载一个 RoomHub。
func (h *Hub) GetRoom(roomID uint) *RoomHub {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room != nil {
		return room
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	room = h.rooms[roomID]
	if room != nil {
		return room
	}
	room = NewRoomHub(roomID)
	room.release = h.release
	h.rooms[roomID] = room
	go room.run()
	return room
}

// release 在最后一个连接离开后移除子 Hub；同 id 已被新的子 Hub 取代时不动。
func (h *Hub) release(rh *RoomHub) {
	h.mu.Lock()
	if h.rooms[rh.roomID] == rh {
		delete(h.rooms, rh.roomID)
	}
	h.mu.Unlock()
}

// subscribe 把连接注册到房间。子 Hub 可能在取到之后因空闲退出，此时换新的重试。
func (h *Hub) subscribe(roomID uint, c *Client) (*RoomHub, bool) {
	for attempt := 0; attempt < 3; attempt++ {
		rh := h.GetRoom(roomID)
		c.room = rh
		if rh.join(c) {
			return rh, true
		}
	}
	return nil, false
}

func (h *Hub) lookup(roomID uint) *RoomHub {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[roomID]
}

func (h *Hub) Online(roomID uint) int {
	room := h.lookup(roomID)
	if room == nil {
		return 0
	}
	return room.Online()
}

// Broadcast 把事件编码后投递给房间内全部连接；无人在线时直接丢弃。
func (h *Hub) Broadcast(roomID uint, event interface{}) {
	room := h.lookup(roomID)
	if room == nil {
		return
	}
	b, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Uint("room_id", roomID).Msg("encode ws event")
		return
	}
	room.publish(b)
}

// Evict 断开某用户在该房间的全部连接。
func (h *Hub) Evict(roomID, userID uint) {
	if room := h.lookup(roomID); room != nil {
		select {
		case room.evict <- userID:
		case <-room.done:
		}
	}
}

// CloseRoom 关闭房间的全部连接并移除子 Hub。
func (h *Hub) CloseRoom(roomID uint) {
	h.mu.Lock()
	room := h.rooms[roomID]
	delete(h.rooms, roomID)
	h.mu.Unlock()
	if room != nil {
		room.stop()
	}
}

type reply struct {
	client *Client
	data   []byte
}

type RoomHub struct {
	roomID     uint
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	direct     chan reply
	evict      chan uint
	quit       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
	online     int32
	// release 非 nil 时，房间变空后子 Hub 自行退出并从 Hub 中移除。
	release func(*RoomHub)
}

func NewRoomHub(roomID uint) *RoomHub {
	return &RoomHub{
		roomID:     roomID,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		direct:     make(chan reply, 16),
		evict:      make(chan uint),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (rh *RoomHub) run() {
	defer close(rh.done)
	for {
		select {
		case c := <-rh.register:
			rh.clients[c] = true
			metrics.WsConnections.Inc()
			rh.updateOnline()
			rh.presence(c, true)
		case c := <-rh.unregister:
			if _, ok := rh.clients[c]; ok {
				rh.drop(c)
				rh.presence(c, false)
			}
			if rh.idle() {
				return
			}
		case uid := <-rh.evict:
			for c := range rh.clients {
				if c.userID == uid {
					rh.drop(c)
				}
			}
			if rh.idle() {
				return
			}
		case msg := <-rh.broadcast:
			rh.fanout(msg)
		case r := <-rh.direct:
			if rh.clients[r.client] {
				select {
				case r.client.send <- r.data:
				default:
					rh.drop(r.client)
				}
			}
		case <-rh.quit:
			for c := range rh.clients {
				rh.drop(c)
			}
			return
		}
	}
}

func (rh *RoomHub) idle() bool {
	if len(rh.clients) > 0 || rh.release == nil {
		return false
	}
	rh.release(rh)
	return true
}

// drop 移除连接并关闭其发送队列，writePump 随后关闭底层连接。
func (rh *RoomHub) drop(c *Client) {
	delete(rh.clients, c)
	close(c.send)
	metrics.WsConnections.Dec()
	rh.updateOnline()
}

func (rh *RoomHub) fanout(msg []byte) {
	for c := range rh.clients {
		select {
		case c.send <- msg:
		default:
			rh.drop(c)
		}
	}
}

func (rh *RoomHub) presence(c *Client, online bool) {
	evt := map[string]interface{}{
		"type":     "presence",
		"room_id":  rh.roomID,
		"user_id":  c.userID,
		"username": c.uname,
		"online":   online,
		"count":    rh.Online(),
	}
	if b, err := json.Marshal(evt); err == nil {
		rh.fanout(b)
	}
}

func (rh *RoomHub) updateOnline() {
	atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
}

// join 房间已关闭时返回 false。
func (rh *RoomHub) join(c *Client) bool {
	select {
	case rh.register <- c:
		return true
	case <-rh.done:
		return false
	}
}

func (rh *RoomHub) leave(c *Client) {
	select {
	case rh.unregister <- c:
	case <-rh.done:
	}
}

func (rh *RoomHub) publish(b []byte) {
	select {
	case rh.broadcast <- b:
	case <-rh.done:
	}
}

// sendTo 只投递给单个连接，用于回执和错误。
func (rh *RoomHub) sendTo(c *Client, b []byte) {
	select {
	case rh.direct <- reply{client: c, data: b}:
	case <-rh.done:
	}
}

func (rh *RoomHub) stop() {
	rh.stopOnce.Do(func() { close(rh.quit) })
	<-rh.done
}

// Online 返回房间在线客户端数量，供 REST 接口复用。
func (rh *RoomHub) Online() int { return int(atomic.LoadInt32(&rh.online)) }
