package ws

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"groupchat/internal/auth"
	"groupchat/internal/authz"
	"groupchat/internal/service"
	"groupchat/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	maxFrameSize = 64 << 10
	sendTimeout  = 5 * time.Second
)

type Client struct {
	room   *RoomHub
	conn   *websocket.Conn
	send   chan []byte
	msgs   *service.MessageService
	userID uint
	uname  string
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type InboundMessage struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	FileURL  string `json:"file_url"`
	IsTyping bool   `json:"is_typing"`
}

// Deps 是 WebSocket 入口需要的依赖。
type Deps struct {
	Hub      *Hub
	Guard    *authz.Guard
	Auth     *auth.Authenticator
	Messages *service.MessageService
}

// Serve 完成鉴权与成员校验后升级连接，只有房间成员可以订阅。
func Serve(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		rid64, err := strconv.ParseUint(c.Query("room_id"), 10, 64)
		if err != nil || rid64 == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room_id"})
			return
		}
		roomID := uint(rid64)

		// 浏览器无法给 WebSocket 设置请求头，允许 ?token=
		token := c.Query("token")
		if token == "" {
			token = auth.BearerToken(c)
		}
		user, err := d.Auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		if _, err := d.Guard.Authorize(c.Request.Context(), roomID, user.ID, authz.ObjMessage, authz.ActRead); err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": service.ErrRoomNotFound.Error()})
			case errors.Is(err, authz.ErrDenied):
				c.JSON(http.StatusForbidden, gin.H{"error": service.ErrNotRoomMember.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := &Client{conn: conn, send: make(chan []byte, 256), msgs: d.Messages, userID: user.ID, uname: user.Username}
		rh, ok := d.Hub.subscribe(roomID, client)
		if !ok {
			_ = conn.Close()
			return
		}
		go client.writePump()

		// 握手期间可能恰好被踢出或房间被删除，注册后再确认一次
		if _, err := d.Guard.Authorize(context.Background(), roomID, user.ID, authz.ObjMessage, authz.ActRead); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				d.Hub.CloseRoom(roomID)
			} else {
				rh.leave(client)
			}
			return
		}
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.room.leave(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var in InboundMessage
		if err := json.Unmarshal(data, &in); err != nil {
			c.replyError("malformed frame")
			continue
		}
		switch in.Type {
		case "typing":
			evt := map[string]interface{}{"type": "typing", "room_id": c.room.roomID, "user_id": c.userID, "username": c.uname, "is_typing": in.IsTyping}
			if b, err := json.Marshal(evt); err == nil {
				c.room.publish(b)
			}
		case "message", "":
			c.handleMessage(in)
		default:
			c.replyError("unknown frame type")
		}
	}
}

// handleMessage 走与 REST 相同的发送路径，成功后由服务层广播。
func (c *Client) handleMessage(in InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	_, err := c.msgs.Send(ctx, c.room.roomID, c.userID, service.SendMessageInput{Content: in.Content, FileURL: in.FileURL})
	if err == nil {
		return
	}
	var se *service.Error
	if errors.As(err, &se) {
		c.replyError(se.Msg)
		return
	}
	log.Error().Err(err).Uint("room_id", c.room.roomID).Uint("user_id", c.userID).Msg("ws send message")
	c.replyError("internal error")
}

func (c *Client) replyError(msg string) {
	b, err := json.Marshal(map[string]interface{}{"type": "error", "error": msg})
	if err == nil {
		c.room.sendTo(c, b)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
