package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Gopher0727/ChatEngine/internal/events"
)

const (
	writeWait      = 10 * time.Second    // 允许写入消息到对端的最大时间
	pongWait       = 60 * time.Second    // 允许读取下一个 pong 消息的最大时间
	pingPeriod     = (pongWait * 9) / 10 // 发送 ping 到对端的周期，必须小于 pongWait
	maxMessageSize = 512                 // 客户端帧的最大长度
	sendBuffer     = 256
)

// 客户端可以发送的帧类型
const (
	FrameTyping      = "typing"
	FrameViewing     = "viewing"
	FrameStopViewing = "stop_viewing"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ClientFrame 客户端上行帧，例如 {"type":"typing","conversation_id":1}
type ClientFrame struct {
	Type           string `json:"type"`
	ConversationID uint   `json:"conversation_id"`
}

// FrameHandler 处理客户端上行帧，返回的错误会以 error 事件回写给该连接
type FrameHandler interface {
	HandleFrame(ctx context.Context, userID uint, frame ClientFrame) error
}

// Client 一个 WebSocket 连接，读写各一个协程
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	userID  uint
	rooms   []string
	handler FrameHandler
	closed  bool // 由 Hub 在持有写锁时维护
}

// readPump 读取客户端帧并交给 handler
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read failed", zap.Uint("user_id", c.userID), zap.Error(err))
			}
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.reply(events.Error, map[string]string{"error": "invalid frame"})
			continue
		}
		if c.handler == nil {
			continue
		}
		if err := c.handler.HandleFrame(context.Background(), c.userID, frame); err != nil {
			c.reply(events.Error, map[string]string{"type": frame.Type, "error": err.Error()})
		}
	}
}

// reply 直接回写给本连接，不经过 Hub；缓冲区满时丢弃
func (c *Client) reply(event string, data any) {
	frame, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// writePump 把 Hub 投递的帧写到连接，并定期发送 ping
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 关闭了通道
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs 升级连接并加入用户房间，user_id 由认证中间件写入
func ServeWs(hub *Hub, handler FrameHandler, c *gin.Context) {
	userID, ok := c.Get("user_id")
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "未授权", "reason": "unauthenticated"})
		return
	}
	uid := userID.(uint)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		hub.logger.Warn("websocket upgrade failed", zap.Uint("user_id", uid), zap.Error(err))
		return
	}

	client := &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		userID:  uid,
		rooms:   []string{events.UserRoom(uid)},
		handler: handler,
	}
	hub.register <- client
	go client.writePump()
	go client.readPump()
}
