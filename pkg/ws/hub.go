package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	redis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	logger "github.com/Gopher0727/ChatEngine/middleware/log"
)

const redisChannelName = "chat:broadcast"

// PubSub 跨实例广播使用的 Redis 能力，由 internal/pkg/redis.Client 实现
type PubSub interface {
	Publish(ctx context.Context, channel string, message any) error
	Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error)
}

// Frame 推送给客户端的 JSON 帧
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// envelope 在 Redis 上传递的消息，Frame 已编码为 JSON，各实例直接转发
type envelope struct {
	Room  string `msgpack:"r"`
	Frame []byte `msgpack:"f"`
}

type delivery struct {
	room  string
	frame []byte
}

// Hub 维护本实例的 WebSocket 连接，按房间（user:{id}）投递事件
// 配置了 Redis 时所有广播都先发布到 Redis，由每个实例的订阅协程投递到本地连接
type Hub struct {
	// 房间 -> 客户端集合，只在 Run 协程中修改
	rooms map[string]map[*Client]struct{}
	mu    sync.RWMutex

	register   chan *Client
	unregister chan *Client
	deliver    chan delivery
	done       chan struct{}

	redis   PubSub
	logger  *logger.Logger
	clients atomic.Int64
}

func NewHub(pubsub PubSub, l *logger.Logger) *Hub {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Hub{
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client, 256),
		unregister: make(chan *Client, 256),
		deliver:    make(chan delivery, 1024),
		done:       make(chan struct{}),
		redis:      pubsub,
		logger:     l,
	}
}

// Run 处理注册、注销和投递，直到 ctx 结束
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	if h.redis != nil {
		sub, err := h.redis.Subscribe(ctx, redisChannelName)
		if err != nil {
			return err
		}
		defer sub.Close()
		go h.forward(ctx, sub.Channel())
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case client := <-h.register:
			h.add(client)
		case client := <-h.unregister:
			h.remove(client)
		case d := <-h.deliver:
			h.fanOut(d)
		}
	}
}

// forward 把 Redis 上收到的广播送入本地投递通道
func (h *Hub) forward(ctx context.Context, ch <-chan *redis.Message) {
	for msg := range ch {
		var env envelope
		if err := msgpack.Unmarshal([]byte(msg.Payload), &env); err != nil {
			h.logger.Warn("drop malformed broadcast", zap.Error(err))
			continue
		}
		select {
		case h.deliver <- delivery{room: env.Room, frame: env.Frame}:
		case <-ctx.Done():
			return
		}
	}
}

// Broadcast 实现 services.Broadcaster，投递尽力而为
func (h *Hub) Broadcast(room, event string, payload any) {
	frame, err := json.Marshal(Frame{Event: event, Data: payload})
	if err != nil {
		h.logger.Error("failed to encode frame", zap.String("event", event), zap.Error(err))
		return
	}

	if h.redis != nil {
		data, err := msgpack.Marshal(envelope{Room: room, Frame: frame})
		if err == nil {
			err = h.redis.Publish(context.Background(), redisChannelName, data)
		}
		if err == nil {
			return
		}
		// Redis 不可用时至少投递给本实例的连接
		h.logger.Warn("redis broadcast failed, delivering locally", zap.String("room", room), zap.Error(err))
	}

	select {
	case h.deliver <- delivery{room: room, frame: frame}:
	case <-h.done:
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range client.rooms {
		if _, ok := h.rooms[room]; !ok {
			h.rooms[room] = make(map[*Client]struct{})
		}
		h.rooms[room][client] = struct{}{}
	}
	h.clients.Add(1)
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detach(client)
}

// detach 调用方持有写锁；重复调用无副作用
func (h *Hub) detach(client *Client) {
	if client.closed {
		return
	}
	for _, room := range client.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	client.closed = true
	close(client.send)
	h.clients.Add(-1)
}

func (h *Hub) fanOut(d delivery) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.rooms[d.room] {
		select {
		case client.send <- d.frame:
		default:
			// 发送缓冲区满，断开慢连接，客户端重连后轮询补齐
			h.logger.Warn("client too slow, disconnecting", zap.Uint("user_id", client.userID))
			h.detach(client)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, members := range h.rooms {
		for client := range members {
			h.detach(client)
		}
	}
}

// Clients 当前实例的连接数
func (h *Hub) Clients() int {
	return int(h.clients.Load())
}

// RoomSize 房间内本实例的连接数
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
