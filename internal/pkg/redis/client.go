package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/Gopher0727/ChatEngine/config"
)

// ErrLockTimeout is returned by Lock when the key stays held past the wait budget.
var ErrLockTimeout = errors.New("redis: lock wait timeout")

// unlockScript deletes the key only if it still holds our token, so a lock
// that expired and was taken by someone else is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Client struct {
	client *redis.Client
	now    func() time.Time
}

func NewClient(cfg *config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return Wrap(rdb), nil
}

// Wrap builds a Client on an existing connection.
func Wrap(rdb *redis.Client) *Client {
	return &Client{client: rdb, now: time.Now}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) GetClient() *redis.Client {
	return c.client
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Lock takes a mutual-exclusion lock on key with SET NX PX, retrying until the
// lock is free, ctx is done or ttl has elapsed. The returned func releases the
// lock if it is still ours.
func (c *Client) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	key = "lock:" + key
	token := uuid.NewString()
	deadline := time.Now().Add(ttl)
	backoff := 5 * time.Millisecond

	for {
		ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return func() {
				// release must not depend on the caller's ctx being alive
				_ = unlockScript.Run(context.WithoutCancel(ctx), c.client, []string{key}, token).Err()
			}, nil
		}
		if time.Now().Add(backoff).After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 50*time.Millisecond {
			backoff *= 2
		}
	}
}

func typingKey(conversationID uint) string {
	return fmt.Sprintf("conversation:%d:typing", conversationID)
}

func viewingKey(conversationID, userID uint) string {
	return fmt.Sprintf("conversation:%d:viewing:%d", conversationID, userID)
}

func viewersKey(messageID int64) string {
	return fmt.Sprintf("message:%d:viewers", messageID)
}

// SetTyping records userID as typing until now+ttl. Members are scored by
// their expiry so readers can drop stale entries without a sweeper.
func (c *Client) SetTyping(ctx context.Context, conversationID, userID uint, ttl time.Duration) error {
	key := typingKey(conversationID)
	now := c.now()
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.UnixMilli(), 10))
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.Add(ttl).UnixMilli()), Member: userID})
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set typing in conversation %d: %w", conversationID, err)
	}
	return nil
}

// TypingUsers returns the users whose typing entry has not expired.
func (c *Client) TypingUsers(ctx context.Context, conversationID uint) ([]uint, error) {
	min := strconv.FormatInt(c.now().UnixMilli()+1, 10)
	members, err := c.client.ZRangeByScore(ctx, typingKey(conversationID), &redis.ZRangeBy{Min: min, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read typing users of conversation %d: %w", conversationID, err)
	}
	out := make([]uint, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, uint(id))
	}
	return out, nil
}

// SetViewing marks userID as having the conversation open for ttl.
func (c *Client) SetViewing(ctx context.Context, conversationID, userID uint, ttl time.Duration) error {
	if err := c.client.Set(ctx, viewingKey(conversationID, userID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to set viewing for user %d: %w", userID, err)
	}
	return nil
}

func (c *Client) ClearViewing(ctx context.Context, conversationID, userID uint) error {
	return c.client.Del(ctx, viewingKey(conversationID, userID)).Err()
}

func (c *Client) IsViewing(ctx context.Context, conversationID, userID uint) (bool, error) {
	n, err := c.client.Exists(ctx, viewingKey(conversationID, userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check viewing for user %d: %w", userID, err)
	}
	return n > 0, nil
}

// MarkViewed adds userID to the viewer set of a message and reports whether
// this is the first view by that user.
func (c *Client) MarkViewed(ctx context.Context, messageID int64, userID uint) (bool, error) {
	added, err := c.client.SAdd(ctx, viewersKey(messageID), userID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record view of message %d: %w", messageID, err)
	}
	return added == 1, nil
}

func (c *Client) Publish(ctx context.Context, channel string, message any) error {
	err := c.client.Publish(ctx, channel, message).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", channel, err)
	}
	return nil
}

func (c *Client) Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error) {
	pubsub := c.client.Subscribe(ctx, channels...)
	// Wait for confirmation that subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to channels: %w", err)
	}
	return pubsub, nil
}
