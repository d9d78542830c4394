package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Gopher0727/ChatEngine/config"
)

// Limiter 限流器接口，key 通常为 "message:user:42"
type Limiter interface {
	// Allow 消耗一次配额，超出 limit 时返回 false
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	AllowN(ctx context.Context, key string, n int, limit int, window time.Duration) (bool, error)
	Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error)
	Reset(ctx context.Context, key string, window time.Duration) error
}

// WindowLimiter 基于 Redis 固定窗口计数的限流器，多个实例共享同一计数
type WindowLimiter struct {
	redisClient *redis.Client
	logger      *zap.Logger
	failOpen    bool // Redis 不可用时放行
	now         func() time.Time
}

func NewWindowLimiter(redisClient *redis.Client, logger *zap.Logger, failOpen bool) *WindowLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WindowLimiter{
		redisClient: redisClient,
		logger:      logger,
		failOpen:    failOpen,
		now:         time.Now,
	}
}

func (l *WindowLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return l.AllowN(ctx, key, 1, limit, window)
}

// AllowN 一次消耗 n 个配额
// INCRBY 与 EXPIRE 在同一个 pipeline 中执行
func (l *WindowLimiter) AllowN(ctx context.Context, key string, n int, limit int, window time.Duration) (bool, error) {
	if window <= 0 {
		return false, fmt.Errorf("rate limit window must be positive, got %s", window)
	}
	bucketKey := l.bucketKey(key, window)

	pipe := l.redisClient.Pipeline()
	incr := pipe.IncrBy(ctx, bucketKey, int64(n))
	pipe.Expire(ctx, bucketKey, window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		if l.failOpen {
			l.logger.Warn("rate limit check failed, allowing request", zap.String("key", key), zap.Error(err))
			return true, nil
		}
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := incr.Val()
	if count > int64(limit) {
		l.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Int("limit", limit),
		)
		return false, nil
	}
	return true, nil
}

// Remaining 当前窗口剩余配额
func (l *WindowLimiter) Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	count, err := l.redisClient.Get(ctx, l.bucketKey(key, window)).Int()
	if errors.Is(err, redis.Nil) {
		return limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read rate limit counter: %w", err)
	}
	return max(limit-count, 0), nil
}

// Reset 清空当前窗口和上一个窗口的计数
func (l *WindowLimiter) Reset(ctx context.Context, key string, window time.Duration) error {
	now := l.now()
	keys := []string{
		bucketKeyAt(key, now, window),
		bucketKeyAt(key, now.Add(-window), window),
	}
	if err := l.redisClient.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit for key %s: %w", key, err)
	}
	return nil
}

func (l *WindowLimiter) bucketKey(key string, window time.Duration) string {
	return bucketKeyAt(key, l.now(), window)
}

// bucketKeyAt 按窗口长度对齐的桶，同一窗口内的请求落在同一个 key
func bucketKeyAt(key string, at time.Time, window time.Duration) string {
	return fmt.Sprintf("ratelimit:%s:%d", key, at.UnixMilli()/window.Milliseconds())
}

// Rule 一条限流规则
type Rule struct {
	Limit  int
	Window time.Duration
}

const (
	ActionMessage  = "message"
	ActionReaction = "reaction"
	ActionInvite   = "invite"
)

// RuleFor 返回写操作对应的限流规则，未知操作使用每分钟 100 次
func RuleFor(action string, cfg *config.RateLimitConfig) Rule {
	switch action {
	case ActionMessage:
		return Rule{Limit: cfg.MessagePerMinute, Window: time.Minute}
	case ActionReaction:
		return Rule{Limit: cfg.ReactionPerMinute, Window: time.Minute}
	case ActionInvite:
		return Rule{Limit: cfg.InvitePerMinute, Window: time.Minute}
	default:
		return Rule{Limit: 100, Window: time.Minute}
	}
}

// Key 用户维度的限流 key
func Key(action string, userID uint) string {
	return fmt.Sprintf("%s:user:%d", action, userID)
}
