package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Gopher0727/ChatEngine/config"
	"github.com/Gopher0727/ChatEngine/internal/errs"
	"github.com/Gopher0727/ChatEngine/internal/events"
	"github.com/Gopher0727/ChatEngine/internal/metrics"
	"github.com/Gopher0727/ChatEngine/internal/models"
	"github.com/Gopher0727/ChatEngine/internal/repositories"
	logger "github.com/Gopher0727/ChatEngine/middleware/log"
)

// Broadcaster 实时事件推送，投递尽力而为
type Broadcaster interface {
	Broadcast(room, event string, payload any)
}

// Notifier 通知下游（Kafka 或本地 Hub）
type Notifier interface {
	Notify(ctx context.Context, recipientID uint, kind string, payload any) error
}

// Locker 分布式互斥锁，返回的函数用于释放
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// PresenceStore 输入中/正在查看等短期状态
type PresenceStore interface {
	SetTyping(ctx context.Context, conversationID, userID uint, ttl time.Duration) error
	TypingUsers(ctx context.Context, conversationID uint) ([]uint, error)
	SetViewing(ctx context.Context, conversationID, userID uint, ttl time.Duration) error
	ClearViewing(ctx context.Context, conversationID, userID uint) error
	IsViewing(ctx context.Context, conversationID, userID uint) (bool, error)
	MarkViewed(ctx context.Context, messageID int64, userID uint) (bool, error)
}

// IDGenerator 消息 ID 生成器
type IDGenerator interface {
	NextID() (int64, error)
}

// Executor 副作用执行器，队列满时返回 false
type Executor interface {
	TrySubmit(job func()) bool
}

// Deps 服务层依赖
type Deps struct {
	Store       *repositories.Store
	Broadcaster Broadcaster
	Notifier    Notifier
	Locker      Locker
	Presence    PresenceStore
	IDs         IDGenerator
	// Pool 为 nil 时副作用同步执行（测试使用）
	Pool    Executor
	Logger  *logger.Logger
	Metrics *metrics.Metrics
	Config  config.ChatConfig
	Now     func() time.Time
}

// Services 聚合所有业务服务
type Services struct {
	Conversations *ConversationService
	Messages      *MessageService
	Reactions     *ReactionService
	Invites       *InviteService
	ReadState     *ReadStateService
	Presence      *PresenceService
	Query         *QueryService
}

// New 创建全部业务服务
func New(deps Deps) *Services {
	if deps.Logger == nil {
		deps.Logger = logger.NewNopLogger()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Config == (config.ChatConfig{}) {
		deps.Config = config.DefaultChatConfig()
	}
	b := &base{deps: deps}

	convs := &ConversationService{base: b}
	return &Services{
		Conversations: convs,
		Messages:      &MessageService{base: b, conversations: convs},
		Reactions:     &ReactionService{base: b},
		Invites:       newInviteService(b),
		ReadState:     &ReadStateService{base: b},
		Presence:      &PresenceService{base: b},
		Query:         &QueryService{base: b},
	}
}

// base 各服务共享的依赖与辅助方法
type base struct {
	deps Deps
}

func (b *base) store() *repositories.Store {
	return b.deps.Store
}

func (b *base) cfg() config.ChatConfig {
	return b.deps.Config
}

func (b *base) now() time.Time {
	return b.deps.Now().UTC()
}

func (b *base) log() *logger.Logger {
	return b.deps.Logger
}

// async 提交一个不影响主流程的副作用，失败只记录日志
func (b *base) async(ctx context.Context, kind string, fn func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	job := func() {
		if err := fn(ctx); err != nil {
			b.deps.Metrics.SideEffectFailed(kind)
			b.log().WarnContext(ctx, "side effect failed", zap.String("kind", kind), zap.Error(err))
		}
	}
	if b.deps.Pool == nil {
		job()
		return
	}
	if !b.deps.Pool.TrySubmit(job) {
		b.deps.Metrics.SideEffectFailed(kind)
		b.log().WarnContext(ctx, "side effect dropped, worker pool is full", zap.String("kind", kind))
	}
}

// emit 向一组用户推送事件
func (b *base) emit(ctx context.Context, userIDs []uint, event string, payload any) {
	if b.deps.Broadcaster == nil || len(userIDs) == 0 {
		return
	}
	b.async(ctx, "broadcast", func(context.Context) error {
		for _, id := range userIDs {
			b.deps.Broadcaster.Broadcast(events.UserRoom(id), event, payload)
		}
		return nil
	})
}

// emitToConversation 向会话的全部活跃成员推送事件
func (b *base) emitToConversation(ctx context.Context, conversationID uint, event string, payload any) {
	if b.deps.Broadcaster == nil {
		return
	}
	b.async(ctx, "broadcast", func(ctx context.Context) error {
		ids, err := b.store().Participants.ActiveUserIDs(ctx, conversationID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			b.deps.Broadcaster.Broadcast(events.UserRoom(id), event, payload)
		}
		return nil
	})
}

// lock 获取锁，超时映射为 ErrBusy
func (b *base) lock(ctx context.Context, key string) (func(), error) {
	if b.deps.Locker == nil {
		return func() {}, nil
	}
	unlock, err := b.deps.Locker.Lock(ctx, key, b.cfg().LockTTL())
	if err != nil {
		return nil, ErrBusy.Wrap(err)
	}
	return unlock, nil
}

// translate 把仓储返回的记录不存在映射为领域错误
func translate(err error, notFound error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return err
}

// loadConversation 加载会话
func loadConversation(ctx context.Context, store *repositories.Store, id uint) (*models.Conversation, error) {
	conv, err := store.Conversations.GetByID(ctx, id)
	if err != nil {
		return nil, translate(err, ErrConversationNotFound)
	}
	return conv, nil
}

// loadMembership 加载会话和调用者的活跃成员记录
func loadMembership(ctx context.Context, store *repositories.Store, conversationID, userID uint) (*models.Conversation, *models.Participant, error) {
	conv, err := loadConversation(ctx, store, conversationID)
	if err != nil {
		return nil, nil, err
	}
	p, err := store.Participants.GetActive(ctx, conversationID, userID)
	if err != nil {
		return nil, nil, translate(err, ErrNotParticipant)
	}
	return conv, p, nil
}

// loadAdmin 同 loadMembership，但群组/频道要求管理员
func loadAdmin(ctx context.Context, store *repositories.Store, conversationID, userID uint) (*models.Conversation, *models.Participant, error) {
	conv, p, err := loadMembership(ctx, store, conversationID, userID)
	if err != nil {
		return nil, nil, err
	}
	if !conv.IsDirect() && !p.IsAdmin() {
		return nil, nil, ErrAdminRequired
	}
	return conv, p, nil
}

// viewerOf 成员记录对应的可见范围
func viewerOf(p *models.Participant) repositories.Viewer {
	return repositories.Viewer{UserID: p.UserID, ClearedBeforeID: p.ClearedBeforeID}
}

// messageVisible 消息对该成员是否可见（未被清空、未被本人隐藏）
func messageVisible(ctx context.Context, store *repositories.Store, msg *models.Message, p *models.Participant) (bool, error) {
	if msg.ID <= p.ClearedBeforeID {
		return false, nil
	}
	hidden, err := store.Messages.IsHidden(ctx, msg.ID, p.UserID)
	if err != nil {
		return false, err
	}
	return !hidden, nil
}

// isDomain 错误是否已经分类
func isDomain(err error) bool {
	var e *errs.Error
	return errors.As(err, &e)
}

func except(ids []uint, exclude uint) []uint {
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}

func dedupe[T comparable](values []T) []T {
	seen := make(map[T]struct{}, len(values))
	out := make([]T, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
