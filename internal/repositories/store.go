package repositories

import (
	"context"

	"gorm.io/gorm"
)

// Store 聚合所有仓储，事务内通过 tx 构造新的 Store，保证同一事务使用同一连接
type Store struct {
	db *gorm.DB

	Users         *UserRepository
	Conversations *ConversationRepository
	Participants  *ParticipantRepository
	Messages      *MessageRepository
	Reactions     *ReactionRepository
	Invites       *InviteRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:            db,
		Users:         NewUserRepository(db),
		Conversations: NewConversationRepository(db),
		Participants:  NewParticipantRepository(db),
		Messages:      NewMessageRepository(db),
		Reactions:     NewReactionRepository(db),
		Invites:       NewInviteRepository(db),
	}
}

// DB 返回底层连接
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction 在事务中执行 fn，fn 返回错误时回滚
// 注意：fn 内部只能使用 tx，不能再使用外层 Store，否则单连接数据库会死锁
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}
