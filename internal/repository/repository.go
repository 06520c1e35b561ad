package repository

import (
	"context"
	"errors"

	"quickgpt/internal/model"
)

var (
	// ErrNotFound 记录不存在，或不属于当前用户
	ErrNotFound = errors.New("not found")
	// ErrInsufficientCredit 扣费时余额不足
	ErrInsufficientCredit = errors.New("insufficient credit")
	// ErrInvalidAmount 额度变化量非法
	ErrInvalidAmount = errors.New("invalid credit amount")
)

// ConversationStore 对话存储
// AppendAndSave 是唯一修改消息列表的途径，要么全部写入要么不写
// conv.Title 非空且不是默认标题时一并写入标题
type ConversationStore interface {
	Create(ctx context.Context, conv *model.Conversation) error
	Load(ctx context.Context, userID, id string) (*model.Conversation, error)
	AppendAndSave(ctx context.Context, conv *model.Conversation, turns ...model.Turn) (*model.Conversation, error)
	ListByUser(ctx context.Context, userID string, limit, offset int64) ([]*model.Conversation, error)
	Rename(ctx context.Context, userID, id, title string) error
	Delete(ctx context.Context, userID, id string) error
	ListPublishedImages(ctx context.Context, limit int64) ([]*model.PublishedImage, error)
}

// CreditLedger 额度账本
// Debit 必须是单次条件原子更新，不允许先读后写
type CreditLedger interface {
	CheckBalance(ctx context.Context, userID string, cost int64) (bool, error)
	Debit(ctx context.Context, userID string, cost int64) error
	Grant(ctx context.Context, userID string, amount int64) error
	Balance(ctx context.Context, userID string) (int64, error)
}

// UserStore 用户存储
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	FindByID(ctx context.Context, id string) (*model.User, error)
}

var (
	_ ConversationStore = (*ConversationRepo)(nil)
	_ CreditLedger      = (*UserRepo)(nil)
	_ UserStore         = (*UserRepo)(nil)
)
