// Package memory 内存实现的对话存储和额度账本
// 未配置 MongoDB 时使用，也用于测试
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"quickgpt/internal/model"
	"quickgpt/internal/repository"
)

// ConversationStore 内存对话存储
type ConversationStore struct {
	mu    sync.RWMutex
	convs map[primitive.ObjectID]*model.Conversation
}

// NewConversationStore 创建内存对话存储
func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		convs: make(map[primitive.ObjectID]*model.Conversation),
	}
}

// lookup 调用方需持有锁
func (s *ConversationStore) lookup(userID, id string) (*model.Conversation, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, repository.ErrNotFound
	}
	conv, ok := s.convs[oid]
	if !ok || conv.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return conv, nil
}

// Create 创建对话
func (s *ConversationStore) Create(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	conv.ID = primitive.NewObjectID()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	if conv.Title == "" {
		conv.Title = model.DefaultConversationTitle
	}
	if conv.Messages == nil {
		conv.Messages = []model.Turn{}
	}

	s.convs[conv.ID] = conv.Clone()
	return nil
}

// Load 查询用户自己的对话
func (s *ConversationStore) Load(ctx context.Context, userID, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, err := s.lookup(userID, id)
	if err != nil {
		return nil, err
	}
	return conv.Clone(), nil
}

// AppendAndSave 追加消息并返回提交后的对话
func (s *ConversationStore) AppendAndSave(ctx context.Context, conv *model.Conversation, turns ...model.Turn) (*model.Conversation, error) {
	if len(turns) == 0 {
		return conv, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.lookup(conv.UserID, conv.ID.Hex())
	if err != nil {
		return nil, err
	}

	stored.Messages = append(stored.Messages, turns...)
	stored.UpdatedAt = time.Now()
	if conv.Title != "" && conv.Title != model.DefaultConversationTitle {
		stored.Title = conv.Title
	}
	return stored.Clone(), nil
}

// ListByUser 查询用户对话列表（不含消息）
func (s *ConversationStore) ListByUser(ctx context.Context, userID string, limit, offset int64) ([]*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	convs := []*model.Conversation{}
	for _, conv := range s.convs {
		if conv.UserID != userID {
			continue
		}
		cp := conv.Clone()
		cp.Messages = nil
		convs = append(convs, cp)
	}

	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})

	if offset >= int64(len(convs)) {
		return []*model.Conversation{}, nil
	}
	convs = convs[offset:]
	if limit > 0 && limit < int64(len(convs)) {
		convs = convs[:limit]
	}
	return convs, nil
}

// Rename 修改标题
func (s *ConversationStore) Rename(ctx context.Context, userID, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.lookup(userID, id)
	if err != nil {
		return err
	}
	conv.Title = title
	conv.UpdatedAt = time.Now()
	return nil
}

// Delete 删除对话
func (s *ConversationStore) Delete(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.lookup(userID, id)
	if err != nil {
		return err
	}
	delete(s.convs, conv.ID)
	return nil
}

// ListPublishedImages 查询公开的图片，按时间倒序
func (s *ConversationStore) ListPublishedImages(ctx context.Context, limit int64) ([]*model.PublishedImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	images := []*model.PublishedImage{}
	for _, conv := range s.convs {
		for _, turn := range conv.Messages {
			if !turn.IsImage || !turn.IsPublished {
				continue
			}
			images = append(images, &model.PublishedImage{
				ConversationID: conv.ID,
				ImageURL:       turn.Content,
				UserName:       conv.UserName,
				Timestamp:      turn.Timestamp,
			})
		}
	}

	sort.Slice(images, func(i, j int) bool {
		return images[i].Timestamp.After(images[j].Timestamp)
	})
	if limit > 0 && limit < int64(len(images)) {
		images = images[:limit]
	}
	return images, nil
}

// UserStore 内存用户存储，同时实现额度账本
type UserStore struct {
	mu    sync.Mutex
	users map[string]*model.User
}

// NewUserStore 创建内存用户存储
func NewUserStore() *UserStore {
	return &UserStore{
		users: make(map[string]*model.User),
	}
}

// Create 创建用户
func (s *UserStore) Create(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

// CreateIfMissing 用户不存在时创建，已存在时不修改，返回是否新建
func (s *UserStore) CreateIfMissing(ctx context.Context, user *model.User) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return false, nil
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	cp := *user
	s.users[user.ID] = &cp
	return true, nil
}

// FindByID 根据ID查询用户
func (s *UserStore) FindByID(ctx context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *user
	return &cp, nil
}

// CheckBalance 只读预检：余额 >= cost
func (s *UserStore) CheckBalance(ctx context.Context, userID string, cost int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return false, nil
	}
	return user.Credits >= cost, nil
}

// Debit 条件扣费，检查与扣减在同一把锁内完成
func (s *UserStore) Debit(ctx context.Context, userID string, cost int64) error {
	if cost <= 0 {
		return repository.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok || user.Credits < cost {
		return repository.ErrInsufficientCredit
	}
	user.Credits -= cost
	user.UpdatedAt = time.Now()
	return nil
}

// Grant 充值额度
func (s *UserStore) Grant(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return repository.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	user.Credits += amount
	user.UpdatedAt = time.Now()
	return nil
}

// Balance 查询当前余额
func (s *UserStore) Balance(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	return user.Credits, nil
}

var (
	_ repository.ConversationStore = (*ConversationStore)(nil)
	_ repository.CreditLedger      = (*UserStore)(nil)
	_ repository.UserStore         = (*UserStore)(nil)
)
