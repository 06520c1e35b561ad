package model

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultConversationTitle 新建对话的默认标题
const DefaultConversationTitle = "New Chat"

// Role 消息角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation 对话实体
// messages 只追加，不修改已有消息
type Conversation struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    string             `bson:"user_id" json:"user_id"`
	UserName  string             `bson:"user_name,omitempty" json:"user_name,omitempty"`
	Title     string             `bson:"title" json:"title"`
	Messages  []Turn             `bson:"messages" json:"messages"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}

// Turn 对话中的一条消息
// Content 为文本，或者 IsImage 为 true 时为图片URL
type Turn struct {
	Role        Role      `bson:"role" json:"role"`
	Content     string    `bson:"content" json:"content"`
	Timestamp   time.Time `bson:"timestamp" json:"timestamp"`
	IsImage     bool      `bson:"is_image" json:"is_image"`
	IsPublished bool      `bson:"is_published,omitempty" json:"is_published,omitempty"` // 仅图片消息有效
}

// PublishedImage 社区公开的图片
type PublishedImage struct {
	ConversationID primitive.ObjectID `bson:"conversation_id" json:"conversation_id"`
	ImageURL       string             `bson:"image_url" json:"image_url"`
	UserName       string             `bson:"user_name,omitempty" json:"user_name,omitempty"`
	Timestamp      time.Time          `bson:"timestamp" json:"timestamp"`
}

// Clone 深拷贝对话，避免调用方修改共享的消息切片
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Messages = append([]Turn(nil), c.Messages...)
	return &cp
}

// Collection 返回集合名称
func (c *Conversation) Collection() string { return "conversations" }

// EnsureIndexes 创建和维护索引
func (c *Conversation) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(c.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("idx_user_updated"),
		},
		{
			Keys:    bson.D{{Key: "messages.is_image", Value: 1}, {Key: "messages.is_published", Value: 1}},
			Options: options.Index().SetName("idx_published_images"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}
