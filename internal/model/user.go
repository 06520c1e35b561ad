package model

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultUserCredits 新用户的初始额度
const DefaultUserCredits int64 = 20

// User 用户实体
// 用户由外部认证层维护，这里只关心额度
// Credits 只能通过原子 $inc 修改
type User struct {
	ID        string    `bson:"_id,omitempty" json:"id"` // UUID格式的ID
	Name      string    `bson:"name" json:"name"`
	Email     string    `bson:"email" json:"email"`
	Credits   int64     `bson:"credits" json:"credits"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Collection 返回集合名称
func (u *User) Collection() string { return "users" }

// EnsureIndexes 创建和维护索引
func (u *User) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(u.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetName("idx_email").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_created_at"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}
