package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"quickgpt/internal/model"
)

// UserRepo 用户仓库，同时实现额度账本
// 使用UUID作为ID，无需ObjectID转换
type UserRepo struct {
	collection *mongo.Collection
}

// NewUserRepo 创建用户仓库
func NewUserRepo(db *mongo.Database) *UserRepo {
	return &UserRepo{
		collection: db.Collection((&model.User{}).Collection()),
	}
}

// Create 创建用户
func (r *UserRepo) Create(ctx context.Context, user *model.User) error {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.collection.InsertOne(ctx, user)
	return err
}

// FindByID 根据ID查询用户
func (r *UserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CheckBalance 只读预检：余额 >= cost
func (r *UserRepo) CheckBalance(ctx context.Context, userID string, cost int64) (bool, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{
		"_id":     userID,
		"credits": bson.M{"$gte": cost},
	}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Debit 条件原子扣费
// 只有余额 >= cost 的文档会被匹配，余额不会变成负数
func (r *UserRepo) Debit(ctx context.Context, userID string, cost int64) error {
	if cost <= 0 {
		return ErrInvalidAmount
	}

	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": userID, "credits": bson.M{"$gte": cost}},
		bson.M{
			"$inc": bson.M{"credits": -cost},
			"$set": bson.M{"updated_at": time.Now()},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrInsufficientCredit
	}
	return nil
}

// Grant 充值额度
func (r *UserRepo) Grant(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{
			"$inc": bson.M{"credits": amount},
			"$set": bson.M{"updated_at": time.Now()},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Balance 查询当前余额
func (r *UserRepo) Balance(ctx context.Context, userID string) (int64, error) {
	var user model.User
	opts := options.FindOne().SetProjection(bson.M{"credits": 1})
	err := r.collection.FindOne(ctx, bson.M{"_id": userID}, opts).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return user.Credits, nil
}
