package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"quickgpt/internal/model"
)

// ConversationRepo 对话仓库 (MongoDB)
type ConversationRepo struct {
	collection *mongo.Collection
}

// NewConversationRepo 创建对话仓库
func NewConversationRepo(db *mongo.Database) *ConversationRepo {
	return &ConversationRepo{
		collection: db.Collection((&model.Conversation{}).Collection()),
	}
}

// ownedFilter 同时按 _id 和 user_id 过滤，非法 ID 视为不存在
func ownedFilter(userID, id string) (bson.M, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return bson.M{"_id": objectID, "user_id": userID}, nil
}

// Create 创建对话
func (r *ConversationRepo) Create(ctx context.Context, conv *model.Conversation) error {
	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	if conv.Title == "" {
		conv.Title = model.DefaultConversationTitle
	}
	if conv.Messages == nil {
		conv.Messages = []model.Turn{}
	}

	result, err := r.collection.InsertOne(ctx, conv)
	if err != nil {
		return err
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		conv.ID = oid
	}
	return nil
}

// Load 查询用户自己的对话
func (r *ConversationRepo) Load(ctx context.Context, userID, id string) (*model.Conversation, error) {
	filter, err := ownedFilter(userID, id)
	if err != nil {
		return nil, err
	}

	var conv model.Conversation
	err = r.collection.FindOne(ctx, filter).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// AppendAndSave 追加消息并返回提交后的对话
// 使用一次 $push + $each，文档级原子，并发追加不会丢失
func (r *ConversationRepo) AppendAndSave(ctx context.Context, conv *model.Conversation, turns ...model.Turn) (*model.Conversation, error) {
	if len(turns) == 0 {
		return conv, nil
	}

	filter := bson.M{"_id": conv.ID, "user_id": conv.UserID}
	set := bson.M{"updated_at": time.Now()}
	if conv.Title != "" && conv.Title != model.DefaultConversationTitle {
		set["title"] = conv.Title
	}
	update := bson.M{
		"$push": bson.M{"messages": bson.M{"$each": turns}},
		"$set":  set,
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var committed model.Conversation
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&committed)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("append messages: %w", err)
	}
	return &committed, nil
}

// ListByUser 查询用户对话列表（不含消息）
func (r *ConversationRepo) ListByUser(ctx context.Context, userID string, limit, offset int64) ([]*model.Conversation, error) {
	opts := options.Find().
		SetSort(bson.D{bson.E{Key: "updated_at", Value: -1}}).
		SetLimit(limit).
		SetSkip(offset).
		SetProjection(bson.M{"messages": 0})

	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	convs := []*model.Conversation{}
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, err
	}

	return convs, nil
}

// Rename 修改标题
func (r *ConversationRepo) Rename(ctx context.Context, userID, id, title string) error {
	filter, err := ownedFilter(userID, id)
	if err != nil {
		return err
	}

	res, err := r.collection.UpdateOne(ctx, filter, bson.M{
		"$set": bson.M{"title": title, "updated_at": time.Now()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete 删除对话
func (r *ConversationRepo) Delete(ctx context.Context, userID, id string) error {
	filter, err := ownedFilter(userID, id)
	if err != nil {
		return err
	}

	res, err := r.collection.DeleteOne(ctx, filter)
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPublishedImages 查询公开的图片，按时间倒序
func (r *ConversationRepo) ListPublishedImages(ctx context.Context, limit int64) ([]*model.PublishedImage, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"messages.is_image": true, "messages.is_published": true}}},
		{{Key: "$unwind", Value: "$messages"}},
		{{Key: "$match", Value: bson.M{"messages.is_image": true, "messages.is_published": true}}},
		{{Key: "$sort", Value: bson.D{{Key: "messages.timestamp", Value: -1}}}},
		{{Key: "$limit", Value: limit}},
		{{Key: "$project", Value: bson.M{
			"_id":             0,
			"conversation_id": "$_id",
			"image_url":       "$messages.content",
			"user_name":       "$user_name",
			"timestamp":       "$messages.timestamp",
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	images := []*model.PublishedImage{}
	if err := cursor.All(ctx, &images); err != nil {
		return nil, err
	}
	return images, nil
}
