package cmd

import (
	"context"
	"errors"
	"fmt"

	"quickgpt/internal/pkg/mongodb"
	"quickgpt/internal/repository"
)

// openUserRepo 管理命令直接操作 MongoDB 中的用户和额度
func openUserRepo() (*repository.UserRepo, func(), error) {
	cfg := GetConfig()
	if cfg.Mongo.URI == "" {
		return nil, nil, errors.New("mongo.uri is required (set QUICKGPT_MONGO_URI)")
	}

	client, err := mongodb.New(&cfg.Mongo)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := mongodb.EnsureIndexes(client.Database()); err != nil {
		_ = client.Close(context.Background())
		return nil, nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}

	closeFn := func() {
		_ = client.Close(context.Background())
	}
	return repository.NewUserRepo(client.Database()), closeFn, nil
}
