package storage

import (
	"context"
	"io"
)

// Storage 资源存储接口
// 生成的图片上传到这里，返回可公开访问的URL
type Storage interface {
	// Upload 上传文件，返回访问URL
	Upload(ctx context.Context, key string, data io.Reader, contentType string) (string, error)

	// Delete 删除文件，对话保存失败时清理已上传的图片
	Delete(ctx context.Context, key string) error

	// GetStorageType 获取存储类型
	GetStorageType() string
}

// StorageType 存储类型
type StorageType string

const (
	StorageTypeLocal StorageType = "local" // 本地文件系统
	StorageTypeOSS   StorageType = "oss"   // 阿里云OSS
)
