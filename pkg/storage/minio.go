// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"rag-connect-go/internal/config"
	"rag-connect-go/pkg/log"
)

// Archive 将每次同步产出的分块负载以 JSONL 形式归档到对象存储，
// 便于审计与重放。Endpoint 未配置时归档被禁用。
type Archive struct {
	client *minio.Client
	bucket string
}

// InitMinIO 初始化 MinIO 客户端并确保归档存储桶存在。
// cfg.Endpoint 为空时返回 nil，表示不开启归档。
func InitMinIO(cfg config.MinIOConfig) *Archive {
	if cfg.Endpoint == "" {
		log.Info("未配置 MinIO，同步产物归档已禁用")
		return nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}
	log.Info("MinIO 客户端初始化成功")

	// 检查存储桶是否存在，如果不存在则创建
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", cfg.BucketName)
	}

	return &Archive{client: client, bucket: cfg.BucketName}
}

// ArchiveEntry 是归档文件中的一行。
type ArchiveEntry struct {
	Content  string      `json:"content"`
	Metadata interface{} `json:"metadata"`
}

// ArchiveSyncPayload 将一次同步产出的分块按行写入
// connectors/<connectorID>/<generation>.jsonl。
func (a *Archive) ArchiveSyncPayload(ctx context.Context, connectorID uint, generation string, entries []ArchiveEntry) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("序列化归档条目失败: %w", err)
		}
	}

	objectName := fmt.Sprintf("connectors/%d/%s.jsonl", connectorID, generation)
	_, err := a.client.PutObject(ctx, a.bucket, objectName, &buf, int64(buf.Len()),
		minio.PutObjectOptions{ContentType: "application/x-ndjson"})
	if err != nil {
		return fmt.Errorf("写入归档对象 '%s' 失败: %w", objectName, err)
	}
	log.Infof("同步产物已归档: %s", objectName)
	return nil
}
