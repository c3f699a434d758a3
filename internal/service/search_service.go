// Package service 提供了检索相关的业务逻辑。
package service

import (
	"context"

	"rag-connect-go/internal/model"
	"rag-connect-go/internal/repository"
	"rag-connect-go/pkg/embedding"
	"rag-connect-go/pkg/log"
)

// SearchService 接口定义了相似度检索操作。
type SearchService interface {
	// RetrieveContext 将查询向量化后做 kNN 检索。
	// 检索层降级而不失败：任何一步出错都返回空结果。
	RetrieveContext(ctx context.Context, query string, topK int) []model.DocumentMatch
}

type searchService struct {
	embeddingClient embedding.Client
	docRepo         repository.DocumentRepository
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(embeddingClient embedding.Client, docRepo repository.DocumentRepository) SearchService {
	return &searchService{
		embeddingClient: embeddingClient,
		docRepo:         docRepo,
	}
}

// RetrieveContext 执行向量检索，返回按相似度降序的分块。
func (s *searchService) RetrieveContext(ctx context.Context, query string, topK int) []model.DocumentMatch {
	if query == "" || topK <= 0 {
		return []model.DocumentMatch{}
	}

	queryVector, err := s.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		log.Errorf("[SearchService] 向量化查询失败, 降级为空结果: %v", err)
		return []model.DocumentMatch{}
	}

	matches, err := s.docRepo.KnnSearch(ctx, queryVector, topK)
	if err != nil {
		log.Errorf("[SearchService] 向量检索失败, 降级为空结果: %v", err)
		return []model.DocumentMatch{}
	}

	log.Infof("[SearchService] 检索完成, query: '%s', 命中 %d 条", query, len(matches))
	return matches
}
