package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"rag-connect-go/internal/model"
	"rag-connect-go/pkg/log"
)

// DocumentRepository 接口定义了文档分块在 Elasticsearch 中的索引与检索操作。
type DocumentRepository interface {
	IndexChunk(ctx context.Context, doc model.EsDocument) error
	// DeleteByConnector 删除某连接器的全部分块（连接器删除时的级联清理）。
	DeleteByConnector(ctx context.Context, connectorID uint) error
	// DeleteStale 删除某连接器中不属于 keepGeneration 的历史分块。
	DeleteStale(ctx context.Context, connectorID uint, keepGeneration string) error
	// DeleteGeneration 删除某连接器中指定 generation 的分块（同步失败时回滚暂存数据）。
	DeleteGeneration(ctx context.Context, connectorID uint, generation string) error
	// KnnSearch 基于余弦相似度的 kNN 检索，返回按相似度降序的命中。
	KnnSearch(ctx context.Context, vector []float32, k int) ([]model.DocumentMatch, error)
}

type documentRepository struct {
	esClient  *elasticsearch.Client
	indexName string
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(esClient *elasticsearch.Client, indexName string) DocumentRepository {
	return &documentRepository{esClient: esClient, indexName: indexName}
}

// IndexChunk 将单个分块文档索引到 Elasticsearch。
func (r *documentRepository) IndexChunk(ctx context.Context, doc model.EsDocument) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      r.indexName,
		DocumentID: doc.DocID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, r.esClient)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引文档到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index document")
	}

	return nil
}

// DeleteByConnector 删除该连接器的所有分块。
func (r *documentRepository) DeleteByConnector(ctx context.Context, connectorID uint) error {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{
				"connector_id": connectorID,
			},
		},
	}
	return r.deleteByQuery(ctx, query)
}

// DeleteStale 删除该连接器中 generation 不等于 keepGeneration 的分块。
// 在新一代分块全部索引成功之后调用，实现原有数据到新数据的原子切换。
func (r *documentRepository) DeleteStale(ctx context.Context, connectorID uint, keepGeneration string) error {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": []map[string]interface{}{
					{"term": map[string]interface{}{"connector_id": connectorID}},
				},
				"must_not": []map[string]interface{}{
					{"term": map[string]interface{}{"generation": keepGeneration}},
				},
			},
		},
	}
	return r.deleteByQuery(ctx, query)
}

// DeleteGeneration 删除该连接器中指定 generation 的分块。
func (r *documentRepository) DeleteGeneration(ctx context.Context, connectorID uint, generation string) error {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": []map[string]interface{}{
					{"term": map[string]interface{}{"connector_id": connectorID}},
					{"term": map[string]interface{}{"generation": generation}},
				},
			},
		},
	}
	return r.deleteByQuery(ctx, query)
}

func (r *documentRepository) deleteByQuery(ctx context.Context, query map[string]interface{}) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return fmt.Errorf("failed to encode delete query: %w", err)
	}

	req := esapi.DeleteByQueryRequest{
		Index:   []string{r.indexName},
		Body:    &buf,
		Refresh: boolPtr(true),
	}

	res, err := req.Do(ctx, r.esClient)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("Elasticsearch delete_by_query 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return errors.New("failed to delete documents")
	}

	return nil
}

// KnnSearch 对向量字段执行 kNN 检索。
func (r *documentRepository) KnnSearch(ctx context.Context, vector []float32, k int) ([]model.DocumentMatch, error) {
	var buf bytes.Buffer
	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": k * 10,
		},
		"size": k,
	}
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := r.esClient.Search(
		r.esClient.Search.WithContext(ctx),
		r.esClient.Search.WithIndex(r.indexName),
		r.esClient.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("Elasticsearch 检索返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EsDocument `json:"_source"`
				Score  float64          `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	matches := make([]model.DocumentMatch, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		matches = append(matches, model.DocumentMatch{
			Content:  hit.Source.Content,
			Metadata: hit.Source.Metadata,
			Score:    hit.Score,
		})
	}
	return matches, nil
}

func boolPtr(b bool) *bool {
	return &b
}
