package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-connect-go/internal/model"
)

type stubEmbedder struct {
	vector []float32
	err    error
}

func (s *stubEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return s.vector, s.err
}

// stubDocRepo 只实现检索路径，其余方法为空操作。
type stubDocRepo struct {
	matches   []model.DocumentMatch
	searchErr error
	gotVector []float32
	gotK      int
}

func (s *stubDocRepo) IndexChunk(ctx context.Context, doc model.EsDocument) error      { return nil }
func (s *stubDocRepo) DeleteByConnector(ctx context.Context, connectorID uint) error   { return nil }
func (s *stubDocRepo) DeleteStale(ctx context.Context, id uint, keep string) error     { return nil }
func (s *stubDocRepo) DeleteGeneration(ctx context.Context, id uint, gen string) error { return nil }

func (s *stubDocRepo) KnnSearch(ctx context.Context, vector []float32, k int) ([]model.DocumentMatch, error) {
	s.gotVector = vector
	s.gotK = k
	return s.matches, s.searchErr
}

func TestRetrieveContextReturnsMatches(t *testing.T) {
	docRepo := &stubDocRepo{matches: []model.DocumentMatch{
		{Content: "first", Score: 0.92},
		{Content: "second", Score: 0.85},
	}}
	svc := NewSearchService(&stubEmbedder{vector: []float32{1, 2, 3}}, docRepo)

	results := svc.RetrieveContext(context.Background(), "image classifier", 5)
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].Content)
	assert.Equal(t, []float32{1, 2, 3}, docRepo.gotVector)
	assert.Equal(t, 5, docRepo.gotK)
}

func TestRetrieveContextDegradesOnEmbeddingFailure(t *testing.T) {
	docRepo := &stubDocRepo{matches: []model.DocumentMatch{{Content: "ignored"}}}
	svc := NewSearchService(&stubEmbedder{err: errors.New("api down")}, docRepo)

	results := svc.RetrieveContext(context.Background(), "anything", 5)
	assert.Empty(t, results)
	assert.Nil(t, docRepo.gotVector) // 嵌入失败后不应继续检索
}

func TestRetrieveContextDegradesOnSearchFailure(t *testing.T) {
	docRepo := &stubDocRepo{searchErr: errors.New("es down")}
	svc := NewSearchService(&stubEmbedder{vector: []float32{1}}, docRepo)

	results := svc.RetrieveContext(context.Background(), "anything", 5)
	assert.Empty(t, results)
}

func TestRetrieveContextEmptyQuery(t *testing.T) {
	docRepo := &stubDocRepo{}
	svc := NewSearchService(&stubEmbedder{vector: []float32{1}}, docRepo)

	assert.Empty(t, svc.RetrieveContext(context.Background(), "", 5))
	assert.Empty(t, svc.RetrieveContext(context.Background(), "query", 0))
}
