package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"rag-connect-go/internal/connector"
	"rag-connect-go/internal/model"
	"rag-connect-go/internal/repository"
	"rag-connect-go/pkg/tasks"
)

// fakeConnRepo 是 ConnectorRepository 的内存实现，模拟 CAS 语义。
type fakeConnRepo struct {
	mu             sync.Mutex
	conns          map[uint]*model.Connector
	markSuccessErr error
}

func newFakeConnRepo(conns ...*model.Connector) *fakeConnRepo {
	r := &fakeConnRepo{conns: make(map[uint]*model.Connector)}
	for _, c := range conns {
		r.conns[c.ID] = c
	}
	return r
}

func (r *fakeConnRepo) Create(conn *model.Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID] = conn
	return nil
}

func (r *fakeConnRepo) FindByID(id uint) (*model.Connector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *conn
	return &cp, nil
}

func (r *fakeConnRepo) FindAll() ([]model.Connector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Connector
	for _, c := range r.conns {
		out = append(out, *c)
	}
	return out, nil
}

func (r *fakeConnRepo) Update(conn *model.Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID] = conn
	return nil
}

func (r *fakeConnRepo) Delete(id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
	return nil
}

func (r *fakeConnRepo) TrySetSyncing(id uint, staleAfter time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if conn.SyncStatus == model.SyncStatusSyncing && conn.UpdatedAt.After(time.Now().Add(-staleAfter)) {
		return repository.ErrSyncInProgress
	}
	conn.SyncStatus = model.SyncStatusSyncing
	conn.SyncError = ""
	conn.UpdatedAt = time.Now()
	return nil
}

func (r *fakeConnRepo) MarkSyncSuccess(id uint, documentsCount int, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markSuccessErr != nil {
		return r.markSuccessErr
	}
	conn := r.conns[id]
	conn.SyncStatus = model.SyncStatusSuccess
	conn.SyncError = ""
	conn.DocumentsCount = documentsCount
	lt := model.LocalTime(completedAt)
	conn.LastSyncedAt = &lt
	return nil
}

func (r *fakeConnRepo) MarkSyncError(id uint, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn := r.conns[id]
	conn.SyncStatus = model.SyncStatusError
	conn.SyncError = message
	return nil
}

// fakeDocRepo 是 DocumentRepository 的内存实现。
type fakeDocRepo struct {
	mu           sync.Mutex
	docs         []model.EsDocument
	failAtIndex  int // 第 N 次 IndexChunk 调用返回错误，0 表示不失败
	indexCalls   int
	staleKept    []string
	deletedGens  []string
	searchResult []model.DocumentMatch
}

func (r *fakeDocRepo) IndexChunk(ctx context.Context, doc model.EsDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexCalls++
	if r.failAtIndex > 0 && r.indexCalls >= r.failAtIndex {
		return errors.New("es unavailable")
	}
	r.docs = append(r.docs, doc)
	return nil
}

func (r *fakeDocRepo) DeleteByConnector(ctx context.Context, connectorID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.docs[:0]
	for _, d := range r.docs {
		if d.ConnectorID != connectorID {
			kept = append(kept, d)
		}
	}
	r.docs = kept
	return nil
}

func (r *fakeDocRepo) DeleteStale(ctx context.Context, connectorID uint, keepGeneration string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staleKept = append(r.staleKept, keepGeneration)
	kept := r.docs[:0]
	for _, d := range r.docs {
		if d.ConnectorID != connectorID || d.Generation == keepGeneration {
			kept = append(kept, d)
		}
	}
	r.docs = kept
	return nil
}

func (r *fakeDocRepo) DeleteGeneration(ctx context.Context, connectorID uint, generation string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletedGens = append(r.deletedGens, generation)
	kept := r.docs[:0]
	for _, d := range r.docs {
		if d.ConnectorID != connectorID || d.Generation != generation {
			kept = append(kept, d)
		}
	}
	r.docs = kept
	return nil
}

func (r *fakeDocRepo) KnnSearch(ctx context.Context, vector []float32, k int) ([]model.DocumentMatch, error) {
	return r.searchResult, nil
}

// fakeSource 返回预设分块或错误。
type fakeSource struct {
	chunks []connector.Chunk
	err    error
	calls  int
}

func (s *fakeSource) FetchChunks(ctx context.Context, conn *model.Connector) ([]connector.Chunk, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.chunks, nil
}

// statusPeekingSource 在抓取过程中回读连接器状态，用于观察中间态。
type statusPeekingSource struct {
	repo     repository.ConnectorRepository
	observed model.SyncStatus
}

func (s *statusPeekingSource) FetchChunks(ctx context.Context, conn *model.Connector) ([]connector.Chunk, error) {
	got, err := s.repo.FindByID(conn.ID)
	if err != nil {
		return nil, err
	}
	s.observed = got.SyncStatus
	return textChunks(1), nil
}

// fakeEmbedder 返回固定向量，可配置在第 N 次调用时失败。
type fakeEmbedder struct {
	failAt int
	calls  int
}

func (e *fakeEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.failAt > 0 && e.calls >= e.failAt {
		return nil, errors.New("embedding api down")
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func testConnector() *model.Connector {
	return &model.Connector{
		ID:         1,
		Name:       "notes",
		SourceType: model.SourceTypeManual,
		Config:     model.ConnectorConfig{"text": "ignored by fake source"},
		SyncStatus: model.SyncStatusIdle,
	}
}

func textChunks(n int) []connector.Chunk {
	out := make([]connector.Chunk, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, connector.Chunk{
			Content:  fmt.Sprintf("chunk content %d", i),
			Metadata: model.ChunkMetadata{SourceType: model.SourceTypeManual, ChunkIndex: i},
		})
	}
	return out
}

func newTestProcessor(connRepo repository.ConnectorRepository, docRepo repository.DocumentRepository, src connector.Source) *Processor {
	registry := connector.NewRegistry()
	registry.Register(model.SourceTypeManual, src)
	return NewProcessor(connRepo, docRepo, registry, &fakeEmbedder{}, nil, "embed-v1", 10*time.Minute)
}

func TestSyncConnectorSuccess(t *testing.T) {
	connRepo := newFakeConnRepo(testConnector())
	docRepo := &fakeDocRepo{}
	src := &fakeSource{chunks: textChunks(3)}
	p := newTestProcessor(connRepo, docRepo, src)

	err := p.SyncConnector(context.Background(), 1)
	require.NoError(t, err)

	conn, _ := connRepo.FindByID(1)
	assert.Equal(t, model.SyncStatusSuccess, conn.SyncStatus)
	assert.Equal(t, 3, conn.DocumentsCount)
	assert.Empty(t, conn.SyncError)
	require.NotNil(t, conn.LastSyncedAt)
	assert.WithinDuration(t, time.Now(), conn.LastSyncedAt.Time(), 5*time.Second)

	require.Len(t, docRepo.docs, 3)
	gen := docRepo.docs[0].Generation
	require.NotEmpty(t, gen)
	for i, doc := range docRepo.docs {
		assert.Equal(t, fmt.Sprintf("1_%s_%d", gen, i), doc.DocID)
		assert.Equal(t, gen, doc.Generation)
		assert.Equal(t, uint(1), doc.ConnectorID)
		assert.Equal(t, "embed-v1", doc.ModelVersion)
		assert.Equal(t, []float32{0.1, 0.2, 0.3}, doc.Vector)
	}
	// 成功后清理历史 generation，仅保留本次
	require.Len(t, docRepo.staleKept, 1)
	assert.Equal(t, gen, docRepo.staleKept[0])
}

func TestSyncConnectorMarksSyncingBeforeFetch(t *testing.T) {
	connRepo := newFakeConnRepo(testConnector())
	src := &statusPeekingSource{repo: connRepo}
	p := newTestProcessor(connRepo, &fakeDocRepo{}, src)

	require.NoError(t, p.SyncConnector(context.Background(), 1))

	// 抓取尚未完成时，外部已能观察到 syncing 中间态
	assert.Equal(t, model.SyncStatusSyncing, src.observed)
	got, _ := connRepo.FindByID(1)
	assert.Equal(t, model.SyncStatusSuccess, got.SyncStatus)
}

func TestSyncConnectorMarkSuccessFailureEndsInErrorState(t *testing.T) {
	connRepo := newFakeConnRepo(testConnector())
	connRepo.markSuccessErr = errors.New("mysql has gone away")
	src := &fakeSource{chunks: textChunks(1)}
	p := newTestProcessor(connRepo, &fakeDocRepo{}, src)

	err := p.SyncConnector(context.Background(), 1)
	require.Error(t, err)

	// 成功状态落盘失败时降级为 error 终态，而不是停留在 syncing 等待陈旧阈值
	got, _ := connRepo.FindByID(1)
	assert.Equal(t, model.SyncStatusError, got.SyncStatus)
	assert.Contains(t, got.SyncError, "mysql has gone away")
}

func TestSyncConnectorReplacesPreviousChunks(t *testing.T) {
	connRepo := newFakeConnRepo(testConnector())
	docRepo := &fakeDocRepo{docs: []model.EsDocument{
		{DocID: "1_old-gen_0", ConnectorID: 1, Generation: "old-gen", Content: "stale"},
	}}
	src := &fakeSource{chunks: textChunks(2)}
	p := newTestProcessor(connRepo, docRepo, src)

	require.NoError(t, p.SyncConnector(context.Background(), 1))

	require.Len(t, docRepo.docs, 2)
	for _, doc := range docRepo.docs {
		assert.NotEqual(t, "old-gen", doc.Generation)
	}
}

func TestSyncConnectorNoContent(t *testing.T) {
	conn := testConnector()
	conn.DocumentsCount = 5
	prev := model.LocalTime(time.Now().Add(-time.Hour))
	conn.LastSyncedAt = &prev
	connRepo := newFakeConnRepo(conn)
	docRepo := &fakeDocRepo{}
	src := &fakeSource{chunks: nil}
	p := newTestProcessor(connRepo, docRepo, src)

	err := p.SyncConnector(context.Background(), 1)
	require.ErrorIs(t, err, ErrNoContent)

	got, _ := connRepo.FindByID(1)
	assert.Equal(t, model.SyncStatusError, got.SyncStatus)
	assert.Equal(t, "no content retrieved from source", got.SyncError)
	// 失败不动既有计数与完成时间
	assert.Equal(t, 5, got.DocumentsCount)
	assert.Equal(t, prev.Time(), got.LastSyncedAt.Time())
}

func TestSyncConnectorSourceError(t *testing.T) {
	connRepo := newFakeConnRepo(testConnector())
	docRepo := &fakeDocRepo{}
	src := &fakeSource{err: errors.New("jira api unreachable")}
	p := newTestProcessor(connRepo, docRepo, src)

	err := p.SyncConnector(context.Background(), 1)
	require.Error(t, err)

	got, _ := connRepo.FindByID(1)
	assert.Equal(t, model.SyncStatusError, got.SyncStatus)
	assert.Contains(t, got.SyncError, "jira api unreachable")
	assert.Empty(t, docRepo.docs)
}

func TestSyncConnectorEmbedFailurePreservesOldGeneration(t *testing.T) {
	connRepo := newFakeConnRepo(testConnector())
	docRepo := &fakeDocRepo{docs: []model.EsDocument{
		{DocID: "1_old-gen_0", ConnectorID: 1, Generation: "old-gen", Content: "previous sync"},
	}}
	src := &fakeSource{chunks: textChunks(3)}

	registry := connector.NewRegistry()
	registry.Register(model.SourceTypeManual, src)
	p := NewProcessor(connRepo, docRepo, registry, &fakeEmbedder{failAt: 2}, nil, "embed-v1", 10*time.Minute)

	err := p.SyncConnector(context.Background(), 1)
	require.Error(t, err)

	got, _ := connRepo.FindByID(1)
	assert.Equal(t, model.SyncStatusError, got.SyncStatus)

	// 失败的 generation 被回滚，上一代分块保持可检索
	require.Len(t, docRepo.deletedGens, 1)
	require.Len(t, docRepo.docs, 1)
	assert.Equal(t, "old-gen", docRepo.docs[0].Generation)
	assert.Empty(t, docRepo.staleKept)
}

func TestSyncConnectorIndexFailureRollsBackStagedChunks(t *testing.T) {
	connRepo := newFakeConnRepo(testConnector())
	docRepo := &fakeDocRepo{failAtIndex: 3}
	src := &fakeSource{chunks: textChunks(3)}
	p := newTestProcessor(connRepo, docRepo, src)

	err := p.SyncConnector(context.Background(), 1)
	require.Error(t, err)

	got, _ := connRepo.FindByID(1)
	assert.Equal(t, model.SyncStatusError, got.SyncStatus)
	require.Len(t, docRepo.deletedGens, 1)
	assert.Empty(t, docRepo.docs)
}

func TestSyncConnectorRejectsConcurrentSync(t *testing.T) {
	conn := testConnector()
	conn.SyncStatus = model.SyncStatusSyncing
	conn.UpdatedAt = time.Now()
	connRepo := newFakeConnRepo(conn)
	src := &fakeSource{chunks: textChunks(1)}
	p := newTestProcessor(connRepo, &fakeDocRepo{}, src)

	err := p.SyncConnector(context.Background(), 1)
	require.ErrorIs(t, err, repository.ErrSyncInProgress)
	assert.Zero(t, src.calls)
}

func TestSyncConnectorTakesOverStaleSyncing(t *testing.T) {
	conn := testConnector()
	conn.SyncStatus = model.SyncStatusSyncing
	conn.UpdatedAt = time.Now().Add(-time.Hour) // 早已超过 10 分钟的陈旧阈值
	connRepo := newFakeConnRepo(conn)
	src := &fakeSource{chunks: textChunks(1)}
	p := newTestProcessor(connRepo, &fakeDocRepo{}, src)

	require.NoError(t, p.SyncConnector(context.Background(), 1))
	got, _ := connRepo.FindByID(1)
	assert.Equal(t, model.SyncStatusSuccess, got.SyncStatus)
}

func TestSyncConnectorIdempotentResync(t *testing.T) {
	connRepo := newFakeConnRepo(testConnector())
	docRepo := &fakeDocRepo{}
	src := &fakeSource{chunks: textChunks(2)}
	p := newTestProcessor(connRepo, docRepo, src)

	require.NoError(t, p.SyncConnector(context.Background(), 1))
	require.NoError(t, p.SyncConnector(context.Background(), 1))

	got, _ := connRepo.FindByID(1)
	assert.Equal(t, 2, got.DocumentsCount)
	// 重复同步后索引中仍只有一代分块
	require.Len(t, docRepo.docs, 2)
	gen := docRepo.docs[0].Generation
	for _, doc := range docRepo.docs {
		assert.Equal(t, gen, doc.Generation)
	}
}

func TestProcessSkipsInProgressTask(t *testing.T) {
	conn := testConnector()
	conn.SyncStatus = model.SyncStatusSyncing
	conn.UpdatedAt = time.Now()
	connRepo := newFakeConnRepo(conn)
	p := newTestProcessor(connRepo, &fakeDocRepo{}, &fakeSource{})

	// 并发冲突不算任务失败，不应触发消费侧重试
	err := p.Process(context.Background(), tasks.SyncTask{ConnectorID: 1, Trigger: "api"})
	require.NoError(t, err)
}

func TestProcessRunsTask(t *testing.T) {
	connRepo := newFakeConnRepo(testConnector())
	docRepo := &fakeDocRepo{}
	p := newTestProcessor(connRepo, docRepo, &fakeSource{chunks: textChunks(1)})

	require.NoError(t, p.Process(context.Background(), tasks.SyncTask{ConnectorID: 1, Trigger: "seed"}))
	got, _ := connRepo.FindByID(1)
	assert.Equal(t, model.SyncStatusSuccess, got.SyncStatus)
}
