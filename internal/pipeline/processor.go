// Package pipeline 定义了连接器同步的核心流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rag-connect-go/internal/connector"
	"rag-connect-go/internal/model"
	"rag-connect-go/internal/repository"
	"rag-connect-go/pkg/embedding"
	"rag-connect-go/pkg/log"
	"rag-connect-go/pkg/storage"
	"rag-connect-go/pkg/tasks"
)

// ErrNoContent 表示数据源成功访问但未产出任何可索引内容。
var ErrNoContent = errors.New("no content retrieved from source")

// Processor 封装了连接器同步的所有依赖和逻辑。
type Processor struct {
	connRepo        repository.ConnectorRepository
	docRepo         repository.DocumentRepository
	registry        *connector.Registry
	embeddingClient embedding.Client
	archive         *storage.Archive // 可为 nil，表示不归档
	modelVersion    string
	staleAfter      time.Duration
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	connRepo repository.ConnectorRepository,
	docRepo repository.DocumentRepository,
	registry *connector.Registry,
	embeddingClient embedding.Client,
	archive *storage.Archive,
	modelVersion string,
	staleAfter time.Duration,
) *Processor {
	return &Processor{
		connRepo:        connRepo,
		docRepo:         docRepo,
		registry:        registry,
		embeddingClient: embeddingClient,
		archive:         archive,
		modelVersion:    modelVersion,
		staleAfter:      staleAfter,
	}
}

// Process 实现 kafka.TaskProcessor，处理异步下发的同步任务。
func (p *Processor) Process(ctx context.Context, task tasks.SyncTask) error {
	log.Infof("[Processor] 收到异步同步任务, ConnectorID: %d, Trigger: %s", task.ConnectorID, task.Trigger)
	err := p.SyncConnector(ctx, task.ConnectorID)
	if errors.Is(err, repository.ErrSyncInProgress) {
		// 并发冲突不视为任务失败，不触发重试
		log.Warnf("[Processor] 连接器 %d 已在同步中, 跳过本次任务", task.ConnectorID)
		return nil
	}
	return err
}

// SyncConnector 执行一次完整同步：抓取 -> 分块 -> 向量化 -> 索引 -> 替换旧数据。
// 同一连接器同一时刻只允许一次同步；失败时保留上一次成功同步的分块。
func (p *Processor) SyncConnector(ctx context.Context, connectorID uint) error {
	start := time.Now()
	conn, err := p.connRepo.FindByID(connectorID)
	if err != nil {
		return fmt.Errorf("查找连接器失败: %w", err)
	}
	log.Infof("[Processor] 开始同步连接器 %d (%s, type=%s)", conn.ID, conn.Name, conn.SourceType)

	// 1. single-flight：CAS 抢占 syncing 状态
	if err := p.connRepo.TrySetSyncing(conn.ID, p.staleAfter); err != nil {
		if errors.Is(err, repository.ErrSyncInProgress) {
			log.Warnf("[Processor] 连接器 %d 正在同步中, 拒绝并发同步", conn.ID)
			return err
		}
		return fmt.Errorf("更新同步状态失败: %w", err)
	}

	chunkCount, err := p.runSync(ctx, conn)
	if err != nil {
		log.Errorf("[Processor] 连接器 %d 同步失败: %v", conn.ID, err)
		if markErr := p.connRepo.MarkSyncError(conn.ID, err.Error()); markErr != nil {
			log.Errorf("[Processor] 记录同步失败状态出错, ConnectorID: %d, Error: %v", conn.ID, markErr)
		}
		return err
	}

	if err := p.connRepo.MarkSyncSuccess(conn.ID, chunkCount, time.Now()); err != nil {
		log.Errorf("[Processor] 记录同步成功状态出错, ConnectorID: %d, Error: %v", conn.ID, err)
		// 尽力置为 error 终态，避免连接器停留在 syncing 直到陈旧阈值才能再次同步
		if markErr := p.connRepo.MarkSyncError(conn.ID, "记录同步成功状态失败: "+err.Error()); markErr != nil {
			log.Errorf("[Processor] 记录同步失败状态出错, ConnectorID: %d, Error: %v", conn.ID, markErr)
		}
		return fmt.Errorf("记录同步成功状态失败: %w", err)
	}
	log.Infof("[Processor] 连接器 %d 同步成功, 共索引 %d 个分块, 耗时 %s", conn.ID, chunkCount, time.Since(start))
	return nil
}

// runSync 执行同步主体，返回成功索引的分块数量。
// 任何一步失败都会清理本次 generation 已暂存的分块，旧数据保持可检索。
func (p *Processor) runSync(ctx context.Context, conn *model.Connector) (int, error) {
	// 2. 通过注册表找到数据源适配器并抓取内容
	source, err := p.registry.Lookup(conn.SourceType)
	if err != nil {
		return 0, err
	}
	chunks, err := source.FetchChunks(ctx, conn)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, ErrNoContent
	}
	log.Infof("[Processor] 连接器 %d 抓取完成, 共 %d 个分块", conn.ID, len(chunks))

	// 3. 为本次同步分配 generation，新分块先以新 generation 暂存
	generation := uuid.NewString()

	// 可选：将本次抓取的原始分块归档到对象存储
	if p.archive != nil {
		entries := make([]storage.ArchiveEntry, 0, len(chunks))
		for _, c := range chunks {
			entries = append(entries, storage.ArchiveEntry{Content: c.Content, Metadata: c.Metadata})
		}
		if err := p.archive.ArchiveSyncPayload(ctx, conn.ID, generation, entries); err != nil {
			// 归档失败不中断同步
			log.Warnf("[Processor] 归档同步数据失败, ConnectorID: %d, Error: %v", conn.ID, err)
		}
	}

	// 4. 逐块向量化并索引
	for i, chunk := range chunks {
		vector, err := p.embeddingClient.CreateEmbedding(ctx, chunk.Content)
		if err != nil {
			p.cleanupGeneration(conn.ID, generation)
			return 0, fmt.Errorf("向量化分块 %d 失败: %w", i, err)
		}

		doc := model.EsDocument{
			DocID:        fmt.Sprintf("%d_%s_%d", conn.ID, generation, i),
			ConnectorID:  conn.ID,
			Generation:   generation,
			Content:      chunk.Content,
			Vector:       vector,
			Metadata:     chunk.Metadata,
			ModelVersion: p.modelVersion,
			IndexedAt:    time.Now(),
		}
		if err := p.docRepo.IndexChunk(ctx, doc); err != nil {
			p.cleanupGeneration(conn.ID, generation)
			return 0, fmt.Errorf("索引分块 %d 失败: %w", i, err)
		}
	}

	// 5. 新数据全部就绪后，删除历史 generation 的分块完成切换
	if err := p.docRepo.DeleteStale(ctx, conn.ID, generation); err != nil {
		// 新数据已可检索，旧分块残留只影响去重，记录告警即可
		log.Warnf("[Processor] 清理历史分块失败, ConnectorID: %d, Error: %v", conn.ID, err)
	}

	return len(chunks), nil
}

// cleanupGeneration 尽力删除本次同步已暂存的分块，失败只告警。
func (p *Processor) cleanupGeneration(connectorID uint, generation string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.docRepo.DeleteGeneration(ctx, connectorID, generation); err != nil {
		log.Warnf("[Processor] 回滚暂存分块失败, ConnectorID: %d, Generation: %s, Error: %v", connectorID, generation, err)
	}
}
