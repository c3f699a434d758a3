// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"rag-connect-go/internal/model"
	"rag-connect-go/internal/pipeline"
	"rag-connect-go/internal/repository"
	"rag-connect-go/pkg/kafka"
	"rag-connect-go/pkg/log"
	"rag-connect-go/pkg/tasks"
)

// ErrConnectorNotFound 表示连接器记录不存在。
var ErrConnectorNotFound = errors.New("连接器不存在")

// CreateConnectorRequest 是创建连接器的入参。
type CreateConnectorRequest struct {
	Name       string                `json:"name" binding:"required"`
	SourceType model.SourceType      `json:"source_type" binding:"required"`
	Config     model.ConnectorConfig `json:"config"`
}

// UpdateConnectorRequest 是更新连接器的入参，零值字段不修改。
type UpdateConnectorRequest struct {
	Name   string                `json:"name"`
	Config model.ConnectorConfig `json:"config"`
}

// ConnectorService 接口定义了连接器的管理与同步触发操作。
type ConnectorService interface {
	Create(req CreateConnectorRequest) (*model.Connector, error)
	Get(id uint) (*model.Connector, error)
	List() ([]model.Connector, error)
	Update(id uint, req UpdateConnectorRequest) (*model.Connector, error)
	Delete(ctx context.Context, id uint) error
	// TriggerSync 触发一次同步。async 为 true 时任务经 Kafka 异步执行，
	// 否则在当前调用中同步完成。
	TriggerSync(ctx context.Context, id uint, async bool) error
}

type connectorService struct {
	connRepo  repository.ConnectorRepository
	docRepo   repository.DocumentRepository
	processor *pipeline.Processor
}

// NewConnectorService 创建一个新的 ConnectorService 实例。
func NewConnectorService(connRepo repository.ConnectorRepository, docRepo repository.DocumentRepository, processor *pipeline.Processor) ConnectorService {
	return &connectorService{
		connRepo:  connRepo,
		docRepo:   docRepo,
		processor: processor,
	}
}

// Create 新建连接器，初始状态为 idle。
func (s *connectorService) Create(req CreateConnectorRequest) (*model.Connector, error) {
	if !model.ValidSourceType(string(req.SourceType)) {
		return nil, fmt.Errorf("不支持的数据源类型: %s", req.SourceType)
	}
	conn := &model.Connector{
		Name:       req.Name,
		SourceType: req.SourceType,
		Config:     req.Config,
		SyncStatus: model.SyncStatusIdle,
	}
	if conn.Config == nil {
		conn.Config = model.ConnectorConfig{}
	}
	if err := s.connRepo.Create(conn); err != nil {
		return nil, fmt.Errorf("创建连接器失败: %w", err)
	}
	log.Infof("[ConnectorService] 创建连接器成功, ID: %d, Name: %s", conn.ID, conn.Name)
	return conn, nil
}

// Get 根据 ID 获取连接器。
func (s *connectorService) Get(id uint) (*model.Connector, error) {
	conn, err := s.connRepo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConnectorNotFound
		}
		return nil, err
	}
	return conn, nil
}

// List 返回全部连接器，按创建时间倒序。
func (s *connectorService) List() ([]model.Connector, error) {
	return s.connRepo.FindAll()
}

// Update 更新连接器的名称与配置，数据源类型不可变。
func (s *connectorService) Update(id uint, req UpdateConnectorRequest) (*model.Connector, error) {
	conn, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if req.Name != "" {
		conn.Name = req.Name
	}
	if req.Config != nil {
		conn.Config = req.Config
	}
	if err := s.connRepo.Update(conn); err != nil {
		return nil, fmt.Errorf("更新连接器失败: %w", err)
	}
	return conn, nil
}

// Delete 删除连接器并级联清理其在索引中的全部分块。
func (s *connectorService) Delete(ctx context.Context, id uint) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	if err := s.connRepo.Delete(id); err != nil {
		return fmt.Errorf("删除连接器失败: %w", err)
	}
	// 分块清理失败不回滚记录删除，残留数据在下次索引重建时消除
	if err := s.docRepo.DeleteByConnector(ctx, id); err != nil {
		log.Warnf("[ConnectorService] 清理连接器 %d 的分块失败: %v", id, err)
	}
	log.Infof("[ConnectorService] 删除连接器成功, ID: %d", id)
	return nil
}

// TriggerSync 触发连接器同步。
func (s *connectorService) TriggerSync(ctx context.Context, id uint, async bool) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	if async {
		task := tasks.SyncTask{ConnectorID: id, Trigger: "api"}
		if err := kafka.ProduceSyncTask(task); err != nil {
			return fmt.Errorf("下发同步任务失败: %w", err)
		}
		log.Infof("[ConnectorService] 已下发异步同步任务, ConnectorID: %d", id)
		return nil
	}
	return s.processor.SyncConnector(ctx, id)
}
