// Package repository 包含了所有与数据库交互的逻辑。
package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"rag-connect-go/internal/model"
)

// ErrSyncInProgress 表示连接器已有一个未完成且未陈旧的同步在执行。
var ErrSyncInProgress = errors.New("该连接器正在同步中")

// ConnectorRepository 接口定义了连接器记录的数据操作方法。
// 同步状态字段仅由同步协调器通过 TrySetSyncing / MarkSyncSuccess / MarkSyncError 修改。
type ConnectorRepository interface {
	Create(conn *model.Connector) error
	FindByID(id uint) (*model.Connector, error)
	FindAll() ([]model.Connector, error)
	Update(conn *model.Connector) error
	Delete(id uint) error

	// TrySetSyncing 以 compare-and-swap 方式将状态置为 syncing 并清除上次错误。
	// 状态已是 syncing 且未超过 staleAfter 视为并发冲突，返回 ErrSyncInProgress；
	// 超过 staleAfter 的 syncing 视为调用方超时遗留的陈旧状态，允许接管。
	TrySetSyncing(id uint, staleAfter time.Duration) error
	// MarkSyncSuccess 记录一次成功同步的分块数量与完成时间。
	MarkSyncSuccess(id uint, documentsCount int, completedAt time.Time) error
	// MarkSyncError 记录一次失败同步的错误信息，分块数量与完成时间保持不变。
	MarkSyncError(id uint, message string) error
}

type connectorRepository struct {
	db *gorm.DB
}

// NewConnectorRepository 创建一个新的 ConnectorRepository 实例。
func NewConnectorRepository(db *gorm.DB) ConnectorRepository {
	return &connectorRepository{db: db}
}

// Create 在数据库中插入一个新的连接器记录。
func (r *connectorRepository) Create(conn *model.Connector) error {
	return r.db.Create(conn).Error
}

// FindByID 根据 ID 查找连接器。
func (r *connectorRepository) FindByID(id uint) (*model.Connector, error) {
	var conn model.Connector
	err := r.db.First(&conn, id).Error
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

// FindAll 检索所有连接器记录，按创建时间倒序。
func (r *connectorRepository) FindAll() ([]model.Connector, error) {
	var conns []model.Connector
	err := r.db.Order("created_at DESC").Find(&conns).Error
	return conns, err
}

// Update 更新一个已存在的连接器记录。
func (r *connectorRepository) Update(conn *model.Connector) error {
	return r.db.Save(conn).Error
}

// Delete 根据 ID 删除连接器记录。
func (r *connectorRepository) Delete(id uint) error {
	return r.db.Delete(&model.Connector{}, id).Error
}

// TrySetSyncing 对同一连接器的并发同步做 single-flight 保护。
func (r *connectorRepository) TrySetSyncing(id uint, staleAfter time.Duration) error {
	cutoff := time.Now().Add(-staleAfter)
	res := r.db.Model(&model.Connector{}).
		Where("id = ? AND (sync_status <> ? OR updated_at < ?)", id, model.SyncStatusSyncing, cutoff).
		Updates(map[string]interface{}{
			"sync_status": model.SyncStatusSyncing,
			"sync_error":  "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// 要么记录不存在，要么有一个尚未陈旧的同步在执行；区分两者。
		if _, err := r.FindByID(id); err != nil {
			return err
		}
		return ErrSyncInProgress
	}
	return nil
}

// MarkSyncSuccess 将连接器置为 success 并更新计数与完成时间。
func (r *connectorRepository) MarkSyncSuccess(id uint, documentsCount int, completedAt time.Time) error {
	return r.db.Model(&model.Connector{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"sync_status":     model.SyncStatusSuccess,
			"sync_error":      "",
			"documents_count": documentsCount,
			"last_synced_at":  completedAt,
		}).Error
}

// MarkSyncError 将连接器置为 error 并记录错误信息。
// documents_count 与 last_synced_at 有意保持失败前的值。
func (r *connectorRepository) MarkSyncError(id uint, message string) error {
	return r.db.Model(&model.Connector{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"sync_status": model.SyncStatusError,
			"sync_error":  message,
		}).Error
}
