// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SourceType 是连接器数据源类型的封闭枚举。
type SourceType string

const (
	// SourceTypeGitHub 表示代码仓库数据源（GitHub contents API）。
	SourceTypeGitHub SourceType = "github"
	// SourceTypeJira 表示问题跟踪系统数据源（Jira search API）。
	SourceTypeJira SourceType = "jira"
	// SourceTypeURL 表示任意网页数据源。
	SourceTypeURL SourceType = "url"
	// SourceTypeManual 表示手工粘贴的文本数据源。
	SourceTypeManual SourceType = "manual"
)

// ValidSourceType 校验给定字符串是否为合法的数据源类型。
func ValidSourceType(s string) bool {
	switch SourceType(s) {
	case SourceTypeGitHub, SourceTypeJira, SourceTypeURL, SourceTypeManual:
		return true
	}
	return false
}

// SyncStatus 是连接器同步状态机的状态枚举。
// 状态迁移：idle → syncing → {success, error}，success/error 可再次进入 syncing。
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusError   SyncStatus = "error"
)

// ConnectorConfig 保存数据源特定的键值配置（如 repo、base_url、url、text 等），
// 在数据库中以 JSON 列存储。
type ConnectorConfig map[string]string

// Value 实现 driver.Valuer 接口，将配置序列化为 JSON。
func (c ConnectorConfig) Value() (driver.Value, error) {
	if c == nil {
		return "{}", nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner 接口，从 JSON 列反序列化配置。
func (c *ConnectorConfig) Scan(value interface{}) error {
	if value == nil {
		*c = ConnectorConfig{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("unsupported type for ConnectorConfig")
	}
	return json.Unmarshal(data, c)
}

// Connector 对应于数据库中的 'connectors' 表。
// 它描述一个已配置的外部内容源及其同步状态。
type Connector struct {
	// ID 是连接器的唯一标识符，作为主键。
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`
	// Name 是连接器的显示名称。
	Name string `gorm:"type:varchar(100);not null" json:"name"`
	// SourceType 标识数据源类型，取值限于 github/jira/url/manual。
	SourceType SourceType `gorm:"type:varchar(20);not null;index" json:"sourceType"`
	// Config 保存数据源特定的配置，首次同步前可由 CRUD 层修改。
	Config ConnectorConfig `gorm:"type:json" json:"config"`
	// SyncStatus 是同步状态机的当前状态，仅由同步协调器修改。
	SyncStatus SyncStatus `gorm:"type:varchar(10);not null;default:idle" json:"syncStatus"`
	// SyncError 记录最近一次同步失败的错误信息，仅在 error 状态下有值。
	SyncError string `gorm:"type:text" json:"syncError"`
	// DocumentsCount 记录当前已索引的分块数量。
	DocumentsCount int `gorm:"not null;default:0" json:"documentsCount"`
	// LastSyncedAt 记录最近一次完成（success 或 error）的同步时间。
	LastSyncedAt *LocalTime `gorm:"type:datetime" json:"lastSyncedAt"`
	// CreatedAt / UpdatedAt 由 GORM 自动管理。
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Connector) TableName() string {
	return "connectors"
}

// ConfigValue 返回配置中指定键的值，键不存在时返回空字符串。
func (c *Connector) ConfigValue(key string) string {
	if c.Config == nil {
		return ""
	}
	return c.Config[key]
}

// RequireConfig 校验所有必需的配置键均非空，否则返回描述性错误。
// 适配器在发起任何网络调用前先做此校验。
func (c *Connector) RequireConfig(keys ...string) error {
	for _, k := range keys {
		if c.ConfigValue(k) == "" {
			return fmt.Errorf("%s 连接器缺少必需的配置项 '%s'", c.SourceType, k)
		}
	}
	return nil
}
