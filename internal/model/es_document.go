// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// ChunkMetadata 记录分块的溯源信息。
// 通用字段对每个分块都存在，其余字段按数据源类型附加。
type ChunkMetadata struct {
	SourceType    SourceType `json:"source_type"`
	SourceURL     string     `json:"source_url,omitempty"`
	ConnectorID   uint       `json:"connector_id"`
	ConnectorName string     `json:"connector_name"`
	// ChunkIndex 是分块在其来源文档中的位置，从 0 开始。
	ChunkIndex int `json:"chunk_index"`
	// GitHub 数据源附加字段。
	Repo     string `json:"repo,omitempty"`
	FilePath string `json:"file_path,omitempty"`
	// Jira 数据源附加字段。
	IssueKey   string `json:"issue_key,omitempty"`
	ProjectKey string `json:"project_key,omitempty"`
	Status     string `json:"status,omitempty"`
	Assignee   string `json:"assignee,omitempty"`
}

// EsDocument 定义了存储在 Elasticsearch 中的分块文档结构。
type EsDocument struct {
	// DocID 是文档的唯一标识，格式为 connectorID_generation_序号。
	DocID string `json:"doc_id"`
	// ConnectorID 标识拥有此分块的连接器，连接器删除时级联删除。
	ConnectorID uint `json:"connector_id"`
	// Generation 是一次同步尝试的代际标记，用于暂存-切换式替换。
	Generation   string        `json:"generation"`
	Content      string        `json:"content"`
	Vector       []float32     `json:"vector"` // 文本内容的向量表示
	Metadata     ChunkMetadata `json:"metadata"`
	ModelVersion string        `json:"model_version"`
	IndexedAt    time.Time     `json:"indexed_at"`
}

// DocumentMatch 表示一条相似度检索结果。
type DocumentMatch struct {
	Content  string        `json:"content"`
	Metadata ChunkMetadata `json:"metadata"`
	// Score 为相似度得分，越大越相似。
	Score float64 `json:"score"`
}
