// Package connector 实现各数据源适配器：按连接器配置从外部系统拉取内容，
// 并切分为带溯源元数据的分块。
package connector

import (
	"context"
	"fmt"

	"rag-connect-go/internal/model"
)

// Chunk 是适配器产出的一个待索引分块：纯文本内容加溯源元数据。
type Chunk struct {
	Content  string
	Metadata model.ChunkMetadata
}

// Source 是数据源适配器的统一接口。
// 实现约定：配置缺失立即返回错误（不做网络调用）；上游失败返回指明
// 数据源和原因的描述性错误；"拉取成功但无内容"返回空切片而非错误，
// 由同步协调器决定如何处理。
type Source interface {
	FetchChunks(ctx context.Context, conn *model.Connector) ([]Chunk, error)
}

// Registry 维护数据源类型到适配器实现的映射。
// 协调器仅通过它做分发，新增数据源类型只需注册一个新适配器。
type Registry struct {
	sources map[model.SourceType]Source
}

// NewRegistry 创建一个空的适配器注册表。
func NewRegistry() *Registry {
	return &Registry{sources: make(map[model.SourceType]Source)}
}

// Register 注册一种数据源类型的适配器实现。
func (r *Registry) Register(t model.SourceType, s Source) {
	r.sources[t] = s
}

// Lookup 返回指定数据源类型的适配器，未注册时返回错误。
func (r *Registry) Lookup(t model.SourceType) (Source, error) {
	s, ok := r.sources[t]
	if !ok {
		return nil, fmt.Errorf("未知的数据源类型: %s", t)
	}
	return s, nil
}
