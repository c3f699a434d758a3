// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rag-connect-go/internal/pipeline"
	"rag-connect-go/internal/repository"
	"rag-connect-go/internal/service"
	"rag-connect-go/pkg/log"
)

// ConnectorHandler 结构体定义了连接器相关的处理器。
type ConnectorHandler struct {
	connectorService service.ConnectorService
}

// NewConnectorHandler 创建一个新的 ConnectorHandler 实例。
func NewConnectorHandler(connectorService service.ConnectorService) *ConnectorHandler {
	return &ConnectorHandler{connectorService: connectorService}
}

// Create 处理创建连接器请求。
func (h *ConnectorHandler) Create(c *gin.Context) {
	var req service.CreateConnectorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求参数: " + err.Error(), "data": nil})
		return
	}

	conn, err := h.connectorService.Create(req)
	if err != nil {
		log.Errorf("[ConnectorHandler] 创建连接器失败: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": conn})
}

// List 返回全部连接器。
func (h *ConnectorHandler) List(c *gin.Context) {
	conns, err := h.connectorService.List()
	if err != nil {
		log.Errorf("[ConnectorHandler] 查询连接器列表失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": conns})
}

// Get 返回单个连接器详情。
func (h *ConnectorHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	conn, err := h.connectorService.Get(id)
	if err != nil {
		if errors.Is(err, service.ErrConnectorNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "连接器不存在", "data": nil})
			return
		}
		log.Errorf("[ConnectorHandler] 查询连接器失败, ID: %d, Error: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": conn})
}

// Update 处理更新连接器请求。
func (h *ConnectorHandler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req service.UpdateConnectorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求参数: " + err.Error(), "data": nil})
		return
	}

	conn, err := h.connectorService.Update(id, req)
	if err != nil {
		if errors.Is(err, service.ErrConnectorNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "连接器不存在", "data": nil})
			return
		}
		log.Errorf("[ConnectorHandler] 更新连接器失败, ID: %d, Error: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "更新失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": conn})
}

// Delete 处理删除连接器请求，连同清理其索引分块。
func (h *ConnectorHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.connectorService.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, service.ErrConnectorNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "连接器不存在", "data": nil})
			return
		}
		log.Errorf("[ConnectorHandler] 删除连接器失败, ID: %d, Error: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "删除失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}

// TriggerSync 触发一次同步。?async=true 时任务经消息队列异步执行。
func (h *ConnectorHandler) TriggerSync(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	async := c.DefaultQuery("async", "false") == "true"
	log.Infof("[ConnectorHandler] 收到同步请求, ConnectorID: %d, async: %v", id, async)

	err := h.connectorService.TriggerSync(c.Request.Context(), id, async)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrConnectorNotFound):
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "连接器不存在", "data": nil})
		case errors.Is(err, repository.ErrSyncInProgress):
			c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "该连接器正在同步中", "data": nil})
		case errors.Is(err, pipeline.ErrNoContent):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"code": http.StatusUnprocessableEntity, "message": err.Error(), "data": nil})
		default:
			log.Errorf("[ConnectorHandler] 同步失败, ConnectorID: %d, Error: %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": err.Error(), "data": nil})
		}
		return
	}

	if async {
		c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "同步任务已下发", "data": nil})
		return
	}

	conn, err := h.connectorService.Get(id)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": conn})
}

// parseID 解析路径中的连接器 ID，失败时直接写入 400 响应。
func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的连接器 ID", "data": nil})
		return 0, false
	}
	return uint(id), true
}
