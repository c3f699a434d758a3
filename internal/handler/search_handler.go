package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rag-connect-go/internal/service"
	"rag-connect-go/pkg/log"
)

// SearchHandler 结构体定义了检索相关的处理器。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// Retrieve 是处理相似度检索请求的 Gin 处理函数。
// 检索层降级而不失败，因此总是返回 200 与（可能为空的）结果列表。
func (h *SearchHandler) Retrieve(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "query 参数不能为空", "data": nil})
		return
	}
	topKStr := c.DefaultQuery("topK", "5")
	topK, err := strconv.Atoi(topKStr)
	if err != nil || topK <= 0 {
		topK = 5
	}
	log.Infof("[SearchHandler] 收到检索请求, query: '%s', topK: %d", query, topK)

	results := h.searchService.RetrieveContext(c.Request.Context(), query, topK)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": results})
}
