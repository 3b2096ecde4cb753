package handler

import (
	"net/http"

	"finpro-go/internal/model"
	"finpro-go/internal/service"
	"finpro-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SearchHandler 结构体定义了搜索相关的处理器。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
	}
}

// SearchRequest 是直接调用混合检索的请求体。
type SearchRequest struct {
	Query          string   `json:"query" binding:"required"`
	Paths          []string `json:"paths" binding:"required"`
	TopK           int      `json:"top_k"`
	LexicalWeight  *float64 `json:"lexical_weight"`
	SemanticWeight *float64 `json:"semantic_weight"`
}

// HybridSearch 是处理混合搜索请求的 Gin 处理函数。
func (h *SearchHandler) HybridSearch(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[SearchHandler] 搜索请求格式错误: %v", err)
		respond(c, http.StatusBadRequest, "Invalid request payload: query and paths are required", nil)
		return
	}
	log.Infof("[SearchHandler] 收到混合搜索请求, query: %s, topK: %d", req.Query, req.TopK)

	passages, err := h.searchService.HybridSearch(c.Request.Context(), req.Query, req.Paths, service.SearchOptions{
		TopK:           req.TopK,
		LexicalWeight:  req.LexicalWeight,
		SemanticWeight: req.SemanticWeight,
	})
	if err != nil {
		respondError(c, "SearchHandler", err)
		return
	}

	log.Infof("[SearchHandler] 混合搜索成功, query: '%s', 返回 %d 条结果", req.Query, len(passages))
	respond(c, http.StatusOK, "success", model.ToSources(passages))
}
