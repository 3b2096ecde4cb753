package handler

import (
	"net/http"

	"finpro-go/internal/service"
	"finpro-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 处理已持久化对话日志的查询与清理。
type ConversationHandler struct {
	turnService service.TurnService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(turnService service.TurnService) *ConversationHandler {
	return &ConversationHandler{turnService: turnService}
}

// ClearHistoryRequest 是清空会话历史的请求体。
type ClearHistoryRequest struct {
	Username  string `json:"username" binding:"required"`
	SessionID string `json:"session_id" binding:"required"`
}

// ClearHistory 清空会话的内存历史与已持久化轮次。
func (h *ConversationHandler) ClearHistory(c *gin.Context) {
	var req ClearHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[ConversationHandler] 清空历史请求格式错误: %v", err)
		respond(c, http.StatusBadRequest, "Invalid request payload: username and session_id are required", nil)
		return
	}
	if !authorizeUsername(c, req.Username) {
		return
	}

	if err := h.turnService.ClearHistory(c.Request.Context(), req.Username, req.SessionID); err != nil {
		respondError(c, "ConversationHandler", err)
		return
	}
	respond(c, http.StatusOK, "Conversation history cleared successfully", nil)
}

// UserMessages 返回用户全部轮次，按时间升序。
func (h *ConversationHandler) UserMessages(c *gin.Context) {
	username := c.Query("username")
	if username == "" {
		respond(c, http.StatusBadRequest, "username query parameter is required", nil)
		return
	}
	if !authorizeUsername(c, username) {
		return
	}

	views, err := h.turnService.ListTurns(c.Request.Context(), username)
	if err != nil {
		respondError(c, "ConversationHandler", err)
		return
	}
	respond(c, http.StatusOK, "success", views)
}
