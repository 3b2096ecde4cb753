package handler

import (
	"net/http"

	"finpro-go/internal/service"
	"finpro-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ChatHandler 负责处理对话轮次与反馈。
type ChatHandler struct {
	chatService     service.ChatService
	feedbackService service.FeedbackService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, feedbackService service.FeedbackService) *ChatHandler {
	return &ChatHandler{chatService: chatService, feedbackService: feedbackService}
}

// ChatRequest 是提交一轮对话的请求体。
type ChatRequest struct {
	Input     string   `json:"input" binding:"required"`
	Username  string   `json:"username" binding:"required"`
	SessionID string   `json:"session_id" binding:"required"`
	Paths     []string `json:"paths" binding:"required"`
}

// Chat 执行一轮检索增强对话。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[ChatHandler] 对话请求格式错误: %v", err)
		respond(c, http.StatusBadRequest, "Invalid request payload: input, username, session_id and paths are required", nil)
		return
	}
	if !authorizeUsername(c, req.Username) || !authorizeSession(c, req.SessionID) {
		return
	}

	res, err := h.chatService.Chat(c.Request.Context(), service.ChatRequest{
		Input:     req.Input,
		Username:  req.Username,
		SessionID: req.SessionID,
		Paths:     req.Paths,
	})
	if err != nil {
		respondError(c, "ChatHandler", err)
		return
	}

	respond(c, http.StatusOK, "success", gin.H{
		"session_id": res.SessionID,
		"response":   res.Response,
		"message_id": res.MessageID,
		"metrics":    res.Metrics,
		"sources":    res.Sources,
	})
}

// FeedbackRequest 是对某一轮回答提交反馈的请求体。
type FeedbackRequest struct {
	Username     string   `json:"username"`
	MessageID    string   `json:"message_id" binding:"required"`
	FeedbackType string   `json:"feedback_type" binding:"required"`
	Score        *float64 `json:"score" binding:"required"`
	Comment      *string  `json:"comment"`
}

// Feedback 为一轮回答记录反馈，同一轮只接受第一次提交。
func (h *ChatHandler) Feedback(c *gin.Context) {
	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[ChatHandler] 反馈请求格式错误: %v", err)
		respond(c, http.StatusBadRequest, "Invalid request payload: message_id, feedback_type and score are required", nil)
		return
	}
	if !authorizeUsername(c, req.Username) {
		return
	}

	res, err := h.feedbackService.Submit(c.Request.Context(), currentUsername(c), service.FeedbackRequest{
		MessageID:    req.MessageID,
		FeedbackType: req.FeedbackType,
		Score:        *req.Score,
		Comment:      req.Comment,
	})
	if err != nil {
		respondError(c, "ChatHandler", err)
		return
	}
	respond(c, http.StatusOK, res.Message, gin.H{"status": res.Status})
}
