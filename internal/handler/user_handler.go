package handler

import (
	"net/http"

	"finpro-go/internal/service"
	"finpro-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// UserHandler 负责处理注册与登录请求。
type UserHandler struct {
	userService service.UserService
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// RegisterRequest 定义了用户注册 API 的请求体结构。
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password" binding:"required"`
}

// Register 处理用户注册请求。
func (h *UserHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[UserHandler] 注册请求格式错误: %v", err)
		respond(c, http.StatusBadRequest, "Invalid request payload: username and password are required", nil)
		return
	}

	user, err := h.userService.Register(c.Request.Context(), service.RegisterRequest{
		Username: req.Username,
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		respondError(c, "UserHandler", err)
		return
	}

	respond(c, http.StatusOK, "User registered successfully", gin.H{
		"username":   user.Username,
		"session_id": user.SessionID,
	})
}

// LoginRequest 定义了用户登录 API 的请求体结构。
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 处理用户登录请求。
func (h *UserHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[UserHandler] 登录请求格式错误: %v", err)
		respond(c, http.StatusBadRequest, "Invalid request payload: username and password are required", nil)
		return
	}

	res, err := h.userService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, "UserHandler", err)
		return
	}

	log.Infof("[UserHandler] 用户 '%s' 登录成功", req.Username)
	respond(c, http.StatusOK, "Login successful", gin.H{
		"username":   res.User.Username,
		"name":       res.User.Name,
		"session_id": res.User.SessionID,
		"token":      res.Token,
	})
}
