// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"finpro-go/internal/middleware"
	"finpro-go/internal/service"
	"finpro-go/pkg/log"

	"github.com/gin-gonic/gin"
)

func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, gin.H{
		"code":    status,
		"message": message,
		"data":    data,
	})
}

// respondError 把业务错误映射为 HTTP 状态码。外部服务故障与内部错误只返回通用信息。
func respondError(c *gin.Context, component string, err error) {
	status, message := http.StatusInternalServerError, "Internal server error"
	switch {
	case errors.Is(err, service.ErrValidation):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrUnauthenticated):
		status, message = http.StatusUnauthorized, "Invalid credentials"
	case errors.Is(err, service.ErrForbidden):
		status, message = http.StatusForbidden, "Forbidden"
	case errors.Is(err, service.ErrUserNotFound):
		status, message = http.StatusNotFound, "User not found"
	case errors.Is(err, service.ErrSessionNotFound):
		status, message = http.StatusNotFound, "User or session not found"
	case errors.Is(err, service.ErrTurnNotFound):
		status, message = http.StatusNotFound, "Message not found"
	case errors.Is(err, service.ErrNotFound):
		status, message = http.StatusNotFound, "Not found"
	case errors.Is(err, service.ErrConflict):
		status, message = http.StatusConflict, "Another request for this session is in progress"
	case errors.Is(err, service.ErrExternalService):
		status, message = http.StatusBadGateway, "An upstream service failed, please retry later"
	}

	if status >= http.StatusInternalServerError {
		log.Errorf("[%s] 请求处理失败, path: %s, err: %v", component, c.Request.URL.Path, err)
	} else {
		log.Warnf("[%s] 请求被拒绝, path: %s, status: %d, err: %v", component, c.Request.URL.Path, status, err)
	}
	respond(c, status, message, nil)
}

// authorizeUsername 校验请求体中的用户名与 token 一致，不一致时写入 403 并返回 false。
func authorizeUsername(c *gin.Context, username string) bool {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		respond(c, http.StatusUnauthorized, "Unauthenticated", nil)
		return false
	}
	if username != "" && username != claims.Username {
		respond(c, http.StatusForbidden, "Username does not match the authenticated user", nil)
		return false
	}
	return true
}

// authorizeSession 校验请求体中的会话 ID 属于 token 对应的用户，不一致时写入 403 并返回 false。
func authorizeSession(c *gin.Context, sessionID string) bool {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		respond(c, http.StatusUnauthorized, "Unauthenticated", nil)
		return false
	}
	if sessionID != claims.SessionID {
		log.Warnf("[Auth] 会话不属于当前用户, username: %s, session: %s", claims.Username, sessionID)
		respond(c, http.StatusForbidden, "Session does not belong to the authenticated user", nil)
		return false
	}
	return true
}

// currentUsername 返回 token 中的用户名。
func currentUsername(c *gin.Context) string {
	if claims, ok := middleware.ClaimsFrom(c); ok {
		return claims.Username
	}
	return ""
}
