// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"time"

	"finpro-go/pkg/log"
	"finpro-go/pkg/metrics"

	"github.com/gin-gonic/gin"
)

const maxLoggedBody = 2048

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 实现了 io.Writer 接口，将响应写入 gin.ResponseWriter 和一个内部的 buffer
func (w bodyLogWriter) Write(b []byte) (int, error) {
	if room := maxLoggedBody - w.body.Len(); room > 0 {
		if len(b) < room {
			room = len(b)
		}
		w.body.Write(b[:room])
	}
	return w.ResponseWriter.Write(b)
}

// 这些路径的请求体包含密码，不写入日志
func redactRequestBody(path string) bool {
	return strings.HasSuffix(path, "/users/register") || strings.HasSuffix(path, "/users/login")
}

// RequestLogger 是一个 Gin 中间件，用于记录请求日志并统计请求数。m 可以为 nil。
func RequestLogger(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		path := c.Request.URL.Path

		// 读取并重新缓存请求体
		var requestBody []byte
		if c.Request.Body != nil {
			requestBody, _ = io.ReadAll(c.Request.Body)
		}
		c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))

		blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		statusCode := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTP(c.Request.Method, route, strconv.Itoa(statusCode))

		loggedBody := "[redacted]"
		if !redactRequestBody(path) {
			loggedBody = string(requestBody)
			if len(loggedBody) > maxLoggedBody {
				loggedBody = loggedBody[:maxLoggedBody] + "…"
			}
		}
		log.Infow("HTTP Request Log",
			"statusCode", statusCode,
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
			"requestBody", loggedBody,
			"responseBody", blw.body.String(),
		)
	}
}
