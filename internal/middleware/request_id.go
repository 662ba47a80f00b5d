package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type contextKey string

// RequestIDKey 请求 ID 上下文键
const RequestIDKey contextKey = "request_id"

// HeaderRequestID 请求 ID HTTP 头
const HeaderRequestID = "X-Request-ID"

// RequestID 请求 ID 中间件。
// 上游传入的 X-Request-ID 原样沿用，否则生成新的 UUID，
// 并写入 Gin 上下文、请求 context 与响应头。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(string(RequestIDKey), requestID)

		ctx := context.WithValue(c.Request.Context(), RequestIDKey, requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Header(HeaderRequestID, requestID)
		c.Next()
	}
}

// GetRequestID 从上下文获取请求 ID
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

// GetRequestIDFromGin 从 Gin 上下文获取请求 ID
func GetRequestIDFromGin(c *gin.Context) string {
	if id, exists := c.Get(string(RequestIDKey)); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}
