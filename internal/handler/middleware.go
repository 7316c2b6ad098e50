package handler

import (
	"net/http"
	"strconv"
	"time"

	applog "pimarket/pkg/log"
	"pimarket/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	// UserIDHeader 调用方身份，由网关鉴权后写入
	UserIDHeader = "X-User-ID"

	ctxUserID = "user_id"
	ctxLogger = "logger"
)

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	base := applog.Component("http")

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Set(ctxLogger, base.With().Str("method", c.Request.Method).Str("path", path).Logger())

		// 处理请求
		c.Next()

		if query != "" {
			path = path + "?" + query
		}

		status := c.Writer.Status()
		event := base.Info()
		if status >= http.StatusInternalServerError {
			event = base.Error()
		}
		event.
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Str("method", c.Request.Method).
			Str("path", path).
			Msg("HTTP")
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				requestLogger(c).Error().Interface("panic", err).Msg("PANIC")
				response.ServerError(c, "服务器内部错误")
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID, "+UserIDHeader+", "+SignatureHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// IdentityMiddleware 从 X-User-ID 读取调用方，缺失或非法返回 401
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.GetHeader(UserIDHeader), 10, 64)
		if err != nil || userID <= 0 {
			response.Unauthorized(c, "缺少或非法的 "+UserIDHeader)
			return
		}
		c.Set(ctxUserID, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) int64 {
	return c.GetInt64(ctxUserID)
}

func requestLogger(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(ctxLogger); ok {
		if logger, ok := v.(zerolog.Logger); ok {
			return &logger
		}
	}
	logger := applog.L()
	return &logger
}
