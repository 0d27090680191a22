package middleware

import (
	"log/slog"

	"message_center/utils"

	"github.com/gin-gonic/gin"
)

// ErrorHandlerMiddleware 统一错误处理中间件
// 捕获 panic 和未处理的错误，返回统一格式的错误响应
func ErrorHandlerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					slog.String("method", c.Request.Method), slog.String("path", c.Request.URL.Path), slog.Any("panic", err))

				if !c.Writer.Written() {
					utils.InternalServerError(c, "internal server error")
				}
				c.Abort()
			}
		}()

		c.Next()

		// 处理通过 c.Error 登记的错误
		if len(c.Errors) > 0 {
			err := c.Errors.Last()
			logger.Error("request error", slog.String("path", c.Request.URL.Path), slog.Any("error", err.Err))

			if !c.Writer.Written() {
				utils.FailWithError(c, err.Err)
			}
		}
	}
}
