package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"peercall-core/pkg/logger"
	"peercall-core/pkg/response"
)

// Recovery recovers from handler panics and returns a 500 envelope.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("Handler panic",
					zap.Any("panic", err),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"))
				response.InternalError(c, "Internal server error")
				c.Abort()
			}
		}()
		c.Next()
	}
}
