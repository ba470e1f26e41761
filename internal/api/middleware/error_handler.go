package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/hack3ric/hive/internal/pkg/errors"
	"github.com/hack3ric/hive/internal/pkg/logger"
)

// ErrorHandler captures errors added via c.Error() and renders a consistent
// JSON response, keeping error shaping out of the route handlers.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err

		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			fields := []zap.Field{
				zap.String("code", appErr.Code),
				zap.String("message", appErr.Message),
				zap.Int("status", appErr.HTTPStatus),
				zap.Error(appErr.Err),
			}
			if len(appErr.Stack) > 0 {
				fields = append(fields, zap.ByteString("stack", appErr.Stack))
			}
			logger.Warn("request error", fields...)

			body := gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			}
			if appErr.Detail != nil {
				body["detail"] = appErr.Detail
			}
			c.JSON(appErr.HTTPStatus, body)
			return
		}

		logger.Error("unhandled request error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    apperrors.CodeInternal,
			"message": "An internal error occurred",
		})
	}
}
