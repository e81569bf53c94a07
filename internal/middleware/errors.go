package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LogServerErrors logs the errors a handler attached to a 5xx response.
// Response bodies only carry a generic message, so this is where the cause
// surfaces.
func LogServerErrors(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Writer.Status() < http.StatusInternalServerError || len(c.Errors) == 0 {
			return
		}
		for _, err := range c.Errors {
			log.Error("request failed",
				zap.Error(err.Err),
				zap.String("method", c.Request.Method),
				zap.String("route", c.FullPath()),
				zap.Int("status", c.Writer.Status()),
				zap.String("request_id", c.GetString("request_id")),
			)
		}
	}
}
