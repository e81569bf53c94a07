package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogServerErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.ErrorLevel)
	r := gin.New()
	r.Use(LogServerErrors(zap.New(core)))
	r.GET("/down", func(c *gin.Context) {
		_ = c.Error(errors.New("pq: connection refused"))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable"})
	})
	r.GET("/missing", func(c *gin.Context) {
		_ = c.Error(errors.New("no such group"))
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	for _, path := range []string{"/down", "/missing"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "/down", entries[0].ContextMap()["route"])
	require.Contains(t, entries[0].ContextMap()["error"], "connection refused")
}
