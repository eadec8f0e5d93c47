package transport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/anime-shed/image-describer-go/internal/logger"
	"github.com/anime-shed/image-describer-go/pkg/models"
)

// StatusProvider supplies the live batch status
type StatusProvider interface {
	Snapshot() models.StatusResponse
}

// NewHandler serves /health and /status for a running batch
func NewHandler(status StatusProvider) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		gin.Recovery(),
		requestLogger(),
	)

	r.GET("/health", healthCheck)
	r.GET("/status", batchStatus(status))
	r.NoRoute(func(c *gin.Context) {
		respondError(c, http.StatusNotFound, "no such endpoint")
	})

	return r
}

func batchStatus(status StatusProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, status.Snapshot())
	}
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "available",
		"version": "1.0.0",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status_code": c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.ClientIP(),
		}).Debug("Status request")
	}
}

func respondError(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, models.ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
	})
}
