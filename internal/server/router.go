package server

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stevedores/dashboard-sync/internal/logging"
)

// NewRouter builds the reconciler HTTP API.
func NewRouter(reconciler *Reconciler, ping func() error) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	(&HealthHandler{Ping: ping}).Register(r)
	(&SyncHandler{Reconciler: reconciler}).Register(r)
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logging.L().Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
		)
	}
}
