package api

import (
	"github.com/gin-gonic/gin"

	"github.com/claudecluster/claudecluster/internal/common/httpmw"
	"github.com/claudecluster/claudecluster/internal/common/logger"
	"github.com/claudecluster/claudecluster/internal/worker/debugws"
	"github.com/claudecluster/claudecluster/internal/worker/engine"
	"github.com/claudecluster/claudecluster/internal/worker/registry"
)

// NewRouter builds the worker's gin engine with the full task lifecycle
// surface wired in. debugHub may be nil, in which case the operator
// introspection channel is not mounted.
func NewRouter(workerID string, eng *engine.Engine, agents *registry.Registry, debugHub *debugws.Hub, log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(httpmw.Recovery(log), httpmw.RequestLogger(log), httpmw.CORS())

	handler := NewHandler(workerID, eng, agents, log)

	router.GET("/health", handler.Health)
	router.GET("/hello", handler.Health)
	router.POST("/run", handler.Run)
	router.GET("/tasks/:id", handler.GetTask)
	router.DELETE("/tasks/:id", handler.CancelTask)
	router.GET("/stream/:id", handler.Stream)

	if debugHub != nil {
		debugHandler := debugws.NewHandler(debugHub, log)
		router.GET("/debug/ws", debugHandler.Serve)
	}

	return router
}
