package api

import (
	"github.com/gin-gonic/gin"

	"github.com/claudecluster/claudecluster/internal/common/httpmw"
	"github.com/claudecluster/claudecluster/internal/common/logger"
	coordregistry "github.com/claudecluster/claudecluster/internal/coordinator/registry"
	coordsse "github.com/claudecluster/claudecluster/internal/coordinator/sse"
	"github.com/claudecluster/claudecluster/internal/coordinator/task"
)

// NewRouter builds the coordinator's gin engine: health, task submission and
// lifecycle, the client-facing SSE relay, and the worker list.
func NewRouter(tasks *task.Manager, workers *coordregistry.Registry, relay *coordsse.Manager, version string, log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(httpmw.Recovery(log), httpmw.RequestLogger(log), httpmw.CORS())

	handler := NewHandler(tasks, workers, relay, version, log)

	router.GET("/health", handler.Health)
	router.POST("/tasks", handler.SubmitTask)
	router.GET("/tasks/:id", handler.GetTask)
	router.DELETE("/tasks/:id", handler.CancelTask)
	router.GET("/stream/:id", handler.Stream)
	router.GET("/workers", handler.ListWorkers)

	return router
}
