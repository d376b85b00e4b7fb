package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sfucore/internal/core/domain"
	"sfucore/internal/infrastructure/monitoring"
)

// OpsHandler serves liveness, readiness and metrics.
type OpsHandler struct {
	health  *monitoring.HealthChecker
	workers func() []domain.WorkerInfo
	// gatherer is nil when metrics are disabled.
	gatherer prometheus.Gatherer
}

func NewOpsHandler(health *monitoring.HealthChecker, workers func() []domain.WorkerInfo, gatherer prometheus.Gatherer) *OpsHandler {
	return &OpsHandler{health: health, workers: workers, gatherer: gatherer}
}

func (h *OpsHandler) SetupRoutes(router gin.IRouter) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

// Health reports liveness. It stays 200 while the process serves
// requests; the checks are informational.
func (h *OpsHandler) Health(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"status":    status.Status,
		"timestamp": status.Timestamp,
		"checks":    status.Checks,
		"workers":   h.workers(),
	})
}

func (h *OpsHandler) Ready(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
