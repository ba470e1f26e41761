package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health handles GET /healthz: liveness plus sandbox pool readiness. The
// pool is degraded once every worker has panicked, since no service can be
// dispatched any more.
func (s *Server) Health(c *gin.Context) {
	pool := s.hive.SandboxPool()
	healthy := pool.Healthy()

	status := "ok"
	httpStatus := http.StatusOK
	if healthy == 0 {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status": status,
		"checks": gin.H{
			"sandbox_workers": gin.H{
				"healthy": healthy,
				"total":   pool.Size(),
			},
		},
	})
}
