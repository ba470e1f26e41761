// Package handlers implements the management API and service dispatch.
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/hack3ric/hive/internal/hive"
	"github.com/hack3ric/hive/internal/hive/service"
	"github.com/hack3ric/hive/internal/pkg/worker"
	"github.com/hack3ric/hive/internal/source"
)

// Server bundles handler dependencies.
type Server struct {
	hive   *hive.Hive
	loader *source.Loader
	pools  *worker.Pools
}

// NewServer creates the handler set.
func NewServer(h *hive.Hive, loader *source.Loader, pools *worker.Pools) *Server {
	return &Server{hive: h, loader: loader, pools: pools}
}

// Hello handles GET /.
func (s *Server) Hello(c *gin.Context) {
	c.JSON(200, gin.H{"msg": "Hello, world!"})
}

// serviceView renders a service with its lifecycle status tag.
func serviceView(svc service.Service) gin.H {
	if rs, running := svc.Running(); running {
		return gin.H{"status": "running", "service": rs.Impl()}
	}
	impl, _ := svc.Stopped()
	return gin.H{"status": "stopped", "service": impl}
}
