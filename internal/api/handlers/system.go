package handlers

import (
	"net/http"
	"os"
	"runtime"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/process"
)

// System handles GET /system: process and pool utilization for operators.
func (s *Server) System(c *gin.Context) {
	out := gin.H{
		"goroutines": runtime.NumGoroutine(),
		"pools":      s.pools.Metrics(),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			out["memory"] = gin.H{"rss": mem.RSS, "vms": mem.VMS}
		}
		if cpu, err := proc.CPUPercent(); err == nil {
			out["cpu_percent"] = cpu
		}
	}

	c.JSON(http.StatusOK, out)
}
