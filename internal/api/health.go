package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/tphakala/entityindex/internal/datastore"
	"github.com/tphakala/entityindex/internal/logger"
)

const bytesPerGB = 1 << 30

// HealthCheck reports database reachability, queue state and host
// resource usage.
func (s *Server) HealthCheck(c echo.Context) error {
	ctx := c.Request().Context()
	response := map[string]any{
		"status":         "healthy",
		"version":        s.build.GetVersion(),
		"build_date":     s.build.GetBuildDate(),
		"timestamp":      time.Now().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	}

	dbStatus := "connected"
	if _, err := s.store.List(ctx, datastore.ListOptions{PageSize: 1}); err != nil {
		dbStatus = "disconnected"
		response["status"] = "degraded"
		s.log.Warn("health check database probe failed", logger.Error(err))
	}
	response["database_status"] = dbStatus

	stats := s.queue.Stats()
	response["queue"] = map[string]any{
		"pending": stats.Pending,
		"running": stats.Running,
		"workers": stats.Workers,
		"stopped": stats.Stopped,
	}
	if stats.Stopped {
		response["status"] = "degraded"
	}

	response["system"] = s.systemMetrics(c)

	code := http.StatusOK
	if response["status"] != "healthy" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, response)
}

// systemMetrics gathers CPU, memory and data-disk usage. Probes that fail
// are left out.
func (s *Server) systemMetrics(c echo.Context) map[string]any {
	ctx := c.Request().Context()
	out := map[string]any{
		"goroutines": runtime.NumGoroutine(),
		"cpu_count":  runtime.NumCPU(),
	}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		out["cpu_usage"] = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		out["memory"] = map[string]any{
			"used_percent": vm.UsedPercent,
			"total_mb":     vm.Total / (1 << 20),
			"used_mb":      vm.Used / (1 << 20),
		}
	}
	if du, err := disk.UsageWithContext(ctx, s.layout.Root()); err == nil {
		out["disk"] = map[string]any{
			"path":         du.Path,
			"total_gb":     float64(du.Total) / bytesPerGB,
			"free_gb":      float64(du.Free) / bytesPerGB,
			"used_percent": du.UsedPercent,
		}
	} else {
		s.log.Debug("disk usage probe failed", logger.String("path", s.layout.Root()), logger.Error(err))
	}
	return out
}

// QueueStats returns the job queue counters.
func (s *Server) QueueStats(c echo.Context) error {
	stats := s.queue.Stats()
	return c.JSON(http.StatusOK, stats.Document())
}
