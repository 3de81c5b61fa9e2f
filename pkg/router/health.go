package router

import (
	"github.com/gin-gonic/gin"
)

// setupHealthRoutes exposes the aggregated component health report.
func (r *Router) setupHealthRoutes() {
	handler := gin.WrapF(r.Container.Health.HTTPHandler())

	// Register both health endpoint paths so probes inside and outside the
	// /api prefix see the same report.
	r.Engine.GET("/health", handler)
	r.Engine.GET("/api/health", handler)
}
