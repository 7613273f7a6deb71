package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/telemetry"
)

// Profiling attaches route, method and tenant pprof labels to the request so
// Pyroscope profiles can be filtered by endpoint. Health and metrics are skipped.
func Profiling(enabled bool) gin.HandlerFunc {
	if !enabled {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" || route == "/health" || route == "/metrics" {
			c.Next()
			return
		}
		labels := map[string]string{
			telemetry.ProfilingLabelRoute:  route,
			telemetry.ProfilingLabelMethod: c.Request.Method,
		}
		if claims := GetJWTClaims(c); claims != nil {
			labels[telemetry.ProfilingLabelTenantID] = claims.TenantID
		}
		telemetry.WithProfilingLabels(c.Request.Context(), labels, func(ctx context.Context) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
}
