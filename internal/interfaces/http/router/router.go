package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/config"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/logger"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/telemetry"
	"github.com/lukgber-glitch/operate-sub002/internal/interfaces/http/middleware"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// RouteFunc adapts a plain function to RouteRegistrar
type RouteFunc func(rg *gin.RouterGroup)

// RegisterRoutes calls f
func (f RouteFunc) RegisterRoutes(rg *gin.RouterGroup) {
	f(rg)
}

// Router manages HTTP route registration
type Router struct {
	engine        *gin.Engine
	apiVersion    string
	apiMiddleware []gin.HandlerFunc
	registrars    []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// WithAPIMiddleware adds middleware that only runs for the versioned API group
func WithAPIMiddleware(handlers ...gin.HandlerFunc) RouterOption {
	return func(r *Router) {
		r.apiMiddleware = append(r.apiMiddleware, handlers...)
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register adds a RouteRegistrar to be registered later
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup registers all routes with the engine
func (r *Router) Setup() *gin.RouterGroup {
	api := r.engine.Group("/api/" + r.apiVersion)
	if len(r.apiMiddleware) > 0 {
		api.Use(r.apiMiddleware...)
	}

	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
	return api
}

// EngineDeps are the collaborators the HTTP engine is assembled from.
// Nil MeterProvider, Gatherer or RateLimiter switch the matching feature off.
type EngineDeps struct {
	Config        config.HTTPConfig
	Telemetry     config.TelemetryConfig
	Logger        *zap.Logger
	Validator     middleware.TokenValidator
	MeterProvider *telemetry.MeterProvider
	Gatherer      prometheus.Gatherer
	RateLimiter   *middleware.TenantRateLimiter
	Profiling     bool
	Health        gin.HandlerFunc
}

// NewEngine builds the gin engine with the global middleware chain, the unauthenticated
// probes and a Router whose API group is authenticated and rate limited per tenant
func NewEngine(deps EngineDeps, registrars ...RouteRegistrar) (*gin.Engine, error) {
	engine := gin.New()
	if len(deps.Config.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(deps.Config.TrustedProxies); err != nil {
			return nil, err
		}
	}

	httpMetrics, err := middleware.HTTPMetrics(deps.MeterProvider)
	if err != nil {
		return nil, err
	}

	engine.Use(
		logger.Recovery(deps.Logger),
		middleware.RequestID(),
		logger.GinMiddleware(deps.Logger),
		middleware.Secure(),
		middleware.Tracing(middleware.TracingConfig{
			ServiceName: deps.Telemetry.ServiceName,
			Enabled:     deps.Telemetry.Enabled,
		}),
		httpMetrics,
	)
	if deps.Config.MaxBodySize > 0 {
		engine.Use(middleware.BodyLimit(deps.Config.MaxBodySize))
	}

	if deps.Health != nil {
		engine.GET("/health", deps.Health)
	}
	if deps.Gatherer != nil && deps.Config.MetricsEnabled {
		path := deps.Config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		engine.GET(path, gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	jwtCfg := middleware.DefaultJWTConfig(deps.Validator)
	jwtCfg.Logger = deps.Logger
	apiMiddleware := []gin.HandlerFunc{
		middleware.JWTAuth(jwtCfg),
		middleware.TracingAttributeInjector(),
	}
	if deps.RateLimiter != nil && deps.Config.RateLimitEnabled {
		apiMiddleware = append(apiMiddleware, middleware.RateLimit(deps.RateLimiter))
	}
	apiMiddleware = append(apiMiddleware, middleware.Profiling(deps.Profiling))

	r := NewRouter(engine, WithAPIMiddleware(apiMiddleware...))
	for _, reg := range registrars {
		r.Register(reg)
	}
	r.Setup()
	return engine, nil
}
