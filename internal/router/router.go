package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jwalitptl/notification-service/internal/middleware"
	"github.com/jwalitptl/notification-service/pkg/metrics"
)

// Handler is implemented by every API resource handler.
type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler interface {
	RegisterRoutes(gin.IRoutes)
}

type RouterConfig struct {
	Mode           string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	CORSConfig     middleware.CORSConfig
	MetricsPath    string
	// Gatherer backs the metrics endpoint. Nil disables it.
	Gatherer prometheus.Gatherer
	// Limiter is applied to the resource routes. Nil disables rate limiting.
	Limiter middleware.Limiter
}

type Router struct {
	engine   *gin.Engine
	config   RouterConfig
	metrics  *metrics.Metrics
	health   HealthHandler
	handlers []Handler
}

func NewRouter(config RouterConfig, m *metrics.Metrics, health HealthHandler, handlers ...Handler) *Router {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	middleware.RegisterValidation()

	engine := gin.New()

	r := &Router{
		engine:   engine,
		config:   config,
		metrics:  m,
		health:   health,
		handlers: handlers,
	}

	// ErrorHandler sits inside Recovery and before everything that reports
	// failures through c.Error.
	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		middleware.SecurityHeaders(),
		middleware.CORS(config.CORSConfig),
	)
	if m != nil {
		engine.Use(middleware.Metrics(m))
	}
	engine.Use(
		middleware.Timeout(config.RequestTimeout),
		middleware.SizeLimit(config.MaxBodyBytes),
	)

	return r
}

func (r *Router) Setup() {
	if r.config.Gatherer != nil {
		path := r.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.engine.GET(path, gin.WrapH(promhttp.HandlerFor(r.config.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.engine.Group("/api/v1")

	if r.health != nil {
		r.health.RegisterRoutes(api)
	}

	resources := api.Group("")
	if r.config.Limiter != nil {
		resources.Use(middleware.RateLimit(r.config.Limiter, r.metrics))
	}
	for _, h := range r.handlers {
		h.RegisterRoutes(resources)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
