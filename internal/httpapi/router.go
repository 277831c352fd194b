// Package httpapi exposes the edit service over HTTP.
//
// Endpoints:
//
//	POST /v1/edits  multipart image + prompt, returns the edited images inline
//	GET  /v1/probe  connectivity diagnostics (admin users only)
//	GET  /v1/help   usage text
//	GET  /healthz   liveness
//	GET  /metrics   Prometheus metrics
//
// /v1/edits and /v1/probe need an HS256 bearer token; the caller identity is
// read from its user_id and group_id claims.
package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/fpang/grok-image-edit/internal/config"
	"github.com/fpang/grok-image-edit/internal/edit"
	"github.com/fpang/grok-image-edit/internal/tracing"
)

// Server holds the handlers' dependencies. Options is copied into every
// request, so it may be replaced between requests by building a new Server.
type Server struct {
	svc    *edit.Service
	opts   config.Options
	tokens *TokenManager
}

// NewServer creates a Server. Tokens are verified with opts.HTTPAuthSecret.
func NewServer(svc *edit.Service, opts config.Options) *Server {
	return &Server{
		svc:    svc,
		opts:   opts,
		tokens: NewTokenManager(opts.HTTPAuthSecret, opts.HTTPAuthIssuer),
	}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	engine := gin.New()
	engine.Use(Recovery())
	engine.Use(RequestID())
	engine.Use(CORS(s.opts.HTTPCORSOrigins))
	engine.Use(otelgin.Middleware(tracing.ServiceName))
	engine.Use(Metrics())

	engine.GET("/healthz", s.health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/v1")
	v1.GET("/help", s.help)

	authed := v1.Group("", Auth(s.tokens))
	authed.GET("/probe", s.probe)
	authed.POST("/edits", s.createEdit)
	return engine
}
