// Package api exposes the registry, subscriptions and trigger stream over HTTP.
package api

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/metrics"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/registry"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/subscription"
)

// Streamer serves the trigger WebSocket for an authenticated user.
type Streamer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, userID string, lastSeq int64) error
}

// Deps are the services behind the API. Stream, Health and Gatherer may be nil.
type Deps struct {
	Registry      *registry.Registry
	Subscriptions *subscription.Service
	Triggers      model.TriggerLog
	Stream        Streamer
	Auth          *Auth
	Health        *metrics.HealthStatus
	Gatherer      prometheus.Gatherer
	Logger        *slog.Logger
}

// Config configures the HTTP server.
type Config struct {
	Addr         string
	AllowOrigins []string
}

// Server wraps the gin engine and its http.Server.
type Server struct {
	deps   Deps
	engine *gin.Engine
	srv    *http.Server
	log    *slog.Logger
}

// NewServer builds the router.
func NewServer(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	engine.Use(cors.New(corsConfig))

	s := &Server{
		deps:   deps,
		engine: engine,
		log:    deps.Logger.With("component", "api"),
	}
	s.routes()
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	if s.deps.Gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}
	s.engine.GET("/ws/triggers", s.handleStream)

	v1 := s.engine.Group("/api/v1")
	v1.POST("/conditions/register", s.handleRegister)
	v1.GET("/conditions/stats", s.handleStats)
	v1.GET("/conditions/:id/status", s.handleStatus)

	authed := v1.Group("", s.deps.Auth.Middleware())
	authed.POST("/playbooks", s.handleCreatePlaybook)
	authed.GET("/playbooks/:id", s.handleGetPlaybook)
	authed.POST("/subscriptions", s.handleSubscribe)
	authed.DELETE("/subscriptions/:id", s.handleUnsubscribe)
	authed.GET("/user/subscriptions", s.handleUserSubscriptions)
	authed.GET("/user/triggers", s.handleUserTriggers)
	authed.POST("/consumers/:id/stop", s.handleStopConsumer)

	// registry-scoped paths used by the bot and alert services
	authed.POST("/conditions/subscribe", s.handleSubscribe)
	authed.DELETE("/conditions/subscribe/:id", s.handleUnsubscribe)
	authed.GET("/conditions/user/subscriptions", s.handleUserSubscriptions)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until Stop is called. Blocks.
func (s *Server) Start() error {
	log.Printf("[api] listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// writeError maps the error taxonomy onto HTTP status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
