// Package api serves the tournament lineage (king, king pool, godline and
// the latest round report) over a read-only REST API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/killcore/killcore/internal/audit"
	"github.com/killcore/killcore/internal/cache"
	"github.com/killcore/killcore/internal/metrics"
	"github.com/killcore/killcore/internal/store"
)

// Server represents the REST API server
type Server struct {
	router  *gin.Engine
	store   store.Store
	cache   *cache.KingCache
	ledger  *audit.Ledger
	limiter *RateLimiter
	addr    string
	server  *http.Server
	started time.Time
}

// Config contains server configuration
type Config struct {
	Host           string
	Port           int
	Store          store.Store
	Cache          *cache.KingCache // optional
	Ledger         *audit.Ledger    // optional, enables /api/v1/events
	AllowedOrigins []string
	RateLimit      float64 // requests per second per client, 0 disables
	RateBurst      int
}

// NewServer creates a new API server
func NewServer(config Config) (*Server, error) {
	if config.Store == nil {
		return nil, errors.New("api: store is required")
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(metrics.GinMiddleware())

	origins := config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length", "X-Data-Source"},
		MaxAge:        12 * time.Hour,
	}))

	server := &Server{
		router:  router,
		store:   config.Store,
		cache:   config.Cache,
		ledger:  config.Ledger,
		addr:    fmt.Sprintf("%s:%d", config.Host, config.Port),
		started: time.Now(),
	}

	if config.RateLimit > 0 {
		server.limiter = NewRateLimiter(config.RateLimit, config.RateBurst)
		router.Use(server.limiter.Middleware())
	}

	server.setupRoutes()

	return server, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping API server")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}

	return nil
}

// CleanupLimiter drops rate limiter state for clients idle longer than idle.
func (s *Server) CleanupLimiter(idle time.Duration) int {
	if s.limiter == nil {
		return 0
	}
	return s.limiter.Cleanup(idle)
}

// LoggerMiddleware is a custom logging middleware for Gin
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		logEvent := log.Info()
		if statusCode >= http.StatusInternalServerError {
			logEvent = log.Error()
		}
		logEvent = logEvent.
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP())

		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}

		logEvent.Msg("API request")
	}
}
