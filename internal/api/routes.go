package api

import (
	"github.com/gin-gonic/gin"

	"github.com/killcore/killcore/internal/metrics"
)

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/king", s.handleGetKing)
		v1.GET("/king/briefing", s.handleGetKingBriefing)
		v1.GET("/kingpool", s.handleGetKingPool)
		v1.GET("/godline", s.handleGetGodline)
		v1.GET("/report", s.handleGetReport)
		v1.GET("/modules/:id", s.handleGetModule)
		v1.GET("/events", s.handleGetEvents)
	}
}
