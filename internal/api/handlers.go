package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/killcore/killcore/internal/audit"
	"github.com/killcore/killcore/internal/config"
	"github.com/killcore/killcore/internal/events"
	"github.com/killcore/killcore/internal/evolution"
	"github.com/killcore/killcore/internal/metrics"
	"github.com/killcore/killcore/internal/report"
	"github.com/killcore/killcore/internal/store"
)

const (
	sourceCache = "cache"
	sourceStore = "store"

	maxEventsLimit = 1000
)

// handleRoot returns basic service information
func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "killcore",
		"version": config.Version,
		"status":  "running",
	})
}

// handleHealth reports store and cache health
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	checks := gin.H{}

	if _, err := s.store.LoadKingPool(ctx); err != nil {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
		checks["store"] = err.Error()
	} else {
		checks["store"] = "ok"
	}

	if s.cache != nil {
		if err := s.cache.Health(ctx); err != nil {
			// The store remains authoritative, so a cache outage only degrades.
			if status == "healthy" {
				status = "degraded"
			}
			checks["cache"] = err.Error()
		} else {
			checks["cache"] = "ok"
		}
	}

	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"uptime": time.Since(s.started).Round(time.Second).String(),
		"time":   time.Now().UTC(),
	})
}

// snapshot returns the cached snapshot when one is available.
func (s *Server) snapshot(ctx context.Context) (*cacheView, bool) {
	snap, ok := s.cache.Get(ctx)
	if !ok {
		return nil, false
	}
	return &cacheView{
		kings:   snap.KingPool,
		godline: snap.Godline,
		report:  snap.Report,
	}, true
}

// cacheView is the part of a cached snapshot the handlers serve.
type cacheView struct {
	kings   []*evolution.Module
	godline []evolution.GodlineEntry
	report  evolution.Report
}

// kings loads the king pool from the cache, falling back to the store.
func (s *Server) kings(ctx context.Context) ([]*evolution.Module, string, error) {
	if view, ok := s.snapshot(ctx); ok && len(view.kings) > 0 {
		return view.kings, sourceCache, nil
	}
	kings, err := s.store.LoadKingPool(ctx)
	return kings, sourceStore, err
}

// handleGetKing returns the current king
func (s *Server) handleGetKing(c *gin.Context) {
	kings, source, err := s.kings(c.Request.Context())
	if err != nil {
		s.storeError(c, "king_pool", err)
		return
	}

	king, err := report.Lead(kings)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no king has been crowned yet"})
		return
	}

	c.Header("X-Data-Source", source)
	c.JSON(http.StatusOK, gin.H{
		"king":    king,
		"remarks": report.Remarks(king),
		"source":  source,
	})
}

// handleGetKingBriefing renders the king briefing as plain text
func (s *Server) handleGetKingBriefing(c *gin.Context) {
	kings, source, err := s.kings(c.Request.Context())
	if err != nil {
		s.storeError(c, "king_pool", err)
		return
	}

	king, err := report.Lead(kings)
	if err != nil {
		c.String(http.StatusNotFound, "no king has been crowned yet\n")
		return
	}

	var buf bytes.Buffer
	if err := report.RenderKing(&buf, king); err != nil {
		log.Error().Err(err).Msg("Failed to render king briefing")
		c.String(http.StatusInternalServerError, "failed to render briefing\n")
		return
	}

	c.Header("X-Data-Source", source)
	c.Data(http.StatusOK, "text/plain; charset=utf-8", buf.Bytes())
}

// handleGetKingPool returns every king in the pool, best first
func (s *Server) handleGetKingPool(c *gin.Context) {
	kings, source, err := s.kings(c.Request.Context())
	if err != nil {
		s.storeError(c, "king_pool", err)
		return
	}

	c.Header("X-Data-Source", source)
	c.JSON(http.StatusOK, gin.H{
		"kings":  kings,
		"count":  len(kings),
		"source": source,
	})
}

// handleGetGodline returns the lineage of past kings, oldest first
func (s *Server) handleGetGodline(c *gin.Context) {
	ctx := c.Request.Context()

	entries, source := []evolution.GodlineEntry(nil), sourceCache
	if view, ok := s.snapshot(ctx); ok {
		entries = view.godline
	} else {
		var err error
		entries, err = s.store.LoadGodline(ctx)
		if err != nil {
			s.storeError(c, "godline", err)
			return
		}
		source = sourceStore
	}
	if entries == nil {
		entries = []evolution.GodlineEntry{}
	}

	c.Header("X-Data-Source", source)
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
		"source":  source,
	})
}

// handleGetReport returns the summary of the latest round
func (s *Server) handleGetReport(c *gin.Context) {
	ctx := c.Request.Context()

	if view, ok := s.snapshot(ctx); ok {
		c.Header("X-Data-Source", sourceCache)
		c.JSON(http.StatusOK, gin.H{"report": view.report, "source": sourceCache})
		return
	}

	result, err := s.store.LoadResult(ctx)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no round has completed yet"})
		return
	}
	if err != nil {
		s.storeError(c, "result", err)
		return
	}

	c.Header("X-Data-Source", sourceStore)
	c.JSON(http.StatusOK, gin.H{
		"report": evolution.Summarize(result.RoundID, result.Modules),
		"source": sourceStore,
	})
}

// handleGetModule returns one stored module by id
func (s *Server) handleGetModule(c *gin.Context) {
	id := c.Param("id")

	module, err := s.store.GetModule(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "module not found", "id": id})
		return
	}
	if err != nil {
		s.storeError(c, "module", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"module": module})
}

// handleGetEvents queries the lineage ledger
func (s *Server) handleGetEvents(c *gin.Context) {
	if s.ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event ledger not configured"})
		return
	}

	filters := audit.Filters{
		Type:     events.Type(c.Query("type")),
		RoundID:  c.Query("round_id"),
		ModuleID: c.Query("module_id"),
	}
	if v := c.Query("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since, expected RFC3339", "details": err.Error()})
			return
		}
		filters.Since = since
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 || limit > maxEventsLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limit must be between 1 and %d", maxEventsLimit)})
			return
		}
		filters.Limit = limit
	}

	entries, err := s.ledger.Query(c.Request.Context(), filters)
	if err != nil {
		s.storeError(c, "events", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": entries,
		"count":  len(entries),
	})
}

// storeError logs a store failure and answers 500
func (s *Server) storeError(c *gin.Context, what string, err error) {
	log.Error().Err(err).Str("artifact", what).Msg("Failed to read from store")
	metrics.RecordError("store_read", "api")
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "failed to load " + what,
		"details": err.Error(),
	})
}
