package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

const readinessTimeout = 5 * time.Second

// healthHandler handles GET /healthz: process liveness only.
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"active_runs": s.runner.ActiveRuns(),
		"queries":     s.registry.Len(),
	})
}

// readyHandler handles GET /readyz: the database must answer before the
// server accepts traffic.
func (s *Server) readyHandler(c *gin.Context) {
	if s.pool != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()
		if err := s.pool.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unready",
				"error":  err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// dataLoadHandler handles POST /api/v1/data-loads: after an upstream data
// load, cached results for the affected queries are dropped so the next
// read recomputes against fresh data.
func (s *Server) dataLoadHandler(c *gin.Context) {
	var req DataLoadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.cache == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cache layer is disabled"})
		return
	}

	resp := DataLoadResponse{Invalidated: make(map[string]int, len(req.QueryIDs))}
	for _, queryID := range req.QueryIDs {
		if !s.registry.Has(queryID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown query: " + queryID})
			return
		}
		n, err := s.cache.Invalidate(c.Request.Context(), queryID)
		if err != nil {
			abortWithError(c, err)
			return
		}
		resp.Invalidated[queryID] = n
	}
	c.JSON(http.StatusOK, resp)
}

// listIntentsHandler handles GET /api/v1/intents.
func (s *Server) listIntentsHandler(c *gin.Context) {
	names := s.cfg.IntentNames()
	sort.Strings(names)
	c.JSON(http.StatusOK, IntentsResponse{Intents: names})
}

// listCatalogHandler handles GET /api/v1/catalog.
func (s *Server) listCatalogHandler(c *gin.Context) {
	c.JSON(http.StatusOK, CatalogResponse{QueryIDs: s.registry.IDs()})
}
