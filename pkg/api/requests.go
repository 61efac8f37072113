package api

import (
	"github.com/qnwis/qnwis/pkg/config"
)

// AskRequest is the body of POST /api/v1/questions.
type AskRequest struct {
	Question string               `json:"question" binding:"required"`
	Intent   string               `json:"intent" binding:"required"`
	Params   map[string]any       `json:"params,omitempty"`
	UserID   string               `json:"user_id,omitempty"`
	Depth    config.Depth         `json:"depth,omitempty"`
	Flags    *config.FeatureFlags `json:"feature_flags,omitempty"`
}

// CancelResponse is the body of a successful cancel request.
type CancelResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// DataLoadRequest announces a completed upstream data load. Cached results
// for the named queries are invalidated so the next read recomputes.
type DataLoadRequest struct {
	QueryIDs []string `json:"query_ids" binding:"required"`
}

// DataLoadResponse reports how many cache entries each query lost.
type DataLoadResponse struct {
	Invalidated map[string]int `json:"invalidated"`
}

// IntentsResponse lists the registered intents.
type IntentsResponse struct {
	Intents []string `json:"intents"`
}

// CatalogResponse lists the registered query IDs.
type CatalogResponse struct {
	QueryIDs []string `json:"query_ids"`
}
