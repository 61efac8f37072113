package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/qnwis/qnwis/pkg/catalog"
	"github.com/qnwis/qnwis/pkg/config"
	"github.com/qnwis/qnwis/pkg/events"
	"github.com/qnwis/qnwis/pkg/pipeline"
)

// submitQuestionHandler handles POST /api/v1/questions. The response is a
// Server-Sent Events stream: one "progress" event per pipeline event, then
// a "result" event carrying the briefing when the run completes. Failures
// are reported on the stream's terminal done event; only pre-flight
// validation errors produce a non-200 response.
func (s *Server) submitQuestionHandler(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	depth := req.Depth
	if depth == "" {
		depth = config.DepthStandard
	}
	if !config.ValidDepth(depth) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown depth: " + string(depth)})
		return
	}

	// Pre-flight validation so schema errors surface as HTTP status codes
	// instead of stream events. The pipeline re-validates deterministically.
	intent, err := s.cfg.GetIntent(req.Intent)
	if err != nil {
		abortWithError(c, err)
		return
	}
	specs := make([]catalog.ParamSpec, len(intent.Params))
	for i, r := range intent.Params {
		specs[i] = catalog.ParamSpec{
			Name: r.Name, Type: r.Type, Required: r.Required,
			Default: r.Default, Min: r.Min, Max: r.Max, Enum: r.Enum,
		}
	}
	if _, err := catalog.BindSpecs(req.Intent, specs, req.Params); err != nil {
		abortWithError(c, err)
		return
	}

	flags := s.cfg.FeatureFlags
	if req.Flags != nil {
		flags = *req.Flags
	}

	task := pipeline.Task{
		RequestID: uuid.NewString(),
		UserID:    req.UserID,
		Question:  req.Question,
		Intent:    req.Intent,
		Params:    req.Params,
		Depth:     depth,
		Flags:     flags,
	}

	stream := events.NewStream()
	type runOutcome struct {
		result *pipeline.BriefingResult
		err    error
	}
	outcomeCh := make(chan runOutcome, 1)
	go func() {
		result, err := s.runner.Run(c.Request.Context(), task, stream)
		outcomeCh <- runOutcome{result: result, err: err}
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("X-Request-ID", task.RequestID)
	c.Writer.WriteHeaderNow()

	for ev := range stream.Events() {
		c.SSEvent("progress", ev)
		c.Writer.Flush()
	}

	outcome := <-outcomeCh
	if outcome.err == nil && outcome.result != nil {
		c.SSEvent("result", outcome.result)
		c.Writer.Flush()
	}
}

// cancelQuestionHandler handles POST /api/v1/questions/:id/cancel.
func (s *Server) cancelQuestionHandler(c *gin.Context) {
	requestID := c.Param("id")
	if !s.runner.Cancel(requestID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active run with that request id"})
		return
	}
	c.JSON(http.StatusOK, CancelResponse{RequestID: requestID, Status: "cancelling"})
}
