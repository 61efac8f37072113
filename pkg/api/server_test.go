package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qnwis/qnwis/pkg/catalog"
	"github.com/qnwis/qnwis/pkg/config"
	"github.com/qnwis/qnwis/pkg/events"
	"github.com/qnwis/qnwis/pkg/pipeline"
)

// ── Test doubles ────────────────────────────────────────────────────────────

type fakeRunner struct {
	result  *pipeline.BriefingResult
	runErr  *pipeline.RunError
	active  map[string]bool
	lastRun pipeline.Task
}

func (f *fakeRunner) Run(ctx context.Context, task pipeline.Task, stream *events.Stream) (*pipeline.BriefingResult, error) {
	f.lastRun = task
	stream.Emit(ctx, events.NewEvent(events.StageClassify, events.StatusRunning, nil))
	stream.Emit(ctx, events.NewEvent(events.StageClassify, events.StatusComplete,
		events.ClassifyPayload{Complexity: "simple", Intent: task.Intent}))

	grace := context.Background()
	if f.runErr != nil {
		stream.Terminate(grace, events.NewEvent(events.StageDone, events.StatusError, events.DonePayload{
			Code:      string(f.runErr.Code),
			Message:   f.runErr.Err.Error(),
			RequestID: task.RequestID,
		}))
		return nil, f.runErr
	}

	stream.Terminate(grace, events.NewEvent(events.StageDone, events.StatusComplete,
		events.DonePayload{RequestID: task.RequestID}))
	result := *f.result
	result.RequestID = task.RequestID
	return &result, nil
}

func (f *fakeRunner) Cancel(requestID string) bool { return f.active[requestID] }
func (f *fakeRunner) ActiveRuns() int              { return len(f.active) }

type fakeInvalidator struct {
	counts map[string]int
}

func (f *fakeInvalidator) Invalidate(_ context.Context, queryID string) (int, error) {
	return f.counts[queryID], nil
}

// ── Fixtures ────────────────────────────────────────────────────────────────

func apiRegistry(t *testing.T) *catalog.Registry {
	t.Helper()
	dir := t.TempDir()
	content := `
queries:
  - query_id: lmi.sector_counts
    description: Headcount by sector.
    dataset: LMIS
    sql: SELECT sector, headcount FROM workforce WHERE year = :year
    parameters:
      - name: year
        type: int
        required: true
    output_schema:
      - {name: sector, type: string}
      - {name: headcount, type: int}
    cache_ttl_seconds: 300
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog.yaml"), []byte(content), 0o600))
	reg, err := catalog.Load(context.Background(), dir)
	require.NoError(t, err)
	return reg
}

func apiConfig() *config.Config {
	return &config.Config{
		Intents: config.IntentMap{
			"pattern.sector_headcount": &config.IntentConfig{
				Params:   []config.ParamRule{{Name: "year", Type: "int", Required: true}},
				QueryIDs: []string{"lmi.sector_counts"},
			},
		},
		Timeouts:     config.DefaultTimeouts(),
		Scenarios:    config.DefaultScenarios(),
		Cache:        config.DefaultCache(),
		Verification: config.DefaultVerification(),
		FeatureFlags: config.DefaultFeatureFlags(),
	}
}

func newTestServer(t *testing.T, runner Runner, opts ...Option) *gin.Engine {
	t.Helper()
	return NewServer(apiConfig(), apiRegistry(t), runner, opts...).Router()
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// ── Tests ───────────────────────────────────────────────────────────────────

func TestSubmitQuestionStreamsEvents(t *testing.T) {
	runner := &fakeRunner{result: &pipeline.BriefingResult{
		Intent:   "pattern.sector_headcount",
		Briefing: "Per LMIS: construction employs 1,234 workers.",
	}}
	router := newTestServer(t, runner)

	w := doJSON(router, http.MethodPost, "/api/v1/questions",
		`{"question": "How large is the construction workforce?", "intent": "pattern.sector_headcount", "params": {"year": 2026}}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	body := w.Body.String()
	assert.Contains(t, body, "event:progress")
	assert.Contains(t, body, `"stage":"classify"`)
	assert.Contains(t, body, `"stage":"done"`)
	assert.Contains(t, body, "event:result")
	assert.Contains(t, body, "construction employs 1,234 workers")

	assert.Equal(t, "pattern.sector_headcount", runner.lastRun.Intent)
	assert.Equal(t, config.DepthStandard, runner.lastRun.Depth, "depth defaults to standard")
}

func TestSubmitQuestionFailedRunOmitsResult(t *testing.T) {
	runner := &fakeRunner{runErr: &pipeline.RunError{
		Code: pipeline.CodeBackendFailure,
		Err:  context.DeadlineExceeded,
	}}
	router := newTestServer(t, runner)

	w := doJSON(router, http.MethodPost, "/api/v1/questions",
		`{"question": "q", "intent": "pattern.sector_headcount", "params": {"year": 2026}}`)

	assert.Equal(t, http.StatusOK, w.Code, "failures after stream start keep the 200")
	body := w.Body.String()
	assert.Contains(t, body, `"code":"BackendFailure"`)
	assert.NotContains(t, body, "event:result")
}

func TestSubmitQuestionValidation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "missing question",
			body:       `{"intent": "pattern.sector_headcount"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown intent",
			body:       `{"question": "q", "intent": "nope.unknown"}`,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "missing required param",
			body:       `{"question": "q", "intent": "pattern.sector_headcount"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "undeclared param",
			body:       `{"question": "q", "intent": "pattern.sector_headcount", "params": {"year": 2026, "bogus": 1}}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown depth",
			body:       `{"question": "q", "intent": "pattern.sector_headcount", "params": {"year": 2026}, "depth": "heroic"}`,
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestServer(t, &fakeRunner{result: &pipeline.BriefingResult{}})
			w := doJSON(router, http.MethodPost, "/api/v1/questions", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestCancelQuestion(t *testing.T) {
	runner := &fakeRunner{active: map[string]bool{"req-42": true}}
	router := newTestServer(t, runner)

	w := doJSON(router, http.MethodPost, "/api/v1/questions/req-42/cancel", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cancelling"`)

	w = doJSON(router, http.MethodPost, "/api/v1/questions/unknown/cancel", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDataLoadInvalidation(t *testing.T) {
	inv := &fakeInvalidator{counts: map[string]int{"lmi.sector_counts": 3}}
	router := newTestServer(t, &fakeRunner{}, WithCache(inv))

	w := doJSON(router, http.MethodPost, "/api/v1/data-loads",
		`{"query_ids": ["lmi.sector_counts"]}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"lmi.sector_counts":3`)

	w = doJSON(router, http.MethodPost, "/api/v1/data-loads",
		`{"query_ids": ["nope.missing"]}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDataLoadWithoutCache(t *testing.T) {
	router := newTestServer(t, &fakeRunner{})
	w := doJSON(router, http.MethodPost, "/api/v1/data-loads",
		`{"query_ids": ["lmi.sector_counts"]}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListEndpoints(t *testing.T) {
	router := newTestServer(t, &fakeRunner{})

	w := doJSON(router, http.MethodGet, "/api/v1/intents", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pattern.sector_headcount")

	w = doJSON(router, http.MethodGet, "/api/v1/catalog", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "lmi.sector_counts")
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestServer(t, &fakeRunner{active: map[string]bool{"r1": true}})

	w := doJSON(router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"active_runs":1`)

	w = doJSON(router, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, w.Code, "readiness passes without a pool configured")
}
