package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qnwis/qnwis/pkg/catalog"
	"github.com/qnwis/qnwis/pkg/config"
	"github.com/qnwis/qnwis/pkg/dataaccess"
	"github.com/qnwis/qnwis/pkg/events"
	"github.com/qnwis/qnwis/pkg/llm"
	"github.com/qnwis/qnwis/pkg/rag"
)

// ── Test fixtures ───────────────────────────────────────────────────────────

type fakeData struct {
	mu      sync.Mutex
	results map[string]*dataaccess.QueryResult
	err     error
}

func (f *fakeData) Execute(_ context.Context, _, queryID string, params map[string]any) (*dataaccess.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	qr, ok := f.results[queryID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", catalog.ErrUnknownQuery, queryID)
	}
	cp := qr.Clone()
	cp.ParamsUsed = params
	return cp, nil
}

// fnProvider scripts completions by inspecting the request.
type fnProvider struct {
	fn func(ctx context.Context, req llm.Request) (string, error)
}

func (p *fnProvider) Name() string { return "fn" }

func (p *fnProvider) Complete(ctx context.Context, req llm.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.fn(ctx, req)
}

func (p *fnProvider) CompleteStream(ctx context.Context, req llm.Request) (<-chan llm.StreamChunk, <-chan error) {
	chunks := make(chan llm.StreamChunk, 4)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		text, err := p.Complete(ctx, req)
		if err != nil {
			errs <- err
			return
		}
		chunks <- llm.StreamChunk{Content: text}
		chunks <- llm.StreamChunk{IsFinal: true}
	}()
	return chunks, errs
}

func lastUser(req llm.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == llm.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}

func pipelineRegistry(t *testing.T) *catalog.Registry {
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

func pipelineConfig() *config.Config {
	return &config.Config{
		SchemaVersion: "v1",
		Intents: config.IntentMap{
			"pattern.sector_headcount": &config.IntentConfig{
				Params:   []config.ParamRule{{Name: "year", Type: "int", Required: true}},
				QueryIDs: []string{"lmi.sector_counts"},
			},
			"policy.minimum_wage": &config.IntentConfig{
				Params:   []config.ParamRule{{Name: "year", Type: "int", Required: true}},
				QueryIDs: []string{"lmi.sector_counts"},
				Agents:   []string{"labour_economist"},
				Scenarios: []config.ScenarioTemplate{
					{Name: "baseline", Description: "No change."},
					{Name: "shock", Description: "Sharp wage increase."},
				},
			},
		},
		Agents: config.AgentMap{
			"labour_economist": &config.AgentSpec{
				Name:               "labour_economist",
				Role:               "labour market economist",
				PromptTemplate:     "Question: {{.Question}}\nData:\n{{.Data}}",
				SelectableQueryIDs: []string{"lmi.sector_counts"},
			},
		},
		Timeouts:     config.DefaultTimeouts(),
		Scenarios:    config.DefaultScenarios(),
		Cache:        config.DefaultCache(),
		Verification: config.DefaultVerification(),
		FeatureFlags: config.DefaultFeatureFlags(),
		LLM:          config.DefaultLLM(),
	}
}

func pipelineData() *fakeData {
	return &fakeData{results: map[string]*dataaccess.QueryResult{
		"lmi.sector_counts": {
			QueryID:    "lmi.sector_counts",
			Provenance: dataaccess.Provenance{Dataset: "LMIS"},
			Rows:       []dataaccess.Row{{"sector": "construction", "headcount": int64(1234)}},
			RowCount:   1,
		},
	}}
}

// runTask drives one run while collecting every emitted event.
func runTask(t *testing.T, o *Orchestrator, task Task) ([]events.ProgressEvent, *BriefingResult, error) {
	t.Helper()
	stream := events.NewStream()

	var collected []events.ProgressEvent
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range stream.Events() {
			collected = append(collected, ev)
		}
	}()

	result, err := o.Run(context.Background(), task, stream)
	<-done
	return collected, result, err
}

// stageSequence reduces an event trace to stage entry points and the
// terminal event, dropping streaming and completion noise.
func stageSequence(evs []events.ProgressEvent) []string {
	var out []string
	for _, ev := range evs {
		if ev.Status == events.StatusRunning || ev.Stage == events.StageDone {
			out = append(out, string(ev.Stage)+"/"+string(ev.Status))
		}
	}
	return out
}

func newTask(intent string) Task {
	return Task{
		RequestID: "req-1",
		Question:  "How is the construction workforce developing?",
		Intent:    intent,
		Params:    map[string]any{"year": 2026},
		Depth:     config.DepthStandard,
		Flags:     config.DefaultFeatureFlags(),
	}
}

// ── Tests ───────────────────────────────────────────────────────────────────

func TestRunSimplePath(t *testing.T) {
	provider := llm.NewNullProvider().Queue("Per LMIS: construction employs 1,234 workers.")
	o := New(pipelineConfig(), pipelineRegistry(t), pipelineData(), provider, rag.NewNullRetriever())

	evs, result, err := runTask(t, o, newTask("pattern.sector_headcount"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"classify/running", "prefetch/running", "synthesize/running", "done/complete",
	}, stageSequence(evs))

	assert.Equal(t, config.ComplexitySimple, result.Complexity)
	assert.Contains(t, result.Briefing, "1,234")
	assert.Equal(t, []string{"lmi.sector_counts"}, result.QueryIDs)
	require.NotNil(t, result.Verification, "simple runs still verify the briefing")
	assert.True(t, result.Verification.OK)
	assert.GreaterOrEqual(t, result.Verification.ClaimsTotal, 1)
	assert.Empty(t, result.AgentReports)
}

func TestRunStreamsSynthesisChunks(t *testing.T) {
	provider := llm.NewNullProvider().Queue("Per LMIS: construction employs 1,234 workers.")
	o := New(pipelineConfig(), pipelineRegistry(t), pipelineData(), provider, rag.NewNullRetriever())

	evs, result, err := runTask(t, o, newTask("pattern.sector_headcount"))
	require.NoError(t, err)

	var streamed strings.Builder
	for _, ev := range evs {
		if ev.Stage == events.StageSynthesize && ev.Status == events.StatusStreaming {
			chunk, ok := ev.Payload.(events.ChunkPayload)
			require.True(t, ok)
			streamed.WriteString(chunk.Delta)
		}
	}
	assert.Equal(t, result.Briefing, streamed.String(),
		"concatenated deltas must reproduce the briefing")
}

func TestRunUnknownIntent(t *testing.T) {
	o := New(pipelineConfig(), pipelineRegistry(t), pipelineData(), llm.NewNullProvider(), rag.NewNullRetriever())

	evs, result, err := runTask(t, o, newTask("nope.unknown"))
	require.Error(t, err)
	assert.Nil(t, result)

	var re *RunError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, CodeUnknownIntent, re.Code)

	// No stage runs: the terminal done event is the entire stream.
	require.Len(t, evs, 1)
	assert.Equal(t, events.StageDone, evs[0].Stage)
	assert.Equal(t, events.StatusError, evs[0].Status)
	payload, ok := evs[0].Payload.(events.DonePayload)
	require.True(t, ok)
	assert.Equal(t, "UnknownIntent", payload.Code)
}

func TestRunParamValidation(t *testing.T) {
	o := New(pipelineConfig(), pipelineRegistry(t), pipelineData(), llm.NewNullProvider(), rag.NewNullRetriever())

	task := newTask("pattern.sector_headcount")
	task.Params = map[string]any{}
	_, _, err := runTask(t, o, task)
	require.Error(t, err)

	var re *RunError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, CodeParamValidation, re.Code)
	assert.Equal(t, events.StageClassify, re.Stage)
}

func TestRunMediumPath(t *testing.T) {
	provider := llm.NewNullProvider().Queue(
		"Per LMIS: construction employs 1,234 workers.", // agent
		"Per LMIS: briefing on 1,234 workers.",          // synthesize
	)
	o := New(pipelineConfig(), pipelineRegistry(t), pipelineData(), provider, rag.NewNullRetriever())

	evs, result, err := runTask(t, o, newTask("policy.minimum_wage"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"classify/running", "prefetch/running", "rag/running",
		"agent_selection/running", "agents/running", "verify/running",
		"synthesize/running", "done/complete",
	}, stageSequence(evs))

	assert.Equal(t, config.ComplexityMedium, result.Complexity)
	require.Len(t, result.AgentReports, 1)
	assert.Equal(t, "labour_economist", result.AgentReports[0].AgentName)
	require.NotNil(t, result.Verification)
	assert.True(t, result.Verification.OK)
	assert.Empty(t, result.Warnings)
}

func TestRunCriticalWithScenarioFailure(t *testing.T) {
	provider := &fnProvider{fn: func(_ context.Context, req llm.Request) (string, error) {
		user := lastUser(req)
		switch {
		case strings.Contains(user, `scenario "shock"`):
			return "", fmt.Errorf("provider overloaded")
		case strings.Contains(user, "Analyze under scenario"):
			return "Per LMIS: construction employs 1,234 workers.", nil
		case strings.Contains(user, "Positions:"):
			return "Per LMIS: the analysts agree on 1,234 workers.", nil
		case strings.Contains(user, "Debate outcome:"):
			return "Per LMIS: synthesis holds at 1,234 workers.\nSENSITIVITY: wage elasticity", nil
		case strings.Contains(user, "Compare the following scenario analyses"):
			return "Per LMIS: the surviving path stays near 1,234 workers.", nil
		default:
			return "Per LMIS: briefing on 1,234 workers.", nil
		}
	}}
	o := New(pipelineConfig(), pipelineRegistry(t), pipelineData(), provider, rag.NewNullRetriever())

	task := newTask("policy.minimum_wage")
	task.Depth = config.DepthLegendary
	evs, result, err := runTask(t, o, task)
	require.NoError(t, err, "one failed scenario must not fail the run")

	assert.Equal(t, config.ComplexityCritical, result.Complexity)
	require.Len(t, result.Scenarios, 1, "only the surviving scenario is reported")
	assert.Equal(t, "req-1-sc-01", result.Scenarios[0].ScenarioID)
	assert.Equal(t, []string{"wage elasticity"}, result.Scenarios[0].SensitivityDrivers)
	assert.NotEmpty(t, result.Warnings)
	require.NotNil(t, result.Verification)
	assert.True(t, result.Verification.OK)

	var parallel *events.ParallelExecPayload
	for _, ev := range evs {
		if ev.Stage == events.StageParallelExec && ev.Status == events.StatusComplete {
			payload, ok := ev.Payload.(events.ParallelExecPayload)
			require.True(t, ok)
			parallel = &payload
		}
	}
	require.NotNil(t, parallel)
	assert.Equal(t, 1, parallel.Succeeded)
	assert.Equal(t, 1, parallel.Failed)
}

func TestRunCriticalEmitsScenarioProgress(t *testing.T) {
	provider := llm.NewNullProvider().Queue(
		"Per LMIS: construction employs 1,234 workers.", // baseline agent
		"Per LMIS: construction employs 1,234 workers.", // shock agent
		"Per LMIS: the analysts agree on 1,234 workers.",
		"Per LMIS: the analysts agree on 1,234 workers.",
		"Per LMIS: synthesis holds at 1,234 workers.",
		"Per LMIS: synthesis holds at 1,234 workers.",
		"Per LMIS: both paths stay near 1,234 workers.", // meta
		"Per LMIS: briefing on 1,234 workers.",          // synthesize
	)
	o := New(pipelineConfig(), pipelineRegistry(t), pipelineData(), provider, rag.NewNullRetriever())

	task := newTask("policy.minimum_wage")
	task.Depth = config.DepthLegendary
	evs, result, err := runTask(t, o, task)
	require.NoError(t, err)
	assert.Len(t, result.Scenarios, 2)

	// Phase markers per scenario must be monotonically non-decreasing.
	lastPercent := map[string]int{}
	seen := 0
	for _, ev := range evs {
		if ev.Stage != events.StageParallelExec || ev.Status != events.StatusStreaming {
			continue
		}
		payload, ok := ev.Payload.(events.ScenarioProgressPayload)
		require.True(t, ok)
		assert.Contains(t, []string{events.PhaseAgents, events.PhaseDebate, events.PhaseCritique},
			payload.Phase)
		assert.GreaterOrEqual(t, payload.Percent, lastPercent[payload.ScenarioID])
		lastPercent[payload.ScenarioID] = payload.Percent
		seen++
	}
	assert.GreaterOrEqual(t, seen, 2, "both scenarios must publish progress")
}

func TestRunVerificationFailureNonStrict(t *testing.T) {
	provider := llm.NewNullProvider().Queue(
		"Per LMIS: construction employs 1,500 workers.", // agent, fabricated
		"Per LMIS: construction employs 1,500 workers.", // agent retry, still bad
		"Briefing without numbers.",                     // synthesize
	)
	o := New(pipelineConfig(), pipelineRegistry(t), pipelineData(), provider, rag.NewNullRetriever())

	evs, result, err := runTask(t, o, newTask("policy.minimum_wage"))
	require.NoError(t, err, "non-strict verification failure degrades, not fails")
	require.NotNil(t, result.Verification)
	assert.False(t, result.Verification.OK)
	assert.Contains(t, result.Warnings, "verification_failed")

	last := evs[len(evs)-1]
	assert.Equal(t, events.StatusComplete, last.Status)
}

func TestRunVerificationFailureStrict(t *testing.T) {
	cfg := pipelineConfig()
	cfg.Verification.Strict = true
	provider := llm.NewNullProvider().Queue(
		"Per LMIS: construction employs 1,500 workers.",
		"Per LMIS: construction employs 1,500 workers.",
	)
	o := New(cfg, pipelineRegistry(t), pipelineData(), provider, rag.NewNullRetriever())

	_, _, err := runTask(t, o, newTask("policy.minimum_wage"))
	require.Error(t, err)
	var re *RunError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, CodeVerificationFailed, re.Code)
	assert.Equal(t, events.StageVerify, re.Stage)
}

func TestRunCancellation(t *testing.T) {
	var once sync.Once
	started := make(chan struct{})
	provider := &fnProvider{fn: func(ctx context.Context, _ llm.Request) (string, error) {
		once.Do(func() { close(started) })
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(10 * time.Second):
			return "", fmt.Errorf("unreachable")
		}
	}}
	o := New(pipelineConfig(), pipelineRegistry(t), pipelineData(), provider, rag.NewNullRetriever())

	task := newTask("policy.minimum_wage")
	go func() {
		<-started
		o.Cancel(task.RequestID)
	}()

	evs, _, err := runTask(t, o, task)
	require.Error(t, err)

	var re *RunError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, CodeCancelled, re.Code)

	last := evs[len(evs)-1]
	assert.Equal(t, events.StageDone, last.Stage)
	assert.Equal(t, events.StatusError, last.Status)
	payload, ok := last.Payload.(events.DonePayload)
	require.True(t, ok)
	assert.Equal(t, events.ReasonCancelled, payload.Reason)
}

func TestCancelUnknownRun(t *testing.T) {
	o := New(pipelineConfig(), pipelineRegistry(t), pipelineData(), llm.NewNullProvider(), rag.NewNullRetriever())
	assert.False(t, o.Cancel("never-started"))
	assert.Zero(t, o.ActiveRuns())
}

func TestRunBackendFailure(t *testing.T) {
	data := pipelineData()
	data.err = dataaccess.ErrBackendFailure
	o := New(pipelineConfig(), pipelineRegistry(t), data, llm.NewNullProvider(), rag.NewNullRetriever())

	_, _, err := runTask(t, o, newTask("pattern.sector_headcount"))
	require.Error(t, err)
	var re *RunError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, CodeBackendFailure, re.Code)
	assert.Equal(t, events.StagePrefetch, re.Stage)
}

func TestRunFlagsGatedByDeploymentConfig(t *testing.T) {
	cfg := pipelineConfig()
	cfg.FeatureFlags.EnableRAG = false
	provider := llm.NewNullProvider().Queue(
		"Per LMIS: construction employs 1,234 workers.",
		"Per LMIS: briefing on 1,234 workers.",
	)
	o := New(cfg, pipelineRegistry(t), pipelineData(), provider, rag.NewNullRetriever())

	// The task requests RAG but the deployment has it off.
	evs, _, err := runTask(t, o, newTask("policy.minimum_wage"))
	require.NoError(t, err)
	assert.NotContains(t, stageSequence(evs), "rag/running")
}

func TestClassifyErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{context.Canceled, CodeCancelled},
		{context.DeadlineExceeded, CodeStageTimeout},
		{catalog.ErrUnknownQuery, CodeUnknownQuery},
		{dataaccess.ErrResultTooLarge, CodeResultTooLarge},
		{fmt.Errorf("anything else"), CodeStageFailure},
	}
	for _, tt := range tests {
		re := classifyError(events.StagePrefetch, tt.err)
		assert.Equal(t, tt.want, re.Code, "for %v", tt.err)
	}
}
