package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/qnwis/qnwis/pkg/agent"
	"github.com/qnwis/qnwis/pkg/catalog"
	"github.com/qnwis/qnwis/pkg/config"
	"github.com/qnwis/qnwis/pkg/dataaccess"
	"github.com/qnwis/qnwis/pkg/events"
	"github.com/qnwis/qnwis/pkg/llm"
	"github.com/qnwis/qnwis/pkg/metrics"
	"github.com/qnwis/qnwis/pkg/rag"
	"github.com/qnwis/qnwis/pkg/verify"
)

// terminateGrace bounds delivery of the terminal event to an abandoned
// subscriber.
const terminateGrace = 5 * time.Second

// Orchestrator drives runs through the staged pipeline and tracks in-flight
// runs for cancellation.
type Orchestrator struct {
	cfg       *config.Config
	registry  *catalog.Registry
	data      dataaccess.Client
	provider  llm.Provider
	retriever rag.Retriever
	verifier  *verify.Verifier
	harness   *agent.Harness

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New creates an orchestrator over the assembled components.
func New(cfg *config.Config, registry *catalog.Registry, data dataaccess.Client, provider llm.Provider, retriever rag.Retriever) *Orchestrator {
	verifier := verify.New(cfg.Verification)
	return &Orchestrator{
		cfg:       cfg,
		registry:  registry,
		data:      data,
		provider:  provider,
		retriever: retriever,
		verifier:  verifier,
		harness:   agent.NewHarness(data, registry, provider, verifier, cfg.Timeouts.Agent()),
		active:    make(map[string]context.CancelFunc),
	}
}

// Run executes one task, emitting progress on stream and returning the
// terminal result. The stream always terminates with exactly one done
// event; on failure the returned error is a *RunError and the done event
// carries its code.
func (o *Orchestrator) Run(ctx context.Context, task Task, stream *events.Stream) (*BriefingResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.register(task.RequestID, cancel)
	defer o.unregister(task.RequestID)

	start := time.Now()
	log := slog.With("request_id", task.RequestID, "intent", task.Intent)
	log.Info("Run started", "depth", task.Depth)

	st := &RunState{Task: task}
	runErr := o.drive(runCtx, st, stream)

	graceCtx, cancelGrace := context.WithTimeout(context.WithoutCancel(ctx), terminateGrace)
	defer cancelGrace()

	if runErr != nil {
		re := classifyError("", runErr)
		reason := ""
		switch re.Code {
		case CodeCancelled:
			reason = events.ReasonCancelled
		case CodeStageTimeout:
			reason = events.ReasonTimeout
		}
		stream.Terminate(graceCtx, events.NewEvent(events.StageDone, events.StatusError, events.DonePayload{
			Code:      string(re.Code),
			Message:   re.Err.Error(),
			Reason:    reason,
			RequestID: task.RequestID,
		}))
		metrics.RunsTotal.WithLabelValues("error").Inc()
		log.Error("Run failed", "code", re.Code, "stage", re.Stage, "error", re.Err)
		return nil, re
	}

	result := o.buildResult(st, time.Since(start))
	stream.Terminate(graceCtx, events.NewEvent(events.StageDone, events.StatusComplete, events.DonePayload{
		RequestID: task.RequestID,
	}))
	metrics.RunsTotal.WithLabelValues("complete").Inc()
	log.Info("Run complete",
		"complexity", st.Complexity,
		"warnings", len(st.Warnings),
		"duration", time.Since(start))
	return result, nil
}

// Cancel stops an in-flight run. Idempotent; unknown IDs are a no-op and
// reported as false.
func (o *Orchestrator) Cancel(requestID string) bool {
	o.mu.Lock()
	cancel, ok := o.active[requestID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ActiveRuns returns the number of in-flight runs.
func (o *Orchestrator) ActiveRuns() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

func (o *Orchestrator) register(requestID string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.active[requestID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) unregister(requestID string) {
	o.mu.Lock()
	delete(o.active, requestID)
	o.mu.Unlock()
}

// drive walks the state machine from classify to done.
func (o *Orchestrator) drive(ctx context.Context, st *RunState, stream *events.Stream) error {
	// Effective flags: the task's request gated by deployment config.
	st.Task.Flags = o.flagsFor(st.Task)

	// An unregistered intent never enters the stage loop: the terminal
	// done event is the entire stream.
	intent, err := o.cfg.GetIntent(st.Task.Intent)
	if err != nil {
		return classifyError("", err)
	}
	st.Intent = intent

	stage := events.StageClassify
	for stage != events.StageDone {
		if err := ctx.Err(); err != nil {
			return classifyError(stage, err)
		}
		if err := o.runStage(ctx, stage, st, stream); err != nil {
			return err
		}
		stage = nextStage(stage, st.Complexity, st.Task.Flags, false)
	}
	return nil
}

// flagsFor resolves the effective feature flags: the task's flags gated by
// the deployment-level configuration.
func (o *Orchestrator) flagsFor(task Task) config.FeatureFlags {
	flags := task.Flags
	cfg := o.cfg.FeatureFlags
	flags.EnableParallelScenarios = flags.EnableParallelScenarios && cfg.EnableParallelScenarios
	flags.EnableVerification = flags.EnableVerification && cfg.EnableVerification
	flags.EnableRAG = flags.EnableRAG && cfg.EnableRAG
	return flags
}

// stageBudget returns the time budget a stage runs under. Fan-out stages
// enforce their own inner budgets and run unbounded at this level; the
// run context still caps everything.
func (o *Orchestrator) stageBudget(stage events.Stage) time.Duration {
	switch stage {
	case events.StageParallelExec, events.StageAgents, events.StageSynthesize:
		return 0
	default:
		return o.cfg.Timeouts.Stage()
	}
}

func (o *Orchestrator) runStage(ctx context.Context, stage events.Stage, st *RunState, stream *events.Stream) error {
	stream.Emit(ctx, events.NewEvent(stage, events.StatusRunning, nil))
	start := time.Now()

	stageCtx := ctx
	if budget := o.stageBudget(stage); budget > 0 {
		var cancelStage context.CancelFunc
		stageCtx, cancelStage = context.WithTimeout(ctx, budget)
		defer cancelStage()
	}

	payload, err := o.dispatch(stageCtx, stage, st, stream)
	latency := time.Since(start)

	if err != nil {
		re := classifyError(stage, err)
		metrics.StageLatency.WithLabelValues(string(stage), "error").Observe(latency.Seconds())
		ev := events.NewEvent(stage, events.StatusError, events.StageErrorPayload{
			Code:    string(re.Code),
			Reason:  reasonFor(re.Code),
			Message: re.Err.Error(),
		})
		ev.LatencyMS = latency.Milliseconds()
		stream.Emit(ctx, ev)
		return re
	}

	metrics.StageLatency.WithLabelValues(string(stage), "complete").Observe(latency.Seconds())
	ev := events.NewEvent(stage, events.StatusComplete, payload)
	ev.LatencyMS = latency.Milliseconds()
	stream.Emit(ctx, ev)
	return nil
}

func reasonFor(code Code) string {
	switch code {
	case CodeStageTimeout:
		return events.ReasonTimeout
	case CodeCancelled:
		return events.ReasonCancelled
	default:
		return ""
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, stage events.Stage, st *RunState, stream *events.Stream) (any, error) {
	switch stage {
	case events.StageClassify:
		return o.stageClassify(ctx, st)
	case events.StagePrefetch:
		return o.stagePrefetch(ctx, st)
	case events.StageRAG:
		return o.stageRAG(ctx, st)
	case events.StageScenarioGen:
		return o.stageScenarioGen(ctx, st)
	case events.StageParallelExec:
		return o.stageParallelExec(ctx, st, stream)
	case events.StageMetaSynthesis:
		return o.stageMetaSynthesis(ctx, st)
	case events.StageAgentSelection:
		return o.stageAgentSelection(ctx, st)
	case events.StageAgents:
		return o.stageAgents(ctx, st)
	case events.StageVerify:
		return o.stageVerify(ctx, st)
	case events.StageSynthesize:
		return o.stageSynthesize(ctx, st, stream)
	default:
		return nil, fmt.Errorf("unreachable stage %s", stage)
	}
}

func (o *Orchestrator) buildResult(st *RunState, elapsed time.Duration) *BriefingResult {
	result := &BriefingResult{
		RequestID:    st.Task.RequestID,
		Intent:       st.Task.Intent,
		Complexity:   st.Complexity,
		Briefing:     st.Briefing,
		AgentReports: st.AgentReports,
		Verification: st.Verification,
		Warnings:     st.Warnings,
		GeneratedAt:  time.Now().UTC(),
		ElapsedMS:    elapsed.Milliseconds(),
	}
	for _, qr := range st.Prefetched {
		result.QueryIDs = append(result.QueryIDs, qr.QueryID)
	}
	for _, r := range st.AgentReports {
		result.KeyFindings = append(result.KeyFindings, r.KeyFindings...)
	}
	for _, out := range st.Outcomes {
		if !out.OK() {
			continue
		}
		if report, ok := out.Value.(*ScenarioReport); ok {
			result.Scenarios = append(result.Scenarios, *report)
			result.KeyFindings = append(result.KeyFindings, report.Findings...)
		}
	}
	return result
}
