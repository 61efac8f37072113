package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/qnwis/qnwis/pkg/agent"
	"github.com/qnwis/qnwis/pkg/catalog"
	"github.com/qnwis/qnwis/pkg/config"
	"github.com/qnwis/qnwis/pkg/dataaccess"
	"github.com/qnwis/qnwis/pkg/events"
	"github.com/qnwis/qnwis/pkg/llm"
	"github.com/qnwis/qnwis/pkg/scenario"
	"github.com/qnwis/qnwis/pkg/verify"
)

// ragDocumentLimit bounds how many context snippets the rag stage attaches.
const ragDocumentLimit = 5

// stageClassify validates the task parameters against the resolved
// intent's schema and fixes the run's complexity.
func (o *Orchestrator) stageClassify(_ context.Context, st *RunState) (any, error) {
	intent := st.Intent

	specs := make([]catalog.ParamSpec, len(intent.Params))
	for i, r := range intent.Params {
		specs[i] = catalog.ParamSpec{
			Name: r.Name, Type: r.Type, Required: r.Required,
			Default: r.Default, Min: r.Min, Max: r.Max, Enum: r.Enum,
		}
	}
	bound, err := catalog.BindSpecs(st.Task.Intent, specs, st.Task.Params)
	if err != nil {
		return nil, err
	}
	st.Params = bound

	st.Complexity = classifyComplexity(st.Task, intent)
	return events.ClassifyPayload{
		Complexity: string(st.Complexity),
		Intent:     st.Task.Intent,
	}, nil
}

// stagePrefetch resolves the intent's registered queries through the
// deterministic layer, each receiving only the parameters it declares.
func (o *Orchestrator) stagePrefetch(ctx context.Context, st *RunState) (any, error) {
	queryIDs := st.Intent.QueryIDs
	st.Prefetched = make([]*dataaccess.QueryResult, len(queryIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, queryID := range queryIDs {
		i, queryID := i, queryID
		g.Go(func() error {
			def, err := o.registry.Get(queryID)
			if err != nil {
				return err
			}
			params := make(map[string]any)
			for name, val := range st.Params {
				if _, ok := def.Param(name); ok {
					params[name] = val
				}
			}
			qr, err := o.data.Execute(gctx, st.Task.RequestID, queryID, params)
			if err != nil {
				return err
			}
			st.Prefetched[i] = qr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	payload := events.PrefetchPayload{
		QueryIDs:  queryIDs,
		RowCounts: make(map[string]int, len(queryIDs)),
	}
	for _, qr := range st.Prefetched {
		payload.RowCounts[qr.QueryID] = qr.RowCount
		if qr.CacheHit {
			payload.CacheHits++
		}
	}
	return payload, nil
}

// stageRAG retrieves supporting documents for the question.
func (o *Orchestrator) stageRAG(ctx context.Context, st *RunState) (any, error) {
	docs, err := o.retriever.Retrieve(ctx, st.Task.Question, ragDocumentLimit)
	if err != nil {
		// Retrieval is supporting context, not ground truth; the run
		// continues without it.
		slog.Warn("Document retrieval failed, continuing without context",
			"request_id", st.Task.RequestID, "error", err)
		st.Warnings = append(st.Warnings, "rag_unavailable")
		return events.RAGPayload{}, nil
	}
	st.Documents = docs

	payload := events.RAGPayload{SnippetCount: len(docs)}
	for _, d := range docs {
		payload.Sources = append(payload.Sources, d.ID)
	}
	return payload, nil
}

// stageScenarioGen materializes the intent's scenario templates into the
// run's scenario set: one for complex runs, the full set (bounded by the
// configured default count) for critical runs.
func (o *Orchestrator) stageScenarioGen(_ context.Context, st *RunState) (any, error) {
	templates := st.Intent.Scenarios
	if len(templates) == 0 {
		templates = []config.ScenarioTemplate{{
			Name:        "baseline",
			Description: "Baseline projection under current policy settings.",
		}}
	}

	count := len(templates)
	if st.Complexity == config.ComplexityComplex {
		count = 1
	} else if count > o.cfg.Scenarios.DefaultCount {
		count = o.cfg.Scenarios.DefaultCount
	}

	st.Scenarios = make([]scenario.Scenario, count)
	for i, tmpl := range templates[:count] {
		st.Scenarios[i] = scenario.Scenario{
			ID:          fmt.Sprintf("%s-sc-%02d", st.Task.RequestID, i+1),
			Name:        tmpl.Name,
			Description: tmpl.Description,
			Assumptions: tmpl.Assumptions,
		}
	}

	payload := events.ScenarioGenPayload{}
	for _, sc := range st.Scenarios {
		payload.ScenarioIDs = append(payload.ScenarioIDs, sc.ID)
	}
	return payload, nil
}

// stageParallelExec fans the scenario set out over the bounded executor.
// Complex runs and runs without the parallel-scenarios flag execute
// serially on a single worker.
func (o *Orchestrator) stageParallelExec(ctx context.Context, st *RunState, stream *events.Stream) (any, error) {
	parallelism := o.cfg.Scenarios.Parallelism
	if st.Complexity == config.ComplexityComplex || !st.Task.Flags.EnableParallelScenarios {
		parallelism = 1
	}

	ex, err := scenario.NewExecutor(parallelism, o.cfg.Scenarios.AffinityPoolSize, o.cfg.Timeouts.Scenario(),
		func(scenarioID, phase string, percent int) {
			stream.Emit(ctx, events.NewEvent(events.StageParallelExec, events.StatusStreaming,
				events.ScenarioProgressPayload{ScenarioID: scenarioID, Phase: phase, Percent: percent}))
		})
	if err != nil {
		return nil, err
	}

	outcomes, err := ex.Execute(ctx, st.Scenarios, func(ctx context.Context, sc scenario.Scenario, slot int, progress func(string, int)) (any, error) {
		return o.runScenario(ctx, st, sc, slot, progress)
	})
	st.Outcomes = outcomes
	if err != nil {
		return nil, err
	}

	payload := events.ParallelExecPayload{}
	for _, out := range outcomes {
		if out.OK() {
			payload.Succeeded++
		} else {
			payload.Failed++
			payload.Warnings = append(payload.Warnings, out.Failure.Error())
			st.Warnings = append(st.Warnings, out.Failure.Error())
		}
	}
	return payload, nil
}

// runScenario is the per-scenario sub-pipeline: select agents, run them in
// parallel against the prefetched facts with the scenario's assumption
// overrides, debate the divergences, then critique the synthesis.
func (o *Orchestrator) runScenario(ctx context.Context, st *RunState, sc scenario.Scenario, _ int, progress func(string, int)) (*ScenarioReport, error) {
	specs, err := o.selectAgents(st.Intent)
	if err != nil {
		return nil, err
	}

	progress(events.PhaseAgents, 10)
	params := overlayAssumptions(st.Params, sc.Assumptions)
	reports, failures, err := o.runAgents(ctx, specs, st.Task.RequestID, scenarioQuestion(st.Task.Question, sc), params)
	if err != nil {
		return nil, err
	}
	progress(events.PhaseAgents, 40)

	debate, err := o.runDebate(ctx, st.Task.Question, reports)
	if err != nil {
		return nil, err
	}
	progress(events.PhaseDebate, 70)

	synthesis, notes, err := o.runCritique(ctx, sc, debate)
	if err != nil {
		return nil, err
	}
	progress(events.PhaseCritique, 100)

	report := &ScenarioReport{
		ScenarioID:    sc.ID,
		SuccessRate:   float64(len(reports)) / float64(len(reports)+failures),
		Confidence:    confidenceFrom(reports),
		SynthesisText: synthesis,
		AgentReports:  reports,
	}
	for _, ar := range reports {
		report.Findings = append(report.Findings, ar.KeyFindings...)
	}
	report.SensitivityDrivers = notes
	return report, nil
}

// stageMetaSynthesis folds the successful scenario reports into one
// comparative synthesis.
func (o *Orchestrator) stageMetaSynthesis(ctx context.Context, st *RunState) (any, error) {
	var sb strings.Builder
	succeeded := 0
	for _, out := range st.Outcomes {
		if !out.OK() {
			continue
		}
		report, ok := out.Value.(*ScenarioReport)
		if !ok {
			continue
		}
		succeeded++
		fmt.Fprintf(&sb, "Scenario %s (%s):\n%s\n\n", out.Scenario.Name, report.ScenarioID, report.SynthesisText)
	}
	if succeeded == 0 {
		return nil, fmt.Errorf("no scenario produced a synthesis")
	}

	text, err := o.provider.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You compare policy scenarios for a ministerial briefing. " +
				"Cite a source family before every number. Use only numbers present in the scenario syntheses."},
			{Role: llm.RoleUser, Content: fmt.Sprintf(
				"Question: %s\n\nCompare the following scenario analyses and surface the decision-relevant differences:\n\n%s",
				st.Task.Question, sb.String())},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("meta synthesis failed: %w", err)
	}
	st.MetaSynthesis = text
	return nil, nil
}

// stageAgentSelection picks the specialist agents for a medium run from
// the intent's configured agent list.
func (o *Orchestrator) stageAgentSelection(_ context.Context, st *RunState) (any, error) {
	specs, err := o.selectAgents(st.Intent)
	if err != nil {
		return nil, err
	}
	st.SelectedAgents = specs

	payload := events.AgentSelectionPayload{}
	for _, spec := range specs {
		payload.Agents = append(payload.Agents, spec.Name)
	}
	return payload, nil
}

// stageAgents fans out the selected agents against the shared prefetched
// facts. One failing agent degrades the run; all failing fails the stage.
func (o *Orchestrator) stageAgents(ctx context.Context, st *RunState) (any, error) {
	reports, failures, err := o.runAgents(ctx, st.SelectedAgents, st.Task.RequestID, st.Task.Question, st.Params)
	if err != nil {
		return nil, err
	}
	st.AgentReports = reports

	payload := events.AgentsPayload{Succeeded: len(reports), Failed: failures}
	for _, r := range reports {
		for _, w := range r.Warnings {
			payload.Warnings = append(payload.Warnings, fmt.Sprintf("%s: %s", r.AgentName, w))
		}
	}
	if failures > 0 {
		msg := fmt.Sprintf("%d of %d agents failed", failures, failures+len(reports))
		payload.Warnings = append(payload.Warnings, msg)
		st.Warnings = append(st.Warnings, msg)
	}
	return payload, nil
}

// stageVerify re-checks the material the synthesizer will draw on: agent
// narratives on the medium path, scenario syntheses plus the meta
// synthesis on the scenario paths. Failure is a warning unless strict
// verification is on.
func (o *Orchestrator) stageVerify(_ context.Context, st *RunState) (any, error) {
	var texts []string
	for _, r := range st.AgentReports {
		texts = append(texts, r.Narrative)
	}
	for _, out := range st.Outcomes {
		if out.OK() {
			if report, ok := out.Value.(*ScenarioReport); ok {
				texts = append(texts, report.SynthesisText)
			}
		}
	}
	if st.MetaSynthesis != "" {
		texts = append(texts, st.MetaSynthesis)
	}

	combined := &verify.Report{OK: true}
	for _, text := range texts {
		r := o.verifier.Verify(text, st.Prefetched)
		combined.ClaimsTotal += r.ClaimsTotal
		combined.ClaimsMatched += r.ClaimsMatched
		combined.MathChecks.GroupsChecked += r.MathChecks.GroupsChecked
		combined.MathChecks.GroupsFailed += r.MathChecks.GroupsFailed
		combined.Issues = append(combined.Issues, r.Issues...)
		combined.OK = combined.OK && r.OK
	}
	st.Verification = combined

	if !combined.OK {
		if o.cfg.Verification.Strict {
			return nil, fmt.Errorf("%w: %d issues", ErrVerificationFailed, len(combined.Issues))
		}
		st.Warnings = append(st.Warnings, "verification_failed")
	}

	return events.VerifyPayload{
		OK:            combined.OK,
		ClaimsTotal:   combined.ClaimsTotal,
		ClaimsMatched: combined.ClaimsMatched,
		Issues:        len(combined.Issues),
	}, nil
}

// stageSynthesize streams the final briefing. Simple runs, which skip the
// verify stage, verify the finished briefing inline so every terminal
// result carries a verification report.
func (o *Orchestrator) stageSynthesize(ctx context.Context, st *RunState, stream *events.Stream) (any, error) {
	prompt := o.synthesisPrompt(st)

	chunks, errs := o.provider.CompleteStream(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You write concise ministerial briefings. " +
				"Cite a source family before every number, as in \"Per LMIS: ...\". " +
				"Use only numbers present in the supplied material."},
			{Role: llm.RoleUser, Content: prompt},
		},
	})

	var sb strings.Builder
	for chunk := range chunks {
		if chunk.IsFinal {
			break
		}
		if chunk.Content == "" {
			continue
		}
		sb.WriteString(chunk.Content)
		stream.Emit(ctx, events.NewEvent(events.StageSynthesize, events.StatusStreaming,
			events.ChunkPayload{Delta: chunk.Content}))
	}
	if err := <-errs; err != nil {
		return nil, fmt.Errorf("synthesis stream failed: %w", err)
	}
	st.Briefing = sb.String()

	if st.Complexity == config.ComplexitySimple && st.Task.Flags.EnableVerification {
		st.Verification = o.verifier.Verify(st.Briefing, st.Prefetched)
		if !st.Verification.OK {
			if o.cfg.Verification.Strict {
				return nil, fmt.Errorf("%w: %d issues", ErrVerificationFailed, len(st.Verification.Issues))
			}
			st.Warnings = append(st.Warnings, "verification_failed")
		}
	}
	return nil, nil
}

// ── Shared helpers ──────────────────────────────────────────────────────────

// selectAgents resolves the intent's agent names to specs, sorted by name
// so selection is deterministic.
func (o *Orchestrator) selectAgents(intent *config.IntentConfig) ([]*config.AgentSpec, error) {
	if len(intent.Agents) == 0 {
		return nil, fmt.Errorf("intent declares no agents")
	}
	names := append([]string(nil), intent.Agents...)
	sort.Strings(names)

	specs := make([]*config.AgentSpec, 0, len(names))
	for _, name := range names {
		spec, err := o.cfg.GetAgent(name)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// runAgents executes the specs in parallel, bounded by the per-run agent
// concurrency cap. Reports come back in spec order; failed agents are
// dropped and counted. Only an all-fail batch is an error.
func (o *Orchestrator) runAgents(ctx context.Context, specs []*config.AgentSpec, runID, question string, params map[string]any) ([]*agent.Report, int, error) {
	limit := len(specs)
	if limit > config.DefaultMaxAgentConcurrency {
		limit = config.DefaultMaxAgentConcurrency
	}

	slots := make([]*agent.Report, len(specs))
	var mu sync.Mutex
	failures := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			report, err := o.harness.Execute(gctx, spec, runID, question, params)
			mu.Lock()
			defer mu.Unlock()
			if err != nil || report.Failed {
				failures++
				slog.Warn("Agent failed", "agent", spec.Name, "error", err)
				if gctx.Err() != nil {
					return gctx.Err()
				}
				return nil
			}
			slots[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, failures, err
	}

	reports := make([]*agent.Report, 0, len(specs))
	for _, r := range slots {
		if r != nil {
			reports = append(reports, r)
		}
	}
	if len(reports) == 0 {
		return nil, failures, fmt.Errorf("%w: all %d agents failed", errAllAgentsFailed, len(specs))
	}
	return reports, failures, nil
}

// runDebate confronts the agents' positions in one structured exchange.
func (o *Orchestrator) runDebate(ctx context.Context, question string, reports []*agent.Report) (string, error) {
	var sb strings.Builder
	for _, r := range reports {
		fmt.Fprintf(&sb, "%s (%s):\n%s\n\n", r.AgentName, r.Role, r.Narrative)
	}

	text, err := o.provider.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You moderate a debate between specialist analysts. " +
				"Identify where they disagree and which position the cited data supports. " +
				"Cite a source family before every number."},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Question: %s\n\nPositions:\n\n%s", question, sb.String())},
		},
	})
	if err != nil {
		return "", fmt.Errorf("debate failed: %w", err)
	}
	return text, nil
}

// runCritique reviews the debate outcome and produces the scenario's
// synthesis plus its sensitivity notes.
func (o *Orchestrator) runCritique(ctx context.Context, sc scenario.Scenario, debate string) (string, []string, error) {
	text, err := o.provider.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You are a critical reviewer. Produce a tightened synthesis " +
				"of the debate under the stated scenario assumptions, then list the assumptions the " +
				"conclusion is most sensitive to, one per line prefixed with 'SENSITIVITY:'. " +
				"Cite a source family before every number."},
			{Role: llm.RoleUser, Content: fmt.Sprintf(
				"Scenario: %s (%s)\nAssumptions: %v\n\nDebate outcome:\n%s",
				sc.Name, sc.Description, sc.Assumptions, debate)},
		},
	})
	if err != nil {
		return "", nil, fmt.Errorf("critique failed: %w", err)
	}

	var synthesis []string
	var drivers []string
	for _, line := range strings.Split(text, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "SENSITIVITY:"); ok {
			drivers = append(drivers, strings.TrimSpace(rest))
		} else {
			synthesis = append(synthesis, line)
		}
	}
	return strings.TrimSpace(strings.Join(synthesis, "\n")), drivers, nil
}

// synthesisPrompt assembles the material the synthesizer may draw on.
func (o *Orchestrator) synthesisPrompt(st *RunState) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\n", st.Task.Question)

	sb.WriteString("Verified facts:\n")
	for _, qr := range st.Prefetched {
		fmt.Fprintf(&sb, "- %s (%s): %d rows", qr.QueryID, qr.Provenance.Dataset, qr.RowCount)
		if len(qr.Rows) > 0 {
			fmt.Fprintf(&sb, ", sample %v", qr.Rows[0])
		}
		sb.WriteString("\n")
	}

	if st.MetaSynthesis != "" {
		fmt.Fprintf(&sb, "\nScenario comparison:\n%s\n", st.MetaSynthesis)
	}
	for _, r := range st.AgentReports {
		fmt.Fprintf(&sb, "\n%s (%s):\n%s\n", r.AgentName, r.Role, r.Narrative)
	}
	for _, d := range st.Documents {
		fmt.Fprintf(&sb, "\nContext [%s]: %s\n", d.ID, d.Content)
	}
	if len(st.Warnings) > 0 {
		fmt.Fprintf(&sb, "\nCaveats to reflect in the briefing: %s\n", strings.Join(st.Warnings, ", "))
	}
	return sb.String()
}

// overlayAssumptions merges scenario assumption overrides over the run
// parameters without mutating either map.
func overlayAssumptions(params, assumptions map[string]any) map[string]any {
	if len(assumptions) == 0 {
		return params
	}
	out := make(map[string]any, len(params)+len(assumptions))
	for k, v := range params {
		out[k] = v
	}
	for k, v := range assumptions {
		out[k] = v
	}
	return out
}

func scenarioQuestion(question string, sc scenario.Scenario) string {
	return fmt.Sprintf("%s\n\nAnalyze under scenario %q: %s", question, sc.Name, sc.Description)
}

func confidenceFrom(reports []*agent.Report) float64 {
	if len(reports) == 0 {
		return 0
	}
	ok := 0
	for _, r := range reports {
		if r.Verification != nil && r.Verification.OK {
			ok++
		}
	}
	return float64(ok) / float64(len(reports))
}
