package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/qnwis/qnwis/pkg/catalog"
	"github.com/qnwis/qnwis/pkg/config"
	"github.com/qnwis/qnwis/pkg/dataaccess"
	"github.com/qnwis/qnwis/pkg/llm"
	"github.com/qnwis/qnwis/pkg/verify"
)

// Harness runs one specialist agent end to end.
type Harness struct {
	data     dataaccess.Client
	registry *catalog.Registry
	provider llm.Provider
	verifier *verify.Verifier
	timeout  time.Duration
}

// NewHarness creates an agent harness.
func NewHarness(data dataaccess.Client, registry *catalog.Registry, provider llm.Provider, verifier *verify.Verifier, timeout time.Duration) *Harness {
	return &Harness{
		data:     data,
		registry: registry,
		provider: provider,
		verifier: verifier,
		timeout:  timeout,
	}
}

// Execute runs one agent: prefetch its selectable queries, invoke the
// provider under the per-agent budget, parse, and verify. On verifier
// errors the provider is re-invoked once with the offending claims
// enumerated; a second failure surfaces the report with warnings instead
// of failing the run.
func (h *Harness) Execute(ctx context.Context, spec *config.AgentSpec, runID, question string, runParams map[string]any) (*Report, error) {
	results, err := h.prefetch(ctx, spec, runID, runParams)
	if err != nil {
		return &Report{
			AgentName:  spec.Name,
			Role:       spec.Role,
			Failed:     true,
			FailReason: fmt.Sprintf("prefetch failed: %v", err),
		}, err
	}

	report, err := h.invokeAndVerify(ctx, spec, question, results, nil)
	if err != nil {
		return report, err
	}

	if report.Verification != nil && !report.Verification.OK {
		slog.Info("Agent narrative failed verification, retrying with offending claims",
			"agent", spec.Name,
			"issues", len(report.Verification.Issues))
		retried, retryErr := h.invokeAndVerify(ctx, spec, question, results, report.Verification.Errors())
		if retryErr == nil {
			report = retried
		}
	}

	if report.Verification != nil && !report.Verification.OK {
		for _, issue := range report.Verification.Errors() {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("%s: %s", issue.Code, issue.Message))
		}
	}

	for _, qr := range results {
		report.QueryIDs = append(report.QueryIDs, qr.QueryID)
	}
	return report, nil
}

// prefetch resolves the agent's selectable queries through the
// deterministic layer, passing each query only the run parameters it
// declares.
func (h *Harness) prefetch(ctx context.Context, spec *config.AgentSpec, runID string, runParams map[string]any) ([]*dataaccess.QueryResult, error) {
	results := make([]*dataaccess.QueryResult, 0, len(spec.SelectableQueryIDs))
	for _, queryID := range spec.SelectableQueryIDs {
		def, err := h.registry.Get(queryID)
		if err != nil {
			return nil, err
		}
		params := make(map[string]any)
		for name, val := range runParams {
			if _, ok := def.Param(name); ok {
				params[name] = val
			}
		}
		qr, err := h.data.Execute(ctx, runID, queryID, params)
		if err != nil {
			return nil, err
		}
		results = append(results, qr)
	}
	return results, nil
}

func (h *Harness) invokeAndVerify(ctx context.Context, spec *config.AgentSpec, question string, results []*dataaccess.QueryResult, offending []verify.Issue) (*Report, error) {
	prompt, err := h.buildPrompt(spec, question, results, offending)
	if err != nil {
		return failedReport(spec, err), err
	}

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	text, err := h.provider.Complete(callCtx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt(spec)},
			{Role: llm.RoleUser, Content: prompt},
		},
		MaxTokens: spec.MaxTokens,
	})
	if err != nil {
		// A timed-out agent yields a failed report with no narrative.
		return failedReport(spec, err), fmt.Errorf("agent %s: %w", spec.Name, err)
	}

	report := parseResponse(spec.Name, spec.Role, text)
	report.Verification = h.verifier.Verify(report.Narrative, results)
	return report, nil
}

func failedReport(spec *config.AgentSpec, err error) *Report {
	return &Report{
		AgentName:  spec.Name,
		Role:       spec.Role,
		Failed:     true,
		FailReason: err.Error(),
	}
}

func systemPrompt(spec *config.AgentSpec) string {
	return fmt.Sprintf(
		"You are %s, a specialist analyst. Cite a source family before every number, "+
			"as in \"Per LMIS: ...\". Use only numbers present in the provided data.",
		spec.Role)
}

// buildPrompt renders the agent's prompt template with the question and the
// prefetched data serialized as JSON. When a retry enumerates offending
// claims, they are appended as explicit corrections.
func (h *Harness) buildPrompt(spec *config.AgentSpec, question string, results []*dataaccess.QueryResult, offending []verify.Issue) (string, error) {
	tmpl, err := template.New(spec.Name).Parse(spec.PromptTemplate)
	if err != nil {
		return "", fmt.Errorf("invalid prompt template for agent %s: %w", spec.Name, err)
	}

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize prefetched data: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any{
		"Question": question,
		"Data":     string(data),
	}); err != nil {
		return "", fmt.Errorf("failed to render prompt for agent %s: %w", spec.Name, err)
	}

	if len(offending) > 0 {
		var sb strings.Builder
		sb.WriteString(buf.String())
		sb.WriteString("\n\nYour previous answer contained unverifiable claims. Correct them:\n")
		for _, issue := range offending {
			fmt.Fprintf(&sb, "- %s\n", issue.Message)
		}
		return sb.String(), nil
	}
	return buf.String(), nil
}
