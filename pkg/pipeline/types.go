// Package pipeline drives one decision-support run through its staged
// pipeline: classify the question, prefetch deterministic facts, fan out
// agents or scenarios, verify every numeric claim, and synthesize a
// streamed briefing.
package pipeline

import (
	"time"

	"github.com/qnwis/qnwis/pkg/agent"
	"github.com/qnwis/qnwis/pkg/config"
	"github.com/qnwis/qnwis/pkg/dataaccess"
	"github.com/qnwis/qnwis/pkg/rag"
	"github.com/qnwis/qnwis/pkg/scenario"
	"github.com/qnwis/qnwis/pkg/verify"
)

// Task is the immutable input to one run.
type Task struct {
	RequestID string              `json:"request_id"`
	UserID    string              `json:"user_id,omitempty"`
	Question  string              `json:"question_text"`
	Intent    string              `json:"intent"`
	Params    map[string]any      `json:"params,omitempty"`
	Depth     config.Depth        `json:"depth,omitempty"`
	Flags     config.FeatureFlags `json:"feature_flags"`
}

// ScenarioReport is the semantic result of one scenario's sub-pipeline.
type ScenarioReport struct {
	ScenarioID         string          `json:"scenario_id"`
	SuccessRate        float64         `json:"success_rate"`
	Confidence         float64         `json:"confidence"`
	Findings           []string        `json:"findings,omitempty"`
	SynthesisText      string          `json:"synthesis_text"`
	SensitivityDrivers []string        `json:"sensitivity_drivers,omitempty"`
	AgentReports       []*agent.Report `json:"agent_reports,omitempty"`
}

// RunState is the single mutable record threaded through one run. The
// orchestrator owns it exclusively; stage functions read and write their
// declared subsets and nothing else.
type RunState struct {
	Task       Task
	Intent     *config.IntentConfig
	Complexity config.Complexity
	Params     map[string]any // validated against the intent schema

	Prefetched []*dataaccess.QueryResult
	Documents  []rag.Document

	Scenarios []scenario.Scenario
	Outcomes  []scenario.Outcome

	SelectedAgents []*config.AgentSpec
	AgentReports   []*agent.Report

	MetaSynthesis string
	Verification  *verify.Report
	Warnings      []string
	Briefing      string
}

// BriefingResult is the terminal output of a successful run.
type BriefingResult struct {
	RequestID     string            `json:"request_id"`
	Intent        string            `json:"intent"`
	Complexity    config.Complexity `json:"complexity"`
	Briefing      string            `json:"briefing"`
	KeyFindings   []string          `json:"key_findings,omitempty"`
	AgentReports  []*agent.Report   `json:"agent_reports,omitempty"`
	Scenarios     []ScenarioReport  `json:"scenarios,omitempty"`
	Verification  *verify.Report    `json:"verification,omitempty"`
	Warnings      []string          `json:"warnings,omitempty"`
	QueryIDs      []string          `json:"query_ids,omitempty"`
	GeneratedAt   time.Time         `json:"generated_at"`
	ElapsedMS     int64             `json:"elapsed_ms"`
}

// FailureReport is the terminal output of a failed run.
type FailureReport struct {
	RequestID string `json:"request_id"`
	Code      Code   `json:"code"`
	Stage     string `json:"stage,omitempty"`
	Message   string `json:"message"`
}
