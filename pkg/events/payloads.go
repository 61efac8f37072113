package events

import "time"

// ProgressEvent is one event on a run's progress stream.
// Wire shape per the progress stream contract: the stream is strictly ordered
// and the last event always has Stage == StageDone.
type ProgressEvent struct {
	Stage     Stage  `json:"stage"`
	Status    Status `json:"status"`
	Payload   any    `json:"payload,omitempty"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// NewEvent builds a ProgressEvent stamped with the current time.
func NewEvent(stage Stage, status Status, payload any) ProgressEvent {
	return ProgressEvent{
		Stage:     stage,
		Status:    status,
		Payload:   payload,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}
}

// ClassifyPayload reports the complexity decision of the classify stage.
type ClassifyPayload struct {
	Complexity string `json:"complexity"` // simple, medium, complex, critical
	Intent     string `json:"intent"`
}

// PrefetchPayload summarizes the deterministic prefetch stage.
type PrefetchPayload struct {
	QueryIDs  []string       `json:"query_ids"`
	RowCounts map[string]int `json:"row_counts"`
	CacheHits int            `json:"cache_hits"`
}

// RAGPayload summarizes retrieved context snippets.
type RAGPayload struct {
	SnippetCount int      `json:"snippet_count"`
	Sources      []string `json:"sources,omitempty"`
}

// ScenarioGenPayload lists the generated scenarios.
type ScenarioGenPayload struct {
	ScenarioIDs []string `json:"scenario_ids"`
}

// ScenarioProgressPayload is the streaming payload of parallel_exec.
// Workers publish phase markers only, never semantic content.
type ScenarioProgressPayload struct {
	ScenarioID string `json:"scenario_id"`
	Phase      string `json:"phase"`
	Percent    int    `json:"percent"`
}

// ParallelExecPayload is the terminal payload of parallel_exec.
type ParallelExecPayload struct {
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Warnings  []string `json:"warnings,omitempty"`
}

// AgentSelectionPayload lists the specialist agents chosen for the run.
type AgentSelectionPayload struct {
	Agents []string `json:"agents"`
}

// AgentsPayload is the terminal payload of the agents stage.
type AgentsPayload struct {
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Warnings  []string `json:"warnings,omitempty"`
}

// VerifyPayload carries the verification outcome.
type VerifyPayload struct {
	OK            bool `json:"ok"`
	ClaimsTotal   int  `json:"claims_total"`
	ClaimsMatched int  `json:"claims_matched"`
	Issues        int  `json:"issues"`
}

// ChunkPayload is the streaming payload of synthesize and debate.
type ChunkPayload struct {
	Delta string `json:"delta"`
}

// StageErrorPayload is the payload of a stage-level error event.
type StageErrorPayload struct {
	Code    string `json:"code"`
	Reason  string `json:"reason,omitempty"` // timeout, cancelled
	Message string `json:"message,omitempty"`
}

// DonePayload is the payload of the terminal done event.
// On success Code is empty; on failure it carries the error taxonomy code.
// Messages are sanitized: no stack traces, no identifiers of unrelated runs.
type DonePayload struct {
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id"`
}
