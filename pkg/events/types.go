// Package events defines the typed progress events emitted by a pipeline run
// and the per-run ordered stream the transport layer consumes.
package events

// Stage identifies a pipeline stage.
type Stage string

// Pipeline stages, in driver order.
const (
	StageClassify       Stage = "classify"
	StagePrefetch       Stage = "prefetch"
	StageRAG            Stage = "rag"
	StageScenarioGen    Stage = "scenario_gen"
	StageParallelExec   Stage = "parallel_exec"
	StageMetaSynthesis  Stage = "meta_synthesis"
	StageAgentSelection Stage = "agent_selection"
	StageAgents         Stage = "agents"
	StageVerify         Stage = "verify"
	StageSynthesize     Stage = "synthesize"
	StageDone           Stage = "done"
)

// Status is the lifecycle status carried by a progress event.
type Status string

// Event statuses.
const (
	StatusReady     Status = "ready"
	StatusRunning   Status = "running"
	StatusStreaming Status = "streaming"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
)

// Terminal failure reasons carried in done-event payloads.
const (
	ReasonTimeout   = "timeout"
	ReasonCancelled = "cancelled"
)

// Phases of the per-scenario sub-pipeline, carried in
// ScenarioProgressPayload.Phase.
const (
	PhaseAgents   = "agents"
	PhaseDebate   = "debate"
	PhaseCritique = "critique"
)
