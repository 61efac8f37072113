package pipeline

import (
	"github.com/qnwis/qnwis/pkg/config"
	"github.com/qnwis/qnwis/pkg/events"
)

// nextStage is the pure transition function of the run state machine.
// Given the stage that just finished, the routing inputs, and whether that
// stage failed, it returns the next stage. Any failure routes directly to
// done; the orchestrator attaches the error payload.
//
// Routing per complexity:
//
//	simple    classify → prefetch → synthesize → done
//	medium    classify → prefetch → rag → agent_selection → agents →
//	          verify → synthesize → done
//	complex   classify → prefetch → rag → scenario_gen → parallel_exec
//	          (one scenario, serial) → meta_synthesis → verify →
//	          synthesize → done
//	critical  same as complex with the generated scenario set fanned out
//
// The rag stage is skipped without EnableRAG; verify is skipped without
// EnableVerification (the synthesizer then carries a warning instead).
func nextStage(done events.Stage, complexity config.Complexity, flags config.FeatureFlags, failed bool) events.Stage {
	if failed {
		return events.StageDone
	}

	switch done {
	case events.StageClassify:
		return events.StagePrefetch

	case events.StagePrefetch:
		if complexity == config.ComplexitySimple {
			return events.StageSynthesize
		}
		if !flags.EnableRAG {
			return afterRAG(complexity)
		}
		return events.StageRAG

	case events.StageRAG:
		return afterRAG(complexity)

	case events.StageScenarioGen:
		return events.StageParallelExec

	case events.StageParallelExec:
		return events.StageMetaSynthesis

	case events.StageMetaSynthesis:
		return verifyOr(events.StageSynthesize, flags)

	case events.StageAgentSelection:
		return events.StageAgents

	case events.StageAgents:
		return verifyOr(events.StageSynthesize, flags)

	case events.StageVerify:
		return events.StageSynthesize

	case events.StageSynthesize:
		return events.StageDone

	default:
		return events.StageDone
	}
}

func afterRAG(complexity config.Complexity) events.Stage {
	switch complexity {
	case config.ComplexityComplex, config.ComplexityCritical:
		return events.StageScenarioGen
	default:
		return events.StageAgentSelection
	}
}

func verifyOr(next events.Stage, flags config.FeatureFlags) events.Stage {
	if flags.EnableVerification {
		return events.StageVerify
	}
	return next
}
