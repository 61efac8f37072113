package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/qnwis/qnwis/pkg/config"
	"github.com/qnwis/qnwis/pkg/events"
)

func allFlags() config.FeatureFlags {
	return config.FeatureFlags{
		EnableParallelScenarios: true,
		EnableVerification:      true,
		EnableRAG:               true,
	}
}

// walk drives the transition function from classify to done.
func walk(complexity config.Complexity, flags config.FeatureFlags) []events.Stage {
	stages := []events.Stage{events.StageClassify}
	stage := events.StageClassify
	for stage != events.StageDone {
		stage = nextStage(stage, complexity, flags, false)
		stages = append(stages, stage)
	}
	return stages
}

func TestTransitionRoutes(t *testing.T) {
	tests := []struct {
		name       string
		complexity config.Complexity
		flags      config.FeatureFlags
		want       []events.Stage
	}{
		{
			name:       "simple skips everything between prefetch and synthesize",
			complexity: config.ComplexitySimple,
			flags:      allFlags(),
			want: []events.Stage{
				events.StageClassify, events.StagePrefetch,
				events.StageSynthesize, events.StageDone,
			},
		},
		{
			name:       "medium runs the agent path",
			complexity: config.ComplexityMedium,
			flags:      allFlags(),
			want: []events.Stage{
				events.StageClassify, events.StagePrefetch, events.StageRAG,
				events.StageAgentSelection, events.StageAgents,
				events.StageVerify, events.StageSynthesize, events.StageDone,
			},
		},
		{
			name:       "complex runs the scenario path",
			complexity: config.ComplexityComplex,
			flags:      allFlags(),
			want: []events.Stage{
				events.StageClassify, events.StagePrefetch, events.StageRAG,
				events.StageScenarioGen, events.StageParallelExec,
				events.StageMetaSynthesis, events.StageVerify,
				events.StageSynthesize, events.StageDone,
			},
		},
		{
			name:       "critical matches complex at the transition level",
			complexity: config.ComplexityCritical,
			flags:      allFlags(),
			want: []events.Stage{
				events.StageClassify, events.StagePrefetch, events.StageRAG,
				events.StageScenarioGen, events.StageParallelExec,
				events.StageMetaSynthesis, events.StageVerify,
				events.StageSynthesize, events.StageDone,
			},
		},
		{
			name:       "rag disabled skips retrieval",
			complexity: config.ComplexityMedium,
			flags:      config.FeatureFlags{EnableVerification: true},
			want: []events.Stage{
				events.StageClassify, events.StagePrefetch,
				events.StageAgentSelection, events.StageAgents,
				events.StageVerify, events.StageSynthesize, events.StageDone,
			},
		},
		{
			name:       "verification disabled short-circuits to synthesize",
			complexity: config.ComplexityMedium,
			flags:      config.FeatureFlags{EnableRAG: true},
			want: []events.Stage{
				events.StageClassify, events.StagePrefetch, events.StageRAG,
				events.StageAgentSelection, events.StageAgents,
				events.StageSynthesize, events.StageDone,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, walk(tt.complexity, tt.flags))
		})
	}
}

func TestTransitionFailureRoutesToDone(t *testing.T) {
	for _, stage := range []events.Stage{
		events.StageClassify, events.StagePrefetch, events.StageRAG,
		events.StageParallelExec, events.StageAgents, events.StageVerify,
		events.StageSynthesize,
	} {
		got := nextStage(stage, config.ComplexityCritical, allFlags(), true)
		assert.Equal(t, events.StageDone, got, "failure at %s must route to done", stage)
	}
}

func TestClassifyComplexity(t *testing.T) {
	tests := []struct {
		name   string
		task   Task
		intent *config.IntentConfig
		want   config.Complexity
	}{
		{
			name:   "intent override wins",
			task:   Task{Intent: "policy.wage", Depth: config.DepthLegendary},
			intent: &config.IntentConfig{Complexity: config.ComplexitySimple},
			want:   config.ComplexitySimple,
		},
		{
			name:   "legendary depth is critical",
			task:   Task{Intent: "policy.wage", Depth: config.DepthLegendary},
			intent: &config.IntentConfig{},
			want:   config.ComplexityCritical,
		},
		{
			name:   "deep depth is complex",
			task:   Task{Intent: "policy.wage", Depth: config.DepthDeep},
			intent: &config.IntentConfig{},
			want:   config.ComplexityComplex,
		},
		{
			name:   "pattern intents are simple",
			task:   Task{Intent: "pattern.sector_headcount", Depth: config.DepthStandard},
			intent: &config.IntentConfig{},
			want:   config.ComplexitySimple,
		},
		{
			name:   "default is medium",
			task:   Task{Intent: "policy.wage", Depth: config.DepthStandard},
			intent: &config.IntentConfig{},
			want:   config.ComplexityMedium,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyComplexity(tt.task, tt.intent))
		})
	}
}
