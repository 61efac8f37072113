package pipeline

import (
	"strings"

	"github.com/qnwis/qnwis/pkg/config"
)

// classifyComplexity routes the run deterministically. Precedence:
// an intent-level override wins, then the requested depth, then the intent
// family. Pattern-lookup intents are direct catalog reads and stay simple;
// everything else defaults to the medium agent path.
func classifyComplexity(task Task, intent *config.IntentConfig) config.Complexity {
	if intent.Complexity != "" {
		return intent.Complexity
	}
	switch task.Depth {
	case config.DepthLegendary:
		return config.ComplexityCritical
	case config.DepthDeep:
		return config.ComplexityComplex
	}
	if strings.HasPrefix(task.Intent, "pattern.") || strings.HasPrefix(task.Intent, "lookup.") {
		return config.ComplexitySimple
	}
	return config.ComplexityMedium
}
