package config

// Default budgets and sizes. Each is overridable from qnwis.yaml.
const (
	DefaultStageMS    = 30_000
	DefaultQueryMS    = 5_000
	DefaultAgentMS    = 30_000
	DefaultScenarioMS = 1_800_000 // 30 minutes, sized for legendary depth
	DefaultAcquireMS  = 30_000

	DefaultScenarioParallelism = 6
	DefaultAffinityPoolSize    = 6
	DefaultScenarioCount       = 6

	DefaultCacheNamespace  = "qnwis"
	DefaultCacheTTLSeconds = 86_400

	DefaultMaxAgentConcurrency = 8
)

// DefaultTimeouts returns the built-in time budgets.
func DefaultTimeouts() *Timeouts {
	return &Timeouts{
		StageMS:    DefaultStageMS,
		QueryMS:    DefaultQueryMS,
		AgentMS:    DefaultAgentMS,
		ScenarioMS: DefaultScenarioMS,
		AcquireMS:  DefaultAcquireMS,
	}
}

// DefaultScenarios returns the built-in scenario executor settings.
func DefaultScenarios() *Scenarios {
	return &Scenarios{
		Parallelism:      DefaultScenarioParallelism,
		AffinityPoolSize: DefaultAffinityPoolSize,
		DefaultCount:     DefaultScenarioCount,
	}
}

// DefaultCache returns the built-in cache settings.
func DefaultCache() *Cache {
	return &Cache{
		Namespace:         DefaultCacheNamespace,
		DefaultTTLSeconds: DefaultCacheTTLSeconds,
		RedisAddr:         "localhost:6379",
	}
}

// DefaultVerification returns the built-in verifier tolerances.
func DefaultVerification() *Verification {
	return &Verification{
		AbsEpsilon:           0.5,
		RelEpsilon:           0.01,
		EpsilonPct:           0.5,
		SumTo100:             true,
		RequireCitationFirst: true,
		Strict:               false,
		IgnoreNumbersBelow:   1.0,
		IgnoreYears:          true,
		PreferQueryID:        true,
	}
}

// DefaultFeatureFlags returns the built-in feature flag values.
func DefaultFeatureFlags() FeatureFlags {
	return FeatureFlags{
		EnableParallelScenarios: true,
		EnableVerification:      true,
		EnableRAG:               true,
	}
}

// DefaultLLM returns the built-in provider settings.
func DefaultLLM() *LLM {
	return &LLM{
		Provider:    "openai",
		Model:       "gpt-4o",
		APIKeyEnv:   "OPENAI_API_KEY",
		MaxTokens:   4096,
		Temperature: 0.2,
	}
}
