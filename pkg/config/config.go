// Package config loads and validates the QNWIS configuration: intents,
// specialist agents, timeouts, cache, verification tolerances, feature flags,
// and the LLM provider settings.
package config

import (
	"fmt"
	"time"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	configDir string

	CatalogDir    string        `yaml:"catalog_dir"`
	SchemaVersion string        `yaml:"schema_version"`
	Intents       IntentMap     `yaml:"intents"`
	Agents        AgentMap      `yaml:"agents"`
	Timeouts      *Timeouts     `yaml:"timeouts"`
	Scenarios     *Scenarios    `yaml:"scenarios"`
	Cache         *Cache        `yaml:"cache"`
	Verification  *Verification `yaml:"verification"`
	FeatureFlags  FeatureFlags  `yaml:"feature_flags"`
	LLM           *LLM          `yaml:"llm"`
	Views         []ViewSpec    `yaml:"materialized_views"`
}

// IntentMap maps intent name to its configuration.
type IntentMap map[string]*IntentConfig

// AgentMap maps agent name to its specification.
type AgentMap map[string]*AgentSpec

// IntentConfig declares one registered intent: its bounded parameter schema,
// the specialist agents eligible for it, and an optional complexity override.
type IntentConfig struct {
	Description string             `yaml:"description"`
	Params      []ParamRule        `yaml:"params"`
	QueryIDs    []string           `yaml:"query_ids"`
	Agents      []string           `yaml:"agents"`
	Complexity  Complexity         `yaml:"complexity,omitempty"` // override; empty = classifier decides
	Scenarios   []ScenarioTemplate `yaml:"scenarios,omitempty"`
}

// ParamRule bounds one parameter of an intent's schema.
type ParamRule struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"` // string, int, float, bool, date
	Required bool     `yaml:"required"`
	Default  any      `yaml:"default,omitempty"`
	Enum     []string `yaml:"enum,omitempty"`
	Min      *float64 `yaml:"min,omitempty"`
	Max      *float64 `yaml:"max,omitempty"`
}

// AgentSpec describes one specialist agent.
type AgentSpec struct {
	Name               string   `yaml:"-"` // filled from the map key at load
	Role               string   `yaml:"role"`
	PromptTemplate     string   `yaml:"prompt_template"`
	SelectableQueryIDs []string `yaml:"selectable_query_ids"`
	MaxTokens          int      `yaml:"max_tokens,omitempty"`
}

// ScenarioTemplate declares one policy-variant scenario an intent can fan out to.
type ScenarioTemplate struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Assumptions map[string]any `yaml:"assumptions"`
}

// Timeouts groups the per-level time budgets.
type Timeouts struct {
	StageMS    int `yaml:"stage_ms"`
	QueryMS    int `yaml:"query_ms"`
	AgentMS    int `yaml:"agent_ms"`
	ScenarioMS int `yaml:"scenario_ms"`
	AcquireMS  int `yaml:"acquire_ms"` // connection pool acquisition bound
}

// Stage returns the per-stage budget as a duration.
func (t *Timeouts) Stage() time.Duration { return time.Duration(t.StageMS) * time.Millisecond }

// Query returns the per-query budget as a duration.
func (t *Timeouts) Query() time.Duration { return time.Duration(t.QueryMS) * time.Millisecond }

// Agent returns the per-agent budget as a duration.
func (t *Timeouts) Agent() time.Duration { return time.Duration(t.AgentMS) * time.Millisecond }

// Scenario returns the per-scenario budget as a duration.
func (t *Timeouts) Scenario() time.Duration { return time.Duration(t.ScenarioMS) * time.Millisecond }

// Scenarios configures the parallel scenario executor.
type Scenarios struct {
	Parallelism      int `yaml:"parallelism"`
	AffinityPoolSize int `yaml:"affinity_pool_size"`
	DefaultCount     int `yaml:"default_count"` // scenarios generated for critical runs
}

// Cache configures the query-result cache middleware.
type Cache struct {
	Namespace         string `yaml:"namespace"`
	DefaultTTLSeconds int    `yaml:"default_ttl_seconds"`
	RedisAddr         string `yaml:"redis_addr"`
	RedisDB           int    `yaml:"redis_db"`
}

// DefaultTTL returns the operation-default TTL as a duration.
func (c *Cache) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// Verification configures claim-verifier tolerances and modes.
type Verification struct {
	AbsEpsilon           float64 `yaml:"abs_epsilon"`
	RelEpsilon           float64 `yaml:"rel_epsilon"`
	EpsilonPct           float64 `yaml:"epsilon_pct"`
	SumTo100             bool    `yaml:"sum_to_100"`
	RequireCitationFirst bool    `yaml:"require_citation_first"`
	Strict               bool    `yaml:"strict"`
	IgnoreNumbersBelow   float64 `yaml:"ignore_numbers_below"`
	IgnoreYears          bool    `yaml:"ignore_years"`
	PreferQueryID        bool    `yaml:"prefer_query_id"`
}

// FeatureFlags gates optional pipeline behavior.
type FeatureFlags struct {
	EnableParallelScenarios bool `yaml:"enable_parallel_scenarios"`
	EnableVerification      bool `yaml:"enable_verification"`
	EnableRAG               bool `yaml:"enable_rag"`
}

// LLM configures the provider adapter.
type LLM struct {
	Provider    string `yaml:"provider"` // "openai" or "null"
	Model       string `yaml:"model"`
	APIKeyEnv   string `yaml:"api_key_env"`
	BaseURL     string `yaml:"base_url,omitempty"`
	MaxTokens   int    `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
}

// ViewSpec declares one scheduled materialized view.
type ViewSpec struct {
	Name            string         `yaml:"name"`
	QueryID         string         `yaml:"query_id"`
	FixedParams     map[string]any `yaml:"fixed_params"`
	IndexDefs       []string       `yaml:"index_defs"`
	RefreshSchedule string         `yaml:"refresh_schedule"` // cron expression
}

// GetIntent returns the intent configuration or ErrIntentNotFound.
func (c *Config) GetIntent(name string) (*IntentConfig, error) {
	ic, ok := c.Intents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIntentNotFound, name)
	}
	return ic, nil
}

// GetAgent returns the agent spec or ErrAgentNotFound.
func (c *Config) GetAgent(name string) (*AgentSpec, error) {
	a, ok := c.Agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return a, nil
}

// IntentNames returns the set of enabled intents, for logs and diagnostics.
func (c *Config) IntentNames() []string {
	names := make([]string, 0, len(c.Intents))
	for name := range c.Intents {
		names = append(names, name)
	}
	return names
}

// Stats summarizes the loaded configuration for startup logging.
type Stats struct {
	Intents int
	Agents  int
	Views   int
}

// Stats returns configuration counts.
func (c *Config) Stats() Stats {
	return Stats{Intents: len(c.Intents), Agents: len(c.Agents), Views: len(c.Views)}
}
