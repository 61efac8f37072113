package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator performs cross-reference validation on loaded configuration.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll runs every validation pass and returns the first failure.
func (v *Validator) ValidateAll() error {
	if err := v.validateTimeouts(); err != nil {
		return err
	}
	if err := v.validateScenarios(); err != nil {
		return err
	}
	if err := v.validateCache(); err != nil {
		return err
	}
	if err := v.validateVerification(); err != nil {
		return err
	}
	if err := v.validateIntents(); err != nil {
		return err
	}
	if err := v.validateAgents(); err != nil {
		return err
	}
	if err := v.validateViews(); err != nil {
		return err
	}
	return nil
}

func (v *Validator) validateTimeouts() error {
	t := v.cfg.Timeouts
	if t.StageMS <= 0 {
		return NewValidationError("timeouts", "stage_ms", "", ErrInvalidValue)
	}
	if t.QueryMS <= 0 {
		return NewValidationError("timeouts", "query_ms", "", ErrInvalidValue)
	}
	if t.AgentMS <= 0 {
		return NewValidationError("timeouts", "agent_ms", "", ErrInvalidValue)
	}
	return nil
}

func (v *Validator) validateScenarios() error {
	s := v.cfg.Scenarios
	if s.Parallelism <= 0 {
		return NewValidationError("scenarios", "parallelism", "", ErrInvalidValue)
	}
	if s.AffinityPoolSize <= 0 {
		return NewValidationError("scenarios", "affinity_pool_size", "", ErrInvalidValue)
	}
	// The executor pins each worker to an exclusive affinity slot, so the
	// worker count may never exceed the slot pool.
	if s.Parallelism > s.AffinityPoolSize {
		return NewValidationError("scenarios", "parallelism", "",
			fmt.Errorf("%w: parallelism (%d) exceeds affinity_pool_size (%d)",
				ErrInvalidValue, s.Parallelism, s.AffinityPoolSize))
	}
	if s.DefaultCount <= 0 {
		return NewValidationError("scenarios", "default_count", "", ErrInvalidValue)
	}
	return nil
}

func (v *Validator) validateCache() error {
	c := v.cfg.Cache
	if c.Namespace == "" {
		return NewValidationError("cache", "namespace", "", ErrMissingRequiredField)
	}
	if strings.Contains(c.Namespace, ":") {
		return NewValidationError("cache", "namespace", "",
			fmt.Errorf("%w: must not contain ':'", ErrInvalidValue))
	}
	if c.DefaultTTLSeconds <= 0 {
		return NewValidationError("cache", "default_ttl_seconds", "", ErrInvalidValue)
	}
	return nil
}

func (v *Validator) validateVerification() error {
	vc := v.cfg.Verification
	if vc.AbsEpsilon < 0 || vc.RelEpsilon < 0 || vc.EpsilonPct < 0 {
		return NewValidationError("verification", "tolerances", "",
			fmt.Errorf("%w: epsilons must be non-negative", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateIntents() error {
	if len(v.cfg.Intents) == 0 {
		return NewValidationError("intents", "", "",
			fmt.Errorf("%w: at least one intent must be enabled", ErrMissingRequiredField))
	}
	for name, ic := range v.cfg.Intents {
		if ic == nil {
			return NewValidationError("intent", name, "", ErrMissingRequiredField)
		}
		if ic.Complexity != "" && !ValidComplexity(ic.Complexity) {
			return NewValidationError("intent", name, "complexity", ErrInvalidValue)
		}
		seen := make(map[string]bool, len(ic.Params))
		for _, p := range ic.Params {
			if p.Name == "" {
				return NewValidationError("intent", name, "params.name", ErrMissingRequiredField)
			}
			if seen[p.Name] {
				return NewValidationError("intent", name, "params",
					fmt.Errorf("%w: duplicate parameter %q", ErrInvalidValue, p.Name))
			}
			seen[p.Name] = true
			switch p.Type {
			case "string", "int", "float", "bool", "date":
			default:
				return NewValidationError("intent", name, "params."+p.Name,
					fmt.Errorf("%w: unknown type %q", ErrInvalidValue, p.Type))
			}
		}
		// Every agent an intent names must exist.
		for _, agentName := range ic.Agents {
			if _, ok := v.cfg.Agents[agentName]; !ok {
				return NewValidationError("intent", name, "agents",
					fmt.Errorf("%w: agent %q", ErrAgentNotFound, agentName))
			}
		}
	}
	return nil
}

func (v *Validator) validateAgents() error {
	for name, spec := range v.cfg.Agents {
		if spec == nil || spec.PromptTemplate == "" {
			return NewValidationError("agent", name, "prompt_template", ErrMissingRequiredField)
		}
		if len(spec.SelectableQueryIDs) == 0 {
			return NewValidationError("agent", name, "selectable_query_ids",
				fmt.Errorf("%w: agents may only cite registered queries", ErrMissingRequiredField))
		}
	}
	return nil
}

func (v *Validator) validateViews() error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	seen := make(map[string]bool, len(v.cfg.Views))
	for _, spec := range v.cfg.Views {
		if spec.Name == "" || spec.QueryID == "" {
			return NewValidationError("materialized_view", spec.Name, "", ErrMissingRequiredField)
		}
		if seen[spec.Name] {
			return NewValidationError("materialized_view", spec.Name, "",
				fmt.Errorf("%w: duplicate view name", ErrInvalidValue))
		}
		seen[spec.Name] = true
		if spec.RefreshSchedule == "" {
			return NewValidationError("materialized_view", spec.Name, "refresh_schedule", ErrMissingRequiredField)
		}
		if _, err := parser.Parse(spec.RefreshSchedule); err != nil {
			return NewValidationError("materialized_view", spec.Name, "refresh_schedule",
				fmt.Errorf("%w: %v", ErrInvalidValue, err))
		}
	}
	return nil
}
