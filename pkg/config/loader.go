package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load qnwis.yaml from configDir
//  2. Expand environment variables
//  3. Merge user-defined values over built-in defaults
//  4. Validate all configuration
//  5. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"intents", stats.Intents,
		"agents", stats.Agents,
		"materialized_views", stats.Views)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	path := filepath.Join(configDir, "qnwis.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError("qnwis.yaml", fmt.Errorf("%w: %s", ErrConfigNotFound, path))
		}
		return nil, NewLoadError("qnwis.yaml", err)
	}

	data = ExpandEnv(data)

	cfg := &Config{
		Intents: make(IntentMap),
		Agents:  make(AgentMap),
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, NewLoadError("qnwis.yaml", fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}
	cfg.configDir = configDir

	// Fill agent names from map keys.
	for name, spec := range cfg.Agents {
		if spec != nil {
			spec.Name = name
		}
	}

	applyDefaults(cfg)

	if cfg.CatalogDir == "" {
		cfg.CatalogDir = filepath.Join(configDir, "catalog")
	} else if !filepath.IsAbs(cfg.CatalogDir) {
		cfg.CatalogDir = filepath.Join(configDir, cfg.CatalogDir)
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = "v1"
	}

	return cfg, nil
}

// applyDefaults merges built-in defaults into any unset sections.
// User-provided non-zero values win (mergo only fills zero fields).
func applyDefaults(cfg *Config) {
	if cfg.Timeouts == nil {
		cfg.Timeouts = DefaultTimeouts()
	} else {
		_ = mergo.Merge(cfg.Timeouts, DefaultTimeouts())
	}
	if cfg.Scenarios == nil {
		cfg.Scenarios = DefaultScenarios()
	} else {
		_ = mergo.Merge(cfg.Scenarios, DefaultScenarios())
	}
	if cfg.Cache == nil {
		cfg.Cache = DefaultCache()
	} else {
		_ = mergo.Merge(cfg.Cache, DefaultCache())
	}
	if cfg.Verification == nil {
		cfg.Verification = DefaultVerification()
	} else {
		// Tolerances default individually; boolean modes are taken as given
		// (mergo would clobber an explicit false with the built-in true).
		def := DefaultVerification()
		v := cfg.Verification
		if v.AbsEpsilon == 0 {
			v.AbsEpsilon = def.AbsEpsilon
		}
		if v.RelEpsilon == 0 {
			v.RelEpsilon = def.RelEpsilon
		}
		if v.EpsilonPct == 0 {
			v.EpsilonPct = def.EpsilonPct
		}
		if v.IgnoreNumbersBelow == 0 {
			v.IgnoreNumbersBelow = def.IgnoreNumbersBelow
		}
	}
	if cfg.LLM == nil {
		cfg.LLM = DefaultLLM()
	} else {
		_ = mergo.Merge(cfg.LLM, DefaultLLM())
	}
}

func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}
