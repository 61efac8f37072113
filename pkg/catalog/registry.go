package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/qnwis/qnwis/pkg/config"
)

// Registry is the immutable, validated set of registered queries.
// All lookups after Load are read-only, so no locking is needed.
type Registry struct {
	queries map[string]*QueryDefinition
}

// catalogFile is the on-disk shape of one catalog YAML file.
type catalogFile struct {
	Queries []*QueryDefinition `yaml:"queries"`
}

// Load reads every *.yaml file under dir, validates each definition, and
// returns the registry. Any structural failure aborts the load; a registry
// with a half-valid catalog is worse than no registry.
func Load(ctx context.Context, dir string) (*Registry, error) {
	log := slog.With("catalog_dir", dir)
	log.Info("Loading query catalog")

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog directory: %w", err)
	}

	reg := &Registry{queries: make(map[string]*QueryDefinition)}
	files := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(dir, entry.Name())
		if err := reg.loadFile(path, entry.Name()); err != nil {
			return nil, err
		}
		files++
	}

	if len(reg.queries) == 0 {
		return nil, fmt.Errorf("%w: no queries registered under %s", ErrInvalidDefinition, dir)
	}

	log.Info("Query catalog loaded", "files", files, "queries", len(reg.queries))
	return reg, nil
}

func (r *Registry) loadFile(path, name string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read catalog file %s: %w", name, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return NewDefinitionError(name, "", "", fmt.Errorf("invalid YAML: %w", err))
	}

	for _, def := range file.Queries {
		if def == nil {
			continue
		}
		if err := validateDefinition(name, def); err != nil {
			return err
		}
		if _, exists := r.queries[def.QueryID]; exists {
			return NewDefinitionError(name, def.QueryID, "", ErrDuplicateQuery)
		}
		def.boundSQL = rewriteNamedParams(def.SQL)
		def.paramNames = make(map[string]bool)
		for _, n := range extractNamedParams(def.SQL) {
			def.paramNames[n] = true
		}
		r.queries[def.QueryID] = def
	}
	return nil
}

// validateDefinition enforces the structural contract of one entry:
// every :named_param in SQL is declared, TTLs are positive, output schema
// names are unique, and the access level is known.
func validateDefinition(file string, def *QueryDefinition) error {
	if def.QueryID == "" {
		return NewDefinitionError(file, "", "query_id", fmt.Errorf("%w: missing", ErrInvalidDefinition))
	}
	if def.SQL == "" {
		return NewDefinitionError(file, def.QueryID, "sql", fmt.Errorf("%w: missing", ErrInvalidDefinition))
	}
	if def.Dataset == "" {
		return NewDefinitionError(file, def.QueryID, "dataset", fmt.Errorf("%w: missing", ErrInvalidDefinition))
	}
	if def.CacheTTLSeconds <= 0 {
		return NewDefinitionError(file, def.QueryID, "cache_ttl_seconds",
			fmt.Errorf("%w: must be positive", ErrInvalidDefinition))
	}
	if def.FreshnessSLASeconds < 0 {
		return NewDefinitionError(file, def.QueryID, "freshness_sla_seconds",
			fmt.Errorf("%w: must be non-negative", ErrInvalidDefinition))
	}
	if def.AccessLevel == "" {
		def.AccessLevel = config.AccessPublic
	} else if !config.ValidAccessLevel(def.AccessLevel) {
		return NewDefinitionError(file, def.QueryID, "access_level",
			fmt.Errorf("%w: unknown level %q", ErrInvalidDefinition, def.AccessLevel))
	}

	declared := make(map[string]bool, len(def.Parameters))
	for _, p := range def.Parameters {
		if p.Name == "" {
			return NewDefinitionError(file, def.QueryID, "parameters",
				fmt.Errorf("%w: parameter with empty name", ErrInvalidDefinition))
		}
		if declared[p.Name] {
			return NewDefinitionError(file, def.QueryID, "parameters",
				fmt.Errorf("%w: duplicate parameter %q", ErrInvalidDefinition, p.Name))
		}
		declared[p.Name] = true
		switch p.Type {
		case "string", "int", "float", "bool", "date":
		default:
			return NewDefinitionError(file, def.QueryID, "parameters."+p.Name,
				fmt.Errorf("%w: unknown type %q", ErrInvalidDefinition, p.Type))
		}
		if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
			return NewDefinitionError(file, def.QueryID, "parameters."+p.Name,
				fmt.Errorf("%w: min exceeds max", ErrInvalidDefinition))
		}
	}

	// SQL may only reference declared parameters. Undeclared placeholders
	// would silently bind NULL at execution time, so they are rejected here.
	for _, ref := range extractNamedParams(def.SQL) {
		if !declared[ref] {
			return NewDefinitionError(file, def.QueryID, "sql",
				fmt.Errorf("%w: undeclared parameter :%s", ErrInvalidDefinition, ref))
		}
	}

	if len(def.OutputSchema) == 0 {
		return NewDefinitionError(file, def.QueryID, "output_schema",
			fmt.Errorf("%w: missing", ErrInvalidDefinition))
	}
	cols := make(map[string]bool, len(def.OutputSchema))
	for _, col := range def.OutputSchema {
		if col.Name == "" {
			return NewDefinitionError(file, def.QueryID, "output_schema",
				fmt.Errorf("%w: column with empty name", ErrInvalidDefinition))
		}
		if cols[col.Name] {
			return NewDefinitionError(file, def.QueryID, "output_schema",
				fmt.Errorf("%w: duplicate column %q", ErrInvalidDefinition, col.Name))
		}
		cols[col.Name] = true
	}

	return nil
}

// Get returns the definition for a query_id.
func (r *Registry) Get(queryID string) (*QueryDefinition, error) {
	def, ok := r.queries[queryID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuery, queryID)
	}
	return def, nil
}

// Has reports whether a query_id is registered.
func (r *Registry) Has(queryID string) bool {
	_, ok := r.queries[queryID]
	return ok
}

// IDs returns all registered query IDs in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.queries))
	for id := range r.queries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered queries.
func (r *Registry) Len() int { return len(r.queries) }
