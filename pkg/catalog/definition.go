// Package catalog holds the query registry: the declarative catalog of every
// query the deterministic data layer is allowed to run, and the parameter
// binding rules that keep agent input out of rendered SQL.
package catalog

import (
	"regexp"

	"github.com/qnwis/qnwis/pkg/config"
)

// QueryDefinition is one registry entry, immutable after load.
// Every named parameter appearing in SQL is declared in Parameters and no
// other substitution is possible.
type QueryDefinition struct {
	QueryID             string             `yaml:"query_id"`
	Description         string             `yaml:"description"`
	Dataset             string             `yaml:"dataset"`
	SQL                 string             `yaml:"sql"`
	Parameters          []ParamSpec        `yaml:"parameters"`
	OutputSchema        []ColumnSpec       `yaml:"output_schema"`
	CacheTTLSeconds     int                `yaml:"cache_ttl_seconds"`
	FreshnessSLASeconds int                `yaml:"freshness_sla_seconds"`
	AccessLevel         config.AccessLevel `yaml:"access_level"`
	Tags                []string           `yaml:"tags,omitempty"`

	// boundSQL is SQL with :name placeholders rewritten to the engine's
	// @name bind syntax. Computed once at load.
	boundSQL string
	// paramNames is the set of names referenced by SQL.
	paramNames map[string]bool
}

// ParamSpec declares one named parameter of a registered query.
type ParamSpec struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"` // string, int, float, bool, date
	Required bool     `yaml:"required"`
	Default  any      `yaml:"default,omitempty"`
	Min      *float64 `yaml:"min,omitempty"`
	Max      *float64 `yaml:"max,omitempty"`
	Enum     []string `yaml:"enum,omitempty"`
}

// ColumnSpec is one ordered column of a query's output schema.
type ColumnSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// BoundSQL returns the SQL rewritten for engine-level parameter binding.
func (d *QueryDefinition) BoundSQL() string { return d.boundSQL }

// Param returns the spec for a declared parameter name.
func (d *QueryDefinition) Param(name string) (ParamSpec, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// namedParamPattern matches :name placeholders. A preceding colon is excluded
// so Postgres casts (value::int) are not mistaken for parameters.
var namedParamPattern = regexp.MustCompile(`(^|[^:]):([a-zA-Z_][a-zA-Z0-9_]*)`)

// extractNamedParams returns the distinct :name placeholders in a template.
func extractNamedParams(sql string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range namedParamPattern.FindAllStringSubmatch(sql, -1) {
		name := m[2]
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// rewriteNamedParams converts :name placeholders to @name bind placeholders.
func rewriteNamedParams(sql string) string {
	return namedParamPattern.ReplaceAllString(sql, "$1@$2")
}
