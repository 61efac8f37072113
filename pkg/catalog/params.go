package catalog

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// BindParams validates and coerces caller-supplied parameters against a
// query's declared specs. The returned map contains exactly the declared
// parameters in canonical Go types, ready for engine-level binding.
//
// Rules applied per parameter, in order: unknown keys are rejected, missing
// required values are rejected, missing optional values take the declared
// default (or are omitted), values are coerced to the declared type, then
// enum and min/max bounds are checked.
func BindParams(def *QueryDefinition, supplied map[string]any) (map[string]any, error) {
	return BindSpecs(def.QueryID, def.Parameters, supplied)
}

// BindSpecs applies the binding rules against a bare spec list. Intent
// schemas share the parameter model with registered queries, so both bind
// through here; subject names the query or intent for error reporting.
func BindSpecs(subject string, specs []ParamSpec, supplied map[string]any) (map[string]any, error) {
	declared := func(name string) (ParamSpec, bool) {
		for _, p := range specs {
			if p.Name == name {
				return p, true
			}
		}
		return ParamSpec{}, false
	}
	for name := range supplied {
		if _, ok := declared(name); !ok {
			return nil, NewParamError(subject, name, fmt.Errorf("not declared"))
		}
	}

	bound := make(map[string]any, len(specs))
	for _, spec := range specs {
		raw, present := supplied[spec.Name]
		if !present || raw == nil {
			if spec.Required && spec.Default == nil {
				return nil, NewParamError(subject, spec.Name, fmt.Errorf("required but missing"))
			}
			if spec.Default == nil {
				continue
			}
			raw = spec.Default
		}

		val, err := coerce(spec.Type, raw)
		if err != nil {
			return nil, NewParamError(subject, spec.Name, err)
		}
		if err := checkBounds(spec, val); err != nil {
			return nil, NewParamError(subject, spec.Name, err)
		}
		bound[spec.Name] = val
	}
	return bound, nil
}

// coerce converts a raw value to the declared parameter type.
// JSON and YAML decoding produce a small set of dynamic types; anything
// outside that set is rejected rather than stringified.
func coerce(typ string, raw any) (any, error) {
	switch typ {
	case "string":
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", raw)
		}
		return s, nil

	case "int":
		switch v := raw.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("expected integer, got %v", v)
			}
			return int64(v), nil
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("expected integer, got %q", v)
			}
			return n, nil
		default:
			return nil, fmt.Errorf("expected integer, got %T", raw)
		}

	case "float":
		switch v := raw.(type) {
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case float64:
			return v, nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("expected number, got %q", v)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("expected number, got %T", raw)
		}

	case "bool":
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("expected boolean, got %q", v)
			}
			return b, nil
		default:
			return nil, fmt.Errorf("expected boolean, got %T", raw)
		}

	case "date":
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected date string, got %T", raw)
		}
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return nil, fmt.Errorf("expected YYYY-MM-DD date, got %q", s)
		}
		// Bound as a string so the engine receives the canonical form.
		return t.Format("2006-01-02"), nil

	default:
		return nil, fmt.Errorf("unknown parameter type %q", typ)
	}
}

// checkBounds applies enum and min/max constraints to a coerced value.
func checkBounds(spec ParamSpec, val any) error {
	if len(spec.Enum) > 0 {
		s := fmt.Sprintf("%v", val)
		found := false
		for _, allowed := range spec.Enum {
			if s == allowed {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("value %q not in allowed set %v", s, spec.Enum)
		}
	}

	if spec.Min == nil && spec.Max == nil {
		return nil
	}
	var n float64
	switch v := val.(type) {
	case int64:
		n = float64(v)
	case float64:
		n = v
	default:
		// Bounds only apply to numeric parameters.
		return nil
	}
	if spec.Min != nil && n < *spec.Min {
		return fmt.Errorf("value %v below minimum %v", n, *spec.Min)
	}
	if spec.Max != nil && n > *spec.Max {
		return fmt.Errorf("value %v above maximum %v", n, *spec.Max)
	}
	return nil
}
