package catalog

import (
	"errors"
	"fmt"
)

// Sentinel errors for registry operations.
var (
	// ErrUnknownQuery indicates a query_id that is not in the registry.
	ErrUnknownQuery = errors.New("unknown query")

	// ErrParamValidation indicates caller-supplied parameters failed binding.
	ErrParamValidation = errors.New("parameter validation failed")

	// ErrDuplicateQuery indicates two catalog files declare the same query_id.
	ErrDuplicateQuery = errors.New("duplicate query_id")

	// ErrInvalidDefinition indicates a catalog entry failed structural checks.
	ErrInvalidDefinition = errors.New("invalid query definition")
)

// DefinitionError wraps a structural failure in one catalog entry.
type DefinitionError struct {
	File    string
	QueryID string
	Field   string
	Err     error
}

func (e *DefinitionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("catalog %s: query %q field %q: %v", e.File, e.QueryID, e.Field, e.Err)
	}
	return fmt.Sprintf("catalog %s: query %q: %v", e.File, e.QueryID, e.Err)
}

func (e *DefinitionError) Unwrap() error { return e.Err }

// NewDefinitionError creates a DefinitionError.
func NewDefinitionError(file, queryID, field string, err error) *DefinitionError {
	return &DefinitionError{File: file, QueryID: queryID, Field: field, Err: err}
}

// ParamError reports one failed parameter binding.
type ParamError struct {
	QueryID string
	Param   string
	Err     error
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("query %q param %q: %v", e.QueryID, e.Param, e.Err)
}

func (e *ParamError) Unwrap() error { return ErrParamValidation }

// NewParamError creates a ParamError.
func NewParamError(queryID, param string, err error) *ParamError {
	return &ParamError{QueryID: queryID, Param: param, Err: err}
}
