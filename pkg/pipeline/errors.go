package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/qnwis/qnwis/pkg/catalog"
	"github.com/qnwis/qnwis/pkg/config"
	"github.com/qnwis/qnwis/pkg/dataaccess"
	"github.com/qnwis/qnwis/pkg/events"
	"github.com/qnwis/qnwis/pkg/scenario"
)

// Code is the stable error taxonomy exposed on terminal events and results.
type Code string

// Error codes.
const (
	CodeUnknownIntent      Code = "UnknownIntent"
	CodeParamValidation    Code = "ParamValidation"
	CodeUnknownQuery       Code = "UnknownQuery"
	CodeBackendFailure     Code = "BackendFailure"
	CodeResultTooLarge     Code = "ResultTooLarge"
	CodeStageTimeout       Code = "StageTimeout"
	CodeStageFailure       Code = "StageFailure"
	CodeScenarioFailure    Code = "ScenarioFailure"
	CodeAgentFailure       Code = "AgentFailure"
	CodeVerificationFailed Code = "VerificationFailed"
	CodeCancelled          Code = "Cancelled"
	CodeInternal           Code = "Internal"
)

// RunError is a stage failure annotated with its taxonomy code.
type RunError struct {
	Code  Code
	Stage events.Stage
	Err   error
}

func (e *RunError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s at stage %s: %v", e.Code, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// ErrVerificationFailed is the strict-mode verification failure.
var ErrVerificationFailed = errors.New("verification failed")

// errAllAgentsFailed marks an agent batch with no surviving report.
var errAllAgentsFailed = errors.New("agent stage failed")

// classify maps an arbitrary stage error to its taxonomy code.
func classifyError(stage events.Stage, err error) *RunError {
	var re *RunError
	if errors.As(err, &re) {
		return re
	}

	code := CodeStageFailure
	switch {
	case errors.Is(err, context.Canceled):
		code = CodeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		code = CodeStageTimeout
	case errors.Is(err, config.ErrIntentNotFound):
		code = CodeUnknownIntent
	case errors.Is(err, catalog.ErrParamValidation):
		code = CodeParamValidation
	case errors.Is(err, catalog.ErrUnknownQuery):
		code = CodeUnknownQuery
	case errors.Is(err, dataaccess.ErrResultTooLarge):
		code = CodeResultTooLarge
	case errors.Is(err, dataaccess.ErrBackendFailure):
		code = CodeBackendFailure
	case errors.Is(err, scenario.ErrAllScenariosFailed):
		code = CodeScenarioFailure
	case errors.Is(err, errAllAgentsFailed):
		code = CodeAgentFailure
	case errors.Is(err, ErrVerificationFailed):
		code = CodeVerificationFailed
	}
	return &RunError{Code: code, Stage: stage, Err: err}
}
