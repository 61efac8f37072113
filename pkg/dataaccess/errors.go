package dataaccess

import "errors"

// Sentinel errors for the deterministic data layer.
var (
	// ErrResultTooLarge indicates a query exceeded the in-memory row cap.
	ErrResultTooLarge = errors.New("result too large")

	// ErrBackendFailure indicates the engine failed after the single retry.
	ErrBackendFailure = errors.New("backend failure")
)
