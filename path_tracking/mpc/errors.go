package mpc

import "errors"

var (
	// ErrInsufficientReferencePoints is returned when fewer waypoints than
	// coefficients are supplied, so no cubic can be fitted.
	ErrInsufficientReferencePoints = errors.New("insufficient reference points")

	// ErrSolverFailure wraps any non-success result of the optimizer,
	// including a solve that ran past its deadline.
	ErrSolverFailure = errors.New("solver failure")

	// ErrMalformedTelemetry is returned for missing or non-finite telemetry fields.
	ErrMalformedTelemetry = errors.New("malformed telemetry")
)
