package contracts

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ⭐ SSOT: 날짜별 실패 분류는 여기서만

// FailureKind classifies why a date produced no weights
type FailureKind string

const (
	FailureConfiguration FailureKind = "configuration"
	FailureInfeasible    FailureKind = "infeasible"
	FailureNumerical     FailureKind = "numerical"
	FailureDataQuality   FailureKind = "data_quality" // warning, not an error
	FailureCanceled      FailureKind = "canceled"
)

// Failure records one date that did not contribute weights
type Failure struct {
	Date    time.Time   `json:"date"`
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// IsWarning reports whether the failure is a skip rather than an error
func (f Failure) IsWarning() bool {
	return f.Kind == FailureDataQuality
}

// ErrEmptyPanel is returned when a panel query yields no rows
var ErrEmptyPanel = errors.New("panel store returned no rows")

// ConfigurationError: a constraint needs auxiliary data the date does not have,
// or the optimizer inputs are malformed.
type ConfigurationError struct {
	Constraint string
	Reason     string
}

func (e *ConfigurationError) Error() string {
	if e.Constraint == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error in %s: %s", e.Constraint, e.Reason)
}

// InfeasibleProblemError: the conjoined constraint set admits no solution
type InfeasibleProblemError struct {
	Date   time.Time
	Reason string
}

func (e *InfeasibleProblemError) Error() string {
	return fmt.Sprintf("infeasible problem on %s: %s", e.Date.Format("2006-01-02"), e.Reason)
}

// SolverNumericalError: the solver did not reach a stable solution
type SolverNumericalError struct {
	Date       time.Time
	Iterations int
	Detail     string
}

func (e *SolverNumericalError) Error() string {
	return fmt.Sprintf("solver numerical failure on %s after %d iterations: %s",
		e.Date.Format("2006-01-02"), e.Iterations, e.Detail)
}

// ClassifyFailure maps an optimization error of one date to a Failure record
func ClassifyFailure(date time.Time, err error) Failure {
	var (
		cfgErr *ConfigurationError
		infErr *InfeasibleProblemError
		numErr *SolverNumericalError
		kind   FailureKind
	)

	switch {
	case errors.As(err, &cfgErr):
		kind = FailureConfiguration
	case errors.As(err, &infErr):
		kind = FailureInfeasible
	case errors.As(err, &numErr):
		kind = FailureNumerical
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = FailureCanceled
	default:
		kind = FailureNumerical
	}

	return Failure{Date: date, Kind: kind, Message: err.Error()}
}
