package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Infinity is the bound magnitude at or beyond which a bound is treated as absent.
const Infinity = 1.0e19

var (
	ErrDidNotConverge   = errors.New("solver did not converge")
	ErrInfeasibleBounds = errors.New("infeasible bounds")
	ErrNumericalError   = errors.New("numerical error")
	ErrInvalidProblem   = errors.New("invalid problem")
)

// Status is the terminal state of one solve
type Status int

const (
	Success Status = iota
	DidNotConverge
	InfeasibleBounds
	NumericalError
	Timeout
)

func (s Status) String() string {
	switch s {
	case Success:
		return "Success"
	case DidNotConverge:
		return "DidNotConverge"
	case InfeasibleBounds:
		return "InfeasibleBounds"
	case NumericalError:
		return "NumericalError"
	case Timeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// Problem is a nonlinear program:
//
//	minimize Objective(x)
//	subject to Lower <= x <= Upper
//	           ConstraintLower <= Constraints(x) <= ConstraintUpper
//
// Gradient and Jacobian are optional; finite differences are used when absent.
// Callbacks must not retain or modify x.
type Problem struct {
	Lower []float64
	Upper []float64
	Start []float64 // initial guess; zero vector when nil

	ConstraintLower []float64
	ConstraintUpper []float64

	Objective   func(x []float64) float64
	Gradient    func(grad, x []float64)
	Constraints func(g, x []float64)
	Jacobian    func(jac *mat.Dense, x []float64) // jac is zeroed before the call
}

// NumVariables returns the decision vector length
func (p *Problem) NumVariables() int { return len(p.Lower) }

// NumConstraints returns the number of general constraints
func (p *Problem) NumConstraints() int { return len(p.ConstraintLower) }

func (p *Problem) validate() error {
	n, m := len(p.Lower), len(p.ConstraintLower)
	if n == 0 {
		return fmt.Errorf("%w: no variables", ErrInvalidProblem)
	}
	if len(p.Upper) != n {
		return fmt.Errorf("%w: %d lower bounds, %d upper bounds", ErrInvalidProblem, n, len(p.Upper))
	}
	if p.Start != nil && len(p.Start) != n {
		return fmt.Errorf("%w: start has length %d, want %d", ErrInvalidProblem, len(p.Start), n)
	}
	if len(p.ConstraintUpper) != m {
		return fmt.Errorf("%w: %d constraint lower bounds, %d upper bounds", ErrInvalidProblem, m, len(p.ConstraintUpper))
	}
	if p.Objective == nil {
		return fmt.Errorf("%w: nil objective", ErrInvalidProblem)
	}
	if m > 0 && p.Constraints == nil {
		return fmt.Errorf("%w: %d constraints without evaluator", ErrInvalidProblem, m)
	}
	if err := checkBounds("variable", p.Lower, p.Upper); err != nil {
		return err
	}
	return checkBounds("constraint", p.ConstraintLower, p.ConstraintUpper)
}

func checkBounds(kind string, lower, upper []float64) error {
	for i := range lower {
		if math.IsNaN(lower[i]) || math.IsNaN(upper[i]) {
			return fmt.Errorf("%w: %s %d has NaN bound", ErrNumericalError, kind, i)
		}
		if lower[i] > upper[i] {
			return fmt.Errorf("%w: %s %d has lower %g > upper %g", ErrInfeasibleBounds, kind, i, lower[i], upper[i])
		}
	}
	return nil
}

// Result carries the solution and solve statistics. It is returned alongside
// failures too so callers can log what happened.
type Result struct {
	X            []float64
	Objective    float64
	MaxViolation float64
	Status       Status

	OuterIterations int
	InnerIterations int
	FuncEvaluations int
	Duration        time.Duration
}

// Solver is a constrained nonlinear optimizer. Any non-nil error means the
// returned X must not be used as a command.
type Solver interface {
	Solve(ctx context.Context, p *Problem) (*Result, error)
}

func statusOf(err error) Status {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, ErrInfeasibleBounds):
		return InfeasibleBounds
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Timeout
	case errors.Is(err, ErrDidNotConverge):
		return DidNotConverge
	default:
		return NumericalError
	}
}
