package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Settings tunes the augmented Lagrangian loop. Zero fields take defaults.
type Settings struct {
	Tolerance           float64 // max constraint violation for a converged solve
	AcceptableTolerance float64 // violation still accepted once the outer budget is spent
	MaxOuterIterations  int
	MaxInnerIterations  int
	InitialPenalty      float64
	PenaltyGrowth       float64
	MaxPenalty          float64
	GradientThreshold   float64
}

// DefaultSettings returns the settings used by NewAugmentedLagrangian for zero fields.
func DefaultSettings() Settings {
	return Settings{
		Tolerance:           1e-6,
		AcceptableTolerance: 1e-4,
		MaxOuterIterations:  40,
		MaxInnerIterations:  500,
		InitialPenalty:      10,
		PenaltyGrowth:       10,
		MaxPenalty:          1e9,
		GradientThreshold:   1e-7,
	}
}

// AugmentedLagrangian solves a Problem by minimizing a sequence of
// augmented Lagrangian subproblems with L-BFGS. Variable bounds are enforced
// through a reparameterization, so every iterate respects them exactly.
type AugmentedLagrangian struct {
	settings Settings
}

var _ Solver = (*AugmentedLagrangian)(nil)

// NewAugmentedLagrangian creates a solver, filling unset settings with defaults.
func NewAugmentedLagrangian(s Settings) *AugmentedLagrangian {
	def := DefaultSettings()
	if s.Tolerance <= 0 {
		s.Tolerance = def.Tolerance
	}
	if s.AcceptableTolerance < s.Tolerance {
		s.AcceptableTolerance = math.Max(def.AcceptableTolerance, s.Tolerance)
	}
	if s.MaxOuterIterations <= 0 {
		s.MaxOuterIterations = def.MaxOuterIterations
	}
	if s.MaxInnerIterations <= 0 {
		s.MaxInnerIterations = def.MaxInnerIterations
	}
	if s.InitialPenalty <= 0 {
		s.InitialPenalty = def.InitialPenalty
	}
	if s.PenaltyGrowth <= 1 {
		s.PenaltyGrowth = def.PenaltyGrowth
	}
	if s.MaxPenalty < s.InitialPenalty {
		s.MaxPenalty = math.Max(def.MaxPenalty, s.InitialPenalty)
	}
	if s.GradientThreshold <= 0 {
		s.GradientThreshold = def.GradientThreshold
	}
	return &AugmentedLagrangian{settings: s}
}

// Settings returns the effective settings
func (al *AugmentedLagrangian) Settings() Settings { return al.settings }

// Solve runs the outer multiplier loop until the constraints are satisfied,
// the iteration budget is spent, or ctx is done.
func (al *AugmentedLagrangian) Solve(ctx context.Context, p *Problem) (*Result, error) {
	start := time.Now()
	res := &Result{}
	fail := func(err error) (*Result, error) {
		res.Status = statusOf(err)
		res.Duration = time.Since(start)
		return res, err
	}

	if err := p.validate(); err != nil {
		return fail(err)
	}

	n, m := p.NumVariables(), p.NumConstraints()
	vm := newVarMap(p.Lower, p.Upper)

	x0 := make([]float64, n)
	if p.Start != nil {
		copy(x0, p.Start)
	}
	z := make([]float64, vm.dim())
	vm.toZ(z, x0)

	ev := newEvaluator(p, vm, al.settings.InitialPenalty)
	s := al.settings
	prevViol := math.Inf(1)
	converged := false

	for outer := 0; outer < s.MaxOuterIterations; outer++ {
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("solve interrupted after %d outer iterations: %w", outer, err))
		}
		res.OuterIterations = outer + 1

		if len(z) > 0 {
			inner, err := al.minimize(ctx, ev, z)
			if inner == nil {
				if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
					return fail(fmt.Errorf("inner minimization: %w", context.DeadlineExceeded))
				}
				return fail(fmt.Errorf("%w: inner minimization: %v", ErrNumericalError, err))
			}
			res.InnerIterations += inner.Stats.MajorIterations
			res.FuncEvaluations += inner.Stats.FuncEvaluations
			if !allFinite(inner.X) {
				return fail(fmt.Errorf("%w: non-finite iterate", ErrNumericalError))
			}
			copy(z, inner.X)
			if inner.Status == optimize.RuntimeLimit {
				return fail(fmt.Errorf("inner minimization hit the deadline: %w", context.DeadlineExceeded))
			}
			// Iteration limits and line search failures are not fatal here:
			// feasibility below decides whether the outer loop continues.
		}

		viol := ev.update(z)
		if math.IsNaN(viol) || math.IsInf(viol, 0) {
			return fail(fmt.Errorf("%w: constraint evaluation", ErrNumericalError))
		}
		res.MaxViolation = viol
		if viol <= s.Tolerance {
			converged = true
			break
		}

		for i := 0; i < m; i++ {
			ev.lambda[i] += ev.mu * ev.r[i]
		}
		if viol > 0.25*prevViol {
			ev.mu = math.Min(ev.mu*s.PenaltyGrowth, s.MaxPenalty)
		}
		prevViol = viol
	}

	res.X = make([]float64, n)
	vm.toX(res.X, z)
	res.Objective = p.Objective(res.X)
	if math.IsNaN(res.Objective) || math.IsInf(res.Objective, 0) {
		return fail(fmt.Errorf("%w: objective is %v", ErrNumericalError, res.Objective))
	}
	if !converged && res.MaxViolation > s.AcceptableTolerance {
		return fail(fmt.Errorf("%w: constraint violation %.3g after %d outer iterations",
			ErrDidNotConverge, res.MaxViolation, res.OuterIterations))
	}

	res.Status = Success
	res.Duration = time.Since(start)
	return res, nil
}

func (al *AugmentedLagrangian) minimize(ctx context.Context, ev *evaluator, z []float64) (*optimize.Result, error) {
	settings := &optimize.Settings{
		MajorIterations:   al.settings.MaxInnerIterations,
		GradientThreshold: al.settings.GradientThreshold,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Relative:   1e-12,
			Iterations: 25,
		},
	}
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, context.DeadlineExceeded
		}
		settings.Runtime = remaining
	}
	prob := optimize.Problem{
		Func: ev.merit,
		Grad: ev.meritGrad,
	}
	return optimize.Minimize(prob, z, settings, &optimize.LBFGS{})
}

// evaluator holds the buffers for the augmented Lagrangian merit function
//
//	phi(x) = f(x) + sum_i lambda_i*r_i + mu/2*r_i^2,  r_i = c_i - clamp(c_i + lambda_i/mu, lo_i, hi_i)
//
// which handles equality (lo == hi) and range constraints alike.
type evaluator struct {
	p  *Problem
	vm *varMap

	x   []float64
	gx  []float64
	c   []float64
	r   []float64
	w   []float64
	jac *mat.Dense
	jtw *mat.VecDense

	lambda []float64
	mu     float64
}

func newEvaluator(p *Problem, vm *varMap, mu float64) *evaluator {
	n, m := p.NumVariables(), p.NumConstraints()
	ev := &evaluator{
		p:      p,
		vm:     vm,
		x:      make([]float64, n),
		gx:     make([]float64, n),
		c:      make([]float64, m),
		r:      make([]float64, m),
		w:      make([]float64, m),
		lambda: make([]float64, m),
		mu:     mu,
	}
	if m > 0 {
		ev.jac = mat.NewDense(m, n, nil)
		ev.jtw = mat.NewVecDense(n, nil)
	}
	return ev
}

func (ev *evaluator) residuals() {
	for i, ci := range ev.c {
		s := ci + ev.lambda[i]/ev.mu
		s = math.Max(ev.p.ConstraintLower[i], math.Min(ev.p.ConstraintUpper[i], s))
		ev.r[i] = ci - s
	}
}

func (ev *evaluator) merit(z []float64) float64 {
	ev.vm.toX(ev.x, z)
	f := ev.p.Objective(ev.x)
	if len(ev.c) == 0 {
		return f
	}
	ev.p.Constraints(ev.c, ev.x)
	ev.residuals()
	for i, ri := range ev.r {
		f += ev.lambda[i]*ri + 0.5*ev.mu*ri*ri
	}
	return f
}

func (ev *evaluator) meritGrad(grad, z []float64) {
	ev.vm.toX(ev.x, z)
	if ev.p.Gradient != nil {
		ev.p.Gradient(ev.gx, ev.x)
	} else {
		fd.Gradient(ev.gx, ev.p.Objective, ev.x, &fd.Settings{Formula: fd.Central})
	}
	if len(ev.c) > 0 {
		ev.p.Constraints(ev.c, ev.x)
		ev.residuals()
		for i, ri := range ev.r {
			ev.w[i] = ev.lambda[i] + ev.mu*ri
		}
		if ev.p.Jacobian != nil {
			ev.jac.Zero()
			ev.p.Jacobian(ev.jac, ev.x)
		} else {
			fd.Jacobian(ev.jac, ev.p.Constraints, ev.x, &fd.JacobianSettings{Formula: fd.Central})
		}
		ev.jtw.MulVec(ev.jac.T(), mat.NewVecDense(len(ev.w), ev.w))
		floats.Add(ev.gx, ev.jtw.RawVector().Data)
	}
	ev.vm.chain(grad, ev.gx, z)
}

// update evaluates the constraints at z, refreshes the residuals used for
// the multiplier step and returns the true bound violation.
func (ev *evaluator) update(z []float64) float64 {
	if len(ev.c) == 0 {
		return 0
	}
	ev.vm.toX(ev.x, z)
	ev.p.Constraints(ev.c, ev.x)
	ev.residuals()
	viol := 0.0
	for i, ci := range ev.c {
		if math.IsNaN(ci) {
			return math.NaN()
		}
		d := math.Max(ev.p.ConstraintLower[i]-ci, ci-ev.p.ConstraintUpper[i])
		viol = math.Max(viol, d)
	}
	return viol
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
