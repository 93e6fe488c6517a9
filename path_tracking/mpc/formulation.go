package mpc

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"mpc-path-tracker/path_tracking/solver"
)

// Formulation is the nonlinear program for one control cycle: track curve
// over the horizon starting from init.
//
// Dynamics rows, one per field and step t = 1..N-1:
//
//	x[t]    = x[t-1] + v[t-1]*cos(psi[t-1])*dt
//	y[t]    = y[t-1] + v[t-1]*sin(psi[t-1])*dt
//	psi[t]  = psi[t-1] + v[t-1]/Lf*delta[t-1]*dt
//	v[t]    = v[t-1] + a[t-1]*dt
//	cte[t]  = f(x[t-1]) - y[t-1] + v[t-1]*sin(epsi[t-1])*dt
//	epsi[t] = psi[t-1] - atan(f'(x[t-1])) + v[t-1]/Lf*delta[t-1]*dt
//
// Each row is stored as state[t] - predicted = 0. Step 0 is pinned to init
// through its variable bounds.
type Formulation struct {
	cfg    Config
	layout Layout
	curve  Curve
	init   State
}

// NewFormulation validates the inputs and prepares the program.
func NewFormulation(cfg Config, curve Curve, init State) (*Formulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if len(curve) == 0 {
		return nil, fmt.Errorf("empty reference curve")
	}
	return &Formulation{
		cfg:    cfg,
		layout: Layout{N: cfg.Horizon},
		curve:  curve,
		init:   init,
	}, nil
}

// Layout of the decision vector
func (f *Formulation) Layout() Layout { return f.layout }

// Initial is the pinned step-0 state
func (f *Formulation) Initial() State { return f.init }

// NumConstraints is the number of dynamics rows
func (f *Formulation) NumConstraints() int { return numStateFields * (f.layout.N - 1) }

func (f *Formulation) row(field Field, t int) int {
	return int(field)*(f.layout.N-1) + (t - 1)
}

// Bounds returns the variable bounds: step 0 collapsed onto init, steering
// within +-MaxSteer, throttle within [-1, 1], everything else free.
func (f *Formulation) Bounds() (lower, upper []float64) {
	n := f.layout.Len()
	lower = make([]float64, n)
	upper = make([]float64, n)
	for i := range lower {
		lower[i] = -solver.Infinity
		upper[i] = solver.Infinity
	}
	for field := FieldX; field < numStateFields; field++ {
		i := f.layout.Index(field, 0)
		lower[i] = f.init.field(field)
		upper[i] = lower[i]
	}
	for t := 0; t < f.layout.Controls(); t++ {
		lower[f.layout.SteerIndex(t)] = -f.cfg.MaxSteer
		upper[f.layout.SteerIndex(t)] = f.cfg.MaxSteer
		lower[f.layout.ThrottleIndex(t)] = -1
		upper[f.layout.ThrottleIndex(t)] = 1
	}
	return lower, upper
}

// InitialGuess returns zeros with step 0 pinned. When previous holds the
// last solution of the same layout, it is shifted one step forward instead.
func (f *Formulation) InitialGuess(previous []float64) []float64 {
	x := make([]float64, f.layout.Len())
	v := f.layout.View(x)
	if len(previous) == len(x) {
		prev := f.layout.View(previous)
		last := f.layout.N - 1
		for t := 0; t < last; t++ {
			v.SetState(t, prev.State(t+1))
		}
		v.SetState(last, prev.State(last))
		lastCtl := f.layout.Controls() - 1
		for t := 0; t < lastCtl; t++ {
			v.SetActuation(t, prev.Actuation(t+1))
		}
		v.SetActuation(lastCtl, prev.Actuation(lastCtl))
	}
	v.SetState(0, f.init)
	return x
}

// StepCost is the part of the objective attributed to step t: the tracking
// terms of state t, the magnitude of actuator t and the change from
// actuator t to t+1, where those exist.
func (f *Formulation) StepCost(x []float64, t int) float64 {
	w := f.cfg.Weights
	v := f.layout.View(x)
	dv := v.Get(FieldV, t) - f.cfg.RefSpeed
	cte, epsi := v.Get(FieldCte, t), v.Get(FieldEpsi, t)
	cost := w.Cte*cte*cte + w.Epsi*epsi*epsi + w.Speed*dv*dv

	ctl := f.layout.Controls()
	if t < ctl {
		d, a := v.Steer(t), v.Throttle(t)
		cost += w.Steer*d*d + w.Throttle*a*a
	}
	if t < ctl-1 {
		dd := v.Steer(t+1) - v.Steer(t)
		da := v.Throttle(t+1) - v.Throttle(t)
		cost += w.SteerRate*dd*dd + w.ThrottleRate*da*da
	}
	return cost
}

// Cost evaluates the full objective
func (f *Formulation) Cost(x []float64) float64 {
	total := 0.0
	for t := 0; t < f.layout.N; t++ {
		total += f.StepCost(x, t)
	}
	return total
}

func (f *Formulation) costGradient(grad, x []float64) {
	for i := range grad {
		grad[i] = 0
	}
	w := f.cfg.Weights
	l := f.layout
	v := l.View(x)
	for t := 0; t < l.N; t++ {
		grad[l.Index(FieldCte, t)] = 2 * w.Cte * v.Get(FieldCte, t)
		grad[l.Index(FieldEpsi, t)] = 2 * w.Epsi * v.Get(FieldEpsi, t)
		grad[l.Index(FieldV, t)] = 2 * w.Speed * (v.Get(FieldV, t) - f.cfg.RefSpeed)
	}
	ctl := l.Controls()
	for t := 0; t < ctl; t++ {
		grad[l.SteerIndex(t)] += 2 * w.Steer * v.Steer(t)
		grad[l.ThrottleIndex(t)] += 2 * w.Throttle * v.Throttle(t)
	}
	for t := 0; t < ctl-1; t++ {
		dd := 2 * w.SteerRate * (v.Steer(t+1) - v.Steer(t))
		grad[l.SteerIndex(t+1)] += dd
		grad[l.SteerIndex(t)] -= dd
		da := 2 * w.ThrottleRate * (v.Throttle(t+1) - v.Throttle(t))
		grad[l.ThrottleIndex(t+1)] += da
		grad[l.ThrottleIndex(t)] -= da
	}
}

// Constraints writes the dynamics residuals into g
func (f *Formulation) Constraints(g, x []float64) {
	dt, lf := f.cfg.Dt, f.cfg.Lf
	v := f.layout.View(x)
	for t := 1; t < f.layout.N; t++ {
		s0, s1 := v.State(t-1), v.State(t)
		u := v.Actuation(t - 1)
		yaw := s0.V / lf * u.Steer * dt

		g[f.row(FieldX, t)] = s1.X - (s0.X + s0.V*math.Cos(s0.Psi)*dt)
		g[f.row(FieldY, t)] = s1.Y - (s0.Y + s0.V*math.Sin(s0.Psi)*dt)
		g[f.row(FieldPsi, t)] = s1.Psi - (s0.Psi + yaw)
		g[f.row(FieldV, t)] = s1.V - (s0.V + u.Throttle*dt)
		g[f.row(FieldCte, t)] = s1.Cte - (f.curve.Eval(s0.X) - s0.Y + s0.V*math.Sin(s0.Epsi)*dt)
		g[f.row(FieldEpsi, t)] = s1.Epsi - (s0.Psi - f.curve.Heading(s0.X) + yaw)
	}
}

// Jacobian writes the partial derivatives of Constraints into a zeroed jac.
func (f *Formulation) Jacobian(jac *mat.Dense, x []float64) {
	dt, lf := f.cfg.Dt, f.cfg.Lf
	l := f.layout
	v := l.View(x)
	for t := 1; t < l.N; t++ {
		p := t - 1
		s0 := v.State(p)
		d := v.Steer(p)
		cosPsi, sinPsi := math.Cos(s0.Psi), math.Sin(s0.Psi)
		slope := f.curve.Slope(s0.X)

		r := f.row(FieldX, t)
		jac.Set(r, l.Index(FieldX, t), 1)
		jac.Set(r, l.Index(FieldX, p), -1)
		jac.Set(r, l.Index(FieldV, p), -cosPsi*dt)
		jac.Set(r, l.Index(FieldPsi, p), s0.V*sinPsi*dt)

		r = f.row(FieldY, t)
		jac.Set(r, l.Index(FieldY, t), 1)
		jac.Set(r, l.Index(FieldY, p), -1)
		jac.Set(r, l.Index(FieldV, p), -sinPsi*dt)
		jac.Set(r, l.Index(FieldPsi, p), -s0.V*cosPsi*dt)

		r = f.row(FieldPsi, t)
		jac.Set(r, l.Index(FieldPsi, t), 1)
		jac.Set(r, l.Index(FieldPsi, p), -1)
		jac.Set(r, l.Index(FieldV, p), -d/lf*dt)
		jac.Set(r, l.SteerIndex(p), -s0.V/lf*dt)

		r = f.row(FieldV, t)
		jac.Set(r, l.Index(FieldV, t), 1)
		jac.Set(r, l.Index(FieldV, p), -1)
		jac.Set(r, l.ThrottleIndex(p), -dt)

		r = f.row(FieldCte, t)
		jac.Set(r, l.Index(FieldCte, t), 1)
		jac.Set(r, l.Index(FieldX, p), -slope)
		jac.Set(r, l.Index(FieldY, p), 1)
		jac.Set(r, l.Index(FieldV, p), -math.Sin(s0.Epsi)*dt)
		jac.Set(r, l.Index(FieldEpsi, p), -s0.V*math.Cos(s0.Epsi)*dt)

		r = f.row(FieldEpsi, t)
		jac.Set(r, l.Index(FieldEpsi, t), 1)
		jac.Set(r, l.Index(FieldPsi, p), -1)
		jac.Set(r, l.Index(FieldX, p), f.curve.SecondDerivative(s0.X)/(1+slope*slope))
		jac.Set(r, l.Index(FieldV, p), -d/lf*dt)
		jac.Set(r, l.SteerIndex(p), -s0.V/lf*dt)
	}
}

// Problem assembles the program for the solver. start may be nil.
func (f *Formulation) Problem(start []float64) *solver.Problem {
	lower, upper := f.Bounds()
	m := f.NumConstraints()
	return &solver.Problem{
		Lower:           lower,
		Upper:           upper,
		Start:           start,
		ConstraintLower: make([]float64, m),
		ConstraintUpper: make([]float64, m),
		Objective:       f.Cost,
		Gradient:        f.costGradient,
		Constraints:     f.Constraints,
		Jacobian:        f.Jacobian,
	}
}
