package mpc

import (
	"context"
	"fmt"
	"math"
	"time"

	"mpc-path-tracker/path_tracking/solver"
)

// Telemetry is one inbound sample from the simulator or vehicle bus
type Telemetry struct {
	Pose  Pose
	Speed float64
	PtsX  []float64 // reference waypoints, map frame
	PtsY  []float64
}

// Validate rejects non-finite or inconsistent fields
func (t Telemetry) Validate() error {
	for name, v := range map[string]float64{"x": t.Pose.X, "y": t.Pose.Y, "psi": t.Pose.Psi, "speed": t.Speed} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is %v", ErrMalformedTelemetry, name, v)
		}
	}
	if len(t.PtsX) != len(t.PtsY) {
		return fmt.Errorf("%w: %d ptsx, %d ptsy", ErrMalformedTelemetry, len(t.PtsX), len(t.PtsY))
	}
	for i := range t.PtsX {
		if math.IsNaN(t.PtsX[i]) || math.IsNaN(t.PtsY[i]) || math.IsInf(t.PtsX[i], 0) || math.IsInf(t.PtsY[i], 0) {
			return fmt.Errorf("%w: waypoint %d is not finite", ErrMalformedTelemetry, i)
		}
	}
	return nil
}

// Diagnostics contains controller state for monitoring
type Diagnostics struct {
	Cycles          uint64
	Failures        uint64
	LastStatus      solver.Status
	LastSolveTime   time.Duration
	LastCost        float64
	LastViolation   float64
	LastIterations  int
	LatencyApplied  bool
	WarmStartedLast bool
}

// Controller runs the per-cycle pipeline: frame transform, curve fit,
// latency projection, formulation, solve and extraction. It is owned by a
// single control loop and is not safe for concurrent use.
type Controller struct {
	cfg    Config
	solver solver.Solver

	// last successfully commanded actuation, model units
	last *Actuation
	// last solution, for warm starts
	prev []float64

	diag Diagnostics
}

// NewController creates a controller for cfg using s as the optimizer.
func NewController(cfg Config, s solver.Solver) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if s == nil {
		return nil, fmt.Errorf("nil solver")
	}
	return &Controller{cfg: cfg, solver: s}, nil
}

// Config returns the controller tuning
func (c *Controller) Config() Config { return c.cfg }

// Step computes the command for one telemetry sample. On failure the
// returned command is the safe fallback and the error wraps one of
// ErrMalformedTelemetry, ErrInsufficientReferencePoints or ErrSolverFailure.
// Latency state only advances after a successful solve.
func (c *Controller) Step(ctx context.Context, tel Telemetry) (Command, error) {
	c.diag.Cycles++

	if err := tel.Validate(); err != nil {
		return c.fail(nil, nil), err
	}

	refX, refY := ToVehicleFrame(tel.PtsX, tel.PtsY, tel.Pose)
	curve, err := FitCurve(refX, refY, c.cfg.PolyOrder)
	if err != nil {
		return c.fail(refX, refY), fmt.Errorf("reference curve: %w", err)
	}

	state := ProjectLatency(NominalState(curve, tel.Speed), c.last, c.cfg)
	c.diag.LatencyApplied = c.last != nil && c.cfg.Latency > 0

	form, err := NewFormulation(c.cfg, curve, state)
	if err != nil {
		return c.fail(refX, refY), err
	}

	var previous []float64
	if c.cfg.WarmStart {
		previous = c.prev
	}
	c.diag.WarmStartedLast = len(previous) == form.Layout().Len()

	solveCtx := ctx
	if c.cfg.SolveTimeout > 0 {
		var cancel context.CancelFunc
		solveCtx, cancel = context.WithTimeout(ctx, c.cfg.SolveTimeout)
		defer cancel()
	}

	res, err := c.solver.Solve(solveCtx, form.Problem(form.InitialGuess(previous)))
	if res != nil {
		c.diag.LastStatus = res.Status
		c.diag.LastSolveTime = res.Duration
		c.diag.LastIterations = res.InnerIterations
		c.diag.LastViolation = res.MaxViolation
	}
	if err != nil {
		c.prev = nil
		return c.fail(refX, refY), fmt.Errorf("%w: %w", ErrSolverFailure, err)
	}
	if res == nil || len(res.X) != form.Layout().Len() {
		c.prev = nil
		return c.fail(refX, refY), fmt.Errorf("%w: solution has wrong length", ErrSolverFailure)
	}

	cmd, u := Extract(form.Layout(), res.X, c.cfg.MaxSteer)
	cmd.ReferenceX = refX
	cmd.ReferenceY = refY

	c.last = &u
	c.prev = res.X
	c.diag.LastCost = res.Objective
	return cmd, nil
}

func (c *Controller) fail(refX, refY []float64) Command {
	c.diag.Failures++
	cmd := c.Fallback()
	cmd.ReferenceX = refX
	cmd.ReferenceY = refY
	return cmd
}

// Fallback is the safe command for a failed cycle: zero throttle, steering
// held at the last successful command (zero before the first one), and no
// predicted path.
func (c *Controller) Fallback() Command {
	steer := 0.0
	if c.last != nil {
		steer = NormalizeSteering(c.last.Steer, c.cfg.MaxSteer)
	}
	return Command{Steering: steer, Throttle: 0}
}

// LastActuation returns the last successful command in model units.
func (c *Controller) LastActuation() (Actuation, bool) {
	if c.last == nil {
		return Actuation{}, false
	}
	return *c.last, true
}

// Reset forgets the latency and warm-start state
func (c *Controller) Reset() {
	c.last = nil
	c.prev = nil
}

// GetDiagnostics returns current state for logging
func (c *Controller) GetDiagnostics() Diagnostics {
	return c.diag
}
