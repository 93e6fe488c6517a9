package mpc

import "math"

// State is the vehicle state in the vehicle frame of the current cycle
type State struct {
	X    float64
	Y    float64
	Psi  float64
	V    float64
	Cte  float64
	Epsi float64
}

// Actuation is a command in model units: steering angle (radians, positive
// turns toward +y) and throttle treated as acceleration.
type Actuation struct {
	Steer    float64
	Throttle float64
}

// NominalState is the state at the vehicle-frame origin before latency
// compensation: cte is the curve offset at x=0 and epsi the heading error
// against the curve tangent there.
func NominalState(curve Curve, speed float64) State {
	return State{
		V:    speed,
		Cte:  curve.Eval(0),
		Epsi: -curve.Heading(0),
	}
}

// Advance integrates the kinematic bicycle model for dt seconds.
func (s State) Advance(u Actuation, lf, dt float64) State {
	yawStep := s.V / lf * u.Steer * dt
	return State{
		X:    s.X + s.V*math.Cos(s.Psi)*dt,
		Y:    s.Y + s.V*math.Sin(s.Psi)*dt,
		Psi:  s.Psi + yawStep,
		V:    s.V + u.Throttle*dt,
		Cte:  s.Cte + s.V*math.Sin(s.Epsi)*dt,
		Epsi: s.Epsi + yawStep,
	}
}

// ProjectLatency returns the state the optimizer should plan from: s
// advanced by the configured latency under the last applied command. With
// no prior command (first cycle, or after a restart) s is returned as is.
func ProjectLatency(s State, last *Actuation, cfg Config) State {
	if last == nil || cfg.Latency <= 0 {
		return s
	}
	return s.Advance(*last, cfg.Lf, cfg.Latency.Seconds())
}
