package mpc

import (
	"fmt"
	"math"
	"time"
)

// Weights scales each term of the MPC objective
type Weights struct {
	Cte          float64
	Epsi         float64
	Speed        float64
	Steer        float64
	Throttle     float64
	SteerRate    float64
	ThrottleRate float64
}

// Config is the immutable tuning of one controller. It is passed by value
// into every formulation, so concurrent tests can run different tunings.
type Config struct {
	Horizon      int           // N, number of predicted steps
	Dt           float64       // step duration, seconds
	Lf           float64       // center of mass to front axle, meters
	MaxSteer     float64       // radians
	RefSpeed     float64       // speed the cost tracks, telemetry units
	Latency      time.Duration // actuation latency compensated before planning
	SolveTimeout time.Duration // zero disables the deadline
	PolyOrder    int
	WarmStart    bool
	Weights      Weights
}

// DefaultConfig returns the tuning used by the simulator runs.
func DefaultConfig() Config {
	return Config{
		Horizon:      10,
		Dt:           0.1,
		Lf:           2.67,
		MaxSteer:     25 * math.Pi / 180,
		RefSpeed:     40,
		Latency:      100 * time.Millisecond,
		SolveTimeout: 250 * time.Millisecond,
		PolyOrder:    3,
		Weights: Weights{
			Cte:          2000,
			Epsi:         2000,
			Speed:        1,
			Steer:        5,
			Throttle:     5,
			SteerRate:    200,
			ThrottleRate: 10,
		},
	}
}

// Validate checks the configuration for values the formulation cannot use.
func (c Config) Validate() error {
	if c.Horizon < 3 {
		return fmt.Errorf("horizon must be at least 3 steps, got %d", c.Horizon)
	}
	if c.Dt <= 0 {
		return fmt.Errorf("invalid dt: %f", c.Dt)
	}
	if c.Lf <= 0 {
		return fmt.Errorf("invalid lf: %f", c.Lf)
	}
	if c.MaxSteer <= 0 || c.MaxSteer >= math.Pi/2 {
		return fmt.Errorf("invalid max steer: %f rad", c.MaxSteer)
	}
	if c.Latency < 0 || c.SolveTimeout < 0 {
		return fmt.Errorf("durations must not be negative (latency=%v timeout=%v)", c.Latency, c.SolveTimeout)
	}
	if c.PolyOrder < 1 {
		return fmt.Errorf("invalid polynomial order: %d", c.PolyOrder)
	}
	w := c.Weights
	for name, v := range map[string]float64{
		"cte": w.Cte, "epsi": w.Epsi, "speed": w.Speed, "steer": w.Steer,
		"throttle": w.Throttle, "steer_rate": w.SteerRate, "throttle_rate": w.ThrottleRate,
	} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("invalid %s weight: %f", name, v)
		}
	}
	return nil
}

// MinReferencePoints is the number of waypoints required for the configured fit.
func (c Config) MinReferencePoints() int { return c.PolyOrder + 1 }
