package mpc

import "math"

// Command is what one cycle hands back to the transport
type Command struct {
	// Steering is normalized to [-1, 1] in the simulator convention:
	// positive steers right, so a left turn is negative.
	Steering float64
	// Throttle is in [-1, 1]
	Throttle float64

	// Predicted trajectory over the horizon, vehicle frame
	PredictedX []float64
	PredictedY []float64

	// Reference waypoints, vehicle frame
	ReferenceX []float64
	ReferenceY []float64
}

// Extract reads the first actuator pair and the predicted path out of a
// solved decision vector.
func Extract(l Layout, solution []float64, maxSteer float64) (Command, Actuation) {
	v := l.View(solution)
	u := v.Actuation(0)

	cmd := Command{
		Steering:   NormalizeSteering(u.Steer, maxSteer),
		Throttle:   clampFloat(u.Throttle, -1, 1),
		PredictedX: make([]float64, l.N),
		PredictedY: make([]float64, l.N),
	}
	for t := 0; t < l.N; t++ {
		cmd.PredictedX[t] = v.Get(FieldX, t)
		cmd.PredictedY[t] = v.Get(FieldY, t)
	}
	return cmd, u
}

// NormalizeSteering maps a model steering angle onto the actuator range.
func NormalizeSteering(steerRad, maxSteer float64) float64 {
	return clampFloat(-steerRad/maxSteer, -1, 1)
}

// DenormalizeSteering is the inverse of NormalizeSteering.
func DenormalizeSteering(steering, maxSteer float64) float64 {
	return -clampFloat(steering, -1, 1) * maxSteer
}

func clampFloat(value, lo, hi float64) float64 {
	if math.IsNaN(value) {
		return 0
	}
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
