package mpc

import "math"

// Pose is the vehicle position and heading in the map frame
type Pose struct {
	X   float64
	Y   float64
	Psi float64
}

// ToVehicleFrame re-expresses map-frame points in the body frame of a vehicle
// at pose: the vehicle sits at the origin facing +x. Order is preserved.
func ToVehicleFrame(xs, ys []float64, pose Pose) (vx, vy []float64) {
	n := min(len(xs), len(ys))
	vx = make([]float64, n)
	vy = make([]float64, n)
	cos, sin := math.Cos(-pose.Psi), math.Sin(-pose.Psi)
	for i := 0; i < n; i++ {
		dx := xs[i] - pose.X
		dy := ys[i] - pose.Y
		vx[i] = cos*dx - sin*dy
		vy[i] = cos*dy + sin*dx
	}
	return vx, vy
}

// ToMapFrame is the inverse of ToVehicleFrame.
func ToMapFrame(vx, vy []float64, pose Pose) (xs, ys []float64) {
	n := min(len(vx), len(vy))
	xs = make([]float64, n)
	ys = make([]float64, n)
	cos, sin := math.Cos(pose.Psi), math.Sin(pose.Psi)
	for i := 0; i < n; i++ {
		xs[i] = cos*vx[i] - sin*vy[i] + pose.X
		ys[i] = sin*vx[i] + cos*vy[i] + pose.Y
	}
	return xs, ys
}
