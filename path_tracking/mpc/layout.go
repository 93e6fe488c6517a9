package mpc

// Field names one per-step state component of the decision vector
type Field int

const (
	FieldX Field = iota
	FieldY
	FieldPsi
	FieldV
	FieldCte
	FieldEpsi

	numStateFields = 6
)

// Layout fixes the offsets of the flat decision vector for a horizon of N
// steps:
//
//	[x0..xN-1 | y.. | psi.. | v.. | cte.. | epsi.. | delta0..deltaN-2 | a0..aN-2]
//
// Formulation and extraction share it, so an index is computed in one place.
type Layout struct {
	N int
}

// Len is the total number of decision variables
func (l Layout) Len() int { return numStateFields*l.N + 2*(l.N-1) }

// Index of state field f at step t
func (l Layout) Index(f Field, t int) int { return int(f)*l.N + t }

// SteerIndex of the steering actuator at control step t
func (l Layout) SteerIndex(t int) int { return numStateFields*l.N + t }

// ThrottleIndex of the throttle actuator at control step t
func (l Layout) ThrottleIndex(t int) int { return numStateFields*l.N + (l.N - 1) + t }

// Controls is the number of actuator steps
func (l Layout) Controls() int { return l.N - 1 }

// Vars is a typed view over a flat decision vector. It does not copy.
type Vars struct {
	l    Layout
	data []float64
}

// View wraps data, which must have length l.Len().
func (l Layout) View(data []float64) Vars {
	if len(data) != l.Len() {
		panic("mpc: decision vector length does not match layout")
	}
	return Vars{l: l, data: data}
}

// Raw returns the underlying buffer
func (v Vars) Raw() []float64 { return v.data }

func (v Vars) Get(f Field, t int) float64    { return v.data[v.l.Index(f, t)] }
func (v Vars) Set(f Field, t int, x float64) { v.data[v.l.Index(f, t)] = x }

func (v Vars) Steer(t int) float64    { return v.data[v.l.SteerIndex(t)] }
func (v Vars) Throttle(t int) float64 { return v.data[v.l.ThrottleIndex(t)] }

func (v Vars) SetActuation(t int, u Actuation) {
	v.data[v.l.SteerIndex(t)] = u.Steer
	v.data[v.l.ThrottleIndex(t)] = u.Throttle
}

// Actuation at control step t
func (v Vars) Actuation(t int) Actuation {
	return Actuation{Steer: v.Steer(t), Throttle: v.Throttle(t)}
}

// State at step t
func (v Vars) State(t int) State {
	return State{
		X:    v.Get(FieldX, t),
		Y:    v.Get(FieldY, t),
		Psi:  v.Get(FieldPsi, t),
		V:    v.Get(FieldV, t),
		Cte:  v.Get(FieldCte, t),
		Epsi: v.Get(FieldEpsi, t),
	}
}

// SetState writes all fields of step t
func (v Vars) SetState(t int, s State) {
	v.Set(FieldX, t, s.X)
	v.Set(FieldY, t, s.Y)
	v.Set(FieldPsi, t, s.Psi)
	v.Set(FieldV, t, s.V)
	v.Set(FieldCte, t, s.Cte)
	v.Set(FieldEpsi, t, s.Epsi)
}

func (s State) field(f Field) float64 {
	switch f {
	case FieldX:
		return s.X
	case FieldY:
		return s.Y
	case FieldPsi:
		return s.Psi
	case FieldV:
		return s.V
	case FieldCte:
		return s.Cte
	default:
		return s.Epsi
	}
}
