package solver

import "math"

type varKind uint8

const (
	kindFree varKind = iota
	kindFixed
	kindBox
	kindLower
	kindUpper
)

// varMap maps the unconstrained search space z onto x so that variable
// bounds hold by construction. Fixed variables are removed from z.
//
//	box:   x = mid + half*sin(z)
//	lower: x = l + softplus(z)
//	upper: x = u - softplus(z)
type varMap struct {
	kinds []varKind
	lower []float64
	upper []float64
	free  []int // x index of each z component
}

func newVarMap(lower, upper []float64) *varMap {
	n := len(lower)
	vm := &varMap{
		kinds: make([]varKind, n),
		lower: lower,
		upper: upper,
		free:  make([]int, 0, n),
	}
	for i := 0; i < n; i++ {
		hasLo := lower[i] > -Infinity
		hasHi := upper[i] < Infinity
		switch {
		case lower[i] == upper[i]:
			vm.kinds[i] = kindFixed
			continue
		case hasLo && hasHi:
			vm.kinds[i] = kindBox
		case hasLo:
			vm.kinds[i] = kindLower
		case hasHi:
			vm.kinds[i] = kindUpper
		default:
			vm.kinds[i] = kindFree
		}
		vm.free = append(vm.free, i)
	}
	return vm
}

func (vm *varMap) dim() int { return len(vm.free) }

// toX writes the point for z into x, including the fixed values.
func (vm *varMap) toX(x, z []float64) {
	for i, k := range vm.kinds {
		if k == kindFixed {
			x[i] = vm.lower[i]
		}
	}
	for j, i := range vm.free {
		lo, hi := vm.lower[i], vm.upper[i]
		switch vm.kinds[i] {
		case kindBox:
			x[i] = 0.5*(lo+hi) + 0.5*(hi-lo)*math.Sin(z[j])
		case kindLower:
			x[i] = lo + softplus(z[j])
		case kindUpper:
			x[i] = hi - softplus(z[j])
		default:
			x[i] = z[j]
		}
	}
}

// toZ inverts toX for a starting point. Points on or outside a bound are
// pulled slightly inside so the mapping keeps a usable derivative.
func (vm *varMap) toZ(z, x []float64) {
	for j, i := range vm.free {
		lo, hi := vm.lower[i], vm.upper[i]
		switch vm.kinds[i] {
		case kindBox:
			half := 0.5 * (hi - lo)
			ratio := (x[i] - 0.5*(lo+hi)) / half
			z[j] = math.Asin(math.Max(-0.99, math.Min(0.99, ratio)))
		case kindLower:
			z[j] = softplusInv(x[i] - lo)
		case kindUpper:
			z[j] = softplusInv(hi - x[i])
		default:
			z[j] = x[i]
		}
	}
}

// chain applies dx/dz to a gradient with respect to x.
func (vm *varMap) chain(gz, gx, z []float64) {
	for j, i := range vm.free {
		switch vm.kinds[i] {
		case kindBox:
			gz[j] = gx[i] * 0.5 * (vm.upper[i] - vm.lower[i]) * math.Cos(z[j])
		case kindLower:
			gz[j] = gx[i] * sigmoid(z[j])
		case kindUpper:
			gz[j] = -gx[i] * sigmoid(z[j])
		default:
			gz[j] = gx[i]
		}
	}
}

func softplus(z float64) float64 {
	if z > 30 {
		return z
	}
	return math.Log1p(math.Exp(z))
}

func softplusInv(s float64) float64 {
	if s < 1e-8 {
		s = 1e-8
	}
	if s > 30 {
		return s
	}
	return math.Log(math.Expm1(s))
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
