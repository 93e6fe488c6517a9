package mpc

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Curve holds polynomial coefficients c0..cn, lowest order first
type Curve []float64

// FitCurve returns the least-squares polynomial of the given order through
// (xs, ys), solved with a Householder QR factorization of the Vandermonde
// matrix. Duplicate x values are not filtered; an ill-conditioned fit is
// returned as long as its coefficients are finite.
func FitCurve(xs, ys []float64, order int) (Curve, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("%w: %d x values, %d y values", ErrMalformedTelemetry, len(xs), len(ys))
	}
	if order < 1 {
		return nil, fmt.Errorf("invalid polynomial order %d", order)
	}
	if len(xs) < order+1 {
		return nil, fmt.Errorf("%w: got %d, need %d", ErrInsufficientReferencePoints, len(xs), order+1)
	}

	a := mat.NewDense(len(xs), order+1, nil)
	for i, x := range xs {
		p := 1.0
		for j := 0; j <= order; j++ {
			a.Set(i, j, p)
			p *= x
		}
	}

	var qr mat.QR
	qr.Factorize(a)

	var coeffs mat.VecDense
	err := qr.SolveVecTo(&coeffs, false, mat.NewVecDense(len(ys), ys))
	if err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || coeffs.Len() != order+1 {
			return nil, fmt.Errorf("fit reference curve: %w", err)
		}
	}

	out := make(Curve, order+1)
	for i := range out {
		out[i] = coeffs.AtVec(i)
		if math.IsNaN(out[i]) || math.IsInf(out[i], 0) {
			return nil, fmt.Errorf("fit reference curve: coefficient %d is %v", i, out[i])
		}
	}
	return out, nil
}

// Eval returns the curve value at x
func (c Curve) Eval(x float64) float64 {
	y := 0.0
	for i := len(c) - 1; i >= 0; i-- {
		y = y*x + c[i]
	}
	return y
}

// Slope returns the first derivative at x
func (c Curve) Slope(x float64) float64 {
	y := 0.0
	for i := len(c) - 1; i >= 1; i-- {
		y = y*x + float64(i)*c[i]
	}
	return y
}

// SecondDerivative returns the second derivative at x
func (c Curve) SecondDerivative(x float64) float64 {
	y := 0.0
	for i := len(c) - 1; i >= 2; i-- {
		y = y*x + float64(i*(i-1))*c[i]
	}
	return y
}

// Heading returns the tangent angle of the curve at x
func (c Curve) Heading(x float64) float64 {
	return math.Atan(c.Slope(x))
}
