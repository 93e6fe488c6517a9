package mpc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitCurve(t *testing.T) {
	t.Parallel()

	t.Run("recovers a known cubic", func(t *testing.T) {
		t.Parallel()
		want := Curve{1.5, -0.3, 0.02, -0.001}
		xs := []float64{-5, 0, 4, 9, 15, 22, 30}
		ys := make([]float64, len(xs))
		for i, x := range xs {
			ys[i] = want.Eval(x)
		}

		got, err := FitCurve(xs, ys, 3)
		require.NoError(t, err)
		require.Len(t, got, 4)
		for i := range want {
			assert.InDelta(t, want[i], got[i], 1e-8, "coefficient %d", i)
		}
	})

	t.Run("least squares through noisy line", func(t *testing.T) {
		t.Parallel()
		xs := []float64{0, 1, 2, 3}
		ys := []float64{0.1, 0.9, 2.1, 2.9}
		got, err := FitCurve(xs, ys, 1)
		require.NoError(t, err)
		assert.InDelta(t, 0.96, got[1], 1e-9)
		assert.InDelta(t, 0.06, got[0], 1e-9)
	})

	t.Run("exactly order plus one points", func(t *testing.T) {
		t.Parallel()
		xs := []float64{1, 2, 3, 4}
		ys := []float64{2, 4, 1, 7}
		got, err := FitCurve(xs, ys, 3)
		require.NoError(t, err)
		for i := range xs {
			assert.InDelta(t, ys[i], got.Eval(xs[i]), 1e-8)
		}
	})

	t.Run("too few points", func(t *testing.T) {
		t.Parallel()
		_, err := FitCurve([]float64{1, 2, 3}, []float64{1, 2, 3}, 3)
		assert.ErrorIs(t, err, ErrInsufficientReferencePoints)
	})

	t.Run("mismatched lengths", func(t *testing.T) {
		t.Parallel()
		_, err := FitCurve([]float64{1, 2, 3, 4}, []float64{1, 2, 3}, 3)
		assert.ErrorIs(t, err, ErrMalformedTelemetry)
	})

	t.Run("duplicate x values do not panic", func(t *testing.T) {
		t.Parallel()
		assert.NotPanics(t, func() {
			_, _ = FitCurve([]float64{1, 1, 1, 1, 2}, []float64{0, 1, 2, 3, 4}, 3)
		})
	})
}

func TestCurveDerivatives(t *testing.T) {
	t.Parallel()

	c := Curve{2, -1, 0.5, 0.25}
	for _, x := range []float64{-3, 0, 1.5, 4} {
		assert.InDelta(t, 2-x+0.5*x*x+0.25*x*x*x, c.Eval(x), 1e-12)
		assert.InDelta(t, -1+x+0.75*x*x, c.Slope(x), 1e-12)
		assert.InDelta(t, 1+1.5*x, c.SecondDerivative(x), 1e-12)
		assert.InDelta(t, math.Atan(c.Slope(x)), c.Heading(x), 1e-12)
	}

	assert.Equal(t, 0.0, Curve{}.Eval(3))
	assert.Equal(t, 0.0, Curve{5}.Slope(3))
	assert.Equal(t, 0.0, Curve{5, 1}.SecondDerivative(3))
}
