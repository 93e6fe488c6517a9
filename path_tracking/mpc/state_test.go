package mpc

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNominalState(t *testing.T) {
	t.Parallel()

	s := NominalState(Curve{-1.2, 0.5, 0.01, 0.001}, 17)
	assert.Equal(t, 0.0, s.X)
	assert.Equal(t, 0.0, s.Y)
	assert.Equal(t, 0.0, s.Psi)
	assert.Equal(t, 17.0, s.V)
	assert.InDelta(t, -1.2, s.Cte, 1e-12)
	assert.InDelta(t, -math.Atan(0.5), s.Epsi, 1e-12)
}

func TestProjectLatency(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Latency = 100 * time.Millisecond
	s := State{V: 20, Cte: 0.5, Epsi: 0.1}

	t.Run("first cycle is identity", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, s, ProjectLatency(s, nil, cfg))
	})

	t.Run("zero latency is identity", func(t *testing.T) {
		t.Parallel()
		c := cfg
		c.Latency = 0
		assert.Equal(t, s, ProjectLatency(s, &Actuation{Steer: 0.2, Throttle: 1}, c))
	})

	t.Run("one bicycle step of the latency", func(t *testing.T) {
		t.Parallel()
		u := Actuation{Steer: 0.1, Throttle: 0.5}
		got := ProjectLatency(s, &u, cfg)
		L := 0.1
		yaw := 20 / cfg.Lf * 0.1 * L
		assert.InDelta(t, 20*L, got.X, 1e-12)
		assert.InDelta(t, 0, got.Y, 1e-12)
		assert.InDelta(t, yaw, got.Psi, 1e-12)
		assert.InDelta(t, 20+0.5*L, got.V, 1e-12)
		assert.InDelta(t, 0.5+20*math.Sin(0.1)*L, got.Cte, 1e-12)
		assert.InDelta(t, 0.1+yaw, got.Epsi, 1e-12)
	})
}

func TestLayout(t *testing.T) {
	t.Parallel()

	l := Layout{N: 10}
	assert.Equal(t, 78, l.Len())
	assert.Equal(t, 0, l.Index(FieldX, 0))
	assert.Equal(t, 10, l.Index(FieldY, 0))
	assert.Equal(t, 59, l.Index(FieldEpsi, 9))
	assert.Equal(t, 60, l.SteerIndex(0))
	assert.Equal(t, 68, l.SteerIndex(8))
	assert.Equal(t, 69, l.ThrottleIndex(0))
	assert.Equal(t, 77, l.ThrottleIndex(8))

	t.Run("every slot is addressed exactly once", func(t *testing.T) {
		t.Parallel()
		seen := make(map[int]bool, l.Len())
		for f := FieldX; f < numStateFields; f++ {
			for step := 0; step < l.N; step++ {
				seen[l.Index(f, step)] = true
			}
		}
		for step := 0; step < l.Controls(); step++ {
			seen[l.SteerIndex(step)] = true
			seen[l.ThrottleIndex(step)] = true
		}
		assert.Len(t, seen, l.Len())
	})

	t.Run("typed view writes through", func(t *testing.T) {
		t.Parallel()
		buf := make([]float64, l.Len())
		v := l.View(buf)
		s := State{X: 1, Y: 2, Psi: 3, V: 4, Cte: 5, Epsi: 6}
		v.SetState(3, s)
		v.SetActuation(2, Actuation{Steer: -0.2, Throttle: 0.7})
		assert.Equal(t, s, v.State(3))
		assert.Equal(t, 4.0, buf[l.Index(FieldV, 3)])
		assert.Equal(t, -0.2, buf[l.SteerIndex(2)])
		assert.Equal(t, 0.7, buf[l.ThrottleIndex(2)])
		assert.Equal(t, Actuation{Steer: -0.2, Throttle: 0.7}, v.Actuation(2))
	})

	t.Run("wrong length panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { l.View(make([]float64, 5)) })
	})
}
