package main

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.einride.tech/can"

	"mpc-path-tracker/path_tracking/mpc"
	"mpc-path-tracker/utils"
)

const bridgeMap = `direction,frame_id,frame_name,cycle_ms,dlc,signal_name,start_bit,bit_length,endianness,signed,factor,offset,min,max,default,unit,comment
tx,0x310,MPC_CMD,5,8,steer_cmd_norm,0,16,little,true,0.0001,0,-1,1,0,-,
tx,0x310,MPC_CMD,5,8,throttle_cmd_norm,16,16,little,true,0.0001,0,-1,1,0,-,
tx,0x310,MPC_CMD,5,8,solve_ok,32,1,little,false,1,0,0,1,0,bool,
tx,0x310,MPC_CMD,5,8,cycle_counter,40,8,little,false,1,0,0,255,0,count,
rx,0x110,DRIVE_ENABLE,50,1,enable,0,1,little,false,1,0,0,1,0,bool,
rx,0x120,OTHER,50,1,value,0,8,little,false,1,0,0,255,0,,
`

func testLogger() *utils.Logger {
	return utils.NewWriterLogger(io.Discard, utils.CRITICAL)
}

func loadBridgeMap(t *testing.T) *utils.CANMap {
	t.Helper()
	m, err := utils.ParseCANMap(strings.NewReader(bridgeMap))
	require.NoError(t, err)
	return m
}

type fakeWriter struct {
	mu     sync.Mutex
	frames []can.Frame
}

func (w *fakeWriter) WriteFrame(_ context.Context, f can.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, f)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func (w *fakeWriter) last(t *testing.T, m *utils.CANMap) map[string]float64 {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	require.NotEmpty(t, w.frames)
	values, err := m.DecodeEinrideFrame(w.frames[len(w.frames)-1])
	require.NoError(t, err)
	return values
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

type fakeReader struct {
	frames chan can.Frame
}

func (r *fakeReader) ReadFrame(ctx context.Context) (can.Frame, error) {
	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case f, ok := <-r.frames:
		if !ok {
			return can.Frame{}, errors.New("closed")
		}
		return f, nil
	}
}

func (r *fakeReader) Close() error { return nil }

func runBridge(t *testing.T, b *CANBridge) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	})
}

func TestCANBridge_TransmitsLatestCommand(t *testing.T) {
	t.Parallel()

	m := loadBridgeMap(t)
	w := &fakeWriter{}
	b, err := NewCANBridge(m, "MPC_CMD", "", w, nil, testLogger())
	require.NoError(t, err)
	assert.True(t, b.Enabled())

	b.Publish(mpc.Command{Steering: -0.3, Throttle: 0.6}, true)
	runBridge(t, b)

	require.Eventually(t, func() bool { return w.count() >= 3 }, time.Second, 5*time.Millisecond)
	v := w.last(t, m)
	assert.InDelta(t, -0.3, v["steer_cmd_norm"], 1e-4)
	assert.InDelta(t, 0.6, v["throttle_cmd_norm"], 1e-4)
	assert.Equal(t, 1.0, v["solve_ok"])
}

func TestCANBridge_FrameValues(t *testing.T) {
	t.Parallel()

	m := loadBridgeMap(t)
	b, err := NewCANBridge(m, "MPC_CMD", "", &fakeWriter{}, nil, testLogger())
	require.NoError(t, err)
	now := time.Now()

	t.Run("nothing published yet", func(t *testing.T) {
		v := b.frameValues(now, 0)
		assert.Equal(t, 0.0, v["throttle_cmd_norm"])
		assert.Equal(t, 0.0, v["solve_ok"])
	})

	t.Run("failed cycle", func(t *testing.T) {
		b.Publish(mpc.Command{Steering: 0.2, Throttle: 0}, false)
		v := b.frameValues(time.Now(), 1)
		assert.Equal(t, 0.2, v["steer_cmd_norm"])
		assert.Equal(t, 0.0, v["solve_ok"])
	})

	t.Run("stale command zeroes throttle", func(t *testing.T) {
		b.Publish(mpc.Command{Steering: 0.2, Throttle: 0.9}, true)
		v := b.frameValues(time.Now().Add(2*staleAfter), 300)
		assert.Equal(t, 0.2, v["steer_cmd_norm"])
		assert.Equal(t, 0.0, v["throttle_cmd_norm"])
		assert.Equal(t, 0.0, v["solve_ok"])
		assert.Equal(t, 44.0, v["cycle_counter"])
	})
}

func TestCANBridge_EnableGate(t *testing.T) {
	t.Parallel()

	m := loadBridgeMap(t)
	w := &fakeWriter{}
	r := &fakeReader{frames: make(chan can.Frame, 4)}
	b, err := NewCANBridge(m, "MPC_CMD", "DRIVE_ENABLE", w, r, testLogger())
	require.NoError(t, err)
	assert.False(t, b.Enabled())

	b.Publish(mpc.Command{Steering: 0.5, Throttle: 0.5}, true)
	v := b.frameValues(time.Now(), 0)
	assert.Equal(t, 0.0, v["steer_cmd_norm"])
	assert.Equal(t, 0.0, v["throttle_cmd_norm"])

	runBridge(t, b)

	other, err := m.EncodeEinrideFrame("OTHER", map[string]float64{"value": 1})
	require.NoError(t, err)
	r.frames <- other
	on, err := m.EncodeEinrideFrame("DRIVE_ENABLE", map[string]float64{"enable": 1})
	require.NoError(t, err)
	r.frames <- on
	require.Eventually(t, b.Enabled, time.Second, 5*time.Millisecond)

	off, err := m.EncodeEinrideFrame("DRIVE_ENABLE", map[string]float64{"enable": 0})
	require.NoError(t, err)
	r.frames <- off
	require.Eventually(t, func() bool { return !b.Enabled() }, time.Second, 5*time.Millisecond)
}

func TestNewCANBridge_Invalid(t *testing.T) {
	t.Parallel()

	m := loadBridgeMap(t)
	w := &fakeWriter{}
	_, err := NewCANBridge(m, "NOPE", "", w, nil, testLogger())
	assert.Error(t, err)
	_, err = NewCANBridge(m, "DRIVE_ENABLE", "", w, nil, testLogger())
	assert.ErrorContains(t, err, "not a tx frame")
	_, err = NewCANBridge(m, "MPC_CMD", "DRIVE_ENABLE", w, nil, testLogger())
	assert.ErrorContains(t, err, "requires a CAN reader")
	_, err = NewCANBridge(m, "MPC_CMD", "OTHER", w, &fakeReader{}, testLogger())
	assert.ErrorContains(t, err, "no enable signal")
}
