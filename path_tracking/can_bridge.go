package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mpc-path-tracker/path_tracking/mpc"
	"mpc-path-tracker/utils"
)

// CommandSink receives the command of every control cycle
type CommandSink interface {
	Publish(cmd mpc.Command, solveOK bool)
}

// staleAfter is how long the bridge keeps repeating a command before it
// zeroes the throttle and clears solve_ok.
const staleAfter = 500 * time.Millisecond

// CANBridge forwards the latest command onto the vehicle bus at the cycle
// rate of its frame. When an enable frame is configured, actuation stays
// zeroed until the operator enables it.
type CANBridge struct {
	log      *utils.Logger
	cmap     *utils.CANMap
	fd       *utils.FrameDef
	enableFD *utils.FrameDef
	writer   utils.CANWriter
	reader   utils.CANReader

	mu        sync.Mutex
	latest    mpc.Command
	solveOK   bool
	updatedAt time.Time
	enabled   bool
}

var _ CommandSink = (*CANBridge)(nil)

// NewCANBridge validates the frames against the map. reader may be nil
// when enableFrame is empty.
func NewCANBridge(cmap *utils.CANMap, frameName, enableFrame string,
	writer utils.CANWriter, reader utils.CANReader, log *utils.Logger,
) (*CANBridge, error) {
	fd, err := cmap.FrameByName(frameName)
	if err != nil {
		return nil, fmt.Errorf("frame: %w", err)
	}
	if fd.CycleMS <= 0 {
		return nil, fmt.Errorf("frame %s has invalid cycle_ms %d", fd.Name, fd.CycleMS)
	}
	if fd.Direction != utils.DirectionTX {
		return nil, fmt.Errorf("frame %s is not a tx frame", fd.Name)
	}
	for _, sig := range []string{"steer_cmd_norm", "throttle_cmd_norm"} {
		if _, ok := fd.Signal(sig); !ok {
			return nil, fmt.Errorf("frame %s has no %s signal", fd.Name, sig)
		}
	}

	b := &CANBridge{
		log:     log,
		cmap:    cmap,
		fd:      fd,
		writer:  writer,
		reader:  reader,
		enabled: true,
	}
	if enableFrame != "" {
		efd, err := cmap.FrameByName(enableFrame)
		if err != nil {
			return nil, fmt.Errorf("enable frame: %w", err)
		}
		if _, ok := efd.Signal("enable"); !ok {
			return nil, fmt.Errorf("frame %s has no enable signal", efd.Name)
		}
		if reader == nil {
			return nil, fmt.Errorf("enable frame %s requires a CAN reader", efd.Name)
		}
		b.enableFD = efd
		b.enabled = false
	}
	return b, nil
}

func (b *CANBridge) Publish(cmd mpc.Command, solveOK bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = cmd
	b.solveOK = solveOK
	b.updatedAt = time.Now()
}

// Enabled reports the operator gate
func (b *CANBridge) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

func (b *CANBridge) Close() {
	if b.reader != nil {
		_ = b.reader.Close()
	}
	if b.writer != nil {
		_ = b.writer.Close()
	}
}

// frameValues builds the signal values for one transmission.
func (b *CANBridge) frameValues(now time.Time, counter uint64) map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	steer, throttle, ok := b.latest.Steering, b.latest.Throttle, b.solveOK
	switch {
	case !b.enabled:
		steer, throttle, ok = 0, 0, false
	case b.updatedAt.IsZero() || now.Sub(b.updatedAt) > staleAfter:
		throttle, ok = 0, false
	}
	return map[string]float64{
		"steer_cmd_norm":    steer,
		"throttle_cmd_norm": throttle,
		"solve_ok":          boolToFloat(ok),
		"cycle_counter":     float64(counter % 256),
	}
}

func (b *CANBridge) Run(ctx context.Context) error {
	b.log.Info("Starting CAN TX: frame=%s id=0x%X dlc=%d cycle_ms=%d gated=%v",
		b.fd.Name, b.fd.ID, b.fd.DLC, b.fd.CycleMS, b.enableFD != nil)

	if b.enableFD != nil {
		go b.receiveLoop(ctx)
	}

	ticker := time.NewTicker(b.fd.Cycle())
	defer ticker.Stop()

	var sent uint64
	for {
		select {
		case <-ctx.Done():
			b.log.Info("Completed CAN TX. frames_sent=%d", sent)
			return ctx.Err()

		case now := <-ticker.C:
			values := b.frameValues(now, sent)
			frame, err := b.cmap.EncodeEinrideFrame(b.fd.Name, values)
			if err != nil {
				b.log.Error("Encode failed: %v", err)
				return err
			}
			if err := b.writer.WriteFrame(ctx, frame); err != nil {
				if ctx.Err() != nil {
					continue
				}
				b.log.Critical("Transmit failed: %v", err)
				return err
			}
			sent++
			b.log.Trace("TX id=0x%X len=%d data=% X steer=%.4f throttle=%.4f ok=%.0f",
				frame.ID, frame.Length, frame.Data[:frame.Length],
				values["steer_cmd_norm"], values["throttle_cmd_norm"], values["solve_ok"])
		}
	}
}

// receiveLoop follows the operator enable frame
func (b *CANBridge) receiveLoop(ctx context.Context) {
	b.log.Debug("CAN RX loop started")
	defer b.log.Debug("CAN RX loop stopped")

	for {
		frame, err := b.reader.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.Error("RX error: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.fd.Cycle()):
			}
			continue
		}
		if frame.ID != b.enableFD.ID {
			continue
		}
		values, err := b.cmap.DecodeEinrideFrame(frame)
		if err != nil {
			b.log.Warn("Decode %s failed: %v", b.enableFD.Name, err)
			continue
		}
		enabled := values["enable"] >= 0.5

		b.mu.Lock()
		changed := enabled != b.enabled
		b.enabled = enabled
		b.mu.Unlock()
		if changed {
			b.log.Info("Operator enable=%v", enabled)
		}
	}
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
