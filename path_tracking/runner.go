package main

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"mpc-path-tracker/utils"
)

type Runner struct {
	cfg    Config
	log    *utils.Logger
	server *Server
	bridge *CANBridge // nil when CAN is disabled
}

// NewRunner wires the simulator server and, when enabled, the CAN bridge.
func NewRunner(ctx context.Context, cfg Config, log *utils.Logger) (*Runner, error) {
	var bridge *CANBridge
	if cfg.CAN.Enabled {
		cmap, err := utils.LoadCANMap(cfg.CAN.Map)
		if err != nil {
			return nil, fmt.Errorf("load can map: %w", err)
		}
		writer, err := utils.NewSocketCANWriter(ctx, cfg.CAN.Iface)
		if err != nil {
			return nil, err
		}
		var reader utils.CANReader
		if cfg.CAN.EnableFrame != "" {
			r, err := utils.NewSocketCANReader(ctx, cfg.CAN.Iface)
			if err != nil {
				_ = writer.Close()
				return nil, err
			}
			reader = r
		}
		bridge, err = NewCANBridge(cmap, cfg.CAN.Frame, cfg.CAN.EnableFrame, writer, reader, log.With("can"))
		if err != nil {
			_ = writer.Close()
			if reader != nil {
				_ = reader.Close()
			}
			return nil, err
		}
	}
	return newRunner(cfg, log, bridge)
}

func newRunner(cfg Config, log *utils.Logger, bridge *CANBridge) (*Runner, error) {
	var sink CommandSink
	if bridge != nil {
		sink = bridge
	}
	server, err := NewServer(cfg, sink, log)
	if err != nil {
		return nil, err
	}
	return &Runner{cfg: cfg, log: log, server: server, bridge: bridge}, nil
}

func (r *Runner) Close() {
	if r.bridge != nil {
		r.bridge.Close()
	}
}

// Run blocks until ctx is done or a component fails; either way every
// component is stopped before it returns.
func (r *Runner) Run(ctx context.Context) error {
	mc := r.server.ctrlCfg
	r.log.Info("Starting tracker %q: N=%d dt=%.3fs lf=%.2fm max_steer=%.3frad ref_speed=%.1f latency=%v timeout=%v warm_start=%v can=%v",
		r.cfg.Meta.Name, mc.Horizon, mc.Dt, mc.Lf, mc.MaxSteer, mc.RefSpeed,
		mc.Latency, mc.SolveTimeout, mc.WarmStart, r.bridge != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.server.Run(gctx) })
	if r.bridge != nil {
		g.Go(func() error { return r.bridge.Run(gctx) })
	}
	return g.Wait()
}
