package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"mpc-path-tracker/path_tracking/mpc"
)

// Config is the JSON file driving one tracker process
type Config struct {
	Meta   ConfigMeta   `json:"meta"`
	MPC    MPCConfig    `json:"mpc"`
	Server ServerConfig `json:"server"`
	CAN    CANConfig    `json:"can"`
}

type ConfigMeta struct {
	Name        string `json:"name"`
	Version     int    `json:"version"`
	Description string `json:"description"`
}

// MPCConfig is the file form of mpc.Config: degrees and milliseconds
// instead of radians and durations.
type MPCConfig struct {
	HorizonSteps   int           `json:"horizon_steps"`
	DtS            float64       `json:"dt_s"`
	LfM            float64       `json:"lf_m"`
	MaxSteerDeg    float64       `json:"max_steer_deg"`
	RefSpeed       float64       `json:"ref_speed"`
	LatencyMS      int           `json:"latency_ms"`
	SolveTimeoutMS int           `json:"solve_timeout_ms"`
	PolyOrder      int           `json:"poly_order"`
	WarmStart      bool          `json:"warm_start"`
	SpeedScale     float64       `json:"speed_scale"` // applied to telemetry speed before planning
	Weights        WeightsConfig `json:"weights"`
}

type WeightsConfig struct {
	Cte          float64 `json:"cte"`
	Epsi         float64 `json:"epsi"`
	Speed        float64 `json:"speed"`
	Steer        float64 `json:"steer"`
	Throttle     float64 `json:"throttle"`
	SteerRate    float64 `json:"steer_rate"`
	ThrottleRate float64 `json:"throttle_rate"`
}

type ServerConfig struct {
	ListenAddr       string `json:"listen_addr"`
	Path             string `json:"path"`
	SimulateLatency  bool   `json:"simulate_latency"` // sleep latency_ms before each reply
	DiagnosticsEvery int    `json:"diagnostics_every"`
}

type CANConfig struct {
	Enabled     bool   `json:"enabled"`
	Iface       string `json:"iface"`
	Map         string `json:"map"`
	Frame       string `json:"frame"`
	EnableFrame string `json:"enable_frame,omitempty"` // optional RX frame gating actuation
}

// DefaultConfig mirrors mpc.DefaultConfig and serves the simulator on :4567.
func DefaultConfig() Config {
	d := mpc.DefaultConfig()
	return Config{
		Meta: ConfigMeta{Name: "default", Version: 1},
		MPC: MPCConfig{
			HorizonSteps:   d.Horizon,
			DtS:            d.Dt,
			LfM:            d.Lf,
			MaxSteerDeg:    d.MaxSteer * 180 / math.Pi,
			RefSpeed:       d.RefSpeed,
			LatencyMS:      int(d.Latency / time.Millisecond),
			SolveTimeoutMS: int(d.SolveTimeout / time.Millisecond),
			PolyOrder:      d.PolyOrder,
			WarmStart:      d.WarmStart,
			SpeedScale:     1,
			Weights: WeightsConfig{
				Cte:          d.Weights.Cte,
				Epsi:         d.Weights.Epsi,
				Speed:        d.Weights.Speed,
				Steer:        d.Weights.Steer,
				Throttle:     d.Weights.Throttle,
				SteerRate:    d.Weights.SteerRate,
				ThrottleRate: d.Weights.ThrottleRate,
			},
		},
		Server: ServerConfig{
			ListenAddr:       ":4567",
			Path:             "/",
			SimulateLatency:  true,
			DiagnosticsEvery: 50,
		},
		CAN: CANConfig{
			Iface: "vcan0",
			Map:   "config/can_map.csv",
			Frame: "MPC_CMD",
		},
	}
}

// LoadConfig reads a config file. Fields absent from the file keep their
// DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read file: %w", err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if _, err := c.MPC.ControllerConfig(); err != nil {
		return fmt.Errorf("mpc: %w", err)
	}
	if c.MPC.SpeedScale <= 0 || math.IsNaN(c.MPC.SpeedScale) {
		return fmt.Errorf("mpc: invalid speed_scale: %f", c.MPC.SpeedScale)
	}
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server: listen_addr is required")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server: path must start with /, got %q", c.Server.Path)
	}
	if c.Server.DiagnosticsEvery < 0 {
		return fmt.Errorf("server: invalid diagnostics_every: %d", c.Server.DiagnosticsEvery)
	}
	if c.CAN.Enabled {
		if c.CAN.Iface == "" || c.CAN.Map == "" || c.CAN.Frame == "" {
			return fmt.Errorf("can: enabled requires iface, map and frame")
		}
	}
	return nil
}

// ControllerConfig converts the file form into a validated mpc.Config.
func (m MPCConfig) ControllerConfig() (mpc.Config, error) {
	if m.LatencyMS < 0 {
		return mpc.Config{}, fmt.Errorf("invalid latency_ms: %d", m.LatencyMS)
	}
	if m.SolveTimeoutMS < 0 {
		return mpc.Config{}, fmt.Errorf("invalid solve_timeout_ms: %d", m.SolveTimeoutMS)
	}
	cfg := mpc.Config{
		Horizon:      m.HorizonSteps,
		Dt:           m.DtS,
		Lf:           m.LfM,
		MaxSteer:     m.MaxSteerDeg * math.Pi / 180,
		RefSpeed:     m.RefSpeed,
		Latency:      time.Duration(m.LatencyMS) * time.Millisecond,
		SolveTimeout: time.Duration(m.SolveTimeoutMS) * time.Millisecond,
		PolyOrder:    m.PolyOrder,
		WarmStart:    m.WarmStart,
		Weights: mpc.Weights{
			Cte:          m.Weights.Cte,
			Epsi:         m.Weights.Epsi,
			Speed:        m.Weights.Speed,
			Steer:        m.Weights.Steer,
			Throttle:     m.Weights.Throttle,
			SteerRate:    m.Weights.SteerRate,
			ThrottleRate: m.Weights.ThrottleRate,
		},
	}
	if err := cfg.Validate(); err != nil {
		return mpc.Config{}, err
	}
	return cfg, nil
}
