package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"mpc-path-tracker/path_tracking/mpc"
	"mpc-path-tracker/path_tracking/solver"
	"mpc-path-tracker/utils"
)

// Server accepts simulator connections and runs one controller per
// connection.
type Server struct {
	cfg     Config
	ctrlCfg mpc.Config
	log     *utils.Logger
	sink    CommandSink // optional

	upgrader websocket.Upgrader
	sessions sync.WaitGroup
}

func NewServer(cfg Config, sink CommandSink, log *utils.Logger) (*Server, error) {
	ctrlCfg, err := cfg.MPC.ControllerConfig()
	if err != nil {
		return nil, fmt.Errorf("mpc config: %w", err)
	}
	return &Server{
		cfg:     cfg,
		ctrlCfg: ctrlCfg,
		log:     log,
		sink:    sink,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}, nil
}

// Handler serves the websocket endpoint. Sessions end when ctx is done.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Server.Path, func(w http.ResponseWriter, r *http.Request) {
		s.handleWebSocket(ctx, w, r)
	})
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("Listening for simulator on %s%s", s.cfg.Server.ListenAddr, s.cfg.Server.Path)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("HTTP shutdown: %v", err)
		}
		s.sessions.Wait()
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("listen %s: %w", s.cfg.Server.ListenAddr, err)
	}
}

func (s *Server) handleWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	ctrl, err := mpc.NewController(s.ctrlCfg, solver.NewAugmentedLagrangian(solver.Settings{}))
	if err != nil {
		s.log.Error("Controller: %v", err)
		_ = conn.Close()
		return
	}

	sess := &session{
		id:   uuid.NewString(),
		srv:  s,
		conn: conn,
		ctrl: ctrl,
	}
	sess.log = s.log.With("session=" + sess.id[:8])

	s.sessions.Add(1)
	defer s.sessions.Done()
	sess.serve(ctx, r.RemoteAddr)
}

type session struct {
	id   string
	srv  *Server
	log  *utils.Logger
	conn *websocket.Conn
	ctrl *mpc.Controller
}

func (ss *session) serve(ctx context.Context, remote string) {
	defer ss.conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = ss.conn.Close() })
	defer stop()

	ss.log.Info("Connected remote=%s", remote)
	for {
		_, msg, err := ss.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ss.log.Info("Disconnected")
			} else {
				ss.log.Warn("Read failed: %v", err)
			}
			break
		}

		reply, ok := ss.handleMessage(ctx, string(msg))
		if !ok {
			continue
		}
		if err := ss.conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
			ss.log.Warn("Write failed: %v", err)
			break
		}
	}

	d := ss.ctrl.GetDiagnostics()
	ss.log.Info("Session closed: cycles=%d failures=%d", d.Cycles, d.Failures)
}

// handleMessage returns the reply for one inbound frame; ok is false when
// the frame needs no reply.
func (ss *session) handleMessage(ctx context.Context, msg string) (string, bool) {
	if len(msg) <= len(eventPrefix) || !strings.HasPrefix(msg, eventPrefix) {
		return "", false
	}
	payload := extractPayload(msg)
	if payload == "" {
		return manualReply, true
	}
	event, data, err := parseEvent(payload)
	if err != nil {
		ss.log.Warn("Bad event frame: %v", err)
		return manualReply, true
	}
	if event != eventTelemetry {
		ss.log.Trace("Ignoring event %q", event)
		return "", false
	}
	return ss.handleTelemetry(ctx, data), true
}

func (ss *session) handleTelemetry(ctx context.Context, data json.RawMessage) string {
	cfg := ss.srv.cfg

	var cmd mpc.Command
	tel, err := decodeTelemetry(data, cfg.MPC.SpeedScale)
	if err != nil {
		ss.log.Warn("Malformed telemetry: %v", err)
		cmd = ss.ctrl.Fallback()
	} else {
		cmd, err = ss.ctrl.Step(ctx, tel)
		d := ss.ctrl.GetDiagnostics()
		switch {
		case errors.Is(err, mpc.ErrSolverFailure):
			ss.log.Warn("Cycle %d: %v (status=%s, %v)", d.Cycles, err, d.LastStatus, d.LastSolveTime)
		case err != nil:
			ss.log.Warn("Cycle %d: %v", d.Cycles, err)
		default:
			ss.log.Debug("Cycle %d: steer=%.4f throttle=%.4f cost=%.2f iters=%d solve=%v",
				d.Cycles, cmd.Steering, cmd.Throttle, d.LastCost, d.LastIterations, d.LastSolveTime)
		}
		if every := uint64(cfg.Server.DiagnosticsEvery); every > 0 && d.Cycles%every == 0 {
			ss.log.Info("Diagnostics: cycles=%d failures=%d last_status=%s last_solve=%v warm=%v latency=%v",
				d.Cycles, d.Failures, d.LastStatus, d.LastSolveTime, d.WarmStartedLast, d.LatencyApplied)
		}
	}

	if ss.srv.sink != nil {
		ss.srv.sink.Publish(cmd, err == nil)
	}

	if cfg.Server.SimulateLatency && ss.srv.ctrlCfg.Latency > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(ss.srv.ctrlCfg.Latency):
		}
	}

	reply, err := encodeSteer(cmd)
	if err != nil {
		ss.log.Error("Encode steer: %v", err)
		return manualReply
	}
	return reply
}
