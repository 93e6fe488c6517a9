package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"mpc-path-tracker/path_tracking/mpc"
)

// The simulator speaks socket.io over a plain websocket: an event frame is
// "42" followed by a JSON array ["event", {data}].
const (
	eventPrefix    = "42"
	eventTelemetry = "telemetry"
	eventSteer     = "steer"
	manualReply    = `42["manual",{}]`
)

// extractPayload returns the JSON array of an event frame, or "" when the
// frame carries no data.
func extractPayload(msg string) string {
	if strings.Contains(msg, "null") {
		return ""
	}
	b1 := strings.Index(msg, "[")
	b2 := strings.LastIndex(msg, "}]")
	if b1 != -1 && b2 > b1 {
		return msg[b1 : b2+2]
	}
	return ""
}

// parseEvent splits an event array into its name and raw data object.
func parseEvent(payload string) (string, json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &parts); err != nil {
		return "", nil, fmt.Errorf("%w: event array: %v", mpc.ErrMalformedTelemetry, err)
	}
	if len(parts) < 2 {
		return "", nil, fmt.Errorf("%w: event array has %d elements", mpc.ErrMalformedTelemetry, len(parts))
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, fmt.Errorf("%w: event name: %v", mpc.ErrMalformedTelemetry, err)
	}
	return name, parts[1], nil
}

type telemetryMessage struct {
	PtsX  []float64 `json:"ptsx"`
	PtsY  []float64 `json:"ptsy"`
	X     *float64  `json:"x"`
	Y     *float64  `json:"y"`
	Psi   *float64  `json:"psi"`
	Speed *float64  `json:"speed"`
}

// decodeTelemetry parses a telemetry object. speedScale converts the
// simulator's speed unit into the unit the controller is tuned in.
func decodeTelemetry(data json.RawMessage, speedScale float64) (mpc.Telemetry, error) {
	var m telemetryMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return mpc.Telemetry{}, fmt.Errorf("%w: %v", mpc.ErrMalformedTelemetry, err)
	}
	for name, v := range map[string]*float64{"x": m.X, "y": m.Y, "psi": m.Psi, "speed": m.Speed} {
		if v == nil {
			return mpc.Telemetry{}, fmt.Errorf("%w: missing %s", mpc.ErrMalformedTelemetry, name)
		}
	}
	tel := mpc.Telemetry{
		Pose:  mpc.Pose{X: *m.X, Y: *m.Y, Psi: *m.Psi},
		Speed: *m.Speed * speedScale,
		PtsX:  m.PtsX,
		PtsY:  m.PtsY,
	}
	return tel, tel.Validate()
}

type steerMessage struct {
	SteeringAngle float64   `json:"steering_angle"`
	Throttle      float64   `json:"throttle"`
	MpcX          []float64 `json:"mpc_x"`
	MpcY          []float64 `json:"mpc_y"`
	NextX         []float64 `json:"next_x"`
	NextY         []float64 `json:"next_y"`
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}

// encodeSteer renders cmd as a steer event frame.
func encodeSteer(cmd mpc.Command) (string, error) {
	body, err := json.Marshal(steerMessage{
		SteeringAngle: cmd.Steering,
		Throttle:      cmd.Throttle,
		MpcX:          nonNil(cmd.PredictedX),
		MpcY:          nonNil(cmd.PredictedY),
		NextX:         nonNil(cmd.ReferenceX),
		NextY:         nonNil(cmd.ReferenceY),
	})
	if err != nil {
		return "", err
	}
	return eventPrefix + `["` + eventSteer + `",` + string(body) + "]", nil
}
