package utils

import (
	"fmt"
	"math"

	"go.einride.tech/can"
)

// EncodeFrame packs physical values into the payload of frameName. Missing
// signals take their default; values are clamped to [min, max] and then
// saturated to the raw field width.
func (m *CANMap) EncodeFrame(frameName string, values map[string]float64) ([]byte, uint32, error) {
	fd, err := m.FrameByName(frameName)
	if err != nil {
		return nil, 0, err
	}

	var payload uint64
	for _, s := range fd.Signals {
		v, ok := values[s.Name]
		if !ok {
			v = s.Default
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, 0, fmt.Errorf("frame %s signal %s: value %v is not finite", fd.Name, s.Name, v)
		}
		v = clamp(v, s.Min, s.Max)

		raw := clampRaw(int64(math.Round((v-s.Offset)/s.Factor)), s.BitLength, s.Signed)
		payload = setBits(payload, s.StartBit, s.BitLength, uint64(raw))
	}

	out := make([]byte, fd.DLC)
	for i := range out {
		out[i] = byte(payload >> (8 * i))
	}
	return out, fd.ID, nil
}

// EncodeEinrideFrame is EncodeFrame wrapped in a can.Frame ready to transmit.
func (m *CANMap) EncodeEinrideFrame(frameName string, values map[string]float64) (can.Frame, error) {
	payload, id, err := m.EncodeFrame(frameName, values)
	if err != nil {
		return can.Frame{}, err
	}

	f := can.Frame{ID: id, Length: uint8(len(payload))}
	copy(f.Data[:], payload)
	return f, nil
}

func (m *CANMap) DecodeFrame(frameID uint32, data []byte) (map[string]float64, error) {
	fd, err := m.FrameByID(frameID)
	if err != nil {
		return nil, err
	}
	if len(data) < fd.DLC {
		return nil, fmt.Errorf("frame 0x%X expects DLC %d, got %d", frameID, fd.DLC, len(data))
	}

	var payload uint64
	for i := 0; i < fd.DLC; i++ {
		payload |= uint64(data[i]) << (8 * i)
	}

	out := make(map[string]float64, len(fd.Signals))
	for _, s := range fd.Signals {
		raw := signExtend(getBits(payload, s.StartBit, s.BitLength), s.BitLength, s.Signed)
		out[s.Name] = float64(raw)*s.Factor + s.Offset
	}
	return out, nil
}

// DecodeEinrideFrame decodes a received can.Frame
func (m *CANMap) DecodeEinrideFrame(f can.Frame) (map[string]float64, error) {
	return m.DecodeFrame(f.ID, f.Data[:f.Length])
}
