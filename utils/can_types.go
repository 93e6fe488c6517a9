package utils

import (
	"sort"
	"time"
)

// SignalDef is one row of the CAN map: a scaled field inside a frame payload.
type SignalDef struct {
	Name      string
	StartBit  int
	BitLength int
	Signed    bool
	Factor    float64
	Offset    float64
	Min       float64
	Max       float64
	Default   float64
	Unit      string
	Comment   string
}

// Direction of a frame as seen from this process
type Direction string

const (
	DirectionTX Direction = "tx"
	DirectionRX Direction = "rx"
)

type FrameDef struct {
	ID        uint32
	Name      string
	DLC       int
	Direction Direction
	CycleMS   int
	Signals   []SignalDef
}

// Cycle is the transmit period of the frame
func (fd *FrameDef) Cycle() time.Duration {
	return time.Duration(fd.CycleMS) * time.Millisecond
}

// Signal looks up a signal definition by name.
func (fd *FrameDef) Signal(name string) (SignalDef, bool) {
	for _, s := range fd.Signals {
		if s.Name == name {
			return s, true
		}
	}
	return SignalDef{}, false
}

type CANMap struct {
	ByID   map[uint32]*FrameDef
	ByName map[string]*FrameDef
}

func (m *CANMap) FrameNames() []string {
	out := make([]string, 0, len(m.ByName))
	for k := range m.ByName {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
