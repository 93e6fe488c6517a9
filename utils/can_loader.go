package utils

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

var requiredColumns = []string{
	"direction", "frame_id", "frame_name", "cycle_ms", "dlc",
	"signal_name", "start_bit", "bit_length", "endianness",
	"signed", "factor", "offset", "min", "max", "default", "unit", "comment",
}

// LoadCANMap reads a CAN map CSV file, one signal per row.
func LoadCANMap(csvPath string) (*CANMap, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := ParseCANMap(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", csvPath, err)
	}
	return m, nil
}

// ParseCANMap parses CAN map CSV content. Rows sharing a frame_id form one
// frame; their DLC must agree and signals are sorted by start bit.
func ParseCANMap(r io.Reader) (*CANMap, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, k := range requiredColumns {
		if _, ok := idx[k]; !ok {
			return nil, fmt.Errorf("can map missing required column: %q", k)
		}
	}

	m := &CANMap{
		ByID:   map[uint32]*FrameDef{},
		ByName: map[string]*FrameDef{},
	}

	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++

		row := rowReader{rec: rec, idx: idx}
		frameID := row.hexOrDec("frame_id")
		frameName := row.str("frame_name")
		direction := Direction(strings.ToLower(row.str("direction")))
		cycleMS := row.int("cycle_ms")
		dlc := row.int("dlc")

		sig := SignalDef{
			Name:      row.str("signal_name"),
			StartBit:  row.int("start_bit"),
			BitLength: row.int("bit_length"),
			Signed:    row.bool("signed"),
			Factor:    row.float("factor"),
			Offset:    row.float("offset"),
			Min:       row.float("min"),
			Max:       row.float("max"),
			Default:   row.float("default"),
			Unit:      row.str("unit"),
			Comment:   row.str("comment"),
		}
		if row.err != nil {
			return nil, fmt.Errorf("line %d: %w", line, row.err)
		}

		if e := row.str("endianness"); e != "" && e != "little" {
			return nil, fmt.Errorf("frame %s signal %s: unsupported endianness %q (only little supported)",
				frameName, sig.Name, e)
		}
		if direction != DirectionTX && direction != DirectionRX {
			return nil, fmt.Errorf("frame %s: direction must be tx or rx, got %q", frameName, direction)
		}
		if dlc <= 0 || dlc > 8 {
			return nil, fmt.Errorf("frame %s (0x%X): invalid dlc %d", frameName, frameID, dlc)
		}
		if sig.BitLength <= 0 || sig.BitLength > 64 || sig.StartBit < 0 || sig.StartBit+sig.BitLength > 8*dlc {
			return nil, fmt.Errorf("frame %s signal %s: bits [%d,+%d) do not fit in %d bytes",
				frameName, sig.Name, sig.StartBit, sig.BitLength, dlc)
		}
		if sig.Factor == 0 {
			return nil, fmt.Errorf("frame %s signal %s: factor must be non-zero", frameName, sig.Name)
		}

		fd, ok := m.ByID[frameID]
		if !ok {
			if _, dup := m.ByName[frameName]; dup {
				return nil, fmt.Errorf("frame name %s used by two ids", frameName)
			}
			fd = &FrameDef{
				ID:        frameID,
				Name:      frameName,
				DLC:       dlc,
				Direction: direction,
				CycleMS:   cycleMS,
			}
			m.ByID[frameID] = fd
			m.ByName[frameName] = fd
		}
		if fd.DLC != dlc {
			return nil, fmt.Errorf("frame %s (0x%X) has inconsistent DLC (%d vs %d)", frameName, frameID, fd.DLC, dlc)
		}
		fd.Signals = append(fd.Signals, sig)
	}

	for _, fd := range m.ByID {
		sort.Slice(fd.Signals, func(i, j int) bool { return fd.Signals[i].StartBit < fd.Signals[j].StartBit })
	}
	return m, nil
}

func (m *CANMap) FrameByName(name string) (*FrameDef, error) {
	fd, ok := m.ByName[name]
	if !ok {
		return nil, fmt.Errorf("unknown frame %q (available: %v)", name, m.FrameNames())
	}
	return fd, nil
}

func (m *CANMap) FrameByID(id uint32) (*FrameDef, error) {
	fd, ok := m.ByID[id]
	if !ok {
		return nil, fmt.Errorf("unknown frame id 0x%X", id)
	}
	return fd, nil
}

// rowReader parses columns of one record and keeps the first error.
type rowReader struct {
	rec []string
	idx map[string]int
	err error
}

func (r *rowReader) str(col string) string {
	i := r.idx[col]
	if i >= len(r.rec) {
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

func (r *rowReader) fail(col, val string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("column %s: invalid value %q: %w", col, val, err)
	}
}

func (r *rowReader) int(col string) int {
	s := r.str(col)
	v, err := strconv.Atoi(s)
	if err != nil {
		r.fail(col, s, err)
	}
	return v
}

func (r *rowReader) float(col string) float64 {
	s := r.str(col)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		r.fail(col, s, err)
	}
	return v
}

func (r *rowReader) bool(col string) bool {
	switch strings.ToLower(r.str(col)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

func (r *rowReader) hexOrDec(col string) uint32 {
	s := r.str(col)
	ss, base := s, 10
	if strings.HasPrefix(ss, "0x") || strings.HasPrefix(ss, "0X") {
		base = 16
		ss = ss[2:]
	}
	u, err := strconv.ParseUint(ss, base, 32)
	if err != nil {
		r.fail(col, s, err)
	}
	return uint32(u)
}
