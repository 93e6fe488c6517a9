package utils

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMap = `direction,frame_id,frame_name,cycle_ms,dlc,signal_name,start_bit,bit_length,endianness,signed,factor,offset,min,max,default,unit,comment
tx,0x310,MPC_CMD,20,8,throttle_cmd_norm,16,16,little,true,0.0001,0,-1,1,0,-,throttle
tx,0x310,MPC_CMD,20,8,steer_cmd_norm,0,16,little,true,0.0001,0,-1,1,0,-,steering
tx,0x310,MPC_CMD,20,8,solve_ok,32,1,little,false,1,0,0,1,0,bool,
tx,0x310,MPC_CMD,20,8,cycle_counter,40,8,little,false,1,0,0,255,7,count,
# operator side
rx,272,DRIVE_ENABLE,50,1,enable,0,1,little,false,1,0,0,1,0,bool,
`

func loadTestMap(t *testing.T) *CANMap {
	t.Helper()
	m, err := ParseCANMap(strings.NewReader(testMap))
	require.NoError(t, err)
	return m
}

func TestParseCANMap(t *testing.T) {
	t.Parallel()

	m := loadTestMap(t)
	assert.Equal(t, []string{"DRIVE_ENABLE", "MPC_CMD"}, m.FrameNames())

	fd, err := m.FrameByName("MPC_CMD")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x310), fd.ID)
	assert.Equal(t, DirectionTX, fd.Direction)
	assert.Equal(t, int64(20e6), fd.Cycle().Nanoseconds())
	require.Len(t, fd.Signals, 4)
	assert.Equal(t, "steer_cmd_norm", fd.Signals[0].Name, "signals sorted by start bit")

	sig, ok := fd.Signal("cycle_counter")
	require.True(t, ok)
	assert.Equal(t, 7.0, sig.Default)
	_, ok = fd.Signal("missing")
	assert.False(t, ok)

	enable, err := m.FrameByID(0x110)
	require.NoError(t, err)
	assert.Equal(t, DirectionRX, enable.Direction)

	_, err = m.FrameByName("NOPE")
	assert.ErrorContains(t, err, "MPC_CMD")
	_, err = m.FrameByID(0x999)
	assert.Error(t, err)
}

func TestParseCANMap_Invalid(t *testing.T) {
	t.Parallel()

	header := strings.SplitN(testMap, "\n", 2)[0] + "\n"
	cases := map[string]string{
		"missing column":   "frame_id,frame_name\n0x1,A\n",
		"bad dlc":          header + "tx,0x1,A,10,9,s,0,8,little,false,1,0,0,1,0,,\n",
		"big endian":       header + "tx,0x1,A,10,8,s,0,8,big,false,1,0,0,1,0,,\n",
		"overflowing bits": header + "tx,0x1,A,10,1,s,4,8,little,false,1,0,0,1,0,,\n",
		"zero factor":      header + "tx,0x1,A,10,8,s,0,8,little,false,0,0,0,1,0,,\n",
		"bad direction":    header + "up,0x1,A,10,8,s,0,8,little,false,1,0,0,1,0,,\n",
		"bad number":       header + "tx,0x1,A,ten,8,s,0,8,little,false,1,0,0,1,0,,\n",
		"inconsistent dlc": header +
			"tx,0x1,A,10,8,s,0,8,little,false,1,0,0,1,0,,\n" +
			"tx,0x1,A,10,4,t,8,8,little,false,1,0,0,1,0,,\n",
	}
	for name, csv := range cases {
		csv := csv
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseCANMap(strings.NewReader(csv))
			assert.Error(t, err)
		})
	}
}

func TestEncodeDecodeFrame(t *testing.T) {
	t.Parallel()

	m := loadTestMap(t)
	frame, err := m.EncodeEinrideFrame("MPC_CMD", map[string]float64{
		"steer_cmd_norm":    -0.5,
		"throttle_cmd_norm": 0.25,
		"solve_ok":          1,
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(0x310), frame.ID)
	assert.Equal(t, uint8(8), frame.Length)
	// -5000 as int16 little endian
	assert.Equal(t, byte(0x78), frame.Data[0])
	assert.Equal(t, byte(0xEC), frame.Data[1])

	got, err := m.DecodeEinrideFrame(frame)
	require.NoError(t, err)
	assert.InDelta(t, -0.5, got["steer_cmd_norm"], 1e-9)
	assert.InDelta(t, 0.25, got["throttle_cmd_norm"], 1e-9)
	assert.Equal(t, 1.0, got["solve_ok"])
	assert.Equal(t, 7.0, got["cycle_counter"], "missing signal takes its default")
}

func TestEncodeFrame_ClampsAndRejects(t *testing.T) {
	t.Parallel()

	m := loadTestMap(t)
	payload, _, err := m.EncodeFrame("MPC_CMD", map[string]float64{
		"steer_cmd_norm": 3,
		"cycle_counter":  300,
	})
	require.NoError(t, err)
	got, err := m.DecodeFrame(0x310, payload)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got["steer_cmd_norm"], 1e-9)
	assert.Equal(t, 255.0, got["cycle_counter"])

	_, _, err = m.EncodeFrame("MPC_CMD", map[string]float64{"steer_cmd_norm": math.NaN()})
	assert.Error(t, err)

	_, err = m.DecodeFrame(0x310, payload[:4])
	assert.Error(t, err)
}

func TestBits(t *testing.T) {
	t.Parallel()

	p := setBits(0, 4, 8, 0xAB)
	assert.Equal(t, uint64(0xAB0), p)
	assert.Equal(t, uint64(0xAB), getBits(p, 4, 8))
	assert.Equal(t, ^uint64(0), bitMask(64))

	assert.Equal(t, int64(-1), signExtend(0xFF, 8, true))
	assert.Equal(t, int64(255), signExtend(0xFF, 8, false))
	assert.Equal(t, int64(127), signExtend(0x7F, 8, true))

	assert.Equal(t, int64(-128), clampRaw(-1000, 8, true))
	assert.Equal(t, int64(127), clampRaw(1000, 8, true))
	assert.Equal(t, int64(0), clampRaw(-5, 8, false))
	assert.Equal(t, int64(255), clampRaw(1000, 8, false))
}
