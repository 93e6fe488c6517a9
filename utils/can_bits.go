package utils

// bitMask returns the low n bits set, valid for n up to 64.
func bitMask(n int) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << n) - 1
}

// Payloads are little-endian: byte 0 holds bits 0..7.
func getBits(payload uint64, startBit, bitLen int) uint64 {
	if bitLen <= 0 || bitLen > 64 {
		return 0
	}
	return (payload >> startBit) & bitMask(bitLen)
}

func setBits(payload uint64, startBit, bitLen int, value uint64) uint64 {
	if bitLen <= 0 || bitLen > 64 {
		return payload
	}
	mask := bitMask(bitLen)
	payload &^= mask << startBit
	payload |= (value & mask) << startBit
	return payload
}

// signExtend interprets the low bitLen bits of u as two's complement.
func signExtend(u uint64, bitLen int, signed bool) int64 {
	if !signed || bitLen >= 64 {
		return int64(u)
	}
	if u&(uint64(1)<<(bitLen-1)) == 0 {
		return int64(u)
	}
	return int64(u | ^bitMask(bitLen))
}

func clamp(v, lo, hi float64) float64 {
	if lo >= hi {
		return v
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clampRaw saturates raw to what bitLen bits can hold.
func clampRaw(raw int64, bitLen int, signed bool) int64 {
	if bitLen <= 0 || bitLen > 63 {
		return raw
	}
	if !signed {
		hi := int64(bitMask(bitLen))
		return max(0, min(raw, hi))
	}
	lo := -int64(1) << (bitLen - 1)
	hi := int64(1)<<(bitLen-1) - 1
	return max(lo, min(raw, hi))
}
