package mathx

import "math"

// Fixed-point encoders for on-air fields. Values are scaled, rounded toward
// zero like a C cast, and saturated to the field width.

func U8(v, scale float64) uint8 {
	return uint8(sat(v*scale, 0, math.MaxUint8))
}

func U16(v, scale float64) uint16 {
	return uint16(sat(v*scale, 0, math.MaxUint16))
}

func I8(v, scale float64) int8 {
	return int8(sat(v*scale, math.MinInt8, math.MaxInt8))
}

func U32(v, scale float64) uint32 {
	return uint32(sat(v*scale, 0, math.MaxUint32))
}

func sat(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Trunc(Clamp(v, lo, hi))
}
