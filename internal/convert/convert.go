// Package convert implements the element-wise transforms between a
// variable's user-facing float/double values and its stored integer or
// float form, selected by the (data_type, compression) pair at encoder or
// decoder init time. Every function here is a direct, bit-exact port of
// the reference scale/offset routines: NaN checks first, then scale and
// offset, then rounding, then clamping, then the narrowing cast, in that
// exact order, since a reordering would change the stored bit pattern for
// values near the clamp boundary.
package convert

import "math"

const (
	int16Max = math.MaxInt16
	int16Min = math.MinInt16
	int32Max = math.MaxInt32
	int32Min = math.MinInt32
	int64Max = math.MaxInt64
	int64Min = math.MinInt64
)

// FloatToInt16 converts a float32 slice to the scale+offset-quantized
// int16 stored form. NaN maps to int16Max, the sentinel decode recognizes.
func FloatToInt16(src []float32, scale, offset float32, dst []int16) {
	for i, val := range src {
		if math.IsNaN(float64(val)) {
			dst[i] = int16Max
			continue
		}
		scaled := val*scale + offset
		clamped := clampF32(roundHalfAwayFromZero(scaled), int16Min, int16Max)
		dst[i] = int16(clamped)
	}
}

// Int16ToFloat inverts FloatToInt16.
func Int16ToFloat(src []int16, scale, offset float32, dst []float32) {
	for i, val := range src {
		if val == int16Max {
			dst[i] = float32(math.NaN())
			continue
		}
		dst[i] = float32(val)/scale - offset
	}
}

// FloatToInt16Log10 applies the log10(1+x)*scale quantization variant.
func FloatToInt16Log10(src []float32, scale, offset float32, dst []int16) {
	for i, val := range src {
		if math.IsNaN(float64(val)) {
			dst[i] = int16Max
			continue
		}
		scaled := float32(math.Log10(1+float64(val))) * scale
		clamped := clampF32(roundHalfAwayFromZero(scaled), int16Min, int16Max)
		dst[i] = int16(clamped)
	}
}

// Int16Log10ToFloat inverts FloatToInt16Log10.
func Int16Log10ToFloat(src []int16, scale, offset float32, dst []float32) {
	for i, val := range src {
		if val == int16Max {
			dst[i] = float32(math.NaN())
			continue
		}
		dst[i] = float32(math.Pow(10, float64(val)/float64(scale))) - 1
	}
}

// FloatToInt32 converts float32 to scale+offset-quantized int32.
func FloatToInt32(src []float32, scale, offset float32, dst []int32) {
	for i, val := range src {
		if math.IsNaN(float64(val)) {
			dst[i] = int32Max
			continue
		}
		scaled := val*scale + offset
		clamped := clampF32(roundHalfAwayFromZero(scaled), int32Min, int32Max)
		dst[i] = int32(clamped)
	}
}

// Int32ToFloat inverts FloatToInt32.
func Int32ToFloat(src []int32, scale, offset float32, dst []float32) {
	for i, val := range src {
		if val == int32Max {
			dst[i] = float32(math.NaN())
			continue
		}
		dst[i] = float32(val)/scale - offset
	}
}

// DoubleToInt64 converts float64 to scale+offset-quantized int64. The
// scale/offset factors are always carried as float32 per the container
// format, widened to float64 for the arithmetic as the reference does.
func DoubleToInt64(src []float64, scale, offset float32, dst []int64) {
	sf, of := float64(scale), float64(offset)
	for i, val := range src {
		if math.IsNaN(val) {
			dst[i] = int64Max
			continue
		}
		scaled := val*sf + of
		clamped := clampF64(math.Round(scaled), int64Min, int64Max)
		dst[i] = int64(clamped)
	}
}

// Int64ToDouble inverts DoubleToInt64.
func Int64ToDouble(src []int64, scale, offset float32, dst []float64) {
	sf, of := float64(scale), float64(offset)
	for i, val := range src {
		if val == int64Max {
			dst[i] = math.NaN()
			continue
		}
		dst[i] = float64(val)/sf - of
	}
}

func roundHalfAwayFromZero(v float32) float32 {
	if v >= 0 {
		return float32(math.Floor(float64(v) + 0.5))
	}
	return float32(math.Ceil(float64(v) - 0.5))
}

func clampF32(v float32, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampF64(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ZigZagEncode64 maps a signed integer to an unsigned one so PForDelta's
// unsigned bit-packer can carry negative deltas, mirroring the p4nz*
// naming convention in the reference bit-packer for signed lossless types.
func ZigZagEncode64(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

// ZigZagDecode64 inverts ZigZagEncode64.
func ZigZagDecode64(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}
