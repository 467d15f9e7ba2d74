// Package filter implements the in-place 2-D predecessor filters applied
// to a chunk buffer before entropy coding, and inverted after decoding.
// A chunk is treated as a 2-D reshape (length0, length1) where length1 is
// the size of the fastest (last) axis and length0 is the product of all
// remaining axes; the filter runs along the slowest axis of that reshape,
// ported statement-for-statement from the delta2d encode/decode routines.
package filter

import "encoding/binary"

// Filter is chosen once at encoder/decoder init time from the compression
// selection table and applied to (or inverted on) a whole chunk buffer.
// Unlike an HDF5-style filter pipeline, there is no filter mask or chained
// registry here: the table in the container format fixes exactly one
// filter per (data_type, compression) pair.
type Filter interface {
	Encode(length0, length1 int, buf []byte)
	Decode(length0, length1 int, buf []byte)
}

// Delta8 is the signed 8-bit predecessor-subtraction filter.
type Delta8 struct{}

func (Delta8) Encode(length0, length1 int, buf []byte) {
	if length0 <= 1 {
		return
	}
	for d0 := length0 - 1; d0 >= 1; d0-- {
		for d1 := 0; d1 < length1; d1++ {
			buf[d0*length1+d1] -= buf[(d0-1)*length1+d1]
		}
	}
}

func (Delta8) Decode(length0, length1 int, buf []byte) {
	if length0 <= 1 {
		return
	}
	for d0 := 1; d0 < length0; d0++ {
		for d1 := 0; d1 < length1; d1++ {
			buf[d0*length1+d1] += buf[(d0-1)*length1+d1]
		}
	}
}

// Delta16 is the signed 16-bit variant, operating on a little-endian byte
// buffer two bytes per element.
type Delta16 struct{}

func (Delta16) Encode(length0, length1 int, buf []byte) {
	if length0 <= 1 {
		return
	}
	for d0 := length0 - 1; d0 >= 1; d0-- {
		for d1 := 0; d1 < length1; d1++ {
			i, j := elemOff(d0, d1, length1, 2), elemOff(d0-1, d1, length1, 2)
			v := int16(binary.LittleEndian.Uint16(buf[i:])) - int16(binary.LittleEndian.Uint16(buf[j:]))
			binary.LittleEndian.PutUint16(buf[i:], uint16(v))
		}
	}
}

func (Delta16) Decode(length0, length1 int, buf []byte) {
	if length0 <= 1 {
		return
	}
	for d0 := 1; d0 < length0; d0++ {
		for d1 := 0; d1 < length1; d1++ {
			i, j := elemOff(d0, d1, length1, 2), elemOff(d0-1, d1, length1, 2)
			v := int16(binary.LittleEndian.Uint16(buf[i:])) + int16(binary.LittleEndian.Uint16(buf[j:]))
			binary.LittleEndian.PutUint16(buf[i:], uint16(v))
		}
	}
}

// Delta32 is the signed 32-bit variant.
type Delta32 struct{}

func (Delta32) Encode(length0, length1 int, buf []byte) {
	if length0 <= 1 {
		return
	}
	for d0 := length0 - 1; d0 >= 1; d0-- {
		for d1 := 0; d1 < length1; d1++ {
			i, j := elemOff(d0, d1, length1, 4), elemOff(d0-1, d1, length1, 4)
			v := int32(binary.LittleEndian.Uint32(buf[i:])) - int32(binary.LittleEndian.Uint32(buf[j:]))
			binary.LittleEndian.PutUint32(buf[i:], uint32(v))
		}
	}
}

func (Delta32) Decode(length0, length1 int, buf []byte) {
	if length0 <= 1 {
		return
	}
	for d0 := 1; d0 < length0; d0++ {
		for d1 := 0; d1 < length1; d1++ {
			i, j := elemOff(d0, d1, length1, 4), elemOff(d0-1, d1, length1, 4)
			v := int32(binary.LittleEndian.Uint32(buf[i:])) + int32(binary.LittleEndian.Uint32(buf[j:]))
			binary.LittleEndian.PutUint32(buf[i:], uint32(v))
		}
	}
}

// Delta64 is the signed 64-bit variant.
type Delta64 struct{}

func (Delta64) Encode(length0, length1 int, buf []byte) {
	if length0 <= 1 {
		return
	}
	for d0 := length0 - 1; d0 >= 1; d0-- {
		for d1 := 0; d1 < length1; d1++ {
			i, j := elemOff(d0, d1, length1, 8), elemOff(d0-1, d1, length1, 8)
			v := int64(binary.LittleEndian.Uint64(buf[i:])) - int64(binary.LittleEndian.Uint64(buf[j:]))
			binary.LittleEndian.PutUint64(buf[i:], uint64(v))
		}
	}
}

func (Delta64) Decode(length0, length1 int, buf []byte) {
	if length0 <= 1 {
		return
	}
	for d0 := 1; d0 < length0; d0++ {
		for d1 := 0; d1 < length1; d1++ {
			i, j := elemOff(d0, d1, length1, 8), elemOff(d0-1, d1, length1, 8)
			v := int64(binary.LittleEndian.Uint64(buf[i:])) + int64(binary.LittleEndian.Uint64(buf[j:]))
			binary.LittleEndian.PutUint64(buf[i:], uint64(v))
		}
	}
}

// Xor32 XORs the raw bit pattern against the predecessor row, used for
// FPXor2D on float32 chunks.
type Xor32 struct{}

func (Xor32) Encode(length0, length1 int, buf []byte) { xorPass(length0, length1, buf, 4, true) }
func (Xor32) Decode(length0, length1 int, buf []byte) { xorPass(length0, length1, buf, 4, false) }

// Xor64 is the float64 variant. The reference C source aliases the double
// buffer through a 32-bit int pointer, which only XORs the low half of
// each element - an aliasing bug in the original source that this
// implementation does not reproduce, since the container's own selection
// table names this filter "xor2d_u64" and expects the full 8-byte pattern
// to round-trip.
type Xor64 struct{}

func (Xor64) Encode(length0, length1 int, buf []byte) { xorPass(length0, length1, buf, 8, true) }
func (Xor64) Decode(length0, length1 int, buf []byte) { xorPass(length0, length1, buf, 8, false) }

func xorPass(length0, length1 int, buf []byte, width int, encode bool) {
	if length0 <= 1 {
		return
	}
	start, end, step := 1, length0, 1
	if encode {
		start, end, step = length0-1, 0, -1
	}
	for d0 := start; d0 != end; d0 += step {
		for d1 := 0; d1 < length1; d1++ {
			i, j := elemOff(d0, d1, length1, width), elemOff(d0-1, d1, length1, width)
			for b := 0; b < width; b++ {
				buf[i+b] ^= buf[j+b]
			}
		}
	}
}

func elemOff(d0, d1, length1, width int) int {
	return (d0*length1 + d1) * width
}
