package decoder

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/open-meteo/om-file-format/internal/encoder"
	"github.com/open-meteo/om-file-format/internal/omtype"
)

func floatsToBytes(vals []float32) []byte {
	out := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func bytesToFloats(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

// TestSubCubeRead writes a full 6x6 array chunked 3x3, then reads back
// only a 2x2 sub-region straddling a chunk boundary, checking the
// traversal places values at the correct offsets in a smaller output
// cube instead of the full array.
func TestSubCubeRead(t *testing.T) {
	dims := []uint64{6, 6}
	chunkDims := []uint64{3, 3}
	scale, offset := float32(10), float32(0)

	enc, err := encoder.New(omtype.Float, omtype.PForDelta2DInt16, dims, chunkDims, scale, offset)
	if err != nil {
		t.Fatalf("encoder.New: %v", err)
	}
	dec, err := New(omtype.Float, omtype.PForDelta2DInt16, dims, chunkDims, scale, offset)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	values := make([]float32, 36)
	for i := range values {
		values[i] = float32(i)
	}
	inputBytes := floatsToBytes(values)

	full := make([]byte, 36*4)
	scratch := make([]byte, enc.ChunkBufferSize())
	compressed := make([]byte, enc.CompressedChunkBound())

	for c := uint64(0); c < enc.TotalChunks(); c++ {
		n, err := enc.CompressChunk(inputBytes, dims, []uint64{0, 0}, dims, c, compressed, scratch)
		if err != nil {
			t.Fatalf("CompressChunk(%d): %v", c, err)
		}
		if err := dec.DecompressChunk(compressed[:n], c, full, dims, []uint64{0, 0}, []uint64{0, 0}, dims, scratch); err != nil {
			t.Fatalf("DecompressChunk(%d) into full: %v", c, err)
		}
	}

	// sub-region [2:4, 2:4] straddles the chunk boundary at row/col 3.
	subOffset := []uint64{2, 2}
	subCount := []uint64{2, 2}
	sub := make([]byte, 4*4)
	for c := uint64(0); c < enc.TotalChunks(); c++ {
		n, err := enc.CompressChunk(inputBytes, dims, []uint64{0, 0}, dims, c, compressed, scratch)
		if err != nil {
			t.Fatalf("CompressChunk(%d): %v", c, err)
		}
		if err := dec.DecompressChunk(compressed[:n], c, sub, subCount, subOffset, []uint64{0, 0}, subCount, scratch); err != nil {
			t.Fatalf("DecompressChunk(%d) into sub: %v", c, err)
		}
	}

	gotFull := bytesToFloats(full)
	gotSub := bytesToFloats(sub)
	for r := 0; r < 2; r++ {
		for cIdx := 0; cIdx < 2; cIdx++ {
			want := gotFull[(2+r)*6+(2+cIdx)]
			got := gotSub[r*2+cIdx]
			if math.Abs(float64(got-want)) > 1.0/float64(scale) {
				t.Errorf("sub[%d][%d]: expected %v, got %v", r, cIdx, want, got)
			}
		}
	}
}

func TestLUTRoundTrip(t *testing.T) {
	lut := make([]uint64, 300)
	acc := uint64(0)
	for i := range lut {
		lut[i] = acc
		acc += uint64(100 + i)
	}
	out := make([]byte, encoder.LUTBound(len(lut)))
	n := encoder.CompressLUT(lut, out)
	got := DecompressLUT(out[:n], len(lut))
	if len(got) != len(lut) {
		t.Fatalf("expected %d entries, got %d", len(lut), len(got))
	}
	for i := range lut {
		if got[i] != lut[i] {
			t.Errorf("index %d: expected %d, got %d", i, lut[i], got[i])
		}
	}
}
