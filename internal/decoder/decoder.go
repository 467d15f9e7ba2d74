// Package decoder implements the read-side array codec: given a
// compressed chunk's bytes it reverses entropy coding, filtering and
// scale/offset conversion, then scatters the recovered values into a
// caller's output cube using the identical traversal the encoder used to
// gather them.
package decoder

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/open-meteo/om-file-format/internal/codec"
	"github.com/open-meteo/om-file-format/internal/convert"
	"github.com/open-meteo/om-file-format/internal/filter"
	"github.com/open-meteo/om-file-format/internal/omtype"
	"github.com/open-meteo/om-file-format/internal/varcube"
)

// ErrInvalidArgument is returned when a requested read region does not fit
// the array's rank, dimensions or offsets.
var ErrInvalidArgument = fmt.Errorf("decoder: invalid argument")

// ErrUnsupportedCompression is returned by New when a variable's
// (data_type, compression) pair names no codec this build recognizes.
var ErrUnsupportedCompression = fmt.Errorf("decoder: unsupported data_type/compression combination")

// ErrEntropySizeMismatch is returned when the integer entropy decoder
// consumes a different number of bytes than the chunk's LUT slot holds.
var ErrEntropySizeMismatch = fmt.Errorf("decoder: entropy-coded element count mismatch")

type spec struct {
	bytesUser   int
	bytesStored int
	fromStored  func(src []byte, scale, offset float32, dst []byte)
	filt        filter.Filter
	fpXor       int
	intWidth    int
	signed      bool
}

// Decoder mirrors encoder.Encoder's chunk geometry and (data_type,
// compression) selection so a chunk decompressed here lands on exactly
// the same element positions the encoder placed them at.
type Decoder struct {
	Dims      []uint64
	ChunkDims []uint64
	Scale     float32
	Offset    float32
	spec      spec

	chunksPerDim []uint64
	totalChunks  uint64
}

// New checks that dims and chunkDims have the same, non-zero rank and
// returns a ready Decoder; a rank mismatch is reported as
// ErrInvalidArgument. Read regions are checked separately by
// ValidateRegion.
func New(elem omtype.DataType, compression omtype.Compression, dims, chunkDims []uint64, scale, offset float32) (*Decoder, error) {
	if len(dims) == 0 || len(dims) != len(chunkDims) {
		return nil, fmt.Errorf("%w: dimension_count mismatch", ErrInvalidArgument)
	}
	sp, err := selectSpec(elem, compression)
	if err != nil {
		return nil, err
	}
	cpd := varcube.ChunksPerDim(dims, chunkDims)
	total := uint64(1)
	for _, n := range cpd {
		total *= n
	}
	return &Decoder{
		Dims: append([]uint64(nil), dims...), ChunkDims: append([]uint64(nil), chunkDims...),
		Scale: scale, Offset: offset, spec: sp,
		chunksPerDim: cpd, totalChunks: total,
	}, nil
}

// TotalChunks returns the number of chunks covering the array.
func (d *Decoder) TotalChunks() uint64 { return d.totalChunks }

// BytesPerElementStored returns the on-disk element width.
func (d *Decoder) BytesPerElementStored() int { return d.spec.bytesStored }

// ValidateRegion checks that offset/count describe an in-bounds
// hyperslab of dims, returning ErrInvalidArgument otherwise.
func ValidateRegion(dims, offset, count []uint64) error {
	if len(dims) != len(offset) || len(dims) != len(count) {
		return fmt.Errorf("%w: rank mismatch", ErrInvalidArgument)
	}
	for i := range dims {
		if offset[i]+count[i] > dims[i] {
			return fmt.Errorf("%w: axis %d out of bounds", ErrInvalidArgument, i)
		}
	}
	return nil
}

// DecompressChunk reverses entropy coding, filtering and conversion on
// compressed (chunkIndex's compressed bytes, chunkElems elements) and
// scatters the recovered values into outputCube, shaped outputDims.
// requestOffset is the region being read, in the array's global frame;
// outputOffset is where that region is placed within outputCube's own
// coordinate space. For a plain read outputCube is sized exactly to the
// request and outputOffset is zero, so a chunk's global position maps
// directly onto the buffer. ReadInto instead places the same request
// into a larger, differently-offset cube, passing a non-zero
// outputOffset — outputCube's own local index 0 then corresponds to
// requestOffset-outputOffset in the array's frame, not to requestOffset
// itself, which is why the two are threaded through separately rather
// than as one conflated offset.
func (d *Decoder) DecompressChunk(compressed []byte, chunkIndex uint64, outputCube []byte, outputDims, requestOffset, outputOffset, outputCount []uint64, scratch []byte) error {
	if chunkIndex >= d.totalChunks {
		return fmt.Errorf("%w: chunk index %d out of range", ErrInvalidArgument, chunkIndex)
	}
	coord := varcube.ChunkCoord(chunkIndex, d.chunksPerDim)
	chunkShape := varcube.ChunkShape(d.Dims, d.ChunkDims, coord)
	chunkStart := varcube.ChunkStart(d.ChunkDims, coord)
	chunkElems := int(varcube.ElementCount(chunkShape))

	stored := scratch[:chunkElems*d.spec.bytesStored]
	length1 := int(chunkShape[len(chunkShape)-1])
	length0 := chunkElems / maxInt(length1, 1)
	if err := d.entropyDecode(compressed, chunkElems, length0, length1, stored); err != nil {
		return err
	}

	converted := make([]byte, chunkElems*d.spec.bytesUser)
	d.spec.fromStored(stored, d.Scale, d.Offset, converted)

	// src stays in the array's own global frame: a chunk's buffer always
	// starts exactly where its window starts. dst's window is bounded by
	// requestOffset (the region actually being read), but its buffer's
	// local index 0 corresponds to requestOffset-outputOffset whenever the
	// caller places that region somewhere other than the buffer's own
	// zero (ReadInto into a larger, differently-offset cube).
	src := varcube.Side{Dims: chunkShape, Start: varcube.StartFrom(chunkStart), Count: chunkShape}
	dst := varcube.Side{
		Dims:   outputDims,
		Start:  varcube.StartFrom(requestOffset),
		Count:  outputCount,
		Origin: varcube.SubOrigin(requestOffset, outputOffset),
	}
	varcube.Walk(src, dst, func(offSrc, offDst, runLen uint64) {
		copy(
			outputCube[offDst*uint64(d.spec.bytesUser):(offDst+runLen)*uint64(d.spec.bytesUser)],
			converted[offSrc*uint64(d.spec.bytesUser):(offSrc+runLen)*uint64(d.spec.bytesUser)],
		)
	})
	return nil
}

func (d *Decoder) entropyDecode(compressed []byte, numElements, length0, length1 int, stored []byte) error {
	sp := d.spec
	if sp.fpXor != 0 {
		switch sp.fpXor {
		case 32:
			words := codec.FPXorDecode32(compressed, numElements)
			uint32ToBytes(words, stored)
			sp.filt.Decode(length0, length1, stored)
			return nil
		case 64:
			words := codec.FPXorDecode64(compressed, numElements)
			uint64RawToBytes(words, stored)
			sp.filt.Decode(length0, length1, stored)
			return nil
		}
	}
	vals := make([]uint64, numElements)
	_, bytesConsumed := codec.PForDecode(compressed, vals)
	if bytesConsumed != len(compressed) {
		return fmt.Errorf("%w: chunk slot is %d bytes, decode consumed %d", ErrEntropySizeMismatch, len(compressed), bytesConsumed)
	}
	packWordsToBytes(vals, sp.intWidth, sp.signed, stored)
	sp.filt.Decode(length0, length1, stored)
	return nil
}

func selectSpec(elem omtype.DataType, c omtype.Compression) (spec, error) {
	switch {
	case elem == omtype.Float && c == omtype.PForDelta2DInt16:
		return spec{bytesUser: 4, bytesStored: 2, fromStored: int16ToFloatBytes, filt: filter.Delta16{}, intWidth: 2, signed: true}, nil
	case elem == omtype.Float && c == omtype.PForDelta2DInt16Log10:
		return spec{bytesUser: 4, bytesStored: 2, fromStored: int16Log10ToFloatBytes, filt: filter.Delta16{}, intWidth: 2, signed: true}, nil
	case elem == omtype.Float && c == omtype.FPXor2D:
		return spec{bytesUser: 4, bytesStored: 4, fromStored: memcpy, filt: filter.Xor32{}, fpXor: 32}, nil
	case elem == omtype.Double && c == omtype.FPXor2D:
		return spec{bytesUser: 8, bytesStored: 8, fromStored: memcpy, filt: filter.Xor64{}, fpXor: 64}, nil
	case elem == omtype.Float && c == omtype.PForDelta2D:
		return spec{bytesUser: 4, bytesStored: 4, fromStored: int32ToFloatBytes, filt: filter.Delta32{}, intWidth: 4, signed: true}, nil
	case elem == omtype.Double && c == omtype.PForDelta2D:
		return spec{bytesUser: 8, bytesStored: 8, fromStored: int64ToDoubleBytes, filt: filter.Delta64{}, intWidth: 8, signed: true}, nil
	case c == omtype.PForDelta2D:
		size, ok := elem.ScalarSize()
		if !ok {
			break
		}
		signed := elem == omtype.Int8 || elem == omtype.Int16 || elem == omtype.Int32 || elem == omtype.Int64
		var filt filter.Filter
		switch size {
		case 1:
			filt = filter.Delta8{}
		case 2:
			filt = filter.Delta16{}
		case 4:
			filt = filter.Delta32{}
		case 8:
			filt = filter.Delta64{}
		}
		return spec{bytesUser: size, bytesStored: size, fromStored: memcpy, filt: filt, intWidth: size, signed: signed}, nil
	}
	return spec{}, fmt.Errorf("%w: %s/%s", ErrUnsupportedCompression, elem, c)
}

func memcpy(src []byte, _, _ float32, dst []byte) { copy(dst, src) }

func int16ToFloatBytes(src []byte, scale, offset float32, dst []byte) {
	n := len(src) / 2
	in := make([]int16, n)
	for i := 0; i < n; i++ {
		in[i] = int16(binary.LittleEndian.Uint16(src[i*2:]))
	}
	out := make([]float32, n)
	convert.Int16ToFloat(in, scale, offset, out)
	for i, v := range out {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}

func int16Log10ToFloatBytes(src []byte, scale, offset float32, dst []byte) {
	n := len(src) / 2
	in := make([]int16, n)
	for i := 0; i < n; i++ {
		in[i] = int16(binary.LittleEndian.Uint16(src[i*2:]))
	}
	out := make([]float32, n)
	convert.Int16Log10ToFloat(in, scale, offset, out)
	for i, v := range out {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}

func int32ToFloatBytes(src []byte, scale, offset float32, dst []byte) {
	n := len(src) / 4
	in := make([]int32, n)
	for i := 0; i < n; i++ {
		in[i] = int32(binary.LittleEndian.Uint32(src[i*4:]))
	}
	out := make([]float32, n)
	convert.Int32ToFloat(in, scale, offset, out)
	for i, v := range out {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}

func int64ToDoubleBytes(src []byte, scale, offset float32, dst []byte) {
	n := len(src) / 8
	in := make([]int64, n)
	for i := 0; i < n; i++ {
		in[i] = int64(binary.LittleEndian.Uint64(src[i*8:]))
	}
	out := make([]float64, n)
	convert.Int64ToDouble(in, scale, offset, out)
	for i, v := range out {
		binary.LittleEndian.PutUint64(dst[i*8:], math.Float64bits(v))
	}
}

func uint32ToBytes(words []uint32, dst []byte) {
	for i, w := range words {
		binary.LittleEndian.PutUint32(dst[i*4:], w)
	}
}

func uint64RawToBytes(words []uint64, dst []byte) {
	for i, w := range words {
		binary.LittleEndian.PutUint64(dst[i*8:], w)
	}
}

func packWordsToBytes(vals []uint64, width int, signed bool, dst []byte) {
	for i, v := range vals {
		var raw uint64
		if signed {
			raw = uint64(convert.ZigZagDecode64(v))
		} else {
			raw = v
		}
		for b := 0; b < width; b++ {
			dst[i*width+b] = byte(raw >> (8 * b))
		}
	}
}

// DecompressLUT reverses encoder.CompressLUT: compressed holds nGroups
// fixed-stride bit-packed groups of up to LUTChunkCount offsets each,
// covering lutLen offsets in total.
func DecompressLUT(compressed []byte, lutLen int) []uint64 {
	nGroups := int(varcube.DivCeil(uint64(lutLen), omtype.LUTChunkCount))
	if nGroups == 0 {
		return nil
	}
	groupStride := len(compressed) / nGroups
	out := make([]uint64, lutLen)
	for i := 0; i < nGroups; i++ {
		start := i * omtype.LUTChunkCount
		end := start + omtype.LUTChunkCount
		if end > lutLen {
			end = lutLen
		}
		groupIn := compressed[i*groupStride : (i+1)*groupStride]
		// The group slot is zero-padded out to groupStride, so unlike a
		// chunk's own compressed byte range this one's length is not
		// expected to match bytesConsumed exactly.
		_, _ = codec.PForDecode(groupIn, out[start:end])
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
