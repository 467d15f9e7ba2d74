// Package encoder implements the write-side array codec: given a caller's
// input cube, it copies each chunk's worth of values into a scratch
// buffer, applies the selected scale/offset conversion and 2-D filter,
// then entropy-codes the result and records its position in the LUT.
package encoder

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

// lutOverheadBytes is the fixed headroom the reference implementation
// reserves per compressed LUT buffer, because its 64-bit bit-packer can
// write up to 32 integers past the logical end of a block.
const lutOverheadBytes = 32 * 8

// spec pairs a scale/offset convert callback with the filter and the
// bit width/signedness the entropy stage should use for one row of the
// (data_type, compression) selection table.
type spec struct {
	bytesUser   int
	bytesStored int
	toStored    func(src []byte, scale, offset float32, dst []byte)
	filt        filter.Filter
	fpXor       int // 0 = not FPXor; else 32 or 64
	intWidth    int // bit-packed integer width in bytes, 0 if fpXor
	signed      bool
}

// Encoder orchestrates chunking, conversion, filtering and entropy coding
// for one array variable.
type Encoder struct {
	Dims      []uint64
	ChunkDims []uint64
	Scale     float32
	Offset    float32
	spec      spec

	chunksPerDim []uint64
	totalChunks  uint64
}

// New validates the (data_type, compression) pair and dimensions and
// returns a ready-to-use Encoder.
func New(elem omtype.DataType, compression omtype.Compression, dims, chunkDims []uint64, scale, offset float32) (*Encoder, error) {
	if len(dims) == 0 || len(dims) != len(chunkDims) {
		return nil, fmt.Errorf("encoder: dimension_count mismatch")
	}
	for i := range dims {
		if chunkDims[i] == 0 || chunkDims[i] > dims[i] {
			return nil, fmt.Errorf("encoder: invalid chunk size at axis %d", i)
		}
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
	return &Encoder{
		Dims: append([]uint64(nil), dims...), ChunkDims: append([]uint64(nil), chunkDims...),
		Scale: scale, Offset: offset, spec: sp,
		chunksPerDim: cpd, totalChunks: total,
	}, nil
}

// TotalChunks returns the number of chunks covering the array.
func (e *Encoder) TotalChunks() uint64 { return e.totalChunks }

// BytesPerElementStored returns the on-disk element width.
func (e *Encoder) BytesPerElementStored() int { return e.spec.bytesStored }

// ChunkBufferSize returns the uncompressed scratch buffer size for one
// full-size chunk.
func (e *Encoder) ChunkBufferSize() int {
	return int(varcube.ElementCount(e.ChunkDims)) * e.spec.bytesStored
}

// CompressedChunkBound upper-bounds a single compressed chunk's size,
// preserving the reference formula's tail-write slack.
func (e *Encoder) CompressedChunkBound() int {
	n := int(varcube.ElementCount(e.ChunkDims))
	return codec.CompressedBound(n, e.spec.bytesStored)
}

// LUTBound sizes the compressed LUT output buffer for lutLen offsets.
func LUTBound(lutLen int) int {
	nGroups := varcube.DivCeil(uint64(lutLen), omtype.LUTChunkCount)
	// Each group can, in the worst case, need every offset stored near
	// full width; codec.CompressedBound already carries the "may write a
	// bit more" slack per group.
	maxGroupBound := codec.CompressedBound(omtype.LUTChunkCount, 8)
	return int(nGroups)*maxGroupBound + lutOverheadBytes
}

// CompressChunk copies the portion of inputCube (shaped inputDims, valid
// over [inputOffset, inputOffset+inputCount)) belonging to chunk
// chunkIndex into scratch, converts, filters, and entropy-codes it into
// out, returning the number of bytes written.
func (e *Encoder) CompressChunk(inputCube []byte, inputDims, inputOffset, inputCount []uint64, chunkIndex uint64, out, scratch []byte) (int, error) {
	if chunkIndex >= e.totalChunks {
		return 0, fmt.Errorf("encoder: chunk index %d out of range", chunkIndex)
	}
	coord := varcube.ChunkCoord(chunkIndex, e.chunksPerDim)
	chunkShape := varcube.ChunkShape(e.Dims, e.ChunkDims, coord)
	chunkStart := varcube.ChunkStart(e.ChunkDims, coord)
	chunkElems := int(varcube.ElementCount(chunkShape))

	stored := scratch[:chunkElems*e.spec.bytesStored]
	for i := range stored {
		stored[i] = 0
	}

	src := varcube.Side{Dims: inputDims, Start: varcube.StartFrom(inputOffset), Count: inputCount}
	dst := varcube.Side{Dims: chunkShape, Start: varcube.StartFrom(chunkStart), Count: chunkShape}
	varcube.Walk(src, dst, func(offSrc, offDst, runLen uint64) {
		e.spec.toStored(
			inputCube[offSrc*uint64(e.spec.bytesUser):(offSrc+runLen)*uint64(e.spec.bytesUser)],
			e.Scale, e.Offset,
			stored[offDst*uint64(e.spec.bytesStored):(offDst+runLen)*uint64(e.spec.bytesStored)],
		)
	})

	length1 := int(chunkShape[len(chunkShape)-1])
	length0 := chunkElems / maxInt(length1, 1)
	return e.entropyEncode(stored, length0, length1, out)
}

func (e *Encoder) entropyEncode(stored []byte, length0, length1 int, out []byte) (int, error) {
	sp := e.spec
	if sp.fpXor != 0 {
		switch sp.fpXor {
		case 32:
			sp.filt.Encode(length0, length1, stored)
			words := bytesToUint32(stored)
			b := codec.FPXorEncode32(words)
			return copy(out, b), nil
		case 64:
			sp.filt.Encode(length0, length1, stored)
			words := bytesToUint64Raw(stored)
			b := codec.FPXorEncode64(words)
			return copy(out, b), nil
		}
	}
	sp.filt.Encode(length0, length1, stored)
	vals := bytesToPackWords(stored, sp.intWidth, sp.signed)
	n := codec.PForEncode(vals, out)
	return n, nil
}

// CompressLUT bit-packs the LUT (total_chunks+1 absolute offsets) into
// fixed-stride, independently seekable groups of LUTChunkCount entries.
func CompressLUT(lut []uint64, out []byte) int {
	nGroups := int(varcube.DivCeil(uint64(len(lut)), omtype.LUTChunkCount))
	lutSize := len(out) - lutOverheadBytes
	groupStride := lutSize / nGroups
	for i := 0; i < nGroups; i++ {
		start := i * omtype.LUTChunkCount
		end := start + omtype.LUTChunkCount
		if end > len(lut) {
			end = len(lut)
		}
		groupOut := out[i*groupStride : (i+1)*groupStride]
		n := codec.PForEncode(lut[start:end], groupOut)
		for j := n; j < groupStride; j++ {
			groupOut[j] = 0
		}
	}
	return lutSize
}

func selectSpec(elem omtype.DataType, c omtype.Compression) (spec, error) {
	switch {
	case elem == omtype.Float && c == omtype.PForDelta2DInt16:
		return spec{bytesUser: 4, bytesStored: 2, toStored: floatToInt16Bytes, filt: filter.Delta16{}, intWidth: 2, signed: true}, nil
	case elem == omtype.Float && c == omtype.PForDelta2DInt16Log10:
		return spec{bytesUser: 4, bytesStored: 2, toStored: floatToInt16Log10Bytes, filt: filter.Delta16{}, intWidth: 2, signed: true}, nil
	case elem == omtype.Float && c == omtype.FPXor2D:
		return spec{bytesUser: 4, bytesStored: 4, toStored: memcpy, filt: filter.Xor32{}, fpXor: 32}, nil
	case elem == omtype.Double && c == omtype.FPXor2D:
		return spec{bytesUser: 8, bytesStored: 8, toStored: memcpy, filt: filter.Xor64{}, fpXor: 64}, nil
	case elem == omtype.Float && c == omtype.PForDelta2D:
		return spec{bytesUser: 4, bytesStored: 4, toStored: floatToInt32Bytes, filt: filter.Delta32{}, intWidth: 4, signed: true}, nil
	case elem == omtype.Double && c == omtype.PForDelta2D:
		return spec{bytesUser: 8, bytesStored: 8, toStored: doubleToInt64Bytes, filt: filter.Delta64{}, intWidth: 8, signed: true}, nil
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
		return spec{bytesUser: size, bytesStored: size, toStored: memcpy, filt: filt, intWidth: size, signed: signed}, nil
	}
	return spec{}, fmt.Errorf("%w: %s/%s", omtype_ErrInvalidCombination, elem, c)
}

var omtype_ErrInvalidCombination = fmt.Errorf("unsupported data_type/compression combination")

func memcpy(src []byte, _, _ float32, dst []byte) { copy(dst, src) }

func floatToInt16Bytes(src []byte, scale, offset float32, dst []byte) {
	n := len(src) / 4
	f := make([]float32, n)
	for i := 0; i < n; i++ {
		f[i] = float32FromBytes(src[i*4:])
	}
	out := make([]int16, n)
	convert.FloatToInt16(f, scale, offset, out)
	for i, v := range out {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(v))
	}
}

func floatToInt16Log10Bytes(src []byte, scale, offset float32, dst []byte) {
	n := len(src) / 4
	f := make([]float32, n)
	for i := 0; i < n; i++ {
		f[i] = float32FromBytes(src[i*4:])
	}
	out := make([]int16, n)
	convert.FloatToInt16Log10(f, scale, offset, out)
	for i, v := range out {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(v))
	}
}

func floatToInt32Bytes(src []byte, scale, offset float32, dst []byte) {
	n := len(src) / 4
	f := make([]float32, n)
	for i := 0; i < n; i++ {
		f[i] = float32FromBytes(src[i*4:])
	}
	out := make([]int32, n)
	convert.FloatToInt32(f, scale, offset, out)
	for i, v := range out {
		binary.LittleEndian.PutUint32(dst[i*4:], uint32(v))
	}
}

func doubleToInt64Bytes(src []byte, scale, offset float32, dst []byte) {
	n := len(src) / 8
	f := make([]float64, n)
	for i := 0; i < n; i++ {
		f[i] = float64FromBytes(src[i*8:])
	}
	out := make([]int64, n)
	convert.DoubleToInt64(f, scale, offset, out)
	for i, v := range out {
		binary.LittleEndian.PutUint64(dst[i*8:], uint64(v))
	}
}

func float32FromBytes(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func float64FromBytes(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func bytesToUint32(buf []byte) []uint32 {
	out := make([]uint32, len(buf)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return out
}

func bytesToUint64Raw(buf []byte) []uint64 {
	out := make([]uint64, len(buf)/8)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	return out
}

func bytesToPackWords(buf []byte, width int, signed bool) []uint64 {
	n := len(buf) / width
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		var raw uint64
		for b := 0; b < width; b++ {
			raw |= uint64(buf[i*width+b]) << (8 * b)
		}
		if signed {
			out[i] = convert.ZigZagEncode64(signExtend(raw, width))
		} else {
			out[i] = raw
		}
	}
	return out
}

func signExtend(raw uint64, width int) int64 {
	shift := uint(64 - width*8)
	return int64(raw<<shift) >> shift
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
