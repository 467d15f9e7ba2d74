package omfile

import (
	"fmt"
	"sync"

	"github.com/open-meteo/om-file-format/internal/backend"
	"github.com/open-meteo/om-file-format/internal/bufwriter"
	"github.com/open-meteo/om-file-format/internal/encoder"
	"github.com/open-meteo/om-file-format/internal/omtype"
	"github.com/open-meteo/om-file-format/internal/varcube"
	"github.com/open-meteo/om-file-format/internal/variable"
)

// Writer drives one write session: writer operations are sequential and
// not safe for concurrent use, matching a single write session's
// post-order emission discipline.
type Writer struct {
	mu     sync.Mutex
	buf    *bufwriter.Writer
	opts   *writerOptions
	header bool
}

// Create opens a write session over be. The header is written lazily on
// the first operation rather than here.
func Create(be backend.WriteBackend, opts ...WriterOption) *Writer {
	o := defaultWriterOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Writer{buf: bufwriter.New(be, o.initialCapacity), opts: o}
}

func (w *Writer) ensureHeader() error {
	if w.header {
		return nil
	}
	if err := variable.WriteHeaderV3(w.buf); err != nil {
		return err
	}
	w.header = true
	return nil
}

// WriteScalar encodes value under name with the given children and
// returns its (offset, size).
func WriteScalar[T scalarNumeric](w *Writer, value T, name string, children []variable.ChildPointer) (uint64, uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureHeader(); err != nil {
		return 0, 0, wrapErr(IoError, "write header", err)
	}
	dt, ok := goTypeDataType[T]()
	if !ok {
		return 0, 0, newErr(InvalidDataType, "unsupported scalar type")
	}
	payload := typedToBytes([]T{value})
	off, size, err := variable.WriteScalar(w.buf, dt, payload, name, children)
	if err != nil {
		return 0, 0, wrapErr(IoError, "write scalar", err)
	}
	return off, size, nil
}

// WriteScalarString encodes a UTF-8 string scalar under name.
func WriteScalarString(w *Writer, value string, name string, children []variable.ChildPointer) (uint64, uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureHeader(); err != nil {
		return 0, 0, wrapErr(IoError, "write header", err)
	}
	off, size, err := variable.WriteScalar(w.buf, omtype.String, []byte(value), name, children)
	if err != nil {
		return 0, 0, wrapErr(IoError, "write scalar string", err)
	}
	return off, size, nil
}

// FinalisedArray is the result of ArrayEncoder.Finalise: the compressed
// chunk stream and LUT have been fully written, and the array's fixed
// metadata is ready to hand to WriteArray.
type FinalisedArray struct {
	DataType    omtype.DataType
	Compression omtype.Compression
	ScaleFactor float32
	AddOffset   float32
	Dimensions  []uint64
	Chunks      []uint64
	LUTOffset   uint64
	LUTSize     uint64
}

// WriteArray encodes fa's array record under name and returns its
// (offset, size).
func WriteArray(w *Writer, fa FinalisedArray, name string, children []variable.ChildPointer) (uint64, uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	meta := variable.ArrayMeta{
		DataType: fa.DataType, Compression: fa.Compression,
		ScaleFactor: fa.ScaleFactor, AddOffset: fa.AddOffset,
		Dimensions: fa.Dimensions, Chunks: fa.Chunks,
		LUTOffset: fa.LUTOffset, LUTSize: fa.LUTSize,
	}
	off, size, err := variable.WriteArray(w.buf, meta, name, children)
	if err != nil {
		return 0, 0, wrapErr(IoError, "write array record", err)
	}
	return off, size, nil
}

// WriteTrailer emits the trailer pointing at root and flushes the
// writer. It does not close the underlying backend.
func WriteTrailer(w *Writer, rootOffset, rootSize uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := variable.WriteTrailer(w.buf, rootOffset, rootSize); err != nil {
		return wrapErr(IoError, "write trailer", err)
	}
	return nil
}

// Close flushes and closes the underlying backend.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Close()
}

func arrayDataTypeFor[T scalarNumeric]() (omtype.DataType, bool) {
	var zero T
	switch any(zero).(type) {
	case int8:
		return omtype.Int8Array, true
	case int16:
		return omtype.Int16Array, true
	case int32:
		return omtype.Int32Array, true
	case int64:
		return omtype.Int64Array, true
	case uint8:
		return omtype.Uint8Array, true
	case uint16:
		return omtype.Uint16Array, true
	case uint32:
		return omtype.Uint32Array, true
	case uint64:
		return omtype.Uint64Array, true
	case float32:
		return omtype.FloatArray, true
	case float64:
		return omtype.DoubleArray, true
	default:
		return 0, false
	}
}

// ArrayEncoder drives one array's chunk-by-chunk compression.
type ArrayEncoder[T scalarNumeric] struct {
	w    *Writer
	enc  *encoder.Encoder
	dt   omtype.DataType
	comp omtype.Compression

	dims, chunkDims []uint64
	scale, offset   float32
	chunksPerDim    []uint64

	chunkIndex uint64
	lut        []uint64
	scratch    []byte
	compressed []byte
}

// PrepareArray begins writing a new array variable of the given shape.
func PrepareArray[T scalarNumeric](w *Writer, dims, chunkDims []uint64, compression omtype.Compression, scale, offset float32) (*ArrayEncoder[T], error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureHeader(); err != nil {
		return nil, wrapErr(IoError, "write header", err)
	}
	elem, ok := goTypeDataType[T]()
	if !ok {
		return nil, newErr(InvalidDataType, "unsupported array element type")
	}
	arrayDT, _ := arrayDataTypeFor[T]()
	enc, err := encoder.New(elem, compression, dims, chunkDims, scale, offset)
	if err != nil {
		return nil, wrapErr(InvalidArgument, "encoder init", err)
	}
	startOffset := w.buf.Position()
	return &ArrayEncoder[T]{
		w: w, enc: enc, dt: arrayDT, comp: compression,
		dims: dims, chunkDims: chunkDims, scale: scale, offset: offset,
		chunksPerDim: varcube.ChunksPerDim(dims, chunkDims),
		lut:          []uint64{startOffset},
		scratch:      make([]byte, enc.ChunkBufferSize()),
		compressed:   make([]byte, enc.CompressedChunkBound()),
	}, nil
}

// WriteData compresses every chunk fully covered by [cubeOffset,
// cubeOffset+cubeCount) that comes next in canonical chunk-major order,
// starting from the encoder's current chunk_index. Chunks beyond the
// supplied cube are left for a later call.
func (a *ArrayEncoder[T]) WriteData(cube []T, cubeDims, cubeOffset, cubeCount []uint64) error {
	a.w.mu.Lock()
	defer a.w.mu.Unlock()
	raw := typedToBytes(cube)
	total := a.enc.TotalChunks()
	for a.chunkIndex < total {
		coord := varcube.ChunkCoord(a.chunkIndex, a.chunksPerDim)
		chunkShape := varcube.ChunkShape(a.dims, a.chunkDims, coord)
		chunkStart := varcube.ChunkStart(a.chunkDims, coord)
		if !fullyContained(chunkStart, chunkShape, cubeOffset, cubeCount) {
			break
		}
		n, err := a.enc.CompressChunk(raw, cubeDims, cubeOffset, cubeCount, a.chunkIndex, a.compressed, a.scratch)
		if err != nil {
			return wrapErr(InvalidArgument, "compress chunk", err)
		}
		if _, err := a.w.buf.Write(a.compressed[:n]); err != nil {
			return wrapErr(IoError, "write chunk", err)
		}
		a.lut = append(a.lut, a.w.buf.Position())
		a.chunkIndex++
	}
	return nil
}

func fullyContained(start, shape, regionOffset, regionCount []uint64) bool {
	for i := range start {
		if start[i] < regionOffset[i] {
			return false
		}
		if start[i]+shape[i] > regionOffset[i]+regionCount[i] {
			return false
		}
	}
	return true
}

// Finalise emits the compressed LUT and returns the metadata WriteArray
// needs. It fails if fewer than total_chunks chunks have been written.
func (a *ArrayEncoder[T]) Finalise() (FinalisedArray, error) {
	a.w.mu.Lock()
	defer a.w.mu.Unlock()
	if a.chunkIndex != a.enc.TotalChunks() {
		return FinalisedArray{}, newErr(InvalidArgument, fmt.Sprintf("only %d/%d chunks written", a.chunkIndex, a.enc.TotalChunks()))
	}
	lutBound := encoder.LUTBound(len(a.lut))
	lutBuf := make([]byte, lutBound)
	lutSize := encoder.CompressLUT(a.lut, lutBuf)
	lutOffset := a.w.buf.Position()
	if _, err := a.w.buf.Write(lutBuf[:lutSize]); err != nil {
		return FinalisedArray{}, wrapErr(IoError, "write lut", err)
	}
	return FinalisedArray{
		DataType: a.dt, Compression: a.comp,
		ScaleFactor: a.scale, AddOffset: a.offset,
		Dimensions: a.dims, Chunks: a.chunkDims,
		LUTOffset: lutOffset, LUTSize: uint64(lutSize),
	}, nil
}
