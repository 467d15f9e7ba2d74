package omfile

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/open-meteo/om-file-format/internal/backend"
	"github.com/open-meteo/om-file-format/internal/decoder"
	"github.com/open-meteo/om-file-format/internal/metrics"
	"github.com/open-meteo/om-file-format/internal/omtype"
	"github.com/open-meteo/om-file-format/internal/planner"
	"github.com/open-meteo/om-file-format/internal/variable"
)

// wrapDecodeErr classifies an error surfaced from decoder/planner
// internals against the taxonomy's compression and entropy-size kinds
// before falling back to the generic IoError bucket, so a caller can
// distinguish "this file names a codec we don't support" or "the LUT's
// declared chunk size doesn't match what was decoded" from an ordinary
// backend I/O failure.
func wrapDecodeErr(msg string, err error) error {
	switch {
	case errors.Is(err, decoder.ErrUnsupportedCompression):
		return wrapErr(InvalidCompressionType, msg, err)
	case errors.Is(err, decoder.ErrEntropySizeMismatch):
		return wrapErr(DeflatedSizeMismatch, msg, err)
	case errors.Is(err, decoder.ErrInvalidArgument):
		return wrapErr(InvalidArgument, msg, err)
	default:
		return wrapErr(IoError, msg, err)
	}
}

// Reader is a materialized node in an open file's variable tree: a
// scalar or array variable, plus enough of the backend/options context
// to navigate children or open an ArrayReader.
type Reader struct {
	be      backend.Backend
	v       *variable.Variable
	opts    *readerOptions
	metrics *metrics.Recorder
}

// Open reads the trailer (falling back to the legacy header) and
// returns a Reader positioned at the root variable.
func Open(be backend.Backend, opts ...ReaderOption) (*Reader, error) {
	o := defaultReaderOptions()
	for _, opt := range opts {
		opt(o)
	}

	rootOffset, rootSize, ok, err := variable.ReadTrailer(be)
	if err != nil {
		return nil, wrapErr(IoError, "read trailer", err)
	}
	if ok {
		v, err := variable.Read(be, rootOffset, rootSize)
		if err != nil {
			return nil, wrapErr(IoError, "read root variable", err)
		}
		return newReader(be, v, o), nil
	}

	legacy, ok, err := variable.ReadLegacyHeader(be)
	if err != nil {
		return nil, wrapErr(IoError, "read legacy header", err)
	}
	if !ok {
		return nil, newErr(NotAnOmFile, "neither v3 trailer nor legacy header validated")
	}
	return newReader(be, legacy, o), nil
}

func newReader(be backend.Backend, v *variable.Variable, o *readerOptions) *Reader {
	r := &Reader{be: be, v: v, opts: o}
	if o.metricsReg != nil {
		r.metrics = metrics.NewRecorder(o.metricsReg, v.Name)
	}
	return r
}

// DataType returns the variable's data_type discriminator.
func (r *Reader) DataType() omtype.DataType { return r.v.DataType }

// Name returns the variable's name, empty for an unnamed root.
func (r *Reader) Name() string { return r.v.Name }

// ChildrenCount returns the number of child variables.
func (r *Reader) ChildrenCount() int { return len(r.v.Children) }

// Child resolves the i-th child variable.
func (r *Reader) Child(i int) (*Reader, error) {
	cv, err := variable.GetChild(r.be, r.v, i)
	if err != nil {
		return nil, wrapErr(IoError, "get child", err)
	}
	return newReader(r.be, cv, r.opts), nil
}

// ChildByName resolves the first child with the given name.
func (r *Reader) ChildByName(name string) (*Reader, error) {
	for i, c := range r.v.Children {
		_ = c
		child, err := r.Child(i)
		if err != nil {
			return nil, err
		}
		if child.Name() == name {
			return child, nil
		}
	}
	return nil, newErr(OutOfBoundRead, "no child named "+name)
}

// scalarNumeric is the set of Go types ReadScalar supports.
type scalarNumeric interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// ReadScalar decodes r's scalar payload as T, failing with
// InvalidDataType if r's data_type does not match T.
func ReadScalar[T scalarNumeric](r *Reader) (T, error) {
	var zero T
	if r.v.IsArray {
		return zero, newErr(InvalidDataType, "variable is an array, not a scalar")
	}
	want, ok := goTypeDataType[T]()
	if !ok || r.v.DataType != want {
		return zero, newErr(InvalidDataType, "scalar data_type mismatch")
	}
	return decodeScalarNumeric[T](r.v.Payload), nil
}

// ReadString decodes r's scalar payload as a UTF-8 string.
func ReadString(r *Reader) (string, error) {
	if r.v.IsArray || r.v.DataType != omtype.String {
		return "", newErr(InvalidDataType, "variable is not a string scalar")
	}
	return string(r.v.Payload), nil
}

func goTypeDataType[T scalarNumeric]() (omtype.DataType, bool) {
	var zero T
	switch any(zero).(type) {
	case int8:
		return omtype.Int8, true
	case int16:
		return omtype.Int16, true
	case int32:
		return omtype.Int32, true
	case int64:
		return omtype.Int64, true
	case uint8:
		return omtype.Uint8, true
	case uint16:
		return omtype.Uint16, true
	case uint32:
		return omtype.Uint32, true
	case uint64:
		return omtype.Uint64, true
	case float32:
		return omtype.Float, true
	case float64:
		return omtype.Double, true
	default:
		return 0, false
	}
}

func decodeScalarNumeric[T scalarNumeric](payload []byte) T {
	var zero T
	switch any(zero).(type) {
	case int8:
		return T(int8(payload[0]))
	case int16:
		return T(int16(binary.LittleEndian.Uint16(payload)))
	case int32:
		return T(int32(binary.LittleEndian.Uint32(payload)))
	case int64:
		return T(int64(binary.LittleEndian.Uint64(payload)))
	case uint8:
		return T(payload[0])
	case uint16:
		return T(binary.LittleEndian.Uint16(payload))
	case uint32:
		return T(binary.LittleEndian.Uint32(payload))
	case uint64:
		return T(binary.LittleEndian.Uint64(payload))
	case float32:
		return T(math.Float32frombits(binary.LittleEndian.Uint32(payload)))
	case float64:
		return T(math.Float64frombits(binary.LittleEndian.Uint64(payload)))
	}
	return zero
}

// ArrayReader is a typed view over an array variable, driven by a
// planner bound to the variable's LUT and chunk grid.
type ArrayReader[T scalarNumeric] struct {
	r        *Reader
	dec      *decoder.Decoder
	planner  *planner.Planner
	elemSize int
}

// AsArray returns an ArrayReader[T] over r, or nil if r is not an array
// or T does not match its element type.
func AsArray[T scalarNumeric](r *Reader, opts ...ArrayOption) (*ArrayReader[T], error) {
	if !r.v.IsArray {
		return nil, newErr(InvalidDataType, "variable is not an array")
	}
	want, ok := goTypeDataType[T]()
	if !ok || r.v.Array.DataType.ArrayElementType() != want {
		return nil, newErr(InvalidDataType, "array element type mismatch")
	}
	o := defaultArrayOptions()
	for _, opt := range opts {
		opt(o)
	}

	dec, err := decoder.New(want, r.v.Array.Compression, r.v.Array.Dimensions, r.v.Array.Chunks, r.v.Array.ScaleFactor, r.v.Array.AddOffset)
	if err != nil {
		return nil, wrapDecodeErr("decoder init", err)
	}

	var plOpts []planner.Option
	if o.concurrency > 0 {
		plOpts = append(plOpts, planner.WithConcurrency(o.concurrency))
	}
	if r.opts.lutCacheSize > 0 {
		plOpts = append(plOpts, planner.WithLUTGroupCache(r.opts.lutCacheSize))
	}
	if r.metrics != nil {
		plOpts = append(plOpts, planner.WithMetrics(r.metrics))
	}
	totalChunks := dec.TotalChunks()
	pl := planner.New(r.be, dec, r.v.Array.LUTOffset, r.v.Array.LUTSize, totalChunks, plOpts...)
	pl.SetThresholds(o.ioSizeMerge, o.ioSizeMax)

	elemSize, _ := goTypeSize[T]()
	return &ArrayReader[T]{r: r, dec: dec, planner: pl, elemSize: elemSize}, nil
}

func goTypeSize[T scalarNumeric]() (int, bool) {
	var zero T
	switch any(zero).(type) {
	case int8, uint8:
		return 1, true
	case int16, uint16:
		return 2, true
	case int32, uint32, float32:
		return 4, true
	case int64, uint64, float64:
		return 8, true
	}
	return 0, false
}

// Dimensions returns the array's logical shape.
func (a *ArrayReader[T]) Dimensions() []uint64 { return a.r.v.Array.Dimensions }

// ChunkDimensions returns the array's chunk shape.
func (a *ArrayReader[T]) ChunkDimensions() []uint64 { return a.r.v.Array.Chunks }

// Compression returns the array's compression scheme.
func (a *ArrayReader[T]) Compression() omtype.Compression { return a.r.v.Array.Compression }

// ScaleFactor returns the array's quantization scale.
func (a *ArrayReader[T]) ScaleFactor() float32 { return a.r.v.Array.ScaleFactor }

// AddOffset returns the array's quantization offset.
func (a *ArrayReader[T]) AddOffset() float32 { return a.r.v.Array.AddOffset }

// Read decodes [offset, offset+count) into a freshly allocated slice.
func (a *ArrayReader[T]) Read(offset, count []uint64) ([]T, error) {
	if err := decoder.ValidateRegion(a.r.v.Array.Dimensions, offset, count); err != nil {
		return nil, wrapErr(OutOfBoundRead, "read region", err)
	}
	n := 1
	for _, c := range count {
		n *= int(c)
	}
	out := make([]byte, n*a.elemSize)
	if err := a.planner.Read(a.r.v.Array.Dimensions, a.r.v.Array.Chunks, offset, count, out, count, zeroOffset(len(count)), count, false); err != nil {
		return nil, wrapDecodeErr("planner read", err)
	}
	return bytesToTyped[T](out), nil
}

// ReadInto decodes [offset, offset+count) into outCube, a buffer shaped
// intoCubeDimensions, placed at intoCubeOffset.
func (a *ArrayReader[T]) ReadInto(outCube []T, offset, count, intoCubeOffset, intoCubeDimensions []uint64) error {
	if err := decoder.ValidateRegion(a.r.v.Array.Dimensions, offset, count); err != nil {
		return wrapErr(OutOfBoundRead, "read region", err)
	}
	raw := typedToBytes(outCube)
	if err := a.planner.Read(a.r.v.Array.Dimensions, a.r.v.Array.Chunks, offset, count, raw, intoCubeDimensions, intoCubeOffset, count, false); err != nil {
		return wrapDecodeErr("planner read", err)
	}
	copyBytesToTyped(raw, outCube)
	return nil
}

// ReadConcurrent behaves like Read but fans decode work for individual
// chunks out to the bounded worker pool configured via WithConcurrency.
func (a *ArrayReader[T]) ReadConcurrent(offset, count []uint64) ([]T, error) {
	if err := decoder.ValidateRegion(a.r.v.Array.Dimensions, offset, count); err != nil {
		return nil, wrapErr(OutOfBoundRead, "read region", err)
	}
	n := 1
	for _, c := range count {
		n *= int(c)
	}
	out := make([]byte, n*a.elemSize)
	if err := a.planner.Read(a.r.v.Array.Dimensions, a.r.v.Array.Chunks, offset, count, out, count, zeroOffset(len(count)), count, true); err != nil {
		return nil, wrapDecodeErr("planner read", err)
	}
	return bytesToTyped[T](out), nil
}

// zeroOffset returns a rank-length all-zero offset, used whenever the
// output buffer is sized exactly to the request and so has no placement
// offset of its own within a larger cube.
func zeroOffset(rank int) []uint64 {
	return make([]uint64, rank)
}

// WillNeed issues advisory prefetches for [offset, offset+count).
func (a *ArrayReader[T]) WillNeed(offset, count []uint64) error {
	return a.planner.Prefetch(a.r.v.Array.Dimensions, a.r.v.Array.Chunks, offset, count)
}

func bytesToTyped[T scalarNumeric](buf []byte) []T {
	size, _ := goTypeSize[T]()
	out := make([]T, len(buf)/size)
	copyBytesToTyped(buf, out)
	return out
}

func copyBytesToTyped[T scalarNumeric](buf []byte, out []T) {
	var zero T
	switch any(zero).(type) {
	case int8:
		for i := range out {
			out[i] = T(int8(buf[i]))
		}
	case uint8:
		for i := range out {
			out[i] = T(buf[i])
		}
	case int16:
		for i := range out {
			out[i] = T(int16(binary.LittleEndian.Uint16(buf[i*2:])))
		}
	case uint16:
		for i := range out {
			out[i] = T(binary.LittleEndian.Uint16(buf[i*2:]))
		}
	case int32:
		for i := range out {
			out[i] = T(int32(binary.LittleEndian.Uint32(buf[i*4:])))
		}
	case uint32:
		for i := range out {
			out[i] = T(binary.LittleEndian.Uint32(buf[i*4:]))
		}
	case float32:
		for i := range out {
			out[i] = T(math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:])))
		}
	case int64:
		for i := range out {
			out[i] = T(int64(binary.LittleEndian.Uint64(buf[i*8:])))
		}
	case uint64:
		for i := range out {
			out[i] = T(binary.LittleEndian.Uint64(buf[i*8:]))
		}
	case float64:
		for i := range out {
			out[i] = T(math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:])))
		}
	}
}

func typedToBytes[T scalarNumeric](vals []T) []byte {
	size, _ := goTypeSize[T]()
	out := make([]byte, len(vals)*size)
	var zero T
	switch any(zero).(type) {
	case int8:
		for i, v := range vals {
			out[i] = byte(int8(v))
		}
	case uint8:
		for i, v := range vals {
			out[i] = byte(v)
		}
	case int16:
		for i, v := range vals {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
		}
	case uint16:
		for i, v := range vals {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
		}
	case int32:
		for i, v := range vals {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(int32(v)))
		}
	case uint32:
		for i, v := range vals {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
		}
	case float32:
		for i, v := range vals {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(float32(v)))
		}
	case int64:
		for i, v := range vals {
			binary.LittleEndian.PutUint64(out[i*8:], uint64(int64(v)))
		}
	case uint64:
		for i, v := range vals {
			binary.LittleEndian.PutUint64(out[i*8:], uint64(v))
		}
	case float64:
		for i, v := range vals {
			binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(float64(v)))
		}
	}
	return out
}
