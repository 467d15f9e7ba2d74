// Package omtype defines the closed set of variable data types and chunk
// compression schemes an OM file can carry, along with the byte sizes and
// scalar/array element sizing needed to interpret a variable record without
// first decoding its payload.
package omtype

import "fmt"

// DataType tags a variable's payload interpretation, mirroring the
// data_type discriminator in the container's scalar and array records.
type DataType uint8

const (
	None DataType = iota
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float
	Double
	String
	StringArray
	Int8Array
	Int16Array
	Int32Array
	Int64Array
	Uint8Array
	Uint16Array
	Uint32Array
	Uint64Array
	FloatArray
	DoubleArray
)

func (dt DataType) String() string {
	switch dt {
	case None:
		return "none"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Float:
		return "float"
	case Double:
		return "double"
	case String:
		return "string"
	case StringArray:
		return "string_array"
	case Int8Array:
		return "int8_array"
	case Int16Array:
		return "int16_array"
	case Int32Array:
		return "int32_array"
	case Int64Array:
		return "int64_array"
	case Uint8Array:
		return "uint8_array"
	case Uint16Array:
		return "uint16_array"
	case Uint32Array:
		return "uint32_array"
	case Uint64Array:
		return "uint64_array"
	case FloatArray:
		return "float_array"
	case DoubleArray:
		return "double_array"
	default:
		return fmt.Sprintf("datatype(%d)", uint8(dt))
	}
}

// IsArray reports whether dt is one of the *_array variants.
func (dt DataType) IsArray() bool {
	return dt >= Int8Array && dt <= DoubleArray
}

// ScalarSize returns the fixed payload size in bytes for scalar numeric
// types. Strings are length-prefixed and have no fixed size.
func (dt DataType) ScalarSize() (int, bool) {
	switch dt {
	case Int8, Uint8:
		return 1, true
	case Int16, Uint16:
		return 2, true
	case Int32, Uint32, Float:
		return 4, true
	case Int64, Uint64, Double:
		return 8, true
	default:
		return 0, false
	}
}

// ArrayElementType returns the scalar element DataType backing an array
// variant, e.g. FloatArray -> Float.
func (dt DataType) ArrayElementType() DataType {
	switch dt {
	case Int8Array:
		return Int8
	case Int16Array:
		return Int16
	case Int32Array:
		return Int32
	case Int64Array:
		return Int64
	case Uint8Array:
		return Uint8
	case Uint16Array:
		return Uint16
	case Uint32Array:
		return Uint32
	case Uint64Array:
		return Uint64
	case FloatArray:
		return Float
	case DoubleArray:
		return Double
	case StringArray:
		return String
	default:
		return None
	}
}

// Compression identifies the filter+entropy-coder pair applied to an
// array's chunks, per the selection table in the container format.
type Compression uint8

const (
	PForDelta2D Compression = iota
	PForDelta2DInt16
	PForDelta2DInt16Log10
	FPXor2D
)

func (c Compression) String() string {
	switch c {
	case PForDelta2D:
		return "PForDelta2D"
	case PForDelta2DInt16:
		return "PForDelta2D-Int16"
	case PForDelta2DInt16Log10:
		return "PForDelta2D-Int16-log10"
	case FPXor2D:
		return "FPXor2D"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// BytesPerElementStored returns the on-disk element width for the given
// (data type, compression) pair, per the encoder's selection table. ok is
// false for unsupported combinations.
func BytesPerElementStored(dt DataType, c Compression) (size int, ok bool) {
	elem := dt
	if dt.IsArray() {
		elem = dt.ArrayElementType()
	}
	switch {
	case elem == Float && c == PForDelta2DInt16:
		return 2, true
	case elem == Float && c == PForDelta2DInt16Log10:
		return 2, true
	case elem == Float && c == FPXor2D:
		return 4, true
	case elem == Double && c == FPXor2D:
		return 8, true
	case elem == Float && c == PForDelta2D:
		return 4, true
	case elem == Double && c == PForDelta2D:
		return 8, true
	case c == PForDelta2D:
		if size, ok := elem.ScalarSize(); ok {
			return size, true
		}
	}
	return 0, false
}

// LUTChunkCount is the fixed group size used when bit-packing the LUT.
const LUTChunkCount = 256

// Default I/O planner thresholds.
const (
	DefaultIOSizeMerge = 512
	DefaultIOSizeMax   = 65536
)
