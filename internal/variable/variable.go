// Package variable implements the on-disk variable tree: the v3 and
// legacy headers, the trailer, and the scalar/array record encodings
// described by the container format. Grounded on the teacher's
// superblock/object-header split (a fixed magic-prefixed record read
// once, versus a per-object record read on demand), generalized from
// HDF5's group/dataset object headers to this format's scalar/array
// records and its by-offset child pointers.
package variable

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/open-meteo/om-file-format/internal/backend"
	"github.com/open-meteo/om-file-format/internal/bufwriter"
	"github.com/open-meteo/om-file-format/internal/omtype"
)

// recordType discriminates a variable record's shape, independent of its
// data_type: a scalar record carries a fixed-width or length-prefixed
// payload, an array record carries chunk/compression metadata and a LUT
// pointer.
type recordType uint8

const (
	recordScalar recordType = 0
	recordArray  recordType = 1
)

// v3HeaderMagic marks a v3 file: an 8-byte magic at offset 0 with no
// payload, the root variable being discovered via the trailer instead.
var v3HeaderMagic = [8]byte{'O', 'M', 'f', 'i', 'l', 'e', '0', '3'}

// legacyMagic marks a pre-v3 file: 'O','M' followed by a version byte,
// after which the array metadata for the (single, rootless) variable
// follows inline.
var legacyMagic = [2]byte{'O', 'M'}

const legacyVersion = 1

// trailerMagic marks the fixed trailer record at the tail of a v3 file.
var trailerMagic = [8]byte{'O', 'M', 't', 'r', 'a', 'i', 'l', '3'}

const trailerSize = 8 + 8 + 8 // magic + root_offset + root_size

// ChildPointer is a (offset, size) back-pointer to an already-written
// child variable record.
type ChildPointer struct {
	Offset uint64
	Size   uint64
}

// ArrayMeta holds the fixed-size metadata fields of an array record.
type ArrayMeta struct {
	DataType    omtype.DataType
	Compression omtype.Compression
	ScaleFactor float32
	AddOffset   float32
	Dimensions  []uint64
	Chunks      []uint64
	LUTOffset   uint64
	LUTSize     uint64
}

// Variable is a parsed scalar or array record.
type Variable struct {
	IsArray  bool
	DataType omtype.DataType
	Name     string
	Children []ChildPointer

	// Scalar payload, valid when !IsArray.
	Payload []byte

	// Array metadata, valid when IsArray.
	Array ArrayMeta
}

// WriteHeaderV3 writes the fixed v3 magic at the writer's current
// position, which must be offset 0.
func WriteHeaderV3(w *bufwriter.Writer) error {
	_, err := w.Write(v3HeaderMagic[:])
	return err
}

// WriteTrailer writes the trailer record and flushes the writer.
func WriteTrailer(w *bufwriter.Writer, rootOffset, rootSize uint64) error {
	buf := make([]byte, trailerSize)
	copy(buf, trailerMagic[:])
	binary.LittleEndian.PutUint64(buf[8:], rootOffset)
	binary.LittleEndian.PutUint64(buf[16:], rootSize)
	if _, err := w.Write(buf); err != nil {
		return err
	}
	return w.Flush()
}

// ReadTrailer reads and validates the trailer at the end of be. ok is
// false when the trailer magic does not match, signaling the caller to
// fall back to the legacy header.
func ReadTrailer(be backend.Backend) (rootOffset, rootSize uint64, ok bool, err error) {
	length, err := be.Length()
	if err != nil {
		return 0, 0, false, err
	}
	if length < trailerSize {
		return 0, 0, false, nil
	}
	buf, err := be.ReadAt(length-trailerSize, trailerSize)
	if err != nil {
		return 0, 0, false, err
	}
	if string(buf[:8]) != string(trailerMagic[:]) {
		return 0, 0, false, nil
	}
	rootOffset = binary.LittleEndian.Uint64(buf[8:])
	rootSize = binary.LittleEndian.Uint64(buf[16:])
	return rootOffset, rootSize, true, nil
}

// ReadLegacyHeader reads the whole file as a single, rootless array
// variable whose metadata lives inline in the header.
func ReadLegacyHeader(be backend.Backend) (*Variable, bool, error) {
	length, err := be.Length()
	if err != nil {
		return nil, false, err
	}
	if length < 3 {
		return nil, false, nil
	}
	prefix, err := be.ReadAt(0, 3)
	if err != nil {
		return nil, false, err
	}
	if prefix[0] != legacyMagic[0] || prefix[1] != legacyMagic[1] || prefix[2] != legacyVersion {
		return nil, false, nil
	}
	rest, err := be.ReadAt(3, int(length-3))
	if err != nil {
		return nil, false, err
	}
	meta, _, err := decodeArrayMeta(rest)
	if err != nil {
		return nil, false, err
	}
	return &Variable{IsArray: true, DataType: meta.DataType, Array: meta}, true, nil
}

// WriteLegacyHeader writes a rootless single-array legacy file.
func WriteLegacyHeader(w *bufwriter.Writer, meta ArrayMeta) error {
	buf := []byte{legacyMagic[0], legacyMagic[1], legacyVersion}
	if _, err := w.Write(buf); err != nil {
		return err
	}
	body := encodeArrayMeta(meta)
	_, err := w.Write(body)
	return err
}

// WriteScalar encodes and appends a scalar record, 8-byte aligned, and
// returns its (offset, size).
func WriteScalar(w *bufwriter.Writer, dt omtype.DataType, payload []byte, name string, children []ChildPointer) (uint64, uint64, error) {
	start := w.Position()
	buf := make([]byte, 0, 32+len(payload)+len(name))
	buf = append(buf, byte(recordScalar), byte(dt))
	buf = appendUint64(buf, uint64(len(children)))
	buf = appendUint64(buf, uint64(len(name)))
	buf = append(buf, name...)
	for _, c := range children {
		buf = appendUint64(buf, c.Offset)
	}
	for _, c := range children {
		buf = appendUint64(buf, c.Size)
	}
	if dt == omtype.String {
		buf = appendUint64(buf, uint64(len(payload)))
	}
	buf = append(buf, payload...)

	if _, err := w.Write(buf); err != nil {
		return 0, 0, err
	}
	if err := w.Align(8); err != nil {
		return 0, 0, err
	}
	return start, w.Position() - start, nil
}

// WriteArray encodes and appends an array record, 64-byte aligned, and
// returns its (offset, size).
func WriteArray(w *bufwriter.Writer, meta ArrayMeta, name string, children []ChildPointer) (uint64, uint64, error) {
	if err := w.Align(64); err != nil {
		return 0, 0, err
	}
	start := w.Position()
	body := encodeArrayMeta(meta)
	buf := make([]byte, 0, len(body)+32+len(name))
	buf = append(buf, byte(recordArray))
	buf = append(buf, body...)
	buf = appendUint64(buf, uint64(len(children)))
	for _, c := range children {
		buf = appendUint64(buf, c.Offset)
	}
	for _, c := range children {
		buf = appendUint64(buf, c.Size)
	}
	buf = appendUint64(buf, uint64(len(name)))
	buf = append(buf, name...)

	if _, err := w.Write(buf); err != nil {
		return 0, 0, err
	}
	if err := w.Align(64); err != nil {
		return 0, 0, err
	}
	return start, w.Position() - start, nil
}

// Read parses the variable record of size bytes at offset from be.
func Read(be backend.Backend, offset, size uint64) (*Variable, error) {
	buf, err := be.ReadAt(int64(offset), int(size))
	if err != nil {
		return nil, fmt.Errorf("variable: read record at %d: %w", offset, err)
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("variable: empty record at %d", offset)
	}
	switch recordType(buf[0]) {
	case recordScalar:
		return decodeScalar(buf[1:])
	case recordArray:
		return decodeArray(buf[1:])
	default:
		return nil, fmt.Errorf("variable: unknown record type %d at %d", buf[0], offset)
	}
}

// GetChild reads the i-th child of v from be.
func GetChild(be backend.Backend, v *Variable, i int) (*Variable, error) {
	if i < 0 || i >= len(v.Children) {
		return nil, fmt.Errorf("variable: child index %d out of range", i)
	}
	c := v.Children[i]
	return Read(be, c.Offset, c.Size)
}

func decodeScalar(buf []byte) (*Variable, error) {
	if len(buf) < 1+8+8 {
		return nil, fmt.Errorf("variable: scalar record truncated")
	}
	dt := omtype.DataType(buf[0])
	buf = buf[1:]
	childCount, buf := readUint64(buf)
	nameLen, buf := readUint64(buf)
	if uint64(len(buf)) < nameLen {
		return nil, fmt.Errorf("variable: scalar name truncated")
	}
	name := string(buf[:nameLen])
	buf = buf[nameLen:]

	offsets := make([]uint64, childCount)
	for i := range offsets {
		offsets[i], buf = readUint64(buf)
	}
	sizes := make([]uint64, childCount)
	for i := range sizes {
		sizes[i], buf = readUint64(buf)
	}
	children := make([]ChildPointer, childCount)
	for i := range children {
		children[i] = ChildPointer{Offset: offsets[i], Size: sizes[i]}
	}

	payload := buf
	if dt == omtype.String {
		if len(buf) < 8 {
			return nil, fmt.Errorf("variable: scalar string length truncated")
		}
		var n uint64
		n, buf = readUint64(buf)
		if uint64(len(buf)) < n {
			return nil, fmt.Errorf("variable: scalar string truncated")
		}
		payload = buf[:n]
	} else if size, ok := dt.ScalarSize(); ok && len(buf) >= size {
		payload = buf[:size]
	}

	return &Variable{
		IsArray: false, DataType: dt, Name: name, Children: children,
		Payload: append([]byte(nil), payload...),
	}, nil
}

func decodeArray(buf []byte) (*Variable, error) {
	meta, rest, err := decodeArrayMeta(buf)
	if err != nil {
		return nil, err
	}
	childCount, rest := readUint64(rest)
	offsets := make([]uint64, childCount)
	for i := range offsets {
		offsets[i], rest = readUint64(rest)
	}
	sizes := make([]uint64, childCount)
	for i := range sizes {
		sizes[i], rest = readUint64(rest)
	}
	children := make([]ChildPointer, childCount)
	for i := range children {
		children[i] = ChildPointer{Offset: offsets[i], Size: sizes[i]}
	}
	nameLen, rest := readUint64(rest)
	if uint64(len(rest)) < nameLen {
		return nil, fmt.Errorf("variable: array name truncated")
	}
	name := string(rest[:nameLen])

	return &Variable{
		IsArray: true, DataType: meta.DataType, Name: name, Children: children,
		Array: meta,
	}, nil
}

func encodeArrayMeta(meta ArrayMeta) []byte {
	rank := len(meta.Dimensions)
	buf := make([]byte, 0, 2+8+2*4+8+rank*16+8+8)
	buf = append(buf, byte(meta.Compression), byte(meta.DataType))
	buf = appendFloat32(buf, meta.ScaleFactor)
	buf = appendFloat32(buf, meta.AddOffset)
	buf = appendUint64(buf, uint64(rank))
	for _, d := range meta.Dimensions {
		buf = appendUint64(buf, d)
	}
	for _, c := range meta.Chunks {
		buf = appendUint64(buf, c)
	}
	buf = appendUint64(buf, meta.LUTSize)
	buf = appendUint64(buf, meta.LUTOffset)
	return buf
}

func decodeArrayMeta(buf []byte) (ArrayMeta, []byte, error) {
	if len(buf) < 2+8 {
		return ArrayMeta{}, nil, fmt.Errorf("variable: array record truncated")
	}
	compression := omtype.Compression(buf[0])
	dt := omtype.DataType(buf[1])
	buf = buf[2:]
	var scale, offset float32
	scale, buf = readFloat32(buf)
	offset, buf = readFloat32(buf)
	rank, buf := readUint64(buf)

	dims := make([]uint64, rank)
	for i := range dims {
		dims[i], buf = readUint64(buf)
	}
	chunks := make([]uint64, rank)
	for i := range chunks {
		chunks[i], buf = readUint64(buf)
	}
	lutSize, buf := readUint64(buf)
	lutOffset, buf := readUint64(buf)

	return ArrayMeta{
		DataType: dt, Compression: compression,
		ScaleFactor: scale, AddOffset: offset,
		Dimensions: dims, Chunks: chunks,
		LUTOffset: lutOffset, LUTSize: lutSize,
	}, buf, nil
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func readUint64(buf []byte) (uint64, []byte) {
	return binary.LittleEndian.Uint64(buf), buf[8:]
}

func appendFloat32(buf []byte, v float32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(v))
	return append(buf, tmp[:]...)
}

func readFloat32(buf []byte) (float32, []byte) {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf)), buf[4:]
}
