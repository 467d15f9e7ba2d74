package omfile

import (
	"math"
	"testing"

	"github.com/open-meteo/om-file-format/internal/backend"
	"github.com/open-meteo/om-file-format/internal/bufwriter"
	"github.com/open-meteo/om-file-format/internal/encoder"
	"github.com/open-meteo/om-file-format/internal/omtype"
	"github.com/open-meteo/om-file-format/internal/variable"
)

func TestScalarStringRoundTrip(t *testing.T) {
	be := backend.NewMemoryBackend(nil)
	w := Create(be)

	off, size, err := WriteScalarString(w, "hello", "greeting", nil)
	if err != nil {
		t.Fatalf("WriteScalarString: %v", err)
	}
	if err := WriteTrailer(w, off, size); err != nil {
		t.Fatalf("WriteTrailer: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(backend.NewMemoryBackend(be.Bytes()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, err := ReadString(r)
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if got != "hello" {
		t.Fatalf("ReadString = %q, want hello", got)
	}
	if r.Name() != "greeting" {
		t.Fatalf("Name = %q", r.Name())
	}
}

func TestArrayWithScalarChildren(t *testing.T) {
	be := backend.NewMemoryBackend(nil)
	w := Create(be)

	unitsOff, unitsSize, err := WriteScalarString(w, "m", "units", nil)
	if err != nil {
		t.Fatalf("write units: %v", err)
	}
	longNameOff, longNameSize, err := WriteScalarString(w, "height", "long_name", nil)
	if err != nil {
		t.Fatalf("write long_name: %v", err)
	}

	dims := []uint64{5, 5}
	chunks := []uint64{2, 2}
	enc, err := PrepareArray[float32](w, dims, chunks, omtype.PForDelta2DInt16, 100, 0)
	if err != nil {
		t.Fatalf("PrepareArray: %v", err)
	}
	values := makeRamp(5 * 5)
	if err := enc.WriteData(values, dims, []uint64{0, 0}, dims); err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	fa, err := enc.Finalise()
	if err != nil {
		t.Fatalf("Finalise: %v", err)
	}

	children := []variable.ChildPointer{
		{Offset: unitsOff, Size: unitsSize},
		{Offset: longNameOff, Size: longNameSize},
	}
	arrOff, arrSize, err := WriteArray(w, fa, "height_var", children)
	if err != nil {
		t.Fatalf("WriteArray: %v", err)
	}
	if err := WriteTrailer(w, arrOff, arrSize); err != nil {
		t.Fatalf("WriteTrailer: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(backend.NewMemoryBackend(be.Bytes()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r.ChildrenCount() != 2 {
		t.Fatalf("ChildrenCount = %d, want 2", r.ChildrenCount())
	}
	units, err := r.ChildByName("units")
	if err != nil {
		t.Fatalf("ChildByName(units): %v", err)
	}
	unitsVal, err := ReadString(units)
	if err != nil || unitsVal != "m" {
		t.Fatalf("units = %q, %v", unitsVal, err)
	}

	ar, err := AsArray[float32](r)
	if err != nil {
		t.Fatalf("AsArray: %v", err)
	}
	got, err := ar.Read([]uint64{0, 0}, dims)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, v := range got {
		if math.Abs(float64(v-values[i])) > 0.01 {
			t.Fatalf("element %d = %v, want %v", i, v, values[i])
		}
	}

	byPath, err := ChildByPath(r, "/long_name")
	if err != nil {
		t.Fatalf("ChildByPath: %v", err)
	}
	longName, err := ReadString(byPath)
	if err != nil || longName != "height" {
		t.Fatalf("long_name = %q, %v", longName, err)
	}
	if same, err := ChildByPath(r, ""); err != nil || same != r {
		t.Fatalf("ChildByPath(\"\") should return r itself, got %v, %v", same, err)
	}
	if _, err := ChildByPath(r, "missing"); err == nil {
		t.Fatal("expected error resolving a nonexistent path segment")
	}
}

func TestArraySubCubeAndConcurrentMatchSequential(t *testing.T) {
	be := backend.NewMemoryBackend(nil)
	w := Create(be)

	dims := []uint64{6, 6}
	chunks := []uint64{3, 3}
	enc, err := PrepareArray[float64](w, dims, chunks, omtype.FPXor2D, 0, 0)
	if err != nil {
		t.Fatalf("PrepareArray: %v", err)
	}
	values := make([]float64, 36)
	for i := range values {
		values[i] = float64(i) * 1.5
	}
	if err := enc.WriteData(values, dims, []uint64{0, 0}, dims); err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	fa, err := enc.Finalise()
	if err != nil {
		t.Fatalf("Finalise: %v", err)
	}
	off, size, err := WriteArray(w, fa, "grid", nil)
	if err != nil {
		t.Fatalf("WriteArray: %v", err)
	}
	if err := WriteTrailer(w, off, size); err != nil {
		t.Fatalf("WriteTrailer: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(backend.NewMemoryBackend(be.Bytes()), WithLUTGroupCache(8))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ar, err := AsArray[float64](r, WithConcurrency(4))
	if err != nil {
		t.Fatalf("AsArray: %v", err)
	}

	seq, err := ar.Read([]uint64{2, 2}, []uint64{3, 3})
	if err != nil {
		t.Fatalf("Read (sequential): %v", err)
	}
	conc, err := ar.ReadConcurrent([]uint64{2, 2}, []uint64{3, 3})
	if err != nil {
		t.Fatalf("ReadConcurrent: %v", err)
	}
	if len(seq) != len(conc) {
		t.Fatalf("length mismatch: %d vs %d", len(seq), len(conc))
	}
	for i := range seq {
		if seq[i] != conc[i] {
			t.Fatalf("element %d differs: sequential=%v concurrent=%v", i, seq[i], conc[i])
		}
	}

	full, err := ar.Read([]uint64{0, 0}, dims)
	if err != nil {
		t.Fatalf("Read (full): %v", err)
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			want := full[(r+2)*6+(c+2)]
			got := seq[r*3+c]
			if want != got {
				t.Fatalf("sub-cube[%d][%d] = %v, want %v", r, c, got, want)
			}
		}
	}
}

func TestArrayReadIntoLeavesOutsideElementsUntouched(t *testing.T) {
	be := backend.NewMemoryBackend(nil)
	w := Create(be)

	dims := []uint64{4, 4}
	chunks := []uint64{2, 2}
	enc, err := PrepareArray[int32](w, dims, chunks, omtype.PForDelta2D, 0, 0)
	if err != nil {
		t.Fatalf("PrepareArray: %v", err)
	}
	values := make([]int32, 16)
	for i := range values {
		values[i] = int32(i)
	}
	if err := enc.WriteData(values, dims, []uint64{0, 0}, dims); err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	fa, err := enc.Finalise()
	if err != nil {
		t.Fatalf("Finalise: %v", err)
	}
	off, size, err := WriteArray(w, fa, "ints", nil)
	if err != nil {
		t.Fatalf("WriteArray: %v", err)
	}
	if err := WriteTrailer(w, off, size); err != nil {
		t.Fatalf("WriteTrailer: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(backend.NewMemoryBackend(be.Bytes()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ar, err := AsArray[int32](r)
	if err != nil {
		t.Fatalf("AsArray: %v", err)
	}

	into := make([]int32, 6*6)
	sentinel := int32(-1)
	for i := range into {
		into[i] = sentinel
	}
	if err := ar.ReadInto(into, []uint64{0, 0}, []uint64{2, 2}, []uint64{1, 1}, []uint64{6, 6}); err != nil {
		t.Fatalf("ReadInto: %v", err)
	}
	for row := 0; row < 6; row++ {
		for col := 0; col < 6; col++ {
			idx := row*6 + col
			inPlaced := row >= 1 && row < 3 && col >= 1 && col < 3
			if !inPlaced && into[idx] != sentinel {
				t.Fatalf("cell (%d,%d) = %d, want untouched sentinel", row, col, into[idx])
			}
		}
	}
	if into[1*6+1] != 0 || into[1*6+2] != 1 || into[2*6+1] != 4 || into[2*6+2] != 5 {
		t.Fatalf("placed region mismatch: %v", into)
	}
}

// TestArrayReadSpansMultipleLUTGroups writes an array with 256 chunks (one
// per element, dims [16,16] chunked [1,1]), which needs two LUT groups
// since a group holds omtype.LUTChunkCount=256 offsets but the LUT itself
// stores totalChunks+1=257 of them. Reading the whole array touches
// chunk 255, the last chunk in group 0, whose end offset lives in group
// 1 — exactly the boundary a LUT group-stride or fetch-range mistake
// would get wrong. A 3x3 sub-cube read, which doesn't touch chunk 255,
// checks a request whose offsets all stay inside group 0.
func TestArrayReadSpansMultipleLUTGroups(t *testing.T) {
	be := backend.NewMemoryBackend(nil)
	w := Create(be)

	dims := []uint64{16, 16}
	chunks := []uint64{1, 1}
	enc, err := PrepareArray[int32](w, dims, chunks, omtype.PForDelta2D, 0, 0)
	if err != nil {
		t.Fatalf("PrepareArray: %v", err)
	}
	values := make([]int32, 256)
	for i := range values {
		values[i] = int32(i)
	}
	if err := enc.WriteData(values, dims, []uint64{0, 0}, dims); err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	fa, err := enc.Finalise()
	if err != nil {
		t.Fatalf("Finalise: %v", err)
	}
	off, size, err := WriteArray(w, fa, "wide", nil)
	if err != nil {
		t.Fatalf("WriteArray: %v", err)
	}
	if err := WriteTrailer(w, off, size); err != nil {
		t.Fatalf("WriteTrailer: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(backend.NewMemoryBackend(be.Bytes()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ar, err := AsArray[int32](r)
	if err != nil {
		t.Fatalf("AsArray: %v", err)
	}

	full, err := ar.Read([]uint64{0, 0}, dims)
	if err != nil {
		t.Fatalf("Read (full): %v", err)
	}
	if len(full) != len(values) {
		t.Fatalf("full read length = %d, want %d", len(full), len(values))
	}
	for i := range values {
		if full[i] != values[i] {
			t.Fatalf("full[%d] = %d, want %d", i, full[i], values[i])
		}
	}

	sub, err := ar.Read([]uint64{5, 5}, []uint64{3, 3})
	if err != nil {
		t.Fatalf("Read (sub): %v", err)
	}
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			want := values[(5+row)*16+(5+col)]
			got := sub[row*3+col]
			if got != want {
				t.Fatalf("sub[%d][%d] = %d, want %d", row, col, got, want)
			}
		}
	}
}

func TestLegacyAndV3FilesAreEquivalent(t *testing.T) {
	dims := []uint64{2, 2}
	chunks := []uint64{2, 2}
	values := []float32{1, 2, 3, 4}

	v3Backend := backend.NewMemoryBackend(nil)
	w := Create(v3Backend)
	enc, err := PrepareArray[float32](w, dims, chunks, omtype.PForDelta2DInt16, 10, 0)
	if err != nil {
		t.Fatalf("PrepareArray: %v", err)
	}
	if err := enc.WriteData(values, dims, []uint64{0, 0}, dims); err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	fa, err := enc.Finalise()
	if err != nil {
		t.Fatalf("Finalise: %v", err)
	}
	off, size, err := WriteArray(w, fa, "", nil)
	if err != nil {
		t.Fatalf("WriteArray: %v", err)
	}
	if err := WriteTrailer(w, off, size); err != nil {
		t.Fatalf("WriteTrailer: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	v3Reader, err := Open(backend.NewMemoryBackend(v3Backend.Bytes()))
	if err != nil {
		t.Fatalf("Open v3: %v", err)
	}
	v3Array, err := AsArray[float32](v3Reader)
	if err != nil {
		t.Fatalf("AsArray v3: %v", err)
	}
	v3Values, err := v3Array.Read([]uint64{0, 0}, dims)
	if err != nil {
		t.Fatalf("Read v3: %v", err)
	}

	legacyBytes := buildLegacyFile(t, dims, chunks, values)
	legacyReader, err := Open(backend.NewMemoryBackend(legacyBytes))
	if err != nil {
		t.Fatalf("Open legacy: %v", err)
	}
	legacyArray, err := AsArray[float32](legacyReader)
	if err != nil {
		t.Fatalf("AsArray legacy: %v", err)
	}
	legacyValues, err := legacyArray.Read([]uint64{0, 0}, dims)
	if err != nil {
		t.Fatalf("Read legacy: %v", err)
	}

	if len(v3Values) != len(legacyValues) {
		t.Fatalf("length mismatch: %d vs %d", len(v3Values), len(legacyValues))
	}
	for i := range v3Values {
		if v3Values[i] != legacyValues[i] {
			t.Fatalf("value %d differs: v3=%v legacy=%v", i, v3Values[i], legacyValues[i])
		}
	}
}

// buildLegacyFile hand-assembles a rootless single-array legacy file: the
// header carries the array's fixed metadata inline, including the LUT
// offset, so chunk data and the LUT have to be laid out first before the
// header's true offsets are known. It over-allocates the header with a
// placeholder LUT offset/size to learn the header's fixed length, then
// rewrites it with the real values once the rest of the file is sized.
func buildLegacyFile(t *testing.T, dims, chunkDims []uint64, values []float32) []byte {
	t.Helper()

	enc, err := encoder.New(omtype.Float, omtype.PForDelta2DInt16, dims, chunkDims, 10, 0)
	if err != nil {
		t.Fatalf("encoder.New: %v", err)
	}
	scratch := make([]byte, enc.ChunkBufferSize())
	compressedBuf := make([]byte, enc.CompressedChunkBound())
	raw := typedToBytes(values)

	var chunkData []byte
	relLUT := []uint64{0}
	for chunkIndex := uint64(0); chunkIndex < enc.TotalChunks(); chunkIndex++ {
		n, err := enc.CompressChunk(raw, dims, []uint64{0, 0}, dims, chunkIndex, compressedBuf, scratch)
		if err != nil {
			t.Fatalf("CompressChunk(%d): %v", chunkIndex, err)
		}
		chunkData = append(chunkData, compressedBuf[:n]...)
		relLUT = append(relLUT, uint64(len(chunkData)))
	}

	placeholderMeta := variable.ArrayMeta{
		DataType: omtype.FloatArray, Compression: omtype.PForDelta2DInt16,
		ScaleFactor: 10, AddOffset: 0,
		Dimensions: dims, Chunks: chunkDims,
		LUTOffset: 0, LUTSize: 0,
	}
	probe := backend.NewMemoryBackend(nil)
	probeWriter := bufwriter.New(probe, 0)
	if err := variable.WriteLegacyHeader(probeWriter, placeholderMeta); err != nil {
		t.Fatalf("probe WriteLegacyHeader: %v", err)
	}
	if err := probeWriter.Flush(); err != nil {
		t.Fatalf("probe Flush: %v", err)
	}
	headerLen := probeWriter.Position()

	absLUT := make([]uint64, len(relLUT))
	for i, v := range relLUT {
		absLUT[i] = v + headerLen
	}
	lutBuf := make([]byte, encoder.LUTBound(len(absLUT)))
	lutSize := encoder.CompressLUT(absLUT, lutBuf)
	lutOffset := headerLen + uint64(len(chunkData))

	finalMeta := placeholderMeta
	finalMeta.LUTOffset = lutOffset
	finalMeta.LUTSize = uint64(lutSize)

	be := backend.NewMemoryBackend(nil)
	fw := bufwriter.New(be, 0)
	if err := variable.WriteLegacyHeader(fw, finalMeta); err != nil {
		t.Fatalf("WriteLegacyHeader: %v", err)
	}
	if _, err := fw.Write(chunkData); err != nil {
		t.Fatalf("write chunk data: %v", err)
	}
	if _, err := fw.Write(lutBuf[:lutSize]); err != nil {
		t.Fatalf("write lut: %v", err)
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if fw.Position() != lutOffset+uint64(lutSize) {
		t.Fatalf("unexpected final length %d, want %d", fw.Position(), lutOffset+uint64(lutSize))
	}
	return be.Bytes()
}

func makeRamp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i) * 0.5
	}
	return out
}
