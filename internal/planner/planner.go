// Package planner turns a sub-cube read request into coalesced backend
// reads in two steps: an index read over the compressed LUT groups, then
// a data read over the compressed chunk stream. Both honor a merge-small / split-large pair
// of thresholds so a request touching many small, nearby chunks issues
// one backend call instead of many, while a request spanning a huge
// range never asks the backend for an unbounded single read.
package planner

import (
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/panjf2000/ants/v2"

	"github.com/open-meteo/om-file-format/internal/backend"
	"github.com/open-meteo/om-file-format/internal/decoder"
	"github.com/open-meteo/om-file-format/internal/metrics"
	"github.com/open-meteo/om-file-format/internal/omtype"
	"github.com/open-meteo/om-file-format/internal/varcube"
)

// byteRange is a coalesced backend read, produced by either cursor.
type byteRange struct {
	Offset int64
	Length int
}

// Planner drives reads for one array variable: it knows the LUT's
// physical layout, the chunk grid, and the two coalescing thresholds.
type Planner struct {
	be  backend.Backend
	dec *decoder.Decoder

	lutOffset   uint64
	lutSize     uint64
	totalChunks uint64
	groupStride uint64
	nGroups     uint64

	ioSizeMerge uint64
	ioSizeMax   uint64

	lutCache *lru.Cache[uint64, []uint64]
	pool     *ants.Pool
	metrics  *metrics.Recorder
}

// Option configures optional Planner behavior.
type Option func(*Planner)

// WithConcurrency bounds the worker pool used by ReadConcurrent to n
// workers (0 leaves concurrent reads disabled, falling back to
// sequential decode).
func WithConcurrency(n int) Option {
	return func(p *Planner) {
		if n <= 0 {
			return
		}
		pool, err := ants.NewPool(n)
		if err == nil {
			p.pool = pool
		}
	}
}

// WithLUTGroupCache enables an LRU cache of size entries of decompressed
// LUT groups, avoiding repeat LUT decompression across reads on a
// long-lived reader.
func WithLUTGroupCache(size int) Option {
	return func(p *Planner) {
		if size <= 0 {
			return
		}
		c, err := lru.New[uint64, []uint64](size)
		if err == nil {
			p.lutCache = c
		}
	}
}

// WithMetrics attaches a recorder for backend and decode activity.
func WithMetrics(r *metrics.Recorder) Option {
	return func(p *Planner) { p.metrics = r }
}

// New builds a Planner for an array whose LUT lives at
// [lutOffset, lutOffset+lutSize) and covers totalChunks+1 offsets.
func New(be backend.Backend, dec *decoder.Decoder, lutOffset, lutSize, totalChunks uint64, opts ...Option) *Planner {
	lutLen := totalChunks + 1
	nGroups := varcube.DivCeil(lutLen, omtype.LUTChunkCount)
	groupStride := uint64(0)
	if nGroups > 0 {
		// lutSize is the byte count encoder.CompressLUT actually wrote to
		// disk, which already excludes lutOverheadBytes (that headroom is
		// slack in the allocation via LUTBound, never emitted) — the
		// on-disk stride is simply lutSize/nGroups, matching
		// decoder.DecompressLUT's own len(compressed)/nGroups.
		groupStride = lutSize / nGroups
	}
	p := &Planner{
		be: be, dec: dec,
		lutOffset: lutOffset, lutSize: lutSize, totalChunks: totalChunks,
		groupStride: groupStride, nGroups: nGroups,
		ioSizeMerge: omtype.DefaultIOSizeMerge, ioSizeMax: omtype.DefaultIOSizeMax,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetThresholds overrides the merge/split thresholds from their defaults.
func (p *Planner) SetThresholds(ioSizeMerge, ioSizeMax uint64) {
	p.ioSizeMerge = ioSizeMerge
	p.ioSizeMax = ioSizeMax
}

// touchedChunks enumerates, in monotonically increasing linear order,
// every chunk index that intersects [offset, offset+count) over dims
// chunked as chunkDims.
func touchedChunks(dims, chunkDims, offset, count []uint64) []uint64 {
	chunksPerDim := varcube.ChunksPerDim(dims, chunkDims)
	rank := len(dims)
	lo := make([]uint64, rank)
	hi := make([]uint64, rank)
	for i := 0; i < rank; i++ {
		lo[i] = offset[i] / chunkDims[i]
		hi[i] = (offset[i] + count[i] - 1) / chunkDims[i]
	}
	var out []uint64
	coord := make([]uint64, rank)
	copy(coord, lo)
	for {
		idx := uint64(0)
		for i := 0; i < rank; i++ {
			idx = idx*chunksPerDim[i] + coord[i]
		}
		out = append(out, idx)
		axis := rank - 1
		for axis >= 0 {
			coord[axis]++
			if coord[axis] <= hi[axis] {
				break
			}
			coord[axis] = lo[axis]
			axis--
		}
		if axis < 0 {
			break
		}
	}
	return out
}

// coalesce merges a sorted list of [start,end) integer ranges, each
// representing exactly one atomic unit (a chunk's compressed bytes, or a
// LUT group's), whenever the gap between consecutive ranges is below
// mergeThreshold and the merged length would stay within maxThreshold.
// An individual range that already exceeds maxThreshold on its own (a
// single chunk or LUT group bigger than the split threshold) is never
// merged further and, critically, is never split apart either — halving
// a chunk's compressed bytes would leave neither half decodable, so the
// only sizes this function ever produces above maxThreshold are whole,
// unsplit atomic units.
func coalesce(ranges []byteRange, mergeThreshold, maxThreshold uint64) []byteRange {
	if len(ranges) == 0 {
		return nil
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Offset < ranges[j].Offset })

	var merged []byteRange
	cur := ranges[0]
	for _, r := range ranges[1:] {
		gap := r.Offset - (cur.Offset + int64(cur.Length))
		mergedLen := uint64(r.Offset + int64(r.Length) - cur.Offset)
		if gap >= 0 && uint64(gap) < mergeThreshold && (maxThreshold == 0 || mergedLen <= maxThreshold) {
			cur.Length = int(r.Offset + int64(r.Length) - cur.Offset)
			continue
		}
		merged = append(merged, cur)
		cur = r
	}
	merged = append(merged, cur)
	return merged
}

// groupRange returns the byte range of LUT group g.
func (p *Planner) groupRange(g uint64) byteRange {
	start := p.lutOffset + g*p.groupStride
	return byteRange{Offset: int64(start), Length: int(p.groupStride)}
}

// resolveOffsets returns the absolute chunk offsets for [chunkLo,
// chunkHi] inclusive, fetching and decompressing any LUT groups not
// already cached. The result also needs chunkHi+1's offset (every
// chunk's length is the delta to its successor's offset), so the group
// range extends one entry past chunkHi, which lands in a later group
// whenever chunkHi sits on a LUTChunkCount boundary.
func (p *Planner) resolveOffsets(chunkLo, chunkHi uint64) (map[uint64]uint64, error) {
	firstGroup := chunkLo / omtype.LUTChunkCount
	lastGroup := (chunkHi + 1) / omtype.LUTChunkCount

	var ranges []byteRange
	needed := map[uint64]bool{}
	for g := firstGroup; g <= lastGroup; g++ {
		if p.lutCache != nil {
			if _, ok := p.lutCache.Get(g); ok {
				p.observeCache(true)
				continue
			}
			p.observeCache(false)
		}
		needed[g] = true
		ranges = append(ranges, p.groupRange(g))
	}
	coalesced := coalesce(ranges, p.ioSizeMerge, p.ioSizeMax)

	groupOffsets := map[uint64][]uint64{}
	for _, span := range coalesced {
		buf, err := p.be.ReadAt(span.Offset, span.Length)
		if err != nil {
			return nil, fmt.Errorf("planner: index read: %w", err)
		}
		if p.metrics != nil {
			p.metrics.ObserveRead(len(buf))
		}
		spanStart := uint64(span.Offset)
		for g := firstGroup; g <= lastGroup; g++ {
			if !needed[g] {
				continue
			}
			gr := p.groupRange(g)
			if uint64(gr.Offset) < spanStart || uint64(gr.Offset+int64(gr.Length)) > spanStart+uint64(len(buf)) {
				continue
			}
			local := buf[uint64(gr.Offset)-spanStart : uint64(gr.Offset)-spanStart+uint64(gr.Length)]
			groupLen := omtype.LUTChunkCount
			base := g * omtype.LUTChunkCount
			if base+uint64(groupLen) > p.totalChunks+1 {
				groupLen = int(p.totalChunks + 1 - base)
			}
			offsets := decoder.DecompressLUT(local, groupLen)
			groupOffsets[g] = offsets
			if p.lutCache != nil {
				p.lutCache.Add(g, offsets)
			}
		}
	}

	result := map[uint64]uint64{}
	for c := chunkLo; c <= chunkHi+1 && c <= p.totalChunks; c++ {
		g := c / omtype.LUTChunkCount
		var offs []uint64
		if p.lutCache != nil {
			if cached, ok := p.lutCache.Get(g); ok {
				offs = cached
			}
		}
		if offs == nil {
			offs = groupOffsets[g]
		}
		if offs == nil {
			return nil, fmt.Errorf("planner: missing LUT group %d", g)
		}
		result[c] = offs[c%omtype.LUTChunkCount]
	}
	return result, nil
}

func (p *Planner) observeCache(hit bool) {
	if p.metrics != nil {
		p.metrics.ObserveCacheHit(hit)
	}
}

// dataChunkTask pairs a chunk index with its decompressed byte slice
// once its owning span has been fetched.
type dataChunkTask struct {
	index uint64
	data  []byte
}

// Read decodes every chunk intersecting [offset, offset+count) and
// writes decoded values into outputCube.
func (p *Planner) Read(dims, chunkDims, offset, count []uint64, outputCube []byte, outputDims, outputOffset, outputCount []uint64, concurrent bool) error {
	chunks := touchedChunks(dims, chunkDims, offset, count)
	if len(chunks) == 0 {
		return nil
	}
	chunkLo, chunkHi := chunks[0], chunks[len(chunks)-1]
	offsets, err := p.resolveOffsets(chunkLo, chunkHi)
	if err != nil {
		return err
	}

	var dataRanges []byteRange
	for _, c := range chunks {
		start := offsets[c]
		end := offsets[c+1]
		dataRanges = append(dataRanges, byteRange{Offset: int64(start), Length: int(end - start)})
	}
	spans := coalesce(dataRanges, p.ioSizeMerge, p.ioSizeMax)

	tasks := make([]dataChunkTask, 0, len(chunks))
	for _, span := range spans {
		buf, err := p.be.ReadAt(span.Offset, span.Length)
		if err != nil {
			return fmt.Errorf("planner: data read: %w", err)
		}
		if p.metrics != nil {
			p.metrics.ObserveRead(len(buf))
		}
		spanStart := uint64(span.Offset)
		for _, c := range chunks {
			start, end := offsets[c], offsets[c+1]
			if start < spanStart || end > spanStart+uint64(len(buf)) {
				continue
			}
			tasks = append(tasks, dataChunkTask{index: c, data: buf[start-spanStart : end-spanStart]})
		}
	}

	bytesPerElem := p.dec.BytesPerElementStored()
	chunkElems := int(varcube.ElementCount(chunkDims))
	scratchSize := (chunkElems + 32) * bytesPerElem

	if concurrent && p.pool != nil {
		return p.readConcurrent(tasks, outputCube, outputDims, offset, outputOffset, outputCount, scratchSize)
	}
	scratch := make([]byte, scratchSize)
	for _, t := range tasks {
		if err := p.dec.DecompressChunk(t.data, t.index, outputCube, outputDims, offset, outputOffset, outputCount, scratch); err != nil {
			return err
		}
		if p.metrics != nil {
			p.metrics.ObserveChunkDecoded()
		}
	}
	return nil
}

func (p *Planner) readConcurrent(tasks []dataChunkTask, outputCube []byte, outputDims, requestOffset, outputOffset, outputCount []uint64, scratchSize int) error {
	errs := make([]error, len(tasks))
	var wg sync.WaitGroup

	for i := range tasks {
		i := i
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			scratch := make([]byte, scratchSize)
			t := tasks[i]
			if err := p.dec.DecompressChunk(t.data, t.index, outputCube, outputDims, requestOffset, outputOffset, outputCount, scratch); err != nil {
				errs[i] = err
				return
			}
			if p.metrics != nil {
				p.metrics.ObserveChunkDecoded()
			}
		})
		if err != nil {
			wg.Done()
			errs[i] = err
		}
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Prefetch issues advisory prefetches for every backend range a full
// Read of [offset, offset+count) would touch, without decoding.
func (p *Planner) Prefetch(dims, chunkDims, offset, count []uint64) error {
	chunks := touchedChunks(dims, chunkDims, offset, count)
	if len(chunks) == 0 {
		return nil
	}
	chunkLo, chunkHi := chunks[0], chunks[len(chunks)-1]
	offsets, err := p.resolveOffsets(chunkLo, chunkHi)
	if err != nil {
		return err
	}
	var dataRanges []byteRange
	for _, c := range chunks {
		dataRanges = append(dataRanges, byteRange{Offset: int64(offsets[c]), Length: int(offsets[c+1] - offsets[c])})
	}
	for _, span := range coalesce(dataRanges, p.ioSizeMerge, p.ioSizeMax) {
		p.be.Prefetch(span.Offset, span.Length)
	}
	return nil
}
