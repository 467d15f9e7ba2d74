// Package varcube implements the chunk-grid arithmetic and the shared
// overlap-traversal used to copy values between a chunk buffer and a
// caller's n-dimensional cube. The encoder uses it to gather a chunk's
// worth of input values before filtering and compressing; the decoder
// uses the identical traversal to scatter a decompressed chunk's values
// into the caller's output cube. Sharing one traversal function is what
// guarantees the two directions stay in lockstep, the way the reference
// implementation's single mixed-base counter loop (duplicated by hand for
// encode and decode in the original C) is meant to.
package varcube

// DivCeil returns ceil(a/b) for positive integers.
func DivCeil(a, b uint64) uint64 {
	return (a + b - 1) / b
}

// ChunksPerDim returns, for each axis, ceil(dims[i]/chunkDims[i]).
func ChunksPerDim(dims, chunkDims []uint64) []uint64 {
	out := make([]uint64, len(dims))
	for i := range dims {
		out[i] = DivCeil(dims[i], chunkDims[i])
	}
	return out
}

// TotalChunks returns the product of ChunksPerDim, i.e. the total number
// of chunks covering dims.
func TotalChunks(dims, chunkDims []uint64) uint64 {
	total := uint64(1)
	for _, n := range ChunksPerDim(dims, chunkDims) {
		total *= n
	}
	return total
}

// ChunkCoord decomposes a linear, row-major chunk index into a per-axis
// chunk-grid coordinate.
func ChunkCoord(chunkIndex uint64, chunksPerDim []uint64) []uint64 {
	rank := len(chunksPerDim)
	coord := make([]uint64, rank)
	remaining := chunkIndex
	for i := rank - 1; i >= 0; i-- {
		coord[i] = remaining % chunksPerDim[i]
		remaining /= chunksPerDim[i]
	}
	return coord
}

// ChunkShape returns the clipped per-axis extent of the chunk at coord:
// full chunkDims[i] everywhere except a trailing edge chunk, which is
// shorter to fit dims[i].
func ChunkShape(dims, chunkDims, coord []uint64) []uint64 {
	shape := make([]uint64, len(dims))
	for i := range dims {
		start := coord[i] * chunkDims[i]
		end := start + chunkDims[i]
		if end > dims[i] {
			end = dims[i]
		}
		shape[i] = end - start
	}
	return shape
}

// ChunkStart returns the global coordinate of a chunk's first element.
func ChunkStart(chunkDims, coord []uint64) []uint64 {
	start := make([]uint64, len(coord))
	for i := range coord {
		start[i] = coord[i] * chunkDims[i]
	}
	return start
}

// ElementCount returns the product of shape.
func ElementCount(shape []uint64) uint64 {
	n := uint64(1)
	for _, s := range shape {
		n *= s
	}
	return n
}

// Side describes one of the two buffers a Walk copies between: a flat,
// row-major buffer of shape Dims, of which only the sub-region of extent
// Count starting at Start (in whatever shared frame the caller chooses)
// holds valid data. Start bounds the valid window for overlap purposes;
// Origin is the shared-frame coordinate that corresponds to the buffer's
// own local index 0, used to turn a shared-frame coordinate into a flat
// buffer offset. Origin is nil when a side's buffer starts exactly where
// its valid window starts (true for a chunk's own tightly-packed buffer,
// or a result buffer sized exactly to the request), in which case it
// defaults to Start. A caller placing a request's result into a larger,
// differently-offset destination buffer (an explicit placement offset
// distinct from the request's own window) sets Origin separately from
// Start, since the two diverge in that case; both fields are signed
// because that divergence can make Origin fall outside the window.
type Side struct {
	Dims   []uint64
	Start  []int64
	Count  []uint64
	Origin []int64
}

func (s Side) origin() []int64 {
	if s.Origin != nil {
		return s.Origin
	}
	return s.Start
}

func strides(dims []uint64) []uint64 {
	n := len(dims)
	s := make([]uint64, n)
	acc := uint64(1)
	for i := n - 1; i >= 0; i-- {
		s[i] = acc
		acc *= dims[i]
	}
	return s
}

// Walk finds the overlap, in the shared frame implied by a.Start/b.Start,
// between sides a and b, and invokes visit once per contiguous run along
// the fastest (last) axis, giving the flat element offset into each
// side's buffer and the run's length in elements. It is the sole place
// either the encoder or the decoder computes chunk/request geometry, so
// both directions always place values identically.
func Walk(a, b Side, visit func(offA, offB, runLen uint64)) {
	rank := len(a.Dims)
	if rank == 0 {
		return
	}
	overlapStart := make([]int64, rank)
	overlapEnd := make([]int64, rank)
	for i := 0; i < rank; i++ {
		s := a.Start[i]
		if b.Start[i] > s {
			s = b.Start[i]
		}
		ea := a.Start[i] + int64(a.Count[i])
		eb := b.Start[i] + int64(b.Count[i])
		e := ea
		if eb < e {
			e = eb
		}
		if e <= s {
			return
		}
		overlapStart[i] = s
		overlapEnd[i] = e
	}

	strideA := strides(a.Dims)
	strideB := strides(b.Dims)
	originA := a.origin()
	originB := b.origin()
	coord := make([]int64, rank)
	copy(coord, overlapStart)

	runLen := uint64(overlapEnd[rank-1] - overlapStart[rank-1])

	for {
		var offA, offB uint64
		for i := 0; i < rank; i++ {
			offA += uint64(coord[i]-originA[i]) * strideA[i]
			offB += uint64(coord[i]-originB[i]) * strideB[i]
		}
		visit(offA, offB, runLen)

		if rank == 1 {
			return
		}
		axis := rank - 2
		for axis >= 0 {
			coord[axis]++
			if coord[axis] < overlapEnd[axis] {
				break
			}
			coord[axis] = overlapStart[axis]
			axis--
		}
		if axis < 0 {
			return
		}
	}
}

// StartFrom converts an absolute, non-negative coordinate slice (such as
// ChunkStart's or a request offset's) into a Side.Start or Side.Origin
// value.
func StartFrom(coord []uint64) []int64 {
	out := make([]int64, len(coord))
	for i, c := range coord {
		out[i] = int64(c)
	}
	return out
}

// SubOrigin computes a Side.Origin of a - b, both absolute coordinates,
// for a destination buffer whose own placement offset (b) differs from
// the request window it is being filled from (a): the result may be
// negative when b places the window further from the buffer's local
// zero than a does from the shared frame's zero.
func SubOrigin(a, b []uint64) []int64 {
	out := make([]int64, len(a))
	for i := range a {
		out[i] = int64(a[i]) - int64(b[i])
	}
	return out
}
