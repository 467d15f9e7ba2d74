// Package metrics provides an optional, nil-safe Prometheus recorder for
// backend and decode activity. A nil *Recorder is always safe to call
// methods on, so callers that never opt into metrics pay no cost beyond
// a nil check.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder tracks backend read volume, chunk decode counts and LUT-group
// cache hit ratio for one open reader or writer.
type Recorder struct {
	bytesRead     prometheus.Counter
	readCalls     prometheus.Counter
	chunksDecoded prometheus.Counter
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
}

// NewRecorder registers a fresh set of counters under reg, labeled with
// name (typically the variable or file path being read).
func NewRecorder(reg prometheus.Registerer, name string) *Recorder {
	labels := prometheus.Labels{"variable": name}
	r := &Recorder{
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "omfile_backend_bytes_read_total",
			Help:        "Total bytes read from the storage backend.",
			ConstLabels: labels,
		}),
		readCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "omfile_backend_read_calls_total",
			Help:        "Total backend read calls issued.",
			ConstLabels: labels,
		}),
		chunksDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "omfile_chunks_decoded_total",
			Help:        "Total chunks decompressed.",
			ConstLabels: labels,
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "omfile_lut_cache_hits_total",
			Help:        "LUT group cache hits.",
			ConstLabels: labels,
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "omfile_lut_cache_misses_total",
			Help:        "LUT group cache misses.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(r.bytesRead, r.readCalls, r.chunksDecoded, r.cacheHits, r.cacheMisses)
	}
	return r
}

func (r *Recorder) ObserveRead(n int) {
	if r == nil {
		return
	}
	r.readCalls.Inc()
	r.bytesRead.Add(float64(n))
}

func (r *Recorder) ObserveChunkDecoded() {
	if r == nil {
		return
	}
	r.chunksDecoded.Inc()
}

func (r *Recorder) ObserveCacheHit(hit bool) {
	if r == nil {
		return
	}
	if hit {
		r.cacheHits.Inc()
	} else {
		r.cacheMisses.Inc()
	}
}
