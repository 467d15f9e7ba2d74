package omfile

import "github.com/prometheus/client_golang/prometheus"

// ReaderOption configures Open.
type ReaderOption func(*readerOptions)

type readerOptions struct {
	lutCacheSize int
	metricsReg   prometheus.Registerer
}

func defaultReaderOptions() *readerOptions {
	return &readerOptions{}
}

// WithLUTGroupCache gives every ArrayReader opened from this Reader (or
// its children) its own LRU cache of size decompressed LUT groups; the
// caches are not shared between ArrayReaders.
func WithLUTGroupCache(size int) ReaderOption {
	return func(o *readerOptions) { o.lutCacheSize = size }
}

// WithPrometheusRegistry attaches a Prometheus registry that per-array
// read metrics are registered into. Metrics are omitted entirely when
// unset.
func WithPrometheusRegistry(reg prometheus.Registerer) ReaderOption {
	return func(o *readerOptions) { o.metricsReg = reg }
}

// ArrayOption configures AsArray.
type ArrayOption func(*arrayOptions)

type arrayOptions struct {
	ioSizeMerge uint64
	ioSizeMax   uint64
	concurrency int
}

func defaultArrayOptions() *arrayOptions {
	return &arrayOptions{ioSizeMerge: 512, ioSizeMax: 65536}
}

// WithIOSizeMerge overrides the merge-small threshold (default 512 B).
func WithIOSizeMerge(n uint64) ArrayOption {
	return func(o *arrayOptions) { o.ioSizeMerge = n }
}

// WithIOSizeMax overrides the split-large threshold (default 65536 B).
func WithIOSizeMax(n uint64) ArrayOption {
	return func(o *arrayOptions) { o.ioSizeMax = n }
}

// WithConcurrency bounds the worker pool used by ReadConcurrent to n
// workers. Without it (or with n <= 0) no pool is created and
// ReadConcurrent decodes chunks sequentially.
func WithConcurrency(n int) ArrayOption {
	return func(o *arrayOptions) { o.concurrency = n }
}

// WriterOption configures Create.
type WriterOption func(*writerOptions)

type writerOptions struct {
	initialCapacity int
}

func defaultWriterOptions() *writerOptions {
	return &writerOptions{initialCapacity: 1 << 20}
}

// WithInitialCapacity sets the buffered writer's starting capacity.
func WithInitialCapacity(n int) WriterOption {
	return func(o *writerOptions) {
		if n > 0 {
			o.initialCapacity = n
		}
	}
}
