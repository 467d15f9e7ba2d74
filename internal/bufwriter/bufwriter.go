// Package bufwriter implements the append-only buffered writer a Writer
// stages every record through before it reaches the storage backend:
// small writes accumulate in memory, aligned to 8 or 64 bytes as the
// container format requires, and flush to the backend once the buffer
// fills or the caller finishes. Grounded on the teacher's alloc.Allocator,
// generalized from pure address bookkeeping into an actual byte-buffer
// writer with flush-on-capacity behavior.
package bufwriter

import (
	"sync"

	"github.com/open-meteo/om-file-format/internal/backend"
)

const defaultCapacity = 1 << 20

// Writer buffers appended bytes and flushes them to a backend.WriteBackend
// once the buffer is full or Flush/Close is called. It tracks the total
// logical write position so callers can record absolute offsets for
// records (LUT entries, trailer pointers) before those bytes physically
// reach the backend.
type Writer struct {
	mu       sync.Mutex
	backend  backend.WriteBackend
	buf      []byte
	writePos uint64 // total bytes handed to backend.Write plus buffered bytes
	flushed  uint64 // bytes already handed to backend.Write
}

// New wraps a backend with a buffer of the given capacity (0 uses a
// sensible default).
func New(be backend.WriteBackend, capacity int) *Writer {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Writer{backend: be, buf: make([]byte, 0, capacity)}
}

// Position returns the total number of logical bytes written so far,
// including buffered-but-not-yet-flushed bytes.
func (w *Writer) Position() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writePos
}

// Write appends p, flushing to the backend as needed to keep the buffer
// under capacity.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	total := len(p)
	for len(p) > 0 {
		room := cap(w.buf) - len(w.buf)
		if room == 0 {
			if err := w.flushLocked(); err != nil {
				return total - len(p), err
			}
			room = cap(w.buf)
		}
		n := room
		if n > len(p) {
			n = len(p)
		}
		w.buf = append(w.buf, p[:n]...)
		p = p[n:]
		w.writePos += uint64(n)
	}
	return total, nil
}

// Align pads with zero bytes until Position() is a multiple of alignment.
func (w *Writer) Align(alignment uint64) error {
	pos := w.Position()
	if alignment <= 1 {
		return nil
	}
	rem := pos % alignment
	if rem == 0 {
		return nil
	}
	pad := make([]byte, alignment-rem)
	_, err := w.Write(pad)
	return err
}

func (w *Writer) flushLocked() error {
	if len(w.buf) == 0 {
		return nil
	}
	n, err := w.backend.Write(w.buf)
	w.flushed += uint64(n)
	w.buf = w.buf[:0]
	return err
}

// Flush pushes any buffered bytes to the backend without closing it.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

// Close flushes remaining bytes and synchronizes the backend.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	if err := w.backend.Synchronize(); err != nil {
		return err
	}
	return w.backend.Close()
}
