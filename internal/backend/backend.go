// Package backend implements the storage abstractions a reader or writer
// can be built on: an in-memory buffer, a plain file, and a read-only
// memory-mapped file. Grounded on the reader-side ReaderAt/WriterAt split
// the binary package already uses, generalized to the three concrete
// stores the container format names.
package backend

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned by any operation on a backend after Close.
var ErrClosed = errors.New("backend: closed")

// Backend is the read side every reader is built on.
type Backend interface {
	// Length returns the total addressable byte length.
	Length() (int64, error)
	// ReadAt reads count bytes starting at offset.
	ReadAt(offset int64, count int) ([]byte, error)
	// WithRead reads count bytes at offset and passes them to fn without
	// necessarily copying, for backends (like mmap) that can hand back a
	// direct view.
	WithRead(offset int64, count int, fn func([]byte) error) error
	// Prefetch hints that [offset, offset+count) will be read soon.
	Prefetch(offset int64, count int)
	io.Closer
}

// WriteBackend is the write side every writer is built on.
type WriteBackend interface {
	Write(p []byte) (int, error)
	Synchronize() error
	io.Closer
}

// MemoryBackend is an in-memory Backend/WriteBackend, used for scratch
// files, tests, and small in-process artifacts.
type MemoryBackend struct {
	mu     sync.RWMutex
	buf    []byte
	closed bool
}

// NewMemoryBackend wraps an existing byte slice for reading, or starts
// empty for writing.
func NewMemoryBackend(initial []byte) *MemoryBackend {
	return &MemoryBackend{buf: initial}
}

func (m *MemoryBackend) Length() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return int64(len(m.buf)), nil
}

func (m *MemoryBackend) ReadAt(offset int64, count int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if offset < 0 || offset+int64(count) > int64(len(m.buf)) {
		return nil, fmt.Errorf("backend: out of bound read at %d+%d", offset, count)
	}
	out := make([]byte, count)
	copy(out, m.buf[offset:offset+int64(count)])
	return out, nil
}

func (m *MemoryBackend) WithRead(offset int64, count int, fn func([]byte) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	if offset < 0 || offset+int64(count) > int64(len(m.buf)) {
		return fmt.Errorf("backend: out of bound read at %d+%d", offset, count)
	}
	return fn(m.buf[offset : offset+int64(count)])
}

func (m *MemoryBackend) Prefetch(int64, int) {}

func (m *MemoryBackend) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	m.buf = append(m.buf, p...)
	return len(p), nil
}

func (m *MemoryBackend) Synchronize() error { return nil }

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Bytes returns the current contents, valid until the next Write.
func (m *MemoryBackend) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.buf
}

// FileBackend backs a Backend/WriteBackend by an *os.File, reading and
// writing at explicit offsets so a single handle can serve concurrent
// readers.
type FileBackend struct {
	f        *os.File
	writePos int64
	mu       sync.Mutex
}

// NewFileBackend wraps an already-open file.
func NewFileBackend(f *os.File) *FileBackend {
	return &FileBackend{f: f}
}

func OpenFileBackend(path string) (*FileBackend, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return NewFileBackend(f), nil
}

func CreateFileBackend(path string) (*FileBackend, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return NewFileBackend(f), nil
}

func (fb *FileBackend) Length() (int64, error) {
	info, err := fb.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (fb *FileBackend) ReadAt(offset int64, count int) ([]byte, error) {
	buf := make([]byte, count)
	n, err := fb.f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

func (fb *FileBackend) WithRead(offset int64, count int, fn func([]byte) error) error {
	buf, err := fb.ReadAt(offset, count)
	if err != nil {
		return err
	}
	return fn(buf)
}

func (fb *FileBackend) Prefetch(int64, int) {}

func (fb *FileBackend) Write(p []byte) (int, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	n, err := fb.f.WriteAt(p, fb.writePos)
	fb.writePos += int64(n)
	return n, err
}

func (fb *FileBackend) Synchronize() error { return fb.f.Sync() }

func (fb *FileBackend) Close() error { return fb.f.Close() }

// MmapBackend is a read-only Backend over a memory-mapped file, used for
// large archival reads where the OS page cache should own paging.
type MmapBackend struct {
	f    *os.File
	data []byte
}

// OpenMmapBackend maps path read-only for its full length.
func OpenMmapBackend(path string) (*MmapBackend, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := info.Size()
	if size == 0 {
		return &MmapBackend{f: f}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &MmapBackend{f: f, data: data}, nil
}

func (mb *MmapBackend) Length() (int64, error) { return int64(len(mb.data)), nil }

func (mb *MmapBackend) ReadAt(offset int64, count int) ([]byte, error) {
	if offset < 0 || offset+int64(count) > int64(len(mb.data)) {
		return nil, fmt.Errorf("backend: out of bound read at %d+%d", offset, count)
	}
	out := make([]byte, count)
	copy(out, mb.data[offset:offset+int64(count)])
	return out, nil
}

func (mb *MmapBackend) WithRead(offset int64, count int, fn func([]byte) error) error {
	if offset < 0 || offset+int64(count) > int64(len(mb.data)) {
		return fmt.Errorf("backend: out of bound read at %d+%d", offset, count)
	}
	return fn(mb.data[offset : offset+int64(count)])
}

// Prefetch advises the kernel that [offset, offset+count) will be needed
// soon via madvise(MADV_WILLNEED).
func (mb *MmapBackend) Prefetch(offset int64, count int) {
	if offset < 0 || count <= 0 || offset+int64(count) > int64(len(mb.data)) {
		return
	}
	_ = unix.Madvise(mb.data[offset:offset+int64(count)], unix.MADV_WILLNEED)
}

func (mb *MmapBackend) Close() error {
	if mb.data != nil {
		if err := unix.Munmap(mb.data); err != nil {
			return err
		}
		mb.data = nil
	}
	return mb.f.Close()
}
