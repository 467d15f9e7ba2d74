package bufwriter

import (
	"bytes"
	"testing"

	"github.com/open-meteo/om-file-format/internal/backend"
)

func TestWriteAcrossFlushBoundary(t *testing.T) {
	be := backend.NewMemoryBackend(nil)
	w := New(be, 8)

	if _, err := w.Write([]byte("0123456789")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := w.Position(); got != 10 {
		t.Fatalf("Position = %d, want 10", got)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !bytes.Equal(be.Bytes(), []byte("0123456789")) {
		t.Fatalf("backend contents = %q", be.Bytes())
	}
}

func TestAlign(t *testing.T) {
	be := backend.NewMemoryBackend(nil)
	w := New(be, 0)

	if _, err := w.Write([]byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Align(8); err != nil {
		t.Fatalf("Align: %v", err)
	}
	if got := w.Position(); got != 8 {
		t.Fatalf("Position = %d, want 8", got)
	}
	if err := w.Align(8); err != nil {
		t.Fatalf("Align (already aligned): %v", err)
	}
	if got := w.Position(); got != 8 {
		t.Fatalf("Position after no-op align = %d, want 8", got)
	}
}

func TestCloseFlushesAndClosesBackend(t *testing.T) {
	be := backend.NewMemoryBackend(nil)
	w := New(be, 4096)

	if _, err := w.Write([]byte("buffered but not flushed")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !bytes.Equal(be.Bytes(), []byte("buffered but not flushed")) {
		t.Fatalf("backend contents after close = %q", be.Bytes())
	}
	if _, err := be.ReadAt(0, 1); err != backend.ErrClosed {
		t.Fatalf("backend should be closed, got %v", err)
	}
}
