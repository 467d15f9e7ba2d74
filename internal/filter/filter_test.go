package filter

import (
	"encoding/binary"
	"math/rand"
	"testing"
)

func TestDelta8RoundTrip(t *testing.T) {
	buf := []byte{10, 12, 9, 200, 3, 250, 1, 1, 1, 1}
	orig := append([]byte(nil), buf...)
	f := Delta8{}
	f.Encode(5, 2, buf)
	f.Decode(5, 2, buf)
	for i := range orig {
		if buf[i] != orig[i] {
			t.Fatalf("index %d: got %d, want %d", i, buf[i], orig[i])
		}
	}
}

func TestDelta16RoundTrip(t *testing.T) {
	values := []int16{100, -200, 3000, -4000, 32000, -32000, 0, 17, -1, 500}
	buf := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	orig := append([]byte(nil), buf...)
	f := Delta16{}
	f.Encode(5, 2, buf)
	f.Decode(5, 2, buf)
	for i := range orig {
		if buf[i] != orig[i] {
			t.Fatalf("byte %d: got %d, want %d", i, buf[i], orig[i])
		}
	}
}

func TestDelta32RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	values := make([]int32, 24)
	buf := make([]byte, len(values)*4)
	for i := range values {
		values[i] = rng.Int31() - (1 << 30)
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(values[i]))
	}
	orig := append([]byte(nil), buf...)
	f := Delta32{}
	f.Encode(6, 4, buf)
	f.Decode(6, 4, buf)
	for i := range orig {
		if buf[i] != orig[i] {
			t.Fatalf("byte %d: got %d, want %d", i, buf[i], orig[i])
		}
	}
}

func TestDelta64RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	values := make([]int64, 24)
	buf := make([]byte, len(values)*8)
	for i := range values {
		values[i] = rng.Int63() - (1 << 40)
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(values[i]))
	}
	orig := append([]byte(nil), buf...)
	f := Delta64{}
	f.Encode(6, 4, buf)
	f.Decode(6, 4, buf)
	for i := range orig {
		if buf[i] != orig[i] {
			t.Fatalf("byte %d: got %d, want %d", i, buf[i], orig[i])
		}
	}
}

func TestDeltaSingleRowIsNoop(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	orig := append([]byte(nil), buf...)
	f := Delta8{}
	f.Encode(1, 4, buf)
	for i := range orig {
		if buf[i] != orig[i] {
			t.Fatalf("single-row encode modified byte %d", i)
		}
	}
}

func TestXor32RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	buf := make([]byte, 8*3*4)
	rng.Read(buf)
	orig := append([]byte(nil), buf...)
	f := Xor32{}
	f.Encode(8, 3, buf)
	f.Decode(8, 3, buf)
	for i := range orig {
		if buf[i] != orig[i] {
			t.Fatalf("byte %d: got %d, want %d", i, buf[i], orig[i])
		}
	}
}

func TestXor64RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	buf := make([]byte, 8*3*8)
	rng.Read(buf)
	orig := append([]byte(nil), buf...)
	f := Xor64{}
	f.Encode(8, 3, buf)
	f.Decode(8, 3, buf)
	for i := range orig {
		if buf[i] != orig[i] {
			t.Fatalf("byte %d: got %d, want %d", i, buf[i], orig[i])
		}
	}
}
