package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.ObserveRead(128)
	r.ObserveChunkDecoded()
	r.ObserveCacheHit(true)
	r.ObserveCacheHit(false)
}

func TestRecorderCountsAgainstRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg, "temperature")

	r.ObserveRead(100)
	r.ObserveRead(50)
	r.ObserveChunkDecoded()
	r.ObserveCacheHit(true)
	r.ObserveCacheHit(false)
	r.ObserveCacheHit(false)

	if got := testutil.ToFloat64(r.bytesRead); got != 150 {
		t.Fatalf("bytesRead = %v, want 150", got)
	}
	if got := testutil.ToFloat64(r.readCalls); got != 2 {
		t.Fatalf("readCalls = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.chunksDecoded); got != 1 {
		t.Fatalf("chunksDecoded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.cacheHits); got != 1 {
		t.Fatalf("cacheHits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.cacheMisses); got != 2 {
		t.Fatalf("cacheMisses = %v, want 2", got)
	}
}
