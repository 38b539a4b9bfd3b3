package metrics

import (
	"math"
	"testing"
	"time"
)

func TestWindowSnapshot(t *testing.T) {
	var w Window
	w.Record(10*time.Millisecond, 30*time.Millisecond)
	w.Record(20*time.Millisecond, 50*time.Millisecond)

	snap := w.Snapshot()
	if snap.Batches != 2 {
		t.Fatalf("batches: got %d, want 2", snap.Batches)
	}
	if math.Abs(snap.AvgDataMS-15) > 1e-9 {
		t.Fatalf("avg data ms: got %v, want 15", snap.AvgDataMS)
	}
	if math.Abs(snap.AvgComputeMS-40) > 1e-9 {
		t.Fatalf("avg compute ms: got %v, want 40", snap.AvgComputeMS)
	}
}

func TestSnapshotResets(t *testing.T) {
	var w Window
	w.Record(time.Millisecond, time.Millisecond)
	w.Snapshot()

	snap := w.Snapshot()
	if snap.Batches != 0 || snap.AvgDataMS != 0 || snap.AvgComputeMS != 0 {
		t.Fatalf("window not reset: %+v", snap)
	}
}
