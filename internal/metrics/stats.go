package metrics

import "time"

// Window accumulates per-batch timings across one epoch.
type Window struct {
	data    time.Duration
	compute time.Duration
	batches int
}

// Record adds one batch's data-loading and compute durations.
func (w *Window) Record(dataTime, computeTime time.Duration) {
	w.data += dataTime
	w.compute += computeTime
	w.batches++
}

// Snapshot returns the aggregated timings and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Batches: w.batches}
	if w.batches > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.batches)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.batches)
	}
	w.data = 0
	w.compute = 0
	w.batches = 0
	return snap
}

// Snapshot represents loggable epoch timings.
type Snapshot struct {
	AvgDataMS    float64
	AvgComputeMS float64
	Batches      int
}
