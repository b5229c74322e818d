package executor

import (
	"sync"
	"time"
)

// Metrics tracks statistics about one or more graph runs.
type Metrics struct {
	Phases          int
	NodesExecuted   int
	NodesSucceeded  int
	NodesFailed     int
	NodesSkipped    int
	TotalDuration   time.Duration
	LongestNodeTime time.Duration
	// ShortestNodeTime is zero until a node has run.
	ShortestNodeTime time.Duration
}

type metricsRecorder struct {
	mu sync.Mutex
	m  Metrics
}

func (r *metricsRecorder) reset() {
	r.mu.Lock()
	r.m = Metrics{}
	r.mu.Unlock()
}

func (r *metricsRecorder) phase() {
	r.mu.Lock()
	r.m.Phases++
	r.mu.Unlock()
}

func (r *metricsRecorder) node(d time.Duration, ok bool, skipped int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.m.NodesExecuted++
	r.m.TotalDuration += d
	if ok {
		r.m.NodesSucceeded++
	} else {
		r.m.NodesFailed++
	}
	r.m.NodesSkipped += skipped
	if d > r.m.LongestNodeTime {
		r.m.LongestNodeTime = d
	}
	if r.m.ShortestNodeTime == 0 || (d > 0 && d < r.m.ShortestNodeTime) {
		r.m.ShortestNodeTime = d
	}
}

func (r *metricsRecorder) skipped(n int) {
	r.mu.Lock()
	r.m.NodesSkipped += n
	r.mu.Unlock()
}

// snapshot returns a copy of the metrics.
func (r *metricsRecorder) snapshot() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m
}
