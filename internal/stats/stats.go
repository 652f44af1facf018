package stats

import (
	"sync/atomic"

	"feedload/internal/driver"
)

// Stats holds live aggregated metrics for a run in flight. The final report
// is computed from the outcome set, not from these counters.
type Stats struct {
	Requests uint64
	Success  uint64
	Fail     uint64
	Bytes    uint64

	CheckPasses uint64
	CheckFails  uint64

	// Latency of every request, microseconds
	Latency *SafeHistogram
}

// Snapshot is a cheap copy of Stats for the progress line and dashboard.
type Snapshot struct {
	Requests uint64
	Success  uint64
	Fail     uint64
	Bytes    uint64

	ActiveVUs int64
	Inflight  int64

	P50Ms float64
	P90Ms float64
	P95Ms float64
	MaxMs float64

	CheckPassRate float64
}

func NewStats() *Stats {
	return &Stats{
		Latency: NewSafeHistogram(),
	}
}

// Record implements driver.Sink.
func (s *Stats) Record(o driver.RequestOutcome) {
	atomic.AddUint64(&s.Requests, 1)
	if o.Success {
		atomic.AddUint64(&s.Success, 1)
	} else {
		atomic.AddUint64(&s.Fail, 1)
	}
	atomic.AddUint64(&s.Bytes, uint64(o.Bytes))

	for _, c := range o.Checks {
		if c.Passed {
			atomic.AddUint64(&s.CheckPasses, 1)
		} else {
			atomic.AddUint64(&s.CheckFails, 1)
		}
	}

	s.Latency.Record(o.Latency)
}

// ErrorRate is the failed fraction of requests so far, 0 when there are none.
func (s *Stats) ErrorRate() float64 {
	reqs := atomic.LoadUint64(&s.Requests)
	if reqs == 0 {
		return 0
	}
	fails := atomic.LoadUint64(&s.Fail)
	return float64(fails) / float64(reqs)
}

func (s *Stats) quantileMs(q float64) float64 {
	if s.Latency.TotalCount() == 0 {
		return 0
	}
	return float64(s.Latency.ValueAtQuantile(q)) / 1000.0
}

// Snapshot reads the counters. activeVUs and inflight come from the driver.
func (s *Stats) Snapshot(activeVUs, inflight int64) Snapshot {
	snap := Snapshot{
		Requests:  atomic.LoadUint64(&s.Requests),
		Success:   atomic.LoadUint64(&s.Success),
		Fail:      atomic.LoadUint64(&s.Fail),
		Bytes:     atomic.LoadUint64(&s.Bytes),
		ActiveVUs: activeVUs,
		Inflight:  inflight,
		P50Ms:     s.quantileMs(50),
		P90Ms:     s.quantileMs(90),
		P95Ms:     s.quantileMs(95),
		MaxMs:     float64(s.Latency.Max()) / 1000.0,
	}

	passes := atomic.LoadUint64(&s.CheckPasses)
	if total := passes + atomic.LoadUint64(&s.CheckFails); total > 0 {
		snap.CheckPassRate = float64(passes) / float64(total)
	}
	return snap
}
