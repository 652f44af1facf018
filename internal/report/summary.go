package report

import (
	"math"
	"sort"
	"time"

	"feedload/internal/driver"
	"feedload/internal/stats"
)

// LatencyStats are request durations in milliseconds.
type LatencyStats struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Med float64 `json:"med"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
	Max float64 `json:"max"`
}

type CheckSummary struct {
	Name     string  `json:"name"`
	Passes   int     `json:"passes"`
	Fails    int     `json:"fails"`
	PassRate float64 `json:"pass_rate"`
}

type EndpointSummary struct {
	Endpoint  string       `json:"endpoint"`
	Count     int          `json:"count"`
	Failed    int          `json:"failed"`
	ErrorRate float64      `json:"error_rate"`
	Latency   LatencyStats `json:"latency"`
}

type ThresholdResult struct {
	Metric string  `json:"metric"`
	Limit  float64 `json:"limit"`
	Actual float64 `json:"actual"`
	Passed bool    `json:"passed"`
}

// SummaryReport aggregates one run's outcomes.
type SummaryReport struct {
	Count     int          `json:"count"`
	Failed    int          `json:"failed"`
	ErrorRate float64      `json:"error_rate"`
	Bytes     int64        `json:"bytes"`
	Latency   LatencyStats `json:"latency"`

	Checks        []CheckSummary `json:"checks"`
	CheckPasses   int            `json:"check_passes"`
	CheckFails    int            `json:"check_fails"`
	CheckPassRate float64        `json:"check_pass_rate"`

	Endpoints  []EndpointSummary `json:"endpoints"`
	Thresholds []ThresholdResult `json:"thresholds"`
	Passed     bool              `json:"passed"`
}

// Summarize derives the report from an outcome set. It does not modify
// outcomes and returns the same report for the same input.
func Summarize(outcomes []driver.RequestOutcome, thresholds []driver.Threshold) SummaryReport {
	r := SummaryReport{
		Checks:     []CheckSummary{},
		Endpoints:  []EndpointSummary{},
		Thresholds: []ThresholdResult{},
	}

	r.Count = len(outcomes)
	r.Latency = latencyOf(outcomes)

	checks := map[string]*CheckSummary{}
	byEndpoint := map[string][]driver.RequestOutcome{}
	for _, o := range outcomes {
		if !o.Success {
			r.Failed++
		}
		r.Bytes += o.Bytes
		byEndpoint[o.Endpoint] = append(byEndpoint[o.Endpoint], o)

		for _, c := range o.Checks {
			cs, ok := checks[c.Name]
			if !ok {
				cs = &CheckSummary{Name: c.Name}
				checks[c.Name] = cs
			}
			if c.Passed {
				cs.Passes++
				r.CheckPasses++
			} else {
				cs.Fails++
				r.CheckFails++
			}
		}
	}
	r.ErrorRate = ratio(r.Failed, r.Count)
	r.CheckPassRate = ratio(r.CheckPasses, r.CheckPasses+r.CheckFails)

	for _, cs := range checks {
		cs.PassRate = ratio(cs.Passes, cs.Passes+cs.Fails)
		r.Checks = append(r.Checks, *cs)
	}
	sort.Slice(r.Checks, func(i, j int) bool { return r.Checks[i].Name < r.Checks[j].Name })

	for name, group := range byEndpoint {
		es := EndpointSummary{Endpoint: name, Count: len(group), Latency: latencyOf(group)}
		for _, o := range group {
			if !o.Success {
				es.Failed++
			}
		}
		es.ErrorRate = ratio(es.Failed, es.Count)
		r.Endpoints = append(r.Endpoints, es)
	}
	sort.Slice(r.Endpoints, func(i, j int) bool { return r.Endpoints[i].Endpoint < r.Endpoints[j].Endpoint })

	r.Passed = true
	for _, th := range thresholds {
		tr := evaluate(r, th)
		r.Thresholds = append(r.Thresholds, tr)
		r.Passed = r.Passed && tr.Passed
	}
	return r
}

func evaluate(r SummaryReport, th driver.Threshold) ThresholdResult {
	tr := ThresholdResult{Metric: th.Metric, Limit: th.Limit}
	switch th.Metric {
	case driver.MetricAvg:
		tr.Actual = r.Latency.Avg
	case driver.MetricP95:
		tr.Actual = r.Latency.P95
	case driver.MetricMax:
		tr.Actual = r.Latency.Max
	case driver.MetricErrorRate:
		tr.Actual = r.ErrorRate
	case driver.MetricCheckPassRate:
		tr.Actual = r.CheckPassRate
		// nothing was checked, so nothing failed
		tr.Passed = r.CheckPasses+r.CheckFails == 0 || tr.Actual >= th.Limit
		return tr
	default:
		return tr
	}
	// maxima are strict limits; a run without requests has nothing to exceed them
	tr.Passed = r.Count == 0 || tr.Actual < th.Limit
	return tr
}

func latencyOf(outcomes []driver.RequestOutcome) LatencyStats {
	if len(outcomes) == 0 {
		return LatencyStats{}
	}

	h := stats.NewHistogram()
	var sum time.Duration
	min, max := outcomes[0].Latency, outcomes[0].Latency
	for _, o := range outcomes {
		h.RecordValue(stats.Micros(o.Latency))
		sum += o.Latency
		if o.Latency < min {
			min = o.Latency
		}
		if o.Latency > max {
			max = o.Latency
		}
	}

	// histogram buckets can round past the exact maximum
	quantile := func(q float64) float64 {
		return math.Min(float64(h.ValueAtQuantile(q))/1000.0, ms(max))
	}

	return LatencyStats{
		Avg: ms(sum / time.Duration(len(outcomes))),
		Min: ms(min),
		Med: quantile(50),
		P90: quantile(90),
		P95: quantile(95),
		Max: ms(max),
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}
