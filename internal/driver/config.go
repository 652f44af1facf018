package driver

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/go-multierror"
)

// ErrInvalidConfig wraps every configuration problem reported by New.
var ErrInvalidConfig = errors.New("invalid configuration")

var knownMetrics = map[string]bool{
	MetricAvg:           true,
	MetricP95:           true,
	MetricMax:           true,
	MetricErrorRate:     true,
	MetricCheckPassRate: true,
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate reports every problem in cfg at once.
func (cfg WorkloadConfig) Validate() error {
	var result *multierror.Error

	if cfg.IDPool.Size <= 0 {
		result = multierror.Append(result, invalid("id pool is empty (size %d)", cfg.IDPool.Size))
	}
	if cfg.VUs < 0 {
		result = multierror.Append(result, invalid("vus must not be negative, got %d", cfg.VUs))
	}
	if cfg.Duration < 0 {
		result = multierror.Append(result, invalid("duration must not be negative, got %s", cfg.Duration))
	}
	for i, s := range cfg.Stages {
		if s.Duration < 0 {
			result = multierror.Append(result, invalid("stage %d: duration must not be negative, got %s", i, s.Duration))
		}
		if s.Target < 0 {
			result = multierror.Append(result, invalid("stage %d: target must not be negative, got %d", i, s.Target))
		}
	}
	if cfg.Timeout <= 0 {
		result = multierror.Append(result, invalid("request timeout must be positive, got %s", cfg.Timeout))
	}
	if cfg.Think.Min < 0 || cfg.Think.Max < cfg.Think.Min {
		result = multierror.Append(result, invalid("think time range [%s, %s] is invalid", cfg.Think.Min, cfg.Think.Max))
	}
	if cfg.Think.WriteFactor < 0 || cfg.Think.ReadFactor < 0 {
		result = multierror.Append(result, invalid("think time factors must not be negative"))
	}
	if cfg.WriteProbability < 0 || cfg.WriteProbability > 1 {
		result = multierror.Append(result, invalid("write probability must be within [0, 1], got %g", cfg.WriteProbability))
	}
	if cfg.ReadsPerIteration < 1 {
		result = multierror.Append(result, invalid("reads per iteration must be at least 1, got %d", cfg.ReadsPerIteration))
	}
	if cfg.MaxIterationRate < 0 {
		result = multierror.Append(result, invalid("max iteration rate must not be negative, got %g", cfg.MaxIterationRate))
	}
	for _, th := range cfg.Thresholds {
		if !knownMetrics[th.Metric] {
			result = multierror.Append(result, invalid("unknown threshold metric %q", th.Metric))
		}
	}

	return result.ErrorOrNil()
}

// Validate checks the target against the endpoints a workload will use.
func (t Target) Validate(writes bool) error {
	var result *multierror.Error

	if t.BaseURL == "" {
		result = multierror.Append(result, invalid("target %q has no base url", t.Name))
	} else if u, err := url.Parse(t.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		result = multierror.Append(result, invalid("target base url %q is not an absolute url", t.BaseURL))
	}

	required := []string{EndpointFeed}
	if writes {
		required = append(required, EndpointCreateUser, EndpointCreatePost)
	}
	for _, name := range required {
		if t.Endpoints[name] == "" {
			result = multierror.Append(result, invalid("target %q has no %q endpoint", t.Name, name))
		}
	}

	return result.ErrorOrNil()
}

// TotalDuration is the length of the schedule.
func (cfg WorkloadConfig) TotalDuration() time.Duration {
	if len(cfg.Stages) == 0 {
		return cfg.Duration
	}
	var total time.Duration
	for _, s := range cfg.Stages {
		total += s.Duration
	}
	return total
}

// MaxVUs is the highest concurrency the schedule ever asks for.
func (cfg WorkloadConfig) MaxVUs() int {
	if len(cfg.Stages) == 0 {
		return cfg.VUs
	}
	max := 0
	for _, s := range cfg.Stages {
		if s.Target > max {
			max = s.Target
		}
	}
	return max
}

// TargetAt returns how many virtual users should be active after elapsed.
func (cfg WorkloadConfig) TargetAt(elapsed time.Duration) int {
	if len(cfg.Stages) == 0 {
		if elapsed >= cfg.Duration {
			return 0
		}
		return cfg.VUs
	}

	from := 0
	var offset time.Duration
	for _, s := range cfg.Stages {
		if elapsed < offset+s.Duration {
			pct := float64(elapsed-offset) / float64(s.Duration)
			return from + int(float64(s.Target-from)*pct)
		}
		offset += s.Duration
		from = s.Target
	}
	return 0
}
