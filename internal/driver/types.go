package driver

import (
	"math/rand/v2"
	"strconv"
	"time"
)

// Endpoint names understood by the driver.
const (
	EndpointFeed       = "feed"
	EndpointCreateUser = "create-user"
	EndpointCreatePost = "create-post"
)

// Threshold metrics. Latency metrics are expressed in milliseconds.
const (
	MetricAvg           = "avg"
	MetricP95           = "p95"
	MetricMax           = "max"
	MetricErrorRate     = "error_rate"
	MetricCheckPassRate = "check_pass_rate"
)

// Stage is one step of a ramp: over Duration the number of virtual users moves
// linearly from the previous stage's target to Target.
type Stage struct {
	Duration time.Duration `mapstructure:"duration" json:"duration"`
	Target   int           `mapstructure:"target" json:"target"`
}

// ThinkTime is drawn uniformly from [Min, Max] and scaled by the factor of the
// request that preceded it.
type ThinkTime struct {
	Min         time.Duration `mapstructure:"min" json:"min"`
	Max         time.Duration `mapstructure:"max" json:"max"`
	WriteFactor float64       `mapstructure:"write_factor" json:"write_factor"`
	ReadFactor  float64       `mapstructure:"read_factor" json:"read_factor"`
}

// Threshold is a run-level pass/fail criterion. Maximum metrics pass when the
// actual value is < Limit, check_pass_rate passes when it is >= Limit.
type Threshold struct {
	Metric string  `mapstructure:"metric" json:"metric"`
	Limit  float64 `mapstructure:"limit" json:"limit"`
}

// IDPool is the fixed set of user identifiers 1..Size, optionally prefixed
// (e.g. "br_user_").
type IDPool struct {
	Size   int    `mapstructure:"size" json:"size"`
	Prefix string `mapstructure:"prefix" json:"prefix"`
}

func (p IDPool) pick(r *rand.Rand) int {
	return r.IntN(p.Size) + 1
}

func (p IDPool) format(n int) string {
	return p.Prefix + strconv.Itoa(n)
}

// PayloadTemplates render the JSON fields of the write requests.
type PayloadTemplates struct {
	UserName     string `mapstructure:"user_name" json:"user_name"`
	UserEmail    string `mapstructure:"user_email" json:"user_email"`
	UserLocation string `mapstructure:"user_location" json:"user_location"`
	PostTitle    string `mapstructure:"post_title" json:"post_title"`
	PostContent  string `mapstructure:"post_content" json:"post_content"`
}

// WorkloadConfig describes a run. It is never modified once a Driver holds it.
type WorkloadConfig struct {
	// VUs and Duration describe a constant load. When Stages is non-empty it
	// replaces both.
	VUs      int
	Duration time.Duration
	Stages   []Stage

	Timeout    time.Duration
	Think      ThinkTime
	Thresholds []Threshold

	IDPool            IDPool
	WriteProbability  float64
	ReadsPerIteration int

	// MaxIterationRate caps iteration starts per second across all users.
	// Zero means unlimited.
	MaxIterationRate float64

	// ResponseBudget is the latency limit used by the default checks.
	ResponseBudget time.Duration

	// Seed makes the per-user random streams reproducible. Zero picks a random seed.
	Seed uint64

	Payload PayloadTemplates

	// Checks replaces DefaultChecks when non-nil.
	Checks []Check
}

// Target is the service under test for one run.
type Target struct {
	Name    string
	BaseURL string
	// Region is a reporting label only.
	Region string
	// Endpoints maps endpoint names to path templates relative to BaseURL,
	// e.g. "/feed/{{.UserID}}" or "/feed?user_id={{.UserID}}".
	Endpoints map[string]string
	Headers   map[string]string
}

// CheckResult is the outcome of one named check against one response.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// RequestOutcome is produced once per request and never modified afterwards.
type RequestOutcome struct {
	Endpoint  string        `json:"endpoint"`
	Method    string        `json:"method"`
	URL       string        `json:"url"`
	Region    string        `json:"region"`
	VU        int           `json:"vu"`
	Iteration int           `json:"iteration"`
	Timestamp time.Time     `json:"timestamp"`
	Status    int           `json:"status"`
	Latency   time.Duration `json:"latency"`
	Bytes     int64         `json:"bytes"`
	Err       string        `json:"error,omitempty"`
	Success   bool          `json:"success"`
	Checks    []CheckResult `json:"checks,omitempty"`
}

// Result is what a finished run hands back.
type Result struct {
	Started  time.Time
	Elapsed  time.Duration
	Outcomes []RequestOutcome
}

// Sink receives every outcome as it is produced. Implementations must be safe
// for concurrent use.
type Sink interface {
	Record(RequestOutcome)
}

// DefaultEndpoints addresses the feed by path.
func DefaultEndpoints() map[string]string {
	return map[string]string{
		EndpointFeed:       "/feed/{{.UserID}}",
		EndpointCreateUser: "/users",
		EndpointCreatePost: "/posts",
	}
}

// DefaultPayload names users and posts after their region, VU and iteration.
func DefaultPayload() PayloadTemplates {
	return PayloadTemplates{
		UserName:     "user_{{.Region}}_{{.VU}}_{{.Iter}}",
		UserEmail:    "user_{{.Region}}_{{.VU}}_{{.Iter}}@example.com",
		UserLocation: "{{.Region}}",
		PostTitle:    "Post {{.Region}} {{.VU}}-{{.Iter}}",
		PostContent:  "Load test content from {{.Region}}. VU: {{.VU}} ({{uuid}})",
	}
}

// DefaultThresholds are the limits shared by the regional runs.
func DefaultThresholds() []Threshold {
	return []Threshold{
		{Metric: MetricP95, Limit: 5000},
		{Metric: MetricErrorRate, Limit: 0.1},
	}
}

// DefaultWorkload returns a 10 user, 30 second run with 20% writes and 3 reads.
func DefaultWorkload() WorkloadConfig {
	return WorkloadConfig{
		VUs:      10,
		Duration: 30 * time.Second,
		Timeout:  20 * time.Second,
		Think: ThinkTime{
			Min:         500 * time.Millisecond,
			Max:         500 * time.Millisecond,
			WriteFactor: 0.5,
			ReadFactor:  0.3,
		},
		Thresholds:        DefaultThresholds(),
		IDPool:            IDPool{Size: 20},
		WriteProbability:  0.2,
		ReadsPerIteration: 3,
		ResponseBudget:    3 * time.Second,
		Payload:           DefaultPayload(),
	}
}
