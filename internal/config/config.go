// Package config resolves run parameters from flags, FEEDLOAD_* environment
// variables, the config file and built-in defaults, in that order.
package config

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"feedload/internal/driver"
)

const EnvPrefix = "FEEDLOAD"

// Keys understood by Load.
const (
	KeyTarget           = "target"
	KeyBaseURL          = "base_url"
	KeyRegion           = "region"
	KeyVUs              = "vus"
	KeyDuration         = "duration"
	KeyStages           = "stages"
	KeyTimeout          = "timeout"
	KeySleep            = "sleep"
	KeyThinkMin         = "think.min"
	KeyThinkMax         = "think.max"
	KeyWriteFactor      = "think.write_factor"
	KeyReadFactor       = "think.read_factor"
	KeyWriteProbability = "write_probability"
	KeyReads            = "reads_per_iteration"
	KeyPoolSize         = "pool.size"
	KeyPoolPrefix       = "pool.prefix"
	KeyRate             = "max_iteration_rate"
	KeyBudget           = "response_budget"
	KeySeed             = "seed"
	KeyThresholds       = "thresholds"
	KeyHeaders          = "headers"
	KeyTargets          = "targets"
)

// TargetConfig is a named target as written in the config file.
type TargetConfig struct {
	BaseURL   string            `mapstructure:"base_url"`
	Region    string            `mapstructure:"region"`
	Endpoints map[string]string `mapstructure:"endpoints"`
	Headers   map[string]string `mapstructure:"headers"`

	// Pool and Thresholds apply to runs against this target unless the
	// pool or thresholds keys are set explicitly.
	Pool       driver.IDPool      `mapstructure:"pool"`
	Thresholds map[string]float64 `mapstructure:"thresholds"`
}

// BuiltinTargets are the deployments the project has been run against.
func BuiltinTargets() map[string]TargetConfig {
	return map[string]TargetConfig{
		"local": {
			BaseURL: "http://localhost:8000",
			Region:  "local",
			Endpoints: map[string]string{
				driver.EndpointFeed: "/feed?user_id={{.UserID}}",
			},
		},
		"brazil": {BaseURL: "http://15.228.71.189", Region: "brazil"},
		"usa":    {BaseURL: "http://54.166.96.217", Region: "usa"},
		"tokyo":  {BaseURL: "http://52.196.245.151", Region: "tokyo"},

		"distributed-brazil": distributed("brazil", "br_user_"),
		"distributed-usa":    distributed("usa", "us_user_"),
		"distributed-china":  distributed("china", "cn_user_"),
	}
}

// distributed is the multi-region feed deployment: per-region prefixed
// users, query addressing and a tight latency limit.
func distributed(region, prefix string) TargetConfig {
	return TargetConfig{
		BaseURL: fmt.Sprintf("http://ec2-%s.amazonaws.com:8000", region),
		Region:  region,
		Endpoints: map[string]string{
			driver.EndpointFeed: "/feed?user_id={{.UserID}}",
		},
		Pool: driver.IDPool{Size: 1000, Prefix: prefix},
		Thresholds: map[string]float64{
			driver.MetricP95:       500,
			driver.MetricErrorRate: 0.1,
		},
	}
}

// SetDefaults registers the default workload and wires env lookups.
func SetDefaults(v *viper.Viper) {
	def := driver.DefaultWorkload()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyTarget, "local")
	v.SetDefault(KeyVUs, def.VUs)
	v.SetDefault(KeyDuration, def.Duration)
	v.SetDefault(KeyTimeout, def.Timeout)
	v.SetDefault(KeyThinkMin, def.Think.Min)
	v.SetDefault(KeyThinkMax, def.Think.Max)
	v.SetDefault(KeyWriteFactor, def.Think.WriteFactor)
	v.SetDefault(KeyReadFactor, def.Think.ReadFactor)
	v.SetDefault(KeyWriteProbability, def.WriteProbability)
	v.SetDefault(KeyReads, def.ReadsPerIteration)
	v.SetDefault(KeyBudget, def.ResponseBudget)
}

// RegisterFlags adds the run flags to fs and binds them to v.
func RegisterFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.StringP("target", "t", "", "named target (local, brazil, usa, tokyo or one from the config file)")
	fs.String("base-url", "", "base URL, overrides the target's")
	fs.String("region", "", "region label used in reports")
	fs.IntP("vus", "u", 0, "virtual users")
	fs.DurationP("duration", "d", 0, "run duration")
	fs.StringSlice("stage", nil, "ramp stage as duration:target, repeatable (e.g. 2m:20)")
	fs.Duration("timeout", 0, "per request timeout")
	fs.Float64("sleep", 0, "think time in seconds, sets both ends of the range")
	fs.Float64("write-probability", 0, "probability an iteration creates a user and a post")
	fs.Int("reads", 0, "feed reads per iteration")
	fs.Int("pool-size", 0, "number of user ids to read feeds for")
	fs.String("pool-prefix", "", "user id prefix (e.g. br_user_)")
	fs.Float64("rate", 0, "cap on iterations per second across all users")
	fs.Uint64("seed", 0, "seed for reproducible request mixes")
	fs.StringSliceP("header", "H", nil, "extra header as \"Key: Value\", repeatable")

	bind := map[string]string{
		KeyTarget:           "target",
		KeyBaseURL:          "base-url",
		KeyRegion:           "region",
		KeyVUs:              "vus",
		KeyDuration:         "duration",
		KeyStages:           "stage",
		KeyTimeout:          "timeout",
		KeySleep:            "sleep",
		KeyWriteProbability: "write-probability",
		KeyReads:            "reads",
		KeyPoolSize:         "pool-size",
		KeyPoolPrefix:       "pool-prefix",
		KeyRate:             "rate",
		KeySeed:             "seed",
		KeyHeaders:          "header",
	}
	for key, flag := range bind {
		v.BindPFlag(key, fs.Lookup(flag))
	}
}

// Load builds the workload and target for one run. Problems are reported
// wrapped in driver.ErrInvalidConfig.
func Load(v *viper.Viper) (driver.WorkloadConfig, driver.Target, error) {
	cfg := driver.DefaultWorkload()

	cfg.VUs = v.GetInt(KeyVUs)
	cfg.Duration = v.GetDuration(KeyDuration)
	cfg.Timeout = v.GetDuration(KeyTimeout)
	cfg.Think.Min = v.GetDuration(KeyThinkMin)
	cfg.Think.Max = v.GetDuration(KeyThinkMax)
	cfg.Think.WriteFactor = v.GetFloat64(KeyWriteFactor)
	cfg.Think.ReadFactor = v.GetFloat64(KeyReadFactor)
	if v.IsSet(KeySleep) {
		sleep := time.Duration(v.GetFloat64(KeySleep) * float64(time.Second))
		cfg.Think.Min, cfg.Think.Max = sleep, sleep
	}
	cfg.WriteProbability = v.GetFloat64(KeyWriteProbability)
	cfg.ReadsPerIteration = v.GetInt(KeyReads)
	cfg.MaxIterationRate = v.GetFloat64(KeyRate)
	cfg.ResponseBudget = v.GetDuration(KeyBudget)
	cfg.Seed = v.GetUint64(KeySeed)

	stages, err := parseStages(v.Get(KeyStages))
	if err != nil {
		return cfg, driver.Target{}, err
	}
	cfg.Stages = stages

	target, tc, err := resolveTarget(v)
	if err != nil {
		return cfg, driver.Target{}, err
	}

	// explicit keys > target profile > built-in defaults
	if tc.Pool.Size > 0 {
		cfg.IDPool = tc.Pool
	}
	if v.IsSet(KeyPoolSize) {
		cfg.IDPool.Size = v.GetInt(KeyPoolSize)
	}
	if v.IsSet(KeyPoolPrefix) {
		cfg.IDPool.Prefix = v.GetString(KeyPoolPrefix)
	}

	switch {
	case v.IsSet(KeyThresholds):
		if cfg.Thresholds, err = parseThresholds(v.GetStringMap(KeyThresholds)); err != nil {
			return cfg, driver.Target{}, err
		}
	case len(tc.Thresholds) > 0:
		raw := map[string]any{}
		for m, limit := range tc.Thresholds {
			raw[m] = limit
		}
		if cfg.Thresholds, err = parseThresholds(raw); err != nil {
			return cfg, driver.Target{}, err
		}
	}
	return cfg, target, nil
}

// Targets merges the built-in targets with those of the config file.
func Targets(v *viper.Viper) (map[string]TargetConfig, error) {
	targets := BuiltinTargets()

	custom := map[string]TargetConfig{}
	if err := v.UnmarshalKey(KeyTargets, &custom); err != nil {
		return nil, fmt.Errorf("%w: targets: %v", driver.ErrInvalidConfig, err)
	}
	for name, tc := range custom {
		targets[name] = tc
	}
	return targets, nil
}

func resolveTarget(v *viper.Viper) (driver.Target, TargetConfig, error) {
	targets, err := Targets(v)
	if err != nil {
		return driver.Target{}, TargetConfig{}, err
	}

	name := v.GetString(KeyTarget)
	tc, ok := targets[name]
	baseURL := v.GetString(KeyBaseURL)
	if !ok && baseURL == "" {
		return driver.Target{}, TargetConfig{}, fmt.Errorf("%w: unknown target %q", driver.ErrInvalidConfig, name)
	}
	if baseURL == "" {
		baseURL = tc.BaseURL
	}

	t := driver.Target{
		Name:      name,
		BaseURL:   strings.TrimSuffix(baseURL, "/"),
		Region:    tc.Region,
		Endpoints: driver.DefaultEndpoints(),
		Headers:   map[string]string{},
	}
	if region := v.GetString(KeyRegion); region != "" {
		t.Region = region
	}
	if t.Region == "" {
		t.Region = name
	}
	for k, path := range tc.Endpoints {
		t.Endpoints[k] = path
	}
	// viper lowercases map keys read from the config file
	for k, val := range tc.Headers {
		t.Headers[http.CanonicalHeaderKey(k)] = val
	}

	for _, h := range v.GetStringSlice(KeyHeaders) {
		k, val, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(k) == "" {
			return driver.Target{}, TargetConfig{}, fmt.Errorf("%w: header %q is not \"Key: Value\"", driver.ErrInvalidConfig, h)
		}
		t.Headers[http.CanonicalHeaderKey(strings.TrimSpace(k))] = strings.TrimSpace(val)
	}
	return t, tc, nil
}

func parseThresholds(raw map[string]any) ([]driver.Threshold, error) {
	metrics := make([]string, 0, len(raw))
	for m := range raw {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	thresholds := make([]driver.Threshold, 0, len(metrics))
	for _, m := range metrics {
		limit, err := strconv.ParseFloat(fmt.Sprint(raw[m]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: threshold %s: %v", driver.ErrInvalidConfig, m, err)
		}
		thresholds = append(thresholds, driver.Threshold{Metric: m, Limit: limit})
	}
	return thresholds, nil
}

// ParseStage parses "2m:20" into a stage of two minutes ending at 20 users.
func ParseStage(s string) (driver.Stage, error) {
	dur, target, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return driver.Stage{}, fmt.Errorf("%w: stage %q is not duration:target", driver.ErrInvalidConfig, s)
	}
	d, err := time.ParseDuration(dur)
	if err != nil {
		return driver.Stage{}, fmt.Errorf("%w: stage %q: %v", driver.ErrInvalidConfig, s, err)
	}
	n, err := strconv.Atoi(target)
	if err != nil {
		return driver.Stage{}, fmt.Errorf("%w: stage %q: %v", driver.ErrInvalidConfig, s, err)
	}
	return driver.Stage{Duration: d, Target: n}, nil
}

// parseStages accepts the flag form ([]string), a whitespace or comma
// separated env value, or a YAML list of "2m:20" strings or {duration, target} maps.
func parseStages(raw any) ([]driver.Stage, error) {
	var items []any
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case string:
		for _, f := range strings.FieldsFunc(val, func(r rune) bool { return r == ',' || r == ' ' }) {
			items = append(items, f)
		}
	case []string:
		for _, s := range val {
			items = append(items, s)
		}
	case []any:
		items = val
	default:
		return nil, fmt.Errorf("%w: stages: unsupported value %v", driver.ErrInvalidConfig, raw)
	}

	stages := make([]driver.Stage, 0, len(items))
	for _, item := range items {
		switch it := item.(type) {
		case string:
			st, err := ParseStage(it)
			if err != nil {
				return nil, err
			}
			stages = append(stages, st)
		case map[string]any:
			st, err := ParseStage(fmt.Sprintf("%v:%v", it["duration"], it["target"]))
			if err != nil {
				return nil, err
			}
			stages = append(stages, st)
		default:
			return nil, fmt.Errorf("%w: stage %v is not duration:target", driver.ErrInvalidConfig, item)
		}
	}
	if len(stages) == 0 {
		return nil, nil
	}
	return stages, nil
}
